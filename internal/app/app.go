package app

import (
	"context"
	"fmt"

	"billing/internal/cache"
	"billing/internal/config"
	"billing/internal/database"
	"billing/internal/gateway"
	"billing/internal/notify"
	"billing/internal/repository"
	"billing/internal/service"
	"billing/internal/websocket"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// App is the dependency graph shared by the API server and the scheduler.
type App struct {
	DB       *gorm.DB
	Settings service.Settings
	Gateways *gateway.Registry
	Guard    cache.WebhookGuard

	Audit         service.AuditService
	Taxes         service.TaxService
	Invoices      service.InvoiceService
	Subscriptions service.SubscriptionService
	Payments      service.PaymentService
	Billing       service.BillingService

	log     *zap.Logger
	closers []func() error
}

// New connects to the database and the optional brokers. hub may be nil
// for processes that do not serve websocket clients.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger, hub *websocket.Hub) (*App, error) {
	db, err := database.NewConnection(cfg.DSN(), log)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	log.Info("connected to PostgreSQL")

	a := &App{DB: db, Settings: service.SettingsFromConfig(cfg), log: log}
	if sqlDB, err := db.DB(); err == nil {
		a.closers = append(a.closers, sqlDB.Close)
	}

	a.Gateways = buildGateways(cfg, log)
	a.Guard = a.buildGuard(ctx, cfg)
	notifier := a.buildNotifier(cfg, hub)

	txManager := repository.NewTransactionManager(db)
	invoiceRepo := repository.NewInvoiceRepository(db)
	subscriptionRepo := repository.NewSubscriptionRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	sellerRepo := repository.NewSellerRepository(db)

	a.Audit = service.NewAuditService(repository.NewAuditRepository(db))
	a.Taxes = service.NewTaxService(repository.NewTaxRuleRepository(db), a.Audit, a.Settings.TaxRatePercent)
	a.Invoices = service.NewInvoiceService(invoiceRepo, a.Taxes, a.Audit, txManager, a.Settings, log)
	a.Subscriptions = service.NewSubscriptionService(subscriptionRepo, a.Audit, txManager, log)
	a.Payments = service.NewPaymentService(paymentRepo, a.Gateways, a.Audit, log)
	a.Billing = service.NewBillingService(service.BillingDeps{
		TxManager:        txManager,
		Invoices:         a.Invoices,
		Subscriptions:    a.Subscriptions,
		Payments:         a.Payments,
		Cascade:          service.NewExpirationCascade(sellerRepo, repository.NewListingRepository(db), a.Audit, log),
		Audit:            a.Audit,
		Notifier:         notifier,
		InvoiceRepo:      invoiceRepo,
		SubscriptionRepo: subscriptionRepo,
		PaymentRepo:      paymentRepo,
		PlanRepo:         repository.NewPlanRepository(db),
		SellerRepo:       sellerRepo,
		UserRepo:         repository.NewUserRepository(db),
		Settings:         a.Settings,
		Log:              log,
	})

	return a, nil
}

// Close releases broker connections and the database pool, newest first.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("close failed", zap.Error(err))
		}
	}
}

func buildGateways(cfg *config.Config, log *zap.Logger) *gateway.Registry {
	var providers []gateway.Provider
	if cfg.PaystackSecretKey != "" {
		providers = append(providers, gateway.NewPaystack(cfg.PaystackBaseURL, cfg.PaystackSecretKey, cfg.GatewayTimeout()))
	}
	if cfg.FlutterwaveSecretKey != "" {
		providers = append(providers, gateway.NewFlutterwave(
			cfg.FlutterwaveBaseURL, cfg.FlutterwaveSecretKey, cfg.FlutterwaveWebhookHash, cfg.GatewayTimeout(),
		))
	}
	if len(providers) == 0 {
		log.Warn("no payment gateway configured; invoice payment is disabled")
	}
	return gateway.NewRegistry(providers...)
}

func (a *App) buildGuard(ctx context.Context, cfg *config.Config) cache.WebhookGuard {
	if cfg.RedisAddr == "" {
		return cache.NopWebhookGuard{}
	}
	client, err := cache.NewRedisClient(ctx, cfg.RedisAddr)
	if err != nil {
		a.log.Warn("redis unavailable, webhook duplicate guard disabled", zap.Error(err))
		return cache.NopWebhookGuard{}
	}
	a.closers = append(a.closers, client.Close)
	return cache.NewRedisWebhookGuard(client, cfg.WebhookDedupTTL())
}

func (a *App) buildNotifier(cfg *config.Config, hub *websocket.Hub) notify.Notifier {
	d := notify.NewDispatcher(a.log)

	if cfg.RabbitMQURL != "" {
		p, err := notify.NewRabbitMQPublisher(cfg.RabbitMQURL, cfg.NotificationExchange)
		if err != nil {
			a.log.Warn("rabbitmq unavailable, skipping sink", zap.Error(err))
		} else {
			d.Register("rabbitmq", p)
			a.closers = append(a.closers, p.Close)
		}
	}

	if brokers := cfg.Brokers(); len(brokers) > 0 {
		p, err := notify.NewKafkaPublisher(brokers, cfg.NotificationTopic)
		if err != nil {
			a.log.Warn("kafka unavailable, skipping sink", zap.Error(err))
		} else {
			d.Register("kafka", p)
			a.closers = append(a.closers, p.Close)
		}
	}

	if hub != nil {
		d.Register("websocket", hub)
	}
	return d
}
