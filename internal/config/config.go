package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all runtime settings for the billing API and scheduler.
type Config struct {
	AppEnv string `mapstructure:"APP_ENV"`
	Port   string `mapstructure:"PORT"`

	DBHost     string `mapstructure:"DB_HOST"`
	DBPort     string `mapstructure:"DB_PORT"`
	DBUser     string `mapstructure:"DB_USER"`
	DBPassword string `mapstructure:"DB_PASSWORD"`
	DBName     string `mapstructure:"DB_NAME"`
	DBSSLMode  string `mapstructure:"DB_SSLMODE"`

	JWTSecret   string `mapstructure:"JWT_SECRET"`
	CORSOrigins string `mapstructure:"CORS_ORIGINS"`

	// Billing
	DefaultPlanCode      string `mapstructure:"DEFAULT_PLAN_CODE"`
	TaxRatePercent       string `mapstructure:"TAX_RATE_PERCENT"`
	InvoicePrefix        string `mapstructure:"INVOICE_PREFIX"`
	InvoiceDueDays       int    `mapstructure:"INVOICE_DUE_DAYS"`
	RenewalLookaheadDays int    `mapstructure:"RENEWAL_LOOKAHEAD_DAYS"`
	DefaultCurrency      string `mapstructure:"DEFAULT_CURRENCY"`

	// Payment gateways
	GatewayTimeoutSeconds  int    `mapstructure:"GATEWAY_TIMEOUT_SECONDS"`
	PaymentCallbackURL     string `mapstructure:"PAYMENT_CALLBACK_URL"`
	PaystackSecretKey      string `mapstructure:"PAYSTACK_SECRET_KEY"`
	PaystackBaseURL        string `mapstructure:"PAYSTACK_BASE_URL"`
	FlutterwaveSecretKey   string `mapstructure:"FLUTTERWAVE_SECRET_KEY"`
	FlutterwaveBaseURL     string `mapstructure:"FLUTTERWAVE_BASE_URL"`
	FlutterwaveWebhookHash string `mapstructure:"FLUTTERWAVE_WEBHOOK_HASH"`

	// Notifications
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	NotificationExchange string `mapstructure:"NOTIFICATION_EXCHANGE"`
	KafkaBrokers         string `mapstructure:"KAFKA_BROKERS"`
	NotificationTopic    string `mapstructure:"NOTIFICATION_TOPIC"`

	// Webhook duplicate-delivery guard
	RedisAddr              string `mapstructure:"REDIS_ADDR"`
	WebhookDedupTTLSeconds int    `mapstructure:"WEBHOOK_DEDUP_TTL_SECONDS"`

	// Scheduler
	BillingSweepSchedule string `mapstructure:"BILLING_SWEEP_SCHEDULE"`
	SchedulerRunOnce     bool   `mapstructure:"SCHEDULER_RUN_ONCE"`
}

var keys = []string{
	"APP_ENV", "PORT",
	"DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME", "DB_SSLMODE",
	"JWT_SECRET", "CORS_ORIGINS",
	"DEFAULT_PLAN_CODE", "TAX_RATE_PERCENT", "INVOICE_PREFIX", "INVOICE_DUE_DAYS",
	"RENEWAL_LOOKAHEAD_DAYS", "DEFAULT_CURRENCY",
	"GATEWAY_TIMEOUT_SECONDS", "PAYMENT_CALLBACK_URL",
	"PAYSTACK_SECRET_KEY", "PAYSTACK_BASE_URL",
	"FLUTTERWAVE_SECRET_KEY", "FLUTTERWAVE_BASE_URL", "FLUTTERWAVE_WEBHOOK_HASH",
	"RABBITMQ_URL", "NOTIFICATION_EXCHANGE", "KAFKA_BROKERS", "NOTIFICATION_TOPIC",
	"REDIS_ADDR", "WEBHOOK_DEDUP_TTL_SECONDS",
	"BILLING_SWEEP_SCHEDULE", "SCHEDULER_RUN_ONCE",
}

// LoadConfig reads configs/.env (when present) and then the process environment.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load("configs/.env")

	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("PORT", "8080")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_USER", "postgres")
	viper.SetDefault("DB_PASSWORD", "postgres")
	viper.SetDefault("DB_NAME", "postgres")
	viper.SetDefault("DB_SSLMODE", "disable")
	viper.SetDefault("CORS_ORIGINS", "http://localhost:5173")
	viper.SetDefault("INVOICE_PREFIX", "INV")
	viper.SetDefault("INVOICE_DUE_DAYS", 7)
	viper.SetDefault("RENEWAL_LOOKAHEAD_DAYS", 7)
	viper.SetDefault("DEFAULT_CURRENCY", "NGN")
	viper.SetDefault("GATEWAY_TIMEOUT_SECONDS", 15)
	viper.SetDefault("PAYSTACK_BASE_URL", "https://api.paystack.co")
	viper.SetDefault("FLUTTERWAVE_BASE_URL", "https://api.flutterwave.com")
	viper.SetDefault("NOTIFICATION_EXCHANGE", "billing.events")
	viper.SetDefault("NOTIFICATION_TOPIC", "billing.events")
	viper.SetDefault("WEBHOOK_DEDUP_TTL_SECONDS", 600)
	viper.SetDefault("BILLING_SWEEP_SCHEDULE", "0 2 * * *") // 02:00 daily
	viper.SetDefault("SCHEDULER_RUN_ONCE", false)
	viper.AutomaticEnv()

	for _, key := range keys {
		_ = viper.BindEnv(key)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.InvoiceDueDays <= 0 {
		return fmt.Errorf("INVOICE_DUE_DAYS must be positive, got %d", c.InvoiceDueDays)
	}
	if c.RenewalLookaheadDays < 0 {
		return fmt.Errorf("RENEWAL_LOOKAHEAD_DAYS must not be negative, got %d", c.RenewalLookaheadDays)
	}
	if c.IsProduction() && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required in production")
	}
	if strings.TrimSpace(c.TaxRatePercent) != "" {
		if _, err := decimal.NewFromString(strings.TrimSpace(c.TaxRatePercent)); err != nil {
			return fmt.Errorf("TAX_RATE_PERCENT is not a number: %w", err)
		}
	}
	return nil
}

// DSN builds the postgres connection string from the DB_* settings.
func (c *Config) DSN() string {
	return "postgres://" + c.DBUser + ":" + c.DBPassword + "@" + c.DBHost + ":" + c.DBPort + "/" + c.DBName + "?sslmode=" + c.DBSSLMode
}

// TaxRate returns the configured tax percentage. ok is false when none is configured.
func (c *Config) TaxRate() (rate decimal.Decimal, ok bool) {
	raw := strings.TrimSpace(c.TaxRatePercent)
	if raw == "" {
		return decimal.Zero, false
	}
	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false
	}
	return rate, true
}

// GatewayTimeout is the bounded timeout applied to every outbound provider call.
func (c *Config) GatewayTimeout() time.Duration {
	if c.GatewayTimeoutSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.GatewayTimeoutSeconds) * time.Second
}

func (c *Config) WebhookDedupTTL() time.Duration {
	return time.Duration(c.WebhookDedupTTLSeconds) * time.Second
}

// AllowedOrigins splits CORS_ORIGINS on commas.
func (c *Config) AllowedOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// Brokers splits KAFKA_BROKERS on commas.
func (c *Config) Brokers() []string {
	var brokers []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// SigningKey is the HMAC key shared with the auth service. Development falls back to a fixed key.
func (c *Config) SigningKey() []byte {
	if c.JWTSecret == "" {
		return []byte("default_super_secret_key")
	}
	return []byte(c.JWTSecret)
}
