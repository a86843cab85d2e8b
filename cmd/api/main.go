package main

import (
	"context"
	"log"

	_ "billing/api/swagger" // swagger docs
	"billing/internal/app"
	"billing/internal/config"
	"billing/internal/handler"
	"billing/internal/logger"
	"billing/internal/middleware"
	"billing/internal/websocket"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
)

// @title           Marketplace Billing API
// @version         1.0
// @description     Seller approval invoices, gateway payments, subscriptions and renewal sweeps.
// @host            localhost:8080
// @BasePath        /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	zapLog, err := logger.New(cfg.AppEnv)
	if err != nil {
		log.Fatalf("Logger init failed: %v", err)
	}
	defer func() { _ = zapLog.Sync() }()

	// Set up WebSocket Hub
	wsHub := websocket.NewHub(zapLog)
	go wsHub.Run()

	a, err := app.New(context.Background(), cfg, zapLog, wsHub)
	if err != nil {
		zapLog.Fatal("startup failed", zap.Error(err))
	}
	defer a.Close()

	billingHandler := handler.NewBillingHandler(a.Billing, a.Settings)
	invoiceHandler := handler.NewInvoiceHandler(a.Invoices, a.Billing)
	paymentHandler := handler.NewPaymentHandler(a.Payments, a.Billing, a.Guard, zapLog)
	subscriptionHandler := handler.NewSubscriptionHandler(a.Subscriptions, a.Billing)
	auditHandler := handler.NewAuditHandler(a.Audit)
	taxHandler := handler.NewTaxHandler(a.Taxes)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(logger.GinMiddleware(zapLog), gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.AllowedOrigins()
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "Accept"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	router.Use(cors.New(corsConfig))

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "OK"})
	})

	router.GET("/ws", func(c *gin.Context) {
		websocket.ServeWs(wsHub, c, cfg.SigningKey())
	})

	auth := middleware.Authenticate(cfg.SigningKey())
	billingHandler.RegisterRoutes(router.Group(""), auth)
	invoiceHandler.RegisterRoutes(router.Group(""), auth)
	paymentHandler.RegisterRoutes(router.Group(""), auth)
	subscriptionHandler.RegisterRoutes(router.Group(""), auth)
	auditHandler.RegisterRoutes(router.Group(""), auth)
	taxHandler.RegisterRoutes(router.Group(""), auth)

	zapLog.Info("server listening", zap.String("port", cfg.Port))
	if err := router.Run(":" + cfg.Port); err != nil {
		zapLog.Fatal("server failed", zap.Error(err))
	}
}
