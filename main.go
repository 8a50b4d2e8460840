package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storefront/cache"
	"storefront/database"
	"storefront/gateway"
	"storefront/handlers"
	"storefront/kafka"
	"storefront/middleware"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// Initialize database
	db, err := database.InitDB(logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	// Initialize Redis (catalog cache)
	redisClient, err := cache.InitRedis(logger)
	if err != nil {
		logger.Fatal("Failed to initialize Redis", zap.Error(err))
	}
	defer redisClient.Close()

	// Initialize Kafka producer (notification sink)
	producer, err := kafka.InitProducer(logger)
	if err != nil {
		logger.Fatal("Failed to initialize Kafka producer", zap.Error(err))
	}
	defer producer.Close()

	// Initialize OpenTelemetry
	shutdown, err := middleware.InitTracing("storefront")
	if err != nil {
		logger.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	defer shutdown()

	// Payment gateway adapters
	cardGateway := gateway.NewMercadoPagoClient(logger)
	walletGateway := gateway.NewPayPalClient(logger)

	jwtSecret := []byte(getEnv("JWT_SECRET", "change-me-in-production"))

	// Setup REST API with Gin
	router := gin.New()
	router.Use(gin.Recovery())
	// OpenTelemetry middleware must be first to extract trace context
	router.Use(otelgin.Middleware("storefront"))
	router.Use(middleware.LoggerMiddleware(logger))
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.Auth(jwtSecret))

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", middleware.PrometheusHandler())

	// Catalog
	productHandler := handlers.NewProductHandler(db, redisClient, logger)
	router.GET("/products", productHandler.GetProducts)
	router.GET("/products/:slug", productHandler.GetProductBySlug)

	// Checkout
	checkoutHandler := handlers.NewCheckoutHandler(db, cardGateway, walletGateway, producer, logger)
	router.POST("/checkout/card", checkoutHandler.CheckoutCard)
	router.POST("/checkout/wallet", checkoutHandler.CheckoutWallet)
	router.POST("/checkout/free", middleware.RequireAuth(), checkoutHandler.ClaimFree)

	// Reconciliation
	reconcileHandler := handlers.NewReconcileHandler(db, cardGateway, walletGateway, producer, logger)
	router.POST("/webhooks/card", reconcileHandler.CardWebhook)
	router.POST("/checkout/wallet/capture", middleware.RequireAuth(), reconcileHandler.WalletCapture)

	// Entitlement and content delivery
	entitlementHandler := handlers.NewEntitlementHandler(db, logger)
	router.GET("/entitlements/:product_id", middleware.RequireAuth(), entitlementHandler.HasAccess)
	router.GET("/library", middleware.RequireAuth(), entitlementHandler.Library)

	contentHandler := handlers.NewContentHandler(db, logger)
	router.GET("/content/:product_id", middleware.RequireAuth(), contentHandler.GetContent)

	// Admin back-office
	settingsHandler := handlers.NewSettingsHandler(db, logger)
	admin := router.Group("/admin", middleware.RequireAuth(), middleware.RequireRole("admin"))
	admin.POST("/products", productHandler.CreateProduct)
	admin.PUT("/products/:id", productHandler.UpdateProduct)
	admin.DELETE("/products/:id", productHandler.DeleteProduct)
	admin.POST("/products/:id/content", contentHandler.CreateContentItem)
	admin.DELETE("/content/:id", contentHandler.DeleteContentItem)
	admin.GET("/settings/:key", settingsHandler.GetSetting)
	admin.PUT("/settings/:key", settingsHandler.PutSetting)

	srv := &http.Server{
		Addr:    ":" + getEnv("PORT", "8080"),
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start REST server", zap.Error(err))
		}
	}()

	logger.Info("Storefront service started", zap.String("addr", srv.Addr))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
