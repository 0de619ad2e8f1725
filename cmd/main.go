package main

import (
	"context"
	"strconv"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/writerrose28/ReDerma/internal/analyzer"
	"github.com/writerrose28/ReDerma/internal/billing"
	"github.com/writerrose28/ReDerma/internal/consent"
	"github.com/writerrose28/ReDerma/internal/handler"
	"github.com/writerrose28/ReDerma/internal/middleware"
	"github.com/writerrose28/ReDerma/internal/pipeline"
	"github.com/writerrose28/ReDerma/internal/ratelimit"
	"github.com/writerrose28/ReDerma/internal/retention"
	"github.com/writerrose28/ReDerma/internal/storage"
	"github.com/writerrose28/ReDerma/pkg/config"
	"github.com/writerrose28/ReDerma/pkg/database"
	"github.com/writerrose28/ReDerma/pkg/jwtutil"
	"github.com/writerrose28/ReDerma/pkg/logger"
	"github.com/writerrose28/ReDerma/prometheus"
)

func main() {
	// Load configuration from .env file and environment variables
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger with config
	if err := logger.InitLogger(cfg); err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	log := logger.GetLogger()
	log.Info("Starting ReDerma API...", cfg.LogConfig()...)

	// Initialize database
	db, err := database.Connect(&cfg.DB)
	if err != nil {
		log.Fatal("Failed to initialize database", zap.Error(err))
	}
	if err := database.Migrate(db); err != nil {
		log.Fatal("Failed to run migrations", zap.Error(err))
	}
	log.Info("Database connection established")

	// External capabilities
	ctx := context.Background()
	blobs, err := storage.NewGCSStore(ctx, &cfg.Storage)
	if err != nil {
		log.Fatal("Failed to initialize blob store", zap.Error(err))
	}
	vision := analyzer.NewOpenAIAnalyzer(&cfg.Analyzer)
	provider := billing.NewStripeProvider(&cfg.Stripe)

	// Application components
	jwt := jwtutil.New(&cfg.JWT)
	ledger := consent.NewLedger(db)
	limiter := ratelimit.New(&cfg.Quota)
	pipe := pipeline.New(db, blobs, vision, &cfg.Quota, cfg.Retention.SubmissionTTL, log)
	manager := retention.NewManager(db, blobs, provider, cfg.Retention.DeletionGrace, cfg.Retention.ConfirmationPhrase, log)
	sync := billing.NewSync(db, log)

	// Handlers
	authHandler := handler.NewAuthHandler(db, jwt, ledger, cfg)
	analysisHandler := handler.NewAnalysisHandler(db, pipe, blobs, ledger, cfg.IsProduction())
	subscriptionHandler := handler.NewSubscriptionHandler(db, provider, sync)
	gdprHandler := handler.NewGDPRHandler(db, ledger, manager, cfg.Retention.PolicyVersion)

	// Initialize Echo framework
	e := echo.New()

	// Apply global middleware - order matters
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())
	e.Use(middleware.RequestIDMiddleware())
	e.Use(logger.Middleware())
	e.Use(prometheus.MetricsMiddleware())

	// Public routes - no authentication required
	e.GET("/health", handler.HealthCheck)
	e.GET("/metrics", handler.MetricsHandler)

	// Authentication routes
	auth := e.Group("/auth")
	auth.POST("/register", authHandler.Register)
	auth.POST("/login", authHandler.Login)
	auth.POST("/refresh", authHandler.Refresh)
	auth.GET("/me", authHandler.Me, middleware.JWTAuthMiddleware(jwt, db))

	// Analysis routes - authenticated; creation is quota-limited and the
	// request body is capped before it is buffered (64 KiB of headroom for
	// multipart framing on top of the image bound)
	bodyLimit := strconv.FormatInt(cfg.Quota.MaxUploadBytes+64<<10, 10)
	analysis := e.Group("/analysis")
	analysis.Use(middleware.JWTAuthMiddleware(jwt, db))
	analysis.POST("", analysisHandler.Create,
		middleware.RateLimitMiddleware(limiter),
		echomiddleware.BodyLimit(bodyLimit))
	analysis.GET("", analysisHandler.List)
	analysis.GET("/:id", analysisHandler.Get)
	analysis.DELETE("/:id", analysisHandler.Delete)

	// Subscription routes - webhook is signature-verified, not bearer-authed
	subscription := e.Group("/subscription")
	subscription.POST("/webhook", subscriptionHandler.Webhook)
	subscription.POST("/create-checkout", subscriptionHandler.CreateCheckout, middleware.JWTAuthMiddleware(jwt, db))
	subscription.POST("/cancel", subscriptionHandler.Cancel, middleware.JWTAuthMiddleware(jwt, db))

	// GDPR routes - authenticated
	gdpr := e.Group("/gdpr")
	gdpr.Use(middleware.JWTAuthMiddleware(jwt, db))
	gdpr.POST("/consent", gdprHandler.RecordConsent)
	gdpr.GET("/consent", gdprHandler.GetConsent)
	gdpr.POST("/export", gdprHandler.Export)
	gdpr.POST("/delete-account", gdprHandler.DeleteAccount)
	gdpr.POST("/schedule-deletion", gdprHandler.ScheduleDeletion)
	gdpr.POST("/cancel-deletion", gdprHandler.CancelDeletion)

	// Start server
	port := cfg.Server.Port
	log.Info("Starting server", zap.String("port", port))
	if err := e.Start(":" + port); err != nil {
		log.Fatal("Failed to start server", zap.Error(err))
	}
}
