package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appmetering "github.com/usagehq/metering/internal/application/metering"
	"github.com/usagehq/metering/internal/infrastructure/auth"
	"github.com/usagehq/metering/internal/infrastructure/billing"
	"github.com/usagehq/metering/internal/infrastructure/cache"
	"github.com/usagehq/metering/internal/infrastructure/config"
	"github.com/usagehq/metering/internal/infrastructure/logger"
	"github.com/usagehq/metering/internal/infrastructure/persistence"
	"github.com/usagehq/metering/internal/infrastructure/scheduler"
	"github.com/usagehq/metering/internal/infrastructure/telemetry"
	"github.com/usagehq/metering/internal/interfaces/http/handler"
	"github.com/usagehq/metering/internal/interfaces/http/middleware"
	"github.com/usagehq/metering/internal/interfaces/http/router"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting usage metering service",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	// Create GORM logger backed by zap
	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level))

	// Initialize database connection
	db, err := persistence.NewDatabaseWithLogger(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected successfully")

	// Initialize telemetry
	meterProvider, err := telemetry.NewMeterProvider(context.Background(), telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ExportInterval:    cfg.Telemetry.ExportInterval,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	defer func() {
		if err := meterProvider.Shutdown(context.Background()); err != nil {
			log.Error("Error shutting down telemetry", zap.Error(err))
		}
	}()

	var metrics appmetering.Metrics = appmetering.NopMetrics{}
	if meterProvider.IsEnabled() {
		m, err := telemetry.NewMeteringMetrics(meterProvider.Meter("metering"), log)
		if err != nil {
			log.Fatal("Failed to create metering metrics", zap.Error(err))
		}
		metrics = m
	}

	// Initialize repositories
	eventRepo := persistence.NewUsageEventRepository(db.DB)
	counterRepo := persistence.NewUsageCounterRepository(db.DB)
	ledgerStore := persistence.NewLedgerStore(db.DB)
	subRepo := persistence.NewSubscriptionRepository(db.DB)
	reportLogRepo := persistence.NewReportLogRepository(db.DB)

	// Billing provider
	provider, err := billing.NewStripeAdapter(&billing.StripeConfig{
		SecretKey:  cfg.Stripe.APIKey,
		IsTestMode: strings.HasPrefix(cfg.Stripe.APIKey, "sk_test_"),
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize billing provider", zap.Error(err))
	}

	// Report dedup store: Redis when reachable, in-memory otherwise
	storeFactory := cache.NewIdempotencyStoreFactory(cfg.Redis,
		cache.WithLogger(log),
		cache.WithInMemoryFallback(true),
	)
	dedupStore, err := storeFactory.CreateStore()
	if err != nil {
		log.Fatal("Failed to create report dedup store", zap.Error(err))
	}
	defer func() {
		if err := dedupStore.Close(); err != nil {
			log.Error("Error closing report dedup store", zap.Error(err))
		}
	}()

	// Initialize application services
	recorderService := appmetering.NewRecorderService(ledgerStore, subRepo, metrics, log)
	queryService := appmetering.NewQueryService(counterRepo, subRepo, log)
	periodService := appmetering.NewPeriodService(counterRepo, subRepo, log)
	reconcileService := appmetering.NewReconcileService(eventRepo, counterRepo, subRepo, metrics, log,
		appmetering.ReconcileConfig{
			MaxAutoCorrectPercent: cfg.Reconcile.MaxAutoCorrectPercent,
			AbsoluteDriftFloor:    cfg.Reconcile.AbsoluteDriftFloor,
		})
	overageService := appmetering.NewOverageService(counterRepo, subRepo, provider, reportLogRepo, dedupStore, metrics, log,
		appmetering.OverageConfig{
			Retry: appmetering.RetryPolicy{
				MaxAttempts: cfg.Overage.MaxAttempts,
				BaseBackoff: cfg.Overage.BaseBackoff,
				MaxBackoff:  cfg.Overage.MaxBackoff,
			},
			BreakerThreshold: cfg.Overage.BreakerThreshold,
			DedupTTL:         cfg.Overage.DedupTTL,
		})

	// Daily maintenance: counter pre-creation, reconciliation, overage
	// reporting and closed-period finalization
	maintenance, err := scheduler.NewMaintenanceScheduler(
		periodService,
		reconcileService,
		overageService,
		log,
		scheduler.MaintenanceSchedulerConfig{
			Enabled:    cfg.Scheduler.Enabled,
			DailyHour:  cfg.Scheduler.DailyHour,
			JobTimeout: cfg.Scheduler.JobTimeout,
		},
	)
	if err != nil {
		log.Fatal("Failed to create maintenance scheduler", zap.Error(err))
	}
	if err := maintenance.Start(context.Background()); err != nil {
		log.Fatal("Failed to start maintenance scheduler", zap.Error(err))
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := maintenance.Stop(stopCtx); err != nil {
			log.Error("Error stopping maintenance scheduler", zap.Error(err))
		}
	}()

	// Auth
	jwtService := auth.NewJWTService(cfg.JWT)

	// Initialize HTTP handlers
	usageHandler := handler.NewUsageHandler(recorderService, queryService, log)
	reportHandler := handler.NewReportHandler(reportLogRepo, log)
	systemHandler := handler.NewSystemHandler(db.DB)

	// Set Gin mode based on environment
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}

	// Middleware stack, outermost first
	engine.Use(middleware.RequestID())
	engine.Use(logger.Recovery(log))
	engine.Use(logger.GinMiddleware(log))
	engine.Use(middleware.Secure())
	engine.Use(middleware.CORSWithConfig(middleware.DefaultCORSConfig()))
	engine.Use(middleware.JWTAuthMiddleware(jwtService))

	if cfg.HTTP.RateLimitEnabled {
		rateLimiter := middleware.NewRateLimiter(cfg.HTTP.RateLimitRequests, cfg.HTTP.RateLimitWindow)
		engine.Use(middleware.RateLimit(rateLimiter))
		log.Info("Rate limiting enabled",
			zap.Int("requests", cfg.HTTP.RateLimitRequests),
			zap.Duration("window", cfg.HTTP.RateLimitWindow),
		)
	}

	// Health check endpoints (outside API versioning)
	healthCheck := func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			logger.GetGinLogger(c).Warn("Health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "database": "error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "database": "ok"})
	}
	engine.GET("/health", healthCheck)
	engine.GET("/healthz", healthCheck)

	// Versioned API routes
	router.NewRouter(engine).
		Register(usageHandler).
		Register(reportHandler).
		Register(systemHandler).
		Setup()

	// Create HTTP server with config
	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}
