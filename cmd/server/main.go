package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	ledgerapp "github.com/ledgerlink/backend/internal/application/ledger"
	"github.com/ledgerlink/backend/internal/domain/ledger"
	"github.com/ledgerlink/backend/internal/infrastructure/archive"
	"github.com/ledgerlink/backend/internal/infrastructure/config"
	"github.com/ledgerlink/backend/internal/infrastructure/lock"
	"github.com/ledgerlink/backend/internal/infrastructure/logger"
	"github.com/ledgerlink/backend/internal/infrastructure/persistence"
	"github.com/ledgerlink/backend/internal/infrastructure/remoteledger"
	"github.com/ledgerlink/backend/internal/infrastructure/scheduler"
	"github.com/ledgerlink/backend/internal/infrastructure/telemetry"
	"github.com/ledgerlink/backend/internal/interfaces/http/handler"
	"github.com/ledgerlink/backend/internal/interfaces/http/middleware"
	"github.com/ledgerlink/backend/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	_ "github.com/ledgerlink/backend/docs"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

//	@title			LedgerLink Sync API
//	@version		1.0
//	@description	Bidirectional sync service between local books and a remote accounting ledger

//	@contact.name	API Support
//	@contact.url	https://github.com/ledgerlink/backend
//	@contact.email	support@ledgerlink.io

//	@license.name	Apache 2.0
//	@license.url	http://www.apache.org/licenses/LICENSE-2.0.html

//	@host		localhost:8080
//	@BasePath	/api/v1

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
		_ = logger.Sync(log)
	}()

	log.Info("Starting sync backend",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	ctx := context.Background()

	// Telemetry providers (no-ops when disabled)
	tracerProvider, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracer provider", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			log.Warn("Tracer provider shutdown failed", zap.Error(err))
		}
	}()

	meterProvider, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize meter provider", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := meterProvider.Shutdown(shutdownCtx); err != nil {
			log.Warn("Meter provider shutdown failed", zap.Error(err))
		}
	}()

	// Log export: bridge zap output into the collector alongside stdout
	if cfg.Telemetry.Enabled && cfg.Telemetry.LogsEnabled {
		loggerProvider, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
			Enabled:           true,
			CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
			ServiceName:       cfg.Telemetry.ServiceName,
			Insecure:          cfg.Telemetry.Insecure,
		}, log)
		if err != nil {
			log.Fatal("Failed to initialize logger provider", zap.Error(err))
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := loggerProvider.Shutdown(shutdownCtx); err != nil {
				log.Warn("Logger provider shutdown failed", zap.Error(err))
			}
		}()

		bridged, err := telemetry.CreateBridgedLoggerFromConfig(&telemetry.BaseLoggerConfig{
			Level:      cfg.Log.Level,
			Format:     cfg.Log.Format,
			Output:     cfg.Log.Output,
			TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		}, loggerProvider, cfg.Telemetry.ServiceName)
		if err != nil {
			log.Fatal("Failed to initialize bridged logger", zap.Error(err))
		}
		log = bridged
		log.Info("Log export to collector enabled")
	}

	// Continuous profiling, no-op when disabled
	profiler, err := telemetry.NewProfiler(telemetry.ProfilerConfig{
		Enabled:           cfg.Profiling.Enabled,
		ServerAddress:     cfg.Profiling.ServerAddress,
		ApplicationName:   cfg.Profiling.ApplicationName,
		BasicAuthUser:     cfg.Profiling.BasicAuthUser,
		BasicAuthPassword: cfg.Profiling.BasicAuthPassword,
		ProfileCPU:        true,
		ProfileAllocSpace: true,
		ProfileInuseSpace: true,
		ProfileGoroutines: true,
	}, log)
	if err != nil {
		log.Fatal("Failed to start profiler", zap.Error(err))
	}
	defer func() {
		if err := profiler.Stop(); err != nil {
			log.Warn("Profiler stop failed", zap.Error(err))
		}
	}()

	// Tie CPU samples to individual sync spans once both sides are up
	if profiler.IsEnabled() && tracerProvider.IsEnabled() {
		if err := tracerProvider.EnableSpanProfiles(); err != nil {
			log.Warn("Span profiles integration failed", zap.Error(err))
		}
	}

	// Create GORM logger backed by zap
	gormLogLevel := logger.MapGormLogLevel(cfg.Log.Level)

	// Initialize database connection
	db, err := persistence.NewDatabaseWithLogger(&cfg.Database, log, gormLogLevel)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected successfully")

	// Database query tracing
	if cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled {
		dbTracing := telemetry.NewDBTracingPlugin(telemetry.DBTracingConfig{
			Enabled:         true,
			LogFullSQL:      cfg.Telemetry.DBLogFullSQL,
			SlowQueryThresh: cfg.Telemetry.DBSlowQueryThresh,
		}, log)
		if err := dbTracing.RegisterOtelGorm(db.DB); err != nil {
			log.Warn("Failed to register database tracing", zap.Error(err))
		}
	}

	// Database query and pool metrics
	if cfg.Telemetry.Enabled && cfg.Telemetry.DBMetricsEnabled {
		dbMetrics, err := telemetry.RegisterDBMetrics(db.DB, meterProvider, telemetry.DBMetricsConfig{
			Enabled:            true,
			SlowQueryThreshold: cfg.Telemetry.DBSlowQueryThresh,
		}, log)
		if err != nil {
			log.Warn("Failed to register database metrics", zap.Error(err))
		} else if dbMetrics != nil {
			dbMetrics.StartPoolStatsCollection(ctx)
			defer dbMetrics.Stop()
		}
	}

	// Sync metrics, nil when telemetry is off; all recorders are nil-safe
	var syncMetrics *telemetry.SyncMetrics
	if cfg.Telemetry.Enabled {
		syncMetrics, err = telemetry.NewSyncMetrics(meterProvider.Meter("ledgerlink.sync"))
		if err != nil {
			log.Warn("Failed to initialize sync metrics", zap.Error(err))
		}
	}

	// Initialize repositories
	contactRepo := persistence.NewGormContactRepository(db.DB)
	invoiceRepo := persistence.NewGormInvoiceRepository(db.DB)
	paymentRepo := persistence.NewGormPaymentRepository(db.DB)
	stateRepo := persistence.NewGormSyncStateRepository(db.DB)
	conflictRepo := persistence.NewGormConflictRepository(db.DB)
	checkpointRepo := persistence.NewGormCheckpointRepository(db.DB)
	auditRepo := persistence.NewGormAuditRepository(db.DB)
	runRepo := persistence.NewGormSyncRunRepository(db.DB)
	connectionRepo := persistence.NewGormConnectionRepository(db.DB)

	// Secret sealer for connection credentials at rest
	sealer, err := remoteledger.NewSealerFromHex(cfg.Ledger.SecretsKey)
	if err != nil {
		log.Fatal("Failed to initialize secret sealer", zap.Error(err))
	}

	// Remote ledger client with OAuth2 token exchange
	tokenProvider, err := remoteledger.NewOAuthTokenProvider(remoteledger.TokenProviderConfig{
		TokenPath:   cfg.Ledger.TokenPath,
		RefreshSkew: cfg.Ledger.TokenRefreshSkew,
	}, connectionRepo, sealer, log)
	if err != nil {
		log.Fatal("Failed to initialize token provider", zap.Error(err))
	}

	remoteClient, err := remoteledger.NewClient(remoteledger.ClientConfig{
		Timeout:            cfg.Ledger.RequestTimeout,
		MinRequestInterval: cfg.Ledger.MinRequestInterval,
	}, tokenProvider, connectionRepo, syncMetrics, log)
	if err != nil {
		log.Fatal("Failed to initialize remote ledger client", zap.Error(err))
	}

	// Local store projecting books records into sync documents
	localStore := persistence.NewBooksLocalStore(contactRepo, invoiceRepo, paymentRepo, stateRepo, log)

	// Run locks: Redis when available so locks survive restarts and hold
	// across instances, in-memory otherwise
	var locker ledger.RunLocker
	if cfg.Redis.Enabled {
		redisLocker, err := lock.NewRedisRunLocker(lock.RedisConfig{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			log.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer func() {
			if err := redisLocker.Close(); err != nil {
				log.Warn("Error closing Redis locker", zap.Error(err))
			}
		}()
		locker = redisLocker
		log.Info("Run locks backed by Redis")
	} else {
		locker = lock.NewInMemoryRunLocker()
		log.Info("Run locks held in memory")
	}

	deps := ledgerapp.Deps{
		States:      stateRepo,
		Conflicts:   conflictRepo,
		Checkpoints: checkpointRepo,
		Audits:      auditRepo,
		Runs:        runRepo,
		Connections: connectionRepo,
		Local:       localStore,
		Remote:      remoteClient,
		Tokens:      tokenProvider,
		Metrics:     syncMetrics,
		Logger:      log,
	}

	// Conflict archive, optional
	if cfg.Archive.Enabled {
		conflictArchive, err := archive.NewS3ConflictArchive(archive.Config{
			Endpoint:     cfg.Archive.Endpoint,
			Region:       cfg.Archive.Region,
			Bucket:       cfg.Archive.Bucket,
			AccessKey:    cfg.Archive.AccessKey,
			SecretKey:    cfg.Archive.SecretKey,
			UseSSL:       cfg.Archive.UseSSL,
			UsePathStyle: cfg.Archive.UsePathStyle,
		}, log)
		if err != nil {
			log.Fatal("Failed to initialize conflict archive", zap.Error(err))
		}
		bucketCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := conflictArchive.EnsureBucket(bucketCtx); err != nil {
			log.Warn("Failed to ensure conflict archive bucket", zap.Error(err))
		}
		cancel()
		deps.Archiver = conflictArchive
		log.Info("Conflict archive enabled", zap.String("bucket", cfg.Archive.Bucket))
	}

	// Sync pipelines and orchestrator
	pipelineCfg := ledgerapp.PipelineConfig{
		PageSize: cfg.Sync.PageSize,
		Workers:  cfg.Sync.Workers,
		Retry: ledgerapp.RetryPolicy{
			MaxAttempts: cfg.Sync.RetryMaxAttempts,
			BaseDelay:   cfg.Sync.RetryBaseDelay,
			MaxDelay:    cfg.Sync.RetryMaxDelay,
		},
	}
	pullPipeline, err := ledgerapp.NewPullPipeline(deps, pipelineCfg)
	if err != nil {
		log.Fatal("Failed to initialize pull pipeline", zap.Error(err))
	}
	pushPipeline, err := ledgerapp.NewPushPipeline(deps, pipelineCfg)
	if err != nil {
		log.Fatal("Failed to initialize push pipeline", zap.Error(err))
	}
	orchestrator, err := ledgerapp.NewOrchestrator(deps, locker, pullPipeline, pushPipeline, ledgerapp.OrchestratorConfig{
		RunTimeout: cfg.Sync.RunTimeout,
		LockTTL:    cfg.Sync.LockTTL,
	})
	if err != nil {
		log.Fatal("Failed to initialize orchestrator", zap.Error(err))
	}

	// Application services
	conflictService := ledgerapp.NewConflictService(conflictRepo, stateRepo, auditRepo, localStore, log)
	connectionService := ledgerapp.NewConnectionService(connectionRepo, sealer, log)

	// Background sync trigger for scheduled connections
	var syncTrigger *scheduler.SyncTrigger
	if cfg.Sync.SchedulerEnabled {
		syncTrigger = scheduler.NewSyncTrigger(scheduler.SyncTriggerConfig{
			CheckInterval: cfg.Sync.SchedulerCheckInterval,
		}, orchestrator, connectionRepo, log)
		if err := syncTrigger.Start(ctx); err != nil {
			log.Fatal("Failed to start sync trigger", zap.Error(err))
		}
		log.Info("Scheduled sync trigger started",
			zap.Duration("check_interval", cfg.Sync.SchedulerCheckInterval))
	}

	// Initialize handlers
	syncHandler := handler.NewSyncHandler(orchestrator)
	conflictHandler := handler.NewConflictHandler(conflictService)
	connectionHandler := handler.NewConnectionHandler(connectionService)

	// Set Gin mode based on environment
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Setup validation
	middleware.SetupValidator()

	// Initialize router with custom middleware
	engine := gin.New()

	// Configure trusted proxies
	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}

	// Apply middleware stack in order:
	// 1. RequestID - Generate/propagate request ID
	// 2. Recovery - Catch panics
	// 3. Logger - Log requests
	// 4. Tracing/Metrics/Profiling - Observability (when enabled)
	// 5. Security - Add security headers
	// 6. CORS - Handle cross-origin requests
	// 7. BodyLimit - Limit request body size
	engine.Use(middleware.RequestID())
	engine.Use(logger.Recovery(log))
	engine.Use(logger.RequestLogger(log))
	if cfg.Telemetry.Enabled {
		engine.Use(middleware.TracingWithConfig(middleware.TracingConfig{
			ServiceName: cfg.Telemetry.ServiceName,
			Enabled:     true,
		}))
		engine.Use(middleware.HTTPMetricsWithMeter(meterProvider.Meter("ledgerlink.http"), true))
	}
	if cfg.Profiling.Enabled {
		engine.Use(middleware.Profiling())
	}
	engine.Use(middleware.Secure())

	// Configure CORS from config
	corsConfig := middleware.CORSConfig{
		AllowOrigins:     cfg.HTTP.CORSAllowOrigins,
		AllowMethods:     cfg.HTTP.CORSAllowMethods,
		AllowHeaders:     cfg.HTTP.CORSAllowHeaders,
		ExposeHeaders:    []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	engine.Use(middleware.CORSWithConfig(corsConfig))

	// Body size limit
	engine.Use(middleware.BodyLimit(cfg.HTTP.MaxBodySize))

	// Health check endpoint (outside API versioning)
	engine.GET("/health", healthHandler(db, log))

	// Swagger documentation endpoint
	engine.GET("/swagger/*any",
		middleware.SwaggerProtection(middleware.SwaggerConfig{
			Enabled:     cfg.Swagger.Enabled,
			RequireAuth: cfg.Swagger.RequireAuth,
			AllowedIPs:  cfg.Swagger.AllowedIPs,
		}, nil),
		ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Setup API routes using router
	r := router.NewRouter(engine, router.WithAPIVersion("v1"))

	// Tenant scoping for all API routes
	r.Use(middleware.TenantMiddleware())

	// Sync domain routes
	syncRoutes := router.NewDomainGroup("sync", "/sync")
	syncRoutes.POST("/runs", syncHandler.Start)
	syncRoutes.GET("/runs", syncHandler.List)
	syncRoutes.GET("/runs/:id", syncHandler.Get)
	syncRoutes.POST("/runs/:id/cancel", syncHandler.Cancel)
	syncRoutes.GET("/runs/:id/audit", syncHandler.Audit)
	syncRoutes.GET("/conflicts", conflictHandler.List)
	syncRoutes.GET("/conflicts/:id", conflictHandler.Get)
	syncRoutes.POST("/conflicts/:id/resolve", conflictHandler.Resolve)
	syncRoutes.GET("/connection", connectionHandler.Get)
	syncRoutes.PUT("/connection", connectionHandler.Upsert)
	syncRoutes.DELETE("/connection", connectionHandler.Delete)

	r.Register(syncRoutes)

	// Setup routes
	r.Setup()

	// Simple ping at root API level for basic health checks
	engine.GET("/api/v1/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	// Create HTTP server with config
	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	// Start server in goroutine
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if syncTrigger != nil {
		if err := syncTrigger.Stop(shutdownCtx); err != nil {
			log.Warn("Sync trigger shutdown incomplete", zap.Error(err))
		}
	}
	if err := orchestrator.Shutdown(shutdownCtx); err != nil {
		log.Warn("Orchestrator shutdown incomplete", zap.Error(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

// healthHandler returns a handler for health check endpoints
func healthHandler(db *persistence.Database, _ *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqLog := logger.FromGin(c)
		if err := db.Ping(); err != nil {
			reqLog.Warn("Health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"time":     time.Now().Format(time.RFC3339),
				"database": "error",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":   "healthy",
			"time":     time.Now().Format(time.RFC3339),
			"database": "ok",
		})
	}
}
