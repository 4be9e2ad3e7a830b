package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Kubendra2004/HealthForesight/app"
	"github.com/Kubendra2004/HealthForesight/config"
	"github.com/Kubendra2004/HealthForesight/forecast"
	"github.com/Kubendra2004/HealthForesight/handlers"
	"github.com/Kubendra2004/HealthForesight/middleware"
	"github.com/Kubendra2004/HealthForesight/models"
	"github.com/Kubendra2004/HealthForesight/registry"
	"github.com/Kubendra2004/HealthForesight/services"
	"github.com/Kubendra2004/HealthForesight/telemetry"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load config
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := app.Logger(cfg, "hospitalops-api")
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	tp, err := telemetry.InitTracer(ctx, app.Telemetry(cfg, "hospitalops-api"))
	if err != nil {
		logger.Warn().Err(err).Msg("tracing disabled")
	}
	defer func() { _ = telemetry.Shutdown(context.Background(), tp) }()

	// Connect to database
	db, err := gorm.Open(postgres.Open(cfg.Database.GetDSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to get sql db handle")
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to ping database")
	}
	if err := db.AutoMigrate(&models.Bed{}, &models.ForecastLog{}, &models.CapacityAlert{}); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate")
	}

	cache, err := services.NewCacheService(cfg.Redis, 10, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, running without cache and fan-out")
	}
	defer cache.Close()

	store, err := app.OpenStore(cfg.Forecast)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open model store")
	}
	defer store.Close()

	hist, err := app.OpenHistory(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open history source")
	}
	defer hist.Close()

	reg, err := registry.New(store, registry.Options{VersionCheck: cfg.Forecast.VersionCheck}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create model registry")
	}
	logger.Info().Int("models", reg.Warm(ctx)).Msg("model registry warmed")

	go services.ListenInvalidations(ctx, cache, logger, func(m forecast.Metric) {
		reg.InvalidateFrom(m, "redis")
	})
	if store.File != nil && cfg.Forecast.WatchModels {
		err := store.File.Watch(ctx, logger, func(m forecast.Metric) {
			reg.InvalidateFrom(m, "watch")
		})
		if err != nil {
			logger.Warn().Err(err).Msg("model directory watch disabled")
		}
	}

	engine := forecast.NewEngine(hist, reg, app.EngineConfig(cfg.Forecast), logger,
		forecast.WithMetricsSource(store))
	trainer := forecast.NewTrainer(store.ModelStore, app.TrainerConfig(cfg.Trainer), logger,
		forecast.WithInvalidator(forecast.Invalidators{reg, services.NewInvalidationPublisher(cache, logger)}))
	jobs := services.NewTrainingJobs(trainer, hist, cfg.Trainer.JobTimeout, logger)
	authService := services.NewAuthService(cfg.JWT)

	router := newRouter(routes{
		logger:    logger,
		cors:      cfg.CORS,
		limiter:   middleware.NewIPRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst, 10*time.Minute),
		auth:      authService,
		cache:     cache,
		registry:  reg,
		authH:     handlers.NewAuthHandler(authService),
		forecastH: handlers.NewForecastHandler(engine, services.NewLiveCountService(db), services.NewForecastLogService(db), cache, handlers.ForecastHandlerConfig{AlignShiftBounds: cfg.Forecast.AlignShiftBounds, CacheTTL: cfg.Forecast.CacheTTL}, logger),
		trainingH: handlers.NewTrainingHandler(jobs, store),
		logH:      handlers.NewForecastLogHandler(db, cache),
		alertH:    handlers.NewAlertHandler(db, cache),
	})

	// Start server
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	jobs.Wait()
}

type routes struct {
	logger   zerolog.Logger
	cors     config.CORSConfig
	limiter  *middleware.IPRateLimiter
	auth     *services.AuthService
	cache    *services.CacheService
	registry *registry.Registry

	authH     *handlers.AuthHandler
	forecastH *handlers.ForecastHandler
	trainingH *handlers.TrainingHandler
	logH      *handlers.ForecastLogHandler
	alertH    *handlers.AlertHandler
}

func newRouter(r routes) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), middleware.RequestLogger(r.logger), middleware.SetupCORS(r.cors))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		var cached []forecast.Metric
		if r.registry != nil {
			cached = r.registry.Cached()
		}
		c.JSON(http.StatusOK, gin.H{
			"status":        "UP",
			"message":       "HospitalOps forecasting API is running",
			"models_cached": cached,
			"redis":         r.cache.Available(),
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	ml := router.Group("/ml", middleware.RateLimit(r.limiter))
	ml.GET("/predict/resources", r.forecastH.GetForecast)
	ml.GET("/resources/metrics", r.trainingH.GetMetrics)
	ml.GET("/resources/forecasts", r.logH.GetForecasts)
	ml.GET("/resources/alerts", r.alertH.GetAlerts)

	admin := ml.Group("/resources/retrain", middleware.RequireAuth(r.auth), middleware.RequireRole(services.RoleAdmin))
	admin.POST("", r.trainingH.Retrain)
	admin.GET("/:id", r.trainingH.GetJob)

	authGroup := router.Group("/auth", middleware.RequireAuth(r.auth))
	authGroup.GET("/me", r.authH.Me)
	authGroup.POST("/refresh", r.authH.Refresh)

	router.GET("/ws/forecasts", handlers.LiveWebSocket(r.cache, r.auth, r.logger))
	return router
}
