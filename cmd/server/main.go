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

	"talentai/learning/internal/cache"
	"talentai/learning/internal/classifier"
	"talentai/learning/internal/config"
	"talentai/learning/internal/corpus"
	"talentai/learning/internal/feedback"
	"talentai/learning/internal/handlers"
	"talentai/learning/internal/jobs"
	"talentai/learning/internal/learning"
	"talentai/learning/internal/processor"
	"talentai/learning/internal/routers"
	"talentai/learning/internal/store"
	"talentai/learning/internal/tuning"
	"talentai/learning/internal/utils"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// app holds everything main wires together, so shutdown can unwind it.
type app struct {
	router   *chi.Mux
	pipeline *learning.Pipeline
	job      *jobs.MaintenanceJob
	routes   *feedback.RouteCache
	cache    *cache.InsightsCache
}

func registerRoutes(router *chi.Mux, learningHandler *handlers.LearningHandler, modelHandler *handlers.ModelHandler, healthHandler *handlers.HealthHandler, jwtSecret string) {
	routers.HealthRoutes(router, healthHandler)
	routers.LearningRoutes(router, learningHandler, modelHandler, jwtSecret)
}

func buildApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	db, err := store.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	st := store.New(db, logger.Named("store"))
	if err := st.Migrate(ctx); err != nil {
		return nil, err
	}

	intents, err := corpus.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load intent corpus: %w", err)
	}
	logger.Info("Intent corpus loaded",
		zap.Int("intents", len(intents.Intents())),
		zap.Int("examples", intents.Size()))

	var insightsCache *cache.InsightsCache
	if cfg.Redis.Addr != "" {
		rdb := cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		insightsCache = cache.NewInsightsCache(rdb, cfg.Redis.TTL, logger.Named("cache"))
		if err := insightsCache.Ping(ctx); err != nil {
			logger.Warn("Redis unreachable, insights will be served uncached until it recovers", zap.Error(err))
		}
	}

	manager := tuning.NewModelManager(st, tuning.Options{
		ArtifactDir:  cfg.Model.ArtifactDir,
		Factory:      classifier.NaiveBayesFactory,
		Loader:       classifier.LoadNaiveBayes,
		TrafficSplit: cfg.Learning.ABTestTrafficSplit,
		Logger:       logger.Named("models"),
	})

	routes := feedback.NewRouteCache(cfg.Model.RouteTTL)
	pipeline := learning.New(learning.Deps{
		Store:     st,
		Processor: processor.New(intents, logger.Named("processor")),
		Models:    manager,
		Cache:     insightsCache,
		Collector: feedback.NewCollector(),
		Routes:    routes,
		Config:    cfg.Learning,
		Logger:    logger.Named("learning"),
	})
	if err := pipeline.Restore(ctx); err != nil {
		routes.Close()
		return nil, fmt.Errorf("failed to restore learning state: %w", err)
	}

	job := jobs.NewMaintenanceJob(pipeline, jobs.MaintenanceConfig{
		Enabled:  cfg.Maintenance.Enabled,
		Schedule: cfg.Maintenance.Schedule,
		Backoff:  cfg.Maintenance.Backoff,
	}, logger.Named("maintenance"))

	var cachePinger handlers.Pinger
	if insightsCache != nil {
		cachePinger = insightsCache
	}
	learningHandler := handlers.NewLearningHandler(pipeline, logger)
	modelHandler := handlers.NewModelHandler(pipeline, logger)
	healthHandler := handlers.NewHealthHandler(st, cachePinger, manager, cfg)

	router := chi.NewRouter()

	// cors middleware
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Authorization"},
		AllowCredentials: true,
	}))

	// no Timeout middleware: a forced retrain runs synchronously
	router.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	registerRoutes(router, learningHandler, modelHandler, healthHandler, cfg.Auth.JWTSecret)

	return &app{
		router:   router,
		pipeline: pipeline,
		job:      job,
		routes:   routes,
		cache:    insightsCache,
	}, nil
}

// shutdown stops background work in dependency order.
func (a *app) shutdown(logger *zap.Logger) {
	a.job.Stop()
	a.pipeline.Wait()
	a.routes.Close()
	if err := a.cache.Close(); err != nil {
		logger.Warn("Failed to close redis client", zap.Error(err))
	}
}

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Configuration loaded",
		zap.String("database_driver", cfg.Database.Driver),
		zap.Bool("redis", cfg.Redis.Addr != ""),
		zap.Bool("operator_auth", cfg.Auth.JWTSecret != ""),
		zap.Any("learning", cfg.Learning))

	a, err := buildApp(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize learning service", zap.Error(err))
	}

	if err := a.job.Start(); err != nil {
		logger.Fatal("Failed to start maintenance job", zap.Error(err))
	}

	serverAddr := ":" + cfg.Server.Port

	// http server with timeouts
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      a.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// starting server in a goroutine
	go func() {
		logger.Info("Learning service starting", zap.String("addr", serverAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	// wait for interrupt signal to gracefully shutdown the server
	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)
	<-shutdownChan

	logger.Info("Learning service shutting down...")

	// graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	a.shutdown(logger)

	logger.Info("Learning service exited")
}
