package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"talky/internal/api"
	"talky/internal/app"
	"talky/internal/config"
	"talky/internal/observe"
	"talky/internal/queue"
	"talky/internal/storage"
	"talky/pkg/cache"
	"talky/pkg/logger"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic("Failed to load config: " + err.Error())
	}

	if err := logger.Init(cfg.Debug); err != nil {
		panic("Failed to init logger: " + err.Error())
	}
	defer logger.Sync()

	logger.Info("Starting talky API server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownMetrics, err := observe.InitProvider()
	if err != nil {
		logger.Fatal("Failed to init metrics provider", zap.Error(err))
	}
	defer shutdownMetrics(context.Background())

	if cfg.Postgres.DSN == "" {
		logger.Fatal("DATABASE_URL environment variable is required")
	}
	db, err := storage.NewPostgresStorage(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	redisCache, err := cache.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.TTL)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisCache.Close()

	metrics := observe.DefaultMetrics()
	pool := app.AcousticPool(cfg)
	scorer, err := app.NewScorer(cfg, redisCache, pool, metrics)
	if err != nil {
		logger.Fatal("Failed to build scoring pipeline", zap.Error(err))
	}

	checks := []observe.Checker{
		{Name: "postgres", Check: db.Ping},
		{Name: "redis", Check: redisCache.Ping},
		{Name: "acoustic", Check: func(ctx context.Context) error {
			_, err := pool.Acquire(ctx)
			return err
		}},
	}

	apiCfg := api.Config{
		Scorer:         scorer,
		Progress:       db,
		Cache:          redisCache,
		Thresholds:     app.Thresholds(cfg),
		MaxUploadBytes: cfg.HTTP.MaxUploadBytes,
		Metrics:        metrics,
		MetricsHandler: observe.MetricsHandler(),
	}

	// Asynchronous attempts need both the audio archive and the queue.
	if cfg.S3.Bucket != "" && cfg.RabbitMQ.URL != "" {
		s3Storage, err := storage.NewS3Storage(ctx, storage.S3Config{
			Endpoint:  cfg.S3.Endpoint,
			Region:    cfg.S3.Region,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Bucket:    cfg.S3.Bucket,
		})
		if err != nil {
			logger.Fatal("Failed to initialize S3 storage", zap.Error(err))
		}

		rabbitMQ, err := queue.NewRabbitMQ(cfg.RabbitMQ.URL)
		if err != nil {
			logger.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
		}
		defer rabbitMQ.Close()

		apiCfg.Attempts = db
		apiCfg.Audio = s3Storage
		apiCfg.Queue = rabbitMQ
		checks = append(checks, observe.Checker{Name: "rabbitmq", Check: rabbitMQ.Ping})
	} else {
		logger.Warn("S3 or RabbitMQ not configured, /api/attempts disabled")
	}
	apiCfg.Health = observe.NewHealth(checks...)

	llm, err := app.LLM(cfg)
	if err != nil {
		logger.Fatal("Failed to create chat model client", zap.Error(err))
	}
	if llm != nil {
		apiCfg.Practice = llm
	} else {
		logger.Warn("Feedback API key not set, /api/lessons and /api/wordbank disabled")
	}

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      api.NewServer(apiCfg).Handler(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down API server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("API server shutdown complete")
}
