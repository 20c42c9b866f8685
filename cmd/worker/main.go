package main

import (
	"context"
	"os/signal"
	"syscall"

	"talky/internal/app"
	"talky/internal/config"
	"talky/internal/observe"
	"talky/internal/queue"
	"talky/internal/storage"
	"talky/internal/worker"
	"talky/pkg/cache"
	"talky/pkg/logger"

	"go.uber.org/zap"
	tele "gopkg.in/telebot.v4"
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

	logger.Info("Starting talky worker service")

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

	redisCache, err := cache.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.TTL)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisCache.Close()

	logger.Info("Redis cache connection established")

	scorer, err := app.NewScorer(cfg, redisCache, app.AcousticPool(cfg), observe.DefaultMetrics())
	if err != nil {
		logger.Fatal("Failed to build scoring pipeline", zap.Error(err))
	}

	var messenger worker.Messenger
	if cfg.Telegram.Token != "" {
		bot, err := tele.NewBot(tele.Settings{
			Token:   cfg.Telegram.Token,
			Offline: true,
		})
		if err != nil {
			logger.Fatal("Failed to create Telegram bot", zap.Error(err))
		}
		messenger = worker.NewTelegram(bot)
		logger.Info("Telegram client initialized")
	} else {
		logger.Warn("TELEGRAM_BOT_TOKEN not set, chat replies disabled")
	}

	rabbitMQ, err := queue.NewRabbitMQ(cfg.RabbitMQ.URL)
	if err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
	}
	defer rabbitMQ.Close()

	processor := worker.NewProcessor(worker.Config{
		DB:         db,
		S3:         s3Storage,
		Scorer:     scorer,
		Progress:   db,
		Messenger:  messenger,
		Cache:      redisCache,
		Thresholds: app.Thresholds(cfg),
		Timeout:    cfg.Worker.TaskTimeout,
	})

	logger.Info("Starting to consume messages from queue")
	if err := rabbitMQ.Consume(ctx, queue.QueueNameScoreAttempts, processor.ProcessTask); err != nil {
		logger.Error("Failed to consume messages", zap.Error(err))
	}

	logger.Info("Worker service shutdown complete")
}
