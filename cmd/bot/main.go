package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"talky/internal/app"
	"talky/internal/bot"
	"talky/internal/config"
	"talky/internal/queue"
	"talky/internal/storage"
	"talky/pkg/cache"
	"talky/pkg/logger"

	"go.uber.org/zap"
)

func main() {
	resetDB := flag.Bool("reset-db", false, "Reset database by dropping all tables and re-running migrations")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		panic("Failed to load config: " + err.Error())
	}

	if err := logger.Init(cfg.Debug); err != nil {
		panic("Failed to init logger: " + err.Error())
	}
	defer logger.Sync()

	logger.Info("Starting talky bot service")

	if cfg.Postgres.DSN == "" {
		logger.Fatal("DATABASE_URL environment variable is required")
	}

	if *resetDB {
		logger.Info("Resetting database...")
		if err := storage.ResetMigrations(cfg.Postgres.DSN); err != nil {
			logger.Fatal("Failed to reset database", zap.Error(err))
		}
		logger.Info("Database reset completed successfully")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	rabbitMQ, err := queue.NewRabbitMQ(cfg.RabbitMQ.URL)
	if err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
	}
	defer rabbitMQ.Close()

	logger.Info("RabbitMQ connection established")

	botInstance, err := bot.NewBot(cfg, db, db, rabbitMQ, redisCache)
	if err != nil {
		logger.Fatal("Failed to initialize bot", zap.Error(err))
	}

	llm, err := app.LLM(cfg)
	if err != nil {
		logger.Fatal("Failed to create chat model client", zap.Error(err))
	}
	if llm != nil {
		botInstance.EnableLessons(llm)
	}

	go func() {
		logger.Info("Starting Telegram bot")
		botInstance.Start()
	}()

	<-ctx.Done()
	logger.Info("Received shutdown signal")

	botInstance.Stop()

	logger.Info("Bot service shutdown complete")
}
