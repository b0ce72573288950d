package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mawule-gabriel/synthesis/internal/bedrock"
	"github.com/mawule-gabriel/synthesis/internal/bot"
	"github.com/mawule-gabriel/synthesis/internal/citation"
	"github.com/mawule-gabriel/synthesis/internal/clinical"
	"github.com/mawule-gabriel/synthesis/internal/config"
	"github.com/mawule-gabriel/synthesis/internal/queue"
	"github.com/mawule-gabriel/synthesis/internal/storage"
	"github.com/mawule-gabriel/synthesis/pkg/cache"
	"github.com/mawule-gabriel/synthesis/pkg/logger"
	"github.com/mawule-gabriel/synthesis/pkg/metrics"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "Path to the YAML config file")
	resetDB := flag.Bool("reset-db", false, "Reset database by dropping all tables and re-running migrations")
	flag.Parse()

	if err := logger.Init(false); err != nil {
		panic("Failed to init logger: " + err.Error())
	}
	defer logger.Sync()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}
	if cfg.Log.Debug {
		if err := logger.Init(true); err != nil {
			logger.Fatal("Failed to init debug logger", zap.Error(err))
		}
	}

	if *resetDB {
		logger.Info("Resetting database...")
		if err := storage.ResetMigrations(cfg.Postgres.DSN, cfg.Postgres.Migrations); err != nil {
			logger.Fatal("Failed to reset database", zap.Error(err))
		}
		logger.Info("Database reset completed successfully")
		return
	}

	logger.Info("Starting synthesis bot service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := storage.NewPostgresStorage(ctx, cfg.Postgres.DSN, cfg.Postgres.Migrations)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	logger.Info("Database connection established")

	redisCache, err := cache.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.TTL)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisCache.Close()

	rabbitMQ, err := queue.NewRabbitMQ(cfg.RabbitMQ.URL, cfg.RabbitMQ.Queue)
	if err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
	}
	defer rabbitMQ.Close()

	awsCfg, err := cfg.AWSConfig(ctx)
	if err != nil {
		logger.Fatal("Failed to load AWS config", zap.Error(err))
	}

	generator := bedrock.NewClient(awsCfg, bedrock.Options{
		ModelID:        cfg.Bedrock.ModelID,
		MaxTokens:      cfg.Bedrock.MaxTokens,
		Temperature:    cfg.Bedrock.Temperature,
		RequestsPerMin: cfg.Bedrock.RequestsPerMin,
	})

	var retriever citation.Retriever
	if kb := cfg.Bedrock.KnowledgeBaseID; kb != "" {
		retriever = citation.NewCachedRetriever(
			citation.NewKnowledgeBase(awsCfg, kb, cfg.Bedrock.MaxCitations),
			redisCache,
			kb,
		)
		logger.Info("Knowledge base retrieval enabled", zap.String("knowledge_base_id", kb))
	} else {
		logger.Warn("No knowledge base configured, diagnoses will carry no citations")
	}

	clinic := clinical.NewService(generator, retriever, db)

	botInstance, err := bot.NewBot(cfg.Telegram.Token, db, rabbitMQ, clinic, redisCache)
	if err != nil {
		logger.Fatal("Failed to initialize bot", zap.Error(err))
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		botInstance.Start()
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		botInstance.Stop()
		return nil
	})
	g.Go(func() error {
		return metrics.Serve(ctx, cfg.Metrics.Addr)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Bot stopped with error", zap.Error(err))
	}

	logger.Info("Bot service shutdown complete")
}
