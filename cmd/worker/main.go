package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	tele "gopkg.in/telebot.v4"

	"github.com/mawule-gabriel/synthesis/internal/config"
	"github.com/mawule-gabriel/synthesis/internal/queue"
	"github.com/mawule-gabriel/synthesis/internal/storage"
	"github.com/mawule-gabriel/synthesis/internal/transcribe"
	"github.com/mawule-gabriel/synthesis/internal/worker"
	"github.com/mawule-gabriel/synthesis/pkg/cache"
	"github.com/mawule-gabriel/synthesis/pkg/logger"
	"github.com/mawule-gabriel/synthesis/pkg/metrics"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "Path to the YAML config file")
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

	logger.Info("Starting synthesis worker service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := storage.NewPostgresStorage(ctx, cfg.Postgres.DSN, cfg.Postgres.Migrations)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	logger.Info("Database connection established")

	awsCfg, err := cfg.AWSConfig(ctx)
	if err != nil {
		logger.Fatal("Failed to load AWS config", zap.Error(err))
	}

	s3Storage := storage.NewS3Storage(awsCfg, cfg.S3.Bucket, cfg.S3.Endpoint)
	orchestrator := transcribe.NewOrchestrator(
		s3Storage,
		transcribe.NewClient(awsCfg),
		transcribe.NewHTTPFetcher(nil, nil),
		transcribe.Options{
			Timeout:      cfg.Transcribe.Timeout,
			PollInterval: cfg.Transcribe.PollInterval,
			LanguageCode: cfg.Transcribe.LanguageCode,
		},
	)

	logger.Info("Transcription orchestrator initialized",
		zap.String("bucket", cfg.S3.Bucket),
		zap.Duration("timeout", cfg.Transcribe.Timeout))

	// The worker only sends replies, so the poller is never started.
	bot, err := tele.NewBot(tele.Settings{
		Token:  cfg.Telegram.Token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		logger.Fatal("Failed to create Telegram bot", zap.Error(err))
	}

	redisCache, err := cache.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.TTL)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisCache.Close()

	logger.Info("Redis cache connection established")

	rabbitMQ, err := queue.NewRabbitMQ(cfg.RabbitMQ.URL, cfg.RabbitMQ.Queue)
	if err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
	}
	defer rabbitMQ.Close()

	processor := worker.NewProcessor(db, orchestrator, worker.NewTelegram(bot), redisCache)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rabbitMQ.Consume(ctx, cfg.Worker.Concurrency, processor.ProcessTask)
	})
	g.Go(func() error {
		return metrics.Serve(ctx, cfg.Metrics.Addr)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Worker stopped with error", zap.Error(err))
	}

	logger.Info("Worker service shutdown complete")
}
