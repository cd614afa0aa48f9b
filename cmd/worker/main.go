package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"server/internal/adapter/repo"
	"server/internal/infra"
	"server/internal/ledger"
	"server/internal/optimizer"
	"server/internal/queue"
	"server/internal/storage"
	"server/internal/worker"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	if cfg.RedisURL == "" {
		logger.Fatal().Msg("worker: REDIS_URL is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()

	client, err := infra.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: redis connection failed")
	}
	defer client.Close()

	store, err := storage.Select(ctx, storage.Backend(cfg.StorageBackend), cfg.StoragePath, storage.S3Options{
		Bucket:    cfg.S3Bucket,
		Region:    cfg.S3Region,
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure storage")
	}

	jobs := repo.NewJobRepository(pool)
	credits := repo.NewCreditRepository(pool)

	w := &worker.Worker{
		Queue: queue.NewRedisQueue(client, cfg.LeaseDuration),
		Processor: &worker.Processor{
			Jobs:        jobs,
			Store:       store,
			Optimizer:   optimizer.NewRunner(cfg.OptimizerPath, cfg.OptimizerTimeout),
			Ledger:      ledger.New(credits),
			Logger:      logger,
			MaxAttempts: cfg.MaxAttempts,
			Retention:   cfg.RetentionWindow,
		},
		Logger:         logger,
		LeaseHeartbeat: cfg.LeaseDuration / 4,
	}

	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}
