package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"server/internal/adapter/repo"
	"server/internal/http/handlers"
	httpapi "server/internal/http/httpapi"
	"server/internal/infra"
	"server/internal/ledger"
	"server/internal/optimizer"
	"server/internal/queue"
	"server/internal/service"
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

	ctx := context.Background()
	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	store, err := storage.Select(ctx, storage.Backend(cfg.StorageBackend), cfg.StoragePath, storage.S3Options{
		Bucket:    cfg.S3Bucket,
		Region:    cfg.S3Region,
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure storage")
	}

	jobs := repo.NewJobRepository(dbpool)
	credits := repo.NewCreditRepository(dbpool)
	creditLedger := ledger.New(credits)

	// Without a broker the API runs jobs synchronously in-process.
	var jobQueue queue.Queue
	if cfg.RedisURL != "" {
		client, err := infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect redis")
		}
		defer client.Close()
		jobQueue = queue.NewRedisQueue(client, cfg.LeaseDuration)
	} else {
		logger.Warn().Msg("REDIS_URL not set, running optimizations synchronously")
	}

	processor := &worker.Processor{
		Jobs:        jobs,
		Store:       store,
		Optimizer:   optimizer.NewRunner(cfg.OptimizerPath, cfg.OptimizerTimeout),
		Ledger:      creditLedger,
		Logger:      logger,
		MaxAttempts: cfg.MaxAttempts,
		Retention:   cfg.RetentionWindow,
	}

	svc := service.New(service.Options{
		Jobs:      jobs,
		Ledger:    creditLedger,
		Store:     store,
		Queue:     jobQueue,
		Processor: processor,
		Logger:    logger,
		LinkTTL:   cfg.DownloadLinkTTL,
	})

	app := &handlers.App{
		Service:        svc,
		Ledger:         creditLedger,
		Jobs:           jobs,
		Store:          store,
		Logger:         logger,
		JWTSecret:      cfg.JWTSecret,
		MaxUploadBytes: cfg.MaxUploadBytes,
	}

	router := httpapi.NewRouter(app, httpapi.Options{
		JWTSecret:       cfg.JWTSecret,
		RateLimitPerMin: cfg.RateLimitPerMin,
		AllowedOrigins:  splitOrigins(os.Getenv("CORS_ALLOWED_ORIGINS")),
	})

	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}

func splitOrigins(raw string) []string {
	var origins []string
	for _, part := range strings.Split(raw, ",") {
		if origin := strings.TrimSpace(part); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}
