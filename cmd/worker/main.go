package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/okash/okash-console/internal/app"
	"github.com/okash/okash-console/internal/fx"
	jobmetrics "github.com/okash/okash-console/internal/jobs"
	"github.com/okash/okash-console/internal/platform/cache"
	"github.com/okash/okash-console/internal/platform/db"
	"github.com/okash/okash-console/internal/reporting"
	"github.com/okash/okash-console/internal/shared"
	"github.com/okash/okash-console/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Default().Warn("load .env", slog.Any("error", err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr})
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	fxService, err := fx.NewService(fx.NewRepository(pool), cfg.BaseCurrency, nil, logger)
	if err != nil {
		return err
	}
	reportingService := reporting.NewService(
		reporting.NewRepository(pool),
		reporting.NewCache(redisClient, cfg.SummaryCacheTTL),
		fxService,
		logger,
	)
	metrics := jobmetrics.NewMetrics(nil)

	refreshJob := jobs.NewSummaryRefreshJob(reportingService, logger, metrics)
	integrityJob := jobs.NewIntegrityCheckJob(reportingService, logger, metrics)
	cleanupJob := jobs.NewIdempotencyCleanupJob(shared.NewIdempotencyStore(pool), logger, metrics)

	cleanupTask, err := jobs.NewIdempotencyCleanupTask(cfg.IdempotencyRetention)
	if err != nil {
		return err
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Concurrency: cfg.WorkerConcurrency,
		Logger:      logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskLedgerSummaryRefresh, Handler: refreshJob.Handle},
			{Type: jobs.TaskLedgerIntegrityCheck, Handler: integrityJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "*/5 * * * *", Task: jobs.NewSummaryRefreshTask(), Options: []asynq.Option{asynq.MaxRetry(1)}},
			{Spec: "30 1 * * *", Task: jobs.NewIntegrityCheckTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "0 3 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		return err
	}
	return worker.Run(ctx)
}
