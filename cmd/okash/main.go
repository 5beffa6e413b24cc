package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/okash/okash-console/internal/app"
	"github.com/okash/okash-console/internal/auth"
	"github.com/okash/okash-console/internal/fx"
	"github.com/okash/okash-console/internal/ledger"
	"github.com/okash/okash-console/internal/observability"
	"github.com/okash/okash-console/internal/platform/cache"
	"github.com/okash/okash-console/internal/platform/db"
	"github.com/okash/okash-console/internal/rbac"
	"github.com/okash/okash-console/internal/reporting"
	"github.com/okash/okash-console/internal/shared"
	"github.com/okash/okash-console/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping server startup")
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
	slog.SetDefault(logger)

	if err := run(ctx, stop, cfg, logger); err != nil {
		logger.Error("okash console stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, stop context.CancelFunc, cfg *app.Config, logger *slog.Logger) error {
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

	sessionManager := shared.NewSessionManager(redisClient, "okash_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)
	auditLogger := shared.NewAuditLogger(pool)
	metrics := observability.NewMetrics()

	authService := auth.NewService(auth.NewRepository(pool), logger)
	authHandler := auth.NewHandler(logger, authService, sessionManager, csrfManager)
	rbacMiddleware := rbac.Middleware{Resolver: authService, Logger: logger}

	fxService, err := fx.NewService(fx.NewRepository(pool), cfg.BaseCurrency, auditLogger, logger)
	if err != nil {
		return err
	}

	summaryCache := reporting.NewCache(redisClient, cfg.SummaryCacheTTL)
	if err := summaryCache.ListenForInvalidation(ctx, reporting.BumpChannel); err != nil {
		logger.Warn("cache invalidation listener", slog.Any("error", err))
	}
	reportingService := reporting.NewService(reporting.NewRepository(pool), summaryCache, fxService, logger)

	ledgerRepo := ledger.NewRepository(pool)
	accountService := ledger.NewAccountService(ledgerRepo, ledger.ServiceConfig{
		Audit:       auditLogger,
		Invalidator: reportingService,
		Logger:      logger,
	})
	engine := ledger.NewEngine(ledgerRepo, ledger.EngineConfig{
		Audit:       auditLogger,
		Metrics:     metrics.Ledger,
		Invalidator: reportingService,
		Logger:      logger,
	})

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		SessionManager:     sessionManager,
		CSRFManager:        csrfManager,
		RBACMiddleware:     rbacMiddleware,
		AuthHandler:        authHandler,
		LedgerHandler:      ledger.NewHandler(accountService, engine, cfg.LedgerConflictRetries, logger),
		FXHandler:          fx.NewHandler(fxService, logger),
		ReportingHandler:   reporting.NewHandler(reportingService, logger),
		PermissionsHandler: rbac.NewPermissionsHandler(),
		JobHandler:         jobs.NewHandler(inspector, jobClient, logger),
		Metrics:            metrics,
		Database:           pool,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
