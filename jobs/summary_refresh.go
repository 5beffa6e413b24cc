package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/okash/okash-console/internal/jobs"
	"github.com/okash/okash-console/internal/reporting"
)

// SummaryRefresher rebuilds the cached ledger summary.
type SummaryRefresher interface {
	Refresh(ctx context.Context) (reporting.LedgerSummary, error)
}

// SummaryRefreshJob keeps the dashboard cache warm.
type SummaryRefreshJob struct {
	Refresher SummaryRefresher
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewSummaryRefreshJob constructs the job handler.
func NewSummaryRefreshJob(refresher SummaryRefresher, logger *slog.Logger, metrics *jobmetrics.Metrics) *SummaryRefreshJob {
	return &SummaryRefreshJob{Refresher: refresher, Logger: logger, Metrics: metrics}
}

// Handle executes the refresh.
func (j *SummaryRefreshJob) Handle(ctx context.Context, _ *asynq.Task) (err error) {
	if j == nil || j.Refresher == nil {
		return errors.New("summary refresh: handler not configured")
	}
	tracker := j.Metrics.Track(TaskLedgerSummaryRefresh)
	defer func() { err = tracker.End(err) }()

	logger := jobLogger(j.Logger, TaskLedgerSummaryRefresh)
	summary, err := j.Refresher.Refresh(ctx)
	if err != nil {
		logger.Error("summary refresh failed", slog.Any("error", err))
		return err
	}
	logger.Info("summary refreshed",
		slog.Int64("total_balance", summary.TotalBalance),
		slog.Int64("active_accounts", summary.ActiveAccountCount),
	)
	return nil
}

func jobLogger(logger *slog.Logger, job string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(slog.String("job", job))
}
