package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/okash/okash-console/internal/jobs"
	"github.com/okash/okash-console/internal/reporting"
)

// IntegrityChecker lists accounts whose balance disagrees with their history.
type IntegrityChecker interface {
	CheckIntegrity(ctx context.Context) ([]reporting.Mismatch, error)
}

// IntegrityCheckJob verifies that every balance equals the net of its
// completed transactions. Mismatches are reported, never repaired.
type IntegrityCheckJob struct {
	Checker IntegrityChecker
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewIntegrityCheckJob constructs the job handler.
func NewIntegrityCheckJob(checker IntegrityChecker, logger *slog.Logger, metrics *jobmetrics.Metrics) *IntegrityCheckJob {
	return &IntegrityCheckJob{Checker: checker, Logger: logger, Metrics: metrics}
}

// Handle executes the check.
func (j *IntegrityCheckJob) Handle(ctx context.Context, _ *asynq.Task) (err error) {
	if j == nil || j.Checker == nil {
		return errors.New("integrity check: handler not configured")
	}
	start := time.Now()
	tracker := j.Metrics.Track(TaskLedgerIntegrityCheck)
	defer func() { err = tracker.End(err) }()

	logger := jobLogger(j.Logger, TaskLedgerIntegrityCheck)
	mismatches, err := j.Checker.CheckIntegrity(ctx)
	if err != nil {
		logger.Error("integrity check failed", slog.Any("error", err))
		return err
	}
	for _, m := range mismatches {
		logger.Warn("ledger balance mismatch",
			slog.String("account_id", m.AccountID.String()),
			slog.String("account_number", m.AccountNumber),
			slog.Int64("balance", m.Balance),
			slog.Int64("expected", m.Expected),
		)
	}
	j.Metrics.ObserveIntegrity(len(mismatches))
	logger.Info("completed integrity check",
		slog.Int("mismatches", len(mismatches)),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}
