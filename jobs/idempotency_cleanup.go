package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/okash/okash-console/internal/jobs"
)

// KeyCleaner deletes idempotency keys older than a retention window.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// IdempotencyCleanupJob prunes claimed request keys.
type IdempotencyCleanupJob struct {
	Store   KeyCleaner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewIdempotencyCleanupJob constructs the job handler.
func NewIdempotencyCleanupJob(store KeyCleaner, logger *slog.Logger, metrics *jobmetrics.Metrics) *IdempotencyCleanupJob {
	return &IdempotencyCleanupJob{Store: store, Logger: logger, Metrics: metrics}
}

// Handle executes the cleanup.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Store == nil {
		return errors.New("idempotency cleanup: handler not configured")
	}
	var payload IdempotencyCleanupPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("idempotency cleanup payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	if payload.RetentionHours <= 0 {
		payload.RetentionHours = 24
	}
	tracker := j.Metrics.Track(TaskIdempotencyCleanup)
	defer func() { err = tracker.End(err) }()

	logger := jobLogger(j.Logger, TaskIdempotencyCleanup)
	removed, err := j.Store.Cleanup(ctx, time.Duration(payload.RetentionHours)*time.Hour)
	if err != nil {
		logger.Error("idempotency cleanup failed", slog.Any("error", err))
		return err
	}
	j.Metrics.AddCleanedKeys(removed)
	logger.Info("idempotency keys removed",
		slog.Int64("removed", removed),
		slog.Int("retention_hours", payload.RetentionHours),
	)
	return nil
}
