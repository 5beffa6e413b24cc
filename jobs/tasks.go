package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerSummaryRefresh invalidates and rebuilds the cached ledger summary.
	TaskLedgerSummaryRefresh = "ledger:summary_refresh"
	// TaskLedgerIntegrityCheck compares balances against completed transactions.
	TaskLedgerIntegrityCheck = "ledger:integrity_check"
	// TaskIdempotencyCleanup removes expired idempotency keys.
	TaskIdempotencyCleanup = "ledger:idempotency_cleanup"
)

// IdempotencyCleanupPayload configures the retention window of the cleanup job.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewSummaryRefreshTask builds the summary refresh task.
func NewSummaryRefreshTask() *asynq.Task {
	return asynq.NewTask(TaskLedgerSummaryRefresh, nil, asynq.Queue(QueueDefault))
}

// NewIntegrityCheckTask builds the integrity check task.
func NewIntegrityCheckTask() *asynq.Task {
	return asynq.NewTask(TaskLedgerIntegrityCheck, nil, asynq.Queue(QueueDefault))
}

// NewIdempotencyCleanupTask builds the cleanup task for keys older than retention.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	hours := int(retention / time.Hour)
	if hours <= 0 {
		hours = 24
	}
	body, err := json.Marshal(IdempotencyCleanupPayload{RetentionHours: hours})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
