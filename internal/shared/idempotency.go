package shared

import (
	"context"
	"errors"
	"time"

	"github.com/okash/okash-console/internal/platform/db"
)

// ErrIdempotencyConflict indicates a duplicate key.
var ErrIdempotencyConflict = errors.New("idempotent request already processed")

// IdempotencyStore persists processed request keys per scope.
type IdempotencyStore struct {
	db Execer
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(db Execer) *IdempotencyStore {
	return &IdempotencyStore{db: db}
}

// Claim records key under scope, failing with ErrIdempotencyConflict when it
// was already claimed.
func (s *IdempotencyStore) Claim(ctx context.Context, scope, key string) error {
	if s == nil || s.db == nil {
		return errors.New("idempotency store not initialised")
	}
	if key == "" {
		return errors.New("idempotency key required")
	}
	if scope == "" {
		return errors.New("idempotency scope required")
	}
	_, err := s.db.Exec(ctx, `INSERT INTO idempotency_keys (scope, key, created_at) VALUES ($1, $2, $3)`, scope, key, time.Now().UTC())
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ErrIdempotencyConflict
		}
		return err
	}
	return nil
}

// Cleanup removes entries older than retention and reports how many were deleted.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	cutoff := time.Now().UTC().Add(-olderThan)
	tag, err := s.db.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
