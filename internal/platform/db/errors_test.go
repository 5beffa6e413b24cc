package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestClassifyPgErrors(t *testing.T) {
	wrap := func(code string) error {
		return fmt.Errorf("ledger: debit: %w", &pgconn.PgError{Code: code, ConstraintName: "accounts_balance_check"})
	}

	assert.True(t, IsConflict(wrap(CodeSerializationFailure)))
	assert.True(t, IsConflict(wrap(CodeDeadlockDetected)))
	assert.True(t, IsConflict(wrap(CodeLockNotAvailable)))
	assert.False(t, IsConflict(wrap(CodeUniqueViolation)))

	assert.True(t, IsUniqueViolation(wrap(CodeUniqueViolation)))
	assert.True(t, IsCheckViolation(wrap(CodeCheckViolation)))
	assert.Equal(t, "accounts_balance_check", ConstraintName(wrap(CodeCheckViolation)))

	assert.True(t, IsUnavailable(wrap("08006")))
	assert.True(t, IsUnavailable(wrap("57P01")))
	assert.True(t, IsUnavailable(wrap("53300")))
	assert.False(t, IsUnavailable(wrap(CodeCheckViolation)))
}

func TestUnavailableOnContextErrors(t *testing.T) {
	assert.True(t, IsUnavailable(fmt.Errorf("query: %w", context.DeadlineExceeded)))
	assert.True(t, IsUnavailable(context.Canceled))
	assert.False(t, IsUnavailable(nil))
	assert.False(t, IsUnavailable(errors.New("boom")))
	assert.Equal(t, "", PgCode(errors.New("boom")))
}
