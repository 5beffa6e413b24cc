package db

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgreSQL SQLSTATE codes inspected by the repositories.
const (
	CodeUniqueViolation      = "23505"
	CodeCheckViolation       = "23514"
	CodeForeignKeyViolation  = "23503"
	CodeSerializationFailure = "40001"
	CodeDeadlockDetected     = "40P01"
	CodeLockNotAvailable     = "55P03"
	CodeQueryCanceled        = "57014"
)

// PgCode returns the SQLSTATE carried by err, or "" when err is not a server error.
func PgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// ConstraintName returns the violated constraint, if any.
func ConstraintName(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName
	}
	return ""
}

// IsUniqueViolation reports unique constraint failures.
func IsUniqueViolation(err error) bool {
	return PgCode(err) == CodeUniqueViolation
}

// IsCheckViolation reports CHECK constraint failures.
func IsCheckViolation(err error) bool {
	return PgCode(err) == CodeCheckViolation
}

// IsConflict reports aborts caused by concurrent activity. Retrying the whole
// transaction is safe because the aborted attempt left no effect.
func IsConflict(err error) bool {
	switch PgCode(err) {
	case CodeSerializationFailure, CodeDeadlockDetected, CodeLockNotAvailable:
		return true
	}
	return false
}

// IsUnavailable reports infrastructure failures: lost connections, server
// shutdown, exhausted resources and timeouts.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	if pgconn.Timeout(err) {
		return true
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	code := PgCode(err)
	switch {
	case code == CodeQueryCanceled:
		return true
	case strings.HasPrefix(code, "08"), strings.HasPrefix(code, "53"), strings.HasPrefix(code, "57P"):
		return true
	}
	return false
}
