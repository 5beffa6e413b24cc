package ledger

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("ledger: invalid request")
	// ErrAccountNotFound is matched by *AccountNotFoundError.
	ErrAccountNotFound = errors.New("ledger: account not found")
	// ErrAccountNotActive is matched by *AccountNotActiveError.
	ErrAccountNotActive = errors.New("ledger: account not active")
	// ErrInsufficientFunds is matched by *InsufficientFundsError.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	// ErrBalanceNotZero rejects closing an account that still holds money.
	ErrBalanceNotZero = errors.New("ledger: account balance must be zero to close")
	// ErrTransactionNotFound indicates an unknown transaction id.
	ErrTransactionNotFound = errors.New("ledger: transaction not found")
	// ErrDuplicateRequest indicates a reused idempotency key.
	ErrDuplicateRequest = errors.New("ledger: duplicate request")
	// ErrStoreConflict indicates a concurrent-modification abort. The
	// operation left no effect and may be retried as a whole.
	ErrStoreConflict = errors.New("ledger: concurrent modification")
	// ErrStoreUnavailable indicates an infrastructure failure.
	ErrStoreUnavailable = errors.New("ledger: store unavailable")
)

// ValidationError describes malformed input.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "ledger: invalid request: " + e.Reason
	}
	return fmt.Sprintf("ledger: invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// AccountNotFoundError names the reference that did not resolve.
type AccountNotFoundError struct {
	Ref string
}

func (e *AccountNotFoundError) Error() string {
	return fmt.Sprintf("ledger: account %q not found", e.Ref)
}

func (e *AccountNotFoundError) Is(target error) bool { return target == ErrAccountNotFound }

// AccountNotActiveError reports a frozen or closed account.
type AccountNotActiveError struct {
	AccountID     uuid.UUID
	AccountNumber string
	Status        AccountStatus
}

func (e *AccountNotActiveError) Error() string {
	return fmt.Sprintf("ledger: account %s is %s", e.AccountNumber, e.Status)
}

func (e *AccountNotActiveError) Is(target error) bool { return target == ErrAccountNotActive }

// InsufficientFundsError carries the balance observed under lock.
type InsufficientFundsError struct {
	AccountID     uuid.UUID
	AccountNumber string
	Balance       int64
	Requested     int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("ledger: insufficient funds in %s: balance %d, requested %d", e.AccountNumber, e.Balance, e.Requested)
}

func (e *InsufficientFundsError) Is(target error) bool { return target == ErrInsufficientFunds }

// StoreError wraps a failure raised by the store during an operation.
type StoreError struct {
	Op       string
	Conflict bool
	Err      error
}

func (e *StoreError) Error() string {
	kind := "unavailable"
	if e.Conflict {
		kind = "conflict"
	}
	return fmt.Sprintf("ledger: %s: store %s: %v", e.Op, kind, e.Err)
}

func (e *StoreError) Is(target error) bool {
	if e.Conflict {
		return target == ErrStoreConflict
	}
	return target == ErrStoreUnavailable
}

func (e *StoreError) Unwrap() error { return e.Err }

// Retryable reports whether repeating the operation is safe.
func (e *StoreError) Retryable() bool { return e.Conflict }

// IsRetryable reports whether err is a store conflict.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreConflict)
}
