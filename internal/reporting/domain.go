// Package reporting builds read-only views over committed ledger state.
package reporting

import (
	"time"

	"github.com/google/uuid"

	"github.com/okash/okash-console/internal/fx"
)

// LedgerSummary aggregates one consistent snapshot of the ledger. Amounts
// are minor units of the base currency.
type LedgerSummary struct {
	TotalBalance         int64            `json:"total_balance"`
	TotalByType          map[string]int64 `json:"total_by_type"`
	CountByType          map[string]int64 `json:"count_by_type"`
	BalanceByAccountType map[string]int64 `json:"balance_by_account_type"`
	ActiveAccountCount   int64            `json:"active_account_count"`
	FrozenAccountCount   int64            `json:"frozen_account_count"`
	ClosedAccountCount   int64            `json:"closed_account_count"`
	AsOf                 time.Time        `json:"as_of"`
}

// Dashboard is the landing view for every employee.
type Dashboard struct {
	BaseCurrency string            `json:"base_currency"`
	Summary      LedgerSummary     `json:"summary"`
	Rates        []fx.ExchangeRate `json:"rates"`
	RatesError   string            `json:"rates_error,omitempty"`
}

// Mismatch reports an account whose stored balance differs from the net of
// its completed transactions.
type Mismatch struct {
	AccountID     uuid.UUID `json:"account_id"`
	AccountNumber string    `json:"account_number"`
	Balance       int64     `json:"balance"`
	Expected      int64     `json:"expected"`
}
