// Package fx maintains exchange rates against the base currency and converts
// amounts between currencies.
package fx

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ExchangeRate expresses one unit of CurrencyCode in the base currency.
type ExchangeRate struct {
	CurrencyCode  string          `json:"currency_code"`
	CurrencyName  string          `json:"currency_name"`
	RateToBase    decimal.Decimal `json:"rate_to_base"`
	LastUpdatedBy *uuid.UUID      `json:"last_updated_by,omitempty"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// UpsertInput replaces the rate of one currency.
type UpsertInput struct {
	CurrencyName string          `json:"currency_name" validate:"required,max=64"`
	RateToBase   decimal.Decimal `json:"rate_to_base"`
}

// Conversion is the result of Convert. Rounded is expressed in the target
// currency's standard minor-unit scale.
type Conversion struct {
	From    string          `json:"from"`
	To      string          `json:"to"`
	Amount  decimal.Decimal `json:"amount"`
	Rate    decimal.Decimal `json:"rate"`
	Result  decimal.Decimal `json:"result"`
	Rounded decimal.Decimal `json:"rounded"`
}

var (
	// ErrRateUnavailable is matched by *RateUnavailableError.
	ErrRateUnavailable = errors.New("fx: rate unavailable")
	// ErrInvalidInput rejects malformed codes, names and rates.
	ErrInvalidInput = errors.New("fx: invalid input")
)

// RateUnavailableError names the currency without a stored rate.
type RateUnavailableError struct {
	Code string
}

func (e *RateUnavailableError) Error() string {
	return fmt.Sprintf("fx: no exchange rate for %s", e.Code)
}

func (e *RateUnavailableError) Is(target error) bool { return target == ErrRateUnavailable }

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
