package fx

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"

	"github.com/okash/okash-console/internal/rbac"
	"github.com/okash/okash-console/internal/shared"
)

// Service manages exchange rates relative to a fixed base currency.
type Service struct {
	repo     Repository
	base     currency.Unit
	audit    shared.AuditRecorder
	validate *validator.Validate
	logger   *slog.Logger
}

// NewService builds Service. baseCode must be a recognised ISO-4217 code.
func NewService(repo Repository, baseCode string, audit shared.AuditRecorder, logger *slog.Logger) (*Service, error) {
	base, err := ParseCode(baseCode)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, base: base, audit: audit, validate: validator.New(), logger: logger}, nil
}

// Base returns the base currency code.
func (s *Service) Base() string { return s.base.String() }

// ParseCode validates an ISO-4217 currency code.
func ParseCode(raw string) (currency.Unit, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if len(code) != 3 {
		return currency.Unit{}, invalidf("currency code %q must have three letters", raw)
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return currency.Unit{}, invalidf("unknown currency code %q", raw)
	}
	return unit, nil
}

// List returns all stored rates. Any authenticated employee may read them.
func (s *Service) List(ctx context.Context) ([]ExchangeRate, error) {
	return s.repo.List(ctx)
}

// Get returns the rate for code. The base currency always resolves to 1.
func (s *Service) Get(ctx context.Context, code string) (ExchangeRate, error) {
	unit, err := ParseCode(code)
	if err != nil {
		return ExchangeRate{}, err
	}
	return s.rate(ctx, unit)
}

func (s *Service) rate(ctx context.Context, unit currency.Unit) (ExchangeRate, error) {
	if unit == s.base {
		return ExchangeRate{CurrencyCode: unit.String(), CurrencyName: unit.String(), RateToBase: decimal.NewFromInt(1)}, nil
	}
	return s.repo.Get(ctx, unit.String())
}

// Upsert stores the rate for code. Gated by the manage exchange rates operation.
func (s *Service) Upsert(ctx context.Context, actor rbac.Identity, code string, in UpsertInput) (ExchangeRate, error) {
	if err := actor.Require(rbac.OpManageExchangeRates); err != nil {
		return ExchangeRate{}, err
	}
	unit, err := ParseCode(code)
	if err != nil {
		return ExchangeRate{}, err
	}
	if unit == s.base {
		return ExchangeRate{}, invalidf("the base currency %s has a fixed rate", unit)
	}
	in.CurrencyName = strings.TrimSpace(in.CurrencyName)
	if err := s.validate.Struct(in); err != nil {
		return ExchangeRate{}, invalidf("currency_name: %v", err)
	}
	if !in.RateToBase.IsPositive() {
		return ExchangeRate{}, invalidf("rate_to_base must be positive")
	}

	updater := actor.EmployeeID
	stored, err := s.repo.Upsert(ctx, ExchangeRate{
		CurrencyCode:  unit.String(),
		CurrencyName:  in.CurrencyName,
		RateToBase:    in.RateToBase,
		LastUpdatedBy: &updater,
	})
	if err != nil {
		return ExchangeRate{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(context.WithoutCancel(ctx), shared.AuditLog{
			ActorID:  actor.EmployeeID,
			Action:   "fx:upsert",
			Entity:   "exchange_rate",
			EntityID: stored.CurrencyCode,
			Meta:     map[string]any{"rate_to_base": stored.RateToBase.String()},
			At:       time.Now().UTC(),
		})
	}
	s.logger.Info("exchange rate updated",
		slog.String("currency", stored.CurrencyCode),
		slog.String("rate_to_base", stored.RateToBase.String()),
		slog.String("actor", actor.EmployeeID.String()),
	)
	return stored, nil
}

// Convert expresses amount of from in to, going through the base currency.
// A missing rate on either side yields *RateUnavailableError.
func (s *Service) Convert(ctx context.Context, amount decimal.Decimal, from, to string) (Conversion, error) {
	fromUnit, err := ParseCode(from)
	if err != nil {
		return Conversion{}, err
	}
	toUnit := s.base
	if strings.TrimSpace(to) != "" {
		if toUnit, err = ParseCode(to); err != nil {
			return Conversion{}, err
		}
	}
	if amount.IsNegative() {
		return Conversion{}, invalidf("amount must not be negative")
	}

	fromRate, err := s.rate(ctx, fromUnit)
	if err != nil {
		return Conversion{}, err
	}
	toRate, err := s.rate(ctx, toUnit)
	if err != nil {
		return Conversion{}, err
	}

	rate := fromRate.RateToBase.Div(toRate.RateToBase)
	result := amount.Mul(fromRate.RateToBase).Div(toRate.RateToBase)
	scale, _ := currency.Standard.Rounding(toUnit)
	return Conversion{
		From:    fromUnit.String(),
		To:      toUnit.String(),
		Amount:  amount,
		Rate:    rate,
		Result:  result,
		Rounded: result.Round(int32(scale)),
	}, nil
}
