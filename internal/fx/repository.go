package fx

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository persists exchange rates.
type Repository interface {
	List(ctx context.Context) ([]ExchangeRate, error)
	Get(ctx context.Context, code string) (ExchangeRate, error)
	Upsert(ctx context.Context, rate ExchangeRate) (ExchangeRate, error)
}

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const rateColumns = `currency_code, currency_name, rate_to_base::text, last_updated_by, updated_at`

// List returns every stored rate ordered by code.
func (r *PGRepository) List(ctx context.Context) ([]ExchangeRate, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+rateColumns+` FROM exchange_rates ORDER BY currency_code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ExchangeRate
	for rows.Next() {
		rate, err := scanRate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rate)
	}
	return out, rows.Err()
}

// Get loads the rate for code.
func (r *PGRepository) Get(ctx context.Context, code string) (ExchangeRate, error) {
	rate, err := scanRate(r.pool.QueryRow(ctx, `SELECT `+rateColumns+` FROM exchange_rates WHERE currency_code = $1`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return ExchangeRate{}, &RateUnavailableError{Code: code}
	}
	return rate, err
}

// Upsert inserts or replaces the rate for rate.CurrencyCode.
func (r *PGRepository) Upsert(ctx context.Context, rate ExchangeRate) (ExchangeRate, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO exchange_rates (currency_code, currency_name, rate_to_base, last_updated_by, updated_at)
		VALUES ($1, $2, $3::numeric, $4, NOW())
		ON CONFLICT (currency_code) DO UPDATE
		SET currency_name = EXCLUDED.currency_name,
			rate_to_base = EXCLUDED.rate_to_base,
			last_updated_by = EXCLUDED.last_updated_by,
			updated_at = NOW()
		RETURNING `+rateColumns,
		rate.CurrencyCode, rate.CurrencyName, rate.RateToBase.String(), rate.LastUpdatedBy)
	out, err := scanRate(row)
	if err != nil {
		return ExchangeRate{}, fmt.Errorf("upsert exchange rate: %w", err)
	}
	return out, nil
}

func scanRate(row pgx.Row) (ExchangeRate, error) {
	var (
		rate    ExchangeRate
		raw     string
		updater *uuid.UUID
	)
	if err := row.Scan(&rate.CurrencyCode, &rate.CurrencyName, &raw, &updater, &rate.UpdatedAt); err != nil {
		return ExchangeRate{}, err
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return ExchangeRate{}, fmt.Errorf("parse rate for %s: %w", rate.CurrencyCode, err)
	}
	rate.RateToBase = value
	rate.LastUpdatedBy = updater
	return rate, nil
}

var _ Repository = (*PGRepository)(nil)
