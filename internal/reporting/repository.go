package reporting

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/okash/okash-console/internal/platform/db"
)

// Repository reads aggregates from the ledger store.
type Repository interface {
	Summary(ctx context.Context) (LedgerSummary, error)
	Mismatches(ctx context.Context) ([]Mismatch, error)
}

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Summary reads every aggregate inside one repeatable-read snapshot.
func (r *PGRepository) Summary(ctx context.Context) (LedgerSummary, error) {
	out := LedgerSummary{
		TotalByType:          map[string]int64{},
		CountByType:          map[string]int64{},
		BalanceByAccountType: map[string]int64{},
	}
	err := db.WithSnapshot(ctx, r.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `SELECT
				COALESCE(SUM(balance) FILTER (WHERE status = 'active'), 0)::bigint,
				COUNT(*) FILTER (WHERE status = 'active'),
				COUNT(*) FILTER (WHERE status = 'frozen'),
				COUNT(*) FILTER (WHERE status = 'closed'),
				NOW()
			FROM accounts`).Scan(&out.TotalBalance, &out.ActiveAccountCount, &out.FrozenAccountCount, &out.ClosedAccountCount, &out.AsOf); err != nil {
			return err
		}
		if err := collect(ctx, tx, `SELECT account_type, COALESCE(SUM(balance), 0)::bigint, COUNT(*)
			FROM accounts WHERE status = 'active' GROUP BY account_type`, out.BalanceByAccountType, nil); err != nil {
			return err
		}
		return collect(ctx, tx, `SELECT transaction_type, COALESCE(SUM(amount), 0)::bigint, COUNT(*)
			FROM transactions WHERE status = 'completed' GROUP BY transaction_type`, out.TotalByType, out.CountByType)
	})
	if err != nil {
		return LedgerSummary{}, err
	}
	out.AsOf = out.AsOf.UTC().Truncate(time.Second)
	return out, nil
}

// Mismatches lists accounts whose balance disagrees with their transactions.
func (r *PGRepository) Mismatches(ctx context.Context) ([]Mismatch, error) {
	var out []Mismatch
	err := db.WithSnapshot(ctx, r.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `WITH flows AS (
				SELECT destination_account_id AS account_id, amount AS delta
				FROM transactions WHERE status = 'completed' AND destination_account_id IS NOT NULL
				UNION ALL
				SELECT source_account_id, -amount
				FROM transactions WHERE status = 'completed' AND source_account_id IS NOT NULL
			)
			SELECT a.id, a.account_number, a.balance, COALESCE(SUM(f.delta), 0)::bigint AS expected
			FROM accounts a
			LEFT JOIN flows f ON f.account_id = a.id
			GROUP BY a.id, a.account_number, a.balance
			HAVING a.balance <> COALESCE(SUM(f.delta), 0)
			ORDER BY a.account_number`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var m Mismatch
			if err := rows.Scan(&m.AccountID, &m.AccountNumber, &m.Balance, &m.Expected); err != nil {
				return err
			}
			out = append(out, m)
		}
		return rows.Err()
	})
	return out, err
}

func collect(ctx context.Context, tx pgx.Tx, sql string, sums, counts map[string]int64) error {
	rows, err := tx.Query(ctx, sql)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			key        string
			sum, count int64
		)
		if err := rows.Scan(&key, &sum, &count); err != nil {
			return err
		}
		sums[key] = sum
		if counts != nil {
			counts[key] = count
		}
	}
	return rows.Err()
}

var _ Repository = (*PGRepository)(nil)
