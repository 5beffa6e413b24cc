package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/okash/okash-console/internal/platform/db"
	"github.com/okash/okash-console/internal/shared"
)

// Repository abstracts ledger persistence for the services.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetAccount(ctx context.Context, id uuid.UUID) (Account, error)
	GetAccountByNumber(ctx context.Context, number string) (Account, error)
	ListAccounts(ctx context.Context, filter AccountFilter) ([]Account, int, error)
	GetTransaction(ctx context.Context, id uuid.UUID) (Transaction, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, int, error)
}

// TxRepository exposes the operations available inside one store
// transaction. Debit and Credit exist only here so every balance change
// shares a transaction with its Transaction record.
type TxRepository interface {
	ClaimRequestKey(ctx context.Context, scope, key string) error
	ResolveAccountID(ctx context.Context, ref string) (uuid.UUID, error)
	LockAccounts(ctx context.Context, ids ...uuid.UUID) (map[uuid.UUID]Account, error)
	Debit(ctx context.Context, id uuid.UUID, amount int64) (int64, error)
	Credit(ctx context.Context, id uuid.UUID, amount int64) (int64, error)
	InsertTransaction(ctx context.Context, tx Transaction) (Transaction, error)
	InsertAccount(ctx context.Context, account Account) (Account, error)
	SetStatus(ctx context.Context, id uuid.UUID, status AccountStatus) (Account, error)
	UpdateProfile(ctx context.Context, id uuid.UUID, profile CustomerProfile) (Account, error)
}

var (
	// errDebitRefused is returned when the conditional debit matched no row.
	errDebitRefused = errors.New("ledger: debit refused by store")
	// errCreditRefused is returned when the destination stopped being active.
	errCreditRefused = errors.New("ledger: credit refused by store")
	// errAccountNumberTaken signals a generated number collision.
	errAccountNumberTaken = errors.New("ledger: account number taken")
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const accountColumns = `id, account_number, account_type, balance, status, name, phone, email, mother_name,
	birthdate, gender, nationality, id_type, id_number, address, business_name, business_registration,
	business_address, created_by, created_at, updated_at, closed_at`

const transactionColumns = `id, transaction_type, amount, source_account_id, destination_account_id,
	external_account, method, note, performed_by, status, rejection_reason, created_at`

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// WithTx runs fn inside a read-committed transaction. Accounts are locked
// with SELECT ... FOR UPDATE so concurrent writers re-read committed balances.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{q: tx})
	})
}

// GetAccount loads an account by id.
func (r *PGRepository) GetAccount(ctx context.Context, id uuid.UUID) (Account, error) {
	return getAccount(ctx, r.pool, "id = $1", id.String(), id)
}

// GetAccountByNumber loads an account by its public number.
func (r *PGRepository) GetAccountByNumber(ctx context.Context, number string) (Account, error) {
	return getAccount(ctx, r.pool, "account_number = $1", number, number)
}

// ListAccounts returns a page of accounts and the total match count.
func (r *PGRepository) ListAccounts(ctx context.Context, filter AccountFilter) ([]Account, int, error) {
	var (
		where []string
		args  []any
	)
	if q := strings.TrimSpace(filter.Query); q != "" {
		args = append(args, "%"+strings.ToLower(q)+"%")
		where = append(where, fmt.Sprintf("(lower(name) LIKE $%d OR account_number LIKE $%d OR phone LIKE $%d)", len(args), len(args), len(args)))
	}
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		where = append(where, fmt.Sprintf("account_type = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	pg := shared.NewPagination(filter.Page, filter.PerPage, 0)
	sql := `SELECT ` + accountColumns + `, COUNT(*) OVER() FROM accounts`
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, pg.PerPage, shared.Offset(pg.Page, pg.PerPage))
	sql += fmt.Sprintf(" ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var (
		accounts []Account
		total    int
	)
	for rows.Next() {
		var a Account
		dest := append(accountScanTargets(&a), &total)
		if err := rows.Scan(dest...); err != nil {
			return nil, 0, err
		}
		accounts = append(accounts, a)
	}
	return accounts, total, rows.Err()
}

// GetTransaction loads one transaction.
func (r *PGRepository) GetTransaction(ctx context.Context, id uuid.UUID) (Transaction, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	var t Transaction
	if err := row.Scan(transactionScanTargets(&t)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrTransactionNotFound
		}
		return Transaction{}, err
	}
	return t, nil
}

// ListTransactions returns a page of transactions, newest first.
func (r *PGRepository) ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, int, error) {
	var (
		where []string
		args  []any
	)
	if filter.AccountID != nil {
		args = append(args, *filter.AccountID)
		where = append(where, fmt.Sprintf("(source_account_id = $%d OR destination_account_id = $%d)", len(args), len(args)))
	}
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		where = append(where, fmt.Sprintf("transaction_type = $%d", len(args)))
	}
	pg := shared.NewPagination(filter.Page, filter.PerPage, 0)
	sql := `SELECT ` + transactionColumns + `, COUNT(*) OVER() FROM transactions`
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, pg.PerPage, shared.Offset(pg.Page, pg.PerPage))
	sql += fmt.Sprintf(" ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var (
		txs   []Transaction
		total int
	)
	for rows.Next() {
		var t Transaction
		dest := append(transactionScanTargets(&t), &total)
		if err := rows.Scan(dest...); err != nil {
			return nil, 0, err
		}
		txs = append(txs, t)
	}
	return txs, total, rows.Err()
}

type txRepo struct {
	q querier
}

// ClaimRequestKey inserts the key in the same transaction as the movement it
// guards. A concurrent claim of the same key blocks until this one resolves.
func (r *txRepo) ClaimRequestKey(ctx context.Context, scope, key string) error {
	return shared.NewIdempotencyStore(r.q).Claim(ctx, scope, key)
}

func (r *txRepo) ResolveAccountID(ctx context.Context, ref string) (uuid.UUID, error) {
	ref = strings.TrimSpace(ref)
	var (
		row pgx.Row
		id  uuid.UUID
	)
	if parsed, err := uuid.Parse(ref); err == nil {
		row = r.q.QueryRow(ctx, `SELECT id FROM accounts WHERE id = $1`, parsed)
	} else {
		row = r.q.QueryRow(ctx, `SELECT id FROM accounts WHERE account_number = $1`, ref)
	}
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, &AccountNotFoundError{Ref: ref}
		}
		return uuid.Nil, err
	}
	return id, nil
}

func (r *txRepo) LockAccounts(ctx context.Context, ids ...uuid.UUID) (map[uuid.UUID]Account, error) {
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, id.String())
	}
	rows, err := r.q.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ANY($1::uuid[]) ORDER BY id FOR UPDATE`, keys)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	locked := make(map[uuid.UUID]Account, len(ids))
	for rows.Next() {
		var a Account
		if err := rows.Scan(accountScanTargets(&a)...); err != nil {
			return nil, err
		}
		locked[a.ID] = a
	}
	return locked, rows.Err()
}

func (r *txRepo) Debit(ctx context.Context, id uuid.UUID, amount int64) (int64, error) {
	var balance int64
	err := r.q.QueryRow(ctx, `UPDATE accounts SET balance = balance - $2, updated_at = NOW()
		WHERE id = $1 AND status = 'active' AND balance >= $2
		RETURNING balance`, id, amount).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, errDebitRefused
		}
		return 0, fmt.Errorf("debit %s: %w", id, err)
	}
	return balance, nil
}

func (r *txRepo) Credit(ctx context.Context, id uuid.UUID, amount int64) (int64, error) {
	var balance int64
	err := r.q.QueryRow(ctx, `UPDATE accounts SET balance = balance + $2, updated_at = NOW()
		WHERE id = $1 AND status = 'active'
		RETURNING balance`, id, amount).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, errCreditRefused
		}
		return 0, fmt.Errorf("credit %s: %w", id, err)
	}
	return balance, nil
}

func (r *txRepo) InsertTransaction(ctx context.Context, t Transaction) (Transaction, error) {
	err := r.q.QueryRow(ctx, `INSERT INTO transactions (id, transaction_type, amount, source_account_id,
		destination_account_id, external_account, method, note, performed_by, status, rejection_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at`,
		t.ID, string(t.Type), t.Amount, t.SourceAccountID, t.DestinationAccountID, t.ExternalAccount,
		string(t.Method), t.Note, t.PerformedBy, string(t.Status), t.RejectionReason,
	).Scan(&t.CreatedAt)
	if err != nil {
		return Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}
	return t, nil
}

func (r *txRepo) InsertAccount(ctx context.Context, a Account) (Account, error) {
	p := a.Profile
	row := r.q.QueryRow(ctx, `INSERT INTO accounts (id, account_number, account_type, balance, status, name, phone,
		email, mother_name, birthdate, gender, nationality, id_type, id_number, address, business_name,
		business_registration, business_address, created_by)
		VALUES ($1, $2, $3, 0, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING `+accountColumns,
		a.ID, a.AccountNumber, string(a.Type), string(a.Status), p.Name, p.Phone, p.Email, p.MotherName,
		p.Birthdate, p.Gender, p.Nationality, p.IDType, p.IDNumber, p.Address, p.BusinessName,
		p.BusinessRegistration, p.BusinessAddress, a.CreatedBy,
	)
	var out Account
	if err := row.Scan(accountScanTargets(&out)...); err != nil {
		if db.IsUniqueViolation(err) && db.ConstraintName(err) == "accounts_account_number_key" {
			return Account{}, errAccountNumberTaken
		}
		return Account{}, fmt.Errorf("insert account: %w", err)
	}
	return out, nil
}

func (r *txRepo) SetStatus(ctx context.Context, id uuid.UUID, status AccountStatus) (Account, error) {
	row := r.q.QueryRow(ctx, `UPDATE accounts SET status = $2, updated_at = NOW(),
		closed_at = CASE WHEN $2 = 'closed' THEN NOW() ELSE closed_at END
		WHERE id = $1
		RETURNING `+accountColumns, id, string(status))
	var out Account
	if err := row.Scan(accountScanTargets(&out)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, &AccountNotFoundError{Ref: id.String()}
		}
		if db.IsCheckViolation(err) {
			return Account{}, &ValidationError{Field: "balance", Reason: "account balance must be zero to close", Err: ErrBalanceNotZero}
		}
		return Account{}, fmt.Errorf("set status: %w", err)
	}
	return out, nil
}

func (r *txRepo) UpdateProfile(ctx context.Context, id uuid.UUID, p CustomerProfile) (Account, error) {
	row := r.q.QueryRow(ctx, `UPDATE accounts SET name = $2, phone = $3, email = $4, address = $5,
		id_type = $6, id_number = $7, nationality = $8, updated_at = NOW()
		WHERE id = $1
		RETURNING `+accountColumns, id, p.Name, p.Phone, p.Email, p.Address, p.IDType, p.IDNumber, p.Nationality)
	var out Account
	if err := row.Scan(accountScanTargets(&out)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, &AccountNotFoundError{Ref: id.String()}
		}
		return Account{}, fmt.Errorf("update profile: %w", err)
	}
	return out, nil
}

func getAccount(ctx context.Context, q querier, cond, ref string, arg any) (Account, error) {
	row := q.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE `+cond, arg)
	var a Account
	if err := row.Scan(accountScanTargets(&a)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, &AccountNotFoundError{Ref: ref}
		}
		return Account{}, err
	}
	return a, nil
}

func accountScanTargets(a *Account) []any {
	p := &a.Profile
	return []any{
		&a.ID, &a.AccountNumber, &a.Type, &a.Balance, &a.Status, &p.Name, &p.Phone, &p.Email, &p.MotherName,
		&p.Birthdate, &p.Gender, &p.Nationality, &p.IDType, &p.IDNumber, &p.Address, &p.BusinessName,
		&p.BusinessRegistration, &p.BusinessAddress, &a.CreatedBy, &a.CreatedAt, &a.UpdatedAt, &a.ClosedAt,
	}
}

func transactionScanTargets(t *Transaction) []any {
	return []any{
		&t.ID, &t.Type, &t.Amount, &t.SourceAccountID, &t.DestinationAccountID,
		&t.ExternalAccount, &t.Method, &t.Note, &t.PerformedBy, &t.Status, &t.RejectionReason, &t.CreatedAt,
	}
}

var _ Repository = (*PGRepository)(nil)
