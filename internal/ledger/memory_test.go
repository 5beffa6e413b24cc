package ledger

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/okash/okash-console/internal/platform/db"
	"github.com/okash/okash-console/internal/rbac"
	"github.com/okash/okash-console/internal/shared"
)

// memoryRepo is an in-memory Repository with row locks and staged writes so
// aborted transactions leave no trace.
type memoryRepo struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]Account
	txs      []Transaction
	rowLocks map[uuid.UUID]*sync.Mutex
	keys     map[string]bool
	clock    time.Time

	conflicts   int
	unavailable error
	failCredit  error
	commits     int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		accounts: make(map[uuid.UUID]Account),
		rowLocks: make(map[uuid.UUID]*sync.Mutex),
		keys:     make(map[string]bool),
		clock:    time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC),
	}
}

func (m *memoryRepo) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

// seed stores an account directly, bypassing the service.
func (m *memoryRepo) seed(number string, t AccountType, status AccountStatus, balance int64) Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.tick()
	a := Account{
		ID:            uuid.New(),
		AccountNumber: number,
		Type:          t,
		Balance:       balance,
		Status:        status,
		Profile:       CustomerProfile{Name: "Holder " + number},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	m.accounts[a.ID] = a
	m.rowLocks[a.ID] = &sync.Mutex{}
	return a
}

func (m *memoryRepo) balance(id uuid.UUID) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accounts[id].Balance
}

func (m *memoryRepo) account(id uuid.UUID) Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accounts[id]
}

func (m *memoryRepo) transactionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.txs)
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	if m.unavailable != nil {
		err := m.unavailable
		m.mu.Unlock()
		return err
	}
	if m.conflicts > 0 {
		m.conflicts--
		m.mu.Unlock()
		return &pgconn.PgError{Code: db.CodeSerializationFailure, Message: "could not serialize access"}
	}
	m.mu.Unlock()

	tx := &memoryTx{repo: m, staged: make(map[uuid.UUID]Account), held: make(map[uuid.UUID]*sync.Mutex)}
	defer tx.release()
	if err := fn(ctx, tx); err != nil {
		tx.rollbackKeys()
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, a := range tx.staged {
		if _, exists := m.rowLocks[id]; !exists {
			m.rowLocks[id] = &sync.Mutex{}
		}
		m.accounts[id] = a
	}
	m.txs = append(m.txs, tx.inserted...)
	m.commits++
	return nil
}

func (m *memoryRepo) keyClaimed(scope, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keys[scope+"/"+key]
}

func (m *memoryRepo) GetAccount(_ context.Context, id uuid.UUID) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return Account{}, &AccountNotFoundError{Ref: id.String()}
	}
	return a, nil
}

func (m *memoryRepo) GetAccountByNumber(_ context.Context, number string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.AccountNumber == number {
			return a, nil
		}
	}
	return Account{}, &AccountNotFoundError{Ref: number}
}

func (m *memoryRepo) ListAccounts(_ context.Context, filter AccountFilter) ([]Account, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := strings.ToLower(strings.TrimSpace(filter.Query))
	var matched []Account
	for _, a := range m.accounts {
		if q != "" && !strings.Contains(strings.ToLower(a.Profile.Name), q) &&
			!strings.Contains(a.AccountNumber, q) && !strings.Contains(a.Profile.Phone, q) {
			continue
		}
		if filter.Type != "" && a.Type != filter.Type {
			continue
		}
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		matched = append(matched, a)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	return page(matched, filter.Page, filter.PerPage), len(matched), nil
}

func (m *memoryRepo) GetTransaction(_ context.Context, id uuid.UUID) (Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.txs {
		if t.ID == id {
			return t, nil
		}
	}
	return Transaction{}, ErrTransactionNotFound
}

func (m *memoryRepo) ListTransactions(_ context.Context, filter TransactionFilter) ([]Transaction, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []Transaction
	for i := len(m.txs) - 1; i >= 0; i-- {
		t := m.txs[i]
		if filter.AccountID != nil && !touches(t, *filter.AccountID) {
			continue
		}
		if filter.Type != "" && t.Type != filter.Type {
			continue
		}
		matched = append(matched, t)
	}
	return page(matched, filter.Page, filter.PerPage), len(matched), nil
}

func touches(t Transaction, id uuid.UUID) bool {
	return (t.SourceAccountID != nil && *t.SourceAccountID == id) ||
		(t.DestinationAccountID != nil && *t.DestinationAccountID == id)
}

func page[T any](items []T, p, perPage int) []T {
	pg := shared.NewPagination(p, perPage, len(items))
	start := shared.Offset(pg.Page, pg.PerPage)
	if start >= len(items) {
		return nil
	}
	end := start + pg.PerPage
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

type memoryTx struct {
	repo     *memoryRepo
	staged   map[uuid.UUID]Account
	held     map[uuid.UUID]*sync.Mutex
	inserted []Transaction
	claimed  []string
}

// ClaimRequestKey reserves the key immediately, as a pending unique row
// would, and frees it again if the transaction rolls back.
func (t *memoryTx) ClaimRequestKey(_ context.Context, scope, key string) error {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	k := scope + "/" + key
	if t.repo.keys[k] {
		return shared.ErrIdempotencyConflict
	}
	t.repo.keys[k] = true
	t.claimed = append(t.claimed, k)
	return nil
}

func (t *memoryTx) rollbackKeys() {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	for _, k := range t.claimed {
		delete(t.repo.keys, k)
	}
}

func (t *memoryTx) release() {
	for _, l := range t.held {
		l.Unlock()
	}
}

func (t *memoryTx) lock(id uuid.UUID) (Account, bool) {
	if a, ok := t.staged[id]; ok {
		return a, true
	}
	t.repo.mu.Lock()
	l, ok := t.repo.rowLocks[id]
	t.repo.mu.Unlock()
	if !ok {
		return Account{}, false
	}
	l.Lock()
	t.held[id] = l

	t.repo.mu.Lock()
	a := t.repo.accounts[id]
	t.repo.mu.Unlock()
	t.staged[id] = a
	return a, true
}

func (t *memoryTx) ResolveAccountID(_ context.Context, ref string) (uuid.UUID, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	if id, err := uuid.Parse(ref); err == nil {
		if _, ok := t.repo.accounts[id]; ok {
			return id, nil
		}
		return uuid.Nil, &AccountNotFoundError{Ref: ref}
	}
	for id, a := range t.repo.accounts {
		if a.AccountNumber == ref {
			return id, nil
		}
	}
	return uuid.Nil, &AccountNotFoundError{Ref: ref}
}

func (t *memoryTx) LockAccounts(_ context.Context, ids ...uuid.UUID) (map[uuid.UUID]Account, error) {
	sorted := append([]uuid.UUID(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].String() < sorted[j].String() })
	out := make(map[uuid.UUID]Account, len(ids))
	for _, id := range sorted {
		if a, ok := t.lock(id); ok {
			out[id] = a
		}
	}
	return out, nil
}

func (t *memoryTx) Debit(_ context.Context, id uuid.UUID, amount int64) (int64, error) {
	a, ok := t.lock(id)
	if !ok || a.Status != StatusActive || a.Balance < amount {
		return 0, errDebitRefused
	}
	a.Balance -= amount
	t.staged[id] = a
	return a.Balance, nil
}

func (t *memoryTx) Credit(_ context.Context, id uuid.UUID, amount int64) (int64, error) {
	if t.repo.failCredit != nil {
		return 0, t.repo.failCredit
	}
	a, ok := t.lock(id)
	if !ok || a.Status != StatusActive {
		return 0, errCreditRefused
	}
	a.Balance += amount
	t.staged[id] = a
	return a.Balance, nil
}

func (t *memoryTx) InsertTransaction(_ context.Context, tx Transaction) (Transaction, error) {
	t.repo.mu.Lock()
	tx.CreatedAt = t.repo.tick()
	t.repo.mu.Unlock()
	t.inserted = append(t.inserted, tx)
	return tx, nil
}

func (t *memoryTx) InsertAccount(_ context.Context, a Account) (Account, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	for _, existing := range t.repo.accounts {
		if existing.AccountNumber == a.AccountNumber {
			return Account{}, errAccountNumberTaken
		}
	}
	now := t.repo.tick()
	a.Balance = 0
	a.CreatedAt = now
	a.UpdatedAt = now
	t.staged[a.ID] = a
	return a, nil
}

func (t *memoryTx) SetStatus(_ context.Context, id uuid.UUID, status AccountStatus) (Account, error) {
	a, ok := t.lock(id)
	if !ok {
		return Account{}, &AccountNotFoundError{Ref: id.String()}
	}
	if status == StatusClosed && a.Balance != 0 {
		return Account{}, &ValidationError{Field: "balance", Reason: "account balance must be zero to close", Err: ErrBalanceNotZero}
	}
	a.Status = status
	if status == StatusClosed {
		closed := a.UpdatedAt.Add(time.Minute)
		a.ClosedAt = &closed
	}
	t.staged[id] = a
	return a, nil
}

func (t *memoryTx) UpdateProfile(_ context.Context, id uuid.UUID, p CustomerProfile) (Account, error) {
	a, ok := t.lock(id)
	if !ok {
		return Account{}, &AccountNotFoundError{Ref: id.String()}
	}
	a.Profile = p
	t.staged[id] = a
	return a, nil
}

type auditSpy struct {
	mu      sync.Mutex
	entries []shared.AuditLog
}

func (a *auditSpy) Record(_ context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, log)
	return nil
}

func (a *auditSpy) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.Action)
	}
	return out
}

type bumpCounter struct {
	mu    sync.Mutex
	count int
}

func (b *bumpCounter) Bump(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.count++
	return nil
}

func (b *bumpCounter) value() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

type metricsSpy struct {
	mu       sync.Mutex
	outcomes []string
}

func (m *metricsSpy) ObserveTransaction(_ string, outcome string, _ int64, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
}

func identity(role rbac.Role, caps ...rbac.Capability) rbac.Identity {
	return rbac.Identity{
		EmployeeID:  uuid.New(),
		UserID:      uuid.New(),
		Code:        "EMP-" + string(role),
		Name:        strings.ToUpper(string(role[:1])) + string(role[1:]),
		Role:        role,
		Permissions: rbac.NewPermissionSet(caps...),
	}
}

var errBoom = errors.New("boom")
