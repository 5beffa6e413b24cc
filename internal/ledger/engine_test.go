package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/okash/okash-console/internal/rbac"
)

type engineFixture struct {
	repo    *memoryRepo
	engine  *Engine
	audit   *auditSpy
	bumps   *bumpCounter
	metrics *metricsSpy
	teller  rbac.Identity
}

func newEngineFixture() engineFixture {
	repo := newMemoryRepo()
	f := engineFixture{
		repo:    repo,
		audit:   &auditSpy{},
		bumps:   &bumpCounter{},
		metrics: &metricsSpy{},
		teller:  identity(rbac.RoleTeller),
	}
	f.engine = NewEngine(repo, EngineConfig{
		Audit:       f.audit,
		Metrics:     f.metrics,
		Invalidator: f.bumps,
	})
	return f
}

func TestDepositCreditsDestination(t *testing.T) {
	f := newEngineFixture()
	a := f.repo.seed("1200000001", AccountPersonal, StatusActive, 0)

	tx, err := f.engine.Submit(context.Background(), f.teller, TransactionRequest{
		Type:        TypeDeposit,
		Amount:      150000,
		Destination: a.ID.String(),
	})
	require.NoError(t, err)
	require.Equal(t, TypeDeposit, tx.Type)
	require.Equal(t, int64(150000), tx.Amount)
	require.Equal(t, TxCompleted, tx.Status)
	require.Nil(t, tx.SourceAccountID)
	require.NotNil(t, tx.DestinationAccountID)
	require.Equal(t, a.ID, *tx.DestinationAccountID)
	require.Equal(t, MethodCash, tx.Method)
	require.Equal(t, f.teller.EmployeeID, tx.PerformedBy)

	require.Equal(t, int64(150000), f.repo.balance(a.ID))
	require.Equal(t, 1, f.repo.transactionCount())
	require.Equal(t, []string{"ledger:deposit"}, f.audit.actions())
	require.Equal(t, 1, f.bumps.value())
	require.Equal(t, []string{"completed"}, f.metrics.outcomes)
}

func TestInternalTransferIsZeroSum(t *testing.T) {
	f := newEngineFixture()
	a := f.repo.seed("1200000001", AccountPersonal, StatusActive, 150000)
	b := f.repo.seed("1300000002", AccountBusiness, StatusActive, 0)

	tx, err := f.engine.Submit(context.Background(), f.teller, TransactionRequest{
		Type:        TypeTransfer,
		Amount:      50000,
		Source:      a.AccountNumber,
		Destination: b.AccountNumber,
	})
	require.NoError(t, err)
	require.Equal(t, a.ID, *tx.SourceAccountID)
	require.Equal(t, b.ID, *tx.DestinationAccountID)
	require.Nil(t, tx.ExternalAccount)
	require.Equal(t, MethodInternal, tx.Method)

	require.Equal(t, int64(100000), f.repo.balance(a.ID))
	require.Equal(t, int64(50000), f.repo.balance(b.ID))
	require.Equal(t, 1, f.repo.transactionCount())
}

func TestExternalTransferDebitsSourceOnly(t *testing.T) {
	f := newEngineFixture()
	a := f.repo.seed("1200000001", AccountPersonal, StatusActive, 9000)

	tx, err := f.engine.Submit(context.Background(), f.teller, TransactionRequest{
		Type:            TypeTransfer,
		Amount:          4000,
		Source:          a.AccountNumber,
		ExternalAccount: "DE89370400440532013000",
	})
	require.NoError(t, err)
	require.Nil(t, tx.DestinationAccountID)
	require.Equal(t, "DE89370400440532013000", *tx.ExternalAccount)
	require.Equal(t, MethodExternalBank, tx.Method)
	require.Equal(t, int64(5000), f.repo.balance(a.ID))
}

func TestWithdrawInsufficientFundsLeavesNoTrace(t *testing.T) {
	f := newEngineFixture()
	a := f.repo.seed("1200000001", AccountPersonal, StatusActive, 100000)
	req := TransactionRequest{Type: TypeWithdraw, Amount: 200000, Source: a.ID.String(), IdempotencyKey: "wd-1"}

	for i := 0; i < 2; i++ {
		_, err := f.engine.Submit(context.Background(), f.teller, req)
		require.ErrorIs(t, err, ErrInsufficientFunds)

		var insufficient *InsufficientFundsError
		require.True(t, errors.As(err, &insufficient))
		require.Equal(t, int64(100000), insufficient.Balance)
		require.Equal(t, int64(200000), insufficient.Requested)
	}

	require.Equal(t, int64(100000), f.repo.balance(a.ID))
	require.Zero(t, f.repo.transactionCount())
	require.Empty(t, f.audit.actions())
	require.Zero(t, f.bumps.value())
	require.False(t, f.repo.keyClaimed(idempotencyScope, "wd-1"))
}

func TestConcurrentWithdrawalsSerialize(t *testing.T) {
	f := newEngineFixture()
	a := f.repo.seed("1200000001", AccountPersonal, StatusActive, 1000)

	const workers = 2
	errs := make([]error, workers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = f.engine.Submit(context.Background(), f.teller, TransactionRequest{
				Type:   TypeWithdraw,
				Amount: 600,
				Source: a.AccountNumber,
			})
		}(i)
	}
	close(start)
	wg.Wait()

	var ok, insufficient int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrInsufficientFunds):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, 1, insufficient)
	require.Equal(t, int64(400), f.repo.balance(a.ID))
	require.Equal(t, 1, f.repo.transactionCount())
}

func TestConcurrentTransfersKeepBalancesNonNegative(t *testing.T) {
	f := newEngineFixture()
	a := f.repo.seed("1200000001", AccountPersonal, StatusActive, 5000)
	b := f.repo.seed("1200000002", AccountPersonal, StatusActive, 5000)

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		src, dst := a, b
		if i%2 == 1 {
			src, dst = b, a
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Submit(context.Background(), f.teller, TransactionRequest{
				Type:        TypeTransfer,
				Amount:      700,
				Source:      src.ID.String(),
				Destination: dst.ID.String(),
			})
			if err != nil && !errors.Is(err, ErrInsufficientFunds) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	balA, balB := f.repo.balance(a.ID), f.repo.balance(b.ID)
	require.GreaterOrEqual(t, balA, int64(0))
	require.GreaterOrEqual(t, balB, int64(0))
	require.Equal(t, int64(10000), balA+balB)
}

func TestTransferRollsBackWhenCreditFails(t *testing.T) {
	f := newEngineFixture()
	a := f.repo.seed("1200000001", AccountPersonal, StatusActive, 150000)
	b := f.repo.seed("1200000002", AccountPersonal, StatusActive, 0)
	f.repo.failCredit = errBoom

	_, err := f.engine.Submit(context.Background(), f.teller, TransactionRequest{
		Type:        TypeTransfer,
		Amount:      50000,
		Source:      a.AccountNumber,
		Destination: b.AccountNumber,
	})
	require.ErrorIs(t, err, ErrStoreUnavailable)
	require.ErrorIs(t, err, errBoom)
	require.False(t, IsRetryable(err))

	require.Equal(t, int64(150000), f.repo.balance(a.ID))
	require.Equal(t, int64(0), f.repo.balance(b.ID))
	require.Zero(t, f.repo.transactionCount())
}

func TestStoreConflictIsRetryable(t *testing.T) {
	f := newEngineFixture()
	a := f.repo.seed("1200000001", AccountPersonal, StatusActive, 0)
	f.repo.conflicts = 1

	req := TransactionRequest{Type: TypeDeposit, Amount: 10, Destination: a.AccountNumber, IdempotencyKey: "dep-1"}
	_, err := f.engine.Submit(context.Background(), f.teller, req)
	require.ErrorIs(t, err, ErrStoreConflict)
	require.True(t, IsRetryable(err))

	var storeErr *StoreError
	require.True(t, errors.As(err, &storeErr))
	require.True(t, storeErr.Retryable())

	// The aborted attempt did not keep the key, so the same request can be retried.
	_, err = f.engine.Submit(context.Background(), f.teller, req)
	require.NoError(t, err)
	require.Equal(t, int64(10), f.repo.balance(a.ID))
}

func TestDuplicateIdempotencyKeyRejected(t *testing.T) {
	f := newEngineFixture()
	a := f.repo.seed("1200000001", AccountPersonal, StatusActive, 0)
	req := TransactionRequest{Type: TypeDeposit, Amount: 10, Destination: a.AccountNumber, IdempotencyKey: "dep-1"}

	_, err := f.engine.Submit(context.Background(), f.teller, req)
	require.NoError(t, err)
	_, err = f.engine.Submit(context.Background(), f.teller, req)
	require.ErrorIs(t, err, ErrDuplicateRequest)
	require.Equal(t, int64(10), f.repo.balance(a.ID))
	require.Equal(t, 1, f.repo.transactionCount())
}

// lostAckRepo commits the work and then reports a dropped connection once,
// the way a commit acknowledgement lost on the wire looks to the caller.
type lostAckRepo struct {
	*memoryRepo
	drops int
}

func (r *lostAckRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if err := r.memoryRepo.WithTx(ctx, fn); err != nil {
		return err
	}
	if r.drops > 0 {
		r.drops--
		return &pgconn.PgError{Code: "08006", Message: "connection failure during commit"}
	}
	return nil
}

func TestResubmitAfterLostCommitAckIsDuplicate(t *testing.T) {
	repo := &lostAckRepo{memoryRepo: newMemoryRepo(), drops: 1}
	engine := NewEngine(repo, EngineConfig{})
	teller := identity(rbac.RoleTeller)
	a := repo.seed("1200000001", AccountPersonal, StatusActive, 0)
	req := TransactionRequest{Type: TypeDeposit, Amount: 1000, Destination: a.AccountNumber, IdempotencyKey: "dep-ack"}

	_, err := engine.Submit(context.Background(), teller, req)
	require.ErrorIs(t, err, ErrStoreUnavailable)
	require.False(t, IsRetryable(err))

	_, err = engine.Submit(context.Background(), teller, req)
	require.ErrorIs(t, err, ErrDuplicateRequest)
	require.Equal(t, int64(1000), repo.balance(a.ID))
	require.Equal(t, 1, repo.transactionCount())
	require.True(t, repo.keyClaimed(idempotencyScope, "dep-ack"))
}

func TestInactiveAccountsBlockMovement(t *testing.T) {
	f := newEngineFixture()
	active := f.repo.seed("1200000001", AccountPersonal, StatusActive, 1000)
	frozen := f.repo.seed("1200000002", AccountPersonal, StatusFrozen, 1000)
	closed := f.repo.seed("1200000003", AccountPersonal, StatusClosed, 0)

	cases := []struct {
		name string
		req  TransactionRequest
		want AccountStatus
	}{
		{"withdraw from frozen", TransactionRequest{Type: TypeWithdraw, Amount: 10, Source: frozen.AccountNumber}, StatusFrozen},
		{"deposit to closed", TransactionRequest{Type: TypeDeposit, Amount: 10, Destination: closed.AccountNumber}, StatusClosed},
		{"transfer to frozen", TransactionRequest{Type: TypeTransfer, Amount: 10, Source: active.AccountNumber, Destination: frozen.AccountNumber}, StatusFrozen},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.engine.Submit(context.Background(), f.teller, tc.req)
			var notActive *AccountNotActiveError
			require.True(t, errors.As(err, &notActive), "got %v", err)
			require.Equal(t, tc.want, notActive.Status)
		})
	}
	require.Equal(t, int64(1000), f.repo.balance(active.ID))
	require.Equal(t, int64(1000), f.repo.balance(frozen.ID))
	require.Zero(t, f.repo.transactionCount())
}

func TestUnknownAccountNotFound(t *testing.T) {
	f := newEngineFixture()
	_, err := f.engine.Submit(context.Background(), f.teller, TransactionRequest{Type: TypeDeposit, Amount: 10, Destination: "1299999999"})
	require.ErrorIs(t, err, ErrAccountNotFound)

	var notFound *AccountNotFoundError
	require.True(t, errors.As(err, &notFound))
	require.Equal(t, "1299999999", notFound.Ref)
}

func TestSubmitValidation(t *testing.T) {
	f := newEngineFixture()
	a := f.repo.seed("1200000001", AccountPersonal, StatusActive, 1000)

	cases := []struct {
		name  string
		req   TransactionRequest
		field string
	}{
		{"zero amount", TransactionRequest{Type: TypeDeposit, Amount: 0, Destination: a.AccountNumber}, "amount"},
		{"negative amount", TransactionRequest{Type: TypeWithdraw, Amount: -5, Source: a.AccountNumber}, "amount"},
		{"unknown type", TransactionRequest{Type: "refund", Amount: 5, Source: a.AccountNumber}, "transaction_type"},
		{"deposit without destination", TransactionRequest{Type: TypeDeposit, Amount: 5}, "destination"},
		{"withdraw without source", TransactionRequest{Type: TypeWithdraw, Amount: 5}, "source"},
		{"transfer with both targets", TransactionRequest{Type: TypeTransfer, Amount: 5, Source: a.AccountNumber, Destination: "1200000009", ExternalAccount: "X1"}, "destination"},
		{"transfer with no target", TransactionRequest{Type: TypeTransfer, Amount: 5, Source: a.AccountNumber}, "destination"},
		{"transfer to itself", TransactionRequest{Type: TypeTransfer, Amount: 5, Source: a.AccountNumber, Destination: a.ID.String()}, "destination"},
		{"wrong method", TransactionRequest{Type: TypeTransfer, Amount: 5, Source: a.AccountNumber, ExternalAccount: "X1", Method: MethodCash}, "method"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.engine.Submit(context.Background(), f.teller, tc.req)
			require.ErrorIs(t, err, ErrValidation)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			require.Equal(t, tc.field, verr.Field)
		})
	}
	require.Equal(t, int64(1000), f.repo.balance(a.ID))
	require.Zero(t, f.repo.transactionCount())
}

func TestSubmitRequiresManageTransactions(t *testing.T) {
	f := newEngineFixture()
	a := f.repo.seed("1200000001", AccountPersonal, StatusActive, 1000)

	cs := identity(rbac.RoleCustomerService)
	_, err := f.engine.Submit(context.Background(), cs, TransactionRequest{Type: TypeWithdraw, Amount: 5, Source: a.AccountNumber})
	require.ErrorIs(t, err, rbac.ErrPermissionDenied)

	var denied *rbac.DeniedError
	require.True(t, errors.As(err, &denied))
	require.Equal(t, rbac.CapViewAllTransactions, denied.Capability)

	granted := identity(rbac.RoleCustomerService, rbac.CapViewAllTransactions)
	_, err = f.engine.Submit(context.Background(), granted, TransactionRequest{Type: TypeWithdraw, Amount: 5, Source: a.AccountNumber})
	require.NoError(t, err)
	require.Equal(t, []string{"permission_denied", "completed"}, f.metrics.outcomes)
}

func TestOutcomeLabels(t *testing.T) {
	require.Equal(t, "completed", Outcome(nil))
	require.Equal(t, "insufficient_funds", Outcome(&InsufficientFundsError{}))
	require.Equal(t, "conflict", Outcome(&StoreError{Conflict: true, Err: errBoom}))
	require.Equal(t, "unavailable", Outcome(&StoreError{Err: errBoom}))
	require.Equal(t, "duplicate", Outcome(ErrDuplicateRequest))
}
