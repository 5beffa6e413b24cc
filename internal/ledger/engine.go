package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/okash/okash-console/internal/platform/db"
	"github.com/okash/okash-console/internal/rbac"
	"github.com/okash/okash-console/internal/shared"
)

const idempotencyScope = "ledger.transaction"

// Recorder observes engine outcomes.
type Recorder interface {
	ObserveTransaction(txType, outcome string, amount int64, took time.Duration)
}

// Invalidator is told when committed balances change.
type Invalidator interface {
	Bump(ctx context.Context) error
}

// EngineConfig groups optional engine collaborators.
type EngineConfig struct {
	Audit       shared.AuditRecorder
	Metrics     Recorder
	Invalidator Invalidator
	Logger      *slog.Logger
}

// Engine validates and applies money movements. Each successful Submit
// changes one or two balances and inserts exactly one Transaction inside a
// single store transaction.
type Engine struct {
	repo   Repository
	cfg    EngineConfig
	newID  func() uuid.UUID
	clock  func() time.Time
	logger *slog.Logger
}

// NewEngine builds Engine.
func NewEngine(repo Repository, cfg EngineConfig) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		repo:   repo,
		cfg:    cfg,
		newID:  uuid.New,
		clock:  func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
}

// Submit executes req on behalf of actor. On failure no Transaction exists
// and no balance changed; the returned error is typed (see errors.go and
// rbac.DeniedError). Submit never retries; callers may retry StoreConflict.
func (e *Engine) Submit(ctx context.Context, actor rbac.Identity, req TransactionRequest) (Transaction, error) {
	start := e.clock()
	tx, err := e.submit(ctx, actor, req)
	e.observe(req, err, start)
	if err != nil {
		return Transaction{}, err
	}

	e.afterCommit(ctx, actor, tx)
	return tx, nil
}

func (e *Engine) submit(ctx context.Context, actor rbac.Identity, req TransactionRequest) (Transaction, error) {
	if err := actor.Require(rbac.OpManageTransactions); err != nil {
		return Transaction{}, err
	}
	req = normaliseRequest(req)
	if err := ValidateRequest(req); err != nil {
		return Transaction{}, err
	}

	var created Transaction
	err := e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		created, err = e.apply(ctx, tx, actor, req)
		return err
	})
	if err != nil {
		return Transaction{}, storeErr("apply "+string(req.Type), err)
	}
	return created, nil
}

// apply runs inside the store transaction: claim the request key, resolve,
// lock in id order, check, mutate, record. The key commits or rolls back
// with the balances.
func (e *Engine) apply(ctx context.Context, tx TxRepository, actor rbac.Identity, req TransactionRequest) (Transaction, error) {
	if req.IdempotencyKey != "" {
		if err := tx.ClaimRequestKey(ctx, idempotencyScope, req.IdempotencyKey); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return Transaction{}, ErrDuplicateRequest
			}
			return Transaction{}, err
		}
	}

	var srcID, dstID uuid.UUID
	var err error
	if req.Source != "" {
		if srcID, err = tx.ResolveAccountID(ctx, req.Source); err != nil {
			return Transaction{}, err
		}
	}
	if req.Destination != "" {
		if dstID, err = tx.ResolveAccountID(ctx, req.Destination); err != nil {
			return Transaction{}, err
		}
	}
	if srcID != uuid.Nil && srcID == dstID {
		return Transaction{}, invalid("destination", "cannot transfer to the same account")
	}

	ids := make([]uuid.UUID, 0, 2)
	for _, id := range []uuid.UUID{srcID, dstID} {
		if id != uuid.Nil {
			ids = append(ids, id)
		}
	}
	locked, err := tx.LockAccounts(ctx, ids...)
	if err != nil {
		return Transaction{}, err
	}

	record := Transaction{
		ID:          e.newID(),
		Type:        req.Type,
		Amount:      req.Amount,
		Method:      req.Method,
		Note:        req.Note,
		PerformedBy: actor.EmployeeID,
		Status:      TxCompleted,
	}

	if srcID != uuid.Nil {
		src, ok := locked[srcID]
		if !ok {
			return Transaction{}, &AccountNotFoundError{Ref: req.Source}
		}
		if src.Status != StatusActive {
			return Transaction{}, &AccountNotActiveError{AccountID: src.ID, AccountNumber: src.AccountNumber, Status: src.Status}
		}
		if src.Balance < req.Amount {
			return Transaction{}, &InsufficientFundsError{AccountID: src.ID, AccountNumber: src.AccountNumber, Balance: src.Balance, Requested: req.Amount}
		}
		record.SourceAccountID = &src.ID
	}
	if dstID != uuid.Nil {
		dst, ok := locked[dstID]
		if !ok {
			return Transaction{}, &AccountNotFoundError{Ref: req.Destination}
		}
		if dst.Status != StatusActive {
			return Transaction{}, &AccountNotActiveError{AccountID: dst.ID, AccountNumber: dst.AccountNumber, Status: dst.Status}
		}
		record.DestinationAccountID = &dst.ID
	}
	if req.ExternalAccount != "" {
		external := req.ExternalAccount
		record.ExternalAccount = &external
	}

	if record.SourceAccountID != nil {
		if _, err := tx.Debit(ctx, srcID, req.Amount); err != nil {
			if errors.Is(err, errDebitRefused) {
				src := locked[srcID]
				return Transaction{}, &InsufficientFundsError{AccountID: src.ID, AccountNumber: src.AccountNumber, Balance: src.Balance, Requested: req.Amount}
			}
			return Transaction{}, err
		}
	}
	if record.DestinationAccountID != nil {
		if _, err := tx.Credit(ctx, dstID, req.Amount); err != nil {
			if errors.Is(err, errCreditRefused) {
				dst := locked[dstID]
				return Transaction{}, &AccountNotActiveError{AccountID: dst.ID, AccountNumber: dst.AccountNumber, Status: dst.Status}
			}
			return Transaction{}, err
		}
	}
	return tx.InsertTransaction(ctx, record)
}

func (e *Engine) afterCommit(ctx context.Context, actor rbac.Identity, tx Transaction) {
	ctx = context.WithoutCancel(ctx)
	if e.cfg.Invalidator != nil {
		if err := e.cfg.Invalidator.Bump(ctx); err != nil {
			e.logger.Warn("ledger summary invalidation", slog.Any("error", err))
		}
	}
	if e.cfg.Audit != nil {
		meta := map[string]any{
			"type":   tx.Type,
			"amount": tx.Amount,
			"method": tx.Method,
		}
		if tx.SourceAccountID != nil {
			meta["source_account_id"] = tx.SourceAccountID.String()
		}
		if tx.DestinationAccountID != nil {
			meta["destination_account_id"] = tx.DestinationAccountID.String()
		}
		if tx.ExternalAccount != nil {
			meta["external_account"] = *tx.ExternalAccount
		}
		_ = e.cfg.Audit.Record(ctx, shared.AuditLog{
			ActorID:  actor.EmployeeID,
			Action:   "ledger:" + string(tx.Type),
			Entity:   "transaction",
			EntityID: tx.ID.String(),
			Meta:     meta,
			At:       tx.CreatedAt,
		})
	}
	e.logger.Info("transaction completed",
		slog.String("transaction_id", tx.ID.String()),
		slog.String("type", string(tx.Type)),
		slog.Int64("amount", tx.Amount),
		slog.String("performed_by", actor.EmployeeID.String()),
	)
}

func (e *Engine) observe(req TransactionRequest, err error, start time.Time) {
	if e.cfg.Metrics == nil {
		return
	}
	e.cfg.Metrics.ObserveTransaction(string(req.Type), Outcome(err), req.Amount, e.clock().Sub(start))
}

// Outcome maps an engine result onto a short label for metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "completed"
	case errors.Is(err, rbac.ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrValidation):
		return "invalid"
	case errors.Is(err, ErrAccountNotFound):
		return "account_not_found"
	case errors.Is(err, ErrAccountNotActive):
		return "account_not_active"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrDuplicateRequest):
		return "duplicate"
	case errors.Is(err, ErrStoreConflict):
		return "conflict"
	default:
		return "unavailable"
	}
}

// ValidateRequest performs the input checks that need no store access.
func ValidateRequest(req TransactionRequest) error {
	if !req.Type.Valid() {
		return invalid("transaction_type", fmt.Sprintf("unknown type %q", req.Type))
	}
	if req.Amount <= 0 {
		return invalid("amount", "must be greater than zero")
	}
	switch req.Type {
	case TypeDeposit:
		if req.Destination == "" {
			return invalid("destination", "required for deposits")
		}
		if req.Source != "" || req.ExternalAccount != "" {
			return invalid("source", "deposits credit a single account")
		}
	case TypeWithdraw:
		if req.Source == "" {
			return invalid("source", "required for withdrawals")
		}
		if req.Destination != "" || req.ExternalAccount != "" {
			return invalid("destination", "withdrawals debit a single account")
		}
	case TypeTransfer:
		if req.Source == "" {
			return invalid("source", "required for transfers")
		}
		if (req.Destination == "") == (req.ExternalAccount == "") {
			return invalid("destination", "exactly one of destination or external_account is required")
		}
	}
	if req.Method != "" && !methodAllowed(req.Type, req.Method, req.ExternalAccount != "") {
		return invalid("method", fmt.Sprintf("%q not allowed for %s", req.Method, req.Type))
	}
	if len(req.Note) > 500 {
		return invalid("note", "must be at most 500 characters")
	}
	return nil
}

func methodAllowed(t TransactionType, m Method, external bool) bool {
	switch t {
	case TypeDeposit, TypeWithdraw:
		return m == MethodCash || m == MethodBankTransfer || m == MethodCheck
	case TypeTransfer:
		if external {
			return m == MethodExternalBank
		}
		return m == MethodInternal
	}
	return false
}

func normaliseRequest(req TransactionRequest) TransactionRequest {
	req.Source = strings.TrimSpace(req.Source)
	req.Destination = strings.TrimSpace(req.Destination)
	req.ExternalAccount = strings.TrimSpace(req.ExternalAccount)
	req.Note = strings.TrimSpace(req.Note)
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if req.Method == "" {
		switch {
		case req.Type == TypeTransfer && req.ExternalAccount != "":
			req.Method = MethodExternalBank
		case req.Type == TypeTransfer:
			req.Method = MethodInternal
		case req.Type.Valid():
			req.Method = MethodCash
		}
	}
	return req
}

// storeErr passes ledger and authorization errors through and classifies
// everything else raised by the store.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{
		ErrValidation, ErrAccountNotFound, ErrAccountNotActive, ErrInsufficientFunds,
		ErrTransactionNotFound, ErrDuplicateRequest, ErrStoreConflict, ErrStoreUnavailable,
		rbac.ErrPermissionDenied,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	return &StoreError{Op: op, Conflict: db.IsConflict(err), Err: err}
}
