package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/okash/okash-console/internal/rbac"
	"github.com/okash/okash-console/internal/shared"
)

const maxNumberAttempts = 5

// ServiceConfig groups optional AccountService collaborators.
type ServiceConfig struct {
	Audit       shared.AuditRecorder
	Invalidator Invalidator
	Numbers     NumberGenerator
	Logger      *slog.Logger
}

// AccountService manages the account lifecycle and the read side of the
// ledger. Balances are only changed through Engine.
type AccountService struct {
	repo     Repository
	cfg      ServiceConfig
	validate *validator.Validate
	newID    func() uuid.UUID
	logger   *slog.Logger
}

// NewAccountService builds AccountService.
func NewAccountService(repo Repository, cfg ServiceConfig) *AccountService {
	if cfg.Numbers == nil {
		cfg.Numbers = RandomAccountNumber
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	validate := validator.New()
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &AccountService{
		repo:     repo,
		cfg:      cfg,
		validate: validate,
		newID:    uuid.New,
		logger:   logger,
	}
}

// OpenAccount creates an active account with a zero balance.
func (s *AccountService) OpenAccount(ctx context.Context, actor rbac.Identity, in OpenAccountInput) (Account, error) {
	if err := actor.Require(rbac.OpManageCustomers); err != nil {
		return Account{}, err
	}
	in.Profile = trimProfile(in.Profile)
	if err := s.validateInput(in); err != nil {
		return Account{}, err
	}
	if in.Type == AccountBusiness && in.Profile.BusinessName == "" {
		return Account{}, invalid("business_name", "required for business accounts")
	}

	var created Account
	for attempt := 0; attempt < maxNumberAttempts; attempt++ {
		number, err := s.cfg.Numbers(in.Type)
		if err != nil {
			return Account{}, err
		}
		createdBy := actor.EmployeeID
		err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var err error
			created, err = tx.InsertAccount(ctx, Account{
				ID:            s.newID(),
				AccountNumber: number,
				Type:          in.Type,
				Status:        StatusActive,
				Profile:       in.Profile,
				CreatedBy:     &createdBy,
			})
			return err
		})
		if errors.Is(err, errAccountNumberTaken) {
			s.logger.Debug("account number collision", slog.String("number", number))
			continue
		}
		if err != nil {
			return Account{}, storeErr("open account", err)
		}
		s.afterChange(ctx, actor, "account:open", created, map[string]any{
			"account_number": created.AccountNumber,
			"account_type":   created.Type,
		})
		return created, nil
	}
	return Account{}, &StoreError{Op: "open account", Conflict: true, Err: errAccountNumberTaken}
}

// GetAccount loads an account by id.
func (s *AccountService) GetAccount(ctx context.Context, actor rbac.Identity, id uuid.UUID) (Account, error) {
	if err := actor.Require(rbac.OpManageCustomers); err != nil {
		return Account{}, err
	}
	account, err := s.repo.GetAccount(ctx, id)
	if err != nil {
		return Account{}, storeErr("get account", err)
	}
	return account, nil
}

// GetAccountByNumber loads an account by its public number.
func (s *AccountService) GetAccountByNumber(ctx context.Context, actor rbac.Identity, number string) (Account, error) {
	if err := actor.Require(rbac.OpManageCustomers); err != nil {
		return Account{}, err
	}
	account, err := s.repo.GetAccountByNumber(ctx, strings.TrimSpace(number))
	if err != nil {
		return Account{}, storeErr("get account", err)
	}
	return account, nil
}

// ListAccounts searches accounts by holder name, number or phone.
func (s *AccountService) ListAccounts(ctx context.Context, actor rbac.Identity, filter AccountFilter) ([]Account, shared.Pagination, error) {
	if err := actor.Require(rbac.OpManageCustomers); err != nil {
		return nil, shared.Pagination{}, err
	}
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, shared.Pagination{}, invalid("account_type", fmt.Sprintf("unknown type %q", filter.Type))
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, shared.Pagination{}, invalid("status", fmt.Sprintf("unknown status %q", filter.Status))
	}
	accounts, total, err := s.repo.ListAccounts(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, storeErr("list accounts", err)
	}
	return accounts, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// UpdateProfile edits the contact and identity fields of an account holder.
func (s *AccountService) UpdateProfile(ctx context.Context, actor rbac.Identity, id uuid.UUID, upd ProfileUpdate) (Account, error) {
	if err := actor.Require(rbac.OpEditCustomer); err != nil {
		return Account{}, err
	}
	var updated Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.LockAccounts(ctx, id)
		if err != nil {
			return err
		}
		current, ok := locked[id]
		if !ok {
			return &AccountNotFoundError{Ref: id.String()}
		}
		if current.Status == StatusClosed {
			return &AccountNotActiveError{AccountID: current.ID, AccountNumber: current.AccountNumber, Status: current.Status}
		}
		profile := applyProfileUpdate(current.Profile, upd)
		if err := s.validate.Struct(profile); err != nil {
			return translateValidation(err)
		}
		updated, err = tx.UpdateProfile(ctx, id, profile)
		return err
	})
	if err != nil {
		return Account{}, storeErr("update profile", err)
	}
	s.afterChange(ctx, actor, "account:update_profile", updated, nil)
	return updated, nil
}

// FreezeAccount blocks movements on an active account. Freezing a frozen
// account is a no-op.
func (s *AccountService) FreezeAccount(ctx context.Context, actor rbac.Identity, id uuid.UUID) (Account, error) {
	if err := actor.Require(rbac.OpFreezeAccount); err != nil {
		return Account{}, err
	}
	return s.transition(ctx, actor, id, StatusFrozen, "account:freeze")
}

// UnfreezeAccount returns a frozen account to active.
func (s *AccountService) UnfreezeAccount(ctx context.Context, actor rbac.Identity, id uuid.UUID) (Account, error) {
	if err := actor.Require(rbac.OpFreezeAccount); err != nil {
		return Account{}, err
	}
	return s.transition(ctx, actor, id, StatusActive, "account:unfreeze")
}

// CloseAccount permanently closes an account whose balance is zero. Closing
// a closed account returns it unchanged.
func (s *AccountService) CloseAccount(ctx context.Context, actor rbac.Identity, id uuid.UUID) (Account, error) {
	if err := actor.Require(rbac.OpCloseAccount); err != nil {
		return Account{}, err
	}
	return s.transition(ctx, actor, id, StatusClosed, "account:close")
}

func (s *AccountService) transition(ctx context.Context, actor rbac.Identity, id uuid.UUID, target AccountStatus, action string) (Account, error) {
	var (
		result  Account
		changed bool
		from    AccountStatus
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.LockAccounts(ctx, id)
		if err != nil {
			return err
		}
		current, ok := locked[id]
		if !ok {
			return &AccountNotFoundError{Ref: id.String()}
		}
		from = current.Status
		if current.Status == target {
			result = current
			return nil
		}
		if current.Status == StatusClosed {
			return &AccountNotActiveError{AccountID: current.ID, AccountNumber: current.AccountNumber, Status: current.Status}
		}
		if target == StatusClosed && current.Balance != 0 {
			return &ValidationError{
				Field:  "balance",
				Reason: fmt.Sprintf("account balance must be zero to close, currently %d", current.Balance),
				Err:    ErrBalanceNotZero,
			}
		}
		result, err = tx.SetStatus(ctx, id, target)
		changed = err == nil
		return err
	})
	if err != nil {
		return Account{}, storeErr(strings.TrimPrefix(action, "account:")+" account", err)
	}
	if changed {
		s.afterChange(ctx, actor, action, result, map[string]any{
			"from": from,
			"to":   result.Status,
		})
	}
	return result, nil
}

// GetTransaction loads one transaction.
func (s *AccountService) GetTransaction(ctx context.Context, actor rbac.Identity, id uuid.UUID) (Transaction, error) {
	if err := actor.Require(rbac.OpManageTransactions); err != nil {
		return Transaction{}, err
	}
	tx, err := s.repo.GetTransaction(ctx, id)
	if err != nil {
		return Transaction{}, storeErr("get transaction", err)
	}
	return tx, nil
}

// ListTransactions returns transactions newest first, optionally scoped to
// one account.
func (s *AccountService) ListTransactions(ctx context.Context, actor rbac.Identity, filter TransactionFilter) ([]Transaction, shared.Pagination, error) {
	if err := actor.Require(rbac.OpManageTransactions); err != nil {
		return nil, shared.Pagination{}, err
	}
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, shared.Pagination{}, invalid("transaction_type", fmt.Sprintf("unknown type %q", filter.Type))
	}
	if filter.AccountID != nil {
		if _, err := s.repo.GetAccount(ctx, *filter.AccountID); err != nil {
			return nil, shared.Pagination{}, storeErr("list transactions", err)
		}
	}
	txs, total, err := s.repo.ListTransactions(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, storeErr("list transactions", err)
	}
	return txs, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

func (s *AccountService) afterChange(ctx context.Context, actor rbac.Identity, action string, account Account, meta map[string]any) {
	ctx = context.WithoutCancel(ctx)
	if s.cfg.Invalidator != nil {
		if err := s.cfg.Invalidator.Bump(ctx); err != nil {
			s.logger.Warn("ledger summary invalidation", slog.Any("error", err))
		}
	}
	if s.cfg.Audit != nil {
		_ = s.cfg.Audit.Record(ctx, shared.AuditLog{
			ActorID:  actor.EmployeeID,
			Action:   action,
			Entity:   "account",
			EntityID: account.ID.String(),
			Meta:     meta,
			At:       time.Now().UTC(),
		})
	}
	s.logger.Info(action,
		slog.String("account_id", account.ID.String()),
		slog.String("status", string(account.Status)),
		slog.String("actor", actor.EmployeeID.String()),
	)
}

func (s *AccountService) validateInput(in OpenAccountInput) error {
	if err := s.validate.Struct(in); err != nil {
		return translateValidation(err)
	}
	return nil
}

func translateValidation(err error) error {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return invalid(fe.Field(), fmt.Sprintf("failed %q check", fe.Tag()))
	}
	return &ValidationError{Reason: err.Error(), Err: err}
}

func trimProfile(p CustomerProfile) CustomerProfile {
	for _, f := range []*string{
		&p.Name, &p.Phone, &p.Email, &p.MotherName, &p.Gender, &p.Nationality, &p.IDType,
		&p.IDNumber, &p.Address, &p.BusinessName, &p.BusinessRegistration, &p.BusinessAddress,
	} {
		*f = strings.TrimSpace(*f)
	}
	return p
}

func applyProfileUpdate(p CustomerProfile, upd ProfileUpdate) CustomerProfile {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	set(&p.Name, upd.Name)
	set(&p.Phone, upd.Phone)
	set(&p.Email, upd.Email)
	set(&p.Address, upd.Address)
	set(&p.IDType, upd.IDType)
	set(&p.IDNumber, upd.IDNumber)
	set(&p.Nationality, upd.Nationality)
	return p
}
