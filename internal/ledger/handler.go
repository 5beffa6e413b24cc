package ledger

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/okash/okash-console/internal/platform/httpx"
	"github.com/okash/okash-console/internal/rbac"
	"github.com/okash/okash-console/internal/shared"
)

// IdempotencyHeader carries the client supplied key for transaction submits.
const IdempotencyHeader = "Idempotency-Key"

// Handler exposes accounts and transactions over JSON.
type Handler struct {
	accounts *AccountService
	engine   *Engine
	retries  int
	logger   *slog.Logger
}

// NewHandler builds Handler. conflictRetries bounds how often a submit that
// hit a store conflict is repeated before the conflict is reported.
func NewHandler(accounts *AccountService, engine *Engine, conflictRetries int, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if conflictRetries < 0 {
		conflictRetries = 0
	}
	return &Handler{accounts: accounts, engine: engine, retries: conflictRetries, logger: logger}
}

// MountAccountRoutes registers account routes.
func (h *Handler) MountAccountRoutes(r chi.Router) {
	r.Post("/", h.openAccount)
	r.Get("/", h.listAccounts)
	r.Get("/number/{number}", h.getAccountByNumber)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.getAccount)
		r.Patch("/", h.updateProfile)
		r.Post("/freeze", h.freezeAccount)
		r.Post("/unfreeze", h.unfreezeAccount)
		r.Post("/close", h.closeAccount)
		r.Get("/transactions", h.listAccountTransactions)
	})
}

// MountTransactionRoutes registers transaction routes.
func (h *Handler) MountTransactionRoutes(r chi.Router) {
	r.Post("/", h.submitTransaction)
	r.Get("/", h.listTransactions)
	r.Get("/{id}", h.getTransaction)
}

type listResponse[T any] struct {
	Items      []T               `json:"items"`
	Pagination shared.Pagination `json:"pagination"`
}

func (h *Handler) openAccount(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var in OpenAccountInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	account, err := h.accounts.OpenAccount(r.Context(), actor, in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, account)
}

func (h *Handler) listAccounts(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	page, perPage := shared.PageFromQuery(q)
	accounts, pg, err := h.accounts.ListAccounts(r.Context(), actor, AccountFilter{
		Query:   q.Get("q"),
		Type:    AccountType(q.Get("account_type")),
		Status:  AccountStatus(q.Get("status")),
		Page:    page,
		PerPage: perPage,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if accounts == nil {
		accounts = []Account{}
	}
	httpx.JSON(w, http.StatusOK, listResponse[Account]{Items: accounts, Pagination: pg})
}

func (h *Handler) getAccount(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	account, err := h.accounts.GetAccount(r.Context(), actor, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, account)
}

func (h *Handler) getAccountByNumber(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	account, err := h.accounts.GetAccountByNumber(r.Context(), actor, chi.URLParam(r, "number"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, account)
}

func (h *Handler) updateProfile(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var upd ProfileUpdate
	if err := httpx.DecodeJSON(r, &upd); err != nil {
		h.writeError(w, r, err)
		return
	}
	account, err := h.accounts.UpdateProfile(r.Context(), actor, id, upd)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, account)
}

func (h *Handler) freezeAccount(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.accounts.FreezeAccount)
}

func (h *Handler) unfreezeAccount(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.accounts.UnfreezeAccount)
}

func (h *Handler) closeAccount(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.accounts.CloseAccount)
}

type lifecycleFunc func(context.Context, rbac.Identity, uuid.UUID) (Account, error)

func (h *Handler) lifecycle(w http.ResponseWriter, r *http.Request, fn lifecycleFunc) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	account, err := fn(r.Context(), actor, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, account)
}

func (h *Handler) listAccountTransactions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	h.respondTransactions(w, r, &id)
}

func (h *Handler) listTransactions(w http.ResponseWriter, r *http.Request) {
	var accountID *uuid.UUID
	if raw := r.URL.Query().Get("account_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			h.writeError(w, r, invalid("account_id", "must be a UUID"))
			return
		}
		accountID = &id
	}
	h.respondTransactions(w, r, accountID)
}

func (h *Handler) respondTransactions(w http.ResponseWriter, r *http.Request, accountID *uuid.UUID) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	page, perPage := shared.PageFromQuery(q)
	txs, pg, err := h.accounts.ListTransactions(r.Context(), actor, TransactionFilter{
		AccountID: accountID,
		Type:      TransactionType(q.Get("transaction_type")),
		Page:      page,
		PerPage:   perPage,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if txs == nil {
		txs = []Transaction{}
	}
	httpx.JSON(w, http.StatusOK, listResponse[Transaction]{Items: txs, Pagination: pg})
}

func (h *Handler) getTransaction(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	tx, err := h.accounts.GetTransaction(r.Context(), actor, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, tx)
}

func (h *Handler) submitTransaction(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req TransactionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	req.IdempotencyKey = strings.TrimSpace(r.Header.Get(IdempotencyHeader))

	var (
		tx  Transaction
		err error
	)
	for attempt := 0; ; attempt++ {
		tx, err = h.engine.Submit(r.Context(), actor, req)
		if err == nil || !IsRetryable(err) || attempt >= h.retries || r.Context().Err() != nil {
			break
		}
		h.logger.Debug("retrying transaction after store conflict", slog.Int("attempt", attempt+1))
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, tx)
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (rbac.Identity, bool) {
	id, ok := rbac.IdentityFromContext(r.Context())
	if !ok {
		httpx.WriteProblem(w, httpx.ProblemDetail{
			Status: http.StatusUnauthorized,
			Detail: "login required",
			Code:   "unauthenticated",
		})
		return rbac.Identity{}, false
	}
	return id, true
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, invalid("id", "must be a UUID"))
		return uuid.Nil, false
	}
	return id, true
}

// writeError translates ledger errors into problem documents.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		notActive    *AccountNotActiveError
		insufficient *InsufficientFundsError
		validation   *ValidationError
	)
	switch {
	case errors.Is(err, rbac.ErrPermissionDenied):
		rbac.WriteDenied(w, err)
	case errors.Is(err, ErrBalanceNotZero):
		httpx.WriteProblem(w, httpx.ProblemDetail{Status: http.StatusConflict, Title: "Balance Not Zero", Detail: err.Error(), Code: "balance_not_zero"})
	case errors.As(err, &validation):
		httpx.WriteProblem(w, httpx.ProblemDetail{
			Status: http.StatusUnprocessableEntity,
			Title:  "Validation Failed",
			Detail: err.Error(),
			Code:   "validation_failed",
			Meta:   map[string]any{"field": validation.Field},
		})
	case errors.Is(err, httpx.ErrValidation):
		httpx.WriteProblem(w, httpx.ProblemDetail{Status: http.StatusBadRequest, Title: "Bad Request", Detail: err.Error(), Code: "bad_request"})
	case errors.Is(err, ErrAccountNotFound), errors.Is(err, ErrTransactionNotFound):
		httpx.WriteProblem(w, httpx.ProblemDetail{Status: http.StatusNotFound, Detail: err.Error(), Code: "not_found"})
	case errors.As(err, &notActive):
		httpx.WriteProblem(w, httpx.ProblemDetail{
			Status: http.StatusConflict,
			Title:  "Account Not Active",
			Detail: err.Error(),
			Code:   "account_not_active",
			Meta:   map[string]any{"account_number": notActive.AccountNumber, "status": notActive.Status},
		})
	case errors.As(err, &insufficient):
		httpx.WriteProblem(w, httpx.ProblemDetail{
			Status: http.StatusConflict,
			Title:  "Insufficient Funds",
			Detail: err.Error(),
			Code:   "insufficient_funds",
			Meta: map[string]any{
				"account_number": insufficient.AccountNumber,
				"balance":        insufficient.Balance,
				"requested":      insufficient.Requested,
			},
		})
	case errors.Is(err, ErrDuplicateRequest):
		httpx.WriteProblem(w, httpx.ProblemDetail{Status: http.StatusConflict, Title: "Duplicate Request", Detail: err.Error(), Code: "duplicate_request"})
	case errors.Is(err, ErrStoreConflict):
		httpx.WriteProblem(w, httpx.ProblemDetail{Status: http.StatusConflict, Title: "Concurrent Modification", Detail: "please retry", Code: "store_conflict", Retryable: true})
	default:
		h.logger.Error("ledger request failed",
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
		httpx.WriteProblem(w, httpx.ProblemDetail{Status: http.StatusServiceUnavailable, Title: "Service Unavailable", Code: "store_unavailable"})
	}
}
