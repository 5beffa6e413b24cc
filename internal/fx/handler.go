package fx

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/okash/okash-console/internal/platform/httpx"
	"github.com/okash/okash-console/internal/rbac"
)

// Handler exposes exchange rates over JSON.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler builds Handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger}
}

// MountRoutes registers exchange-rate routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/convert", h.convert)
	r.Get("/{code}", h.get)
	r.Put("/{code}", h.upsert)
}

type listResponse struct {
	Base  string         `json:"base"`
	Rates []ExchangeRate `json:"rates"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	rates, err := h.service.List(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if rates == nil {
		rates = []ExchangeRate{}
	}
	httpx.JSON(w, http.StatusOK, listResponse{Base: h.service.Base(), Rates: rates})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	rate, err := h.service.Get(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rate)
}

func (h *Handler) upsert(w http.ResponseWriter, r *http.Request) {
	actor, ok := rbac.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "login required")
		return
	}
	var in UpsertInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.writeError(w, err)
		return
	}
	rate, err := h.service.Upsert(r.Context(), actor, chi.URLParam(r, "code"), in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rate)
}

func (h *Handler) convert(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	amount, err := decimal.NewFromString(q.Get("amount"))
	if err != nil {
		h.writeError(w, invalidf("amount %q is not a number", q.Get("amount")))
		return
	}
	conv, err := h.service.Convert(r.Context(), amount, q.Get("from"), q.Get("to"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, conv)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, rbac.ErrPermissionDenied):
		rbac.WriteDenied(w, err)
	case errors.Is(err, ErrInvalidInput), errors.Is(err, httpx.ErrValidation):
		httpx.WriteProblem(w, httpx.ProblemDetail{Status: http.StatusUnprocessableEntity, Title: "Validation Failed", Detail: err.Error(), Code: "validation_failed"})
	case errors.Is(err, ErrRateUnavailable):
		httpx.WriteProblem(w, httpx.ProblemDetail{Status: http.StatusNotFound, Title: "Rate Unavailable", Detail: err.Error(), Code: "rate_unavailable"})
	default:
		h.logger.Error("fx request failed", slog.Any("error", err))
		httpx.WriteProblem(w, httpx.ProblemDetail{Status: http.StatusServiceUnavailable, Code: "store_unavailable"})
	}
}
