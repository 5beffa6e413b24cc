package reporting

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/okash/okash-console/internal/platform/httpx"
	"github.com/okash/okash-console/internal/rbac"
)

// Handler exposes dashboard views.
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

// MountRoutes registers dashboard routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/summary", h.summary)
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	actor, ok := rbac.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "login required")
		return
	}
	view, err := h.service.Dashboard(r.Context(), actor)
	if err != nil {
		if errors.Is(err, rbac.ErrPermissionDenied) {
			rbac.WriteDenied(w, err)
			return
		}
		h.logger.Error("dashboard summary", slog.Any("error", err))
		httpx.WriteProblem(w, httpx.ProblemDetail{Status: http.StatusServiceUnavailable, Code: "store_unavailable"})
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}
