package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/okash/okash-console/internal/platform/httpx"
	"github.com/okash/okash-console/internal/rbac"
	"github.com/okash/okash-console/internal/shared"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	sessionManager *shared.SessionManager
	csrfManager    *shared.CSRFManager
	validator      *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, sessions *shared.SessionManager, csrf *shared.CSRFManager) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:         logger,
		service:        service,
		sessionManager: sessions,
		csrfManager:    csrf,
		validator:      validator.New(),
	}
}

// MountRoutes registers auth routes. authenticate guards the routes that
// need a resolved identity.
func (h *Handler) MountRoutes(r chi.Router, authenticate func(http.Handler) http.Handler) {
	r.Get("/csrf", h.csrf)
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
	r.With(authenticate).Get("/me", h.me)
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type identityResponse struct {
	Identity   rbac.Identity    `json:"identity"`
	Operations []rbac.Operation `json:"operations"`
	CSRFToken  string           `json:"csrf_token,omitempty"`
}

func (h *Handler) csrf(w http.ResponseWriter, r *http.Request) {
	token, err := h.csrfManager.EnsureToken(r.Context(), shared.SessionFromContext(r.Context()))
	if err != nil {
		h.logger.Error("issue csrf token", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Session Unavailable", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"csrf_token": token})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		h.logger.Error("session missing during login")
		httpx.Problem(w, http.StatusInternalServerError, "Session Unavailable", "")
		return
	}
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteProblem(w, httpx.ProblemDetail{Status: http.StatusBadRequest, Detail: err.Error(), Code: "bad_request"})
		return
	}
	if err := h.validator.Struct(req); err != nil {
		fields := map[string]any{}
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				fields[fe.Field()] = fe.Tag()
			}
		}
		httpx.WriteProblem(w, httpx.ProblemDetail{
			Status: http.StatusUnprocessableEntity,
			Title:  "Validation Failed",
			Code:   "validation_failed",
			Meta:   fields,
		})
		return
	}

	user, identity, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, ErrIdentityNotProvisioned):
			h.logger.Error("login without provisioned employee", slog.String("email", req.Email), slog.Any("error", err))
			httpx.WriteProblem(w, httpx.ProblemDetail{
				Status: http.StatusUnauthorized,
				Title:  "Unauthorized",
				Detail: "account has no active employee record",
				Code:   "identity_not_provisioned",
			})
		case errors.Is(err, ErrInvalidCredentials), errors.Is(err, rbac.ErrUnauthenticated):
			httpx.WriteProblem(w, httpx.ProblemDetail{
				Status: http.StatusUnauthorized,
				Title:  "Unauthorized",
				Detail: "invalid email or password",
				Code:   "invalid_credentials",
			})
		default:
			h.logger.Error("login", slog.Any("error", err))
			httpx.Problem(w, http.StatusServiceUnavailable, "Login Unavailable", "")
		}
		return
	}

	h.sessionManager.Rotate(sess)
	sess.SetUser(user.ID.String())
	token, err := h.csrfManager.RotateToken(r.Context(), sess)
	if err != nil {
		h.logger.Error("rotate csrf token", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Session Unavailable", "")
		return
	}
	expiresAt := time.Now().Add(h.sessionManager.TTL())
	if err := h.service.RegisterSession(r.Context(), sess.ID, user.ID, expiresAt, r.RemoteAddr, r.UserAgent()); err != nil {
		h.logger.Warn("register session", slog.Any("error", err))
	}
	h.logger.Info("employee logged in",
		slog.String("employee_id", identity.EmployeeID.String()),
		slog.String("role", string(identity.Role)),
	)
	httpx.JSON(w, http.StatusOK, identityResponse{
		Identity:   identity,
		Operations: identity.AllowedOperations(),
		CSRFToken:  token,
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess != nil {
		if err := h.service.RemoveSession(r.Context(), sess.ID); err != nil {
			h.logger.Warn("remove session", slog.Any("error", err))
		}
		h.sessionManager.Destroy(sess)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	identity, ok := rbac.IdentityFromContext(r.Context())
	if !ok {
		httpx.WriteProblem(w, httpx.ProblemDetail{Status: http.StatusUnauthorized, Code: "unauthenticated"})
		return
	}
	httpx.JSON(w, http.StatusOK, identityResponse{
		Identity:   identity,
		Operations: identity.AllowedOperations(),
	})
}
