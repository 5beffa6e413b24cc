package rbac

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/okash/okash-console/internal/platform/httpx"
	"github.com/okash/okash-console/internal/shared"
)

// IdentityResolver loads the employee identity bound to a session user id.
type IdentityResolver interface {
	ResolveIdentity(ctx context.Context, userID string) (Identity, error)
}

// Middleware wires authentication and authorization helpers for HTTP handlers.
type Middleware struct {
	Resolver IdentityResolver
	Logger   *slog.Logger
}

// Authenticate resolves the session user into an Identity and stores it on
// the request context. Requests without one are answered with 401.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := shared.SessionUserID(r.Context())
		if !ok {
			writeUnauthenticated(w, "login required")
			return
		}
		id, err := m.Resolver.ResolveIdentity(r.Context(), userID)
		if err != nil {
			if errors.Is(err, ErrUnauthenticated) {
				writeUnauthenticated(w, err.Error())
				return
			}
			m.logger().Error("rbac resolve identity", slog.Any("error", err))
			httpx.Problem(w, http.StatusServiceUnavailable, "Identity Unavailable", "")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// Require allows the request through only when the identity may perform op.
func (m Middleware) Require(op Operation) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFromContext(r.Context())
			if !ok {
				writeUnauthenticated(w, "login required")
				return
			}
			if err := id.Require(op); err != nil {
				m.logger().Warn("rbac denied",
					slog.String("employee_id", id.EmployeeID.String()),
					slog.String("operation", string(op)),
					slog.String("path", r.URL.Path),
				)
				WriteDenied(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WriteDenied renders a permission failure naming the missing capability.
func WriteDenied(w http.ResponseWriter, err error) {
	meta := map[string]any{}
	var denied *DeniedError
	if errors.As(err, &denied) {
		meta["operation"] = denied.Operation
		if denied.Capability != "" {
			meta["capability"] = denied.Capability
		}
	}
	meta["redirect"] = "/dashboard/summary"
	httpx.WriteProblem(w, httpx.ProblemDetail{
		Status: http.StatusForbidden,
		Title:  "Permission Denied",
		Detail: err.Error(),
		Code:   "permission_denied",
		Meta:   meta,
	})
}

func writeUnauthenticated(w http.ResponseWriter, detail string) {
	httpx.WriteProblem(w, httpx.ProblemDetail{
		Status: http.StatusUnauthorized,
		Title:  "Unauthorized",
		Detail: detail,
		Code:   "unauthenticated",
	})
}

func (m Middleware) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}
