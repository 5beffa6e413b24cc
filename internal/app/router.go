package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/okash/okash-console/internal/auth"
	"github.com/okash/okash-console/internal/fx"
	"github.com/okash/okash-console/internal/ledger"
	"github.com/okash/okash-console/internal/observability"
	"github.com/okash/okash-console/internal/platform/httpx"
	"github.com/okash/okash-console/internal/rbac"
	"github.com/okash/okash-console/internal/reporting"
	"github.com/okash/okash-console/internal/shared"
	"github.com/okash/okash-console/jobs"
)

// Pinger reports whether a backing store answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	SessionManager     *shared.SessionManager
	CSRFManager        *shared.CSRFManager
	RBACMiddleware     rbac.Middleware
	AuthHandler        *auth.Handler
	LedgerHandler      *ledger.Handler
	FXHandler          *fx.Handler
	ReportingHandler   *reporting.Handler
	PermissionsHandler *rbac.PermissionsHandler
	JobHandler         *jobs.Handler
	Metrics            *observability.Metrics
	Database           Pinger
}

// NewRouter constructs the chi.Router with console defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if params.Database != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := params.Database.Ping(ctx); err != nil {
				httpx.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "database": "unreachable"})
				return
			}
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", params.Metrics.Handler())

	authn := params.RBACMiddleware.Authenticate
	r.Route("/auth", func(r chi.Router) {
		params.AuthHandler.MountRoutes(r, authn)
	})

	r.Group(func(r chi.Router) {
		r.Use(authn)
		if params.PermissionsHandler != nil {
			r.Route("/permissions", params.PermissionsHandler.MountRoutes)
		}
		r.Route("/accounts", params.LedgerHandler.MountAccountRoutes)
		r.Route("/transactions", func(r chi.Router) {
			r.Use(params.RBACMiddleware.Require(rbac.OpManageTransactions))
			params.LedgerHandler.MountTransactionRoutes(r)
		})
		if params.FXHandler != nil {
			r.Route("/exchange-rates", params.FXHandler.MountRoutes)
		}
		r.Route("/dashboard", func(r chi.Router) {
			r.Use(params.RBACMiddleware.Require(rbac.OpViewDashboard))
			params.ReportingHandler.MountRoutes(r)
		})
	})

	if params.JobHandler != nil {
		r.Route("/jobs", func(r chi.Router) {
			params.JobHandler.MountRoutes(r)
			r.Route("/admin", func(r chi.Router) {
				r.Use(authn, params.RBACMiddleware.Require(rbac.OpAccessAdmin))
				params.JobHandler.MountAdminRoutes(r)
			})
		})
	}

	return r
}
