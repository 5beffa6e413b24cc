package rbac

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/okash/okash-console/internal/platform/httpx"
)

// PermissionsHandler reports what the current identity may do.
type PermissionsHandler struct{}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler() *PermissionsHandler {
	return &PermissionsHandler{}
}

// MountRoutes registers permission routes. Callers mount it behind
// Middleware.Authenticate.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Get("/", h.listPermissions)
}

type permissionsResponse struct {
	Role         Role         `json:"role"`
	Capabilities []Capability `json:"capabilities"`
	Operations   []Operation  `json:"operations"`
}

func (h *PermissionsHandler) listPermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		writeUnauthenticated(w, "login required")
		return
	}
	caps := id.Permissions.List()
	if id.Role == RoleAdmin {
		caps = Capabilities()
	}
	httpx.JSON(w, http.StatusOK, permissionsResponse{
		Role:         id.Role,
		Capabilities: caps,
		Operations:   id.AllowedOperations(),
	})
}
