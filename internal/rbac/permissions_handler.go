package rbac

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/guildhall/guildhall/internal/permissions"
	"github.com/guildhall/guildhall/internal/platform/httpx"
)

// PermissionsHandler serves the permission registry.
type PermissionsHandler struct{}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler() *PermissionsHandler {
	return &PermissionsHandler{}
}

// MountRoutes registers permission routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Get("/", h.listPermissions)
}

type permissionsResponse struct {
	Permissions []permissions.Definition `json:"permissions"`
	Known       permissions.Mask         `json:"known"`
}

func (h *PermissionsHandler) listPermissions(w http.ResponseWriter, r *http.Request) {
	defs := permissions.All()
	if raw := r.URL.Query().Get("public"); raw != "" {
		public, err := strconv.ParseBool(raw)
		if err != nil {
			httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", "public must be a boolean")
			return
		}
		filtered := defs[:0]
		for _, def := range defs {
			if def.Public == public {
				filtered = append(filtered, def)
			}
		}
		defs = filtered
	}
	httpx.JSON(w, http.StatusOK, permissionsResponse{Permissions: defs, Known: permissions.Known()})
}
