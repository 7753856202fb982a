package users

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/guildhall/guildhall/internal/auth"
	"github.com/guildhall/guildhall/internal/permissions"
	"github.com/guildhall/guildhall/internal/platform/httpx"
	"github.com/guildhall/guildhall/internal/rbac"
	"github.com/guildhall/guildhall/internal/roles"
)

// Handler manages user endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers user routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/@me", h.me)
	r.Get("/{userID}/roles", h.userRoles)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(permissions.ManageRoles))
		r.Put("/{userID}", h.register)
	})
}

type userResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
	Roles     []string  `json:"roles,omitempty"`
}

func newUserResponse(u User) userResponse {
	return userResponse{ID: strconv.FormatInt(u.ID, 10), Username: u.Username, CreatedAt: u.CreatedAt}
}

type registerRequest struct {
	Username string `json:"username"`
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	profile, err := h.service.Profile(r.Context(), userID)
	if err != nil {
		h.fail(w, "load profile", err)
		return
	}
	out := newUserResponse(profile.User)
	out.Roles = make([]string, 0, len(profile.Roles))
	for _, id := range profile.RoleIDs() {
		out.Roles = append(out.Roles, strconv.FormatInt(id, 10))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) userRoles(w http.ResponseWriter, r *http.Request) {
	actorID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	userID, err := pathUserID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	held, err := h.service.RolesOf(r.Context(), actorID, userID)
	if err != nil {
		h.fail(w, "list user roles", err)
		return
	}
	out := make([]roles.RoleResponse, 0, len(held))
	for _, role := range held {
		out = append(out, roles.NewRoleResponse(role))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	userID, err := pathUserID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req registerRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	u, err := h.service.Register(r.Context(), RegisterInput{ID: userID, Username: req.Username})
	if err != nil {
		h.fail(w, "register user", err)
		return
	}
	httpx.JSON(w, http.StatusOK, newUserResponse(u))
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if h.logger != nil {
		h.logger.Debug(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func pathUserID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || id <= 0 {
		return 0, httpx.ErrValidation
	}
	return id, nil
}
