package roles

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/guildhall/guildhall/internal/auth"
	"github.com/guildhall/guildhall/internal/permissions"
	"github.com/guildhall/guildhall/internal/platform/httpx"
)

// Handler manages role management endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers role routes. Authorization happens in the service, after
// input validation and existence checks.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.listRoles)
	r.Post("/", h.createRole)
	r.Route("/{roleID}", func(r chi.Router) {
		r.Get("/", h.getRole)
		r.Patch("/", h.updateRole)
		r.Delete("/", h.deleteRole)
		r.Put("/position", h.moveRole)
		r.Put("/members/{userID}", h.assignRole)
		r.Delete("/members/{userID}", h.unassignRole)
	})
}

// RoleResponse is the JSON form of a role.
type RoleResponse struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	Color           *int             `json:"color"`
	Permissions     permissions.Mask `json:"permissions"`
	PermissionNames []string         `json:"permission_names"`
	Position        int              `json:"position"`
	Base            bool             `json:"base"`
	CreatedAt       time.Time        `json:"created_at"`
}

type roleDetailResponse struct {
	RoleResponse
	Members []string `json:"members"`
}

type listResponse struct {
	Roles  []RoleResponse `json:"roles"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// NewRoleResponse renders a role for JSON output.
func NewRoleResponse(role Role) RoleResponse {
	return RoleResponse{
		ID:              strconv.FormatInt(role.ID, 10),
		Name:            role.Name,
		Color:           role.Color,
		Permissions:     role.Permissions,
		PermissionNames: role.Permissions.Names(),
		Position:        role.Position,
		Base:            role.Base,
		CreatedAt:       role.CreatedAt(),
	}
}

type createRoleRequest struct {
	Name        string           `json:"name"`
	Color       *int             `json:"color"`
	Permissions permissions.Mask `json:"permissions"`
}

type updateRoleRequest struct {
	Name        *string           `json:"name"`
	Color       json.RawMessage   `json:"color"`
	Permissions *permissions.Mask `json:"permissions"`
	Position    *int              `json:"position"`
}

func (req updateRoleRequest) input() (UpdateInput, error) {
	in := UpdateInput{Name: req.Name, Permissions: req.Permissions, Position: req.Position}
	switch {
	case len(req.Color) == 0:
	case bytes.Equal(bytes.TrimSpace(req.Color), []byte("null")):
		in.ClearColor = true
	default:
		var c int
		if err := json.Unmarshal(req.Color, &c); err != nil {
			return UpdateInput{}, validationError("color must be an integer or null")
		}
		in.Color = &c
	}
	return in, nil
}

type moveRoleRequest struct {
	Position int `json:"position"`
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{Name: q.Get("name")}
	var err error
	if filter.Limit, err = queryInt(q.Get("limit")); err != nil {
		httpx.RespondError(w, validationError("limit must be an integer"))
		return
	}
	if filter.Offset, err = queryInt(q.Get("offset")); err != nil {
		httpx.RespondError(w, validationError("offset must be an integer"))
		return
	}
	filter = filter.Normalize()
	list, total, err := h.service.ListRoles(r.Context(), filter)
	if err != nil {
		h.fail(w, "list roles", err)
		return
	}
	out := listResponse{Roles: make([]RoleResponse, 0, len(list)), Total: total, Limit: filter.Limit, Offset: filter.Offset}
	for _, role := range list {
		out.Roles = append(out.Roles, NewRoleResponse(role))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "roleID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	detail, err := h.service.GetRole(r.Context(), id)
	if err != nil {
		h.fail(w, "get role", err)
		return
	}
	out := roleDetailResponse{RoleResponse: NewRoleResponse(detail.Role), Members: make([]string, 0, len(detail.Members))}
	for _, m := range detail.Members {
		out.Members = append(out.Members, strconv.FormatInt(m, 10))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actor(w, r)
	if !ok {
		return
	}
	var req createRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, validationError("invalid body: %v", err))
		return
	}
	role, err := h.service.CreateRole(r.Context(), actorID, CreateInput{Name: req.Name, Color: req.Color, Permissions: req.Permissions})
	if err != nil {
		h.fail(w, "create role", err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/roles/%d", role.ID))
	httpx.JSON(w, http.StatusCreated, NewRoleResponse(role))
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actor(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "roleID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req updateRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, validationError("invalid body: %v", err))
		return
	}
	in, err := req.input()
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	role, err := h.service.UpdateRole(r.Context(), actorID, id, in)
	if err != nil {
		h.fail(w, "update role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, NewRoleResponse(role))
}

func (h *Handler) moveRole(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actor(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "roleID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req moveRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, validationError("invalid body: %v", err))
		return
	}
	role, err := h.service.MoveRole(r.Context(), actorID, id, req.Position)
	if err != nil {
		h.fail(w, "move role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, NewRoleResponse(role))
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actor(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "roleID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeleteRole(r.Context(), actorID, id); err != nil {
		h.fail(w, "delete role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actor(w, r)
	if !ok {
		return
	}
	roleID, userID, err := memberIDs(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.AssignRole(r.Context(), actorID, userID, roleID); err != nil {
		h.fail(w, "assign role", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]string{
		"user_id": strconv.FormatInt(userID, 10),
		"role_id": strconv.FormatInt(roleID, 10),
	})
}

func (h *Handler) unassignRole(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actor(w, r)
	if !ok {
		return
	}
	roleID, userID, err := memberIDs(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.UnassignRole(r.Context(), actorID, userID, roleID); err != nil {
		h.fail(w, "unassign role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// fail responds with the mapped error. Unexpected errors are already logged by the
// service.
func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Debug(op, slog.Any("error", err))
	httpx.RespondError(w, err)
}

func actor(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
	}
	return id, ok
}

func pathID(r *http.Request, key string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, key), 10, 64)
	if err != nil || id <= 0 {
		return 0, validationError("%s must be a positive integer", key)
	}
	return id, nil
}

func memberIDs(r *http.Request) (int64, int64, error) {
	roleID, err := pathID(r, "roleID")
	if err != nil {
		return 0, 0, err
	}
	userID, err := pathID(r, "userID")
	if err != nil {
		return 0, 0, err
	}
	return roleID, userID, nil
}

func queryInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
