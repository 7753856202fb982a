package rbac

import (
	"log/slog"
	"net/http"

	"github.com/guildhall/guildhall/internal/auth"
	"github.com/guildhall/guildhall/internal/permissions"
	"github.com/guildhall/guildhall/internal/platform/httpx"
)

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Service *Service
	Logger  *slog.Logger
}

// RequireAny ensures the current user has at least one of the required permissions.
func (m Middleware) RequireAny(perms ...permissions.Mask) func(http.Handler) http.Handler {
	required := permissions.Union(perms...)
	return m.require("rbac require any", required, func(granted permissions.Mask) bool {
		return granted.HasAny(required)
	})
}

// RequireAll ensures the current user has all required permissions.
func (m Middleware) RequireAll(perms ...permissions.Mask) func(http.Handler) http.Handler {
	required := permissions.Union(perms...)
	return m.require("rbac require all", required, func(granted permissions.Mask) bool {
		return granted.HasAll(required)
	})
}

func (m Middleware) require(op string, required permissions.Mask, allowed func(permissions.Mask) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if required == 0 {
				next.ServeHTTP(w, r)
				return
			}
			userID, ok := auth.UserIDFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			granted, err := m.Service.Resolve(r.Context(), userID)
			if err != nil {
				if m.Logger != nil {
					m.Logger.Error(op, slog.Any("error", err))
				}
				httpx.RespondError(w, err)
				return
			}
			if allowed(granted) {
				next.ServeHTTP(w, r)
				return
			}
			if m.Logger != nil {
				m.Logger.Warn(op+" denied",
					slog.Int64("user_id", userID),
					slog.String("required", required.String()),
					slog.String("granted", granted.String()))
			}
			httpx.RespondError(w, httpx.ErrForbidden)
		})
	}
}
