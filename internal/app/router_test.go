package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildhall/guildhall/internal/auth"
	"github.com/guildhall/guildhall/internal/observability"
	"github.com/guildhall/guildhall/internal/permissions"
	"github.com/guildhall/guildhall/internal/rbac"
	"github.com/guildhall/guildhall/jobs"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type staticGrants map[int64][]rbac.Grant

func (s staticGrants) UserGrants(_ context.Context, userID int64) ([]rbac.Grant, error) {
	return s[userID], nil
}

func newTestRouter(t *testing.T, readiness map[string]ReadinessCheck) (http.Handler, *auth.Issuer) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	issuer, err := auth.NewIssuer(testSecret, "guildhall")
	require.NoError(t, err)
	grants := staticGrants{
		1: {{RoleID: 10, Position: 1, Permissions: permissions.ManageRoles}},
		2: {{RoleID: 11, Position: 2, Permissions: permissions.CreateTimathon}},
	}
	cfg := &Config{AppEnv: "test", RateLimitPerMinute: 1000, AppRequestTimeout: 5 * time.Second}
	router := NewRouter(RouterParams{
		Logger:             logger,
		Config:             cfg,
		Auth:               auth.Middleware{Verifier: auth.NewVerifier(testSecret, "guildhall"), Logger: logger},
		RBACMiddleware:     rbac.Middleware{Service: rbac.NewService(grants), Logger: logger},
		PermissionsHandler: rbac.NewPermissionsHandler(),
		JobHandler:         jobs.NewHandler(nil, nil, logger),
		Metrics:            observability.NewMetrics(),
		Readiness:          readiness,
	})
	return router, issuer
}

func get(t *testing.T, h http.Handler, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouterPublicEndpoints(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	rec := get(t, router, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rec.Header().Get("X-Frame-Options"))

	assert.Equal(t, http.StatusOK, get(t, router, "/permissions", "").Code)
	assert.Equal(t, http.StatusOK, get(t, router, "/metrics", "").Code)
}

func TestRouterJobsRequireManageRoles(t *testing.T) {
	router, issuer := newTestRouter(t, nil)
	managerToken, err := issuer.Issue(1, time.Hour)
	require.NoError(t, err)
	hostToken, err := issuer.Issue(2, time.Hour)
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, get(t, router, "/jobs/health", "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(t, router, "/jobs/health", "not-a-token").Code)
	assert.Equal(t, http.StatusForbidden, get(t, router, "/jobs/health", hostToken).Code)
	assert.Equal(t, http.StatusOK, get(t, router, "/jobs/health", managerToken).Code)
}

func TestRouterReadiness(t *testing.T) {
	router, _ := newTestRouter(t, map[string]ReadinessCheck{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	})

	rec := get(t, router, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"postgres":"ok","redis":"unavailable"}`, rec.Body.String())
}
