package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSecurityHeadersSet(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/healthz", nil, nil)

	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestAdminGuardOpenWhenUnconfigured(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/workflows",
		map[string]any{"name": "wf"}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminGuardRejectsWithoutToken(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Security.AdminToken = "s3cret"

	rec := env.do(t, http.MethodPost, "/api/workflows",
		map[string]any{"name": "wf"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminGuardAcceptsHeaderAndBearer(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Security.AdminToken = "s3cret"

	rec := env.do(t, http.MethodPost, "/api/workflows",
		map[string]any{"name": "wf-a"}, map[string]string{"X-Admin-Token": "s3cret"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/workflows",
		map[string]any{"name": "wf-b"}, map[string]string{"Authorization": "Bearer s3cret"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminGuardGetPassesUnlessProtected(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Security.AdminToken = "s3cret"

	rec := env.do(t, http.MethodGet, "/api/workflows", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	env.cfg.Security.ProtectGet = true
	rec = env.do(t, http.MethodGet, "/api/workflows", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminGuardAllowlistComposesWithToken(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Security.AdminToken = "s3cret"
	env.cfg.Security.IPAllowlist = []string{"10.9.9.9"}

	// httptest requests come from 192.0.2.1, which is not allowlisted;
	// the valid token must not override the address check.
	rec := env.do(t, http.MethodPost, "/api/workflows",
		map[string]any{"name": "wf"}, map[string]string{"X-Admin-Token": "s3cret"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	env.cfg.Security.IPAllowlist = []string{"192.0.2.1"}
	rec = env.do(t, http.MethodPost, "/api/workflows",
		map[string]any{"name": "wf"}, map[string]string{"X-Admin-Token": "s3cret"})
	assert.Equal(t, http.StatusOK, rec.Code)
}
