package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthzReportsDatabase(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	doc := decodeBody(t, rec)
	assert.Equal(t, "healthy", doc["status"])
	checks := doc["checks"].(map[string]any)
	assert.Equal(t, "ok", checks["database"])
}

func TestConfigRedactsCredentials(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.LLM.APIKey = "sk-very-secret"
	env.cfg.Security.AdminToken = "s3cret"

	rec := env.do(t, http.MethodGet, "/api/config", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.NotContains(t, body, "sk-very-secret")
	assert.NotContains(t, body, "s3cret")
	assert.Contains(t, body, "[redacted]")

	doc := decodeBody(t, rec)
	cfg := doc["config"].(map[string]any)
	llmDoc := cfg["llm"].(map[string]any)
	assert.Equal(t, "[redacted]", llmDoc["api_key"])
}

func TestMetricsExposition(t *testing.T) {
	env := newTestEnv(t)
	// Generate one observation first.
	env.do(t, http.MethodGet, "/healthz", nil, nil)

	rec := env.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "agentcore_http_requests_total")
}
