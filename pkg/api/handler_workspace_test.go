package api

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkspaceWriteReadList(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/ws/write", map[string]any{
		"path":    "notes/today.md",
		"content": "# standup\n",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/ws/read?path="+url.QueryEscape("notes/today.md"), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "# standup\n", decodeBody(t, rec)["content"])

	rec = env.do(t, http.MethodGet, "/api/ws/ls?path=notes", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	files := decodeBody(t, rec)["files"].([]any)
	require.Len(t, files, 1)
	assert.Equal(t, "today.md", files[0].(map[string]any)["name"])
}

func TestWorkspaceRejectsEscapes(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/ws/write", map[string]any{
		"path":    "../outside.md",
		"content": "nope",
	}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWorkspaceRejectsDisallowedSuffix(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/ws/write", map[string]any{
		"path":    "bin/tool.exe",
		"content": "MZ",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDownloadContainedToBase(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/ws/write", map[string]any{
		"path":    "report.md",
		"content": "done",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/download?path="+url.QueryEscape("workspace/report.md"), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "done", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "report.md")

	rec = env.do(t, http.MethodGet, "/download?path="+url.QueryEscape("../etc/passwd"), nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
