package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentos-io/agentcore/pkg/runner"
)

func TestRunRequiresInputs(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/run",
		map[string]any{"srs_path": "examples/srs/weekly.json"}, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing_srs_or_data")
}

func TestRunEnqueuesAndReturnsTrace(t *testing.T) {
	env := newTestEnv(t)
	env.runner.outcome = &runner.Outcome{
		OK:     true,
		Result: map[string]any{"status": "success", "trace_id": "t-abc123def456"},
	}

	rec := env.do(t, http.MethodPost, "/api/run", map[string]any{
		"srs_path":  "examples/srs/weekly.json",
		"data_path": "examples/data/weekly.csv",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	doc := decodeBody(t, rec)
	assert.Equal(t, true, doc["ok"])
	assert.NotEmpty(t, doc["job_id"])
	assert.NotEmpty(t, doc["out_path"])
	assert.Equal(t, "t-abc123def456", doc["trace_id"])
}

func TestRunStatusReportsJob(t *testing.T) {
	env := newTestEnv(t)
	env.runner.outcome = &runner.Outcome{
		OK:     true,
		Result: map[string]any{"status": "success", "trace_id": "t-feedbeef0001"},
	}

	rec := env.do(t, http.MethodPost, "/api/run", map[string]any{
		"srs_path":  "examples/srs/weekly.json",
		"data_path": "examples/data/weekly.csv",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	jobID := decodeBody(t, rec)["job_id"].(string)

	waitForJob(t, env, jobID)
	rec = env.do(t, http.MethodGet, "/api/run/status?job_id="+jobID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	job := decodeBody(t, rec)["job"].(map[string]any)
	assert.Equal(t, "done", job["status"])
	assert.Equal(t, true, job["ok"])
	assert.Equal(t, "t-feedbeef0001", job["trace_id"])
}

func TestRunStatusUnknownJob(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/run/status?job_id=job-nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
