package api

import (
	"fmt"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/agentos-io/agentcore/pkg/runner"
	"github.com/agentos-io/agentcore/pkg/session"
)

// runRequest carries one pipeline invocation. Role fields default to the
// LLM implementation; temperature and retry fields pass through only when
// present.
type runRequest struct {
	SRSPath  string `json:"srs_path"`
	DataPath string `json:"data_path"`
	OutPath  string `json:"out_path"`

	Planner  string `json:"planner"`
	Executor string `json:"executor"`
	Critic   string `json:"critic"`
	Reviser  string `json:"reviser"`
	Provider string `json:"provider"`

	TempPlanner  *float64 `json:"temp_planner"`
	TempExecutor *float64 `json:"temp_executor"`
	TempCritic   *float64 `json:"temp_critic"`
	TempReviser  *float64 `json:"temp_reviser"`
	Retries      *int     `json:"retries"`
	MaxRows      *int     `json:"max_rows"`
}

// runHandler handles POST /api/run: it enqueues a pipeline job and waits
// briefly for the run to surface its trace id so the caller can follow
// the episode immediately.
func (s *Server) runHandler(c *echo.Context) error {
	var req runRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.SRSPath == "" || req.DataPath == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing_srs_or_data")
	}

	outPath := req.OutPath
	if outPath == "" {
		outPath = fmt.Sprintf("reports/run_%d.md", time.Now().Unix())
	}

	args := map[string]any{
		"srs_path":  req.SRSPath,
		"data_path": req.DataPath,
		"out":       outPath,
		"planner":   defaultRole(req.Planner),
		"executor":  defaultRole(req.Executor),
		"critic":    defaultRole(req.Critic),
		"reviser":   defaultRole(req.Reviser),
	}
	if req.Provider != "" {
		args["provider"] = req.Provider
	}
	putFloat(args, "temp_planner", req.TempPlanner)
	putFloat(args, "temp_executor", req.TempExecutor)
	putFloat(args, "temp_critic", req.TempCritic)
	putFloat(args, "temp_reviser", req.TempReviser)
	if req.Retries != nil {
		args["retries"] = *req.Retries
	}
	if req.MaxRows != nil {
		args["max_rows"] = *req.MaxRows
	}

	job := s.jobs.Enqueue(runner.Invocation{Kind: runner.KindRun, Args: args})
	traceID := s.jobs.WaitForTrace(job.ID, session.DefaultTraceWait)

	resp := map[string]any{
		"ok":       true,
		"job_id":   job.ID,
		"out_path": outPath,
	}
	if traceID != "" {
		resp["trace_id"] = traceID
	}
	return c.JSON(http.StatusOK, resp)
}

// runStatusHandler handles GET /api/run/status?job_id=...
func (s *Server) runStatusHandler(c *echo.Context) error {
	jobID := c.QueryParam("job_id")
	if jobID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing_job_id")
	}
	job, err := s.jobs.Get(jobID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true, "job": job.Clone()})
}

func defaultRole(role string) string {
	if role == "" {
		return "llm"
	}
	return role
}

func putFloat(args map[string]any, key string, v *float64) {
	if v != nil {
		args[key] = *v
	}
}
