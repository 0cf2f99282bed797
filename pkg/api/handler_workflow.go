package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/agentos-io/agentcore/pkg/models"
)

// workflowCreateRequest stores a multi-step recipe. Definition is the
// parsed form; DefinitionJSON wins when both are present.
type workflowCreateRequest struct {
	Name           string                     `json:"name"`
	Definition     *models.WorkflowDefinition `json:"definition"`
	DefinitionJSON string                     `json:"definition_json"`
	Enabled        *bool                      `json:"enabled"`
}

// workflowCreateHandler handles POST /api/workflows.
func (s *Server) workflowCreateHandler(c *echo.Context) error {
	var req workflowCreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	definitionJSON := req.DefinitionJSON
	if definitionJSON == "" && req.Definition != nil {
		raw, err := json.Marshal(req.Definition)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid definition")
		}
		definitionJSON = string(raw)
	}
	enabled := req.Enabled == nil || *req.Enabled

	id, err := s.workflows.Create(c.Request().Context(), req.Name, definitionJSON, enabled)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true, "id": id})
}

// workflowListHandler handles GET /api/workflows.
func (s *Server) workflowListHandler(c *echo.Context) error {
	workflows, err := s.workflows.List(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	if workflows == nil {
		workflows = []models.Workflow{}
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true, "workflows": workflows})
}

// workflowGetHandler handles GET /api/workflows/:id with the parsed
// definition included.
func (s *Server) workflowGetHandler(c *echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid workflow id")
	}
	wf, err := s.workflows.Get(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(err)
	}
	resp := map[string]any{"ok": true, "workflow": wf}
	if def, err := wf.Definition(); err == nil {
		resp["definition"] = def
	}
	return c.JSON(http.StatusOK, resp)
}

// jobScheduleRequest schedules one workflow execution. RunAt takes an
// ISO-8601 UTC timestamp; AfterSeconds offsets from now instead. Args
// override the workflow's own step arguments.
type jobScheduleRequest struct {
	WorkflowID   int64          `json:"workflow_id"`
	RunAt        string         `json:"run_at"`
	AfterSeconds *int           `json:"after_seconds"`
	Args         map[string]any `json:"args"`
}

// jobScheduleHandler handles POST /api/jobs/schedule.
func (s *Server) jobScheduleHandler(c *echo.Context) error {
	var req jobScheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	runAt := req.RunAt
	if runAt == "" {
		after := 0
		if req.AfterSeconds != nil {
			after = *req.AfterSeconds
		}
		runAt = time.Now().UTC().Add(time.Duration(after) * time.Second).Format(time.RFC3339)
	}

	argsJSON := ""
	if req.Args != nil {
		raw, err := json.Marshal(req.Args)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid args")
		}
		argsJSON = string(raw)
	}

	jobID, err := s.jobQueue.Schedule(c.Request().Context(), req.WorkflowID, runAt, argsJSON)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true, "job_id": jobID, "run_at": runAt})
}

// jobListHandler handles GET /api/jobs?workflow_id=
func (s *Server) jobListHandler(c *echo.Context) error {
	var workflowID int64
	if v := c.QueryParam("workflow_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid workflow id")
		}
		workflowID = id
	}
	jobs, err := s.jobQueue.List(c.Request().Context(), workflowID)
	if err != nil {
		return mapServiceError(err)
	}
	if jobs == nil {
		jobs = []models.Job{}
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true, "jobs": jobs})
}

// jobGetHandler handles GET /api/jobs/get?job_id= and includes the
// parsed step outcomes once the job ran.
func (s *Server) jobGetHandler(c *echo.Context) error {
	job, err := s.loadJob(c)
	if err != nil {
		return err
	}
	resp := map[string]any{"ok": true, "job": job}
	if job.ResultJSON != "" {
		var outcome models.JobOutcome
		if err := json.Unmarshal([]byte(job.ResultJSON), &outcome); err == nil {
			resp["outcome"] = outcome
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// jobRetryRequest names the job, and for retry-step the zero-based step
// index, to run again.
type jobRetryRequest struct {
	JobID int64 `json:"job_id"`
	Step  *int  `json:"step"`
}

// jobRetryHandler handles POST /api/jobs/retry: it clones the job for
// immediate execution.
func (s *Server) jobRetryHandler(c *echo.Context) error {
	var req jobRetryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	job, err := s.getJob(c, req.JobID)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	newID, schedErr := s.jobQueue.Schedule(c.Request().Context(), job.WorkflowID, now, job.ArgsJSON)
	if schedErr != nil {
		return mapServiceError(schedErr)
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true, "job_id": newID, "retries": job.ID})
}

// jobRetryStepHandler handles POST /api/jobs/retry-step: it reschedules
// a single workflow step, wrapped as a one-step job so the scheduler
// runs exactly that step with the original arguments.
func (s *Server) jobRetryStepHandler(c *echo.Context) error {
	var req jobRetryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Step == nil || *req.Step < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid step index")
	}
	idx := *req.Step
	job, err := s.getJob(c, req.JobID)
	if err != nil {
		return err
	}

	wf, wfErr := s.workflows.Get(c.Request().Context(), job.WorkflowID)
	if wfErr != nil {
		return mapServiceError(wfErr)
	}
	def, defErr := wf.Definition()
	if defErr != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid workflow definition")
	}
	steps := def.Steps
	if len(steps) == 0 && def.Action != nil {
		steps = []models.WorkflowStep{*def.Action}
	}
	if idx >= len(steps) {
		return echo.NewHTTPError(http.StatusBadRequest, "step index out of range")
	}

	wrapped, marshalErr := json.Marshal(models.WorkflowDefinition{Steps: []models.WorkflowStep{steps[idx]}})
	if marshalErr != nil {
		return mapServiceError(marshalErr)
	}
	name := wf.Name + " (step retry)"
	wrapID, createErr := s.workflows.Create(c.Request().Context(), name, string(wrapped), true)
	if createErr != nil {
		return mapServiceError(createErr)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	newID, schedErr := s.jobQueue.Schedule(c.Request().Context(), wrapID, now, job.ArgsJSON)
	if schedErr != nil {
		return mapServiceError(schedErr)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"ok":          true,
		"job_id":      newID,
		"workflow_id": wrapID,
		"step":        idx,
	})
}

// loadJob resolves the job_id query parameter.
func (s *Server) loadJob(c *echo.Context) (*models.Job, error) {
	id, err := strconv.ParseInt(c.QueryParam("job_id"), 10, 64)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid job id")
	}
	return s.getJob(c, id)
}

func (s *Server) getJob(c *echo.Context, id int64) (*models.Job, error) {
	if id <= 0 {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid job id")
	}
	job, err := s.jobQueue.Get(c.Request().Context(), id)
	if err != nil {
		return nil, mapServiceError(err)
	}
	return job, nil
}
