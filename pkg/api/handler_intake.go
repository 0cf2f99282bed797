package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/agentos-io/agentcore/pkg/intake"
	"github.com/agentos-io/agentcore/pkg/models"
)

// intakeRequest turns a natural-language request into an SRS draft.
// Refine defaults to true; explicit false skips the model pass and keeps
// the heuristic parse. Overrides are deep-merged over the built spec.
type intakeRequest struct {
	Query     string           `json:"query"`
	DataPath  string           `json:"data_path"`
	Refine    *bool            `json:"refine"`
	Overrides *models.TaskSpec `json:"overrides"`
}

// intakeHandler handles POST /api/agent/intake.
func (s *Server) intakeHandler(c *echo.Context) error {
	var req intakeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if s.intake == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "intake not configured")
	}

	refine := req.Refine == nil || *req.Refine
	res, err := s.intake.Build(c.Request().Context(), req.Query, req.DataPath, refine, req.Overrides)
	if err != nil {
		return mapServiceError(err)
	}

	srsPath, err := s.saveSRS(c, res.Spec)
	if err != nil {
		return mapServiceError(err)
	}

	dataPath := req.DataPath
	if dataPath == "" {
		dataPath = res.Spec.CSVPath()
	}
	if dataPath == "" {
		dataPath = intake.DefaultDataPath
	}

	resp := map[string]any{
		"ok":        true,
		"srs":       res.Spec,
		"srs_path":  srsPath,
		"task_spec": res.Spec,
		"run":       intake.RunPlan(srsPath, dataPath),
	}
	if res.LLM != nil {
		resp["llm"] = res.LLM
	}
	if res.Warning != "" {
		resp["warning"] = res.Warning
	}
	return c.JSON(http.StatusOK, resp)
}

// saveSRS writes the built spec into the workspace and returns a path
// the runner can open directly.
func (s *Server) saveSRS(c *echo.Context, spec *models.TaskSpec) (string, error) {
	raw, err := json.MarshalIndent(spec, "", "  ")
	if err != nil {
		return "", err
	}
	rel := fmt.Sprintf("srs/auto_%d.json", time.Now().Unix())
	user := extractAuthor(c.Request())
	if err := s.files.Write(rel, string(raw), user, clientIP(c.Request())); err != nil {
		return "", err
	}
	return filepath.Join(s.files.Root(), rel), nil
}
