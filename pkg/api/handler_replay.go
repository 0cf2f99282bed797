package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/agentos-io/agentcore/pkg/runner"
)

// replayRequest selects an episode to read back or re-execute. Trace may
// be a full trace id or a unique prefix; Last picks the most recent
// episode instead. DB overrides the backend with an explicit SQLite path.
type replayRequest struct {
	Trace string `json:"trace"`
	Last  bool   `json:"last"`
	Out   string `json:"out"`
	DB    string `json:"db"`
}

// replayHandler handles POST /api/replay: the saved review verdict
// without re-running anything.
func (s *Server) replayHandler(c *echo.Context) error {
	return s.replay(c, false)
}

// rerunHandler handles POST /api/rerun: offline re-execution of the
// saved plan with the local skill primitives.
func (s *Server) rerunHandler(c *echo.Context) error {
	return s.replay(c, true)
}

func (s *Server) replay(c *echo.Context, rerun bool) error {
	var req replayRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Trace == "" && !req.Last {
		return echo.NewHTTPError(http.StatusBadRequest, "missing_trace_or_last")
	}

	result, err := runner.ExecuteReplay(c.Request().Context(), s.cfg, runner.ReplayRequest{
		DBPath: req.DB,
		Trace:  req.Trace,
		Last:   req.Last,
		Rerun:  rerun,
		Out:    req.Out,
	})
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true, "result": result})
}
