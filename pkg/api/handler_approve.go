package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/agentos-io/agentcore/pkg/envelope"
	"github.com/agentos-io/agentcore/pkg/services"
)

// approveRequest records a human decision about a finalized trace.
type approveRequest struct {
	TraceID   string         `json:"trace_id"`
	Decision  string         `json:"decision"`
	Action    string         `json:"action"`
	Note      string         `json:"note"`
	SessionID string         `json:"session_id"`
	Payload   map[string]any `json:"payload"`
	By        string         `json:"by"`
}

// approveHandler handles POST /api/approve. The decision is stored in the
// approvals table and appended to the target episode as a
// guardian.approval event, so the corpus itself carries the human
// verdict.
func (s *Server) approveHandler(c *echo.Context) error {
	var req approveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.TraceID == "" || req.Decision == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing_trace_or_decision")
	}

	by := req.By
	if by == "" {
		by = extractAuthor(c.Request())
	}

	payload := map[string]any{"decision": req.Decision, "by": by}
	if req.Action != "" {
		payload["action"] = req.Action
	}
	if req.Note != "" {
		payload["note"] = req.Note
	}
	env := envelope.New(req.TraceID, envelope.TypeGuardianApproval, payload)
	doc, err := env.Doc()
	if err != nil {
		return mapServiceError(err)
	}
	if err := s.appendToEpisode(req.TraceID, doc); err != nil {
		httpErr := mapServiceError(err)
		if httpErr.Code == http.StatusNotFound {
			return echo.NewHTTPError(http.StatusNotFound, "episode_not_found")
		}
		return httpErr
	}

	approvalID, err := s.approvals.Log(c.Request().Context(), req.TraceID, req.Decision, services.ApprovalRecord{
		Action:    req.Action,
		SessionID: req.SessionID,
		Payload:   req.Payload,
		Resolved:  true,
	})
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"ok":          true,
		"approval_id": approvalID,
		"trace_id":    req.TraceID,
	})
}

// approvalsHandler handles GET /api/approvals?limit=&decision=
func (s *Server) approvalsHandler(c *echo.Context) error {
	limit := 50
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		limit = n
	}
	approvals, err := s.approvals.List(c.Request().Context(), limit, c.QueryParam("decision"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true, "approvals": approvals})
}
