package api

import (
	"net/http"
	"sort"

	echo "github.com/labstack/echo/v5"

	"github.com/agentos-io/agentcore/pkg/envelope"
	"github.com/agentos-io/agentcore/pkg/mcp"
	"github.com/agentos-io/agentcore/pkg/outbox"
)

// mcpToolsHandler handles GET /api/mcp/tools?server=. Tools served from
// the local catalog because the remote server is down carry
// fallback: true.
func (s *Server) mcpToolsHandler(c *echo.Context) error {
	server := c.QueryParam("server")
	if server == "" {
		server = s.mcpRouter.DefaultServer()
	}

	tools, origin, err := s.mcpRouter.Tools(c.Request().Context(), server)
	if err != nil {
		return mapServiceError(err)
	}
	sort.Slice(tools, func(a, b int) bool { return tools[a].Name < tools[b].Name })

	return c.JSON(http.StatusOK, map[string]any{
		"ok":       true,
		"server":   server,
		"tools":    tools,
		"fallback": origin == mcp.OriginLocal,
	})
}

// mcpCallHandler handles POST /api/mcp/call with form fields server,
// tool and args_json. Every call is recorded as its own mini-trace in
// the episode corpus, success or failure.
func (s *Server) mcpCallHandler(c *echo.Context) error {
	server := c.Request().FormValue("server")
	if server == "" {
		server = s.mcpRouter.DefaultServer()
	}
	tool := mcp.NormalizeTool(c.Request().FormValue("tool"))
	if tool == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing_tool")
	}
	args := mcp.ParseArgs(c.Request().FormValue("args_json"))

	box, closeBox, err := s.openTraceOutbox()
	if err != nil {
		return mapServiceError(err)
	}
	defer closeBox()

	traceID := box.NewTrace("mcp.call " + server + "." + tool)
	_ = box.Append(envelope.TypeMCPCallRequest, map[string]any{
		"server": server, "tool": tool, "args": args,
	})

	result, origin, callErr := s.mcpRouter.Call(c.Request().Context(), server, tool, args)
	if callErr != nil {
		s.metrics.ObserveMCPCall(server, "error")
		_ = box.Append(envelope.TypeMCPCallError, map[string]any{
			"ok": false, "error": callErr.Error(),
		})
		if _, err := box.Finalize(outbox.StatusFailed, nil); err != nil {
			s.logger.Warn("finalize mcp trace", "trace_id", traceID, "error", err)
		}
		return c.JSON(http.StatusInternalServerError, map[string]any{
			"ok":       false,
			"error":    callErr.Error(),
			"trace_id": traceID,
		})
	}
	s.metrics.ObserveMCPCall(server, "ok")

	_ = box.Append(envelope.TypeMCPCallResult, map[string]any{
		"ok": true, "origin": string(origin), "result": result,
	})
	if _, err := box.Finalize(outbox.StatusSuccess, nil); err != nil {
		s.logger.Warn("finalize mcp trace", "trace_id", traceID, "error", err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"ok":       true,
		"server":   server,
		"tool":     tool,
		"result":   result,
		"origin":   string(origin),
		"trace_id": traceID,
	})
}
