package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentos-io/agentcore/pkg/mcp"
	"github.com/agentos-io/agentcore/pkg/models"
)

// MCPToolExecutor delegates the whole execution stage to a single MCP tool
// call named by the plan (its mcp block or an mcp.tool step).
type MCPToolExecutor struct {
	router *mcp.Router
}

func (e *MCPToolExecutor) Name() string { return "mcp_tool" }

func (e *MCPToolExecutor) Execute(ctx context.Context, _ *models.TaskSpec, plan *models.Plan, _ *RunContext) (string, *ExecMeta, error) {
	if e.router == nil {
		return "", nil, fmt.Errorf("mcp_tool executor has no MCP router")
	}
	spec, err := plan.MCPInvocation()
	if err != nil {
		return "", nil, err
	}
	if spec.Tool == "" {
		return "", nil, fmt.Errorf("plan %s names no MCP tool", plan.ID)
	}

	start := time.Now()
	res, _, err := e.router.Call(ctx, spec.Server, spec.Tool, spec.Args)
	if err != nil {
		return "", nil, fmt.Errorf("mcp call %s.%s failed: %w", spec.Server, spec.Tool, err)
	}

	text := res.Text
	if text == "" && res.Structured != nil {
		// Common server convention: the report rides under markdown/text.
		if md, ok := res.Structured["markdown"].(string); ok && md != "" {
			text = md
		} else if t, ok := res.Structured["text"].(string); ok && t != "" {
			text = t
		} else if raw, err := json.Marshal(res.Structured); err == nil {
			text = string(raw)
		}
	}
	if text == "" {
		text = "<no content>"
	}

	meta := &ExecMeta{
		Metrics: Metrics{LatencyMS: int(time.Since(start).Milliseconds())},
		MCP: map[string]any{
			"server": spec.Server,
			"tool":   spec.Tool,
			"args":   spec.Args,
		},
	}
	return text, meta, nil
}
