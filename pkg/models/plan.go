package models

import "fmt"

// Step operations understood by the executors.
const (
	OpCSVClean       = "csv.clean"
	OpStatsAggregate = "stats.aggregate"
	OpMDRender       = "md.render"
	OpMCPTool        = "mcp.tool"
)

// PlanStep is one operation of a plan. Step ids are stable strings
// (typically s1, s2, s3). Server/Tool are set only for mcp.tool steps.
type PlanStep struct {
	ID     string         `json:"id,omitempty"`
	Op     string         `json:"op"`
	Args   map[string]any `json:"args,omitempty"`
	Server string         `json:"server,omitempty"`
	Tool   string         `json:"tool,omitempty"`
}

// MCPSpec is a direct MCP invocation attached to a plan.
type MCPSpec struct {
	Server string         `json:"server,omitempty"`
	Tool   string         `json:"tool"`
	Args   map[string]any `json:"args,omitempty"`
}

// Plan is the planner's output. A plan with missing steps must remain
// runnable via per-step defaults.
type Plan struct {
	ID         string         `json:"id"`
	Steps      []PlanStep     `json:"steps,omitempty"`
	Params     map[string]any `json:"params,omitempty"`
	Risks      []string       `json:"risks,omitempty"`
	Acceptance any            `json:"acceptance,omitempty"`
	MCP        *MCPSpec       `json:"mcp,omitempty"`
}

// Step returns the step with the given id, or nil.
func (p *Plan) Step(id string) *PlanStep {
	for i := range p.Steps {
		if p.Steps[i].ID == id {
			return &p.Steps[i]
		}
	}
	return nil
}

// MCPInvocation resolves the MCP call a plan requests: the explicit mcp
// block when present, otherwise the first mcp.tool step.
func (p *Plan) MCPInvocation() (*MCPSpec, error) {
	if p.MCP != nil {
		return p.MCP, nil
	}
	for i := range p.Steps {
		st := &p.Steps[i]
		if st.Op == OpMCPTool {
			return &MCPSpec{Server: st.Server, Tool: st.Tool, Args: st.Args}, nil
		}
	}
	return nil, fmt.Errorf("plan %s contains no MCP invocation", p.ID)
}

// ReviewVerdict is the critic's output. Pass defaults to score >= 0.8 but
// producers may override it; both fields are authoritative.
type ReviewVerdict struct {
	Score   float64  `json:"score"`
	Pass    bool     `json:"pass"`
	Reasons []string `json:"reasons"`
}

// PassThreshold is the score at or above which a verdict passes by default.
const PassThreshold = 0.8
