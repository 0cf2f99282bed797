// Package agent defines the four pipeline roles (Planner, Executor, Critic,
// Reviser), a typed registry resolving implementations by role and name at
// startup, and the built-in rule, LLM, and MCP-backed agents.
package agent

import (
	"context"

	"github.com/agentos-io/agentcore/pkg/llm"
	"github.com/agentos-io/agentcore/pkg/mcp"
	"github.com/agentos-io/agentcore/pkg/models"
	"github.com/agentos-io/agentcore/pkg/skills"
)

// RunContext carries the per-run data agents read: the parsed CSV rows, the
// excerpt rendered into prompts, and the prompts directory.
type RunContext struct {
	Rows       []skills.Row
	CSVExcerpt string
	PromptsDir string
}

// Metrics is the executor's cost accounting for one stage.
type Metrics struct {
	LatencyMS int     `json:"latency_ms"`
	Retries   int     `json:"retries"`
	Cost      float64 `json:"cost"`
}

// ExecMeta is the executor's side channel next to the report text.
type ExecMeta struct {
	Artifacts map[string]any
	Metrics   Metrics
	LLM       *llm.Meta
	MCP       map[string]any
}

// Planner turns a task spec into a plan.
type Planner interface {
	Name() string
	Plan(ctx context.Context, spec *models.TaskSpec, rc *RunContext) (*models.Plan, error)
}

// Executor runs a plan and produces the report Markdown.
type Executor interface {
	Name() string
	Execute(ctx context.Context, spec *models.TaskSpec, plan *models.Plan, rc *RunContext) (string, *ExecMeta, error)
}

// Critic scores a report against the spec.
type Critic interface {
	Name() string
	Review(ctx context.Context, spec *models.TaskSpec, reportMD string, rc *RunContext) (*models.ReviewVerdict, error)
}

// Reviser patches a rejected report using the critic's verdict.
type Reviser interface {
	Name() string
	Revise(ctx context.Context, spec *models.TaskSpec, reportMD string, verdict *models.ReviewVerdict, rc *RunContext) (string, error)
}

// MetaCarrier is implemented by agents that record the metadata of their
// last provider call, for embedding into stage events.
type MetaCarrier interface {
	LastMeta() *llm.Meta
}

// Temperatures holds the per-role sampling temperatures.
type Temperatures struct {
	Planner  float64
	Executor float64
	Critic   float64
	Reviser  float64
}

// Deps carries the shared clients and tuning the agent factories close
// over. LLM may be nil when only rule agents are selected.
type Deps struct {
	LLM     llm.ChatProvider
	MCP     *mcp.Router
	Retries int
	Temps   Temperatures
}
