package chat

import (
	"encoding/json"

	"github.com/agentos-io/agentcore/pkg/mcp"
)

// Action types the conversation contract recognizes.
const (
	ActionRun     = "run"
	ActionMCPCall = "mcp_call"
)

// Action is a structured command extracted from a model reply or typed by
// the user. Type "mcp_call" names a tool to execute; type "run" carries
// pipeline arguments for the caller to enqueue.
type Action struct {
	Type   string         `json:"type"`
	Server string         `json:"server,omitempty"`
	Tool   string         `json:"tool,omitempty"`
	Args   map[string]any `json:"args,omitempty"`
}

// IsMCPCall reports whether the action names an executable tool.
func (a *Action) IsMCPCall() bool {
	return a != nil && a.Type == ActionMCPCall && a.Tool != ""
}

// actionFromDoc decodes the loosely typed action object found in model
// output. Objects without a type are not actions.
func actionFromDoc(v any) *Action {
	doc, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	act := &Action{}
	act.Type, _ = doc["type"].(string)
	if act.Type == "" {
		return nil
	}
	act.Server, _ = doc["server"].(string)
	act.Tool, _ = doc["tool"].(string)
	if args, ok := doc["args"].(map[string]any); ok {
		act.Args = args
	}
	return act
}

// ToolExecution records one MCP call made during a turn, successful or
// not. Origin "local" flags a degraded answer served by the fallback
// tool set.
type ToolExecution struct {
	Server  string         `json:"server,omitempty"`
	Tool    string         `json:"tool,omitempty"`
	Args    map[string]any `json:"args,omitempty"`
	Result  map[string]any `json:"result,omitempty"`
	Origin  string         `json:"origin,omitempty"`
	TraceID string         `json:"trace_id,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Result is the outcome of one conversation turn. Action is an executed
// or directly executable command; NextAction is a proposal awaiting
// human approval and is never executed by the agent.
type Result struct {
	Reply      string         `json:"reply"`
	Action     *Action        `json:"action,omitempty"`
	NextAction *Action        `json:"next_action,omitempty"`
	SRSPath    string         `json:"srs_path,omitempty"`
	MCP        *ToolExecution `json:"mcp,omitempty"`
	LLM        map[string]any `json:"llm,omitempty"`
}

// renderObservation flattens a tool result into the text fed back into
// the conversation.
func renderObservation(res *mcp.ToolResult) string {
	if res.Text != "" {
		return res.Text
	}
	if res.Structured != nil {
		if data, err := json.Marshal(res.Structured); err == nil {
			return string(data)
		}
	}
	return "<no result>"
}

// truncateRunes caps s at limit runes, appending marker when it cuts.
func truncateRunes(s string, limit int, marker string) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + marker
}
