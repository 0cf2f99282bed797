package models

// Conversation roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one stored conversation turn. Action carries the raw JSON
// of a structured action attached to an assistant turn, when any.
type ChatMessage struct {
	TS      string `json:"ts"`
	Role    string `json:"role"`
	Content string `json:"content"`
	Action  string `json:"action,omitempty"`
}

// Approval records a human decision about a trace or a proposed action.
type Approval struct {
	ID         int64          `json:"id"`
	TraceID    string         `json:"trace_id"`
	SessionID  string         `json:"session_id,omitempty"`
	Action     string         `json:"action,omitempty"`
	Decision   string         `json:"decision"`
	Payload    map[string]any `json:"payload,omitempty"`
	CreatedTS  string         `json:"created_ts"`
	ResolvedTS string         `json:"resolved_ts,omitempty"`
}

// TaskStack is a per-session opaque task state blob.
type TaskStack struct {
	SessionID string         `json:"session_id"`
	Stack     map[string]any `json:"stack"`
	UpdatedTS string         `json:"updated_ts"`
}
