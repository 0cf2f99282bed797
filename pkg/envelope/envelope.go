// Package envelope defines the versioned event envelope wrapped around every
// pipeline event before it reaches the outbox. Envelopes are validated
// against the embedded v0 JSON schema at append time, so a malformed event
// is rejected before anything is persisted.
package envelope

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is the only envelope schema revision in circulation.
const SchemaVersion = "v0"

// Event types emitted by the pipeline and the services around it.
const (
	TypeSenseSRSLoaded   = "sense.srs_loaded"
	TypePlanGenerated    = "plan.generated"
	TypeExecOutput       = "exec.output"
	TypeReviewScored     = "review.scored"
	TypePatchRevised     = "patch.revised"
	TypePipelineError    = "pipeline.error"
	TypeArtifactScript   = "artifact.script"
	TypeGuardianApproval = "guardian.approval"
	TypeMCPCallRequest   = "mcp.call.request"
	TypeMCPCallResult    = "mcp.call.result"
	TypeMCPCallError     = "mcp.call.error"
)

// Authz carries the capability list an event was emitted under.
type Authz struct {
	Caps []string `json:"caps"`
}

// Envelope is a single event on an episode trace.
type Envelope struct {
	MsgID     string         `json:"msg_id"`
	TraceID   string         `json:"trace_id"`
	SchemaVer string         `json:"schema_ver"`
	TS        string         `json:"ts"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
	BudgetCtx map[string]any `json:"budget_ctx,omitempty"`
	Authz     *Authz         `json:"authz,omitempty"`
	Labels    map[string]any `json:"labels,omitempty"`
	Cost      *float64       `json:"cost,omitempty"`
}

// Option customizes the optional envelope fields at construction time.
type Option func(*Envelope)

// WithBudget attaches budget context to the envelope.
func WithBudget(budget map[string]any) Option {
	return func(e *Envelope) { e.BudgetCtx = budget }
}

// WithCaps attaches the capability list the event was emitted under.
func WithCaps(caps ...string) Option {
	return func(e *Envelope) { e.Authz = &Authz{Caps: caps} }
}

// WithLabels attaches free-form routing labels.
func WithLabels(labels map[string]any) Option {
	return func(e *Envelope) { e.Labels = labels }
}

// WithCost records the marginal cost in USD attributed to this event.
func WithCost(cost float64) Option {
	return func(e *Envelope) { e.Cost = &cost }
}

// New builds an envelope for eventType on the given trace, stamping a fresh
// msg_id and the current UTC timestamp. A nil payload becomes an empty
// object so the result always satisfies the schema.
func New(traceID, eventType string, payload map[string]any, opts ...Option) *Envelope {
	if payload == nil {
		payload = map[string]any{}
	}
	e := &Envelope{
		MsgID:     NewMsgID(),
		TraceID:   traceID,
		SchemaVer: SchemaVersion,
		TS:        Now(),
		Type:      eventType,
		Payload:   payload,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewTraceID returns a fresh trace identifier of the form "t-" plus twelve
// lowercase hex characters.
func NewTraceID() string {
	u := uuid.New()
	return "t-" + hex.EncodeToString(u[:6])
}

// NewMsgID returns a fresh 32-character lowercase hex message identifier.
func NewMsgID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// Now returns the current time formatted the way envelope timestamps are
// stored: RFC 3339 in UTC with a trailing Z.
func Now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// Doc converts the envelope into a decoded JSON document, the form the
// schema validator and the outbox operate on.
func (e *Envelope) Doc() (map[string]any, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return doc, nil
}
