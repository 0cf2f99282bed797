// Package outbox persists episode event logs. Two interchangeable backends
// implement the same contract: a file backend materializing one pretty
// printed JSON document per trace, and a SQLite backend with episodes and
// events tables. Every appended event is schema-validated and redacted
// before it is stored.
package outbox

import (
	"errors"

	"github.com/agentos-io/agentcore/pkg/envelope"
	"github.com/agentos-io/agentcore/pkg/masking"
)

// Episode statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

var (
	// ErrNoTrace is returned when appending or finalizing without an open trace.
	ErrNoTrace = errors.New("no open trace")
	// ErrTraceNotFound is returned when a referenced episode does not exist.
	ErrTraceNotFound = errors.New("trace not found")
)

// Outbox records the events of one episode at a time and finalizes it into
// the corpus. Finalize is idempotent for a given trace: calling it again
// replaces the stored episode.
type Outbox interface {
	// NewTrace opens a fresh trace for goal and returns its id.
	NewTrace(goal string) string
	// TraceID returns the id of the open trace, or "".
	TraceID() string
	// Append validates, redacts and stores one event on the open trace.
	Append(eventType string, payload map[string]any, opts ...envelope.Option) error
	// AppendDoc is Append for a caller-built envelope document.
	AppendDoc(doc map[string]any) error
	// Finalize materializes the episode and returns its storage location.
	Finalize(status string, artifacts map[string]any) (string, error)
	// AppendToFinalized validates and appends one envelope document to an
	// already finalized episode, for post-hoc records such as approvals.
	AppendToFinalized(traceID string, doc map[string]any) error
}

// Episode is the durable record of one closed-loop run. Field order fixes
// the top-level key order of the file backend's JSON output.
type Episode struct {
	TraceID   string           `json:"trace_id"`
	Goal      string           `json:"goal"`
	Status    string           `json:"status"`
	LatencyMS int64            `json:"latency_ms"`
	Header    map[string]any   `json:"header"`
	Events    []map[string]any `json:"events"`
	Sense     any              `json:"sense"`
	Plan      any              `json:"plan"`
	Artifacts map[string]any   `json:"artifacts"`
}

// LastEventPayload returns the payload of the most recent event of the
// given type, or nil when the trace has none.
func (e *Episode) LastEventPayload(eventType string) map[string]any {
	for i := len(e.Events) - 1; i >= 0; i-- {
		if e.Events[i]["type"] == eventType {
			if pay, ok := e.Events[i]["payload"].(map[string]any); ok {
				return pay
			}
			return nil
		}
	}
	return nil
}

// lastPayloadField extracts key from the payload of the last event of the
// given type, the way sense/plan are lifted into the episode.
func lastPayloadField(events []map[string]any, eventType, key string) any {
	for i := len(events) - 1; i >= 0; i-- {
		if events[i]["type"] != eventType {
			continue
		}
		if pay, ok := events[i]["payload"].(map[string]any); ok {
			return pay[key]
		}
		return nil
	}
	return nil
}

// eventCodec builds, validates and redacts envelope documents on the way
// into a backend.
type eventCodec struct {
	masker *masking.Service
}

func newEventCodec(masker *masking.Service) eventCodec {
	if masker == nil {
		masker = masking.NewService()
	}
	return eventCodec{masker: masker}
}

// encode wraps payload in a fresh envelope and prepares it for storage.
func (c eventCodec) encode(traceID, eventType string, payload map[string]any, opts ...envelope.Option) (map[string]any, error) {
	env := envelope.New(traceID, eventType, payload, opts...)
	doc, err := env.Doc()
	if err != nil {
		return nil, err
	}
	return c.finishDoc(doc)
}

// finishDoc validates a built document, then redacts its payload. The
// caller's map is not mutated.
func (c eventCodec) finishDoc(doc map[string]any) (map[string]any, error) {
	if err := envelope.Validate(doc); err != nil {
		return nil, err
	}
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	out["payload"] = c.masker.RedactValue(doc["payload"])
	return out, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// headerState accumulates episode header fields as events are observed.
// provider/model/request_id/temperature come from the first event carrying
// llm metadata; attempts is the per-event maximum; cost and usage are
// additive sums.
type headerState struct {
	fields   map[string]any
	attempts int
	cost     float64
	usage    map[string]float64
}

func newHeaderState() *headerState {
	return &headerState{
		fields: map[string]any{},
		usage:  map[string]float64{},
	}
}

func (h *headerState) observe(doc map[string]any) {
	if c, ok := toFloat(doc["cost"]); ok {
		h.cost += c
	}
	pay, ok := doc["payload"].(map[string]any)
	if !ok {
		return
	}
	meta, ok := pay["llm"].(map[string]any)
	if !ok {
		return
	}
	for _, k := range []string{"provider", "model", "request_id", "temperature"} {
		if v, ok := meta[k]; ok && v != nil {
			if _, exists := h.fields[k]; !exists {
				h.fields[k] = v
			}
		}
	}
	if a, ok := toFloat(meta["attempts"]); ok && int(a) > h.attempts {
		h.attempts = int(a)
	}
	if usage, ok := meta["usage"].(map[string]any); ok {
		for k, v := range usage {
			if f, ok := toFloat(v); ok {
				h.usage[k] += f
			}
		}
	}
}

func (h *headerState) doc() map[string]any {
	out := make(map[string]any, len(h.fields)+3)
	for k, v := range h.fields {
		out[k] = v
	}
	out["attempts"] = h.attempts
	out["cost"] = h.cost
	if len(h.usage) > 0 {
		usage := make(map[string]any, len(h.usage))
		for k, v := range h.usage {
			usage[k] = v
		}
		out["usage"] = usage
	}
	return out
}
