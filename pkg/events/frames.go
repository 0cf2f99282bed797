package events

import (
	"time"

	"github.com/agentos-io/agentcore/pkg/session"
)

// Frame type names, shared with the browser client. Job streams carry
// the plain kinds; chat streams use the chat.* family.
const (
	TypeLog      = "log"
	TypeProgress = "progress"
	TypeStatus   = "status"
	TypeEvent    = "event"
	TypeFinal    = "final"
	TypeError    = "error"
	TypePing     = "ping"

	TypeChatInit    = "chat.init"
	TypeChatMessage = "chat.message"
	TypeChatAction  = "chat.action"
	TypeChatStatus  = "chat.status"
	TypeChatError   = "chat.error"
)

func nowTS() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// Ping is the idle heartbeat frame.
func Ping() map[string]any {
	return map[string]any{"type": TypePing, "ts": nowTS()}
}

// JobLog wraps one plain stream line.
func JobLog(entry session.StreamEntry) map[string]any {
	return map[string]any{
		"type": TypeLog,
		"line": entry.Line,
		"ts":   entry.TS.UTC().Format(time.RFC3339),
	}
}

// JobProgress wraps a progress document from the stream.
func JobProgress(doc map[string]any) map[string]any {
	return map[string]any{"type": TypeProgress, "data": doc}
}

// JobStatus reports the stream state; traceID rides along once known.
func JobStatus(state, traceID string) map[string]any {
	frame := map[string]any{"type": TypeStatus, "state": state}
	if traceID != "" {
		frame["trace_id"] = traceID
	}
	return frame
}

// JobEvent wraps one finalized episode event.
func JobEvent(event map[string]any) map[string]any {
	return map[string]any{"type": TypeEvent, "event": event}
}

// JobFinal closes a job stream with the result and episode summary.
func JobFinal(result map[string]any, traceID string, episode *session.EpisodeSummary) map[string]any {
	frame := map[string]any{
		"type":     TypeFinal,
		"result":   result,
		"trace_id": traceID,
	}
	if episode != nil {
		frame["episode"] = episode
	}
	return frame
}

// JobError reports a failed job; result carries whatever the run left
// behind, when anything.
func JobError(message string, result map[string]any) map[string]any {
	frame := map[string]any{"type": TypeError, "message": message}
	if result != nil {
		frame["result"] = result
	}
	return frame
}

// ChatInit opens a chat stream with the stored history.
func ChatInit(sessionID string, history any) map[string]any {
	return map[string]any{
		"type":    TypeChatInit,
		"session": sessionID,
		"history": history,
	}
}
