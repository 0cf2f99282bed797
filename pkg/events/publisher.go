package events

// ChatChannel names the fan-out channel of a conversation session.
func ChatChannel(sessionID string) string { return "chat:" + sessionID }

// Publisher emits chat frames for a session's subscribers. Every frame
// gets the session id and a timestamp stamped on before fan-out.
type Publisher struct {
	manager *Manager
}

// NewPublisher wraps a manager for chat-side publishing.
func NewPublisher(manager *Manager) *Publisher {
	return &Publisher{manager: manager}
}

func (p *Publisher) publish(sessionID string, frame map[string]any) {
	if p == nil || p.manager == nil {
		return
	}
	if _, ok := frame["session"]; !ok {
		frame["session"] = sessionID
	}
	if _, ok := frame["ts"]; !ok {
		frame["ts"] = nowTS()
	}
	p.manager.Publish(ChatChannel(sessionID), frame)
}

// UserMessage mirrors the inbound user turn to stream subscribers.
func (p *Publisher) UserMessage(sessionID, content string) {
	p.publish(sessionID, map[string]any{
		"type":    TypeChatMessage,
		"role":    "user",
		"content": content,
	})
}

// AssistantMessage publishes the agent's reply with whatever action,
// tool execution and draft path it produced.
func (p *Publisher) AssistantMessage(sessionID, content string, action, mcp any, srsPath string) {
	frame := map[string]any{
		"type":    TypeChatMessage,
		"role":    "assistant",
		"content": content,
	}
	if action != nil {
		frame["action"] = action
	}
	if mcp != nil {
		frame["mcp"] = mcp
	}
	if srsPath != "" {
		frame["srs_path"] = srsPath
	}
	p.publish(sessionID, frame)
}

// Action publishes the structured action of the latest turn.
func (p *Publisher) Action(sessionID string, action any, srsPath string) {
	frame := map[string]any{"type": TypeChatAction, "action": action}
	if srsPath != "" {
		frame["srs_path"] = srsPath
	}
	p.publish(sessionID, frame)
}

// Status reports the agent state ("thinking", "idle", "error").
func (p *Publisher) Status(sessionID, state, message string) {
	frame := map[string]any{"type": TypeChatStatus, "state": state}
	if message != "" {
		frame["message"] = message
	}
	p.publish(sessionID, frame)
}

// Error publishes a turn failure.
func (p *Publisher) Error(sessionID, message string) {
	p.publish(sessionID, map[string]any{"type": TypeChatError, "message": message})
}
