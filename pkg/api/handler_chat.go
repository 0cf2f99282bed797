package api

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/agentos-io/agentcore/pkg/chat"
	"github.com/agentos-io/agentcore/pkg/llm"
	"github.com/agentos-io/agentcore/pkg/models"
)

const (
	// chatHistoryTurns is how much stored history one turn feeds the agent.
	chatHistoryTurns = 100
	// chatHistoryCap bounds a history read over the API.
	chatHistoryCap = 200
	// maxChatMessageLength bounds one inbound message.
	maxChatMessageLength = 8000
)

type chatSendRequest struct {
	Session string `json:"session"`
	Message string `json:"message"`
}

// chatSendHandler handles POST /api/chat/send. One call is one full
// conversation turn: persist the user message, run the agent, persist
// and publish the reply. Stream subscribers see the same turn live as
// chat.* frames.
func (s *Server) chatSendHandler(c *echo.Context) error {
	var req chatSendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Message == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing_message")
	}
	if len(req.Message) > maxChatMessageLength {
		return echo.NewHTTPError(http.StatusBadRequest, "message too long")
	}
	sessionID := req.Session
	if sessionID == "" {
		sessionID = "default"
	}
	ctx := c.Request().Context()

	if err := s.chatSvc.AppendMessage(ctx, sessionID, models.RoleUser, req.Message, ""); err != nil {
		return mapServiceError(err)
	}
	s.auditChat(sessionID, models.RoleUser, req.Message)
	s.publisher.UserMessage(sessionID, req.Message)
	s.publisher.Status(sessionID, "thinking", "")

	history, err := s.chatSvc.History(ctx, sessionID, chatHistoryTurns)
	if err != nil {
		return mapServiceError(err)
	}

	res, err := s.chatAgent.Respond(ctx, sessionID, toLLMHistory(history), req.Message)
	if err != nil {
		s.metrics.ObserveChatTurn("error")
		s.publisher.Status(sessionID, "error", err.Error())
		s.publisher.Error(sessionID, err.Error())
		return c.JSON(http.StatusInternalServerError, map[string]any{
			"ok":      false,
			"error":   err.Error(),
			"session": sessionID,
		})
	}
	s.metrics.ObserveChatTurn("ok")

	action := res.Action
	nextAction := res.NextAction
	if action == nil && nextAction == nil {
		nextAction = chat.DetectIntent(req.Message)
	}

	actionJSON := ""
	if action != nil {
		if raw, err := json.Marshal(action); err == nil {
			actionJSON = string(raw)
		}
	}
	if err := s.chatSvc.AppendMessage(ctx, sessionID, models.RoleAssistant, res.Reply, actionJSON); err != nil {
		return mapServiceError(err)
	}
	s.auditChat(sessionID, models.RoleAssistant, res.Reply)

	s.publisher.AssistantMessage(sessionID, res.Reply, anyAction(action), anyExec(res.MCP), res.SRSPath)
	if action != nil {
		s.publisher.Action(sessionID, action, res.SRSPath)
	}
	s.publisher.Status(sessionID, "idle", "")

	resp := map[string]any{
		"ok":      true,
		"session": sessionID,
		"reply":   res.Reply,
	}
	if action != nil {
		resp["action"] = action
	}
	if nextAction != nil {
		resp["next_action"] = nextAction
	}
	if res.SRSPath != "" {
		resp["srs_path"] = res.SRSPath
	}
	if res.MCP != nil {
		resp["mcp"] = res.MCP
	}
	if res.LLM != nil {
		resp["llm"] = res.LLM
	}
	return c.JSON(http.StatusOK, resp)
}

// chatHistoryHandler handles GET /api/chat/history?session=&limit=
func (s *Server) chatHistoryHandler(c *echo.Context) error {
	sessionID := c.QueryParam("session")
	if sessionID == "" {
		sessionID = "default"
	}
	limit := 50
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		limit = n
	}
	if limit > chatHistoryCap {
		limit = chatHistoryCap
	}
	messages, err := s.chatSvc.History(c.Request().Context(), sessionID, limit)
	if err != nil {
		return mapServiceError(err)
	}
	if messages == nil {
		messages = []models.ChatMessage{}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"ok":       true,
		"session":  sessionID,
		"messages": messages,
	})
}

// chatClearHandler handles POST /api/chat/clear.
func (s *Server) chatClearHandler(c *echo.Context) error {
	var req struct {
		Session string `json:"session"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Session == "" {
		req.Session = "default"
	}
	if err := s.chatSvc.ClearSession(c.Request().Context(), req.Session); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true, "session": req.Session})
}

// auditChat appends one turn to the append-only JSONL chat audit log.
// Audit failures are logged, never surfaced.
func (s *Server) auditChat(sessionID, role, content string) {
	line := map[string]any{
		"ts":      time.Now().UTC().Format(time.RFC3339),
		"session": sessionID,
		"role":    role,
		"content": content,
	}
	raw, err := json.Marshal(line)
	if err != nil {
		return
	}
	path := filepath.Join(s.baseDir, "audit", "chat.jsonl")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		s.logger.Warn("chat audit dir", "error", err)
		return
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		s.logger.Warn("chat audit open", "error", err)
		return
	}
	defer f.Close()
	if _, err := f.Write(append(raw, '\n')); err != nil {
		s.logger.Warn("chat audit write", "error", err)
	}
}

func toLLMHistory(messages []models.ChatMessage) []llm.Message {
	out := make([]llm.Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, llm.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

// anyAction and anyExec keep typed nils out of frame payloads.
func anyAction(a *chat.Action) any {
	if a == nil {
		return nil
	}
	return a
}

func anyExec(e *chat.ToolExecution) any {
	if e == nil {
		return nil
	}
	return e
}
