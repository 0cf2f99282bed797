// Package services contains the business logic layer over the chat store.
package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/agentos-io/agentcore/pkg/database"
	"github.com/agentos-io/agentcore/pkg/models"
)

const queryTimeout = 5 * time.Second

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// ChatService manages conversation sessions, their message history, and
// per-session task stacks.
type ChatService struct {
	client *database.Client
}

// NewChatService creates a new ChatService
func NewChatService(client *database.Client) *ChatService {
	return &ChatService{client: client}
}

// AppendMessage stores one conversation turn, creating the session row on
// first use. actionJSON may be empty.
func (s *ChatService) AppendMessage(httpCtx context.Context, sessionID, role, content, actionJSON string) error {
	if sessionID == "" {
		return NewValidationError("session_id", "required")
	}
	if role == "" {
		return NewValidationError("role", "required")
	}

	ctx, cancel := context.WithTimeout(httpCtx, queryTimeout)
	defer cancel()

	now := nowISO()
	if _, err := s.client.DB().ExecContext(ctx,
		"INSERT OR IGNORE INTO sessions(session_id, created_ts, meta_json) VALUES (?,?,NULL)",
		sessionID, now); err != nil {
		return fmt.Errorf("failed to ensure session: %w", err)
	}

	var action any
	if actionJSON != "" {
		action = actionJSON
	}
	if _, err := s.client.DB().ExecContext(ctx,
		"INSERT INTO messages(session_id, ts, role, content, action_json) VALUES (?,?,?,?,?)",
		sessionID, now, role, content, action); err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

// History returns up to limit messages of a session in insertion order.
func (s *ChatService) History(httpCtx context.Context, sessionID string, limit int) ([]models.ChatMessage, error) {
	if sessionID == "" {
		return nil, NewValidationError("session_id", "required")
	}
	if limit <= 0 {
		limit = 100
	}

	ctx, cancel := context.WithTimeout(httpCtx, queryTimeout)
	defer cancel()

	rows, err := s.client.DB().QueryContext(ctx,
		"SELECT ts, role, content, action_json FROM messages WHERE session_id=? ORDER BY id ASC LIMIT ?",
		sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	out := make([]models.ChatMessage, 0, limit)
	for rows.Next() {
		var m models.ChatMessage
		var action sql.NullString
		if err := rows.Scan(&m.TS, &m.Role, &m.Content, &action); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Action = action.String
		out = append(out, m)
	}
	return out, rows.Err()
}

// ClearSession removes a session and all its messages.
func (s *ChatService) ClearSession(httpCtx context.Context, sessionID string) error {
	if sessionID == "" {
		return NewValidationError("session_id", "required")
	}

	ctx, cancel := context.WithTimeout(httpCtx, queryTimeout)
	defer cancel()

	if _, err := s.client.DB().ExecContext(ctx,
		"DELETE FROM messages WHERE session_id=?", sessionID); err != nil {
		return fmt.Errorf("failed to clear messages: %w", err)
	}
	if _, err := s.client.DB().ExecContext(ctx,
		"DELETE FROM sessions WHERE session_id=?", sessionID); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

// SaveTaskStack stores the task stack of a session, replacing any
// previous value.
func (s *ChatService) SaveTaskStack(httpCtx context.Context, sessionID string, stack map[string]any) error {
	if sessionID == "" {
		return NewValidationError("session_id", "required")
	}

	stackJSON, err := json.Marshal(stack)
	if err != nil {
		return fmt.Errorf("failed to encode task stack: %w", err)
	}

	ctx, cancel := context.WithTimeout(httpCtx, queryTimeout)
	defer cancel()

	_, err = s.client.DB().ExecContext(ctx,
		`INSERT INTO task_stack(session_id, stack_json, updated_ts) VALUES (?,?,?)
		 ON CONFLICT(session_id) DO UPDATE SET stack_json=excluded.stack_json, updated_ts=excluded.updated_ts`,
		sessionID, string(stackJSON), nowISO())
	if err != nil {
		return fmt.Errorf("failed to save task stack: %w", err)
	}
	return nil
}

// LoadTaskStack returns the stored task stack, or ErrNotFound.
func (s *ChatService) LoadTaskStack(httpCtx context.Context, sessionID string) (map[string]any, error) {
	if sessionID == "" {
		return nil, NewValidationError("session_id", "required")
	}

	ctx, cancel := context.WithTimeout(httpCtx, queryTimeout)
	defer cancel()

	var stackJSON sql.NullString
	err := s.client.DB().QueryRowContext(ctx,
		"SELECT stack_json FROM task_stack WHERE session_id=?", sessionID).Scan(&stackJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load task stack: %w", err)
	}
	if !stackJSON.Valid || stackJSON.String == "" {
		return nil, ErrNotFound
	}

	var stack map[string]any
	if err := json.Unmarshal([]byte(stackJSON.String), &stack); err != nil {
		return nil, fmt.Errorf("failed to decode task stack: %w", err)
	}
	return stack, nil
}

// ListTaskStacks returns the most recently updated task stacks.
func (s *ChatService) ListTaskStacks(httpCtx context.Context, limit int) ([]models.TaskStack, error) {
	if limit <= 0 {
		limit = 20
	}

	ctx, cancel := context.WithTimeout(httpCtx, queryTimeout)
	defer cancel()

	rows, err := s.client.DB().QueryContext(ctx,
		"SELECT session_id, stack_json, updated_ts FROM task_stack ORDER BY updated_ts DESC LIMIT ?",
		limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query task stacks: %w", err)
	}
	defer rows.Close()

	var out []models.TaskStack
	for rows.Next() {
		var ts models.TaskStack
		var stackJSON sql.NullString
		if err := rows.Scan(&ts.SessionID, &stackJSON, &ts.UpdatedTS); err != nil {
			return nil, fmt.Errorf("failed to scan task stack: %w", err)
		}
		if stackJSON.Valid && stackJSON.String != "" {
			// A corrupt blob degrades to a nil stack rather than failing the list.
			_ = json.Unmarshal([]byte(stackJSON.String), &ts.Stack)
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}
