package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/agentos-io/agentcore/pkg/database"
	"github.com/agentos-io/agentcore/pkg/models"
)

// ApprovalService records human decisions about traces and proposed
// actions.
type ApprovalService struct {
	client *database.Client
}

// NewApprovalService creates a new ApprovalService
func NewApprovalService(client *database.Client) *ApprovalService {
	return &ApprovalService{client: client}
}

// ApprovalRecord carries the optional fields of one approval entry.
type ApprovalRecord struct {
	Action    string
	SessionID string
	Payload   map[string]any
	Resolved  bool
}

// Log stores one approval decision and returns its id.
func (s *ApprovalService) Log(httpCtx context.Context, traceID, decision string, rec ApprovalRecord) (int64, error) {
	if traceID == "" {
		return 0, NewValidationError("trace_id", "required")
	}
	if decision == "" {
		return 0, NewValidationError("decision", "required")
	}

	ctx, cancel := context.WithTimeout(httpCtx, queryTimeout)
	defer cancel()

	var payloadJSON any
	if rec.Payload != nil {
		raw, err := json.Marshal(rec.Payload)
		if err != nil {
			return 0, fmt.Errorf("failed to encode payload: %w", err)
		}
		payloadJSON = string(raw)
	}

	now := nowISO()
	var resolvedTS any
	if rec.Resolved {
		resolvedTS = now
	}

	res, err := s.client.DB().ExecContext(ctx,
		"INSERT INTO approvals(trace_id, session_id, action, decision, payload_json, created_ts, resolved_ts) VALUES (?,?,?,?,?,?,?)",
		traceID, nullable(rec.SessionID), nullable(rec.Action), decision, payloadJSON, now, resolvedTS)
	if err != nil {
		return 0, fmt.Errorf("failed to log approval: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read approval id: %w", err)
	}
	return id, nil
}

// Update overwrites the decision and payload of an approval entry.
func (s *ApprovalService) Update(httpCtx context.Context, approvalID int64, decision string, payload map[string]any, resolved bool) error {
	if decision == "" {
		return NewValidationError("decision", "required")
	}

	ctx, cancel := context.WithTimeout(httpCtx, queryTimeout)
	defer cancel()

	var payloadJSON any
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode payload: %w", err)
		}
		payloadJSON = string(raw)
	}
	var resolvedTS any
	if resolved {
		resolvedTS = nowISO()
	}

	res, err := s.client.DB().ExecContext(ctx,
		"UPDATE approvals SET decision=?, payload_json=?, resolved_ts=? WHERE id=?",
		decision, payloadJSON, resolvedTS, approvalID)
	if err != nil {
		return fmt.Errorf("failed to update approval: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns recent approvals, newest first, optionally filtered by
// decision.
func (s *ApprovalService) List(httpCtx context.Context, limit int, decision string) ([]models.Approval, error) {
	if limit <= 0 {
		limit = 50
	}

	ctx, cancel := context.WithTimeout(httpCtx, queryTimeout)
	defer cancel()

	query := "SELECT id, trace_id, session_id, action, decision, payload_json, created_ts, resolved_ts FROM approvals"
	args := []any{}
	if decision != "" {
		query += " WHERE decision=?"
		args = append(args, decision)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query approvals: %w", err)
	}
	defer rows.Close()

	var out []models.Approval
	for rows.Next() {
		var a models.Approval
		var sessionID, action, payloadJSON, resolvedTS sql.NullString
		if err := rows.Scan(&a.ID, &a.TraceID, &sessionID, &action, &a.Decision, &payloadJSON, &a.CreatedTS, &resolvedTS); err != nil {
			return nil, fmt.Errorf("failed to scan approval: %w", err)
		}
		a.SessionID = sessionID.String
		a.Action = action.String
		a.ResolvedTS = resolvedTS.String
		if payloadJSON.Valid && payloadJSON.String != "" {
			_ = json.Unmarshal([]byte(payloadJSON.String), &a.Payload)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// nullable maps "" to SQL NULL so optional text columns stay NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
