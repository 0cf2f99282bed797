package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/agentos-io/agentcore/pkg/database"
	"github.com/agentos-io/agentcore/pkg/models"
)

// WorkflowService manages stored workflow recipes.
type WorkflowService struct {
	client *database.Client
}

// NewWorkflowService creates a new WorkflowService
func NewWorkflowService(client *database.Client) *WorkflowService {
	return &WorkflowService{client: client}
}

// Create stores a workflow and returns its id. The definition must be
// valid JSON when non-empty.
func (s *WorkflowService) Create(httpCtx context.Context, name, definitionJSON string, enabled bool) (int64, error) {
	if name == "" {
		return 0, NewValidationError("name", "required")
	}
	if definitionJSON != "" && !json.Valid([]byte(definitionJSON)) {
		return 0, NewValidationError("definition_json", "must be valid JSON")
	}

	ctx, cancel := context.WithTimeout(httpCtx, queryTimeout)
	defer cancel()

	enabledInt := 0
	if enabled {
		enabledInt = 1
	}
	res, err := s.client.DB().ExecContext(ctx,
		"INSERT INTO workflows(name, definition_json, created_ts, enabled) VALUES (?,?,?,?)",
		name, definitionJSON, nowISO(), enabledInt)
	if err != nil {
		return 0, fmt.Errorf("failed to create workflow: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read workflow id: %w", err)
	}
	return id, nil
}

// List returns all workflows, newest first.
func (s *WorkflowService) List(httpCtx context.Context) ([]models.Workflow, error) {
	ctx, cancel := context.WithTimeout(httpCtx, queryTimeout)
	defer cancel()

	rows, err := s.client.DB().QueryContext(ctx,
		"SELECT id, name, created_ts, enabled FROM workflows ORDER BY id DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}
	defer rows.Close()

	var out []models.Workflow
	for rows.Next() {
		var w models.Workflow
		var enabled int
		if err := rows.Scan(&w.ID, &w.Name, &w.CreatedTS, &enabled); err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}
		w.Enabled = enabled != 0
		out = append(out, w)
	}
	return out, rows.Err()
}

// Get returns one workflow including its definition, or ErrNotFound.
func (s *WorkflowService) Get(httpCtx context.Context, id int64) (*models.Workflow, error) {
	ctx, cancel := context.WithTimeout(httpCtx, queryTimeout)
	defer cancel()

	var w models.Workflow
	var definition sql.NullString
	var enabled int
	err := s.client.DB().QueryRowContext(ctx,
		"SELECT id, name, definition_json, created_ts, enabled FROM workflows WHERE id=?", id).
		Scan(&w.ID, &w.Name, &definition, &w.CreatedTS, &enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}
	w.DefinitionJSON = definition.String
	w.Enabled = enabled != 0
	return &w, nil
}
