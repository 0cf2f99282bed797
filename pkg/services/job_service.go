package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/agentos-io/agentcore/pkg/database"
	"github.com/agentos-io/agentcore/pkg/models"
)

// JobService manages scheduled workflow executions.
type JobService struct {
	client *database.Client
}

// NewJobService creates a new JobService
func NewJobService(client *database.Client) *JobService {
	return &JobService{client: client}
}

// Schedule enqueues a pending job for a workflow. runAt is an ISO-8601
// UTC timestamp; a job becomes due once runAt is not after the scan time.
func (s *JobService) Schedule(httpCtx context.Context, workflowID int64, runAt, argsJSON string) (int64, error) {
	if workflowID <= 0 {
		return 0, NewValidationError("workflow_id", "required")
	}
	if runAt == "" {
		return 0, NewValidationError("run_at", "required")
	}

	ctx, cancel := context.WithTimeout(httpCtx, queryTimeout)
	defer cancel()

	res, err := s.client.DB().ExecContext(ctx,
		"INSERT INTO jobs(workflow_id, status, run_at, args_json, created_ts) VALUES (?,?,?,?,?)",
		workflowID, models.JobStatusPending, runAt, argsJSON, nowISO())
	if err != nil {
		return 0, fmt.Errorf("failed to schedule job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read job id: %w", err)
	}
	return id, nil
}

// List returns jobs, newest first, optionally restricted to one workflow.
func (s *JobService) List(httpCtx context.Context, workflowID int64) ([]models.Job, error) {
	ctx, cancel := context.WithTimeout(httpCtx, queryTimeout)
	defer cancel()

	query := "SELECT id, workflow_id, status, run_at, created_ts FROM jobs ORDER BY id DESC"
	args := []any{}
	if workflowID > 0 {
		query = "SELECT id, workflow_id, status, run_at, created_ts FROM jobs WHERE workflow_id=? ORDER BY id DESC"
		args = append(args, workflowID)
	}

	rows, err := s.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var out []models.Job
	for rows.Next() {
		var j models.Job
		if err := rows.Scan(&j.ID, &j.WorkflowID, &j.Status, &j.RunAt, &j.CreatedTS); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// Due returns pending jobs whose run_at is at or before now, oldest first.
func (s *JobService) Due(httpCtx context.Context, nowISO string) ([]models.Job, error) {
	ctx, cancel := context.WithTimeout(httpCtx, queryTimeout)
	defer cancel()

	rows, err := s.client.DB().QueryContext(ctx,
		"SELECT id, workflow_id, args_json FROM jobs WHERE status=? AND run_at<=? ORDER BY id ASC",
		models.JobStatusPending, nowISO)
	if err != nil {
		return nil, fmt.Errorf("failed to query due jobs: %w", err)
	}
	defer rows.Close()

	var out []models.Job
	for rows.Next() {
		var j models.Job
		var argsJSON sql.NullString
		if err := rows.Scan(&j.ID, &j.WorkflowID, &argsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan due job: %w", err)
		}
		j.ArgsJSON = argsJSON.String
		j.Status = models.JobStatusPending
		out = append(out, j)
	}
	return out, rows.Err()
}

// MarkResult records a job's terminal status and result document.
func (s *JobService) MarkResult(httpCtx context.Context, jobID int64, status, resultJSON string) error {
	if status != models.JobStatusDone && status != models.JobStatusFailed {
		return NewValidationError("status", "must be done or failed")
	}

	ctx, cancel := context.WithTimeout(httpCtx, queryTimeout)
	defer cancel()

	res, err := s.client.DB().ExecContext(ctx,
		"UPDATE jobs SET status=?, result_json=? WHERE id=?", status, resultJSON, jobID)
	if err != nil {
		return fmt.Errorf("failed to mark job result: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Get returns one job with its args and result, or ErrNotFound.
func (s *JobService) Get(httpCtx context.Context, jobID int64) (*models.Job, error) {
	ctx, cancel := context.WithTimeout(httpCtx, queryTimeout)
	defer cancel()

	var j models.Job
	var argsJSON, resultJSON sql.NullString
	err := s.client.DB().QueryRowContext(ctx,
		"SELECT id, workflow_id, status, run_at, args_json, result_json, created_ts FROM jobs WHERE id=?", jobID).
		Scan(&j.ID, &j.WorkflowID, &j.Status, &j.RunAt, &argsJSON, &resultJSON, &j.CreatedTS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	j.ArgsJSON = argsJSON.String
	j.ResultJSON = resultJSON.String
	return &j, nil
}
