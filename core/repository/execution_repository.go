package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"sales-forecast/core/models"
)

// ExecutionRepository handles database operations for pipeline executions
type ExecutionRepository struct {
	db *DB
}

// NewExecutionRepository creates a new execution repository
func NewExecutionRepository(db *DB) *ExecutionRepository {
	return &ExecutionRepository{db: db}
}

// RecordExecution stores a started execution with its initial event
func (r *ExecutionRepository) RecordExecution(ctx context.Context, execution *models.PipelineExecution) error {
	stepsJSON, err := json.Marshal(execution.Steps)
	if err != nil {
		return fmt.Errorf("failed to encode steps: %w", err)
	}
	if execution.Steps == nil {
		stepsJSON = []byte("[]")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO pipeline_executions (execution_id, pipeline_name, overall_status, steps_json, started_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (execution_id) DO NOTHING
	`
	res, err := tx.ExecContext(ctx, query,
		execution.ExecutionID,
		execution.PipelineName,
		execution.OverallStatus,
		string(stepsJSON),
		execution.StartedAt,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return tx.Commit()
	}

	// Create initial event
	event := &models.ExecutionEvent{
		ExecutionID: execution.ExecutionID,
		ToStatus:    string(execution.OverallStatus),
		Reason:      "execution_started",
	}
	if err := insertEvent(ctx, tx, event); err != nil {
		return err
	}
	return tx.Commit()
}

// GetExecution retrieves an execution by id
func (r *ExecutionRepository) GetExecution(ctx context.Context, executionID string) (*models.PipelineExecution, error) {
	query := `
		SELECT execution_id, pipeline_name, overall_status, steps_json, started_at, updated_at
		FROM pipeline_executions
		WHERE execution_id = $1
	`
	execution, err := scanExecution(r.db.QueryRowContext(ctx, query, executionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NotFound("repository.execution", "execution "+executionID)
	}
	return execution, err
}

// ListActiveExecutions lists executions that have not reached a terminal status
func (r *ExecutionRepository) ListActiveExecutions(ctx context.Context) ([]*models.PipelineExecution, error) {
	query := `
		SELECT execution_id, pipeline_name, overall_status, steps_json, started_at, updated_at
		FROM pipeline_executions
		WHERE overall_status = $1
		ORDER BY started_at ASC
	`
	rows, err := r.db.QueryContext(ctx, query, models.ExecutionExecuting)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var executions []*models.PipelineExecution
	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		executions = append(executions, execution)
	}
	return executions, rows.Err()
}

// UpdateExecutionStatus updates the overall status atomically with event
// logging. A change whose from status is no longer current is ignored.
func (r *ExecutionRepository) UpdateExecutionStatus(ctx context.Context, executionID string, from, to models.ExecutionStatus, reason string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	updateQuery := `UPDATE pipeline_executions SET overall_status = $1, updated_at = NOW() WHERE execution_id = $2 AND overall_status = $3`
	res, err := tx.ExecContext(ctx, updateQuery, to, executionID, from)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM pipeline_executions WHERE execution_id = $1)`, executionID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return models.NotFound("repository.execution", "execution "+executionID)
		}
		return nil
	}

	fromStatus := string(from)
	event := &models.ExecutionEvent{
		ExecutionID: executionID,
		FromStatus:  &fromStatus,
		ToStatus:    string(to),
		Reason:      reason,
	}
	if err := insertEvent(ctx, tx, event); err != nil {
		return err
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (*models.PipelineExecution, error) {
	var execution models.PipelineExecution
	var stepsJSON string

	err := row.Scan(
		&execution.ExecutionID,
		&execution.PipelineName,
		&execution.OverallStatus,
		&stepsJSON,
		&execution.StartedAt,
		&execution.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if stepsJSON != "" {
		if err := json.Unmarshal([]byte(stepsJSON), &execution.Steps); err != nil {
			return nil, fmt.Errorf("malformed steps of %s: %w", execution.ExecutionID, err)
		}
	}
	return &execution, nil
}
