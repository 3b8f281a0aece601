package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"sales-forecast/core/models"
)

// EventRepository handles database operations for execution events
type EventRepository struct {
	db *DB
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *DB) *EventRepository {
	return &EventRepository{db: db}
}

// RecordTransition stores one observed transition
func (r *EventRepository) RecordTransition(ctx context.Context, event *models.ExecutionEvent) error {
	return insertEvent(ctx, r.db, event)
}

// GetExecutionEvents retrieves the events of an execution, newest first. A
// limit of zero returns all of them.
func (r *EventRepository) GetExecutionEvents(ctx context.Context, executionID string, limit int) ([]models.ExecutionEvent, error) {
	query := `
		SELECT id, execution_id, step_name, at, from_status, to_status, reason, meta_json
		FROM execution_events
		WHERE execution_id = $1
		ORDER BY at DESC, id DESC
		LIMIT NULLIF($2, 0)
	`

	rows, err := r.db.QueryContext(ctx, query, executionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.ExecutionEvent
	for rows.Next() {
		var event models.ExecutionEvent
		var fromStatus sql.NullString
		var metaJSON string

		err := rows.Scan(
			&event.ID,
			&event.ExecutionID,
			&event.StepName,
			&event.At,
			&fromStatus,
			&event.ToStatus,
			&event.Reason,
			&metaJSON,
		)
		if err != nil {
			return nil, err
		}

		if fromStatus.Valid {
			status := fromStatus.String
			event.FromStatus = &status
		}
		if metaJSON != "" {
			if err := json.Unmarshal([]byte(metaJSON), &event.MetaJSON); err != nil {
				return nil, fmt.Errorf("malformed meta of event %d: %w", event.ID, err)
			}
		}

		events = append(events, event)
	}
	return events, rows.Err()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertEvent(ctx context.Context, db execer, event *models.ExecutionEvent) error {
	query := `
		INSERT INTO execution_events (execution_id, step_name, from_status, to_status, reason, meta_json)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	metaJSON := "{}"
	if event.MetaJSON != nil {
		metaBytes, err := json.Marshal(event.MetaJSON)
		if err != nil {
			return fmt.Errorf("failed to encode event meta: %w", err)
		}
		metaJSON = string(metaBytes)
	}

	_, err := db.ExecContext(ctx, query, event.ExecutionID, event.StepName, event.FromStatus, event.ToStatus, event.Reason, metaJSON)
	return err
}
