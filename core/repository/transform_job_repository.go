package repository

import (
	"context"
	"database/sql"
	"errors"

	"sales-forecast/core/models"
)

// TransformJobRepository handles database operations for batch inference jobs
type TransformJobRepository struct {
	db *DB
}

// NewTransformJobRepository creates a new transform job repository
func NewTransformJobRepository(db *DB) *TransformJobRepository {
	return &TransformJobRepository{db: db}
}

// SaveTransformJob creates a new job record
func (r *TransformJobRepository) SaveTransformJob(ctx context.Context, job *models.TransformJob) error {
	query := `
		INSERT INTO transform_jobs (
			job_name, model_name, model_arn, input_uri, output_uri, status,
			estimated_hourly_usd, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		job.JobName,
		job.ModelName,
		job.ModelArn,
		job.InputURI,
		job.OutputURI,
		job.Status,
		job.EstimatedHourlyUSD,
		job.CreatedAt,
	)
	return err
}

// UpdateTransformStatus records the latest observed status of a job
func (r *TransformJobRepository) UpdateTransformStatus(ctx context.Context, jobName string, status models.TransformJobStatus, reason string) error {
	query := `UPDATE transform_jobs SET status = $1, failure_reason = $2, updated_at = NOW() WHERE job_name = $3`
	_, err := r.db.ExecContext(ctx, query, status, reason, jobName)
	return err
}

// GetTransformJob retrieves a job by name
func (r *TransformJobRepository) GetTransformJob(ctx context.Context, jobName string) (*models.TransformJob, error) {
	query := `
		SELECT job_name, model_name, model_arn, input_uri, output_uri, status,
			failure_reason, estimated_hourly_usd, created_at
		FROM transform_jobs
		WHERE job_name = $1
	`

	var job models.TransformJob
	var hourly sql.NullFloat64

	err := r.db.QueryRowContext(ctx, query, jobName).Scan(
		&job.JobName,
		&job.ModelName,
		&job.ModelArn,
		&job.InputURI,
		&job.OutputURI,
		&job.Status,
		&job.FailureReason,
		&hourly,
		&job.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NotFound("repository.transform_job", "transform job "+jobName)
	}
	if err != nil {
		return nil, err
	}
	if hourly.Valid {
		job.EstimatedHourlyUSD = &hourly.Float64
	}
	return &job, nil
}
