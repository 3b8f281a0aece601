package repository

import (
	"context"
	"database/sql"
	"errors"

	"sales-forecast/core/models"
)

// AnalysisJobRepository handles database operations for document-analysis jobs
type AnalysisJobRepository struct {
	db *DB
}

// NewAnalysisJobRepository creates a new analysis job repository
func NewAnalysisJobRepository(db *DB) *AnalysisJobRepository {
	return &AnalysisJobRepository{db: db}
}

// SaveAnalysisJob records a submitted job. Saving the same job id again
// keeps the existing row.
func (r *AnalysisJobRepository) SaveAnalysisJob(ctx context.Context, job *models.AnalysisJob) error {
	query := `
		INSERT INTO analysis_jobs (job_id, source_bucket, source_key, status, submitted_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (job_id) DO NOTHING
	`
	_, err := r.db.ExecContext(ctx, query, job.JobID, job.SourceBucket, job.SourceKey, job.Status, job.SubmittedAt)
	return err
}

// GetAnalysisJob retrieves a job by id
func (r *AnalysisJobRepository) GetAnalysisJob(ctx context.Context, jobID string) (*models.AnalysisJob, error) {
	query := `
		SELECT job_id, source_bucket, source_key, status, output_path, submitted_at, completed_at
		FROM analysis_jobs
		WHERE job_id = $1
	`

	var job models.AnalysisJob
	var outputPath sql.NullString
	var completedAt sql.NullTime

	err := r.db.QueryRowContext(ctx, query, jobID).Scan(
		&job.JobID,
		&job.SourceBucket,
		&job.SourceKey,
		&job.Status,
		&outputPath,
		&job.SubmittedAt,
		&completedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NotFound("repository.analysis_job", "analysis job "+jobID)
	}
	if err != nil {
		return nil, err
	}

	if outputPath.Valid {
		job.OutputPath = outputPath.String
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	return &job, nil
}

// CompleteAnalysisJob records the terminal status of a job. Jobs that
// arrive only through a notification are inserted.
func (r *AnalysisJobRepository) CompleteAnalysisJob(ctx context.Context, jobID string, status models.AnalysisJobStatus, outputPath string) error {
	query := `
		INSERT INTO analysis_jobs (job_id, source_bucket, source_key, status, output_path, completed_at)
		VALUES ($1, '', '', $2, NULLIF($3, ''), NOW())
		ON CONFLICT (job_id) DO UPDATE SET
			status = EXCLUDED.status,
			output_path = EXCLUDED.output_path,
			completed_at = EXCLUDED.completed_at
	`
	_, err := r.db.ExecContext(ctx, query, jobID, status, outputPath)
	return err
}
