package repository

import (
	"context"
	"time"

	"sales-forecast/core/models"
)

// Store is everything the service persists. Postgres and MemoryStore both
// implement it.
type Store interface {
	SaveAnalysisJob(ctx context.Context, job *models.AnalysisJob) error
	GetAnalysisJob(ctx context.Context, jobID string) (*models.AnalysisJob, error)
	CompleteAnalysisJob(ctx context.Context, jobID string, status models.AnalysisJobStatus, outputPath string) error

	RecordExecution(ctx context.Context, execution *models.PipelineExecution) error
	GetExecution(ctx context.Context, executionID string) (*models.PipelineExecution, error)
	ListActiveExecutions(ctx context.Context) ([]*models.PipelineExecution, error)
	UpdateExecutionStatus(ctx context.Context, executionID string, from, to models.ExecutionStatus, reason string) error

	RecordTransition(ctx context.Context, event *models.ExecutionEvent) error
	GetExecutionEvents(ctx context.Context, executionID string, limit int) ([]models.ExecutionEvent, error)

	SaveTransformJob(ctx context.Context, job *models.TransformJob) error
	UpdateTransformStatus(ctx context.Context, jobName string, status models.TransformJobStatus, reason string) error
	GetTransformJob(ctx context.Context, jobName string) (*models.TransformJob, error)

	SavePrice(ctx context.Context, region, instanceType string, pricePerHour float64) error
	GetPrice(ctx context.Context, region, instanceType string) (float64, time.Time, error)
}

// Postgres groups the table repositories over one connection pool
type Postgres struct {
	*AnalysisJobRepository
	*ExecutionRepository
	*EventRepository
	*TransformJobRepository
	*PricingRepository
}

// NewPostgres creates every repository over db
func NewPostgres(db *DB) *Postgres {
	return &Postgres{
		AnalysisJobRepository:  NewAnalysisJobRepository(db),
		ExecutionRepository:    NewExecutionRepository(db),
		EventRepository:        NewEventRepository(db),
		TransformJobRepository: NewTransformJobRepository(db),
		PricingRepository:      NewPricingRepository(db),
	}
}

var (
	_ Store = (*Postgres)(nil)
	_ Store = (*MemoryStore)(nil)
)
