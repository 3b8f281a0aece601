package ingestion

import (
	"context"
	"log/slog"

	"sales-forecast/core/models"
)

// DocumentAnalyzer is the asynchronous document-analysis service
type DocumentAnalyzer interface {
	// Submit starts an analysis job for the object and returns its job id
	Submit(ctx context.Context, bucket, key string, features []string) (string, error)
	// Tables returns every table extracted by a finished job, in service order
	Tables(ctx context.Context, jobID string) ([]*models.Table, error)
}

// AnalysisJobStore persists analysis job bookkeeping
type AnalysisJobStore interface {
	SaveAnalysisJob(ctx context.Context, job *models.AnalysisJob) error
	GetAnalysisJob(ctx context.Context, jobID string) (*models.AnalysisJob, error)
	CompleteAnalysisJob(ctx context.Context, jobID string, status models.AnalysisJobStatus, outputPath string) error
}

// DefaultFeatures are the analysis features requested for documents
var DefaultFeatures = []string{"TABLES", "FORMS"}

type options struct {
	logger   *slog.Logger
	jobs     AnalysisJobStore
	features []string
}

// Option configures a Router or Collector.
type Option func(*options)

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithJobStore attaches analysis job persistence. Without it the collector
// relies on overwrite-by-key alone.
func WithJobStore(jobs AnalysisJobStore) Option {
	return func(o *options) {
		o.jobs = jobs
	}
}

// WithFeatures overrides the requested analysis features.
func WithFeatures(features ...string) Option {
	return func(o *options) {
		if len(features) > 0 {
			o.features = features
		}
	}
}

func buildOptions(component string, opts []Option) options {
	o := options{features: DefaultFeatures}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default().With("component", component)
	}
	return o
}
