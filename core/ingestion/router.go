package ingestion

import (
	"context"
	"log/slog"
	"path"
	"time"

	"sales-forecast/core/models"
	"sales-forecast/storage"
)

// Router classifies uploaded objects and dispatches them to the tabular or
// document processing path
type Router struct {
	store    storage.ObjectStore
	columnar *storage.ColumnarStore
	analyzer DocumentAnalyzer
	jobs     AnalysisJobStore
	features []string
	logger   *slog.Logger
}

// NewRouter creates a new ingestion router
func NewRouter(store storage.ObjectStore, columnar *storage.ColumnarStore, analyzer DocumentAnalyzer, opts ...Option) *Router {
	o := buildOptions("ingestion-router", opts)
	return &Router{
		store:    store,
		columnar: columnar,
		analyzer: analyzer,
		jobs:     o.jobs,
		features: o.features,
		logger:   o.logger,
	}
}

// Route processes one object. Tabular files are converted and written to the
// processed store in a single put; documents are submitted for asynchronous
// analysis. Exactly one artifact or one job results from a successful call.
func (r *Router) Route(ctx context.Context, obj models.IngestObject) (models.RoutingOutcome, error) {
	const op = "ingestion.route"

	if obj.Extension == "" {
		obj.Extension = models.ExtensionOf(obj.Key)
	}

	switch obj.Extension.Kind() {
	case models.FileKindTabular:
		return r.convertTabular(ctx, obj)
	case models.FileKindDocument:
		return r.submitDocument(ctx, obj)
	case models.FileKindUnsupported:
		r.logger.Warn("rejected unsupported file", "key", obj.Key)
		return models.RoutingOutcome{}, models.UnsupportedType(op, path.Ext(obj.Key))
	}
	return models.RoutingOutcome{}, models.UnsupportedType(op, path.Ext(obj.Key))
}

// RouteStored loads an object from the raw store and routes it
func (r *Router) RouteStored(ctx context.Context, bucket, key string) (models.RoutingOutcome, error) {
	const op = "ingestion.route_stored"

	obj := models.NewIngestObject(bucket, key, nil)
	if obj.Extension.Kind() == models.FileKindUnsupported {
		return models.RoutingOutcome{}, models.UnsupportedType(op, path.Ext(key))
	}

	// Documents are analysed in place; only tabular content is needed locally.
	if obj.Extension.Kind() == models.FileKindTabular {
		content, err := r.store.Get(ctx, bucket, key)
		if err != nil {
			return models.RoutingOutcome{}, models.IngestionFailed(op, "failed to read raw object", err)
		}
		obj.Content = content
	}
	return r.Route(ctx, obj)
}

func (r *Router) convertTabular(ctx context.Context, obj models.IngestObject) (models.RoutingOutcome, error) {
	const op = "ingestion.convert"

	table, err := ParseTable(obj.Extension, obj.Content)
	if err != nil {
		r.logger.Error("failed to parse tabular file", "key", obj.Key, "error", err)
		return models.RoutingOutcome{}, models.IngestionFailed(op, "failed to parse "+string(obj.Extension), err)
	}

	key := storage.ParquetKey(obj.Key)
	uri, err := r.columnar.WriteTable(ctx, key, table)
	if err != nil {
		r.logger.Error("failed to write processed file", "key", key, "error", err)
		return models.RoutingOutcome{}, models.IngestionFailed(op, "failed to write processed file", err)
	}

	r.logger.Info("file converted", "source", obj.Key, "target", uri, "rows", table.NumRows())
	return models.RoutingOutcome{
		Status: models.RoutingProcessed,
		Path:   uri,
		Source: obj.Key,
	}, nil
}

func (r *Router) submitDocument(ctx context.Context, obj models.IngestObject) (models.RoutingOutcome, error) {
	const op = "ingestion.submit"

	if obj.Bucket == "" {
		return models.RoutingOutcome{}, models.InvalidArgument(op, "document analysis requires the raw bucket")
	}

	jobID, err := r.analyzer.Submit(ctx, obj.Bucket, obj.Key, r.features)
	if err != nil {
		r.logger.Error("failed to submit document analysis", "key", obj.Key, "error", err)
		return models.RoutingOutcome{}, models.IngestionFailed(op, "failed to submit document analysis", err)
	}

	if r.jobs != nil {
		job := &models.AnalysisJob{
			JobID:        jobID,
			SourceBucket: obj.Bucket,
			SourceKey:    obj.Key,
			Status:       models.AnalysisSubmitted,
			SubmittedAt:  time.Now().UTC(),
		}
		// The job is already running; a bookkeeping failure must not fail the call.
		if err := r.jobs.SaveAnalysisJob(ctx, job); err != nil {
			r.logger.Warn("failed to record analysis job", "job_id", jobID, "error", err)
		}
	}

	r.logger.Info("document analysis started", "source", storage.URI(obj.Bucket, obj.Key), "job_id", jobID)
	return models.RoutingOutcome{
		Status: models.RoutingSubmitted,
		JobID:  jobID,
		Source: obj.Key,
	}, nil
}
