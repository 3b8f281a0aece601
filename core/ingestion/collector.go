package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"sales-forecast/core/models"
	"sales-forecast/storage"
)

// Collector materializes the output of finished document-analysis jobs
type Collector struct {
	analyzer DocumentAnalyzer
	columnar *storage.ColumnarStore
	jobs     AnalysisJobStore
	logger   *slog.Logger
}

// NewCollector creates a new callback collector
func NewCollector(analyzer DocumentAnalyzer, columnar *storage.ColumnarStore, opts ...Option) *Collector {
	o := buildOptions("ingestion-collector", opts)
	return &Collector{
		analyzer: analyzer,
		columnar: columnar,
		jobs:     o.jobs,
		logger:   o.logger,
	}
}

// OutputKey is the processed key written for a job
func OutputKey(jobID string) string {
	return jobID + ".parquet"
}

// OnNotification handles one terminal job notification. Delivery is at least
// once; every write for a job targets the same key, and with a job store
// attached an already materialized job is not written again. A failed fetch
// or write marks the job Failed and returns IngestionFailed; transports drop
// the notification rather than re-queue it.
func (c *Collector) OnNotification(ctx context.Context, n models.Notification) (models.CollectionOutcome, error) {
	const op = "ingestion.collect"

	if n.JobID == "" {
		return models.CollectionOutcome{}, models.InvalidArgument(op, "notification has no job id")
	}
	logger := c.logger.With("job_id", n.JobID)

	if n.Status != models.NotificationSucceeded {
		logger.Error("document analysis did not succeed", "status", n.Status)
		c.complete(ctx, logger, n.JobID, models.AnalysisFailed, "")
		return models.CollectionOutcome{
			Status: models.CollectionSkipped,
			Reason: "analysis job " + n.Status,
		}, nil
	}

	if path, done := c.materialized(ctx, logger, n.JobID); done {
		logger.Info("duplicate notification ignored", "path", path)
		return models.CollectionOutcome{Status: models.CollectionCollected, Path: path, Duplicate: true}, nil
	}

	tables, err := c.analyzer.Tables(ctx, n.JobID)
	if err != nil {
		logger.Error("failed to fetch analysis result", "error", err)
		c.complete(ctx, logger, n.JobID, models.AnalysisFailed, "")
		return models.CollectionOutcome{}, models.IngestionFailed(op, "failed to fetch analysis result", err)
	}

	var fragments []*models.Table
	for _, t := range tables {
		if t != nil && len(t.Columns) > 0 {
			fragments = append(fragments, t)
		}
	}
	if len(fragments) == 0 {
		logger.Warn("no tables found in analysis result")
		c.complete(ctx, logger, n.JobID, models.AnalysisSucceeded, "")
		return models.CollectionOutcome{Status: models.CollectionSkipped, Reason: models.SkipReasonEmpty}, nil
	}

	merged := models.Concat(fragments)
	uri, err := c.columnar.WriteTable(ctx, OutputKey(n.JobID), merged)
	if err != nil {
		logger.Error("failed to write analysis output", "error", err)
		c.complete(ctx, logger, n.JobID, models.AnalysisFailed, "")
		return models.CollectionOutcome{}, models.IngestionFailed(op, "failed to write analysis output", err)
	}

	c.complete(ctx, logger, n.JobID, models.AnalysisSucceeded, uri)
	logger.Info("analysis output collected", "path", uri, "tables", len(fragments), "rows", merged.NumRows())
	return models.CollectionOutcome{Status: models.CollectionCollected, Path: uri}, nil
}

func (c *Collector) materialized(ctx context.Context, logger *slog.Logger, jobID string) (string, bool) {
	if c.jobs == nil {
		return "", false
	}
	job, err := c.jobs.GetAnalysisJob(ctx, jobID)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			logger.Warn("failed to look up analysis job", "error", err)
		}
		return "", false
	}
	return job.OutputPath, job.OutputPath != ""
}

func (c *Collector) complete(ctx context.Context, logger *slog.Logger, jobID string, status models.AnalysisJobStatus, outputPath string) {
	if c.jobs == nil {
		return
	}
	if err := c.jobs.CompleteAnalysisJob(ctx, jobID, status, outputPath); err != nil {
		logger.Warn("failed to record analysis job completion", "status", status, "error", err)
	}
}

// SNSEnvelope is the body SNS posts to HTTP subscribers
type SNSEnvelope struct {
	Type             string `json:"Type"`
	MessageID        string `json:"MessageId"`
	TopicArn         string `json:"TopicArn"`
	Subject          string `json:"Subject,omitempty"`
	Message          string `json:"Message"`
	Timestamp        string `json:"Timestamp"`
	SubscribeURL     string `json:"SubscribeURL,omitempty"`
	Token            string `json:"Token,omitempty"`
	SignatureVersion string `json:"SignatureVersion"`
	Signature        string `json:"Signature"`
	SigningCertURL   string `json:"SigningCertURL"`
}

// SNS message types
const (
	SNSNotification             = "Notification"
	SNSSubscriptionConfirmation = "SubscriptionConfirmation"
	SNSUnsubscribeConfirmation  = "UnsubscribeConfirmation"
)

// ParseEnvelope decodes an SNS HTTP envelope
func ParseEnvelope(body []byte) (*SNSEnvelope, error) {
	var env SNSEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, models.InvalidArgument("ingestion.parse_envelope", "malformed sns envelope: "+err.Error())
	}
	return &env, nil
}

// ParseNotification decodes a job completion message, either the raw
// analysis service message or one wrapped in an SNS envelope
func ParseNotification(body []byte) (models.Notification, error) {
	const op = "ingestion.parse_notification"

	var head struct {
		Type    string `json:"Type"`
		Message string `json:"Message"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		return models.Notification{}, models.InvalidArgument(op, "malformed notification: "+err.Error())
	}
	if head.Type == SNSNotification && head.Message != "" {
		body = []byte(head.Message)
	}

	var n models.Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return models.Notification{}, models.InvalidArgument(op, "malformed notification message: "+err.Error())
	}
	if n.JobID == "" {
		return models.Notification{}, models.InvalidArgument(op, "notification has no job id")
	}
	return n, nil
}

// DroppedOutcome is what a transport reports for a notification whose
// collection failed and that will not be retried
func DroppedOutcome(err error) models.CollectionOutcome {
	return models.CollectionOutcome{Status: models.CollectionFailed, Reason: err.Error()}
}
