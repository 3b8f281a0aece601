// Package lambda adapts the core components to serverless event sources.
// The mains under cmd/ only start these handlers.
package lambda

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"

	"sales-forecast/core/featureeng"
	"sales-forecast/core/ingestion"
	"sales-forecast/core/models"

	"github.com/aws/aws-lambda-go/events"
)

// Result statuses reported for records that were not processed
const (
	StatusFailed = "FAILED"
)

// IngestResult is the outcome of one S3 record
type IngestResult struct {
	File          string `json:"file"`
	Status        string `json:"status"`
	JobID         string `json:"job_id,omitempty"`
	ProcessedFile string `json:"processed_file,omitempty"`
	Error         string `json:"error,omitempty"`
}

// IngestHandler routes objects announced by S3 ObjectCreated events
type IngestHandler struct {
	router *ingestion.Router
}

// NewIngestHandler creates a new ingest handler
func NewIngestHandler(router *ingestion.Router) *IngestHandler {
	return &IngestHandler{router: router}
}

// Handle routes every record of the event. Records that failed for a
// retryable reason make the invocation fail so the platform redelivers it;
// anything else is reported in the result.
func (h *IngestHandler) Handle(ctx context.Context, event events.S3Event) ([]IngestResult, error) {
	results := make([]IngestResult, 0, len(event.Records))
	var retry error

	for _, record := range event.Records {
		bucket := record.S3.Bucket.Name
		key, err := url.QueryUnescape(record.S3.Object.Key)
		if err != nil {
			key = record.S3.Object.Key
		}

		outcome, err := h.router.RouteStored(ctx, bucket, key)
		if err != nil {
			log.Printf("Failed to route s3://%s/%s: %v", bucket, key, err)
			results = append(results, IngestResult{File: key, Status: StatusFailed, Error: err.Error()})
			if models.Retryable(err) {
				retry = errors.Join(retry, err)
			}
			continue
		}
		results = append(results, IngestResult{
			File:          key,
			Status:        string(outcome.Status),
			JobID:         outcome.JobID,
			ProcessedFile: outcome.Path,
		})
	}
	return results, retry
}

// CollectorHandler materializes document analysis results announced over SNS
type CollectorHandler struct {
	collector *ingestion.Collector
}

// NewCollectorHandler creates a new collector handler
func NewCollectorHandler(collector *ingestion.Collector) *CollectorHandler {
	return &CollectorHandler{collector: collector}
}

// Handle collects every notification of the event. Malformed messages and
// failed collections are logged and dropped; the invocation never fails, so
// redelivery by the publisher is the only retry.
func (h *CollectorHandler) Handle(ctx context.Context, event events.SNSEvent) ([]models.CollectionOutcome, error) {
	outcomes := make([]models.CollectionOutcome, 0, len(event.Records))

	for _, record := range event.Records {
		n, err := ingestion.ParseNotification([]byte(record.SNS.Message))
		if err != nil {
			log.Printf("Dropping SNS message %s: %v", record.SNS.MessageID, err)
			continue
		}
		outcome, err := h.collector.OnNotification(ctx, n)
		if err != nil {
			log.Printf("Dropping notification for analysis job %s: %v", n.JobID, err)
			outcome = ingestion.DroppedOutcome(err)
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

// GlueTriggerEvent is the input of the feature-engineering pipeline step
type GlueTriggerEvent struct {
	GlueJobName   string `json:"glue_job_name,omitempty"`
	CallbackToken string `json:"callback_token,omitempty"`
}

// GlueTriggerResponse carries the started run in its JSON body
type GlueTriggerResponse struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

// GlueTriggerHandler starts the feature-engineering ETL job
type GlueTriggerHandler struct {
	trigger *featureeng.Trigger
}

// NewGlueTriggerHandler creates a new glue trigger handler
func NewGlueTriggerHandler(trigger *featureeng.Trigger) *GlueTriggerHandler {
	return &GlueTriggerHandler{trigger: trigger}
}

// Handle starts one job run. Failures are reported in the response body
// with status 500 rather than as an invocation error.
func (h *GlueTriggerHandler) Handle(ctx context.Context, event GlueTriggerEvent) (GlueTriggerResponse, error) {
	run, err := h.trigger.Invoke(ctx, event.GlueJobName)
	if err != nil {
		log.Printf("Failed to start feature engineering job: %v", err)
		body, encErr := json.Marshal(map[string]string{"error": err.Error()})
		if encErr != nil {
			return GlueTriggerResponse{}, fmt.Errorf("failed to encode error: %w", encErr)
		}
		return GlueTriggerResponse{StatusCode: http.StatusInternalServerError, Body: string(body)}, nil
	}
	body, err := json.Marshal(run)
	if err != nil {
		return GlueTriggerResponse{}, fmt.Errorf("failed to encode run: %w", err)
	}
	return GlueTriggerResponse{StatusCode: http.StatusOK, Body: string(body)}, nil
}
