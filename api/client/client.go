// Package client is a Go client for the forecast HTTP API.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"sales-forecast/api/rest/handlers"
	"sales-forecast/core/featureeng"
	"sales-forecast/core/models"
	"sales-forecast/storage"
)

// DefaultTimeout bounds non-streaming calls made by command line tools
const DefaultTimeout = 2 * time.Minute

// Client talks to one API server
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// New creates a client for the server at baseURL, e.g. http://localhost:8000
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/") + "/api/v1",
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a non-2xx response
type APIError struct {
	StatusCode int
	Message    string
	Kind       string
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("api error %d (%s): %s", e.StatusCode, e.Kind, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	var body handlers.ErrorResponse
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		apiErr.Message = body.Error
		apiErr.Kind = body.Kind
	}
	return apiErr
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, "", out)
}

func (c *Client) postJSON(ctx context.Context, path string, in, out interface{}) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, path, bytes.NewReader(data), "application/json", out)
}

// Upload sends local files for ingestion. Per-file failures are reported in
// the response; an error is returned only when the request itself failed or
// every file was rejected.
func (c *Client) Upload(ctx context.Context, paths ...string) (*handlers.UploadResponse, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, p := range paths {
		if err := addFile(mw, p); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/forecast/upload-raw-data", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var out handlers.UploadResponse
	if err := json.Unmarshal(data, &out); err != nil || len(out.Files) == 0 {
		resp.Body = io.NopCloser(bytes.NewReader(data))
		return nil, decodeError(resp)
	}
	if resp.StatusCode >= 300 {
		return &out, &APIError{StatusCode: resp.StatusCode, Message: out.Files[0].Error}
	}
	return &out, nil
}

func addFile(mw *multipart.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	part, err := mw.CreateFormFile("files", filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(part, f)
	return err
}

// Train starts a training pipeline execution and returns its id
func (c *Client) Train(ctx context.Context) (string, error) {
	var out handlers.TrainResponse
	if err := c.postJSON(ctx, "/forecast/train", struct{}{}, &out); err != nil {
		return "", err
	}
	return out.ExecutionArn, nil
}

// TrainStatus takes one snapshot of an execution
func (c *Client) TrainStatus(ctx context.Context, executionArn string) (*models.ExecutionSnapshot, error) {
	var out models.ExecutionSnapshot
	if err := c.getJSON(ctx, "/forecast/train/status?execution_arn="+url.QueryEscape(executionArn), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TrainProgress streams execution snapshots until the execution finishes.
// fn is called once per snapshot.
func (c *Client) TrainProgress(ctx context.Context, executionArn string, fn func(models.ExecutionSnapshot)) error {
	return stream(ctx, c, "/forecast/train/progress?execution_arn="+url.QueryEscape(executionArn), fn)
}

// TrainHistory reads the recorded transitions of an execution
func (c *Client) TrainHistory(ctx context.Context, executionArn string) (*handlers.ExecutionHistoryResponse, error) {
	var out handlers.ExecutionHistoryResponse
	if err := c.getJSON(ctx, "/forecast/train/history?execution_arn="+url.QueryEscape(executionArn), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TrainEstimate bounds the cost of one training run
func (c *Client) TrainEstimate(ctx context.Context) (*handlers.EstimateResponse, error) {
	var out handlers.EstimateResponse
	if err := c.getJSON(ctx, "/forecast/train/estimate", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Costs returns the accrued compute cost of tracked jobs
func (c *Client) Costs(ctx context.Context) (*handlers.CostsResponse, error) {
	var out handlers.CostsResponse
	if err := c.getJSON(ctx, "/forecast/costs", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FeatureEngineeringStatus reads the state of an ETL run. An empty jobName
// means the server's configured job.
func (c *Client) FeatureEngineeringStatus(ctx context.Context, jobName, runID string) (*featureeng.RunInfo, error) {
	q := url.Values{"run_id": {runID}}
	if jobName != "" {
		q.Set("job_name", jobName)
	}
	var out featureeng.RunInfo
	if err := c.getJSON(ctx, "/forecast/feature-engineering/status?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Predict starts batch inference
func (c *Client) Predict(ctx context.Context, modelArn, inputURI string) (*models.TransformJob, error) {
	var out models.TransformJob
	req := handlers.PredictRequest{ModelArn: modelArn, InputS3Path: inputURI}
	if err := c.postJSON(ctx, "/forecast/predict", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PredictStatus reads the status of a transform job
func (c *Client) PredictStatus(ctx context.Context, jobName string) (*models.TransformStatus, error) {
	var out models.TransformStatus
	if err := c.getJSON(ctx, "/forecast/predict/status?job_name="+url.QueryEscape(jobName), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PredictProgress streams transform job statuses until the job finishes
func (c *Client) PredictProgress(ctx context.Context, jobName string, fn func(models.TransformStatus)) error {
	return stream(ctx, c, "/forecast/predict/progress?job_name="+url.QueryEscape(jobName), fn)
}

// PredictResults reads the predictions of a completed job
func (c *Client) PredictResults(ctx context.Context, jobName string) (*models.PredictionResults, error) {
	var out models.PredictionResults
	if err := c.getJSON(ctx, "/forecast/predict/results?job_name="+url.QueryEscape(jobName), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListFiles lists one bucket by type: raw, processed, feature-store or artifacts
func (c *Client) ListFiles(ctx context.Context, bucketType string) ([]storage.ObjectInfo, error) {
	var out handlers.FileListResponse
	if err := c.getJSON(ctx, "/forecast/list-files/"+url.PathEscape(bucketType), &out); err != nil {
		return nil, err
	}
	return out.Files, nil
}

// Inputs lists the objects usable as inference input
func (c *Client) Inputs(ctx context.Context) ([]string, error) {
	var out handlers.InputsResponse
	if err := c.getJSON(ctx, "/forecast/s3-inputs", &out); err != nil {
		return nil, err
	}
	return out.Inputs, nil
}

// Models lists model versions by approval status
func (c *Client) Models(ctx context.Context, status models.ApprovalStatus) ([]*models.ModelVersion, error) {
	path := "/model/pending"
	if status == models.ApprovalApproved {
		path = "/model/approved"
	}
	var out handlers.ModelListResponse
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.Models, nil
}

// Approve marks a model version as approved
func (c *Client) Approve(ctx context.Context, arn, comment string) (*models.ModelVersion, error) {
	return c.setStatus(ctx, "/model/approve", arn, comment)
}

// Reject marks a model version as rejected
func (c *Client) Reject(ctx context.Context, arn, comment string) (*models.ModelVersion, error) {
	return c.setStatus(ctx, "/model/reject", arn, comment)
}

func (c *Client) setStatus(ctx context.Context, path, arn, comment string) (*models.ModelVersion, error) {
	var out models.ModelVersion
	if err := c.postJSON(ctx, path, handlers.ApprovalRequest{ModelPackageArn: arn, Comment: comment}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Metrics reads the evaluation report of a model version
func (c *Client) Metrics(ctx context.Context, arn string) (*models.EvaluationReport, error) {
	var out models.EvaluationReport
	if err := c.getJSON(ctx, "/model/metrics/"+arn, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health checks that the server is up
func (c *Client) Health(ctx context.Context) error {
	return c.getJSON(ctx, "/health", nil)
}

// StreamError is the error event that ends a progress stream early
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string {
	return "stream ended: " + e.Message
}

// stream reads server-sent events and decodes every data frame into T
func stream[T any](ctx context.Context, c *Client, path string, fn func(T)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("stream %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64<<10), 4<<20)
	event := ""
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			event = ""
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data := []byte(strings.TrimPrefix(line, "data: "))
			if event == "error" {
				var body handlers.ErrorResponse
				if err := json.Unmarshal(data, &body); err != nil {
					return &StreamError{Message: string(data)}
				}
				return &StreamError{Message: body.Error}
			}
			var v T
			if err := json.Unmarshal(data, &v); err != nil {
				return fmt.Errorf("malformed stream frame: %w", err)
			}
			fn(v)
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return ctx.Err()
}
