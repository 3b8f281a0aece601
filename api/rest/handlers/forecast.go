package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"

	"sales-forecast/config"
	"sales-forecast/core/featureeng"
	"sales-forecast/core/inference"
	"sales-forecast/core/ingestion"
	"sales-forecast/core/models"
	"sales-forecast/core/monitoring"
	"sales-forecast/core/optimizer"
	"sales-forecast/core/pipeline"
	"sales-forecast/core/spec"
	"sales-forecast/storage"

	"github.com/gorilla/mux"
	"github.com/panjf2000/ants/v2"
)

const maxUploadMemory = 64 << 20

// ExecutionHistory reads what was persisted about pipeline executions
type ExecutionHistory interface {
	GetExecution(ctx context.Context, executionID string) (*models.PipelineExecution, error)
	GetExecutionEvents(ctx context.Context, executionID string, limit int) ([]models.ExecutionEvent, error)
}

// ForecastDeps are the collaborators of the forecast endpoints
type ForecastDeps struct {
	Config  *config.Config
	Store   storage.ObjectStore
	Router  *ingestion.Router
	Trainer *pipeline.Trainer
	Monitor *monitoring.ExecutionMonitor
	Driver  *inference.Driver
	History ExecutionHistory        // Optional
	Costs   *optimizer.CostCalculator // Optional
	Spend   *monitoring.CostTracker   // Optional
	Trigger *featureeng.Trigger       // Optional
	Spec    *spec.PipelineSpec
}

// ForecastHandler handles upload, training and prediction requests
type ForecastHandler struct {
	cfg     *config.Config
	store   storage.ObjectStore
	router  *ingestion.Router
	trainer *pipeline.Trainer
	monitor *monitoring.ExecutionMonitor
	driver  *inference.Driver
	history ExecutionHistory
	costs   *optimizer.CostCalculator
	spend   *monitoring.CostTracker
	trigger *featureeng.Trigger
	spec    *spec.PipelineSpec
}

// NewForecastHandler creates a new forecast handler
func NewForecastHandler(deps ForecastDeps) *ForecastHandler {
	return &ForecastHandler{
		cfg:     deps.Config,
		store:   deps.Store,
		router:  deps.Router,
		trainer: deps.Trainer,
		monitor: deps.Monitor,
		driver:  deps.Driver,
		history: deps.History,
		costs:   deps.Costs,
		spend:   deps.Spend,
		trigger: deps.Trigger,
		spec:    deps.Spec,
	}
}

// UploadResult reports what happened to one uploaded file
type UploadResult struct {
	Filename      string `json:"filename"`
	S3URI         string `json:"s3_uri,omitempty"`
	Status        string `json:"status"`
	JobID         string `json:"job_id,omitempty"`
	ProcessedFile string `json:"processed_file,omitempty"`
	Error         string `json:"error,omitempty"`

	err error
}

// UploadResponse lists per-file results in request order
type UploadResponse struct {
	Files []UploadResult `json:"files"`
}

// UploadStatusFailed marks a file that could not be stored or routed
const UploadStatusFailed = "FAILED"

// UploadRawData handles POST /api/v1/forecast/upload-raw-data
func (h *ForecastHandler) UploadRawData(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		badRequest(w, "Invalid multipart form: "+err.Error())
		return
	}
	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		badRequest(w, "at least one file is required in the files field")
		return
	}

	workers := h.cfg.UploadWorkers
	if workers < 1 {
		workers = 1
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer pool.Release()

	results := make([]UploadResult, len(files))
	var wg sync.WaitGroup
	for i, fh := range files {
		i, fh := i, fh
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			results[i] = h.ingestFile(r.Context(), fh)
		}); err != nil {
			wg.Done()
			results[i] = failed(fh.Filename, "", err)
		}
	}
	wg.Wait()

	// A request in which every file failed reports the first failure's status
	status := http.StatusOK
	var firstErr error
	for _, res := range results {
		if res.err == nil {
			firstErr = nil
			break
		}
		if firstErr == nil {
			firstErr = res.err
		}
	}
	if firstErr != nil {
		status = StatusFor(firstErr)
	}
	writeJSON(w, status, UploadResponse{Files: results})
}

func (h *ForecastHandler) ingestFile(ctx context.Context, fh *multipart.FileHeader) UploadResult {
	name := path.Base(strings.ReplaceAll(fh.Filename, "\\", "/"))
	key := "uploads/" + name
	obj := models.NewIngestObject(h.cfg.RawBucket, key, nil)
	if obj.Extension.Kind() == models.FileKindUnsupported {
		return failed(name, "", models.UnsupportedType("forecast.upload", path.Ext(name)))
	}

	f, err := fh.Open()
	if err != nil {
		return failed(name, "", models.InvalidArgument("forecast.upload", "unreadable file part: "+err.Error()))
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return failed(name, "", models.InvalidArgument("forecast.upload", "unreadable file part: "+err.Error()))
	}

	uri := storage.URI(h.cfg.RawBucket, key)
	if err := h.store.Put(ctx, h.cfg.RawBucket, key, content, fh.Header.Get("Content-Type")); err != nil {
		return failed(name, "", err)
	}

	obj.Content = content
	outcome, err := h.router.Route(ctx, obj)
	if err != nil {
		return failed(name, uri, err)
	}
	log.Printf("Routed %s: %s", uri, outcome.Status)
	return UploadResult{
		Filename:      name,
		S3URI:         uri,
		Status:        string(outcome.Status),
		JobID:         outcome.JobID,
		ProcessedFile: outcome.Path,
	}
}

func failed(name, uri string, err error) UploadResult {
	return UploadResult{Filename: name, S3URI: uri, Status: UploadStatusFailed, Error: err.Error(), err: err}
}

// TrainResponse carries the id of the started execution
type TrainResponse struct {
	ExecutionArn string `json:"execution_arn"`
}

// Train handles POST /api/v1/forecast/train
func (h *ForecastHandler) Train(w http.ResponseWriter, r *http.Request) {
	arn, err := h.trainer.Trigger(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.trackTraining(r.Context(), arn)
	writeJSON(w, http.StatusOK, TrainResponse{ExecutionArn: arn})
}

// trackTraining starts accruing the training step's compute cost for arn
func (h *ForecastHandler) trackTraining(ctx context.Context, arn string) {
	if h.spend == nil || h.costs == nil || h.spec == nil {
		return
	}
	training := h.spec.Pipeline.Training
	hourly, err := h.costs.HourlyCost(ctx, training.InstanceType, training.InstanceCount)
	if err != nil {
		log.Printf("No price for %s, not tracking cost of %s: %v", training.InstanceType, arn, err)
		return
	}
	h.spend.TrackJob(arn, monitoring.JobKindTraining, hourly)
}

// TrainProgress handles GET /api/v1/forecast/train/progress (server-sent events)
func (h *ForecastHandler) TrainProgress(w http.ResponseWriter, r *http.Request) {
	arn, ok := requireQuery(w, r, "execution_arn")
	if !ok {
		return
	}
	streamEvents(w, r, h.monitor.Stream(r.Context(), arn))
}

// TrainStatus handles GET /api/v1/forecast/train/status
func (h *ForecastHandler) TrainStatus(w http.ResponseWriter, r *http.Request) {
	arn, ok := requireQuery(w, r, "execution_arn")
	if !ok {
		return
	}
	snapshot, err := h.monitor.Poll(r.Context(), arn)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// ExecutionHistoryResponse is the stored record of an execution and its transitions
type ExecutionHistoryResponse struct {
	ExecutionArn  string                  `json:"execution_arn"`
	PipelineName  string                  `json:"pipeline_name"`
	OverallStatus models.ExecutionStatus  `json:"overall_status"`
	Events        []models.ExecutionEvent `json:"events"`
}

// TrainHistory handles GET /api/v1/forecast/train/history
func (h *ForecastHandler) TrainHistory(w http.ResponseWriter, r *http.Request) {
	arn, ok := requireQuery(w, r, "execution_arn")
	if !ok {
		return
	}
	if h.history == nil {
		writeError(w, r, models.NotFound("forecast.history", "execution history"))
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			badRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	exec, err := h.history.GetExecution(r.Context(), arn)
	if err != nil {
		writeError(w, r, err)
		return
	}
	events, err := h.history.GetExecutionEvents(r.Context(), arn, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if events == nil {
		events = []models.ExecutionEvent{}
	}
	writeJSON(w, http.StatusOK, ExecutionHistoryResponse{
		ExecutionArn:  exec.ExecutionID,
		PipelineName:  exec.PipelineName,
		OverallStatus: exec.OverallStatus,
		Events:        events,
	})
}

// EstimateResponse bounds the compute cost of one training run
type EstimateResponse struct {
	Steps        []optimizer.StepEstimate `json:"steps"`
	TotalMaxCost float64                  `json:"total_max_cost_usd"`
}

// TrainEstimate handles GET /api/v1/forecast/train/estimate
func (h *ForecastHandler) TrainEstimate(w http.ResponseWriter, r *http.Request) {
	if h.costs == nil || h.spec == nil {
		writeError(w, r, models.NotFound("forecast.estimate", "cost estimation"))
		return
	}
	steps, total, err := h.costs.EstimatePipeline(r.Context(), h.spec)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, EstimateResponse{Steps: steps, TotalMaxCost: total})
}

// PredictRequest starts batch inference on an approved model version
type PredictRequest struct {
	ModelArn    string `json:"model_arn"`
	InputS3Path string `json:"input_s3_path"`
}

// Predict handles POST /api/v1/forecast/predict
func (h *ForecastHandler) Predict(w http.ResponseWriter, r *http.Request) {
	var req PredictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "Invalid request body")
		return
	}
	job, err := h.driver.Submit(r.Context(), req.ModelArn, req.InputS3Path)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if h.spend != nil && job.EstimatedHourlyUSD != nil {
		h.spend.TrackJob(job.JobName, monitoring.JobKindInference, *job.EstimatedHourlyUSD)
	}
	writeJSON(w, http.StatusOK, job)
}

// FeatureEngineeringStatus handles GET /api/v1/forecast/feature-engineering/status.
// job_name defaults to the configured ETL job.
func (h *ForecastHandler) FeatureEngineeringStatus(w http.ResponseWriter, r *http.Request) {
	runID, ok := requireQuery(w, r, "run_id")
	if !ok {
		return
	}
	run, err := h.trigger.Status(r.Context(), r.URL.Query().Get("job_name"), runID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// PredictStatus handles GET /api/v1/forecast/predict/status
func (h *ForecastHandler) PredictStatus(w http.ResponseWriter, r *http.Request) {
	jobName, ok := requireQuery(w, r, "job_name")
	if !ok {
		return
	}
	status, err := h.driver.CheckStatus(r.Context(), jobName)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// PredictProgress handles GET /api/v1/forecast/predict/progress (server-sent events)
func (h *ForecastHandler) PredictProgress(w http.ResponseWriter, r *http.Request) {
	jobName, ok := requireQuery(w, r, "job_name")
	if !ok {
		return
	}
	streamEvents(w, r, h.driver.Watch(r.Context(), jobName))
}

// PredictResults handles GET /api/v1/forecast/predict/results
func (h *ForecastHandler) PredictResults(w http.ResponseWriter, r *http.Request) {
	jobName, ok := requireQuery(w, r, "job_name")
	if !ok {
		return
	}
	results, err := h.driver.Results(r.Context(), jobName)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// FileListResponse lists the objects of one bucket
type FileListResponse struct {
	BucketType string               `json:"bucket_type"`
	Bucket     string               `json:"bucket"`
	Files      []storage.ObjectInfo `json:"files"`
}

// ListFiles handles GET /api/v1/forecast/list-files/{bucket_type}
func (h *ForecastHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	bucketType := mux.Vars(r)["bucket_type"]
	bucket, ok := h.cfg.BucketFor(bucketType)
	if !ok {
		badRequest(w, fmt.Sprintf("unknown bucket type %q", bucketType))
		return
	}

	files, err := h.store.List(r.Context(), bucket, r.URL.Query().Get("prefix"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if files == nil {
		files = []storage.ObjectInfo{}
	}
	writeJSON(w, http.StatusOK, FileListResponse{BucketType: bucketType, Bucket: bucket, Files: files})
}

// InputsResponse lists the objects usable as batch inference input
type InputsResponse struct {
	Inputs []string `json:"inputs"`
}

// S3Inputs handles GET /api/v1/forecast/s3-inputs
func (h *ForecastHandler) S3Inputs(w http.ResponseWriter, r *http.Request) {
	inputs := []string{}
	for _, bucket := range []string{h.cfg.ProcessedBucket, h.cfg.FeatureStoreBucket} {
		if bucket == "" {
			continue
		}
		files, err := h.store.List(r.Context(), bucket, "")
		if err != nil {
			writeError(w, r, err)
			return
		}
		for _, f := range files {
			if strings.HasSuffix(f.Key, "/") {
				continue
			}
			inputs = append(inputs, storage.URI(bucket, f.Key))
		}
	}
	writeJSON(w, http.StatusOK, InputsResponse{Inputs: inputs})
}
