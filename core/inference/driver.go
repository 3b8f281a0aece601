package inference

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"sales-forecast/core/models"
	"sales-forecast/core/monitoring"
	"sales-forecast/core/spec"
	"sales-forecast/storage"

	"github.com/google/uuid"
)

// ModelSpec describes the ephemeral model binding created for a job
type ModelSpec struct {
	Name            string
	ModelPackageArn string
	RoleArn         string
}

// TransformSpec describes one batch transform job
type TransformSpec struct {
	JobName                 string
	ModelName               string
	InputURI                string
	OutputURI               string
	ContentType             string
	Accept                  string
	InstanceType            string
	InstanceCount           int
	MaxConcurrentTransforms int
	InvocationTimeout       time.Duration
	MaxRetries              int
}

// JobDescription is the service-side state of a transform job
type JobDescription struct {
	JobName       string
	ModelName     string
	Status        models.TransformJobStatus
	FailureReason string
	OutputURI     string
	CreatedAt     time.Time
}

// TransformService is the managed batch inference service
type TransformService interface {
	CreateModel(ctx context.Context, spec ModelSpec) error
	DeleteModel(ctx context.Context, name string) error
	CreateTransformJob(ctx context.Context, spec TransformSpec) error
	DescribeTransformJob(ctx context.Context, jobName string) (*JobDescription, error)
}

// ModelLookup resolves the approval state of a model version
type ModelLookup interface {
	DescribeModelVersion(ctx context.Context, arn string) (*models.ModelVersion, error)
}

// CostEstimator prices the compute of a job
type CostEstimator interface {
	HourlyCost(ctx context.Context, instanceType string, count int) (float64, error)
}

// JobStore persists submitted transform jobs
type JobStore interface {
	SaveTransformJob(ctx context.Context, job *models.TransformJob) error
	UpdateTransformStatus(ctx context.Context, jobName string, status models.TransformJobStatus, reason string) error
}

// Config holds the driver settings
type Config struct {
	RoleArn         string
	ArtifactsBucket string
	Inference       spec.InferenceSpec
	Poll            monitoring.PollConfig
}

// Driver submits and tracks batch inference jobs
type Driver struct {
	cfg       Config
	service   TransformService
	lookup    ModelLookup
	store     storage.ObjectStore
	estimator CostEstimator
	jobs      JobStore
	logger    *slog.Logger
	newID     func() string
}

// Option configures a Driver.
type Option func(*Driver)

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(d *Driver) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithCostEstimator attaches an hourly cost estimate to submitted jobs.
func WithCostEstimator(e CostEstimator) Option {
	return func(d *Driver) {
		d.estimator = e
	}
}

// WithJobStore persists submitted jobs and their status changes.
func WithJobStore(s JobStore) Option {
	return func(d *Driver) {
		d.jobs = s
	}
}

// NewDriver creates a new batch inference driver
func NewDriver(cfg Config, service TransformService, lookup ModelLookup, store storage.ObjectStore, opts ...Option) *Driver {
	if cfg.Inference.InstanceType == "" {
		cfg.Inference = spec.Default().Pipeline.Inference
	}
	if cfg.Poll.Interval <= 0 {
		cfg.Poll = monitoring.DefaultPollConfig()
	}
	d := &Driver{
		cfg:     cfg,
		service: service,
		lookup:  lookup,
		store:   store,
		logger:  slog.Default().With("component", "inference-driver"),
		newID:   func() string { return strings.ReplaceAll(uuid.NewString(), "-", "")[:16] },
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// OutputURI is where a job writes its predictions
func (d *Driver) OutputURI(jobName string) string {
	return storage.URI(d.cfg.ArtifactsBucket, "predictions/"+jobName+"/")
}

// Submit starts a transform job against an approved model version and
// returns without waiting for it
func (d *Driver) Submit(ctx context.Context, modelArn, inputURI string) (*models.TransformJob, error) {
	const op = "inference.submit"

	if modelArn == "" {
		return nil, models.InvalidArgument(op, "model arn is required")
	}
	if _, _, err := storage.ParseURI(inputURI); err != nil {
		return nil, models.InvalidArgument(op, err.Error())
	}

	version, err := d.lookup.DescribeModelVersion(ctx, modelArn)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve model %s: %w", modelArn, err)
	}
	if version.ApprovalStatus != models.ApprovalApproved {
		d.logger.Warn("rejected inference on unapproved model", "model", modelArn, "status", version.ApprovalStatus)
		return nil, models.ModelNotApproved(op, modelArn, version.ApprovalStatus)
	}

	id := d.newID()
	modelName := "forecast-model-" + id
	jobName := "batch-transform-" + id
	outputURI := d.OutputURI(jobName)

	if err := d.service.CreateModel(ctx, ModelSpec{Name: modelName, ModelPackageArn: modelArn, RoleArn: d.cfg.RoleArn}); err != nil {
		return nil, fmt.Errorf("failed to create model %s: %w", modelName, err)
	}
	d.logger.Info("model created", "model", modelName, "package", modelArn)

	inf := d.cfg.Inference
	err = d.service.CreateTransformJob(ctx, TransformSpec{
		JobName:                 jobName,
		ModelName:               modelName,
		InputURI:                inputURI,
		OutputURI:               outputURI,
		ContentType:             inf.ContentType,
		Accept:                  inf.Accept,
		InstanceType:            inf.InstanceType,
		InstanceCount:           inf.InstanceCount,
		MaxConcurrentTransforms: inf.MaxConcurrentTransforms,
		InvocationTimeout:       inf.InvocationTimeout,
		MaxRetries:              inf.MaxRetries,
	})
	if err != nil {
		// The model is only reachable through this job.
		if derr := d.service.DeleteModel(ctx, modelName); derr != nil {
			d.logger.Warn("failed to delete model", "model", modelName, "error", derr)
		}
		return nil, fmt.Errorf("failed to create transform job %s: %w", jobName, err)
	}
	d.logger.Info("transform job started", "job", jobName, "input", inputURI, "output", outputURI)

	job := &models.TransformJob{
		JobName:   jobName,
		ModelName: modelName,
		ModelArn:  modelArn,
		InputURI:  inputURI,
		OutputURI: outputURI,
		Status:    models.TransformInProgress,
		CreatedAt: time.Now().UTC(),
	}

	if d.estimator != nil {
		hourly, err := d.estimator.HourlyCost(ctx, inf.InstanceType, inf.InstanceCount)
		if err != nil {
			d.logger.Warn("failed to estimate job cost", "job", jobName, "error", err)
		} else {
			job.EstimatedHourlyUSD = &hourly
		}
	}

	if d.jobs != nil {
		if err := d.jobs.SaveTransformJob(ctx, job); err != nil {
			d.logger.Warn("failed to record transform job", "job", jobName, "error", err)
		}
	}
	return job, nil
}

// CheckStatus reads the current status of a job from the service
func (d *Driver) CheckStatus(ctx context.Context, jobName string) (models.TransformStatus, error) {
	if jobName == "" {
		return models.TransformStatus{}, models.InvalidArgument("inference.status", "job name is required")
	}
	desc, err := d.service.DescribeTransformJob(ctx, jobName)
	if err != nil {
		return models.TransformStatus{}, fmt.Errorf("failed to describe transform job %s: %w", jobName, err)
	}
	return models.TransformStatus{
		JobName:       jobName,
		Status:        desc.Status,
		FailureReason: desc.FailureReason,
		Progress:      desc.Status.Progress(),
		ObservedAt:    time.Now().UTC(),
	}, nil
}

// Watch polls a job until it reaches a terminal status, with the same
// bounds as execution progress streams
func (d *Driver) Watch(ctx context.Context, jobName string) <-chan monitoring.Event[models.TransformStatus] {
	var last models.TransformJobStatus
	fetch := func(ctx context.Context) (models.TransformStatus, error) {
		status, err := d.CheckStatus(ctx, jobName)
		if err == nil && status.Status != last {
			last = status.Status
			d.recordStatus(ctx, status)
		}
		return status, err
	}
	done := func(s models.TransformStatus) bool { return s.Status.IsTerminal() }
	return monitoring.Poll(ctx, d.cfg.Poll, fetch, done)
}

func (d *Driver) recordStatus(ctx context.Context, status models.TransformStatus) {
	if d.jobs == nil {
		return
	}
	if err := d.jobs.UpdateTransformStatus(ctx, status.JobName, status.Status, status.FailureReason); err != nil {
		d.logger.Warn("failed to record transform status", "job", status.JobName, "error", err)
	}
}
