// Package featureeng starts the feature-engineering ETL job that turns the
// processed columnar store into training features.
package featureeng

import (
	"context"
	"fmt"
	"log/slog"

	"sales-forecast/core/models"
)

// StatusStarted is reported once a job run has been accepted
const StatusStarted = "Started"

// ETLService is the managed ETL job service
type ETLService interface {
	StartJobRun(ctx context.Context, jobName string, args map[string]string) (string, error)
	JobRunState(ctx context.Context, jobName, runID string) (string, error)
}

// RunInfo identifies one job run
type RunInfo struct {
	JobName string `json:"glue_job_name"`
	RunID   string `json:"glue_job_run_id"`
	Status  string `json:"status"`
}

// Trigger starts ETL runs on behalf of the pipeline
type Trigger struct {
	service    ETLService
	defaultJob string
	args       map[string]string
	logger     *slog.Logger
}

// Option configures a Trigger.
type Option func(*Trigger)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Trigger) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithArguments passes job arguments (e.g. "--source_path") to every run.
func WithArguments(args map[string]string) Option {
	return func(t *Trigger) {
		t.args = args
	}
}

// NewTrigger creates a trigger; defaultJob is used when Invoke gets no name
func NewTrigger(service ETLService, defaultJob string, opts ...Option) *Trigger {
	t := &Trigger{
		service:    service,
		defaultJob: defaultJob,
		logger:     slog.Default().With("component", "etl-trigger"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Invoke starts a run of jobName and returns without waiting for it
func (t *Trigger) Invoke(ctx context.Context, jobName string) (RunInfo, error) {
	if jobName == "" {
		jobName = t.defaultJob
	}
	if jobName == "" {
		return RunInfo{}, models.InvalidArgument("featureeng.invoke", "job name is required")
	}

	runID, err := t.service.StartJobRun(ctx, jobName, t.args)
	if err != nil {
		t.logger.Error("failed to start job run", "job", jobName, "error", err)
		return RunInfo{}, fmt.Errorf("failed to start %s: %w", jobName, err)
	}
	t.logger.Info("job run started", "job", jobName, "run_id", runID)

	return RunInfo{JobName: jobName, RunID: runID, Status: StatusStarted}, nil
}

// Status reads the state of a run as reported by the service
func (t *Trigger) Status(ctx context.Context, jobName, runID string) (RunInfo, error) {
	if jobName == "" {
		jobName = t.defaultJob
	}
	if runID == "" {
		return RunInfo{}, models.InvalidArgument("featureeng.status", "run id is required")
	}
	state, err := t.service.JobRunState(ctx, jobName, runID)
	if err != nil {
		return RunInfo{}, fmt.Errorf("failed to read run %s of %s: %w", runID, jobName, err)
	}
	return RunInfo{JobName: jobName, RunID: runID, Status: state}, nil
}
