package monitoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"sales-forecast/core/models"
)

// ExecutionDescription is the execution-level state reported by the service
type ExecutionDescription struct {
	PipelineName  string
	Status        models.ExecutionStatus
	FailureReason string
	StartedAt     time.Time
}

// ExecutionSource reads execution state from the pipeline service
type ExecutionSource interface {
	// ListSteps returns the steps of an execution in ascending start order
	ListSteps(ctx context.Context, executionID string) ([]models.PipelineStep, error)
	DescribeExecution(ctx context.Context, executionID string) (*ExecutionDescription, error)
}

// Recorder persists observed status transitions and reads back the ones
// already recorded, newest first. Overall status changes of stored
// executions go through UpdateExecutionStatus.
type Recorder interface {
	RecordTransition(ctx context.Context, event *models.ExecutionEvent) error
	GetExecutionEvents(ctx context.Context, executionID string, limit int) ([]models.ExecutionEvent, error)
	UpdateExecutionStatus(ctx context.Context, executionID string, from, to models.ExecutionStatus, reason string) error
}

// ExecutionMonitor polls pipeline executions
type ExecutionMonitor struct {
	source   ExecutionSource
	poll     PollConfig
	recorder Recorder
	logger   *slog.Logger
}

// Option configures an ExecutionMonitor.
type Option func(*ExecutionMonitor)

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *ExecutionMonitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithPollConfig overrides the polling interval and bounds.
func WithPollConfig(cfg PollConfig) Option {
	return func(m *ExecutionMonitor) {
		m.poll = cfg
	}
}

// WithRecorder persists step transitions observed while streaming.
func WithRecorder(r Recorder) Option {
	return func(m *ExecutionMonitor) {
		m.recorder = r
	}
}

// NewExecutionMonitor creates a new execution monitor
func NewExecutionMonitor(source ExecutionSource, opts ...Option) *ExecutionMonitor {
	m := &ExecutionMonitor{
		source: source,
		poll:   DefaultPollConfig(),
		logger: slog.Default().With("component", "execution-monitor"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// PollConfig returns the configured polling bounds
func (m *ExecutionMonitor) PollConfig() PollConfig {
	return m.poll
}

// Poll takes one snapshot. The overall status is the one reported by the
// service; it is never derived from the steps.
func (m *ExecutionMonitor) Poll(ctx context.Context, executionID string) (models.ExecutionSnapshot, error) {
	if executionID == "" {
		return models.ExecutionSnapshot{}, models.InvalidArgument("monitoring.poll", "execution id is required")
	}

	steps, err := m.source.ListSteps(ctx, executionID)
	if err != nil {
		return models.ExecutionSnapshot{}, fmt.Errorf("failed to list steps of %s: %w", executionID, err)
	}
	desc, err := m.source.DescribeExecution(ctx, executionID)
	if err != nil {
		return models.ExecutionSnapshot{}, fmt.Errorf("failed to describe %s: %w", executionID, err)
	}

	if steps == nil {
		steps = []models.PipelineStep{}
	}
	return models.ExecutionSnapshot{
		ExecutionID:   executionID,
		OverallStatus: desc.Status,
		Steps:         steps,
		FailureReason: desc.FailureReason,
		ObservedAt:    time.Now().UTC(),
	}, nil
}

// Stream polls an execution until it reaches a terminal status, a poll bound
// is hit or ctx is cancelled. Snapshots arrive in observation order and
// nothing is sent after the terminal one. Only transitions not already
// recorded for the execution are recorded.
func (m *ExecutionMonitor) Stream(ctx context.Context, executionID string) <-chan Event[models.ExecutionSnapshot] {
	var tracker *transitionTracker

	fetch := func(ctx context.Context) (models.ExecutionSnapshot, error) {
		snapshot, err := m.Poll(ctx, executionID)
		if err != nil {
			return snapshot, err
		}
		if tracker == nil {
			tracker = m.resumeTracker(ctx, executionID)
		}
		m.record(ctx, tracker.observe(snapshot))
		return snapshot, nil
	}
	done := func(s models.ExecutionSnapshot) bool {
		if s.OverallStatus.IsTerminal() {
			m.logger.Info("execution finished", "execution", executionID, "status", s.OverallStatus)
			return true
		}
		return false
	}
	return Poll(ctx, m.poll, fetch, done)
}

// resumeTracker starts from the last recorded status of the execution and
// each of its steps
func (m *ExecutionMonitor) resumeTracker(ctx context.Context, executionID string) *transitionTracker {
	t := newTransitionTracker(executionID)
	if m.recorder == nil {
		return t
	}
	events, err := m.recorder.GetExecutionEvents(ctx, executionID, 0)
	if err != nil {
		m.logger.Warn("failed to read recorded transitions", "execution", executionID, "error", err)
		return t
	}
	t.resume(events)
	return t
}

func (m *ExecutionMonitor) record(ctx context.Context, events []*models.ExecutionEvent) {
	if m.recorder == nil {
		return
	}
	for _, event := range events {
		var err error
		if event.StepName == "" && event.FromStatus != nil {
			from, to := models.ExecutionStatus(*event.FromStatus), models.ExecutionStatus(event.ToStatus)
			err = m.recorder.UpdateExecutionStatus(ctx, event.ExecutionID, from, to, event.Reason)
			if errors.Is(err, models.ErrNotFound) {
				// Started outside this service
				err = m.recorder.RecordTransition(ctx, event)
			}
		} else {
			err = m.recorder.RecordTransition(ctx, event)
		}
		if err != nil {
			m.logger.Warn("failed to record transition", "execution", event.ExecutionID, "step", event.StepName, "error", err)
		}
	}
}

// transitionTracker turns consecutive snapshots into status transitions
type transitionTracker struct {
	executionID string
	overall     string
	steps       map[string]string
}

func newTransitionTracker(executionID string) *transitionTracker {
	return &transitionTracker{executionID: executionID, steps: make(map[string]string)}
}

// resume takes the newest event per step, and the newest execution-level
// event, as the last known statuses
func (t *transitionTracker) resume(newestFirst []models.ExecutionEvent) {
	for _, e := range newestFirst {
		if e.StepName == "" {
			if t.overall == "" {
				t.overall = e.ToStatus
			}
			continue
		}
		if _, ok := t.steps[e.StepName]; !ok {
			t.steps[e.StepName] = e.ToStatus
		}
	}
}

func (t *transitionTracker) observe(s models.ExecutionSnapshot) []*models.ExecutionEvent {
	var events []*models.ExecutionEvent
	now := s.ObservedAt

	for _, step := range s.Steps {
		to := string(step.Status)
		from, seen := t.steps[step.Name]
		if seen && from == to {
			continue
		}
		event := &models.ExecutionEvent{
			ExecutionID: t.executionID,
			StepName:    step.Name,
			At:          now,
			ToStatus:    to,
			Reason:      step.FailureReason,
		}
		if seen {
			prev := from
			event.FromStatus = &prev
		}
		t.steps[step.Name] = to
		events = append(events, event)
	}

	if to := string(s.OverallStatus); to != t.overall {
		event := &models.ExecutionEvent{
			ExecutionID: t.executionID,
			At:          now,
			ToStatus:    to,
			Reason:      s.FailureReason,
		}
		if t.overall != "" {
			prev := t.overall
			event.FromStatus = &prev
		}
		t.overall = to
		events = append(events, event)
	}
	return events
}
