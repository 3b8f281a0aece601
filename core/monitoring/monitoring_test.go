package monitoring

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"sales-forecast/core/models"
	"sales-forecast/core/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedSource replays a fixed sequence of execution states, repeating
// the last one once exhausted
type scriptedSource struct {
	mu     sync.Mutex
	states []models.ExecutionStatus
	steps  [][]models.PipelineStep
	calls  int
	err    error
}

func (s *scriptedSource) ListSteps(_ context.Context, _ string) ([]models.PipelineStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.calls++
	if len(s.steps) == 0 {
		return nil, nil
	}
	return s.steps[min(s.calls, len(s.steps))-1], nil
}

func (s *scriptedSource) DescribeExecution(_ context.Context, _ string) (*ExecutionDescription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &ExecutionDescription{Status: s.states[min(s.calls, len(s.states))-1]}, nil
}

func (s *scriptedSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type memoryRecorder struct {
	mu     sync.Mutex
	events []*models.ExecutionEvent
}

func (r *memoryRecorder) RecordTransition(_ context.Context, e *models.ExecutionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *memoryRecorder) GetExecutionEvents(context.Context, string, int) ([]models.ExecutionEvent, error) {
	return nil, nil
}

func (r *memoryRecorder) UpdateExecutionStatus(_ context.Context, id string, _, _ models.ExecutionStatus, _ string) error {
	return models.NotFound("test", "execution "+id)
}

func fastPoll() PollConfig {
	return PollConfig{Interval: 5 * time.Millisecond, MaxDuration: time.Minute, MaxIterations: 100}
}

func collect(t *testing.T, events <-chan Event[models.ExecutionSnapshot]) ([]models.ExecutionSnapshot, error) {
	t.Helper()
	var snapshots []models.ExecutionSnapshot
	timeout := time.After(5 * time.Second)
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return snapshots, nil
			}
			if e.Err != nil {
				_, open := <-events
				assert.False(t, open, "stream must close after an error event")
				return snapshots, e.Err
			}
			snapshots = append(snapshots, e.Value)
		case <-timeout:
			t.Fatal("stream did not terminate")
		}
	}
}

func step(name string, status models.StepStatus) models.PipelineStep {
	return models.PipelineStep{Name: name, Status: status}
}

func TestPoll_TrustsServiceStatus(t *testing.T) {
	source := &scriptedSource{
		states: []models.ExecutionStatus{models.ExecutionExecuting},
		steps:  [][]models.PipelineStep{{step("Training", models.StepFailed)}},
	}
	monitor := NewExecutionMonitor(source)

	snapshot, err := monitor.Poll(context.Background(), "exec-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionExecuting, snapshot.OverallStatus)
	assert.Equal(t, "exec-1", snapshot.ExecutionID)

	_, err = monitor.Poll(context.Background(), "")
	assert.True(t, errors.Is(err, models.ErrInvalidArgument))
}

func TestStream_StopsAtTerminalSnapshot(t *testing.T) {
	for _, terminal := range []models.ExecutionStatus{models.ExecutionSucceeded, models.ExecutionFailed, models.ExecutionStopped} {
		t.Run(string(terminal), func(t *testing.T) {
			source := &scriptedSource{states: []models.ExecutionStatus{
				models.ExecutionExecuting, models.ExecutionExecuting, terminal,
			}}
			monitor := NewExecutionMonitor(source, WithPollConfig(fastPoll()))

			snapshots, err := collect(t, monitor.Stream(context.Background(), "exec-1"))
			require.NoError(t, err)
			require.Len(t, snapshots, 3)
			assert.Equal(t, terminal, snapshots[2].OverallStatus)

			// No polling continues after the terminal snapshot.
			time.Sleep(20 * time.Millisecond)
			assert.Equal(t, 3, source.callCount())
		})
	}
}

func TestStream_IterationBoundEmitsTimeout(t *testing.T) {
	source := &scriptedSource{states: []models.ExecutionStatus{models.ExecutionExecuting}}
	cfg := fastPoll()
	cfg.MaxIterations = 4
	monitor := NewExecutionMonitor(source, WithPollConfig(cfg))

	snapshots, err := collect(t, monitor.Stream(context.Background(), "exec-1"))
	assert.ErrorIs(t, err, ErrPollBoundExceeded)
	assert.Len(t, snapshots, 4)
}

func TestStream_DurationBoundEmitsTimeout(t *testing.T) {
	source := &scriptedSource{states: []models.ExecutionStatus{models.ExecutionExecuting}}
	monitor := NewExecutionMonitor(source, WithPollConfig(PollConfig{Interval: 10 * time.Millisecond, MaxDuration: 35 * time.Millisecond}))

	snapshots, err := collect(t, monitor.Stream(context.Background(), "exec-1"))
	assert.ErrorIs(t, err, ErrPollBoundExceeded)
	assert.NotEmpty(t, snapshots)
	assert.LessOrEqual(t, len(snapshots), 4)
}

func TestStream_FetchErrorEndsStream(t *testing.T) {
	source := &scriptedSource{
		states: []models.ExecutionStatus{models.ExecutionExecuting},
		err:    models.ExternalServiceError("sagemaker.list_steps", errors.New("throttled")),
	}
	monitor := NewExecutionMonitor(source, WithPollConfig(fastPoll()))

	_, err := collect(t, monitor.Stream(context.Background(), "exec-1"))
	assert.True(t, errors.Is(err, models.ErrExternalService))
}

func TestStream_ConsumerCancellation(t *testing.T) {
	source := &scriptedSource{states: []models.ExecutionStatus{models.ExecutionExecuting}}
	monitor := NewExecutionMonitor(source, WithPollConfig(PollConfig{Interval: time.Millisecond}))

	ctx, cancel := context.WithCancel(context.Background())
	events := monitor.Stream(ctx, "exec-1")
	<-events
	cancel()

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("stream was not closed after cancellation")
		}
	}
}

func TestStream_RecordsTransitions(t *testing.T) {
	source := &scriptedSource{
		states: []models.ExecutionStatus{models.ExecutionExecuting, models.ExecutionExecuting, models.ExecutionSucceeded},
		steps: [][]models.PipelineStep{
			{step("FeatureEngineering", models.StepExecuting)},
			{step("FeatureEngineering", models.StepExecuting)},
			{step("FeatureEngineering", models.StepSucceeded)},
		},
	}
	recorder := &memoryRecorder{}
	monitor := NewExecutionMonitor(source, WithPollConfig(fastPoll()), WithRecorder(recorder))

	_, err := collect(t, monitor.Stream(context.Background(), "exec-1"))
	require.NoError(t, err)

	require.Len(t, recorder.events, 4)
	assert.Equal(t, "FeatureEngineering", recorder.events[0].StepName)
	assert.Nil(t, recorder.events[0].FromStatus)
	assert.Equal(t, "", recorder.events[1].StepName)
	assert.Equal(t, "Executing", recorder.events[1].ToStatus)
	assert.Equal(t, "Executing", *recorder.events[2].FromStatus)
	assert.Equal(t, "Succeeded", recorder.events[2].ToStatus)
	assert.Equal(t, "Succeeded", recorder.events[3].ToStatus)
}

func finishingSource() *scriptedSource {
	return &scriptedSource{
		states: []models.ExecutionStatus{models.ExecutionExecuting, models.ExecutionExecuting, models.ExecutionSucceeded},
		steps: [][]models.PipelineStep{
			{step("FeatureEngineering", models.StepExecuting)},
			{step("FeatureEngineering", models.StepExecuting)},
			{step("FeatureEngineering", models.StepSucceeded)},
		},
	}
}

func startedExecution(t *testing.T, store *repository.MemoryStore) {
	t.Helper()
	require.NoError(t, store.RecordExecution(context.Background(), &models.PipelineExecution{
		ExecutionID:   "exec-1",
		OverallStatus: models.ExecutionExecuting,
		StartedAt:     time.Now().UTC(),
	}))
}

func TestStream_SecondWatcherRecordsNothingNew(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	startedExecution(t, store)
	monitor := NewExecutionMonitor(finishingSource(), WithPollConfig(fastPoll()), WithRecorder(store))

	_, err := collect(t, monitor.Stream(ctx, "exec-1"))
	require.NoError(t, err)
	first, err := store.GetExecutionEvents(ctx, "exec-1", 0)
	require.NoError(t, err)
	// started, step executing, step succeeded, execution succeeded
	require.Len(t, first, 4)

	_, err = collect(t, monitor.Stream(ctx, "exec-1"))
	require.NoError(t, err)
	NewExecutionTracker(monitor, store, time.Minute).Sweep(ctx)

	again, err := store.GetExecutionEvents(ctx, "exec-1", 0)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	execution, err := store.GetExecution(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionSucceeded, execution.OverallStatus)
}

func TestStream_AfterSweepDoesNotRepeatExecutionTransition(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	startedExecution(t, store)
	source := &scriptedSource{
		states: []models.ExecutionStatus{models.ExecutionSucceeded},
		steps:  [][]models.PipelineStep{{step("FeatureEngineering", models.StepSucceeded)}},
	}
	monitor := NewExecutionMonitor(source, WithPollConfig(fastPoll()), WithRecorder(store))

	NewExecutionTracker(monitor, store, time.Minute).Sweep(ctx)
	_, err := collect(t, monitor.Stream(ctx, "exec-1"))
	require.NoError(t, err)

	events, err := store.GetExecutionEvents(ctx, "exec-1", 0)
	require.NoError(t, err)
	succeeded := 0
	for _, e := range events {
		if e.StepName == "" && e.ToStatus == string(models.ExecutionSucceeded) {
			succeeded++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Len(t, events, 3, "started, sweep, step")
}

type memoryExecutions struct {
	active  []*models.PipelineExecution
	updates []string
}

func (m *memoryExecutions) ListActiveExecutions(context.Context) ([]*models.PipelineExecution, error) {
	return m.active, nil
}

func (m *memoryExecutions) UpdateExecutionStatus(_ context.Context, id string, from, to models.ExecutionStatus, _ string) error {
	m.updates = append(m.updates, id+":"+string(from)+"->"+string(to))
	return nil
}

func TestExecutionTracker_SweepUpdatesChangedStatuses(t *testing.T) {
	source := &scriptedSource{states: []models.ExecutionStatus{models.ExecutionSucceeded}}
	store := &memoryExecutions{active: []*models.PipelineExecution{
		{ExecutionID: "exec-1", OverallStatus: models.ExecutionExecuting},
		{ExecutionID: "exec-2", OverallStatus: models.ExecutionSucceeded},
	}}

	NewExecutionTracker(NewExecutionMonitor(source), store, time.Minute).Sweep(context.Background())

	assert.Equal(t, []string{"exec-1:Executing->Succeeded"}, store.updates)
}
