package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"sales-forecast/core/models"
)

// MemoryStore keeps every record in process memory. It backs the server
// when no database is configured.
type MemoryStore struct {
	mu         sync.RWMutex
	analysis   map[string]models.AnalysisJob
	executions map[string]models.PipelineExecution
	events     []models.ExecutionEvent
	transforms map[string]models.TransformJob
	prices     map[string]memoryPrice
	nextEvent  int64
}

type memoryPrice struct {
	price   float64
	updated time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		analysis:   make(map[string]models.AnalysisJob),
		executions: make(map[string]models.PipelineExecution),
		transforms: make(map[string]models.TransformJob),
		prices:     make(map[string]memoryPrice),
	}
}

func (m *MemoryStore) SaveAnalysisJob(_ context.Context, job *models.AnalysisJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.analysis[job.JobID]; !ok {
		m.analysis[job.JobID] = *job
	}
	return nil
}

func (m *MemoryStore) GetAnalysisJob(_ context.Context, jobID string) (*models.AnalysisJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.analysis[jobID]
	if !ok {
		return nil, models.NotFound("repository.analysis_job", "analysis job "+jobID)
	}
	return &job, nil
}

func (m *MemoryStore) CompleteAnalysisJob(_ context.Context, jobID string, status models.AnalysisJobStatus, outputPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job := m.analysis[jobID]
	job.JobID = jobID
	job.Status = status
	job.OutputPath = outputPath
	now := time.Now().UTC()
	job.CompletedAt = &now
	m.analysis[jobID] = job
	return nil
}

func (m *MemoryStore) RecordExecution(_ context.Context, execution *models.PipelineExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.executions[execution.ExecutionID]; ok {
		return nil
	}
	stored := *execution
	stored.Steps = append([]models.PipelineStep(nil), execution.Steps...)
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = stored.StartedAt
	}
	m.executions[execution.ExecutionID] = stored
	m.appendEvent(models.ExecutionEvent{
		ExecutionID: execution.ExecutionID,
		ToStatus:    string(execution.OverallStatus),
		Reason:      "execution_started",
	})
	return nil
}

func (m *MemoryStore) GetExecution(_ context.Context, executionID string) (*models.PipelineExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	execution, ok := m.executions[executionID]
	if !ok {
		return nil, models.NotFound("repository.execution", "execution "+executionID)
	}
	return &execution, nil
}

func (m *MemoryStore) ListActiveExecutions(_ context.Context) ([]*models.PipelineExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var active []*models.PipelineExecution
	for _, execution := range m.executions {
		if !execution.OverallStatus.IsTerminal() {
			e := execution
			active = append(active, &e)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].StartedAt.Before(active[j].StartedAt) })
	return active, nil
}

// UpdateExecutionStatus moves an execution from one status to another. A
// change whose from status is no longer current is ignored.
func (m *MemoryStore) UpdateExecutionStatus(_ context.Context, executionID string, from, to models.ExecutionStatus, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	execution, ok := m.executions[executionID]
	if !ok {
		return models.NotFound("repository.execution", "execution "+executionID)
	}
	if execution.OverallStatus != from {
		return nil
	}
	execution.OverallStatus = to
	execution.UpdatedAt = time.Now().UTC()
	m.executions[executionID] = execution

	fromStatus := string(from)
	m.appendEvent(models.ExecutionEvent{
		ExecutionID: executionID,
		FromStatus:  &fromStatus,
		ToStatus:    string(to),
		Reason:      reason,
	})
	return nil
}

func (m *MemoryStore) RecordTransition(_ context.Context, event *models.ExecutionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendEvent(*event)
	return nil
}

// GetExecutionEvents returns the events of an execution, newest first
func (m *MemoryStore) GetExecutionEvents(_ context.Context, executionID string, limit int) ([]models.ExecutionEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var events []models.ExecutionEvent
	for i := len(m.events) - 1; i >= 0 && (limit <= 0 || len(events) < limit); i-- {
		if m.events[i].ExecutionID == executionID {
			events = append(events, m.events[i])
		}
	}
	return events, nil
}

// appendEvent must be called with mu held
func (m *MemoryStore) appendEvent(event models.ExecutionEvent) {
	m.nextEvent++
	event.ID = m.nextEvent
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	m.events = append(m.events, event)
}

func (m *MemoryStore) SaveTransformJob(_ context.Context, job *models.TransformJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transforms[job.JobName] = *job
	return nil
}

func (m *MemoryStore) UpdateTransformStatus(_ context.Context, jobName string, status models.TransformJobStatus, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.transforms[jobName]
	if !ok {
		return nil
	}
	job.Status = status
	job.FailureReason = reason
	m.transforms[jobName] = job
	return nil
}

func (m *MemoryStore) GetTransformJob(_ context.Context, jobName string) (*models.TransformJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.transforms[jobName]
	if !ok {
		return nil, models.NotFound("repository.transform_job", "transform job "+jobName)
	}
	return &job, nil
}

func (m *MemoryStore) SavePrice(_ context.Context, region, instanceType string, pricePerHour float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[region+"/"+instanceType] = memoryPrice{price: pricePerHour, updated: time.Now()}
	return nil
}

func (m *MemoryStore) GetPrice(_ context.Context, region, instanceType string) (float64, time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.prices[region+"/"+instanceType]
	if !ok {
		return 0, time.Time{}, models.NotFound("repository.pricing", "price of "+instanceType)
	}
	return p.price, p.updated, nil
}
