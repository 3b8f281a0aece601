package monitoring

import (
	"context"
	"log/slog"
	"time"

	"sales-forecast/core/models"
)

// ExecutionStore holds the executions started by this service
type ExecutionStore interface {
	ListActiveExecutions(ctx context.Context) ([]*models.PipelineExecution, error)
	UpdateExecutionStatus(ctx context.Context, executionID string, from, to models.ExecutionStatus, reason string) error
}

// ExecutionTracker keeps stored execution statuses current, whether or not a
// client is streaming progress
type ExecutionTracker struct {
	monitor  *ExecutionMonitor
	store    ExecutionStore
	interval time.Duration
	logger   *slog.Logger
}

// NewExecutionTracker creates a new execution tracker
func NewExecutionTracker(monitor *ExecutionMonitor, store ExecutionStore, interval time.Duration) *ExecutionTracker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &ExecutionTracker{
		monitor:  monitor,
		store:    store,
		interval: interval,
		logger:   monitor.logger.With("worker", "execution-tracker"),
	}
}

// Start runs the refresh loop until ctx is cancelled
func (t *ExecutionTracker) Start(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Sweep(ctx)
		}
	}
}

// Sweep refreshes every non-terminal execution once
func (t *ExecutionTracker) Sweep(ctx context.Context) {
	executions, err := t.store.ListActiveExecutions(ctx)
	if err != nil {
		t.logger.Error("failed to fetch active executions", "error", err)
		return
	}

	for _, exec := range executions {
		snapshot, err := t.monitor.Poll(ctx, exec.ExecutionID)
		if err != nil {
			t.logger.Warn("failed to poll execution", "execution", exec.ExecutionID, "error", err)
			continue
		}
		if snapshot.OverallStatus == exec.OverallStatus {
			continue
		}
		if err := t.store.UpdateExecutionStatus(ctx, exec.ExecutionID, exec.OverallStatus, snapshot.OverallStatus, snapshot.FailureReason); err != nil {
			t.logger.Error("failed to update execution status", "execution", exec.ExecutionID, "error", err)
			continue
		}
		t.logger.Info("execution status changed", "execution", exec.ExecutionID,
			"from", exec.OverallStatus, "to", snapshot.OverallStatus)
	}
}
