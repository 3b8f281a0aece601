package monitoring

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// JobKind distinguishes the compute jobs whose cost is tracked
type JobKind string

const (
	JobKindTraining  JobKind = "training"
	JobKindInference JobKind = "inference"
)

// FinishedFunc reports whether a tracked job has stopped consuming compute
type FinishedFunc func(ctx context.Context, kind JobKind, jobID string) (bool, error)

// CostTracker accrues the running cost of pipeline executions and batch
// transform jobs from their hourly price
type CostTracker struct {
	finished  FinishedFunc
	interval  time.Duration
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu   sync.RWMutex
	jobs map[string]*JobCost
}

// JobCost tracks cost for a single job
type JobCost struct {
	JobID       string    `json:"job_id"`
	Kind        JobKind   `json:"kind"`
	HourlyUSD   float64   `json:"hourly_usd"`
	StartTime   time.Time `json:"start_time"`
	LastUpdate  time.Time `json:"last_update"`
	RunningCost float64   `json:"running_cost_usd"`
	Finished    bool      `json:"finished"`
}

// NewCostTracker creates a new cost tracker. Finished jobs are dropped
// retention after they finish. A zero interval means one minute and a zero
// retention means a day.
func NewCostTracker(finished FinishedFunc, interval, retention time.Duration) *CostTracker {
	if interval <= 0 {
		interval = time.Minute
	}
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &CostTracker{
		finished:  finished,
		interval:  interval,
		retention: retention,
		logger:    slog.Default().With("worker", "cost-tracker"),
		now:       time.Now,
		jobs:      make(map[string]*JobCost),
	}
}

// Start runs the accrual loop until ctx is cancelled
func (ct *CostTracker) Start(ctx context.Context) {
	ticker := time.NewTicker(ct.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ct.UpdateAll(ctx)
		}
	}
}

// TrackJob starts accruing cost for a job. Tracking an already tracked job
// is a no-op.
func (ct *CostTracker) TrackJob(jobID string, kind JobKind, hourlyUSD float64) {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	if _, ok := ct.jobs[jobID]; ok {
		return
	}
	now := ct.now()
	ct.jobs[jobID] = &JobCost{
		JobID:      jobID,
		Kind:       kind,
		HourlyUSD:  hourlyUSD,
		StartTime:  now,
		LastUpdate: now,
	}
}

// StopTracking forgets a job
func (ct *CostTracker) StopTracking(jobID string) {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	delete(ct.jobs, jobID)
}

// UpdateAll accrues cost for every unfinished job, marks the ones that
// have reached a terminal state and drops those finished longer than the
// retention ago
func (ct *CostTracker) UpdateAll(ctx context.Context) {
	ct.mu.RLock()
	pending := make([]JobCost, 0, len(ct.jobs))
	var expired []string
	for _, jc := range ct.jobs {
		switch {
		case !jc.Finished:
			pending = append(pending, *jc)
		case ct.now().Sub(jc.LastUpdate) > ct.retention:
			expired = append(expired, jc.JobID)
		}
	}
	ct.mu.RUnlock()

	for _, id := range expired {
		ct.StopTracking(id)
	}

	for _, jc := range pending {
		done, err := ct.finished(ctx, jc.Kind, jc.JobID)
		if err != nil {
			ct.logger.Warn("failed to check job state", "job", jc.JobID, "kind", jc.Kind, "error", err)
		}
		ct.accrue(jc.JobID, err == nil && done)
	}
}

func (ct *CostTracker) accrue(jobID string, done bool) {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	jc, ok := ct.jobs[jobID]
	if !ok || jc.Finished {
		return
	}
	now := ct.now()
	jc.RunningCost += jc.HourlyUSD * now.Sub(jc.LastUpdate).Hours()
	jc.LastUpdate = now
	if done {
		jc.Finished = true
		ct.logger.Info("job finished", "job", jobID, "kind", jc.Kind, "cost_usd", jc.RunningCost)
	}
}

// Snapshot returns every tracked job ordered by job id
func (ct *CostTracker) Snapshot() []JobCost {
	ct.mu.RLock()
	out := make([]JobCost, 0, len(ct.jobs))
	for _, jc := range ct.jobs {
		out = append(out, *jc)
	}
	ct.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].JobID < out[j].JobID })
	return out
}
