package monitoring

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"sales-forecast/core/models"
)

// ActiveExecutions lists the executions that have not reached a terminal
// state
type ActiveExecutions interface {
	ListActiveExecutions(ctx context.Context) ([]*models.PipelineExecution, error)
}

// MetricsExporter renders execution and cost gauges in the Prometheus text
// exposition format
type MetricsExporter struct {
	executions ActiveExecutions
	costs      *CostTracker
}

// NewMetricsExporter creates a new metrics exporter. costs may be nil.
func NewMetricsExporter(executions ActiveExecutions, costs *CostTracker) *MetricsExporter {
	return &MetricsExporter{
		executions: executions,
		costs:      costs,
	}
}

// PrometheusMetrics returns the current gauges
func (me *MetricsExporter) PrometheusMetrics(ctx context.Context) (string, error) {
	active, err := me.executions.ListActiveExecutions(ctx)
	if err != nil {
		return "", err
	}

	var b strings.Builder

	b.WriteString("# HELP forecast_active_executions Pipeline executions not yet in a terminal state\n")
	b.WriteString("# TYPE forecast_active_executions gauge\n")
	fmt.Fprintf(&b, "forecast_active_executions %d\n", len(active))

	if me.costs == nil {
		return b.String(), nil
	}

	jobs := me.costs.Snapshot()

	b.WriteString("# HELP forecast_job_cost_usd Accrued compute cost per job\n")
	b.WriteString("# TYPE forecast_job_cost_usd gauge\n")
	total := 0.0
	for _, jc := range jobs {
		total += jc.RunningCost
		fmt.Fprintf(&b, "forecast_job_cost_usd{job_id=%q,kind=%q,finished=\"%t\"} %.4f\n",
			jc.JobID, jc.Kind, jc.Finished, jc.RunningCost)
	}

	b.WriteString("# HELP forecast_total_cost_usd Accrued compute cost of all tracked jobs\n")
	b.WriteString("# TYPE forecast_total_cost_usd gauge\n")
	fmt.Fprintf(&b, "forecast_total_cost_usd %.4f\n", total)

	byKind := me.CostByKind()
	kinds := make([]string, 0, len(byKind))
	for k := range byKind {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)

	b.WriteString("# HELP forecast_kind_cost_usd Accrued compute cost per job kind\n")
	b.WriteString("# TYPE forecast_kind_cost_usd gauge\n")
	for _, k := range kinds {
		fmt.Fprintf(&b, "forecast_kind_cost_usd{kind=%q} %.4f\n", k, byKind[JobKind(k)])
	}

	return b.String(), nil
}

// CostByKind returns accrued cost per job kind
func (me *MetricsExporter) CostByKind() map[JobKind]float64 {
	out := make(map[JobKind]float64)
	if me.costs == nil {
		return out
	}
	for _, jc := range me.costs.Snapshot() {
		out[jc.Kind] += jc.RunningCost
	}
	return out
}
