package handlers

import (
	"net/http"

	"sales-forecast/core/monitoring"
)

// MetricsHandler exposes execution and cost gauges
type MetricsHandler struct {
	exporter *monitoring.MetricsExporter
	spend    *monitoring.CostTracker
}

// NewMetricsHandler creates a new metrics handler. spend may be nil.
func NewMetricsHandler(exporter *monitoring.MetricsExporter, spend *monitoring.CostTracker) *MetricsHandler {
	return &MetricsHandler{exporter: exporter, spend: spend}
}

// Prometheus handles GET /metrics
func (h *MetricsHandler) Prometheus(w http.ResponseWriter, r *http.Request) {
	text, err := h.exporter.PrometheusMetrics(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(text))
}

// CostsResponse lists the accrued cost of tracked jobs
type CostsResponse struct {
	Jobs      []monitoring.JobCost           `json:"jobs"`
	ByKind    map[monitoring.JobKind]float64 `json:"by_kind"`
	TotalCost float64                        `json:"total_cost_usd"`
}

// Costs handles GET /api/v1/forecast/costs
func (h *MetricsHandler) Costs(w http.ResponseWriter, _ *http.Request) {
	resp := CostsResponse{Jobs: []monitoring.JobCost{}, ByKind: h.exporter.CostByKind()}
	if h.spend != nil {
		resp.Jobs = h.spend.Snapshot()
	}
	for _, jc := range resp.Jobs {
		resp.TotalCost += jc.RunningCost
	}
	writeJSON(w, http.StatusOK, resp)
}
