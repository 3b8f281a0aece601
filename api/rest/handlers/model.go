package handlers

import (
	"encoding/json"
	"net/http"

	"sales-forecast/core/models"
	"sales-forecast/core/registry"

	"github.com/gorilla/mux"
)

// ModelHandler handles model registry requests
type ModelHandler struct {
	gate *registry.Gate
}

// NewModelHandler creates a new model handler
func NewModelHandler(gate *registry.Gate) *ModelHandler {
	return &ModelHandler{gate: gate}
}

// ModelListResponse lists model versions of the managed group
type ModelListResponse struct {
	Group  string                `json:"model_package_group"`
	Models []*models.ModelVersion `json:"models"`
}

// ApprovalRequest is the body of approve and reject requests
type ApprovalRequest struct {
	ModelPackageArn string `json:"model_package_arn"`
	Comment         string `json:"comment"`
}

// ListPending handles GET /api/v1/model/pending
func (h *ModelHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, models.ApprovalPending)
}

// ListApproved handles GET /api/v1/model/approved
func (h *ModelHandler) ListApproved(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, models.ApprovalApproved)
}

func (h *ModelHandler) list(w http.ResponseWriter, r *http.Request, status models.ApprovalStatus) {
	versions, err := h.gate.ListByStatus(r.Context(), status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if versions == nil {
		versions = []*models.ModelVersion{}
	}
	writeJSON(w, http.StatusOK, ModelListResponse{Group: h.gate.Group(), Models: versions})
}

// Approve handles POST /api/v1/model/approve
func (h *ModelHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, models.ApprovalApproved)
}

// Reject handles POST /api/v1/model/reject
func (h *ModelHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, models.ApprovalRejected)
}

func (h *ModelHandler) setStatus(w http.ResponseWriter, r *http.Request, status models.ApprovalStatus) {
	var req ApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "Invalid request body")
		return
	}
	version, err := h.gate.SetStatus(r.Context(), req.ModelPackageArn, status, req.Comment)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, version)
}

// Metrics handles GET /api/v1/model/metrics/{arn}
func (h *ModelHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	arn := mux.Vars(r)["arn"]
	report, err := h.gate.Metrics(r.Context(), arn)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
