package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"sales-forecast/core/models"
	"sales-forecast/core/monitoring"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// StatusFor maps an error to the HTTP status reported for it
func StatusFor(err error) int {
	switch models.KindOf(err) {
	case models.KindUnsupportedType:
		return http.StatusUnsupportedMediaType
	case models.KindInvalidArgument:
		return http.StatusBadRequest
	case models.KindModelNotApproved:
		return http.StatusConflict
	case models.KindNotFound:
		return http.StatusNotFound
	case models.KindForbidden:
		return http.StatusForbidden
	case models.KindIngestionFailed, models.KindExternalService:
		return http.StatusBadGateway
	}
	if errors.Is(err, monitoring.ErrPollBoundExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		log.Printf("%s %s failed: %v", r.Method, r.URL.Path, err)
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Kind: string(models.KindOf(err))})
}

func badRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: message, Kind: string(models.KindInvalidArgument)})
}

// requireQuery reads a mandatory query parameter, answering 400 when absent
func requireQuery(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	value := r.URL.Query().Get(name)
	if value == "" {
		badRequest(w, name+" query parameter is required")
		return "", false
	}
	return value, true
}
