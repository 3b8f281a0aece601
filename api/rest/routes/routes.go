package routes

import (
	"encoding/json"
	"net/http"

	"sales-forecast/api/rest/handlers"
	"sales-forecast/core/ingestion"
	"sales-forecast/core/monitoring"
	"sales-forecast/core/registry"

	"github.com/gorilla/mux"
)

// Deps are the components the API is served from
type Deps struct {
	Forecast   handlers.ForecastDeps
	Gate       *registry.Gate
	Collector  *ingestion.Collector
	SNS        *ingestion.SNSVerifier // Nil rejects every SNS delivery
	HTTPClient *http.Client           // Used to confirm SNS subscriptions
	Metrics    *monitoring.MetricsExporter
}

// SetupRoutes configures all API routes
func SetupRoutes(r *mux.Router, deps Deps) {
	forecastHandler := handlers.NewForecastHandler(deps.Forecast)
	modelHandler := handlers.NewModelHandler(deps.Gate)
	verifier := deps.SNS
	if verifier == nil {
		verifier = ingestion.NewSNSVerifier("", deps.HTTPClient)
	}
	notificationHandler := handlers.NewNotificationHandler(deps.Collector, verifier, deps.HTTPClient)

	r.HandleFunc("/health", health).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/health", health).Methods("GET")

	// Ingestion endpoints
	api.HandleFunc("/forecast/upload-raw-data", forecastHandler.UploadRawData).Methods("POST")
	api.HandleFunc("/forecast/notifications/textract", notificationHandler.Textract).Methods("POST")
	api.HandleFunc("/forecast/list-files/{bucket_type}", forecastHandler.ListFiles).Methods("GET")
	api.HandleFunc("/forecast/s3-inputs", forecastHandler.S3Inputs).Methods("GET")

	// Training endpoints
	api.HandleFunc("/forecast/train", forecastHandler.Train).Methods("POST")
	api.HandleFunc("/forecast/train/progress", forecastHandler.TrainProgress).Methods("GET")
	api.HandleFunc("/forecast/train/status", forecastHandler.TrainStatus).Methods("GET")
	api.HandleFunc("/forecast/train/history", forecastHandler.TrainHistory).Methods("GET")
	api.HandleFunc("/forecast/train/estimate", forecastHandler.TrainEstimate).Methods("GET")
	if deps.Forecast.Trigger != nil {
		api.HandleFunc("/forecast/feature-engineering/status", forecastHandler.FeatureEngineeringStatus).Methods("GET")
	}

	// Prediction endpoints
	api.HandleFunc("/forecast/predict", forecastHandler.Predict).Methods("POST")
	api.HandleFunc("/forecast/predict/status", forecastHandler.PredictStatus).Methods("GET")
	api.HandleFunc("/forecast/predict/progress", forecastHandler.PredictProgress).Methods("GET")
	api.HandleFunc("/forecast/predict/results", forecastHandler.PredictResults).Methods("GET")

	// Model registry endpoints
	api.HandleFunc("/model/pending", modelHandler.ListPending).Methods("GET")
	api.HandleFunc("/model/approved", modelHandler.ListApproved).Methods("GET")
	api.HandleFunc("/model/approve", modelHandler.Approve).Methods("POST")
	api.HandleFunc("/model/reject", modelHandler.Reject).Methods("POST")
	api.HandleFunc("/model/metrics/{arn:.+}", modelHandler.Metrics).Methods("GET")

	if deps.Metrics != nil {
		metricsHandler := handlers.NewMetricsHandler(deps.Metrics, deps.Forecast.Spend)
		r.HandleFunc("/metrics", metricsHandler.Prometheus).Methods("GET")
		api.HandleFunc("/forecast/costs", metricsHandler.Costs).Methods("GET")
	}
}

func health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}
