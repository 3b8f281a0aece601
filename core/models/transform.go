package models

import "time"

// TransformJobStatus is the status of a batch inference job
type TransformJobStatus string

const (
	TransformInProgress TransformJobStatus = "InProgress"
	TransformCompleted  TransformJobStatus = "Completed"
	TransformFailed     TransformJobStatus = "Failed"
	TransformStopping   TransformJobStatus = "Stopping"
	TransformStopped    TransformJobStatus = "Stopped"
)

// IsTerminal reports whether the job has finished
func (s TransformJobStatus) IsTerminal() bool {
	return s == TransformCompleted || s == TransformFailed || s == TransformStopped
}

// Progress maps a status to a coarse completion percentage for progress displays
func (s TransformJobStatus) Progress() int {
	switch s {
	case TransformCompleted, TransformFailed, TransformStopped:
		return 100
	case TransformStopping:
		return 90
	case TransformInProgress:
		return 50
	default:
		return 0
	}
}

// TransformJob is an ephemeral batch inference run
type TransformJob struct {
	JobName            string             `json:"job_name"`
	ModelName          string             `json:"model_name"`
	ModelArn           string             `json:"model_arn"`
	InputURI           string             `json:"input_uri"`
	OutputURI          string             `json:"output_uri"`
	Status             TransformJobStatus `json:"status"`
	FailureReason      string             `json:"failure_reason,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
	EstimatedHourlyUSD *float64           `json:"estimated_hourly_usd,omitempty"`
}

// TransformStatus is a point-in-time status read
type TransformStatus struct {
	JobName       string             `json:"job_name"`
	Status        TransformJobStatus `json:"status"`
	FailureReason string             `json:"failure_reason,omitempty"`
	Progress      int                `json:"progress_percentage"`
	ObservedAt    time.Time          `json:"observed_at"`
}

// PredictionResults holds the parsed output of a completed transform job
type PredictionResults struct {
	JobName     string              `json:"job_name"`
	OutputURI   string              `json:"output_uri"`
	Columns     []string            `json:"columns"`
	Predictions []map[string]string `json:"predictions"`
}
