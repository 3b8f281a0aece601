package models

import "time"

// ApprovalStatus is the approval state of a registered model version
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PendingManualApproval"
	ApprovalApproved ApprovalStatus = "Approved"
	ApprovalRejected ApprovalStatus = "Rejected"
)

// Valid reports whether s is a known approval status
func (s ApprovalStatus) Valid() bool {
	switch s {
	case ApprovalPending, ApprovalApproved, ApprovalRejected:
		return true
	}
	return false
}

// ModelVersion is a registered model package version
type ModelVersion struct {
	Arn                 string            `json:"arn"`
	Name                string            `json:"name"`
	GroupName           string            `json:"group_name,omitempty"`
	Version             int               `json:"version"`
	ApprovalStatus      ApprovalStatus    `json:"approval_status"`
	ApprovalDescription string            `json:"approval_description,omitempty"`
	CreationTime        time.Time         `json:"creation_time"`
	MetricsURI          string            `json:"metrics_uri,omitempty"`
	Metrics             *EvaluationReport `json:"metrics,omitempty"`
}

// MetricValue wraps a single reported value
type MetricValue struct {
	Value float64 `json:"value"`
}

// RegressionMetrics are the regression scores of the evaluation step
type RegressionMetrics struct {
	MSE  MetricValue `json:"mse"`
	MAE  MetricValue `json:"mae"`
	R2   MetricValue `json:"r2"`
	MAPE MetricValue `json:"mape"`
}

// EvaluationReport is the structured metrics report written by the evaluation step
type EvaluationReport struct {
	RegressionMetrics RegressionMetrics  `json:"regression_metrics"`
	FeatureImportance map[string]float64 `json:"feature_importance,omitempty"`
}
