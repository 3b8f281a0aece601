package models

import "time"

// ExecutionEvent records an observed step transition within a pipeline execution
type ExecutionEvent struct {
	ID          int64
	ExecutionID string
	StepName    string // Empty for execution-level transitions
	At          time.Time
	FromStatus  *string
	ToStatus    string
	Reason      string
	MetaJSON    map[string]interface{}
}
