package models

import "time"

// StepStatus is the status of a single pipeline step
type StepStatus string

const (
	StepNotStarted StepStatus = "NotStarted"
	StepExecuting  StepStatus = "Executing"
	StepSucceeded  StepStatus = "Succeeded"
	StepFailed     StepStatus = "Failed"
	StepStopped    StepStatus = "Stopped"
)

// IsTerminal reports whether no further transition can occur
func (s StepStatus) IsTerminal() bool {
	return s == StepSucceeded || s == StepFailed || s == StepStopped
}

// ExecutionStatus is the overall status of a pipeline execution
type ExecutionStatus string

const (
	ExecutionExecuting ExecutionStatus = "Executing"
	ExecutionSucceeded ExecutionStatus = "Succeeded"
	ExecutionFailed    ExecutionStatus = "Failed"
	ExecutionStopped   ExecutionStatus = "Stopped"
)

// IsTerminal reports whether the execution has finished
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionSucceeded || s == ExecutionFailed || s == ExecutionStopped
}

// PipelineStep is the observed state of a step in one execution
type PipelineStep struct {
	Name          string     `json:"step_name"`
	DependsOn     []string   `json:"depends_on,omitempty"`
	Status        StepStatus `json:"status"`
	StartTime     *time.Time `json:"start_time,omitempty"`
	EndTime       *time.Time `json:"end_time,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
}

// ExecutionSnapshot is one observation of an execution
type ExecutionSnapshot struct {
	ExecutionID   string          `json:"execution_arn"`
	OverallStatus ExecutionStatus `json:"overall_status"`
	Steps         []PipelineStep  `json:"steps"`
	FailureReason string          `json:"failure_reason,omitempty"`
	ObservedAt    time.Time       `json:"observed_at"`
}

// Step returns the named step, if present in the snapshot
func (s ExecutionSnapshot) Step(name string) (PipelineStep, bool) {
	for _, step := range s.Steps {
		if step.Name == name {
			return step, true
		}
	}
	return PipelineStep{}, false
}

// PipelineExecution is a run instance of the pipeline DAG
type PipelineExecution struct {
	ExecutionID   string
	PipelineName  string
	Steps         []PipelineStep
	OverallStatus ExecutionStatus
	StartedAt     time.Time
	UpdatedAt     time.Time
}
