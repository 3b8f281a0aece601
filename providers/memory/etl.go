package memory

import (
	"context"
	"strings"
	"sync"

	"sales-forecast/core/models"

	"github.com/google/uuid"
)

// ETL implements the ETL job service. Runs succeed as soon as they start.
type ETL struct {
	mu   sync.Mutex
	runs map[string]string
}

// NewETL creates an ETL service
func NewETL() *ETL {
	return &ETL{runs: make(map[string]string)}
}

func (e *ETL) StartJobRun(_ context.Context, jobName string, _ map[string]string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	runID := "jr_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	e.runs[jobName+"/"+runID] = "SUCCEEDED"
	return runID, nil
}

func (e *ETL) JobRunState(_ context.Context, jobName, runID string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	state, ok := e.runs[jobName+"/"+runID]
	if !ok {
		return "", models.NotFound("memory.job_run", "run "+runID+" of "+jobName)
	}
	return state, nil
}
