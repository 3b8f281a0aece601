package memory

import (
	"context"
	"sync"

	"sales-forecast/core/models"

	"github.com/google/uuid"
)

type analysisJob struct {
	bucket string
	key    string
}

// Documents implements the document analyzer. Submitted jobs succeed
// immediately and, when a notifier is set, announce completion on a
// separate goroutine like the real notification channel.
type Documents struct {
	mu     sync.Mutex
	jobs   map[string]analysisJob
	tables map[string][]*models.Table
	notify func(context.Context, models.Notification)
}

// NewDocuments creates a document analyzer
func NewDocuments() *Documents {
	return &Documents{
		jobs:   make(map[string]analysisJob),
		tables: make(map[string][]*models.Table),
	}
}

// SetNotifier delivers completion notifications to fn
func (d *Documents) SetNotifier(fn func(context.Context, models.Notification)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notify = fn
}

// SetTables fixes the tables extracted from the object at key
func (d *Documents) SetTables(key string, tables ...*models.Table) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tables[key] = tables
}

func (d *Documents) Submit(_ context.Context, bucket, key string, _ []string) (string, error) {
	d.mu.Lock()
	jobID := uuid.NewString()
	d.jobs[jobID] = analysisJob{bucket: bucket, key: key}
	notify := d.notify
	d.mu.Unlock()

	if notify != nil {
		go notify(context.Background(), models.Notification{
			JobID:  jobID,
			Status: models.NotificationSucceeded,
			API:    "StartDocumentAnalysis",
		})
	}
	return jobID, nil
}

// Tables returns the tables set for the job's source, or a single table
// naming the source document
func (d *Documents) Tables(_ context.Context, jobID string) ([]*models.Table, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	job, ok := d.jobs[jobID]
	if !ok {
		return nil, models.NotFound("memory.tables", "analysis job "+jobID)
	}
	if tables, ok := d.tables[job.key]; ok {
		return tables, nil
	}
	return []*models.Table{
		models.NewTable([]string{"document", "page"}, [][]string{{job.key, "1"}}),
	}, nil
}
