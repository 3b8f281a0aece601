package memory

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"sales-forecast/core/inference"
	"sales-forecast/core/models"
	"sales-forecast/storage"
)

type transformJob struct {
	spec      inference.TransformSpec
	status    models.TransformJobStatus
	failure   string
	describes int
	created   time.Time
}

// Transforms implements the batch transform service. A job completes on
// its second describe, writing one CSV prediction per input row.
type Transforms struct {
	store storage.ObjectStore

	mu         sync.Mutex
	modelSpecs map[string]inference.ModelSpec
	jobs       map[string]*transformJob
}

// NewTransforms creates a transform service reading and writing store
func NewTransforms(store storage.ObjectStore) *Transforms {
	return &Transforms{
		store:      store,
		modelSpecs: make(map[string]inference.ModelSpec),
		jobs:       make(map[string]*transformJob),
	}
}

func (t *Transforms) CreateModel(_ context.Context, spec inference.ModelSpec) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.modelSpecs[spec.Name]; exists {
		return models.InvalidArgument("memory.create_model", "model "+spec.Name+" already exists")
	}
	t.modelSpecs[spec.Name] = spec
	return nil
}

func (t *Transforms) DeleteModel(_ context.Context, name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.modelSpecs[name]; !ok {
		return models.NotFound("memory.delete_model", "model "+name)
	}
	delete(t.modelSpecs, name)
	return nil
}

func (t *Transforms) CreateTransformJob(_ context.Context, spec inference.TransformSpec) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.modelSpecs[spec.ModelName]; !ok {
		return models.NotFound("memory.create_transform_job", "model "+spec.ModelName)
	}
	if _, exists := t.jobs[spec.JobName]; exists {
		return models.InvalidArgument("memory.create_transform_job", "job "+spec.JobName+" already exists")
	}
	t.jobs[spec.JobName] = &transformJob{spec: spec, status: models.TransformInProgress, created: time.Now().UTC()}
	return nil
}

func (t *Transforms) DescribeTransformJob(ctx context.Context, jobName string) (*inference.JobDescription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	job, ok := t.jobs[jobName]
	if !ok {
		return nil, models.NotFound("memory.describe_transform_job", "transform job "+jobName)
	}
	job.describes++
	if job.status == models.TransformInProgress && job.describes >= 2 {
		if err := t.run(ctx, job); err != nil {
			job.status = models.TransformFailed
			job.failure = "ClientError: " + err.Error()
		} else {
			job.status = models.TransformCompleted
		}
	}

	return &inference.JobDescription{
		JobName:       jobName,
		ModelName:     job.spec.ModelName,
		Status:        job.status,
		FailureReason: job.failure,
		OutputURI:     job.spec.OutputURI,
		CreatedAt:     job.created,
	}, nil
}

func (t *Transforms) run(ctx context.Context, job *transformJob) error {
	inBucket, inPrefix, err := storage.ParseURI(job.spec.InputURI)
	if err != nil {
		return err
	}
	outBucket, outPrefix, err := storage.ParseURI(job.spec.OutputURI)
	if err != nil {
		return err
	}

	inputs, err := t.store.List(ctx, inBucket, inPrefix)
	if err != nil {
		return err
	}
	if len(inputs) == 0 {
		return fmt.Errorf("no input objects under %s", job.spec.InputURI)
	}

	for _, obj := range inputs {
		data, err := t.store.Get(ctx, inBucket, obj.Key)
		if err != nil {
			return err
		}
		var out bytes.Buffer
		for i := 0; i < rowCount(data); i++ {
			fmt.Fprintf(&out, "%.2f\n", 100+float64(i)*1.5)
		}
		key := strings.TrimSuffix(outPrefix, "/") + "/" + path.Base(obj.Key) + ".out"
		if err := t.store.Put(ctx, outBucket, key, out.Bytes(), job.spec.Accept); err != nil {
			return err
		}
	}
	return nil
}

// rowCount reads parquet inputs by row; anything else counts as lines
func rowCount(data []byte) int {
	if table, err := storage.DecodeParquet(data); err == nil {
		return table.NumRows()
	}
	return len(strings.Split(strings.TrimSpace(string(data)), "\n"))
}
