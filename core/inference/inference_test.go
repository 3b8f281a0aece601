package inference

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"sales-forecast/core/models"
	"sales-forecast/core/monitoring"
	"sales-forecast/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransforms struct {
	mu        sync.Mutex
	models    []ModelSpec
	deleted   []string
	jobs      []TransformSpec
	statuses  []models.TransformJobStatus
	calls     int
	createErr error
}

func (f *fakeTransforms) CreateModel(_ context.Context, spec ModelSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.models = append(f.models, spec)
	return nil
}

func (f *fakeTransforms) DeleteModel(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, name)
	return nil
}

func (f *fakeTransforms) CreateTransformJob(_ context.Context, spec TransformSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.jobs = append(f.jobs, spec)
	return nil
}

func (f *fakeTransforms) DescribeTransformJob(_ context.Context, jobName string) (*JobDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	status := f.statuses[min(f.calls, len(f.statuses))-1]
	return &JobDescription{JobName: jobName, Status: status, OutputURI: "s3://artifacts/predictions/" + jobName + "/"}, nil
}

type fakeLookup map[string]models.ApprovalStatus

func (f fakeLookup) DescribeModelVersion(_ context.Context, arn string) (*models.ModelVersion, error) {
	status, ok := f[arn]
	if !ok {
		return nil, models.NotFound("test", "model "+arn)
	}
	return &models.ModelVersion{Arn: arn, ApprovalStatus: status}, nil
}

type flatRate float64

func (r flatRate) HourlyCost(_ context.Context, _ string, count int) (float64, error) {
	return float64(r) * float64(count), nil
}

type recordingJobs struct {
	saved    []*models.TransformJob
	statuses []models.TransformJobStatus
}

func (r *recordingJobs) SaveTransformJob(_ context.Context, job *models.TransformJob) error {
	r.saved = append(r.saved, job)
	return nil
}

func (r *recordingJobs) UpdateTransformStatus(_ context.Context, _ string, status models.TransformJobStatus, _ string) error {
	r.statuses = append(r.statuses, status)
	return nil
}

const (
	approvedArn = "arn:aws:sagemaker:us-east-1:123456789012:model-package/salesforecastgroup/2"
	pendingArn  = "arn:aws:sagemaker:us-east-1:123456789012:model-package/salesforecastgroup/3"
)

func newDriver(service *fakeTransforms, store storage.ObjectStore, opts ...Option) *Driver {
	cfg := Config{
		RoleArn:         "arn:aws:iam::123456789012:role/sagemaker",
		ArtifactsBucket: "artifacts",
		Poll:            monitoring.PollConfig{Interval: 2 * time.Millisecond, MaxIterations: 50},
	}
	lookup := fakeLookup{approvedArn: models.ApprovalApproved, pendingArn: models.ApprovalPending}
	return NewDriver(cfg, service, lookup, store, opts...)
}

func TestSubmit_ApprovedModel(t *testing.T) {
	service := &fakeTransforms{}
	jobs := &recordingJobs{}
	driver := newDriver(service, storage.NewMemoryStore(), WithCostEstimator(flatRate(0.23)), WithJobStore(jobs))

	job, err := driver.Submit(context.Background(), approvedArn, "s3://features/test/")
	require.NoError(t, err)

	assert.Regexp(t, `^batch-transform-[0-9a-f]{16}$`, job.JobName)
	assert.Regexp(t, `^forecast-model-[0-9a-f]{16}$`, job.ModelName)
	assert.Contains(t, job.OutputURI, job.JobName)
	assert.Equal(t, "s3://artifacts/predictions/"+job.JobName+"/", job.OutputURI)
	assert.Equal(t, models.TransformInProgress, job.Status)
	require.NotNil(t, job.EstimatedHourlyUSD)
	assert.InDelta(t, 0.23, *job.EstimatedHourlyUSD, 1e-9)

	require.Len(t, service.models, 1)
	assert.Equal(t, approvedArn, service.models[0].ModelPackageArn)
	require.Len(t, service.jobs, 1)
	spec := service.jobs[0]
	assert.Equal(t, job.ModelName, spec.ModelName)
	assert.Equal(t, time.Hour, spec.InvocationTimeout)
	assert.Equal(t, 3, spec.MaxRetries)
	assert.Equal(t, 1, spec.InstanceCount)
	assert.Equal(t, 1, spec.MaxConcurrentTransforms)
	assert.Len(t, jobs.saved, 1)
}

func TestSubmit_UniqueNames(t *testing.T) {
	driver := newDriver(&fakeTransforms{}, storage.NewMemoryStore())

	a, err := driver.Submit(context.Background(), approvedArn, "s3://features/test/")
	require.NoError(t, err)
	b, err := driver.Submit(context.Background(), approvedArn, "s3://features/test/")
	require.NoError(t, err)

	assert.NotEqual(t, a.JobName, b.JobName)
	assert.NotEqual(t, a.ModelName, b.ModelName)
}

func TestSubmit_TransformJobFailureDeletesModel(t *testing.T) {
	quota := models.ExternalServiceError("test", errors.New("ResourceLimitExceeded"))
	service := &fakeTransforms{createErr: quota}
	jobs := &recordingJobs{}
	driver := newDriver(service, storage.NewMemoryStore(), WithJobStore(jobs))

	job, err := driver.Submit(context.Background(), approvedArn, "s3://features/test/")
	require.Error(t, err)
	assert.Nil(t, job)
	assert.True(t, errors.Is(err, quota))

	require.Len(t, service.models, 1)
	assert.Equal(t, []string{service.models[0].Name}, service.deleted)
	assert.Empty(t, jobs.saved)
}

func TestSubmit_RejectsUnapprovedModel(t *testing.T) {
	service := &fakeTransforms{}
	driver := newDriver(service, storage.NewMemoryStore())

	_, err := driver.Submit(context.Background(), pendingArn, "s3://features/test/")
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrModelNotApproved))
	assert.False(t, models.Retryable(err))
	assert.Empty(t, service.models)
	assert.Empty(t, service.jobs)

	_, err = driver.Submit(context.Background(), "arn:unknown", "s3://features/test/")
	assert.True(t, errors.Is(err, models.ErrNotFound))

	_, err = driver.Submit(context.Background(), approvedArn, "features/test")
	assert.True(t, errors.Is(err, models.ErrInvalidArgument))
}

func TestWatch_PollsUntilTerminal(t *testing.T) {
	service := &fakeTransforms{statuses: []models.TransformJobStatus{
		models.TransformInProgress, models.TransformInProgress, models.TransformCompleted,
	}}
	jobs := &recordingJobs{}
	driver := newDriver(service, storage.NewMemoryStore(), WithJobStore(jobs))

	var seen []models.TransformStatus
	for e := range driver.Watch(context.Background(), "batch-transform-1") {
		require.NoError(t, e.Err)
		seen = append(seen, e.Value)
	}

	require.Len(t, seen, 3)
	assert.Equal(t, 50, seen[0].Progress)
	assert.Equal(t, models.TransformCompleted, seen[2].Status)
	assert.Equal(t, 100, seen[2].Progress)
	assert.Equal(t, []models.TransformJobStatus{models.TransformInProgress, models.TransformCompleted}, jobs.statuses)
}

func TestResults(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, store.Put(ctx, "artifacts", "predictions/batch-transform-1/part-a.parquet.out", []byte("101.5\n99.25\n"), "text/csv"))
	require.NoError(t, store.Put(ctx, "artifacts", "predictions/batch-transform-1/part-b.parquet.out", []byte("87.0,0.9\n"), "text/csv"))
	require.NoError(t, store.Put(ctx, "artifacts", "predictions/batch-transform-10/other.out", []byte("1\n"), "text/csv"))

	driver := newDriver(&fakeTransforms{statuses: []models.TransformJobStatus{models.TransformCompleted}}, store)

	results, err := driver.Results(ctx, "batch-transform-1")
	require.NoError(t, err)

	assert.Equal(t, []string{"source", "line", "prediction", "value_2"}, results.Columns)
	require.Len(t, results.Predictions, 3)
	assert.Equal(t, "101.5", results.Predictions[0]["prediction"])
	assert.Equal(t, "2", results.Predictions[1]["line"])
	assert.Equal(t, "part-b.parquet.out", results.Predictions[2]["source"])
	assert.Equal(t, "0.9", results.Predictions[2]["value_2"])
}

func TestResults_RequiresCompletedJob(t *testing.T) {
	driver := newDriver(&fakeTransforms{statuses: []models.TransformJobStatus{models.TransformInProgress}}, storage.NewMemoryStore())

	_, err := driver.Results(context.Background(), "batch-transform-1")
	assert.True(t, errors.Is(err, models.ErrInvalidArgument))
}
