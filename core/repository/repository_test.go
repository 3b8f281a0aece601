package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"sales-forecast/core/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &DB{DB: db}, mock
}

func TestMigrate(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS analysis_jobs")).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, db.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAnalysisJobRepository_Get(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAnalysisJobRepository(db)
	submitted := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	completed := submitted.Add(time.Minute)

	columns := []string{"job_id", "source_bucket", "source_key", "status", "output_path", "submitted_at", "completed_at"}
	mock.ExpectQuery(regexp.QuoteMeta("FROM analysis_jobs")).
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("job-1", "raw", "uploads/invoice.pdf", "Succeeded", "processed/job-1.parquet", submitted, completed))
	mock.ExpectQuery(regexp.QuoteMeta("FROM analysis_jobs")).
		WithArgs("job-2").
		WillReturnRows(sqlmock.NewRows(columns))

	job, err := repo.GetAnalysisJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.AnalysisSucceeded, job.Status)
	assert.Equal(t, "processed/job-1.parquet", job.OutputPath)
	require.NotNil(t, job.CompletedAt)
	assert.Equal(t, completed, *job.CompletedAt)

	_, err = repo.GetAnalysisJob(context.Background(), "job-2")
	assert.True(t, errors.Is(err, models.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAnalysisJobRepository_SaveAndComplete(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAnalysisJobRepository(db)
	submitted := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO analysis_jobs")).
		WithArgs("job-1", "raw", "uploads/invoice.pdf", "Submitted", submitted).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (job_id) DO UPDATE")).
		WithArgs("job-1", "Succeeded", "processed/job-1.parquet").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.SaveAnalysisJob(context.Background(), &models.AnalysisJob{
		JobID:        "job-1",
		SourceBucket: "raw",
		SourceKey:    "uploads/invoice.pdf",
		Status:       models.AnalysisSubmitted,
		SubmittedAt:  submitted,
	})
	require.NoError(t, err)
	require.NoError(t, repo.CompleteAnalysisJob(context.Background(), "job-1", models.AnalysisSucceeded, "processed/job-1.parquet"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutionRepository_RecordExecution(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewExecutionRepository(db)
	started := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO pipeline_executions")).
		WithArgs("exec-1", "Sale-Forecast-ML-Pipeline", "Executing", "[]", started).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO execution_events")).
		WithArgs("exec-1", "", sqlmock.AnyArg(), "Executing", "execution_started", "{}").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := repo.RecordExecution(context.Background(), &models.PipelineExecution{
		ExecutionID:   "exec-1",
		PipelineName:  "Sale-Forecast-ML-Pipeline",
		OverallStatus: models.ExecutionExecuting,
		StartedAt:     started,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutionRepository_UpdateStatus(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewExecutionRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE pipeline_executions SET overall_status")).
		WithArgs("Succeeded", "exec-1", "Executing").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO execution_events")).
		WithArgs("exec-1", "", sqlmock.AnyArg(), "Succeeded", "execution finished", "{}").
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE pipeline_executions SET overall_status")).
		WithArgs("Failed", "exec-404", "Executing").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("exec-404").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	// Already moved on: no event is written
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE pipeline_executions SET overall_status")).
		WithArgs("Succeeded", "exec-1", "Executing").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("exec-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	err := repo.UpdateExecutionStatus(context.Background(), "exec-1", models.ExecutionExecuting, models.ExecutionSucceeded, "execution finished")
	require.NoError(t, err)

	err = repo.UpdateExecutionStatus(context.Background(), "exec-404", models.ExecutionExecuting, models.ExecutionFailed, "")
	assert.True(t, errors.Is(err, models.ErrNotFound))

	err = repo.UpdateExecutionStatus(context.Background(), "exec-1", models.ExecutionExecuting, models.ExecutionSucceeded, "execution finished")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutionRepository_ListActive(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewExecutionRepository(db)
	started := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM pipeline_executions")).
		WithArgs("Executing").
		WillReturnRows(sqlmock.NewRows([]string{"execution_id", "pipeline_name", "overall_status", "steps_json", "started_at", "updated_at"}).
			AddRow("exec-1", "p", "Executing", `[{"step_name":"FeatureEngineering","status":"Succeeded"}]`, started, started).
			AddRow("exec-2", "p", "Executing", `[]`, started, started))

	executions, err := repo.ListActiveExecutions(context.Background())
	require.NoError(t, err)
	require.Len(t, executions, 2)
	require.Len(t, executions[0].Steps, 1)
	assert.Equal(t, models.StepSucceeded, executions[0].Steps[0].Status)
	assert.Empty(t, executions[1].Steps)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEventRepository(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEventRepository(db)
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO execution_events")).
		WithArgs("exec-1", "Training", sqlmock.AnyArg(), "Executing", "", `{"attempt":1}`).
		WillReturnResult(sqlmock.NewResult(3, 1))
	mock.ExpectQuery(regexp.QuoteMeta("FROM execution_events")).
		WithArgs("exec-1", 10).
		WillReturnRows(sqlmock.NewRows([]string{"id", "execution_id", "step_name", "at", "from_status", "to_status", "reason", "meta_json"}).
			AddRow(int64(3), "exec-1", "Training", at, "NotStarted", "Executing", "", `{"attempt":1}`).
			AddRow(int64(1), "exec-1", "", at, nil, "Executing", "execution_started", `{}`))

	from := string(models.StepNotStarted)
	err := repo.RecordTransition(context.Background(), &models.ExecutionEvent{
		ExecutionID: "exec-1",
		StepName:    "Training",
		FromStatus:  &from,
		ToStatus:    string(models.StepExecuting),
		MetaJSON:    map[string]interface{}{"attempt": 1},
	})
	require.NoError(t, err)

	events, err := repo.GetExecutionEvents(context.Background(), "exec-1", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.NotNil(t, events[0].FromStatus)
	assert.Equal(t, "NotStarted", *events[0].FromStatus)
	assert.Equal(t, float64(1), events[0].MetaJSON["attempt"])
	assert.Nil(t, events[1].FromStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransformJobRepository(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTransformJobRepository(db)
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE transform_jobs SET status")).
		WithArgs("Failed", "ClientError", "batch-transform-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("FROM transform_jobs")).
		WithArgs("batch-transform-1").
		WillReturnRows(sqlmock.NewRows([]string{"job_name", "model_name", "model_arn", "input_uri", "output_uri", "status", "failure_reason", "estimated_hourly_usd", "created_at"}).
			AddRow("batch-transform-1", "forecast-model-1", "arn:pkg/1", "s3://f/test/", "s3://a/predictions/batch-transform-1/", "Failed", "ClientError", nil, created))

	require.NoError(t, repo.UpdateTransformStatus(context.Background(), "batch-transform-1", models.TransformFailed, "ClientError"))

	job, err := repo.GetTransformJob(context.Background(), "batch-transform-1")
	require.NoError(t, err)
	assert.Equal(t, models.TransformFailed, job.Status)
	assert.Nil(t, job.EstimatedHourlyUSD)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPricingRepository(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPricingRepository(db)
	updated := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO instance_pricing")).
		WithArgs("us-east-1", "ml.m5.xlarge", 0.23).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("FROM instance_pricing")).
		WithArgs("us-east-1", "ml.m5.xlarge").
		WillReturnRows(sqlmock.NewRows([]string{"on_demand_price_per_hour", "last_updated"}).AddRow(0.23, updated))

	require.NoError(t, repo.SavePrice(context.Background(), "us-east-1", "ml.m5.xlarge", 0.23))
	price, at, err := repo.GetPrice(context.Background(), "us-east-1", "ml.m5.xlarge")
	require.NoError(t, err)
	assert.InDelta(t, 0.23, price, 1e-9)
	assert.Equal(t, updated, at)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMemoryStore_ExecutionLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.RecordExecution(ctx, &models.PipelineExecution{
		ExecutionID:   "exec-1",
		OverallStatus: models.ExecutionExecuting,
		StartedAt:     time.Now(),
	}))

	active, err := store.ListActiveExecutions(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)

	require.NoError(t, store.UpdateExecutionStatus(ctx, "exec-1", models.ExecutionExecuting, models.ExecutionSucceeded, "done"))
	active, err = store.ListActiveExecutions(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	// A stale change is ignored
	require.NoError(t, store.UpdateExecutionStatus(ctx, "exec-1", models.ExecutionExecuting, models.ExecutionFailed, "late"))

	events, err := store.GetExecutionEvents(ctx, "exec-1", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "Succeeded", events[0].ToStatus)
	assert.Equal(t, "execution_started", events[1].Reason)

	err = store.UpdateExecutionStatus(ctx, "exec-404", models.ExecutionExecuting, models.ExecutionFailed, "")
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestMemoryStore_AnalysisJobs(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.GetAnalysisJob(ctx, "job-1")
	assert.True(t, errors.Is(err, models.ErrNotFound))

	require.NoError(t, store.SaveAnalysisJob(ctx, &models.AnalysisJob{JobID: "job-1", SourceKey: "uploads/a.pdf", Status: models.AnalysisSubmitted}))
	require.NoError(t, store.CompleteAnalysisJob(ctx, "job-1", models.AnalysisSucceeded, "processed/job-1.parquet"))

	job, err := store.GetAnalysisJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "uploads/a.pdf", job.SourceKey)
	assert.Equal(t, "processed/job-1.parquet", job.OutputPath)
	assert.NotNil(t, job.CompletedAt)
}
