package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"sales-forecast/core/models"
	"sales-forecast/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

const (
	rawBucket       = "raw"
	processedBucket = "processed"
)

type countingStore struct {
	*storage.MemoryStore
	mu   sync.Mutex
	puts int
}

func (s *countingStore) Put(ctx context.Context, bucket, key string, body []byte, contentType string) error {
	s.mu.Lock()
	s.puts++
	s.mu.Unlock()
	return s.MemoryStore.Put(ctx, bucket, key, body, contentType)
}

func (s *countingStore) putCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts
}

type fakeAnalyzer struct {
	mu        sync.Mutex
	submitted []string
	features  [][]string
	tables    map[string][]*models.Table
	submitErr error
	tablesErr error
}

func (f *fakeAnalyzer) Submit(_ context.Context, bucket, key string, features []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submitted = append(f.submitted, bucket+"/"+key)
	f.features = append(f.features, features)
	return fmt.Sprintf("job-%d", len(f.submitted)), nil
}

func (f *fakeAnalyzer) Tables(_ context.Context, jobID string) ([]*models.Table, error) {
	if f.tablesErr != nil {
		return nil, f.tablesErr
	}
	return f.tables[jobID], nil
}

type fakeJobStore struct {
	mu   sync.Mutex
	jobs map[string]*models.AnalysisJob
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: make(map[string]*models.AnalysisJob)}
}

func (s *fakeJobStore) SaveAnalysisJob(_ context.Context, job *models.AnalysisJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *job
	s.jobs[job.JobID] = &copied
	return nil
}

func (s *fakeJobStore) GetAnalysisJob(_ context.Context, jobID string) (*models.AnalysisJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, models.NotFound("test", "analysis job")
	}
	copied := *job
	return &copied, nil
}

func (s *fakeJobStore) CompleteAnalysisJob(_ context.Context, jobID string, status models.AnalysisJobStatus, outputPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		job = &models.AnalysisJob{JobID: jobID}
		s.jobs[jobID] = job
	}
	job.Status = status
	job.OutputPath = outputPath
	return nil
}

func newRouter(t *testing.T, opts ...Option) (*Router, *countingStore, *fakeAnalyzer) {
	t.Helper()
	store := &countingStore{MemoryStore: storage.NewMemoryStore()}
	analyzer := &fakeAnalyzer{}
	columnar := storage.NewColumnarStore(store, processedBucket)
	return NewRouter(store, columnar, analyzer, opts...), store, analyzer
}

func xlsxFixture(t *testing.T) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]interface{}{"date", "store", "sales"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]interface{}{"2024-01-01", "north", 120}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A3", &[]interface{}{"2024-01-02", "south", 95}))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func TestRoute_TabularWritesOneArtifact(t *testing.T) {
	ctx := context.Background()

	cases := map[string][]byte{
		"uploads/sales_jan.csv":  []byte("date,store,sales\n2024-01-01,north,120\n2024-01-02,south,95\n"),
		"uploads/sales_jan.xlsx": nil,
	}
	for key, content := range cases {
		t.Run(key, func(t *testing.T) {
			router, store, analyzer := newRouter(t)
			if content == nil {
				content = xlsxFixture(t)
			}

			outcome, err := router.Route(ctx, models.NewIngestObject(rawBucket, key, content))
			require.NoError(t, err)

			assert.Equal(t, models.RoutingProcessed, outcome.Status)
			assert.Equal(t, "s3://processed/sales_jan.parquet", outcome.Path)
			assert.Equal(t, 1, store.putCount())
			assert.Empty(t, analyzer.submitted)

			table, err := storage.NewColumnarStore(store, processedBucket).ReadTable(ctx, "sales_jan.parquet")
			require.NoError(t, err)
			assert.Equal(t, []string{"date", "store", "sales"}, table.Columns)
			assert.Equal(t, 2, table.NumRows())
		})
	}
}

func TestRoute_DocumentSubmitsOneJob(t *testing.T) {
	jobs := newFakeJobStore()
	router, store, analyzer := newRouter(t, WithJobStore(jobs))

	outcome, err := router.Route(context.Background(), models.NewIngestObject(rawBucket, "uploads/invoice.PDF", []byte("%PDF")))
	require.NoError(t, err)

	assert.Equal(t, models.RoutingSubmitted, outcome.Status)
	assert.Equal(t, "job-1", outcome.JobID)
	assert.Equal(t, []string{"raw/uploads/invoice.PDF"}, analyzer.submitted)
	assert.Zero(t, store.putCount())

	job, err := jobs.GetAnalysisJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.AnalysisSubmitted, job.Status)
	assert.Equal(t, "uploads/invoice.PDF", job.SourceKey)
}

func TestRoute_DocumentFeatures(t *testing.T) {
	doc := models.NewIngestObject(rawBucket, "uploads/invoice.pdf", []byte("%PDF"))

	router, _, analyzer := newRouter(t)
	_, err := router.Route(context.Background(), doc)
	require.NoError(t, err)

	custom, _, customAnalyzer := newRouter(t, WithFeatures("TABLES"))
	_, err = custom.Route(context.Background(), doc)
	require.NoError(t, err)

	assert.Equal(t, [][]string{DefaultFeatures}, analyzer.features)
	assert.Equal(t, [][]string{{"TABLES"}}, customAnalyzer.features)
}

func TestRoute_UnsupportedTypeWritesNothing(t *testing.T) {
	for _, key := range []string{"notes.txt", "image.png", "archive", "data.csv.gz"} {
		t.Run(key, func(t *testing.T) {
			router, store, analyzer := newRouter(t)

			_, err := router.Route(context.Background(), models.NewIngestObject(rawBucket, key, []byte("x")))
			require.Error(t, err)
			assert.True(t, errors.Is(err, models.ErrUnsupportedType))
			assert.False(t, models.Retryable(err))
			assert.Zero(t, store.putCount())
			assert.Empty(t, analyzer.submitted)
		})
	}
}

func TestRoute_ParseFailureIsIngestionFailed(t *testing.T) {
	router, store, _ := newRouter(t)

	_, err := router.Route(context.Background(), models.NewIngestObject(rawBucket, "broken.xlsx", []byte("not a workbook")))
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrIngestionFailed))
	assert.True(t, models.Retryable(err))
	assert.Zero(t, store.putCount())
}

func TestRoute_SubmitFailureKeepsCause(t *testing.T) {
	router, _, analyzer := newRouter(t)
	analyzer.submitErr = models.ExternalServiceError("textract.submit", errors.New("throttled"))

	_, err := router.Route(context.Background(), models.NewIngestObject(rawBucket, "scan.pdf", nil))
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrIngestionFailed))
	assert.True(t, errors.Is(err, models.ErrExternalService))
	assert.Contains(t, err.Error(), "throttled")
}

func TestRouteStored_ReadsRawObject(t *testing.T) {
	ctx := context.Background()
	router, store, _ := newRouter(t)
	require.NoError(t, store.MemoryStore.Put(ctx, rawBucket, "uploads/feb.csv", []byte("a,b\n1,2\n"), "text/csv"))

	outcome, err := router.RouteStored(ctx, rawBucket, "uploads/feb.csv")
	require.NoError(t, err)
	assert.Equal(t, "s3://processed/feb.parquet", outcome.Path)

	_, err = router.RouteStored(ctx, rawBucket, "uploads/missing.csv")
	assert.True(t, errors.Is(err, models.ErrIngestionFailed))
}

func TestParseCSV_HeaderOnlyAndRaggedRows(t *testing.T) {
	table, err := ParseTable(models.ExtensionCSV, []byte("\xef\xbb\xbfdate,sales,sales\n2024-01-01\n2024-01-02,3,4,5\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"date", "sales", "sales_2"}, table.Columns)
	assert.Equal(t, [][]string{{"2024-01-01", "", ""}, {"2024-01-02", "3", "4"}}, table.Rows)

	_, err = ParseTable(models.ExtensionCSV, nil)
	assert.ErrorIs(t, err, errNoHeader)
}

func newCollector(t *testing.T, analyzer *fakeAnalyzer, opts ...Option) (*Collector, *countingStore) {
	t.Helper()
	store := &countingStore{MemoryStore: storage.NewMemoryStore()}
	return NewCollector(analyzer, storage.NewColumnarStore(store, processedBucket), opts...), store
}

func TestCollector_ConcatenatesInServiceOrder(t *testing.T) {
	ctx := context.Background()
	analyzer := &fakeAnalyzer{tables: map[string][]*models.Table{
		"job-7": {
			models.NewTable([]string{"date", "sales"}, [][]string{{"2024-01-01", "10"}}),
			nil,
			models.NewTable([]string{"date", "region"}, [][]string{{"2024-01-02", "east"}}),
		},
	}}
	collector, store := newCollector(t, analyzer)

	outcome, err := collector.OnNotification(ctx, models.Notification{JobID: "job-7", Status: models.NotificationSucceeded})
	require.NoError(t, err)
	assert.Equal(t, models.CollectionCollected, outcome.Status)
	assert.Equal(t, "s3://processed/job-7.parquet", outcome.Path)
	assert.Equal(t, 1, store.putCount())

	table, err := storage.NewColumnarStore(store, processedBucket).ReadTable(ctx, "job-7.parquet")
	require.NoError(t, err)
	assert.Equal(t, 2, table.NumRows())
	assert.Equal(t, []string{"date", "sales", "region"}, table.Columns)
	assert.Equal(t, [][]string{{"2024-01-01", "10", ""}, {"2024-01-02", "", "east"}}, table.Rows)
}

func TestCollector_SkipsFailedAndEmptyJobs(t *testing.T) {
	ctx := context.Background()
	jobs := newFakeJobStore()
	analyzer := &fakeAnalyzer{tables: map[string][]*models.Table{}}
	collector, store := newCollector(t, analyzer, WithJobStore(jobs))

	outcome, err := collector.OnNotification(ctx, models.Notification{JobID: "job-1", Status: "FAILED"})
	require.NoError(t, err)
	assert.Equal(t, models.CollectionSkipped, outcome.Status)
	assert.Contains(t, outcome.Reason, "FAILED")

	job, err := jobs.GetAnalysisJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.AnalysisFailed, job.Status)

	outcome, err = collector.OnNotification(ctx, models.Notification{JobID: "job-2", Status: models.NotificationSucceeded})
	require.NoError(t, err)
	assert.Equal(t, models.CollectionSkipped, outcome.Status)
	assert.Equal(t, models.SkipReasonEmpty, outcome.Reason)

	assert.Zero(t, store.putCount())
}

func TestCollector_RedeliveryProducesSameArtifact(t *testing.T) {
	ctx := context.Background()
	analyzer := &fakeAnalyzer{tables: map[string][]*models.Table{
		"job-9": {models.NewTable([]string{"sku", "qty"}, [][]string{{"a", "1"}, {"b", "2"}})},
	}}
	n := models.Notification{JobID: "job-9", Status: models.NotificationSucceeded}

	// Without a job store redelivery overwrites the same key with the same table.
	collector, store := newCollector(t, analyzer)
	first, err := collector.OnNotification(ctx, n)
	require.NoError(t, err)
	reader := storage.NewColumnarStore(store, processedBucket)
	once, err := reader.ReadTable(ctx, "job-9.parquet")
	require.NoError(t, err)

	second, err := collector.OnNotification(ctx, n)
	require.NoError(t, err)
	twice, err := reader.ReadTable(ctx, "job-9.parquet")
	require.NoError(t, err)

	assert.Equal(t, first.Path, second.Path)
	assert.Equal(t, once, twice)
	objects, err := store.List(ctx, processedBucket, "")
	require.NoError(t, err)
	assert.Len(t, objects, 1)

	// With a job store the second delivery does not write at all.
	collector, store = newCollector(t, analyzer, WithJobStore(newFakeJobStore()))
	_, err = collector.OnNotification(ctx, n)
	require.NoError(t, err)
	dup, err := collector.OnNotification(ctx, n)
	require.NoError(t, err)
	assert.True(t, dup.Duplicate)
	assert.Equal(t, first.Path, dup.Path)
	assert.Equal(t, 1, store.putCount())
}

func TestCollector_FetchFailureMarksJobFailed(t *testing.T) {
	ctx := context.Background()
	jobs := newFakeJobStore()
	analyzer := &fakeAnalyzer{tablesErr: models.ExternalServiceError("textract.tables", errors.New("boom"))}
	collector, store := newCollector(t, analyzer, WithJobStore(jobs))

	_, err := collector.OnNotification(ctx, models.Notification{JobID: "job-3", Status: models.NotificationSucceeded})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrIngestionFailed))
	assert.Zero(t, store.putCount())

	job, err := jobs.GetAnalysisJob(ctx, "job-3")
	require.NoError(t, err)
	assert.Equal(t, models.AnalysisFailed, job.Status)

	dropped := DroppedOutcome(err)
	assert.Equal(t, models.CollectionFailed, dropped.Status)
	assert.Contains(t, dropped.Reason, "boom")
}

func TestParseNotification(t *testing.T) {
	raw := []byte(`{"JobId":"abc","Status":"SUCCEEDED","API":"StartDocumentAnalysis"}`)
	n, err := ParseNotification(raw)
	require.NoError(t, err)
	assert.Equal(t, models.Notification{JobID: "abc", Status: "SUCCEEDED", API: "StartDocumentAnalysis"}, n)

	wrapped := []byte(`{"Type":"Notification","MessageId":"m-1","Message":"{\"JobId\":\"def\",\"Status\":\"FAILED\"}"}`)
	n, err = ParseNotification(wrapped)
	require.NoError(t, err)
	assert.Equal(t, "def", n.JobID)
	assert.Equal(t, "FAILED", n.Status)

	_, err = ParseNotification([]byte(`{"Status":"SUCCEEDED"}`))
	assert.True(t, errors.Is(err, models.ErrInvalidArgument))

	_, err = ParseNotification([]byte(`not json`))
	assert.True(t, errors.Is(err, models.ErrInvalidArgument))
}
