package storage

import (
	"context"
	"testing"

	"sales-forecast/core/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURI(t *testing.T) {
	bucket, key, err := ParseURI("s3://processed/sales/jan.parquet")
	require.NoError(t, err)
	assert.Equal(t, "processed", bucket)
	assert.Equal(t, "sales/jan.parquet", key)

	_, _, err = ParseURI("https://example.com/x")
	assert.Error(t, err)

	_, _, err = ParseURI("s3:///key")
	assert.Error(t, err)
}

func TestParquetKey(t *testing.T) {
	assert.Equal(t, "sales_jan.parquet", ParquetKey("uploads/sales_jan.csv"))
	assert.Equal(t, "report.parquet", ParquetKey("report.xlsx"))
}

func TestParquetRoundTrip(t *testing.T) {
	table := models.NewTable(
		[]string{"store", "date", "sales", "region"},
		[][]string{{"north", "2024-01-01", "10", "east"}, {"south", "2024-01-02", "12", ""}},
	)

	data, err := EncodeParquet(table)
	require.NoError(t, err)

	decoded, err := DecodeParquet(data)
	require.NoError(t, err)

	assert.Equal(t, []string{"store", "date", "sales", "region"}, decoded.Columns)
	assert.Equal(t, table.Rows, decoded.Rows)
}

func TestEncodeParquet_RejectsEmptyTable(t *testing.T) {
	_, err := EncodeParquet(&models.Table{})
	assert.Error(t, err)
}

func TestColumnarStore_OverwriteByKey(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	cs := NewColumnarStore(mem, "processed")
	table := models.NewTable([]string{"a"}, [][]string{{"1"}})

	uri, err := cs.WriteTable(ctx, "job-1.parquet", table)
	require.NoError(t, err)
	assert.Equal(t, "s3://processed/job-1.parquet", uri)

	first, err := mem.Get(ctx, "processed", "job-1.parquet")
	require.NoError(t, err)

	_, err = cs.WriteTable(ctx, "job-1.parquet", table)
	require.NoError(t, err)

	second, err := mem.Get(ctx, "processed", "job-1.parquet")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	objects, err := mem.List(ctx, "processed", "")
	require.NoError(t, err)
	assert.Len(t, objects, 1)
}

func TestMemoryStore_ListByPrefix(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	require.NoError(t, mem.Put(ctx, "b", "train/part-1.parquet", []byte("x"), ""))
	require.NoError(t, mem.Put(ctx, "b", "test/part-1.parquet", []byte("yy"), ""))

	objects, err := mem.List(ctx, "b", "train/")
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.Equal(t, "train/part-1.parquet", objects[0].Key)
	assert.Equal(t, int64(1), objects[0].Size)

	_, err = mem.Get(ctx, "b", "missing")
	assert.Error(t, err)
}
