package storage

import (
	"context"
	"path"
	"strings"

	"sales-forecast/core/models"
)

// ColumnarStore writes canonical tables into the processed bucket
type ColumnarStore struct {
	store  ObjectStore
	bucket string
}

// NewColumnarStore creates a columnar store over bucket
func NewColumnarStore(store ObjectStore, bucket string) *ColumnarStore {
	return &ColumnarStore{store: store, bucket: bucket}
}

// Bucket returns the processed bucket name
func (cs *ColumnarStore) Bucket() string {
	return cs.bucket
}

// WriteTable encodes table and writes it under key in one put. Writing the
// same key twice replaces the previous object.
func (cs *ColumnarStore) WriteTable(ctx context.Context, key string, table *models.Table) (string, error) {
	data, err := EncodeParquet(table)
	if err != nil {
		return "", err
	}
	if err := cs.store.Put(ctx, cs.bucket, key, data, ParquetContentType); err != nil {
		return "", err
	}
	return URI(cs.bucket, key), nil
}

// ReadTable reads back a table written by WriteTable
func (cs *ColumnarStore) ReadTable(ctx context.Context, key string) (*models.Table, error) {
	data, err := cs.store.Get(ctx, cs.bucket, key)
	if err != nil {
		return nil, err
	}
	return DecodeParquet(data)
}

// ParquetKey maps a source object key to its processed key: the base name
// with the extension replaced by .parquet
func ParquetKey(sourceKey string) string {
	base := path.Base(sourceKey)
	return strings.TrimSuffix(base, path.Ext(base)) + ".parquet"
}
