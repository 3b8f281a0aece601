package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"sales-forecast/core/models"

	"github.com/parquet-go/parquet-go"
)

// ParquetContentType is the content type used for columnar objects
const ParquetContentType = "application/x-parquet"

// columnOrderKey is the key-value metadata entry holding the table's column
// order as a JSON array
const columnOrderKey = "sales-forecast.columns"

// EncodeParquet encodes a table as a parquet file with one string column per
// table column. The whole file is built in memory so callers can write it in a
// single put.
func EncodeParquet(table *models.Table) ([]byte, error) {
	if table == nil || len(table.Columns) == 0 {
		return nil, errors.New("table has no columns")
	}

	group := parquet.Group{}
	for _, col := range table.Columns {
		group[col] = parquet.String()
	}
	schema := parquet.NewSchema("sales", group)

	// Group fields are ordered by name, so leaf column indexes differ from
	// the table's column order.
	leaf := make(map[string]int, len(table.Columns))
	for i, field := range schema.Fields() {
		leaf[field.Name()] = i
	}

	rows := make([]parquet.Row, 0, len(table.Rows))
	for _, cells := range table.Rows {
		row := make(parquet.Row, len(table.Columns))
		for j, col := range table.Columns {
			idx := leaf[col]
			value := ""
			if j < len(cells) {
				value = cells[j]
			}
			row[idx] = parquet.ByteArrayValue([]byte(value)).Level(0, 0, idx)
		}
		rows = append(rows, row)
	}

	order, err := json.Marshal(table.Columns)
	if err != nil {
		return nil, fmt.Errorf("failed to encode column order: %w", err)
	}

	var buf bytes.Buffer
	writer := parquet.NewWriter(&buf, schema, parquet.KeyValueMetadata(columnOrderKey, string(order)))
	if _, err := writer.WriteRows(rows); err != nil {
		return nil, fmt.Errorf("failed to write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet file: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeParquet reads a parquet file written by EncodeParquet. Columns come
// back in the order they were written; files without the order metadata keep
// schema order.
func DecodeParquet(data []byte) (*models.Table, error) {
	file, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet file: %w", err)
	}

	reader := parquet.NewReader(bytes.NewReader(data))
	defer reader.Close()

	fields := reader.Schema().Fields()
	names := make([]string, len(fields))
	for i, field := range fields {
		names[i] = field.Name()
	}
	columns, leaf := columnOrder(file, names)
	table := &models.Table{Columns: columns}

	buf := make([]parquet.Row, 64)
	for {
		n, err := reader.ReadRows(buf)
		for _, row := range buf[:n] {
			raw := make([]string, len(fields))
			for _, v := range row {
				if !v.IsNull() {
					raw[v.Column()] = string(v.ByteArray())
				}
			}
			cells := make([]string, len(columns))
			for i, idx := range leaf {
				cells[i] = raw[idx]
			}
			table.Rows = append(table.Rows, cells)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read parquet rows: %w", err)
		}
	}
	return table, nil
}

// columnOrder returns the table columns and, for each, its leaf index in the
// schema. The stored order is used only when it names exactly the schema's
// fields.
func columnOrder(file *parquet.File, names []string) ([]string, []int) {
	index := make(map[string]int, len(names))
	for i, name := range names {
		index[name] = i
	}

	schemaOrder := func() ([]string, []int) {
		leaf := make([]int, len(names))
		for i := range names {
			leaf[i] = i
		}
		return names, leaf
	}

	value, ok := file.Lookup(columnOrderKey)
	if !ok {
		return schemaOrder()
	}
	var stored []string
	if err := json.Unmarshal([]byte(value), &stored); err != nil || len(stored) != len(names) {
		return schemaOrder()
	}
	leaf := make([]int, len(stored))
	seen := make(map[string]bool, len(stored))
	for i, name := range stored {
		idx, ok := index[name]
		if !ok || seen[name] {
			return schemaOrder()
		}
		seen[name] = true
		leaf[i] = idx
	}
	return stored, leaf
}
