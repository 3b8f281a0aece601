package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeColumns(t *testing.T) {
	cols := NormalizeColumns([]string{" date ", "", "sales", "sales", "sales"})
	assert.Equal(t, []string{"date", "column_2", "sales", "sales_2", "sales_3"}, cols)
}

func TestNewTable_FitsRowsToHeader(t *testing.T) {
	table := NewTable([]string{"a", "b"}, [][]string{{"1"}, {"1", "2", "3"}})

	assert.Equal(t, [][]string{{"1", ""}, {"1", "2"}}, table.Rows)
	assert.Equal(t, 2, table.NumRows())
}

func TestConcat_UnionOfColumnsInOrder(t *testing.T) {
	first := NewTable([]string{"month", "sales"}, [][]string{{"jan", "10"}})
	second := NewTable([]string{"month", "region", "sales"}, [][]string{{"feb", "north", "12"}})

	out := Concat([]*Table{first, nil, second})

	assert.Equal(t, []string{"month", "sales", "region"}, out.Columns)
	assert.Equal(t, [][]string{
		{"jan", "10", ""},
		{"feb", "12", "north"},
	}, out.Rows)
}

func TestExtensionKind(t *testing.T) {
	cases := map[string]FileKind{
		"uploads/sales_jan.csv":  FileKindTabular,
		"uploads/SALES.XLSX":     FileKindTabular,
		"uploads/invoice.pdf":    FileKindDocument,
		"uploads/notes.txt":      FileKindUnsupported,
		"uploads/no-extension":   FileKindUnsupported,
		"uploads/archive.csv.gz": FileKindUnsupported,
	}
	for key, want := range cases {
		assert.Equal(t, want, ExtensionOf(key).Kind(), key)
	}
}
