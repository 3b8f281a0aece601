package models

import (
	"fmt"
	"strings"
)

// Table is the canonical tabular representation written to the processed store.
// Column names are unique and non-empty; every row has len(Columns) cells.
type Table struct {
	Columns []string
	Rows    [][]string
}

// NewTable builds a table from a header and rows, normalizing header names and
// padding or truncating rows to the header width.
func NewTable(header []string, rows [][]string) *Table {
	t := &Table{Columns: NormalizeColumns(header)}
	for _, row := range rows {
		t.Rows = append(t.Rows, fitRow(row, len(t.Columns)))
	}
	return t
}

// NumRows returns the number of data rows
func (t *Table) NumRows() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Concat appends tables in order. Columns are the union of all inputs in
// first-seen order; cells missing from a fragment are left empty.
func Concat(tables []*Table) *Table {
	out := &Table{}
	index := make(map[string]int)
	for _, t := range tables {
		if t == nil {
			continue
		}
		for _, col := range t.Columns {
			if _, ok := index[col]; !ok {
				index[col] = len(out.Columns)
				out.Columns = append(out.Columns, col)
			}
		}
	}

	for _, t := range tables {
		if t == nil {
			continue
		}
		for _, row := range t.Rows {
			merged := make([]string, len(out.Columns))
			for i, col := range t.Columns {
				if i < len(row) {
					merged[index[col]] = row[i]
				}
			}
			out.Rows = append(out.Rows, merged)
		}
	}
	return out
}

// NormalizeColumns trims names, fills blanks with column_N and de-duplicates
// repeated names with a numeric suffix.
func NormalizeColumns(header []string) []string {
	used := make(map[string]bool, len(header))
	cols := make([]string, len(header))
	for i, name := range header {
		name = strings.TrimSpace(name)
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
		}
		candidate := name
		for n := 2; used[candidate]; n++ {
			candidate = fmt.Sprintf("%s_%d", name, n)
		}
		used[candidate] = true
		cols[i] = candidate
	}
	return cols
}

func fitRow(row []string, width int) []string {
	out := make([]string, width)
	copy(out, row)
	return out
}
