package ingestion

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"sales-forecast/core/models"

	"github.com/xuri/excelize/v2"
)

var errNoHeader = errors.New("no header row")

// ParseTable parses a tabular upload into the canonical table form.
// The first row is the header.
func ParseTable(ext models.Extension, content []byte) (*models.Table, error) {
	switch ext {
	case models.ExtensionCSV:
		return parseCSV(content)
	case models.ExtensionXLSX:
		return parseXLSX(content)
	}
	return nil, fmt.Errorf("%s is not a tabular format", ext)
}

func parseCSV(content []byte) (*models.Table, error) {
	content = bytes.TrimPrefix(content, []byte("\xef\xbb\xbf"))

	reader := csv.NewReader(bytes.NewReader(content))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, errNoHeader
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}

	var rows [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv row %d: %w", len(rows)+2, err)
		}
		rows = append(rows, record)
	}
	return models.NewTable(header, rows), nil
}

// parseXLSX reads the first worksheet of a workbook
func parseXLSX(content []byte) (*models.Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, errNoHeader
	}
	return models.NewTable(rows[0], rows[1:]), nil
}
