package inference

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"path"
	"strconv"

	"sales-forecast/core/models"
	"sales-forecast/storage"
)

// Results reads the predictions of a completed job. Each output object is
// CSV without a header, one line per input record.
func (d *Driver) Results(ctx context.Context, jobName string) (*models.PredictionResults, error) {
	const op = "inference.results"

	if jobName == "" {
		return nil, models.InvalidArgument(op, "job name is required")
	}
	desc, err := d.service.DescribeTransformJob(ctx, jobName)
	if err != nil {
		return nil, fmt.Errorf("failed to describe transform job %s: %w", jobName, err)
	}
	if desc.Status != models.TransformCompleted {
		return nil, models.InvalidArgument(op, fmt.Sprintf("transform job %s is %s, results are available once Completed", jobName, desc.Status))
	}

	outputURI := desc.OutputURI
	if outputURI == "" {
		outputURI = d.OutputURI(jobName)
	}
	bucket, prefix, err := storage.ParseURI(outputURI)
	if err != nil {
		return nil, models.ExternalServiceError(op, err)
	}

	objects, err := d.store.List(ctx, bucket, prefix)
	if err != nil {
		return nil, models.ExternalServiceError(op, err)
	}

	results := &models.PredictionResults{
		JobName:     jobName,
		OutputURI:   outputURI,
		Predictions: []map[string]string{},
	}
	width := 0
	for _, obj := range objects {
		data, err := d.store.Get(ctx, bucket, obj.Key)
		if err != nil {
			return nil, models.ExternalServiceError(op, err)
		}
		records, err := readPredictions(data)
		if err != nil {
			return nil, models.ExternalServiceError(op, fmt.Errorf("malformed output %s: %w", obj.Key, err))
		}
		source := path.Base(obj.Key)
		for i, record := range records {
			row := map[string]string{"source": source, "line": strconv.Itoa(i + 1)}
			for j, value := range record {
				row[predictionColumn(j)] = value
			}
			width = max(width, len(record))
			results.Predictions = append(results.Predictions, row)
		}
	}

	results.Columns = []string{"source", "line"}
	for j := 0; j < width; j++ {
		results.Columns = append(results.Columns, predictionColumn(j))
	}
	return results, nil
}

func predictionColumn(i int) string {
	if i == 0 {
		return "prediction"
	}
	return fmt.Sprintf("value_%d", i+1)
}

func readPredictions(data []byte) ([][]string, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1

	var records [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
}
