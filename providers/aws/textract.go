package aws

import (
	"context"
	"fmt"
	"strings"

	"sales-forecast/core/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"
)

// Textract implements ingestion.DocumentAnalyzer
type Textract struct {
	client      *textract.Client
	snsTopicArn string
	snsRoleArn  string
}

// Submit starts an asynchronous analysis of an S3 object
func (t *Textract) Submit(ctx context.Context, bucket, key string, features []string) (string, error) {
	input := &textract.StartDocumentAnalysisInput{
		DocumentLocation: &types.DocumentLocation{
			S3Object: &types.S3Object{
				Bucket: aws.String(bucket),
				Name:   aws.String(key),
			},
		},
	}
	for _, f := range features {
		input.FeatureTypes = append(input.FeatureTypes, types.FeatureType(f))
	}
	if t.snsTopicArn != "" {
		input.NotificationChannel = &types.NotificationChannel{
			SNSTopicArn: aws.String(t.snsTopicArn),
			RoleArn:     aws.String(t.snsRoleArn),
		}
	}

	out, err := t.client.StartDocumentAnalysis(ctx, input)
	if err != nil {
		return "", wrap("textract.submit", fmt.Errorf("s3://%s/%s: %w", bucket, key, err))
	}
	return aws.ToString(out.JobId), nil
}

// Tables reads every result page of a finished job and rebuilds its tables
func (t *Textract) Tables(ctx context.Context, jobID string) ([]*models.Table, error) {
	var blocks []types.Block
	var nextToken *string
	for {
		out, err := t.client.GetDocumentAnalysis(ctx, &textract.GetDocumentAnalysisInput{
			JobId:     aws.String(jobID),
			NextToken: nextToken,
		})
		if err != nil {
			return nil, wrap("textract.tables", fmt.Errorf("job %s: %w", jobID, err))
		}
		if out.JobStatus != types.JobStatusSucceeded && out.JobStatus != types.JobStatusPartialSuccess {
			return nil, models.ExternalServiceError("textract.tables",
				fmt.Errorf("job %s is %s: %s", jobID, out.JobStatus, aws.ToString(out.StatusMessage)))
		}
		blocks = append(blocks, out.Blocks...)
		if out.NextToken == nil {
			break
		}
		nextToken = out.NextToken
	}
	return BuildTables(blocks), nil
}

// BuildTables reconstructs the tables of an analysis result. The first row
// of each table is its header. Tables are returned in document order.
func BuildTables(blocks []types.Block) []*models.Table {
	byID := make(map[string]types.Block, len(blocks))
	for _, b := range blocks {
		byID[aws.ToString(b.Id)] = b
	}

	var tables []*models.Table
	for _, b := range blocks {
		if b.BlockType != types.BlockTypeTable {
			continue
		}
		grid := tableGrid(b, byID)
		if len(grid) == 0 {
			continue
		}
		tables = append(tables, models.NewTable(grid[0], grid[1:]))
	}
	return tables
}

func tableGrid(table types.Block, byID map[string]types.Block) [][]string {
	cells := map[[2]int]string{}
	rows, cols := 0, 0
	for _, id := range childIDs(table) {
		cell, ok := byID[id]
		if !ok || cell.BlockType != types.BlockTypeCell {
			continue
		}
		r, c := int(aws.ToInt32(cell.RowIndex)), int(aws.ToInt32(cell.ColumnIndex))
		if r < 1 || c < 1 {
			continue
		}
		cells[[2]int{r, c}] = cellText(cell, byID)
		rows = max(rows, r)
		cols = max(cols, c)
	}

	grid := make([][]string, rows)
	for r := range grid {
		grid[r] = make([]string, cols)
		for c := range grid[r] {
			grid[r][c] = cells[[2]int{r + 1, c + 1}]
		}
	}
	return grid
}

func cellText(cell types.Block, byID map[string]types.Block) string {
	var words []string
	for _, id := range childIDs(cell) {
		child, ok := byID[id]
		if !ok {
			continue
		}
		switch child.BlockType {
		case types.BlockTypeWord:
			words = append(words, aws.ToString(child.Text))
		case types.BlockTypeSelectionElement:
			if child.SelectionStatus == types.SelectionStatusSelected {
				words = append(words, "X")
			}
		}
	}
	return strings.Join(words, " ")
}

func childIDs(b types.Block) []string {
	var ids []string
	for _, rel := range b.Relationships {
		if rel.Type == types.RelationshipTypeChild {
			ids = append(ids, rel.Ids...)
		}
	}
	return ids
}
