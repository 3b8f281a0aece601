package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/glue"
)

// Glue implements featureeng.ETLService
type Glue struct {
	client *glue.Client
}

func (g *Glue) StartJobRun(ctx context.Context, jobName string, args map[string]string) (string, error) {
	input := &glue.StartJobRunInput{JobName: aws.String(jobName)}
	if len(args) > 0 {
		input.Arguments = args
	}
	out, err := g.client.StartJobRun(ctx, input)
	if err != nil {
		return "", wrap("glue.start_job_run", fmt.Errorf("job %s: %w", jobName, err))
	}
	return aws.ToString(out.JobRunId), nil
}

func (g *Glue) JobRunState(ctx context.Context, jobName, runID string) (string, error) {
	out, err := g.client.GetJobRun(ctx, &glue.GetJobRunInput{
		JobName: aws.String(jobName),
		RunId:   aws.String(runID),
	})
	if err != nil {
		return "", wrap("glue.get_job_run", fmt.Errorf("run %s of %s: %w", runID, jobName, err))
	}
	if out.JobRun == nil {
		return "", nil
	}
	return string(out.JobRun.JobRunState), nil
}
