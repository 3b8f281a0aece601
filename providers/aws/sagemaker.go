package aws

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"sales-forecast/core/inference"
	"sales-forecast/core/models"
	"sales-forecast/core/monitoring"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker/types"
	"github.com/google/uuid"
)

// SageMaker implements the pipeline, model registry and batch transform
// services
type SageMaker struct {
	client *sagemaker.Client
}

// UpsertPipeline replaces the definition of an existing pipeline or creates it
func (s *SageMaker) UpsertPipeline(ctx context.Context, name, definition, roleArn string) (string, error) {
	updated, err := s.client.UpdatePipeline(ctx, &sagemaker.UpdatePipelineInput{
		PipelineName:       aws.String(name),
		PipelineDefinition: aws.String(definition),
		RoleArn:            aws.String(roleArn),
	})
	if err == nil {
		return aws.ToString(updated.PipelineArn), nil
	}
	var notFound *types.ResourceNotFound
	if !errors.As(err, &notFound) {
		return "", wrap("sagemaker.upsert_pipeline", err)
	}

	created, err := s.client.CreatePipeline(ctx, &sagemaker.CreatePipelineInput{
		PipelineName:       aws.String(name),
		PipelineDefinition: aws.String(definition),
		RoleArn:            aws.String(roleArn),
		ClientRequestToken: aws.String(uuid.NewString()),
	})
	if err != nil {
		return "", wrap("sagemaker.create_pipeline", err)
	}
	return aws.ToString(created.PipelineArn), nil
}

// StartExecution starts a pipeline execution and returns its ARN
func (s *SageMaker) StartExecution(ctx context.Context, name string) (string, error) {
	out, err := s.client.StartPipelineExecution(ctx, &sagemaker.StartPipelineExecutionInput{
		PipelineName:       aws.String(name),
		ClientRequestToken: aws.String(uuid.NewString()),
	})
	if err != nil {
		return "", wrap("sagemaker.start_execution", err)
	}
	return aws.ToString(out.PipelineExecutionArn), nil
}

// ListSteps returns the steps of an execution in ascending start order
func (s *SageMaker) ListSteps(ctx context.Context, executionID string) ([]models.PipelineStep, error) {
	var steps []models.PipelineStep
	paginator := sagemaker.NewListPipelineExecutionStepsPaginator(s.client, &sagemaker.ListPipelineExecutionStepsInput{
		PipelineExecutionArn: aws.String(executionID),
		SortOrder:            types.SortOrderAscending,
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, executionError("sagemaker.list_steps", executionID, err)
		}
		for _, step := range page.PipelineExecutionSteps {
			steps = append(steps, models.PipelineStep{
				Name:          aws.ToString(step.StepName),
				Status:        stepStatus(step.StepStatus),
				StartTime:     step.StartTime,
				EndTime:       step.EndTime,
				FailureReason: aws.ToString(step.FailureReason),
			})
		}
	}
	return steps, nil
}

// DescribeExecution reads the execution-level status
func (s *SageMaker) DescribeExecution(ctx context.Context, executionID string) (*monitoring.ExecutionDescription, error) {
	out, err := s.client.DescribePipelineExecution(ctx, &sagemaker.DescribePipelineExecutionInput{
		PipelineExecutionArn: aws.String(executionID),
	})
	if err != nil {
		return nil, executionError("sagemaker.describe_execution", executionID, err)
	}
	return &monitoring.ExecutionDescription{
		PipelineName:  pipelineNameFromArn(aws.ToString(out.PipelineArn)),
		Status:        executionStatus(out.PipelineExecutionStatus),
		FailureReason: aws.ToString(out.FailureReason),
		StartedAt:     aws.ToTime(out.CreationTime),
	}, nil
}

// ListModelVersions lists the versions of a group with the given approval status
func (s *SageMaker) ListModelVersions(ctx context.Context, group string, status models.ApprovalStatus) ([]*models.ModelVersion, error) {
	var versions []*models.ModelVersion
	paginator := sagemaker.NewListModelPackagesPaginator(s.client, &sagemaker.ListModelPackagesInput{
		ModelPackageGroupName: aws.String(group),
		ModelApprovalStatus:   types.ModelApprovalStatus(status),
		SortBy:                types.ModelPackageSortByCreationTime,
		SortOrder:             types.SortOrderDescending,
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, wrap("sagemaker.list_models", err)
		}
		for _, summary := range page.ModelPackageSummaryList {
			versions = append(versions, &models.ModelVersion{
				Arn:            aws.ToString(summary.ModelPackageArn),
				Name:           aws.ToString(summary.ModelPackageName),
				GroupName:      aws.ToString(summary.ModelPackageGroupName),
				Version:        int(aws.ToInt32(summary.ModelPackageVersion)),
				ApprovalStatus: models.ApprovalStatus(summary.ModelApprovalStatus),
				CreationTime:   aws.ToTime(summary.CreationTime),
			})
		}
	}
	return versions, nil
}

// DescribeModelVersion reads one model package, including where its
// evaluation report is stored
func (s *SageMaker) DescribeModelVersion(ctx context.Context, arn string) (*models.ModelVersion, error) {
	out, err := s.client.DescribeModelPackage(ctx, &sagemaker.DescribeModelPackageInput{
		ModelPackageName: aws.String(arn),
	})
	if err != nil {
		if errorCode(err) == "ValidationException" && strings.Contains(err.Error(), "does not exist") {
			return nil, models.NotFound("sagemaker.describe_model", "model package "+arn)
		}
		return nil, wrap("sagemaker.describe_model", err)
	}

	version := &models.ModelVersion{
		Arn:                 aws.ToString(out.ModelPackageArn),
		Name:                aws.ToString(out.ModelPackageName),
		GroupName:           aws.ToString(out.ModelPackageGroupName),
		Version:             int(aws.ToInt32(out.ModelPackageVersion)),
		ApprovalStatus:      models.ApprovalStatus(out.ModelApprovalStatus),
		ApprovalDescription: aws.ToString(out.ApprovalDescription),
		CreationTime:        aws.ToTime(out.CreationTime),
	}
	if m := out.ModelMetrics; m != nil && m.ModelQuality != nil && m.ModelQuality.Statistics != nil {
		version.MetricsURI = aws.ToString(m.ModelQuality.Statistics.S3Uri)
	}
	return version, nil
}

// UpdateModelApproval sets the approval status and comment of a model package
func (s *SageMaker) UpdateModelApproval(ctx context.Context, arn string, status models.ApprovalStatus, comment string) error {
	_, err := s.client.UpdateModelPackage(ctx, &sagemaker.UpdateModelPackageInput{
		ModelPackageArn:     aws.String(arn),
		ModelApprovalStatus: types.ModelApprovalStatus(status),
		ApprovalDescription: aws.String(comment),
	})
	return wrap("sagemaker.update_approval", err)
}

// CreateModel binds a model package to a deployable model
func (s *SageMaker) CreateModel(ctx context.Context, spec inference.ModelSpec) error {
	_, err := s.client.CreateModel(ctx, &sagemaker.CreateModelInput{
		ModelName:        aws.String(spec.Name),
		ExecutionRoleArn: aws.String(spec.RoleArn),
		Containers: []types.ContainerDefinition{
			{ModelPackageName: aws.String(spec.ModelPackageArn)},
		},
	})
	return wrap("sagemaker.create_model", err)
}

// DeleteModel removes a model created for a transform job
func (s *SageMaker) DeleteModel(ctx context.Context, name string) error {
	_, err := s.client.DeleteModel(ctx, &sagemaker.DeleteModelInput{
		ModelName: aws.String(name),
	})
	return wrap("sagemaker.delete_model", err)
}

// CreateTransformJob starts a batch transform job
func (s *SageMaker) CreateTransformJob(ctx context.Context, spec inference.TransformSpec) error {
	_, err := s.client.CreateTransformJob(ctx, transformJobInput(spec))
	return wrap("sagemaker.create_transform_job", err)
}

func transformJobInput(spec inference.TransformSpec) *sagemaker.CreateTransformJobInput {
	return &sagemaker.CreateTransformJobInput{
		TransformJobName:        aws.String(spec.JobName),
		ModelName:               aws.String(spec.ModelName),
		MaxConcurrentTransforms: aws.Int32(int32(spec.MaxConcurrentTransforms)),
		ModelClientConfig: &types.ModelClientConfig{
			InvocationsTimeoutInSeconds: aws.Int32(int32(spec.InvocationTimeout.Seconds())),
			InvocationsMaxRetries:       aws.Int32(int32(spec.MaxRetries)),
		},
		TransformInput: &types.TransformInput{
			DataSource: &types.TransformDataSource{
				S3DataSource: &types.TransformS3DataSource{
					S3DataType: types.S3DataTypeS3Prefix,
					S3Uri:      aws.String(spec.InputURI),
				},
			},
			ContentType: aws.String(spec.ContentType),
			SplitType:   types.SplitTypeNone,
		},
		TransformOutput: &types.TransformOutput{
			S3OutputPath: aws.String(spec.OutputURI),
			Accept:       aws.String(spec.Accept),
			AssembleWith: types.AssemblyTypeLine,
		},
		TransformResources: &types.TransformResources{
			InstanceType:  types.TransformInstanceType(spec.InstanceType),
			InstanceCount: aws.Int32(int32(spec.InstanceCount)),
		},
	}
}

// DescribeTransformJob reads the state of a transform job
func (s *SageMaker) DescribeTransformJob(ctx context.Context, jobName string) (*inference.JobDescription, error) {
	out, err := s.client.DescribeTransformJob(ctx, &sagemaker.DescribeTransformJobInput{
		TransformJobName: aws.String(jobName),
	})
	if err != nil {
		var notFound *types.ResourceNotFound
		if errors.As(err, &notFound) {
			return nil, models.NotFound("sagemaker.describe_transform_job", "transform job "+jobName)
		}
		return nil, wrap("sagemaker.describe_transform_job", err)
	}

	desc := &inference.JobDescription{
		JobName:       aws.ToString(out.TransformJobName),
		ModelName:     aws.ToString(out.ModelName),
		Status:        models.TransformJobStatus(out.TransformJobStatus),
		FailureReason: aws.ToString(out.FailureReason),
		CreatedAt:     aws.ToTime(out.CreationTime),
	}
	if out.TransformOutput != nil {
		desc.OutputURI = aws.ToString(out.TransformOutput.S3OutputPath)
	}
	return desc, nil
}

func executionError(op, executionID string, err error) error {
	var notFound *types.ResourceNotFound
	if errors.As(err, &notFound) {
		return models.NotFound(op, "execution "+executionID)
	}
	return wrap(op, fmt.Errorf("execution %s: %w", executionID, err))
}

func stepStatus(s types.StepStatus) models.StepStatus {
	switch s {
	case types.StepStatusSucceeded:
		return models.StepSucceeded
	case types.StepStatusFailed:
		return models.StepFailed
	case types.StepStatusStopped:
		return models.StepStopped
	case types.StepStatusStarting, types.StepStatusExecuting, types.StepStatusStopping:
		return models.StepExecuting
	default:
		return models.StepNotStarted
	}
}

func executionStatus(s types.PipelineExecutionStatus) models.ExecutionStatus {
	switch s {
	case types.PipelineExecutionStatusSucceeded:
		return models.ExecutionSucceeded
	case types.PipelineExecutionStatusFailed:
		return models.ExecutionFailed
	case types.PipelineExecutionStatusStopped:
		return models.ExecutionStopped
	default:
		return models.ExecutionExecuting
	}
}

// pipelineNameFromArn extracts "name" from
// arn:aws:sagemaker:<region>:<account>:pipeline/<name>
func pipelineNameFromArn(arn string) string {
	_, resource, ok := strings.Cut(arn, ":pipeline/")
	if !ok {
		return ""
	}
	name, _, _ := strings.Cut(resource, "/")
	return name
}
