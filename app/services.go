package app

import (
	"context"
	"fmt"

	"sales-forecast/config"
	"sales-forecast/core/featureeng"
	"sales-forecast/core/inference"
	"sales-forecast/core/ingestion"
	"sales-forecast/core/monitoring"
	"sales-forecast/core/optimizer"
	"sales-forecast/core/pipeline"
	"sales-forecast/core/registry"
	"sales-forecast/providers/aws"
	"sales-forecast/providers/memory"
	"sales-forecast/storage"
)

// Services are the external collaborators of the core, resolved for one
// backend
type Services struct {
	Objects    storage.ObjectStore
	Analyzer   ingestion.DocumentAnalyzer
	Pipelines  pipeline.PipelineService
	Executions monitoring.ExecutionSource
	Registry   registry.ModelRegistry
	Transforms inference.TransformService
	ETL        featureeng.ETLService
	Prices     optimizer.PriceSource
}

// AWSServices connects every collaborator to its AWS service
func AWSServices(ctx context.Context, cfg *config.Config) (*Services, error) {
	client, err := aws.NewClient(ctx, cfg.AWSRegion)
	if err != nil {
		return nil, fmt.Errorf("failed to create aws client: %w", err)
	}
	sm := client.SageMaker()
	return &Services{
		Objects:    client.ObjectStore(),
		Analyzer:   client.DocumentAnalyzer(cfg.SNSTopicArn, cfg.TextractSNSRoleArn),
		Pipelines:  sm,
		Executions: sm,
		Registry:   sm,
		Transforms: sm,
		ETL:        client.ETL(),
		Prices:     client.Pricing(),
	}, nil
}

// SandboxServices exposes an in-process sandbox as collaborators
func SandboxServices(sb *memory.Sandbox) *Services {
	return &Services{
		Objects:    sb.Store,
		Analyzer:   sb.Documents,
		Pipelines:  sb.Pipelines,
		Executions: sb.Pipelines,
		Registry:   sb.Registry,
		Transforms: sb.Transforms,
		ETL:        sb.ETL,
		Prices:     sb.Prices,
	}
}

// ApplySandboxDefaults fills the values a sandbox run does not need from
// the operator
func ApplySandboxDefaults(cfg *config.Config) {
	set := func(field *string, value string) {
		if *field == "" {
			*field = value
		}
	}
	set(&cfg.RawBucket, "sandbox-raw")
	set(&cfg.ProcessedBucket, "sandbox-processed")
	set(&cfg.FeatureStoreBucket, "sandbox-feature-store")
	set(&cfg.ArtifactsBucket, "sandbox-artifacts")
	set(&cfg.RoleArn, "arn:aws:iam::000000000000:role/sandbox-sagemaker")
	set(&cfg.GlueTriggerLambdaArn, fmt.Sprintf("arn:aws:lambda:%s:000000000000:function:glue-trigger", cfg.AWSRegion))
	set(&cfg.SNSTopicArn, fmt.Sprintf("arn:aws:sns:%s:000000000000:textract-completions", cfg.AWSRegion))
}
