package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"sales-forecast/core/models"
	"sales-forecast/core/spec"
	"sales-forecast/storage"
	"sales-forecast/training/frameworks"
)

// PipelineService is the managed pipeline service
type PipelineService interface {
	// UpsertPipeline creates the pipeline or replaces its definition
	UpsertPipeline(ctx context.Context, name, definition, roleArn string) (string, error)
	// StartExecution begins one execution and returns its id
	StartExecution(ctx context.Context, name string) (string, error)
}

// ExecutionRecorder is notified of every started execution
type ExecutionRecorder interface {
	RecordExecution(ctx context.Context, execution *models.PipelineExecution) error
}

// Config holds the upstream references every definition needs
type Config struct {
	Region             string
	RoleArn            string
	ArtifactsBucket    string
	TriggerFunctionArn string
	GlueJobName        string // Overrides the pipeline YAML when set
	ModelPackageGroup  string // Overrides the pipeline YAML when set
}

// Builder assembles, registers and starts the training pipeline
type Builder struct {
	cfg      Config
	spec     *spec.PipelineSpec
	xgb      frameworks.XGBoost
	service  PipelineService
	recorder ExecutionRecorder
	logger   *slog.Logger
}

// Option configures a Builder.
type Option func(*Builder)

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(b *Builder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithSpec replaces the default pipeline spec.
func WithSpec(s *spec.PipelineSpec) Option {
	return func(b *Builder) {
		if s != nil {
			b.spec = s
		}
	}
}

// WithRecorder persists started executions.
func WithRecorder(r ExecutionRecorder) Option {
	return func(b *Builder) {
		b.recorder = r
	}
}

// NewBuilder creates a new pipeline builder
func NewBuilder(cfg Config, service PipelineService, opts ...Option) *Builder {
	b := &Builder{
		cfg:     cfg,
		spec:    spec.Default(),
		service: service,
		logger:  slog.Default().With("component", "pipeline-builder"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Builder) glueJobName() string {
	if b.cfg.GlueJobName != "" {
		return b.cfg.GlueJobName
	}
	return b.spec.Pipeline.FeatureEngineering.GlueJobName
}

func (b *Builder) modelPackageGroup() string {
	if b.cfg.ModelPackageGroup != "" {
		return b.cfg.ModelPackageGroup
	}
	return b.spec.Pipeline.ModelPackageGroup
}

// Build constructs the FeatureEngineering -> Training -> Evaluation ->
// Registration definition. Missing upstream configuration fails with a
// definition error.
func (b *Builder) Build(pipelineName, featureStoreURI string) (*Definition, error) {
	const op = "pipeline.build"

	featureStoreURI = strings.TrimSuffix(featureStoreURI, "/")
	var missing []string
	for _, check := range []struct{ name, value string }{
		{"pipeline name", pipelineName},
		{"execution role", b.cfg.RoleArn},
		{"artifacts bucket", b.cfg.ArtifactsBucket},
		{"feature-engineering job", b.glueJobName()},
		{"trigger function", b.cfg.TriggerFunctionArn},
		{"model package group", b.modelPackageGroup()},
	} {
		if check.value == "" {
			missing = append(missing, check.name)
		}
	}
	if _, _, err := storage.ParseURI(featureStoreURI); err != nil {
		missing = append(missing, "feature store location")
	}
	if len(missing) > 0 {
		return nil, models.DefinitionError(op, "missing "+strings.Join(missing, ", "))
	}

	training := b.spec.Pipeline.Training
	image, err := b.xgb.ImageURI(b.cfg.Region, training.FrameworkVersion)
	if err != nil {
		return nil, models.DefinitionError(op, err.Error())
	}

	def := &Definition{
		Name:       pipelineName,
		RoleArn:    b.cfg.RoleArn,
		Version:    DefinitionVersion,
		Metadata:   map[string]interface{}{},
		Parameters: []interface{}{},
		Steps: []Step{
			b.featureEngineeringStep(),
			b.trainingStep(image, featureStoreURI),
			b.evaluationStep(image, featureStoreURI),
			b.registrationStep(image),
		},
	}

	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}

func (b *Builder) featureEngineeringStep() Step {
	return Step{
		Name:        StepFeatureEngineering,
		Type:        StepTypeLambda,
		FunctionArn: b.cfg.TriggerFunctionArn,
		Arguments:   map[string]interface{}{"glue_job_name": b.glueJobName()},
		OutputParameters: []OutputParameter{
			{OutputName: "status", OutputType: "String"},
		},
	}
}

func (b *Builder) trainingStep(image, featureStoreURI string) Step {
	t := b.spec.Pipeline.Training
	return Step{
		Name:      StepTraining,
		Type:      StepTypeTraining,
		DependsOn: []string{StepFeatureEngineering},
		Arguments: map[string]interface{}{
			"AlgorithmSpecification": map[string]interface{}{
				"TrainingImage":     image,
				"TrainingInputMode": "File",
			},
			"OutputDataConfig": map[string]interface{}{
				"S3OutputPath": storage.URI(b.cfg.ArtifactsBucket, "models/"),
			},
			"StoppingCondition": map[string]interface{}{
				"MaxRuntimeInSeconds": int(t.MaxRuntime.Seconds()),
			},
			"ResourceConfig": map[string]interface{}{
				"VolumeSizeInGB": t.VolumeSizeGB,
				"InstanceCount":  t.InstanceCount,
				"InstanceType":   t.InstanceType,
			},
			"RoleArn": b.cfg.RoleArn,
			"InputDataConfig": []interface{}{
				map[string]interface{}{
					"ChannelName": "train",
					"ContentType": t.ContentType,
					"DataSource": map[string]interface{}{
						"S3DataSource": map[string]interface{}{
							"S3DataType":             "S3Prefix",
							"S3Uri":                  featureStoreURI + "/train/",
							"S3DataDistributionType": "FullyReplicated",
						},
					},
				},
			},
			"HyperParameters": b.xgb.ScriptModeHyperparameters(
				t.EntryPoint,
				storage.URI(b.cfg.ArtifactsBucket, t.SourceDir),
				b.cfg.Region,
				t.Hyperparameters,
			),
		},
	}
}

// evaluationOutput is the per-execution prefix the evaluation step writes to
func (b *Builder) evaluationOutput() map[string]interface{} {
	return join("/", storage.URI(b.cfg.ArtifactsBucket, "evaluation"), get("Execution.PipelineExecutionId"))
}

func (b *Builder) evaluationStep(image, featureStoreURI string) Step {
	e := b.spec.Pipeline.Evaluation
	return Step{
		Name:      StepEvaluation,
		Type:      StepTypeProcessing,
		DependsOn: []string{StepTraining},
		Arguments: map[string]interface{}{
			"ProcessingResources": map[string]interface{}{
				"ClusterConfig": map[string]interface{}{
					"InstanceType":   e.InstanceType,
					"InstanceCount":  e.InstanceCount,
					"VolumeSizeInGB": 30,
				},
			},
			"AppSpecification": map[string]interface{}{
				"ImageUri":            image,
				"ContainerEntrypoint": []interface{}{"python3", "/opt/ml/processing/input/code/evaluate.py"},
			},
			"RoleArn": b.cfg.RoleArn,
			"ProcessingInputs": []interface{}{
				processingInput("model", get("Steps."+StepTraining+".ModelArtifacts.S3ModelArtifacts"), "/opt/ml/processing/model"),
				processingInput("test", featureStoreURI+"/test/", "/opt/ml/processing/test"),
				processingInput("code", storage.URI(b.cfg.ArtifactsBucket, e.Code), "/opt/ml/processing/input/code"),
			},
			"ProcessingOutputConfig": map[string]interface{}{
				"Outputs": []interface{}{
					map[string]interface{}{
						"OutputName": "evaluation",
						"AppManaged": false,
						"S3Output": map[string]interface{}{
							"S3Uri":        b.evaluationOutput(),
							"LocalPath":    "/opt/ml/processing/evaluation",
							"S3UploadMode": "EndOfJob",
						},
					},
				},
			},
		},
		PropertyFiles: []PropertyFile{
			{PropertyFileName: EvaluationReportProperty, OutputName: "evaluation", FilePath: e.ReportPath},
		},
	}
}

func processingInput(name string, source interface{}, localPath string) map[string]interface{} {
	return map[string]interface{}{
		"InputName":  name,
		"AppManaged": false,
		"S3Input": map[string]interface{}{
			"S3Uri":                  source,
			"LocalPath":              localPath,
			"S3DataType":             "S3Prefix",
			"S3InputMode":            "File",
			"S3DataDistributionType": "FullyReplicated",
		},
	}
}

func (b *Builder) registrationStep(image string) Step {
	r := b.spec.Pipeline.Registration
	return Step{
		Name:      StepRegistration,
		Type:      StepTypeRegisterModel,
		DependsOn: []string{StepEvaluation},
		Arguments: map[string]interface{}{
			"ModelPackageGroupName": b.modelPackageGroup(),
			"ModelApprovalStatus":   string(models.ApprovalPending),
			"InferenceSpecification": map[string]interface{}{
				"Containers": []interface{}{
					map[string]interface{}{
						"Image":        image,
						"ModelDataUrl": get("Steps." + StepTraining + ".ModelArtifacts.S3ModelArtifacts"),
					},
				},
				"SupportedContentTypes":                   r.ContentTypes,
				"SupportedResponseMIMETypes":              r.ResponseTypes,
				"SupportedRealtimeInferenceInstanceTypes": r.InferenceInstances,
				"SupportedTransformInstanceTypes":         r.TransformInstances,
			},
			"ModelMetrics": map[string]interface{}{
				"ModelQuality": map[string]interface{}{
					"Statistics": map[string]interface{}{
						"ContentType": "application/json",
						"S3Uri":       join("/", b.evaluationOutput(), b.spec.Pipeline.Evaluation.ReportPath),
					},
				},
			},
		},
	}
}

// Upsert registers the definition with the pipeline service
func (b *Builder) Upsert(ctx context.Context, def *Definition) error {
	document, err := def.JSON()
	if err != nil {
		return models.DefinitionError("pipeline.upsert", err.Error())
	}
	arn, err := b.service.UpsertPipeline(ctx, def.Name, document, def.RoleArn)
	if err != nil {
		return fmt.Errorf("failed to upsert pipeline %s: %w", def.Name, err)
	}
	b.logger.Info("pipeline upserted", "pipeline", def.Name, "arn", arn, "steps", len(def.Steps))
	return nil
}

// Start begins one execution. Concurrent executions of the same pipeline
// are not deduplicated.
func (b *Builder) Start(ctx context.Context, pipelineName string) (string, error) {
	executionID, err := b.service.StartExecution(ctx, pipelineName)
	if err != nil {
		return "", fmt.Errorf("failed to start pipeline %s: %w", pipelineName, err)
	}
	b.logger.Info("pipeline execution started", "pipeline", pipelineName, "execution", executionID)

	if b.recorder != nil {
		exec := &models.PipelineExecution{
			ExecutionID:   executionID,
			PipelineName:  pipelineName,
			OverallStatus: models.ExecutionExecuting,
			StartedAt:     time.Now().UTC(),
		}
		if err := b.recorder.RecordExecution(ctx, exec); err != nil {
			b.logger.Warn("failed to record execution", "execution", executionID, "error", err)
		}
	}
	return executionID, nil
}

// Trainer builds, registers and starts the training pipeline in one call
type Trainer struct {
	builder         *Builder
	pipelineName    string
	featureStoreURI string
}

// NewTrainer creates a trainer for one named pipeline over a feature store
func NewTrainer(builder *Builder, pipelineName, featureStoreURI string) *Trainer {
	return &Trainer{builder: builder, pipelineName: pipelineName, featureStoreURI: featureStoreURI}
}

// Trigger upserts the current definition and starts an execution
func (t *Trainer) Trigger(ctx context.Context) (string, error) {
	def, err := t.builder.Build(t.pipelineName, t.featureStoreURI)
	if err != nil {
		return "", err
	}
	if err := t.builder.Upsert(ctx, def); err != nil {
		return "", err
	}
	return t.builder.Start(ctx, t.pipelineName)
}
