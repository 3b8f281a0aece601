package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"sales-forecast/core/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		Region:             "us-east-1",
		RoleArn:            "arn:aws:iam::123456789012:role/sagemaker",
		ArtifactsBucket:    "artifacts",
		TriggerFunctionArn: "arn:aws:lambda:us-east-1:123456789012:function:glue-trigger",
	}
}

type fakeService struct {
	calls      []string
	definition string
	upsertErr  error
}

func (f *fakeService) UpsertPipeline(_ context.Context, name, definition, roleArn string) (string, error) {
	f.calls = append(f.calls, "upsert:"+name)
	f.definition = definition
	return "arn:pipeline/" + name, f.upsertErr
}

func (f *fakeService) StartExecution(_ context.Context, name string) (string, error) {
	f.calls = append(f.calls, "start:"+name)
	return "arn:pipeline/" + name + "/execution/1", nil
}

type fakeRecorder struct {
	executions []*models.PipelineExecution
}

func (f *fakeRecorder) RecordExecution(_ context.Context, e *models.PipelineExecution) error {
	f.executions = append(f.executions, e)
	return nil
}

func TestBuild_FourStepsInDependencyOrder(t *testing.T) {
	def, err := NewBuilder(testConfig(), &fakeService{}).Build("Sale-Forecast-ML-Pipeline", "s3://features/")
	require.NoError(t, err)

	order, err := def.TopologicalOrder()
	require.NoError(t, err)
	assert.Equal(t, []string{StepFeatureEngineering, StepTraining, StepEvaluation, StepRegistration}, order)

	deps := map[string][]string{}
	for _, step := range def.Steps {
		deps[step.Name] = step.DependsOn
	}
	assert.Empty(t, deps[StepFeatureEngineering])
	assert.Equal(t, []string{StepFeatureEngineering}, deps[StepTraining])
	assert.Equal(t, []string{StepTraining}, deps[StepEvaluation])
	assert.Equal(t, []string{StepEvaluation}, deps[StepRegistration])

	ancestors := def.Ancestors(StepRegistration)
	assert.True(t, ancestors[StepTraining])
	assert.True(t, ancestors[StepEvaluation])
}

func TestBuild_StepInputs(t *testing.T) {
	def, err := NewBuilder(testConfig(), &fakeService{}).Build("p", "s3://features")
	require.NoError(t, err)

	doc, err := def.JSON()
	require.NoError(t, err)

	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(doc), &parsed))
	assert.Equal(t, DefinitionVersion, parsed["Version"])

	assert.Contains(t, doc, `"S3Uri":"s3://features/train/"`)
	assert.Contains(t, doc, `"s3://features/test/"`)
	assert.Contains(t, doc, `"glue_job_name":"feature-engineering-job"`)
	assert.Contains(t, doc, `"ModelApprovalStatus":"PendingManualApproval"`)
	assert.Contains(t, doc, `"ModelPackageGroupName":"SalesForecastGroup"`)
	assert.Contains(t, doc, `"Get":"Steps.Training.ModelArtifacts.S3ModelArtifacts"`)

	eval, ok := def.Step(StepEvaluation)
	require.True(t, ok)
	require.Len(t, eval.PropertyFiles, 1)
	assert.Equal(t, EvaluationReportProperty, eval.PropertyFiles[0].PropertyFileName)
	assert.Equal(t, "evaluation.json", eval.PropertyFiles[0].FilePath)
}

func TestParseDefinition_RoundTripValidates(t *testing.T) {
	def, err := NewBuilder(testConfig(), &fakeService{}).Build("p", "s3://features")
	require.NoError(t, err)
	doc, err := def.JSON()
	require.NoError(t, err)

	parsed, err := ParseDefinition("p", doc)
	require.NoError(t, err)
	require.NoError(t, parsed.Validate())
	assert.Len(t, parsed.Steps, 4)

	_, err = ParseDefinition("p", "{")
	assert.True(t, errors.Is(err, models.ErrDefinition))
}

func TestBuild_MissingConfigIsDefinitionError(t *testing.T) {
	cases := map[string]func(*Config){
		"execution role":   func(c *Config) { c.RoleArn = "" },
		"artifacts bucket": func(c *Config) { c.ArtifactsBucket = "" },
		"trigger function": func(c *Config) { c.TriggerFunctionArn = "" },
	}
	for want, mutate := range cases {
		t.Run(want, func(t *testing.T) {
			cfg := testConfig()
			mutate(&cfg)

			_, err := NewBuilder(cfg, &fakeService{}).Build("p", "s3://features")
			require.Error(t, err)
			assert.True(t, errors.Is(err, models.ErrDefinition))
			assert.False(t, models.Retryable(err))
			assert.Contains(t, err.Error(), want)
		})
	}

	_, err := NewBuilder(testConfig(), &fakeService{}).Build("p", "")
	assert.True(t, errors.Is(err, models.ErrDefinition))

	cfg := testConfig()
	cfg.Region = "nowhere-1"
	_, err = NewBuilder(cfg, &fakeService{}).Build("p", "s3://features")
	assert.True(t, errors.Is(err, models.ErrDefinition))
}

func TestValidate_RejectsMalformedGraphs(t *testing.T) {
	step := func(name string, typ StepType, deps ...string) Step {
		return Step{Name: name, Type: typ, DependsOn: deps, Arguments: map[string]interface{}{}}
	}

	cases := map[string][]Step{
		"duplicate": {step("a", StepTypeLambda), step("a", StepTypeTraining)},
		"unknown":   {step("a", StepTypeLambda, "ghost")},
		"cycle":     {step("a", StepTypeTraining, "b"), step("b", StepTypeProcessing, "a")},
		"ungated": {
			step("train", StepTypeTraining),
			step("eval", StepTypeProcessing),
			step("register", StepTypeRegisterModel, "eval"),
		},
		"dangling reference": {
			step("train", StepTypeTraining),
			{Name: "eval", Type: StepTypeProcessing, Arguments: map[string]interface{}{
				"Input": get("Steps.train.ModelArtifacts.S3ModelArtifacts"),
			}},
		},
		"empty": {},
	}
	for name, steps := range cases {
		t.Run(name, func(t *testing.T) {
			def := &Definition{Version: DefinitionVersion, Steps: steps}
			err := def.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, models.ErrDefinition))
		})
	}
}

func TestTrainer_TriggerUpsertsThenStarts(t *testing.T) {
	service := &fakeService{}
	recorder := &fakeRecorder{}
	builder := NewBuilder(testConfig(), service, WithRecorder(recorder))

	executionID, err := NewTrainer(builder, "Sale-Forecast-ML-Pipeline", "s3://features").Trigger(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "arn:pipeline/Sale-Forecast-ML-Pipeline/execution/1", executionID)
	assert.Equal(t, []string{"upsert:Sale-Forecast-ML-Pipeline", "start:Sale-Forecast-ML-Pipeline"}, service.calls)
	assert.NotEmpty(t, service.definition)
	require.Len(t, recorder.executions, 1)
	assert.Equal(t, models.ExecutionExecuting, recorder.executions[0].OverallStatus)
}

func TestTrainer_UpsertFailureStopsBeforeStart(t *testing.T) {
	service := &fakeService{upsertErr: models.ExternalServiceError("sagemaker.upsert", errors.New("access denied"))}

	_, err := NewTrainer(NewBuilder(testConfig(), service), "p", "s3://features").Trigger(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrExternalService))
	assert.Equal(t, []string{"upsert:p"}, service.calls)
}
