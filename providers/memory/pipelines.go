// Package memory provides in-process implementations of the managed
// services. Executions advance one step transition per observation, so a
// poller drives them to completion.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"sales-forecast/core/models"
	"sales-forecast/core/monitoring"
	"sales-forecast/core/pipeline"
	"sales-forecast/storage"

	"github.com/google/uuid"
)

const account = "000000000000"

type execution struct {
	arn      string
	id       string
	pipeline string
	def      *pipeline.Definition
	order    []string
	steps    map[string]*models.PipelineStep
	status   models.ExecutionStatus
	failure  string
	started  time.Time
}

// Pipelines implements the pipeline service and execution source
type Pipelines struct {
	region   string
	store    storage.ObjectStore
	registry *Registry

	mu          sync.Mutex
	definitions map[string]*pipeline.Definition
	executions  map[string]*execution
	failStep    string
}

// NewPipelines creates a pipeline service. Registration steps register a
// pending version in registry and write an evaluation report to store.
func NewPipelines(region string, store storage.ObjectStore, registry *Registry) *Pipelines {
	return &Pipelines{
		region:      region,
		store:       store,
		registry:    registry,
		definitions: make(map[string]*pipeline.Definition),
		executions:  make(map[string]*execution),
	}
}

// FailStep makes the named step fail in executions started afterwards
func (p *Pipelines) FailStep(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failStep = name
}

func (p *Pipelines) UpsertPipeline(_ context.Context, name, definition, roleArn string) (string, error) {
	const op = "memory.upsert_pipeline"
	if roleArn == "" {
		return "", models.InvalidArgument(op, "role arn is required")
	}
	def, err := pipeline.ParseDefinition(name, definition)
	if err != nil {
		return "", err
	}
	if err := def.Validate(); err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.definitions[name] = def
	return fmt.Sprintf("arn:aws:sagemaker:%s:%s:pipeline/%s", p.region, account, strings.ToLower(name)), nil
}

func (p *Pipelines) StartExecution(_ context.Context, name string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	def, ok := p.definitions[name]
	if !ok {
		return "", models.NotFound("memory.start_execution", "pipeline "+name)
	}
	order, err := def.TopologicalOrder()
	if err != nil {
		return "", err
	}

	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	e := &execution{
		arn:      fmt.Sprintf("arn:aws:sagemaker:%s:%s:pipeline/%s/execution/%s", p.region, account, strings.ToLower(name), id),
		id:       id,
		pipeline: name,
		def:      def,
		order:    order,
		steps:    make(map[string]*models.PipelineStep),
		status:   models.ExecutionExecuting,
		started:  time.Now().UTC(),
	}
	if p.failStep != "" {
		e.failure = p.failStep
	}
	p.executions[e.arn] = e
	return e.arn, nil
}

// ListSteps advances the execution by one transition and returns the
// steps that have started, in start order
func (p *Pipelines) ListSteps(ctx context.Context, executionID string) ([]models.PipelineStep, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.executions[executionID]
	if !ok {
		return nil, models.NotFound("memory.list_steps", "execution "+executionID)
	}
	p.advance(ctx, e)

	var steps []models.PipelineStep
	for _, name := range e.order {
		if step, ok := e.steps[name]; ok {
			steps = append(steps, *step)
		}
	}
	return steps, nil
}

func (p *Pipelines) DescribeExecution(_ context.Context, executionID string) (*monitoring.ExecutionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.executions[executionID]
	if !ok {
		return nil, models.NotFound("memory.describe_execution", "execution "+executionID)
	}
	desc := &monitoring.ExecutionDescription{
		PipelineName: e.pipeline,
		Status:       e.status,
		StartedAt:    e.started,
	}
	if e.status == models.ExecutionFailed {
		desc.FailureReason = fmt.Sprintf("Step %s failed", e.failure)
	}
	return desc, nil
}

// advance must be called with mu held
func (p *Pipelines) advance(ctx context.Context, e *execution) {
	if e.status.IsTerminal() {
		return
	}
	now := time.Now().UTC()

	for _, name := range e.order {
		step, started := e.steps[name]
		if !started {
			def, _ := e.def.Step(name)
			e.steps[name] = &models.PipelineStep{
				Name:      name,
				DependsOn: def.DependsOn,
				Status:    models.StepExecuting,
				StartTime: &now,
			}
			return
		}
		if step.Status.IsTerminal() {
			continue
		}

		end := now
		step.EndTime = &end
		if name == e.failure {
			step.Status = models.StepFailed
			step.FailureReason = "ClientError: injected failure"
			e.status = models.ExecutionFailed
			return
		}
		step.Status = models.StepSucceeded
		if def, ok := e.def.Step(name); ok && def.Type == pipeline.StepTypeRegisterModel {
			if err := p.register(ctx, e, def); err != nil {
				step.Status = models.StepFailed
				step.FailureReason = err.Error()
				e.failure = name
				e.status = models.ExecutionFailed
			}
		}
		return
	}
	e.status = models.ExecutionSucceeded
}

func (p *Pipelines) register(ctx context.Context, e *execution, step *pipeline.Step) error {
	group, _ := step.Arguments["ModelPackageGroupName"].(string)
	if group == "" {
		return fmt.Errorf("registration step %s has no model package group", step.Name)
	}

	var metricsURI string
	if expr, ok := pipeline.Lookup(step.Arguments, "ModelMetrics", "ModelQuality", "Statistics", "S3Uri"); ok {
		uri, err := pipeline.Resolve(expr, func(path string) (string, bool) {
			return e.id, path == "Execution.PipelineExecutionId"
		})
		if err != nil {
			return err
		}
		metricsURI = uri
		if err := p.writeReport(ctx, uri); err != nil {
			return err
		}
	}

	p.registry.Register(group, metricsURI)
	return nil
}

func (p *Pipelines) writeReport(ctx context.Context, uri string) error {
	if p.store == nil {
		return nil
	}
	bucket, key, err := storage.ParseURI(uri)
	if err != nil {
		return err
	}
	report := models.EvaluationReport{
		RegressionMetrics: models.RegressionMetrics{
			MSE:  models.MetricValue{Value: 1520.4},
			MAE:  models.MetricValue{Value: 28.7},
			R2:   models.MetricValue{Value: 0.91},
			MAPE: models.MetricValue{Value: 0.064},
		},
		FeatureImportance: map[string]float64{"lag_1": 0.42, "week_of_year": 0.21, "store": 0.12},
	}
	data, err := json.Marshal(report)
	if err != nil {
		return err
	}
	return p.store.Put(ctx, bucket, key, data, "application/json")
}
