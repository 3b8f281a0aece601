package spec

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed default_pipeline.yaml
var defaultPipelineYAML []byte

// PipelineSpec represents the YAML pipeline specification
type PipelineSpec struct {
	Pipeline PipelineSection `yaml:"pipeline"`
}

// PipelineSection holds the tuning of every pipeline step
type PipelineSection struct {
	ModelPackageGroup  string                 `yaml:"model_package_group"`
	FeatureEngineering FeatureEngineeringSpec `yaml:"feature_engineering"`
	Training           TrainingSpec           `yaml:"training"`
	Evaluation         EvaluationSpec         `yaml:"evaluation"`
	Registration       RegistrationSpec       `yaml:"registration"`
	Inference          InferenceSpec          `yaml:"inference"`
}

// FeatureEngineeringSpec configures the ETL step
type FeatureEngineeringSpec struct {
	GlueJobName string `yaml:"glue_job_name"`
}

// TrainingSpec configures the training step
type TrainingSpec struct {
	Framework        string            `yaml:"framework"`
	FrameworkVersion string            `yaml:"framework_version"`
	EntryPoint       string            `yaml:"entry_point"`
	SourceDir        string            `yaml:"source_dir"` // Key in the artifacts bucket
	InstanceType     string            `yaml:"instance_type"`
	InstanceCount    int               `yaml:"instance_count"`
	VolumeSizeGB     int               `yaml:"volume_size_gb"`
	MaxRuntime       time.Duration     `yaml:"max_runtime"`
	ContentType      string            `yaml:"content_type"`
	Hyperparameters  map[string]string `yaml:"hyperparameters"`
}

// EvaluationSpec configures the evaluation step
type EvaluationSpec struct {
	InstanceType  string `yaml:"instance_type"`
	InstanceCount int    `yaml:"instance_count"`
	Code          string `yaml:"code"`        // Key in the artifacts bucket
	ReportPath    string `yaml:"report_path"` // Relative to the evaluation output
}

// RegistrationSpec configures the model package registered by the pipeline
type RegistrationSpec struct {
	ContentTypes       []string `yaml:"content_types"`
	ResponseTypes      []string `yaml:"response_types"`
	InferenceInstances []string `yaml:"inference_instances"`
	TransformInstances []string `yaml:"transform_instances"`
}

// InferenceSpec configures batch transform jobs
type InferenceSpec struct {
	InstanceType            string        `yaml:"instance_type"`
	InstanceCount           int           `yaml:"instance_count"`
	MaxConcurrentTransforms int           `yaml:"max_concurrent_transforms"`
	InvocationTimeout       time.Duration `yaml:"invocation_timeout"`
	MaxRetries              int           `yaml:"max_retries"`
	ContentType             string        `yaml:"content_type"`
	Accept                  string        `yaml:"accept"`
}

// Default returns the built-in pipeline specification
func Default() *PipelineSpec {
	spec, err := parse(defaultPipelineYAML, &PipelineSpec{})
	if err != nil {
		panic(fmt.Sprintf("invalid embedded pipeline spec: %v", err))
	}
	return spec
}

// ParsePipelineSpec parses a YAML pipeline specification. Values missing
// from the document keep their defaults.
func ParsePipelineSpec(specYAML string) (*PipelineSpec, error) {
	return parse([]byte(specYAML), Default())
}

// LoadPipelineSpec reads a pipeline specification from path, or returns the
// defaults when path is empty
func LoadPipelineSpec(path string) (*PipelineSpec, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline spec: %w", err)
	}
	return ParsePipelineSpec(string(data))
}

func parse(data []byte, base *PipelineSpec) (*PipelineSpec, error) {
	if err := yaml.Unmarshal(data, base); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := base.Validate(); err != nil {
		return nil, err
	}
	return base, nil
}

// Validate checks that every step can be provisioned
func (s *PipelineSpec) Validate() error {
	p := s.Pipeline
	var problems []string

	if p.Training.InstanceType == "" || p.Training.InstanceCount < 1 {
		problems = append(problems, "training needs an instance type and count")
	}
	if p.Training.FrameworkVersion == "" {
		problems = append(problems, "training framework version is required")
	}
	if p.Evaluation.InstanceType == "" || p.Evaluation.InstanceCount < 1 {
		problems = append(problems, "evaluation needs an instance type and count")
	}
	if p.Evaluation.ReportPath == "" {
		problems = append(problems, "evaluation report path is required")
	}
	if p.Inference.InstanceType == "" || p.Inference.InstanceCount < 1 {
		problems = append(problems, "inference needs an instance type and count")
	}
	if p.Inference.MaxRetries < 0 {
		problems = append(problems, "inference max retries cannot be negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid pipeline spec: %s", strings.Join(problems, "; "))
	}
	return nil
}
