package config

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Backend selects the implementation of the managed services
type Backend string

const (
	BackendAWS    Backend = "aws"
	BackendMemory Backend = "memory" // In-process sandbox, no cloud access
)

// Config holds the application configuration
type Config struct {
	// Database (empty keeps state in memory)
	DatabaseURL string

	// Server
	ServerPort string

	// AWS
	AWSRegion string
	Backend   Backend

	// Buckets
	RawBucket          string
	ProcessedBucket    string
	FeatureStoreBucket string
	ArtifactsBucket    string

	// Pipeline
	PipelineName         string
	PipelineSpecPath     string
	ModelPackageGroup    string
	RoleArn              string
	GlueJobName          string
	GlueTriggerLambdaArn string
	GlueJobArguments     map[string]string

	// Document analysis
	TextractFeatures   []string
	TextractSNSRoleArn string
	SNSTopicArn        string

	// Progress polling
	PollInterval      time.Duration
	PollMaxDuration   time.Duration
	PollMaxIterations int

	// Upload routing concurrency
	UploadWorkers int

	// How long finished jobs stay in the cost report
	CostRetention time.Duration

	LogLevel string
}

var defaults = map[string]interface{}{
	"DATABASE_URL":                 "",
	"SERVER_PORT":                  "8000",
	"AWS_REGION":                   "us-east-1",
	"BACKEND":                      string(BackendAWS),
	"S3_RAW_DATA_BUCKET":           "",
	"S3_PROCESSED_DATA_BUCKET":     "",
	"S3_FEATURE_STORE_DATA_BUCKET": "",
	"S3_ARTIFACTS_BUCKET":          "",
	"PIPELINE_NAME":                "Sale-Forecast-ML-Pipeline",
	"PIPELINE_SPEC":                "",
	"MODEL_PACKAGE_GROUP":          "SalesForecastGroup",
	"SM_ROLE_ARN":                  "",
	"GLUE_JOB_NAME":                "feature-engineering-job",
	"GLUE_TRIGGER_LAMBDA_ARN":      "",
	"GLUE_JOB_ARGUMENTS":           "",
	"TEXTRACT_FEATURES":            "",
	"TEXTRACT_SNS_ROLE_ARN":        "",
	"SNS_TOPIC_ARN":                "",
	"POLL_INTERVAL":                "5s",
	"POLL_MAX_DURATION":            "6h",
	"POLL_MAX_ITERATIONS":          5000,
	"UPLOAD_WORKERS":               4,
	"COST_RETENTION":               "24h",
	"LOG_LEVEL":                    "info",
}

// Load loads configuration from environment variables, optionally layered
// over a YAML file named by CONFIG_FILE. Environment wins over the file.
func Load() (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if file := v.GetString("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	args, err := jobArguments(v, "GLUE_JOB_ARGUMENTS")
	if err != nil {
		return nil, err
	}
	return &Config{
		DatabaseURL:          v.GetString("DATABASE_URL"),
		ServerPort:           v.GetString("SERVER_PORT"),
		AWSRegion:            v.GetString("AWS_REGION"),
		Backend:              Backend(strings.ToLower(v.GetString("BACKEND"))),
		RawBucket:            v.GetString("S3_RAW_DATA_BUCKET"),
		ProcessedBucket:      v.GetString("S3_PROCESSED_DATA_BUCKET"),
		FeatureStoreBucket:   v.GetString("S3_FEATURE_STORE_DATA_BUCKET"),
		ArtifactsBucket:      v.GetString("S3_ARTIFACTS_BUCKET"),
		PipelineName:         v.GetString("PIPELINE_NAME"),
		PipelineSpecPath:     v.GetString("PIPELINE_SPEC"),
		ModelPackageGroup:    v.GetString("MODEL_PACKAGE_GROUP"),
		RoleArn:              v.GetString("SM_ROLE_ARN"),
		GlueJobName:          v.GetString("GLUE_JOB_NAME"),
		GlueTriggerLambdaArn: v.GetString("GLUE_TRIGGER_LAMBDA_ARN"),
		GlueJobArguments:     args,
		TextractFeatures:     splitList(v.GetString("TEXTRACT_FEATURES")),
		TextractSNSRoleArn:   v.GetString("TEXTRACT_SNS_ROLE_ARN"),
		SNSTopicArn:          v.GetString("SNS_TOPIC_ARN"),
		PollInterval:         v.GetDuration("POLL_INTERVAL"),
		PollMaxDuration:      v.GetDuration("POLL_MAX_DURATION"),
		PollMaxIterations:    v.GetInt("POLL_MAX_ITERATIONS"),
		UploadWorkers:        v.GetInt("UPLOAD_WORKERS"),
		CostRetention:        v.GetDuration("COST_RETENTION"),
		LogLevel:             v.GetString("LOG_LEVEL"),
	}, nil
}

// jobArguments reads a JSON object from the environment or a mapping from
// the config file
func jobArguments(v *viper.Viper, key string) (map[string]string, error) {
	if raw := strings.TrimSpace(v.GetString(key)); raw != "" {
		var args map[string]string
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return nil, fmt.Errorf("%s must be a JSON object of strings: %w", key, err)
		}
		return args, nil
	}
	if args := v.GetStringMapString(key); len(args) > 0 {
		return args, nil
	}
	return nil, nil
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Validate checks the values every backend needs. Pipeline-specific values
// are checked when the pipeline definition is built.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendAWS, BackendMemory:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}

	missing := []string{}
	for name, value := range map[string]string{
		"S3_RAW_DATA_BUCKET":           c.RawBucket,
		"S3_PROCESSED_DATA_BUCKET":     c.ProcessedBucket,
		"S3_FEATURE_STORE_DATA_BUCKET": c.FeatureStoreBucket,
		"S3_ARTIFACTS_BUCKET":          c.ArtifactsBucket,
	} {
		if value == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive, got %s", c.PollInterval)
	}
	if c.UploadWorkers < 1 {
		c.UploadWorkers = 1
	}
	return nil
}

// BucketFor maps a bucket type name used by the API to a bucket
func (c *Config) BucketFor(bucketType string) (string, bool) {
	switch strings.ToLower(bucketType) {
	case "raw":
		return c.RawBucket, c.RawBucket != ""
	case "processed":
		return c.ProcessedBucket, c.ProcessedBucket != ""
	case "feature-store":
		return c.FeatureStoreBucket, c.FeatureStoreBucket != ""
	case "artifacts":
		return c.ArtifactsBucket, c.ArtifactsBucket != ""
	}
	return "", false
}

// FeatureStoreURI returns the feature store root consumed by training
func (c *Config) FeatureStoreURI() string {
	return "s3://" + c.FeatureStoreBucket
}
