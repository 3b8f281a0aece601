package app

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"sales-forecast/api/rest/handlers"
	"sales-forecast/api/rest/routes"
	"sales-forecast/config"
	"sales-forecast/core/featureeng"
	"sales-forecast/core/inference"
	"sales-forecast/core/ingestion"
	"sales-forecast/core/models"
	"sales-forecast/core/monitoring"
	"sales-forecast/core/optimizer"
	"sales-forecast/core/pipeline"
	"sales-forecast/core/registry"
	"sales-forecast/core/repository"
	"sales-forecast/core/spec"
	"sales-forecast/providers/memory"
	"sales-forecast/storage"

	"github.com/gorilla/mux"
)

// App holds every component of the service, wired for one backend
type App struct {
	Config   *config.Config
	Spec     *spec.PipelineSpec
	Services *Services
	Store    repository.Store

	Columnar  *storage.ColumnarStore
	Router    *ingestion.Router
	Collector *ingestion.Collector
	Builder   *pipeline.Builder
	Trainer   *pipeline.Trainer
	Monitor   *monitoring.ExecutionMonitor
	Tracker   *monitoring.ExecutionTracker
	Spend     *monitoring.CostTracker
	Metrics   *monitoring.MetricsExporter
	Driver    *inference.Driver
	Gate      *registry.Gate
	Trigger   *featureeng.Trigger
	Pricing   *optimizer.PricingFetcher
	Costs     *optimizer.CostCalculator

	// HTTPClient confirms SNS subscriptions and downloads their signing
	// certificates; nil means http.DefaultClient
	HTTPClient *http.Client
	// SNS authenticates SNS deliveries; nil means a verifier pinned to
	// Config.SNSTopicArn
	SNS        *ingestion.SNSVerifier
}

// New wires the core components over svc and store
func New(cfg *config.Config, svc *Services, store repository.Store) (*App, error) {
	ps, err := spec.LoadPipelineSpec(cfg.PipelineSpecPath)
	if err != nil {
		return nil, err
	}

	poll := monitoring.PollConfig{
		Interval:      cfg.PollInterval,
		MaxDuration:   cfg.PollMaxDuration,
		MaxIterations: cfg.PollMaxIterations,
	}

	a := &App{Config: cfg, Spec: ps, Services: svc, Store: store}

	a.Columnar = storage.NewColumnarStore(svc.Objects, cfg.ProcessedBucket)
	a.Router = ingestion.NewRouter(svc.Objects, a.Columnar, svc.Analyzer,
		ingestion.WithJobStore(store),
		ingestion.WithFeatures(cfg.TextractFeatures...),
	)
	a.Collector = ingestion.NewCollector(svc.Analyzer, a.Columnar, ingestion.WithJobStore(store))

	a.Builder = pipeline.NewBuilder(pipeline.Config{
		Region:             cfg.AWSRegion,
		RoleArn:            cfg.RoleArn,
		ArtifactsBucket:    cfg.ArtifactsBucket,
		TriggerFunctionArn: cfg.GlueTriggerLambdaArn,
		GlueJobName:        cfg.GlueJobName,
		ModelPackageGroup:  cfg.ModelPackageGroup,
	}, svc.Pipelines, pipeline.WithSpec(ps), pipeline.WithRecorder(store))
	a.Trainer = pipeline.NewTrainer(a.Builder, cfg.PipelineName, cfg.FeatureStoreURI())

	a.Monitor = monitoring.NewExecutionMonitor(svc.Executions,
		monitoring.WithPollConfig(poll), monitoring.WithRecorder(store))
	a.Tracker = monitoring.NewExecutionTracker(a.Monitor, store, 0)

	a.Pricing = optimizer.NewPricingFetcher(svc.Prices, cfg.AWSRegion, optimizer.WithPriceStore(store))
	a.Costs = optimizer.NewCostCalculator(a.Pricing)

	a.Driver = inference.NewDriver(inference.Config{
		RoleArn:         cfg.RoleArn,
		ArtifactsBucket: cfg.ArtifactsBucket,
		Inference:       ps.Pipeline.Inference,
		Poll:            poll,
	}, svc.Transforms, svc.Registry, svc.Objects,
		inference.WithJobStore(store), inference.WithCostEstimator(a.Costs))

	a.Spend = monitoring.NewCostTracker(a.jobFinished, 0, cfg.CostRetention)
	a.Metrics = monitoring.NewMetricsExporter(store, a.Spend)

	group := cfg.ModelPackageGroup
	if group == "" {
		group = ps.Pipeline.ModelPackageGroup
	}
	a.Gate = registry.NewGate(svc.Registry, svc.Objects, group)

	glueJob := cfg.GlueJobName
	if glueJob == "" {
		glueJob = ps.Pipeline.FeatureEngineering.GlueJobName
	}
	a.Trigger = featureeng.NewTrigger(svc.ETL, glueJob, featureeng.WithArguments(cfg.GlueJobArguments))

	return a, nil
}

// NewSandbox wires the service over a fresh in-process sandbox. Document
// analysis completions are delivered straight to the collector.
func NewSandbox(cfg *config.Config, store repository.Store) (*App, *memory.Sandbox, error) {
	ApplySandboxDefaults(cfg)
	sb := memory.NewSandbox(cfg.AWSRegion)
	a, err := New(cfg, SandboxServices(sb), store)
	if err != nil {
		return nil, nil, err
	}
	sb.Documents.SetNotifier(func(ctx context.Context, n models.Notification) {
		if _, err := a.Collector.OnNotification(ctx, n); err != nil {
			log.Printf("Sandbox notification for %s failed: %v", n.JobID, err)
		}
	})
	return a, sb, nil
}

// OpenStore connects to Postgres when a database URL is configured and
// falls back to the in-memory store otherwise. The returned func releases
// the connection pool.
func OpenStore(ctx context.Context, cfg *config.Config) (repository.Store, func() error, error) {
	if cfg.DatabaseURL == "" {
		return repository.NewMemoryStore(), func() error { return nil }, nil
	}
	db, err := repository.NewDB(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	return repository.NewPostgres(db), db.Close, nil
}

// Handler returns the HTTP API
func (a *App) Handler() http.Handler {
	r := mux.NewRouter()
	routes.SetupRoutes(r, routes.Deps{
		Forecast: handlers.ForecastDeps{
			Config:  a.Config,
			Store:   a.Services.Objects,
			Router:  a.Router,
			Trainer: a.Trainer,
			Monitor: a.Monitor,
			Driver:  a.Driver,
			History: a.Store,
			Costs:   a.Costs,
			Spend:   a.Spend,
			Trigger: a.Trigger,
			Spec:    a.Spec,
		},
		Gate:       a.Gate,
		Collector:  a.Collector,
		SNS:        a.snsVerifier(),
		HTTPClient: a.HTTPClient,
		Metrics:    a.Metrics,
	})
	return r
}

func (a *App) snsVerifier() *ingestion.SNSVerifier {
	if a.SNS != nil {
		return a.SNS
	}
	return ingestion.NewSNSVerifier(a.Config.SNSTopicArn, a.HTTPClient)
}

// jobFinished reports whether a cost-tracked job has reached a terminal state
func (a *App) jobFinished(ctx context.Context, kind monitoring.JobKind, id string) (bool, error) {
	if kind == monitoring.JobKindTraining {
		snapshot, err := a.Monitor.Poll(ctx, id)
		if err != nil {
			return false, err
		}
		return snapshot.OverallStatus.IsTerminal(), nil
	}
	status, err := a.Driver.CheckStatus(ctx, id)
	if err != nil {
		return false, err
	}
	return status.Status.IsTerminal(), nil
}

// StartWorkers runs the background workers until ctx is cancelled
func (a *App) StartWorkers(ctx context.Context) {
	go a.Tracker.Start(ctx)
	go a.Spend.Start(ctx)
	go a.Pricing.StartRefreshWorker(ctx,
		a.Spec.Pipeline.Training.InstanceType,
		a.Spec.Pipeline.Evaluation.InstanceType,
		a.Spec.Pipeline.Inference.InstanceType,
	)
}

// SetupLogging installs the default structured logger at the configured level
func SetupLogging(level string) {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn", "warning":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
}

// FromConfig opens the store and wires the configured backend. The
// returned func releases the store.
func FromConfig(ctx context.Context, cfg *config.Config) (*App, func() error, error) {
	if cfg.Backend == config.BackendMemory {
		ApplySandboxDefaults(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	store, closeStore, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	var a *App
	if cfg.Backend == config.BackendMemory {
		a, _, err = NewSandbox(cfg, store)
	} else {
		var svc *Services
		if svc, err = AWSServices(ctx, cfg); err == nil {
			a, err = New(cfg, svc, store)
		}
	}
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	return a, closeStore, nil
}
