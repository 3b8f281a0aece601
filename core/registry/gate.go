package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"sales-forecast/core/models"
	"sales-forecast/storage"
)

// ModelRegistry is the managed model package registry
type ModelRegistry interface {
	ListModelVersions(ctx context.Context, group string, status models.ApprovalStatus) ([]*models.ModelVersion, error)
	DescribeModelVersion(ctx context.Context, arn string) (*models.ModelVersion, error)
	UpdateModelApproval(ctx context.Context, arn string, status models.ApprovalStatus, comment string) error
}

// Gate lists registered model versions and moves them through approval
type Gate struct {
	registry ModelRegistry
	store    storage.ObjectStore
	group    string
	logger   *slog.Logger
}

// Option configures a Gate.
type Option func(*Gate)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewGate creates an approval gate over one model package group. The store
// is used to read evaluation reports and may be nil.
func NewGate(registry ModelRegistry, store storage.ObjectStore, group string, opts ...Option) *Gate {
	g := &Gate{
		registry: registry,
		store:    store,
		group:    group,
		logger:   slog.Default().With("component", "model-registry"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Group returns the model package group the gate manages
func (g *Gate) Group() string {
	return g.group
}

// ListByStatus returns the versions with the given approval status, newest first
func (g *Gate) ListByStatus(ctx context.Context, status models.ApprovalStatus) ([]*models.ModelVersion, error) {
	if !status.Valid() {
		return nil, models.InvalidArgument("registry.list", fmt.Sprintf("unknown approval status %q", status))
	}
	versions, err := g.registry.ListModelVersions(ctx, g.group, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s models in %s: %w", status, g.group, err)
	}
	sort.SliceStable(versions, func(i, j int) bool {
		return versions[i].CreationTime.After(versions[j].CreationTime)
	})
	return versions, nil
}

// defaultComments are recorded when a status change carries no comment
var defaultComments = map[models.ApprovalStatus]string{
	models.ApprovalApproved: "Model manually approved.",
	models.ApprovalRejected: "Model manually rejected.",
}

// SetStatus changes the approval status of a version and returns the
// version as the registry now reports it. An empty comment on approval or
// rejection is replaced with a default one.
func (g *Gate) SetStatus(ctx context.Context, arn string, status models.ApprovalStatus, comment string) (*models.ModelVersion, error) {
	const op = "registry.set_status"

	if arn == "" {
		return nil, models.InvalidArgument(op, "model arn is required")
	}
	if !status.Valid() {
		return nil, models.InvalidArgument(op, fmt.Sprintf("unknown approval status %q", status))
	}

	if comment == "" {
		comment = defaultComments[status]
	}
	if err := g.registry.UpdateModelApproval(ctx, arn, status, comment); err != nil {
		return nil, fmt.Errorf("failed to set %s to %s: %w", arn, status, err)
	}
	g.logger.Info("model approval updated", "model", arn, "status", status)

	return g.Describe(ctx, arn)
}

// Describe returns one version
func (g *Gate) Describe(ctx context.Context, arn string) (*models.ModelVersion, error) {
	if arn == "" {
		return nil, models.InvalidArgument("registry.describe", "model arn is required")
	}
	version, err := g.registry.DescribeModelVersion(ctx, arn)
	if err != nil {
		return nil, fmt.Errorf("failed to describe %s: %w", arn, err)
	}
	return version, nil
}

// Metrics reads the evaluation report attached to a version
func (g *Gate) Metrics(ctx context.Context, arn string) (*models.EvaluationReport, error) {
	const op = "registry.metrics"

	version, err := g.Describe(ctx, arn)
	if err != nil {
		return nil, err
	}
	if version.MetricsURI == "" || g.store == nil {
		return nil, models.NotFound(op, "evaluation report for "+arn)
	}

	bucket, key, err := storage.ParseURI(version.MetricsURI)
	if err != nil {
		return nil, models.ExternalServiceError(op, err)
	}
	data, err := g.store.Get(ctx, bucket, key)
	if err != nil {
		return nil, models.ExternalServiceError(op, fmt.Errorf("failed to read %s: %w", version.MetricsURI, err))
	}

	var report models.EvaluationReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, models.ExternalServiceError(op, fmt.Errorf("malformed evaluation report %s: %w", version.MetricsURI, err))
	}
	return &report, nil
}
