package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"sales-forecast/core/models"
)

// Registry implements the model registry
type Registry struct {
	region string

	mu       sync.Mutex
	versions map[string]*models.ModelVersion
	counts   map[string]int
}

// NewRegistry creates an empty registry
func NewRegistry(region string) *Registry {
	return &Registry{
		region:   region,
		versions: make(map[string]*models.ModelVersion),
		counts:   make(map[string]int),
	}
}

// Register adds a pending version to group and returns it
func (r *Registry) Register(group, metricsURI string) *models.ModelVersion {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.counts[group]++
	n := r.counts[group]
	v := &models.ModelVersion{
		Arn:            fmt.Sprintf("arn:aws:sagemaker:%s:%s:model-package/%s/%d", r.region, account, strings.ToLower(group), n),
		Name:           group,
		GroupName:      group,
		Version:        n,
		ApprovalStatus: models.ApprovalPending,
		CreationTime:   time.Now().UTC(),
		MetricsURI:     metricsURI,
	}
	r.versions[v.Arn] = v
	copied := *v
	return &copied
}

func (r *Registry) ListModelVersions(_ context.Context, group string, status models.ApprovalStatus) ([]*models.ModelVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*models.ModelVersion
	for _, v := range r.versions {
		if v.GroupName == group && v.ApprovalStatus == status {
			copied := *v
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *Registry) DescribeModelVersion(_ context.Context, arn string) (*models.ModelVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.versions[arn]
	if !ok {
		return nil, models.NotFound("memory.describe_model", "model package "+arn)
	}
	copied := *v
	return &copied, nil
}

func (r *Registry) UpdateModelApproval(_ context.Context, arn string, status models.ApprovalStatus, comment string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.versions[arn]
	if !ok {
		return models.NotFound("memory.update_approval", "model package "+arn)
	}
	v.ApprovalStatus = status
	v.ApprovalDescription = comment
	return nil
}
