package optimizer

import (
	"context"
	"time"

	"sales-forecast/core/spec"
)

// CostCalculator turns instance prices into job cost estimates
type CostCalculator struct {
	pricingFetcher *PricingFetcher
}

// NewCostCalculator creates a new cost calculator
func NewCostCalculator(pf *PricingFetcher) *CostCalculator {
	return &CostCalculator{
		pricingFetcher: pf,
	}
}

// HourlyCost is the hourly price of count instances of instanceType
func (cc *CostCalculator) HourlyCost(ctx context.Context, instanceType string, count int) (float64, error) {
	price, err := cc.pricingFetcher.GetPrice(ctx, instanceType)
	if err != nil {
		return 0, err
	}
	return price * float64(count), nil
}

// EstimateCost is the cost of running count instances for duration
func (cc *CostCalculator) EstimateCost(ctx context.Context, instanceType string, count int, duration time.Duration) (float64, error) {
	hourly, err := cc.HourlyCost(ctx, instanceType, count)
	if err != nil {
		return 0, err
	}
	return hourly * duration.Hours(), nil
}

// StepEstimate is the worst-case cost of one pipeline step
type StepEstimate struct {
	Step         string  `json:"step"`
	InstanceType string  `json:"instance_type"`
	Count        int     `json:"instance_count"`
	MaxHours     float64 `json:"max_hours"`
	MaxCost      float64 `json:"max_cost_usd"`
}

// EstimatePipeline bounds the compute cost of one training run. Training
// is bounded by its max runtime; evaluation is assumed to take at most an
// hour.
func (cc *CostCalculator) EstimatePipeline(ctx context.Context, ps *spec.PipelineSpec) ([]StepEstimate, float64, error) {
	steps := []StepEstimate{
		{
			Step:         "Training",
			InstanceType: ps.Pipeline.Training.InstanceType,
			Count:        ps.Pipeline.Training.InstanceCount,
			MaxHours:     ps.Pipeline.Training.MaxRuntime.Hours(),
		},
		{
			Step:         "Evaluation",
			InstanceType: ps.Pipeline.Evaluation.InstanceType,
			Count:        ps.Pipeline.Evaluation.InstanceCount,
			MaxHours:     1,
		},
	}

	total := 0.0
	for i := range steps {
		hourly, err := cc.HourlyCost(ctx, steps[i].InstanceType, steps[i].Count)
		if err != nil {
			return nil, 0, err
		}
		steps[i].MaxCost = hourly * steps[i].MaxHours
		total += steps[i].MaxCost
	}
	return steps, total, nil
}
