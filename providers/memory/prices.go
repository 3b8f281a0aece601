package memory

import (
	"context"

	"sales-forecast/core/models"
)

// StaticPrices is a fixed on-demand price list
type StaticPrices map[string]float64

// DefaultPrices lists us-east-1 SageMaker on-demand prices
func DefaultPrices() StaticPrices {
	return StaticPrices{
		"ml.m5.large":   0.115,
		"ml.m5.xlarge":  0.23,
		"ml.m5.2xlarge": 0.461,
		"ml.c5.xlarge":  0.204,
		"ml.c5.2xlarge": 0.408,
	}
}

func (p StaticPrices) HourlyPrice(_ context.Context, instanceType string) (float64, error) {
	price, ok := p[instanceType]
	if !ok {
		return 0, models.NotFound("memory.price", "price of "+instanceType)
	}
	return price, nil
}
