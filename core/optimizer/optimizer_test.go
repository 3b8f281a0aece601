package optimizer

import (
	"context"
	"errors"
	"testing"
	"time"

	"sales-forecast/core/spec"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSource struct {
	prices map[string]float64
	calls  int
}

func (s *countingSource) HourlyPrice(_ context.Context, instanceType string) (float64, error) {
	s.calls++
	price, ok := s.prices[instanceType]
	if !ok {
		return 0, errors.New("no price for " + instanceType)
	}
	return price, nil
}

type mapStore struct {
	prices  map[string]float64
	updated time.Time
	saves   int
}

func (m *mapStore) SavePrice(_ context.Context, region, instanceType string, price float64) error {
	m.saves++
	m.prices[region+"/"+instanceType] = price
	return nil
}

func (m *mapStore) GetPrice(_ context.Context, region, instanceType string) (float64, time.Time, error) {
	price, ok := m.prices[region+"/"+instanceType]
	if !ok {
		return 0, time.Time{}, errors.New("not found")
	}
	return price, m.updated, nil
}

func TestPricingFetcher_CachesWithinTTL(t *testing.T) {
	source := &countingSource{prices: map[string]float64{"ml.m5.xlarge": 0.23}}
	pf := NewPricingFetcher(source, "us-east-1", WithCacheTTL(time.Minute))
	clock := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	pf.now = func() time.Time { return clock }

	for i := 0; i < 3; i++ {
		price, err := pf.GetPrice(context.Background(), "ml.m5.xlarge")
		require.NoError(t, err)
		assert.InDelta(t, 0.23, price, 1e-9)
	}
	assert.Equal(t, 1, source.calls)

	clock = clock.Add(2 * time.Minute)
	_, err := pf.GetPrice(context.Background(), "ml.m5.xlarge")
	require.NoError(t, err)
	assert.Equal(t, 2, source.calls)

	_, err = pf.GetPrice(context.Background(), "ml.unknown")
	assert.Error(t, err)
}

func TestPricingFetcher_UsesFreshStoredPrice(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	store := &mapStore{prices: map[string]float64{"us-east-1/ml.m5.xlarge": 0.25}, updated: now.Add(-time.Minute)}
	source := &countingSource{prices: map[string]float64{"ml.m5.xlarge": 0.23, "ml.c5.xlarge": 0.2}}
	pf := NewPricingFetcher(source, "us-east-1", WithPriceStore(store))
	pf.now = func() time.Time { return now }

	price, err := pf.GetPrice(context.Background(), "ml.m5.xlarge")
	require.NoError(t, err)
	assert.InDelta(t, 0.25, price, 1e-9)
	assert.Equal(t, 0, source.calls)

	_, err = pf.GetPrice(context.Background(), "ml.c5.xlarge")
	require.NoError(t, err)
	assert.Equal(t, 1, source.calls)
	assert.Equal(t, 1, store.saves)
}

func TestStartRefreshWorker_StopsOnCancel(t *testing.T) {
	source := &countingSource{prices: map[string]float64{"ml.m5.xlarge": 0.23}}
	pf := NewPricingFetcher(source, "us-east-1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pf.StartRefreshWorker(ctx, "ml.m5.xlarge")

	assert.Equal(t, 1, source.calls)
}

func TestCostCalculator(t *testing.T) {
	source := &countingSource{prices: map[string]float64{"ml.m5.xlarge": 0.25}}
	cc := NewCostCalculator(NewPricingFetcher(source, "us-east-1"))

	hourly, err := cc.HourlyCost(context.Background(), "ml.m5.xlarge", 2)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, hourly, 1e-9)

	cost, err := cc.EstimateCost(context.Background(), "ml.m5.xlarge", 1, 90*time.Minute)
	require.NoError(t, err)
	assert.InDelta(t, 0.375, cost, 1e-9)

	steps, total, err := cc.EstimatePipeline(context.Background(), spec.Default())
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, "Training", steps[0].Step)
	assert.InDelta(t, 24.0, steps[0].MaxHours, 1e-9)
	assert.InDelta(t, 6.0, steps[0].MaxCost, 1e-9)
	assert.InDelta(t, 6.25, total, 1e-9)
}
