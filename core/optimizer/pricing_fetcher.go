package optimizer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// PriceSource reports the on-demand hourly price of one instance
type PriceSource interface {
	HourlyPrice(ctx context.Context, instanceType string) (float64, error)
}

// PriceStore persists fetched prices so they survive restarts
type PriceStore interface {
	SavePrice(ctx context.Context, region, instanceType string, pricePerHour float64) error
	GetPrice(ctx context.Context, region, instanceType string) (float64, time.Time, error)
}

type cachedPrice struct {
	price     float64
	fetchedAt time.Time
}

// PricingFetcher fetches and caches instance pricing
type PricingFetcher struct {
	source   PriceSource
	store    PriceStore
	region   string
	cacheTTL time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu    sync.RWMutex
	cache map[string]cachedPrice
}

// Option configures a PricingFetcher.
type Option func(*PricingFetcher)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(pf *PricingFetcher) {
		if logger != nil {
			pf.logger = logger
		}
	}
}

// WithPriceStore persists prices and serves them while fresh.
func WithPriceStore(store PriceStore) Option {
	return func(pf *PricingFetcher) {
		pf.store = store
	}
}

// WithCacheTTL overrides how long a fetched price stays valid.
func WithCacheTTL(ttl time.Duration) Option {
	return func(pf *PricingFetcher) {
		if ttl > 0 {
			pf.cacheTTL = ttl
		}
	}
}

// NewPricingFetcher creates a new pricing fetcher
func NewPricingFetcher(source PriceSource, region string, opts ...Option) *PricingFetcher {
	pf := &PricingFetcher{
		source:   source,
		region:   region,
		cacheTTL: 15 * time.Minute, // Refresh every 15 minutes
		logger:   slog.Default().With("component", "pricing"),
		now:      time.Now,
		cache:    make(map[string]cachedPrice),
	}
	for _, opt := range opts {
		opt(pf)
	}
	return pf
}

// GetPrice returns the hourly price of instanceType, fetching it when the
// cached value is missing or older than the TTL
func (pf *PricingFetcher) GetPrice(ctx context.Context, instanceType string) (float64, error) {
	pf.mu.RLock()
	cached, ok := pf.cache[instanceType]
	pf.mu.RUnlock()
	if ok && pf.now().Sub(cached.fetchedAt) < pf.cacheTTL {
		return cached.price, nil
	}

	if pf.store != nil {
		price, updated, err := pf.store.GetPrice(ctx, pf.region, instanceType)
		if err == nil && pf.now().Sub(updated) < pf.cacheTTL {
			pf.remember(instanceType, price, updated)
			return price, nil
		}
	}

	return pf.fetch(ctx, instanceType)
}

func (pf *PricingFetcher) fetch(ctx context.Context, instanceType string) (float64, error) {
	price, err := pf.source.HourlyPrice(ctx, instanceType)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch price for %s: %w", instanceType, err)
	}

	pf.remember(instanceType, price, pf.now())
	if pf.store != nil {
		if err := pf.store.SavePrice(ctx, pf.region, instanceType, price); err != nil {
			pf.logger.Warn("failed to persist price", "instance_type", instanceType, "error", err)
		}
	}
	return price, nil
}

func (pf *PricingFetcher) remember(instanceType string, price float64, at time.Time) {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	pf.cache[instanceType] = cachedPrice{price: price, fetchedAt: at}
}

// StartRefreshWorker refreshes the given instance types once per TTL until
// ctx is cancelled
func (pf *PricingFetcher) StartRefreshWorker(ctx context.Context, instanceTypes ...string) {
	ticker := time.NewTicker(pf.cacheTTL)
	defer ticker.Stop()

	// Initial refresh
	pf.refresh(ctx, instanceTypes)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pf.refresh(ctx, instanceTypes)
		}
	}
}

func (pf *PricingFetcher) refresh(ctx context.Context, instanceTypes []string) {
	for _, instanceType := range instanceTypes {
		if _, err := pf.fetch(ctx, instanceType); err != nil {
			pf.logger.Warn("price refresh failed", "instance_type", instanceType, "error", err)
		}
	}
}
