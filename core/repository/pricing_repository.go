package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"sales-forecast/core/models"
)

// PricingRepository persists fetched instance prices
type PricingRepository struct {
	db *DB
}

// NewPricingRepository creates a new pricing repository
func NewPricingRepository(db *DB) *PricingRepository {
	return &PricingRepository{db: db}
}

// SavePrice stores the on-demand price of an instance type
func (r *PricingRepository) SavePrice(ctx context.Context, region, instanceType string, pricePerHour float64) error {
	query := `
		INSERT INTO instance_pricing (region, instance_type, on_demand_price_per_hour, last_updated)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (region, instance_type)
		DO UPDATE SET
			on_demand_price_per_hour = EXCLUDED.on_demand_price_per_hour,
			last_updated = NOW()
	`
	_, err := r.db.ExecContext(ctx, query, region, instanceType, pricePerHour)
	return err
}

// GetPrice returns the stored price and when it was fetched
func (r *PricingRepository) GetPrice(ctx context.Context, region, instanceType string) (float64, time.Time, error) {
	var price float64
	var lastUpdated time.Time

	query := `
		SELECT on_demand_price_per_hour, last_updated
		FROM instance_pricing
		WHERE region = $1 AND instance_type = $2
	`
	err := r.db.QueryRowContext(ctx, query, region, instanceType).Scan(&price, &lastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, time.Time{}, models.NotFound("repository.pricing", "price of "+instanceType)
	}
	if err != nil {
		return 0, time.Time{}, err
	}
	return price, lastUpdated, nil
}
