package pricing

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository handles database operations for ride prices
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new pricing repository
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// ListPrices returns every stored per-km price
func (r *Repository) ListPrices(ctx context.Context) ([]*RidePrice, error) {
	query := `
		SELECT vehicle_type, price_per_km, updated_by, updated_at
		FROM ride_prices
		ORDER BY vehicle_type
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list ride prices: %w", err)
	}
	defer rows.Close()

	prices := make([]*RidePrice, 0)
	for rows.Next() {
		p := &RidePrice{}
		if err := rows.Scan(&p.VehicleType, &p.PricePerKm, &p.UpdatedBy, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ride price: %w", err)
		}
		prices = append(prices, p)
	}
	return prices, nil
}

// UpsertPrice inserts or updates the per-km price for a vehicle type
func (r *Repository) UpsertPrice(ctx context.Context, p *RidePrice) error {
	query := `
		INSERT INTO ride_prices (vehicle_type, price_per_km, updated_by)
		VALUES ($1, $2, $3)
		ON CONFLICT (vehicle_type) DO UPDATE SET
			price_per_km = EXCLUDED.price_per_km,
			updated_by = EXCLUDED.updated_by,
			updated_at = CURRENT_TIMESTAMP
		RETURNING updated_at
	`
	err := r.db.QueryRow(ctx, query, p.VehicleType, p.PricePerKm, p.UpdatedBy).Scan(&p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert ride price: %w", err)
	}
	return nil
}
