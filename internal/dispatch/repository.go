package dispatch

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PushTarget is a driver reachable by push notification.
type PushTarget struct {
	DriverID  string
	PushToken string
}

// Repository reads dispatch-side driver data.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new dispatch repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// ListPushTargets returns drivers of the vehicle type who are dispatchable
// and carry a push token. Legacy rows may still hold "online" or
// "available" where current writes use "live"; all three count.
func (r *Repository) ListPushTargets(ctx context.Context, vehicleType string) ([]PushTarget, error) {
	query := `
		SELECT driver_id, push_token
		FROM drivers
		WHERE vehicle_type = $1
		  AND status IN ('live', 'online', 'available')
		  AND push_token <> ''
	`

	rows, err := r.db.Query(ctx, query, vehicleType)
	if err != nil {
		return nil, fmt.Errorf("failed to list push targets: %w", err)
	}
	defer rows.Close()

	var targets []PushTarget
	for rows.Next() {
		var t PushTarget
		if err := rows.Scan(&t.DriverID, &t.PushToken); err != nil {
			return nil, fmt.Errorf("failed to scan push target: %w", err)
		}
		targets = append(targets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read push targets: %w", err)
	}
	return targets, nil
}
