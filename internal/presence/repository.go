package presence

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ridepulse/dispatch/pkg/database"
	"github.com/ridepulse/dispatch/pkg/models"
)

// Repository handles database operations for driver presence
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new presence repository
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// GetDriver reads the fields registration needs. The vehicle type comes
// from here, never from the client.
func (r *Repository) GetDriver(ctx context.Context, driverID string) (*models.Driver, error) {
	query := `
		SELECT id, driver_id, name, vehicle_type, status, push_token
		FROM drivers
		WHERE driver_id = $1
	`
	driver := &models.Driver{}
	err := r.db.QueryRow(ctx, query, driverID).Scan(
		&driver.ID,
		&driver.DriverID,
		&driver.Name,
		&driver.VehicleType,
		&driver.Status,
		&driver.PushToken,
	)
	if err != nil {
		return nil, err
	}
	return driver, nil
}

// UpdateDriverPresence persists status and last known position together,
// written at registration time.
func (r *Repository) UpdateDriverPresence(ctx context.Context, driverID string, status models.DriverStatus, lat, lng float64) error {
	query := `
		UPDATE drivers
		SET status = $2, last_latitude = $3, last_longitude = $4,
		    last_location_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE driver_id = $1
	`
	if _, err := database.RetryableExec(ctx, r.db, query, driverID, status, lat, lng); err != nil {
		return fmt.Errorf("failed to update driver presence: %w", err)
	}
	return nil
}

// SetDriverStatus persists only the status, used when the sweeper forces
// a silent driver offline.
func (r *Repository) SetDriverStatus(ctx context.Context, driverID string, status models.DriverStatus) error {
	query := `UPDATE drivers SET status = $2, updated_at = CURRENT_TIMESTAMP WHERE driver_id = $1`
	if _, err := database.RetryableExec(ctx, r.db, query, driverID, status); err != nil {
		return fmt.Errorf("failed to set driver status: %w", err)
	}
	return nil
}

// ResolveUserID maps a passenger reference, internal id or customer id,
// to the internal user id.
func (r *Repository) ResolveUserID(ctx context.Context, ref string) (uuid.UUID, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return id, nil
	}
	var id uuid.UUID
	err := r.db.QueryRow(ctx, `SELECT id FROM users WHERE customer_id = $1`, ref).Scan(&id)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}
