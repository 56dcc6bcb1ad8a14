package auth

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ridepulse/dispatch/pkg/models"
)

// Repository reads driver identity data for the auth bootstrap
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new auth repository
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// GetDriverByPhone fetches the full driver record by phone number.
func (r *Repository) GetDriverByPhone(ctx context.Context, phone string) (*models.Driver, error) {
	query := `
		SELECT id, driver_id, name, phone, vehicle_type, vehicle_number, status, wallet,
		       working_hours_limit, working_hours_deduction_amount, remaining_working_seconds,
		       timer_active, timer_started_at, warnings_issued, extended_hours_purchased,
		       wallet_deducted, last_latitude, last_longitude, last_location_at, push_token,
		       created_at, updated_at
		FROM drivers
		WHERE phone = $1`

	driver := &models.Driver{}
	err := r.db.QueryRow(ctx, query, phone).Scan(
		&driver.ID,
		&driver.DriverID,
		&driver.Name,
		&driver.Phone,
		&driver.VehicleType,
		&driver.VehicleNumber,
		&driver.Status,
		&driver.Wallet,
		&driver.WorkingHoursLimit,
		&driver.WorkingHoursDeductionAmount,
		&driver.RemainingWorkingSeconds,
		&driver.TimerActive,
		&driver.TimerStartedAt,
		&driver.WarningsIssued,
		&driver.ExtendedHoursPurchased,
		&driver.WalletDeducted,
		&driver.LastLatitude,
		&driver.LastLongitude,
		&driver.LastLocationAt,
		&driver.PushToken,
		&driver.CreatedAt,
		&driver.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get driver by phone: %w", err)
	}
	return driver, nil
}
