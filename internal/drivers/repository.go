package drivers

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ridepulse/dispatch/pkg/models"
)

// Repository handles database operations for driver accounts
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new drivers repository
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const driverColumns = `id, driver_id, name, phone, vehicle_type, vehicle_number, status, wallet,
	   working_hours_limit, working_hours_deduction_amount, remaining_working_seconds,
	   timer_active, timer_started_at, warnings_issued, extended_hours_purchased,
	   wallet_deducted, last_latitude, last_longitude, last_location_at, push_token,
	   created_at, updated_at`

func scanDriver(row pgx.Row) (*models.Driver, error) {
	driver := &models.Driver{}
	err := row.Scan(
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
		return nil, err
	}
	return driver, nil
}

// GetDriver returns a driver row by public driver id
func (r *Repository) GetDriver(ctx context.Context, driverID string) (*models.Driver, error) {
	query := `SELECT ` + driverColumns + ` FROM drivers WHERE driver_id = $1`
	return scanDriver(r.db.QueryRow(ctx, query, driverID))
}

// UpdateStatus writes the presence status. Returns false when no driver
// row matched.
func (r *Repository) UpdateStatus(ctx context.Context, driverID string, status models.DriverStatus) (bool, error) {
	query := `UPDATE drivers SET status = $2, updated_at = CURRENT_TIMESTAMP WHERE driver_id = $1`
	tag, err := r.db.Exec(ctx, query, driverID, status)
	if err != nil {
		return false, fmt.Errorf("failed to update driver status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpdatePushToken stores the FCM token ride request pushes go to. Returns
// false when no driver row matched.
func (r *Repository) UpdatePushToken(ctx context.Context, driverID, token string) (bool, error) {
	query := `UPDATE drivers SET push_token = $2, updated_at = CURRENT_TIMESTAMP WHERE driver_id = $1`
	tag, err := r.db.Exec(ctx, query, driverID, token)
	if err != nil {
		return false, fmt.Errorf("failed to update push token: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
