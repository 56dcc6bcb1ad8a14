package rides

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ridepulse/dispatch/pkg/models"
)

// Repository handles database operations for rides
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new rides repository
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const rideColumns = `id, raid_id, user_id, customer_id, user_name, user_phone, vehicle_type,
	   status, pickup_latitude, pickup_longitude, pickup_address,
	   drop_latitude, drop_longitude, drop_address, distance_km, travel_time_min,
	   fare, otp, payment_method, want_return, driver_id, driver_name,
	   actual_distance_km, actual_fare, requested_at, accepted_at, arrived_at,
	   started_at, completed_at, cancelled_at, cancelled_by, cancel_reason,
	   created_at, updated_at`

func scanRide(row pgx.Row) (*models.Ride, error) {
	ride := &models.Ride{}
	err := row.Scan(
		&ride.ID,
		&ride.RaidID,
		&ride.UserID,
		&ride.CustomerID,
		&ride.UserName,
		&ride.UserPhone,
		&ride.VehicleType,
		&ride.Status,
		&ride.PickupLatitude,
		&ride.PickupLongitude,
		&ride.PickupAddress,
		&ride.DropLatitude,
		&ride.DropLongitude,
		&ride.DropAddress,
		&ride.DistanceKm,
		&ride.TravelTimeMin,
		&ride.Fare,
		&ride.OTP,
		&ride.PaymentMethod,
		&ride.WantReturn,
		&ride.DriverID,
		&ride.DriverName,
		&ride.ActualDistanceKm,
		&ride.ActualFare,
		&ride.RequestedAt,
		&ride.AcceptedAt,
		&ride.ArrivedAt,
		&ride.StartedAt,
		&ride.CompletedAt,
		&ride.CancelledAt,
		&ride.CancelledBy,
		&ride.CancelReason,
		&ride.CreatedAt,
		&ride.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return ride, nil
}

// CreateRide persists a new pending ride
func (r *Repository) CreateRide(ctx context.Context, ride *models.Ride) error {
	query := `
		INSERT INTO rides (
			id, raid_id, user_id, customer_id, user_name, user_phone, vehicle_type,
			status, pickup_latitude, pickup_longitude, pickup_address,
			drop_latitude, drop_longitude, drop_address, distance_km, travel_time_min,
			fare, otp, payment_method, want_return, requested_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		ride.ID,
		ride.RaidID,
		ride.UserID,
		ride.CustomerID,
		ride.UserName,
		ride.UserPhone,
		ride.VehicleType,
		ride.Status,
		ride.PickupLatitude,
		ride.PickupLongitude,
		ride.PickupAddress,
		ride.DropLatitude,
		ride.DropLongitude,
		ride.DropAddress,
		ride.DistanceKm,
		ride.TravelTimeMin,
		ride.Fare,
		ride.OTP,
		ride.PaymentMethod,
		ride.WantReturn,
		ride.RequestedAt,
	).Scan(&ride.CreatedAt, &ride.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create ride: %w", err)
	}

	return nil
}

// GetRideByID retrieves a ride by its internal UUID
func (r *Repository) GetRideByID(ctx context.Context, id uuid.UUID) (*models.Ride, error) {
	query := `SELECT ` + rideColumns + ` FROM rides WHERE id = $1`

	ride, err := scanRide(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get ride: %w", err)
	}
	return ride, nil
}

// GetRideByRaidID retrieves a ride by its human-readable raid id
func (r *Repository) GetRideByRaidID(ctx context.Context, raidID string) (*models.Ride, error) {
	query := `SELECT ` + rideColumns + ` FROM rides WHERE raid_id = $1`

	ride, err := scanRide(r.db.QueryRow(ctx, query, raidID))
	if err != nil {
		return nil, fmt.Errorf("failed to get ride: %w", err)
	}
	return ride, nil
}

// AcceptRide transitions a ride from pending to accepted in a single
// UPDATE with a WHERE status guard. Returns false if another driver won;
// a read-then-write here would race.
func (r *Repository) AcceptRide(ctx context.Context, raidID, driverID, driverName string) (bool, error) {
	now := time.Now()
	query := `
		UPDATE rides
		SET status = $1, driver_id = $2, driver_name = $3, accepted_at = $4, updated_at = $4
		WHERE raid_id = $5 AND status = $6
	`
	tag, err := r.db.Exec(ctx, query,
		models.RideStatusAccepted, driverID, driverName, now, raidID, models.RideStatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("failed to accept ride: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkArrived transitions accepted to arrived for the assigned driver
func (r *Repository) MarkArrived(ctx context.Context, raidID, driverID string) (bool, error) {
	now := time.Now()
	query := `
		UPDATE rides
		SET status = $1, arrived_at = $2, updated_at = $2
		WHERE raid_id = $3 AND status = $4 AND driver_id = $5
	`
	tag, err := r.db.Exec(ctx, query,
		models.RideStatusArrived, now, raidID, models.RideStatusAccepted, driverID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark arrived: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// StartRide transitions arrived to started for the assigned driver. OTP
// verification happens in the service before this is called.
func (r *Repository) StartRide(ctx context.Context, raidID, driverID string) (bool, error) {
	now := time.Now()
	query := `
		UPDATE rides
		SET status = $1, started_at = $2, updated_at = $2
		WHERE raid_id = $3 AND status = $4 AND driver_id = $5
	`
	tag, err := r.db.Exec(ctx, query,
		models.RideStatusStarted, now, raidID, models.RideStatusArrived, driverID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to start ride: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// CompleteRide transitions arrived or started to completed and records
// the actual distance and the recomputed fare
func (r *Repository) CompleteRide(ctx context.Context, raidID, driverID string, actualDistanceKm float64, actualFare int64) (bool, error) {
	now := time.Now()
	query := `
		UPDATE rides
		SET status = $1, actual_distance_km = $2, actual_fare = $3, completed_at = $4, updated_at = $4
		WHERE raid_id = $5 AND status IN ($6, $7) AND driver_id = $8
	`
	tag, err := r.db.Exec(ctx, query,
		models.RideStatusCompleted, actualDistanceKm, actualFare, now,
		raidID, models.RideStatusArrived, models.RideStatusStarted, driverID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to complete ride: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// CancelRide transitions pending, accepted or arrived to cancelled.
// Started rides are not cancellable; the service completes them instead.
func (r *Repository) CancelRide(ctx context.Context, raidID, cancelledBy string, reason *string) (bool, error) {
	now := time.Now()
	query := `
		UPDATE rides
		SET status = $1, cancelled_at = $2, cancelled_by = $3, cancel_reason = $4, updated_at = $2
		WHERE raid_id = $5 AND status IN ($6, $7, $8)
	`
	tag, err := r.db.Exec(ctx, query,
		models.RideStatusCancelled, now, cancelledBy, reason,
		raidID, models.RideStatusPending, models.RideStatusAccepted, models.RideStatusArrived,
	)
	if err != nil {
		return false, fmt.Errorf("failed to cancel ride: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// AddRejection records a driver declining a dispatched ride
func (r *Repository) AddRejection(ctx context.Context, rideID uuid.UUID, driverID string, reason *string) error {
	query := `
		INSERT INTO ride_rejections (id, ride_id, driver_id, reason)
		VALUES ($1, $2, $3, $4)
	`

	_, err := r.db.Exec(ctx, query, uuid.New(), rideID, driverID, reason)
	if err != nil {
		return fmt.Errorf("failed to record rejection: %w", err)
	}

	return nil
}

// SetDriverStatus updates the persistent driver presence status
func (r *Repository) SetDriverStatus(ctx context.Context, driverID string, status models.DriverStatus) error {
	query := `UPDATE drivers SET status = $1, updated_at = $2 WHERE driver_id = $3`

	_, err := r.db.Exec(ctx, query, status, time.Now(), driverID)
	if err != nil {
		return fmt.Errorf("failed to update driver status: %w", err)
	}

	return nil
}

// GetOrCreateUserByCustomerID materializes a passenger row the first time
// a customer id is seen. Later bookings refresh the name and phone
// snapshot when the client supplies them.
func (r *Repository) GetOrCreateUserByCustomerID(ctx context.Context, customerID, name, phone string) (*models.User, error) {
	query := `
		INSERT INTO users (id, customer_id, name, phone)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (customer_id) DO UPDATE
		SET name = COALESCE(NULLIF(EXCLUDED.name, ''), users.name),
			phone = COALESCE(NULLIF(EXCLUDED.phone, ''), users.phone),
			updated_at = CURRENT_TIMESTAMP
		RETURNING id, customer_id, name, phone, wallet, push_token, created_at, updated_at
	`

	user := &models.User{}
	err := r.db.QueryRow(ctx, query, uuid.New(), customerID, name, phone).Scan(
		&user.ID,
		&user.CustomerID,
		&user.Name,
		&user.Phone,
		&user.Wallet,
		&user.PushToken,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get or create user: %w", err)
	}

	return user, nil
}

// GetUserByID retrieves a passenger by internal id
func (r *Repository) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	query := `
		SELECT id, customer_id, name, phone, wallet, push_token, created_at, updated_at
		FROM users
		WHERE id = $1
	`

	user := &models.User{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&user.ID,
		&user.CustomerID,
		&user.Name,
		&user.Phone,
		&user.Wallet,
		&user.PushToken,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}
