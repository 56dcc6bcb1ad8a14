package workinghours

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ridepulse/dispatch/internal/wallet"
	"github.com/ridepulse/dispatch/pkg/database"
	"github.com/ridepulse/dispatch/pkg/models"
)

// ErrNoRemainingTime rejects a resume when the persisted countdown is
// exhausted; the driver must start a new shift instead.
var ErrNoRemainingTime = errors.New("no remaining working time")

// ShiftStart reports how a go-online request was satisfied. Txn is set
// only when a new shift fee was debited.
type ShiftStart struct {
	Driver    *models.Driver
	Txn       *models.Transaction
	Resumed   bool
	Duplicate bool
}

// ShiftRenewal reports the expiry decision: auto-debit and extend, or
// force the driver offline.
type ShiftRenewal struct {
	Driver  *models.Driver
	Txn     *models.Transaction
	Renewed bool
}

// TimePurchase reports a committed extra-time debit.
type TimePurchase struct {
	Driver       *models.Driver
	Txn          *models.Transaction
	AddedSeconds int64
}

// Repository handles database operations for driver shifts
type Repository struct {
	db     *pgxpool.Pool
	ledger WalletDebiter
}

// NewRepository creates a new working-hours repository
func NewRepository(db *pgxpool.Pool, ledger WalletDebiter) *Repository {
	return &Repository{db: db, ledger: ledger}
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

// lockDriver reads the driver row FOR UPDATE inside tx so the shift state
// and the wallet mutate under one lock.
func lockDriver(ctx context.Context, tx pgx.Tx, driverID string) (*models.Driver, error) {
	query := `SELECT ` + driverColumns + ` FROM drivers WHERE driver_id = $1 FOR UPDATE`
	return scanDriver(tx.QueryRow(ctx, query, driverID))
}

// StartShift runs the go-online decision for one driver:
//
//  1. already online with a running timer: no-op, reported as Duplicate
//  2. paused with seconds left: resume the timer, no charge
//  3. otherwise: debit the flat shift fee and grant a full shift
func (r *Repository) StartShift(ctx context.Context, driverID string) (*ShiftStart, error) {
	return r.startShift(ctx, driverID, true)
}

// ResumeShift is StartShift restricted to case 2. An exhausted countdown
// fails with ErrNoRemainingTime instead of charging a new shift.
func (r *Repository) ResumeShift(ctx context.Context, driverID string) (*ShiftStart, error) {
	return r.startShift(ctx, driverID, false)
}

func (r *Repository) startShift(ctx context.Context, driverID string, allowNewShift bool) (*ShiftStart, error) {
	var out ShiftStart
	err := database.RetryableTransaction(ctx, r.db, func(tx pgx.Tx) error {
		out = ShiftStart{}

		driver, err := lockDriver(ctx, tx, driverID)
		if err != nil {
			return err
		}

		if driver.TimerActive && driver.Status != models.DriverStatusOffline {
			out.Driver = driver
			out.Duplicate = true
			return nil
		}

		now := time.Now()
		if driver.RemainingWorkingSeconds > 0 {
			query := `
				UPDATE drivers
				SET timer_active = TRUE, timer_started_at = $2, status = 'live', updated_at = CURRENT_TIMESTAMP
				WHERE driver_id = $1
			`
			if _, err := tx.Exec(ctx, query, driverID, now); err != nil {
				return fmt.Errorf("failed to resume shift: %w", err)
			}
			driver.TimerActive = true
			driver.TimerStartedAt = &now
			driver.Status = models.DriverStatusLive
			out.Driver = driver
			out.Resumed = true
			return nil
		}

		if !allowNewShift {
			return ErrNoRemainingTime
		}

		txn, err := r.ledger.ApplyDriverDebit(ctx, tx, wallet.DriverOp{
			DriverID:    driverID,
			Amount:      models.DefaultShiftFee,
			Method:      models.MethodShiftStartFee,
			Description: "shift start fee",
		})
		if err != nil {
			return err
		}

		query := `
			UPDATE drivers
			SET remaining_working_seconds = $2, timer_active = TRUE, timer_started_at = $3,
			    warnings_issued = 0, extended_hours_purchased = FALSE, wallet_deducted = TRUE,
			    status = 'live', updated_at = CURRENT_TIMESTAMP
			WHERE driver_id = $1
		`
		if _, err := tx.Exec(ctx, query, driverID, driver.ShiftSeconds(), now); err != nil {
			return fmt.Errorf("failed to start shift: %w", err)
		}
		driver.RemainingWorkingSeconds = driver.ShiftSeconds()
		driver.TimerActive = true
		driver.TimerStartedAt = &now
		driver.WarningsIssued = 0
		driver.ExtendedHoursPurchased = false
		driver.WalletDeducted = true
		driver.Status = models.DriverStatusLive
		driver.Wallet = txn.BalanceAfter
		out.Driver = driver
		out.Txn = txn
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// StopShift freezes the countdown and takes the driver offline. When the
// in-memory registry holds a fresher remaining value than the last
// checkpoint, the caller passes it and it wins.
func (r *Repository) StopShift(ctx context.Context, driverID string, remaining int64, haveRemaining bool) (*models.Driver, error) {
	var out *models.Driver
	err := database.RetryableTransaction(ctx, r.db, func(tx pgx.Tx) error {
		driver, err := lockDriver(ctx, tx, driverID)
		if err != nil {
			return err
		}

		if !driver.TimerActive && driver.Status == models.DriverStatusOffline {
			out = driver
			return nil
		}

		persisted := driver.RemainingWorkingSeconds
		if haveRemaining {
			persisted = remaining
		}
		if persisted < 0 {
			persisted = 0
		}

		query := `
			UPDATE drivers
			SET remaining_working_seconds = $2, timer_active = FALSE, timer_started_at = NULL,
			    status = 'offline', updated_at = CURRENT_TIMESTAMP
			WHERE driver_id = $1
		`
		if _, err := tx.Exec(ctx, query, driverID, persisted); err != nil {
			return fmt.Errorf("failed to stop shift: %w", err)
		}
		driver.RemainingWorkingSeconds = persisted
		driver.TimerActive = false
		driver.TimerStartedAt = nil
		driver.Status = models.DriverStatusOffline
		out = driver
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RenewShift runs the expiry decision for one driver. A wallet that
// covers the deduction fee buys twelve more hours in the same
// transaction; anything less forces the driver offline with the
// countdown at zero.
func (r *Repository) RenewShift(ctx context.Context, driverID string) (*ShiftRenewal, error) {
	var out ShiftRenewal
	err := database.RetryableTransaction(ctx, r.db, func(tx pgx.Tx) error {
		out = ShiftRenewal{}

		driver, err := lockDriver(ctx, tx, driverID)
		if err != nil {
			return err
		}

		fee := driver.DeductionFee()
		if driver.Wallet >= fee {
			txn, err := r.ledger.ApplyDriverDebit(ctx, tx, wallet.DriverOp{
				DriverID:    driverID,
				Amount:      fee,
				Method:      models.MethodExtendedHoursAuto,
				Description: "automatic working hours extension",
			})
			if err != nil {
				return err
			}

			const extension = int64(12 * 3600)
			query := `
				UPDATE drivers
				SET remaining_working_seconds = $2, warnings_issued = 0,
				    extended_hours_purchased = TRUE, updated_at = CURRENT_TIMESTAMP
				WHERE driver_id = $1
			`
			if _, err := tx.Exec(ctx, query, driverID, extension); err != nil {
				return fmt.Errorf("failed to extend shift: %w", err)
			}
			driver.RemainingWorkingSeconds = extension
			driver.WarningsIssued = 0
			driver.ExtendedHoursPurchased = true
			driver.Wallet = txn.BalanceAfter
			out.Driver = driver
			out.Txn = txn
			out.Renewed = true
			return nil
		}

		query := `
			UPDATE drivers
			SET remaining_working_seconds = 0, timer_active = FALSE, timer_started_at = NULL,
			    status = 'offline', updated_at = CURRENT_TIMESTAMP
			WHERE driver_id = $1
		`
		if _, err := tx.Exec(ctx, query, driverID); err != nil {
			return fmt.Errorf("failed to stop expired shift: %w", err)
		}
		driver.RemainingWorkingSeconds = 0
		driver.TimerActive = false
		driver.TimerStartedAt = nil
		driver.Status = models.DriverStatusOffline
		out.Driver = driver
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// PurchaseTime debits one of the extra-time products and adds its seconds
// to the countdown. The fee depends on the driver's shift limit, so it is
// resolved under the row lock.
func (r *Repository) PurchaseTime(ctx context.Context, driverID string, kind PurchaseKind, additionalHours int) (*TimePurchase, error) {
	var out TimePurchase
	err := database.RetryableTransaction(ctx, r.db, func(tx pgx.Tx) error {
		out = TimePurchase{}

		driver, err := lockDriver(ctx, tx, driverID)
		if err != nil {
			return err
		}

		var (
			amount      int64
			seconds     int64
			method      string
			description string
		)
		switch kind {
		case PurchaseHalfTime:
			amount = driver.HalfTimeFee()
			seconds = driver.ShiftSeconds() / 2
			method = models.MethodExtraHalfTime
			description = "extra half time"
		case PurchaseFullTime:
			amount = driver.FullTimeFee()
			seconds = driver.ShiftSeconds()
			method = models.MethodExtraFullTime
			description = "extra full time"
		default:
			amount = driver.DeductionFee()
			seconds = int64(additionalHours) * 3600
			method = models.MethodExtendedHoursPurchase
			description = fmt.Sprintf("extended hours purchase (%dh)", additionalHours)
		}

		txn, err := r.ledger.ApplyDriverDebit(ctx, tx, wallet.DriverOp{
			DriverID:    driverID,
			Amount:      amount,
			Method:      method,
			Description: description,
		})
		if err != nil {
			return err
		}

		query := `
			UPDATE drivers
			SET remaining_working_seconds = remaining_working_seconds + $2, warnings_issued = 0,
			    extended_hours_purchased = TRUE, updated_at = CURRENT_TIMESTAMP
			WHERE driver_id = $1
			RETURNING remaining_working_seconds
		`
		if err := tx.QueryRow(ctx, query, driverID, seconds).Scan(&driver.RemainingWorkingSeconds); err != nil {
			return fmt.Errorf("failed to add purchased time: %w", err)
		}
		driver.WarningsIssued = 0
		driver.ExtendedHoursPurchased = true
		driver.Wallet = txn.BalanceAfter
		out.Driver = driver
		out.Txn = txn
		out.AddedSeconds = seconds
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// PersistCountdown checkpoints the in-memory countdown. The guard keeps a
// late checkpoint from reviving a row that stop or expiry already settled.
func (r *Repository) PersistCountdown(ctx context.Context, driverID string, remaining int64) error {
	query := `
		UPDATE drivers
		SET remaining_working_seconds = $2, updated_at = CURRENT_TIMESTAMP
		WHERE driver_id = $1 AND timer_active = TRUE
	`
	if _, err := database.RetryableExec(ctx, r.db, query, driverID, remaining); err != nil {
		return fmt.Errorf("failed to checkpoint countdown: %w", err)
	}
	return nil
}

// PersistWarning records an issued warning together with the countdown it
// was issued at.
func (r *Repository) PersistWarning(ctx context.Context, driverID string, warnings int, remaining int64) error {
	query := `
		UPDATE drivers
		SET warnings_issued = $2, remaining_working_seconds = $3, updated_at = CURRENT_TIMESTAMP
		WHERE driver_id = $1 AND timer_active = TRUE
	`
	if _, err := database.RetryableExec(ctx, r.db, query, driverID, warnings, remaining); err != nil {
		return fmt.Errorf("failed to persist warning: %w", err)
	}
	return nil
}

// ListActiveTimers returns every driver whose countdown was running at the
// last checkpoint. Used once at startup to re-arm the registry.
func (r *Repository) ListActiveTimers(ctx context.Context) ([]*models.Driver, error) {
	query := `SELECT ` + driverColumns + ` FROM drivers WHERE timer_active = TRUE AND remaining_working_seconds > 0`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list active timers: %w", err)
	}
	defer rows.Close()

	var drivers []*models.Driver
	for rows.Next() {
		driver, err := scanDriver(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan driver: %w", err)
		}
		drivers = append(drivers, driver)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read active timers: %w", err)
	}
	return drivers, nil
}
