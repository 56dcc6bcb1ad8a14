package wallet

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ridepulse/dispatch/pkg/database"
	"github.com/ridepulse/dispatch/pkg/models"
)

// Repository handles database operations for both wallet ledgers. The
// driver row and the user row are the serialization points; every mutation
// locks its row, writes the new balance and the ledger row in one
// transaction.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new wallet repository
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// GetDriverBalance returns a driver's current wallet balance
func (r *Repository) GetDriverBalance(ctx context.Context, driverID string) (int64, error) {
	var balance int64
	err := r.db.QueryRow(ctx, `SELECT wallet FROM drivers WHERE driver_id = $1`, driverID).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("failed to get driver balance: %w", err)
	}
	return balance, nil
}

// GetUserBalance returns a passenger's current wallet balance
func (r *Repository) GetUserBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	var balance int64
	err := r.db.QueryRow(ctx, `SELECT wallet FROM users WHERE id = $1`, userID).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("failed to get user balance: %w", err)
	}
	return balance, nil
}

// ApplyDriverMutation executes one locked read-modify-write on the driver
// wallet inside the caller's transaction. Debits fail with
// ErrInsufficientFunds before any write.
func (r *Repository) ApplyDriverMutation(ctx context.Context, tx pgx.Tx, driverID string, amount int64, txType models.TransactionType, method, description string, rideID *uuid.UUID) (*models.Transaction, error) {
	var balance int64
	err := tx.QueryRow(ctx, `SELECT wallet FROM drivers WHERE driver_id = $1 FOR UPDATE`, driverID).Scan(&balance)
	if err != nil {
		return nil, fmt.Errorf("failed to lock driver row: %w", err)
	}

	newBalance := balance + amount
	if txType == models.TransactionDebit {
		if balance < amount {
			return nil, ErrInsufficientFunds
		}
		newBalance = balance - amount
	}

	_, err = tx.Exec(ctx, `UPDATE drivers SET wallet = $2, updated_at = CURRENT_TIMESTAMP WHERE driver_id = $1`, driverID, newBalance)
	if err != nil {
		return nil, fmt.Errorf("failed to update driver wallet: %w", err)
	}

	txn := &models.Transaction{
		ID:           uuid.New(),
		DriverID:     driverID,
		Amount:       amount,
		Type:         txType,
		Method:       method,
		Description:  description,
		BalanceAfter: newBalance,
		RideID:       rideID,
	}
	query := `
		INSERT INTO transactions (id, driver_id, amount, type, method, description, balance_after, ride_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`
	err = tx.QueryRow(ctx, query,
		txn.ID, txn.DriverID, txn.Amount, txn.Type, txn.Method, txn.Description, txn.BalanceAfter, txn.RideID,
	).Scan(&txn.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to write transaction: %w", err)
	}
	return txn, nil
}

// DebitDriver runs a driver debit in its own transaction with the store
// retry policy.
func (r *Repository) DebitDriver(ctx context.Context, driverID string, amount int64, method, description string, rideID *uuid.UUID) (*models.Transaction, error) {
	return r.driverMutation(ctx, driverID, amount, models.TransactionDebit, method, description, rideID)
}

// CreditDriver runs a driver credit in its own transaction with the store
// retry policy.
func (r *Repository) CreditDriver(ctx context.Context, driverID string, amount int64, method, description string, rideID *uuid.UUID) (*models.Transaction, error) {
	return r.driverMutation(ctx, driverID, amount, models.TransactionCredit, method, description, rideID)
}

func (r *Repository) driverMutation(ctx context.Context, driverID string, amount int64, txType models.TransactionType, method, description string, rideID *uuid.UUID) (*models.Transaction, error) {
	var txn *models.Transaction
	err := database.RetryableTransaction(ctx, r.db, func(tx pgx.Tx) error {
		t, err := r.ApplyDriverMutation(ctx, tx, driverID, amount, txType, method, description, rideID)
		if err != nil {
			return err
		}
		txn = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// ApplyUserMutation executes one locked read-modify-write on the passenger
// wallet inside the caller's transaction.
func (r *Repository) ApplyUserMutation(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64, txType models.TransactionType, method, description string, rideID *uuid.UUID) (*models.UserTransaction, error) {
	var balance int64
	err := tx.QueryRow(ctx, `SELECT wallet FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&balance)
	if err != nil {
		return nil, fmt.Errorf("failed to lock user row: %w", err)
	}

	newBalance := balance + amount
	if txType == models.TransactionDebit {
		if balance < amount {
			return nil, ErrInsufficientFunds
		}
		newBalance = balance - amount
	}

	_, err = tx.Exec(ctx, `UPDATE users SET wallet = $2, updated_at = CURRENT_TIMESTAMP WHERE id = $1`, userID, newBalance)
	if err != nil {
		return nil, fmt.Errorf("failed to update user wallet: %w", err)
	}

	txn := &models.UserTransaction{
		ID:           uuid.New(),
		UserID:       userID,
		Amount:       amount,
		Type:         txType,
		Method:       method,
		Description:  description,
		BalanceAfter: newBalance,
		RideID:       rideID,
	}
	query := `
		INSERT INTO user_transactions (id, user_id, amount, type, method, description, balance_after, ride_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`
	err = tx.QueryRow(ctx, query,
		txn.ID, txn.UserID, txn.Amount, txn.Type, txn.Method, txn.Description, txn.BalanceAfter, txn.RideID,
	).Scan(&txn.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to write user transaction: %w", err)
	}
	return txn, nil
}

// DebitUser runs a passenger debit in its own transaction with the store
// retry policy.
func (r *Repository) DebitUser(ctx context.Context, userID uuid.UUID, amount int64, method, description string, rideID *uuid.UUID) (*models.UserTransaction, error) {
	return r.userMutation(ctx, userID, amount, models.TransactionDebit, method, description, rideID)
}

// CreditUser runs a passenger credit in its own transaction with the store
// retry policy.
func (r *Repository) CreditUser(ctx context.Context, userID uuid.UUID, amount int64, method, description string, rideID *uuid.UUID) (*models.UserTransaction, error) {
	return r.userMutation(ctx, userID, amount, models.TransactionCredit, method, description, rideID)
}

func (r *Repository) userMutation(ctx context.Context, userID uuid.UUID, amount int64, txType models.TransactionType, method, description string, rideID *uuid.UUID) (*models.UserTransaction, error) {
	var txn *models.UserTransaction
	err := database.RetryableTransaction(ctx, r.db, func(tx pgx.Tx) error {
		t, err := r.ApplyUserMutation(ctx, tx, userID, amount, txType, method, description, rideID)
		if err != nil {
			return err
		}
		txn = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// CreditUserRideOnce credits a passenger for a ride at most once. The
// existence check runs inside the same transaction as the credit.
func (r *Repository) CreditUserRideOnce(ctx context.Context, userID, rideID uuid.UUID, amount int64, description string) (*models.UserTransaction, error) {
	var txn *models.UserTransaction
	err := database.RetryableTransaction(ctx, r.db, func(tx pgx.Tx) error {
		var exists bool
		err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM user_transactions WHERE user_id = $1 AND ride_id = $2 AND method = $3)`,
			userID, rideID, models.MethodRideCredit,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check ride credit: %w", err)
		}
		if exists {
			return ErrAlreadyCredited
		}

		t, err := r.ApplyUserMutation(ctx, tx, userID, amount, models.TransactionCredit, models.MethodRideCredit, description, &rideID)
		if err != nil {
			return err
		}
		txn = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// ListDriverTransactions returns a page of a driver's ledger, newest first
func (r *Repository) ListDriverTransactions(ctx context.Context, driverID string, limit, offset int) ([]*models.Transaction, int64, error) {
	var total int64
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM transactions WHERE driver_id = $1`, driverID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count transactions: %w", err)
	}

	query := `
		SELECT id, driver_id, amount, type, method, description, balance_after, ride_id, created_at
		FROM transactions
		WHERE driver_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Query(ctx, query, driverID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	txns := make([]*models.Transaction, 0)
	for rows.Next() {
		t := &models.Transaction{}
		err := rows.Scan(
			&t.ID, &t.DriverID, &t.Amount, &t.Type, &t.Method,
			&t.Description, &t.BalanceAfter, &t.RideID, &t.CreatedAt,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txns = append(txns, t)
	}
	return txns, total, nil
}

// GetRideForCredit loads the slice of a ride the credit-ride flow needs
func (r *Repository) GetRideForCredit(ctx context.Context, rideID uuid.UUID) (*RideRef, error) {
	ref := &RideRef{}
	query := `
		SELECT id, user_id, status, payment_method, fare, actual_fare
		FROM rides WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, rideID).Scan(
		&ref.ID, &ref.UserID, &ref.Status, &ref.PaymentMethod, &ref.Fare, &ref.ActualFare,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get ride: %w", err)
	}
	return ref, nil
}
