package wallet

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stripe/stripe-go/v83"

	"github.com/ridepulse/dispatch/pkg/models"
)

// RepositoryInterface defines the ledger storage operations used by the
// service
type RepositoryInterface interface {
	GetDriverBalance(ctx context.Context, driverID string) (int64, error)
	GetUserBalance(ctx context.Context, userID uuid.UUID) (int64, error)
	DebitDriver(ctx context.Context, driverID string, amount int64, method, description string, rideID *uuid.UUID) (*models.Transaction, error)
	CreditDriver(ctx context.Context, driverID string, amount int64, method, description string, rideID *uuid.UUID) (*models.Transaction, error)
	DebitUser(ctx context.Context, userID uuid.UUID, amount int64, method, description string, rideID *uuid.UUID) (*models.UserTransaction, error)
	CreditUser(ctx context.Context, userID uuid.UUID, amount int64, method, description string, rideID *uuid.UUID) (*models.UserTransaction, error)
	CreditUserRideOnce(ctx context.Context, userID, rideID uuid.UUID, amount int64, description string) (*models.UserTransaction, error)
	ApplyDriverMutation(ctx context.Context, tx pgx.Tx, driverID string, amount int64, txType models.TransactionType, method, description string, rideID *uuid.UUID) (*models.Transaction, error)
	ListDriverTransactions(ctx context.Context, driverID string, limit, offset int) ([]*models.Transaction, int64, error)
	GetRideForCredit(ctx context.Context, rideID uuid.UUID) (*RideRef, error)
}

// Emitter delivers wallet events to realtime sessions
type Emitter interface {
	ToDriver(driverID, event string, data map[string]interface{})
	ToUser(userID, event string, data map[string]interface{})
}

// StripeProvider abstracts the payment intent operations for the top-up
// flow
type StripeProvider interface {
	Enabled() bool
	CreatePaymentIntent(amount int64, currency, description string, metadata map[string]string) (*stripe.PaymentIntent, error)
	GetPaymentIntent(paymentIntentID string) (*stripe.PaymentIntent, error)
}

// ServiceInterface defines the wallet operations used by the HTTP handler
type ServiceInterface interface {
	DirectAdjust(ctx context.Context, driverID string, req *DirectWalletRequest) (*models.Transaction, error)
	DriverTransactions(ctx context.Context, driverID string, limit, offset int) ([]*models.Transaction, int64, error)
	UserBalance(ctx context.Context, userID uuid.UUID) (int64, error)
	AddMoney(ctx context.Context, userID uuid.UUID, req *TopUpRequest) (*TopUpResult, error)
	Payment(ctx context.Context, userID uuid.UUID, req *PaymentRequest) (*models.UserTransaction, error)
	Withdraw(ctx context.Context, userID uuid.UUID, req *WithdrawRequest) (*models.UserTransaction, error)
	CreditRide(ctx context.Context, userID uuid.UUID, req *CreditRideRequest) (*models.UserTransaction, error)
}
