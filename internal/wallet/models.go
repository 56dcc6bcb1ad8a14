package wallet

import (
	"errors"

	"github.com/google/uuid"

	"github.com/ridepulse/dispatch/pkg/models"
)

// Sentinel errors surfaced by the repository and mapped to the error
// taxonomy in the ledger.
var (
	ErrInsufficientFunds = errors.New("insufficient wallet balance")
	ErrAlreadyCredited   = errors.New("ride already credited")
)

// DriverOp describes one driver wallet mutation. Ref scopes the
// idempotency claim; it defaults to the ride ID when present.
type DriverOp struct {
	DriverID    string
	Amount      int64
	Method      string
	Description string
	RideID      *uuid.UUID
	Ref         string
}

func (op *DriverOp) ref() string {
	if op.Ref != "" {
		return op.Ref
	}
	if op.RideID != nil {
		return op.RideID.String()
	}
	return ""
}

func (op *DriverOp) validate() error {
	if op.DriverID == "" {
		return errors.New("driver id is required")
	}
	if op.Amount <= 0 {
		return errors.New("amount must be positive")
	}
	if op.Method == "" {
		return errors.New("method is required")
	}
	return nil
}

// UserOp describes one passenger wallet mutation.
type UserOp struct {
	UserID      uuid.UUID
	Amount      int64
	Method      string
	Description string
	RideID      *uuid.UUID
	Ref         string
}

func (op *UserOp) ref() string {
	if op.Ref != "" {
		return op.Ref
	}
	if op.RideID != nil {
		return op.RideID.String()
	}
	return ""
}

func (op *UserOp) validate() error {
	if op.UserID == uuid.Nil {
		return errors.New("user id is required")
	}
	if op.Amount <= 0 {
		return errors.New("amount must be positive")
	}
	if op.Method == "" {
		return errors.New("method is required")
	}
	return nil
}

// RideRef is the slice of a ride the ledger needs for ride-scoped credits.
type RideRef struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	Status        models.RideStatus
	PaymentMethod models.PaymentMethod
	Fare          int64
	ActualFare    *int64
}

// FinalFare returns the actual fare when recorded, the estimate otherwise.
func (r *RideRef) FinalFare() int64 {
	if r.ActualFare != nil {
		return *r.ActualFare
	}
	return r.Fare
}

// DirectWalletRequest is the admin payload for a manual ledger adjustment.
type DirectWalletRequest struct {
	Amount      int64  `json:"amount" binding:"required,gt=0"`
	Type        string `json:"type" binding:"required,oneof=credit debit"`
	Method      string `json:"method"`
	Description string `json:"description"`
}

// TopUpRequest is the add-money payload. With Stripe configured and no
// PaymentIntentID, the response carries a client secret to confirm;
// posting again with the succeeded intent's ID credits the wallet. Without
// Stripe the amount is credited directly.
type TopUpRequest struct {
	Amount          int64  `json:"amount"`
	PaymentIntentID string `json:"payment_intent_id"`
}

// PaymentRequest debits the passenger wallet.
type PaymentRequest struct {
	Amount      int64      `json:"amount" binding:"required,gt=0"`
	RideID      *uuid.UUID `json:"ride_id"`
	Description string     `json:"description"`
}

// WithdrawRequest moves wallet funds back out.
type WithdrawRequest struct {
	Amount int64 `json:"amount" binding:"required,gt=0"`
}

// CreditRideRequest credits the passenger wallet with the final fare of a
// completed driver-transfer ride.
type CreditRideRequest struct {
	RideID uuid.UUID `json:"ride_id" binding:"required"`
}

// BalanceResponse is the GET /wallet/balance payload.
type BalanceResponse struct {
	Balance int64 `json:"balance"`
}

// TopUpIntent is returned when the payment provider requires client-side
// confirmation before the wallet is credited.
type TopUpIntent struct {
	PaymentIntentID string `json:"payment_intent_id"`
	ClientSecret    string `json:"client_secret"`
	RequiresAction  bool   `json:"requires_action"`
}

// TopUpResult is the add-money response: either a pending intent or the
// committed transaction.
type TopUpResult struct {
	Intent      *TopUpIntent            `json:"intent,omitempty"`
	Transaction *models.UserTransaction `json:"transaction,omitempty"`
}
