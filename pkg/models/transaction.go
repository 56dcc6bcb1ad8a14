package models

import (
	"time"

	"github.com/google/uuid"
)

// TransactionType is the direction of a wallet movement
type TransactionType string

const (
	TransactionDebit  TransactionType = "debit"
	TransactionCredit TransactionType = "credit"
)

// Wallet transaction methods. The method names the business reason for a
// movement and is the idempotency scope for automated debits.
const (
	MethodShiftStartFee         = "shift_start_fee"
	MethodExtendedHoursAuto     = "extended_hours_auto_debit"
	MethodExtendedHoursPurchase = "extended_hours_purchase"
	MethodExtraHalfTime         = "extra_half_time"
	MethodExtraFullTime         = "extra_full_time"
	MethodRideFare              = "ride_fare"
	MethodRidePayment           = "ride_payment"
	MethodRideCredit            = "ride_credit"
	MethodWalletTopUp           = "wallet_topup"
	MethodWalletWithdrawal      = "wallet_withdrawal"
	MethodAdminCredit           = "admin_credit"
	MethodAdminDebit            = "admin_debit"
)

// Transaction is one row of the driver wallet ledger
type Transaction struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	DriverID     string          `json:"driver_id" db:"driver_id"`
	Amount       int64           `json:"amount" db:"amount"`
	Type         TransactionType `json:"type" db:"type"`
	Method       string          `json:"method" db:"method"`
	Description  string          `json:"description" db:"description"`
	BalanceAfter int64           `json:"balance_after" db:"balance_after"`
	RideID       *uuid.UUID      `json:"ride_id,omitempty" db:"ride_id"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// UserTransaction is one row of the passenger wallet ledger
type UserTransaction struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	UserID       uuid.UUID       `json:"user_id" db:"user_id"`
	Amount       int64           `json:"amount" db:"amount"`
	Type         TransactionType `json:"type" db:"type"`
	Method       string          `json:"method" db:"method"`
	Description  string          `json:"description" db:"description"`
	BalanceAfter int64           `json:"balance_after" db:"balance_after"`
	RideID       *uuid.UUID      `json:"ride_id,omitempty" db:"ride_id"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}
