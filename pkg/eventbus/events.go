package eventbus

import (
	"time"

	"github.com/google/uuid"
)

// RideRequestedData is emitted when a booking fans out to drivers.
type RideRequestedData struct {
	RideID          uuid.UUID `json:"ride_id"`
	RaidID          string    `json:"raid_id"`
	UserID          uuid.UUID `json:"user_id"`
	VehicleType     string    `json:"vehicle_type"`
	PickupLatitude  float64   `json:"pickup_latitude"`
	PickupLongitude float64   `json:"pickup_longitude"`
	DestLatitude    float64   `json:"dest_latitude"`
	DestLongitude   float64   `json:"dest_longitude"`
	Fare            int64     `json:"fare"`
	DriversNotified int       `json:"drivers_notified"`
	RequestedAt     time.Time `json:"requested_at"`
}

// RideAcceptedData is emitted when a driver wins a ride.
type RideAcceptedData struct {
	RideID     uuid.UUID `json:"ride_id"`
	RaidID     string    `json:"raid_id"`
	UserID     uuid.UUID `json:"user_id"`
	DriverID   string    `json:"driver_id"`
	AcceptedAt time.Time `json:"accepted_at"`
}

// RideArrivedData is emitted when the driver reports arrival at pickup.
type RideArrivedData struct {
	RideID    uuid.UUID `json:"ride_id"`
	RaidID    string    `json:"raid_id"`
	DriverID  string    `json:"driver_id"`
	ArrivedAt time.Time `json:"arrived_at"`
}

// RideStartedData is emitted after OTP verification starts the trip.
type RideStartedData struct {
	RideID    uuid.UUID `json:"ride_id"`
	RaidID    string    `json:"raid_id"`
	DriverID  string    `json:"driver_id"`
	StartedAt time.Time `json:"started_at"`
}

// RideCompletedData is emitted when a ride finishes.
type RideCompletedData struct {
	RideID        uuid.UUID `json:"ride_id"`
	RaidID        string    `json:"raid_id"`
	UserID        uuid.UUID `json:"user_id"`
	DriverID      string    `json:"driver_id"`
	Fare          int64     `json:"fare"`
	DistanceKm    float64   `json:"distance_km"`
	PaymentMethod string    `json:"payment_method"`
	CompletedAt   time.Time `json:"completed_at"`
}

// RideCancelledData is emitted when a ride is cancelled.
type RideCancelledData struct {
	RideID      uuid.UUID `json:"ride_id"`
	RaidID      string    `json:"raid_id"`
	DriverID    string    `json:"driver_id"` // empty if not yet assigned
	CancelledBy string    `json:"cancelled_by"`
	Reason      string    `json:"reason"`
	CancelledAt time.Time `json:"cancelled_at"`
}

// DriverOnlineData is emitted when a driver starts or resumes a shift.
type DriverOnlineData struct {
	DriverID         string    `json:"driver_id"`
	VehicleType      string    `json:"vehicle_type"`
	RemainingSeconds int64     `json:"remaining_seconds"`
	Resumed          bool      `json:"resumed"`
	OnlineAt         time.Time `json:"online_at"`
}

// DriverOfflineData is emitted when a driver pauses or is stopped.
type DriverOfflineData struct {
	DriverID         string    `json:"driver_id"`
	RemainingSeconds int64     `json:"remaining_seconds"`
	OfflineAt        time.Time `json:"offline_at"`
}

// ShiftWarningData is emitted at each working-hours warning threshold.
type ShiftWarningData struct {
	DriverID         string    `json:"driver_id"`
	RemainingSeconds int64     `json:"remaining_seconds"`
	WarnedAt         time.Time `json:"warned_at"`
}

// ShiftExpiredData is emitted when working hours run out. AutoRenewed
// reports whether the renewal fee was debited and the shift extended.
type ShiftExpiredData struct {
	DriverID    string    `json:"driver_id"`
	AutoRenewed bool      `json:"auto_renewed"`
	ExpiredAt   time.Time `json:"expired_at"`
}

// WalletCreditedData is emitted for every ledger credit.
type WalletCreditedData struct {
	SubjectID    string    `json:"subject_id"` // driver ID or user customer ID
	SubjectType  string    `json:"subject_type"`
	Amount       int64     `json:"amount"`
	BalanceAfter int64     `json:"balance_after"`
	Reason       string    `json:"reason"`
	CreditedAt   time.Time `json:"credited_at"`
}

// WalletDebitedData is emitted for every ledger debit.
type WalletDebitedData struct {
	SubjectID    string    `json:"subject_id"`
	SubjectType  string    `json:"subject_type"`
	Amount       int64     `json:"amount"`
	BalanceAfter int64     `json:"balance_after"`
	Reason       string    `json:"reason"`
	DebitedAt    time.Time `json:"debited_at"`
}

// PriceUpdatedData is emitted when an admin changes a per-km price.
type PriceUpdatedData struct {
	VehicleType string    `json:"vehicle_type"`
	PricePerKm  int64     `json:"price_per_km"`
	UpdatedBy   string    `json:"updated_by"`
	UpdatedAt   time.Time `json:"updated_at"`
}
