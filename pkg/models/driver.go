package models

import (
	"time"

	"github.com/google/uuid"
)

// DriverStatus represents the presence state of a driver
type DriverStatus string

const (
	DriverStatusOffline DriverStatus = "offline"
	DriverStatusLive    DriverStatus = "live"
	DriverStatusOnRide  DriverStatus = "onRide"
)

// IsValidDriverStatus reports whether s is a known presence status
func IsValidDriverStatus(s DriverStatus) bool {
	switch s {
	case DriverStatusOffline, DriverStatusLive, DriverStatusOnRide:
		return true
	}
	return false
}

// Vehicle types supported by the dispatch engine
const (
	VehicleTypeBike = "bike"
	VehicleTypeTaxi = "taxi"
	VehicleTypePort = "port"
)

// VehicleTypes lists every dispatchable vehicle type
var VehicleTypes = []string{VehicleTypeBike, VehicleTypeTaxi, VehicleTypePort}

// IsValidVehicleType reports whether vt is a dispatchable vehicle type
func IsValidVehicleType(vt string) bool {
	switch vt {
	case VehicleTypeBike, VehicleTypeTaxi, VehicleTypePort:
		return true
	}
	return false
}

// Working-hours shift limits in hours
const (
	ShiftLimit12h = 12
	ShiftLimit24h = 24
)

// DefaultShiftFee is debited from the driver wallet when a new shift starts
const DefaultShiftFee int64 = 100

// Driver represents a driver account with wallet and shift state
type Driver struct {
	ID                          uuid.UUID    `json:"id" db:"id"`
	DriverID                    string       `json:"driver_id" db:"driver_id"`
	Name                        string       `json:"name" db:"name"`
	Phone                       string       `json:"phone" db:"phone"`
	VehicleType                 string       `json:"vehicle_type" db:"vehicle_type"`
	VehicleNumber               string       `json:"vehicle_number" db:"vehicle_number"`
	Status                      DriverStatus `json:"status" db:"status"`
	Wallet                      int64        `json:"wallet" db:"wallet"`
	WorkingHoursLimit           int          `json:"working_hours_limit" db:"working_hours_limit"`
	WorkingHoursDeductionAmount int64        `json:"working_hours_deduction_amount" db:"working_hours_deduction_amount"`
	RemainingWorkingSeconds     int64        `json:"remaining_working_seconds" db:"remaining_working_seconds"`
	TimerActive                 bool         `json:"timer_active" db:"timer_active"`
	TimerStartedAt              *time.Time   `json:"timer_started_at,omitempty" db:"timer_started_at"`
	WarningsIssued              int          `json:"warnings_issued" db:"warnings_issued"`
	ExtendedHoursPurchased      bool         `json:"extended_hours_purchased" db:"extended_hours_purchased"`
	WalletDeducted              bool         `json:"wallet_deducted" db:"wallet_deducted"`
	LastLatitude                *float64     `json:"last_latitude,omitempty" db:"last_latitude"`
	LastLongitude               *float64     `json:"last_longitude,omitempty" db:"last_longitude"`
	LastLocationAt              *time.Time   `json:"last_location_at,omitempty" db:"last_location_at"`
	PushToken                   *string      `json:"push_token,omitempty" db:"push_token"`
	CreatedAt                   time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt                   time.Time    `json:"updated_at" db:"updated_at"`
}

// ShiftSeconds returns the full shift duration for the driver's limit
func (d *Driver) ShiftSeconds() int64 {
	if d.WorkingHoursLimit == ShiftLimit24h {
		return 24 * 3600
	}
	return 12 * 3600
}

// DeductionFee returns the amount debited when the driver's hours run out
// or are extended. New shifts always charge DefaultShiftFee.
func (d *Driver) DeductionFee() int64 {
	if d.WorkingHoursDeductionAmount > 0 {
		return d.WorkingHoursDeductionAmount
	}
	return DefaultShiftFee
}

// HalfTimeFee returns the wallet charge for adding half a shift of extra
// hours: 50 on a 12h limit, 100 on 24h.
func (d *Driver) HalfTimeFee() int64 {
	if d.WorkingHoursLimit == ShiftLimit24h {
		return 100
	}
	return 50
}

// FullTimeFee returns the wallet charge for adding a full shift of extra
// hours: 100 on a 12h limit, 200 on 24h.
func (d *Driver) FullTimeFee() int64 {
	if d.WorkingHoursLimit == ShiftLimit24h {
		return 200
	}
	return 100
}

// ShiftState is the working-hours view of a driver, returned by the shift
// operations and the status endpoint.
type ShiftState struct {
	DriverID               string       `json:"driver_id"`
	Status                 DriverStatus `json:"status"`
	TimerActive            bool         `json:"timer_active"`
	RemainingSeconds       int64        `json:"remaining_seconds"`
	WorkingHoursLimit      int          `json:"working_hours_limit"`
	WarningsIssued         int          `json:"warnings_issued"`
	ExtendedHoursPurchased bool         `json:"extended_hours_purchased"`
	AmountDeducted         int64        `json:"amount_deducted"`
	Resumed                bool         `json:"resumed,omitempty"`
}

// ShiftActionRequest targets a shift operation. DriverID is taken from the
// session for driver callers; admins may name any driver.
type ShiftActionRequest struct {
	DriverID string `json:"driver_id"`
}

// ExtendShiftRequest purchases additional working hours.
type ExtendShiftRequest struct {
	DriverID        string `json:"driver_id"`
	AdditionalHours int    `json:"additional_hours"`
}

// UpdateDriverStatusRequest sets a driver's presence status over REST.
type UpdateDriverStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// UpdateFCMTokenRequest stores the push token ride requests are delivered
// to. DriverID is taken from the session for driver callers; admins may
// name any driver.
type UpdateFCMTokenRequest struct {
	DriverID string `json:"driver_id"`
	FCMToken string `json:"fcm_token" binding:"required"`
}

// DriverLocation is the live position of a driver as broadcast to passengers
type DriverLocation struct {
	DriverID    string    `json:"driver_id"`
	Name        string    `json:"name,omitempty"`
	VehicleType string    `json:"vehicle_type"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Status      string    `json:"status"`
	UpdatedAt   time.Time `json:"updated_at"`
}
