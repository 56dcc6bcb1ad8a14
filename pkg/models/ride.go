package models

import (
	"time"

	"github.com/google/uuid"
)

// RideStatus represents the lifecycle state of a ride
type RideStatus string

const (
	RideStatusPending   RideStatus = "pending"
	RideStatusAccepted  RideStatus = "accepted"
	RideStatusArrived   RideStatus = "arrived"
	RideStatusStarted   RideStatus = "started"
	RideStatusCompleted RideStatus = "completed"
	RideStatusCancelled RideStatus = "cancelled"
)

// PaymentMethod is how the passenger settles the fare
type PaymentMethod string

const (
	PaymentMethodCash           PaymentMethod = "cash"
	PaymentMethodOnline         PaymentMethod = "online"
	PaymentMethodWallet         PaymentMethod = "wallet"
	PaymentMethodDriverTransfer PaymentMethod = "driver_transfer"
)

// IsValidPaymentMethod reports whether m is an accepted payment method
func IsValidPaymentMethod(m string) bool {
	switch PaymentMethod(m) {
	case PaymentMethodCash, PaymentMethodOnline, PaymentMethodWallet, PaymentMethodDriverTransfer:
		return true
	}
	return false
}

// GeoPoint is a coordinate pair with a human-readable address
type GeoPoint struct {
	Latitude  float64 `json:"latitude" validate:"latitude"`
	Longitude float64 `json:"longitude" validate:"longitude"`
	Address   string  `json:"address,omitempty" validate:"omitempty,max=500"`
}

// Ride represents a ride from request through completion
type Ride struct {
	ID               uuid.UUID     `json:"id" db:"id"`
	RaidID           string        `json:"raid_id" db:"raid_id"`
	UserID           uuid.UUID     `json:"user_id" db:"user_id"`
	CustomerID       string        `json:"customer_id" db:"customer_id"`
	UserName         string        `json:"user_name" db:"user_name"`
	UserPhone        string        `json:"user_phone" db:"user_phone"`
	VehicleType      string        `json:"vehicle_type" db:"vehicle_type"`
	Status           RideStatus    `json:"status" db:"status"`
	PickupLatitude   float64       `json:"pickup_latitude" db:"pickup_latitude"`
	PickupLongitude  float64       `json:"pickup_longitude" db:"pickup_longitude"`
	PickupAddress    string        `json:"pickup_address" db:"pickup_address"`
	DropLatitude     float64       `json:"drop_latitude" db:"drop_latitude"`
	DropLongitude    float64       `json:"drop_longitude" db:"drop_longitude"`
	DropAddress      string        `json:"drop_address" db:"drop_address"`
	DistanceKm       float64       `json:"distance_km" db:"distance_km"`
	TravelTimeMin    int           `json:"travel_time_min" db:"travel_time_min"`
	Fare             int64         `json:"fare" db:"fare"`
	OTP              string        `json:"otp,omitempty" db:"otp"`
	PaymentMethod    PaymentMethod `json:"payment_method" db:"payment_method"`
	WantReturn       bool          `json:"want_return" db:"want_return"`
	DriverID         *string       `json:"driver_id,omitempty" db:"driver_id"`
	DriverName       *string       `json:"driver_name,omitempty" db:"driver_name"`
	ActualDistanceKm *float64      `json:"actual_distance_km,omitempty" db:"actual_distance_km"`
	ActualFare       *int64        `json:"actual_fare,omitempty" db:"actual_fare"`
	RequestedAt      time.Time     `json:"requested_at" db:"requested_at"`
	AcceptedAt       *time.Time    `json:"accepted_at,omitempty" db:"accepted_at"`
	ArrivedAt        *time.Time    `json:"arrived_at,omitempty" db:"arrived_at"`
	StartedAt        *time.Time    `json:"started_at,omitempty" db:"started_at"`
	CompletedAt      *time.Time    `json:"completed_at,omitempty" db:"completed_at"`
	CancelledAt      *time.Time    `json:"cancelled_at,omitempty" db:"cancelled_at"`
	CancelledBy      *string       `json:"cancelled_by,omitempty" db:"cancelled_by"`
	CancelReason     *string       `json:"cancel_reason,omitempty" db:"cancel_reason"`
	CreatedAt        time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at" db:"updated_at"`
}

// FinalFare returns the fare the ride settled at: the recomputed fare when
// an actual distance was reported at completion, otherwise the estimate.
func (r *Ride) FinalFare() int64 {
	if r.ActualFare != nil {
		return *r.ActualFare
	}
	return r.Fare
}

// IsTerminal reports whether the ride can no longer change state
func (r *Ride) IsTerminal() bool {
	return r.Status == RideStatusCompleted || r.Status == RideStatusCancelled
}

// RideRejection records a driver declining a dispatched ride
type RideRejection struct {
	ID         uuid.UUID `json:"id" db:"id"`
	RideID     uuid.UUID `json:"ride_id" db:"ride_id"`
	DriverID   string    `json:"driver_id" db:"driver_id"`
	Reason     *string   `json:"reason,omitempty" db:"reason"`
	RejectedAt time.Time `json:"rejected_at" db:"rejected_at"`
}

// BookRideRequest is the booking payload, accepted over both the socket
// and POST /rides/book-ride-enhanced.
type BookRideRequest struct {
	CustomerID    string   `json:"customer_id" binding:"required" validate:"required,max=64"`
	UserName      string   `json:"user_name" validate:"omitempty,max=100"`
	UserPhone     string   `json:"user_phone" validate:"omitempty,max=20"`
	Pickup        GeoPoint `json:"pickup"`
	Drop          GeoPoint `json:"drop"`
	VehicleType   string   `json:"vehicle_type" binding:"required" validate:"required,vehicle_type"`
	DistanceKm    float64  `json:"distance_km" validate:"gte=0,lte=10000"`
	TravelTimeMin int      `json:"travel_time_min" validate:"gte=0"`
	PaymentMethod string   `json:"payment_method" validate:"omitempty,payment_method"`
	WantReturn    bool     `json:"want_return"`
}

// BookingResult is the booking acknowledgement. AlreadySent marks a
// duplicate booking suppressed inside the dedup window; it carries the
// original ride's identifiers.
type BookingResult struct {
	RideID       uuid.UUID `json:"ride_id"`
	RaidID       string    `json:"raid_id"`
	OTP          string    `json:"otp"`
	Fare         int64     `json:"fare"`
	VehicleType  string    `json:"vehicle_type"`
	DriversFound int       `json:"drivers_found"`
	AlreadySent  bool      `json:"already_sent,omitempty"`
}

// Ride transition requests. RideID accepts either the human-readable raid
// id or the internal UUID.

type AcceptRideRequest struct {
	RideID      string  `json:"ride_id" binding:"required"`
	DriverID    string  `json:"driver_id"`
	DriverName  string  `json:"driver_name"`
	DriverLat   float64 `json:"driver_lat"`
	DriverLng   float64 `json:"driver_lng"`
	VehicleType string  `json:"vehicle_type"`
}

type RejectRideRequest struct {
	RideID   string  `json:"ride_id" binding:"required"`
	DriverID string  `json:"driver_id"`
	Reason   *string `json:"reason,omitempty"`
}

type ArrivedRequest struct {
	RideID   string `json:"ride_id" binding:"required"`
	DriverID string `json:"driver_id"`
}

type StartRideRequest struct {
	RideID   string `json:"ride_id" binding:"required"`
	DriverID string `json:"driver_id"`
	OTP      string `json:"otp" binding:"required"`
}

type CompleteRideRequest struct {
	RideID       string    `json:"ride_id" binding:"required"`
	DriverID     string    `json:"driver_id"`
	DistanceKm   float64   `json:"distance_km"`
	Fare         int64     `json:"fare"` // client-reported, never trusted
	ActualPickup *GeoPoint `json:"actual_pickup,omitempty"`
	ActualDrop   *GeoPoint `json:"actual_drop,omitempty"`
}

type CancelRideRequest struct {
	RideID      string  `json:"ride_id" binding:"required"`
	CancelledBy string  `json:"cancelled_by" binding:"omitempty,oneof=passenger driver admin"`
	Reason      *string `json:"reason,omitempty"`
}
