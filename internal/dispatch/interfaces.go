package dispatch

import (
	"context"

	"github.com/google/uuid"

	"github.com/ridepulse/dispatch/pkg/models"
)

// RideStore is the slice of the ride repository the engine needs.
type RideStore interface {
	CreateRide(ctx context.Context, ride *models.Ride) error
	GetRideByID(ctx context.Context, id uuid.UUID) (*models.Ride, error)
	GetRideByRaidID(ctx context.Context, raidID string) (*models.Ride, error)
	AcceptRide(ctx context.Context, raidID, driverID, driverName string) (bool, error)
	AddRejection(ctx context.Context, rideID uuid.UUID, driverID string, reason *string) error
	SetDriverStatus(ctx context.Context, driverID string, status models.DriverStatus) error
	GetOrCreateUserByCustomerID(ctx context.Context, customerID, name, phone string) (*models.User, error)
}

// IDAllocator hands out raid ids.
type IDAllocator interface {
	Next(ctx context.Context) string
}

// FareCalculator computes the authoritative fare.
type FareCalculator interface {
	CalculateFare(vehicleType string, distanceKm float64) int64
}

// EventSink delivers realtime events to rooms.
type EventSink interface {
	ToUser(userID, event string, data map[string]interface{})
	ToDriver(driverID, event string, data map[string]interface{})
	ToFleet(vehicleType, event string, data map[string]interface{})
	ToFleetExcept(vehicleType, exceptDriverID, event string, data map[string]interface{})
}

// Pusher enqueues best-effort ride request notifications. Implementations
// must not block; drops are counted, not surfaced.
type Pusher interface {
	SendRideRequest(ctx context.Context, token string, ride *models.Ride)
}

// FleetCounter reports how many drivers of a vehicle type are connected.
type FleetCounter interface {
	FleetSize(vehicleType string) int
}

// PresenceUpdater mirrors driver status changes into the presence map.
type PresenceUpdater interface {
	SetStatus(driverID string, status models.DriverStatus)
}

// PushTargetSource lists drivers eligible for a ride request push.
type PushTargetSource interface {
	ListPushTargets(ctx context.Context, vehicleType string) ([]PushTarget, error)
}

// ServiceInterface is the engine surface used by the gateways.
type ServiceInterface interface {
	BookRide(ctx context.Context, req *models.BookRideRequest) (*models.BookingResult, error)
	Accept(ctx context.Context, req *models.AcceptRideRequest) (*models.Ride, error)
	Reject(ctx context.Context, req *models.RejectRideRequest) error
}
