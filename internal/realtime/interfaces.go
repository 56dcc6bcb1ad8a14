package realtime

import (
	"context"

	"github.com/ridepulse/dispatch/pkg/models"
)

// PresenceService is the slice of the presence layer driven from the
// socket: registration, movement, heartbeats and the two nearby queries.
type PresenceService interface {
	RegisterDriver(ctx context.Context, driverID string, lat, lng float64) (models.DriverLocation, error)
	UpdateDriverLocation(ctx context.Context, driverID string, lat, lng float64) (models.DriverLocation, error)
	Heartbeat(driverID string) bool
	DriverDisconnected(driverID string)
	DriversNear(lat, lng, radiusKm float64, vehicleType string, limit int) []models.DriverLocation
	NearbyDrivers(ctx context.Context, lat, lng, radiusKm float64, vehicleType string, limit int) ([]models.DriverLocation, error)
	UpdateUserLocation(ctx context.Context, userRef, rideRef string, lat, lng float64) error
}

// ShiftService runs the working-hours timer for driverGoOnline and
// driverOffline.
type ShiftService interface {
	Start(ctx context.Context, driverID string) (*models.ShiftState, error)
	Stop(ctx context.Context, driverID string) (*models.ShiftState, error)
}

// PriceSource answers getCurrentPrices and the connect-time snapshot.
type PriceSource interface {
	CurrentPrices() map[string]int64
}

// DispatchService books rides and arbitrates accept and reject.
type DispatchService interface {
	BookRide(ctx context.Context, req *models.BookRideRequest) (*models.BookingResult, error)
	Accept(ctx context.Context, req *models.AcceptRideRequest) (*models.Ride, error)
	Reject(ctx context.Context, req *models.RejectRideRequest) error
}

// RideService runs the post-accept state machine.
type RideService interface {
	GetRide(ctx context.Context, rideRef string) (*models.Ride, error)
	Start(ctx context.Context, req *models.StartRideRequest) (*models.Ride, error)
	Complete(ctx context.Context, req *models.CompleteRideRequest) (*models.Ride, error)
}

// TokenWriter persists driver push tokens.
type TokenWriter interface {
	UpdatePushToken(ctx context.Context, driverID, token string) error
}

// UserBinder resolves a passenger's external customer id to a user row,
// creating one on first contact.
type UserBinder interface {
	GetOrCreateUserByCustomerID(ctx context.Context, customerID, name, phone string) (*models.User, error)
}
