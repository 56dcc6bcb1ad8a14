package rides

import (
	"context"

	"github.com/google/uuid"

	"github.com/ridepulse/dispatch/internal/wallet"
	"github.com/ridepulse/dispatch/pkg/models"
)

// RepositoryInterface defines the ride storage operations used by the
// state machine and the dispatch engine
type RepositoryInterface interface {
	CreateRide(ctx context.Context, ride *models.Ride) error
	GetRideByID(ctx context.Context, id uuid.UUID) (*models.Ride, error)
	GetRideByRaidID(ctx context.Context, raidID string) (*models.Ride, error)
	AcceptRide(ctx context.Context, raidID, driverID, driverName string) (bool, error)
	MarkArrived(ctx context.Context, raidID, driverID string) (bool, error)
	StartRide(ctx context.Context, raidID, driverID string) (bool, error)
	CompleteRide(ctx context.Context, raidID, driverID string, actualDistanceKm float64, actualFare int64) (bool, error)
	CancelRide(ctx context.Context, raidID, cancelledBy string, reason *string) (bool, error)
	AddRejection(ctx context.Context, rideID uuid.UUID, driverID string, reason *string) error
	SetDriverStatus(ctx context.Context, driverID string, status models.DriverStatus) error
	GetOrCreateUserByCustomerID(ctx context.Context, customerID, name, phone string) (*models.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// FareCalculator recomputes the authoritative fare at completion
type FareCalculator interface {
	CalculateFare(vehicleType string, distanceKm float64) int64
}

// WalletLedger is the slice of the wallet service the completion path
// needs. Credit failures are logged and never roll the ride back.
type WalletLedger interface {
	CreditDriver(ctx context.Context, op wallet.DriverOp) (*models.Transaction, error)
	DebitUser(ctx context.Context, op wallet.UserOp) (*models.UserTransaction, error)
}

// EventSink delivers lifecycle events to realtime rooms
type EventSink interface {
	ToUser(userID, event string, data map[string]interface{})
	ToDriver(driverID, event string, data map[string]interface{})
	ToFleet(vehicleType, event string, data map[string]interface{})
	ToFleetExcept(vehicleType, exceptDriverID, event string, data map[string]interface{})
}

// ActiveRideStore is the in-memory dispatch cache; completed and
// cancelled rides are evicted from it
type ActiveRideStore interface {
	Remove(raidID string)
}

// PresenceUpdater pushes driver status changes into the presence map
type PresenceUpdater interface {
	SetStatus(driverID string, status models.DriverStatus)
}

// ServiceInterface defines the ride operations used by the HTTP handler
// and the realtime gateway
type ServiceInterface interface {
	GetRide(ctx context.Context, rideRef string) (*models.Ride, error)
	Arrived(ctx context.Context, req *models.ArrivedRequest) (*models.Ride, error)
	Start(ctx context.Context, req *models.StartRideRequest) (*models.Ride, error)
	Complete(ctx context.Context, req *models.CompleteRideRequest) (*models.Ride, error)
	Cancel(ctx context.Context, req *models.CancelRideRequest) (*models.Ride, error)
}
