package drivers

import (
	"context"

	"github.com/ridepulse/dispatch/pkg/models"
)

// RepositoryInterface defines the driver storage operations used by the
// service
type RepositoryInterface interface {
	GetDriver(ctx context.Context, driverID string) (*models.Driver, error)
	UpdateStatus(ctx context.Context, driverID string, status models.DriverStatus) (bool, error)
	UpdatePushToken(ctx context.Context, driverID, token string) (bool, error)
}

// PresenceUpdater mirrors REST status writes into the in-memory presence
// map so broadcasts and dispatch see them without waiting for a ping
type PresenceUpdater interface {
	SetStatus(driverID string, status models.DriverStatus)
}

// ServiceInterface defines the driver operations used by the HTTP handler
type ServiceInterface interface {
	GetDriver(ctx context.Context, driverID string) (*models.Driver, error)
	UpdateStatus(ctx context.Context, driverID, status string) (*models.Driver, error)
	UpdatePushToken(ctx context.Context, driverID, token string) error
}
