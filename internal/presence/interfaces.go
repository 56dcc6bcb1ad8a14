package presence

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ridepulse/dispatch/pkg/models"
	redisclient "github.com/ridepulse/dispatch/pkg/redis"
)

// Store is the persistence surface of the presence layer
type Store interface {
	GetDriver(ctx context.Context, driverID string) (*models.Driver, error)
	UpdateDriverPresence(ctx context.Context, driverID string, status models.DriverStatus, lat, lng float64) error
	SetDriverStatus(ctx context.Context, driverID string, status models.DriverStatus) error
	ResolveUserID(ctx context.Context, ref string) (uuid.UUID, error)
}

// GeoIndex is the geospatial index used to answer nearby-driver queries.
// All writes are best effort; the registry remains the source of truth.
type GeoIndex interface {
	GeoAdd(ctx context.Context, key string, longitude, latitude float64, member string) error
	GeoSearch(ctx context.Context, key string, longitude, latitude, radiusKm float64, count int) ([]redisclient.GeoMember, error)
	GeoRemove(ctx context.Context, key string, member string) error
}

// SampleSink receives location samples for background persistence
type SampleSink interface {
	Record(sample models.LocationSample)
}

// Emitter pushes presence events into gateway rooms
type Emitter interface {
	ToDriver(driverID, event string, data map[string]interface{})
	ToAll(event string, data map[string]interface{})
}

// RideReader resolves a ride reference to its current state. Used to route
// passenger live location to the assigned driver.
type RideReader interface {
	GetRide(ctx context.Context, rideRef string) (*models.Ride, error)
}

// Prunable is an expiring cache the sweeper can age out.
type Prunable interface {
	PruneOlderThan(maxAge time.Duration) int
}
