package presence

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/ridepulse/dispatch/internal/realtime"
	"github.com/ridepulse/dispatch/pkg/common"
	"github.com/ridepulse/dispatch/pkg/geo"
	"github.com/ridepulse/dispatch/pkg/logger"
	"github.com/ridepulse/dispatch/pkg/metrics"
	"github.com/ridepulse/dispatch/pkg/models"
	"github.com/ridepulse/dispatch/pkg/tracing"
)

const (
	tracerName = "presence-service"

	// DriverGeoKey is the Redis GEO index holding live driver positions.
	DriverGeoKey = "drivers:geo:index"

	defaultNearbyLimit = 50
)

// Service tracks who is online and fans their positions out. The in-memory
// registry is authoritative for liveness; the store and the geo index trail
// it best effort.
type Service struct {
	registry *Registry
	users    *UserTracker
	store    Store
	rides    RideReader
	events   Emitter
	geo      GeoIndex
	samples  SampleSink
}

// NewService wires the presence service.
func NewService(registry *Registry, users *UserTracker, store Store, rides RideReader, events Emitter, geoIndex GeoIndex, samples SampleSink) *Service {
	return &Service{
		registry: registry,
		users:    users,
		store:    store,
		rides:    rides,
		events:   events,
		geo:      geoIndex,
		samples:  samples,
	}
}

// SetRideReader wires ride resolution after construction. The ride
// service mirrors status through this presence layer, so one of the two
// has to be bound late.
func (s *Service) SetRideReader(rides RideReader) {
	s.rides = rides
}

// RegisterDriver brings a driver onto the live map. The vehicle type always
// comes from the store; the client-sent hint is ignored. A driver
// reconnecting mid-ride keeps onRide status.
func (s *Service) RegisterDriver(ctx context.Context, driverID string, lat, lng float64) (models.DriverLocation, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "presence.RegisterDriver")
	defer span.End()
	tracing.AddSpanAttributes(ctx, tracing.DriverAttribute(driverID))

	driver, err := s.store.GetDriver(ctx, driverID)
	if err != nil {
		tracing.RecordError(ctx, err)
		if errors.Is(err, pgx.ErrNoRows) {
			return models.DriverLocation{}, common.NewNotFoundError("driver not found", err)
		}
		return models.DriverLocation{}, common.NewServiceUnavailableError("driver store unavailable", err)
	}

	status := models.DriverStatusLive
	if prior, ok := s.registry.Get(driverID); ok && prior.Status == models.DriverStatusOnRide {
		status = models.DriverStatusOnRide
	} else if driver.Status == models.DriverStatusOnRide {
		status = models.DriverStatusOnRide
	}

	entry := Entry{
		DriverID:    driverID,
		Name:        driver.Name,
		VehicleType: driver.VehicleType,
		Latitude:    lat,
		Longitude:   lng,
		Status:      status,
		Online:      true,
	}
	s.registry.Upsert(entry)

	if s.geo != nil {
		if err := s.geo.GeoAdd(ctx, DriverGeoKey, lng, lat, driverID); err != nil {
			logger.Warn("failed to index driver position",
				zap.String("driver_id", driverID),
				zap.Error(err),
			)
		}
	}
	if err := s.store.UpdateDriverPresence(ctx, driverID, status, lat, lng); err != nil {
		logger.Warn("failed to persist driver presence",
			zap.String("driver_id", driverID),
			zap.Error(err),
		)
	}
	s.recordDriverSample(driverID, lat, lng, status)
	s.emitDriverDelta(entry)
	metrics.LocationUpdates.WithLabelValues(string(models.SubjectDriver)).Inc()

	logger.InfoContext(ctx, "driver registered on live map",
		zap.String("driver_id", driverID),
		zap.String("vehicle_type", driver.VehicleType),
		zap.String("status", string(status)),
	)

	entry, _ = s.registry.Get(driverID)
	return entryLocation(entry), nil
}

// UpdateDriverLocation moves a registered driver. Unregistered drivers are
// rejected so the client re-registers and gets its rooms back.
func (s *Service) UpdateDriverLocation(ctx context.Context, driverID string, lat, lng float64) (models.DriverLocation, error) {
	entry, ok := s.registry.Touch(driverID, lat, lng)
	if !ok {
		return models.DriverLocation{}, common.NewNotFoundError("driver not registered", nil)
	}

	if s.geo != nil {
		if err := s.geo.GeoAdd(ctx, DriverGeoKey, lng, lat, driverID); err != nil {
			logger.Warn("failed to index driver position",
				zap.String("driver_id", driverID),
				zap.Error(err),
			)
		}
	}
	s.recordDriverSample(driverID, lat, lng, entry.Status)
	s.emitDriverDelta(entry)
	metrics.LocationUpdates.WithLabelValues(string(models.SubjectDriver)).Inc()
	return entryLocation(entry), nil
}

// Heartbeat refreshes a driver's freshness window without moving them.
func (s *Service) Heartbeat(driverID string) bool {
	return s.registry.Heartbeat(driverID)
}

// DriverDisconnected marks the socket gone. The entry stays for the
// eviction grace window so a quick reconnect keeps its position.
func (s *Service) DriverDisconnected(driverID string) {
	s.registry.SetOnline(driverID, false)
}

// SetStatus mirrors a status change into the registry. Callers own the
// store write; this keeps the live map in step.
func (s *Service) SetStatus(driverID string, status models.DriverStatus) {
	s.registry.SetStatus(driverID, status)
}

// FleetSize reports connected drivers for a vehicle type.
func (s *Service) FleetSize(vehicleType string) int {
	return s.registry.FleetSize(vehicleType)
}

// DriversNear answers from the in-memory snapshot: bounding-box prefilter,
// then haversine, nearest first.
func (s *Service) DriversNear(lat, lng, radiusKm float64, vehicleType string, limit int) []models.DriverLocation {
	if limit <= 0 {
		limit = defaultNearbyLimit
	}
	bounds := geo.BoundingBox(lat, lng, radiusKm)

	type scored struct {
		loc  models.DriverLocation
		dist float64
	}
	var matches []scored
	for _, entry := range s.registry.Snapshot() {
		if !entry.Online || entry.Status == models.DriverStatusOffline {
			continue
		}
		if vehicleType != "" && entry.VehicleType != vehicleType {
			continue
		}
		if !bounds.Contains(entry.Latitude, entry.Longitude) {
			continue
		}
		dist := geo.Haversine(lat, lng, entry.Latitude, entry.Longitude)
		if dist > radiusKm {
			continue
		}
		matches = append(matches, scored{loc: entryLocation(entry), dist: dist})
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].dist < matches[j].dist })
	if len(matches) > limit {
		matches = matches[:limit]
	}

	locations := make([]models.DriverLocation, 0, len(matches))
	for _, m := range matches {
		locations = append(locations, m.loc)
	}
	return locations
}

// NearbyDrivers answers from the Redis geo index, cross-checked against the
// registry so evicted or offline drivers never surface. Falls back to the
// in-memory snapshot when Redis is unreachable.
func (s *Service) NearbyDrivers(ctx context.Context, lat, lng, radiusKm float64, vehicleType string, limit int) ([]models.DriverLocation, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "presence.NearbyDrivers")
	defer span.End()

	if limit <= 0 {
		limit = defaultNearbyLimit
	}
	if s.geo == nil {
		return s.DriversNear(lat, lng, radiusKm, vehicleType, limit), nil
	}

	members, err := s.geo.GeoSearch(ctx, DriverGeoKey, lng, lat, radiusKm, limit*2)
	if err != nil {
		tracing.RecordError(ctx, err)
		logger.Warn("geo index search failed, answering from registry", zap.Error(err))
		return s.DriversNear(lat, lng, radiusKm, vehicleType, limit), nil
	}

	locations := make([]models.DriverLocation, 0, len(members))
	for _, member := range members {
		entry, ok := s.registry.Get(member.Name)
		if !ok || !entry.Online || entry.Status == models.DriverStatusOffline {
			continue
		}
		if vehicleType != "" && entry.VehicleType != vehicleType {
			continue
		}
		locations = append(locations, entryLocation(entry))
		if len(locations) >= limit {
			break
		}
	}
	return locations, nil
}

// UpdateUserLocation tracks a passenger during a ride. The sample is always
// persisted; the live update only reaches a driver once the ride has one.
func (s *Service) UpdateUserLocation(ctx context.Context, userRef, rideRef string, lat, lng float64) error {
	ctx, span := tracing.StartSpan(ctx, tracerName, "presence.UpdateUserLocation")
	defer span.End()

	userID, err := s.store.ResolveUserID(ctx, userRef)
	if err != nil {
		tracing.RecordError(ctx, err)
		if errors.Is(err, pgx.ErrNoRows) {
			return common.NewNotFoundError("user not found", err)
		}
		return common.NewServiceUnavailableError("user store unavailable", err)
	}

	s.users.Touch(userID.String(), rideRef)

	sample := models.LocationSample{
		SubjectID: userID.String(),
		Kind:      models.SubjectUser,
		Latitude:  lat,
		Longitude: lng,
	}

	var ride *models.Ride
	if rideRef != "" && s.rides != nil {
		ride, err = s.rides.GetRide(ctx, rideRef)
		if err != nil {
			logger.Warn("user location recorded without ride context",
				zap.String("ride_ref", rideRef),
				zap.Error(err),
			)
			ride = nil
		}
	}
	if ride != nil {
		sample.RideID = &ride.ID
	}
	if s.samples != nil {
		s.samples.Record(sample)
	}
	metrics.LocationUpdates.WithLabelValues(string(models.SubjectUser)).Inc()

	if ride == nil || ride.DriverID == nil {
		return nil
	}
	s.events.ToDriver(*ride.DriverID, realtime.EventUserLiveLocationUpdate, map[string]interface{}{
		"userId":    userID.String(),
		"rideId":    ride.RaidID,
		"latitude":  lat,
		"longitude": lng,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	return nil
}

func (s *Service) recordDriverSample(driverID string, lat, lng float64, status models.DriverStatus) {
	if s.samples == nil {
		return
	}
	s.samples.Record(models.LocationSample{
		SubjectID: driverID,
		Kind:      models.SubjectDriver,
		Latitude:  lat,
		Longitude: lng,
		Status:    string(status),
	})
}

func (s *Service) emitDriverDelta(entry Entry) {
	if s.events == nil {
		return
	}
	s.events.ToAll(realtime.EventDriverLiveLocationUpdate, map[string]interface{}{
		"driverId":    entry.DriverID,
		"vehicleType": entry.VehicleType,
		"latitude":    entry.Latitude,
		"longitude":   entry.Longitude,
		"status":      string(entry.Status),
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	})
}

func entryLocation(entry Entry) models.DriverLocation {
	return models.DriverLocation{
		DriverID:    entry.DriverID,
		Name:        entry.Name,
		VehicleType: entry.VehicleType,
		Latitude:    entry.Latitude,
		Longitude:   entry.Longitude,
		Status:      string(entry.Status),
		UpdatedAt:   entry.LastUpdate,
	}
}
