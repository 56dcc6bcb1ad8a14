package presence

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridepulse/dispatch/internal/realtime"
	"github.com/ridepulse/dispatch/pkg/common"
	"github.com/ridepulse/dispatch/pkg/models"
	redisclient "github.com/ridepulse/dispatch/pkg/redis"
)

type presenceWrite struct {
	driverID string
	status   models.DriverStatus
	lat      float64
	lng      float64
}

type fakeStore struct {
	driver     *models.Driver
	getErr     error
	writes     []presenceWrite
	statusSets map[string]models.DriverStatus
	userID     uuid.UUID
	resolveErr error
}

func (f *fakeStore) GetDriver(_ context.Context, _ string) (*models.Driver, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.driver, nil
}

func (f *fakeStore) UpdateDriverPresence(_ context.Context, driverID string, status models.DriverStatus, lat, lng float64) error {
	f.writes = append(f.writes, presenceWrite{driverID: driverID, status: status, lat: lat, lng: lng})
	return nil
}

func (f *fakeStore) SetDriverStatus(_ context.Context, driverID string, status models.DriverStatus) error {
	if f.statusSets == nil {
		f.statusSets = make(map[string]models.DriverStatus)
	}
	f.statusSets[driverID] = status
	return nil
}

func (f *fakeStore) ResolveUserID(_ context.Context, _ string) (uuid.UUID, error) {
	if f.resolveErr != nil {
		return uuid.Nil, f.resolveErr
	}
	return f.userID, nil
}

type fakeGeo struct {
	added   []string
	removed []string
	members []redisclient.GeoMember
	addErr  error
	findErr error
}

func (f *fakeGeo) GeoAdd(_ context.Context, _ string, _, _ float64, member string) error {
	if f.addErr != nil {
		return f.addErr
	}
	f.added = append(f.added, member)
	return nil
}

func (f *fakeGeo) GeoSearch(_ context.Context, _ string, _, _, _ float64, _ int) ([]redisclient.GeoMember, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.members, nil
}

func (f *fakeGeo) GeoRemove(_ context.Context, _ string, member string) error {
	f.removed = append(f.removed, member)
	return nil
}

type fakeSink struct {
	samples []models.LocationSample
}

func (f *fakeSink) Record(sample models.LocationSample) {
	f.samples = append(f.samples, sample)
}

type emitted struct {
	target string
	event  string
	data   map[string]interface{}
}

type fakeEmitter struct {
	events []emitted
}

func (f *fakeEmitter) ToDriver(driverID, event string, data map[string]interface{}) {
	f.events = append(f.events, emitted{target: "driver:" + driverID, event: event, data: data})
}

func (f *fakeEmitter) ToAll(event string, data map[string]interface{}) {
	f.events = append(f.events, emitted{target: "all", event: event, data: data})
}

type fakeRides struct {
	ride *models.Ride
	err  error
}

func (f *fakeRides) GetRide(_ context.Context, _ string) (*models.Ride, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.ride, nil
}

func newTestPresence(store *fakeStore, geoIdx *fakeGeo, rides *fakeRides) (*Service, *Registry, *fakeSink, *fakeEmitter) {
	registry := NewRegistry()
	sink := &fakeSink{}
	emitter := &fakeEmitter{}
	var geoIface GeoIndex
	if geoIdx != nil {
		geoIface = geoIdx
	}
	var rideIface RideReader
	if rides != nil {
		rideIface = rides
	}
	svc := NewService(registry, NewUserTracker(), store, rideIface, emitter, geoIface, sink)
	return svc, registry, sink, emitter
}

func assertStatusCode(t *testing.T, err error, want int) {
	t.Helper()
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, want, appErr.Code)
}

func TestRegisterDriverUsesStoreVehicleType(t *testing.T) {
	store := &fakeStore{driver: &models.Driver{
		DriverID:    "DR1001",
		Name:        "Ravi",
		VehicleType: models.VehicleTypeTaxi,
		Status:      models.DriverStatusOffline,
	}}
	geoIdx := &fakeGeo{}
	svc, registry, sink, emitter := newTestPresence(store, geoIdx, nil)

	loc, err := svc.RegisterDriver(context.Background(), "DR1001", 12.9716, 77.5946)
	require.NoError(t, err)
	assert.Equal(t, models.VehicleTypeTaxi, loc.VehicleType)
	assert.Equal(t, string(models.DriverStatusLive), loc.Status)

	got, ok := registry.Get("DR1001")
	require.True(t, ok)
	assert.Equal(t, models.VehicleTypeTaxi, got.VehicleType)
	assert.True(t, got.Online)

	assert.Equal(t, []string{"DR1001"}, geoIdx.added)
	require.Len(t, store.writes, 1)
	assert.Equal(t, models.DriverStatusLive, store.writes[0].status)

	require.Len(t, sink.samples, 1)
	assert.Equal(t, models.SubjectDriver, sink.samples[0].Kind)
	assert.Equal(t, "DR1001", sink.samples[0].SubjectID)

	require.Len(t, emitter.events, 1)
	assert.Equal(t, "all", emitter.events[0].target)
	assert.Equal(t, realtime.EventDriverLiveLocationUpdate, emitter.events[0].event)
	assert.Equal(t, "DR1001", emitter.events[0].data["driverId"])
}

func TestRegisterDriverPreservesOnRide(t *testing.T) {
	store := &fakeStore{driver: &models.Driver{
		DriverID:    "DR1001",
		Name:        "Ravi",
		VehicleType: models.VehicleTypeBike,
		Status:      models.DriverStatusOnRide,
	}}
	svc, _, _, _ := newTestPresence(store, nil, nil)

	// Reconnect mid-ride: the store still says onRide.
	loc, err := svc.RegisterDriver(context.Background(), "DR1001", 12.9716, 77.5946)
	require.NoError(t, err)
	assert.Equal(t, string(models.DriverStatusOnRide), loc.Status)
}

func TestRegisterDriverPreservesRegistryOnRide(t *testing.T) {
	store := &fakeStore{driver: &models.Driver{
		DriverID:    "DR1001",
		Name:        "Ravi",
		VehicleType: models.VehicleTypeBike,
		Status:      models.DriverStatusLive,
	}}
	svc, registry, _, _ := newTestPresence(store, nil, nil)
	registry.Upsert(Entry{DriverID: "DR1001", VehicleType: models.VehicleTypeBike, Status: models.DriverStatusOnRide, Online: true})

	loc, err := svc.RegisterDriver(context.Background(), "DR1001", 12.9716, 77.5946)
	require.NoError(t, err)
	assert.Equal(t, string(models.DriverStatusOnRide), loc.Status)
}

func TestRegisterDriverUnknown(t *testing.T) {
	store := &fakeStore{getErr: pgx.ErrNoRows}
	svc, _, _, _ := newTestPresence(store, nil, nil)

	_, err := svc.RegisterDriver(context.Background(), "DR9999", 12.9716, 77.5946)
	assertStatusCode(t, err, http.StatusNotFound)
}

func TestUpdateDriverLocationUnregistered(t *testing.T) {
	svc, _, _, _ := newTestPresence(&fakeStore{}, nil, nil)

	_, err := svc.UpdateDriverLocation(context.Background(), "DR1001", 12.98, 77.60)
	assertStatusCode(t, err, http.StatusNotFound)
}

func TestUpdateDriverLocationFlow(t *testing.T) {
	geoIdx := &fakeGeo{}
	svc, registry, sink, emitter := newTestPresence(&fakeStore{}, geoIdx, nil)
	registry.Upsert(bikeEntry("DR1001"))

	loc, err := svc.UpdateDriverLocation(context.Background(), "DR1001", 12.98, 77.60)
	require.NoError(t, err)
	assert.Equal(t, 12.98, loc.Latitude)

	assert.Equal(t, []string{"DR1001"}, geoIdx.added)
	require.Len(t, sink.samples, 1)
	assert.Equal(t, 12.98, sink.samples[0].Latitude)
	require.Len(t, emitter.events, 1)
	assert.Equal(t, realtime.EventDriverLiveLocationUpdate, emitter.events[0].event)
}

func TestDriverDisconnectedKeepsEntry(t *testing.T) {
	svc, registry, _, _ := newTestPresence(&fakeStore{}, nil, nil)
	registry.Upsert(bikeEntry("DR1001"))

	svc.DriverDisconnected("DR1001")

	entry, ok := registry.Get("DR1001")
	require.True(t, ok)
	assert.False(t, entry.Online)
}

func TestDriversNearFiltersAndSorts(t *testing.T) {
	svc, registry, _, _ := newTestPresence(&fakeStore{}, nil, nil)

	near := bikeEntry("DR-NEAR")
	near.Latitude, near.Longitude = 12.976, 77.5946
	farther := bikeEntry("DR-FARTHER")
	farther.Latitude, farther.Longitude = 12.99, 77.5946
	distant := bikeEntry("DR-DISTANT")
	distant.Latitude, distant.Longitude = 13.17, 77.5946
	offline := bikeEntry("DR-OFFLINE")
	offline.Latitude, offline.Longitude = 12.976, 77.5946
	offline.Status = models.DriverStatusOffline
	offline.Online = false
	taxi := bikeEntry("DR-TAXI")
	taxi.Latitude, taxi.Longitude = 12.976, 77.5946
	taxi.VehicleType = models.VehicleTypeTaxi

	for _, e := range []Entry{farther, near, distant, offline, taxi} {
		registry.Upsert(e)
	}

	got := svc.DriversNear(12.9716, 77.5946, 5, models.VehicleTypeBike, 10)
	require.Len(t, got, 2)
	assert.Equal(t, "DR-NEAR", got[0].DriverID)
	assert.Equal(t, "DR-FARTHER", got[1].DriverID)
}

func TestNearbyDriversCrossChecksRegistry(t *testing.T) {
	geoIdx := &fakeGeo{members: []redisclient.GeoMember{
		{Name: "DR1001", DistanceKm: 0.4},
		{Name: "DR-GONE", DistanceKm: 0.9},
		{Name: "DR-OFF", DistanceKm: 1.2},
	}}
	svc, registry, _, _ := newTestPresence(&fakeStore{}, geoIdx, nil)
	registry.Upsert(bikeEntry("DR1001"))
	off := bikeEntry("DR-OFF")
	off.Online = false
	registry.Upsert(off)

	got, err := svc.NearbyDrivers(context.Background(), 12.9716, 77.5946, 5, models.VehicleTypeBike, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "DR1001", got[0].DriverID)
}

func TestNearbyDriversFallsBackOnIndexError(t *testing.T) {
	geoIdx := &fakeGeo{findErr: errors.New("connection refused")}
	svc, registry, _, _ := newTestPresence(&fakeStore{}, geoIdx, nil)
	near := bikeEntry("DR1001")
	near.Latitude, near.Longitude = 12.976, 77.5946
	registry.Upsert(near)

	got, err := svc.NearbyDrivers(context.Background(), 12.9716, 77.5946, 5, models.VehicleTypeBike, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "DR1001", got[0].DriverID)
}

func TestUpdateUserLocationPersistOnlyWhenUnassigned(t *testing.T) {
	userID := uuid.New()
	rideID := uuid.New()
	store := &fakeStore{userID: userID}
	rides := &fakeRides{ride: &models.Ride{ID: rideID, RaidID: "RID000042"}}
	svc, _, sink, emitter := newTestPresence(store, nil, rides)

	err := svc.UpdateUserLocation(context.Background(), "CU555", "RID000042", 12.97, 77.59)
	require.NoError(t, err)

	require.Len(t, sink.samples, 1)
	assert.Equal(t, models.SubjectUser, sink.samples[0].Kind)
	assert.Equal(t, userID.String(), sink.samples[0].SubjectID)
	require.NotNil(t, sink.samples[0].RideID)
	assert.Equal(t, rideID, *sink.samples[0].RideID)
	assert.Empty(t, emitter.events)
}

func TestUpdateUserLocationForwardsToDriver(t *testing.T) {
	userID := uuid.New()
	driverID := "DR1001"
	store := &fakeStore{userID: userID}
	rides := &fakeRides{ride: &models.Ride{ID: uuid.New(), RaidID: "RID000042", DriverID: &driverID}}
	svc, _, _, emitter := newTestPresence(store, nil, rides)

	err := svc.UpdateUserLocation(context.Background(), "CU555", "RID000042", 12.97, 77.59)
	require.NoError(t, err)

	require.Len(t, emitter.events, 1)
	assert.Equal(t, "driver:DR1001", emitter.events[0].target)
	assert.Equal(t, realtime.EventUserLiveLocationUpdate, emitter.events[0].event)
	assert.Equal(t, "RID000042", emitter.events[0].data["rideId"])
}

func TestUpdateUserLocationUnknownUser(t *testing.T) {
	store := &fakeStore{resolveErr: pgx.ErrNoRows}
	svc, _, _, _ := newTestPresence(store, nil, nil)

	err := svc.UpdateUserLocation(context.Background(), "CU404", "", 12.97, 77.59)
	assertStatusCode(t, err, http.StatusNotFound)
}

func TestSetStatusMirrorsRegistryOnly(t *testing.T) {
	store := &fakeStore{}
	svc, registry, _, _ := newTestPresence(store, nil, nil)
	registry.Upsert(bikeEntry("DR1001"))

	svc.SetStatus("DR1001", models.DriverStatusOnRide)

	entry, _ := registry.Get("DR1001")
	assert.Equal(t, models.DriverStatusOnRide, entry.Status)
	assert.Empty(t, store.statusSets)
}
