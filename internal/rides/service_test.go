package rides

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ridepulse/dispatch/internal/wallet"
	"github.com/ridepulse/dispatch/pkg/common"
	"github.com/ridepulse/dispatch/pkg/models"
)

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) CreateRide(ctx context.Context, ride *models.Ride) error {
	args := m.Called(ctx, ride)
	return args.Error(0)
}

func (m *mockRepo) GetRideByID(ctx context.Context, id uuid.UUID) (*models.Ride, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Ride), args.Error(1)
}

func (m *mockRepo) GetRideByRaidID(ctx context.Context, raidID string) (*models.Ride, error) {
	args := m.Called(ctx, raidID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Ride), args.Error(1)
}

func (m *mockRepo) AcceptRide(ctx context.Context, raidID, driverID, driverName string) (bool, error) {
	args := m.Called(ctx, raidID, driverID, driverName)
	return args.Bool(0), args.Error(1)
}

func (m *mockRepo) MarkArrived(ctx context.Context, raidID, driverID string) (bool, error) {
	args := m.Called(ctx, raidID, driverID)
	return args.Bool(0), args.Error(1)
}

func (m *mockRepo) StartRide(ctx context.Context, raidID, driverID string) (bool, error) {
	args := m.Called(ctx, raidID, driverID)
	return args.Bool(0), args.Error(1)
}

func (m *mockRepo) CompleteRide(ctx context.Context, raidID, driverID string, actualDistanceKm float64, actualFare int64) (bool, error) {
	args := m.Called(ctx, raidID, driverID, actualDistanceKm, actualFare)
	return args.Bool(0), args.Error(1)
}

func (m *mockRepo) CancelRide(ctx context.Context, raidID, cancelledBy string, reason *string) (bool, error) {
	args := m.Called(ctx, raidID, cancelledBy, reason)
	return args.Bool(0), args.Error(1)
}

func (m *mockRepo) AddRejection(ctx context.Context, rideID uuid.UUID, driverID string, reason *string) error {
	args := m.Called(ctx, rideID, driverID, reason)
	return args.Error(0)
}

func (m *mockRepo) SetDriverStatus(ctx context.Context, driverID string, status models.DriverStatus) error {
	args := m.Called(ctx, driverID, status)
	return args.Error(0)
}

func (m *mockRepo) GetOrCreateUserByCustomerID(ctx context.Context, customerID, name, phone string) (*models.User, error) {
	args := m.Called(ctx, customerID, name, phone)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *mockRepo) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

// fixedFares prices every km at a flat rate regardless of vehicle type
type fixedFares struct {
	perKm int64
}

func (f fixedFares) CalculateFare(vehicleType string, distanceKm float64) int64 {
	return int64(distanceKm * float64(f.perKm))
}

type sinkEvent struct {
	target string
	room   string
	event  string
	data   map[string]interface{}
}

type captureSink struct {
	events []sinkEvent
}

func (c *captureSink) ToUser(userID, event string, data map[string]interface{}) {
	c.events = append(c.events, sinkEvent{"user", userID, event, data})
}

func (c *captureSink) ToDriver(driverID, event string, data map[string]interface{}) {
	c.events = append(c.events, sinkEvent{"driver", driverID, event, data})
}

func (c *captureSink) ToFleet(vehicleType, event string, data map[string]interface{}) {
	c.events = append(c.events, sinkEvent{"fleet", vehicleType, event, data})
}

func (c *captureSink) ToFleetExcept(vehicleType, exceptDriverID, event string, data map[string]interface{}) {
	c.events = append(c.events, sinkEvent{"fleet-except-" + exceptDriverID, vehicleType, event, data})
}

func (c *captureSink) names() []string {
	out := make([]string, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.event)
	}
	return out
}

type fakeLedger struct {
	credits   []wallet.DriverOp
	debits    []wallet.UserOp
	creditErr error
	debitErr  error
}

func (f *fakeLedger) CreditDriver(ctx context.Context, op wallet.DriverOp) (*models.Transaction, error) {
	f.credits = append(f.credits, op)
	if f.creditErr != nil {
		return nil, f.creditErr
	}
	return &models.Transaction{ID: uuid.New(), DriverID: op.DriverID, Amount: op.Amount}, nil
}

func (f *fakeLedger) DebitUser(ctx context.Context, op wallet.UserOp) (*models.UserTransaction, error) {
	f.debits = append(f.debits, op)
	if f.debitErr != nil {
		return nil, f.debitErr
	}
	return &models.UserTransaction{ID: uuid.New(), UserID: op.UserID, Amount: op.Amount}, nil
}

type fakeActive struct {
	removed []string
}

func (f *fakeActive) Remove(raidID string) { f.removed = append(f.removed, raidID) }

type fakePresence struct {
	statuses map[string]models.DriverStatus
}

func (f *fakePresence) SetStatus(driverID string, status models.DriverStatus) {
	if f.statuses == nil {
		f.statuses = map[string]models.DriverStatus{}
	}
	f.statuses[driverID] = status
}

func strPtr(s string) *string { return &s }

func testRide(status models.RideStatus, driverID string) *models.Ride {
	ride := &models.Ride{
		ID:            uuid.New(),
		RaidID:        "RID100042",
		UserID:        uuid.New(),
		CustomerID:    "CUS0065",
		UserName:      "Asha",
		VehicleType:   models.VehicleTypeBike,
		Status:        status,
		DistanceKm:    5.4,
		Fare:          81,
		OTP:           "0065",
		PaymentMethod: models.PaymentMethodCash,
		RequestedAt:   time.Now(),
	}
	if driverID != "" {
		ride.DriverID = &driverID
		name := "Ravi"
		ride.DriverName = &name
	}
	return ride
}

func newTestService(repo RepositoryInterface, sink EventSink, ledger WalletLedger, active ActiveRideStore, presence PresenceUpdater) *Service {
	return NewService(repo, fixedFares{perKm: 15}, ledger, sink, active, presence, nil)
}

func TestArrivedNotifiesBothParties(t *testing.T) {
	repo := new(mockRepo)
	sink := &captureSink{}
	svc := newTestService(repo, sink, &fakeLedger{}, nil, nil)

	ride := testRide(models.RideStatusAccepted, "DR1001")
	repo.On("GetRideByRaidID", mock.Anything, "RID100042").Return(ride, nil)
	repo.On("MarkArrived", mock.Anything, "RID100042", "DR1001").Return(true, nil)

	got, err := svc.Arrived(context.Background(), &models.ArrivedRequest{RideID: "RID100042", DriverID: "DR1001"})

	require.NoError(t, err)
	assert.Equal(t, models.RideStatusArrived, got.Status)
	require.Len(t, sink.events, 2)
	assert.Equal(t, "rideStatusUpdate", sink.events[0].event)
	assert.Equal(t, "user", sink.events[0].target)
	assert.Equal(t, ride.UserID.String(), sink.events[0].room)
	assert.Equal(t, "arrived", sink.events[0].data["status"])
	assert.Equal(t, "driver", sink.events[1].target)
}

func TestArrivedWrongDriver(t *testing.T) {
	repo := new(mockRepo)
	sink := &captureSink{}
	svc := newTestService(repo, sink, &fakeLedger{}, nil, nil)

	ride := testRide(models.RideStatusAccepted, "DR1001")
	repo.On("GetRideByRaidID", mock.Anything, "RID100042").Return(ride, nil)

	_, err := svc.Arrived(context.Background(), &models.ArrivedRequest{RideID: "RID100042", DriverID: "DR2002"})

	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, common.CodeUnauthorized, appErr.ErrorCode)
	assert.Empty(t, sink.events)
	repo.AssertNotCalled(t, "MarkArrived")
}

func TestArrivedRepeatIsIdempotent(t *testing.T) {
	repo := new(mockRepo)
	sink := &captureSink{}
	svc := newTestService(repo, sink, &fakeLedger{}, nil, nil)

	arrived := testRide(models.RideStatusArrived, "DR1001")
	repo.On("GetRideByRaidID", mock.Anything, "RID100042").Return(arrived, nil)
	repo.On("MarkArrived", mock.Anything, "RID100042", "DR1001").Return(false, nil)

	got, err := svc.Arrived(context.Background(), &models.ArrivedRequest{RideID: "RID100042", DriverID: "DR1001"})

	require.NoError(t, err)
	assert.Equal(t, models.RideStatusArrived, got.Status)
	assert.Empty(t, sink.events)
}

func TestStartRejectsWrongOTP(t *testing.T) {
	repo := new(mockRepo)
	sink := &captureSink{}
	svc := newTestService(repo, sink, &fakeLedger{}, nil, nil)

	ride := testRide(models.RideStatusArrived, "DR1001")
	repo.On("GetRideByRaidID", mock.Anything, "RID100042").Return(ride, nil)

	_, err := svc.Start(context.Background(), &models.StartRideRequest{RideID: "RID100042", DriverID: "DR1001", OTP: "9999"})

	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, common.CodeInvalidOTP, appErr.ErrorCode)
	assert.Empty(t, sink.events)
	repo.AssertNotCalled(t, "StartRide")
}

func TestStartEmitsOTPVerifiedThenStatus(t *testing.T) {
	repo := new(mockRepo)
	sink := &captureSink{}
	svc := newTestService(repo, sink, &fakeLedger{}, nil, nil)

	ride := testRide(models.RideStatusArrived, "DR1001")
	repo.On("GetRideByRaidID", mock.Anything, "RID100042").Return(ride, nil)
	repo.On("StartRide", mock.Anything, "RID100042", "DR1001").Return(true, nil)

	got, err := svc.Start(context.Background(), &models.StartRideRequest{RideID: "RID100042", DriverID: "DR1001", OTP: "0065"})

	require.NoError(t, err)
	assert.Equal(t, models.RideStatusStarted, got.Status)
	names := sink.names()
	require.Equal(t, []string{"otpVerified", "rideStatusUpdate", "rideStatusUpdate"}, names)
	assert.Equal(t, "user", sink.events[0].target)
	assert.Equal(t, "started", sink.events[1].data["status"])
}

func TestStartAlreadyStartedIsIdempotent(t *testing.T) {
	repo := new(mockRepo)
	sink := &captureSink{}
	svc := newTestService(repo, sink, &fakeLedger{}, nil, nil)

	started := testRide(models.RideStatusStarted, "DR1001")
	repo.On("GetRideByRaidID", mock.Anything, "RID100042").Return(started, nil)

	got, err := svc.Start(context.Background(), &models.StartRideRequest{RideID: "RID100042", DriverID: "DR1001", OTP: "0065"})

	require.NoError(t, err)
	assert.Equal(t, models.RideStatusStarted, got.Status)
	assert.Empty(t, sink.events)
	repo.AssertNotCalled(t, "StartRide")
}

func TestCompleteOrdering(t *testing.T) {
	repo := new(mockRepo)
	sink := &captureSink{}
	ledger := &fakeLedger{}
	active := &fakeActive{}
	presence := &fakePresence{}
	svc := newTestService(repo, sink, ledger, active, presence)

	ride := testRide(models.RideStatusStarted, "DR1001")
	repo.On("GetRideByRaidID", mock.Anything, "RID100042").Return(ride, nil)
	// 6.0 km at 15/km recomputes to 90 regardless of the client's fare.
	repo.On("CompleteRide", mock.Anything, "RID100042", "DR1001", 6.0, int64(90)).Return(true, nil)
	repo.On("SetDriverStatus", mock.Anything, "DR1001", models.DriverStatusLive).Return(nil)

	got, err := svc.Complete(context.Background(), &models.CompleteRideRequest{
		RideID:     "RID100042",
		DriverID:   "DR1001",
		DistanceKm: 6.0,
		Fare:       5, // ignored
	})

	require.NoError(t, err)
	assert.Equal(t, models.RideStatusCompleted, got.Status)
	require.NotNil(t, got.ActualFare)
	assert.Equal(t, int64(90), *got.ActualFare)

	require.Len(t, ledger.credits, 1)
	assert.Equal(t, "DR1001", ledger.credits[0].DriverID)
	assert.Equal(t, int64(90), ledger.credits[0].Amount)
	assert.Equal(t, models.MethodRideFare, ledger.credits[0].Method)
	assert.Empty(t, ledger.debits) // cash ride

	names := sink.names()
	require.Equal(t, []string{"billAlert", "rideCompleted", "rideCompleted", "rideStatusUpdate", "rideStatusUpdate"}, names)
	assert.Equal(t, "user", sink.events[0].target)
	_, hasStatus := sink.events[1].data["status"]
	assert.False(t, hasStatus, "rideCompleted must not carry a status field")
	assert.Equal(t, "completed", sink.events[3].data["status"])

	assert.Equal(t, []string{"RID100042"}, active.removed)
	assert.Equal(t, models.DriverStatusLive, presence.statuses["DR1001"])
	repo.AssertExpectations(t)
}

func TestCompleteDebitsWalletPayingPassenger(t *testing.T) {
	repo := new(mockRepo)
	sink := &captureSink{}
	ledger := &fakeLedger{}
	svc := newTestService(repo, sink, ledger, nil, nil)

	ride := testRide(models.RideStatusStarted, "DR1001")
	ride.PaymentMethod = models.PaymentMethodWallet
	repo.On("GetRideByRaidID", mock.Anything, "RID100042").Return(ride, nil)
	repo.On("CompleteRide", mock.Anything, "RID100042", "DR1001", 5.4, int64(81)).Return(true, nil)
	repo.On("SetDriverStatus", mock.Anything, "DR1001", models.DriverStatusLive).Return(nil)

	_, err := svc.Complete(context.Background(), &models.CompleteRideRequest{RideID: "RID100042", DriverID: "DR1001"})

	require.NoError(t, err)
	require.Len(t, ledger.debits, 1)
	assert.Equal(t, ride.UserID, ledger.debits[0].UserID)
	assert.Equal(t, int64(81), ledger.debits[0].Amount)
	assert.Equal(t, models.MethodRidePayment, ledger.debits[0].Method)
}

func TestCompleteSurvivesPassengerDebitFailure(t *testing.T) {
	repo := new(mockRepo)
	sink := &captureSink{}
	ledger := &fakeLedger{debitErr: errors.New("insufficient wallet balance")}
	svc := newTestService(repo, sink, ledger, nil, nil)

	ride := testRide(models.RideStatusStarted, "DR1001")
	ride.PaymentMethod = models.PaymentMethodWallet
	repo.On("GetRideByRaidID", mock.Anything, "RID100042").Return(ride, nil)
	repo.On("CompleteRide", mock.Anything, "RID100042", "DR1001", 5.4, int64(81)).Return(true, nil)
	repo.On("SetDriverStatus", mock.Anything, "DR1001", models.DriverStatusLive).Return(nil)

	got, err := svc.Complete(context.Background(), &models.CompleteRideRequest{RideID: "RID100042", DriverID: "DR1001"})

	require.NoError(t, err)
	assert.Equal(t, models.RideStatusCompleted, got.Status)
	assert.Contains(t, sink.names(), "rideCompleted")
}

func TestCompleteFromArrivedIsLegal(t *testing.T) {
	repo := new(mockRepo)
	sink := &captureSink{}
	svc := newTestService(repo, sink, &fakeLedger{}, nil, nil)

	ride := testRide(models.RideStatusArrived, "DR1001")
	repo.On("GetRideByRaidID", mock.Anything, "RID100042").Return(ride, nil)
	repo.On("CompleteRide", mock.Anything, "RID100042", "DR1001", 5.4, int64(81)).Return(true, nil)
	repo.On("SetDriverStatus", mock.Anything, "DR1001", models.DriverStatusLive).Return(nil)

	got, err := svc.Complete(context.Background(), &models.CompleteRideRequest{RideID: "RID100042", DriverID: "DR1001"})

	require.NoError(t, err)
	assert.Equal(t, models.RideStatusCompleted, got.Status)
}

func TestCompletePendingRideRejected(t *testing.T) {
	repo := new(mockRepo)
	svc := newTestService(repo, &captureSink{}, &fakeLedger{}, nil, nil)

	ride := testRide(models.RideStatusPending, "DR1001")
	repo.On("GetRideByRaidID", mock.Anything, "RID100042").Return(ride, nil)
	repo.On("CompleteRide", mock.Anything, "RID100042", "DR1001", 5.4, int64(81)).Return(false, nil)

	_, err := svc.Complete(context.Background(), &models.CompleteRideRequest{RideID: "RID100042", DriverID: "DR1001"})

	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, common.CodeDomainRule, appErr.ErrorCode)
}

func TestCancelPendingRide(t *testing.T) {
	repo := new(mockRepo)
	sink := &captureSink{}
	active := &fakeActive{}
	svc := newTestService(repo, sink, &fakeLedger{}, active, nil)

	ride := testRide(models.RideStatusPending, "")
	repo.On("GetRideByRaidID", mock.Anything, "RID100042").Return(ride, nil)
	repo.On("CancelRide", mock.Anything, "RID100042", "passenger", strPtr("changed plans")).Return(true, nil)

	got, err := svc.Cancel(context.Background(), &models.CancelRideRequest{
		RideID:      "RID100042",
		CancelledBy: "passenger",
		Reason:      strPtr("changed plans"),
	})

	require.NoError(t, err)
	assert.Equal(t, models.RideStatusCancelled, got.Status)
	require.Len(t, sink.events, 1) // no driver assigned yet
	assert.Equal(t, "rideStatusUpdate", sink.events[0].event)
	assert.Equal(t, "cancelled", sink.events[0].data["status"])
	assert.Equal(t, "passenger", sink.events[0].data["cancelledBy"])
	assert.Equal(t, []string{"RID100042"}, active.removed)
}

func TestCancelStartedRideCompletesInstead(t *testing.T) {
	repo := new(mockRepo)
	sink := &captureSink{}
	ledger := &fakeLedger{}
	svc := newTestService(repo, sink, ledger, nil, nil)

	ride := testRide(models.RideStatusStarted, "DR1001")
	repo.On("GetRideByRaidID", mock.Anything, "RID100042").Return(ride, nil)
	// Settled with the recorded 5.4 km estimate.
	repo.On("CompleteRide", mock.Anything, "RID100042", "DR1001", 5.4, int64(81)).Return(true, nil)
	repo.On("SetDriverStatus", mock.Anything, "DR1001", models.DriverStatusLive).Return(nil)

	got, err := svc.Cancel(context.Background(), &models.CancelRideRequest{RideID: "RID100042", CancelledBy: "passenger"})

	require.NoError(t, err)
	assert.Equal(t, models.RideStatusCompleted, got.Status)
	require.Len(t, ledger.credits, 1)
	assert.Equal(t, int64(81), ledger.credits[0].Amount)
	repo.AssertNotCalled(t, "CancelRide")
}

func TestCancelFinishedRideRejected(t *testing.T) {
	repo := new(mockRepo)
	svc := newTestService(repo, &captureSink{}, &fakeLedger{}, nil, nil)

	ride := testRide(models.RideStatusCompleted, "DR1001")
	repo.On("GetRideByRaidID", mock.Anything, "RID100042").Return(ride, nil)

	_, err := svc.Cancel(context.Background(), &models.CancelRideRequest{RideID: "RID100042", CancelledBy: "driver"})

	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, common.CodeDomainRule, appErr.ErrorCode)
	repo.AssertNotCalled(t, "CancelRide")
}

func TestGetRideNotFound(t *testing.T) {
	repo := new(mockRepo)
	svc := newTestService(repo, &captureSink{}, &fakeLedger{}, nil, nil)

	repo.On("GetRideByRaidID", mock.Anything, "RID999999").Return(nil, pgx.ErrNoRows)

	_, err := svc.GetRide(context.Background(), "RID999999")

	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, common.CodeNotFound, appErr.ErrorCode)
}

func TestGetRideByInternalID(t *testing.T) {
	repo := new(mockRepo)
	svc := newTestService(repo, &captureSink{}, &fakeLedger{}, nil, nil)

	ride := testRide(models.RideStatusPending, "")
	repo.On("GetRideByID", mock.Anything, ride.ID).Return(ride, nil)

	got, err := svc.GetRide(context.Background(), ride.ID.String())

	require.NoError(t, err)
	assert.Equal(t, ride.RaidID, got.RaidID)
	repo.AssertNotCalled(t, "GetRideByRaidID")
}
