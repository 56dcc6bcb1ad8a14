//go:build integration

package integration

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridepulse/dispatch/internal/realtime"
	"github.com/ridepulse/dispatch/pkg/common"
	"github.com/ridepulse/dispatch/pkg/models"
)

func bookingRequest(customerID, vehicleType string) *models.BookRideRequest {
	return &models.BookRideRequest{
		CustomerID:  customerID,
		UserName:    "Asha",
		UserPhone:   "+919955500065",
		Pickup:      models.GeoPoint{Latitude: 11.3459, Longitude: 77.7216, Address: "Perundurai Rd"},
		Drop:        models.GeoPoint{Latitude: 11.3099, Longitude: 77.7387, Address: "Bus Stand"},
		VehicleType: vehicleType,
		DistanceKm:  5.4,
	}
}

func TestHappyBikeRide(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	seedDriver(t, w.pool, driverSeed{driverID: "DRV001", vehicleType: "bike", wallet: 500})
	driver := w.driverSocket(t, "DRV001", "bike")

	_, err := w.presence.RegisterDriver(ctx, "DRV001", 11.34, 77.72)
	require.NoError(t, err)

	state, err := w.shifts.Start(ctx, "DRV001")
	require.NoError(t, err)
	assert.True(t, state.TimerActive)
	assert.EqualValues(t, 12*3600, state.RemainingSeconds)
	assert.EqualValues(t, 100, state.AmountDeducted)
	assert.EqualValues(t, 400, driverWallet(t, w.pool, "DRV001"))

	ledger := driverLedger(t, w.pool, "DRV001")
	require.Len(t, ledger, 1)
	assert.Equal(t, models.MethodShiftStartFee, ledger[0].method)
	assert.EqualValues(t, 100, ledger[0].amount)
	drainSocket(driver)

	result, err := w.engine.BookRide(ctx, bookingRequest("CUS0065", "bike"))
	require.NoError(t, err)
	assert.Equal(t, "RID000001", result.RaidID)
	assert.Equal(t, "0065", result.OTP)
	assert.EqualValues(t, 81, result.Fare)
	assert.Equal(t, 1, result.DriversFound)

	request := receiveEvent(t, driver, realtime.EventNewRideRequest)
	assert.Equal(t, "RID000001", request.Data["raidId"])
	_, otpLeaked := request.Data["otp"]
	assert.False(t, otpLeaked)

	passenger := w.passengerSocket(t, userIDOf(t, w.pool, "CUS0065"))

	accepted, err := w.engine.Accept(ctx, &models.AcceptRideRequest{
		RideID: "RID000001", DriverID: "DRV001", DriverName: "Driver DRV001",
	})
	require.NoError(t, err)
	assert.Equal(t, models.RideStatusAccepted, accepted.Status)

	frame := receiveEvent(t, passenger, realtime.EventRideAccepted)
	assert.Equal(t, "DRV001", frame.Data["driverId"])

	_, err = w.rides.Start(ctx, &models.StartRideRequest{
		RideID: "RID000001", DriverID: "DRV001", OTP: "0065",
	})
	require.NoError(t, err)
	drainSocket(passenger)

	completed, err := w.rides.Complete(ctx, &models.CompleteRideRequest{
		RideID: "RID000001", DriverID: "DRV001", DistanceKm: 5.4,
	})
	require.NoError(t, err)
	assert.Equal(t, models.RideStatusCompleted, completed.Status)
	assert.EqualValues(t, 81, completed.FinalFare())

	assert.EqualValues(t, 481, driverWallet(t, w.pool, "DRV001"))
	ledger = driverLedger(t, w.pool, "DRV001")
	require.Len(t, ledger, 2)
	assert.Equal(t, models.MethodRideFare, ledger[1].method)
	assert.EqualValues(t, 81, ledger[1].amount)

	// Completion order on the passenger room is fixed: the bill, then the
	// legacy completion frame, then the status update.
	types := nextEvents(t, passenger, 3)
	assert.Equal(t, []string{
		realtime.EventBillAlert,
		realtime.EventRideCompleted,
		realtime.EventRideStatusUpdate,
	}, types)
}

func TestDispatchReachesOnlyMatchingFleet(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	seedDriver(t, w.pool, driverSeed{driverID: "DRV010", vehicleType: "bike", wallet: 500})
	seedDriver(t, w.pool, driverSeed{driverID: "DRV011", vehicleType: "taxi", wallet: 500})
	seedDriver(t, w.pool, driverSeed{driverID: "DRV012", vehicleType: "port", wallet: 500})

	bike := w.driverSocket(t, "DRV010", "bike")
	taxi := w.driverSocket(t, "DRV011", "taxi")
	port := w.driverSocket(t, "DRV012", "port")

	for _, id := range []string{"DRV010", "DRV011", "DRV012"} {
		_, err := w.presence.RegisterDriver(ctx, id, 11.34, 77.72)
		require.NoError(t, err)
	}
	drainSocket(bike)
	drainSocket(taxi)
	drainSocket(port)

	result, err := w.engine.BookRide(ctx, bookingRequest("CUS0100", "taxi"))
	require.NoError(t, err)
	assert.Equal(t, 1, result.DriversFound)

	frame := receiveEvent(t, taxi, realtime.EventNewRideRequest)
	assert.Equal(t, "taxi", frame.Data["vehicleType"])
	assertSilentSocket(t, bike)
	assertSilentSocket(t, port)

	// Dispatch never rewrites the fleet rows it filtered on.
	for id, vt := range map[string]string{"DRV010": "bike", "DRV011": "taxi", "DRV012": "port"} {
		var stored string
		err := w.pool.QueryRow(ctx, `SELECT vehicle_type FROM drivers WHERE driver_id = $1`, id).Scan(&stored)
		require.NoError(t, err)
		assert.Equal(t, vt, stored)
	}
}

func TestAcceptanceRaceHasOneWinner(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	seedDriver(t, w.pool, driverSeed{driverID: "DRV020", vehicleType: "bike", wallet: 500})
	seedDriver(t, w.pool, driverSeed{driverID: "DRV021", vehicleType: "bike", wallet: 500})
	for _, id := range []string{"DRV020", "DRV021"} {
		_, err := w.presence.RegisterDriver(ctx, id, 11.34, 77.72)
		require.NoError(t, err)
	}

	result, err := w.engine.BookRide(ctx, bookingRequest("CUS0200", "bike"))
	require.NoError(t, err)

	passenger := w.passengerSocket(t, userIDOf(t, w.pool, "CUS0200"))

	var wg sync.WaitGroup
	outcomes := make([]error, 2)
	for i, id := range []string{"DRV020", "DRV021"} {
		wg.Add(1)
		go func(slot int, driverID string) {
			defer wg.Done()
			_, outcomes[slot] = w.engine.Accept(ctx, &models.AcceptRideRequest{
				RideID: result.RaidID, DriverID: driverID,
			})
		}(i, id)
	}
	wg.Wait()

	var wins, losses int
	for _, outcome := range outcomes {
		if outcome == nil {
			wins++
			continue
		}
		losses++
		var appErr *common.AppError
		require.ErrorAs(t, outcome, &appErr)
		assert.Equal(t, common.CodeRideTaken, appErr.ErrorCode)
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, losses)

	// Exactly one acceptance reached the passenger.
	receiveEvent(t, passenger, realtime.EventRideAccepted)
	accepts := 0
	for {
		drained := false
		select {
		case msg := <-passenger.Send:
			if msg.Type == realtime.EventRideAccepted {
				accepts++
			}
		default:
			drained = true
		}
		if drained {
			break
		}
	}
	assert.Zero(t, accepts)
}
