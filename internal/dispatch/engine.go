package dispatch

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/ridepulse/dispatch/internal/realtime"
	"github.com/ridepulse/dispatch/pkg/common"
	"github.com/ridepulse/dispatch/pkg/database"
	"github.com/ridepulse/dispatch/pkg/eventbus"
	"github.com/ridepulse/dispatch/pkg/logger"
	"github.com/ridepulse/dispatch/pkg/metrics"
	"github.com/ridepulse/dispatch/pkg/models"
	"github.com/ridepulse/dispatch/pkg/tracing"
	"github.com/ridepulse/dispatch/pkg/validation"
)

const (
	dedupWindow    = 5 * time.Second
	otpLength      = 4
	createAttempts = 2
)

// Engine runs the booking pipeline and the accept/reject arbitration.
type Engine struct {
	store    RideStore
	targets  PushTargetSource
	ids      IDAllocator
	fares    FareCalculator
	events   EventSink
	push     Pusher
	fleet    FleetCounter
	presence PresenceUpdater
	bus      *eventbus.Bus

	dedup  *DedupCache
	active *ActiveRideCache
}

// NewEngine creates a dispatch engine. The dedup and active-ride caches
// are owned by the engine; Dedup and Active expose them for the sweeper
// and the ride state machine.
func NewEngine(store RideStore, targets PushTargetSource, ids IDAllocator, fares FareCalculator, events EventSink, push Pusher, fleet FleetCounter, presence PresenceUpdater, bus *eventbus.Bus) *Engine {
	return &Engine{
		store:    store,
		targets:  targets,
		ids:      ids,
		fares:    fares,
		events:   events,
		push:     push,
		fleet:    fleet,
		presence: presence,
		bus:      bus,
		dedup:    NewDedupCache(dedupWindow),
		active:   NewActiveRideCache(),
	}
}

// Dedup returns the duplicate-booking cache.
func (e *Engine) Dedup() *DedupCache { return e.dedup }

// Active returns the active-ride cache.
func (e *Engine) Active() *ActiveRideCache { return e.active }

// BookRide validates a booking, persists the pending ride and fans it out
// to the vehicle-type fleet room. A repeat of the same booking inside the
// dedup window returns the original identifiers with AlreadySent set.
func (e *Engine) BookRide(ctx context.Context, req *models.BookRideRequest) (*models.BookingResult, error) {
	ctx, span := tracing.StartSpan(ctx, "dispatch-engine", "BookRide")
	defer span.End()

	if err := validateBooking(req); err != nil {
		return nil, err
	}
	req.VehicleType = strings.ToLower(req.VehicleType)

	fingerprint := bookingFingerprint(req)
	if prev, ok := e.dedup.Recent(fingerprint); ok {
		metrics.RidesDeduplicated.Inc()
		logger.InfoContext(ctx, "duplicate booking suppressed",
			zap.String("raid_id", prev.RaidID),
			zap.String("customer_id", req.CustomerID),
		)
		prev.AlreadySent = true
		return prev, nil
	}

	user, err := e.store.GetOrCreateUserByCustomerID(ctx, req.CustomerID, req.UserName, req.UserPhone)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, common.NewServiceUnavailableError("user store unavailable", err)
	}

	fare := e.fares.CalculateFare(req.VehicleType, req.DistanceKm)
	now := time.Now()
	ride := &models.Ride{
		ID:              uuid.New(),
		UserID:          user.ID,
		CustomerID:      user.CustomerID,
		UserName:        firstNonEmpty(req.UserName, user.Name),
		UserPhone:       firstNonEmpty(req.UserPhone, user.Phone),
		VehicleType:     req.VehicleType,
		Status:          models.RideStatusPending,
		PickupLatitude:  req.Pickup.Latitude,
		PickupLongitude: req.Pickup.Longitude,
		PickupAddress:   req.Pickup.Address,
		DropLatitude:    req.Drop.Latitude,
		DropLongitude:   req.Drop.Longitude,
		DropAddress:     req.Drop.Address,
		DistanceKm:      req.DistanceKm,
		TravelTimeMin:   req.TravelTimeMin,
		Fare:            fare,
		OTP:             bookingOTP(req.CustomerID),
		PaymentMethod:   paymentMethodOrDefault(req.PaymentMethod),
		WantReturn:      req.WantReturn,
		RequestedAt:     now,
	}

	// A fresh raid id per attempt: the retry covers both a duplicate id
	// from the fallback allocator and a transient store failure.
	var createErr error
	for attempt := 0; attempt < createAttempts; attempt++ {
		ride.RaidID = e.ids.Next(ctx)
		createErr = e.store.CreateRide(ctx, ride)
		if createErr == nil {
			break
		}
		if !database.IsUniqueViolation(createErr) && !database.IsPostgresRetryable(createErr) {
			break
		}
		logger.WarnContext(ctx, "ride insert failed, retrying with a new raid id",
			zap.String("raid_id", ride.RaidID),
			zap.Error(createErr),
		)
	}
	if createErr != nil {
		tracing.RecordError(ctx, createErr)
		return nil, common.NewServiceUnavailableError("ride store unavailable", createErr)
	}

	targets, err := e.targets.ListPushTargets(ctx, req.VehicleType)
	if err != nil {
		// Push is best effort; the fleet room fan-out still happens.
		logger.WarnContext(ctx, "failed to list push targets", zap.Error(err))
	}

	driversFound := 0
	if e.fleet != nil {
		driversFound = e.fleet.FleetSize(req.VehicleType)
	}
	if len(targets) > driversFound {
		driversFound = len(targets)
	}

	result := &models.BookingResult{
		RideID:       ride.ID,
		RaidID:       ride.RaidID,
		OTP:          ride.OTP,
		Fare:         fare,
		VehicleType:  ride.VehicleType,
		DriversFound: driversFound,
	}

	e.active.Put(&ActiveRide{
		RideID:      ride.ID,
		RaidID:      ride.RaidID,
		UserID:      ride.UserID,
		VehicleType: ride.VehicleType,
		Fare:        fare,
		Status:      models.RideStatusPending,
		CreatedAt:   now,
	})
	e.dedup.Record(fingerprint, result)

	// The OTP never reaches a driver room; the passenger shares it at
	// pickup.
	if e.events != nil {
		e.events.ToFleet(ride.VehicleType, realtime.EventNewRideRequest, map[string]interface{}{
			"rideId":     ride.ID.String(),
			"raidId":     ride.RaidID,
			"customerId": ride.CustomerID,
			"userName":   ride.UserName,
			"pickup": map[string]interface{}{
				"latitude":  ride.PickupLatitude,
				"longitude": ride.PickupLongitude,
				"address":   ride.PickupAddress,
			},
			"drop": map[string]interface{}{
				"latitude":  ride.DropLatitude,
				"longitude": ride.DropLongitude,
				"address":   ride.DropAddress,
			},
			"distance":      ride.DistanceKm,
			"travelTime":    ride.TravelTimeMin,
			"fare":          fare,
			"vehicleType":   ride.VehicleType,
			"paymentMethod": string(ride.PaymentMethod),
			"wantReturn":    ride.WantReturn,
		})
	}
	if e.push != nil {
		for _, target := range targets {
			e.push.SendRideRequest(ctx, target.PushToken, ride)
		}
	}

	metrics.RidesRequested.WithLabelValues(ride.VehicleType).Inc()
	metrics.DispatchFanout.Observe(float64(driversFound))
	tracing.AddSpanAttributes(ctx, tracing.DispatchAttributes(ride.RaidID, ride.VehicleType, driversFound)...)

	e.publish(eventbus.SubjectRideRequested, eventbus.RideRequestedData{
		RideID:          ride.ID,
		RaidID:          ride.RaidID,
		UserID:          ride.UserID,
		VehicleType:     ride.VehicleType,
		PickupLatitude:  ride.PickupLatitude,
		PickupLongitude: ride.PickupLongitude,
		DestLatitude:    ride.DropLatitude,
		DestLongitude:   ride.DropLongitude,
		Fare:            fare,
		DriversNotified: driversFound,
		RequestedAt:     now,
	})

	if driversFound == 0 {
		logger.WarnContext(ctx, "no drivers available for booking",
			zap.String("raid_id", ride.RaidID),
			zap.String("vehicle_type", ride.VehicleType),
		)
	} else {
		logger.InfoContext(ctx, "ride dispatched",
			zap.String("raid_id", ride.RaidID),
			zap.String("vehicle_type", ride.VehicleType),
			zap.Int("drivers_found", driversFound),
		)
	}
	return result, nil
}

// Accept arbitrates a driver claiming a pending ride. Exactly one driver
// wins; everyone else gets RIDE_TAKEN.
func (e *Engine) Accept(ctx context.Context, req *models.AcceptRideRequest) (*models.Ride, error) {
	ctx, span := tracing.StartSpan(ctx, "dispatch-engine", "Accept")
	defer span.End()

	if req.DriverID == "" {
		return nil, common.NewValidationError("driver id is required")
	}
	ride, err := e.resolve(ctx, req.RideID)
	if err != nil {
		return nil, err
	}
	tracing.AddSpanAttributes(ctx, tracing.RideAttributes(ride.RaidID, ride.CustomerID, req.DriverID)...)

	ok, err := e.store.AcceptRide(ctx, ride.RaidID, req.DriverID, req.DriverName)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, common.NewServiceUnavailableError("ride store unavailable", err)
	}
	if !ok {
		metrics.AcceptConflicts.Inc()
		logger.InfoContext(ctx, "acceptance lost the race",
			zap.String("raid_id", ride.RaidID),
			zap.String("driver_id", req.DriverID),
		)
		return nil, common.NewConflictError(common.CodeRideTaken, "ride already taken")
	}

	now := time.Now()
	accepted, err := e.store.GetRideByRaidID(ctx, ride.RaidID)
	if err != nil {
		// The acceptance committed; rebuild the row locally.
		accepted = ride
		accepted.Status = models.RideStatusAccepted
		accepted.DriverID = &req.DriverID
		accepted.AcceptedAt = &now
		if req.DriverName != "" {
			accepted.DriverName = &req.DriverName
		}
	}
	metrics.RideTransitions.WithLabelValues(string(models.RideStatusAccepted)).Inc()

	if err := e.store.SetDriverStatus(ctx, req.DriverID, models.DriverStatusOnRide); err != nil {
		logger.WarnContext(ctx, "failed to mark winning driver on ride",
			zap.String("driver_id", req.DriverID),
			zap.Error(err),
		)
	}
	if e.presence != nil {
		e.presence.SetStatus(req.DriverID, models.DriverStatusOnRide)
	}
	e.active.SetStatus(ride.RaidID, models.RideStatusAccepted)

	if e.events != nil {
		e.events.ToUser(accepted.UserID.String(), realtime.EventRideAccepted, map[string]interface{}{
			"rideId":      accepted.ID.String(),
			"raidId":      accepted.RaidID,
			"driverId":    req.DriverID,
			"driverName":  req.DriverName,
			"driverLat":   req.DriverLat,
			"driverLng":   req.DriverLng,
			"vehicleType": accepted.VehicleType,
			"fare":        accepted.Fare,
		})
		e.events.ToFleetExcept(accepted.VehicleType, req.DriverID, realtime.EventRideAlreadyAccepted, map[string]interface{}{
			"rideId":   accepted.ID.String(),
			"raidId":   accepted.RaidID,
			"driverId": req.DriverID,
		})
	}

	e.publish(eventbus.SubjectRideAccepted, eventbus.RideAcceptedData{
		RideID:     accepted.ID,
		RaidID:     accepted.RaidID,
		UserID:     accepted.UserID,
		DriverID:   req.DriverID,
		AcceptedAt: now,
	})

	logger.InfoContext(ctx, "ride accepted",
		zap.String("raid_id", accepted.RaidID),
		zap.String("driver_id", req.DriverID),
	)
	return accepted, nil
}

// Reject records a driver declining a ride. The ride stays dispatchable;
// the passenger is informed but nothing transitions.
func (e *Engine) Reject(ctx context.Context, req *models.RejectRideRequest) error {
	ctx, span := tracing.StartSpan(ctx, "dispatch-engine", "Reject")
	defer span.End()

	if req.DriverID == "" {
		return common.NewValidationError("driver id is required")
	}
	ride, err := e.resolve(ctx, req.RideID)
	if err != nil {
		return err
	}

	if err := e.store.AddRejection(ctx, ride.ID, req.DriverID, req.Reason); err != nil {
		// The rejection record is informational; losing it never blocks
		// the driver.
		logger.WarnContext(ctx, "failed to persist ride rejection",
			zap.String("raid_id", ride.RaidID),
			zap.String("driver_id", req.DriverID),
			zap.Error(err),
		)
	}
	e.active.AddRejection(ride.RaidID, Rejection{
		DriverID: req.DriverID,
		Reason:   req.Reason,
		At:       time.Now(),
	})

	if e.events != nil {
		data := map[string]interface{}{
			"rideId":   ride.ID.String(),
			"raidId":   ride.RaidID,
			"driverId": req.DriverID,
		}
		if req.Reason != nil {
			data["reason"] = *req.Reason
		}
		e.events.ToUser(ride.UserID.String(), realtime.EventDriverRejectedRide, data)
	}

	logger.InfoContext(ctx, "ride rejected by driver",
		zap.String("raid_id", ride.RaidID),
		zap.String("driver_id", req.DriverID),
	)
	return nil
}

func (e *Engine) resolve(ctx context.Context, rideRef string) (*models.Ride, error) {
	if rideRef == "" {
		return nil, common.NewValidationError("ride id is required")
	}

	var (
		ride *models.Ride
		err  error
	)
	if id, parseErr := uuid.Parse(rideRef); parseErr == nil {
		ride, err = e.store.GetRideByID(ctx, id)
	} else {
		ride, err = e.store.GetRideByRaidID(ctx, rideRef)
	}
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.NewNotFoundError("ride not found", err)
		}
		return nil, common.NewServiceUnavailableError("ride store unavailable", err)
	}
	return ride, nil
}

func (e *Engine) publish(subject string, payload interface{}) {
	event, err := eventbus.NewEvent(subject, "dispatch", payload)
	if err != nil {
		logger.Warn("failed to encode dispatch event", zap.String("subject", subject), zap.Error(err))
		return
	}
	if err := e.bus.Publish(subject, event); err != nil {
		logger.Warn("failed to publish dispatch event", zap.Error(err))
	}
}

// validateBooking runs tag validation, then the pairwise checks tags cannot
// express. A (0, 0) coordinate pair reads as an unset location, not a fix in
// the Gulf of Guinea.
func validateBooking(req *models.BookRideRequest) error {
	if err := validation.ValidateStruct(req); err != nil {
		return common.NewValidationError(err.Error())
	}
	switch {
	case req.Pickup.Latitude == 0 && req.Pickup.Longitude == 0:
		return common.NewValidationError("pickup location is required")
	case req.Drop.Latitude == 0 && req.Drop.Longitude == 0:
		return common.NewValidationError("drop location is required")
	}
	return nil
}

// bookingFingerprint identifies a booking for the dedup window. Five
// decimals keeps the coordinate part stable at roughly metre precision.
func bookingFingerprint(req *models.BookRideRequest) string {
	return fmt.Sprintf("%s|%s|%.5f,%.5f|%.5f,%.5f",
		req.CustomerID, req.VehicleType,
		req.Pickup.Latitude, req.Pickup.Longitude,
		req.Drop.Latitude, req.Drop.Longitude,
	)
}

// bookingOTP derives the pickup code: the last four characters of the
// customer id when it is long enough, otherwise four random digits.
func bookingOTP(customerID string) string {
	if len(customerID) >= otpLength {
		return customerID[len(customerID)-otpLength:]
	}
	return randomDigits(otpLength)
}

func randomDigits(n int) string {
	max := big.NewInt(10)
	digits := make([]byte, n)
	for i := range digits {
		v, err := rand.Int(rand.Reader, max)
		if err != nil {
			digits[i] = '0'
			continue
		}
		digits[i] = byte('0' + v.Int64())
	}
	return string(digits)
}

func paymentMethodOrDefault(method string) models.PaymentMethod {
	if method == "" {
		return models.PaymentMethodCash
	}
	return models.PaymentMethod(method)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
