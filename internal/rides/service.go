package rides

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/ridepulse/dispatch/internal/realtime"
	"github.com/ridepulse/dispatch/internal/wallet"
	"github.com/ridepulse/dispatch/pkg/common"
	"github.com/ridepulse/dispatch/pkg/eventbus"
	"github.com/ridepulse/dispatch/pkg/logger"
	"github.com/ridepulse/dispatch/pkg/metrics"
	"github.com/ridepulse/dispatch/pkg/models"
	"github.com/ridepulse/dispatch/pkg/tracing"
)

// keyedMutex serializes work per ride so the completion side effects of
// one ride never interleave.
type keyedMutex struct {
	locks sync.Map
}

func (k *keyedMutex) Lock(key string) func() {
	v, _ := k.locks.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Service drives the ride state machine: arrival, OTP-gated start,
// ordered completion and cancellation.
type Service struct {
	repo     RepositoryInterface
	fares    FareCalculator
	ledger   WalletLedger
	events   EventSink
	active   ActiveRideStore
	presence PresenceUpdater
	bus      *eventbus.Bus

	rideLocks keyedMutex
}

// NewService creates a new ride state machine service
func NewService(repo RepositoryInterface, fares FareCalculator, ledger WalletLedger, events EventSink, active ActiveRideStore, presence PresenceUpdater, bus *eventbus.Bus) *Service {
	return &Service{
		repo:     repo,
		fares:    fares,
		ledger:   ledger,
		events:   events,
		active:   active,
		presence: presence,
		bus:      bus,
	}
}

// GetRide fetches a ride by raid id or internal UUID
func (s *Service) GetRide(ctx context.Context, rideRef string) (*models.Ride, error) {
	return s.resolveRide(ctx, rideRef)
}

func (s *Service) resolveRide(ctx context.Context, rideRef string) (*models.Ride, error) {
	if rideRef == "" {
		return nil, common.NewValidationError("ride id is required")
	}

	var (
		ride *models.Ride
		err  error
	)
	if id, parseErr := uuid.Parse(rideRef); parseErr == nil {
		ride, err = s.repo.GetRideByID(ctx, id)
	} else {
		ride, err = s.repo.GetRideByRaidID(ctx, rideRef)
	}
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.NewNotFoundError("ride not found", err)
		}
		return nil, common.NewServiceUnavailableError("ride store unavailable", err)
	}
	return ride, nil
}

// Arrived marks the assigned driver as arrived at the pickup point and
// notifies both parties. Repeated calls by the same driver succeed
// without re-emitting.
func (s *Service) Arrived(ctx context.Context, req *models.ArrivedRequest) (*models.Ride, error) {
	ctx, span := tracing.StartSpan(ctx, "rides-service", "Arrived")
	defer span.End()

	ride, err := s.resolveRide(ctx, req.RideID)
	if err != nil {
		return nil, err
	}
	tracing.AddSpanAttributes(ctx, tracing.RideAttributes(ride.RaidID, ride.CustomerID, req.DriverID)...)

	if req.DriverID == "" {
		return nil, common.NewValidationError("driver id is required")
	}
	if ride.DriverID == nil || *ride.DriverID != req.DriverID {
		return nil, common.NewForbiddenError("ride is assigned to another driver")
	}

	ok, err := s.repo.MarkArrived(ctx, ride.RaidID, req.DriverID)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, common.NewServiceUnavailableError("ride store unavailable", err)
	}
	if !ok {
		current, err := s.resolveRide(ctx, ride.RaidID)
		if err != nil {
			return nil, err
		}
		if current.Status == models.RideStatusArrived {
			return current, nil
		}
		return nil, common.NewUnprocessableError(common.CodeDomainRule, "ride is not awaiting arrival")
	}

	now := time.Now()
	ride.Status = models.RideStatusArrived
	ride.ArrivedAt = &now
	metrics.RideTransitions.WithLabelValues(string(models.RideStatusArrived)).Inc()

	s.emitStatus(ride, models.RideStatusArrived, nil)
	s.publish(eventbus.SubjectRideArrived, eventbus.RideArrivedData{
		RideID:    ride.ID,
		RaidID:    ride.RaidID,
		DriverID:  req.DriverID,
		ArrivedAt: now,
	})

	logger.InfoContext(ctx, "driver arrived at pickup",
		zap.String("raid_id", ride.RaidID),
		zap.String("driver_id", req.DriverID),
	)
	return ride, nil
}

// Start performs the OTP-gated arrived to started transition. A repeat
// call for an already started ride succeeds idempotently, which covers
// clients that send the legacy start event after OTP verification.
func (s *Service) Start(ctx context.Context, req *models.StartRideRequest) (*models.Ride, error) {
	ctx, span := tracing.StartSpan(ctx, "rides-service", "Start")
	defer span.End()

	ride, err := s.resolveRide(ctx, req.RideID)
	if err != nil {
		return nil, err
	}
	tracing.AddSpanAttributes(ctx, tracing.RideAttributes(ride.RaidID, ride.CustomerID, req.DriverID)...)

	if req.DriverID == "" {
		return nil, common.NewValidationError("driver id is required")
	}
	if ride.DriverID == nil || *ride.DriverID != req.DriverID {
		return nil, common.NewForbiddenError("ride is assigned to another driver")
	}
	if ride.Status == models.RideStatusStarted {
		return ride, nil
	}
	if req.OTP != ride.OTP {
		return nil, common.NewUnprocessableError(common.CodeInvalidOTP, "invalid OTP")
	}

	ok, err := s.repo.StartRide(ctx, ride.RaidID, req.DriverID)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, common.NewServiceUnavailableError("ride store unavailable", err)
	}
	if !ok {
		current, err := s.resolveRide(ctx, ride.RaidID)
		if err != nil {
			return nil, err
		}
		if current.Status == models.RideStatusStarted {
			return current, nil
		}
		return nil, common.NewUnprocessableError(common.CodeDomainRule, "ride is not awaiting pickup")
	}

	now := time.Now()
	ride.Status = models.RideStatusStarted
	ride.StartedAt = &now
	metrics.RideTransitions.WithLabelValues(string(models.RideStatusStarted)).Inc()

	if s.events != nil {
		s.events.ToUser(ride.UserID.String(), realtime.EventOTPVerified, map[string]interface{}{
			"rideId":   ride.ID.String(),
			"raidId":   ride.RaidID,
			"driverId": req.DriverID,
		})
	}
	s.emitStatus(ride, models.RideStatusStarted, nil)
	s.publish(eventbus.SubjectRideStarted, eventbus.RideStartedData{
		RideID:    ride.ID,
		RaidID:    ride.RaidID,
		DriverID:  req.DriverID,
		StartedAt: now,
	})

	logger.InfoContext(ctx, "ride started",
		zap.String("raid_id", ride.RaidID),
		zap.String("driver_id", req.DriverID),
	)
	return ride, nil
}

// Complete finishes a ride from arrived or started. Side effects run in
// a fixed order, serialized per ride: persist, credit driver, debit
// wallet-paying passenger, billAlert, rideCompleted, rideStatusUpdate,
// driver back to live.
func (s *Service) Complete(ctx context.Context, req *models.CompleteRideRequest) (*models.Ride, error) {
	ctx, span := tracing.StartSpan(ctx, "rides-service", "Complete")
	defer span.End()

	ride, err := s.resolveRide(ctx, req.RideID)
	if err != nil {
		return nil, err
	}

	unlock := s.rideLocks.Lock(ride.RaidID)
	defer unlock()

	// Re-read under the lock; another completion may have won.
	ride, err = s.resolveRide(ctx, ride.RaidID)
	if err != nil {
		return nil, err
	}
	return s.completeLocked(ctx, ride, req)
}

func (s *Service) completeLocked(ctx context.Context, ride *models.Ride, req *models.CompleteRideRequest) (*models.Ride, error) {
	tracing.AddSpanAttributes(ctx, tracing.RideAttributes(ride.RaidID, ride.CustomerID, req.DriverID)...)

	if req.DriverID == "" {
		return nil, common.NewValidationError("driver id is required")
	}
	if ride.DriverID == nil || *ride.DriverID != req.DriverID {
		return nil, common.NewForbiddenError("ride is assigned to another driver")
	}
	if ride.Status == models.RideStatusCompleted {
		return ride, nil
	}

	distance := req.DistanceKm
	if distance <= 0 {
		distance = ride.DistanceKm
	}
	// The client-reported fare is ignored; the fare is recomputed from
	// the server's price table.
	actualFare := s.fares.CalculateFare(ride.VehicleType, distance)

	ok, err := s.repo.CompleteRide(ctx, ride.RaidID, req.DriverID, distance, actualFare)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, common.NewServiceUnavailableError("ride store unavailable", err)
	}
	if !ok {
		current, err := s.resolveRide(ctx, ride.RaidID)
		if err != nil {
			return nil, err
		}
		if current.Status == models.RideStatusCompleted {
			return current, nil
		}
		return nil, common.NewUnprocessableError(common.CodeDomainRule, "ride is not in progress")
	}

	now := time.Now()
	ride.Status = models.RideStatusCompleted
	ride.ActualDistanceKm = &distance
	ride.ActualFare = &actualFare
	ride.CompletedAt = &now
	metrics.RideTransitions.WithLabelValues(string(models.RideStatusCompleted)).Inc()

	if _, err := s.ledger.CreditDriver(ctx, wallet.DriverOp{
		DriverID:    req.DriverID,
		Amount:      actualFare,
		Method:      models.MethodRideFare,
		Description: "fare for " + ride.RaidID,
		RideID:      &ride.ID,
	}); err != nil {
		logger.ErrorContext(ctx, "driver fare credit failed",
			zap.String("raid_id", ride.RaidID),
			zap.String("driver_id", req.DriverID),
			zap.Int64("fare", actualFare),
			zap.Error(err),
		)
	}

	if ride.PaymentMethod == models.PaymentMethodWallet {
		if _, err := s.ledger.DebitUser(ctx, wallet.UserOp{
			UserID:      ride.UserID,
			Amount:      actualFare,
			Method:      models.MethodRidePayment,
			Description: "fare for " + ride.RaidID,
			RideID:      &ride.ID,
		}); err != nil {
			// Completion is never blocked on the passenger balance.
			logger.WarnContext(ctx, "passenger wallet debit failed",
				zap.String("raid_id", ride.RaidID),
				zap.String("user_id", ride.UserID.String()),
				zap.Int64("fare", actualFare),
				zap.Error(err),
			)
		}
	}

	if s.events != nil {
		userRoom := ride.UserID.String()
		s.events.ToUser(userRoom, realtime.EventBillAlert, map[string]interface{}{
			"rideId":        ride.ID.String(),
			"raidId":        ride.RaidID,
			"fare":          actualFare,
			"distance":      distance,
			"paymentMethod": string(ride.PaymentMethod),
		})

		completed := map[string]interface{}{
			"rideId":   ride.ID.String(),
			"raidId":   ride.RaidID,
			"driverId": req.DriverID,
			"fare":     actualFare,
			"distance": distance,
		}
		s.events.ToUser(userRoom, realtime.EventRideCompleted, completed)
		s.events.ToDriver(req.DriverID, realtime.EventRideCompleted, completed)
	}
	s.emitStatus(ride, models.RideStatusCompleted, nil)

	if err := s.repo.SetDriverStatus(ctx, req.DriverID, models.DriverStatusLive); err != nil {
		logger.WarnContext(ctx, "failed to return driver to live",
			zap.String("driver_id", req.DriverID),
			zap.Error(err),
		)
	}
	if s.presence != nil {
		s.presence.SetStatus(req.DriverID, models.DriverStatusLive)
	}
	if s.active != nil {
		s.active.Remove(ride.RaidID)
	}

	s.publish(eventbus.SubjectRideCompleted, eventbus.RideCompletedData{
		RideID:        ride.ID,
		RaidID:        ride.RaidID,
		UserID:        ride.UserID,
		DriverID:      req.DriverID,
		Fare:          actualFare,
		DistanceKm:    distance,
		PaymentMethod: string(ride.PaymentMethod),
		CompletedAt:   now,
	})

	logger.InfoContext(ctx, "ride completed",
		zap.String("raid_id", ride.RaidID),
		zap.String("driver_id", req.DriverID),
		zap.Int64("fare", actualFare),
		zap.Float64("distance_km", distance),
	)
	return ride, nil
}

// Cancel ends a ride before pickup. Cancelling a started ride settles it
// as a completion with the recorded distance instead.
func (s *Service) Cancel(ctx context.Context, req *models.CancelRideRequest) (*models.Ride, error) {
	ctx, span := tracing.StartSpan(ctx, "rides-service", "Cancel")
	defer span.End()

	ride, err := s.resolveRide(ctx, req.RideID)
	if err != nil {
		return nil, err
	}

	unlock := s.rideLocks.Lock(ride.RaidID)
	defer unlock()

	ride, err = s.resolveRide(ctx, ride.RaidID)
	if err != nil {
		return nil, err
	}
	tracing.AddSpanAttributes(ctx, tracing.RideAttributes(ride.RaidID, ride.CustomerID, "")...)

	if ride.Status == models.RideStatusStarted {
		if ride.DriverID == nil {
			return nil, common.NewInternalError("started ride has no driver", nil)
		}
		return s.completeLocked(ctx, ride, &models.CompleteRideRequest{
			RideID:     ride.RaidID,
			DriverID:   *ride.DriverID,
			DistanceKm: ride.DistanceKm,
		})
	}
	if ride.IsTerminal() {
		return nil, common.NewUnprocessableError(common.CodeDomainRule, "ride already finished")
	}

	ok, err := s.repo.CancelRide(ctx, ride.RaidID, req.CancelledBy, req.Reason)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, common.NewServiceUnavailableError("ride store unavailable", err)
	}
	if !ok {
		return nil, common.NewUnprocessableError(common.CodeDomainRule, "ride already finished")
	}

	now := time.Now()
	ride.Status = models.RideStatusCancelled
	ride.CancelledAt = &now
	ride.CancelledBy = &req.CancelledBy
	ride.CancelReason = req.Reason
	metrics.RideTransitions.WithLabelValues(string(models.RideStatusCancelled)).Inc()

	extra := map[string]interface{}{"cancelledBy": req.CancelledBy}
	if req.Reason != nil {
		extra["reason"] = *req.Reason
	}
	s.emitStatus(ride, models.RideStatusCancelled, extra)

	if ride.DriverID != nil {
		if err := s.repo.SetDriverStatus(ctx, *ride.DriverID, models.DriverStatusLive); err != nil {
			logger.WarnContext(ctx, "failed to return driver to live",
				zap.String("driver_id", *ride.DriverID),
				zap.Error(err),
			)
		}
		if s.presence != nil {
			s.presence.SetStatus(*ride.DriverID, models.DriverStatusLive)
		}
	}
	if s.active != nil {
		s.active.Remove(ride.RaidID)
	}

	var driverID string
	if ride.DriverID != nil {
		driverID = *ride.DriverID
	}
	var reason string
	if req.Reason != nil {
		reason = *req.Reason
	}
	s.publish(eventbus.SubjectRideCancelled, eventbus.RideCancelledData{
		RideID:      ride.ID,
		RaidID:      ride.RaidID,
		DriverID:    driverID,
		CancelledBy: req.CancelledBy,
		Reason:      reason,
		CancelledAt: now,
	})

	logger.InfoContext(ctx, "ride cancelled",
		zap.String("raid_id", ride.RaidID),
		zap.String("cancelled_by", req.CancelledBy),
	)
	return ride, nil
}

// emitStatus sends rideStatusUpdate to the passenger and, when assigned,
// the driver.
func (s *Service) emitStatus(ride *models.Ride, status models.RideStatus, extra map[string]interface{}) {
	if s.events == nil {
		return
	}

	data := map[string]interface{}{
		"rideId": ride.ID.String(),
		"raidId": ride.RaidID,
		"status": string(status),
	}
	for k, v := range extra {
		data[k] = v
	}

	s.events.ToUser(ride.UserID.String(), realtime.EventRideStatusUpdate, data)
	if ride.DriverID != nil {
		s.events.ToDriver(*ride.DriverID, realtime.EventRideStatusUpdate, data)
	}
}

func (s *Service) publish(subject string, payload interface{}) {
	event, err := eventbus.NewEvent(subject, "rides", payload)
	if err != nil {
		logger.Warn("failed to encode ride event", zap.String("subject", subject), zap.Error(err))
		return
	}
	if err := s.bus.Publish(subject, event); err != nil {
		logger.Warn("failed to publish ride event", zap.Error(err))
	}
}
