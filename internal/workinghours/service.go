package workinghours

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

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

const (
	tracerName = "workinghours-service"

	tickInterval = time.Second
	// checkpointSeconds is how many ticks pass between persisted
	// countdown values. A crash loses at most this many seconds.
	checkpointSeconds = 30
	// renewRetrySeconds re-arms an expired countdown when the renewal
	// decision itself failed, so the decision runs again shortly.
	renewRetrySeconds = 60

	insufficientStartBalance = "Insufficient wallet balance. Minimum ₹100 required"
)

// warningBoundaries are the countdown values at which expiry warnings
// fire: one hour, thirty minutes, ten minutes before the shift runs out.
var warningBoundaries = [...]int64{3600, 1800, 600}

type timerEntry struct {
	remaining    int64
	warnings     int
	sincePersist int
}

// tickAction is work collected under the registry lock and executed only
// after the lock is released.
type tickAction struct {
	driverID   string
	remaining  int64
	warning    int // 1-based warning number, 0 when not a warning
	expired    bool
	checkpoint bool
}

// Service owns the per-driver shift countdowns. All registered timers
// tick off a single one-second loop; the registry value is authoritative
// while the process runs and is checkpointed to the driver row.
type Service struct {
	repo     RepositoryInterface
	ledger   Announcer
	events   Emitter
	push     Pusher
	presence PresenceUpdater
	bus      *eventbus.Bus

	mu     sync.Mutex
	timers map[string]*timerEntry
}

// NewService creates the working-hours service
func NewService(repo RepositoryInterface, ledger Announcer, events Emitter, push Pusher, presence PresenceUpdater, bus *eventbus.Bus) *Service {
	return &Service{
		repo:     repo,
		ledger:   ledger,
		events:   events,
		push:     push,
		presence: presence,
		bus:      bus,
		timers:   make(map[string]*timerEntry),
	}
}

// Start takes a driver online. A running timer is a no-op, a paused
// countdown resumes without charge, and everything else buys a fresh
// shift for the flat fee.
func (s *Service) Start(ctx context.Context, driverID string) (*models.ShiftState, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "Start")
	defer span.End()

	if driverID == "" {
		return nil, common.NewValidationError("driver_id is required")
	}
	tracing.AddSpanAttributes(ctx, tracing.DriverAttribute(driverID))

	outcome, err := s.repo.StartShift(ctx, driverID)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, s.mapError(err, insufficientStartBalance)
	}
	return s.wentOnline(ctx, driverID, outcome)
}

// Resume restarts a paused countdown. Unlike Start it never opens a new
// shift: an exhausted countdown is rejected.
func (s *Service) Resume(ctx context.Context, driverID string) (*models.ShiftState, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "Resume")
	defer span.End()

	if driverID == "" {
		return nil, common.NewValidationError("driver_id is required")
	}
	tracing.AddSpanAttributes(ctx, tracing.DriverAttribute(driverID))

	outcome, err := s.repo.ResumeShift(ctx, driverID)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, s.mapError(err, "")
	}
	return s.wentOnline(ctx, driverID, outcome)
}

func (s *Service) wentOnline(ctx context.Context, driverID string, outcome *ShiftStart) (*models.ShiftState, error) {
	driver := outcome.Driver
	if outcome.Duplicate {
		// The row says online. Re-arm only if the registry lost the
		// entry, otherwise keep the live countdown untouched.
		s.armIfMissing(driverID, driver.RemainingWorkingSeconds, driver.WarningsIssued)
		state := shiftState(driver)
		s.overlay(driverID, state)
		return state, nil
	}

	s.arm(driverID, driver.RemainingWorkingSeconds, driver.WarningsIssued)

	if outcome.Txn != nil {
		s.ledger.Announce(outcome.Txn)
	}
	if s.presence != nil {
		s.presence.SetStatus(driverID, models.DriverStatusLive)
	}

	s.publish(eventbus.SubjectDriverOnline, eventbus.DriverOnlineData{
		DriverID:         driverID,
		VehicleType:      driver.VehicleType,
		RemainingSeconds: driver.RemainingWorkingSeconds,
		Resumed:          outcome.Resumed,
		OnlineAt:         time.Now(),
	})

	logger.InfoContext(ctx, "driver shift online",
		zap.String("driver_id", driverID),
		zap.Int64("remaining_seconds", driver.RemainingWorkingSeconds),
		zap.Bool("resumed", outcome.Resumed),
	)

	state := shiftState(driver)
	state.Resumed = outcome.Resumed
	if outcome.Txn != nil {
		state.AmountDeducted = outcome.Txn.Amount
	}
	return state, nil
}

// Stop freezes the countdown and takes the driver offline. The remaining
// seconds are kept for the next start.
func (s *Service) Stop(ctx context.Context, driverID string) (*models.ShiftState, error) {
	return s.goOffline(ctx, driverID, "Stop")
}

// Pause is Stop under another name; both preserve the countdown.
func (s *Service) Pause(ctx context.Context, driverID string) (*models.ShiftState, error) {
	return s.goOffline(ctx, driverID, "Pause")
}

func (s *Service) goOffline(ctx context.Context, driverID, op string) (*models.ShiftState, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, op)
	defer span.End()

	if driverID == "" {
		return nil, common.NewValidationError("driver_id is required")
	}
	tracing.AddSpanAttributes(ctx, tracing.DriverAttribute(driverID))

	// The registry value is fresher than the last checkpoint, so it
	// wins over the persisted countdown.
	remaining, tracked := s.peek(driverID)
	driver, err := s.repo.StopShift(ctx, driverID, remaining, tracked)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, s.mapError(err, "")
	}

	s.disarm(driverID)
	if s.presence != nil {
		s.presence.SetStatus(driverID, models.DriverStatusOffline)
	}

	s.publish(eventbus.SubjectDriverOffline, eventbus.DriverOfflineData{
		DriverID:         driverID,
		RemainingSeconds: driver.RemainingWorkingSeconds,
		OfflineAt:        time.Now(),
	})

	logger.InfoContext(ctx, "driver shift offline",
		zap.String("driver_id", driverID),
		zap.Int64("remaining_seconds", driver.RemainingWorkingSeconds),
	)
	return shiftState(driver), nil
}

// Extend buys additional hours at the driver's deduction fee.
func (s *Service) Extend(ctx context.Context, driverID string, additionalHours int) (*models.ShiftState, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "Extend")
	defer span.End()

	if additionalHours <= 0 {
		return nil, common.NewValidationError("additional_hours must be positive")
	}
	return s.purchase(ctx, driverID, PurchaseExtend, additionalHours)
}

// AddHalfTime buys half a shift of extra hours.
func (s *Service) AddHalfTime(ctx context.Context, driverID string) (*models.ShiftState, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "AddHalfTime")
	defer span.End()
	return s.purchase(ctx, driverID, PurchaseHalfTime, 0)
}

// AddFullTime buys a full shift of extra hours.
func (s *Service) AddFullTime(ctx context.Context, driverID string) (*models.ShiftState, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "AddFullTime")
	defer span.End()
	return s.purchase(ctx, driverID, PurchaseFullTime, 0)
}

func (s *Service) purchase(ctx context.Context, driverID string, kind PurchaseKind, additionalHours int) (*models.ShiftState, error) {
	if driverID == "" {
		return nil, common.NewValidationError("driver_id is required")
	}
	tracing.AddSpanAttributes(ctx, tracing.DriverAttribute(driverID))

	outcome, err := s.repo.PurchaseTime(ctx, driverID, kind, additionalHours)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, s.mapError(err, "insufficient wallet balance for extra hours")
	}

	s.ledger.Announce(outcome.Txn)
	// Purchased time also clears warning progress so the thresholds
	// fire again on the way back down.
	s.addTime(driverID, outcome.AddedSeconds)

	logger.InfoContext(ctx, "working hours purchased",
		zap.String("driver_id", driverID),
		zap.Int64("added_seconds", outcome.AddedSeconds),
		zap.Int64("fee", outcome.Txn.Amount),
	)

	state := shiftState(outcome.Driver)
	state.AmountDeducted = outcome.Txn.Amount
	s.overlay(driverID, state)
	return state, nil
}

// Status reports the shift view of one driver. A registered countdown
// overrides the persisted row, which may lag by up to a checkpoint.
func (s *Service) Status(ctx context.Context, driverID string) (*models.ShiftState, error) {
	if driverID == "" {
		return nil, common.NewValidationError("driver_id is required")
	}

	driver, err := s.repo.GetDriver(ctx, driverID)
	if err != nil {
		return nil, s.mapError(err, "")
	}

	state := shiftState(driver)
	s.overlay(driverID, state)
	return state, nil
}

// Recover re-arms the registry from rows whose timer was running at the
// last checkpoint. Seconds that passed while the process was down are
// not deducted.
func (s *Service) Recover(ctx context.Context) error {
	drivers, err := s.repo.ListActiveTimers(ctx)
	if err != nil {
		return err
	}
	for _, driver := range drivers {
		s.arm(driver.DriverID, driver.RemainingWorkingSeconds, driver.WarningsIssued)
	}
	if len(drivers) > 0 {
		logger.Info("working-hours timers recovered", zap.Int("count", len(drivers)))
	}
	return nil
}

// Run drives every registered countdown off one ticker. It blocks until
// ctx is cancelled, then checkpoints all live countdowns before
// returning.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.persistAll()
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// Tracked returns the number of registered countdowns.
func (s *Service) Tracked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// tick advances every countdown by one second. No lock is held across
// store calls or emits; due actions run after the registry is released.
func (s *Service) tick(ctx context.Context) {
	var actions []tickAction

	s.mu.Lock()
	for driverID, entry := range s.timers {
		entry.remaining--
		entry.sincePersist++

		if entry.remaining <= 0 {
			delete(s.timers, driverID)
			actions = append(actions, tickAction{driverID: driverID, expired: true})
			continue
		}

		warned := false
		for i, boundary := range warningBoundaries {
			if entry.remaining == boundary && entry.warnings < i+1 {
				entry.warnings = i + 1
				entry.sincePersist = 0
				actions = append(actions, tickAction{driverID: driverID, remaining: entry.remaining, warning: i + 1})
				warned = true
				break
			}
		}
		if warned {
			continue
		}

		if entry.sincePersist >= checkpointSeconds {
			entry.sincePersist = 0
			actions = append(actions, tickAction{driverID: driverID, remaining: entry.remaining, checkpoint: true})
		}
	}
	s.mu.Unlock()

	for _, action := range actions {
		switch {
		case action.expired:
			s.expire(ctx, action.driverID)
		case action.warning > 0:
			s.warn(ctx, action.driverID, action.warning, action.remaining)
		default:
			if err := s.repo.PersistCountdown(ctx, action.driverID, action.remaining); err != nil {
				logger.Warn("countdown checkpoint failed",
					zap.String("driver_id", action.driverID),
					zap.Error(err),
				)
			}
		}
	}
}

// expire runs the renewal decision after a countdown hits zero.
func (s *Service) expire(ctx context.Context, driverID string) {
	outcome, err := s.repo.RenewShift(ctx, driverID)
	if err != nil {
		logger.Error("shift expiry decision failed",
			zap.String("driver_id", driverID),
			zap.Error(err),
		)
		// The driver stays online with a short countdown so the
		// decision is retried once the store answers again.
		s.arm(driverID, renewRetrySeconds, len(warningBoundaries))
		return
	}

	if outcome.Renewed {
		s.ledger.Announce(outcome.Txn)
		metrics.ShiftAutoDebits.Inc()
		s.arm(driverID, outcome.Driver.RemainingWorkingSeconds, 0)

		if s.push != nil {
			s.push.SendShiftExpired(ctx, outcome.Driver, true)
		}
		s.publish(eventbus.SubjectDriverShiftExpired, eventbus.ShiftExpiredData{
			DriverID:    driverID,
			AutoRenewed: true,
			ExpiredAt:   time.Now(),
		})
		logger.Info("shift auto-renewed",
			zap.String("driver_id", driverID),
			zap.Int64("fee", outcome.Txn.Amount),
		)
		return
	}

	metrics.ShiftAutoStops.Inc()
	if s.presence != nil {
		s.presence.SetStatus(driverID, models.DriverStatusOffline)
	}
	if s.events != nil {
		s.events.ToDriver(driverID, realtime.EventAutoStop, map[string]interface{}{
			"driverId": driverID,
			"message":  "Working hours exhausted. You have been taken offline.",
		})
	}
	if s.push != nil {
		s.push.SendShiftExpired(ctx, outcome.Driver, false)
	}
	s.publish(eventbus.SubjectDriverShiftExpired, eventbus.ShiftExpiredData{
		DriverID:    driverID,
		AutoRenewed: false,
		ExpiredAt:   time.Now(),
	})
	logger.Info("shift expired, driver stopped", zap.String("driver_id", driverID))
}

// warn issues one expiry warning.
func (s *Service) warn(ctx context.Context, driverID string, number int, remaining int64) {
	if err := s.repo.PersistWarning(ctx, driverID, number, remaining); err != nil {
		logger.Warn("failed to persist shift warning",
			zap.String("driver_id", driverID),
			zap.Error(err),
		)
	}
	metrics.ShiftWarnings.WithLabelValues(strconv.FormatInt(remaining, 10)).Inc()

	if s.events != nil {
		s.events.ToDriver(driverID, realtime.EventWorkingHoursWarning, map[string]interface{}{
			"driverId":         driverID,
			"warning":          number,
			"remainingSeconds": remaining,
			"message":          warningMessage(remaining),
		})
	}
	if s.push != nil {
		if driver, err := s.repo.GetDriver(ctx, driverID); err == nil {
			s.push.SendShiftWarning(ctx, driver, remaining)
		}
	}
	s.publish(eventbus.SubjectDriverShiftWarning, eventbus.ShiftWarningData{
		DriverID:         driverID,
		RemainingSeconds: remaining,
		WarnedAt:         time.Now(),
	})
	logger.Info("shift warning issued",
		zap.String("driver_id", driverID),
		zap.Int("warning", number),
		zap.Int64("remaining_seconds", remaining),
	)
}

func warningMessage(remaining int64) string {
	switch {
	case remaining >= 3600:
		return "Your working hours expire in 1 hour"
	case remaining >= 1800:
		return "Your working hours expire in 30 minutes"
	default:
		return "Your working hours expire in 10 minutes"
	}
}

// persistAll checkpoints every live countdown, called once at shutdown.
func (s *Service) persistAll() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.mu.Lock()
	snapshot := make(map[string]int64, len(s.timers))
	for driverID, entry := range s.timers {
		snapshot[driverID] = entry.remaining
	}
	s.mu.Unlock()

	for driverID, remaining := range snapshot {
		if err := s.repo.PersistCountdown(ctx, driverID, remaining); err != nil {
			logger.Warn("failed to checkpoint countdown at shutdown",
				zap.String("driver_id", driverID),
				zap.Error(err),
			)
		}
	}
	if len(snapshot) > 0 {
		logger.Info("working-hours countdowns checkpointed", zap.Int("count", len(snapshot)))
	}
}

func (s *Service) arm(driverID string, remaining int64, warnings int) {
	s.mu.Lock()
	s.timers[driverID] = &timerEntry{remaining: remaining, warnings: warnings}
	s.mu.Unlock()
}

func (s *Service) armIfMissing(driverID string, remaining int64, warnings int) {
	s.mu.Lock()
	if _, ok := s.timers[driverID]; !ok {
		s.timers[driverID] = &timerEntry{remaining: remaining, warnings: warnings}
	}
	s.mu.Unlock()
}

func (s *Service) disarm(driverID string) {
	s.mu.Lock()
	delete(s.timers, driverID)
	s.mu.Unlock()
}

// peek returns the live countdown without changing it.
func (s *Service) peek(driverID string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.timers[driverID]; ok {
		return entry.remaining, true
	}
	return 0, false
}

func (s *Service) addTime(driverID string, seconds int64) {
	s.mu.Lock()
	if entry, ok := s.timers[driverID]; ok {
		entry.remaining += seconds
		entry.warnings = 0
	}
	s.mu.Unlock()
}

// overlay replaces the persisted countdown in state with the registry
// value when the driver's timer is live in this process.
func (s *Service) overlay(driverID string, state *models.ShiftState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.timers[driverID]; ok {
		state.TimerActive = true
		state.RemainingSeconds = entry.remaining
		state.WarningsIssued = entry.warnings
	}
}

func shiftState(driver *models.Driver) *models.ShiftState {
	return &models.ShiftState{
		DriverID:               driver.DriverID,
		Status:                 driver.Status,
		TimerActive:            driver.TimerActive,
		RemainingSeconds:       driver.RemainingWorkingSeconds,
		WorkingHoursLimit:      driver.WorkingHoursLimit,
		WarningsIssued:         driver.WarningsIssued,
		ExtendedHoursPurchased: driver.ExtendedHoursPurchased,
	}
}

func (s *Service) publish(subject string, payload interface{}) {
	event, err := eventbus.NewEvent(subject, "workinghours", payload)
	if err != nil {
		logger.Warn("failed to encode shift event", zap.String("subject", subject), zap.Error(err))
		return
	}
	if err := s.bus.Publish(subject, event); err != nil {
		logger.Warn("failed to publish shift event", zap.Error(err))
	}
}

func (s *Service) mapError(err error, insufficientMsg string) error {
	var appErr *common.AppError
	switch {
	case errors.As(err, &appErr):
		return err
	case errors.Is(err, pgx.ErrNoRows):
		return common.NewNotFoundError("driver not found", err)
	case errors.Is(err, wallet.ErrInsufficientFunds):
		if insufficientMsg == "" {
			insufficientMsg = "insufficient wallet balance"
		}
		return common.NewUnprocessableError(common.CodeInsufficientBalance, insufficientMsg)
	case errors.Is(err, ErrNoRemainingTime):
		return common.NewUnprocessableError(common.CodeDomainRule, "no remaining working hours, start a new shift")
	default:
		return common.NewServiceUnavailableError("driver store unavailable", err)
	}
}
