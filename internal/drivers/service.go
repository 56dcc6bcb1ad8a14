package drivers

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/ridepulse/dispatch/pkg/common"
	"github.com/ridepulse/dispatch/pkg/logger"
	"github.com/ridepulse/dispatch/pkg/models"
	"github.com/ridepulse/dispatch/pkg/tracing"
)

const tracerName = "drivers-service"

// Service implements driver profile reads and the two small writes the
// apps need outside the shift flow: presence status and push token.
type Service struct {
	repo     RepositoryInterface
	presence PresenceUpdater
}

// NewService creates a new drivers service
func NewService(repo RepositoryInterface, presence PresenceUpdater) *Service {
	return &Service{repo: repo, presence: presence}
}

// GetDriver returns the driver record straight from the store
func (s *Service) GetDriver(ctx context.Context, driverID string) (*models.Driver, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "GetDriver")
	defer span.End()

	if driverID == "" {
		return nil, common.NewValidationError("driver_id is required")
	}
	tracing.AddSpanAttributes(ctx, tracing.DriverAttribute(driverID))

	driver, err := s.repo.GetDriver(ctx, driverID)
	if err != nil {
		tracing.RecordError(ctx, err)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.NewNotFoundError("driver not found", err)
		}
		return nil, common.NewServiceUnavailableError("driver store unavailable", err)
	}
	return driver, nil
}

// UpdateStatus writes the presence status to the store and mirrors it
// into the live map. Shift accounting is untouched; going online for a
// shift runs through the working-hours service instead.
func (s *Service) UpdateStatus(ctx context.Context, driverID, status string) (*models.Driver, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "UpdateStatus")
	defer span.End()

	if driverID == "" {
		return nil, common.NewValidationError("driver_id is required")
	}
	newStatus := models.DriverStatus(status)
	if !models.IsValidDriverStatus(newStatus) {
		return nil, common.NewValidationError(fmt.Sprintf("unknown status %q", status))
	}
	tracing.AddSpanAttributes(ctx, tracing.DriverAttribute(driverID))

	found, err := s.repo.UpdateStatus(ctx, driverID, newStatus)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, common.NewServiceUnavailableError("driver store unavailable", err)
	}
	if !found {
		return nil, common.NewNotFoundError("driver not found", nil)
	}

	if s.presence != nil {
		s.presence.SetStatus(driverID, newStatus)
	}
	logger.InfoContext(ctx, "driver status updated",
		zap.String("driver_id", driverID),
		zap.String("status", status),
	)

	driver, err := s.repo.GetDriver(ctx, driverID)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, common.NewServiceUnavailableError("driver store unavailable", err)
	}
	return driver, nil
}

// UpdatePushToken stores the token ride request pushes are sent to
func (s *Service) UpdatePushToken(ctx context.Context, driverID, token string) error {
	ctx, span := tracing.StartSpan(ctx, tracerName, "UpdatePushToken")
	defer span.End()

	if driverID == "" {
		return common.NewValidationError("driver_id is required")
	}
	if token == "" {
		return common.NewValidationError("fcm_token is required")
	}
	tracing.AddSpanAttributes(ctx, tracing.DriverAttribute(driverID))

	found, err := s.repo.UpdatePushToken(ctx, driverID, token)
	if err != nil {
		tracing.RecordError(ctx, err)
		return common.NewServiceUnavailableError("driver store unavailable", err)
	}
	if !found {
		return common.NewNotFoundError("driver not found", nil)
	}

	logger.InfoContext(ctx, "driver push token updated",
		zap.String("driver_id", driverID),
	)
	return nil
}
