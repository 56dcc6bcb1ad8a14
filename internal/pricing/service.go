package pricing

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ridepulse/dispatch/internal/realtime"
	"github.com/ridepulse/dispatch/pkg/common"
	"github.com/ridepulse/dispatch/pkg/eventbus"
	"github.com/ridepulse/dispatch/pkg/logger"
	"github.com/ridepulse/dispatch/pkg/models"
	"github.com/ridepulse/dispatch/pkg/tracing"
)

// Service owns the pricing cache and its persistence.
type Service struct {
	repo        RepositoryInterface
	cache       *Cache
	broadcaster Broadcaster
	bus         *eventbus.Bus
}

// NewService creates a new pricing service
func NewService(repo RepositoryInterface, cache *Cache, broadcaster Broadcaster, bus *eventbus.Bus) *Service {
	return &Service{repo: repo, cache: cache, broadcaster: broadcaster, bus: bus}
}

// Load initialises the cache from the store. Called once at startup;
// vehicle types without a stored row keep their defaults.
func (s *Service) Load(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "pricing-service", "Load")
	defer span.End()

	stored, err := s.repo.ListPrices(ctx)
	if err != nil {
		tracing.RecordError(ctx, err)
		return err
	}

	prices := make(map[string]int64, len(stored))
	for _, p := range stored {
		prices[p.VehicleType] = p.PricePerKm
	}
	s.cache.Replace(prices)

	logger.Info("ride prices loaded",
		zap.Int("stored", len(stored)),
		zap.Any("effective", s.cache.Snapshot()),
	)
	return nil
}

// GetPrices returns the stored prices plus synthesized defaults for any
// vehicle type that was never written.
func (s *Service) GetPrices(ctx context.Context) ([]*RidePrice, error) {
	stored, err := s.repo.ListPrices(ctx)
	if err != nil {
		return nil, common.NewServiceUnavailableError("failed to load ride prices", err)
	}

	seen := make(map[string]bool, len(stored))
	for _, p := range stored {
		seen[p.VehicleType] = true
	}
	for _, vt := range models.VehicleTypes {
		if !seen[vt] {
			stored = append(stored, &RidePrice{
				VehicleType: vt,
				PricePerKm:  DefaultPrices[vt],
				IsDefault:   true,
			})
		}
	}
	return stored, nil
}

// UpdatePrice persists a new per-km price, swaps it into the cache and
// announces it to every connected session.
func (s *Service) UpdatePrice(ctx context.Context, req *UpdatePriceRequest, updatedBy string) (*RidePrice, error) {
	ctx, span := tracing.StartSpan(ctx, "pricing-service", "UpdatePrice")
	defer span.End()

	if !models.IsValidVehicleType(req.VehicleType) {
		return nil, common.NewValidationError("invalid vehicle type")
	}
	if req.PricePerKm <= 0 {
		return nil, common.NewValidationError("price_per_km must be positive")
	}

	price := &RidePrice{
		VehicleType: req.VehicleType,
		PricePerKm:  req.PricePerKm,
		UpdatedBy:   updatedBy,
	}
	if err := s.repo.UpsertPrice(ctx, price); err != nil {
		tracing.RecordError(ctx, err)
		return nil, common.NewServiceUnavailableError("failed to save ride price", err)
	}

	s.cache.Set(price.VehicleType, price.PricePerKm)

	if s.broadcaster != nil {
		s.broadcaster.ToAll(realtime.EventPriceUpdate, map[string]interface{}{
			"vehicleType": price.VehicleType,
			"pricePerKm":  price.PricePerKm,
			"prices":      s.cache.Snapshot(),
		})
	}

	event, err := eventbus.NewEvent(eventbus.SubjectPriceUpdated, "pricing", eventbus.PriceUpdatedData{
		VehicleType: price.VehicleType,
		PricePerKm:  price.PricePerKm,
		UpdatedBy:   updatedBy,
		UpdatedAt:   derefTime(price.UpdatedAt),
	})
	if err != nil {
		logger.Warn("failed to encode price update", zap.Error(err))
	} else if err := s.bus.Publish(eventbus.SubjectPriceUpdated, event); err != nil {
		logger.Warn("failed to publish price update", zap.Error(err))
	}

	logger.Info("ride price updated",
		zap.String("vehicle_type", price.VehicleType),
		zap.Int64("price_per_km", price.PricePerKm),
		zap.String("updated_by", updatedBy),
	)
	return price, nil
}

// CurrentPrices returns the effective per-km price map.
func (s *Service) CurrentPrices() map[string]int64 {
	return s.cache.Snapshot()
}

// Fare calculates a fare from the cached prices.
func (s *Service) Fare(vehicleType string, distanceKm float64) int64 {
	return s.cache.CalculateFare(vehicleType, distanceKm)
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Now()
	}
	return *t
}

