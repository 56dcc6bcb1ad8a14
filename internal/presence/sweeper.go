package presence

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ridepulse/dispatch/pkg/logger"
	"github.com/ridepulse/dispatch/pkg/metrics"
	"github.com/ridepulse/dispatch/pkg/models"
)

const (
	sweepInterval     = 60 * time.Second
	staleAfter        = 60 * time.Second
	evictAfter        = 5 * time.Minute
	activeRideMaxAge  = 3 * time.Hour
	dedupMaxAge       = 60 * time.Second
	userTrackerMaxAge = 30 * time.Minute
)

// Sweeper reclaims presence, dispatch and user-tracking state that has
// gone quiet. Stale drivers are flipped offline before their entries are
// dropped so a reconnect starts from a clean slate.
type Sweeper struct {
	registry *Registry
	users    *UserTracker
	store    Store
	geo      GeoIndex
	geoKey   string
	active   Prunable
	dedup    Prunable
}

// NewSweeper wires a sweeper over the shared in-memory state.
func NewSweeper(registry *Registry, users *UserTracker, store Store, geo GeoIndex, geoKey string, active, dedup Prunable) *Sweeper {
	return &Sweeper{
		registry: registry,
		users:    users,
		store:    store,
		geo:      geo,
		geoKey:   geoKey,
		active:   active,
		dedup:    dedup,
	}
}

// Run sweeps once a minute until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	now := time.Now()

	stale := s.registry.MarkStale(now.Add(-staleAfter))
	for _, entry := range stale {
		if s.store == nil {
			continue
		}
		if err := s.store.SetDriverStatus(ctx, entry.DriverID, models.DriverStatusOffline); err != nil {
			logger.Warn("failed to persist stale driver offline",
				zap.String("driver_id", entry.DriverID),
				zap.Error(err),
			)
		}
	}

	evicted := s.registry.EvictInactive(now.Add(-evictAfter))
	for _, entry := range evicted {
		metrics.SweeperEvictions.WithLabelValues("presence").Inc()
		if s.geo == nil {
			continue
		}
		if err := s.geo.GeoRemove(ctx, s.geoKey, entry.DriverID); err != nil {
			logger.Warn("failed to remove driver from geo index",
				zap.String("driver_id", entry.DriverID),
				zap.Error(err),
			)
		}
	}

	if s.active != nil {
		if n := s.active.PruneOlderThan(activeRideMaxAge); n > 0 {
			metrics.SweeperEvictions.WithLabelValues("active_rides").Add(float64(n))
		}
	}
	if s.dedup != nil {
		if n := s.dedup.PruneOlderThan(dedupMaxAge); n > 0 {
			metrics.SweeperEvictions.WithLabelValues("dedup").Add(float64(n))
		}
	}
	if s.users != nil {
		if n := s.users.EvictBefore(now.Add(-userTrackerMaxAge)); n > 0 {
			metrics.SweeperEvictions.WithLabelValues("users").Add(float64(n))
		}
	}

	if len(stale) > 0 || len(evicted) > 0 {
		logger.Debug("presence sweep completed",
			zap.Int("marked_offline", len(stale)),
			zap.Int("evicted", len(evicted)),
		)
	}
}
