package presence

import (
	"context"
	"time"

	"github.com/ridepulse/dispatch/internal/realtime"
)

const (
	broadcastInterval = 3 * time.Second
	broadcastFreshFor = 60 * time.Second
)

// Broadcaster pushes the consolidated fleet position snapshot to every
// connected client on a fixed cadence.
type Broadcaster struct {
	registry *Registry
	events   Emitter
}

// NewBroadcaster creates a broadcaster over the given registry.
func NewBroadcaster(registry *Registry, events Emitter) *Broadcaster {
	return &Broadcaster{registry: registry, events: events}
}

// Run broadcasts every three seconds until ctx is cancelled.
func (b *Broadcaster) Run(ctx context.Context) {
	ticker := time.NewTicker(broadcastInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.broadcast()
		}
	}
}

func (b *Broadcaster) broadcast() {
	entries := b.registry.ActiveSince(time.Now().Add(-broadcastFreshFor))
	if len(entries) == 0 {
		return
	}

	drivers := make([]map[string]interface{}, 0, len(entries))
	for _, entry := range entries {
		drivers = append(drivers, map[string]interface{}{
			"driverId":    entry.DriverID,
			"name":        entry.Name,
			"vehicleType": entry.VehicleType,
			"latitude":    entry.Latitude,
			"longitude":   entry.Longitude,
			"status":      string(entry.Status),
			"lastUpdate":  entry.LastUpdate.UTC().Format(time.RFC3339),
		})
	}

	b.events.ToAll(realtime.EventDriverLocationsUpdate, map[string]interface{}{
		"drivers":   drivers,
		"count":     len(drivers),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
