package dispatch

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ridepulse/dispatch/pkg/models"
)

// Rejection records a driver declining a dispatched ride.
type Rejection struct {
	DriverID string
	Reason   *string
	At       time.Time
}

// ActiveRide mirrors a dispatchable ride for the in-memory fast path.
type ActiveRide struct {
	RideID      uuid.UUID
	RaidID      string
	UserID      uuid.UUID
	VehicleType string
	Fare        int64
	Status      models.RideStatus
	CreatedAt   time.Time
	RejectedBy  []Rejection
}

// ActiveRideCache tracks rides between fan-out and a terminal state.
// Entries are removed by the state machine on completion or cancellation
// and swept when they outlive the dispatch horizon.
type ActiveRideCache struct {
	mu    sync.RWMutex
	rides map[string]*ActiveRide
}

// NewActiveRideCache returns an empty cache.
func NewActiveRideCache() *ActiveRideCache {
	return &ActiveRideCache{rides: make(map[string]*ActiveRide)}
}

// Put stores a ride, replacing any entry with the same raid id.
func (c *ActiveRideCache) Put(ride *ActiveRide) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rides[ride.RaidID] = ride
}

// Get returns a copy of the entry so callers never share the slice header
// with a concurrent AddRejection.
func (c *ActiveRideCache) Get(raidID string) (ActiveRide, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.rides[raidID]
	if !ok {
		return ActiveRide{}, false
	}
	out := *entry
	out.RejectedBy = append([]Rejection(nil), entry.RejectedBy...)
	return out, true
}

// SetStatus updates the mirrored status of a tracked ride.
func (c *ActiveRideCache) SetStatus(raidID string, status models.RideStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.rides[raidID]; ok {
		entry.Status = status
	}
}

// AddRejection appends a rejection to a tracked ride. Returns false when
// the ride is no longer tracked.
func (c *ActiveRideCache) AddRejection(raidID string, rejection Rejection) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.rides[raidID]
	if !ok {
		return false
	}
	entry.RejectedBy = append(entry.RejectedBy, rejection)
	return true
}

// HasRejected reports whether the driver already declined the ride.
func (c *ActiveRideCache) HasRejected(raidID, driverID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.rides[raidID]
	if !ok {
		return false
	}
	for _, r := range entry.RejectedBy {
		if r.DriverID == driverID {
			return true
		}
	}
	return false
}

// Remove drops a ride from the cache.
func (c *ActiveRideCache) Remove(raidID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rides, raidID)
}

// PruneOlderThan evicts entries created more than maxAge ago and returns
// how many were dropped.
func (c *ActiveRideCache) PruneOlderThan(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	for raidID, entry := range c.rides {
		if entry.CreatedAt.Before(cutoff) {
			delete(c.rides, raidID)
			evicted++
		}
	}
	return evicted
}

// Len returns the number of tracked rides.
func (c *ActiveRideCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.rides)
}

type dedupEntry struct {
	result        models.BookingResult
	lastEmittedAt time.Time
}

// DedupCache suppresses repeat bookings of the same request inside a short
// window, answering them with the original raid id instead of dispatching
// a second ride. It protects against client double-taps; two identical
// bookings racing through the pipeline concurrently are not its concern.
type DedupCache struct {
	mu      sync.Mutex
	window  time.Duration
	entries map[string]dedupEntry
}

// NewDedupCache returns a cache with the given suppression window.
func NewDedupCache(window time.Duration) *DedupCache {
	if window <= 0 {
		window = 5 * time.Second
	}
	return &DedupCache{
		window:  window,
		entries: make(map[string]dedupEntry),
	}
}

// Recent returns the booking emitted for the fingerprint when it is still
// inside the suppression window.
func (c *DedupCache) Recent(fingerprint string) (*models.BookingResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[fingerprint]
	if !ok {
		return nil, false
	}
	if time.Since(entry.lastEmittedAt) >= c.window {
		delete(c.entries, fingerprint)
		return nil, false
	}
	result := entry.result
	return &result, true
}

// Record remembers a booking that was just fanned out.
func (c *DedupCache) Record(fingerprint string, result *models.BookingResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[fingerprint] = dedupEntry{result: *result, lastEmittedAt: time.Now()}
}

// PruneOlderThan evicts entries older than maxAge and returns the count.
func (c *DedupCache) PruneOlderThan(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	for fingerprint, entry := range c.entries {
		if entry.lastEmittedAt.Before(cutoff) {
			delete(c.entries, fingerprint)
			evicted++
		}
	}
	return evicted
}
