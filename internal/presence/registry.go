package presence

import (
	"sync"
	"time"

	"github.com/ridepulse/dispatch/pkg/metrics"
	"github.com/ridepulse/dispatch/pkg/models"
)

// Entry is the in-memory presence record for one driver. Entries are
// value-copied out of the registry; callers never share memory with it.
type Entry struct {
	DriverID    string
	Name        string
	VehicleType string
	Latitude    float64
	Longitude   float64
	Status      models.DriverStatus
	Online      bool
	LastUpdate  time.Time
}

// Registry is the process-local map of connected drivers. Each driver has
// a single writer (their own socket), so a plain mutex-guarded map is
// enough; a later registration for the same driver replaces the earlier
// one.
type Registry struct {
	mu      sync.RWMutex
	drivers map[string]*Entry
}

// NewRegistry creates an empty presence registry
func NewRegistry() *Registry {
	return &Registry{drivers: make(map[string]*Entry)}
}

// Upsert installs or replaces a driver's presence entry.
func (r *Registry) Upsert(entry Entry) {
	entry.LastUpdate = time.Now()
	r.mu.Lock()
	r.drivers[entry.DriverID] = &entry
	r.recountLocked()
	r.mu.Unlock()
}

// Touch updates a driver's position and freshness, returning the updated
// entry. The second return is false when the driver never registered.
// A fresh position revives an entry the sweeper had marked stale.
func (r *Registry) Touch(driverID string, lat, lng float64) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.drivers[driverID]
	if !ok {
		return Entry{}, false
	}
	entry.Latitude = lat
	entry.Longitude = lng
	entry.LastUpdate = time.Now()
	if !entry.Online {
		entry.Online = true
		r.recountLocked()
	}
	return *entry, true
}

// Heartbeat refreshes a driver's freshness without moving them.
func (r *Registry) Heartbeat(driverID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.drivers[driverID]
	if !ok {
		return false
	}
	entry.LastUpdate = time.Now()
	return true
}

// SetStatus mirrors a persisted status change into the registry. Going
// offline also clears the online flag so the sweeper can evict the entry.
func (r *Registry) SetStatus(driverID string, status models.DriverStatus) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.drivers[driverID]
	if !ok {
		return Entry{}, false
	}
	entry.Status = status
	if status == models.DriverStatusOffline {
		entry.Online = false
	} else {
		entry.Online = true
	}
	r.recountLocked()
	return *entry, true
}

// SetOnline flips only the connection flag, keeping the entry for a
// possible reconnect.
func (r *Registry) SetOnline(driverID string, online bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.drivers[driverID]
	if !ok {
		return false
	}
	entry.Online = online
	r.recountLocked()
	return true
}

// Get returns a copy of one driver's entry.
func (r *Registry) Get(driverID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.drivers[driverID]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// Remove drops a driver from the registry.
func (r *Registry) Remove(driverID string) {
	r.mu.Lock()
	delete(r.drivers, driverID)
	r.recountLocked()
	r.mu.Unlock()
}

// Snapshot returns a copy of every entry.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.drivers))
	for _, entry := range r.drivers {
		out = append(out, *entry)
	}
	return out
}

// ActiveSince returns online drivers whose last update is after cutoff.
// This is the broadcast set.
func (r *Registry) ActiveSince(cutoff time.Time) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Entry
	for _, entry := range r.drivers {
		if entry.Online && entry.LastUpdate.After(cutoff) {
			out = append(out, *entry)
		}
	}
	return out
}

// FleetSize counts online drivers of one vehicle type.
func (r *Registry) FleetSize(vehicleType string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, entry := range r.drivers {
		if entry.Online && entry.VehicleType == vehicleType {
			n++
		}
	}
	return n
}

// Len returns the number of tracked drivers, online or not.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.drivers)
}

// MarkStale flips online entries not heard from since cutoff to offline
// and returns them, so the caller can persist the transition.
func (r *Registry) MarkStale(cutoff time.Time) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var stale []Entry
	for _, entry := range r.drivers {
		if entry.Online && entry.LastUpdate.Before(cutoff) {
			entry.Online = false
			entry.Status = models.DriverStatusOffline
			stale = append(stale, *entry)
		}
	}
	if len(stale) > 0 {
		r.recountLocked()
	}
	return stale
}

// EvictInactive removes offline entries not heard from since cutoff and
// returns them, so the caller can clean up the geo index.
func (r *Registry) EvictInactive(cutoff time.Time) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var evicted []Entry
	for driverID, entry := range r.drivers {
		if !entry.Online && entry.LastUpdate.Before(cutoff) {
			evicted = append(evicted, *entry)
			delete(r.drivers, driverID)
		}
	}
	if len(evicted) > 0 {
		r.recountLocked()
	}
	return evicted
}

// recountLocked refreshes the online-drivers gauge. Callers hold the lock.
func (r *Registry) recountLocked() {
	counts := make(map[string]int)
	for _, entry := range r.drivers {
		if entry.Online {
			counts[entry.VehicleType]++
		}
	}
	for _, vt := range models.VehicleTypes {
		metrics.DriversOnline.WithLabelValues(vt).Set(float64(counts[vt]))
	}
}

// UserTracker remembers which passengers are sharing live location, so
// stale shares can be dropped.
type UserTracker struct {
	mu    sync.Mutex
	users map[string]*userEntry
}

type userEntry struct {
	rideID     string
	lastUpdate time.Time
}

// NewUserTracker creates an empty passenger tracker
func NewUserTracker() *UserTracker {
	return &UserTracker{users: make(map[string]*userEntry)}
}

// Touch records a passenger location share.
func (t *UserTracker) Touch(userID, rideID string) {
	t.mu.Lock()
	t.users[userID] = &userEntry{rideID: rideID, lastUpdate: time.Now()}
	t.mu.Unlock()
}

// EvictBefore removes passengers silent since cutoff and reports how many.
func (t *UserTracker) EvictBefore(cutoff time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for userID, entry := range t.users {
		if entry.lastUpdate.Before(cutoff) {
			delete(t.users, userID)
			n++
		}
	}
	return n
}

// Len returns the number of tracked passengers.
func (t *UserTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.users)
}
