package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ridepulse/dispatch/pkg/logger"
	redisclient "github.com/ridepulse/dispatch/pkg/redis"
)

// Manager handles caching operations with JSON serialization
type Manager struct {
	redis *redisclient.Client
}

// NewManager creates a new cache manager
func NewManager(redis *redisclient.Client) *Manager {
	return &Manager{redis: redis}
}

// Get retrieves a cached value and unmarshals it into result
func (m *Manager) Get(ctx context.Context, key string, result interface{}) error {
	data, err := m.redis.GetString(ctx, key)
	if err != nil {
		return err
	}

	return json.Unmarshal([]byte(data), result)
}

// Set marshals and caches a value with expiration
func (m *Manager) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}

	return m.redis.SetWithExpiration(ctx, key, string(data), ttl)
}

// SetNX marshals and caches a value only when the key is absent. Returns
// true when this call claimed the key.
func (m *Manager) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("failed to marshal cache value: %w", err)
	}

	return m.redis.SetIfAbsent(ctx, key, string(data), ttl)
}

// GetOrSet retrieves from cache or executes fn and caches the result
func (m *Manager) GetOrSet(ctx context.Context, key string, ttl time.Duration, result interface{}, fn func() (interface{}, error)) error {
	// Try cache first
	err := m.Get(ctx, key, result)
	if err == nil {
		return nil // Cache hit
	}

	// Cache miss - execute function
	data, err := fn()
	if err != nil {
		return err
	}

	// Cache the result (non-blocking)
	go func() {
		cacheCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.Set(cacheCtx, key, data, ttl); err != nil {
			logger.Get().Warn("failed to populate cache",
				zap.String("key", key),
				zap.Error(err),
			)
		}
	}()

	// Marshal the result into the result pointer
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	return json.Unmarshal(jsonData, result)
}

// Delete removes a key from cache
func (m *Manager) Delete(ctx context.Context, keys ...string) error {
	return m.redis.Delete(ctx, keys...)
}

// Invalidate removes keys matching a pattern
func (m *Manager) Invalidate(ctx context.Context, pattern string) error {
	// Note: This uses SCAN which is safe for production
	var cursor uint64

	for {
		var keys []string
		var err error

		result := m.redis.Scan(ctx, cursor, pattern, 100)
		keys, cursor, err = result.Result()
		if err != nil {
			return fmt.Errorf("failed to scan keys: %w", err)
		}

		if len(keys) > 0 {
			if err := m.redis.Delete(ctx, keys...); err != nil {
				return fmt.Errorf("failed to delete keys: %w", err)
			}
		}

		if cursor == 0 {
			break
		}
	}

	return nil
}

// CacheKeys defines common cache key patterns
type CacheKeys struct{}

var Keys = CacheKeys{}

// Driver returns cache key for a driver record
func (k CacheKeys) Driver(driverID string) string {
	return fmt.Sprintf("driver:%s", driverID)
}

// DriverProfile returns cache key for the assembled driver profile
func (k CacheKeys) DriverProfile(driverID string) string {
	return fmt.Sprintf("driver:profile:%s", driverID)
}

// Ride returns cache key for ride data
func (k CacheKeys) Ride(rideID string) string {
	return fmt.Sprintf("ride:%s", rideID)
}

// RideByNumber returns cache key for a ride looked up by its public number
func (k CacheKeys) RideByNumber(number string) string {
	return fmt.Sprintf("ride:number:%s", number)
}

// DriverTransactions returns cache key for a driver's transaction page
func (k CacheKeys) DriverTransactions(driverID string, offset int) string {
	return fmt.Sprintf("driver:transactions:%s:offset:%d", driverID, offset)
}

// Prices returns cache key for the per-kilometer price table
func (k CacheKeys) Prices() string {
	return "prices:per_km"
}

// WalletIdempotency returns the claim key for a wallet mutation. The
// minute bucket bounds the window in which a retried mutation is replayed
// instead of applied twice.
func (k CacheKeys) WalletIdempotency(subjectID, method, rideRef string, minuteBucket int64) string {
	return fmt.Sprintf("wallet:idem:%s:%s:%s:%d", subjectID, method, rideRef, minuteBucket)
}

// TTL defines common cache TTL durations
type CacheTTL struct{}

var TTL = CacheTTL{}

func (t CacheTTL) Short() time.Duration    { return 5 * time.Minute }
func (t CacheTTL) Medium() time.Duration   { return 15 * time.Minute }
func (t CacheTTL) Long() time.Duration     { return 1 * time.Hour }
func (t CacheTTL) VeryLong() time.Duration { return 24 * time.Hour }
