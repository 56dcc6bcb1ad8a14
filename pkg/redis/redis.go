package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ridepulse/dispatch/pkg/config"
)

// Client wraps go-redis with the typed helpers the services use.
type Client struct {
	*redis.Client
}

// NewRedisClient connects and verifies the server is reachable.
func NewRedisClient(cfg *config.RedisConfig) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("unable to connect to redis: %w", err)
	}

	return &Client{Client: client}, nil
}

// SetWithExpiration stores a value under key for the given TTL.
func (c *Client) SetWithExpiration(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return c.Set(ctx, key, value, expiration).Err()
}

// SetIfAbsent sets the key only when it does not exist yet and reports
// whether this call claimed it. Used for idempotency guards.
func (c *Client) SetIfAbsent(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	return c.SetNX(ctx, key, value, expiration).Result()
}

// GetString reads a string value. A missing key returns redis.Nil.
func (c *Client) GetString(ctx context.Context, key string) (string, error) {
	return c.Get(ctx, key).Result()
}

// Delete removes the given keys.
func (c *Client) Delete(ctx context.Context, keys ...string) error {
	return c.Del(ctx, keys...).Err()
}

// Exists reports whether the key is present.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	result, err := c.Client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return result > 0, nil
}

// Expire resets the TTL on an existing key.
func (c *Client) Expire(ctx context.Context, key string, expiration time.Duration) error {
	return c.Client.Expire(ctx, key, expiration).Err()
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.Client.Close()
}

// GeoMember is a single entry returned from a geospatial search.
type GeoMember struct {
	Name       string
	Longitude  float64
	Latitude   float64
	DistanceKm float64
}

// GeoAdd upserts a member position in a geospatial index.
func (c *Client) GeoAdd(ctx context.Context, key string, longitude, latitude float64, member string) error {
	return c.Client.GeoAdd(ctx, key, &redis.GeoLocation{
		Longitude: longitude,
		Latitude:  latitude,
		Name:      member,
	}).Err()
}

// GeoSearch returns members within radiusKm of the given point, closest
// first, including coordinates and distance.
func (c *Client) GeoSearch(ctx context.Context, key string, longitude, latitude, radiusKm float64, count int) ([]GeoMember, error) {
	result, err := c.Client.GeoSearchLocation(ctx, key, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  longitude,
			Latitude:   latitude,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
			Count:      count,
		},
		WithCoord: true,
		WithDist:  true,
	}).Result()
	if err != nil {
		return nil, err
	}

	members := make([]GeoMember, 0, len(result))
	for _, loc := range result {
		members = append(members, GeoMember{
			Name:       loc.Name,
			Longitude:  loc.Longitude,
			Latitude:   loc.Latitude,
			DistanceKm: loc.Dist,
		})
	}

	return members, nil
}

// GeoRemove drops a member from a geospatial index.
func (c *Client) GeoRemove(ctx context.Context, key string, member string) error {
	return c.Client.ZRem(ctx, key, member).Err()
}

// GeoPos returns the stored position of a member.
func (c *Client) GeoPos(ctx context.Context, key string, member string) (longitude, latitude float64, err error) {
	result, err := c.Client.GeoPos(ctx, key, member).Result()
	if err != nil {
		return 0, 0, err
	}

	if len(result) == 0 || result[0] == nil {
		return 0, 0, fmt.Errorf("member not found")
	}

	return result[0].Longitude, result[0].Latitude, nil
}
