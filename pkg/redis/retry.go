package redis

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ridepulse/dispatch/pkg/resilience"
)

// WithRetry runs a Redis operation under the cache retry policy: short
// backoffs, transient failures only.
func WithRetry[T any](ctx context.Context, name string, op func(context.Context) (T, error)) (T, error) {
	config := resilience.DefaultRetryConfig()
	config.MaxAttempts = 3
	config.InitialBackoff = 50 * time.Millisecond
	config.MaxBackoff = 1 * time.Second
	config.RetryableChecker = IsRedisRetryable

	result, err := resilience.RetryWithName(ctx, config, func(ctx context.Context) (interface{}, error) {
		return op(ctx)
	}, name)
	if err != nil {
		var zero T
		return zero, err
	}
	return result.(T), nil
}

// RetryingGeo wraps a Client so geospatial reads and writes retry transient
// failures before surfacing an error.
type RetryingGeo struct {
	c *Client
}

// NewRetryingGeo returns a geo index backed by c with retries applied.
func NewRetryingGeo(c *Client) RetryingGeo {
	return RetryingGeo{c: c}
}

func (g RetryingGeo) GeoAdd(ctx context.Context, key string, longitude, latitude float64, member string) error {
	_, err := WithRetry(ctx, "redis.geoadd", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.c.GeoAdd(ctx, key, longitude, latitude, member)
	})
	return err
}

func (g RetryingGeo) GeoSearch(ctx context.Context, key string, longitude, latitude, radiusKm float64, count int) ([]GeoMember, error) {
	return WithRetry(ctx, "redis.geosearch", func(ctx context.Context) ([]GeoMember, error) {
		return g.c.GeoSearch(ctx, key, longitude, latitude, radiusKm, count)
	})
}

func (g RetryingGeo) GeoRemove(ctx context.Context, key string, member string) error {
	_, err := WithRetry(ctx, "redis.georemove", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.c.GeoRemove(ctx, key, member)
	})
	return err
}

// IsRedisRetryable reports whether a Redis error is worth retrying.
func IsRedisRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	// A missing key is an answer, not a failure.
	if errors.Is(err, redis.Nil) {
		return false
	}

	msg := strings.ToLower(err.Error())
	transient := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"no such host",
		"network is unreachable",
		"temporary failure",
		"timeout",
		"server closed",
		"unexpected eof",
		"pool timeout",
		"i/o timeout",
		"connection pool exhausted",
		"loading",
		"busy",
		"masterdown",
		"readonly",
		"tryagain",
		"clusterdown",
	}
	for _, t := range transient {
		if strings.Contains(msg, t) {
			return true
		}
	}

	permanent := []string{
		"wrongtype",
		"err syntax",
		"err invalid",
		"noauth",
		"wrongpass",
		"noperm",
		"err unknown",
		"execabort",
	}
	for _, p := range permanent {
		if strings.Contains(msg, p) {
			return false
		}
	}

	// Unknown errors retry up to the attempt cap.
	return true
}
