package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/ridepulse/dispatch/pkg/config"
)

// Result captures the outcome of a rate limiting decision.
type Result struct {
	Allowed     bool
	Remaining   int
	RetryAfter  time.Duration
	Limit       int
	Window      time.Duration
	ResetAfter  time.Duration
	IdentityKey string
	EndpointKey string
}

// Limiter implements a Redis-backed token bucket rate limiter. One policy
// applies to every guarded endpoint; tokens refill continuously over the
// configured window.
type Limiter struct {
	client redis.Cmdable
	cfg    config.RateLimitConfig
	script *redis.Script
	now    func() time.Time
}

const tokenBucketScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local refillRate = tonumber(ARGV[2])
local capacity = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local data = redis.call("HMGET", key, "tokens", "timestamp")
local tokens = tonumber(data[1])
local timestamp = tonumber(data[2])

if tokens == nil then
    tokens = capacity
    timestamp = now
else
    if timestamp == nil then
        timestamp = now
    end
    local delta = now - timestamp
    if delta > 0 then
        tokens = math.min(capacity, tokens + (delta * refillRate))
        timestamp = now
    end
end

local allowed = 0
if tokens >= 1 then
    allowed = 1
    tokens = tokens - 1
end

redis.call("HMSET", key, "tokens", tokens, "timestamp", now)
redis.call("PEXPIRE", key, ttl)

local retryAfter = 0
if allowed == 0 then
    retryAfter = math.ceil((1 - tokens) / refillRate)
end

return {allowed, tokens, retryAfter}
`

// NewLimiter creates a new Limiter instance.
func NewLimiter(client redis.Cmdable, cfg config.RateLimitConfig) *Limiter {
	return &Limiter{
		client: client,
		cfg:    cfg,
		script: redis.NewScript(tokenBucketScript),
		now:    time.Now,
	}
}

// Allow determines whether the request should be allowed for the provided
// endpoint and identity.
func (l *Limiter) Allow(ctx context.Context, endpointKey, identityKey string) (Result, error) {
	limit := l.cfg.Limit
	window := l.cfg.Window()

	if !l.cfg.Enabled || limit <= 0 {
		return Result{
			Allowed:     true,
			Remaining:   limit,
			Limit:       limit,
			Window:      window,
			IdentityKey: identityKey,
			EndpointKey: endpointKey,
		}, nil
	}

	key := fmt.Sprintf("%s:%s:%s", l.cfg.RedisPrefix, endpointKey, identityKey)

	now := l.now().UnixMilli()
	windowMillis := window.Milliseconds()
	if windowMillis <= 0 {
		windowMillis = int64(time.Minute / time.Millisecond)
	}

	refillRate := float64(limit) / float64(windowMillis)
	capacity := float64(limit)
	if capacity < 1 {
		capacity = 1
	}

	ttl := windowMillis * 2

	cmd := l.script.Run(ctx, l.client, []string{key}, now, formatFloat(refillRate), formatFloat(capacity), ttl)
	raw, err := cmd.Result()
	if err != nil {
		return Result{}, err
	}

	values, ok := raw.([]interface{})
	if !ok || len(values) != 3 {
		return Result{}, errors.New("unexpected script response")
	}

	allowed := toInt(values[0])
	remainingTokens := toFloat(values[1])
	retryAfterMillis := toInt(values[2])

	result := Result{
		Allowed:     allowed == 1,
		Remaining:   int(math.Max(0, math.Floor(remainingTokens))),
		RetryAfter:  time.Duration(retryAfterMillis) * time.Millisecond,
		Limit:       limit,
		Window:      window,
		ResetAfter:  time.Duration(retryAfterMillis) * time.Millisecond,
		IdentityKey: identityKey,
		EndpointKey: endpointKey,
	}

	if result.Allowed {
		missing := capacity - remainingTokens
		if missing < 0 {
			missing = 0
		}
		resetMillis := missing / refillRate
		result.ResetAfter = time.Duration(int(math.Ceil(resetMillis))) * time.Millisecond
		result.RetryAfter = 0
	}

	return result, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 10, 64)
}

func toInt(value interface{}) int {
	switch v := value.(type) {
	case int64:
		return int(v)
	case int:
		return v
	case string:
		i, _ := strconv.Atoi(v)
		return i
	case float64:
		return int(v)
	default:
		return 0
	}
}

func toFloat(value interface{}) float64 {
	switch v := value.(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	default:
		return 0
	}
}

// WithNow overrides the time source (useful for tests).
func (l *Limiter) WithNow(now func() time.Time) {
	l.now = now
}
