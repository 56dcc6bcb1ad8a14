package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ridepulse/dispatch/pkg/common"
	"github.com/ridepulse/dispatch/pkg/config"
	"github.com/ridepulse/dispatch/pkg/logger"
	"github.com/ridepulse/dispatch/pkg/ratelimit"
)

// RateLimit enforces per-endpoint limits keyed by user ID when the request
// is authenticated and by client IP otherwise. A limiter failure lets the
// request proceed; losing Redis should not take the API down with it.
func RateLimit(limiter *ratelimit.Limiter, cfg config.RateLimitConfig) gin.HandlerFunc {
	if limiter == nil || !cfg.Enabled {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		endpoint := rateLimitEndpoint(c)
		subject := rateLimitSubject(c)

		result, err := limiter.Allow(c.Request.Context(), endpoint, subject)
		if err != nil {
			logger.WarnContext(c.Request.Context(), "rate limit evaluation failed",
				zap.String("endpoint", endpoint),
				zap.String("identity", subject),
				zap.Error(err),
			)
			c.Next()
			return
		}

		writeRateHeaders(c, result)
		if result.Allowed {
			c.Next()
			return
		}

		retry := seconds(result.RetryAfter)
		if retry <= 0 {
			retry = 1
		}
		c.Header("Retry-After", strconv.Itoa(retry))

		logger.WarnContext(c.Request.Context(), "rate limit exceeded",
			zap.String("endpoint", endpoint),
			zap.String("identity", subject),
			zap.Int("retry_after_seconds", retry),
		)

		common.ErrorResponse(c, http.StatusTooManyRequests, "rate limit exceeded")
		c.Abort()
	}
}

// rateLimitEndpoint keys on the route template so /rides/RID000001 and
// /rides/RID000002 share a bucket.
func rateLimitEndpoint(c *gin.Context) string {
	path := c.FullPath()
	if path == "" {
		path = c.Request.URL.Path
	}
	return c.Request.Method + ":" + path
}

func rateLimitSubject(c *gin.Context) string {
	if userID, err := GetUserID(c); err == nil && userID != uuid.Nil {
		return userID.String()
	}
	if ip := c.ClientIP(); ip != "" {
		return ip
	}
	return "unknown"
}

func writeRateHeaders(c *gin.Context, result ratelimit.Result) {
	remaining := result.Remaining
	if remaining < 0 {
		remaining = 0
	}
	reset := seconds(result.ResetAfter)
	if reset < 0 {
		reset = 0
	}
	c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
	c.Header("X-RateLimit-Reset", strconv.Itoa(reset))
}

func seconds(d time.Duration) int {
	return int(d.Round(time.Second) / time.Second)
}
