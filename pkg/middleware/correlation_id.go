package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ridepulse/dispatch/pkg/logger"
)

const (
	// CorrelationIDHeader carries the request ID in and out of the service.
	CorrelationIDHeader = "X-Request-ID"
	// CorrelationIDKey is where the ID lives in the gin context.
	CorrelationIDKey = "correlation_id"
)

// CorrelationID adopts a caller-supplied X-Request-ID when it is a valid
// UUID and mints one otherwise. The ID is placed on the gin context, the request
// context and the response header so logs, traces and clients all see the
// same value.
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(CorrelationIDHeader))
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.New().String()
		}

		c.Set(CorrelationIDKey, id)
		c.Request = c.Request.WithContext(logger.ContextWithCorrelationID(c.Request.Context(), id))
		c.Writer.Header().Set(CorrelationIDHeader, id)

		c.Next()
	}
}

// GetCorrelationID reads the request's correlation ID, falling back to the
// request context for code that runs off the gin chain.
func GetCorrelationID(c *gin.Context) string {
	if id, ok := c.Get(CorrelationIDKey); ok {
		if s, ok := id.(string); ok {
			return s
		}
	}
	return logger.CorrelationIDFromContext(c.Request.Context())
}
