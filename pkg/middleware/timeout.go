package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ridepulse/dispatch/pkg/common"
	"github.com/ridepulse/dispatch/pkg/logger"
)

// RequestTimeout bounds handler execution. The handler runs on its own
// goroutine; when the deadline passes first the client gets a 504 while the
// handler continues against a canceled context. A handler panic is re-raised
// on the request goroutine so recovery middleware sees it.
func RequestTimeout(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)

		done := make(chan struct{})
		panicked := make(chan interface{}, 1)
		go func() {
			defer func() {
				if p := recover(); p != nil {
					panicked <- p
				}
			}()
			c.Next()
			close(done)
		}()

		select {
		case p := <-panicked:
			panic(p)
		case <-done:
		case <-ctx.Done():
			if ctx.Err() != context.DeadlineExceeded {
				return
			}
			// A handler that already started writing owns the response.
			if c.Writer.Written() {
				return
			}
			c.Abort()
			common.ErrorResponse(c, http.StatusGatewayTimeout, "Request timeout")
			logger.WithContext(c.Request.Context()).Warn("Request timeout",
				zap.String("path", c.Request.URL.Path),
				zap.String("method", c.Request.Method),
				zap.Duration("timeout", timeout),
			)
		}
	}
}
