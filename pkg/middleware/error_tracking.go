package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/getsentry/sentry-go"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"

	"github.com/ridepulse/dispatch/pkg/common"
	"github.com/ridepulse/dispatch/pkg/errors"
)

// SentryMiddleware attaches a request-scoped Sentry hub. Repanic is set so
// RecoveryWithSentry, mounted earlier in the chain, still sees the panic.
func SentryMiddleware() gin.HandlerFunc {
	return sentrygin.New(sentrygin.Options{
		Repanic:         true,
		WaitForDelivery: false,
		Timeout:         2 * time.Second,
	})
}

// ErrorHandler forwards reportable request errors to Sentry once the handler
// finishes and leaves a breadcrumb for every request. Mount it last so it
// observes the final status.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		elapsed := time.Since(start)
		errors.AddBreadcrumbForRequest(c.Request.Method, c.Request.URL.Path, status, elapsed)

		for _, ginErr := range c.Errors {
			if errors.ShouldReportError(ginErr.Err, status) {
				reportError(c, ginErr.Err, status, elapsed)
			}
		}
		if status >= 500 && len(c.Errors) == 0 {
			reportStatus(c, status, elapsed)
		}
	}
}

// RecoveryWithSentry converts panics into 500 responses and ships the stack
// to Sentry before answering.
func RecoveryWithSentry() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}

			hub := requestHub(c)
			hub.Scope().SetRequest(c.Request)
			hub.Scope().SetContext("panic", map[string]interface{}{
				"value":      fmt.Sprintf("%v", r),
				"stacktrace": string(debug.Stack()),
			})
			if userID, ok := c.Get("user_id"); ok {
				hub.Scope().SetUser(sentry.User{ID: fmt.Sprintf("%v", userID)})
			}
			hub.RecoverWithContext(c.Request.Context(), r)
			hub.Flush(2 * time.Second)

			common.ErrorResponse(c, http.StatusInternalServerError, "internal server error")
			c.Abort()
		}()

		c.Next()
	}
}

// requestHub prefers the hub sentrygin bound to this request, falling back
// to a clone of the global hub when the middleware did not run.
func requestHub(c *gin.Context) *sentry.Hub {
	if hub := sentrygin.GetHubFromContext(c); hub != nil {
		return hub
	}
	return sentry.CurrentHub().Clone()
}

func reportError(c *gin.Context, err error, status int, elapsed time.Duration) {
	hub := requestHub(c)
	scope := hub.Scope()
	scope.SetRequest(c.Request)
	scope.SetLevel(severityFor(status))

	if userID, ok := c.Get("user_id"); ok {
		user := sentry.User{ID: fmt.Sprintf("%v", userID), IPAddress: c.ClientIP()}
		if driverID, ok := c.Get("driver_id"); ok {
			user.Username = fmt.Sprintf("%v", driverID)
		}
		scope.SetUser(user)
	}

	tagRequest(scope, c, status)
	scope.SetContext("http", map[string]interface{}{
		"method":      c.Request.Method,
		"url":         c.Request.URL.String(),
		"status_code": status,
		"duration_ms": elapsed.Milliseconds(),
		"remote_addr": c.ClientIP(),
		"user_agent":  c.Request.UserAgent(),
	})

	hub.CaptureException(err)
}

// reportStatus covers 5xx responses where no error reached the gin context.
func reportStatus(c *gin.Context, status int, elapsed time.Duration) {
	hub := requestHub(c)
	scope := hub.Scope()
	scope.SetRequest(c.Request)
	scope.SetLevel(severityFor(status))
	tagRequest(scope, c, status)

	hub.CaptureMessage(fmt.Sprintf("HTTP %d: %s %s (%dms)",
		status, c.Request.Method, c.Request.URL.Path, elapsed.Milliseconds()))
}

func tagRequest(scope *sentry.Scope, c *gin.Context, status int) {
	scope.SetTag("http.method", c.Request.Method)
	scope.SetTag("http.status_code", strconv.Itoa(status))
	scope.SetTag("endpoint", c.Request.URL.Path)
	if id := GetCorrelationID(c); id != "" {
		scope.SetTag("correlation_id", id)
	}
}

func severityFor(status int) sentry.Level {
	switch {
	case status >= 500:
		return sentry.LevelError
	case status == http.StatusTooManyRequests:
		return sentry.LevelWarning
	default:
		return sentry.LevelInfo
	}
}
