package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/ridepulse/dispatch/pkg/common"
	"github.com/ridepulse/dispatch/pkg/config"
)

// InitSentry initializes the Sentry SDK. Returns an error when the DSN is
// missing so callers can decide whether tracking is mandatory.
func InitSentry(cfg config.SentryConfig, environment, serviceName string) error {
	if cfg.DSN == "" {
		return fmt.Errorf("sentry DSN is not configured")
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      environment,
		ServerName:       serviceName,
		SampleRate:       1.0,
		AttachStacktrace: true,
		BeforeSend: func(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
			// Filter out business logic errors (validation failures)
			if event.Level == sentry.LevelInfo || event.Level == sentry.LevelDebug {
				return nil
			}
			return event
		},
		BeforeBreadcrumb: func(breadcrumb *sentry.Breadcrumb, hint *sentry.BreadcrumbHint) *sentry.Breadcrumb {
			// Filter sensitive data from breadcrumbs
			if breadcrumb.Category == "http" && breadcrumb.Data != nil {
				delete(breadcrumb.Data, "Authorization")
				delete(breadcrumb.Data, "Cookie")
			}
			return breadcrumb
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize sentry: %w", err)
	}

	return nil
}

// Flush flushes the Sentry buffer
func Flush(timeout time.Duration) bool {
	return sentry.Flush(timeout)
}

// CaptureError captures an error and sends it to Sentry
func CaptureError(err error) *sentry.EventID {
	if err == nil {
		return nil
	}
	return sentry.CaptureException(err)
}

// AddBreadcrumbForRequest adds an HTTP breadcrumb for the completed request
func AddBreadcrumbForRequest(method, url string, statusCode int, duration time.Duration) {
	level := sentry.LevelInfo
	if statusCode >= 500 {
		level = sentry.LevelError
	} else if statusCode >= 400 {
		level = sentry.LevelWarning
	}

	sentry.AddBreadcrumb(&sentry.Breadcrumb{
		Type:      "http",
		Category:  "http.request",
		Message:   fmt.Sprintf("%s %s - %d", method, url, statusCode),
		Level:     level,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"method":      method,
			"url":         url,
			"status_code": statusCode,
			"duration_ms": duration.Milliseconds(),
		},
	})
}

// IsBusinessError reports whether the error is an expected domain failure
// that should not be treated as an outage signal.
func IsBusinessError(err error) bool {
	if err == nil {
		return false
	}

	var appErr *common.AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code < 500
	}

	businessErrors := []string{
		"validation failed",
		"invalid input",
		"unauthorized",
		"forbidden",
		"not found",
		"conflict",
	}

	errMsg := strings.ToLower(err.Error())
	for _, businessErr := range businessErrors {
		if strings.Contains(errMsg, businessErr) {
			return true
		}
	}

	return false
}

// ShouldReportError determines if an error should be reported to Sentry
func ShouldReportError(err error, statusCode int) bool {
	if err == nil {
		return false
	}

	// Don't report business logic errors
	if IsBusinessError(err) {
		return false
	}

	// Don't report client errors (4xx) except 429 (rate limit)
	if statusCode >= 400 && statusCode < 500 && statusCode != 429 {
		return false
	}

	return true
}
