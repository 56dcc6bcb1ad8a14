package notifications

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ridepulse/dispatch/pkg/logger"
	"github.com/ridepulse/dispatch/pkg/resilience"
)

// ResilientFirebaseClient wraps a PushSender with a circuit breaker and
// retry policy. Ride request pushes are latency-sensitive, so retries are
// short and exhausted sends are dropped rather than queued.
type ResilientFirebaseClient struct {
	client  PushSender
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
}

// NewResilientFirebaseClient wraps an existing FCM client. A nil breaker
// gets the default FCM settings.
func NewResilientFirebaseClient(client PushSender, breaker *resilience.CircuitBreaker) *ResilientFirebaseClient {
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker(resilience.Settings{
			Name:             "firebase-fcm",
			Interval:         60 * time.Second,
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
			SuccessThreshold: 2,
		}, func(ctx context.Context, err error) (interface{}, error) {
			logger.Error("Firebase circuit breaker open, notification failed",
				zap.Error(err),
			)
			return "", err
		})
	}

	retryConfig := resilience.DefaultRetryConfig()
	retryConfig.MaxAttempts = 2
	retryConfig.InitialBackoff = 500 * time.Millisecond
	retryConfig.MaxBackoff = 2 * time.Second
	retryConfig.RetryableChecker = isFirebaseRetryable

	return &ResilientFirebaseClient{
		client:  client,
		breaker: breaker,
		retry:   retryConfig,
	}
}

// SendPush sends a push notification with retry and circuit breaker.
func (r *ResilientFirebaseClient) SendPush(ctx context.Context, token, title, body string, data map[string]string) (string, error) {
	result, err := resilience.RetryWithBreaker(ctx, r.retry, r.breaker, func(ctx context.Context) (interface{}, error) {
		return r.client.SendPush(ctx, token, title, body, data)
	})
	if err != nil {
		logger.Error("failed to send push notification after retries",
			zap.Error(err),
			zap.String("token", maskToken(token)),
			zap.String("title", title),
		)
		return "", err
	}

	logger.Debug("push notification sent",
		zap.String("message_id", result.(string)),
		zap.String("title", title),
	)
	return result.(string), nil
}

// isFirebaseRetryable reports whether an FCM error is worth retrying.
// Invalid or unregistered tokens never are.
func isFirebaseRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()

	nonRetryable := []string{
		"invalid-argument",
		"invalid-registration-token",
		"registration-token-not-registered",
		"mismatched-credential",
		"invalid-credential",
	}
	for _, s := range nonRetryable {
		if strings.Contains(msg, s) {
			return false
		}
	}

	retryable := []string{
		"unavailable",
		"internal",
		"deadline-exceeded",
		"resource-exhausted",
		"connection",
		"timeout",
	}
	for _, s := range retryable {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return true
}

// maskToken hides an FCM token for logging, keeping only the edges.
func maskToken(token string) string {
	if len(token) <= 8 {
		return "***"
	}
	return token[:4] + "..." + token[len(token)-4:]
}
