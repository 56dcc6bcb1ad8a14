package notifications

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ridepulse/dispatch/pkg/logger"
	"github.com/ridepulse/dispatch/pkg/resilience"
)

// ResilientTwilioClient wraps an SMSSender with a circuit breaker and
// retry policy.
type ResilientTwilioClient struct {
	client  SMSSender
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
}

// NewResilientTwilioClient wraps an existing SMS client. A nil breaker
// gets the default SMS settings.
func NewResilientTwilioClient(client SMSSender, breaker *resilience.CircuitBreaker) *ResilientTwilioClient {
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker(resilience.Settings{
			Name:             "twilio-sms",
			Interval:         60 * time.Second,
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
			SuccessThreshold: 2,
		}, func(ctx context.Context, err error) (interface{}, error) {
			logger.Error("Twilio circuit breaker open, SMS send failed",
				zap.Error(err),
			)
			return "", err
		})
	}

	retryConfig := resilience.DefaultRetryConfig()
	retryConfig.MaxAttempts = 3
	retryConfig.InitialBackoff = 1 * time.Second
	retryConfig.MaxBackoff = 10 * time.Second
	retryConfig.RetryableChecker = isTwilioRetryable

	return &ResilientTwilioClient{
		client:  client,
		breaker: breaker,
		retry:   retryConfig,
	}
}

// SendSMS sends an SMS with retry and circuit breaker.
func (r *ResilientTwilioClient) SendSMS(to, body string) (string, error) {
	ctx := context.Background()

	result, err := resilience.RetryWithBreaker(ctx, r.retry, r.breaker, func(ctx context.Context) (interface{}, error) {
		return r.client.SendSMS(to, body)
	})
	if err != nil {
		logger.Error("failed to send SMS after retries",
			zap.Error(err),
			zap.String("to", maskPhoneNumber(to)),
		)
		return "", err
	}

	logger.Debug("SMS sent",
		zap.String("message_sid", result.(string)),
		zap.String("to", maskPhoneNumber(to)),
	)
	return result.(string), nil
}

// isTwilioRetryable reports whether an SMS error is worth retrying.
// Bad numbers and auth failures never are.
func isTwilioRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())

	nonRetryable := []string{
		"invalid 'to' phone number",
		"not a valid phone number",
		"unverified",
		"authenticate",
		"permission",
		"blacklist",
	}
	for _, s := range nonRetryable {
		if strings.Contains(msg, s) {
			return false
		}
	}

	retryable := []string{
		"timeout",
		"connection",
		"temporarily unavailable",
		"service unavailable",
		"too many requests",
		"internal server error",
	}
	for _, s := range retryable {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return true
}

// maskPhoneNumber hides a phone number for logging, keeping the last
// four digits.
func maskPhoneNumber(phone string) string {
	if len(phone) <= 4 {
		return "***"
	}
	return "***" + phone[len(phone)-4:]
}
