package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/ridepulse/dispatch/pkg/logger"
)

// RetryConfig defines the retry policy for an operation.
type RetryConfig struct {
	// MaxAttempts counts the first try as attempt one.
	MaxAttempts int
	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration
	// MaxBackoff caps the backoff growth.
	MaxBackoff time.Duration
	// BackoffMultiplier is the exponential growth factor, typically 2.0.
	BackoffMultiplier float64
	// EnableJitter randomizes each delay to avoid synchronized retries.
	EnableJitter bool
	// RetryableErrors lists errors that should trigger a retry.
	RetryableErrors []error
	// RetryableChecker decides whether an arbitrary error is retryable.
	// When nil and RetryableErrors is empty, every error retries.
	RetryableChecker func(error) bool
}

// DefaultRetryConfig returns the policy used by provider clients.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
		EnableJitter:      true,
	}
}

// Retry executes the operation with exponential backoff.
func Retry(ctx context.Context, config RetryConfig, op Operation) (interface{}, error) {
	return RetryWithName(ctx, config, op, "unknown")
}

// RetryWithName executes the operation with retries, recording attempt
// metrics under name. The last error is returned once attempts run out.
func RetryWithName(ctx context.Context, config RetryConfig, op Operation, name string) (interface{}, error) {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result, err := op(ctx)
		if err == nil {
			observeRetry(name, true)
			if attempt > 1 {
				logger.Get().Info("operation succeeded after retry",
					zap.Int("attempt", attempt),
					zap.String("operation", name),
				)
			}
			return result, nil
		}

		observeRetry(name, false)
		lastErr = err

		if !retryable(err, config) {
			return nil, err
		}
		if attempt == config.MaxAttempts {
			logger.Get().Warn("operation failed after all retry attempts",
				zap.Error(err),
				zap.Int("attempts", attempt),
				zap.String("operation", name),
			)
			return nil, lastErr
		}

		backoff := calculateBackoff(attempt, config)
		logger.Get().Debug("retrying operation after backoff",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.String("operation", name),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
}

// RetryWithBreaker routes every attempt through the breaker. An open breaker
// reports ErrCircuitOpen, which is never retried, so remaining attempts are
// skipped.
func RetryWithBreaker(ctx context.Context, config RetryConfig, breaker *CircuitBreaker, op Operation) (interface{}, error) {
	return Retry(ctx, config, func(ctx context.Context) (interface{}, error) {
		return breaker.Execute(ctx, op)
	})
}

func calculateBackoff(attempt int, config RetryConfig) time.Duration {
	raw := float64(config.InitialBackoff) * math.Pow(config.BackoffMultiplier, float64(attempt-1))
	if raw > float64(config.MaxBackoff) {
		raw = float64(config.MaxBackoff)
	}

	d := time.Duration(raw)
	if config.EnableJitter && d > 0 {
		d = time.Duration(rand.Int63n(int64(d)))
	}
	return d
}

func retryable(err error, config RetryConfig) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrCircuitOpen):
		return false
	case config.RetryableChecker != nil:
		return config.RetryableChecker(err)
	case len(config.RetryableErrors) > 0:
		for _, target := range config.RetryableErrors {
			if errors.Is(err, target) {
				return true
			}
		}
		return false
	default:
		return true
	}
}
