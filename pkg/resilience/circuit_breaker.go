// Package resilience wraps outbound provider calls with circuit breakers
// and retry policies, exporting Prometheus series for both.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/ridepulse/dispatch/pkg/logger"
)

// defaultFailureThreshold applies when Settings leaves the threshold unset.
const defaultFailureThreshold = 5

// ErrCircuitOpen is returned when the breaker refuses a request and no
// fallback is configured.
var ErrCircuitOpen = errors.New("circuit breaker open")

// Operation is a call wrapped by a breaker or retry policy.
type Operation func(ctx context.Context) (interface{}, error)

// FallbackFunc runs instead of the operation while the breaker is open.
type FallbackFunc func(ctx context.Context, err error) (interface{}, error)

// Settings configures a named breaker.
type Settings struct {
	Name             string
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
	SuccessThreshold uint32
}

// CircuitBreaker wraps gobreaker with logging, metrics and an optional
// fallback. A nil *CircuitBreaker executes operations directly, which keeps
// call sites simple when a provider is disabled.
type CircuitBreaker struct {
	breaker  *gobreaker.CircuitBreaker
	fallback FallbackFunc
}

// NewCircuitBreaker builds a breaker that trips on consecutive failures.
func NewCircuitBreaker(s Settings, fallback FallbackFunc) *CircuitBreaker {
	threshold := s.FailureThreshold
	if threshold == 0 {
		threshold = defaultFailureThreshold
	}

	gb := gobreaker.Settings{
		Name:     s.Name,
		Timeout:  s.Timeout,
		Interval: s.Interval,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Get().Info("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			observeTransition(name, from, to)
		},
	}
	if s.SuccessThreshold > 0 {
		gb.MaxRequests = s.SuccessThreshold
	}

	return &CircuitBreaker{breaker: gobreaker.NewCircuitBreaker(gb), fallback: fallback}
}

// Execute runs the operation through the breaker. While the breaker is open
// the fallback answers, or ErrCircuitOpen when there is none.
func (c *CircuitBreaker) Execute(ctx context.Context, op Operation) (interface{}, error) {
	if op == nil {
		return nil, errors.New("operation cannot be nil")
	}
	if c == nil || c.breaker == nil {
		return op(ctx)
	}

	name := c.breaker.Name()
	breakerRequests.WithLabelValues(name).Inc()

	result, err := c.breaker.Execute(func() (interface{}, error) { return op(ctx) })
	if err == nil {
		return result, nil
	}
	breakerFailures.WithLabelValues(name).Inc()

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		breakerFallbacks.WithLabelValues(name).Inc()
		if c.fallback != nil {
			return c.fallback(ctx, err)
		}
		return nil, ErrCircuitOpen
	}
	return nil, err
}

// Allow reports whether the breaker would admit a request right now.
func (c *CircuitBreaker) Allow() bool {
	return c == nil || c.breaker == nil || c.breaker.State() != gobreaker.StateOpen
}
