package resilience

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"
)

// Collectors shared by every breaker and retry policy in the process.
var (
	stateGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "circuit_breaker_state",
		Help: "Current state of circuit breakers (0=closed, 0.5=half-open, 1=open)",
	}, []string{"breaker"})

	breakerRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "circuit_breaker_requests_total",
		Help: "Operations executed through a circuit breaker",
	}, []string{"breaker"})

	breakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "circuit_breaker_failures_total",
		Help: "Breaker executions that returned an error",
	}, []string{"breaker"})

	breakerFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "circuit_breaker_fallbacks_total",
		Help: "Fallback invocations while a breaker was open",
	}, []string{"breaker"})

	breakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "circuit_breaker_state_changes_total",
		Help: "Breaker state transitions",
	}, []string{"breaker", "from", "to"})

	retryOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retry_attempts_total",
		Help: "Retry attempts by operation and result",
	}, []string{"operation", "result"})
)

func observeTransition(name string, from, to gobreaker.State) {
	breakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
	stateGauge.WithLabelValues(name).Set(stateValue(to))
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 0.5
	case gobreaker.StateOpen:
		return 1
	default:
		return -1
	}
}

func observeRetry(operation string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	retryOutcomes.WithLabelValues(operation, result).Inc()
}
