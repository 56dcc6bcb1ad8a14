package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/ridepulse/dispatch/pkg/resilience"
)

// DependencyStatus represents the health status of a single dependency
type DependencyStatus struct {
	Name      string    `json:"name"`
	Status    string    `json:"status"` // "healthy" or "unhealthy"
	Critical  bool      `json:"critical"`
	LatencyMS int64     `json:"latency_ms"`
	Message   string    `json:"message,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// DeepHealthStatus represents the complete health status of the service
type DeepHealthStatus struct {
	Status       string                      `json:"status"` // "healthy", "degraded", "unhealthy"
	Version      string                      `json:"version,omitempty"`
	UptimeSec    int64                       `json:"uptime_seconds"`
	Dependencies map[string]DependencyStatus `json:"dependencies"`
	Breakers     map[string]BreakerStatus    `json:"circuit_breakers,omitempty"`
	CheckedAt    time.Time                   `json:"checked_at"`
}

// BreakerStatus represents the status of a circuit breaker
type BreakerStatus struct {
	Name   string `json:"name"`
	State  string `json:"state"` // "closed" or "open"
	Allows bool   `json:"allows_requests"`
}

type dependency struct {
	name     string
	critical bool
	check    Checker
}

// DeepChecker runs registered dependency checks for the readiness probe.
// A failing critical dependency makes the service unhealthy; a failing
// non-critical one only degrades it.
type DeepChecker struct {
	deps      []dependency
	breakers  map[string]*resilience.CircuitBreaker
	version   string
	startTime time.Time
	cacheTTL  time.Duration

	mu          sync.Mutex
	lastResult  *DeepHealthStatus
	lastChecked time.Time
}

// DeepCheckerConfig holds configuration for the deep checker
type DeepCheckerConfig struct {
	Version  string
	CacheTTL time.Duration
}

// DefaultDeepCheckerConfig returns sensible defaults
func DefaultDeepCheckerConfig() DeepCheckerConfig {
	return DeepCheckerConfig{
		Version:  "unknown",
		CacheTTL: 10 * time.Second,
	}
}

// NewDeepChecker creates a new deep health checker
func NewDeepChecker(config DeepCheckerConfig) *DeepChecker {
	return &DeepChecker{
		breakers:  make(map[string]*resilience.CircuitBreaker),
		version:   config.Version,
		startTime: time.Now(),
		cacheTTL:  config.CacheTTL,
	}
}

// AddCheck registers a named dependency check
func (d *DeepChecker) AddCheck(name string, critical bool, check Checker) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deps = append(d.deps, dependency{name: name, critical: critical, check: check})
}

// AddCircuitBreaker adds a circuit breaker to monitor
func (d *DeepChecker) AddCircuitBreaker(name string, breaker *resilience.CircuitBreaker) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.breakers[name] = breaker
}

// Check runs all dependency checks concurrently. Results are cached for
// the configured TTL so probe storms do not hammer the dependencies.
func (d *DeepChecker) Check(ctx context.Context) *DeepHealthStatus {
	d.mu.Lock()
	if d.lastResult != nil && time.Since(d.lastChecked) < d.cacheTTL {
		result := d.lastResult
		d.mu.Unlock()
		return result
	}
	deps := make([]dependency, len(d.deps))
	copy(deps, d.deps)
	breakers := make(map[string]*resilience.CircuitBreaker, len(d.breakers))
	for name, b := range d.breakers {
		breakers[name] = b
	}
	d.mu.Unlock()

	status := &DeepHealthStatus{
		Status:       "healthy",
		Version:      d.version,
		UptimeSec:    int64(time.Since(d.startTime).Seconds()),
		Dependencies: make(map[string]DependencyStatus),
		Breakers:     make(map[string]BreakerStatus),
		CheckedAt:    time.Now().UTC(),
	}

	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, dep := range deps {
		wg.Add(1)
		go func(dep dependency) {
			defer wg.Done()

			start := time.Now()
			err := dep.check()
			latency := time.Since(start)

			depStatus := DependencyStatus{
				Name:      dep.name,
				Status:    "healthy",
				Critical:  dep.critical,
				LatencyMS: latency.Milliseconds(),
				CheckedAt: start.UTC(),
			}
			if err != nil {
				depStatus.Status = "unhealthy"
				depStatus.Message = err.Error()
			}

			mu.Lock()
			status.Dependencies[dep.name] = depStatus
			if err != nil {
				if dep.critical {
					status.Status = "unhealthy"
				} else if status.Status == "healthy" {
					status.Status = "degraded"
				}
			}
			mu.Unlock()
		}(dep)
	}

	wg.Wait()

	// Breaker states are fast, local reads
	for name, breaker := range breakers {
		allows := breaker.Allow()
		state := "closed"
		if !allows {
			state = "open"
			if status.Status == "healthy" {
				status.Status = "degraded"
			}
		}
		status.Breakers[name] = BreakerStatus{
			Name:   name,
			State:  state,
			Allows: allows,
		}
	}

	d.mu.Lock()
	d.lastResult = status
	d.lastChecked = time.Now()
	d.mu.Unlock()

	return status
}

// Handler returns an HTTP handler for the readiness endpoint
func (d *DeepChecker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := d.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")

		// Degraded still accepts traffic
		if status.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}

		json.NewEncoder(w).Encode(status)
	}
}

// IsHealthy returns true unless a critical dependency is down
func (d *DeepChecker) IsHealthy() bool {
	return d.Check(context.Background()).Status != "unhealthy"
}

// IsReady reports whether the service should accept traffic
func (d *DeepChecker) IsReady() bool {
	status := d.Check(context.Background())
	for _, dep := range status.Dependencies {
		if dep.Critical && dep.Status != "healthy" {
			return false
		}
	}
	return true
}
