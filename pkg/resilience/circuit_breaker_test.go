package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	breaker := NewCircuitBreaker(Settings{
		Name:             "sms-provider",
		Timeout:          50 * time.Millisecond,
		Interval:         50 * time.Millisecond,
		FailureThreshold: 2,
		SuccessThreshold: 1,
	}, nil)

	ctx := context.Background()
	unreachable := errors.New("provider unreachable")
	for i := 0; i < 2; i++ {
		_, err := breaker.Execute(ctx, func(context.Context) (interface{}, error) {
			return nil, unreachable
		})
		if !errors.Is(err, unreachable) {
			t.Fatalf("attempt %d: expected provider error, got %v", i+1, err)
		}
	}

	if breaker.Allow() {
		t.Fatal("breaker should refuse requests after tripping")
	}

	if _, err := breaker.Execute(ctx, func(context.Context) (interface{}, error) {
		return "ok", nil
	}); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestCircuitBreakerReturnsOperationResult(t *testing.T) {
	breaker := NewCircuitBreaker(Settings{
		Name:             "push-provider",
		Timeout:          time.Second,
		Interval:         time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 1,
	}, nil)

	result, err := breaker.Execute(context.Background(), func(context.Context) (interface{}, error) {
		return "delivered", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.(string) != "delivered" {
		t.Fatalf("expected delivered, got %v", result)
	}
}

func TestCircuitBreakerInvokesFallbackWhenOpen(t *testing.T) {
	fallbackCalled := false
	breaker := NewCircuitBreaker(Settings{
		Name:             "fallback-breaker",
		Timeout:          time.Second,
		Interval:         time.Second,
		FailureThreshold: 1,
		SuccessThreshold: 1,
	}, func(ctx context.Context, err error) (interface{}, error) {
		fallbackCalled = true
		return "cached", nil
	})

	ctx := context.Background()
	if _, err := breaker.Execute(ctx, func(context.Context) (interface{}, error) {
		return nil, errors.New("boom")
	}); err == nil {
		t.Fatal("expected initial failure")
	}

	result, err := breaker.Execute(ctx, func(context.Context) (interface{}, error) {
		return "live", nil
	})
	if err != nil {
		t.Fatalf("expected fallback result, got error: %v", err)
	}
	if !fallbackCalled {
		t.Fatal("expected fallback to run while breaker open")
	}
	if result.(string) != "cached" {
		t.Fatalf("expected cached fallback value, got %v", result)
	}
}

func TestNilCircuitBreakerExecutesDirectly(t *testing.T) {
	var breaker *CircuitBreaker

	result, err := breaker.Execute(context.Background(), func(context.Context) (interface{}, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.(int) != 42 {
		t.Fatalf("expected 42, got %v", result)
	}
	if !breaker.Allow() {
		t.Fatal("nil breaker should always allow")
	}
}

func TestCircuitBreakerRejectsNilOperation(t *testing.T) {
	breaker := NewCircuitBreaker(Settings{Name: "nil-op"}, nil)
	if _, err := breaker.Execute(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil operation")
	}
}
