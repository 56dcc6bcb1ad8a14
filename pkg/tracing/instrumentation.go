package tracing

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Database span attributes
const (
	DBSystemKey    = attribute.Key("db.system")
	DBStatementKey = attribute.Key("db.statement")
	DBOperationKey = attribute.Key("db.operation")
)

// Redis span attributes
const (
	RedisCommandKey = attribute.Key("redis.command")
	RedisKeyKey     = attribute.Key("redis.key")
)

// Dispatch span attributes
const (
	RideIDKey       = attribute.Key("ride.raid_id")
	RideStatusKey   = attribute.Key("ride.status")
	CustomerIDKey   = attribute.Key("customer.id")
	DriverIDKey     = attribute.Key("driver.id")
	VehicleTypeKey  = attribute.Key("vehicle.type")
	FareAmountKey   = attribute.Key("fare.amount")
	WalletMethodKey = attribute.Key("wallet.method")
	DriversFoundKey = attribute.Key("dispatch.drivers_found")
)

// TraceDBQuery wraps a database query with a client span.
func TraceDBQuery(ctx context.Context, tracerName, operation, query string, fn func() error) error {
	_, span := StartSpan(ctx, tracerName, fmt.Sprintf("db.%s", operation),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	span.SetAttributes(
		DBSystemKey.String("postgresql"),
		DBOperationKey.String(operation),
		DBStatementKey.String(query),
	)

	err := fn()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	return err
}

// TraceRedisCommand wraps a Redis command with a client span. redis.Nil
// is a miss, not an error.
func TraceRedisCommand(ctx context.Context, tracerName, command, key string, fn func() error) error {
	_, span := StartSpan(ctx, tracerName, fmt.Sprintf("redis.%s", command),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	span.SetAttributes(
		attribute.String("db.system", "redis"),
		RedisCommandKey.String(command),
		RedisKeyKey.String(key),
	)

	err := fn()
	if err != nil && err != redis.Nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	return err
}

// TraceBusinessLogic wraps a service operation with an internal span and
// records its duration.
func TraceBusinessLogic(ctx context.Context, tracerName, operation string, attrs []attribute.KeyValue, fn func(context.Context) error) error {
	ctx, span := StartSpan(ctx, tracerName, operation,
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}

	start := time.Now()
	err := fn(ctx)
	span.SetAttributes(attribute.Int64("duration_ms", time.Since(start).Milliseconds()))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	return err
}

// TraceExternalAPI wraps calls to Firebase, Twilio, Stripe and friends.
func TraceExternalAPI(ctx context.Context, tracerName, serviceName, operation string, fn func(context.Context) error) error {
	ctx, span := StartSpan(ctx, tracerName, fmt.Sprintf("%s.%s", serviceName, operation),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	span.SetAttributes(
		attribute.String("external.service", serviceName),
		attribute.String("external.operation", operation),
	)

	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	return err
}

// RideAttributes builds span attributes for a ride-scoped operation.
func RideAttributes(raidID, customerID, driverID string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	if raidID != "" {
		attrs = append(attrs, RideIDKey.String(raidID))
	}
	if customerID != "" {
		attrs = append(attrs, CustomerIDKey.String(customerID))
	}
	if driverID != "" {
		attrs = append(attrs, DriverIDKey.String(driverID))
	}
	return attrs
}

// WalletAttributes builds span attributes for a wallet movement.
func WalletAttributes(driverID, method string, amount int64) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	if driverID != "" {
		attrs = append(attrs, DriverIDKey.String(driverID))
	}
	if method != "" {
		attrs = append(attrs, WalletMethodKey.String(method))
	}
	attrs = append(attrs, FareAmountKey.Int64(amount))
	return attrs
}

// DispatchAttributes builds span attributes for a booking fan-out.
func DispatchAttributes(raidID, vehicleType string, driversFound int) []attribute.KeyValue {
	return []attribute.KeyValue{
		RideIDKey.String(raidID),
		VehicleTypeKey.String(vehicleType),
		DriversFoundKey.Int(driversFound),
	}
}

// DriverAttribute builds the span attribute for a driver-scoped operation.
func DriverAttribute(driverID string) attribute.KeyValue {
	return DriverIDKey.String(driverID)
}
