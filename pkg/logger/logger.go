package logger

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var global *zap.Logger

type contextKey string

const correlationIDKey contextKey = "correlation_id"

// Init builds the process-wide logger. Production gets JSON with ISO8601
// timestamps, anything else gets the colored development encoder.
func Init(environment string) error {
	var cfg zap.Config
	if environment == "production" {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	built, err := cfg.Build()
	if err != nil {
		return err
	}
	global = built
	return nil
}

// Get returns the global logger, falling back to a development logger when
// Init has not run (tests mostly).
func Get() *zap.Logger {
	if global == nil {
		global, _ = zap.NewDevelopment()
	}
	return global
}

// WithContext returns the logger enriched with the request correlation ID.
func WithContext(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return Get()
	}
	if id := CorrelationIDFromContext(ctx); id != "" {
		return Get().With(zap.String(string(correlationIDKey), id))
	}
	return Get()
}

// ContextWithCorrelationID stores a correlation ID on the context.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationIDFromContext extracts the correlation ID, if any.
func CorrelationIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(correlationIDKey).(string); ok {
		return v
	}
	return ""
}

// Debug logs at debug level on the global logger.
func Debug(msg string, fields ...zap.Field) { Get().Debug(msg, fields...) }

// Info logs at info level on the global logger.
func Info(msg string, fields ...zap.Field) { Get().Info(msg, fields...) }

// Warn logs at warn level on the global logger.
func Warn(msg string, fields ...zap.Field) { Get().Warn(msg, fields...) }

// Error logs at error level on the global logger.
func Error(msg string, fields ...zap.Field) { Get().Error(msg, fields...) }

// Fatal logs at fatal level and exits.
func Fatal(msg string, fields ...zap.Field) { Get().Fatal(msg, fields...) }

// DebugContext logs at debug level with context fields attached.
func DebugContext(ctx context.Context, msg string, fields ...zap.Field) {
	WithContext(ctx).Debug(msg, fields...)
}

// InfoContext logs at info level with context fields attached.
func InfoContext(ctx context.Context, msg string, fields ...zap.Field) {
	WithContext(ctx).Info(msg, fields...)
}

// WarnContext logs at warn level with context fields attached.
func WarnContext(ctx context.Context, msg string, fields ...zap.Field) {
	WithContext(ctx).Warn(msg, fields...)
}

// ErrorContext logs at error level with context fields attached.
func ErrorContext(ctx context.Context, msg string, fields ...zap.Field) {
	WithContext(ctx).Error(msg, fields...)
}

// Sync flushes buffered entries. Safe to call before Init.
func Sync() error {
	if global != nil {
		return global.Sync()
	}
	return nil
}
