package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// TracingMiddleware opens a server span per request, picking up any trace
// context the caller propagated. The span covers the whole handler chain;
// for the websocket route that means the upgrade only, since the pumps run
// on their own goroutines after the handler returns.
func TracingMiddleware(serviceName string) gin.HandlerFunc {
	tracer := otel.Tracer(serviceName)
	propagator := otel.GetTextMapPropagator()

	return func(c *gin.Context) {
		ctx := propagator.Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}

		ctx, span := tracer.Start(ctx, c.Request.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", c.Request.Method),
				attribute.String("http.route", route),
				attribute.String("http.target", c.Request.URL.RequestURI()),
				attribute.String("http.client_ip", c.ClientIP()),
			),
		)
		defer span.End()

		c.Request = c.Request.WithContext(ctx)

		// Hand the trace id back so a client report can be matched to a trace
		if sc := span.SpanContext(); sc.HasTraceID() {
			c.Header("X-Trace-ID", sc.TraceID().String())
		}
		if correlationID := c.GetString(CorrelationIDKey); correlationID != "" {
			span.SetAttributes(attribute.String("correlation_id", correlationID))
		}

		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.status_code", status))

		switch {
		case len(c.Errors) > 0:
			span.SetStatus(codes.Error, c.Errors.String())
			for _, ginErr := range c.Errors {
				span.RecordError(ginErr.Err)
			}
		case status >= 400:
			span.SetStatus(codes.Error, strconv.Itoa(status))
		default:
			span.SetStatus(codes.Ok, "")
		}
	}
}
