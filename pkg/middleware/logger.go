package middleware

import (
	"bytes"
	"io"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ridepulse/dispatch/pkg/logger"
	"github.com/ridepulse/dispatch/pkg/security"
)

// logPayloadLimit caps how much of a request or response body lands in logs.
const logPayloadLimit = 512

// teeWriter copies the response into a buffer while writing through to the
// client.
type teeWriter struct {
	gin.ResponseWriter
	buf bytes.Buffer
}

func (w *teeWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	return w.ResponseWriter.Write(p)
}

func (w *teeWriter) WriteString(s string) (int, error) {
	w.buf.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// RequestLogger emits one structured line per request with latency, status
// and scrubbed body snippets. The correlation ID rides in on the request
// context.
func RequestLogger(serviceName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqBody := drainRequestBody(c)
		tee := &teeWriter{ResponseWriter: c.Writer}
		c.Writer = tee

		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		fields := []zap.Field{
			zap.String("service", serviceName),
			zap.Int("status", c.Writer.Status()),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.String("ip", c.ClientIP()),
			zap.Duration("latency", time.Since(start)),
			zap.Int("response_size", tee.buf.Len()),
		}
		if reqBody != "" {
			fields = append(fields, zap.String("request_body", reqBody))
		}
		if respBody := logSnippet(tee.buf.Bytes()); respBody != "" {
			fields = append(fields, zap.String("response_body", respBody))
		}

		l := logger.WithContext(c.Request.Context())
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
			l.Error("Request completed with errors", fields...)
			return
		}
		l.Info("Request completed", fields...)
	}
}

// drainRequestBody reads and restores the body so downstream binding still
// sees it.
func drainRequestBody(c *gin.Context) string {
	if c.Request == nil || c.Request.Body == nil {
		return ""
	}
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return ""
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(raw))
	return logSnippet(raw)
}

func logSnippet(payload []byte) string {
	if len(payload) == 0 {
		return ""
	}
	s := security.SanitizeString(security.StripHTMLTags(string(payload)))
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > logPayloadLimit {
		return s[:logPayloadLimit] + "...(truncated)"
	}
	return s
}
