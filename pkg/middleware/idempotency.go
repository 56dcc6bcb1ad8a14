package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ridepulse/dispatch/pkg/common"
	"github.com/ridepulse/dispatch/pkg/logger"
)

const (
	// IdempotencyKeyHeader opts a request into replay protection.
	IdempotencyKeyHeader = "Idempotency-Key"

	idempotencyTTL    = 24 * time.Hour
	idempotencyPrefix = "idempotency:"
)

// IdempotencyStore is the slice of the Redis client this middleware needs.
type IdempotencyStore interface {
	GetString(ctx context.Context, key string) (string, error)
	SetWithExpiration(ctx context.Context, key string, value interface{}, expiration time.Duration) error
}

// storedResponse is the cached outcome of a completed request.
type storedResponse struct {
	StatusCode  int               `json:"status_code"`
	Headers     map[string]string `json:"headers"`
	Body        json.RawMessage   `json:"body"`
	RequestHash string            `json:"request_hash"`
}

type captureWriter struct {
	gin.ResponseWriter
	body   bytes.Buffer
	status int
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *captureWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Idempotency replays the stored response when a mutating request repeats an
// Idempotency-Key. Reusing a key with a different method, path or body is
// rejected with 422. Requests without the header pass through untouched.
func Idempotency(store IdempotencyStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodPost, http.MethodPatch, http.MethodPut:
		default:
			c.Next()
			return
		}

		key := c.GetHeader(IdempotencyKeyHeader)
		if key == "" {
			c.Next()
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			common.ErrorResponse(c, http.StatusBadRequest, "failed to read request body")
			c.Abort()
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		reqHash := fingerprint(c.Request.Method, c.FullPath(), body)

		// Keys are scoped per user so one client cannot replay another's
		// responses.
		scope := ""
		if uid, err := GetUserID(c); err == nil {
			scope = uid.String()
		}
		storeKey := idempotencyPrefix + scope + ":" + key

		if replayStored(c, store, storeKey, reqHash) {
			return
		}

		w := &captureWriter{ResponseWriter: c.Writer, status: http.StatusOK}
		c.Writer = w
		c.Next()

		if w.status < 200 || w.status >= 300 {
			return
		}
		saveResponse(c, store, storeKey, reqHash, w)
	}
}

// replayStored serves the cached response if one exists. A hash mismatch
// aborts with 422; a store miss or unreadable entry falls through to the
// handler.
func replayStored(c *gin.Context, store IdempotencyStore, storeKey, reqHash string) bool {
	cached, err := store.GetString(c.Request.Context(), storeKey)
	if err != nil || cached == "" {
		return false
	}
	var entry storedResponse
	if err := json.Unmarshal([]byte(cached), &entry); err != nil {
		return false
	}
	if entry.RequestHash != reqHash {
		common.ErrorResponse(c, http.StatusUnprocessableEntity,
			"Idempotency-Key has already been used with a different request")
		c.Abort()
		return true
	}

	for k, v := range entry.Headers {
		c.Header(k, v)
	}
	c.Header("Idempotent-Replayed", "true")
	c.Data(entry.StatusCode, "application/json; charset=utf-8", entry.Body)
	c.Abort()
	return true
}

// saveResponse caches 2xx outcomes only; failures may be retried for real.
func saveResponse(c *gin.Context, store IdempotencyStore, storeKey, reqHash string, w *captureWriter) {
	entry := storedResponse{
		StatusCode:  w.status,
		Headers:     map[string]string{"Content-Type": c.Writer.Header().Get("Content-Type")},
		Body:        w.body.Bytes(),
		RequestHash: reqHash,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := store.SetWithExpiration(c.Request.Context(), storeKey, data, idempotencyTTL); err != nil {
		logger.WarnContext(c.Request.Context(), "failed to cache idempotency response",
			zap.String("key", storeKey),
			zap.Error(err),
		)
	}
}

// fingerprint hashes method, route and body so a reused key can be checked
// against the original request.
func fingerprint(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte(path))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
