package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestTimeout(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("should timeout after configured duration", func(t *testing.T) {
		if testing.Short() {
			t.Skip("Skipping timeout test in short mode")
		}

		router := gin.New()
		router.Use(RequestTimeout(100 * time.Millisecond))
		router.GET("/slow", func(c *gin.Context) {
			time.Sleep(300 * time.Millisecond)
			c.JSON(http.StatusOK, gin.H{"message": "success"})
		})

		req := httptest.NewRequest(http.MethodGet, "/slow", nil)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusGatewayTimeout, w.Code)
		assert.Contains(t, w.Body.String(), "Request timeout")
	})

	t.Run("should not timeout if request completes in time", func(t *testing.T) {
		router := gin.New()
		router.Use(RequestTimeout(2 * time.Second))
		router.GET("/fast", func(c *gin.Context) {
			time.Sleep(50 * time.Millisecond)
			c.JSON(http.StatusOK, gin.H{"message": "success"})
		})

		req := httptest.NewRequest(http.MethodGet, "/fast", nil)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "success")
	})

	t.Run("should cancel request context on timeout", func(t *testing.T) {
		if testing.Short() {
			t.Skip("Skipping timeout test in short mode")
		}

		router := gin.New()
		router.Use(RequestTimeout(100 * time.Millisecond))

		canceled := make(chan struct{})
		router.GET("/watch", func(c *gin.Context) {
			select {
			case <-c.Request.Context().Done():
				close(canceled)
			case <-time.After(2 * time.Second):
			}
		})

		req := httptest.NewRequest(http.MethodGet, "/watch", nil)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		select {
		case <-canceled:
		case <-time.After(time.Second):
			t.Fatal("handler context was not canceled after timeout")
		}
	})

	t.Run("should propagate correlation ID on timeout", func(t *testing.T) {
		if testing.Short() {
			t.Skip("Skipping timeout test in short mode")
		}

		router := gin.New()
		router.Use(CorrelationID())
		router.Use(RequestTimeout(100 * time.Millisecond))
		router.GET("/slow", func(c *gin.Context) {
			time.Sleep(300 * time.Millisecond)
			c.JSON(http.StatusOK, gin.H{"message": "success"})
		})

		req := httptest.NewRequest(http.MethodGet, "/slow", nil)
		req.Header.Set(CorrelationIDHeader, "550e8400-e29b-41d4-a716-446655440000")
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusGatewayTimeout, w.Code)
		assert.Equal(t, "550e8400-e29b-41d4-a716-446655440000", w.Header().Get(CorrelationIDHeader))
	})

	t.Run("should not panic when handler panics", func(t *testing.T) {
		router := gin.New()
		router.Use(gin.Recovery())
		router.Use(RequestTimeout(time.Second))
		router.GET("/panic", func(c *gin.Context) {
			panic("test panic")
		})

		req := httptest.NewRequest(http.MethodGet, "/panic", nil)
		w := httptest.NewRecorder()

		require.NotPanics(t, func() {
			router.ServeHTTP(w, req)
		})
	})
}

func BenchmarkRequestTimeout(b *testing.B) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(RequestTimeout(30 * time.Second))
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "success"})
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
	}
}
