package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"battles/internal/cache"
)

func TestTokenBucketExhaustsAndRefills(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tb := NewTokenBucket(5, 5*time.Minute)
	tb.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d, err := tb.Allow(ctx, "auth:1.2.3.4")
		require.NoError(t, err)
		require.True(t, d.Allowed, "request %d", i)
		assert.Equal(t, 4-i, d.Remaining)
	}
	d, err := tb.Allow(ctx, "auth:1.2.3.4")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.InDelta(t, float64(time.Minute), float64(d.RetryAfter), float64(time.Millisecond))

	// other keys are independent
	d, _ = tb.Allow(ctx, "auth:5.6.7.8")
	assert.True(t, d.Allowed)

	now = now.Add(61 * time.Second)
	d, _ = tb.Allow(ctx, "auth:1.2.3.4")
	assert.True(t, d.Allowed)
}

func TestWindowOverCacheStore(t *testing.T) {
	w := Window{Store: cache.NewMemoryStore(), Limit: 2, Window: time.Minute}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := w.Allow(ctx, "prediction:w:alice")
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}
	d, err := w.Allow(ctx, "prediction:w:alice")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Greater(t, d.RetryAfter, time.Duration(0))
}

func TestMiddlewareReturns429(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", Middleware("api", NewTokenBucket(1, time.Minute), nil), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
}
