// Package ratelimit throttles HTTP callers per class (auth, prediction, api)
// and per identity.
package ratelimit

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"battles/internal/auth"
	"battles/internal/cache"
)

type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// TokenBucket keeps one x/time/rate limiter per key in process memory.
// Limit requests refill evenly over Window.
type TokenBucket struct {
	Limit  int
	Window time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

func NewTokenBucket(limit int, window time.Duration) *TokenBucket {
	return &TokenBucket{Limit: limit, Window: window, buckets: map[string]*bucket{}, now: time.Now}
}

const sweepAt = 10000

func (t *TokenBucket) Allow(ctx context.Context, key string) (Decision, error) {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.buckets) >= sweepAt {
		t.sweep(now)
	}
	b, ok := t.buckets[key]
	if !ok {
		every := rate.Every(t.Window / time.Duration(max(t.Limit, 1)))
		b = &bucket{lim: rate.NewLimiter(every, max(t.Limit, 1))}
		t.buckets[key] = b
	}
	b.seen = now

	d := Decision{Limit: t.Limit}
	r := b.lim.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		d.RetryAfter = delay
		return d, nil
	}
	d.Allowed = true
	d.Remaining = int(math.Floor(b.lim.TokensAt(now)))
	return d, nil
}

// sweep drops buckets idle for a full window; they would be full again anyway.
func (t *TokenBucket) sweep(now time.Time) {
	for k, b := range t.buckets {
		if now.Sub(b.seen) >= t.Window {
			delete(t.buckets, k)
		}
	}
}

// Window is a fixed-window counter over a cache store, shared by every
// instance pointed at the same Redis.
type Window struct {
	Store  cache.Store
	Limit  int
	Window time.Duration
}

func (w Window) Allow(ctx context.Context, key string) (Decision, error) {
	n, ttl, err := w.Store.Incr(ctx, "rl:"+key, w.Window)
	if err != nil {
		return Decision{}, err
	}
	d := Decision{Limit: w.Limit, Remaining: max(w.Limit-int(n), 0)}
	if int(n) > w.Limit {
		d.RetryAfter = ttl
		return d, nil
	}
	d.Allowed = true
	return d, nil
}

// Middleware keys callers by wallet when authenticated, by client IP
// otherwise. Store errors let the request through.
func Middleware(class string, l Limiter, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		id := c.ClientIP()
		if w, ok := auth.Wallet(c); ok {
			id = "w:" + w
		}
		d, err := l.Allow(c.Request.Context(), class+":"+id)
		if err != nil {
			logger.Warn("rate limit check failed", zap.String("class", class), zap.Error(err))
			c.Next()
			return
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		if !d.Allowed {
			secs := int(math.Ceil(d.RetryAfter.Round(time.Millisecond).Seconds()))
			if secs < 1 {
				secs = 1
			}
			c.Header("Retry-After", strconv.Itoa(secs))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":    http.StatusTooManyRequests,
				"message": "too many requests",
				"meta":    gin.H{"retry_after": secs, "class": class},
			})
			return
		}
		c.Next()
	}
}
