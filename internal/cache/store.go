// Package cache holds short-lived keyed state shared by the HTTP layer:
// login nonces and rate-limit counters. MemoryStore serves one instance,
// RedisStore serves many.
package cache

import (
	"context"
	"time"
)

type Store interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Take returns the value and removes it in one step. A value can be taken once.
	Take(ctx context.Context, key string) (value []byte, found bool, err error)
	// Incr bumps a counter that expires window after its first increment and
	// returns the new count with the time left in the window.
	Incr(ctx context.Context, key string, window time.Duration) (count int64, ttl time.Duration, err error)
}
