package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreTakeOnce(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.Set(ctx, "nonce:w1", []byte("abc"), time.Minute); err != nil {
		t.Fatalf("Set err=%v", err)
	}
	v, ok, err := s.Take(ctx, "nonce:w1")
	if err != nil || !ok || string(v) != "abc" {
		t.Fatalf("Take v=%q ok=%v err=%v", v, ok, err)
	}
	if _, ok, _ := s.Take(ctx, "nonce:w1"); ok {
		t.Fatalf("second take found value")
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	s := NewMemoryStore()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	_ = s.Set(ctx, "k", []byte("v"), time.Minute)
	now = now.Add(time.Minute)
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Fatalf("expired value still readable")
	}
}

func TestMemoryStoreIncrWindow(t *testing.T) {
	s := NewMemoryStore()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		n, ttl, err := s.Incr(ctx, "rl", time.Minute)
		if err != nil || n != i {
			t.Fatalf("Incr n=%d want=%d err=%v", n, i, err)
		}
		if ttl != time.Minute {
			t.Fatalf("ttl=%v want=1m", ttl)
		}
	}
	now = now.Add(30 * time.Second)
	if _, ttl, _ := s.Incr(ctx, "rl", time.Minute); ttl != 30*time.Second {
		t.Fatalf("ttl=%v want=30s", ttl)
	}
	now = now.Add(30 * time.Second)
	if n, _, _ := s.Incr(ctx, "rl", time.Minute); n != 1 {
		t.Fatalf("new window n=%d want=1", n)
	}
}
