package oracle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu     sync.Mutex
	paths  []string
	sleeps []time.Duration
}

func (r *recorder) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	r.sleeps = append(r.sleeps, d)
	r.mu.Unlock()
	return nil
}

func priceBody(mantissa string, expo int) string {
	return fmt.Sprintf(`{"binary":{"encoding":"hex","data":[]},"parsed":[{"id":"feed","price":{"price":%q,"conf":"1","expo":%d,"publish_time":1700000000}}]}`, mantissa, expo)
}

func newTestClient(t *testing.T, rec *recorder, handler func(ts string) (int, string)) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.mu.Lock()
		rec.paths = append(rec.paths, r.URL.Path)
		rec.mu.Unlock()
		if r.URL.Query().Get("parsed") != "true" || r.URL.Query().Get("ids[]") != "feed" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		status, body := handler(strings.TrimPrefix(r.URL.Path, "/price/"))
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	c := NewClient(srv.Client(), srv.URL)
	c.Sleep = rec.sleep
	return c
}

func TestFetchPriceAtExact(t *testing.T) {
	rec := &recorder{}
	c := newTestClient(t, rec, func(ts string) (int, string) {
		return http.StatusOK, priceBody("6512345678", -8)
	})
	q, err := c.FetchPriceAt(context.Background(), "feed", 1000)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if q.Price.String() != "65.12345678" {
		t.Fatalf("price=%s want=65.12345678", q.Price.String())
	}
	if q.ProbedAt != 1000 {
		t.Fatalf("probed=%d want=1000", q.ProbedAt)
	}
	if len(rec.paths) != 1 || rec.paths[0] != "/price/1000" {
		t.Fatalf("paths=%v", rec.paths)
	}
	if len(rec.sleeps) != 0 {
		t.Fatalf("sleeps=%v want none", rec.sleeps)
	}
}

func TestFetchPriceAtFallsBackToSkew(t *testing.T) {
	rec := &recorder{}
	c := newTestClient(t, rec, func(ts string) (int, string) {
		if ts == "985" {
			return http.StatusOK, priceBody("200", 0)
		}
		return http.StatusNotFound, `{"error":"not found"}`
	})
	q, err := c.FetchPriceAt(context.Background(), "feed", 1000)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if q.Price.String() != "200" || q.ProbedAt != 985 {
		t.Fatalf("quote=%+v", q)
	}
	want := []string{"/price/1000", "/price/1000", "/price/985"}
	if strings.Join(rec.paths, ",") != strings.Join(want, ",") {
		t.Fatalf("paths=%v want=%v", rec.paths, want)
	}
	if len(rec.sleeps) != 1 || rec.sleeps[0] != time.Second {
		t.Fatalf("sleeps=%v want=[1s]", rec.sleeps)
	}
}

func TestFetchPriceAtExhausted(t *testing.T) {
	rec := &recorder{}
	c := newTestClient(t, rec, func(ts string) (int, string) {
		return http.StatusInternalServerError, "boom"
	})
	_, err := c.FetchPriceAt(context.Background(), "feed", 1000)
	if !errors.Is(err, ErrPriceUnavailable) {
		t.Fatalf("err=%v want ErrPriceUnavailable", err)
	}
	// 1 probe on the first attempt, 3 on each of the three retries.
	if len(rec.paths) != 10 {
		t.Fatalf("requests=%d want=10", len(rec.paths))
	}
	want := []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}
	if fmt.Sprint(rec.sleeps) != fmt.Sprint(want) {
		t.Fatalf("sleeps=%v want=%v", rec.sleeps, want)
	}
}

func TestFetchPriceAtRejectsNonPositive(t *testing.T) {
	rec := &recorder{}
	c := newTestClient(t, rec, func(ts string) (int, string) {
		return http.StatusOK, priceBody("0", -8)
	})
	c.Policy = RetryPolicy{MaxRetries: 0}
	if _, err := c.FetchPriceAt(context.Background(), "feed", 1000); !errors.Is(err, ErrPriceUnavailable) {
		t.Fatalf("err=%v want ErrPriceUnavailable", err)
	}
}

func TestFetchPriceAtCancelled(t *testing.T) {
	rec := &recorder{}
	c := newTestClient(t, rec, func(ts string) (int, string) {
		return http.StatusNotFound, ""
	})
	ctx, cancel := context.WithCancel(context.Background())
	c.Sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}
	_, err := c.FetchPriceAt(ctx, "feed", 1000)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v want context.Canceled", err)
	}
}

func TestFetchLatestPrice(t *testing.T) {
	rec := &recorder{}
	c := newTestClient(t, rec, func(ts string) (int, string) {
		if ts != "latest" {
			return http.StatusNotFound, ""
		}
		return http.StatusOK, priceBody("15", -1)
	})
	q, err := c.FetchLatestPrice(context.Background(), "feed")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if q.Price.String() != "1.5" {
		t.Fatalf("price=%s want=1.5", q.Price.String())
	}
	if q.PublishTime.Unix() != 1700000000 {
		t.Fatalf("publish=%v", q.PublishTime)
	}
}

func TestFetchLatestPriceNoRetry(t *testing.T) {
	rec := &recorder{}
	c := newTestClient(t, rec, func(ts string) (int, string) {
		return http.StatusServiceUnavailable, ""
	})
	if _, err := c.FetchLatestPrice(context.Background(), "feed"); !errors.Is(err, ErrPriceUnavailable) {
		t.Fatalf("err=%v want ErrPriceUnavailable", err)
	}
	if len(rec.paths) != 1 {
		t.Fatalf("requests=%d want=1", len(rec.paths))
	}
}
