package oracle

import (
	"context"
	"time"
)

const (
	DefaultMaxRetries    = 3
	DefaultBaseDelay     = time.Second
	DefaultSkewTolerance = 15 * time.Second
)

// RetryPolicy decides which timestamps to probe on each attempt and how long
// to wait between attempts. Attempt 0 probes only the exact target; later
// attempts also probe target minus and plus the skew tolerance.
type RetryPolicy struct {
	MaxRetries    int
	BaseDelay     time.Duration
	SkewTolerance time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:    DefaultMaxRetries,
		BaseDelay:     DefaultBaseDelay,
		SkewTolerance: DefaultSkewTolerance,
	}
}

// Attempts is the total number of attempts, the first one included.
func (p RetryPolicy) Attempts() int {
	if p.MaxRetries < 0 {
		return 1
	}
	return p.MaxRetries + 1
}

// Delay is the wait after a failed attempt, growing linearly.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 || p.BaseDelay <= 0 {
		return 0
	}
	return time.Duration(attempt+1) * p.BaseDelay
}

// Probes lists the unix timestamps to try on the given attempt, in order.
func (p RetryPolicy) Probes(target int64, attempt int) []int64 {
	skew := int64(p.SkewTolerance / time.Second)
	if attempt == 0 || skew <= 0 {
		return []int64{target}
	}
	return []int64{target, target - skew, target + skew}
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
