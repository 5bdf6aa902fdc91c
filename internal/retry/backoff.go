// Package retry holds the jittered exponential backoff shared by the activity
// gateway and the dispatch loops.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Backoff returns a delay for the given 1-based attempt: base doubled per
// attempt, capped at max (one hour when unset), then jittered into
// [wait/2, wait).
func Backoff(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt <= 0 {
		return base
	}
	if max <= 0 {
		max = time.Hour
	}
	wait := max
	if exp := float64(base) * math.Pow(2, float64(attempt-1)); exp < float64(max) {
		wait = time.Duration(exp)
	}
	half := wait / 2
	if half <= 0 {
		return wait
	}
	return half + time.Duration(rand.Int63n(int64(half)))
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
