// Package backoff computes jittered exponential delays and retries
// operations with them.
package backoff

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// ErrAttemptsExhausted wraps the last error once every attempt failed.
var ErrAttemptsExhausted = errors.New("retry attempts exhausted")

// Policy describes an exponential backoff with jitter.
type Policy struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
	// Jitter adds up to Jitter*base on top of the base delay. 0 to 1.
	Jitter float64
}

// DialPolicy is used between gateway connection attempts.
func DialPolicy() Policy {
	return Policy{
		Initial: 200 * time.Millisecond,
		Max:     2 * time.Second,
		Factor:  2,
		Jitter:  0.1,
	}
}

// Delay returns the wait before retrying after the given attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	return p.delay(attempt, rand.Float64()) // #nosec G404 -- jitter only
}

func (p Policy) delay(attempt int, r float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := float64(p.Initial) * math.Pow(p.Factor, exp)
	total := base + base*p.Jitter*r
	if p.Max > 0 {
		total = math.Min(float64(p.Max), total)
	}
	return time.Duration(total).Round(time.Millisecond)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
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

// Retry calls fn up to attempts times, sleeping per p between failures.
// Context cancellation stops it early and is returned as is.
func Retry[T any](ctx context.Context, p Policy, attempts int, fn func(attempt int) (T, error)) (T, error) {
	var zero T
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		v, err := fn(attempt)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if attempt < attempts {
			if err := Sleep(ctx, p.Delay(attempt)); err != nil {
				return zero, err
			}
		}
	}
	if attempts == 1 {
		return zero, lastErr
	}
	return zero, errors.Join(ErrAttemptsExhausted, lastErr)
}
