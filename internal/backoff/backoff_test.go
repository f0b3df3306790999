package backoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPolicyDelay(t *testing.T) {
	p := Policy{Initial: 100 * time.Millisecond, Max: time.Second, Factor: 2, Jitter: 0.5}
	tests := []struct {
		attempt int
		r       float64
		want    time.Duration
	}{
		{1, 0, 100 * time.Millisecond},
		{2, 0, 200 * time.Millisecond},
		{3, 0, 400 * time.Millisecond},
		{2, 1, 300 * time.Millisecond},
		{0, 0, 100 * time.Millisecond},
		{5, 0, time.Second},
		{10, 1, time.Second},
	}
	for _, tt := range tests {
		if got := p.delay(tt.attempt, tt.r); got != tt.want {
			t.Errorf("delay(%d, %v) = %v, want %v", tt.attempt, tt.r, got, tt.want)
		}
	}
}

func TestDialPolicyBounds(t *testing.T) {
	p := DialPolicy()
	for attempt := 1; attempt <= 10; attempt++ {
		d := p.Delay(attempt)
		if d < p.Initial || d > p.Max {
			t.Fatalf("Delay(%d) = %v outside [%v, %v]", attempt, d, p.Initial, p.Max)
		}
	}
}

func TestSleepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("Sleep() = %v, want context.Canceled", err)
	}
}

func TestRetry(t *testing.T) {
	fast := Policy{Initial: time.Millisecond, Max: time.Millisecond, Factor: 1}
	boom := errors.New("boom")

	t.Run("succeeds after failures", func(t *testing.T) {
		calls := 0
		v, err := Retry(context.Background(), fast, 3, func(attempt int) (string, error) {
			calls++
			if attempt < 3 {
				return "", boom
			}
			return "ok", nil
		})
		if err != nil || v != "ok" || calls != 3 {
			t.Fatalf("Retry() = %q, %v after %d calls", v, err, calls)
		}
	})

	t.Run("exhausted", func(t *testing.T) {
		_, err := Retry(context.Background(), fast, 2, func(int) (int, error) { return 0, boom })
		if !errors.Is(err, ErrAttemptsExhausted) || !errors.Is(err, boom) {
			t.Fatalf("Retry() error = %v", err)
		}
	})

	t.Run("single attempt returns the error unwrapped", func(t *testing.T) {
		_, err := Retry(context.Background(), fast, 1, func(int) (int, error) { return 0, boom })
		if err != boom {
			t.Fatalf("Retry() error = %v", err)
		}
	})

	t.Run("cancelled between attempts", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		_, err := Retry(ctx, Policy{Initial: time.Hour, Factor: 1}, 3, func(int) (int, error) {
			calls++
			cancel()
			return 0, boom
		})
		if !errors.Is(err, context.Canceled) || calls != 1 {
			t.Fatalf("Retry() = %v after %d calls", err, calls)
		}
	})
}
