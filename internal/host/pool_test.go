package host

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nextain/naia-agent/internal/backoff"
)

func TestPoolSharesConnections(t *testing.T) {
	var dials atomic.Int32
	var mu sync.Mutex
	conns := map[string]*fakeGateway{}
	pool := NewPool(func(_ context.Context, url, token string) (Gateway, error) {
		dials.Add(1)
		gw := newFakeGateway(nil)
		mu.Lock()
		conns[url+"|"+token] = gw
		mu.Unlock()
		return gw, nil
	})

	a, err := pool.Get(context.Background(), "ws://a", "t1")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := pool.Get(context.Background(), "ws://a", "t1")
	if a != b || dials.Load() != 1 {
		t.Fatalf("same key dialed %d times", dials.Load())
	}
	if _, err := pool.Get(context.Background(), "ws://a", "t2"); err != nil {
		t.Fatal(err)
	}
	if dials.Load() != 2 {
		t.Fatalf("different token shared a connection")
	}

	_ = a.Close()
	c, _ := pool.Get(context.Background(), "ws://a", "t1")
	if c == a || dials.Load() != 3 {
		t.Fatal("dropped connection was not redialed")
	}

	_ = pool.Close()
	mu.Lock()
	defer mu.Unlock()
	for key, gw := range conns {
		if gw.IsConnected() {
			t.Errorf("%s still connected after Close", key)
		}
	}
}

func TestPoolConcurrentGetDialsOnce(t *testing.T) {
	var dials atomic.Int32
	pool := NewPool(func(context.Context, string, string) (Gateway, error) {
		dials.Add(1)
		return newFakeGateway(nil), nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := pool.Get(context.Background(), "ws://a", ""); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	if n := dials.Load(); n != 1 {
		t.Fatalf("dials = %d, want 1", n)
	}
}

func TestPoolDialError(t *testing.T) {
	fail := true
	pool := NewPool(func(context.Context, string, string) (Gateway, error) {
		if fail {
			return nil, errors.New("connection refused")
		}
		return newFakeGateway(nil), nil
	})
	if _, err := pool.Get(context.Background(), "ws://a", ""); err == nil {
		t.Fatal("expected dial error")
	}
	fail = false
	if _, err := pool.Get(context.Background(), "ws://a", ""); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
}

func TestPoolDialRetry(t *testing.T) {
	var dials atomic.Int32
	pool := NewPool(func(context.Context, string, string) (Gateway, error) {
		if dials.Add(1) < 3 {
			return nil, errors.New("connection refused")
		}
		return newFakeGateway(nil), nil
	}, WithDialRetry(backoff.Policy{Initial: time.Millisecond, Factor: 1}, 3))

	if _, err := pool.Get(context.Background(), "ws://a", ""); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if n := dials.Load(); n != 3 {
		t.Fatalf("dials = %d, want 3", n)
	}
}
