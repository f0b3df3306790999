package host

import (
	"context"
	"sync"

	"github.com/nextain/naia-agent/internal/backoff"
	"github.com/nextain/naia-agent/internal/gateway"
	"github.com/nextain/naia-agent/internal/tools"
)

// Gateway is a live gateway connection shared by requests.
type Gateway interface {
	tools.RPC
	Close() error
}

// DialFunc opens a connection to the gateway at url.
type DialFunc func(ctx context.Context, url, token string) (Gateway, error)

// NewDialer returns a DialFunc that connects a fresh gateway.Client built
// from opts, presenting device when it is non-nil.
func NewDialer(opts gateway.Options, device *gateway.DeviceIdentity) DialFunc {
	return func(ctx context.Context, url, token string) (Gateway, error) {
		client := gateway.New(opts)
		if err := client.Connect(ctx, url, gateway.Auth{Token: token, Device: device}); err != nil {
			return nil, err
		}
		return client, nil
	}
}

type poolKey struct {
	url   string
	token string
}

type poolEntry struct {
	mu   sync.Mutex
	conn Gateway
}

// Pool shares gateway connections per (url, token). A dropped connection is
// redialed on the next Get.
type Pool struct {
	dial     DialFunc
	policy   backoff.Policy
	attempts int

	mu    sync.Mutex
	conns map[poolKey]*poolEntry
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithDialRetry retries failed dials up to attempts times per Get.
func WithDialRetry(policy backoff.Policy, attempts int) PoolOption {
	return func(p *Pool) {
		p.policy = policy
		p.attempts = attempts
	}
}

// NewPool creates an empty pool. Without WithDialRetry a failed dial is
// reported immediately.
func NewPool(dial DialFunc, opts ...PoolOption) *Pool {
	p := &Pool{dial: dial, attempts: 1, conns: make(map[poolKey]*poolEntry)}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Get returns a connected gateway for url and token, dialing when needed.
// Concurrent callers for the same key share a single dial.
func (p *Pool) Get(ctx context.Context, url, token string) (Gateway, error) {
	key := poolKey{url: url, token: token}
	p.mu.Lock()
	entry, ok := p.conns[key]
	if !ok {
		entry = &poolEntry{}
		p.conns[key] = entry
	}
	p.mu.Unlock()

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.conn != nil {
		if entry.conn.IsConnected() {
			return entry.conn, nil
		}
		_ = entry.conn.Close()
		entry.conn = nil
	}
	conn, err := backoff.Retry(ctx, p.policy, p.attempts, func(int) (Gateway, error) {
		return p.dial(ctx, url, token)
	})
	if err != nil {
		return nil, err
	}
	entry.conn = conn
	return conn, nil
}

// Close closes every pooled connection.
func (p *Pool) Close() error {
	p.mu.Lock()
	entries := p.conns
	p.conns = make(map[poolKey]*poolEntry)
	p.mu.Unlock()

	for _, entry := range entries {
		entry.mu.Lock()
		if entry.conn != nil {
			_ = entry.conn.Close()
			entry.conn = nil
		}
		entry.mu.Unlock()
	}
	return nil
}
