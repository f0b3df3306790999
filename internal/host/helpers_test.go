package host

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nextain/naia-agent/internal/agent"
	"github.com/nextain/naia-agent/internal/config"
	"github.com/nextain/naia-agent/internal/protocol"
	"github.com/nextain/naia-agent/pkg/models"
)

// scriptedProvider replays one chunk script per call. A nil script blocks
// until the request is cancelled.
type scriptedProvider struct {
	mu       sync.Mutex
	scripts  [][]agent.StreamChunk
	requests []*agent.StreamRequest
}

func (p *scriptedProvider) Name() string  { return "scripted" }
func (p *scriptedProvider) Model() string { return "scripted-model" }

func (p *scriptedProvider) Stream(ctx context.Context, req *agent.StreamRequest) (<-chan agent.StreamChunk, error) {
	p.mu.Lock()
	idx := len(p.requests)
	p.requests = append(p.requests, req)
	script := []agent.StreamChunk{{Type: agent.ChunkFinish}}
	if idx < len(p.scripts) {
		script = p.scripts[idx]
	}
	p.mu.Unlock()

	ch := make(chan agent.StreamChunk)
	go func() {
		defer close(ch)
		if script == nil {
			<-ctx.Done()
			return
		}
		for _, c := range script {
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (p *scriptedProvider) recorded() []*agent.StreamRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*agent.StreamRequest(nil), p.requests...)
}

func textChunks(text string) []agent.StreamChunk {
	return []agent.StreamChunk{
		{Type: agent.ChunkText, Text: text},
		{Type: agent.ChunkUsage, Usage: &agent.Usage{InputTokens: 10, OutputTokens: 5}},
		{Type: agent.ChunkFinish},
	}
}

func toolChunks(id, name, args string) []agent.StreamChunk {
	return []agent.StreamChunk{
		{Type: agent.ChunkToolUse, ToolCall: &models.ToolCall{ID: id, Name: name, Args: json.RawMessage(args)}},
		{Type: agent.ChunkFinish},
	}
}

func fixedProvider(p agent.StreamNormalizer) ProviderFunc {
	return func(context.Context, protocol.ProviderConfig) (agent.StreamNormalizer, error) {
		return p, nil
	}
}

type rpcCall struct {
	method string
	params map[string]any
}

// fakeGateway answers RPCs from handler and records them.
type fakeGateway struct {
	mu        sync.Mutex
	calls     []rpcCall
	connected bool
	closed    int
	handler   func(method string, params map[string]any) (any, error)
}

func newFakeGateway(handler func(string, map[string]any) (any, error)) *fakeGateway {
	return &fakeGateway{connected: true, handler: handler}
}

func (g *fakeGateway) IsConnected() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.connected
}

func (g *fakeGateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.connected = false
	g.closed++
	return nil
}

func (g *fakeGateway) Request(_ context.Context, method string, params any) (json.RawMessage, error) {
	var m map[string]any
	data, _ := json.Marshal(params)
	_ = json.Unmarshal(data, &m)
	g.mu.Lock()
	g.calls = append(g.calls, rpcCall{method: method, params: m})
	handler := g.handler
	g.mu.Unlock()
	if handler == nil {
		return nil, errors.New("no handler")
	}
	out, err := handler(method, m)
	if err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

func (g *fakeGateway) recorded() []rpcCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]rpcCall(nil), g.calls...)
}

func dialTo(gw Gateway) DialFunc {
	return func(context.Context, string, string) (Gateway, error) { return gw, nil }
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Gateway.URL = "ws://gateway.test"
	cfg.Skills.Dir = ""
	return cfg
}

// collector is a protocol.Sender that keeps every event as a decoded map.
type collector struct {
	mu     sync.Mutex
	events []map[string]any
}

func (c *collector) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	c.mu.Lock()
	c.events = append(c.events, m)
	c.mu.Unlock()
	return nil
}

func (c *collector) snapshot() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]map[string]any(nil), c.events...)
}

// waitFor blocks until an event of type typ for requestID is collected.
func (c *collector) waitFor(t *testing.T, typ, requestID string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		for _, ev := range c.snapshot() {
			if ev["type"] == typ && (requestID == "" || ev["requestId"] == requestID) {
				return ev
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no %s event for %q; got %v", typ, requestID, c.snapshot())
	return nil
}

func (c *collector) types() []string {
	var out []string
	for _, ev := range c.snapshot() {
		out = append(out, ev["type"].(string))
	}
	return out
}

// syncBuffer is an io.Writer safe for the concurrent writes of Serve.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) events(t *testing.T) []map[string]any {
	t.Helper()
	b.mu.Lock()
	data := append([]byte(nil), b.buf.Bytes()...)
	b.mu.Unlock()

	var out []map[string]any
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		var m map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &m); err != nil {
			t.Fatalf("bad output line %q: %v", scanner.Text(), err)
		}
		out = append(out, m)
	}
	return out
}

func dispatch(t *testing.T, h *Host, out protocol.Sender, v any) {
	t.Helper()
	line, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	h.Dispatch(context.Background(), line, out)
}

func waitIdle(t *testing.T, h *Host) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for h.Active() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("%d requests still active", h.Active())
		}
		time.Sleep(5 * time.Millisecond)
	}
}
