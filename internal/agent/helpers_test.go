package agent

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/nextain/naia-agent/internal/protocol"
	"github.com/nextain/naia-agent/pkg/models"
)

// scriptedProvider replays one chunk script per call and records requests.
type scriptedProvider struct {
	mu      sync.Mutex
	scripts [][]StreamChunk
	// repeat replays the last script forever once the list is exhausted.
	repeat   bool
	requests []*StreamRequest
	calls    int
}

func (p *scriptedProvider) Name() string  { return "scripted" }
func (p *scriptedProvider) Model() string { return "scripted-model" }

func (p *scriptedProvider) Stream(ctx context.Context, req *StreamRequest) (<-chan StreamChunk, error) {
	p.mu.Lock()
	snapshot := *req
	snapshot.Messages = append([]models.ChatMessage(nil), req.Messages...)
	p.requests = append(p.requests, &snapshot)
	idx := p.calls
	p.calls++
	var script []StreamChunk
	switch {
	case idx < len(p.scripts):
		script = p.scripts[idx]
	case p.repeat && len(p.scripts) > 0:
		script = p.scripts[len(p.scripts)-1]
	default:
		script = []StreamChunk{{Type: ChunkFinish}}
	}
	p.mu.Unlock()

	ch := make(chan StreamChunk, len(script))
	go func() {
		defer close(ch)
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

func (p *scriptedProvider) Requests() []*StreamRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*StreamRequest(nil), p.requests...)
}

// recorder captures events and can react to approval requests.
type recorder struct {
	mu         sync.Mutex
	events     []any
	onApproval func(protocol.ApprovalRequest)
}

func (r *recorder) Send(v any) error {
	r.mu.Lock()
	r.events = append(r.events, v)
	hook := r.onApproval
	r.mu.Unlock()
	if ar, ok := v.(protocol.ApprovalRequest); ok && hook != nil {
		go hook(ar)
	}
	return nil
}

func (r *recorder) Events() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.events...)
}

func (r *recorder) Types() []string {
	var types []string
	for _, ev := range r.Events() {
		types = append(types, eventType(ev))
	}
	return types
}

func (r *recorder) count(typ string) int {
	n := 0
	for _, t := range r.Types() {
		if t == typ {
			n++
		}
	}
	return n
}

func eventType(v any) string {
	switch ev := v.(type) {
	case protocol.Text:
		return ev.Type
	case protocol.ToolUse:
		return ev.Type
	case protocol.ApprovalRequest:
		return ev.Type
	case protocol.ToolResult:
		return ev.Type
	case protocol.Usage:
		return ev.Type
	case protocol.Error:
		return ev.Type
	case protocol.Finish:
		return ev.Type
	default:
		return "unknown"
	}
}

func toolUse(id, name, args string) StreamChunk {
	return StreamChunk{Type: ChunkToolUse, ToolCall: &models.ToolCall{ID: id, Name: name, Args: json.RawMessage(args)}}
}

func text(s string) StreamChunk {
	return StreamChunk{Type: ChunkText, Text: s}
}

var finish = StreamChunk{Type: ChunkFinish}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
