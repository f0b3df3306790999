package agent

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/nextain/naia-agent/pkg/models"
)

// ChunkType tags a StreamChunk.
type ChunkType string

const (
	ChunkText    ChunkType = "text"
	ChunkToolUse ChunkType = "tool_use"
	ChunkUsage   ChunkType = "usage"
	ChunkFinish  ChunkType = "finish"
	ChunkError   ChunkType = "error"
)

// StreamChunk is one normalized event of a vendor stream.
//
// A successful stream is zero or more text, tool_use and usage chunks
// followed by exactly one finish chunk. A failed stream ends with a single
// error chunk instead of finish.
type StreamChunk struct {
	Type     ChunkType
	Text     string
	ToolCall *models.ToolCall
	Usage    *Usage
	Err      error
}

// Usage is the token accounting of one LLM call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// StreamRequest is the vendor-independent input of one LLM call.
type StreamRequest struct {
	Messages     []models.ChatMessage
	SystemPrompt string
	Tools        []models.ToolDefinition
	MaxTokens    int
}

// StreamNormalizer adapts one vendor's streaming API to StreamChunks.
//
// Stream returns a channel that is closed after the terminal chunk. The
// channel is not restartable; cancelling ctx ends it early.
type StreamNormalizer interface {
	Stream(ctx context.Context, req *StreamRequest) (<-chan StreamChunk, error)

	// Name is the provider tag, e.g. "anthropic".
	Name() string

	// Model is the model identifier sent to the vendor.
	Model() string
}

// ArgBuffer accumulates tool-call argument fragments for one call index.
type ArgBuffer struct {
	ID               string
	Name             string
	ThoughtSignature []byte
	args             strings.Builder
}

// Append adds a fragment of argument JSON.
func (b *ArgBuffer) Append(fragment string) {
	b.args.WriteString(fragment)
}

// ToolCall parses the buffered arguments and builds the call.
func (b *ArgBuffer) ToolCall() *models.ToolCall {
	return &models.ToolCall{
		ID:               b.ID,
		Name:             b.Name,
		Args:             ParseArgs(b.args.String()),
		ThoughtSignature: b.ThoughtSignature,
	}
}

// ParseArgs returns raw when it is a JSON object, else "{}". Malformed or
// non-object argument text never fails a stream.
func ParseArgs(raw string) json.RawMessage {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return json.RawMessage("{}")
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(trimmed), &obj); err != nil || obj == nil {
		return json.RawMessage("{}")
	}
	return json.RawMessage(trimmed)
}

// MarshalArgs encodes a decoded argument map, falling back to "{}".
func MarshalArgs(args map[string]any) json.RawMessage {
	if args == nil {
		return json.RawMessage("{}")
	}
	data, err := json.Marshal(args)
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}

// ArgBuffers keeps ArgBuffers by vendor call index in first-seen order.
type ArgBuffers struct {
	order []int
	byIdx map[int]*ArgBuffer
}

// Get returns the buffer for idx, creating it on first use.
func (a *ArgBuffers) Get(idx int) *ArgBuffer {
	if a.byIdx == nil {
		a.byIdx = make(map[int]*ArgBuffer)
	}
	b, ok := a.byIdx[idx]
	if !ok {
		b = &ArgBuffer{}
		a.byIdx[idx] = b
		a.order = append(a.order, idx)
	}
	return b
}

// Flush returns the completed calls in first-seen order and resets.
func (a *ArgBuffers) Flush() []*models.ToolCall {
	calls := make([]*models.ToolCall, 0, len(a.order))
	for _, idx := range a.order {
		b := a.byIdx[idx]
		if b.Name == "" {
			continue
		}
		calls = append(calls, b.ToolCall())
	}
	a.order = nil
	a.byIdx = nil
	return calls
}
