package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/nextain/naia-agent/internal/agent"
	"github.com/nextain/naia-agent/pkg/models"
)

// AnthropicConfig configures the Messages API adapter.
type AnthropicConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// Anthropic streams Claude completions.
//
// History mapping: the system prompt goes to the top-level system field,
// assistant tool calls become tool_use blocks, and consecutive tool results
// are folded into one user message of tool_result blocks.
type Anthropic struct {
	client anthropic.Client
	model  string
}

// NewAnthropic creates the adapter. SDK retries are disabled.
func NewAnthropic(config AnthropicConfig) (*Anthropic, error) {
	if config.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if config.Model == "" {
		config.Model = "claude-sonnet-4-5-20250929"
	}
	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithMaxRetries(0),
	}
	if strings.TrimSpace(config.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}
	return &Anthropic{client: anthropic.NewClient(opts...), model: config.Model}, nil
}

func (p *Anthropic) Name() string  { return "anthropic" }
func (p *Anthropic) Model() string { return p.model }

// Stream implements agent.StreamNormalizer.
func (p *Anthropic) Stream(ctx context.Context, req *agent.StreamRequest) (<-chan agent.StreamChunk, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	out := make(chan agent.StreamChunk, 16)
	go func() {
		defer close(out)
		stream := p.client.Messages.NewStreaming(ctx, params)
		defer stream.Close()
		p.processStream(ctx, stream, out)
	}()
	return out, nil
}

func (p *Anthropic) buildParams(req *agent.StreamRequest) (anthropic.MessageNewParams, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		Messages:  anthropicMessages(req.Messages),
		MaxTokens: int64(maxTokens(req.MaxTokens)),
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if len(req.Tools) > 0 {
		tools, err := anthropicTools(req.Tools)
		if err != nil {
			return params, err
		}
		params.Tools = tools
	}
	return params, nil
}

func (p *Anthropic) processStream(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], out chan<- agent.StreamChunk) {
	blocks := make(map[int64]*agent.ArgBuffer)
	var usage agent.Usage

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "message_start":
			usage.InputTokens = int(event.AsMessageStart().Message.Usage.InputTokens)

		case "content_block_start":
			start := event.AsContentBlockStart()
			if start.ContentBlock.Type == "tool_use" {
				use := start.ContentBlock.AsToolUse()
				blocks[start.Index] = &agent.ArgBuffer{ID: use.ID, Name: use.Name}
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta()
			switch delta.Delta.Type {
			case "text_delta":
				if delta.Delta.Text != "" && !emit(ctx, out, agent.StreamChunk{Type: agent.ChunkText, Text: delta.Delta.Text}) {
					return
				}
			case "input_json_delta":
				if buf, ok := blocks[delta.Index]; ok {
					buf.Append(delta.Delta.PartialJSON)
				}
			}

		case "content_block_stop":
			stop := event.AsContentBlockStop()
			if buf, ok := blocks[stop.Index]; ok {
				delete(blocks, stop.Index)
				if !emit(ctx, out, agent.StreamChunk{Type: agent.ChunkToolUse, ToolCall: buf.ToolCall()}) {
					return
				}
			}

		case "message_delta":
			if n := int(event.AsMessageDelta().Usage.OutputTokens); n > 0 {
				usage.OutputTokens = n
			}
		}
	}

	if err := stream.Err(); err != nil {
		emit(ctx, out, agent.StreamChunk{Type: agent.ChunkError, Err: wrapError(p.Name(), p.model, err)})
		return
	}
	finishStream(ctx, out, usage)
}

func anthropicMessages(messages []models.ChatMessage) []anthropic.MessageParam {
	result := make([]anthropic.MessageParam, 0, len(messages))
	var pendingResults []anthropic.ContentBlockParamUnion

	flush := func() {
		if len(pendingResults) > 0 {
			result = append(result, anthropic.NewUserMessage(pendingResults...))
			pendingResults = nil
		}
	}

	for _, msg := range messages {
		if msg.Role == models.RoleTool {
			pendingResults = append(pendingResults, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, strings.HasPrefix(msg.Content, "Error:")))
			continue
		}
		flush()

		var blocks []anthropic.ContentBlockParamUnion
		if msg.Content != "" {
			blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
		}
		if msg.Role == models.RoleAssistant {
			for _, call := range msg.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, call.ArgsMap(), call.Name))
			}
			if len(blocks) > 0 {
				result = append(result, anthropic.NewAssistantMessage(blocks...))
			}
			continue
		}
		if len(blocks) > 0 {
			result = append(result, anthropic.NewUserMessage(blocks...))
		}
	}
	flush()
	return result
}

func anthropicTools(tools []models.ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		raw := tool.Parameters
		if len(raw) == 0 {
			raw = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		if err := json.Unmarshal(raw, &schema); err != nil {
			return nil, fmt.Errorf("anthropic: invalid tool schema for %s: %w", tool.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("anthropic: invalid tool schema for %s: missing tool definition", tool.Name)
		}
		param.OfTool.Description = anthropic.String(tool.Description)
		result = append(result, param)
	}
	return result, nil
}
