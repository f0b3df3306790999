package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/nextain/naia-agent/internal/agent"
	"github.com/nextain/naia-agent/pkg/models"
	"github.com/sashabaranov/go-openai"
)

// Base URLs of the OpenAI-compatible vendors.
const (
	XAIBaseURL     = "https://api.x.ai/v1"
	ZAIBaseURL     = "https://api.z.ai/api/paas/v4"
	OllamaBaseURL  = "http://localhost:11434/v1"
	NextainBaseURL = "https://cafelua-gateway-789741003661.asia-northeast3.run.app/v1"
)

// OpenAICompatConfig configures an adapter for any Chat Completions API.
type OpenAICompatConfig struct {
	// Name is the provider tag reported in metrics and errors.
	Name    string
	APIKey  string
	Model   string
	BaseURL string

	// Header is added to every request, e.g. the lab proxy key.
	Header http.Header

	// ModelMapper rewrites the model id sent on the wire.
	ModelMapper func(string) string

	// SendMaxTokens sets max_tokens on every request.
	SendMaxTokens bool

	HTTPClient *http.Client
}

// OpenAICompat streams Chat Completions from OpenAI and compatible vendors.
//
// History mapping: the system prompt is the first message, assistant tool
// calls carry tool_calls with JSON-encoded arguments, and each tool result is
// its own "tool" message.
type OpenAICompat struct {
	client    *openai.Client
	name      string
	model     string
	wireModel string

	sendMaxTokens bool
}

// NewOpenAICompat creates the adapter.
func NewOpenAICompat(config OpenAICompatConfig) (*OpenAICompat, error) {
	if config.Name == "" {
		config.Name = "openai"
	}
	if config.Model == "" {
		return nil, errors.New(config.Name + ": model is required")
	}
	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(config.BaseURL, "/")
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if len(config.Header) > 0 {
		base := httpClient.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		clone := *httpClient
		clone.Transport = &headerTransport{base: base, header: config.Header}
		httpClient = &clone
	}
	clientConfig.HTTPClient = httpClient

	wire := config.Model
	if config.ModelMapper != nil {
		wire = config.ModelMapper(config.Model)
	}
	return &OpenAICompat{
		client:    openai.NewClientWithConfig(clientConfig),
		name:      config.Name,
		model:     config.Model,
		wireModel: wire,

		sendMaxTokens: config.SendMaxTokens,
	}, nil
}

func (p *OpenAICompat) Name() string  { return p.name }
func (p *OpenAICompat) Model() string { return p.model }

// Stream implements agent.StreamNormalizer.
func (p *OpenAICompat) Stream(ctx context.Context, req *agent.StreamRequest) (<-chan agent.StreamChunk, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:         p.wireModel,
		Messages:      openaiMessages(req.Messages, req.SystemPrompt),
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	}
	// Reasoning models reject max_tokens, so the budget is only sent to
	// vendors known to accept it.
	if p.sendMaxTokens {
		chatReq.MaxTokens = maxTokens(req.MaxTokens)
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = openaiTools(req.Tools)
	}

	out := make(chan agent.StreamChunk, 16)
	go func() {
		defer close(out)
		stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
		if err != nil {
			emit(ctx, out, agent.StreamChunk{Type: agent.ChunkError, Err: wrapError(p.name, p.model, err)})
			return
		}
		defer stream.Close()
		p.processStream(ctx, stream, out)
	}()
	return out, nil
}

func (p *OpenAICompat) processStream(ctx context.Context, stream *openai.ChatCompletionStream, out chan<- agent.StreamChunk) {
	var (
		calls agent.ArgBuffers
		usage agent.Usage
	)
	flushCalls := func() bool {
		for _, call := range calls.Flush() {
			if !emit(ctx, out, agent.StreamChunk{Type: agent.ChunkToolUse, ToolCall: call}) {
				return false
			}
		}
		return true
	}

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			emit(ctx, out, agent.StreamChunk{Type: agent.ChunkError, Err: wrapError(p.name, p.model, err)})
			return
		}

		if resp.Usage != nil {
			if resp.Usage.PromptTokens > 0 {
				usage.InputTokens = resp.Usage.PromptTokens
			}
			if resp.Usage.CompletionTokens > 0 {
				usage.OutputTokens = resp.Usage.CompletionTokens
			}
		}
		if len(resp.Choices) == 0 {
			continue
		}

		choice := resp.Choices[0]
		if choice.Delta.Content != "" {
			if !emit(ctx, out, agent.StreamChunk{Type: agent.ChunkText, Text: choice.Delta.Content}) {
				return
			}
		}
		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			buf := calls.Get(idx)
			if tc.ID != "" {
				buf.ID = tc.ID
			}
			if tc.Function.Name != "" {
				buf.Name = tc.Function.Name
			}
			buf.Append(tc.Function.Arguments)
		}
		if choice.FinishReason == openai.FinishReasonToolCalls && !flushCalls() {
			return
		}
	}

	if !flushCalls() {
		return
	}
	finishStream(ctx, out, usage)
}

func openaiMessages(messages []models.ChatMessage, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, msg := range messages {
		switch msg.Role {
		case models.RoleTool:
			result = append(result, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    msg.Content,
				ToolCallID: msg.ToolCallID,
			})
		case models.RoleAssistant:
			m := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: msg.Content}
			for _, call := range msg.ToolCalls {
				m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
					ID:   call.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      call.Name,
						Arguments: string(agent.ParseArgs(string(call.Args))),
					},
				})
			}
			result = append(result, m)
		default:
			result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: msg.Content})
		}
	}
	return result
}

func openaiTools(tools []models.ToolDefinition) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		var schema map[string]any
		if err := json.Unmarshal(tool.Parameters, &schema); err != nil || schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  schema,
			},
		}
	}
	return result
}

// LabModel maps a model id to the lab proxy's provider:model form.
func LabModel(model string) string {
	switch {
	case strings.Contains(model, ":"):
		return model
	case strings.HasPrefix(model, "gemini"):
		return "gemini:" + model
	case strings.HasPrefix(model, "grok"):
		return "xai:" + model
	case strings.HasPrefix(model, "claude"):
		return "anthropic:" + model
	}
	return model
}

type headerTransport struct {
	base   http.RoundTripper
	header http.Header
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, vs := range t.header {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}
	return t.base.RoundTrip(req)
}
