package providers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/nextain/naia-agent/internal/agent"
	"github.com/nextain/naia-agent/pkg/models"
	"github.com/sashabaranov/go-openai"
)

func dataLines(payloads ...string) []string {
	lines := make([]string, 0, 2*len(payloads)+2)
	for _, p := range payloads {
		lines = append(lines, "data: "+p, "")
	}
	return append(lines, "data: [DONE]", "")
}

func TestOpenAICompatStreamToolCallFragments(t *testing.T) {
	var body map[string]any
	server := sseServer(t, dataLines(
		`{"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"role":"assistant","content":"Checking"}}]}`,
		`{"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"skill_time","arguments":"{\"format\":"}}]}}]}`,
		`{"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"tool_calls":[{"index":1,"id":"call_2","type":"function","function":{"name":"read_file","arguments":"not json"}}]}}]}`,
		`{"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"iso\"}"}}]}}]}`,
		`{"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
		`{"id":"c1","object":"chat.completion.chunk","choices":[],"usage":{"prompt_tokens":20,"completion_tokens":8,"total_tokens":28}}`,
	), func(r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &body)
	})

	p, err := NewOpenAICompat(OpenAICompatConfig{Name: "openai", APIKey: "k", Model: "gpt-4o", BaseURL: server.URL})
	if err != nil {
		t.Fatal(err)
	}
	chunks := collect(t, p, &agent.StreamRequest{
		SystemPrompt: "sys",
		Messages:     []models.ChatMessage{{Role: models.RoleUser, Content: "time?"}},
		Tools:        []models.ToolDefinition{{Name: "skill_time", Description: "time"}},
	})

	if got := chunkTypes(chunks); got != "text,tool_use,tool_use,usage,finish" {
		t.Fatalf("chunks = %s", got)
	}
	first, second := chunks[1].ToolCall, chunks[2].ToolCall
	if first.ID != "call_1" || first.Name != "skill_time" || string(first.Args) != `{"format":"iso"}` {
		t.Fatalf("first call = %+v (%s)", first, first.Args)
	}
	if second.ID != "call_2" || string(second.Args) != "{}" {
		t.Fatalf("second call = %+v (%s)", second, second.Args)
	}
	if u := chunks[3].Usage; u.InputTokens != 20 || u.OutputTokens != 8 {
		t.Fatalf("usage = %+v", u)
	}

	if _, ok := body["max_tokens"]; ok {
		t.Error("openai request should not carry max_tokens")
	}
	opts, _ := body["stream_options"].(map[string]any)
	if opts["include_usage"] != true {
		t.Errorf("stream_options = %v", body["stream_options"])
	}
	msgs, _ := body["messages"].([]any)
	if len(msgs) != 2 || msgs[0].(map[string]any)["role"] != "system" {
		t.Errorf("messages = %v", body["messages"])
	}
}

func TestOpenAICompatFlushesAtEndOfStream(t *testing.T) {
	server := sseServer(t, dataLines(
		`{"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"skill_time","arguments":"{}"}}]}}]}`,
	), nil)

	p, err := NewOpenAICompat(OpenAICompatConfig{Name: "zai", APIKey: "k", Model: "glm-4.6", BaseURL: server.URL, SendMaxTokens: true})
	if err != nil {
		t.Fatal(err)
	}
	chunks := collect(t, p, &agent.StreamRequest{Messages: []models.ChatMessage{{Role: models.RoleUser, Content: "x"}}})
	if got := chunkTypes(chunks); got != "tool_use,finish" {
		t.Fatalf("chunks = %s", got)
	}
}

func TestOpenAICompatLabProxy(t *testing.T) {
	var (
		header string
		model  string
		auth   string
	)
	server := sseServer(t, dataLines(
		`{"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"hi"},"finish_reason":"stop"}]}`,
	), func(r *http.Request) {
		header = r.Header.Get("X-AnyLLM-Key")
		auth = r.Header.Get("Authorization")
		var body struct {
			Model string `json:"model"`
		}
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &body)
		model = body.Model
	})

	n, err := New(t.Context(), providerConfig("nextain", "gemini-2.5-flash", "", "lab-123"), Endpoints{
		"nextain": {BaseURL: server.URL},
	})
	if err != nil {
		t.Fatal(err)
	}
	chunks := collect(t, n, &agent.StreamRequest{Messages: []models.ChatMessage{{Role: models.RoleUser, Content: "x"}}})

	if got := chunkTypes(chunks); got != "text,finish" {
		t.Fatalf("chunks = %s", got)
	}
	if header != "Bearer lab-123" {
		t.Errorf("X-AnyLLM-Key = %q", header)
	}
	if auth == "Bearer lab-123" {
		t.Error("lab key leaked into Authorization")
	}
	if model != "gemini:gemini-2.5-flash" {
		t.Errorf("wire model = %q", model)
	}
	if n.Model() != "gemini-2.5-flash" {
		t.Errorf("Model() = %q, want the unprefixed id", n.Model())
	}
}

func TestOpenAICompatHTTPError(t *testing.T) {
	server := errorServer(t, http.StatusUnauthorized,
		`{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`)

	p, err := NewOpenAICompat(OpenAICompatConfig{Name: "xai", APIKey: "bad", Model: "grok-3", BaseURL: server.URL})
	if err != nil {
		t.Fatal(err)
	}
	chunks := collect(t, p, &agent.StreamRequest{Messages: []models.ChatMessage{{Role: models.RoleUser, Content: "x"}}})
	if got := chunkTypes(chunks); got != "error" {
		t.Fatalf("chunks = %s", got)
	}
	var pe *agent.ProviderError
	if !errors.As(chunks[0].Err, &pe) {
		t.Fatalf("error %T is not *agent.ProviderError", chunks[0].Err)
	}
	if pe.Provider != "xai" || pe.StatusCode != http.StatusUnauthorized || pe.Message != "Incorrect API key provided" {
		t.Fatalf("provider error = %+v", pe)
	}
}

func TestOpenAIMessages(t *testing.T) {
	got := openaiMessages([]models.ChatMessage{
		{Role: models.RoleUser, Content: "run it"},
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{{ID: "c1", Name: "execute_command", Args: json.RawMessage(`{"command":"ls"}`)}}},
		{Role: models.RoleTool, ToolCallID: "c1", Name: "execute_command", Content: "a\nb"},
	}, "")

	if len(got) != 3 {
		t.Fatalf("len = %d, want 3 (no system message)", len(got))
	}
	if got[1].Role != openai.ChatMessageRoleAssistant || len(got[1].ToolCalls) != 1 {
		t.Fatalf("assistant = %+v", got[1])
	}
	if got[1].ToolCalls[0].Function.Arguments != `{"command":"ls"}` {
		t.Fatalf("arguments = %s", got[1].ToolCalls[0].Function.Arguments)
	}
	if got[2].Role != openai.ChatMessageRoleTool || got[2].ToolCallID != "c1" {
		t.Fatalf("tool = %+v", got[2])
	}
}

func TestLabModel(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"gemini-2.5-pro", "gemini:gemini-2.5-pro"},
		{"grok-4", "xai:grok-4"},
		{"claude-sonnet-4-5-20250929", "anthropic:claude-sonnet-4-5-20250929"},
		{"xai:grok-3", "xai:grok-3"},
		{"gpt-4o", "gpt-4o"},
	}
	for _, tt := range tests {
		if got := LabModel(tt.in); got != tt.want {
			t.Errorf("LabModel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
