package providers

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/nextain/naia-agent/internal/agent"
	"github.com/nextain/naia-agent/pkg/models"
	"google.golang.org/genai"
)

// GeminiConfig configures the Gemini API adapter.
type GeminiConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// Gemini streams completions from the Gemini API.
//
// History mapping: the system prompt becomes systemInstruction, assistant
// turns use the "model" role with functionCall parts (thought signatures
// echoed back), and consecutive tool results are folded into one user turn
// of functionResponse parts named after the originating call.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini creates the adapter.
func NewGemini(ctx context.Context, config GeminiConfig) (*Gemini, error) {
	if config.APIKey == "" {
		return nil, errors.New("gemini: API key is required")
	}
	if config.Model == "" {
		config.Model = "gemini-2.5-flash"
	}
	cc := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if config.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: config.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, wrapError("gemini", config.Model, err)
	}
	return &Gemini{client: client, model: config.Model}, nil
}

func (p *Gemini) Name() string  { return "gemini" }
func (p *Gemini) Model() string { return p.model }

// Stream implements agent.StreamNormalizer.
func (p *Gemini) Stream(ctx context.Context, req *agent.StreamRequest) (<-chan agent.StreamChunk, error) {
	contents := geminiContents(req.Messages)
	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(min(maxTokens(req.MaxTokens), math.MaxInt32)),
	}
	if req.SystemPrompt != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.SystemPrompt}}}
	}
	if len(req.Tools) > 0 {
		config.Tools = geminiTools(req.Tools)
	}

	out := make(chan agent.StreamChunk, 16)
	go func() {
		defer close(out)
		var usage agent.Usage
		for resp, err := range p.client.Models.GenerateContentStream(ctx, p.model, contents, config) {
			if err != nil {
				emit(ctx, out, agent.StreamChunk{Type: agent.ChunkError, Err: wrapError(p.Name(), p.model, err)})
				return
			}
			if resp == nil {
				continue
			}
			if md := resp.UsageMetadata; md != nil {
				if md.PromptTokenCount > 0 {
					usage.InputTokens = int(md.PromptTokenCount)
				}
				if md.CandidatesTokenCount > 0 {
					usage.OutputTokens = int(md.CandidatesTokenCount)
				}
			}
			for _, chunk := range geminiChunks(resp) {
				if !emit(ctx, out, chunk) {
					return
				}
			}
		}
		finishStream(ctx, out, usage)
	}()
	return out, nil
}

// geminiChunks extracts text and function calls from the first candidate.
// Function calls arrive whole, so no argument buffering is needed.
func geminiChunks(resp *genai.GenerateContentResponse) []agent.StreamChunk {
	if len(resp.Candidates) == 0 || resp.Candidates[0] == nil || resp.Candidates[0].Content == nil {
		return nil
	}
	var chunks []agent.StreamChunk
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil {
			continue
		}
		if part.Text != "" && !part.Thought {
			chunks = append(chunks, agent.StreamChunk{Type: agent.ChunkText, Text: part.Text})
		}
		if fc := part.FunctionCall; fc != nil {
			id := fc.ID
			if id == "" {
				id = "call_" + fc.Name + "_" + uuid.NewString()
			}
			chunks = append(chunks, agent.StreamChunk{
				Type: agent.ChunkToolUse,
				ToolCall: &models.ToolCall{
					ID:               id,
					Name:             fc.Name,
					Args:             agent.MarshalArgs(fc.Args),
					ThoughtSignature: part.ThoughtSignature,
				},
			})
		}
	}
	return chunks
}

func geminiContents(messages []models.ChatMessage) []*genai.Content {
	callNames := make(map[string]string)
	for _, msg := range messages {
		for _, call := range msg.ToolCalls {
			callNames[call.ID] = call.Name
		}
	}

	result := make([]*genai.Content, 0, len(messages))
	var responses []*genai.Part
	flush := func() {
		if len(responses) > 0 {
			result = append(result, &genai.Content{Role: genai.RoleUser, Parts: responses})
			responses = nil
		}
	}

	for _, msg := range messages {
		if msg.Role == models.RoleTool {
			name := msg.Name
			if name == "" {
				name = callNames[msg.ToolCallID]
			}
			responses = append(responses, &genai.Part{FunctionResponse: &genai.FunctionResponse{
				Name:     name,
				Response: geminiResponse(msg.Content),
			}})
			continue
		}
		flush()

		content := &genai.Content{Role: genai.RoleUser}
		if msg.Role == models.RoleAssistant {
			content.Role = genai.RoleModel
		}
		if msg.Content != "" {
			content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
		}
		for _, call := range msg.ToolCalls {
			content.Parts = append(content.Parts, &genai.Part{
				FunctionCall:     &genai.FunctionCall{Name: call.Name, Args: call.ArgsMap()},
				ThoughtSignature: call.ThoughtSignature,
			})
		}
		if len(content.Parts) > 0 {
			result = append(result, content)
		}
	}
	flush()
	return result
}

func geminiResponse(content string) map[string]any {
	if errText, ok := strings.CutPrefix(content, "Error: "); ok {
		return map[string]any{"error": errText}
	}
	return map[string]any{"output": content}
}

func geminiTools(tools []models.ToolDefinition) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, tool := range tools {
		var schemaMap map[string]any
		if err := json.Unmarshal(tool.Parameters, &schemaMap); err != nil {
			schemaMap = nil
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  geminiSchema(schemaMap),
		})
	}
	if len(decls) == 0 {
		return nil
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// geminiSchema converts a JSON Schema document to genai's typed schema.
func geminiSchema(m map[string]any) *genai.Schema {
	if m == nil {
		return nil
	}
	schema := &genai.Schema{}
	if t, ok := m["type"].(string); ok {
		schema.Type = genai.Type(strings.ToUpper(t))
	}
	if desc, ok := m["description"].(string); ok {
		schema.Description = desc
	}
	if enum, ok := m["enum"].([]any); ok {
		for _, e := range enum {
			if s, ok := e.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	}
	if props, ok := m["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema, len(props))
		for name, prop := range props {
			if pm, ok := prop.(map[string]any); ok {
				schema.Properties[name] = geminiSchema(pm)
			}
		}
	}
	if required, ok := m["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	if items, ok := m["items"].(map[string]any); ok {
		schema.Items = geminiSchema(items)
	}
	return schema
}
