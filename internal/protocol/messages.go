// Package protocol defines the line-delimited JSON messages exchanged with
// the caller over stdin and stdout.
package protocol

import (
	"encoding/json"

	"github.com/nextain/naia-agent/pkg/models"
)

// Inbound message types.
const (
	TypeChatRequest      = "chat_request"
	TypeCancelStream     = "cancel_stream"
	TypeApprovalResponse = "approval_response"
	TypeToolRequest      = "tool_request"
)

// Outbound event types.
const (
	TypeReady           = "ready"
	TypeText            = "text"
	TypeToolUse         = "tool_use"
	TypeApprovalRequest = "approval_request"
	TypeToolResult      = "tool_result"
	TypeUsage           = "usage"
	TypeAudio           = "audio"
	TypeError           = "error"
	TypeFinish          = "finish"
)

// ProviderConfig selects the LLM backend for one chat request.
type ProviderConfig struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	APIKey   string `json:"apiKey"`
	LabKey   string `json:"labKey,omitempty"`
}

// InboundMessage is a transcript entry supplied by the caller.
type InboundMessage struct {
	Role    models.Role `json:"role"`
	Content string      `json:"content"`
}

// ChatRequest starts an agent run.
type ChatRequest struct {
	Type           string           `json:"type"`
	RequestID      string           `json:"requestId"`
	Provider       ProviderConfig   `json:"provider"`
	Messages       []InboundMessage `json:"messages"`
	SystemPrompt   string           `json:"systemPrompt,omitempty"`
	EnableTools    bool             `json:"enableTools,omitempty"`
	GatewayURL     string           `json:"gatewayUrl,omitempty"`
	GatewayToken   string           `json:"gatewayToken,omitempty"`
	TTSVoice       string           `json:"ttsVoice,omitempty"`
	TTSAPIKey      string           `json:"ttsApiKey,omitempty"`
	DisabledSkills []string         `json:"disabledSkills,omitempty"`
}

// CancelStream aborts a running request.
type CancelStream struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
}

// ApprovalDecision is the caller's answer to an approval_request.
type ApprovalDecision string

const (
	DecisionOnce   ApprovalDecision = "once"
	DecisionAlways ApprovalDecision = "always"
	DecisionReject ApprovalDecision = "reject"
)

// ApprovalResponse resolves a pending approval.
type ApprovalResponse struct {
	Type       string           `json:"type"`
	RequestID  string           `json:"requestId"`
	ToolCallID string           `json:"toolCallId"`
	Decision   ApprovalDecision `json:"decision"`
	Message    string           `json:"message,omitempty"`
}

// ToolRequest executes one tool directly, without an LLM.
type ToolRequest struct {
	Type         string          `json:"type"`
	RequestID    string          `json:"requestId"`
	ToolName     string          `json:"toolName"`
	Args         json.RawMessage `json:"args,omitempty"`
	GatewayURL   string          `json:"gatewayUrl,omitempty"`
	GatewayToken string          `json:"gatewayToken,omitempty"`
}

// Ready is written once at startup.
type Ready struct {
	Type string `json:"type"`
}

// Text is a streamed assistant text fragment.
type Text struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
	Text      string `json:"text"`
}

// ToolUse announces a tool call observed in the model output.
type ToolUse struct {
	Type       string          `json:"type"`
	RequestID  string          `json:"requestId"`
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Args       json.RawMessage `json:"args"`
}

// ApprovalRequest asks the caller to approve a tool call.
type ApprovalRequest struct {
	Type        string          `json:"type"`
	RequestID   string          `json:"requestId"`
	ToolCallID  string          `json:"toolCallId"`
	ToolName    string          `json:"toolName"`
	Tier        int             `json:"tier"`
	Description string          `json:"description"`
	Args        json.RawMessage `json:"args,omitempty"`
}

// ToolResult reports the outcome of a tool call.
type ToolResult struct {
	Type       string `json:"type"`
	RequestID  string `json:"requestId"`
	ToolCallID string `json:"toolCallId"`
	ToolName   string `json:"toolName"`
	Success    bool   `json:"success"`
	Output     string `json:"output"`
	Error      string `json:"error,omitempty"`
}

// Usage reports token usage of one LLM call.
type Usage struct {
	Type         string   `json:"type"`
	RequestID    string   `json:"requestId"`
	InputTokens  int      `json:"inputTokens"`
	OutputTokens int      `json:"outputTokens"`
	Cost         *float64 `json:"cost,omitempty"`
	Model        string   `json:"model"`
}

// Audio carries synthesized speech, base64 encoded.
type Audio struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
	Data      string `json:"data"`
	Format    string `json:"format,omitempty"`
}

// Error is a terminal failure for a request.
type Error struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
	Message   string `json:"message"`
}

// Finish marks the end of a request.
type Finish struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
}

// NewToolResult converts a models.ToolResult into its event.
func NewToolResult(requestID, toolCallID, toolName string, r *models.ToolResult) ToolResult {
	if r == nil {
		r = models.Failed("no result")
	}
	return ToolResult{
		Type:       TypeToolResult,
		RequestID:  requestID,
		ToolCallID: toolCallID,
		ToolName:   toolName,
		Success:    r.Success,
		Output:     r.Output,
		Error:      r.Error,
	}
}
