package models

import (
	"encoding/json"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ChatMessage is one entry of a request transcript.
//
// Assistant messages may carry ToolCalls; tool messages carry the
// ToolCallID they answer and the Name of the tool that produced them.
type ChatMessage struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`
	ToolCallID string     `json:"toolCallId,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// ToolCall represents an LLM's request to execute a tool.
type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`

	// ThoughtSignature is an opaque value some vendors attach to a function
	// call. It must be echoed back unchanged on the following turn.
	ThoughtSignature []byte `json:"thoughtSignature,omitempty"`
}

// ArgsMap decodes Args into a map. Non-object or malformed args yield an
// empty map.
func (c ToolCall) ArgsMap() map[string]any {
	out := map[string]any{}
	if len(c.Args) == 0 {
		return out
	}
	if err := json.Unmarshal(c.Args, &out); err != nil || out == nil {
		return map[string]any{}
	}
	return out
}

// ToolResult represents the output of a tool execution.
type ToolResult struct {
	Success bool   `json:"success"`
	Output  string `json:"output"`
	Error   string `json:"error,omitempty"`
}

// OK builds a successful result.
func OK(output string) *ToolResult {
	return &ToolResult{Success: true, Output: output}
}

// Failed builds a failed result whose error text is also used as output.
func Failed(msg string) *ToolResult {
	return &ToolResult{Success: false, Output: msg, Error: msg}
}

// Content renders the result the way it is fed back to the model.
func (r *ToolResult) Content() string {
	if r == nil {
		return ""
	}
	if r.Success {
		return r.Output
	}
	if r.Error == "" {
		return r.Output
	}
	if r.Output != "" && r.Output != r.Error {
		return "Error: " + r.Error + "\n" + r.Output
	}
	return "Error: " + r.Error
}

// ToolDefinition describes a tool offered to the model.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}
