package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrInvalidRequest is returned for lines that are not a known request.
var ErrInvalidRequest = errors.New("invalid request")

const inboundSchema = `{
  "type": "object",
  "required": ["type", "requestId"],
  "properties": {
    "type": {"enum": ["chat_request", "cancel_stream", "approval_response", "tool_request"]},
    "requestId": {"type": "string", "minLength": 1}
  },
  "allOf": [
    {
      "if": {"properties": {"type": {"const": "chat_request"}}},
      "then": {
        "required": ["provider", "messages"],
        "properties": {
          "provider": {
            "type": "object",
            "required": ["provider"],
            "properties": {
              "provider": {"type": "string", "minLength": 1},
              "model": {"type": "string"},
              "apiKey": {"type": "string"},
              "labKey": {"type": "string"}
            }
          },
          "messages": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["role", "content"],
              "properties": {
                "role": {"enum": ["user", "assistant"]},
                "content": {"type": "string"}
              }
            }
          },
          "disabledSkills": {"type": "array", "items": {"type": "string"}}
        }
      }
    },
    {
      "if": {"properties": {"type": {"const": "approval_response"}}},
      "then": {
        "required": ["toolCallId", "decision"],
        "properties": {
          "toolCallId": {"type": "string", "minLength": 1},
          "decision": {"enum": ["once", "always", "reject"]}
        }
      }
    },
    {
      "if": {"properties": {"type": {"const": "tool_request"}}},
      "then": {
        "required": ["toolName"],
        "properties": {
          "toolName": {"type": "string", "minLength": 1},
          "args": {"type": "object"}
        }
      }
    }
  ]
}`

var (
	inboundOnce      sync.Once
	inboundValidator *jsonschema.Schema
	inboundErr       error
)

// ParseRequest decodes one inbound line into *ChatRequest, *CancelStream,
// *ApprovalResponse or *ToolRequest. Anything else wraps ErrInvalidRequest.
func ParseRequest(line []byte) (any, error) {
	inboundOnce.Do(func() {
		inboundValidator, inboundErr = jsonschema.CompileString("caller_request", inboundSchema)
	})
	if inboundErr != nil {
		return nil, inboundErr
	}

	var doc any
	if err := json.Unmarshal(line, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := inboundValidator.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	var head struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal(line, &head)

	var target any
	switch head.Type {
	case TypeChatRequest:
		target = &ChatRequest{}
	case TypeCancelStream:
		target = &CancelStream{}
	case TypeApprovalResponse:
		target = &ApprovalResponse{}
	case TypeToolRequest:
		target = &ToolRequest{}
	default:
		return nil, ErrInvalidRequest
	}
	if err := json.Unmarshal(line, target); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return target, nil
}

// Writer serializes events as one JSON object per line. It is safe for
// concurrent use; lines from different goroutines never interleave.
type Writer struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &Writer{enc: enc}
}

// Send writes v followed by a newline.
func (w *Writer) Send(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode(v)
}

// Sender is the subset of Writer used by event producers.
type Sender interface {
	Send(v any) error
}
