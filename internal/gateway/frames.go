package gateway

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const (
	protocolVersion = 3

	frameTypeRequest  = "req"
	frameTypeResponse = "res"
	frameTypeEvent    = "event"

	eventConnectChallenge = "connect.challenge"
)

// frame is the envelope shared by every message on the gateway socket.
type frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  any             `json:"params,omitempty"`
	OK      *bool           `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *frameError     `json:"error,omitempty"`
	Event   string          `json:"event,omitempty"`
	Seq     *int64          `json:"seq,omitempty"`
}

type frameError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type clientInfo struct {
	ID       string `json:"id"`
	Version  string `json:"version,omitempty"`
	Platform string `json:"platform,omitempty"`
	Mode     string `json:"mode,omitempty"`
}

type authPayload struct {
	Token string `json:"token,omitempty"`
}

type devicePayload struct {
	ID        string `json:"id"`
	PublicKey string `json:"publicKey,omitempty"`
	Assertion string `json:"assertion,omitempty"`
	Nonce     string `json:"nonce,omitempty"`
}

type connectParams struct {
	MinProtocol int            `json:"minProtocol"`
	MaxProtocol int            `json:"maxProtocol"`
	Client      clientInfo     `json:"client"`
	Auth        *authPayload   `json:"auth,omitempty"`
	Device      *devicePayload `json:"device,omitempty"`
	UserAgent   string         `json:"userAgent,omitempty"`
}

type challengePayload struct {
	Nonce string `json:"nonce"`
}

type helloPayload struct {
	Type     string `json:"type"`
	Protocol int    `json:"protocol"`
	Server   struct {
		ID string `json:"id"`
	} `json:"server"`
	Features struct {
		Methods []string `json:"methods"`
		Events  []string `json:"events"`
	} `json:"features"`
}

const inboundFrameSchema = `{
  "type": "object",
  "required": ["type"],
  "properties": {
    "type": {"enum": ["res", "event"]},
    "id": {"type": "string", "minLength": 1},
    "ok": {"type": "boolean"},
    "event": {"type": "string", "minLength": 1},
    "seq": {"type": "integer"},
    "error": {
      "type": "object",
      "required": ["message"],
      "properties": {
        "code": {"type": "string"},
        "message": {"type": "string"}
      }
    }
  },
  "allOf": [
    {
      "if": {"properties": {"type": {"const": "res"}}},
      "then": {"required": ["id", "ok"]}
    },
    {
      "if": {"properties": {"type": {"const": "event"}}},
      "then": {"required": ["event"]}
    }
  ]
}`

var (
	frameSchemaOnce sync.Once
	frameSchema     *jsonschema.Schema
	frameSchemaErr  error
)

// decodeInbound validates raw against the inbound frame schema and decodes it.
func decodeInbound(raw []byte) (*frame, error) {
	frameSchemaOnce.Do(func() {
		frameSchema, frameSchemaErr = jsonschema.CompileString("gateway_inbound_frame", inboundFrameSchema)
	})
	if frameSchemaErr != nil {
		return nil, frameSchemaErr
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("invalid frame json: %w", err)
	}
	if err := frameSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("invalid frame: %w", err)
	}

	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("invalid frame: %w", err)
	}
	return &f, nil
}

// responseID extracts the id of a response frame that failed validation so
// its caller can be failed. It returns "" for anything else.
func responseID(raw []byte) string {
	var head struct {
		Type string `json:"type"`
		ID   any    `json:"id"`
	}
	if err := json.Unmarshal(raw, &head); err != nil || head.Type != frameTypeResponse {
		return ""
	}
	id, _ := head.ID.(string)
	return id
}
