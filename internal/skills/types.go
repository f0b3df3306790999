// Package skills provides named, tiered capabilities offered to the model
// next to the gateway tools: built-in skills implemented in process and
// custom skills described by skill.json manifests.
package skills

import (
	"context"
	"encoding/json"

	"github.com/nextain/naia-agent/internal/agent"
	"github.com/nextain/naia-agent/internal/tools"
	"github.com/nextain/naia-agent/pkg/models"
)

// Prefix starts every skill name.
const Prefix = "skill_"

// SourceBuiltin marks skills compiled into the agent. Manifest skills use
// their directory as Source.
const SourceBuiltin = "built-in"

// Env is what a skill handler may use during one call.
type Env struct {
	// Bridge reaches the gateway. It may be nil or disconnected.
	Bridge *tools.Bridge
}

// Handler runs a skill. args have already been validated against the
// skill's parameter schema.
type Handler func(ctx context.Context, args json.RawMessage, env Env) (*models.ToolResult, error)

// Skill is one registered skill.
type Skill struct {
	Name        string
	Description string
	Parameters  json.RawMessage
	Tier        agent.Tier

	// RequiresGateway hides the skill from requests without a gateway.
	RequiresGateway bool
	// GatewayMethod, when set, also hides the skill unless the gateway
	// advertises that method.
	GatewayMethod string

	Source  string
	Handler Handler
}

// Definition renders the skill for providers.
func (s *Skill) Definition() models.ToolDefinition {
	return models.ToolDefinition{
		Name:        s.Name,
		Description: s.Description,
		Parameters:  s.parameters(),
	}
}

func (s *Skill) parameters() json.RawMessage {
	if len(s.Parameters) == 0 {
		return json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return s.Parameters
}
