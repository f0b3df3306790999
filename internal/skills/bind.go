package skills

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/nextain/naia-agent/internal/agent"
	"github.com/nextain/naia-agent/internal/tools"
	"github.com/nextain/naia-agent/pkg/models"
)

var _ tools.Tool = (*skillTool)(nil)

// skillTool exposes a skill through the tools.Tool interface for one
// request.
type skillTool struct {
	reg   *Registry
	skill *Skill
	env   Env
}

func (t *skillTool) Name() string            { return t.skill.Name }
func (t *skillTool) Description() string     { return t.skill.Description }
func (t *skillTool) Schema() json.RawMessage { return t.skill.parameters() }

func (t *skillTool) Execute(ctx context.Context, args json.RawMessage) (*models.ToolResult, error) {
	return t.reg.Execute(ctx, t.skill.Name, args, t.env), nil
}

// Attach registers the skills of r that are enabled for one request into
// reg and declares their tiers in tiers. Skills named in disabled (with or
// without the prefix) are skipped, as are gateway skills when env has no
// connected gateway or the gateway does not advertise the method they call.
// It returns the attached names.
func (r *Registry) Attach(reg *tools.Registry, tiers *agent.TierTable, env Env, disabled []string) ([]string, error) {
	off := make(map[string]struct{}, len(disabled))
	for _, name := range disabled {
		off[WithPrefix(strings.TrimSpace(name))] = struct{}{}
	}
	hasGateway := env.Bridge.Connected()

	var attached []string
	for _, s := range r.List() {
		if _, skip := off[s.Name]; skip {
			continue
		}
		if s.RequiresGateway && !hasGateway {
			continue
		}
		if s.GatewayMethod != "" && !env.Bridge.Supports(s.GatewayMethod) {
			continue
		}
		if err := reg.Register(&skillTool{reg: r, skill: s, env: env}); err != nil {
			return attached, err
		}
		if tiers != nil {
			tiers.Declare(s.Name, s.Tier)
		}
		attached = append(attached, s.Name)
	}
	return attached, nil
}

// WithPrefix returns name with Prefix prepended when missing.
func WithPrefix(name string) string {
	if strings.HasPrefix(name, Prefix) {
		return name
	}
	return Prefix + name
}
