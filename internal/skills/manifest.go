package skills

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/nextain/naia-agent/internal/agent"
	"github.com/nextain/naia-agent/internal/observability"
	"github.com/nextain/naia-agent/internal/sandbox"
	"github.com/nextain/naia-agent/internal/tools"
	"github.com/nextain/naia-agent/pkg/models"
)

// ManifestFile is the manifest name inside each skill directory.
const ManifestFile = "skill.json"

// Manifest types.
const (
	TypeGateway = "gateway"
	TypeCommand = "command"
)

// DefaultManifestTier applies when a manifest declares no tier.
const DefaultManifestTier = agent.TierDangerous

const manifestSchemaJSON = `{
  "type": "object",
  "required": ["name", "description", "type"],
  "properties": {
    "name": {"type": "string", "pattern": "^[A-Za-z0-9_-]+$"},
    "description": {"type": "string", "minLength": 1},
    "type": {"enum": ["gateway", "command"]},
    "gatewaySkill": {"type": "string", "minLength": 1},
    "command": {"type": "string", "minLength": 1},
    "tier": {"type": "integer", "minimum": 0, "maximum": 2},
    "parameters": {"type": "object"},
    "requires": {
      "type": "object",
      "properties": {
        "os": {"type": "array", "items": {"type": "string"}},
        "bins": {"type": "array", "items": {"type": "string"}},
        "env": {"type": "array", "items": {"type": "string"}}
      }
    }
  }
}`

var manifestSchema = jsonschema.MustCompileString("naia://skill-manifest.json", manifestSchemaJSON)

// Manifest is the content of a skill.json file.
type Manifest struct {
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Type         string          `json:"type"`
	GatewaySkill string          `json:"gatewaySkill,omitempty"`
	Command      string          `json:"command,omitempty"`
	Tier         *int            `json:"tier,omitempty"`
	Parameters   json.RawMessage `json:"parameters,omitempty"`
	Requires     *Requires       `json:"requires,omitempty"`
}

// ParseManifest validates and decodes a manifest document.
func ParseManifest(data []byte) (*Manifest, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("malformed JSON: %w", err)
	}
	if err := manifestSchema.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			for len(ve.Causes) > 0 {
				ve = ve.Causes[0]
			}
			return nil, fmt.Errorf("invalid manifest: %s %s", ve.InstanceLocation, ve.Message)
		}
		return nil, err
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if m.Type == TypeCommand && m.Command == "" {
		return nil, errors.New("invalid manifest: command skill without command")
	}
	if len(m.Parameters) > 0 {
		if err := checkParameters(m.Parameters); err != nil {
			return nil, err
		}
	}
	return &m, nil
}

func checkParameters(raw json.RawMessage) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("naia://parameters.json", bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("invalid parameters schema: %w", err)
	}
	if _, err := compiler.Compile("naia://parameters.json"); err != nil {
		return fmt.Errorf("invalid parameters schema: %w", err)
	}
	return nil
}

// Skill builds the runtime skill for a manifest found in dir.
func (m *Manifest) Skill(dir string) *Skill {
	tier := DefaultManifestTier
	if m.Tier != nil {
		tier = agent.Tier(*m.Tier)
	}
	s := &Skill{
		Name:        WithPrefix(m.Name),
		Description: m.Description,
		Parameters:  m.Parameters,
		Tier:        tier,
		Source:      dir,
	}
	switch m.Type {
	case TypeGateway:
		target := m.GatewaySkill
		if target == "" {
			target = m.Name
		}
		s.RequiresGateway = true
		s.GatewayMethod = tools.InvokeSkillMethod
		s.Handler = gatewayHandler(target)
	case TypeCommand:
		s.Handler = commandHandler(m.Command)
	}
	return s
}

func gatewayHandler(target string) Handler {
	return func(ctx context.Context, args json.RawMessage, env Env) (*models.ToolResult, error) {
		if !env.Bridge.Connected() {
			return models.Failed("Gateway connection required"), nil
		}
		out, err := env.Bridge.InvokeSkill(ctx, target, args)
		if err != nil {
			return models.Failed(err.Error()), nil
		}
		return models.OK(out), nil
	}
}

// ArgsEnvVar carries the call arguments to command skills.
const ArgsEnvVar = "NAIA_SKILL_ARGS"

func commandHandler(command string) Handler {
	return func(ctx context.Context, args json.RawMessage, env Env) (*models.ToolResult, error) {
		if !env.Bridge.Connected() {
			return models.Failed("Gateway connection required for command execution"), nil
		}
		if err := sandbox.CheckCommand(command); err != nil {
			return models.Failed(err.Error()), nil
		}
		script := fmt.Sprintf("export %s=%s; %s", ArgsEnvVar, sandbox.Quote(string(args)), command)
		res, err := env.Bridge.Bash(ctx, script, "")
		if err != nil {
			return models.Failed(err.Error()), nil
		}
		if res.Exit() != 0 {
			return &models.ToolResult{Success: false, Output: res.Text(), Error: res.Stderr}, nil
		}
		return models.OK(res.Text()), nil
	}
}

// Skipped describes a manifest directory that did not load.
type Skipped struct {
	Dir    string
	Reason string
}

// LoadDir reads every <dir>/<name>/skill.json. Malformed manifests and
// manifests with unmet requirements are skipped and reported. A missing dir
// yields nothing.
func LoadDir(dir string) ([]*Skill, []Skipped) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	gating := newGatingContext()
	var loaded []*Skill
	var skipped []Skipped
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		skillDir := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(filepath.Join(skillDir, ManifestFile))
		if err != nil {
			continue
		}
		m, err := ParseManifest(data)
		if err != nil {
			skipped = append(skipped, Skipped{Dir: skillDir, Reason: err.Error()})
			continue
		}
		if reason := gating.unmet(m.Requires); reason != "" {
			skipped = append(skipped, Skipped{Dir: skillDir, Reason: reason})
			continue
		}
		loaded = append(loaded, m.Skill(skillDir))
	}
	return loaded, skipped
}

// RegisterDir loads dir into reg. Skills whose names collide with an
// already registered skill are skipped. Every skipped entry is logged.
func RegisterDir(ctx context.Context, reg *Registry, dir string, logger *observability.Logger) []Skipped {
	if logger == nil {
		logger = observability.NopLogger()
	}
	loaded, skipped := LoadDir(dir)
	for _, s := range loaded {
		if err := reg.Register(s); err != nil {
			skipped = append(skipped, Skipped{Dir: s.Source, Reason: err.Error()})
		}
	}
	for _, s := range skipped {
		logger.Warn(ctx, "skipping skill", "dir", s.Dir, "reason", s.Reason)
	}
	return skipped
}
