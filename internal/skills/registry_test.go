package skills

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/nextain/naia-agent/internal/agent"
	"github.com/nextain/naia-agent/internal/tools"
	"github.com/nextain/naia-agent/pkg/models"
)

func echoSkill(name string, requiresGateway bool) *Skill {
	return &Skill{
		Name:            name,
		Description:     "echo " + name,
		RequiresGateway: requiresGateway,
		Tier:            agent.TierSafe,
		Handler: func(_ context.Context, args json.RawMessage, _ Env) (*models.ToolResult, error) {
			return models.OK(string(args)), nil
		},
	}
}

func TestRegistryRegister(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(echoSkill("skill_echo", false)); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		skill *Skill
		want  error
	}{
		{"duplicate", echoSkill("skill_echo", false), ErrDuplicateSkill},
		{"no prefix", echoSkill("echo", false), ErrMissingPrefix},
		{"prefix only", echoSkill("skill_", false), ErrMissingPrefix},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := reg.Register(tt.skill); !errors.Is(err, tt.want) {
				t.Fatalf("Register() error = %v, want %v", err, tt.want)
			}
		})
	}

	if err := reg.Register(&Skill{Name: "skill_nohandler"}); err == nil {
		t.Fatal("skill without handler accepted")
	}
	if _, ok := reg.Get("skill_echo"); !ok {
		t.Fatal("skill_echo not registered")
	}
	if _, ok := reg.Get("skill_nohandler"); ok {
		t.Fatal("skill_nohandler registered")
	}
}

func TestRegistryExecute(t *testing.T) {
	reg := NewRegistry()
	_ = reg.Register(echoSkill("skill_echo", false))
	_ = reg.Register(&Skill{
		Name: "skill_boom",
		Handler: func(context.Context, json.RawMessage, Env) (*models.ToolResult, error) {
			return nil, errors.New("boom")
		},
	})

	if res := reg.Execute(context.Background(), "skill_echo", nil, Env{}); !res.Success || res.Output != "{}" {
		t.Fatalf("echo = %+v", res)
	}
	if res := reg.Execute(context.Background(), "skill_missing", nil, Env{}); res.Error != "Unknown skill: skill_missing" {
		t.Fatalf("missing = %+v", res)
	}
	if res := reg.Execute(context.Background(), "skill_boom", nil, Env{}); res.Success || res.Error != "boom" {
		t.Fatalf("boom = %+v", res)
	}
}

func TestSkillDefinitionDefaultParameters(t *testing.T) {
	def := echoSkill("skill_local", false).Definition()
	if def.Name != "skill_local" || string(def.Parameters) != `{"type":"object","properties":{}}` {
		t.Fatalf("Definition() = %+v", def)
	}
}

func TestAttach(t *testing.T) {
	reg := NewRegistry()
	_ = reg.Register(TimeSkill(nil))
	_ = reg.Register(echoSkill("skill_local", false))
	_ = reg.Register(echoSkill("skill_remote", true))
	custom := echoSkill("skill_custom", false)
	custom.Tier = agent.TierSafe
	_ = reg.Register(custom)

	t.Run("without gateway", func(t *testing.T) {
		toolReg := tools.NewRegistry()
		tiers := agent.NewTierTable()
		names, err := reg.Attach(toolReg, tiers, Env{}, []string{"local"})
		if err != nil {
			t.Fatal(err)
		}
		if len(names) != 2 || names[0] != "skill_time" || names[1] != "skill_custom" {
			t.Fatalf("attached = %v", names)
		}
		if got := tiers.Tier("skill_time"); got != agent.TierSafe {
			t.Fatalf("skill_time tier = %v", got)
		}
		if got := tiers.Tier("skill_custom"); got != agent.TierModerate {
			t.Fatalf("skill_custom tier = %v, want raised to moderate", got)
		}
	})

	t.Run("with gateway", func(t *testing.T) {
		toolReg := tools.NewRegistry()
		names, err := reg.Attach(toolReg, agent.NewTierTable(), connectedEnv(&fakeRPC{}), []string{"skill_time"})
		if err != nil {
			t.Fatal(err)
		}
		if len(names) != 3 {
			t.Fatalf("attached = %v", names)
		}
		res := toolReg.Run(context.Background(), models.ToolCall{Name: "skill_remote", Args: json.RawMessage(`{"a":1}`)})
		if !res.Success || res.Output != `{"a":1}` {
			t.Fatalf("run = %+v", res)
		}
	})
}

func TestAttachHonorsAdvertisedMethods(t *testing.T) {
	reg := NewRegistry()
	_ = reg.Register(echoSkill("skill_local", false))
	remote := echoSkill("skill_remote", true)
	remote.GatewayMethod = tools.InvokeSkillMethod
	_ = reg.Register(remote)

	tests := []struct {
		name    string
		methods []string
		want    []string
	}{
		{"advertised", []string{"exec.bash", tools.InvokeSkillMethod}, []string{"skill_local", "skill_remote"}},
		{"not advertised", []string{"exec.bash"}, []string{"skill_local"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rpc := &advertisingRPC{fakeRPC: &fakeRPC{}, methods: tt.methods}
			names, err := reg.Attach(tools.NewRegistry(), agent.NewTierTable(), Env{Bridge: tools.NewBridge(rpc, 0)}, nil)
			if err != nil {
				t.Fatal(err)
			}
			if strings.Join(names, ",") != strings.Join(tt.want, ",") {
				t.Fatalf("attached = %v, want %v", names, tt.want)
			}
		})
	}
}

func TestWithPrefix(t *testing.T) {
	if WithPrefix("weather") != "skill_weather" || WithPrefix("skill_weather") != "skill_weather" {
		t.Fatal("WithPrefix mismatch")
	}
}
