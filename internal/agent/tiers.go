package agent

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nextain/naia-agent/pkg/models"
)

// Tier is the risk class of a tool. Tier 0 runs without asking; tiers 1
// and 2 need the caller's approval.
type Tier int

const (
	TierSafe     Tier = 0
	TierModerate Tier = 1
	// TierDangerous is also the fallback for unknown tools.
	TierDangerous Tier = 2
)

// RequiresApproval reports whether calls of this tier block on the gate.
func (t Tier) RequiresApproval() bool {
	return t >= TierModerate
}

var defaultTiers = map[string]Tier{
	"read_file":           TierSafe,
	"search_files":        TierSafe,
	"browser":             TierSafe,
	"skill_time":          TierSafe,
	"skill_system_status": TierSafe,
	"write_file":          TierModerate,
	"apply_diff":          TierModerate,
	"web_search":          TierModerate,
	"sessions_spawn":      TierModerate,
	"skill_weather":       TierModerate,
	"skill_memo":          TierModerate,
	"skill_cron":          TierModerate,
	"execute_command":     TierDangerous,
}

// TierTable maps tool names to tiers. Names missing from the table resolve
// to TierDangerous.
type TierTable struct {
	mu    sync.RWMutex
	tiers map[string]Tier
}

// NewTierTable returns a table seeded with the built-in classification.
func NewTierTable() *TierTable {
	t := &TierTable{tiers: make(map[string]Tier, len(defaultTiers))}
	for name, tier := range defaultTiers {
		t.tiers[name] = tier
	}
	return t
}

// Tier resolves name.
func (t *TierTable) Tier(name string) Tier {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if tier, ok := t.tiers[name]; ok {
		return tier
	}
	return TierDangerous
}

// Declare classifies a tool that is not in the built-in table. A declared
// tier below TierModerate is raised to TierModerate; built-in entries are
// never changed.
func (t *TierTable) Declare(name string, tier Tier) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, builtin := defaultTiers[name]; builtin {
		return
	}
	if tier < TierModerate {
		tier = TierModerate
	}
	if tier > TierDangerous {
		tier = TierDangerous
	}
	t.tiers[name] = tier
}

// primaryArgs lists, per tool, the argument that best summarizes a call.
var primaryArgs = map[string]string{
	"execute_command": "command",
	"read_file":       "path",
	"write_file":      "path",
	"apply_diff":      "path",
	"web_search":      "query",
	"search_files":    "pattern",
	"browser":         "url",
	"sessions_spawn":  "task",
	"skill_weather":   "location",
}

var toolLabels = map[string]string{
	"execute_command": "Run command",
	"read_file":       "Read file",
	"write_file":      "Write file",
	"apply_diff":      "Edit file",
	"web_search":      "Web search",
	"search_files":    "Search files",
	"browser":         "Open page",
	"sessions_spawn":  "Spawn sub-agent",
	"skill_weather":   "Weather lookup",
}

// Describe summarizes a tool call for an approval prompt.
func Describe(call models.ToolCall) string {
	args := call.ArgsMap()
	if key, ok := primaryArgs[call.Name]; ok {
		if v, ok := args[key].(string); ok && v != "" {
			return fmt.Sprintf("%s: %s", toolLabels[call.Name], v)
		}
	}
	if call.Name == "skill_memo" || call.Name == "skill_cron" {
		action, _ := args["action"].(string)
		key, _ := args["key"].(string)
		if key == "" {
			key, _ = args["job_id"].(string)
		}
		if action != "" {
			if key != "" {
				return fmt.Sprintf("%s: %s %s", call.Name, action, key)
			}
			return fmt.Sprintf("%s: %s", call.Name, action)
		}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		raw = []byte("{}")
	}
	return fmt.Sprintf("tool: %s %s", call.Name, raw)
}
