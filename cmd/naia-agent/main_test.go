package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nextain/naia-agent/pkg/models"
)

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	required := []string{"run", "tools", "skills", "config"}
	for _, name := range required {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
	if cmd.PersistentFlags().Lookup("config") == nil {
		t.Fatal("expected persistent --config flag")
	}
}

// writeTestConfig points the skill dir and cron store into a temp dir and
// adds one gateway manifest and one broken manifest.
func writeTestConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	skillDir := filepath.Join(dir, "skills")
	for name, body := range map[string]string{
		"weather": `{"name":"weather","description":"Current weather\nfor a city","type":"gateway","tier":1}`,
		"broken":  `{"name":`,
	} {
		if err := os.MkdirAll(filepath.Join(skillDir, name), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(skillDir, name, "skill.json"), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	path := filepath.Join(dir, "agent.yaml")
	body := "version: 1\nskills:\n  dir: " + skillDir + "\n  cron_store: " + filepath.Join(dir, "cron.json") + "\n" + extra
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestPrintTools(t *testing.T) {
	path := writeTestConfig(t, "  disabled: [time]\n")

	var out bytes.Buffer
	if err := printTools(context.Background(), &out, path, false); err != nil {
		t.Fatalf("printTools() error = %v", err)
	}
	text := out.String()
	for _, want := range []string{
		"execute_command", "read_file", "sessions_spawn",
		"skill_weather", "skill_system_status", "(disabled)",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
	for _, line := range strings.Split(text, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		switch fields[0] {
		case "execute_command":
			if fields[1] != "2" || fields[2] != "yes" {
				t.Errorf("execute_command row = %q", line)
			}
		case "read_file":
			if fields[1] != "0" || fields[2] != "no" {
				t.Errorf("read_file row = %q", line)
			}
		}
	}
}

func TestPrintToolsJSONOmitsDisabled(t *testing.T) {
	path := writeTestConfig(t, "  disabled: [time]\n")

	var out bytes.Buffer
	if err := printTools(context.Background(), &out, path, true); err != nil {
		t.Fatalf("printTools() error = %v", err)
	}
	var defs []models.ToolDefinition
	if err := json.Unmarshal(out.Bytes(), &defs); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	names := map[string]bool{}
	for _, d := range defs {
		names[d.Name] = true
		if len(d.Parameters) == 0 {
			t.Errorf("%s has no parameters schema", d.Name)
		}
	}
	if names["skill_time"] {
		t.Error("disabled skill_time listed")
	}
	if !names["skill_weather"] || !names["write_file"] {
		t.Errorf("missing tools: %v", names)
	}
}

func TestPrintSkills(t *testing.T) {
	path := writeTestConfig(t, "")

	var out bytes.Buffer
	if err := printSkills(context.Background(), &out, path); err != nil {
		t.Fatalf("printSkills() error = %v", err)
	}
	text := out.String()
	if strings.Contains(text, "execute_command") {
		t.Error("gateway tools listed as skills")
	}
	for _, want := range []string{"skill_time", "skill_cron", "skill_weather", "Current weather", "Skipped manifests (1)", "broken"} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, "for a city") {
		t.Error("description not cut to its first line")
	}
}

func TestConfigSchemaCommand(t *testing.T) {
	cmd := buildRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"config", "schema"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	var schema map[string]any
	if err := json.Unmarshal(out.Bytes(), &schema); err != nil {
		t.Fatalf("schema is not JSON: %v", err)
	}
	if !strings.Contains(out.String(), "max_iterations") {
		t.Error("schema missing agent.max_iterations")
	}
}

func TestPrintToolsBadConfig(t *testing.T) {
	if err := printTools(context.Background(), &bytes.Buffer{}, filepath.Join(t.TempDir(), "missing.yaml"), false); err == nil {
		t.Fatal("expected error for missing config")
	}
}
