package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/nextain/naia-agent/internal/agent"
	"github.com/nextain/naia-agent/internal/config"
	"github.com/nextain/naia-agent/internal/observability"
	"github.com/nextain/naia-agent/internal/skills"
	"github.com/nextain/naia-agent/internal/tools"
	"github.com/nextain/naia-agent/pkg/models"
)

// =============================================================================
// Catalog Handlers
// =============================================================================

type catalogEntry struct {
	def      models.ToolDefinition
	tier     agent.Tier
	source   string
	disabled bool
}

// catalog lists every tool a fully connected chat request could be
// offered, including skills the config disables.
func catalog(ctx context.Context, configPath string) ([]catalogEntry, *skills.Manager, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	manager, err := loadSkills(ctx, cfg, observability.NopLogger())
	if err != nil {
		return nil, nil, err
	}

	tiers := agent.NewTierTable()
	var entries []catalogEntry
	for _, t := range tools.NewBridge(nil, 0).Tools() {
		entries = append(entries, catalogEntry{
			def:    models.ToolDefinition{Name: t.Name(), Description: t.Description(), Parameters: t.Schema()},
			tier:   tiers.Tier(t.Name()),
			source: "gateway",
		})
	}

	off := make(map[string]bool, len(cfg.Skills.Disabled))
	for _, name := range cfg.Skills.Disabled {
		off[skills.WithPrefix(strings.TrimSpace(name))] = true
	}
	for _, s := range manager.Registry().List() {
		tiers.Declare(s.Name, s.Tier)
		entries = append(entries, catalogEntry{
			def:      s.Definition(),
			tier:     tiers.Tier(s.Name),
			source:   s.Source,
			disabled: off[s.Name],
		})
	}
	return entries, manager, nil
}

func printTools(ctx context.Context, out io.Writer, configPath string, jsonOutput bool) error {
	entries, manager, err := catalog(ctx, configPath)
	if err != nil {
		return err
	}
	defer manager.Close()

	if jsonOutput {
		defs := make([]models.ToolDefinition, 0, len(entries))
		for _, e := range entries {
			if !e.disabled {
				defs = append(defs, e.def)
			}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(defs)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTIER\tAPPROVAL\tSOURCE")
	for _, e := range entries {
		approval := "no"
		if e.tier.RequiresApproval() {
			approval = "yes"
		}
		source := e.source
		if e.disabled {
			source += " (disabled)"
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", e.def.Name, e.tier, approval, source)
	}
	return w.Flush()
}

func printSkills(ctx context.Context, out io.Writer, configPath string) error {
	entries, manager, err := catalog(ctx, configPath)
	if err != nil {
		return err
	}
	defer manager.Close()

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTIER\tSOURCE\tDESCRIPTION")
	for _, e := range entries {
		if e.source == "gateway" {
			continue
		}
		name := e.def.Name
		if e.disabled {
			name += " (disabled)"
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", name, e.tier, e.source, firstLine(e.def.Description))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	skipped := manager.Skipped()
	if len(skipped) == 0 {
		return nil
	}
	fmt.Fprintf(out, "\nSkipped manifests (%d):\n", len(skipped))
	for _, s := range skipped {
		fmt.Fprintf(out, "  %s: %s\n", s.Dir, s.Reason)
	}
	return nil
}

func printConfigSchema(out io.Writer) error {
	schema, err := config.JSONSchema()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(schema))
	return err
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
