// Package main provides the naia-agent binary, the AI agent runtime that
// the Naia desktop shell spawns as a child process.
//
// The shell writes one JSON request per line to stdin and reads one JSON
// event per line from stdout. Logs go to stderr.
//
// # Basic Usage
//
//	naia-agent                     # same as "naia-agent run"
//	naia-agent run --config ~/.naia/agent.yaml
//	naia-agent tools               # tool catalog with approval tiers
//	naia-agent skills list
//	naia-agent config schema
//
// # Environment Variables
//
//   - NAIA_CONFIG: path to the configuration file (YAML or JSON5)
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// stdout carries protocol events; logs must stay on stderr.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the command tree. Running the root without a
// subcommand starts the stdio host.
func buildRootCmd() *cobra.Command {
	var opts runOptions
	rootCmd := &cobra.Command{
		Use:   "naia-agent",
		Short: "Naia agent runtime speaking line-delimited JSON over stdio",
		Long: `naia-agent runs LLM conversations with tool calls on behalf of the Naia shell.

Supported providers: anthropic, openai, xai, zai, ollama, nextain, gemini
Tools run on the remote execution gateway; tier 1 and 2 tools need approval.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd.Context(), opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", os.Getenv("NAIA_CONFIG"),
		"Path to YAML or JSON5 configuration file (or set NAIA_CONFIG)")
	rootCmd.Flags().BoolVarP(&opts.debug, "debug", "d", false, "Enable debug logging")

	rootCmd.AddCommand(
		buildRunCmd(&opts),
		buildToolsCmd(&opts),
		buildSkillsCmd(&opts),
		buildConfigCmd(),
	)
	return rootCmd
}
