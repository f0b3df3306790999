package main

import (
	"github.com/spf13/cobra"
)

// runOptions are shared by the root command and its subcommands.
type runOptions struct {
	configPath string
	debug      bool
}

// =============================================================================
// Run Command
// =============================================================================

func buildRunCmd(opts *runOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Serve the caller protocol on stdin and stdout",
		Long: `Serve the caller protocol on stdin and stdout.

The agent writes {"type":"ready"} and then handles chat_request, cancel_stream,
approval_response and tool_request lines until stdin closes. Requests still
running at end of input are allowed to finish. SIGINT and SIGTERM cancel them.`,
		Example: `  # Start with defaults
  naia-agent run

  # Start with a config file and debug logging
  naia-agent run --config ~/.naia/agent.yaml --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd.Context(), *opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVarP(&opts.debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

// =============================================================================
// Catalog Commands
// =============================================================================

func buildToolsCmd(opts *runOptions) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tools offered to the model with their approval tiers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printTools(cmd.Context(), cmd.OutOrStdout(), opts.configPath, jsonOutput)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print tool definitions as JSON")
	return cmd
}

func buildSkillsCmd(opts *runOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skills",
		Short: "Inspect skills",
		Long: `Inspect skills.

Skills are the built-ins (skill_time, skill_system_status, skill_cron) plus one
directory per skill.json manifest under skills.dir (default ~/.naia/skills).`,
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List loaded skills and skipped manifests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printSkills(cmd.Context(), cmd.OutOrStdout(), opts.configPath)
		},
	})
	return cmd
}

func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printConfigSchema(cmd.OutOrStdout())
		},
	})
	return cmd
}
