// Package cli implements agentctl, the operator tool for the coding-agent
// deployment: configuring the agent, checking endpoints, and launching
// development sandboxes.
package cli

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/ironsheep/vlm-tools-mcp/internal/config"
)

// Version is reported by --version. Set by ldflags in cmd/agentctl.
var Version = "dev"

// newRootCmd builds the command tree.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "agentctl",
		Short: "Operate the self-hosted coding agent and its vision model",
		Long: `agentctl manages the coding-agent deployment on Modal: a coding model and a
vision-language model, each served by vLLM behind an OpenAI-compatible API.

Commands:
  - setup       Point the agent at the deployment and register the vlm-analyzer MCP server
  - health      Check that both endpoints are up and serving the expected models
  - descriptor  Show the deployment profiles and their vllm serve command lines
  - deploy      Launch a profile in a Modal sandbox for development

Settings such as MODAL_WORKSPACE may be placed in ./.env.

Use "agentctl [command] --help" for more information about a command.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			config.LoadDotEnv()
		},
	}

	rootCmd.PersistentFlags().String("workspace", "", "Modal workspace name (default $MODAL_WORKSPACE)")

	rootCmd.AddCommand(newSetupCmd())
	rootCmd.AddCommand(newHealthCmd())
	rootCmd.AddCommand(newDescriptorCmd())
	rootCmd.AddCommand(newDeployCmd())
	return rootCmd
}

// Execute runs agentctl. It is called by main.main().
func Execute() {
	log.SetFlags(0)
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// workspace resolves the --workspace flag, falling back to MODAL_WORKSPACE.
func workspace(cmd *cobra.Command) string {
	ws, _ := cmd.Flags().GetString("workspace")
	if ws == "" {
		ws = os.Getenv(config.EnvWorkspace)
	}
	return ws
}
