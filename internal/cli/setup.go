package cli

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ironsheep/vlm-tools-mcp/internal/config"
	"github.com/ironsheep/vlm-tools-mcp/internal/deploy"
	"github.com/ironsheep/vlm-tools-mcp/internal/health"
	"github.com/ironsheep/vlm-tools-mcp/internal/settings"
)

// MCPServerName is the name the VLM tools are registered under.
const MCPServerName = "vlm-analyzer"

// apiKeyPlaceholder satisfies clients that insist on an API key. The Modal
// endpoints authenticate with proxy tokens, if at all.
const apiKeyPlaceholder = "modal"

func newSetupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Configure the coding agent to use the Modal deployment",
		Long: `Configure qwen-code to talk to the deployment.

Writes OPENAI_BASE_URL, OPENAI_MODEL and a placeholder OPENAI_API_KEY to
~/.qwen/.env, and registers the vlm-analyzer MCP server in
~/.qwen/settings.json. Existing settings are preserved.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws := workspace(cmd)
			if ws == "" {
				return errors.New("workspace not provided via --workspace or MODAL_WORKSPACE")
			}

			home, _ := cmd.Flags().GetString("home")
			if home == "" {
				var err error
				if home, err = os.UserHomeDir(); err != nil {
					return fmt.Errorf("failed to find home directory: %w", err)
				}
			}

			binary, _ := cmd.Flags().GetString("vlm-mcp-binary")
			if binary == "" {
				binary = findVLMBinary()
			} else if abs, err := filepath.Abs(binary); err == nil {
				binary = abs
			}

			paths := settings.QwenPaths(home)
			coderURL := deploy.Coder.WebURL(ws) + "/v1"

			envUpdates := map[string]string{
				"OPENAI_BASE_URL": coderURL,
				"OPENAI_MODEL":    deploy.Coder.Model,
			}
			if existing, err := godotenv.Read(paths.Env); err != nil || existing["OPENAI_API_KEY"] == "" {
				envUpdates["OPENAI_API_KEY"] = apiKeyPlaceholder
			}
			if err := settings.PatchEnv(paths.Env, envUpdates); err != nil {
				return err
			}

			serverEnv := map[string]string{
				config.EnvEndpoint: deploy.VLM.WebURL(ws),
				config.EnvModel:    deploy.VLM.Model,
			}
			for _, key := range []string{config.EnvProxyTokenID, config.EnvProxyTokenSecret} {
				if v := os.Getenv(key); v != "" {
					serverEnv[key] = v
				}
			}

			auth := "openai"
			model := deploy.Coder.Model
			err := settings.PatchJSON(paths.Settings, settings.Patch{
				MCPServers: map[string]settings.MCPServer{
					MCPServerName: {
						Command: binary,
						Env:     serverEnv,
						Timeout: int(health.DefaultTimeout.Milliseconds()),
					},
				},
				SelectedAuthType: &auth,
				Model:            &model,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote %s\n", paths.Env)
			fmt.Fprintf(out, "  OPENAI_BASE_URL=%s\n", coderURL)
			fmt.Fprintf(out, "  OPENAI_MODEL=%s\n", model)
			fmt.Fprintf(out, "Registered MCP server %q in %s\n", MCPServerName, paths.Settings)
			fmt.Fprintf(out, "  command: %s\n", binary)
			fmt.Fprintf(out, "  VLM endpoint: %s\n", deploy.VLM.WebURL(ws))
			fmt.Fprintln(out, "\nRun \"agentctl health\" to wake both endpoints before the first session.")
			return nil
		},
	}

	cmd.Flags().String("vlm-mcp-binary", "", "Path to the vlm-mcp binary (default: found on PATH or next to agentctl)")
	cmd.Flags().String("home", "", "Home directory containing .qwen (default: the current user's)")
	return cmd
}

// findVLMBinary looks for vlm-mcp on PATH, then beside the running binary.
func findVLMBinary() string {
	if p, err := exec.LookPath("vlm-mcp"); err == nil {
		return p
	}
	if self, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(self), "vlm-mcp")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return "vlm-mcp"
}
