package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ironsheep/vlm-tools-mcp/internal/deploy"
)

func newDeployCmd() *cobra.Command {
	deployCmd := &cobra.Command{
		Use:   "deploy <profile>",
		Short: "Launch a profile's vLLM server in a Modal sandbox",
		Long: `Launch a profile in a Modal sandbox with its GPU and a tunnel to port 8000.

This is for development. The production endpoints are the Modal web
functions of the coding-agent-server app. Weights are downloaded when the
sandbox starts; pass HF_TOKEN in the environment for gated models.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, ok := deploy.Lookup(args[0])
			if !ok {
				return unknownProfile(args[0])
			}
			region, _ := cmd.Flags().GetString("region")
			lifetime, _ := cmd.Flags().GetDuration("lifetime")

			opts := deploy.LaunchOptions{Region: region, Lifetime: lifetime}
			if token := os.Getenv("HF_TOKEN"); token != "" {
				opts.Env = map[string]string{"HF_TOKEN": token}
			}

			launcher, err := deploy.NewModalLauncher(log.New(cmd.ErrOrStderr(), "", log.Ltime))
			if err != nil {
				return err
			}

			sb, err := launcher.Launch(context.Background(), p, opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Sandbox ID: %s\n", sb.ID)
			if sb.URL != "" {
				fmt.Fprintf(out, "Tunnel URL: %s\n", sb.URL)
				fmt.Fprintf(out, "Check it with: agentctl health --%s-url %s\n", p.Name, sb.URL)
			} else {
				fmt.Fprintln(out, "Note: No tunnel URL available yet. Tunnels may take a moment to provision.")
				fmt.Fprintf(out, "Use: agentctl deploy status %s\n", sb.ID)
			}
			return nil
		},
	}
	deployCmd.Flags().String("region", "", "Modal region (default: any)")
	deployCmd.Flags().Duration("lifetime", time.Hour, "Terminate the sandbox after this long")

	deployCmd.AddCommand(&cobra.Command{
		Use:   "terminate <sandbox-id>",
		Short: "Stop a development sandbox",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			launcher, err := deploy.NewModalLauncher(nil)
			if err != nil {
				return err
			}
			if err := launcher.Terminate(context.Background(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Terminated %s\n", args[0])
			return nil
		},
	})

	deployCmd.AddCommand(&cobra.Command{
		Use:   "status <sandbox-id>",
		Short: "Show whether a development sandbox is running",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			launcher, err := deploy.NewModalLauncher(nil)
			if err != nil {
				return err
			}
			running, url, err := launcher.Status(context.Background(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !running {
				fmt.Fprintf(out, "%s: terminated\n", args[0])
				return nil
			}
			fmt.Fprintf(out, "%s: running\n", args[0])
			if url != "" {
				fmt.Fprintf(out, "Tunnel URL: %s\n", url)
			}
			return nil
		},
	})
	return deployCmd
}
