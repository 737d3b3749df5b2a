package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ironsheep/vlm-tools-mcp/internal/config"
	"github.com/ironsheep/vlm-tools-mcp/internal/deploy"
	"github.com/ironsheep/vlm-tools-mcp/internal/health"
)

func newHealthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check that the coder and VLM endpoints are serving",
		Long: `Probe GET /health and GET /v1/models on both endpoints concurrently.

Endpoints scale to zero, so the first probe may wait several minutes for a
container to start. Exits non-zero if any endpoint is unhealthy.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws := workspace(cmd)
			coderURL, _ := cmd.Flags().GetString("coder-url")
			vlmURL, _ := cmd.Flags().GetString("vlm-url")
			timeout, _ := cmd.Flags().GetDuration("timeout")
			smoke, _ := cmd.Flags().GetBool("smoke")
			verbose, _ := cmd.Flags().GetBool("verbose")

			if coderURL == "" && ws != "" {
				coderURL = deploy.Coder.WebURL(ws)
			}
			if vlmURL == "" && ws != "" {
				vlmURL = deploy.VLM.WebURL(ws)
			}

			var targets []health.Target
			if coderURL != "" {
				targets = append(targets, health.Target{Name: deploy.Coder.Name, BaseURL: coderURL, Model: deploy.Coder.Model})
			}
			if vlmURL != "" {
				targets = append(targets, health.Target{Name: deploy.VLM.Name, BaseURL: vlmURL, Model: deploy.VLM.Model})
			}
			if len(targets) == 0 {
				return errors.New("no endpoints: pass --workspace, --coder-url or --vlm-url, or set MODAL_WORKSPACE")
			}

			opts := []health.Option{health.WithTimeout(timeout)}
			if id := os.Getenv(config.EnvProxyTokenID); id != "" {
				opts = append(opts, health.WithProxyAuth(id, os.Getenv(config.EnvProxyTokenSecret)))
			}
			if smoke {
				opts = append(opts, health.WithSmokeTest())
			}
			if verbose {
				opts = append(opts, health.WithLogger(log.New(cmd.ErrOrStderr(), "", log.Ltime)))
			}

			out := cmd.OutOrStdout()
			for _, t := range targets {
				fmt.Fprintf(out, "Checking %s at %s ...\n", t.Name, t.BaseURL)
			}

			results := health.NewChecker(opts...).CheckAll(context.Background(), targets)

			failed := 0
			for _, r := range results {
				elapsed := r.Elapsed.Round(time.Millisecond)
				if !r.OK() {
					failed++
					fmt.Fprintf(out, "FAIL %-6s %s (%s)\n", r.Target.Name, r.Err, elapsed)
					continue
				}
				fmt.Fprintf(out, "OK   %-6s %s (%s)\n", r.Target.Name, strings.Join(r.Models, ", "), elapsed)
				if r.Reply != "" {
					fmt.Fprintf(out, "     reply: %s\n", r.Reply)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d endpoints unhealthy", failed, len(results))
			}
			return nil
		},
	}

	cmd.Flags().String("coder-url", "", "Coder endpoint base URL (default derived from the workspace)")
	cmd.Flags().String("vlm-url", "", "VLM endpoint base URL (default derived from the workspace)")
	cmd.Flags().Duration("timeout", health.DefaultTimeout, "Per-endpoint deadline, including cold start")
	cmd.Flags().Bool("smoke", false, "Also send a short chat completion to each endpoint")
	cmd.Flags().Bool("verbose", false, "Log each request")
	return cmd
}
