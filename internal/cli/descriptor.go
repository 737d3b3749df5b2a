package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ironsheep/vlm-tools-mcp/internal/config"
	"github.com/ironsheep/vlm-tools-mcp/internal/deploy"
)

func newDescriptorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "descriptor [profile]",
		Short: "Show deployment profiles and their vllm serve command lines",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			profiles := deploy.Profiles()
			if len(args) == 1 {
				p, ok := deploy.Lookup(args[0])
				if !ok {
					return unknownProfile(args[0])
				}
				profiles = []deploy.Profile{p}
			}

			ws := workspace(cmd)
			out := cmd.OutOrStdout()
			for i, p := range profiles {
				if i > 0 {
					fmt.Fprintln(out)
				}
				printProfile(out, p, ws)
			}
			return nil
		},
	}
}

func printProfile(out io.Writer, p deploy.Profile, ws string) {
	containers := "unbounded"
	if p.MaxContainers > 0 {
		containers = fmt.Sprint(p.MaxContainers)
	}

	fmt.Fprintf(out, "%s (Modal function %s in app %s)\n", p.Name, p.Function(), config.ModalApp)
	fmt.Fprintf(out, "  model:          %s\n", p.Model)
	fmt.Fprintf(out, "  weights:        %s\n", p.ModelDir)
	fmt.Fprintf(out, "  gpu:            %s\n", p.ModalGPU())
	fmt.Fprintf(out, "  context:        %s tokens\n", humanize.Comma(int64(p.MaxModelLen)))
	fmt.Fprintf(out, "  concurrency:    %d inputs, %s containers\n", p.MaxConcurrentInputs, containers)
	fmt.Fprintf(out, "  scaledown:      %s\n", p.ScaledownWindow)
	if p.ImagesPerPrompt > 0 {
		fmt.Fprintf(out, "  images/prompt:  %d\n", p.ImagesPerPrompt)
	}
	if ws != "" {
		fmt.Fprintf(out, "  url:            %s\n", p.WebURL(ws))
	}
	fmt.Fprintf(out, "  command:        %s\n", strings.Join(p.ServeArgs(), " "))
}

func unknownProfile(name string) error {
	var names []string
	for _, p := range deploy.Profiles() {
		names = append(names, p.Name)
	}
	return fmt.Errorf("unknown profile %q (want one of: %s)", name, strings.Join(names, ", "))
}
