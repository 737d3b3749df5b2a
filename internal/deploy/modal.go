package deploy

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/modal-labs/libmodal/modal-go"

	"github.com/ironsheep/vlm-tools-mcp/internal/config"
)

// SandboxImage carries vLLM and its CUDA runtime. Sandboxes download weights
// at startup instead of baking them into the image.
const SandboxImage = "vllm/vllm-openai:v0.15.0"

// LaunchOptions tune a development sandbox.
type LaunchOptions struct {
	// Region pins the sandbox; empty lets Modal choose.
	Region string
	// Lifetime bounds how long the sandbox may run. Defaults to one hour.
	Lifetime time.Duration
	// Image overrides SandboxImage.
	Image string
	// Env is passed to the vLLM process, e.g. HF_TOKEN.
	Env map[string]string
}

// Sandbox is a launched profile.
type Sandbox struct {
	ID      string
	Profile string
	// URL is the tunnel to the vLLM port, empty if not yet provisioned.
	URL string
}

// ModalLauncher runs profiles in Modal sandboxes under the deployment's app.
type ModalLauncher struct {
	client *modal.Client
	logger *log.Logger
}

// NewModalLauncher connects with the credentials from ~/.modal.toml or
// MODAL_TOKEN_ID / MODAL_TOKEN_SECRET.
func NewModalLauncher(logger *log.Logger) (*ModalLauncher, error) {
	client, err := modal.NewClient()
	if err != nil {
		return nil, fmt.Errorf("failed to create Modal client: %w", err)
	}
	if logger == nil {
		logger = log.Default()
	}
	return &ModalLauncher{client: client, logger: logger}, nil
}

// Launch starts p's vLLM server and waits up to tunnelWait for its tunnel.
func (l *ModalLauncher) Launch(ctx context.Context, p Profile, opts LaunchOptions) (*Sandbox, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	app, err := l.client.Apps.FromName(ctx, config.ModalApp, &modal.AppFromNameParams{
		CreateIfMissing: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to look up Modal app %s: %w", config.ModalApp, err)
	}

	imageRef := opts.Image
	if imageRef == "" {
		imageRef = SandboxImage
	}
	image := l.client.Images.FromRegistry(imageRef, nil)

	params := sandboxParams(p, opts)
	l.logger.Printf("Launching %s on %s: %s", p.Name, params.GPU, strings.Join(params.Command, " "))

	sb, err := l.client.Sandboxes.Create(ctx, app, image, params)
	if err != nil {
		return nil, fmt.Errorf("failed to create Modal Sandbox: %w", err)
	}

	return &Sandbox{
		ID:      sb.SandboxID,
		Profile: p.Name,
		URL:     tunnelURL(ctx, sb),
	}, nil
}

// Terminate stops the sandbox with the given ID.
func (l *ModalLauncher) Terminate(ctx context.Context, id string) error {
	sb, err := l.client.Sandboxes.FromID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get Modal Sandbox %s: %w", id, err)
	}
	if err := sb.Terminate(ctx); err != nil {
		return fmt.Errorf("failed to terminate Modal Sandbox %s: %w", id, err)
	}
	return nil
}

// Status reports whether a sandbox is still running, and its tunnel URL.
func (l *ModalLauncher) Status(ctx context.Context, id string) (running bool, url string, err error) {
	sb, err := l.client.Sandboxes.FromID(ctx, id)
	if err != nil {
		return false, "", fmt.Errorf("failed to get Modal Sandbox %s: %w", id, err)
	}
	exit, err := sb.Poll(ctx)
	if err != nil {
		return false, "", fmt.Errorf("failed to poll Modal Sandbox %s: %w", id, err)
	}
	if exit != nil {
		return false, "", nil
	}
	return true, tunnelURL(ctx, sb), nil
}

const tunnelWait = 30 * time.Second

func tunnelURL(ctx context.Context, sb *modal.Sandbox) string {
	tunnels, err := sb.Tunnels(ctx, tunnelWait)
	if err != nil {
		// not provisioned yet
		return ""
	}
	t, ok := tunnels[Port]
	if !ok || t.Host == "" {
		return ""
	}
	return fmt.Sprintf("http://%s:%d", t.Host, t.Port)
}

// sandboxParams sizes the sandbox for p's GPUs. Weights are pulled by model
// name since the sandbox image does not contain them.
func sandboxParams(p Profile, opts LaunchOptions) *modal.SandboxCreateParams {
	lifetime := opts.Lifetime
	if lifetime <= 0 {
		lifetime = time.Hour
	}

	env := map[string]string{"HF_XET_HIGH_PERFORMANCE": "1"}
	for k, v := range opts.Env {
		env[k] = v
	}

	gpu := p.GPU
	if p.GPUCount > 1 {
		gpu = p.ModalGPU()
	}

	params := &modal.SandboxCreateParams{
		CPU:              8.0 * float64(p.GPUCount),
		MemoryMiB:        32768 * p.GPUCount,
		GPU:              gpu,
		Timeout:          lifetime,
		Env:              env,
		Command:          p.serveArgs(p.Model),
		UnencryptedPorts: []int{Port},
	}
	if opts.Region != "" {
		params.Regions = []string{opts.Region}
	}
	return params
}
