// Package deploy describes the two vLLM deployments behind the agent: the
// coding model and the vision-language model.
//
// The descriptors render the exact `vllm serve` command line and the Modal
// web-endpoint URL for each profile. A ModalLauncher can start a profile in
// a Modal sandbox for development.
package deploy

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ironsheep/vlm-tools-mcp/internal/config"
)

// Settings shared by both deployments.
const (
	Port           = 8000
	BaseImage      = "nvidia/cuda:12.8.0-devel-ubuntu22.04"
	StartupTimeout = 10 * time.Minute
	Timeout        = 10 * time.Minute
	Scaledown      = 5 * time.Minute
)

// ErrInvalidProfile is returned by Validate.
var ErrInvalidProfile = errors.New("invalid deployment profile")

// Profile is one model deployment.
type Profile struct {
	// Name is the short profile name; the Modal function is "serve-<Name>".
	Name     string
	Model    string
	ModelDir string

	GPU      string
	GPUCount int

	MaxModelLen          int
	GPUMemoryUtilization float64
	KVCacheDType         string

	MaxConcurrentInputs int
	// MaxContainers of 0 leaves autoscaling unbounded.
	MaxContainers   int
	ScaledownWindow time.Duration

	// ToolCallParser enables auto tool choice when set.
	ToolCallParser string
	// ImagesPerPrompt sets the multimodal limit when > 0.
	ImagesPerPrompt int
}

// Coder serves the agent's coding model.
var Coder = Profile{
	Name:                 "coder",
	Model:                "unsloth/Qwen3-Coder-Next-FP8-Dynamic",
	ModelDir:             "/model",
	GPU:                  "H200",
	GPUCount:             1,
	MaxModelLen:          131072,
	GPUMemoryUtilization: 0.90,
	KVCacheDType:         "fp8",
	MaxConcurrentInputs:  128,
	MaxContainers:        1,
	ScaledownWindow:      Scaledown,
	ToolCallParser:       "qwen3_coder",
}

// VLM serves the vision-language model used by the MCP image tools.
var VLM = Profile{
	Name:                 "vlm",
	Model:                config.DefaultModel,
	ModelDir:             "/vlm-model",
	GPU:                  "A100-40GB",
	GPUCount:             1,
	MaxModelLen:          32768,
	GPUMemoryUtilization: 0.90,
	KVCacheDType:         "fp8",
	MaxConcurrentInputs:  16,
	ScaledownWindow:      Scaledown,
	ImagesPerPrompt:      5,
}

// Profiles returns every known profile.
func Profiles() []Profile {
	return []Profile{Coder, VLM}
}

// Lookup finds a profile by name.
func Lookup(name string) (Profile, bool) {
	for _, p := range Profiles() {
		if p.Name == strings.ToLower(strings.TrimSpace(name)) {
			return p, true
		}
	}
	return Profile{}, false
}

// Function is the Modal function name that serves p.
func (p Profile) Function() string {
	return "serve-" + p.Name
}

// WebURL is the endpoint Modal assigns to p in workspace.
func (p Profile) WebURL(workspace string) string {
	return config.ModalEndpointURL(workspace, p.Function())
}

// ModalGPU renders the GPU request, e.g. "H200:1".
func (p Profile) ModalGPU() string {
	return fmt.Sprintf("%s:%d", p.GPU, p.GPUCount)
}

// ServeArgs renders the vllm command line serving weights from ModelDir.
func (p Profile) ServeArgs() []string {
	return p.serveArgs(p.ModelDir)
}

func (p Profile) serveArgs(model string) []string {
	args := []string{
		"vllm", "serve", model,
		"--host", "0.0.0.0",
		"--port", strconv.Itoa(Port),
		"--served-model-name", p.Model,
		"--tensor-parallel-size", strconv.Itoa(p.GPUCount),
		"--max-model-len", strconv.Itoa(p.MaxModelLen),
		"--gpu-memory-utilization", strconv.FormatFloat(p.GPUMemoryUtilization, 'f', -1, 64),
		"--kv-cache-dtype", p.KVCacheDType,
	}
	if p.ToolCallParser != "" {
		args = append(args, "--enable-auto-tool-choice", "--tool-call-parser", p.ToolCallParser)
	}
	if p.ImagesPerPrompt > 0 {
		args = append(args, "--limit-mm-per-prompt", fmt.Sprintf("image=%d", p.ImagesPerPrompt))
	}
	return append(args, "--trust-remote-code", "--enforce-eager", "--disable-log-requests")
}

// Validate checks that p can be deployed.
func (p Profile) Validate() error {
	var problems []string
	if p.Name == "" {
		problems = append(problems, "name is empty")
	}
	if p.Model == "" {
		problems = append(problems, "model is empty")
	}
	if !strings.HasPrefix(p.ModelDir, "/") {
		problems = append(problems, "model dir must be absolute")
	}
	if p.GPU == "" || p.GPUCount < 1 {
		problems = append(problems, "at least one GPU is required")
	}
	if p.MaxModelLen <= 0 {
		problems = append(problems, "max model length must be positive")
	}
	if p.GPUMemoryUtilization <= 0 || p.GPUMemoryUtilization > 1 {
		problems = append(problems, "gpu memory utilization must be in (0, 1]")
	}
	if p.MaxConcurrentInputs < 1 {
		problems = append(problems, "max concurrent inputs must be positive")
	}
	if p.MaxContainers < 0 || p.ImagesPerPrompt < 0 {
		problems = append(problems, "limits must not be negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w %q: %s", ErrInvalidProfile, p.Name, strings.Join(problems, "; "))
	}
	return nil
}
