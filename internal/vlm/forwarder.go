package vlm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/ironsheep/vlm-tools-mcp/internal/capture"
	"github.com/ironsheep/vlm-tools-mcp/internal/config"
	"github.com/ironsheep/vlm-tools-mcp/internal/imaging"
)

// Image count limits. The VLM deployment accepts at most MaxImages images per
// prompt.
const (
	MaxImages        = 5
	MinCompareImages = 2
)

// AnalyzeRequest asks a question about one or more local images.
type AnalyzeRequest struct {
	ImagePaths []string
	Prompt     string
	MaxTokens  int
}

// ScreenshotRequest asks a question about the current screen.
type ScreenshotRequest struct {
	Prompt    string
	MaxTokens int
}

// CompareRequest asks a question across 2 to 5 images. Order matters: the
// images reach the model in the order given.
type CompareRequest struct {
	ImagePaths []string
	Prompt     string
	MaxTokens  int
}

// Forwarder turns tool invocations into single chat-completion calls.
// It holds no per-call state and is safe for concurrent use.
type Forwarder struct {
	client    *Client
	capturer  capture.Capturer
	imageOpts imaging.Options
	maxTokens int
	model     string
}

// Option customizes a Forwarder.
type Option func(*forwarderOptions)

type forwarderOptions struct {
	httpc    *http.Client
	capturer capture.Capturer
	logger   *log.Logger
}

// WithHTTPClient overrides the HTTP client. Its Timeout should match the
// endpoint timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(o *forwarderOptions) { o.httpc = c }
}

// WithCapturer overrides the screen capturer.
func WithCapturer(c capture.Capturer) Option {
	return func(o *forwarderOptions) { o.capturer = c }
}

// WithLogger enables debug logging.
func WithLogger(l *log.Logger) Option {
	return func(o *forwarderOptions) { o.logger = l }
}

// NewForwarder builds a Forwarder for ep. The default capturer is the
// platform's primary display.
func NewForwarder(ep *config.Endpoint, opts ...Option) *Forwarder {
	o := forwarderOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.capturer == nil {
		o.capturer = capture.Default()
	}
	return &Forwarder{
		client:    NewClient(ep, o.httpc, o.logger),
		capturer:  o.capturer,
		imageOpts: imaging.Options{MaxEdge: ep.MaxImageEdge},
		maxTokens: ep.MaxTokens,
		model:     ep.Model,
	}
}

// Analyze answers req.Prompt about 1 to MaxImages local images.
//
// Errors: ErrInvalidArgument for an empty prompt or a bad image count,
// ErrNotFound for a missing file, ErrUnsupportedFormat for a non-image, and
// the network errors documented on Client.Complete. Validation and file
// errors are returned before any network call.
func (f *Forwarder) Analyze(ctx context.Context, req AnalyzeRequest) (string, error) {
	if err := checkPrompt(req.Prompt); err != nil {
		return "", err
	}
	if n := len(req.ImagePaths); n < 1 || n > MaxImages {
		return "", fmt.Errorf("%w: analyze takes 1 to %d images, got %d", ErrInvalidArgument, MaxImages, n)
	}

	images := make([]*imaging.EncodedImage, 0, len(req.ImagePaths))
	for _, p := range req.ImagePaths {
		img, err := imaging.LoadFile(p, f.imageOpts)
		if err != nil {
			return "", err
		}
		images = append(images, img)
	}
	return f.send(ctx, images, req.Prompt, req.MaxTokens)
}

// AnalyzeScreenshot captures the current display and answers req.Prompt
// about it. Any capture failure is reported as ErrCaptureUnavailable.
func (f *Forwarder) AnalyzeScreenshot(ctx context.Context, req ScreenshotRequest) (string, error) {
	if err := checkPrompt(req.Prompt); err != nil {
		return "", err
	}

	shot, err := f.capturer.Capture(ctx)
	if err != nil {
		if errors.Is(err, ErrCaptureUnavailable) || ctx.Err() != nil {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
	}

	img, err := imaging.FromImage(shot, f.imageOpts)
	if err != nil {
		return "", err
	}
	img.Source = "screen"
	return f.send(ctx, []*imaging.EncodedImage{img}, req.Prompt, req.MaxTokens)
}

// Compare answers req.Prompt across MinCompareImages to MaxImages images,
// preserving their order. A bad count or a missing path is an
// ErrInvalidArgument; an undecodable file is ErrUnsupportedFormat.
func (f *Forwarder) Compare(ctx context.Context, req CompareRequest) (string, error) {
	if err := checkPrompt(req.Prompt); err != nil {
		return "", err
	}
	if n := len(req.ImagePaths); n < MinCompareImages || n > MaxImages {
		return "", fmt.Errorf("%w: compare takes %d to %d images, got %d", ErrInvalidArgument, MinCompareImages, MaxImages, n)
	}

	images := make([]*imaging.EncodedImage, 0, len(req.ImagePaths))
	for i, p := range req.ImagePaths {
		img, err := imaging.LoadFile(p, f.imageOpts)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return "", fmt.Errorf("%w: image %d: %w", ErrInvalidArgument, i+1, err)
			}
			return "", err
		}
		images = append(images, img)
	}
	return f.send(ctx, images, req.Prompt, req.MaxTokens)
}

// BuildRequest assembles the single-turn chat request: every image in order,
// followed by the prompt text.
func (f *Forwarder) BuildRequest(images []*imaging.EncodedImage, prompt string, maxTokens int) *ChatRequest {
	if maxTokens <= 0 {
		maxTokens = f.maxTokens
	}
	parts := make([]ContentPart, 0, len(images)+1)
	for _, img := range images {
		parts = append(parts, ImagePart(img.DataURI()))
	}
	parts = append(parts, TextPart(prompt))

	return &ChatRequest{
		Model:     f.model,
		Messages:  []Message{{Role: "user", Content: parts}},
		MaxTokens: maxTokens,
	}
}

func (f *Forwarder) send(ctx context.Context, images []*imaging.EncodedImage, prompt string, maxTokens int) (string, error) {
	resp, err := f.client.Complete(ctx, f.BuildRequest(images, prompt, maxTokens))
	if err != nil {
		return "", err
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", &UpstreamError{Status: http.StatusOK, Reason: "empty completion", Body: "finish_reason=" + resp.Choices[0].FinishReason}
	}
	return text, nil
}

func checkPrompt(prompt string) error {
	if strings.TrimSpace(prompt) == "" {
		return fmt.Errorf("%w: prompt must not be empty", ErrInvalidArgument)
	}
	return nil
}
