// Package health probes the vLLM endpoints for readiness.
//
// A probe hits GET /health and GET /v1/models and, when smoke testing is
// enabled, sends one short chat completion. Scale-to-zero endpoints can take
// several minutes to answer the first request, so the default deadline is
// generous.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ironsheep/vlm-tools-mcp/internal/config"
	"github.com/ironsheep/vlm-tools-mcp/internal/vlm"
)

// DefaultTimeout covers a cold start of the largest profile.
const DefaultTimeout = 600 * time.Second

// ErrUnhealthy is wrapped by every failed probe.
var ErrUnhealthy = errors.New("endpoint unhealthy")

// Target is one endpoint to probe.
type Target struct {
	Name    string
	BaseURL string
	// Model must appear in /v1/models when set.
	Model string
}

// Result is the outcome of probing one Target.
type Result struct {
	Target  Target
	Models  []string
	Reply   string
	Elapsed time.Duration
	Err     error
}

// OK reports whether every step passed.
func (r Result) OK() bool { return r.Err == nil }

// Checker probes endpoints. The zero value is not usable; call NewChecker.
type Checker struct {
	httpc       *http.Client
	timeout     time.Duration
	proxyID     string
	proxySecret string
	smoke       bool
	logger      *log.Logger
}

// Option customizes a Checker.
type Option func(*Checker)

// WithTimeout bounds each Check.
func WithTimeout(d time.Duration) Option {
	return func(c *Checker) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithProxyAuth sends Modal proxy-auth headers.
func WithProxyAuth(id, secret string) Option {
	return func(c *Checker) { c.proxyID, c.proxySecret = id, secret }
}

// WithSmokeTest adds a one-line chat completion to each probe.
func WithSmokeTest() Option {
	return func(c *Checker) { c.smoke = true }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Checker) { c.httpc = h }
}

// WithLogger reports progress.
func WithLogger(l *log.Logger) Option {
	return func(c *Checker) { c.logger = l }
}

// NewChecker builds a Checker.
func NewChecker(opts ...Option) *Checker {
	c := &Checker{timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpc == nil {
		c.httpc = &http.Client{}
	}
	return c
}

// CheckAll probes every target concurrently. Results are in input order.
func (c *Checker) CheckAll(ctx context.Context, targets []Target) []Result {
	results := make([]Result, len(targets))

	var g errgroup.Group
	for i, t := range targets {
		g.Go(func() error {
			results[i] = c.Check(ctx, t)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Check probes t, waiting up to the checker's timeout for a cold endpoint.
// Any failure wraps ErrUnhealthy.
func (c *Checker) Check(ctx context.Context, t Target) Result {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	res := Result{Target: t}
	res.Err = c.probe(ctx, t, &res)
	res.Elapsed = time.Since(start)

	if res.Err != nil {
		if ctx.Err() != nil {
			res.Err = fmt.Errorf("%w: %s: no answer within %s: %v", ErrUnhealthy, t.Name, c.timeout, res.Err)
		} else if !errors.Is(res.Err, ErrUnhealthy) {
			res.Err = fmt.Errorf("%w: %s: %v", ErrUnhealthy, t.Name, res.Err)
		}
	}
	return res
}

func (c *Checker) probe(ctx context.Context, t Target, res *Result) error {
	base, err := config.NormalizeBaseURL(t.BaseURL)
	if err != nil {
		return err
	}

	c.logf("%s: GET %s/health", t.Name, base)
	if _, err := c.get(ctx, base+"/health"); err != nil {
		return err
	}

	body, err := c.get(ctx, base+"/v1/models")
	if err != nil {
		return err
	}
	var models struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &models); err != nil {
		return fmt.Errorf("malformed /v1/models response: %w", err)
	}
	for _, m := range models.Data {
		res.Models = append(res.Models, m.ID)
	}
	if t.Model != "" && !slices.Contains(res.Models, t.Model) {
		return fmt.Errorf("%w: %s does not serve %s (serves %s)", ErrUnhealthy, t.Name, t.Model, strings.Join(res.Models, ", "))
	}

	if c.smoke {
		reply, err := c.smokeTest(ctx, base, t)
		if err != nil {
			return fmt.Errorf("smoke test: %w", err)
		}
		res.Reply = reply
	}
	return nil
}

// smokeTest sends a short text-only completion through the same client the
// MCP tools use.
func (c *Checker) smokeTest(ctx context.Context, base string, t Target) (string, error) {
	model := t.Model
	if model == "" {
		model = config.DefaultModel
	}
	ep := &config.Endpoint{
		BaseURL:          base,
		Model:            model,
		Timeout:          c.timeout,
		MaxTokens:        32,
		ProxyTokenID:     c.proxyID,
		ProxyTokenSecret: c.proxySecret,
	}
	client := vlm.NewClient(ep, c.httpc, c.logger)

	c.logf("%s: POST %s", t.Name, ep.ChatCompletionsURL())
	resp, err := client.Complete(ctx, &vlm.ChatRequest{
		Model: model,
		Messages: []vlm.Message{{
			Role:    "user",
			Content: []vlm.ContentPart{vlm.TextPart("Reply with the single word OK.")},
		}},
		MaxTokens: ep.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (c *Checker) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if c.proxyID != "" {
		req.Header.Set("Modal-Key", c.proxyID)
		req.Header.Set("Modal-Secret", c.proxySecret)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: GET %s returned %d: %s", ErrUnhealthy, url, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func (c *Checker) logf(format string, args ...interface{}) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}
