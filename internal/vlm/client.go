package vlm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ironsheep/vlm-tools-mcp/internal/config"
)

// maxResponseBody caps how much of a response is read into memory.
const maxResponseBody = 8 << 20

// retryBackoff is multiplied by the attempt number between retries.
var retryBackoff = time.Second

// Client sends chat-completion requests to one OpenAI-compatible endpoint.
// It is safe for concurrent use.
type Client struct {
	endpoint *config.Endpoint
	httpc    *http.Client
	logger   *log.Logger
}

// NewClient returns a Client for ep. When httpc is nil a client with
// ep.Timeout is created. logger may be nil to disable debug output.
func NewClient(ep *config.Endpoint, httpc *http.Client, logger *log.Logger) *Client {
	if httpc == nil {
		httpc = &http.Client{Timeout: ep.Timeout}
	}
	return &Client{endpoint: ep, httpc: httpc, logger: logger}
}

// Endpoint returns the configuration the client was built with.
func (c *Client) Endpoint() *config.Endpoint {
	return c.endpoint
}

// Complete sends req and returns the decoded response.
//
// With the default configuration exactly one HTTP request is made. When
// MaxRetries is set, connection failures and 502/503/504 responses are
// retried up to that many times; timeouts and other statuses never are.
func (c *Client) Complete(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	c.debugf("POST %s model=%s payload=%s", c.endpoint.ChatCompletionsURL(), req.Model, humanize.Bytes(uint64(len(body))))

	attempts := 1 + c.endpoint.MaxRetries
	for attempt := 1; ; attempt++ {
		start := time.Now()
		resp, err := c.post(ctx, body)
		if err == nil {
			c.debugf("completion received in %s", time.Since(start).Round(time.Millisecond))
			return resp, nil
		}
		if attempt >= attempts || !retryable(err) {
			return nil, err
		}

		wait := retryBackoff * time.Duration(attempt)
		c.debugf("attempt %d/%d failed (%v), retrying in %s", attempt, attempts, err, wait)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (c *Client) post(ctx context.Context, body []byte) (*ChatResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint.ChatCompletionsURL(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.endpoint.HasProxyAuth() {
		httpReq.Header.Set("Modal-Key", c.endpoint.ProxyTokenID)
		httpReq.Header.Set("Modal-Secret", c.endpoint.ProxyTokenSecret)
	}

	start := time.Now()
	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return nil, c.transportError(ctx, start, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, c.transportError(ctx, start, err)
	}
	text := strings.TrimSpace(string(raw))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UpstreamError{Status: resp.StatusCode, Body: text}
	}

	var out ChatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &UpstreamError{Status: resp.StatusCode, Body: text, Reason: "malformed response"}
	}
	if len(out.Choices) == 0 {
		return nil, &UpstreamError{Status: resp.StatusCode, Body: text, Reason: "no choices"}
	}
	return &out, nil
}

// transportError classifies a failed exchange. Timeouts become TimeoutError,
// reporting the caller's deadline when that is the one that expired; caller
// cancellation is returned as-is.
func (c *Client) transportError(ctx context.Context, start time.Time, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		timeout := c.endpoint.Timeout
		if dl, ok := ctx.Deadline(); ok {
			timeout = dl.Sub(start)
		}
		return &TimeoutError{Timeout: timeout, Err: err}
	}
	if isTimeout(err) {
		return &TimeoutError{Timeout: c.endpoint.Timeout, Err: err}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return &transportFailure{err: fmt.Errorf("request to %s failed: %w", c.endpoint.BaseURL, err)}
}

// transportFailure marks a connection-level error that may be retried.
type transportFailure struct{ err error }

func (e *transportFailure) Error() string { return e.err.Error() }
func (e *transportFailure) Unwrap() error { return e.err }
func (e *transportFailure) Is(target error) bool { return target == ErrTransport }

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func retryable(err error) bool {
	var tf *transportFailure
	if errors.As(err, &tf) {
		return true
	}
	var up *UpstreamError
	if errors.As(err, &up) && up.Reason == "" {
		switch up.Status {
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
	}
	return false
}

func (c *Client) debugf(format string, args ...interface{}) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}
