package vlm

import (
	"errors"
	"fmt"
	"time"

	"github.com/ironsheep/vlm-tools-mcp/internal/capture"
	"github.com/ironsheep/vlm-tools-mcp/internal/config"
	"github.com/ironsheep/vlm-tools-mcp/internal/imaging"
)

// Sentinel errors for the failure taxonomy. Errors returned by this package
// match exactly one of these under errors.Is, except that a missing image in
// Compare matches both ErrInvalidArgument and ErrNotFound.
var (
	ErrConfiguration      = config.ErrConfiguration
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrNotFound           = imaging.ErrNotFound
	ErrUnsupportedFormat  = imaging.ErrUnsupportedFormat
	ErrCaptureUnavailable = capture.ErrUnavailable
	ErrTimeout            = errors.New("request timed out")
	ErrUpstream           = errors.New("upstream error")

	// ErrTransport marks a call that never got an HTTP response, such as a
	// refused connection or a DNS failure.
	ErrTransport = errors.New("transport error")
)

// TimeoutError reports an outbound call that exceeded the configured timeout.
type TimeoutError struct {
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request timed out after %s", e.Timeout)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

func (e *TimeoutError) Unwrap() error { return e.Err }

// maxErrorBody bounds how much of an upstream body appears in Error().
const maxErrorBody = 512

// UpstreamError reports a completed call where the endpoint signalled failure:
// a non-2xx status, or a 2xx body that carried no usable completion.
type UpstreamError struct {
	// Status is the HTTP status code returned by the endpoint.
	Status int

	// Body is the response body, trimmed of surrounding whitespace.
	Body string

	// Reason is set when the status was successful but the body was not.
	Reason string
}

func (e *UpstreamError) Error() string {
	body := e.Body
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody] + "..."
	}
	if e.Reason != "" {
		return fmt.Sprintf("upstream returned %d (%s): %s", e.Status, e.Reason, body)
	}
	return fmt.Sprintf("upstream returned %d: %s", e.Status, body)
}

func (e *UpstreamError) Is(target error) bool { return target == ErrUpstream }

// Kind names an error category as reported to tool callers.
type Kind string

const (
	KindConfiguration      Kind = "ConfigurationError"
	KindInvalidArgument    Kind = "InvalidArgumentError"
	KindNotFound           Kind = "NotFoundError"
	KindUnsupportedFormat  Kind = "UnsupportedFormatError"
	KindCaptureUnavailable Kind = "CaptureUnavailableError"
	KindTimeout            Kind = "TimeoutError"
	KindUpstream           Kind = "UpstreamError"
	KindTransport          Kind = "TransportError"
	KindInternal           Kind = "InternalError"
)

// KindOf classifies err. InvalidArgument is checked before NotFound so that a
// missing image in Compare reports as an argument error.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrUpstream):
		return KindUpstream
	case errors.Is(err, ErrTransport):
		return KindTransport
	case errors.Is(err, ErrInvalidArgument):
		return KindInvalidArgument
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrUnsupportedFormat):
		return KindUnsupportedFormat
	case errors.Is(err, ErrCaptureUnavailable):
		return KindCaptureUnavailable
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	default:
		return KindInternal
	}
}
