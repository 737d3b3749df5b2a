// Package config reads the VLM endpoint settings from the environment.
//
// Settings are resolved once at startup. Values already present in the process
// environment take precedence over .env files in the working directory and in
// the per-user config directory.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kirsle/configdir"
)

// Defaults applied when the corresponding environment variable is unset.
const (
	DefaultModel     = "Qwen/Qwen3-VL-32B-Thinking-FP8"
	DefaultTimeout   = 300 * time.Second
	DefaultMaxTokens = 2048

	// MaxRetriesLimit caps VLM_MAX_RETRIES.
	MaxRetriesLimit = 3

	// AppName names the per-user config directory.
	AppName = "vlm-tools-mcp"

	// ModalApp is the Modal app that hosts both inference endpoints.
	ModalApp = "coding-agent-server"
)

// Environment variable names.
const (
	EnvEndpoint         = "VLM_ENDPOINT"
	EnvEndpointURL      = "VLM_ENDPOINT_URL"
	EnvWorkspace        = "MODAL_WORKSPACE"
	EnvModel            = "VLM_MODEL"
	EnvTimeout          = "VLM_TIMEOUT"
	EnvMaxTokens        = "VLM_MAX_TOKENS"
	EnvMaxRetries       = "VLM_MAX_RETRIES"
	EnvMaxImageEdge     = "VLM_MAX_IMAGE_EDGE"
	EnvProxyTokenID     = "MODAL_PROXY_TOKEN_ID"
	EnvProxyTokenSecret = "MODAL_PROXY_TOKEN_SECRET"
	EnvLogLevel         = "VLM_MCP_LOG_LEVEL"
)

// ErrConfiguration marks a missing or invalid required setting.
var ErrConfiguration = errors.New("configuration error")

// Endpoint is the process-wide connection settings for the vision-language
// model endpoint. It is built once by Load and never mutated afterwards.
type Endpoint struct {
	// BaseURL is the endpoint root without a trailing slash or /v1 suffix.
	BaseURL string

	// Model is sent as the "model" field of every chat request.
	Model string

	// Timeout bounds a single outbound call, including reading the body.
	Timeout time.Duration

	// MaxTokens is the default completion budget per call.
	MaxTokens int

	// MaxRetries is zero unless retries were explicitly requested.
	MaxRetries int

	// MaxImageEdge downscales images whose longer side exceeds it. Zero disables resizing.
	MaxImageEdge int

	// ProxyTokenID and ProxyTokenSecret authenticate against Modal's proxy auth.
	ProxyTokenID     string
	ProxyTokenSecret string
}

// ChatCompletionsURL returns the chat-completions route for the endpoint.
func (e *Endpoint) ChatCompletionsURL() string {
	return e.BaseURL + "/v1/chat/completions"
}

// HasProxyAuth reports whether the credential pair is configured.
func (e *Endpoint) HasProxyAuth() bool {
	return e.ProxyTokenID != "" && e.ProxyTokenSecret != ""
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// Load merges any .env files into the environment and reads the endpoint
// configuration from it.
func Load() (*Endpoint, error) {
	LoadDotEnv()
	return FromLookup(os.LookupEnv)
}

// DotEnvPaths lists the .env files consulted by LoadDotEnv, in priority order.
func DotEnvPaths() []string {
	return []string{
		".env",
		filepath.Join(configdir.LocalConfig(AppName), ".env"),
	}
}

// LoadDotEnv loads each existing file from DotEnvPaths. Variables already set
// in the environment win. It returns the files that were loaded.
func LoadDotEnv() []string {
	var loaded []string
	for _, p := range DotEnvPaths() {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			continue
		}
		loaded = append(loaded, p)
	}
	return loaded
}

// FromLookup builds an Endpoint from the given variable source.
func FromLookup(lookup LookupFunc) (*Endpoint, error) {
	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}

	raw := get(EnvEndpoint)
	if raw == "" {
		raw = get(EnvEndpointURL)
	}
	if raw == "" {
		if ws := get(EnvWorkspace); ws != "" {
			raw = ModalEndpointURL(ws, "serve-vlm")
		}
	}
	if raw == "" {
		return nil, fmt.Errorf("%w: %s is not set", ErrConfiguration, EnvEndpoint)
	}

	base, err := NormalizeBaseURL(raw)
	if err != nil {
		return nil, err
	}

	ep := &Endpoint{
		BaseURL:          base,
		Model:            DefaultModel,
		Timeout:          DefaultTimeout,
		MaxTokens:        DefaultMaxTokens,
		ProxyTokenID:     get(EnvProxyTokenID),
		ProxyTokenSecret: get(EnvProxyTokenSecret),
	}

	if m := get(EnvModel); m != "" {
		ep.Model = m
	}

	if v := get(EnvTimeout); v != "" {
		secs, err := strconv.ParseFloat(v, 64)
		if err != nil || secs <= 0 {
			return nil, fmt.Errorf("%w: %s must be a positive number of seconds, got %q", ErrConfiguration, EnvTimeout, v)
		}
		ep.Timeout = time.Duration(secs * float64(time.Second))
	}

	if ep.MaxTokens, err = positiveInt(get, EnvMaxTokens, DefaultMaxTokens, false); err != nil {
		return nil, err
	}
	if ep.MaxRetries, err = positiveInt(get, EnvMaxRetries, 0, true); err != nil {
		return nil, err
	}
	if ep.MaxRetries > MaxRetriesLimit {
		return nil, fmt.Errorf("%w: %s must be at most %d, got %d", ErrConfiguration, EnvMaxRetries, MaxRetriesLimit, ep.MaxRetries)
	}
	if ep.MaxImageEdge, err = positiveInt(get, EnvMaxImageEdge, 0, true); err != nil {
		return nil, err
	}

	if (ep.ProxyTokenID == "") != (ep.ProxyTokenSecret == "") {
		return nil, fmt.Errorf("%w: %s and %s must be set together", ErrConfiguration, EnvProxyTokenID, EnvProxyTokenSecret)
	}

	return ep, nil
}

func positiveInt(get func(string) string, key string, def int, allowZero bool) (int, error) {
	v := get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 || (n == 0 && !allowZero) {
		return 0, fmt.Errorf("%w: %s must be a positive integer, got %q", ErrConfiguration, key, v)
	}
	return n, nil
}

// NormalizeBaseURL validates an endpoint URL and strips any trailing slash and
// "/v1" suffix, so that "https://host/v1" and "https://host" are equivalent.
func NormalizeBaseURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: invalid endpoint URL %q: %v", ErrConfiguration, raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: endpoint URL %q must use http or https", ErrConfiguration, raw)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: endpoint URL %q has no host", ErrConfiguration, raw)
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.Path = strings.TrimRight(u.Path, "/")
	u.Path = strings.TrimSuffix(u.Path, "/v1")
	u.RawPath = ""
	return strings.TrimRight(u.String(), "/"), nil
}

// ModalEndpointURL returns the web URL Modal assigns to a function of the
// coding-agent-server app in the given workspace.
func ModalEndpointURL(workspace, function string) string {
	return fmt.Sprintf("https://%s--%s-%s.modal.run", workspace, ModalApp, function)
}

// DebugEnabled reports whether VLM_MCP_LOG_LEVEL requests debug output.
func DebugEnabled() bool {
	return strings.EqualFold(os.Getenv(EnvLogLevel), "debug")
}
