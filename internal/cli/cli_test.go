package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironsheep/vlm-tools-mcp/internal/deploy"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	// keep a developer's .env or shell from leaking into the command
	t.Chdir(t.TempDir())
	t.Setenv("MODAL_WORKSPACE", "")
	t.Setenv("MODAL_PROXY_TOKEN_ID", "")
	t.Setenv("MODAL_PROXY_TOKEN_SECRET", "")

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSetup(t *testing.T) {
	home := t.TempDir()
	out, err := run(t, "setup", "--workspace", "acme", "--home", home, "--vlm-mcp-binary", "/opt/bin/vlm-mcp")
	require.NoError(t, err)
	assert.Contains(t, out, "vlm-analyzer")

	env, err := godotenv.Read(filepath.Join(home, ".qwen", ".env"))
	require.NoError(t, err)
	assert.Equal(t, "https://acme--coding-agent-server-serve-coder.modal.run/v1", env["OPENAI_BASE_URL"])
	assert.Equal(t, deploy.Coder.Model, env["OPENAI_MODEL"])
	assert.Equal(t, "modal", env["OPENAI_API_KEY"])

	data, err := os.ReadFile(filepath.Join(home, ".qwen", "settings.json"))
	require.NoError(t, err)
	var doc struct {
		SelectedAuthType string `json:"selectedAuthType"`
		Model            string `json:"model"`
		MCPServers       map[string]struct {
			Command string            `json:"command"`
			Env     map[string]string `json:"env"`
			Timeout int               `json:"timeout"`
		} `json:"mcpServers"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "openai", doc.SelectedAuthType)
	assert.Equal(t, deploy.Coder.Model, doc.Model)

	srv := doc.MCPServers["vlm-analyzer"]
	assert.Equal(t, "/opt/bin/vlm-mcp", srv.Command)
	assert.Equal(t, "https://acme--coding-agent-server-serve-vlm.modal.run", srv.Env["VLM_ENDPOINT"])
	assert.Equal(t, deploy.VLM.Model, srv.Env["VLM_MODEL"])
	assert.Equal(t, 600000, srv.Timeout)
}

func TestSetup_KeepsExistingAPIKey(t *testing.T) {
	home := t.TempDir()
	envPath := filepath.Join(home, ".qwen", ".env")
	require.NoError(t, os.MkdirAll(filepath.Dir(envPath), 0o700))
	require.NoError(t, os.WriteFile(envPath, []byte("OPENAI_API_KEY=sk-real\n"), 0o600))

	_, err := run(t, "setup", "--workspace", "acme", "--home", home, "--vlm-mcp-binary", "/opt/bin/vlm-mcp")
	require.NoError(t, err)

	env, err := godotenv.Read(envPath)
	require.NoError(t, err)
	assert.Equal(t, "sk-real", env["OPENAI_API_KEY"])
}

func TestSetup_RequiresWorkspace(t *testing.T) {
	_, err := run(t, "setup", "--home", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workspace")
}

func TestDescriptor(t *testing.T) {
	out, err := run(t, "descriptor", "vlm", "--workspace", "acme")
	require.NoError(t, err)

	assert.Contains(t, out, "vllm serve /vlm-model")
	assert.Contains(t, out, "--limit-mm-per-prompt image=5")
	assert.Contains(t, out, "32,768 tokens")
	assert.Contains(t, out, "https://acme--coding-agent-server-serve-vlm.modal.run")
	assert.NotContains(t, out, "coder")
}

func TestDescriptor_All(t *testing.T) {
	out, err := run(t, "descriptor")
	require.NoError(t, err)
	assert.Contains(t, out, "serve-coder")
	assert.Contains(t, out, "serve-vlm")
	assert.Contains(t, out, "H200:1")
}

func TestDescriptor_UnknownProfile(t *testing.T) {
	_, err := run(t, "descriptor", "embedder")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "coder, vlm")
}

func TestDeploy_UnknownProfile(t *testing.T) {
	_, err := run(t, "deploy", "embedder")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown profile")
}

func fakeEndpoint(t *testing.T, model string, status int) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		fmt.Fprintf(w, `{"data":[{"id":%q}]}`, model)
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestHealth(t *testing.T) {
	coder := fakeEndpoint(t, deploy.Coder.Model, http.StatusOK)
	vlm := fakeEndpoint(t, deploy.VLM.Model, http.StatusOK)

	out, err := run(t, "health", "--coder-url", coder, "--vlm-url", vlm, "--timeout", "5s")
	require.NoError(t, err)
	assert.Contains(t, out, "OK   coder")
	assert.Contains(t, out, "OK   vlm")
}

func TestHealth_Unhealthy(t *testing.T) {
	coder := fakeEndpoint(t, deploy.Coder.Model, http.StatusOK)
	vlm := fakeEndpoint(t, "", http.StatusServiceUnavailable)

	out, err := run(t, "health", "--coder-url", coder, "--vlm-url", vlm, "--timeout", "5s")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2")
	assert.Contains(t, out, "FAIL vlm")
}

func TestHealth_NoEndpoints(t *testing.T) {
	_, err := run(t, "health")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no endpoints")
}
