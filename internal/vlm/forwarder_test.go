package vlm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironsheep/vlm-tools-mcp/internal/capture"
	"github.com/ironsheep/vlm-tools-mcp/internal/config"
	"github.com/ironsheep/vlm-tools-mcp/internal/imaging"
)

// mockEndpoint is an OpenAI-compatible server that records what it receives.
type mockEndpoint struct {
	srv   *httptest.Server
	calls atomic.Int32

	mu      sync.Mutex
	last    ChatRequest
	headers http.Header
	path    string
}

func newMockEndpoint(t *testing.T, handler http.HandlerFunc) *mockEndpoint {
	t.Helper()
	m := &mockEndpoint{}
	m.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.calls.Add(1)
		var req ChatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		m.mu.Lock()
		m.last = req
		m.headers = r.Header.Clone()
		m.path = r.URL.Path
		m.mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(m.srv.Close)
	return m
}

func (m *mockEndpoint) lastRequest() ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

func replyText(text string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"id":"chatcmpl-1","object":"chat.completion","model":"m","choices":[{"index":0,"message":{"role":"assistant","content":%q},"finish_reason":"stop"}]}`, text)
	}
}

func testEndpoint(url string) *config.Endpoint {
	return &config.Endpoint{
		BaseURL:   url,
		Model:     "test/vlm",
		Timeout:   5 * time.Second,
		MaxTokens: 256,
	}
}

func newTestForwarder(ep *config.Endpoint, opts ...Option) *Forwarder {
	opts = append([]Option{WithCapturer(capture.Unavailable{})}, opts...)
	return NewForwarder(ep, opts...)
}

// writePNG writes a solid-color PNG into dir and returns its path.
func writePNG(t *testing.T, dir, name string, c color.Color) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, c)
		}
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
	return path
}

func writePNGs(t *testing.T, n int) []string {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, n)
	for i := range paths {
		paths[i] = writePNG(t, dir, fmt.Sprintf("img%d.png", i), color.RGBA{uint8(40 * i), 0, 0, 255})
	}
	return paths
}

func TestAnalyze_ReturnsCompletionText(t *testing.T) {
	m := newMockEndpoint(t, replyText("  A blue triangle.  "))
	f := newTestForwarder(testEndpoint(m.srv.URL))
	path := writePNG(t, t.TempDir(), "tri.png", color.RGBA{0, 0, 255, 255})

	got, err := f.Analyze(context.Background(), AnalyzeRequest{ImagePaths: []string{path}, Prompt: "What shape?"})
	require.NoError(t, err)
	assert.Equal(t, "A blue triangle.", got)
	assert.EqualValues(t, 1, m.calls.Load())

	req := m.lastRequest()
	assert.Equal(t, "/v1/chat/completions", m.path)
	assert.Equal(t, "test/vlm", req.Model)
	assert.Equal(t, 256, req.MaxTokens)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "user", req.Messages[0].Role)

	parts := req.Messages[0].Content
	require.Len(t, parts, 2)
	assert.Equal(t, PartImageURL, parts[0].Type)
	require.NotNil(t, parts[0].ImageURL)
	assert.Contains(t, parts[0].ImageURL.URL, "data:image/png;base64,")
	assert.Equal(t, PartText, parts[1].Type)
	assert.Equal(t, "What shape?", parts[1].Text)
}

func TestAnalyze_MaxTokensOverride(t *testing.T) {
	m := newMockEndpoint(t, replyText("ok"))
	f := newTestForwarder(testEndpoint(m.srv.URL))

	_, err := f.Analyze(context.Background(), AnalyzeRequest{ImagePaths: writePNGs(t, 1), Prompt: "p", MaxTokens: 32})
	require.NoError(t, err)
	assert.Equal(t, 32, m.lastRequest().MaxTokens)
}

func TestAnalyze_MissingFileMakesNoCall(t *testing.T) {
	m := newMockEndpoint(t, replyText("unused"))
	f := newTestForwarder(testEndpoint(m.srv.URL))

	_, err := f.Analyze(context.Background(), AnalyzeRequest{
		ImagePaths: []string{filepath.Join(t.TempDir(), "nope.png")},
		Prompt:     "describe",
	})
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.Zero(t, m.calls.Load())
}

func TestAnalyze_UnsupportedFormat(t *testing.T) {
	m := newMockEndpoint(t, replyText("unused"))
	f := newTestForwarder(testEndpoint(m.srv.URL))
	path := filepath.Join(t.TempDir(), "fake.jpg")
	require.NoError(t, os.WriteFile(path, []byte("plain text"), 0o644))

	_, err := f.Analyze(context.Background(), AnalyzeRequest{ImagePaths: []string{path}, Prompt: "describe"})
	require.ErrorIs(t, err, ErrUnsupportedFormat)
	assert.Equal(t, KindUnsupportedFormat, KindOf(err))
	assert.Zero(t, m.calls.Load())
}

func TestAnalyze_TruncatedPNGMakesNoCall(t *testing.T) {
	m := newMockEndpoint(t, replyText("looks fine"))
	f := newTestForwarder(testEndpoint(m.srv.URL))

	path := writePNG(t, t.TempDir(), "cut.png", color.RGBA{0, 200, 0, 255})
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Greater(t, len(raw), 40)
	require.NoError(t, os.WriteFile(path, raw[:40], 0o644))

	_, err = f.Analyze(context.Background(), AnalyzeRequest{ImagePaths: []string{path}, Prompt: "describe"})
	require.ErrorIs(t, err, ErrUnsupportedFormat)
	assert.Equal(t, KindUnsupportedFormat, KindOf(err))
	assert.Zero(t, m.calls.Load())
}

func TestAnalyze_InvalidArguments(t *testing.T) {
	m := newMockEndpoint(t, replyText("unused"))
	f := newTestForwarder(testEndpoint(m.srv.URL))

	tests := []struct {
		name string
		req  AnalyzeRequest
	}{
		{"no images", AnalyzeRequest{Prompt: "p"}},
		{"six images", AnalyzeRequest{ImagePaths: writePNGs(t, 6), Prompt: "p"}},
		{"blank prompt", AnalyzeRequest{ImagePaths: writePNGs(t, 1), Prompt: "   "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.Analyze(context.Background(), tt.req)
			assert.ErrorIs(t, err, ErrInvalidArgument)
		})
	}
	assert.Zero(t, m.calls.Load())
}

func TestCompare_CountBounds(t *testing.T) {
	m := newMockEndpoint(t, replyText("unused"))
	f := newTestForwarder(testEndpoint(m.srv.URL))

	for _, n := range []int{0, 1, 6} {
		_, err := f.Compare(context.Background(), CompareRequest{ImagePaths: writePNGs(t, n), Prompt: "compare"})
		assert.ErrorIs(t, err, ErrInvalidArgument, "n=%d", n)
		assert.Equal(t, KindInvalidArgument, KindOf(err))
	}
	assert.Zero(t, m.calls.Load())
}

func TestCompare_PreservesOrder(t *testing.T) {
	for _, n := range []int{2, 5} {
		t.Run(fmt.Sprintf("%d images", n), func(t *testing.T) {
			m := newMockEndpoint(t, replyText("the first is darker"))
			f := newTestForwarder(testEndpoint(m.srv.URL))
			paths := writePNGs(t, n)

			got, err := f.Compare(context.Background(), CompareRequest{ImagePaths: paths, Prompt: "first vs second?"})
			require.NoError(t, err)
			assert.Equal(t, "the first is darker", got)
			assert.EqualValues(t, 1, m.calls.Load())

			parts := m.lastRequest().Messages[0].Content
			require.Len(t, parts, n+1)
			for i, p := range paths {
				want, err := imaging.LoadFile(p, imaging.Options{})
				require.NoError(t, err)
				assert.Equal(t, want.DataURI(), parts[i].ImageURL.URL, "image %d out of order", i)
			}
			assert.Equal(t, "first vs second?", parts[n].Text)
		})
	}
}

func TestCompare_MissingPathIsInvalidArgument(t *testing.T) {
	m := newMockEndpoint(t, replyText("unused"))
	f := newTestForwarder(testEndpoint(m.srv.URL))
	paths := append(writePNGs(t, 1), filepath.Join(t.TempDir(), "gone.png"))

	_, err := f.Compare(context.Background(), CompareRequest{ImagePaths: paths, Prompt: "compare"})
	require.ErrorIs(t, err, ErrInvalidArgument)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, KindInvalidArgument, KindOf(err))
	assert.Contains(t, err.Error(), "image 2")
	assert.Zero(t, m.calls.Load())
}

func TestAnalyzeScreenshot(t *testing.T) {
	t.Run("unavailable", func(t *testing.T) {
		m := newMockEndpoint(t, replyText("unused"))
		f := newTestForwarder(testEndpoint(m.srv.URL), WithCapturer(capture.Unavailable{Reason: "headless"}))

		_, err := f.AnalyzeScreenshot(context.Background(), ScreenshotRequest{Prompt: "what is on screen?"})
		require.ErrorIs(t, err, ErrCaptureUnavailable)
		assert.Equal(t, KindCaptureUnavailable, KindOf(err))
		assert.Zero(t, m.calls.Load())
	})

	t.Run("backend failure is reported as unavailable", func(t *testing.T) {
		m := newMockEndpoint(t, replyText("unused"))
		failing := capture.CapturerFunc(func(context.Context) (image.Image, error) {
			return nil, errors.New("xgb: connection refused")
		})
		f := newTestForwarder(testEndpoint(m.srv.URL), WithCapturer(failing))

		_, err := f.AnalyzeScreenshot(context.Background(), ScreenshotRequest{Prompt: "p"})
		require.ErrorIs(t, err, ErrCaptureUnavailable)
		assert.Contains(t, err.Error(), "connection refused")
	})

	t.Run("captured", func(t *testing.T) {
		m := newMockEndpoint(t, replyText("a terminal window"))
		screen := capture.CapturerFunc(func(context.Context) (image.Image, error) {
			return image.NewRGBA(image.Rect(0, 0, 32, 20)), nil
		})
		f := newTestForwarder(testEndpoint(m.srv.URL), WithCapturer(screen))

		got, err := f.AnalyzeScreenshot(context.Background(), ScreenshotRequest{Prompt: "what is on screen?"})
		require.NoError(t, err)
		assert.Equal(t, "a terminal window", got)

		parts := m.lastRequest().Messages[0].Content
		require.Len(t, parts, 2)
		assert.Contains(t, parts[0].ImageURL.URL, "data:image/png;base64,")
	})
}

func TestForwarder_Timeout(t *testing.T) {
	release := make(chan struct{})
	m := newMockEndpoint(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	})
	t.Cleanup(func() { close(release) })

	ep := testEndpoint(m.srv.URL)
	ep.Timeout = 300 * time.Millisecond
	f := newTestForwarder(ep)

	start := time.Now()
	_, err := f.Analyze(context.Background(), AnalyzeRequest{ImagePaths: writePNGs(t, 1), Prompt: "p"})
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrTimeout)
	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 300*time.Millisecond, te.Timeout)
	assert.GreaterOrEqual(t, elapsed, 300*time.Millisecond)
	assert.Less(t, elapsed, 3*time.Second)
	assert.Equal(t, KindTimeout, KindOf(err))
}

func TestForwarder_UpstreamFailure(t *testing.T) {
	m := newMockEndpoint(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"CUDA out of memory"}`, http.StatusInternalServerError)
	})
	f := newTestForwarder(testEndpoint(m.srv.URL))

	got, err := f.Analyze(context.Background(), AnalyzeRequest{ImagePaths: writePNGs(t, 1), Prompt: "p"})
	require.ErrorIs(t, err, ErrUpstream)
	assert.Empty(t, got)

	var up *UpstreamError
	require.ErrorAs(t, err, &up)
	assert.Equal(t, http.StatusInternalServerError, up.Status)
	assert.Equal(t, `{"error":"CUDA out of memory"}`, up.Body)
	assert.EqualValues(t, 1, m.calls.Load(), "failures are not retried by default")
}

func TestForwarder_EmptyCompletion(t *testing.T) {
	m := newMockEndpoint(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[{"index":0,"message":{"role":"assistant","content":""},"finish_reason":"length"}]}`)
	})
	f := newTestForwarder(testEndpoint(m.srv.URL))

	_, err := f.Analyze(context.Background(), AnalyzeRequest{ImagePaths: writePNGs(t, 1), Prompt: "p"})
	var up *UpstreamError
	require.ErrorAs(t, err, &up)
	assert.Equal(t, "empty completion", up.Reason)
	assert.Contains(t, up.Body, "length")
}

func TestForwarder_ConcurrentCalls(t *testing.T) {
	m := newMockEndpoint(t, replyText("ok"))
	f := newTestForwarder(testEndpoint(m.srv.URL))
	paths := writePNGs(t, 2)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.Compare(context.Background(), CompareRequest{ImagePaths: paths, Prompt: "p"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.EqualValues(t, 8, m.calls.Load())
}
