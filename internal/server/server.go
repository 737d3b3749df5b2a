package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"github.com/ironsheep/vlm-tools-mcp/internal/vlm"
)

// ProtocolVersion is the MCP revision this server speaks.
const ProtocolVersion = "2024-11-05"

// ServerName is reported in the initialize handshake.
const ServerName = "vlm-analyzer"

// Forwarder is the image-analysis backend behind the tools.
type Forwarder interface {
	Analyze(ctx context.Context, req vlm.AnalyzeRequest) (string, error)
	AnalyzeScreenshot(ctx context.Context, req vlm.ScreenshotRequest) (string, error)
	Compare(ctx context.Context, req vlm.CompareRequest) (string, error)
}

// Server handles MCP protocol communication
type Server struct {
	forwarder Forwarder
	version   string
	logger    *log.Logger

	mu       sync.Mutex
	inflight map[string]*call
}

// call is one in-flight tools/call and the cancel func for its context.
type call struct {
	cancel context.CancelFunc
}

// MCPRequest represents an incoming JSON-RPC request
type MCPRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// MCPResponse represents an outgoing JSON-RPC response
type MCPResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *MCPError   `json:"error,omitempty"`
}

// MCPError represents a JSON-RPC error
type MCPError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// New creates a new MCP server instance. version is reported to clients;
// logger may be nil to disable debug output.
func New(fwd Forwarder, version string, logger *log.Logger) *Server {
	return &Server{
		forwarder: fwd,
		version:   version,
		logger:    logger,
		inflight:  make(map[string]*call),
	}
}

// Run starts the MCP server, reading from stdin and writing to stdout
func (s *Server) Run() error {
	return s.Serve(context.Background(), os.Stdin, os.Stdout)
}

// Serve processes newline-delimited JSON-RPC messages from in until EOF.
//
// Tool calls run concurrently, each on its own goroutine; every other method
// is answered inline. Responses are written whole, one per line, in
// completion order. Serve returns after all in-flight calls have answered.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	// Increase buffer size for large requests
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	var writeMu sync.Mutex
	encoder := json.NewEncoder(out)
	write := func(resp *MCPResponse) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := encoder.Encode(resp); err != nil {
			log.Printf("Failed to encode response: %v", err)
		}
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req MCPRequest
		if err := json.Unmarshal(line, &req); err != nil {
			log.Printf("Failed to parse request: %v", err)
			write(s.errorResponse(nil, codeParseError, "Parse error", err.Error()))
			continue
		}

		if req.Method == "tools/call" {
			callCtx, c := s.track(ctx, req.ID)
			wg.Add(1)
			go func(req MCPRequest) {
				defer wg.Done()
				defer s.untrack(req.ID, c)
				write(s.handleToolsCall(callCtx, &req))
			}(req)
			continue
		}

		if resp := s.handleRequest(ctx, &req); resp != nil {
			write(resp)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanner error: %w", err)
	}

	return nil
}

// handleRequest routes requests to appropriate handlers
func (s *Server) handleRequest(ctx context.Context, req *MCPRequest) *MCPResponse {
	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "notifications/initialized":
		// Client acknowledgment, no response needed
		return nil
	case "notifications/cancelled":
		s.handleCancelled(req)
		return nil
	case "tools/list":
		return s.handleToolsList(req)
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	case "ping":
		return &MCPResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result:  map[string]interface{}{},
		}
	default:
		if req.ID == nil {
			// Unknown notification
			return nil
		}
		return &MCPResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error: &MCPError{
				Code:    codeMethodNotFound,
				Message: fmt.Sprintf("Method not found: %s", req.Method),
			},
		}
	}
}

// handleInitialize responds to the initialize request
func (s *Server) handleInitialize(req *MCPRequest) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"protocolVersion": ProtocolVersion,
			"capabilities": map[string]interface{}{
				"tools": map[string]interface{}{},
			},
			"serverInfo": map[string]interface{}{
				"name":    ServerName,
				"version": s.version,
			},
		},
	}
}

// handleCancelled aborts an in-flight tool call named by params.requestId.
func (s *Server) handleCancelled(req *MCPRequest) {
	var params struct {
		RequestID interface{} `json:"requestId"`
		Reason    string      `json:"reason,omitempty"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil || params.RequestID == nil {
		return
	}

	s.mu.Lock()
	c, ok := s.inflight[requestKey(params.RequestID)]
	s.mu.Unlock()
	if ok {
		s.debugf("Cancelling request %v: %s", params.RequestID, params.Reason)
		c.cancel()
	}
}

func (s *Server) track(ctx context.Context, id interface{}) (context.Context, *call) {
	callCtx, cancel := context.WithCancel(ctx)
	c := &call{cancel: cancel}
	s.mu.Lock()
	s.inflight[requestKey(id)] = c
	s.mu.Unlock()
	return callCtx, c
}

// untrack cancels c and forgets it, leaving alone a later call that reused id.
func (s *Server) untrack(id interface{}, c *call) {
	key := requestKey(id)
	s.mu.Lock()
	if s.inflight[key] == c {
		delete(s.inflight, key)
	}
	s.mu.Unlock()
	c.cancel()
}

// requestKey normalizes a JSON-RPC id; numbers decode as float64 on both sides.
func requestKey(id interface{}) string {
	return fmt.Sprintf("%v", id)
}

func (s *Server) debugf(format string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}
