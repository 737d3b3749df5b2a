package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ironsheep/vlm-tools-mcp/internal/vlm"
)

// JSON-RPC error codes used by this server.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeToolFailed     = -32000
)

// ToolCallParams represents the parameters for a tools/call MCP request.
type ToolCallParams struct {
	// Name is the tool to invoke (e.g., "analyze_image").
	Name string `json:"name"`

	// Arguments contains the tool-specific parameters as JSON.
	Arguments json.RawMessage `json:"arguments"`
}

// ToolErrorData is the data member of a failed tool call's JSON-RPC error.
type ToolErrorData struct {
	Kind           vlm.Kind `json:"kind"`
	Message        string   `json:"message"`
	Status         int      `json:"status,omitempty"`
	Body           string   `json:"body,omitempty"`
	TimeoutSeconds float64  `json:"timeout_seconds,omitempty"`
}

// handleToolsCall processes a tools/call request and executes the specified tool.
//
// The response wraps the model's answer in MCP's content format:
//
//	{
//	  "content": [{"type": "text", "text": "<model answer>"}]
//	}
//
// Malformed parameters return code -32602. Tool failures return code -32000
// with a ToolErrorData payload.
func (s *Server) handleToolsCall(ctx context.Context, req *MCPRequest) *MCPResponse {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.errorResponse(req.ID, codeInvalidParams, "Invalid params", err.Error())
	}

	s.debugf("tools/call %s (id=%v)", params.Name, req.ID)
	text, err := s.executeTool(ctx, params.Name, params.Arguments)
	if err != nil {
		if errors.Is(err, errBadParams) {
			return s.errorResponse(req.ID, codeInvalidParams, "Invalid params", err.Error())
		}
		s.debugf("tools/call %s failed: %v", params.Name, err)
		return s.errorResponse(req.ID, codeToolFailed, "Tool execution failed", toolErrorData(err))
	}

	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"content": []map[string]interface{}{
				{
					"type": "text",
					"text": text,
				},
			},
		},
	}
}

// errBadParams marks arguments that could not be decoded or named an unknown
// tool. Semantic problems such as an empty prompt are vlm.ErrInvalidArgument.
var errBadParams = errors.New("bad params")

// executeTool dispatches tool execution to the appropriate handler function.
func (s *Server) executeTool(ctx context.Context, name string, args json.RawMessage) (string, error) {
	switch name {
	case ToolAnalyzeImage:
		return s.handleAnalyzeImage(ctx, args)
	case ToolAnalyzeScreenshot:
		return s.handleAnalyzeScreenshot(ctx, args)
	case ToolCompareImages:
		return s.handleCompareImages(ctx, args)
	default:
		return "", fmt.Errorf("%w: unknown tool: %s", errBadParams, name)
	}
}

func (s *Server) errorResponse(id interface{}, code int, message string, data interface{}) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &MCPError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// toolErrorData classifies err for the caller. Upstream failures carry the
// HTTP status and body; timeouts carry the configured limit.
func toolErrorData(err error) ToolErrorData {
	data := ToolErrorData{
		Kind:    vlm.KindOf(err),
		Message: err.Error(),
	}

	var up *vlm.UpstreamError
	if errors.As(err, &up) {
		data.Status = up.Status
		data.Body = up.Body
	}

	var te *vlm.TimeoutError
	if errors.As(err, &te) {
		data.TimeoutSeconds = te.Timeout.Seconds()
	}
	return data
}

// decodeArgs unmarshals tool arguments, treating absent arguments as empty.
func decodeArgs(args json.RawMessage, v interface{}) error {
	if len(args) == 0 || strings.TrimSpace(string(args)) == "null" {
		return nil
	}
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("%w: %v", errBadParams, err)
	}
	return nil
}

type analyzeImageArgs struct {
	ImagePath  string   `json:"image_path"`
	ImagePaths []string `json:"image_paths"`
	Prompt     string   `json:"prompt"`
	MaxTokens  int      `json:"max_tokens"`
}

func (s *Server) handleAnalyzeImage(ctx context.Context, args json.RawMessage) (string, error) {
	var a analyzeImageArgs
	if err := decodeArgs(args, &a); err != nil {
		return "", err
	}

	// image_path comes first when both forms are given
	paths := a.ImagePaths
	if a.ImagePath != "" {
		paths = append([]string{a.ImagePath}, paths...)
	}
	return s.forwarder.Analyze(ctx, vlm.AnalyzeRequest{
		ImagePaths: paths,
		Prompt:     a.Prompt,
		MaxTokens:  a.MaxTokens,
	})
}

type analyzeScreenshotArgs struct {
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"max_tokens"`
}

func (s *Server) handleAnalyzeScreenshot(ctx context.Context, args json.RawMessage) (string, error) {
	var a analyzeScreenshotArgs
	if err := decodeArgs(args, &a); err != nil {
		return "", err
	}
	return s.forwarder.AnalyzeScreenshot(ctx, vlm.ScreenshotRequest{
		Prompt:    a.Prompt,
		MaxTokens: a.MaxTokens,
	})
}

type compareImagesArgs struct {
	ImagePaths []string `json:"image_paths"`
	Prompt     string   `json:"prompt"`
	MaxTokens  int      `json:"max_tokens"`
}

func (s *Server) handleCompareImages(ctx context.Context, args json.RawMessage) (string, error) {
	var a compareImagesArgs
	if err := decodeArgs(args, &a); err != nil {
		return "", err
	}
	return s.forwarder.Compare(ctx, vlm.CompareRequest{
		ImagePaths: a.ImagePaths,
		Prompt:     a.Prompt,
		MaxTokens:  a.MaxTokens,
	})
}
