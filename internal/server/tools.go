package server

import "github.com/ironsheep/vlm-tools-mcp/internal/vlm"

// Tool represents an MCP tool definition
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// Tool names exposed to the agent.
const (
	ToolAnalyzeImage      = "analyze_image"
	ToolAnalyzeScreenshot = "analyze_screenshot"
	ToolCompareImages     = "compare_images"
)

var promptSchema = map[string]interface{}{
	"type":        "string",
	"description": "Question or instruction about the image(s)",
}

var maxTokensSchema = map[string]interface{}{
	"type":        "integer",
	"description": "Optional completion budget. Defaults to the server's VLM_MAX_TOKENS",
	"minimum":     1,
}

// GetToolDefinitions returns all available tools
func GetToolDefinitions() []Tool {
	return []Tool{
		{
			Name:        ToolAnalyzeImage,
			Description: "Analyze a local image file with a text prompt using the hosted vision-language model. Pass image_path for one image, or image_paths for up to 5 images in one request.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"image_path": map[string]interface{}{
						"type":        "string",
						"description": "Absolute or relative path to an image file",
					},
					"image_paths": map[string]interface{}{
						"type":        "array",
						"items":       map[string]interface{}{"type": "string"},
						"minItems":    1,
						"maxItems":    vlm.MaxImages,
						"description": "Paths to 1-5 image files, sent in the given order",
					},
					"prompt":     promptSchema,
					"max_tokens": maxTokensSchema,
				},
				"required": []string{"prompt"},
			},
		},
		{
			Name:        ToolAnalyzeScreenshot,
			Description: "Capture the current screen and analyze it with a text prompt. Fails with CaptureUnavailableError when no display is available.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"prompt":     promptSchema,
					"max_tokens": maxTokensSchema,
				},
				"required": []string{"prompt"},
			},
		},
		{
			Name:        ToolCompareImages,
			Description: "Compare 2-5 local images with a text prompt. Images are presented to the model in the given order, so prompts may refer to \"the first image\", \"the second image\", and so on.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"image_paths": map[string]interface{}{
						"type":        "array",
						"items":       map[string]interface{}{"type": "string"},
						"minItems":    vlm.MinCompareImages,
						"maxItems":    vlm.MaxImages,
						"description": "Paths to 2-5 image files, in comparison order",
					},
					"prompt":     promptSchema,
					"max_tokens": maxTokensSchema,
				},
				"required": []string{"image_paths", "prompt"},
			},
		},
	}
}

// handleToolsList returns the list of available tools
func (s *Server) handleToolsList(req *MCPRequest) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"tools": GetToolDefinitions(),
		},
	}
}
