package main

import (
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/ironsheep/vlm-tools-mcp/internal/config"
	"github.com/ironsheep/vlm-tools-mcp/internal/server"
	"github.com/ironsheep/vlm-tools-mcp/internal/vlm"
)

// Version information - set by ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	// Handle --version and -v flags
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--version", "-v", "version":
			fmt.Printf("vlm-mcp %s\n", Version)
			fmt.Printf("  Build time: %s\n", BuildTime)
			fmt.Printf("  Git commit: %s\n", GitCommit)
			return
		case "--help", "-h", "help":
			fmt.Println("vlm-mcp - MCP server that forwards image questions to a hosted vision-language model")
			fmt.Println()
			fmt.Println("Usage: vlm-mcp [options]")
			fmt.Println()
			fmt.Println("Options:")
			fmt.Println("  --version, -v    Print version information")
			fmt.Println("  --help, -h       Print this help message")
			fmt.Println()
			fmt.Println("Environment variables:")
			fmt.Println("  VLM_ENDPOINT                 Base URL of the OpenAI-compatible VLM endpoint")
			fmt.Println("  VLM_ENDPOINT_URL             Alias for VLM_ENDPOINT")
			fmt.Println("  MODAL_WORKSPACE              Derive the endpoint from a Modal workspace name")
			fmt.Println("  VLM_MODEL                    Served model name (default " + config.DefaultModel + ")")
			fmt.Println("  VLM_TIMEOUT                  Request timeout in seconds (default 300)")
			fmt.Println("  VLM_MAX_TOKENS               Default completion budget (default 2048)")
			fmt.Println("  VLM_MAX_RETRIES              Retries for 502/503/504 and connection failures (default 0)")
			fmt.Println("  VLM_MAX_IMAGE_EDGE           Downscale images whose longest edge exceeds this")
			fmt.Println("  MODAL_PROXY_TOKEN_ID         Modal proxy auth key")
			fmt.Println("  MODAL_PROXY_TOKEN_SECRET     Modal proxy auth secret")
			fmt.Println("  VLM_MCP_LOG_LEVEL=debug      Enable debug logging")
			fmt.Println()
			fmt.Println("Variables may also be set in ./.env or in the user config directory.")
			fmt.Println("This server communicates via MCP protocol over stdin/stdout.")
			return
		}
	}

	// Configure logging to stderr (stdout is for MCP protocol)
	log.SetOutput(os.Stderr)
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	ep, err := config.Load()
	if err != nil {
		if errors.Is(err, config.ErrConfiguration) {
			log.Fatalf("vlm-mcp is not configured: %v", err)
		}
		log.Fatalf("Failed to load configuration: %v", err)
	}

	var opts []vlm.Option
	var debug *log.Logger
	if config.DebugEnabled() {
		debug = log.New(os.Stderr, "[debug] ", log.Ldate|log.Ltime|log.Lshortfile)
		debug.Printf("VLM MCP Server v%s (built %s, commit %s)", Version, BuildTime, GitCommit)
		debug.Printf("Endpoint %s model=%s timeout=%s max_tokens=%d retries=%d proxy_auth=%t",
			ep.BaseURL, ep.Model, ep.Timeout, ep.MaxTokens, ep.MaxRetries, ep.HasProxyAuth())
		opts = append(opts, vlm.WithLogger(debug))
	}

	srv := server.New(vlm.NewForwarder(ep, opts...), Version, debug)
	if err := srv.Run(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
