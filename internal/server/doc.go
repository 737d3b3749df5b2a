// Package server implements the MCP (Model Context Protocol) server that
// forwards image questions to a hosted vision-language model.
//
// A text-only coding agent cannot see images. This server gives it three
// tools that send local image files, or the current screen, to a VLM behind
// an OpenAI-compatible endpoint and return the model's plain-text answer.
//
// # Protocol
//
// The server communicates over stdio using JSON-RPC 2.0:
//   - Input: JSON-RPC requests on stdin (one per line)
//   - Output: JSON-RPC responses on stdout (one per line)
//
// Supported MCP methods:
//   - initialize: Protocol handshake
//   - tools/list: Enumerate available tools
//   - tools/call: Execute a tool with arguments
//   - notifications/cancelled: Abort an in-flight tool call
//   - ping: Health check
//
// # Available Tools
//
//   - analyze_image: Ask about one image (image_path) or up to five (image_paths)
//   - analyze_screenshot: Capture the primary display and ask about it
//   - compare_images: Ask about 2-5 images, presented in the given order
//
// Every tool takes a required prompt and an optional max_tokens.
//
// # Concurrency
//
// Each tools/call runs on its own goroutine, so a slow model call does not
// block pings or other calls. Responses are written whole under a lock and
// may arrive out of request order; clients match them by id. On EOF the
// server waits for outstanding calls before returning.
//
// # Error Handling
//
// Undecodable arguments and unknown tools return code -32602. Tool failures
// return code -32000 with a data object:
//
//	{"kind": "UpstreamError", "message": "...", "status": 503, "body": "..."}
//
// kind is one of ConfigurationError, InvalidArgumentError, NotFoundError,
// UnsupportedFormatError, CaptureUnavailableError, TimeoutError,
// UpstreamError, TransportError or InternalError. status and body are set
// for UpstreamError; timeout_seconds is set for TimeoutError.
//
// # Usage
//
//	fwd := vlm.NewForwarder(endpoint)
//	srv := server.New(fwd, version, nil)
//	if err := srv.Run(); err != nil {
//	    log.Fatal(err)
//	}
package server
