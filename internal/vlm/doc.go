// Package vlm forwards image-analysis requests to a hosted vision-language model.
//
// The model is served by vLLM behind the OpenAI chat-completions wire contract.
// Each operation reads its images, encodes them as data URIs, issues exactly
// one POST /v1/chat/completions and returns the text of the first choice:
//
//	{
//	  "model": "Qwen/Qwen3-VL-32B-Thinking-FP8",
//	  "messages": [{"role": "user", "content": [
//	    {"type": "image_url", "image_url": {"url": "data:image/png;base64,..."}},
//	    {"type": "text", "text": "What shape is this?"}
//	  ]}],
//	  "max_tokens": 2048
//	}
//
// # Operations
//
//   - Analyze: 1 to 5 local images and a prompt
//   - AnalyzeScreenshot: the current display and a prompt
//   - Compare: 2 to 5 local images in order and a prompt
//
// # Errors
//
// Failures are classified by the sentinels in errors.go and reported to tool
// callers by KindOf. Argument and file problems are detected before any
// network traffic. A call that outlives the configured timeout returns a
// *TimeoutError; a non-2xx response returns an *UpstreamError carrying the
// status and body. Nothing is retried unless VLM_MAX_RETRIES is set.
//
// # Concurrency
//
// Forwarder and Client keep no per-call state. Concurrent calls are
// independent and unordered.
package vlm
