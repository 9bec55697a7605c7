// Package llm defines the Provider interface for Large Language Model
// backends.
//
// An LLM provider wraps a remote model API (OpenAI, Anthropic, or any
// OpenAI-compatible endpoint via any-llm-go) and exposes a uniform
// interface for the orchestrator to perform completions, count tokens, and
// inspect model capabilities without coupling to any specific SDK.
//
// Implementors must be safe for concurrent use. Channels returned by
// StreamCompletion must be closed by the implementation when the stream
// ends or when the supplied context is cancelled.
package llm

import (
	"context"

	"github.com/voxrelay/dialogcore/pkg/types"
)

// Usage holds token accounting information returned by the LLM backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the LLM needs to produce a response.
// Callers should treat a zero-value request as invalid; at minimum Messages
// must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history. The last message is
	// typically from RoleUser and drives the response.
	Messages []types.Message

	// Tools is the set of function/tool definitions offered to the model.
	// Providers that do not support tool calling should return an error or
	// ignore this field — callers should check Capabilities() first.
	Tools []types.ToolDefinition

	// Temperature controls output randomness in the range [0.0, 2.0].
	Temperature float64

	// MaxTokens caps the number of completion tokens the model may
	// generate. Zero means use the provider default.
	MaxTokens int

	// SystemPrompt is injected before the conversation history. Providers
	// that do not have a dedicated system role should prepend it as a
	// RoleSystem message.
	SystemPrompt string
}

// Chunk is a single token or fragment emitted by a streaming completion.
// Consumers must handle all three fields; a single chunk may carry text, a
// finish signal, tool calls, or any combination thereof.
type Chunk struct {
	// Text is the incremental text content of this chunk. May be empty if
	// the chunk carries only ToolCalls or a FinishReason.
	Text string

	// FinishReason is set on the final chunk. Common values are "stop",
	// "length", "tool_calls", and "" (non-final chunk) or "error" when the
	// stream failed after opening.
	FinishReason string

	// ToolCalls contains any tool invocations the model is requesting. For
	// streaming providers this may be accumulated across multiple chunks by
	// the caller.
	ToolCalls []types.ToolCall
}

// CompletionResponse is returned by the non-streaming Complete method.
type CompletionResponse struct {
	// Content is the full text of the assistant's reply. Empty when the
	// model responds exclusively with tool calls.
	Content string

	// ToolCalls lists all tool invocations requested by the model.
	ToolCalls []types.ToolCall

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
//
// Implementations must be safe for concurrent use from multiple
// goroutines. Each method should propagate context cancellation promptly:
// when ctx is cancelled the method must return (or close its channel) as
// quickly as possible.
type Provider interface {
	// StreamCompletion sends req to the model and returns a read-only
	// channel that emits Chunk values as they arrive. The channel is
	// closed by the implementation when generation finishes or when ctx is
	// cancelled.
	//
	// Callers must drain the channel to avoid goroutine leaks. Errors that
	// occur after the channel is opened are surfaced as a Chunk with
	// FinishReason "error"; the initial error return is non-nil only for
	// failures that prevent the stream from starting.
	//
	// The returned channel must never be nil when error is nil.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Complete sends req to the model and waits for the full response. It
	// is a convenience wrapper around StreamCompletion for callers that do
	// not need incremental output.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates the number of tokens that the given message
	// list would consume in the model's context window. Used to enforce
	// the conversation history window before sending a request.
	CountTokens(messages []types.Message) (int, error)

	// Capabilities returns static metadata describing what this
	// provider's underlying model supports. The result is assumed to be
	// constant for the lifetime of the Provider instance.
	Capabilities() types.ModelCapabilities
}
