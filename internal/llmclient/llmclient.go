// Package llmclient implements the LLM Client component: conversation
// history management, tool-definition normalization, and streaming/
// non-streaming completion against a provider that already embeds primary/
// secondary failover (internal/resilience.LLMFallback satisfies
// pkg/provider/llm.Provider, so this package depends only on that
// interface and stays failover-agnostic). Adapted from the teacher's
// internal/session.ContextManager, replacing summarisation with the
// spec's fixed trailing-window truncation.
package llmclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/voxrelay/dialogcore/pkg/provider/llm"
	"github.com/voxrelay/dialogcore/pkg/types"
)

// defaultHistoryWindow is N in the history-window invariant: the client
// keeps at most this many messages, always preserving a leading system
// message.
const defaultHistoryWindow = 20

// EventType identifies the kind of event emitted on a streaming generation's
// event channel.
type EventType int

const (
	EventToken EventType = iota
	EventStreamEnd
)

// StreamEvent is a single item emitted by GenerateStreaming.
type StreamEvent struct {
	Type EventType

	// Delta is the incremental text for EventToken.
	Delta string

	// Content is the full accumulated assistant text, valid on EventStreamEnd.
	Content string

	// FinishReason is valid on EventStreamEnd.
	FinishReason string

	// ToolCall is non-nil on EventStreamEnd when the model requested a tool
	// invocation instead of (or alongside) text content.
	ToolCall *types.ToolCall

	// Err is set on EventStreamEnd when generation failed after the stream
	// had already started.
	Err error
}

// GenerateResult is returned by the non-streaming Generate.
type GenerateResult struct {
	Content      string
	FinishReason string
	ToolCall     *types.ToolCall
}

// Client is the LLM Client component. One Client instance owns one
// conversation's history for the lifetime of a call.
//
// All exported methods are safe for concurrent use.
type Client struct {
	provider      llm.Provider
	historyWindow int

	mu           sync.Mutex
	systemPrompt string
	tools        []types.ToolDefinition
	history      []types.Message

	cancelMu sync.Mutex
	cancelFn context.CancelFunc
}

// Option configures a Client at construction time.
type Option func(*Client)

// WithHistoryWindow overrides the trailing-window size N (default 20).
func WithHistoryWindow(n int) Option {
	return func(c *Client) { c.historyWindow = n }
}

// New creates a Client bound to provider. provider is typically an
// *internal/resilience.LLMFallback, but any llm.Provider works.
func New(provider llm.Provider, opts ...Option) *Client {
	c := &Client{
		provider:      provider,
		historyWindow: defaultHistoryWindow,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Configure installs the system prompt and normalizes rawTools into the
// canonical ToolDefinition shape. rawTools entries may be any of the three
// accepted shapes (already nested, partially nested, flat); see
// NormalizeToolDefinition.
func (c *Client) Configure(systemPrompt string, rawTools []map[string]any) error {
	tools := make([]types.ToolDefinition, 0, len(rawTools))
	for _, raw := range rawTools {
		td, err := NormalizeToolDefinition(raw)
		if err != nil {
			return fmt.Errorf("llmclient: configure: %w", err)
		}
		tools = append(tools, td)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.systemPrompt = systemPrompt
	c.tools = tools
	c.history = []types.Message{{Role: types.RoleSystem, Content: systemPrompt}}
	return nil
}

// CountTokens estimates the token count of messages via the underlying
// provider. Exposed for callers that need token accounting outside of a
// non-streaming CompletionResponse's Usage field — the streaming Chunk type
// carries no usage information.
func (c *Client) CountTokens(messages []types.Message) (int, error) {
	return c.provider.CountTokens(messages)
}

// History returns a copy of the current conversation history.
func (c *Client) History() []types.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.Message, len(c.history))
	copy(out, c.history)
	return out
}

// SeedAssistantMessage appends content to history as an assistant message
// without performing a completion. Used to record a spoken greeting, which
// bypasses generation entirely but must still count as the assistant's
// opening turn for subsequent completions.
func (c *Client) SeedAssistantMessage(content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.appendLocked(types.Message{Role: types.RoleAssistant, Content: content})
}

// AddToolResult appends a tool-result message to history, to be called by
// the resolver after a stream.end carrying a ToolCall has been handled.
func (c *Client) AddToolResult(toolCallID, toolName, result string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.appendLocked(types.Message{
		Role:       types.RoleTool,
		Content:    result,
		Name:       toolName,
		ToolCallID: toolCallID,
	})
}

// Generate appends userMessage to history, performs one non-streaming
// completion (with primary/secondary failover handled by the underlying
// provider), and appends the assistant's content back to history unless the
// response carries a tool call.
func (c *Client) Generate(ctx context.Context, userMessage string) (*GenerateResult, error) {
	req := c.prepareTurn(userMessage)

	ctx, cancel := context.WithCancel(ctx)
	c.setCancel(cancel)
	defer c.setCancel(nil)

	resp, err := c.provider.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("llmclient: generate: %w", err)
	}

	result := &GenerateResult{Content: resp.Content}
	if len(resp.ToolCalls) > 0 {
		tc := resp.ToolCalls[0]
		result.ToolCall = &tc
		result.FinishReason = "tool_calls"
		// Per contract: a tool-call response does not append an assistant
		// message to history; the resolver follows up with AddToolResult.
		return result, nil
	}

	result.FinishReason = "stop"
	c.mu.Lock()
	c.appendLocked(types.Message{Role: types.RoleAssistant, Content: resp.Content})
	c.mu.Unlock()
	return result, nil
}

// GenerateStreaming is the streaming counterpart of Generate. It emits
// EventToken for each incremental delta and a terminal EventStreamEnd
// carrying the full content and/or an accumulated tool call. Parse errors on
// individual chunks are not surfaced to the caller; an error after the
// stream has started is carried on the terminal event's Err field, not
// returned as a second error.
func (c *Client) GenerateStreaming(ctx context.Context, userMessage string) (<-chan StreamEvent, error) {
	req := c.prepareTurn(userMessage)
	return c.startStream(ctx, req)
}

// GenerateStreamingFollowUp resumes generation from the current history
// without appending a new user message. Used after AddToolResult: the tool
// result message is already in history, and the model is asked to continue
// from there.
func (c *Client) GenerateStreamingFollowUp(ctx context.Context) (<-chan StreamEvent, error) {
	req := c.prepareRequest()
	return c.startStream(ctx, req)
}

func (c *Client) startStream(ctx context.Context, req llm.CompletionRequest) (<-chan StreamEvent, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	c.setCancel(cancel)

	chunks, err := c.provider.StreamCompletion(streamCtx, req)
	if err != nil {
		c.setCancel(nil)
		return nil, fmt.Errorf("llmclient: generate_streaming: %w", err)
	}

	out := make(chan StreamEvent, 16)
	go c.drainStream(chunks, out, cancel)
	return out, nil
}

// drainStream accumulates chunks into the terminal event per the tool-call
// handling rules: text deltas are forwarded immediately as EventToken, tool
// call fragments (id/name/arguments) are accumulated across chunks keyed by
// call ID (or by name when a fragment has no ID) since providers may split a
// single call over many chunks.
func (c *Client) drainStream(chunks <-chan llm.Chunk, out chan<- StreamEvent, cancel context.CancelFunc) {
	defer close(out)
	defer cancel()
	defer c.setCancel(nil)

	var content string
	var finishReason string
	var accumulated map[string]*types.ToolCall
	var order []string
	var streamErr error

	for chunk := range chunks {
		if chunk.FinishReason == "error" {
			// Providers report a mid-stream failure as a chunk whose Text is
			// the error message; it is not assistant content.
			streamErr = fmt.Errorf("llmclient: stream: %s", chunk.Text)
			finishReason = chunk.FinishReason
			continue
		}
		if chunk.Text != "" {
			content += chunk.Text
			out <- StreamEvent{Type: EventToken, Delta: chunk.Text}
		}
		for _, tc := range chunk.ToolCalls {
			if accumulated == nil {
				accumulated = make(map[string]*types.ToolCall)
			}
			key := tc.ID
			if key == "" {
				key = tc.Name
			}
			existing, ok := accumulated[key]
			if !ok {
				cp := tc
				accumulated[key] = &cp
				order = append(order, key)
				continue
			}
			if tc.Name != "" {
				existing.Name = tc.Name
			}
			existing.Arguments += tc.Arguments
		}
		if chunk.FinishReason != "" {
			finishReason = chunk.FinishReason
		}
	}

	end := StreamEvent{Type: EventStreamEnd, Content: content, FinishReason: finishReason, Err: streamErr}
	if len(order) > 0 {
		tc := *accumulated[order[0]]
		end.ToolCall = &tc
		if end.FinishReason == "" {
			end.FinishReason = "tool_calls"
		}
	} else {
		c.mu.Lock()
		c.appendLocked(types.Message{Role: types.RoleAssistant, Content: content})
		c.mu.Unlock()
		if end.FinishReason == "" {
			end.FinishReason = "stop"
		}
	}

	out <- end
}

// Cancel aborts any in-flight Generate or GenerateStreaming request.
func (c *Client) Cancel() {
	c.cancelMu.Lock()
	fn := c.cancelFn
	c.cancelMu.Unlock()
	if fn != nil {
		fn()
	}
}

func (c *Client) setCancel(fn context.CancelFunc) {
	c.cancelMu.Lock()
	c.cancelFn = fn
	c.cancelMu.Unlock()
}

// prepareTurn appends the user message to history and builds the
// CompletionRequest for this turn using the current (post-truncation)
// history, tools, and system prompt.
func (c *Client) prepareTurn(userMessage string) llm.CompletionRequest {
	c.mu.Lock()
	c.appendLocked(types.Message{Role: types.RoleUser, Content: userMessage})
	c.mu.Unlock()
	return c.prepareRequest()
}

// prepareRequest builds the CompletionRequest from the current history,
// tools, and system prompt without mutating history.
func (c *Client) prepareRequest() llm.CompletionRequest {
	c.mu.Lock()
	history := make([]types.Message, len(c.history))
	copy(history, c.history)
	tools := make([]types.ToolDefinition, len(c.tools))
	copy(tools, c.tools)
	systemPrompt := c.systemPrompt
	c.mu.Unlock()

	return llm.CompletionRequest{
		Messages:     history,
		Tools:        tools,
		SystemPrompt: systemPrompt,
	}
}

// appendLocked appends msg to history and truncates to the trailing window,
// always preserving a leading system message. Must be called with c.mu held.
func (c *Client) appendLocked(msg types.Message) {
	c.history = append(c.history, msg)

	if len(c.history) <= c.historyWindow {
		return
	}

	hasSystemHead := len(c.history) > 0 && c.history[0].Role == types.RoleSystem
	if !hasSystemHead {
		c.history = c.history[len(c.history)-c.historyWindow:]
		return
	}

	// Keep the system message plus the most recent (window-1) messages.
	keep := c.historyWindow - 1
	tail := c.history[len(c.history)-keep:]
	trimmed := make([]types.Message, 0, c.historyWindow)
	trimmed = append(trimmed, c.history[0])
	trimmed = append(trimmed, tail...)
	c.history = trimmed
}

// NormalizeToolDefinition converts a raw tool definition map into the
// canonical ToolDefinition{Name, Description, Parameters} shape. It accepts
// three input shapes:
//
//  1. Already nested (OpenAI function-calling wire shape):
//     {"type":"function","function":{"name":...,"description":...,"parameters":{...}}}
//  2. Partially nested:
//     {"name":...,"function":{"description":...,"parameters":{...}}}
//  3. Flat:
//     {"name":...,"description":...,"parameters":{...}}
func NormalizeToolDefinition(raw map[string]any) (types.ToolDefinition, error) {
	if raw == nil {
		return types.ToolDefinition{}, fmt.Errorf("llmclient: nil tool definition")
	}

	// Shape 1: fully nested under "function".
	if fn, ok := raw["function"].(map[string]any); ok {
		name, _ := fn["name"].(string)
		if name == "" {
			// Shape 2: name lives at the top level, only description/parameters nested.
			name, _ = raw["name"].(string)
		}
		desc, _ := fn["description"].(string)
		params := asParameterMap(fn["parameters"])
		if name == "" {
			return types.ToolDefinition{}, fmt.Errorf("llmclient: tool definition missing name")
		}
		return types.ToolDefinition{Name: name, Description: desc, Parameters: params}, nil
	}

	// Shape 3: flat.
	name, _ := raw["name"].(string)
	if name == "" {
		return types.ToolDefinition{}, fmt.Errorf("llmclient: tool definition missing name")
	}
	desc, _ := raw["description"].(string)
	params := asParameterMap(raw["parameters"])
	return types.ToolDefinition{Name: name, Description: desc, Parameters: params}, nil
}

// asParameterMap coerces a JSON-Schema-shaped value into map[string]any,
// tolerating a nil or wrongly-typed input by returning an empty schema.
func asParameterMap(v any) map[string]any {
	switch p := v.(type) {
	case map[string]any:
		return p
	case nil:
		return map[string]any{}
	default:
		// Defensive: some callers may hand us an already-marshalled JSON
		// string for parameters; attempt to decode it rather than discard it.
		if s, ok := v.(string); ok && s != "" {
			var m map[string]any
			if err := json.Unmarshal([]byte(s), &m); err == nil {
				return m
			}
		}
		return map[string]any{}
	}
}
