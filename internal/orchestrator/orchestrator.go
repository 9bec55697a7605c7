// Package orchestrator implements the Session Orchestrator component: it
// composes the STT, LLM, TTS clients and the Conversation Manager, exposes
// the external per-call interface, bridges codec-level audio between the
// telephony edge and the STT/TTS clients, resolves tool calls, and
// aggregates cost metrics at disconnect. Adapted from the teacher's
// internal/app.SessionManager (atomic connect/teardown via an ordered
// closer stack) and internal/agent/orchestrator.Orchestrator (component
// composition), generalized from a Discord NPC-party session to a single
// telephony call.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voxrelay/dialogcore/internal/conversation"
	"github.com/voxrelay/dialogcore/internal/llmclient"
	"github.com/voxrelay/dialogcore/internal/observe"
	"github.com/voxrelay/dialogcore/internal/sttclient"
	"github.com/voxrelay/dialogcore/internal/ttsclient"
	"github.com/voxrelay/dialogcore/pkg/provider/llm"
	"github.com/voxrelay/dialogcore/pkg/provider/stt"
	"github.com/voxrelay/dialogcore/pkg/provider/tts"
	"github.com/voxrelay/dialogcore/pkg/types"
)

// EventType identifies the kind of event emitted outward to the telephony
// edge / call-control layer.
type EventType int

const (
	EventAudioDelta EventType = iota
	EventAudioDone
	EventTranscriptUser
	EventTranscriptAgent
	EventFunctionCall
	EventAgentReady
	EventSpeechStarted
	EventSilenceTimeout
	EventConversationEnded
	EventError
)

// Event is a single item on the Orchestrator's outward event stream.
type Event struct {
	Type EventType

	AudioDelta []byte

	Text string // transcript.user / transcript.agent

	CallID   string
	ToolName string
	ToolArgs string

	Reason string // conversation.ended reason
	Costs  types.CallCostBreakdown
	Err    error
}

// Dependencies bundles the provider-level collaborators the Orchestrator
// composes. cmd/dialogcore passes a resilience.*Fallback wrapping the single
// configured backend for each, but any implementation of the interface works.
type Dependencies struct {
	STT  stt.Provider
	LLM  llm.Provider
	TTS  tts.Provider

	STTStreamConfig stt.StreamConfig
	CostRates       types.CostRates

	// Metrics, when non-nil, receives active-session gauges, per-call cost
	// histograms, and tool/barge-in/silence-timeout counters. Nil is safe
	// and simply disables instrumentation (e.g. in unit tests).
	Metrics *observe.Metrics
}

// Orchestrator is the Session Orchestrator component. One instance serves
// exactly one telephony call for its lifetime.
type Orchestrator struct {
	deps Dependencies

	mu        sync.Mutex
	connected bool

	stt  *sttclient.Client
	llm  *llmclient.Client
	tts  *ttsclient.Client
	conv *conversation.Manager

	// closers run in reverse order during Disconnect, mirroring the
	// teacher's SessionManager closer-stack pattern.
	closers []func() error

	events chan Event

	ttsMu        sync.Mutex
	ttsRequestID string

	costMu           sync.Mutex
	audioSeconds     float64
	promptTokens     int
	completionTokens int
	charactersSpoken int

	wg sync.WaitGroup
}

// New creates an Orchestrator with the given provider dependencies. Connect
// must be called before the session can be used.
func New(deps Dependencies) *Orchestrator {
	return &Orchestrator{
		deps:   deps,
		events: make(chan Event, 64),
	}
}

// Events returns the channel on which the Orchestrator emits outward
// events.
func (o *Orchestrator) Events() <-chan Event {
	return o.events
}

// Connect brings up the STT client (but not the Conversation Manager, which
// starts on ConfigureSession). If the STT client fails to connect, any
// partially-constructed component is torn down before the error is
// returned, matching the "fails atomically" contract.
func (o *Orchestrator) Connect(ctx context.Context) (err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.connected {
		return fmt.Errorf("orchestrator: already connected")
	}

	var closers []func() error
	defer func() {
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				_ = closers[i]()
			}
		}
	}()

	sttC := sttclient.New(o.deps.STT, o.deps.STTStreamConfig)
	if connErr := sttC.Connect(ctx); connErr != nil {
		return fmt.Errorf("orchestrator: connect stt: %w", connErr)
	}
	closers = append(closers, sttC.Stop)

	llmC := llmclient.New(o.deps.LLM)
	ttsC := ttsclient.New(o.deps.TTS)

	o.stt = sttC
	o.llm = llmC
	o.tts = ttsC
	o.closers = closers
	o.connected = true

	if o.deps.Metrics != nil {
		o.deps.Metrics.ActiveSessions.Add(ctx, 1)
	}

	return nil
}

// ConfigureSession installs agent configuration, starts the Conversation
// Manager, wires component events to the turn-orchestration loop, and
// emits agent.ready.
func (o *Orchestrator) ConfigureSession(ctx context.Context, cfg types.AgentConfig) error {
	o.mu.Lock()
	if !o.connected {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator: configure_session called before connect")
	}
	sttC, llmC, ttsC := o.stt, o.llm, o.tts
	o.mu.Unlock()

	if err := llmC.Configure(cfg.SystemPrompt, cfg.Tools); err != nil {
		return fmt.Errorf("orchestrator: configure llm: %w", err)
	}
	ttsC.SetVoice(cfg.Voice)

	var convOpts []conversation.Option
	if cfg.SilenceTimeoutMs > 0 {
		convOpts = append(convOpts, conversation.WithSilenceTimeout(time.Duration(cfg.SilenceTimeoutMs)*time.Millisecond))
	}
	convOpts = append(convOpts, conversation.WithBargeIn(cfg.BargeInEnabled))
	conv := conversation.New(convOpts...)

	o.mu.Lock()
	o.conv = conv
	o.mu.Unlock()

	o.wg.Add(2)
	go o.pumpSTTEvents(ctx, sttC, conv)
	go o.pumpConversationEvents(ctx, conv, llmC, ttsC)

	conv.Start(cfg.Greeting)
	if cfg.Greeting != "" {
		// Greeting is synthesized as the first assistant turn; it is seeded
		// into history as an assistant message (not a user turn) per the
		// Conversation Manager's contract, rather than flowing through a
		// completion.
		llmC.SeedAssistantMessage(cfg.Greeting)
		o.speakAssistantTurn(ctx, ttsC, conv, cfg.Greeting)
	}

	o.emit(Event{Type: EventAgentReady})
	return nil
}

// SendAudio forwards a raw telephony audio frame to the STT client.
func (o *Orchestrator) SendAudio(frame []byte) {
	o.mu.Lock()
	sttC := o.stt
	o.mu.Unlock()
	if sttC == nil {
		return
	}
	o.costMu.Lock()
	cfg := o.deps.STTStreamConfig
	if cfg.SampleRate > 0 {
		o.audioSeconds += float64(len(frame)) / float64(cfg.SampleRate*2)
	}
	o.costMu.Unlock()
	sttC.SendAudio(frame)
}

// SendToolResult installs the tool result into LLM history and triggers a
// follow-up generation; the resulting text is synthesized as the next
// assistant turn.
func (o *Orchestrator) SendToolResult(ctx context.Context, callID, toolName, result string) {
	o.mu.Lock()
	llmC, ttsC, conv := o.llm, o.tts, o.conv
	o.mu.Unlock()
	if llmC == nil {
		return
	}

	llmC.AddToolResult(callID, toolName, result)

	events, err := llmC.GenerateStreamingFollowUp(ctx)
	if err != nil {
		o.emit(Event{Type: EventError, Err: fmt.Errorf("orchestrator: follow-up generation: %w", err)})
		return
	}
	o.consumeLLMStream(ctx, events, llmC, ttsC, conv)
}

// Disconnect performs orderly teardown in reverse dependency order: the
// Conversation Manager is ended first (no new turns), then components are
// closed via the closer stack built up in Connect.
func (o *Orchestrator) Disconnect() error {
	o.mu.Lock()
	if !o.connected {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator: not connected")
	}
	conv := o.conv
	closers := o.closers
	o.connected = false
	o.closers = nil
	o.mu.Unlock()

	if conv != nil {
		conv.End("explicit_end")
	}

	var firstErr error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			slog.Warn("orchestrator: closer error", "index", i, "err", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	o.wg.Wait()

	costs := o.computeCosts()
	if o.deps.Metrics != nil {
		o.deps.Metrics.ActiveSessions.Add(context.Background(), -1)
		o.deps.Metrics.RecordSessionCost(context.Background(), costs.STTCost, costs.LLMCost, costs.TTSCost, costs.TotalCost)
	}
	o.emit(Event{Type: EventConversationEnded, Reason: "explicit_end", Costs: costs})
	close(o.events)

	return firstErr
}

func (o *Orchestrator) computeCosts() types.CallCostBreakdown {
	o.costMu.Lock()
	defer o.costMu.Unlock()

	rates := o.deps.CostRates
	breakdown := types.CallCostBreakdown{
		AudioSeconds:     o.audioSeconds,
		PromptTokens:     o.promptTokens,
		CompletionTokens: o.completionTokens,
		CharactersSpoken: o.charactersSpoken,
	}
	breakdown.STTCost = breakdown.AudioSeconds * rates.STTPerSecond
	breakdown.LLMCost = float64(breakdown.PromptTokens)*rates.LLMInputPerToken + float64(breakdown.CompletionTokens)*rates.LLMOutputPerToken
	breakdown.TTSCost = float64(breakdown.CharactersSpoken) * rates.TTSPerCharacter
	breakdown.TotalCost = breakdown.STTCost + breakdown.LLMCost + breakdown.TTSCost
	return breakdown
}

func (o *Orchestrator) emit(e Event) {
	select {
	case o.events <- e:
	default:
		slog.Warn("orchestrator: outward event channel full, dropping event", "type", e.Type)
	}
}

// pumpSTTEvents bridges STT client events into the Conversation Manager and
// the outward transcript.user event.
func (o *Orchestrator) pumpSTTEvents(ctx context.Context, sttC *sttclient.Client, conv *conversation.Manager) {
	defer o.wg.Done()
	for e := range sttC.Events() {
		switch e.Type {
		case sttclient.EventTranscriptInterim:
			conv.OnSTTInterim(e.Transcript.Text)
		case sttclient.EventTranscriptFinal:
			o.emit(Event{Type: EventTranscriptUser, Text: e.Transcript.Text})
		case sttclient.EventSpeechEnded:
			conv.OnSTTSpeechEnded(e.Transcript.Text)
		case sttclient.EventError:
			o.emit(Event{Type: EventError, Err: e.Err})
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// pumpConversationEvents implements the turn-orchestration algorithm:
// response.requested drives a streaming LLM generation, whose terminal
// event either emits function.call (awaiting send_tool_result) or drives
// TTS synthesis of the assistant's reply.
func (o *Orchestrator) pumpConversationEvents(ctx context.Context, conv *conversation.Manager, llmC *llmclient.Client, ttsC *ttsclient.Client) {
	defer o.wg.Done()
	for e := range conv.Events() {
		switch e.Type {
		case conversation.EventResponseRequested:
			o.runTurn(ctx, llmC, ttsC, conv, e.Transcript)
		case conversation.EventAgentInterrupted:
			ttsC.Cancel(o.currentTTSRequestID())
			o.finalizeSTT()
			if o.deps.Metrics != nil {
				o.deps.Metrics.BargeIns.Add(ctx, 1)
			}
		case conversation.EventSilenceTimeout:
			o.emit(Event{Type: EventSilenceTimeout})
			if o.deps.Metrics != nil {
				o.deps.Metrics.SilenceTimeouts.Add(ctx, 1)
			}
		case conversation.EventGreetingRequested:
			// Handled synchronously in ConfigureSession; nothing to do here.
		case conversation.EventConversationEnded:
			return
		}
	}
}

func (o *Orchestrator) runTurn(ctx context.Context, llmC *llmclient.Client, ttsC *ttsclient.Client, conv *conversation.Manager, transcript string) {
	events, err := llmC.GenerateStreaming(ctx, transcript)
	if err != nil {
		o.emit(Event{Type: EventError, Err: fmt.Errorf("orchestrator: generation: %w", err)})
		return
	}
	o.consumeLLMStream(ctx, events, llmC, ttsC, conv)
}

// consumeLLMStream accumulates streamed tokens (early-speak is not
// implemented, per the spec's explicit allowance) until stream.end, then
// either surfaces a function.call or synthesizes the assistant's reply.
func (o *Orchestrator) consumeLLMStream(ctx context.Context, events <-chan llmclient.StreamEvent, llmC *llmclient.Client, ttsC *ttsclient.Client, conv *conversation.Manager) {
	for e := range events {
		if e.Type != llmclient.EventStreamEnd {
			continue
		}
		wasToolCall := e.ToolCall != nil
		o.accountTokens(llmC, wasToolCall)
		if wasToolCall {
			if o.deps.Metrics != nil {
				o.deps.Metrics.RecordToolCall(ctx, e.ToolCall.Name)
			}
			o.emit(Event{Type: EventFunctionCall, ToolName: e.ToolCall.Name, ToolArgs: e.ToolCall.Arguments, CallID: e.ToolCall.ID})
			return
		}
		o.speakAssistantTurn(ctx, ttsC, conv, e.Content)
		return
	}
}

// accountTokens estimates this turn's prompt/completion token counts from
// the before/after history shape and accumulates them for cost aggregation.
// A tool-call turn appends no assistant message, so the whole post-turn
// history is attributed to the prompt; a text turn's trailing assistant
// message is counted as the completion and excluded from the prompt count.
func (o *Orchestrator) accountTokens(llmC *llmclient.Client, wasToolCall bool) {
	history := llmC.History()
	if len(history) == 0 {
		return
	}

	promptMessages := history
	var completionTokens int
	if !wasToolCall {
		last := history[len(history)-1]
		if last.Role == types.RoleAssistant {
			promptMessages = history[:len(history)-1]
			if n, err := llmC.CountTokens([]types.Message{last}); err == nil {
				completionTokens = n
			}
		}
	}

	var promptTokens int
	if n, err := llmC.CountTokens(promptMessages); err == nil {
		promptTokens = n
	}

	o.costMu.Lock()
	o.promptTokens += promptTokens
	o.completionTokens += completionTokens
	o.costMu.Unlock()
}

// speakAssistantTurn drives one TTS synthesis for assistant text and emits
// transcript.agent and the outward audio.delta/audio.done sequence.
func (o *Orchestrator) speakAssistantTurn(ctx context.Context, ttsC *ttsclient.Client, conv *conversation.Manager, text string) {
	o.emit(Event{Type: EventTranscriptAgent, Text: text})

	o.costMu.Lock()
	o.charactersSpoken += len(text)
	o.costMu.Unlock()

	events, err := ttsC.SynthesizeStreaming(ctx, text)
	if err != nil {
		o.emit(Event{Type: EventError, Err: fmt.Errorf("orchestrator: synthesize: %w", err)})
		if conv != nil {
			conv.OnTTSAudioDone()
		}
		return
	}

	for e := range events {
		switch e.Type {
		case ttsclient.EventSynthesisStarted:
			o.setTTSRequestID(e.RequestID)
			if conv != nil {
				conv.OnTTSAudioStarted()
			}
			o.emit(Event{Type: EventSpeechStarted})
		case ttsclient.EventAudioDelta:
			o.emit(Event{Type: EventAudioDelta, AudioDelta: e.Delta})
		case ttsclient.EventAudioDone:
			o.emit(Event{Type: EventAudioDone})
			if conv != nil {
				conv.OnTTSAudioDone()
			}
		case ttsclient.EventSynthesisCancelled:
			if conv != nil {
				conv.OnTTSAudioDone()
			}
		}
	}
}

func (o *Orchestrator) currentTTSRequestID() string {
	o.ttsMu.Lock()
	defer o.ttsMu.Unlock()
	return o.ttsRequestID
}

func (o *Orchestrator) setTTSRequestID(id string) {
	o.ttsMu.Lock()
	o.ttsRequestID = id
	o.ttsMu.Unlock()
}

// finalizeSTT forces the STT client to flush its pending partial as a final
// transcript, used on barge-in so the interrupted utterance isn't lost.
func (o *Orchestrator) finalizeSTT() {
	o.mu.Lock()
	sttC := o.stt
	o.mu.Unlock()
	if sttC != nil {
		sttC.Finalize(0)
	}
}
