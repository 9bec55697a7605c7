// Package types defines the shared data model used across all dialogcore
// packages.
//
// These types form the lingua franca between providers, clients, and the
// orchestrator. They are intentionally minimal — each package defines its
// own internal bookkeeping, but cross-cutting data structures live here to
// avoid circular imports.
package types

import "time"

// Codec identifies the audio encoding carried by an AudioFrame.
type Codec int

const (
	// CodecULaw8000 is 8kHz G.711 mu-law, the default telephony codec.
	CodecULaw8000 Codec = iota

	// CodecPCM16 is linear 16-bit little-endian PCM at an arbitrary sample rate.
	CodecPCM16

	// CodecMP3 is MPEG-1 Layer III, used by some TTS providers' streamed output.
	CodecMP3
)

// String returns the human-readable name of the codec.
func (c Codec) String() string {
	switch c {
	case CodecULaw8000:
		return "ulaw8000"
	case CodecPCM16:
		return "pcm16"
	case CodecMP3:
		return "mp3"
	default:
		return "unknown"
	}
}

// AudioFrame represents a single frame of audio data flowing through the
// pipeline. Frames are the atomic unit of audio transport — captured from
// the call leg, streamed to STT, and synthesised from TTS.
type AudioFrame struct {
	// Data is the encoded or raw PCM payload, depending on Codec.
	Data []byte

	// Codec identifies how Data is encoded.
	Codec Codec

	// SampleRate in Hz (e.g. 8000 for mu-law telephony audio, 16000 for STT).
	SampleRate int

	// Channels: 1 for mono (the only channel count this module handles).
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Transcript represents a speech-to-text result from an STT provider. Both
// partial (interim) and final transcripts use this type.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal indicates whether this is a final (authoritative) or partial
	// (interim) transcript.
	IsFinal bool

	// Confidence is the overall confidence score (0.0-1.0). May be zero if
	// the provider does not report confidence.
	Confidence float64

	// Language is the BCP-47 language code reported for this transcript.
	Language string

	// Endpoint indicates the provider detected end-of-utterance (silence
	// following speech) at this token.
	Endpoint bool

	// Timestamp marks when the utterance started, relative to session start.
	Timestamp time.Duration

	// Duration is the length of the utterance.
	Duration time.Duration
}

// MessageRole identifies who or what produced a Message.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
)

// Message represents a single message in an LLM conversation history.
type Message struct {
	// Role identifies the speaker.
	Role MessageRole

	// Content is the text content of the message. Empty when the message
	// carries only ToolCalls.
	Content string

	// Name is an optional participant name.
	Name string

	// ToolCalls contains any tool invocations requested by the assistant.
	// Only meaningful when Role is RoleAssistant.
	ToolCalls []ToolCall

	// ToolCallID is set when Role is RoleTool, identifying which tool call
	// this message's Content answers.
	ToolCallID string
}

// ToolCall represents a tool/function invocation requested by the LLM.
type ToolCall struct {
	// ID is the unique identifier for this tool call (provider-assigned).
	ID string

	// Name is the tool/function name.
	Name string

	// Arguments is the JSON-encoded arguments string.
	Arguments string
}

// ToolDefinition describes a tool that can be offered to an LLM.
type ToolDefinition struct {
	// Name is the tool's unique identifier.
	Name string

	// Description explains what the tool does (included in LLM prompts).
	Description string

	// Parameters is the JSON Schema describing the tool's input parameters.
	Parameters map[string]any

	// EstimatedDurationMs is the declared p50 latency, surfaced to callers
	// that want to budget parallel tool execution. The orchestrator itself
	// never dispatches tools; this is metadata for the external resolver.
	EstimatedDurationMs int

	// Idempotent indicates whether the tool can be safely retried.
	Idempotent bool
}

// VoiceProfile describes a TTS voice configuration for an agent.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// PitchShift adjusts pitch (-10 to +10, 0 = default).
	PitchShift float64

	// SpeedFactor adjusts speaking rate (0.5-2.0, 1.0 = default).
	SpeedFactor float64
}

// ModelCapabilities describes what an LLM model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model can generate in one completion.
	MaxOutputTokens int

	// SupportsToolCalling indicates native function/tool calling support.
	SupportsToolCalling bool

	// SupportsStreaming indicates the model supports streaming completions.
	SupportsStreaming bool
}

// KeywordBoost represents a keyword to boost in STT recognition, used to
// improve recognition of domain-specific proper nouns.
type KeywordBoost struct {
	// Keyword is the text to boost.
	Keyword string

	// Boost is the intensity of the boost (provider-specific scale).
	Boost float64
}

// CallDirection identifies which party originated the telephony leg.
type CallDirection int

const (
	DirectionInbound CallDirection = iota
	DirectionOutbound
)

// String returns the human-readable name of the call direction.
func (d CallDirection) String() string {
	if d == DirectionOutbound {
		return "outbound"
	}
	return "inbound"
}

// AgentConfig is immutable for the duration of a session; it may only be
// replaced wholesale via an explicit reconfigure.
type AgentConfig struct {
	// SystemPrompt is installed on the LLM client at session start.
	SystemPrompt string

	// Greeting, if non-empty, is spoken at session start without an
	// intervening user turn.
	Greeting string

	// STTLanguage is the BCP-47 language hint passed to the STT provider.
	STTLanguage string

	// STTKeywords boosts recognition of domain-specific vocabulary.
	STTKeywords []KeywordBoost

	// STTAudioFormat selects the inbound codec hint sent to the STT
	// provider (e.g. "mulaw", "linear16"). Empty means the provider
	// default ("mulaw", spec.md §6).
	STTAudioFormat string

	// STTEnableEndpointDetection requests that the STT provider signal
	// end-of-utterance (Transcript.Endpoint) on final transcripts. The
	// Conversation Manager's turn-taking loop depends on this signal to
	// leave user_speaking (spec.md §4.1 step 5, §4.4); defaults to true.
	STTEnableEndpointDetection bool

	// STTEnableInterim requests low-latency interim transcripts for
	// barge-in detection; defaults to true.
	STTEnableInterim bool

	// LLMTemperature and LLMMaxTokens bound the completion request.
	LLMTemperature float64
	LLMMaxTokens   int

	// Voice selects the TTS voice for this session.
	Voice VoiceProfile

	// Tools are raw tool definitions in any of the three accepted input
	// shapes; the LLM client normalizes them on configure.
	Tools []map[string]any

	// SilenceTimeoutMs is the idle-caller timeout in milliseconds. Zero
	// means use the component default (30000).
	SilenceTimeoutMs int

	// BargeInEnabled controls whether caller speech during agent_speaking
	// interrupts synthesis.
	BargeInEnabled bool
}

// CostRates holds the per-unit billing rates used for cost aggregation at
// disconnect. Zero-value rates make the corresponding cost component zero.
type CostRates struct {
	// STTPerSecond is cost per second of audio sent to the STT provider.
	STTPerSecond float64

	// LLMInputPerToken and LLMOutputPerToken are cost per prompt/completion token.
	LLMInputPerToken  float64
	LLMOutputPerToken float64

	// TTSPerCharacter is cost per character of text synthesized.
	TTSPerCharacter float64
}

// CallCostBreakdown is the per-component and aggregate cost of a session,
// computed at disconnect.
type CallCostBreakdown struct {
	STTCost   float64
	LLMCost   float64
	TTSCost   float64
	TotalCost float64

	AudioSeconds      float64
	PromptTokens      int
	CompletionTokens  int
	CharactersSpoken  int
}
