// Package config provides the configuration schema, loader, and provider
// registry for the dialogcore voice orchestrator.
package config

import "github.com/voxrelay/dialogcore/pkg/types"

// Config is the root configuration structure for dialogcore. It is typically
// loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Agent     AgentConfig     `yaml:"agent"`
	Costs     CostConfig      `yaml:"costs"`
}

// LogLevel controls slog verbosity.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// IsValid reports whether l is one of the recognised log levels.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true
	default:
		return false
	}
}

// ServerConfig holds network and logging settings for the dialogcore process.
type ServerConfig struct {
	// ListenAddr is the TCP address the health/metrics server listens on
	// (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Valid values: "debug", "info", "warn", "error".
	LogLevel LogLevel `yaml:"log_level"`
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage. Each field selects a named provider registered in the
// [Registry].
type ProvidersConfig struct {
	LLM ProviderEntry `yaml:"llm"`
	STT ProviderEntry `yaml:"stt"`
	TTS ProviderEntry `yaml:"tts"`
}

// ProviderEntry is the common configuration block shared by all provider
// types. The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint. Leave empty to
	// use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o", "nova-2").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by
	// the standard fields above.
	Options map[string]any `yaml:"options"`
}

// VoiceConfig specifies the TTS voice parameters for the agent.
type VoiceConfig struct {
	// Provider is the TTS provider name (e.g., "elevenlabs", "google").
	Provider string `yaml:"provider"`

	// VoiceID is the provider-specific voice identifier.
	VoiceID string `yaml:"voice_id"`

	// PitchShift adjusts pitch in the range [-10, +10]. 0 means default.
	PitchShift float64 `yaml:"pitch_shift"`

	// SpeedFactor adjusts speaking rate in the range [0.5, 2.0]. 1.0 means default.
	SpeedFactor float64 `yaml:"speed_factor"`
}

// KeywordBoostEntry boosts recognition of a domain-specific term.
type KeywordBoostEntry struct {
	Keyword string  `yaml:"keyword"`
	Boost   float64 `yaml:"boost"`
}

// AgentConfig describes the single agent served for the lifetime of a call.
// Unlike the teacher's per-NPC list, dialogcore's config carries exactly one
// agent definition — each call is one agent talking to one caller.
type AgentConfig struct {
	// SystemPrompt is injected into the LLM system message at session start.
	SystemPrompt string `yaml:"system_prompt"`

	// Greeting, if non-empty, is spoken at session start without an
	// intervening caller turn.
	Greeting string `yaml:"greeting"`

	// STTLanguage is the BCP-47 language hint passed to the STT provider.
	STTLanguage string `yaml:"stt_language"`

	// STTKeywords boosts recognition of domain-specific vocabulary.
	STTKeywords []KeywordBoostEntry `yaml:"stt_keywords"`

	// STTAudioFormat selects the inbound codec hint sent to the STT
	// provider. Empty means the provider default ("mulaw", spec.md §6).
	STTAudioFormat string `yaml:"stt_audio_format"`

	// STTEnableEndpointDetection requests end-of-utterance signalling from
	// the STT provider. Nil means the spec.md §6 default (true).
	STTEnableEndpointDetection *bool `yaml:"stt_enable_endpoint_detection"`

	// STTEnableInterim requests low-latency interim transcripts. Nil means
	// the spec.md §6 default (true).
	STTEnableInterim *bool `yaml:"stt_enable_interim"`

	// LLMTemperature and LLMMaxTokens bound the completion request.
	LLMTemperature float64 `yaml:"llm_temperature"`
	LLMMaxTokens   int     `yaml:"llm_max_tokens"`

	// Voice selects the TTS voice for this agent.
	Voice VoiceConfig `yaml:"voice"`

	// Tools are raw tool definitions in any of the three shapes the LLM
	// client's normalizer accepts.
	Tools []map[string]any `yaml:"tools"`

	// SilenceTimeoutMs is the idle-caller timeout in milliseconds. Zero
	// means use the Conversation Manager's default.
	SilenceTimeoutMs int `yaml:"silence_timeout_ms"`

	// BargeInEnabled controls whether caller speech during agent_speaking
	// interrupts synthesis.
	BargeInEnabled bool `yaml:"barge_in_enabled"`
}

// CostConfig holds the per-unit billing rates used for cost aggregation at
// disconnect.
type CostConfig struct {
	STTPerSecond      float64 `yaml:"stt_per_second"`
	LLMInputPerToken  float64 `yaml:"llm_input_per_token"`
	LLMOutputPerToken float64 `yaml:"llm_output_per_token"`
	TTSPerCharacter   float64 `yaml:"tts_per_character"`
}

// ToAgentConfig converts the YAML agent schema into the runtime
// [types.AgentConfig] consumed by the Session Orchestrator.
func (a AgentConfig) ToAgentConfig() types.AgentConfig {
	keywords := make([]types.KeywordBoost, len(a.STTKeywords))
	for i, k := range a.STTKeywords {
		keywords[i] = types.KeywordBoost{Keyword: k.Keyword, Boost: k.Boost}
	}

	audioFormat := a.STTAudioFormat
	if audioFormat == "" {
		audioFormat = "mulaw"
	}
	enableEndpoint := true
	if a.STTEnableEndpointDetection != nil {
		enableEndpoint = *a.STTEnableEndpointDetection
	}
	enableInterim := true
	if a.STTEnableInterim != nil {
		enableInterim = *a.STTEnableInterim
	}

	return types.AgentConfig{
		SystemPrompt:               a.SystemPrompt,
		Greeting:                   a.Greeting,
		STTLanguage:                a.STTLanguage,
		STTKeywords:                keywords,
		STTAudioFormat:             audioFormat,
		STTEnableEndpointDetection: enableEndpoint,
		STTEnableInterim:           enableInterim,
		LLMTemperature:             a.LLMTemperature,
		LLMMaxTokens:               a.LLMMaxTokens,
		Voice: types.VoiceProfile{
			ID:          a.Voice.VoiceID,
			Provider:    a.Voice.Provider,
			PitchShift:  a.Voice.PitchShift,
			SpeedFactor: a.Voice.SpeedFactor,
		},
		Tools:            a.Tools,
		SilenceTimeoutMs: a.SilenceTimeoutMs,
		BargeInEnabled:   a.BargeInEnabled,
	}
}

// ToCostRates converts the YAML cost schema into [types.CostRates].
func (c CostConfig) ToCostRates() types.CostRates {
	return types.CostRates{
		STTPerSecond:      c.STTPerSecond,
		LLMInputPerToken:  c.LLMInputPerToken,
		LLMOutputPerToken: c.LLMOutputPerToken,
		TTSPerCharacter:   c.TTSPerCharacter,
	}
}
