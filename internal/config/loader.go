package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind. Used by
// [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "gemini", "deepseek", "mistral", "groq"},
	"stt": {"deepgram", "whisper"},
	"tts": {"elevenlabs", "google", "coqui"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)

	// Provider availability
	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required"))
	}
	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required"))
	}
	if cfg.Providers.TTS.Name == "" {
		errs = append(errs, errors.New("providers.tts.name is required"))
	}

	// Agent
	if cfg.Agent.SystemPrompt == "" {
		slog.Warn("agent.system_prompt is empty; the LLM will receive no system instructions")
	}
	if cfg.Agent.Voice.SpeedFactor != 0 {
		if cfg.Agent.Voice.SpeedFactor < 0.5 || cfg.Agent.Voice.SpeedFactor > 2.0 {
			errs = append(errs, fmt.Errorf("agent.voice.speed_factor %.2f is out of range [0.5, 2.0]", cfg.Agent.Voice.SpeedFactor))
		}
	}
	if cfg.Agent.Voice.PitchShift < -10 || cfg.Agent.Voice.PitchShift > 10 {
		errs = append(errs, fmt.Errorf("agent.voice.pitch_shift %.2f is out of range [-10, 10]", cfg.Agent.Voice.PitchShift))
	}
	if cfg.Agent.SilenceTimeoutMs < 0 {
		errs = append(errs, fmt.Errorf("agent.silence_timeout_ms %d must not be negative", cfg.Agent.SilenceTimeoutMs))
	}
	if cfg.Agent.Voice.Provider != "" && cfg.Providers.TTS.Name != "" && cfg.Agent.Voice.Provider != cfg.Providers.TTS.Name {
		slog.Warn("agent voice provider does not match configured TTS provider",
			"voice_provider", cfg.Agent.Voice.Provider,
			"tts_provider", cfg.Providers.TTS.Name,
		)
	}

	// Cost rates — negative rates would produce a negative bill, which can
	// only be a misconfiguration.
	for name, rate := range map[string]float64{
		"costs.stt_per_second":       cfg.Costs.STTPerSecond,
		"costs.llm_input_per_token":  cfg.Costs.LLMInputPerToken,
		"costs.llm_output_per_token": cfg.Costs.LLMOutputPerToken,
		"costs.tts_per_character":    cfg.Costs.TTSPerCharacter,
	} {
		if rate < 0 {
			errs = append(errs, fmt.Errorf("%s %.6f must not be negative", name, rate))
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
