package config_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/voxrelay/dialogcore/internal/config"
	"github.com/voxrelay/dialogcore/pkg/provider/llm"
	"github.com/voxrelay/dialogcore/pkg/provider/stt"
	"github.com/voxrelay/dialogcore/pkg/provider/tts"
	"github.com/voxrelay/dialogcore/pkg/types"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":8080"
  log_level: info

providers:
  llm:
    name: openai
    api_key: sk-test
    model: gpt-4o
  stt:
    name: deepgram
    api_key: dg-test
  tts:
    name: elevenlabs
    api_key: el-test

agent:
  system_prompt: You are a helpful phone banking assistant.
  greeting: Thanks for calling, how can I help?
  voice:
    provider: elevenlabs
    voice_id: agent-v1
    speed_factor: 0.95
  stt_keywords:
    - keyword: routing number
      boost: 5
  tools:
    - name: lookup_balance
      description: look up account balance

costs:
  stt_per_second: 0.0125
  llm_input_per_token: 0.000005
  llm_output_per_token: 0.000015
  tts_per_character: 0.00003
`

// ── YAML loading ──────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("server.listen_addr: got %q, want %q", cfg.Server.ListenAddr, ":8080")
	}
	if cfg.Server.LogLevel != config.LogLevelInfo {
		t.Errorf("server.log_level: got %q, want %q", cfg.Server.LogLevel, config.LogLevelInfo)
	}
	if cfg.Providers.LLM.Name != "openai" {
		t.Errorf("providers.llm.name: got %q, want %q", cfg.Providers.LLM.Name, "openai")
	}
	if cfg.Agent.SystemPrompt == "" {
		t.Error("agent.system_prompt: got empty")
	}
	if cfg.Agent.Voice.SpeedFactor != 0.95 {
		t.Errorf("agent.voice.speed_factor: got %.2f, want 0.95", cfg.Agent.Voice.SpeedFactor)
	}
	if len(cfg.Agent.STTKeywords) != 1 || cfg.Agent.STTKeywords[0].Keyword != "routing number" {
		t.Errorf("agent.stt_keywords: got %+v", cfg.Agent.STTKeywords)
	}
	if cfg.Costs.STTPerSecond != 0.0125 {
		t.Errorf("costs.stt_per_second: got %.4f, want 0.0125", cfg.Costs.STTPerSecond)
	}
}

func TestLoadFromReader_EmptyMissingProviders(t *testing.T) {
	_, err := config.LoadFromReader(strings.NewReader("{}"))
	if err == nil {
		t.Fatal("expected error for missing required providers, got nil")
	}
	for _, want := range []string{"providers.llm.name", "providers.stt.name", "providers.tts.name"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %q, got: %v", want, err)
		}
	}
}

// ── Validation ────────────────────────────────────────────────────────────────

func TestValidate_InvalidLogLevel(t *testing.T) {
	yaml := `
server:
  log_level: verbose
providers:
  llm: {name: openai}
  stt: {name: deepgram}
  tts: {name: elevenlabs}
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log_level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestValidate_InvalidSpeedFactor(t *testing.T) {
	yaml := `
providers:
  llm: {name: openai}
  stt: {name: deepgram}
  tts: {name: elevenlabs}
agent:
  voice:
    speed_factor: 5.0
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid speed_factor, got nil")
	}
	if !strings.Contains(err.Error(), "speed_factor") {
		t.Errorf("error should mention speed_factor, got: %v", err)
	}
}

func TestValidate_InvalidPitchShift(t *testing.T) {
	yaml := `
providers:
  llm: {name: openai}
  stt: {name: deepgram}
  tts: {name: elevenlabs}
agent:
  voice:
    pitch_shift: 50
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid pitch_shift, got nil")
	}
}

func TestValidate_NegativeSilenceTimeout(t *testing.T) {
	yaml := `
providers:
  llm: {name: openai}
  stt: {name: deepgram}
  tts: {name: elevenlabs}
agent:
  silence_timeout_ms: -1
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for negative silence_timeout_ms, got nil")
	}
}

func TestValidate_NegativeCostRate(t *testing.T) {
	yaml := `
providers:
  llm: {name: openai}
  stt: {name: deepgram}
  tts: {name: elevenlabs}
costs:
  stt_per_second: -0.01
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for negative cost rate, got nil")
	}
}

// ── AgentConfig / CostRates conversion ───────────────────────────────────────

func TestAgentConfig_ToAgentConfig(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rt := cfg.Agent.ToAgentConfig()
	if rt.SystemPrompt != cfg.Agent.SystemPrompt {
		t.Errorf("SystemPrompt mismatch: %q vs %q", rt.SystemPrompt, cfg.Agent.SystemPrompt)
	}
	if rt.Voice.ID != cfg.Agent.Voice.VoiceID {
		t.Errorf("Voice.ID mismatch: %q vs %q", rt.Voice.ID, cfg.Agent.Voice.VoiceID)
	}
	if len(rt.STTKeywords) != len(cfg.Agent.STTKeywords) {
		t.Fatalf("STTKeywords length mismatch")
	}
	if rt.STTAudioFormat != "mulaw" {
		t.Errorf("expected default STTAudioFormat 'mulaw', got %q", rt.STTAudioFormat)
	}
	if !rt.STTEnableEndpointDetection {
		t.Error("expected STTEnableEndpointDetection to default to true when unset")
	}
	if !rt.STTEnableInterim {
		t.Error("expected STTEnableInterim to default to true when unset")
	}
}

func TestAgentConfig_ToAgentConfig_ExplicitFalseOverridesDefault(t *testing.T) {
	yaml := `
providers:
  llm: {name: openai}
  stt: {name: deepgram}
  tts: {name: elevenlabs}
agent:
  stt_audio_format: linear16
  stt_enable_endpoint_detection: false
  stt_enable_interim: false
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rt := cfg.Agent.ToAgentConfig()
	if rt.STTAudioFormat != "linear16" {
		t.Errorf("expected STTAudioFormat 'linear16', got %q", rt.STTAudioFormat)
	}
	if rt.STTEnableEndpointDetection {
		t.Error("expected explicit false to override the true default for STTEnableEndpointDetection")
	}
	if rt.STTEnableInterim {
		t.Error("expected explicit false to override the true default for STTEnableInterim")
	}
}

func TestCostConfig_ToCostRates(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rates := cfg.Costs.ToCostRates()
	if rates.STTPerSecond != cfg.Costs.STTPerSecond {
		t.Errorf("STTPerSecond mismatch: %.6f vs %.6f", rates.STTPerSecond, cfg.Costs.STTPerSecond)
	}
}

// ── Registry ─────────────────────────────────────────────────────────────────

func TestRegistry_UnknownLLM(t *testing.T) {
	reg := config.NewRegistry()
	_, err := reg.CreateLLM(config.ProviderEntry{Name: "nonexistent"})
	if err == nil {
		t.Fatal("expected error for unknown LLM provider")
	}
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("expected ErrProviderNotRegistered, got: %v", err)
	}
}

func TestRegistry_UnknownSTT(t *testing.T) {
	reg := config.NewRegistry()
	_, err := reg.CreateSTT(config.ProviderEntry{Name: "nonexistent"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("expected ErrProviderNotRegistered, got: %v", err)
	}
}

func TestRegistry_UnknownTTS(t *testing.T) {
	reg := config.NewRegistry()
	_, err := reg.CreateTTS(config.ProviderEntry{Name: "nonexistent"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("expected ErrProviderNotRegistered, got: %v", err)
	}
}

// ── Registry with registered factories ───────────────────────────────────────

func TestRegistry_RegisteredLLM(t *testing.T) {
	reg := config.NewRegistry()
	want := &stubLLM{}
	reg.RegisterLLM("stub", func(e config.ProviderEntry) (llm.Provider, error) {
		return want, nil
	})
	got, err := reg.CreateLLM(config.ProviderEntry{Name: "stub"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Error("returned provider is not the expected instance")
	}
}

func TestRegistry_RegisteredSTT(t *testing.T) {
	reg := config.NewRegistry()
	want := &stubSTT{}
	reg.RegisterSTT("stub", func(e config.ProviderEntry) (stt.Provider, error) {
		return want, nil
	})
	got, err := reg.CreateSTT(config.ProviderEntry{Name: "stub"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Error("returned provider is not the expected instance")
	}
}

func TestRegistry_RegisteredTTS(t *testing.T) {
	reg := config.NewRegistry()
	want := &stubTTS{}
	reg.RegisterTTS("stub", func(e config.ProviderEntry) (tts.Provider, error) {
		return want, nil
	})
	got, err := reg.CreateTTS(config.ProviderEntry{Name: "stub"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Error("returned provider is not the expected instance")
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	reg := config.NewRegistry()
	wantErr := errors.New("factory boom")
	reg.RegisterLLM("broken", func(e config.ProviderEntry) (llm.Provider, error) {
		return nil, wantErr
	})
	_, err := reg.CreateLLM(config.ProviderEntry{Name: "broken"})
	if !errors.Is(err, wantErr) {
		t.Errorf("expected factory error %v, got %v", wantErr, err)
	}
}

// ── Stub implementations (satisfy interfaces for the compiler) ────────────────

// stubLLM implements llm.Provider with no-op methods.
type stubLLM struct{}

func (s *stubLLM) StreamCompletion(_ context.Context, _ llm.CompletionRequest) (<-chan llm.Chunk, error) {
	ch := make(chan llm.Chunk)
	close(ch)
	return ch, nil
}
func (s *stubLLM) Complete(_ context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return &llm.CompletionResponse{}, nil
}
func (s *stubLLM) CountTokens(_ []types.Message) (int, error)     { return 0, nil }
func (s *stubLLM) Capabilities() types.ModelCapabilities          { return types.ModelCapabilities{} }

// stubSTT implements stt.Provider.
type stubSTT struct{}

func (s *stubSTT) StartStream(_ context.Context, _ stt.StreamConfig) (stt.SessionHandle, error) {
	return nil, nil
}

// stubTTS implements tts.Provider.
type stubTTS struct{}

func (s *stubTTS) SynthesizeStream(_ context.Context, _ <-chan string, _ types.VoiceProfile) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}
func (s *stubTTS) ListVoices(_ context.Context) ([]types.VoiceProfile, error) { return nil, nil }
func (s *stubTTS) CloneVoice(_ context.Context, _ [][]byte) (*types.VoiceProfile, error) {
	return nil, nil
}
