package main

import (
	"fmt"
	"log/slog"

	"github.com/voxrelay/dialogcore/internal/config"
	"github.com/voxrelay/dialogcore/internal/resilience"
	"github.com/voxrelay/dialogcore/pkg/provider/llm"
	"github.com/voxrelay/dialogcore/pkg/provider/llm/anyllm"
	"github.com/voxrelay/dialogcore/pkg/provider/llm/openai"
	"github.com/voxrelay/dialogcore/pkg/provider/stt"
	"github.com/voxrelay/dialogcore/pkg/provider/stt/streamstt"
	"github.com/voxrelay/dialogcore/pkg/provider/tts"
	"github.com/voxrelay/dialogcore/pkg/provider/tts/coqui"
	"github.com/voxrelay/dialogcore/pkg/provider/tts/elevenlabs"
)

// anyllmBackedLLMs are provider names routed through the universal any-llm-go
// adapter rather than a dedicated client package.
var anyllmBackedLLMs = []string{"anthropic", "gemini", "deepseek", "mistral", "groq"}

// registerBuiltinProviders populates reg with the provider factories that
// ship with dialogcore. Mirrors the teacher's registerBuiltinProviders, but
// with real factory functions instead of debug-only placeholders, since
// dialogcore's provider packages are implemented.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterLLM("openai", func(e config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if e.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(e.BaseURL))
		}
		return openai.New(e.APIKey, e.Model, opts...)
	})
	for _, name := range anyllmBackedLLMs {
		name := name
		reg.RegisterLLM(name, func(e config.ProviderEntry) (llm.Provider, error) {
			return anyllm.New(name, e.Model)
		})
	}

	reg.RegisterSTT("deepgram", func(e config.ProviderEntry) (stt.Provider, error) {
		var opts []streamstt.Option
		if e.Model != "" {
			opts = append(opts, streamstt.WithModel(e.Model))
		}
		if e.BaseURL != "" {
			opts = append(opts, streamstt.WithEndpoint(e.BaseURL))
		}
		return streamstt.New(e.APIKey, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(e config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if e.Model != "" {
			opts = append(opts, elevenlabs.WithModel(e.Model))
		}
		return elevenlabs.New(e.APIKey, opts...)
	})
	reg.RegisterTTS("coqui", func(e config.ProviderEntry) (tts.Provider, error) {
		if e.BaseURL == "" {
			return nil, fmt.Errorf("coqui: base_url is required")
		}
		return coqui.New(e.BaseURL)
	})
}

// buildDependencies instantiates the LLM/STT/TTS providers named in cfg,
// wraps each in its resilience fallback group (so a circuit breaker guards
// every provider call even when no secondary backend is configured — the
// same fallback type the orchestrator composes regardless of fleet size),
// and returns them assembled into [orchestrator.Dependencies] fields.
func buildDependencies(cfg *config.Config, reg *config.Registry) (llm.Provider, stt.Provider, tts.Provider, error) {
	llmProvider, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create llm provider %q: %w", cfg.Providers.LLM.Name, err)
	}
	sttProvider, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create stt provider %q: %w", cfg.Providers.STT.Name, err)
	}
	ttsProvider, err := reg.CreateTTS(cfg.Providers.TTS)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create tts provider %q: %w", cfg.Providers.TTS.Name, err)
	}

	cbCfg := resilience.FallbackConfig{}

	llmFallback := resilience.NewLLMFallback(llmProvider, cfg.Providers.LLM.Name, cbCfg)
	sttFallback := resilience.NewSTTFallback(sttProvider, cfg.Providers.STT.Name, cbCfg)
	ttsFallback := resilience.NewTTSFallback(ttsProvider, cfg.Providers.TTS.Name, cbCfg)

	slog.Info("providers ready",
		"llm", cfg.Providers.LLM.Name,
		"stt", cfg.Providers.STT.Name,
		"tts", cfg.Providers.TTS.Name,
	)

	return llmFallback, sttFallback, ttsFallback, nil
}
