// Command dialogcore is the process entry point for the voice-dialog
// orchestrator. It loads an agent configuration, wires up the STT/LLM/TTS
// providers it names, and serves a WebSocket "edge" endpoint standing in
// for the real telephony media gateway — one connection per call, driving
// one Session Orchestrator for the lifetime of that connection.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxrelay/dialogcore/internal/config"
	"github.com/voxrelay/dialogcore/internal/health"
	"github.com/voxrelay/dialogcore/internal/observe"
	"github.com/voxrelay/dialogcore/internal/orchestrator"
	"github.com/voxrelay/dialogcore/pkg/provider/stt"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "dialogcore: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "dialogcore: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("dialogcore starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Observability ─────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "dialogcore"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	metrics := observe.DefaultMetrics()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	llmProvider, sttProvider, ttsProvider, err := buildDependencies(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	agentCfg := cfg.Agent.ToAgentConfig()
	costRates := cfg.Costs.ToCostRates()
	streamCfg := stt.StreamConfig{
		SampleRate:              8000,
		Channels:                1,
		Language:                agentCfg.STTLanguage,
		Keywords:                agentCfg.STTKeywords,
		AudioFormat:             agentCfg.STTAudioFormat,
		EnableEndpointDetection: agentCfg.STTEnableEndpointDetection,
		EnableInterim:           agentCfg.STTEnableInterim,
	}

	// dialer constructs a fresh Orchestrator per incoming call, each getting
	// its own cost accumulators and Conversation Manager state, sharing the
	// same provider connections and metrics instrumentation.
	dialer := func() (*orchestrator.Orchestrator, error) {
		return orchestrator.New(orchestrator.Dependencies{
			STT:             sttProvider,
			LLM:             llmProvider,
			TTS:             ttsProvider,
			STTStreamConfig: streamCfg,
			CostRates:       costRates,
			Metrics:         metrics,
		}), nil
	}

	// ── HTTP: health, metrics, edge WebSocket ────────────────────────────────
	mux := http.NewServeMux()
	healthHandler := health.New(
		health.Checker{Name: "llm_provider", Check: func(context.Context) error {
			if llmProvider == nil {
				return fmt.Errorf("no llm provider configured")
			}
			return nil
		}},
		health.Checker{Name: "stt_provider", Check: func(context.Context) error {
			if sttProvider == nil {
				return fmt.Errorf("no stt provider configured")
			}
			return nil
		}},
		health.Checker{Name: "tts_provider", Check: func(context.Context) error {
			if ttsProvider == nil {
				return fmt.Errorf("no tts provider configured")
			}
			return nil
		}},
	)
	healthHandler.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("/v1/call", newEdgeServer(dialer, agentCfg))

	handler := observe.Middleware(metrics)(mux)

	listenAddr := cfg.Server.ListenAddr
	if listenAddr == "" {
		listenAddr = ":8080"
	}
	srv := &http.Server{Addr: listenAddr, Handler: handler}

	printStartupSummary(cfg)

	serveErrCh := make(chan error, 1)
	go func() {
		slog.Info("server ready — press Ctrl+C to shut down", "listen_addr", listenAddr)
		serveErrCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, stopping…")
	case err := <-serveErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			return 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        dialogcore — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Printf("║  Tools configured: %-19d ║\n", len(cfg.Agent.Tools))
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogLevelDebug:
		lvl = slog.LevelDebug
	case config.LogLevelWarn:
		lvl = slog.LevelWarn
	case config.LogLevelError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
