// Package observe provides application-wide observability primitives for
// dialogcore: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all dialogcore metrics.
const meterName = "github.com/voxrelay/dialogcore"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks speech-to-text transcription latency, from final
	// transcript request to result.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks LLM completion latency, from stream start to
	// stream end.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech synthesis latency, from request to
	// audio.done.
	TTSDuration metric.Float64Histogram

	// TurnDuration tracks end-to-end turn latency: transcript.user to the
	// first audio.delta of the agent's reply.
	TurnDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ToolCalls counts function-call turns requested by the LLM. Use with
	// attribute: attribute.String("tool", ...)
	ToolCalls metric.Int64Counter

	// BargeIns counts caller interruptions of agent speech.
	BargeIns metric.Int64Counter

	// SilenceTimeouts counts silence.timeout events (caller silence past the
	// configured timeout); the session is not ended by them.
	SilenceTimeouts metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live calls.
	ActiveSessions metric.Int64UpDownCounter

	// --- Cost ---

	// SessionCost records the total cost of a completed session, broken
	// down by component. Use with attribute: attribute.String("component", ...)
	// where component is one of "stt", "llm", "tts", "total".
	SessionCost metric.Float64Histogram

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// costBuckets defines histogram bucket boundaries (in USD) for per-session
// cost tracking.
var costBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.STTDuration, err = m.Float64Histogram("dialogcore.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("dialogcore.llm.duration",
		metric.WithDescription("Latency of LLM completion streaming."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("dialogcore.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TurnDuration, err = m.Float64Histogram("dialogcore.turn.duration",
		metric.WithDescription("End-to-end turn latency from user transcript to first agent audio."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("dialogcore.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("dialogcore.tool.calls",
		metric.WithDescription("Total function-call turns requested by the LLM, by tool name."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("dialogcore.barge_ins",
		metric.WithDescription("Total caller interruptions of agent speech."),
	); err != nil {
		return nil, err
	}
	if met.SilenceTimeouts, err = m.Int64Counter("dialogcore.silence_timeouts",
		metric.WithDescription("Total caller silence timeouts."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("dialogcore.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("dialogcore.active_sessions",
		metric.WithDescription("Number of live calls."),
	); err != nil {
		return nil, err
	}

	// Cost histogram.
	if met.SessionCost, err = m.Float64Histogram("dialogcore.session.cost",
		metric.WithDescription("Per-session cost in USD, by component."),
		metric.WithUnit("{USD}"),
		metric.WithExplicitBucketBoundaries(costBuckets...),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("dialogcore.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordToolCall is a convenience method that records a tool-call counter
// increment with the standard attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, tool string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(attribute.String("tool", tool)),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordSessionCost records the per-component cost breakdown of a completed
// session.
func (m *Metrics) RecordSessionCost(ctx context.Context, sttCost, llmCost, ttsCost, totalCost float64) {
	m.SessionCost.Record(ctx, sttCost, metric.WithAttributes(attribute.String("component", "stt")))
	m.SessionCost.Record(ctx, llmCost, metric.WithAttributes(attribute.String("component", "llm")))
	m.SessionCost.Record(ctx, ttsCost, metric.WithAttributes(attribute.String("component", "tts")))
	m.SessionCost.Record(ctx, totalCost, metric.WithAttributes(attribute.String("component", "total")))
}
