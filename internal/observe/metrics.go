// Package observe provides application-wide observability primitives for
// SoulScript: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all SoulScript metrics.
const meterName = "github.com/HemantKumar01/SoulScript"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ChunkDecodeDuration tracks base64 PCM chunk decode latency.
	ChunkDecodeDuration metric.Float64Histogram

	// PromptPushDuration tracks the latency of pushing the weighted prompt
	// set to the music session.
	PromptPushDuration metric.Float64Histogram

	// RefineDuration tracks LLM question-refinement latency.
	RefineDuration metric.Float64Histogram

	// --- Counters ---

	// PromptPushes counts weighted-prompt pushes. Use with attribute:
	//   attribute.String("status", "ok"|"error")
	PromptPushes metric.Int64Counter

	// AudioChunks counts received audio chunks by outcome. Use with attribute:
	//   attribute.String("status", "scheduled"|"dropped"|"discarded")
	AudioChunks metric.Int64Counter

	// Underruns counts playback underruns (the schedule cursor fell behind
	// the device clock).
	Underruns metric.Int64Counter

	// FilteredPrompts counts prompts rejected by the server-side filter.
	FilteredPrompts metric.Int64Counter

	// ToolCalls counts dialog tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// --- Error counters ---

	// SessionErrors counts live session failures by session kind. Use with
	// attribute: attribute.String("kind", "music"|"dialog")
	SessionErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveMusicSessions tracks the number of live music sessions.
	ActiveMusicSessions metric.Int64UpDownCounter

	// ActiveDialogSessions tracks the number of live dialog sessions.
	ActiveDialogSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for realtime audio-pipeline latencies.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ChunkDecodeDuration, err = m.Float64Histogram("soulscript.audio.decode.duration",
		metric.WithDescription("Latency of decoding a base64 PCM audio chunk."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PromptPushDuration, err = m.Float64Histogram("soulscript.prompts.push.duration",
		metric.WithDescription("Latency of pushing weighted prompts to the music session."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RefineDuration, err = m.Float64Histogram("soulscript.question.refine.duration",
		metric.WithDescription("Latency of LLM question refinement."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.PromptPushes, err = m.Int64Counter("soulscript.prompts.pushes",
		metric.WithDescription("Total weighted-prompt pushes by status."),
	); err != nil {
		return nil, err
	}
	if met.AudioChunks, err = m.Int64Counter("soulscript.audio.chunks",
		metric.WithDescription("Total received audio chunks by scheduling outcome."),
	); err != nil {
		return nil, err
	}
	if met.Underruns, err = m.Int64Counter("soulscript.audio.underruns",
		metric.WithDescription("Total playback underruns."),
	); err != nil {
		return nil, err
	}
	if met.FilteredPrompts, err = m.Int64Counter("soulscript.prompts.filtered",
		metric.WithDescription("Total prompts rejected by the server-side content filter."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("soulscript.tool.calls",
		metric.WithDescription("Total dialog tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.SessionErrors, err = m.Int64Counter("soulscript.session.errors",
		metric.WithDescription("Total live session failures by session kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveMusicSessions, err = m.Int64UpDownCounter("soulscript.active_music_sessions",
		metric.WithDescription("Number of live music sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveDialogSessions, err = m.Int64UpDownCounter("soulscript.active_dialog_sessions",
		metric.WithDescription("Number of live dialog sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("soulscript.http.request.duration",
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

// RecordPromptPush records a weighted-prompt push with its outcome.
func (m *Metrics) RecordPromptPush(ctx context.Context, status string) {
	m.PromptPushes.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordAudioChunk records a received audio chunk with its scheduling outcome.
func (m *Metrics) RecordAudioChunk(ctx context.Context, status string) {
	m.AudioChunks.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordToolCall records a dialog tool invocation with its outcome.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordSessionError records a live session failure.
func (m *Metrics) RecordSessionError(ctx context.Context, kind string) {
	m.SessionErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}
