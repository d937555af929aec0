// Package observe provides application-wide observability primitives for
// dictaphone: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all dictaphone metrics.
const meterName = "github.com/MrWong99/dictaphone"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Turn buffer ---

	// TurnResults counts terminal results. Attributes: kind
	// ("consolidated"|"empty"), reason.
	TurnResults metric.Int64Counter

	// TurnFinalizeDuration is the time from the user's stop intent to the
	// terminal result: the delay added while waiting for late transcription.
	TurnFinalizeDuration metric.Float64Histogram

	// ActiveRecordings tracks sessions that are not Idle.
	ActiveRecordings metric.Int64UpDownCounter

	// StaleTimerFires counts timer callbacks rejected by the generation guard.
	// Attribute: timer ("wait"|"drain").
	StaleTimerFires metric.Int64Counter

	// IgnoredEvents counts events that had no effect in the current state.
	// Attributes: event, state.
	IgnoredEvents metric.Int64Counter

	// TranscriptChunks counts STT results seen by the pipeline. Attribute:
	// final ("true"|"false").
	TranscriptChunks metric.Int64Counter

	// --- Providers ---

	// LLMDuration tracks formatter LLM latency.
	LLMDuration metric.Float64Histogram

	// ProviderRequests counts provider API calls. Attributes: provider, kind,
	// status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Attributes: provider, kind.
	ProviderErrors metric.Int64Counter

	// --- Connections ---

	// ActiveConnections tracks connected dictation clients.
	ActiveConnections metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	// method, path, status.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// dictation round trips.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 0.8, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Turn buffer.
	if met.TurnResults, err = m.Int64Counter("dictaphone.turn.results",
		metric.WithDescription("Terminal turn results by kind and reason."),
	); err != nil {
		return nil, err
	}
	if met.TurnFinalizeDuration, err = m.Float64Histogram("dictaphone.turn.finalize.duration",
		metric.WithDescription("Delay between stop-recording and the terminal result."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ActiveRecordings, err = m.Int64UpDownCounter("dictaphone.turn.active",
		metric.WithDescription("Number of recording sessions not in the idle state."),
	); err != nil {
		return nil, err
	}
	if met.StaleTimerFires, err = m.Int64Counter("dictaphone.turn.stale_timer_fires",
		metric.WithDescription("Timer callbacks discarded because their session had moved on."),
	); err != nil {
		return nil, err
	}
	if met.IgnoredEvents, err = m.Int64Counter("dictaphone.turn.ignored_events",
		metric.WithDescription("Events that had no effect in the current state."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptChunks, err = m.Int64Counter("dictaphone.stt.chunks",
		metric.WithDescription("Transcription results received from STT."),
	); err != nil {
		return nil, err
	}

	// Providers.
	if met.LLMDuration, err = m.Float64Histogram("dictaphone.llm.duration",
		metric.WithDescription("Latency of formatter LLM calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("dictaphone.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("dictaphone.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Connections.
	if met.ActiveConnections, err = m.Int64UpDownCounter("dictaphone.active_connections",
		metric.WithDescription("Number of connected dictation clients."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("dictaphone.http.request.duration",
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
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
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

// RecordTurnResult counts a terminal result and, when the user had asked to
// stop, the finalize delay.
func (m *Metrics) RecordTurnResult(ctx context.Context, kind, reason string, finalize time.Duration) {
	m.TurnResults.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("reason", reason),
	))
	if finalize >= 0 {
		m.TurnFinalizeDuration.Record(ctx, finalize.Seconds())
	}
}

// RecordIgnoredEvent counts an event that had no effect.
func (m *Metrics) RecordIgnoredEvent(ctx context.Context, event, state string) {
	m.IgnoredEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event", event),
		attribute.String("state", state),
	))
}

// RecordStaleTimer counts a timer callback rejected by the generation guard.
func (m *Metrics) RecordStaleTimer(ctx context.Context, timer string) {
	m.StaleTimerFires.Add(ctx, 1, metric.WithAttributes(attribute.String("timer", timer)))
}

// RecordProviderRequest records a provider request counter increment with
// the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
