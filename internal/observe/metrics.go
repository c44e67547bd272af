// Package observe provides application-wide observability primitives for
// Sinfonia: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all Sinfonia metrics.
const meterName = "github.com/MrWong99/sinfonia"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Sync engine ---

	// PlaybackSamples counts per-frame position samples taken while playing.
	PlaybackSamples metric.Int64Counter

	// PlaybackPositionErrors counts failed position reads. A failed read
	// stops sampling for the attached transport.
	PlaybackPositionErrors metric.Int64Counter

	// ActivationChanges counts active line/word transitions. Use with
	// attribute:
	//   attribute.String("level", "line"|"word")
	ActivationChanges metric.Int64Counter

	// ViewScrolls counts scroll commands issued to panels. Use with
	// attributes:
	//   attribute.String("panel", ...), attribute.String("status", ...)
	ViewScrolls metric.Int64Counter

	// --- Analysis pipeline ---

	// AnalysisDuration tracks end-to-end analysis latency.
	AnalysisDuration metric.Float64Histogram

	// AnalysisCache counts analysis cache lookups. Use with attribute:
	//   attribute.String("result", "hit"|"miss")
	AnalysisCache metric.Int64Counter

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks LLM inference latency.
	LLMDuration metric.Float64Histogram

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// UploadBytes records the size of accepted audio uploads.
	UploadBytes metric.Int64Histogram

	// --- Gauges ---

	// ActiveSessions tracks the number of live karaoke sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ConnectedViews tracks the number of hosts connected over the sync
	// channel across all sessions.
	ConnectedViews metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// provider and analysis latencies, which range from tens of milliseconds to
// minutes for long tracks.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120,
}

// sizeBuckets defines histogram bucket boundaries (in bytes) for uploads.
var sizeBuckets = []float64{
	64 << 10, 256 << 10, 1 << 20, 4 << 20, 8 << 20, 16 << 20, 32 << 20,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Sync engine.
	if met.PlaybackSamples, err = m.Int64Counter("sinfonia.playback.samples",
		metric.WithDescription("Total position samples taken while playing."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackPositionErrors, err = m.Int64Counter("sinfonia.playback.position_errors",
		metric.WithDescription("Total failed playback position reads."),
	); err != nil {
		return nil, err
	}
	if met.ActivationChanges, err = m.Int64Counter("sinfonia.activation.changes",
		metric.WithDescription("Total activation transitions by level."),
	); err != nil {
		return nil, err
	}
	if met.ViewScrolls, err = m.Int64Counter("sinfonia.viewsync.scrolls",
		metric.WithDescription("Total scroll commands by panel and status."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.AnalysisDuration, err = m.Float64Histogram("sinfonia.analysis.duration",
		metric.WithDescription("Latency of a full lyric analysis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.STTDuration, err = m.Float64Histogram("sinfonia.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("sinfonia.llm.duration",
		metric.WithDescription("Latency of LLM inference."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.UploadBytes, err = m.Int64Histogram("sinfonia.upload.bytes",
		metric.WithDescription("Size of accepted audio uploads."),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(sizeBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.AnalysisCache, err = m.Int64Counter("sinfonia.analysis.cache",
		metric.WithDescription("Total analysis cache lookups by result."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("sinfonia.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("sinfonia.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("sinfonia.active_sessions",
		metric.WithDescription("Number of live karaoke sessions."),
	); err != nil {
		return nil, err
	}
	if met.ConnectedViews, err = m.Int64UpDownCounter("sinfonia.connected_views",
		metric.WithDescription("Number of hosts connected over the sync channel."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("sinfonia.http.request.duration",
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

// RecordActivationChange records an activation transition at the given
// level ("line" or "word"), tagged with the session in ctx.
func (m *Metrics) RecordActivationChange(ctx context.Context, level string) {
	m.ActivationChanges.Add(ctx, 1,
		metric.WithAttributes(withSession(ctx, attribute.String("level", level))...),
	)
}

// RecordScroll records a scroll command for panel with the given status
// ("ok", "skipped", "suppressed", "error"), tagged with the session in ctx.
func (m *Metrics) RecordScroll(ctx context.Context, panel, status string) {
	m.ViewScrolls.Add(ctx, 1,
		metric.WithAttributes(withSession(ctx,
			attribute.String("panel", panel),
			attribute.String("status", status),
		)...),
	)
}

// withSession appends the session attribute when ctx carries a session ID.
// [InitProvider] filters it out unless per-session series are enabled.
func withSession(ctx context.Context, attrs ...attribute.KeyValue) []attribute.KeyValue {
	if id := SessionID(ctx); id != "" {
		attrs = append(attrs, AttrSessionID.String(id))
	}
	return attrs
}

// RecordCacheLookup records an analysis cache hit or miss.
func (m *Metrics) RecordCacheLookup(ctx context.Context, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.AnalysisCache.Add(ctx, 1,
		metric.WithAttributes(attribute.String("result", result)),
	)
}
