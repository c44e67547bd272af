package observe

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// sessionScopedInstruments are recorded with [AttrSessionID] when the
// recording context carries a session.
var sessionScopedInstruments = []string{
	"sinfonia.activation.changes",
	"sinfonia.viewsync.scrolls",
}

// ProviderConfig configures the OpenTelemetry SDK providers.
type ProviderConfig struct {
	// ServiceName defaults to "sinfonia".
	ServiceName    string
	ServiceVersion string

	// Environment is reported as deployment.environment when set.
	Environment string

	// InstanceID is reported as service.instance.id. Default: a random UUID.
	InstanceID string

	// SessionMetrics keeps the per-session attribute on the sync instruments.
	// Off by default: every session would become its own time series.
	SessionMetrics bool

	// TraceSampleRatio samples root spans at this ratio. Values outside
	// (0, 1) sample everything.
	TraceSampleRatio float64

	// TraceExporter receives finished spans. When nil spans are recorded but
	// not exported.
	TraceExporter sdktrace.SpanExporter

	// MetricReader replaces the Prometheus exporter.
	MetricReader sdkmetric.Reader
}

// Resource describes this Sinfonia process.
func (c ProviderConfig) Resource() (*resource.Resource, error) {
	if c.ServiceName == "" {
		c.ServiceName = "sinfonia"
	}
	if c.InstanceID == "" {
		c.InstanceID = uuid.NewString()
	}
	attrs := []attribute.KeyValue{
		semconv.ServiceName(c.ServiceName),
		semconv.ServiceInstanceID(c.InstanceID),
	}
	if c.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(c.ServiceVersion))
	}
	if c.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(c.Environment))
	}
	return resource.Merge(resource.Default(), resource.NewWithAttributes(semconv.SchemaURL, attrs...))
}

// views drops the session attribute from the sync instruments unless
// per-session series were requested.
func (c ProviderConfig) views() []sdkmetric.View {
	if c.SessionMetrics {
		return nil
	}
	views := make([]sdkmetric.View, 0, len(sessionScopedInstruments))
	for _, name := range sessionScopedInstruments {
		views = append(views, sdkmetric.NewView(
			sdkmetric.Instrument{Name: name},
			sdkmetric.Stream{AttributeFilter: attribute.NewDenyKeysFilter(AttrSessionID)},
		))
	}
	return views
}

func (c ProviderConfig) sampler() sdktrace.Sampler {
	if c.TraceSampleRatio <= 0 || c.TraceSampleRatio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(c.TraceSampleRatio))
}

// InitProvider installs global meter and tracer providers. Metrics go to a
// Prometheus exporter (scraped via /metrics) unless cfg.MetricReader is set.
// The returned function flushes and closes both providers.
func InitProvider(ctx context.Context, cfg ProviderConfig) (shutdown func(context.Context) error, err error) {
	res, err := cfg.Resource()
	if err != nil {
		return nil, err
	}

	reader := cfg.MetricReader
	if reader == nil {
		if reader, err = promexporter.New(); err != nil {
			return nil, err
		}
	}
	mopts := []sdkmetric.Option{sdkmetric.WithResource(res), sdkmetric.WithReader(reader)}
	if views := cfg.views(); len(views) > 0 {
		mopts = append(mopts, sdkmetric.WithView(views...))
	}
	mp := sdkmetric.NewMeterProvider(mopts...)
	otel.SetMeterProvider(mp)

	topts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(cfg.sampler()),
	}
	if cfg.TraceExporter != nil {
		topts = append(topts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(topts...)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}
