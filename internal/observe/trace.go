package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/sinfonia"

// Span names.
const (
	SpanAnalyze    = "analysis.Analyze"
	SpanTranscribe = "analysis.transcribe"
	SpanTranslate  = "analysis.translate"
	SpanInterpret  = "analysis.interpret"
	SpanSync       = "sync.connection"
)

// Span attribute keys.
const (
	AttrSessionID      = attribute.Key("sinfonia.session_id")
	AttrTargetLanguage = attribute.Key("sinfonia.target_language")
	AttrCached         = attribute.Key("sinfonia.cached")
	AttrProvider       = attribute.Key("sinfonia.provider")
)

type sessionKey struct{}

// Tracer returns the Sinfonia tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span. The caller must end it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartSessionSpan starts a span tagged with a karaoke session ID and
// stores the ID in the returned context for [Logger] and [SessionID].
func StartSessionSpan(ctx context.Context, name, sessionID string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	ctx = WithSessionID(ctx, sessionID)
	opts = append(opts, trace.WithAttributes(AttrSessionID.String(sessionID)))
	return Tracer().Start(ctx, name, opts...)
}

// Fail marks span as failed with err. A nil err is ignored.
func Fail(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// WithSessionID returns ctx carrying a karaoke session ID.
func WithSessionID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, sessionKey{}, id)
}

// SessionID returns the session ID stored in ctx, or "".
func SessionID(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}

// CorrelationID returns the trace ID of the span in ctx, or "" when there is
// none. It is echoed to HTTP clients as X-Correlation-ID.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger with trace_id, span_id and session_id
// attached when ctx carries them.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if id := SessionID(ctx); id != "" {
		l = l.With(slog.String("session_id", id))
	}
	return l
}
