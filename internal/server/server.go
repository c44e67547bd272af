// Package server exposes the Sinfonia HTTP API: audio upload and analysis,
// session audio playback, and the WebSocket channel that keeps a host's
// lyric view in sync with its audio element.
//
// Routes:
//
//	GET    /                         banner
//	POST   /api/analyze              upload audio, analyse, start a session
//	GET    /api/sessions/{id}        session transcript and state
//	DELETE /api/sessions/{id}        end a session
//	GET    /api/sessions/{id}/audio  stream the session audio (Range aware)
//	PUT    /api/sessions/{id}/audio  replace the session audio
//	GET    /api/sessions/{id}/sync   WebSocket sync channel
//	GET    /healthz, /readyz         probes
//	GET    /metrics                  Prometheus scrape endpoint
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/MrWong99/sinfonia/internal/analysis"
	"github.com/MrWong99/sinfonia/internal/health"
	"github.com/MrWong99/sinfonia/internal/karaoke"
	"github.com/MrWong99/sinfonia/internal/media"
	"github.com/MrWong99/sinfonia/internal/observe"
	"github.com/MrWong99/sinfonia/internal/resilience"
)

// Defaults for [New].
const (
	DefaultAnalysisTimeout = 5 * time.Minute
	DefaultTargetLanguage  = "English"
)

// multipartOverhead is the room left above the media size limit for
// multipart boundaries and form fields.
const multipartOverhead = 1 << 20

// Analyzer runs the analysis pipeline. *analysis.Pipeline satisfies it.
type Analyzer interface {
	Analyze(ctx context.Context, req analysis.Request) (*analysis.Result, error)
}

var _ Analyzer = (*analysis.Pipeline)(nil)

// Option configures a [Server].
type Option func(*Server)

// WithLogger sets the server logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics sets the metrics instance. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithHealth mounts h under /healthz and /readyz.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetricsHandler mounts h under /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithAnalysisTimeout bounds a single analysis request.
func WithAnalysisTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.analysisTimeout = d
		}
	}
}

// WithDefaultTargetLanguage sets the language used when an upload names none.
func WithDefaultTargetLanguage(lang string) Option {
	return func(s *Server) {
		if lang != "" {
			s.defaultLang = lang
		}
	}
}

// WithSourceLanguage sets the transcription language hint passed to the
// pipeline.
func WithSourceLanguage(lang string) Option {
	return func(s *Server) { s.sourceLang = lang }
}

// WithCORSOrigins sets the allowed browser origins. See [Server.SetCORSOrigins].
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) { s.origins.set(origins) }
}

// Server serves the Sinfonia API. Create it with [New] and mount
// [Server.Handler] on an [http.Server].
type Server struct {
	sessions *karaoke.Manager
	files    *media.Store
	analyzer Analyzer

	health         *health.Handler
	metricsHandler http.Handler
	origins        *originPolicy

	analysisTimeout time.Duration
	defaultLang     string
	sourceLang      string

	log     *slog.Logger
	metrics *observe.Metrics
}

// New returns a server that creates sessions in sessions, stores uploads in
// files and analyses them with analyzer.
func New(sessions *karaoke.Manager, files *media.Store, analyzer Analyzer, opts ...Option) *Server {
	s := &Server{
		sessions:        sessions,
		files:           files,
		analyzer:        analyzer,
		origins:         newOriginPolicy(nil),
		analysisTimeout: DefaultAnalysisTimeout,
		defaultLang:     DefaultTargetLanguage,
		log:             slog.Default(),
		metrics:         observe.DefaultMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetCORSOrigins replaces the allowed browser origins. It is safe to call
// while serving; "*" allows any origin.
func (s *Server) SetCORSOrigins(origins []string) {
	s.origins.set(origins)
	s.log.Info("server: cors origins updated", "origins", origins)
}

// Handler returns the root handler with CORS, tracing and metrics applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("POST /api/analyze", s.handleAnalyze)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("GET /api/sessions/{id}/audio", s.handleAudio)
	mux.HandleFunc("PUT /api/sessions/{id}/audio", s.handleReplaceAudio)
	mux.HandleFunc("GET /api/sessions/{id}/sync", s.handleSync)
	if s.health != nil {
		s.health.Register(mux)
	}
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}
	return observe.Middleware(s.metrics)(s.origins.handler(mux))
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Sinfonia API is running"})
}

// errorBody mirrors the {"detail": ...} error shape API clients expect.
type errorBody struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorBody{Detail: detail})
}

// fail maps err to a status code and writes it. Server-side failures are
// logged with the request's trace context.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, detail := errorStatus(err)
	if status >= http.StatusInternalServerError {
		observe.Logger(r.Context()).Error("server: request failed",
			"method", r.Method, "path", r.URL.Path, "status", status, "err", err)
	}
	writeError(w, status, detail)
}

func errorStatus(err error) (int, string) {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, media.ErrTooLarge), errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge, "file too large"
	case errors.Is(err, media.ErrUnsupportedType):
		return http.StatusUnsupportedMediaType, "file must be an audio file"
	case errors.Is(err, errBadUpload), errors.Is(err, analysis.ErrInvalidRequest):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, analysis.ErrNoLyrics):
		return http.StatusUnprocessableEntity, "no lyrics detected in the audio"
	case errors.Is(err, karaoke.ErrSessionNotFound), errors.Is(err, karaoke.ErrSessionClosed):
		return http.StatusNotFound, "session not found"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "analysis timed out"
	case errors.Is(err, analysis.ErrMalformedResponse), errors.Is(err, resilience.ErrAllFailed),
		errors.Is(err, resilience.ErrCircuitOpen):
		return http.StatusBadGateway, err.Error()
	case errors.Is(err, media.ErrStoreClosed):
		return http.StatusServiceUnavailable, "server is shutting down"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}
