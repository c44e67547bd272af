// Package analysis turns an uploaded audio file into a lyric [lyrics.Analysis]:
// a word-timed transcript, a line-paired translation and a short
// interpretation of the song.
//
// The [Pipeline] transcribes with an [stt.Provider], then runs translation
// and interpretation in parallel against an [llm.Provider]. Finished
// analyses are cached by audio digest and target language.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/sinfonia/internal/observe"
	"github.com/MrWong99/sinfonia/internal/store"
	"github.com/MrWong99/sinfonia/pkg/lyrics"
	"github.com/MrWong99/sinfonia/pkg/provider/llm"
	"github.com/MrWong99/sinfonia/pkg/provider/stt"
)

const (
	defaultTemperature = 0.3
	defaultMaxTokens   = 8192
)

var (
	// ErrInvalidRequest is returned for a request missing the audio path or
	// the target language.
	ErrInvalidRequest = errors.New("analysis: invalid request")

	// ErrNoLyrics is returned when transcription finds nothing sung.
	ErrNoLyrics = errors.New("analysis: no lyrics detected")

	// ErrMalformedResponse is returned when the model's reply cannot be
	// decoded.
	ErrMalformedResponse = errors.New("analysis: malformed model response")
)

// Request describes one analysis.
type Request struct {
	// AudioPath is the local path of the uploaded audio.
	AudioPath string

	// Filename is the client-supplied file name.
	Filename string

	// Digest is the hex SHA-256 of the audio. Empty disables caching for
	// this request.
	Digest string

	// TargetLanguage is the language to translate into, as given by the user
	// (e.g. "English", "de").
	TargetLanguage string

	// SourceLanguage is an optional transcription hint.
	SourceLanguage string
}

// Result is the outcome of [Pipeline.Analyze].
type Result struct {
	Analysis *lyrics.Analysis

	// Cached reports whether the analysis came from the cache.
	Cached bool
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithCache enables result caching.
func WithCache(s store.Store) Option {
	return func(p *Pipeline) { p.cache = s }
}

// WithTemperature sets the LLM sampling temperature. Default: 0.3.
func WithTemperature(t float64) Option {
	return func(p *Pipeline) { p.temperature = t }
}

// WithMaxTokens caps each LLM reply. Default: 8192.
func WithMaxTokens(n int) Option {
	return func(p *Pipeline) { p.maxTokens = n }
}

// WithProviderNames sets the provider labels used in metrics.
func WithProviderNames(sttName, llmName string) Option {
	return func(p *Pipeline) {
		p.sttName = sttName
		p.llmName = llmName
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// Pipeline runs analyses. It is safe for concurrent use.
type Pipeline struct {
	stt         stt.Provider
	llm         llm.Provider
	cache       store.Store
	temperature float64
	maxTokens   int
	sttName     string
	llmName     string
	log         *slog.Logger
	metrics     *observe.Metrics
}

// New creates a Pipeline. Both providers are required.
func New(transcriber stt.Provider, model llm.Provider, opts ...Option) (*Pipeline, error) {
	if transcriber == nil {
		return nil, errors.New("analysis: stt provider must not be nil")
	}
	if model == nil {
		return nil, errors.New("analysis: llm provider must not be nil")
	}
	p := &Pipeline{
		stt:         transcriber,
		llm:         model,
		temperature: defaultTemperature,
		maxTokens:   defaultMaxTokens,
		sttName:     "stt",
		llmName:     "llm",
	}
	for _, o := range opts {
		o(p)
	}
	if p.log == nil {
		p.log = slog.Default()
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p, nil
}

// Analyze runs the full pipeline for req, or returns the cached analysis.
// The returned analysis always satisfies [lyrics.Analysis.Validate].
func (p *Pipeline) Analyze(ctx context.Context, req Request) (*Result, error) {
	if req.AudioPath == "" {
		return nil, fmt.Errorf("%w: audio path is required", ErrInvalidRequest)
	}
	lang := strings.TrimSpace(req.TargetLanguage)
	if lang == "" {
		return nil, fmt.Errorf("%w: target language is required", ErrInvalidRequest)
	}

	ctx, span := observe.StartSpan(ctx, observe.SpanAnalyze)
	defer span.End()
	span.SetAttributes(observe.AttrTargetLanguage.String(lang))
	log := p.log.With("correlation_id", observe.CorrelationID(ctx), "filename", req.Filename)

	key := store.NewKey(req.Digest, lang)
	if p.cache != nil && req.Digest != "" {
		a, err := p.cache.Get(ctx, key)
		switch {
		case err == nil:
			p.metrics.RecordCacheLookup(ctx, true)
			span.SetAttributes(observe.AttrCached.Bool(true))
			log.Debug("analysis: cache hit", "key", key.String())
			return &Result{Analysis: a, Cached: true}, nil
		case errors.Is(err, store.ErrNotFound):
			p.metrics.RecordCacheLookup(ctx, false)
		default:
			log.Warn("analysis: cache lookup failed", "err", err)
		}
	}

	start := time.Now()
	a, err := p.run(ctx, req, lang)
	if err != nil {
		observe.Fail(span, err)
		return nil, err
	}
	elapsed := time.Since(start)
	p.metrics.AnalysisDuration.Record(ctx, elapsed.Seconds())
	log.Info("analysis: complete", "lines", len(a.Lyrics), "duration", elapsed)

	if p.cache != nil && req.Digest != "" {
		if err := p.cache.Put(ctx, key, a); err != nil {
			log.Warn("analysis: cache store failed", "err", err)
		}
	}
	return &Result{Analysis: a}, nil
}

func (p *Pipeline) run(ctx context.Context, req Request, lang string) (*lyrics.Analysis, error) {
	tr, err := p.transcribe(ctx, req)
	if err != nil {
		return nil, err
	}
	original := BuildLines(tr)
	if len(original) == 0 {
		return nil, ErrNoLyrics
	}

	var (
		translation []lyrics.Line
		meaning     lyrics.Meaning
	)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		lines, err := p.translate(egCtx, original, lang)
		if err != nil {
			return fmt.Errorf("analysis: translate: %w", err)
		}
		translation = lines
		return nil
	})
	eg.Go(func() error {
		m, err := p.interpret(egCtx, original, lang)
		if err != nil {
			return fmt.Errorf("analysis: interpret: %w", err)
		}
		meaning = m
		return nil
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	a := &lyrics.Analysis{
		Lyrics:      original,
		Translation: PairTranslation(original, translation),
		Meaning:     meaning,
	}
	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("analysis: %w", err)
	}
	return a, nil
}

func (p *Pipeline) transcribe(ctx context.Context, req Request) (*stt.Transcript, error) {
	ctx, span := observe.StartSpan(ctx, observe.SpanTranscribe,
		trace.WithAttributes(observe.AttrProvider.String(p.sttName)))
	defer span.End()

	start := time.Now()
	tr, err := p.stt.Transcribe(ctx, stt.Request{
		AudioPath: req.AudioPath,
		Filename:  req.Filename,
		Language:  req.SourceLanguage,
	})
	p.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		p.metrics.RecordProviderRequest(ctx, p.sttName, "stt", "error")
		p.metrics.RecordProviderError(ctx, p.sttName, "stt")
		observe.Fail(span, err)
		return nil, fmt.Errorf("analysis: transcribe: %w", err)
	}
	p.metrics.RecordProviderRequest(ctx, p.sttName, "stt", "ok")
	span.SetAttributes(attribute.Int("segments", len(tr.Segments)))
	return tr, nil
}

// complete runs one JSON-mode completion under a span named task and
// records its metrics.
func (p *Pipeline) complete(ctx context.Context, task, system, user string) (string, error) {
	ctx, span := observe.StartSpan(ctx, task,
		trace.WithAttributes(observe.AttrProvider.String(p.llmName)))
	defer span.End()

	start := time.Now()
	resp, err := p.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: system,
		Messages:     []llm.Message{llm.User(user)},
		Temperature:  p.temperature,
		MaxTokens:    p.maxTokens,
		JSON:         true,
	})
	p.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		p.metrics.RecordProviderRequest(ctx, p.llmName, "llm", "error")
		p.metrics.RecordProviderError(ctx, p.llmName, "llm")
		observe.Fail(span, err)
		return "", err
	}
	p.metrics.RecordProviderRequest(ctx, p.llmName, "llm", "ok")
	span.SetAttributes(attribute.Int("completion_tokens", resp.Usage.CompletionTokens))
	return resp.Content, nil
}
