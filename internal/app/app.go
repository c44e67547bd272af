// Package app wires all Sinfonia subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until its context ends, and Shutdown tears
// everything down in order.
//
// For testing, inject test doubles via functional options (WithProviders,
// WithCache, WithListener, etc.). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/sinfonia/internal/analysis"
	"github.com/MrWong99/sinfonia/internal/config"
	"github.com/MrWong99/sinfonia/internal/health"
	"github.com/MrWong99/sinfonia/internal/karaoke"
	"github.com/MrWong99/sinfonia/internal/media"
	"github.com/MrWong99/sinfonia/internal/observe"
	"github.com/MrWong99/sinfonia/internal/server"
	"github.com/MrWong99/sinfonia/internal/store"
	"github.com/MrWong99/sinfonia/internal/store/postgres"
)

const (
	readHeaderTimeout = 10 * time.Second

	minPruneInterval = time.Minute
	maxPruneInterval = time.Hour
)

// pruner is implemented by caches that can drop idle entries.
type pruner interface {
	Prune(ctx context.Context, maxIdle time.Duration) (int64, error)
}

// App owns all subsystem lifetimes.
type App struct {
	mu  sync.Mutex
	cfg *config.Config

	providers      *Providers
	registry       *config.Registry
	level          *slog.LevelVar
	log            *slog.Logger
	metrics        *observe.Metrics
	metricsHandler http.Handler
	listener       net.Listener
	pruneEvery     time.Duration

	// Subsystems, initialised in New and torn down in Shutdown.
	cache      store.Store
	files      *media.Store
	sessions   *karaoke.Manager
	pipeline   *analysis.Pipeline
	health     *health.Handler
	server     *server.Server
	httpServer *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithProviders injects the analysis backends instead of building them from
// the registry.
func WithProviders(p *Providers) Option {
	return func(a *App) { a.providers = p }
}

// WithRegistry sets the provider registry used to build providers from
// config. Default: a registry with all built-in providers.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithCache injects an analysis cache instead of creating one from config.
// The app takes ownership and closes it on Shutdown.
func WithCache(s store.Store) Option {
	return func(a *App) { a.cache = s }
}

// WithLevelVar sets the level variable adjusted when the log level is
// reloaded.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithMetrics sets the metrics instruments. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithListener makes Run serve on l instead of listening on
// cfg.Server.ListenAddr.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// WithPruneInterval overrides how often an idle cache is pruned.
func WithPruneInterval(d time.Duration) Option {
	return func(a *App) { a.pruneEvery = d }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. cfg must already be
// validated.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.level == nil {
		a.level = new(slog.LevelVar)
		a.level.Set(SlogLevel(cfg.Server.LogLevel))
	}

	// ── 1. Providers ─────────────────────────────────────────────────────
	if err := a.initProviders(); err != nil {
		return nil, fmt.Errorf("app: init providers: %w", err)
	}

	// ── 2. Analysis cache ────────────────────────────────────────────────
	if err := a.initCache(ctx); err != nil {
		return nil, fmt.Errorf("app: init cache: %w", err)
	}

	// ── 3. Media store ───────────────────────────────────────────────────
	files, err := media.NewStore(
		media.WithDir(cfg.Media.Dir),
		media.WithMaxBytes(cfg.Analysis.MaxUploadBytes),
		media.WithLogger(a.log),
		media.WithMetrics(a.metrics),
	)
	if err != nil {
		a.closeCache()
		return nil, fmt.Errorf("app: init media: %w", err)
	}
	a.files = files

	// ── 4. Sessions ──────────────────────────────────────────────────────
	a.sessions = karaoke.NewManager(karaoke.Config{
		FrameRate:         cfg.Playback.FrameRate,
		UserScrollHoldoff: cfg.Playback.UserScrollHoldoff,
		Logger:            a.log,
		Metrics:           a.metrics,
	})

	// ── 5. Analysis pipeline ─────────────────────────────────────────────
	if err := a.initPipeline(); err != nil {
		_ = a.files.Close()
		a.closeCache()
		return nil, fmt.Errorf("app: init pipeline: %w", err)
	}

	// ── 6. Health + HTTP surface ─────────────────────────────────────────
	a.initHealth()
	a.initServer()

	// Sessions release their files, so they go first.
	a.closers = append(a.closers, a.sessions.CloseAll, a.files.Close)
	if a.cache != nil {
		a.closers = append(a.closers, a.cache.Close)
	}
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initProviders builds the analysis backends from config unless injected.
func (a *App) initProviders() error {
	if a.providers != nil {
		if a.providers.STT == nil || a.providers.LLM == nil {
			return errNoProviders
		}
		return nil
	}
	if a.registry == nil {
		a.registry = config.NewRegistry()
		RegisterBuiltinProviders(a.registry, NewHTTPClient(a.cfg.Analysis.Timeout))
	}
	ps, err := BuildProviders(a.cfg, a.registry)
	if err != nil {
		return err
	}
	a.providers = ps
	return nil
}

// initCache opens the configured cache backend unless one was injected.
func (a *App) initCache(ctx context.Context) error {
	if a.cache == nil {
		switch a.cfg.Store.Backend {
		case config.StorePostgres:
			pg, err := postgres.NewStore(ctx, a.cfg.Store.PostgresDSN)
			if err != nil {
				return err
			}
			a.cache = pg
		case config.StoreNone:
			a.log.Info("analysis cache disabled")
			return nil
		default:
			a.cache = store.NewMemory(a.cfg.Store.MaxEntries)
		}
		a.log.Info("analysis cache ready", "backend", a.cfg.Store.Backend)
	}
	return nil
}

func (a *App) closeCache() {
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.log.Warn("close cache", "err", err)
		}
	}
}

func (a *App) initPipeline() error {
	cfg := a.cfg.Analysis
	opts := []analysis.Option{
		analysis.WithProviderNames(a.providers.STTName, a.providers.LLMName),
		analysis.WithLogger(a.log),
		analysis.WithMetrics(a.metrics),
	}
	if a.cache != nil {
		opts = append(opts, analysis.WithCache(a.cache))
	}
	if cfg.Temperature > 0 {
		opts = append(opts, analysis.WithTemperature(cfg.Temperature))
	}
	if cfg.MaxTokens > 0 {
		opts = append(opts, analysis.WithMaxTokens(cfg.MaxTokens))
	}
	p, err := analysis.New(a.providers.STT, a.providers.LLM, opts...)
	if err != nil {
		return err
	}
	a.pipeline = p
	return nil
}

func (a *App) initHealth() {
	checks := []health.Checker{{
		Name: "media",
		Check: func(context.Context) error {
			_, err := os.Stat(a.files.Dir())
			return err
		},
	}}
	if a.cache != nil {
		checks = append(checks, health.PingCheck("store", a.cache))
	}
	a.health = health.New(checks...).WithLogger(a.log)
}

func (a *App) initServer() {
	cfg := a.cfg
	opts := []server.Option{
		server.WithLogger(a.log),
		server.WithMetrics(a.metrics),
		server.WithHealth(a.health),
		server.WithAnalysisTimeout(cfg.Analysis.Timeout),
		server.WithDefaultTargetLanguage(cfg.Analysis.DefaultTargetLanguage),
		server.WithSourceLanguage(cfg.Analysis.SourceLanguage),
		server.WithCORSOrigins(cfg.Server.CORSOrigins),
	}
	if a.metricsHandler != nil {
		opts = append(opts, server.WithMetricsHandler(a.metricsHandler))
	}
	a.server = server.New(a.sessions, a.files, a.pipeline, opts...)
	a.httpServer = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(a.log.Handler(), slog.LevelWarn),
	}
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.httpServer.Handler }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP and runs background maintenance until ctx is cancelled,
// then drains and stops the HTTP server. It returns nil on a clean stop.
func (a *App) Run(ctx context.Context) error {
	a.mu.Lock()
	cfg := a.cfg
	a.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := a.serve(cfg.Server.TLS)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})

	if p, ok := a.cache.(pruner); ok && cfg.Store.MaxIdle > 0 {
		g.Go(func() error {
			a.pruneLoop(gctx, p, cfg.Store.MaxIdle)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		a.health.SetDraining(true)
		timeout := cfg.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = config.DefaultShutdownTimeout
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("app: http shutdown: %w", err)
		}
		return nil
	})

	a.log.Info("app running", "addr", a.Addr(), "tls", cfg.Server.TLS != nil)
	return g.Wait()
}

func (a *App) serve(tls *config.TLSConfig) error {
	if a.listener != nil {
		if tls != nil {
			return a.httpServer.ServeTLS(a.listener, tls.CertFile, tls.KeyFile)
		}
		return a.httpServer.Serve(a.listener)
	}
	if tls != nil {
		return a.httpServer.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
	}
	return a.httpServer.ListenAndServe()
}

// Addr returns the address Run serves on.
func (a *App) Addr() string {
	if a.listener != nil {
		return a.listener.Addr().String()
	}
	return a.httpServer.Addr
}

// pruneLoop periodically drops cache entries idle for longer than maxIdle.
func (a *App) pruneLoop(ctx context.Context, p pruner, maxIdle time.Duration) {
	every := a.pruneEvery
	if every <= 0 {
		every = min(max(maxIdle/4, minPruneInterval), maxPruneInterval)
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := p.Prune(ctx, maxIdle)
			if err != nil {
				if ctx.Err() == nil {
					a.log.Warn("cache prune failed", "err", err)
				}
				continue
			}
			if n > 0 {
				a.log.Info("cache pruned", "entries", n, "max_idle", maxIdle)
			}
		}
	}
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable fields of next and returns what
// changed. Other fields take effect on restart.
func (a *App) ApplyConfig(next *config.Config) config.ConfigDiff {
	a.mu.Lock()
	defer a.mu.Unlock()

	d := config.Diff(a.cfg, next)
	if d.LogLevelChanged {
		a.level.Set(SlogLevel(d.NewLogLevel))
		a.log.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.PlaybackChanged {
		a.sessions.Reconfigure(d.NewPlayback.FrameRate, d.NewPlayback.UserScrollHoldoff)
	}
	if d.CORSChanged {
		a.server.SetCORSOrigins(d.NewCORSOrigins)
	}
	a.cfg = next
	return d
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))
		a.health.SetDraining(true)

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// SlogLevel converts a config log level to a slog level.
func SlogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
