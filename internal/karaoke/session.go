// Package karaoke owns the lifetime of a lyric sync session: the immutable
// transcript, the audio resource it plays, and the sync engine that keeps an
// attached view highlighted and scrolled in time with playback.
package karaoke

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/sinfonia/internal/activation"
	"github.com/MrWong99/sinfonia/internal/observe"
	"github.com/MrWong99/sinfonia/internal/playback"
	"github.com/MrWong99/sinfonia/internal/viewsync"
	"github.com/MrWong99/sinfonia/pkg/lyrics"
)

// ErrSessionClosed is returned when operating on a closed session.
var ErrSessionClosed = errors.New("karaoke: session closed")

// Resource is an acquired audio file. Release must be safe to call more
// than once.
type Resource interface {
	// ID identifies the resource.
	ID() string
	// Path is the local file path of the audio.
	Path() string
	// Release frees the resource.
	Release() error
}

// Listener receives sync notifications. Calls are sequential and come from
// the sampling goroutine of the attached transport.
type Listener interface {
	// OnTimeUpdate is called once per sampled frame with the position in
	// seconds.
	OnTimeUpdate(seconds float64)

	// OnActivationChange is called when the active line or word changes.
	OnActivationChange(prev, next activation.State)
}

// View is what a host presents: a listener plus the scrollable panels the
// synchronizer drives.
type View interface {
	Listener
	Panels() []viewsync.Panel
}

// Config configures the sync engine of a session.
type Config struct {
	// FrameRate is the sampling cadence while playing. Zero means
	// playback.DefaultFrameRate.
	FrameRate int

	// Clock, when set, overrides FrameRate.
	Clock playback.ClockFactory

	// UserScrollHoldoff is how long a hand-scrolled panel is left alone.
	// Zero means viewsync.DefaultUserScrollHoldoff; negative disables it.
	UserScrollHoldoff time.Duration

	Logger  *slog.Logger
	Metrics *observe.Metrics
}

func (c Config) withDefaults() Config {
	if c.FrameRate <= 0 {
		c.FrameRate = playback.DefaultFrameRate
	}
	if c.UserScrollHoldoff == 0 {
		c.UserScrollHoldoff = viewsync.DefaultUserScrollHoldoff
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Metrics == nil {
		c.Metrics = observe.DefaultMetrics()
	}
	return c
}

// Session ties one transcript to one audio resource and at most one attached
// transport and view at a time.
//
// Per sampled frame, listeners get OnTimeUpdate, the activation is resolved,
// and only if it changed do listeners get OnActivationChange followed, on a
// line change, by the synchronizer scrolling the view's panels.
type Session struct {
	id        string
	analysis  *lyrics.Analysis
	timeline  *activation.Timeline
	createdAt time.Time
	log       *slog.Logger
	metrics   *observe.Metrics
	metricCtx context.Context // carries the session ID for metric attributes

	attachMu sync.Mutex // serialises Attach, Detach and Close

	mu         sync.Mutex
	cfg        Config
	resource   Resource
	obs        *playback.Observer
	view       View
	syncer     *viewsync.Synchronizer
	listeners  []Listener
	state      activation.State
	generation uint64
	closed     bool
	done       chan struct{}
}

// NewSession creates a session for analysis playing res. The analysis must
// pair its translation with its lyrics.
func NewSession(id string, analysis *lyrics.Analysis, res Resource, cfg Config) (*Session, error) {
	if err := analysis.Validate(); err != nil {
		return nil, fmt.Errorf("karaoke: new session: %w", err)
	}
	cfg = cfg.withDefaults()
	return &Session{
		id:        id,
		analysis:  analysis,
		timeline:  activation.NewTimeline(analysis.Lyrics),
		createdAt: time.Now().UTC(),
		log:       cfg.Logger.With("session_id", id),
		metrics:   cfg.Metrics,
		metricCtx: observe.WithSessionID(context.Background(), id),
		cfg:       cfg,
		resource:  res,
		state:     activation.None,
		done:      make(chan struct{}),
	}, nil
}

// ID returns the session ID.
func (s *Session) ID() string { return s.id }

// Analysis returns the session transcript. Callers must not modify it.
func (s *Session) Analysis() *lyrics.Analysis { return s.analysis }

// CreatedAt returns when the session was created.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Done is closed when the session is closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Resource returns the current audio resource.
func (s *Session) Resource() Resource {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resource
}

// State returns the last resolved activation state.
func (s *Session) State() activation.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Attach starts syncing v to t, replacing any current attachment. The
// returned release function detaches, but only if this attachment is still
// the current one, so a stale host disconnecting cannot tear down its
// replacement.
func (s *Session) Attach(t playback.Transport, v View) (release func(), err error) {
	s.attachMu.Lock()
	defer s.attachMu.Unlock()

	s.mu.Lock()
	closed := s.closed
	cfg := s.cfg
	s.mu.Unlock()
	if closed {
		return nil, ErrSessionClosed
	}

	s.detachLocked()

	clock := cfg.Clock
	if clock == nil {
		clock = playback.TickerClock(cfg.FrameRate)
	}
	obs := playback.New(s.onTime,
		playback.WithClock(clock),
		playback.WithLogger(s.log),
		playback.WithMetrics(s.metrics),
		playback.WithOnStop(func(err error) {
			if err != nil {
				s.log.Warn("karaoke: sampling stopped", "err", err)
			}
		}),
	)

	var syncer *viewsync.Synchronizer
	if v != nil {
		syncer = viewsync.New(v.Panels(),
			viewsync.WithUserScrollHoldoff(max(cfg.UserScrollHoldoff, 0)),
			viewsync.WithLogger(s.log),
			viewsync.WithMetrics(s.metrics),
			viewsync.WithContext(s.metricCtx),
		)
	}

	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.obs = obs
	s.view = v
	s.syncer = syncer
	s.state = activation.None
	s.mu.Unlock()

	obs.Attach(t)
	s.log.Debug("karaoke: transport attached")

	return func() {
		s.attachMu.Lock()
		defer s.attachMu.Unlock()
		s.mu.Lock()
		current := s.generation == gen
		s.mu.Unlock()
		if current {
			s.detachLocked()
		}
	}, nil
}

// Detach stops syncing the current attachment, if any. No notification is
// delivered after Detach returns.
func (s *Session) Detach() {
	s.attachMu.Lock()
	defer s.attachMu.Unlock()
	s.detachLocked()
}

// detachLocked requires attachMu.
func (s *Session) detachLocked() {
	s.mu.Lock()
	obs := s.obs
	s.obs = nil
	s.view = nil
	s.syncer = nil
	s.generation++
	s.mu.Unlock()

	if obs != nil {
		obs.Detach()
		s.log.Debug("karaoke: transport detached")
	}
}

// AddListener registers l for sync notifications and returns a function
// that removes it.
func (s *Session) AddListener(l Listener) (remove func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, x := range s.listeners {
			if x == l {
				s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

// NoteUserScroll suspends automatic scrolling of the named panel of the
// attached view for the holdoff window.
func (s *Session) NoteUserScroll(panel string) {
	s.mu.Lock()
	syncer := s.syncer
	s.mu.Unlock()
	if syncer != nil {
		syncer.NoteUserScroll(panel)
	}
}

// Reconfigure applies cfg to future attachments. The scroll holdoff also
// takes effect on the current attachment.
func (s *Session) Reconfigure(frameRate int, holdoff time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if frameRate > 0 {
		s.cfg.FrameRate = frameRate
	}
	if holdoff != 0 {
		s.cfg.UserScrollHoldoff = holdoff
	}
	if s.syncer != nil {
		s.syncer.SetUserScrollHoldoff(max(s.cfg.UserScrollHoldoff, 0))
	}
}

// ReplaceResource swaps the audio resource and releases the previous one.
func (s *Session) ReplaceResource(res Resource) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	old := s.resource
	s.resource = res
	s.mu.Unlock()

	if old == nil || old == res {
		return nil
	}
	if err := old.Release(); err != nil {
		return fmt.Errorf("karaoke: release audio %s: %w", old.ID(), err)
	}
	return nil
}

// Close detaches and releases the audio resource. It is idempotent.
func (s *Session) Close() error {
	s.attachMu.Lock()
	defer s.attachMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	s.mu.Unlock()

	s.detachLocked()

	s.mu.Lock()
	res := s.resource
	s.mu.Unlock()
	if res == nil {
		return nil
	}
	if err := res.Release(); err != nil {
		return fmt.Errorf("karaoke: release audio %s: %w", res.ID(), err)
	}
	return nil
}

// onTime runs on the sampling goroutine.
func (s *Session) onTime(pos float64) {
	s.mu.Lock()
	listeners := make([]Listener, 0, len(s.listeners)+1)
	if s.view != nil {
		listeners = append(listeners, s.view)
	}
	listeners = append(listeners, s.listeners...)
	syncer := s.syncer
	s.mu.Unlock()

	for _, l := range listeners {
		l.OnTimeUpdate(pos)
	}

	next := s.timeline.Resolve(pos)

	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()

	if next == prev {
		return
	}

	level := "word"
	if next.LineChanged(prev) {
		level = "line"
	}
	s.metrics.RecordActivationChange(s.metricCtx, level)

	for _, l := range listeners {
		l.OnActivationChange(prev, next)
	}
	if syncer != nil && next.LineChanged(prev) {
		syncer.OnActivationChange(prev, next)
	}
}
