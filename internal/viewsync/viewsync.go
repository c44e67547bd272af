// Package viewsync keeps the transcript panels of a view scrolled to the
// active line.
//
// A [Synchronizer] reacts to activation changes. When the active line
// changes it asks every [Panel] to bring the element bound to that line
// into the vertical centre with a smooth animation. Unchanged lines never
// trigger a scroll, a panel that has no element for the line is skipped
// without affecting the others, and a panel the user scrolled by hand is
// left alone for a short holdoff window.
package viewsync

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/sinfonia/internal/activation"
	"github.com/MrWong99/sinfonia/internal/observe"
)

// ErrNoElement is returned by [Panel.ScrollIntoView] when the panel has no
// element bound to the requested index.
var ErrNoElement = errors.New("viewsync: no element bound to index")

// DefaultUserScrollHoldoff is how long automatic scrolling of a panel stays
// suspended after the user scrolled it.
const DefaultUserScrollHoldoff = 1500 * time.Millisecond

// Block is the vertical alignment of a scrolled element.
type Block string

// Behavior is the scroll animation.
type Behavior string

const (
	BlockCenter    Block    = "center"
	BehaviorSmooth Behavior = "smooth"
)

// ScrollOptions describes how a panel should scroll.
type ScrollOptions struct {
	Block    Block
	Behavior Behavior
}

// centered is the only scroll request the synchronizer issues.
var centered = ScrollOptions{Block: BlockCenter, Behavior: BehaviorSmooth}

// Panel is a scrollable list of line elements, one per transcript line.
type Panel interface {
	// Name identifies the panel, e.g. "original" or "translation".
	Name() string

	// Len returns the number of line elements the panel holds.
	Len() int

	// ScrollIntoView scrolls the element at index according to opts.
	// Returns ErrNoElement when no element is bound to index.
	ScrollIntoView(index int, opts ScrollOptions) error
}

// Option is a functional option for [New].
type Option func(*Synchronizer)

// WithUserScrollHoldoff sets how long a panel stays untouched after a user
// scroll. Zero disables the holdoff.
func WithUserScrollHoldoff(d time.Duration) Option {
	return func(s *Synchronizer) { s.holdoff = d }
}

// WithLogger sets the logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Synchronizer) { s.log = l }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Synchronizer) { s.metrics = m }
}

// WithContext sets the context metrics are recorded with. Default:
// [context.Background].
func WithContext(ctx context.Context) Option {
	return func(s *Synchronizer) { s.ctx = ctx }
}

// WithClock overrides the time source used for the holdoff window.
func WithClock(now func() time.Time) Option {
	return func(s *Synchronizer) { s.now = now }
}

// Synchronizer scrolls panels on active-line changes. It is safe for
// concurrent use.
type Synchronizer struct {
	panels  []Panel
	holdoff time.Duration
	log     *slog.Logger
	metrics *observe.Metrics
	now     func() time.Time
	ctx     context.Context

	mu         sync.Mutex
	userScroll map[string]time.Time
	scrolls    int
}

// New returns a Synchronizer driving panels.
func New(panels []Panel, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		panels:     panels,
		holdoff:    DefaultUserScrollHoldoff,
		log:        slog.Default(),
		now:        time.Now,
		ctx:        context.Background(),
		userScroll: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// OnActivationChange scrolls every panel to next.Line when it differs from
// prev.Line. Word-only changes and a cleared activation do nothing.
func (s *Synchronizer) OnActivationChange(prev, next activation.State) {
	if next.Line < 0 || next.Line == prev.Line {
		return
	}
	ctx := s.ctx

	for _, p := range s.panels {
		name := p.Name()
		if next.Line >= p.Len() {
			s.metrics.RecordScroll(ctx, name, "skipped")
			continue
		}
		if s.suppressed(name) {
			s.metrics.RecordScroll(ctx, name, "suppressed")
			continue
		}

		err := p.ScrollIntoView(next.Line, centered)
		switch {
		case err == nil:
			s.mu.Lock()
			s.scrolls++
			s.mu.Unlock()
			s.metrics.RecordScroll(ctx, name, "ok")
		case errors.Is(err, ErrNoElement):
			s.metrics.RecordScroll(ctx, name, "skipped")
		default:
			s.log.Warn("viewsync: scroll failed", "panel", name, "line", next.Line, "err", err)
			s.metrics.RecordScroll(ctx, name, "error")
		}
	}
}

// NoteUserScroll records that the user scrolled the named panel by hand.
func (s *Synchronizer) NoteUserScroll(panel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userScroll[panel] = s.now()
}

// Scrolls returns the number of successful scroll requests so far.
func (s *Synchronizer) Scrolls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scrolls
}

// SetUserScrollHoldoff changes the holdoff window at runtime.
func (s *Synchronizer) SetUserScrollHoldoff(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holdoff = d
}

func (s *Synchronizer) suppressed(panel string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.userScroll[panel]
	if !ok || s.holdoff <= 0 {
		return false
	}
	if s.now().Sub(at) < s.holdoff {
		return true
	}
	delete(s.userScroll, panel)
	return false
}
