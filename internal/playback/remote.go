package playback

import (
	"math"
	"sync"
	"time"
)

// Report is a position/lifecycle report from a remote host.
//
// A zero Type is a plain position update: it re-anchors the extrapolated
// position without emitting an event.
type Report struct {
	Type EventType
	// Position is the host position in seconds at time At.
	Position float64
	// Rate is the playback rate. Non-positive values mean 1.
	Rate float64
	// At is when the host observed Position. Zero means now.
	At time.Time
}

// RemoteTransport is a [Transport] fed by reports from a remote media
// element. Between reports, the position of a playing transport is
// extrapolated from the last report using the wall clock and the playback
// rate, which keeps per-frame sampling smooth even when the host reports
// coarsely.
//
// RemoteTransport is safe for concurrent use.
type RemoteTransport struct {
	now func() time.Time

	mu     sync.Mutex
	state  State
	pos    float64
	rate   float64
	at     time.Time
	closed bool
	subs   []subscriber
	nextID int
}

type subscriber struct {
	id int
	fn func(Event)
}

// RemoteOption is a functional option for [NewRemoteTransport].
type RemoteOption func(*RemoteTransport)

// WithNow sets the clock used for extrapolation. Default: [time.Now].
func WithNow(now func() time.Time) RemoteOption {
	return func(t *RemoteTransport) { t.now = now }
}

// NewRemoteTransport returns a stopped transport at position 0.
func NewRemoteTransport(opts ...RemoteOption) *RemoteTransport {
	t := &RemoteTransport{now: time.Now, rate: 1}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

var _ Transport = (*RemoteTransport)(nil)

// Report applies a host report and notifies subscribers of lifecycle events.
// Subscribers are called on the caller's goroutine after the new state is
// visible. Returns [ErrTransportClosed] after [RemoteTransport.Close].
func (t *RemoteTransport) Report(r Report) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTransportClosed
	}

	at := r.At
	if at.IsZero() {
		at = t.now()
	}
	rate := r.Rate
	if rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		rate = 1
	}
	pos := r.Position
	if pos < 0 || math.IsNaN(pos) || math.IsInf(pos, 0) {
		pos = 0
	}
	t.pos, t.rate, t.at = pos, rate, at

	switch r.Type {
	case EventPlay:
		t.state = StatePlaying
	case EventPause:
		t.state = StatePaused
	case EventEnded:
		t.state = StateEnded
	}

	var subs []subscriber
	if r.Type != 0 {
		subs = append(subs, t.subs...)
	}
	t.mu.Unlock()

	ev := Event{Type: r.Type, Position: pos}
	for _, s := range subs {
		s.fn(ev)
	}
	return nil
}

// Position returns the extrapolated position in seconds.
func (t *RemoteTransport) Position() (float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, ErrTransportClosed
	}
	if t.state != StatePlaying {
		return t.pos, nil
	}
	elapsed := t.now().Sub(t.at).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	return t.pos + elapsed*t.rate, nil
}

// State returns the lifecycle state from the last report.
func (t *RemoteTransport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Subscribe registers fn for lifecycle events.
func (t *RemoteTransport) Subscribe(fn func(Event)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return func() {}
	}
	t.nextID++
	id := t.nextID
	t.subs = append(t.subs, subscriber{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			for i, s := range t.subs {
				if s.id == id {
					t.subs = append(t.subs[:i:i], t.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Close drops all subscribers. Afterwards Position returns
// [ErrTransportClosed] and reports are rejected. Close is idempotent.
func (t *RemoteTransport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.subs = nil
}
