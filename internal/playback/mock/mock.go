// Package mock provides test doubles for the playback package.
//
// Use Transport to drive lifecycle events by hand and to control what
// Position returns. Use Clock to deliver frames one at a time so that
// sampling is fully deterministic:
//
//	clk := mock.NewClock()
//	obs := playback.New(onTime, playback.WithClock(clk.Factory()))
//	tr := &mock.Transport{}
//	obs.Attach(tr)
//	tr.Emit(playback.Event{Type: playback.EventPlay})
//	clk.TryTick(time.Second)
package mock

import (
	"sync"
	"time"

	"github.com/MrWong99/sinfonia/internal/playback"
)

// Transport is a mock implementation of playback.Transport.
type Transport struct {
	mu sync.Mutex

	// PositionValue is returned by Position.
	PositionValue float64

	// PositionErr, if non-nil, is returned as the error from Position.
	PositionErr error

	// StateValue is returned by State. Emit updates it for lifecycle events.
	StateValue playback.State

	// PositionCalls counts Position invocations.
	PositionCalls int

	subs   map[int]func(playback.Event)
	nextID int
}

// Position records the call and returns PositionValue, PositionErr.
func (t *Transport) Position() (float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.PositionCalls++
	return t.PositionValue, t.PositionErr
}

// State returns StateValue.
func (t *Transport) State() playback.State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.StateValue
}

// Subscribe registers fn. The returned function removes it.
func (t *Transport) Subscribe(fn func(playback.Event)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.subs == nil {
		t.subs = make(map[int]func(playback.Event))
	}
	t.nextID++
	id := t.nextID
	t.subs[id] = fn
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.subs, id)
	}
}

// SetPosition sets PositionValue. Thread-safe.
func (t *Transport) SetPosition(pos float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.PositionValue = pos
}

// SetPositionErr sets PositionErr. Thread-safe.
func (t *Transport) SetPositionErr(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.PositionErr = err
}

// Emit updates StateValue for lifecycle events and calls every subscriber
// synchronously on the calling goroutine.
func (t *Transport) Emit(ev playback.Event) {
	t.mu.Lock()
	switch ev.Type {
	case playback.EventPlay:
		t.StateValue = playback.StatePlaying
	case playback.EventPause:
		t.StateValue = playback.StatePaused
	case playback.EventEnded:
		t.StateValue = playback.StateEnded
	}
	fns := make([]func(playback.Event), 0, len(t.subs))
	for _, fn := range t.subs {
		fns = append(fns, fn)
	}
	t.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Subscribers returns the number of live subscriptions.
func (t *Transport) Subscribers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// Calls returns PositionCalls. Thread-safe.
func (t *Transport) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.PositionCalls
}

var _ playback.Transport = (*Transport)(nil)

// Clock is a manually driven playback.FrameClock. The same Clock is handed
// out for every sampling run; Starts and Stops count the runs.
type Clock struct {
	ch chan time.Time

	mu     sync.Mutex
	starts int
	stops  int
}

// NewClock returns a Clock with an unbuffered tick channel.
func NewClock() *Clock {
	return &Clock{ch: make(chan time.Time)}
}

// Factory returns a playback.ClockFactory that hands out c.
func (c *Clock) Factory() playback.ClockFactory {
	return func() playback.FrameClock {
		c.mu.Lock()
		c.starts++
		c.mu.Unlock()
		return c
	}
}

// C implements playback.FrameClock.
func (c *Clock) C() <-chan time.Time { return c.ch }

// Stop implements playback.FrameClock.
func (c *Clock) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops++
}

// TryTick delivers one frame and reports whether a sampling loop received it
// within timeout. Because the channel is unbuffered, a true result means the
// loop has taken the frame; a false result means nothing was sampling.
func (c *Clock) TryTick(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case c.ch <- time.Now():
		return true
	case <-timer.C:
		return false
	}
}

// Starts returns how many sampling runs have begun.
func (c *Clock) Starts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.starts
}

// Stops returns how many sampling runs have ended.
func (c *Clock) Stops() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stops
}

var _ playback.FrameClock = (*Clock)(nil)
