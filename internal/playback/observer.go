package playback

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/sinfonia/internal/observe"
)

// eventSync is an internal event asking the loop to re-read the transport
// state. It is how attach becomes level-triggered.
const eventSync EventType = -1

// Option is a functional option for [New].
type Option func(*Observer)

// WithClock sets the factory used to create a frame clock for every
// sampling run. Overrides [WithFrameRate].
func WithClock(f ClockFactory) Option {
	return func(o *Observer) { o.clock = f }
}

// WithFrameRate sets the sampling cadence in frames per second.
func WithFrameRate(fps int) Option {
	return func(o *Observer) { o.clock = TickerClock(fps) }
}

// WithLogger sets the logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(o *Observer) { o.log = l }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Observer) { o.metrics = m }
}

// WithOnStop registers fn to be called on the sampling goroutine whenever a
// sampling run ends. err is non-nil when the run ended because the position
// could not be read.
func WithOnStop(fn func(err error)) Option {
	return func(o *Observer) { o.onStop = fn }
}

// Observer samples the position of an attached [Transport] once per frame
// while it is playing and passes each sample to the onTime callback.
//
// All callbacks run sequentially on one goroutine per attachment. Lifecycle
// events are handed to that goroutine and acknowledged before the
// transport's notification returns, so once a pause has been delivered no
// further sample is taken. Pending events are always handled before the
// next frame is sampled.
//
// Callbacks must not call Attach or Detach on the same Observer.
type Observer struct {
	onTime  func(float64)
	clock   ClockFactory
	log     *slog.Logger
	metrics *observe.Metrics
	onStop  func(error)

	mu       sync.Mutex // serialises Attach and Detach
	run      *attachment
	sampling atomic.Bool
}

// attachment is the state of one attached transport.
type attachment struct {
	t           Transport
	events      chan eventRequest
	quit        chan struct{}
	done        chan struct{}
	unsubscribe func()
}

// eventRequest carries an event to the loop and is acknowledged once the
// loop has acted on it.
type eventRequest struct {
	ev  Event
	ack chan struct{}
}

// New creates an Observer that calls onTime with the position in seconds for
// every frame sampled while playing.
func New(onTime func(float64), opts ...Option) *Observer {
	o := &Observer{
		onTime: onTime,
		clock:  TickerClock(DefaultFrameRate),
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o
}

// Attach starts observing t. Any previously attached transport is detached
// first. If t is already playing, sampling starts before Attach returns.
func (o *Observer) Attach(t Transport) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.detachLocked()

	a := &attachment{
		t:      t,
		events: make(chan eventRequest),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go o.loop(a)
	a.unsubscribe = t.Subscribe(a.deliver)
	o.run = a

	// Subscribed first, state read second, both on the loop goroutine in
	// order: a play that raced the subscription is not missed.
	a.deliver(Event{Type: eventSync})
}

// Detach stops sampling and unsubscribes from the attached transport. When
// Detach returns no further notification is delivered. Detaching when
// nothing is attached is a no-op.
func (o *Observer) Detach() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.detachLocked()
}

func (o *Observer) detachLocked() {
	a := o.run
	if a == nil {
		return
	}
	o.run = nil
	a.unsubscribe()
	close(a.quit)
	<-a.done
}

// Sampling reports whether a sampling run is active.
func (o *Observer) Sampling() bool {
	return o.sampling.Load()
}

// deliver hands ev to the loop and waits until it has been handled or the
// attachment is gone.
func (a *attachment) deliver(ev Event) {
	req := eventRequest{ev: ev, ack: make(chan struct{})}
	select {
	case a.events <- req:
	case <-a.done:
		return
	}
	select {
	case <-req.ack:
	case <-a.done:
	}
}

// loop is the single goroutine of an attachment. It owns the frame clock.
func (o *Observer) loop(a *attachment) {
	defer close(a.done)

	var clk FrameClock
	start := func() {
		if clk != nil {
			return
		}
		clk = o.clock()
		o.sampling.Store(true)
		o.log.Debug("playback: sampling started")
	}
	stop := func(err error) {
		if clk == nil {
			return
		}
		clk.Stop()
		clk = nil
		o.sampling.Store(false)
		o.log.Debug("playback: sampling stopped")
		if o.onStop != nil {
			o.onStop(err)
		}
	}
	defer stop(nil)

	handle := func(req eventRequest) {
		switch req.ev.Type {
		case EventPlay:
			start()
		case EventPause, EventEnded:
			stop(nil)
		case eventSync:
			if a.t.State() == StatePlaying {
				start()
			} else {
				stop(nil)
			}
		}
		close(req.ack)
	}

	for {
		var tick <-chan time.Time
		if clk != nil {
			tick = clk.C()
		}

		select {
		case <-a.quit:
			return
		case req := <-a.events:
			handle(req)
		case <-tick:
			// Lifecycle events that are already waiting win over the frame.
		drain:
			for {
				select {
				case req := <-a.events:
					handle(req)
				default:
					break drain
				}
			}
			if clk == nil {
				continue
			}
			select {
			case <-a.quit:
				return
			default:
			}

			pos, err := a.t.Position()
			if err != nil {
				o.log.Warn("playback: position read failed, sampling stopped", "err", err)
				o.metrics.PlaybackPositionErrors.Add(context.Background(), 1)
				stop(err)
				continue
			}
			o.metrics.PlaybackSamples.Add(context.Background(), 1)
			o.onTime(pos)
		}
	}
}
