package playback

import "time"

// DefaultFrameRate is the sampling cadence used when none is configured.
const DefaultFrameRate = 60

// FrameClock delivers frame ticks to a sampling loop.
type FrameClock interface {
	// C returns the channel on which ticks are delivered.
	C() <-chan time.Time
	// Stop releases the clock. No ticks are delivered after Stop returns.
	Stop()
}

// ClockFactory creates a fresh [FrameClock] for each sampling run.
type ClockFactory func() FrameClock

// tickerClock is a [FrameClock] backed by a [time.Ticker]. A ticker drops
// ticks for slow receivers, so a loop that falls behind samples at a coarser
// cadence instead of queueing stale frames.
type tickerClock struct {
	t *time.Ticker
}

func (c *tickerClock) C() <-chan time.Time { return c.t.C }
func (c *tickerClock) Stop()               { c.t.Stop() }

// TickerClock returns a ClockFactory producing tickers at fps frames per
// second. Non-positive rates fall back to [DefaultFrameRate].
func TickerClock(fps int) ClockFactory {
	if fps <= 0 {
		fps = DefaultFrameRate
	}
	interval := time.Second / time.Duration(fps)
	return func() FrameClock {
		return &tickerClock{t: time.NewTicker(interval)}
	}
}
