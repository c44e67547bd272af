package playback_test

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/sinfonia/internal/playback"
)

// fakeNow is a settable clock.
type fakeNow struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeNow) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeNow) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

func newRemote() (*playback.RemoteTransport, *fakeNow) {
	clk := &fakeNow{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	return playback.NewRemoteTransport(playback.WithNow(clk.Now)), clk
}

func mustPosition(t *testing.T, tr *playback.RemoteTransport) float64 {
	t.Helper()
	pos, err := tr.Position()
	if err != nil {
		t.Fatalf("Position: %v", err)
	}
	return pos
}

func TestRemoteTransport_ExtrapolatesWhilePlaying(t *testing.T) {
	tr, clk := newRemote()

	if err := tr.Report(playback.Report{Type: playback.EventPlay, Position: 10}); err != nil {
		t.Fatalf("Report: %v", err)
	}
	clk.Advance(1500 * time.Millisecond)
	if got := mustPosition(t, tr); math.Abs(got-11.5) > 1e-9 {
		t.Errorf("Position = %v, want 11.5", got)
	}

	// A plain time report re-anchors without an event.
	if err := tr.Report(playback.Report{Position: 20, Rate: 2}); err != nil {
		t.Fatalf("Report: %v", err)
	}
	clk.Advance(time.Second)
	if got := mustPosition(t, tr); math.Abs(got-22) > 1e-9 {
		t.Errorf("Position = %v, want 22", got)
	}
}

func TestRemoteTransport_FrozenWhenPaused(t *testing.T) {
	tr, clk := newRemote()
	_ = tr.Report(playback.Report{Type: playback.EventPlay, Position: 10})
	_ = tr.Report(playback.Report{Type: playback.EventPause, Position: 12})
	clk.Advance(5 * time.Second)

	if got := mustPosition(t, tr); got != 12 {
		t.Errorf("Position = %v, want 12", got)
	}
	if got := tr.State(); got != playback.StatePaused {
		t.Errorf("State = %v, want paused", got)
	}
}

func TestRemoteTransport_StateTransitions(t *testing.T) {
	tr, _ := newRemote()
	tests := []struct {
		ev   playback.EventType
		want playback.State
	}{
		{playback.EventPlay, playback.StatePlaying},
		{playback.EventSeek, playback.StatePlaying},
		{playback.EventPause, playback.StatePaused},
		{playback.EventSeek, playback.StatePaused},
		{playback.EventEnded, playback.StateEnded},
	}
	if tr.State() != playback.StateStopped {
		t.Fatalf("initial State = %v, want stopped", tr.State())
	}
	for _, tc := range tests {
		_ = tr.Report(playback.Report{Type: tc.ev})
		if got := tr.State(); got != tc.want {
			t.Errorf("after %v: State = %v, want %v", tc.ev, got, tc.want)
		}
	}
}

func TestRemoteTransport_NotifiesSubscribersInOrder(t *testing.T) {
	tr, _ := newRemote()
	var got []string
	unsubA := tr.Subscribe(func(ev playback.Event) { got = append(got, "a:"+ev.Type.String()) })
	tr.Subscribe(func(ev playback.Event) { got = append(got, "b:"+ev.Type.String()) })

	_ = tr.Report(playback.Report{Type: playback.EventPlay})
	_ = tr.Report(playback.Report{Position: 3}) // no event
	unsubA()
	unsubA()
	_ = tr.Report(playback.Report{Type: playback.EventPause})

	want := []string{"a:play", "b:play", "b:pause"}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("events[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRemoteTransport_SanitisesReports(t *testing.T) {
	tr, clk := newRemote()
	_ = tr.Report(playback.Report{Type: playback.EventPlay, Position: -4, Rate: math.NaN()})
	clk.Advance(time.Second)
	if got := mustPosition(t, tr); got != 1 {
		t.Errorf("Position = %v, want 1", got)
	}
}

func TestRemoteTransport_Close(t *testing.T) {
	tr, _ := newRemote()
	called := false
	tr.Subscribe(func(playback.Event) { called = true })
	tr.Close()
	tr.Close()

	if _, err := tr.Position(); !errors.Is(err, playback.ErrTransportClosed) {
		t.Errorf("Position err = %v, want ErrTransportClosed", err)
	}
	if err := tr.Report(playback.Report{Type: playback.EventPlay}); !errors.Is(err, playback.ErrTransportClosed) {
		t.Errorf("Report err = %v, want ErrTransportClosed", err)
	}
	if called {
		t.Error("subscriber called after close")
	}
}

func TestRemoteTransport_DrivesObserver(t *testing.T) {
	tr, clk := newRemote()
	h := newHarness(t)
	h.obs.Attach(tr)

	_ = tr.Report(playback.Report{Type: playback.EventPlay, Position: 1})
	clk.Advance(250 * time.Millisecond)
	if got := h.frame(t); math.Abs(got-1.25) > 1e-9 {
		t.Errorf("notification = %v, want 1.25", got)
	}

	tr.Close()
	if !h.clk.TryTick(tickTimeout) {
		t.Fatal("sampling loop did not take the frame")
	}
	select {
	case err := <-h.stops:
		if !errors.Is(err, playback.ErrTransportClosed) {
			t.Errorf("onStop err = %v, want ErrTransportClosed", err)
		}
	case <-time.After(tickTimeout):
		t.Fatal("closing the transport did not stop sampling")
	}
}
