package karaoke_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/sinfonia/internal/activation"
	"github.com/MrWong99/sinfonia/internal/karaoke"
	"github.com/MrWong99/sinfonia/internal/playback"
	playbackmock "github.com/MrWong99/sinfonia/internal/playback/mock"
	"github.com/MrWong99/sinfonia/internal/viewsync"
	"github.com/MrWong99/sinfonia/pkg/lyrics"
)

// eventLog is a goroutine-safe ordered record of notifications.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, fmt.Sprintf(format, args...))
}

func (l *eventLog) take() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.events
	l.events = nil
	return out
}

// recordingView logs listener calls and scrolls into one shared log.
type recordingView struct {
	log    *eventLog
	panels []viewsync.Panel
}

func (v *recordingView) OnTimeUpdate(s float64) { v.log.add("time %g", s) }
func (v *recordingView) OnActivationChange(prev, next activation.State) {
	v.log.add("activation %d/%d -> %d/%d", prev.Line, prev.Word, next.Line, next.Word)
}
func (v *recordingView) Panels() []viewsync.Panel { return v.panels }

type recordingPanel struct {
	name string
	n    int
	log  *eventLog
}

func (p *recordingPanel) Name() string { return p.name }
func (p *recordingPanel) Len() int     { return p.n }
func (p *recordingPanel) ScrollIntoView(i int, _ viewsync.ScrollOptions) error {
	p.log.add("scroll %s %d", p.name, i)
	return nil
}

func newView(n int) (*recordingView, *eventLog) {
	log := &eventLog{}
	return &recordingView{
		log: log,
		panels: []viewsync.Panel{
			&recordingPanel{name: "original", n: n, log: log},
			&recordingPanel{name: "translation", n: n, log: log},
		},
	}, log
}

// fakeResource counts releases.
type fakeResource struct {
	id string

	mu       sync.Mutex
	released int
	err      error
}

func (r *fakeResource) ID() string   { return r.id }
func (r *fakeResource) Path() string { return "/tmp/" + r.id }
func (r *fakeResource) Release() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.released++
	return r.err
}

func (r *fakeResource) Released() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.released
}

func testAnalysis() *lyrics.Analysis {
	return &lyrics.Analysis{
		Lyrics: []lyrics.Line{
			{Time: "0:05", Text: "first"},
			{Time: "0:10", Text: "second line", Words: []lyrics.Word{
				{Text: "second", StartTime: "0:12"},
				{Text: "line", StartTime: "0:13"},
			}},
		},
		Translation: []lyrics.Line{
			{Time: "0:05", Text: "primero"},
			{Time: "0:10", Text: "segunda línea"},
		},
	}
}

type rig struct {
	sess *karaoke.Session
	tr   *playbackmock.Transport
	clk  *playbackmock.Clock
	res  *fakeResource
}

func newRig(t *testing.T) *rig {
	t.Helper()
	clk := playbackmock.NewClock()
	res := &fakeResource{id: "audio-1"}
	sess, err := karaoke.NewSession("s1", testAnalysis(), res, karaoke.Config{Clock: clk.Factory()})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	t.Cleanup(func() { _ = sess.Close() })
	return &rig{sess: sess, tr: &playbackmock.Transport{}, clk: clk, res: res}
}

// frame samples pos and waits until the frame has been fully handled. The
// seek acts as a barrier: the loop only takes it after the frame finished.
func (r *rig) frame(t *testing.T, pos float64) {
	t.Helper()
	r.tr.SetPosition(pos)
	if !r.clk.TryTick(time.Second) {
		t.Fatal("sampling loop did not take the frame")
	}
	r.tr.Emit(playback.Event{Type: playback.EventSeek})
}

func equalEvents(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("events = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("events[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSession_NotificationOrder(t *testing.T) {
	r := newRig(t)
	view, log := newView(2)
	if _, err := r.sess.Attach(r.tr, view); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	r.tr.Emit(playback.Event{Type: playback.EventPlay})

	steps := []struct {
		pos  float64
		want []string
	}{
		{4, []string{"time 4"}},
		{5, []string{"time 5", "activation -1/-1 -> 0/-1", "scroll original 0", "scroll translation 0"}},
		{6, []string{"time 6"}},
		// Line 1 starts at its first word, not at its line time.
		{11, []string{"time 11"}},
		{12, []string{"time 12", "activation 0/-1 -> 1/0", "scroll original 1", "scroll translation 1"}},
		{13, []string{"time 13", "activation 1/0 -> 1/1"}},
		{13.5, []string{"time 13.5"}},
	}
	for _, st := range steps {
		r.frame(t, st.pos)
		equalEvents(t, log.take(), st.want)
	}

	if got := r.sess.State(); got != (activation.State{Line: 1, Word: 1}) {
		t.Errorf("State() = %+v, want line 1 word 1", got)
	}
}

func TestSession_SeekBackwardRescrolls(t *testing.T) {
	r := newRig(t)
	view, log := newView(2)
	_, _ = r.sess.Attach(r.tr, view)
	r.tr.Emit(playback.Event{Type: playback.EventPlay})

	r.frame(t, 12)
	log.take()
	r.frame(t, 7)
	equalEvents(t, log.take(), []string{
		"time 7", "activation 1/0 -> 0/-1", "scroll original 0", "scroll translation 0",
	})

	r.frame(t, 1)
	// Clearing the activation notifies listeners but never scrolls.
	equalEvents(t, log.take(), []string{"time 1", "activation 0/-1 -> -1/-1"})
}

func TestSession_ExtraListener(t *testing.T) {
	r := newRig(t)
	view, log := newView(2)
	extra := &recordingView{log: &eventLog{}}
	remove := r.sess.AddListener(extra)

	_, _ = r.sess.Attach(r.tr, view)
	r.tr.Emit(playback.Event{Type: playback.EventPlay})
	r.frame(t, 5)
	equalEvents(t, extra.log.take(), []string{"time 5", "activation -1/-1 -> 0/-1"})

	remove()
	r.frame(t, 6)
	if got := extra.log.take(); len(got) != 0 {
		t.Errorf("removed listener got %q", got)
	}
	log.take()
}

func TestSession_UserScrollSuppressesPanel(t *testing.T) {
	r := newRig(t)
	view, log := newView(2)
	_, _ = r.sess.Attach(r.tr, view)
	r.tr.Emit(playback.Event{Type: playback.EventPlay})

	r.sess.NoteUserScroll("original")
	r.frame(t, 5)
	equalEvents(t, log.take(), []string{"time 5", "activation -1/-1 -> 0/-1", "scroll translation 0"})
}

func TestSession_PauseStopsNotifications(t *testing.T) {
	r := newRig(t)
	view, log := newView(2)
	_, _ = r.sess.Attach(r.tr, view)
	r.tr.Emit(playback.Event{Type: playback.EventPlay})
	r.frame(t, 5)
	log.take()

	r.tr.Emit(playback.Event{Type: playback.EventPause})
	if r.clk.TryTick(50 * time.Millisecond) {
		t.Fatal("frame taken after pause")
	}
	if got := log.take(); len(got) != 0 {
		t.Errorf("notifications after pause: %q", got)
	}
}

func TestSession_StaleReleaseKeepsReplacement(t *testing.T) {
	r := newRig(t)
	firstView, _ := newView(2)
	release, err := r.sess.Attach(&playbackmock.Transport{}, firstView)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}

	view, log := newView(2)
	if _, err := r.sess.Attach(r.tr, view); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	release()

	r.tr.Emit(playback.Event{Type: playback.EventPlay})
	r.frame(t, 5)
	if got := log.take(); len(got) == 0 {
		t.Error("replacement attachment was torn down by a stale release")
	}
}

func TestSession_DetachResetsAndStops(t *testing.T) {
	r := newRig(t)
	view, log := newView(2)
	_, _ = r.sess.Attach(r.tr, view)
	r.tr.Emit(playback.Event{Type: playback.EventPlay})
	r.frame(t, 5)
	log.take()

	r.sess.Detach()
	if r.tr.Subscribers() != 0 {
		t.Error("transport still subscribed after detach")
	}
	if r.clk.TryTick(50 * time.Millisecond) {
		t.Fatal("frame taken after detach")
	}

	// A fresh attachment starts from no activation.
	_, _ = r.sess.Attach(r.tr, view)
	if got := r.sess.State(); got != activation.None {
		t.Errorf("State() after re-attach = %+v, want None", got)
	}
}

func TestSession_CloseReleasesResourceOnce(t *testing.T) {
	r := newRig(t)
	view, _ := newView(2)
	_, _ = r.sess.Attach(r.tr, view)

	select {
	case <-r.sess.Done():
		t.Fatal("Done closed before Close")
	default:
	}
	if err := r.sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := r.sess.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	select {
	case <-r.sess.Done():
	default:
		t.Error("Done not closed after Close")
	}
	if got := r.res.Released(); got != 1 {
		t.Errorf("released %d times, want 1", got)
	}
	if r.tr.Subscribers() != 0 {
		t.Error("transport still subscribed after close")
	}
	if _, err := r.sess.Attach(r.tr, view); !errors.Is(err, karaoke.ErrSessionClosed) {
		t.Errorf("Attach after close err = %v, want ErrSessionClosed", err)
	}
}

func TestSession_CloseReportsReleaseError(t *testing.T) {
	r := newRig(t)
	r.res.err = errors.New("busy")
	if err := r.sess.Close(); err == nil {
		t.Error("Close should surface the release error")
	}
}

func TestSession_ReplaceResourceReleasesOld(t *testing.T) {
	r := newRig(t)
	next := &fakeResource{id: "audio-2"}

	if err := r.sess.ReplaceResource(next); err != nil {
		t.Fatalf("ReplaceResource: %v", err)
	}
	if r.res.Released() != 1 {
		t.Error("old resource not released")
	}
	if r.sess.Resource() != next {
		t.Error("resource not swapped")
	}

	_ = r.sess.Close()
	if next.Released() != 1 {
		t.Error("new resource not released on close")
	}
	if r.res.Released() != 1 {
		t.Error("old resource released twice")
	}
}

func TestNewSession_RejectsUnpairedTranslation(t *testing.T) {
	a := testAnalysis()
	a.Translation = a.Translation[:1]
	_, err := karaoke.NewSession("x", a, nil, karaoke.Config{})
	if !errors.Is(err, lyrics.ErrUnpaired) {
		t.Errorf("err = %v, want ErrUnpaired", err)
	}
}
