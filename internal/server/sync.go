package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/sinfonia/internal/activation"
	"github.com/MrWong99/sinfonia/internal/karaoke"
	"github.com/MrWong99/sinfonia/internal/observe"
	"github.com/MrWong99/sinfonia/internal/playback"
	"github.com/MrWong99/sinfonia/internal/viewsync"
)

const (
	// syncQueueSize bounds outbound messages waiting for the socket. Time
	// updates are dropped when it is full; activation and scroll messages
	// wait.
	syncQueueSize = 64

	syncWriteTimeout = 5 * time.Second
	syncReadLimit    = 4 << 10
)

// Panel names used on the sync channel.
const (
	PanelOriginal    = "original"
	PanelTranslation = "translation"
)

// clientMessage is a host report.
//
//	{"type":"play"|"pause"|"ended"|"seek"|"time","position":s,"rate":r}
//	{"type":"user_scroll","panel":"original"|"translation"}
type clientMessage struct {
	Type     string  `json:"type"`
	Position float64 `json:"position"`
	Rate     float64 `json:"rate,omitempty"`
	Panel    string  `json:"panel,omitempty"`
}

type readyMessage struct {
	Type      string   `json:"type"`
	SessionID string   `json:"session_id"`
	Lines     int      `json:"lines"`
	Panels    []string `json:"panels"`
}

type timeMessage struct {
	Type     string  `json:"type"`
	Position float64 `json:"position"`
}

type activationMessage struct {
	Type string `json:"type"`
	Line int    `json:"line"`
	Word int    `json:"word"`
}

type scrollMessage struct {
	Type     string            `json:"type"`
	Panel    string            `json:"panel"`
	Index    int               `json:"index"`
	Block    viewsync.Block    `json:"block"`
	Behavior viewsync.Behavior `json:"behavior"`
}

type errorMessage struct {
	Type   string `json:"type"`
	Detail string `json:"detail"`
}

// handleSync handles GET /api/sessions/{id}/sync. The connection attaches a
// fresh remote transport to the session for as long as it stays open.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	spanCtx, span := observe.StartSessionSpan(r.Context(), observe.SpanSync, sess.ID())
	defer span.End()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.origins.wsPatterns(),
	})
	if err != nil {
		// Accept has already written the response.
		observe.Fail(span, err)
		s.log.Debug("server: websocket accept failed", "session_id", sess.ID(), "err", err)
		return
	}
	conn.SetReadLimit(syncReadLimit)

	ctx, cancel := context.WithCancel(spanCtx)
	log := s.log.With("session_id", sess.ID())
	view := newSyncView(ctx, cancel, sess)
	transport := playback.NewRemoteTransport()

	// Queued before attaching so it precedes any sync message.
	view.enqueue(readyMessage{
		Type:      "ready",
		SessionID: sess.ID(),
		Lines:     len(sess.Analysis().Lyrics),
		Panels:    view.panelNames(),
	})

	release, err := sess.Attach(transport, view)
	if err != nil {
		observe.Fail(span, err)
		cancel()
		conn.Close(websocket.StatusPolicyViolation, "session closed")
		return
	}

	s.metrics.ConnectedViews.Add(ctx, 1)
	log.Info("server: sync connected")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		view.writeLoop(conn, log)
	}()

	var received, rejected int
	defer func() {
		span.SetAttributes(
			attribute.Int("sinfonia.sync.messages", received),
			attribute.Int("sinfonia.sync.rejected", rejected),
		)
		// Unblock the sampling goroutine before waiting for it.
		cancel()
		release()
		transport.Close()
		<-writerDone
		s.metrics.ConnectedViews.Add(context.Background(), -1)
		log.Info("server: sync disconnected")
	}()

	go func() {
		select {
		case <-sess.Done():
			conn.Close(websocket.StatusGoingAway, "session closed")
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		var msg clientMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				if ctx.Err() == nil {
					log.Debug("server: sync read failed", "err", err)
				}
			}
			conn.Close(websocket.StatusNormalClosure, "")
			return
		}
		received++
		if err := applyClientMessage(sess, transport, msg); err != nil {
			rejected++
			view.enqueue(errorMessage{Type: "error", Detail: err.Error()})
		}
	}
}

// applyClientMessage feeds one host report into the session.
func applyClientMessage(sess *karaoke.Session, t *playback.RemoteTransport, msg clientMessage) error {
	var typ playback.EventType
	switch msg.Type {
	case "play":
		typ = playback.EventPlay
	case "pause":
		typ = playback.EventPause
	case "ended":
		typ = playback.EventEnded
	case "seek":
		typ = playback.EventSeek
	case "time":
		// Plain position update.
	case "user_scroll":
		if msg.Panel != PanelOriginal && msg.Panel != PanelTranslation {
			return fmt.Errorf("unknown panel %q", msg.Panel)
		}
		sess.NoteUserScroll(msg.Panel)
		return nil
	default:
		return fmt.Errorf("unknown message type %q", msg.Type)
	}
	return t.Report(playback.Report{Type: typ, Position: msg.Position, Rate: msg.Rate})
}

// syncView is the [karaoke.View] of one websocket connection. Its listener
// methods run on the session's sampling goroutine and only enqueue.
type syncView struct {
	ctx    context.Context
	cancel context.CancelFunc
	out    chan any
	panels []viewsync.Panel
}

var _ karaoke.View = (*syncView)(nil)

func newSyncView(ctx context.Context, cancel context.CancelFunc, sess *karaoke.Session) *syncView {
	v := &syncView{ctx: ctx, cancel: cancel, out: make(chan any, syncQueueSize)}
	a := sess.Analysis()
	v.panels = append(v.panels, &syncPanel{name: PanelOriginal, n: len(a.Lyrics), view: v})
	if len(a.Translation) > 0 {
		v.panels = append(v.panels, &syncPanel{name: PanelTranslation, n: len(a.Translation), view: v})
	}
	return v
}

func (v *syncView) OnTimeUpdate(seconds float64) {
	select {
	case v.out <- timeMessage{Type: "time", Position: seconds}:
	default:
	}
}

func (v *syncView) OnActivationChange(_, next activation.State) {
	_ = v.send(activationMessage{Type: "activation", Line: next.Line, Word: next.Word})
}

func (v *syncView) Panels() []viewsync.Panel { return v.panels }

func (v *syncView) panelNames() []string {
	names := make([]string, len(v.panels))
	for i, p := range v.panels {
		names[i] = p.Name()
	}
	return names
}

// send waits for queue space until the connection ends.
func (v *syncView) send(msg any) error {
	select {
	case v.out <- msg:
		return nil
	case <-v.ctx.Done():
		return v.ctx.Err()
	}
}

// enqueue is send for callers off the sampling goroutine.
func (v *syncView) enqueue(msg any) { _ = v.send(msg) }

func (v *syncView) writeLoop(conn *websocket.Conn, log *slog.Logger) {
	for {
		select {
		case <-v.ctx.Done():
			return
		case msg := <-v.out:
			ctx, cancel := context.WithTimeout(v.ctx, syncWriteTimeout)
			err := wsjson.Write(ctx, conn, msg)
			cancel()
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					log.Debug("server: sync write failed", "err", err)
				}
				v.cancel()
				return
			}
		}
	}
}

// syncPanel forwards scroll requests for one panel to the host.
type syncPanel struct {
	name string
	n    int
	view *syncView
}

func (p *syncPanel) Name() string { return p.name }
func (p *syncPanel) Len() int     { return p.n }

func (p *syncPanel) ScrollIntoView(index int, opts viewsync.ScrollOptions) error {
	if index < 0 || index >= p.n {
		return viewsync.ErrNoElement
	}
	return p.view.send(scrollMessage{
		Type:     "scroll",
		Panel:    p.name,
		Index:    index,
		Block:    opts.Block,
		Behavior: opts.Behavior,
	})
}
