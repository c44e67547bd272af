// Package playback turns the lifecycle of a media transport into a stream of
// per-frame position notifications.
//
// A [Transport] exposes the current position, the current lifecycle state,
// and a subscription for lifecycle events. An [Observer] attaches to one
// transport at a time: while the transport is playing it samples the
// position once per frame and hands it to a callback; on pause or end it
// stops sampling at once. Detaching is synchronous: once [Observer.Detach]
// returns, no further notification is delivered.
//
// [RemoteTransport] is the Transport used when the media element lives in a
// remote host that reports its lifecycle over the network.
package playback

import "errors"

// ErrTransportClosed is returned by [RemoteTransport.Position] after the
// transport has been closed.
var ErrTransportClosed = errors.New("playback: transport closed")

// State is the lifecycle state of a transport.
type State int

const (
	// StateStopped is the initial state: nothing has played yet.
	StateStopped State = iota
	// StatePlaying means the position advances.
	StatePlaying
	// StatePaused means playback is suspended.
	StatePaused
	// StateEnded means playback reached the end of the media.
	StateEnded
)

// String implements [fmt.Stringer].
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// EventType identifies a lifecycle event.
type EventType int

const (
	// EventPlay fires when playback starts or resumes.
	EventPlay EventType = iota + 1
	// EventPause fires when playback is suspended.
	EventPause
	// EventEnded fires when playback reaches the end of the media.
	EventEnded
	// EventSeek fires when the position jumps. It does not change the
	// lifecycle state.
	EventSeek
)

// String implements [fmt.Stringer].
func (e EventType) String() string {
	switch e {
	case EventPlay:
		return "play"
	case EventPause:
		return "pause"
	case EventEnded:
		return "ended"
	case EventSeek:
		return "seek"
	default:
		return "unknown"
	}
}

// Event is a lifecycle notification from a [Transport].
type Event struct {
	Type EventType
	// Position is the transport position in seconds when the event fired.
	Position float64
}

// Transport is the playback handle the sync engine observes. The engine
// only reads from it.
//
// Implementations must be safe for concurrent use. Subscribe callbacks may
// be invoked from any goroutine and may block briefly; they must not call
// back into the transport's Subscribe or the returned unsubscribe function.
type Transport interface {
	// Position returns the current playback position in seconds.
	Position() (float64, error)

	// State returns the current lifecycle state.
	State() State

	// Subscribe registers fn for lifecycle events and returns a function
	// that removes the registration. Calling the returned function more
	// than once is a no-op.
	Subscribe(fn func(Event)) (unsubscribe func())
}
