package karaoke

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/sinfonia/pkg/lyrics"
)

// ErrSessionNotFound is returned when no live session has the requested ID.
var ErrSessionNotFound = errors.New("karaoke: session not found")

// Manager is the registry of live sessions. All methods are safe for
// concurrent use.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	cfg      Config
}

// NewManager returns an empty Manager whose sessions use cfg.
func NewManager(cfg Config) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		cfg:      cfg.withDefaults(),
	}
}

// Create starts a session for analysis playing res. On failure res is
// released.
func (m *Manager) Create(analysis *lyrics.Analysis, res Resource) (*Session, error) {
	m.mu.Lock()
	cfg := m.cfg
	m.mu.Unlock()

	s, err := NewSession(uuid.NewString(), analysis, res, cfg)
	if err != nil {
		if res != nil {
			_ = res.Release()
		}
		return nil, err
	}

	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()

	cfg.Metrics.ActiveSessions.Add(context.Background(), 1)
	cfg.Logger.Info("session created",
		"session_id", s.ID(),
		"lines", len(analysis.Lyrics),
		"translated", len(analysis.Translation) > 0,
	)
	return s, nil
}

// Get returns the live session with the given ID.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// Replace swaps the audio resource of a live session, releasing the old one.
func (m *Manager) Replace(id string, res Resource) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	return s.ReplaceResource(res)
}

// Close ends the session with the given ID and releases its resource.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return m.closeSession(s)
}

// CloseAll ends every live session.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	clear(m.sessions)
	m.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := m.closeSession(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Reconfigure updates the frame rate and scroll holdoff for new sessions
// and propagates them to live ones. Zero values leave a setting unchanged.
func (m *Manager) Reconfigure(frameRate int, holdoff time.Duration) {
	m.mu.Lock()
	if frameRate > 0 {
		m.cfg.FrameRate = frameRate
	}
	if holdoff != 0 {
		m.cfg.UserScrollHoldoff = holdoff
	}
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.Reconfigure(frameRate, holdoff)
	}
	m.cfg.Logger.Info("sync engine reconfigured", "frame_rate", frameRate, "user_scroll_holdoff", holdoff)
}

func (m *Manager) closeSession(s *Session) error {
	err := s.Close()
	m.cfg.Metrics.ActiveSessions.Add(context.Background(), -1)
	m.cfg.Logger.Info("session closed", "session_id", s.ID())
	return err
}
