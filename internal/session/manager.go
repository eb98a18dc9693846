package session

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/exiyom/ihear/internal/language"
	"github.com/exiyom/ihear/internal/message"
)

// Manager owns every live session.
type Manager struct {
	deps        Deps
	defaultLang language.Code
	newID       func() string
	now         func() time.Time

	mu       sync.RWMutex
	sessions map[string]Session
}

// NewManager creates a manager. Missing adapters in deps are replaced by
// their unavailable variants.
func NewManager(deps Deps, defaultLang language.Code) *Manager {
	if !defaultLang.Valid() {
		defaultLang = language.Default
	}
	return &Manager{
		deps:        deps.withDefaults(),
		defaultLang: defaultLang,
		newID:       uuid.NewString,
		now:         time.Now,
		sessions:    make(map[string]Session),
	}
}

// Create starts a new idle session. An empty lang selects the default.
func (m *Manager) Create(kind message.Kind, owner string, lang language.Code) (Session, error) {
	if lang == "" {
		lang = m.defaultLang
	}
	if !lang.Valid() {
		return nil, fmt.Errorf("%w: %q", language.ErrUnsupported, lang)
	}

	id := m.newID()
	c := newCore(id, owner, kind, lang, m.deps, m.now)

	var s Session
	switch kind {
	case message.KindTranscribe:
		s = &Listener{core: c, recognizer: m.deps.Recognizer, drainTimeout: defaultDrainTimeout}
	case message.KindSpeak:
		s = &Speaker{core: c, synth: m.deps.Synthesizer, timeout: m.deps.SpeakTimeout}
	default:
		return nil, fmt.Errorf("unknown session kind %q", kind)
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	c.log.Info("session created", "owner", owner, "language", lang)
	return s, nil
}

// Get returns the session with id.
func (m *Manager) Get(id string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Delete stops and removes a session.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	s.Close()
	slog.Info("session deleted", "session_id", id)
	return nil
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep destroys sessions that are idle, unsubscribed and untouched for at
// least ttl. It returns how many were removed.
func (m *Manager) Sweep(ttl time.Duration) int {
	now := m.now()

	m.mu.Lock()
	var stale []Session
	for id, s := range m.sessions {
		if s.expired(now, ttl) {
			stale = append(stale, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range stale {
		s.Close()
		slog.Debug("session expired", "session_id", s.ID(), "kind", s.Kind())
	}
	return len(stale)
}

// StartSweeper runs Sweep on a cron schedule until the returned func is
// called.
func (m *Manager) StartSweeper(schedule string, ttl time.Duration) (func(), error) {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		if n := m.Sweep(ttl); n > 0 {
			slog.Info("idle sessions swept", "removed", n, "remaining", m.Len())
		}
	})
	if err != nil {
		return nil, fmt.Errorf("sweep schedule %q: %w", schedule, err)
	}
	c.Start()
	return func() { <-c.Stop().Done() }, nil
}

// Close destroys every session.
func (m *Manager) Close() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[string]Session)
	m.mu.Unlock()

	for _, s := range all {
		s.Close()
	}
}

// AsListener returns s as a transcribe session.
func AsListener(s Session) (*Listener, error) {
	l, ok := s.(*Listener)
	if !ok {
		return nil, fmt.Errorf("%w: %s session cannot listen", ErrWrongKind, s.Kind())
	}
	return l, nil
}

// AsSpeaker returns s as a speak session.
func AsSpeaker(s Session) (*Speaker, error) {
	sp, ok := s.(*Speaker)
	if !ok {
		return nil, fmt.Errorf("%w: %s session cannot speak", ErrWrongKind, s.Kind())
	}
	return sp, nil
}
