package position

import (
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Manager owns the live position sessions
type Manager struct {
	deps Deps

	mu        sync.RWMutex
	sessions  map[string]*Store
	listeners []Listener
	onClose   []func(id string)
}

// NewManager creates a session manager sharing deps across stores
func NewManager(deps Deps) *Manager {
	return &Manager{deps: deps, sessions: make(map[string]*Store)}
}

// OnChange registers a listener attached to every store created afterwards
func (m *Manager) OnChange(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// OnClose registers a hook run after a session is closed
func (m *Manager) OnClose(fn func(id string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onClose = append(m.onClose, fn)
}

// Create starts a new empty position session
func (m *Manager) Create() *Store {
	store := NewStore(uuid.NewString(), m.deps)

	m.mu.Lock()
	for _, l := range m.listeners {
		store.OnChange(l)
	}
	m.sessions[store.ID()] = store
	count := len(m.sessions)
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{"position_id": store.ID(), "sessions": count}).Debug("Position session created")
	return store
}

// Get returns the session or ErrSessionNotFound
func (m *Manager) Get(id string) (*Store, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	store, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return store, nil
}

// Exists reports whether id names a live session
func (m *Manager) Exists(id string) bool {
	_, err := m.Get(id)
	return err == nil
}

// Close discards a session and disposes its subscriptions
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	store, ok := m.sessions[id]
	delete(m.sessions, id)
	hooks := append([]func(string){}, m.onClose...)
	m.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	store.Close()
	for _, fn := range hooks {
		fn(id)
	}
	return nil
}

// CloseAll discards every session, e.g. on shutdown
func (m *Manager) CloseAll() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		_ = m.Close(id)
	}
}

// Count returns the number of live sessions
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
