package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cortexuvula/massagesync/internal/session"
)

// Memory is an in-process session.Store. Records live until the process
// exits. Thread-safe via sync.RWMutex.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]session.Session
	now      func() time.Time
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]session.Session),
		now:      time.Now,
	}
}

// Create stores s. Creating an id twice is an error.
func (m *Memory) Create(_ context.Context, s session.Session) (session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[s.ID]; ok {
		return session.Session{}, fmt.Errorf("session %s already exists", s.ID)
	}
	m.sessions[s.ID] = s.Clone()
	return s.Clone(), nil
}

// Get returns a copy of the record for id.
func (m *Memory) Get(_ context.Context, id string) (session.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return session.Session{}, session.ErrNotFound
	}
	return s.Clone(), nil
}

// Update merges p into the record under the write lock, so concurrent
// updates to one session are applied one at a time and the last wins.
func (m *Memory) Update(_ context.Context, id string, p session.Preferences) (session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return session.Session{}, session.ErrNotFound
	}
	p.Apply(&s, m.now())
	m.sessions[id] = s
	return s.Clone(), nil
}

// Count returns the number of stored sessions.
func (m *Memory) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
