// Package memory keeps conversation turns and session state per
// conversation id.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/ashureev/tripmind/internal/domain"
)

// Store is conversation memory. Writes to the same conversation are
// last-writer-wins except UpdateSessionState, which merges atomically.
type Store interface {
	Append(ctx context.Context, conversationID string, turns ...domain.Turn) error
	// History returns the last limit turns in order, or all when limit <= 0.
	History(ctx context.Context, conversationID string, limit int) ([]domain.Turn, error)
	SessionState(ctx context.Context, conversationID string) (domain.SessionState, error)
	UpdateSessionState(ctx context.Context, conversationID string, update domain.SessionUpdate) (domain.SessionState, error)
	Close() error
}

// InMemory is a process-local Store. Conversations are kept until
// Expire removes them.
type InMemory struct {
	mu      sync.RWMutex
	turns   map[string][]domain.Turn
	states  map[string]domain.SessionState
	touched map[string]time.Time
	now     func() time.Time
}

var _ Store = (*InMemory)(nil)

// NewInMemory returns an empty in-memory store.
func NewInMemory() *InMemory {
	return &InMemory{
		turns:   make(map[string][]domain.Turn),
		states:  make(map[string]domain.SessionState),
		touched: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (m *InMemory) Append(_ context.Context, conversationID string, turns ...domain.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns[conversationID] = append(m.turns[conversationID], turns...)
	m.touched[conversationID] = m.now()
	return nil
}

func (m *InMemory) History(_ context.Context, conversationID string, limit int) ([]domain.Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.turns[conversationID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return append([]domain.Turn(nil), all...), nil
}

func (m *InMemory) SessionState(_ context.Context, conversationID string) (domain.SessionState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.states[conversationID].Apply(domain.SessionUpdate{}), nil
}

func (m *InMemory) UpdateSessionState(_ context.Context, conversationID string, update domain.SessionUpdate) (domain.SessionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.states[conversationID].Apply(update)
	m.states[conversationID] = next
	m.touched[conversationID] = m.now()
	return next.Apply(domain.SessionUpdate{}), nil
}

// Expire drops every conversation not written to since cutoff and
// returns how many were dropped.
func (m *InMemory) Expire(cutoff time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, at := range m.touched {
		if at.Before(cutoff) {
			delete(m.turns, id)
			delete(m.states, id)
			delete(m.touched, id)
			n++
		}
	}
	return n
}

func (m *InMemory) Close() error { return nil }
