package api

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// SocketRegistry tracks the open chat socket of each (user, conversation).
// A second socket for the same conversation replaces the first.
type SocketRegistry struct {
	mu     sync.RWMutex
	active map[string]map[string]*websocket.Conn
}

// NewSocketRegistry creates an empty registry.
func NewSocketRegistry() *SocketRegistry {
	return &SocketRegistry{
		active: make(map[string]map[string]*websocket.Conn),
	}
}

// Register adds conn for a user/conversation, closing any connection it replaces.
func (m *SocketRegistry) Register(userID, conversationID string, conn *websocket.Conn) {
	m.mu.Lock()
	if _, exists := m.active[userID]; !exists {
		m.active[userID] = make(map[string]*websocket.Conn)
	}
	replaced := m.active[userID][conversationID]
	m.active[userID][conversationID] = conn
	m.mu.Unlock()

	slog.Info("Chat socket registered", "user_id", userID, "conversation_id", conversationID)

	// Close waits for the peer's handshake, so it runs outside the lock.
	if replaced != nil && replaced != conn {
		_ = replaced.Close(websocket.StatusNormalClosure, "conversation opened elsewhere")
	}
}

// Unregister removes conn if it is still the active one.
func (m *SocketRegistry) Unregister(userID, conversationID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if conversations, ok := m.active[userID]; ok {
		if current, exists := conversations[conversationID]; exists && current == conn {
			delete(conversations, conversationID)
			if len(conversations) == 0 {
				delete(m.active, userID)
			}
			slog.Info("Chat socket unregistered", "user_id", userID, "conversation_id", conversationID)
		}
	}
}

// Count returns the number of open sockets.
func (m *SocketRegistry) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, conversations := range m.active {
		n += len(conversations)
	}
	return n
}

// CloseAll closes every open socket.
func (m *SocketRegistry) CloseAll() {
	m.mu.Lock()
	var open []*websocket.Conn
	for userID, conversations := range m.active {
		for _, conn := range conversations {
			open = append(open, conn)
		}
		delete(m.active, userID)
	}
	m.mu.Unlock()

	for _, conn := range open {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}
