package server

import (
	"sync"

	"github.com/coder/websocket"
)

// ConnectionManager tracks live sockets and the token bound to each. The
// token <-> connection binding is what the reconnection coordinator rewires
// when a player comes back on a fresh socket.
type ConnectionManager struct {
	connections map[string]*websocket.Conn // connectionID -> socket
	tokens      map[string]string          // connectionID -> token
	byToken     map[string]string          // token -> connectionID
	mu          sync.RWMutex
}

func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[string]*websocket.Conn),
		tokens:      make(map[string]string),
		byToken:     make(map[string]string),
	}
}

func (cm *ConnectionManager) Add(connectionID string, conn *websocket.Conn) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.connections[connectionID] = conn
}

// Remove drops the connection and its token binding, returning the token
// that was bound so the caller can run disconnect handling.
func (cm *ConnectionManager) Remove(connectionID string) string {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	token := cm.tokens[connectionID]
	delete(cm.connections, connectionID)
	delete(cm.tokens, connectionID)
	if token != "" && cm.byToken[token] == connectionID {
		delete(cm.byToken, token)
	}
	return token
}

// BindToken associates a token with a connection, returning the previous
// connectionID bound to that token (empty when none). The caller decides
// what to do with the displaced connection.
func (cm *ConnectionManager) BindToken(connectionID, token string) string {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	old := cm.byToken[token]
	if old == connectionID {
		return ""
	}
	if old != "" {
		delete(cm.tokens, old)
	}
	cm.tokens[connectionID] = token
	cm.byToken[token] = connectionID
	return old
}

// UnbindToken detaches a token without dropping the socket.
func (cm *ConnectionManager) UnbindToken(token string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if connID, ok := cm.byToken[token]; ok {
		delete(cm.tokens, connID)
		delete(cm.byToken, token)
	}
}

func (cm *ConnectionManager) TokenFor(connectionID string) string {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.tokens[connectionID]
}

func (cm *ConnectionManager) Conn(connectionID string) *websocket.Conn {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.connections[connectionID]
}

func (cm *ConnectionManager) ConnForToken(token string) *websocket.Conn {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	connID, ok := cm.byToken[token]
	if !ok {
		return nil
	}
	return cm.connections[connID]
}

// All returns a snapshot of every live socket, for shutdown notices.
func (cm *ConnectionManager) All() []*websocket.Conn {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	conns := make([]*websocket.Conn, 0, len(cm.connections))
	for _, conn := range cm.connections {
		conns = append(conns, conn)
	}
	return conns
}

func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.connections)
}
