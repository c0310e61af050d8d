package server

import (
	"errors"
	"sync"
	"time"
)

var ErrSessionNotFound = errors.New("TOKEN_NOT_FOUND: Invalid session token")

// PlayerSession binds a durable token to a player identity and room. The
// token outlives any single connection; ConnectionID is rebound on every
// successful reconnect.
type PlayerSession struct {
	Token        string
	ConnectionID string
	Username     string
	RoomCode     string
	LastActiveAt time.Time
}

// SessionManager is the registry of live session tokens. It holds a
// non-owning back-reference to rooms by code and must be purged in the same
// motion as room deletion.
type SessionManager struct {
	sessions map[string]PlayerSession
	ttl      time.Duration
	mu       sync.RWMutex
}

func NewSessionManager(ttl time.Duration) *SessionManager {
	return &SessionManager{
		sessions: make(map[string]PlayerSession),
		ttl:      ttl,
	}
}

// CreateSession mints a fresh collision-checked token and stores the mapping.
func (sm *SessionManager) CreateSession(connectionID, username, roomCode string, now time.Time) string {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	token := GenerateCode(func(candidate string) bool {
		_, exists := sm.sessions[candidate]
		return exists
	})
	sm.sessions[token] = PlayerSession{
		Token:        token,
		ConnectionID: connectionID,
		Username:     username,
		RoomCode:     roomCode,
		LastActiveAt: now,
	}
	return token
}

func (sm *SessionManager) Get(token string) (PlayerSession, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	session, exists := sm.sessions[token]
	if !exists {
		return PlayerSession{}, ErrSessionNotFound
	}
	return session, nil
}

// Rebind points the session at a new connection and refreshes its activity
// timestamp. Expired sessions count as not found.
func (sm *SessionManager) Rebind(token, newConnectionID string, now time.Time) (PlayerSession, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	session, exists := sm.sessions[token]
	if !exists {
		return PlayerSession{}, ErrSessionNotFound
	}
	if now.Sub(session.LastActiveAt) > sm.ttl {
		delete(sm.sessions, token)
		return PlayerSession{}, ErrSessionNotFound
	}

	session.ConnectionID = newConnectionID
	session.LastActiveAt = now
	sm.sessions[token] = session
	return session, nil
}

// ResolveByUsernameAndRoom is the last-resort recovery path for clients that
// lost their token but still claim a room/username pair. It is a heuristic:
// the same username can belong to distinct players across time, and the
// first match wins.
func (sm *SessionManager) ResolveByUsernameAndRoom(username, roomCode string) (PlayerSession, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	for _, session := range sm.sessions {
		if session.Username == username && session.RoomCode == roomCode {
			return session, nil
		}
	}
	return PlayerSession{}, ErrSessionNotFound
}

// Remove drops a session outright. Used when a player intentionally leaves.
func (sm *SessionManager) Remove(token string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.sessions, token)
}

// PurgeExpired removes sessions idle longer than the TTL. Called from the
// periodic sweep, never on the hot path.
func (sm *SessionManager) PurgeExpired(now time.Time) int {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	purged := 0
	for token, session := range sm.sessions {
		if now.Sub(session.LastActiveAt) > sm.ttl {
			delete(sm.sessions, token)
			purged++
		}
	}
	return purged
}

// PurgeForRoom removes every session pointing at a deleted room so no
// dangling back-references survive.
func (sm *SessionManager) PurgeForRoom(roomCode string) int {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	purged := 0
	for token, session := range sm.sessions {
		if session.RoomCode == roomCode {
			delete(sm.sessions, token)
			purged++
		}
	}
	return purged
}

func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}
