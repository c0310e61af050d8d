package server

import (
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"highlow-server/internal/highlow"
)

// ErrReconnectFailed tells the client to fall back to the join-fresh flow.
var ErrReconnectFailed = errors.New("RECONNECT_FAILED: Session could not be restored")

var errNotInGame = errors.New("NOT_IN_GAME: No active game session")

// sessionResult is what an accepted create/join/reconnect intent hands back
// to the transport layer for acks and broadcasts.
type sessionResult struct {
	Room   *ActiveRoom
	Player *highlow.Player
	Token  string
}

// createGame allocates a room and seats the creator as host.
func (s *Server) createGame(connectionID, username string) (sessionResult, error) {
	if err := ValidateUsername(username); err != nil {
		return sessionResult{}, err
	}

	now := time.Now()
	room := s.gameManager.CreateRoom(now)
	token := s.sessionManager.CreateSession(connectionID, username, room.Code(), now)

	var player *highlow.Player
	room.Update(func(g *highlow.Game) error {
		player, _ = g.Join(connectionID, token, username)
		return nil
	})

	s.logger.Info("room created",
		zap.String("room", room.Code()),
		zap.String("username", username))

	return sessionResult{Room: room, Player: player, Token: token}, nil
}

// joinGame appends a player to an existing room. Joining mid-game is
// allowed; only finished rooms reject.
func (s *Server) joinGame(connectionID, roomCode, username string) (sessionResult, error) {
	if err := ValidateUsername(username); err != nil {
		return sessionResult{}, err
	}
	roomCode = NormalizeRoomCode(roomCode)
	if err := ValidateRoomCode(roomCode); err != nil {
		return sessionResult{}, err
	}

	room, err := s.gameManager.GetRoom(roomCode)
	if err != nil {
		return sessionResult{}, err
	}

	now := time.Now()
	token := s.sessionManager.CreateSession(connectionID, username, roomCode, now)

	var player *highlow.Player
	err = room.Update(func(g *highlow.Game) error {
		p, joinErr := g.Join(connectionID, token, username)
		if joinErr != nil {
			return joinErr
		}
		player = p
		return nil
	})
	if err != nil {
		s.sessionManager.Remove(token)
		return sessionResult{}, err
	}

	s.logger.Info("player joined",
		zap.String("room", roomCode),
		zap.String("username", username))

	return sessionResult{Room: room, Player: player, Token: token}, nil
}

type reconnectResult struct {
	sessionResult
	Readmitted bool
}

// resolveReconnect is the layered session recovery path, in order:
// token rebind, username/room fallback when the token is gone, in-room
// rebind by stable sessionId, and past-grace re-admission as a new player
// when the room has not finished. Anything else is an explicit failure.
func (s *Server) resolveReconnect(connectionID string, req ReconnectRequest) (reconnectResult, error) {
	now := time.Now()

	session, err := s.sessionManager.Rebind(req.SessionToken, connectionID, now)
	if err != nil {
		// Heuristic fallback: the client lost its token but still claims a
		// room/username pair. Same-username collisions are accepted as a
		// known limitation.
		if req.Username == "" || req.RoomCode == "" {
			return reconnectResult{}, ErrReconnectFailed
		}
		session, err = s.sessionManager.ResolveByUsernameAndRoom(req.Username, NormalizeRoomCode(req.RoomCode))
		if err != nil {
			return reconnectResult{}, ErrReconnectFailed
		}
		if session, err = s.sessionManager.Rebind(session.Token, connectionID, now); err != nil {
			return reconnectResult{}, ErrReconnectFailed
		}
	}

	room, err := s.gameManager.GetRoom(session.RoomCode)
	if err != nil {
		return reconnectResult{}, ErrReconnectFailed
	}

	var player *highlow.Player
	readmitted := false
	err = room.Update(func(g *highlow.Game) error {
		// Locate by stable sessionId, never by the stale connection id.
		if p, ok := g.Rebind(session.Token, connectionID); ok {
			player = p
			return nil
		}
		// Already evicted past the grace window: re-admit as a new player,
		// at the cost of the old seat and stats.
		p, joinErr := g.Join(connectionID, session.Token, session.Username)
		if joinErr != nil {
			return ErrReconnectFailed
		}
		player = p
		readmitted = true
		return nil
	})
	if err != nil {
		return reconnectResult{}, err
	}

	s.logger.Info("player reconnected",
		zap.String("room", session.RoomCode),
		zap.String("username", session.Username),
		zap.Bool("readmitted", readmitted))

	return reconnectResult{
		sessionResult: sessionResult{Room: room, Player: player, Token: session.Token},
		Readmitted:    readmitted,
	}, nil
}

// leaveGame removes the connection's player unconditionally. An emptied room
// is scheduled for deletion after the grace period rather than deleted on
// the spot, so a quick rejoin still finds it.
func (s *Server) leaveGame(connectionID string) (*ActiveRoom, *highlow.Player, error) {
	token := s.connectionManager.TokenFor(connectionID)
	if token == "" {
		return nil, nil, errNotInGame
	}
	session, err := s.sessionManager.Get(token)
	if err != nil {
		return nil, nil, errNotInGame
	}
	room, err := s.gameManager.GetRoom(session.RoomCode)
	if err != nil {
		return nil, nil, err
	}

	var removed *highlow.Player
	empty := false
	room.Update(func(g *highlow.Game) error {
		removed, _ = g.RemovePlayer(token)
		empty = len(g.Players) == 0
		return nil
	})
	if removed == nil {
		return nil, nil, errNotInGame
	}

	s.sessionManager.Remove(token)
	s.connectionManager.UnbindToken(token)

	if empty {
		s.scheduleRoomDeletion(session.RoomCode)
	}

	s.logger.Info("player left",
		zap.String("room", session.RoomCode),
		zap.String("username", removed.Username))

	return room, removed, nil
}

// markDisconnected flags the player behind a dropped connection and
// schedules the grace-period eviction. The seat, stats and host status all
// survive until the timer fires.
func (s *Server) markDisconnected(token string) (*ActiveRoom, *highlow.Player, bool) {
	session, err := s.sessionManager.Get(token)
	if err != nil {
		// Player left via leaveGame before the socket closed; nothing to do.
		return nil, nil, false
	}
	room, err := s.gameManager.GetRoom(session.RoomCode)
	if err != nil {
		return nil, nil, false
	}

	var player *highlow.Player
	room.Update(func(g *highlow.Game) error {
		player, _ = g.MarkDisconnected(token, time.Now())
		return nil
	})
	if player == nil {
		return nil, nil, false
	}

	time.AfterFunc(s.cfg.GracePeriod, func() {
		s.evictIfStillGone(session.RoomCode, token)
	})

	return room, player, true
}

// evictIfStillGone fires after the grace period. It re-validates everything
// before touching state: the room may be gone and the player may have
// reconnected or left in the meantime.
func (s *Server) evictIfStillGone(roomCode, sessionID string) {
	room, err := s.gameManager.GetRoom(roomCode)
	if err != nil {
		return
	}

	var removed *highlow.Player
	var tokens []string
	var snap json.RawMessage
	empty := false
	room.Update(func(g *highlow.Game) error {
		_, p := g.PlayerBySession(sessionID)
		if p == nil || !p.Disconnected {
			return nil
		}
		removed, _ = g.RemovePlayer(sessionID)
		empty = len(g.Players) == 0
		tokens = roomTokens(g)
		snap = marshalGame(g)
		return nil
	})
	if removed == nil {
		return
	}

	s.sessionManager.Remove(sessionID)
	s.connectionManager.UnbindToken(sessionID)

	s.logger.Info("player evicted after grace period",
		zap.String("room", roomCode),
		zap.String("username", removed.Username))

	s.broadcastToTokens(tokens, "playerLeft", PlayerStatusNotification{
		PlayerID: removed.ID,
		Username: removed.Username,
	})
	s.broadcastToTokens(tokens, "updateGame", snap)

	if empty {
		s.scheduleRoomDeletion(roomCode)
	}
}

func (s *Server) scheduleRoomDeletion(roomCode string) {
	time.AfterFunc(s.cfg.GracePeriod, func() {
		s.deleteRoomIfEmpty(roomCode)
	})
}

// deleteRoomIfEmpty deletes the room and purges its sessions in one motion,
// but only if it is still empty when the timer fires.
func (s *Server) deleteRoomIfEmpty(roomCode string) {
	room, err := s.gameManager.GetRoom(roomCode)
	if err != nil {
		return
	}
	room.Update(func(g *highlow.Game) error {
		if len(g.Players) > 0 {
			return nil
		}
		if s.gameManager.DeleteRoom(roomCode) {
			s.sessionManager.PurgeForRoom(roomCode)
			s.logger.Info("empty room deleted", zap.String("room", roomCode))
		}
		return nil
	})
}

// clearDealtFlags fires after the deal-flash window to reset a pile's
// display flags and push the cleaned snapshot. No-ops when the room is gone
// or the flags were already reset by an intervening game reset.
func (s *Server) clearDealtFlags(roomCode string, pileIndex int) {
	room, err := s.gameManager.GetRoom(roomCode)
	if err != nil {
		return
	}

	var tokens []string
	var snap json.RawMessage
	changed := false
	room.Update(func(g *highlow.Game) error {
		changed = g.ClearDealtFlags(pileIndex)
		if changed {
			tokens = roomTokens(g)
			snap = marshalGame(g)
		}
		return nil
	})
	if changed {
		s.broadcastToTokens(tokens, "updateGame", snap)
	}
}

// sweep is the periodic maintenance pass: expired sessions, abandoned rooms
// and stale per-connection bookkeeping.
func (s *Server) sweep() {
	now := time.Now()

	if purged := s.sessionManager.PurgeExpired(now); purged > 0 {
		s.logger.Info("purged expired sessions", zap.Int("count", purged))
	}

	cutoff := now.Add(-s.cfg.SessionTTL)
	for _, room := range s.gameManager.Rooms() {
		code := room.Code()
		room.Update(func(g *highlow.Game) error {
			if !g.AllDisconnectedSince(cutoff) {
				return nil
			}
			if s.gameManager.DeleteRoom(code) {
				s.sessionManager.PurgeForRoom(code)
				s.logger.Info("abandoned room deleted", zap.String("room", code))
			}
			return nil
		})
	}

	s.rateLimiter.Cleanup()
	for _, connID := range s.health.GetInactiveConnections(s.cfg.SessionTTL) {
		s.health.RemoveConnection(connID)
	}
}

// roomTokens snapshots the session tokens of every player in the game, for
// broadcasting after the room lock is released.
func roomTokens(g *highlow.Game) []string {
	tokens := make([]string, 0, len(g.Players))
	for _, p := range g.Players {
		tokens = append(tokens, p.SessionID)
	}
	return tokens
}

// marshalGame serializes the snapshot while the room lock is held, so no
// mutation can race the encoder.
func marshalGame(g *highlow.Game) json.RawMessage {
	data, err := json.Marshal(g)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}
