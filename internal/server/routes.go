package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"highlow-server/internal/highlow"
)

func (s *Server) RegisterRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.HelloWorldHandler)
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/websocket", s.websocketHandler)

	return s.corsMiddleware(mux)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) HelloWorldHandler(w http.ResponseWriter, r *http.Request) {
	resp := map[string]string{"message": "Hello World"}
	jsonResp, err := json.Marshal(resp)
	if err != nil {
		http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(jsonResp); err != nil {
		s.logger.Error("failed to write response", zap.Error(err))
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	resp, err := json.Marshal(map[string]interface{}{
		"status":      "ok",
		"uptime":      time.Since(s.startedAt).String(),
		"rooms":       s.gameManager.RoomCount(),
		"sessions":    s.sessionManager.Count(),
		"connections": s.connectionManager.Count(),
	})
	if err != nil {
		http.Error(w, "Failed to marshal health check response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(resp); err != nil {
		s.logger.Error("failed to write response", zap.Error(err))
	}
}

func (s *Server) websocketHandler(w http.ResponseWriter, r *http.Request) {
	socket, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		http.Error(w, "Failed to open websocket", http.StatusInternalServerError)
		return
	}
	defer socket.Close(websocket.StatusGoingAway, "Server closing")

	ctx := r.Context()

	connectionID := uuid.New().String()
	s.logger.Info("new connection", zap.String("conn", connectionID))
	s.connectionManager.Add(connectionID, socket)

	defer func() {
		token := s.connectionManager.Remove(connectionID)
		s.rateLimiter.RemoveConnection(connectionID)
		s.health.RemoveConnection(connectionID)
		s.logger.Info("connection closed", zap.String("conn", connectionID))

		if token == "" {
			return
		}
		room, player, ok := s.markDisconnected(token)
		if !ok {
			return
		}
		s.logger.Info("player disconnected",
			zap.String("room", room.Code()),
			zap.String("username", player.Username))

		tokens, snap := s.snapshotRoom(room)
		s.broadcastToTokens(tokens, "playerDisconnected", PlayerStatusNotification{
			PlayerID: player.ID,
			Username: player.Username,
		})
		s.broadcastToTokens(tokens, "updateGame", snap)
	}()

	for {
		msgType, data, err := socket.Read(ctx)
		if err != nil {
			s.logger.Info("connection read ended",
				zap.String("conn", connectionID),
				zap.Error(err))
			return
		}

		if msgType != websocket.MessageText {
			continue
		}

		if !s.rateLimiter.Allow(connectionID) {
			s.sendErrorMessage(socket, ctx, "RATE_LIMITED: Too many messages, slow down")
			continue
		}
		s.health.UpdateActivity(connectionID)

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.sendErrorMessage(socket, ctx, "INVALID_JSON: Message is not valid JSON")
			continue
		}

		if err := ValidateMessageType(msg.Type); err != nil {
			s.sendError(socket, ctx, err)
			continue
		}

		switch msg.Type {
		case "ping":
			s.handlePing(socket, ctx)
		case "createGame":
			s.handleCreateGame(socket, ctx, connectionID, msg.Payload)
		case "joinGame":
			s.handleJoinGame(socket, ctx, connectionID, msg.Payload)
		case "reconnect":
			s.handleReconnect(socket, ctx, connectionID, msg.Payload)
		case "startGame":
			s.handleStartGame(socket, ctx, connectionID, msg.Payload)
		case "selectPile":
			s.handleSelectPile(socket, ctx, connectionID, msg.Payload)
		case "makePrediction":
			s.handleMakePrediction(socket, ctx, connectionID, msg.Payload)
		case "endGame":
			s.handleEndGame(socket, ctx, connectionID, msg.Payload)
		case "leaveGame":
			s.handleLeaveGame(socket, ctx, connectionID, msg.Payload)
		}
	}
}

func (s *Server) handlePing(socket *websocket.Conn, ctx context.Context) {
	s.sendMessage(socket, ctx, ServerMessage{Type: "pong", Payload: struct{}{}})
}

func (s *Server) handleCreateGame(socket *websocket.Conn, ctx context.Context, connectionID string, payload json.RawMessage) {
	var req CreateGameRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendErrorMessage(socket, ctx, "INVALID_PAYLOAD: Invalid createGame payload")
		return
	}

	result, err := s.createGame(connectionID, req.Username)
	if err != nil {
		s.sendError(socket, ctx, err)
		return
	}
	s.connectionManager.BindToken(connectionID, result.Token)

	s.sendMessage(socket, ctx, ServerMessage{
		Type: "gameCreated",
		Payload: CreateGameResponse{
			RoomCode:     result.Room.Code(),
			PlayerID:     result.Player.ID,
			SessionToken: result.Token,
		},
	})

	tokens, snap := s.snapshotRoom(result.Room)
	s.broadcastToTokens(tokens, "updateGame", snap)
}

func (s *Server) handleJoinGame(socket *websocket.Conn, ctx context.Context, connectionID string, payload json.RawMessage) {
	var req JoinGameRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendErrorMessage(socket, ctx, "INVALID_PAYLOAD: Invalid joinGame payload")
		return
	}

	result, err := s.joinGame(connectionID, req.RoomCode, req.Username)
	if err != nil {
		s.sendError(socket, ctx, err)
		return
	}
	s.connectionManager.BindToken(connectionID, result.Token)

	s.sendMessage(socket, ctx, ServerMessage{
		Type: "gameJoined",
		Payload: JoinGameResponse{
			RoomCode:     result.Room.Code(),
			PlayerID:     result.Player.ID,
			SessionToken: result.Token,
		},
	})

	tokens, snap := s.snapshotRoom(result.Room)
	s.broadcastToTokens(tokens, "playerJoined", PlayerStatusNotification{
		PlayerID: result.Player.ID,
		Username: result.Player.Username,
	})
	s.broadcastToTokens(tokens, "updateGame", snap)
}

func (s *Server) handleReconnect(socket *websocket.Conn, ctx context.Context, connectionID string, payload json.RawMessage) {
	var req ReconnectRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendErrorMessage(socket, ctx, "INVALID_PAYLOAD: Invalid reconnect payload")
		return
	}

	result, err := s.resolveReconnect(connectionID, req)
	if err != nil {
		s.sendMessage(socket, ctx, ServerMessage{
			Type:    "reconnectFailed",
			Payload: ReconnectFailedMessage{Message: err.Error()},
		})
		return
	}

	// One device per session: displace any connection still bound to the
	// token.
	if old := s.connectionManager.BindToken(connectionID, result.Token); old != "" {
		if oldConn := s.connectionManager.Conn(old); oldConn != nil {
			s.sendMessage(oldConn, context.Background(), ServerMessage{
				Type: "disconnectedElsewhere",
				Payload: DisconnectedElsewhereNotification{
					Message: "You connected on another device",
				},
			})
			oldConn.Close(websocket.StatusNormalClosure, "Connected from another device")
		}
	}

	s.sendMessage(socket, ctx, ServerMessage{
		Type: "reconnected",
		Payload: ReconnectResponse{
			RoomCode:     result.Room.Code(),
			PlayerID:     result.Player.ID,
			SessionToken: result.Token,
			Reconnected:  true,
			Readmitted:   result.Readmitted,
		},
	})

	tokens, snap := s.snapshotRoom(result.Room)

	// The rejoining connection gets the full snapshot directly; the rest of
	// the room just hears about it.
	s.sendMessage(socket, ctx, ServerMessage{Type: "updateGame", Payload: snap})

	notice := "playerReconnected"
	if result.Readmitted {
		notice = "playerJoined"
	}
	s.broadcastToTokens(tokens, notice, PlayerStatusNotification{
		PlayerID: result.Player.ID,
		Username: result.Player.Username,
	})
	if result.Readmitted {
		s.broadcastToTokens(tokens, "updateGame", snap)
	}
}

func (s *Server) handleStartGame(socket *websocket.Conn, ctx context.Context, connectionID string, payload json.RawMessage) {
	var req StartGameRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendErrorMessage(socket, ctx, "INVALID_PAYLOAD: Invalid startGame payload")
		return
	}

	room, err := s.gameManager.GetRoom(req.RoomCode)
	if err != nil {
		s.sendError(socket, ctx, err)
		return
	}

	var tokens []string
	var snap json.RawMessage
	err = room.Update(func(g *highlow.Game) error {
		if startErr := g.Start(connectionID, nil, s.cfg.RandomFirstPlayer); startErr != nil {
			return startErr
		}
		tokens = roomTokens(g)
		snap = marshalGame(g)
		return nil
	})
	if err != nil {
		s.sendError(socket, ctx, err)
		return
	}

	s.logger.Info("game started", zap.String("room", room.Code()))

	s.broadcastToTokens(tokens, "gameStarted", GameStartedNotification{
		Message: "Game is starting! Pick a pile and call it.",
	})
	s.broadcastToTokens(tokens, "updateGame", snap)
}

func (s *Server) handleSelectPile(socket *websocket.Conn, ctx context.Context, connectionID string, payload json.RawMessage) {
	var req SelectPileRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendErrorMessage(socket, ctx, "INVALID_PAYLOAD: Invalid selectPile payload")
		return
	}

	room, err := s.gameManager.GetRoom(req.RoomCode)
	if err != nil {
		s.sendError(socket, ctx, err)
		return
	}

	var tokens []string
	var snap json.RawMessage
	err = room.Update(func(g *highlow.Game) error {
		if selErr := g.SelectPile(connectionID, req.PileIndex); selErr != nil {
			return selErr
		}
		tokens = roomTokens(g)
		snap = marshalGame(g)
		return nil
	})
	if err != nil {
		s.sendError(socket, ctx, err)
		return
	}

	s.broadcastToTokens(tokens, "pileSelected", PileSelectedNotification{PileIndex: req.PileIndex})
	s.broadcastToTokens(tokens, "updateGame", snap)
}

func (s *Server) handleMakePrediction(socket *websocket.Conn, ctx context.Context, connectionID string, payload json.RawMessage) {
	var req MakePredictionRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendErrorMessage(socket, ctx, "INVALID_PAYLOAD: Invalid makePrediction payload")
		return
	}

	room, err := s.gameManager.GetRoom(req.RoomCode)
	if err != nil {
		s.sendError(socket, ctx, err)
		return
	}

	var outcome *highlow.PredictionOutcome
	var tokens []string
	var snap json.RawMessage
	err = room.Update(func(g *highlow.Game) error {
		o, predErr := g.Predict(connectionID, req.Prediction)
		if predErr != nil {
			return predErr
		}
		outcome = o
		tokens = roomTokens(g)
		snap = marshalGame(g)
		return nil
	})
	if err != nil {
		if errors.Is(err, highlow.ErrDeckExhausted) {
			// Bookkeeping said cards remained; this is a bug, not a state.
			s.logger.Error("deck exhausted with remainingCards > 0",
				zap.String("room", room.Code()))
		}
		s.sendError(socket, ctx, err)
		return
	}

	s.broadcastToTokens(tokens, "predictionResult", outcome)
	s.broadcastToTokens(tokens, "updateGame", snap)

	if outcome.GameFinished {
		s.logger.Info("game finished",
			zap.String("room", room.Code()),
			zap.Int("remainingCards", outcome.RemainingCards))
	}

	roomCode := room.Code()
	pileIndex := outcome.PileIndex
	time.AfterFunc(s.cfg.DealFlash, func() {
		s.clearDealtFlags(roomCode, pileIndex)
	})
}

func (s *Server) handleEndGame(socket *websocket.Conn, ctx context.Context, connectionID string, payload json.RawMessage) {
	var req EndGameRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendErrorMessage(socket, ctx, "INVALID_PAYLOAD: Invalid endGame payload")
		return
	}

	room, err := s.gameManager.GetRoom(req.RoomCode)
	if err != nil {
		s.sendError(socket, ctx, err)
		return
	}

	var tokens []string
	var snap json.RawMessage
	err = room.Update(func(g *highlow.Game) error {
		if endErr := g.End(connectionID); endErr != nil {
			return endErr
		}
		tokens = roomTokens(g)
		snap = marshalGame(g)
		return nil
	})
	if err != nil {
		s.sendError(socket, ctx, err)
		return
	}

	s.logger.Info("game reset to waiting", zap.String("room", room.Code()))

	s.broadcastToTokens(tokens, "gameEnded", GameEndedNotification{
		Message: "The host ended the game.",
	})
	s.broadcastToTokens(tokens, "updateGame", snap)
}

func (s *Server) handleLeaveGame(socket *websocket.Conn, ctx context.Context, connectionID string, payload json.RawMessage) {
	var req LeaveGameRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendErrorMessage(socket, ctx, "INVALID_PAYLOAD: Invalid leaveGame payload")
		return
	}

	room, removed, err := s.leaveGame(connectionID)
	if err != nil {
		s.sendError(socket, ctx, err)
		return
	}

	tokens, snap := s.snapshotRoom(room)
	s.broadcastToTokens(tokens, "playerLeft", PlayerStatusNotification{
		PlayerID: removed.ID,
		Username: removed.Username,
	})
	s.broadcastToTokens(tokens, "updateGame", snap)
}

func (s *Server) sendMessage(socket *websocket.Conn, ctx context.Context, msg ServerMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}
	return socket.Write(ctx, websocket.MessageText, data)
}

func (s *Server) sendError(socket *websocket.Conn, ctx context.Context, err error) {
	s.sendErrorMessage(socket, ctx, err.Error())
}

func (s *Server) sendErrorMessage(socket *websocket.Conn, ctx context.Context, msg string) {
	response := ServerMessage{
		Type: "error",
		Payload: ErrorMessage{
			Message: msg,
			Code:    errorCode(msg),
		},
	}
	if err := s.sendMessage(socket, ctx, response); err != nil {
		s.logger.Error("failed to send error message", zap.Error(err))
	}
}

// errorCode lifts the CODE prefix out of "CODE: message" strings.
func errorCode(msg string) string {
	if i := strings.Index(msg, ":"); i > 0 {
		return msg[:i]
	}
	return ""
}

// snapshotRoom captures the token list and serialized state under the room
// lock, for broadcasting afterwards.
func (s *Server) snapshotRoom(room *ActiveRoom) (tokens []string, snap json.RawMessage) {
	room.Update(func(g *highlow.Game) error {
		tokens = roomTokens(g)
		snap = marshalGame(g)
		return nil
	})
	return tokens, snap
}

// broadcastToTokens is a fire-and-forget send to every listed player that
// still has a live connection. Never called with a room lock held.
func (s *Server) broadcastToTokens(tokens []string, messageType string, payload interface{}) {
	msg := ServerMessage{Type: messageType, Payload: payload}
	for _, token := range tokens {
		conn := s.connectionManager.ConnForToken(token)
		if conn == nil {
			continue
		}
		if err := s.sendMessage(conn, context.Background(), msg); err != nil {
			s.logger.Debug("broadcast send failed", zap.Error(err))
		}
	}
}
