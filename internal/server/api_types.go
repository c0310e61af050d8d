package server

import "highlow-server/internal/highlow"

// ============================================================================
// ERROR RESPONSES
// ============================================================================
// tygo:generate
type ErrorMessage struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ============================================================================
// CREATE GAME (createGame)
// ============================================================================
// tygo:generate
type CreateGameRequest struct {
	Username string `json:"username"`
}

// tygo:generate
type CreateGameResponse struct {
	RoomCode     string `json:"roomCode"`
	PlayerID     string `json:"playerId"`
	SessionToken string `json:"sessionToken"`
}

// ============================================================================
// JOIN GAME (joinGame)
// ============================================================================
// tygo:generate
type JoinGameRequest struct {
	RoomCode string `json:"roomCode"`
	Username string `json:"username"`
}

// tygo:generate
type JoinGameResponse struct {
	RoomCode     string `json:"roomCode"`
	PlayerID     string `json:"playerId"`
	SessionToken string `json:"sessionToken"`
}

// ============================================================================
// RECONNECT (reconnect)
// ============================================================================
// tygo:generate
type ReconnectRequest struct {
	Username     string `json:"username"`
	SessionToken string `json:"sessionToken"`
	// RoomCode keys the username fallback lookup when the token is unknown
	// or expired. Optional; without it the fallback is skipped.
	RoomCode string `json:"roomCode,omitempty"`
}

// tygo:generate
type ReconnectResponse struct {
	RoomCode     string `json:"roomCode"`
	PlayerID     string `json:"playerId"`
	SessionToken string `json:"sessionToken"`
	Reconnected  bool   `json:"reconnected"`
	// Readmitted is set when the grace period had already expired and the
	// player rejoined as a new participant, losing their old seat and stats.
	Readmitted bool `json:"readmitted,omitempty"`
}

// tygo:generate
type ReconnectFailedMessage struct {
	Message string `json:"message"`
}

// ============================================================================
// START GAME (startGame)
// ============================================================================
// tygo:generate
type StartGameRequest struct {
	RoomCode string `json:"roomCode"`
}

// ============================================================================
// SELECT PILE (selectPile)
// ============================================================================
// tygo:generate
type SelectPileRequest struct {
	RoomCode  string `json:"roomCode"`
	PileIndex int    `json:"pileIndex"`
}

// tygo:generate
type PileSelectedNotification struct {
	PileIndex int `json:"pileIndex"`
}

// ============================================================================
// MAKE PREDICTION (makePrediction)
// ============================================================================
// tygo:generate
type MakePredictionRequest struct {
	RoomCode   string             `json:"roomCode"`
	Prediction highlow.Prediction `json:"prediction"`
}

// ============================================================================
// END GAME (endGame)
// ============================================================================
// tygo:generate
type EndGameRequest struct {
	RoomCode string `json:"roomCode"`
}

// ============================================================================
// LEAVE GAME (leaveGame)
// ============================================================================
// tygo:generate
type LeaveGameRequest struct {
	RoomCode string `json:"roomCode"`
}

// ============================================================================
// PLAYER STATUS (playerJoined / playerLeft / playerDisconnected /
// playerReconnected broadcasts)
// ============================================================================
// tygo:generate
type PlayerStatusNotification struct {
	PlayerID string `json:"playerId"`
	Username string `json:"username"`
}

// ============================================================================
// GAME LIFECYCLE BROADCASTS
// ============================================================================
// tygo:generate
type GameStartedNotification struct {
	Message string `json:"message"`
}

// tygo:generate
type GameEndedNotification struct {
	Message string `json:"message"`
}

// tygo:generate
type DisconnectedElsewhereNotification struct {
	Message string `json:"message"`
}
