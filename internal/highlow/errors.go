package highlow

import "errors"

// Validation errors reported to the acting player only. None of them leave
// shared state modified.
var (
	ErrRoomFinished      = errors.New("ROOM_FINISHED: Game has finished")
	ErrNotHost           = errors.New("NOT_HOST: Only the host can do that")
	ErrNotInGame         = errors.New("NOT_IN_GAME: Player is not in this game")
	ErrNotYourTurn       = errors.New("NOT_YOUR_TURN: Not your turn")
	ErrNotPlaying        = errors.New("INVALID_STATUS: Game is not in progress")
	ErrInvalidPile       = errors.New("INVALID_PILE: Pile index out of range")
	ErrPileInactive      = errors.New("PILE_INACTIVE: Pile is not active")
	ErrNoPileSelected    = errors.New("NO_PILE_SELECTED: Select a pile before predicting")
	ErrInvalidPrediction = errors.New("INVALID_PREDICTION: Prediction must be higher, lower or same")

	// ErrDeckExhausted should be unreachable while remainingCards bookkeeping
	// holds. Its occurrence is a bug, not a game state.
	ErrDeckExhausted = errors.New("DECK_EXHAUSTED: Deck is empty")
)
