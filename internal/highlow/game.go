package highlow

import (
	"math/rand"
	"time"
)

const (
	// PileCount is the number of play stacks dealt at game start.
	PileCount = 9

	// DealtRemaining is the deck size right after the initial deal (52 - 9).
	DealtRemaining = 43
)

type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusPlaying  Status = "playing"
	StatusFinished Status = "finished"
)

type Player struct {
	// ID is the transient connection identifier and changes on reconnect.
	ID string `json:"id"`
	// SessionID is the durable session token, stable for the player's
	// lifetime in the room.
	SessionID          string     `json:"sessionId"`
	Username           string     `json:"username"`
	IsHost             bool       `json:"isHost"`
	CorrectPredictions int        `json:"correctPredictions"`
	TotalPredictions   int        `json:"totalPredictions"`
	Disconnected       bool       `json:"disconnected"`
	DisconnectedAt     *time.Time `json:"disconnectedAt,omitempty"`
}

type Pile struct {
	// Cards is append-only; index 0 is the dealt card, the last element is
	// the face-up comparison reference.
	Cards  []Card `json:"cards"`
	Active bool   `json:"active"`

	// Display-only flags, cleared by a timed callback. They never influence
	// game logic.
	IsNewlyDealt          bool  `json:"isNewlyDealt"`
	LastPredictionCorrect *bool `json:"lastPredictionCorrect,omitempty"`
}

func (p *Pile) Top() Card {
	return p.Cards[len(p.Cards)-1]
}

// PredictionOutcome is the event payload produced by a resolved prediction.
type PredictionOutcome struct {
	Prediction     Prediction `json:"prediction"`
	DrawnCard      Card       `json:"drawnCard"`
	Correct        bool       `json:"correct"`
	PileIndex      int        `json:"pileIndex"`
	RemainingCards int        `json:"remainingCards"`
	PileDied       bool       `json:"pileDied"`
	GameFinished   bool       `json:"gameFinished"`
}

// Game is the per-room aggregate. It is not safe for concurrent use; the
// owning room serializes access.
type Game struct {
	ID                 string    `json:"id"`
	Players            []*Player `json:"players"`
	Status             Status    `json:"status"`
	Piles              []*Pile   `json:"piles"`
	CurrentPlayerIndex int       `json:"currentPlayerIndex"`
	CurrentPileIndex   *int      `json:"currentPileIndex"`
	RemainingCards     int       `json:"remainingCards"`
	Winner             *Player   `json:"winner,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`

	// The deck is server-authoritative and never serialized to clients.
	deck *Deck
}

func NewGame(id string, now time.Time) *Game {
	return &Game{
		ID:             id,
		Players:        make([]*Player, 0, 4),
		Status:         StatusWaiting,
		RemainingCards: DealtRemaining,
		CreatedAt:      now,
	}
}

// Join appends a new player. Joining mid-game is allowed; the newcomer
// enters at the end of the turn order. Only a finished room rejects joins.
func (g *Game) Join(connectionID, sessionID, username string) (*Player, error) {
	if g.Status == StatusFinished {
		return nil, ErrRoomFinished
	}
	p := &Player{
		ID:        connectionID,
		SessionID: sessionID,
		Username:  username,
		IsHost:    len(g.Players) == 0,
	}
	g.Players = append(g.Players, p)
	return p, nil
}

func (g *Game) PlayerByID(connectionID string) (int, *Player) {
	for i, p := range g.Players {
		if p.ID == connectionID {
			return i, p
		}
	}
	return -1, nil
}

func (g *Game) PlayerBySession(sessionID string) (int, *Player) {
	for i, p := range g.Players {
		if p.SessionID == sessionID {
			return i, p
		}
	}
	return -1, nil
}

// Start deals a fresh game: new shuffled deck, nine one-card piles, all
// prediction stats zeroed. Host only. A nil rng uses the shared source;
// randomFirst picks the opening player at random instead of index 0.
func (g *Game) Start(actorID string, rng *rand.Rand, randomFirst bool) error {
	_, actor := g.PlayerByID(actorID)
	if actor == nil {
		return ErrNotInGame
	}
	if !actor.IsHost {
		return ErrNotHost
	}

	g.deck = NewShuffledDeck(rng)
	g.Piles = make([]*Pile, 0, PileCount)
	for range PileCount {
		card, _ := g.deck.Draw()
		g.Piles = append(g.Piles, &Pile{
			Cards:  []Card{card},
			Active: true,
		})
	}

	for _, p := range g.Players {
		p.CorrectPredictions = 0
		p.TotalPredictions = 0
	}

	g.Status = StatusPlaying
	g.RemainingCards = DealtRemaining
	g.CurrentPileIndex = nil
	g.Winner = nil

	first := 0
	if randomFirst {
		if rng != nil {
			first = rng.Intn(len(g.Players))
		} else {
			first = rand.Intn(len(g.Players))
		}
	}
	g.seatTurn(first)
	return nil
}

// SelectPile records the acting player's pile choice. Re-selection before
// predicting is allowed; the last call wins.
func (g *Game) SelectPile(actorID string, pileIndex int) error {
	if g.Status != StatusPlaying {
		return ErrNotPlaying
	}
	idx, actor := g.PlayerByID(actorID)
	if actor == nil {
		return ErrNotInGame
	}
	if idx != g.CurrentPlayerIndex {
		return ErrNotYourTurn
	}
	if pileIndex < 0 || pileIndex >= len(g.Piles) {
		return ErrInvalidPile
	}
	if !g.Piles[pileIndex].Active {
		return ErrPileInactive
	}
	selected := pileIndex
	g.CurrentPileIndex = &selected
	return nil
}

// Predict resolves the acting player's prediction against the selected pile:
// draw, compare, append, update stats, kill the pile on a miss, advance the
// turn past disconnected players, and finish the game when every pile is
// dead or the deck runs out. The selected pile carries over to the next
// player unless it just died.
func (g *Game) Predict(actorID string, prediction Prediction) (*PredictionOutcome, error) {
	if !prediction.Valid() {
		return nil, ErrInvalidPrediction
	}
	if g.Status != StatusPlaying {
		return nil, ErrNotPlaying
	}
	idx, actor := g.PlayerByID(actorID)
	if actor == nil {
		return nil, ErrNotInGame
	}
	if idx != g.CurrentPlayerIndex {
		return nil, ErrNotYourTurn
	}
	if g.CurrentPileIndex == nil {
		return nil, ErrNoPileSelected
	}

	drawn, ok := g.deck.Draw()
	if !ok {
		return nil, ErrDeckExhausted
	}

	pileIndex := *g.CurrentPileIndex
	pile := g.Piles[pileIndex]
	correct := Compare(pile.Top(), drawn, prediction)

	pile.Cards = append(pile.Cards, drawn)
	g.RemainingCards--

	actor.TotalPredictions++
	if correct {
		actor.CorrectPredictions++
	}

	pile.IsNewlyDealt = true
	result := correct
	pile.LastPredictionCorrect = &result

	if !correct {
		pile.Active = false
	}

	g.advanceTurn()
	if !correct {
		// The acted-upon pile died; the next player must choose afresh.
		g.CurrentPileIndex = nil
	}

	if g.allPilesDead() || g.RemainingCards == 0 {
		g.Status = StatusFinished
		g.Winner = g.computeWinner()
	}

	return &PredictionOutcome{
		Prediction:     prediction,
		DrawnCard:      drawn,
		Correct:        correct,
		PileIndex:      pileIndex,
		RemainingCards: g.RemainingCards,
		PileDied:       !correct,
		GameFinished:   g.Status == StatusFinished,
	}, nil
}

// End resets the session to waiting. Host only. This is a full reset, not a
// transition to finished: deck and piles are cleared and the post-deal card
// count restored.
func (g *Game) End(actorID string) error {
	_, actor := g.PlayerByID(actorID)
	if actor == nil {
		return ErrNotInGame
	}
	if !actor.IsHost {
		return ErrNotHost
	}
	g.Status = StatusWaiting
	g.deck = nil
	g.Piles = nil
	g.CurrentPileIndex = nil
	g.CurrentPlayerIndex = 0
	g.RemainingCards = DealtRemaining
	g.Winner = nil
	return nil
}

// RemovePlayer splices the player out, reassigns host to the first remaining
// player if needed, and repairs the turn index. Returns the removed player.
func (g *Game) RemovePlayer(sessionID string) (*Player, bool) {
	idx, removed := g.PlayerBySession(sessionID)
	if removed == nil {
		return nil, false
	}

	g.Players = append(g.Players[:idx], g.Players[idx+1:]...)

	if removed.IsHost && len(g.Players) > 0 {
		g.Players[0].IsHost = true
	}

	if len(g.Players) == 0 {
		g.CurrentPlayerIndex = 0
		return removed, true
	}

	switch {
	case idx < g.CurrentPlayerIndex:
		g.CurrentPlayerIndex--
	case idx == g.CurrentPlayerIndex:
		// The next player slid into the removed slot; land there, skipping
		// past disconnected players. seatTurn wraps when the removed slot
		// was the last one.
		g.seatTurn(g.CurrentPlayerIndex)
	}
	return removed, true
}

// MarkDisconnected flags the player without removing them, preserving their
// turn slot, stats and host status through the grace period.
func (g *Game) MarkDisconnected(sessionID string, now time.Time) (*Player, bool) {
	_, p := g.PlayerBySession(sessionID)
	if p == nil {
		return nil, false
	}
	p.Disconnected = true
	at := now
	p.DisconnectedAt = &at
	return p, true
}

// Rebind attaches a new connection identifier to the player and clears the
// disconnected flag.
func (g *Game) Rebind(sessionID, newConnectionID string) (*Player, bool) {
	_, p := g.PlayerBySession(sessionID)
	if p == nil {
		return nil, false
	}
	p.ID = newConnectionID
	p.Disconnected = false
	p.DisconnectedAt = nil
	return p, true
}

// AllDisconnectedSince reports whether every player has been disconnected
// since before the cutoff. An empty room counts as abandoned.
func (g *Game) AllDisconnectedSince(cutoff time.Time) bool {
	for _, p := range g.Players {
		if !p.Disconnected || p.DisconnectedAt == nil || p.DisconnectedAt.After(cutoff) {
			return false
		}
	}
	return true
}

// advanceTurn moves to the next non-disconnected player in circular order.
// When every player is disconnected the index stays where it was and the
// room sits idle until someone reconnects or gets evicted.
func (g *Game) advanceTurn() {
	n := len(g.Players)
	if n == 0 {
		return
	}
	for i := 1; i <= n; i++ {
		idx := (g.CurrentPlayerIndex + i) % n
		if !g.Players[idx].Disconnected {
			g.CurrentPlayerIndex = idx
			return
		}
	}
}

// seatTurn places the turn on the first non-disconnected player at or after
// start, wrapping around; start itself wins ties. Falls back to start when
// every player is disconnected.
func (g *Game) seatTurn(start int) {
	n := len(g.Players)
	if n == 0 {
		g.CurrentPlayerIndex = 0
		return
	}
	start = ((start % n) + n) % n
	g.CurrentPlayerIndex = start
	if !g.Players[start].Disconnected {
		return
	}
	for i := 1; i < n; i++ {
		idx := (start + i) % n
		if !g.Players[idx].Disconnected {
			g.CurrentPlayerIndex = idx
			return
		}
	}
}

func (g *Game) allPilesDead() bool {
	for _, pile := range g.Piles {
		if pile.Active {
			return false
		}
	}
	return true
}

// computeWinner picks the player with the best correct/total ratio. Ties go
// to the earlier player in turn order; players who never predicted are
// ineligible.
func (g *Game) computeWinner() *Player {
	var winner *Player
	var best float64
	for _, p := range g.Players {
		if p.TotalPredictions == 0 {
			continue
		}
		ratio := float64(p.CorrectPredictions) / float64(p.TotalPredictions)
		if winner == nil || ratio > best {
			winner = p
			best = ratio
		}
	}
	return winner
}

// ClearDealtFlags resets the display flags on one pile after the client-side
// animation window. Reports whether anything changed.
func (g *Game) ClearDealtFlags(pileIndex int) bool {
	if pileIndex < 0 || pileIndex >= len(g.Piles) {
		return false
	}
	pile := g.Piles[pileIndex]
	if !pile.IsNewlyDealt && pile.LastPredictionCorrect == nil {
		return false
	}
	pile.IsNewlyDealt = false
	pile.LastPredictionCorrect = nil
	return true
}

// DeckCount exposes the authoritative deck size for invariant checks.
func (g *Game) DeckCount() int {
	if g.deck == nil {
		return 0
	}
	return g.deck.Count()
}
