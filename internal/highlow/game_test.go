package highlow

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testGame(usernames ...string) *Game {
	g := NewGame("TST", time.Now())
	for i, name := range usernames {
		g.Join(fmt.Sprintf("conn-%d", i), fmt.Sprintf("tok-%d", i), name)
	}
	return g
}

func startedGame(t *testing.T, usernames ...string) *Game {
	t.Helper()
	g := testGame(usernames...)
	err := g.Start("conn-0", rand.New(rand.NewSource(1)), false)
	assert.NoError(t, err)
	return g
}

// setTop replaces a pile's face-up card so a prediction outcome is scripted.
func setTop(g *Game, pileIndex int, card Card) {
	pile := g.Piles[pileIndex]
	pile.Cards[len(pile.Cards)-1] = card
}

// stackDeck replaces the deck with a known sequence; the last card is drawn
// first.
func stackDeck(g *Game, cards ...Card) {
	g.deck = &Deck{cards: cards}
	g.RemainingCards = len(cards)
}

// ============================================================================
// JOIN
// ============================================================================

func TestJoinFirstPlayerIsHost(t *testing.T) {
	g := testGame("Alice", "Bob")

	assert.True(t, g.Players[0].IsHost)
	assert.False(t, g.Players[1].IsHost)
	assert.Equal(t, StatusWaiting, g.Status)
	assert.Equal(t, DealtRemaining, g.RemainingCards)
}

func TestJoinFinishedRoomRejected(t *testing.T) {
	g := testGame("Alice")
	g.Status = StatusFinished

	_, err := g.Join("conn-9", "tok-9", "Late")
	assert.ErrorIs(t, err, ErrRoomFinished)
	assert.Equal(t, 1, len(g.Players))
}

func TestJoinMidGameAppendsAtEnd(t *testing.T) {
	g := startedGame(t, "Alice", "Bob")

	p, err := g.Join("conn-2", "tok-2", "Carol")
	assert.NoError(t, err)
	assert.Equal(t, g.Players[2], p)
	assert.False(t, p.IsHost)
	assert.Equal(t, 0, p.TotalPredictions)
}

// ============================================================================
// START
// ============================================================================

func TestStartDealsNinePiles(t *testing.T) {
	g := startedGame(t, "Alice", "Bob")

	assert.Equal(t, StatusPlaying, g.Status)
	assert.Equal(t, PileCount, len(g.Piles))
	for i, pile := range g.Piles {
		assert.Equal(t, 1, len(pile.Cards), "Pile %d should hold one dealt card", i)
		assert.True(t, pile.Active)
		assert.False(t, pile.IsNewlyDealt)
	}
	assert.Equal(t, DealtRemaining, g.RemainingCards)
	assert.Equal(t, DealtRemaining, g.DeckCount())
	assert.Equal(t, 0, g.CurrentPlayerIndex)
	assert.Nil(t, g.CurrentPileIndex)
	assert.Nil(t, g.Winner)
}

func TestStartResetsStats(t *testing.T) {
	g := startedGame(t, "Alice", "Bob")
	g.Players[0].CorrectPredictions = 3
	g.Players[0].TotalPredictions = 5

	err := g.Start("conn-0", rand.New(rand.NewSource(2)), false)
	assert.NoError(t, err)
	assert.Equal(t, 0, g.Players[0].CorrectPredictions)
	assert.Equal(t, 0, g.Players[0].TotalPredictions)
}

func TestStartRequiresHost(t *testing.T) {
	g := testGame("Alice", "Bob")

	err := g.Start("conn-1", nil, false)
	assert.ErrorIs(t, err, ErrNotHost)
	assert.Equal(t, StatusWaiting, g.Status)

	err = g.Start("conn-404", nil, false)
	assert.ErrorIs(t, err, ErrNotInGame)
}

func TestStartRandomFirstPlayerStaysInRange(t *testing.T) {
	g := testGame("Alice", "Bob", "Carol")

	err := g.Start("conn-0", rand.New(rand.NewSource(3)), true)
	assert.NoError(t, err)
	assert.GreaterOrEqual(t, g.CurrentPlayerIndex, 0)
	assert.Less(t, g.CurrentPlayerIndex, len(g.Players))
}

func TestStartSkipsDisconnectedOpener(t *testing.T) {
	g := testGame("Alice", "Bob")
	g.Players[0].Disconnected = true

	err := g.Start("conn-0", rand.New(rand.NewSource(4)), false)
	assert.NoError(t, err)
	assert.Equal(t, 1, g.CurrentPlayerIndex)
}

// ============================================================================
// SELECT PILE
// ============================================================================

func TestSelectPileValidation(t *testing.T) {
	g := testGame("Alice", "Bob")
	assert.ErrorIs(t, g.SelectPile("conn-0", 0), ErrNotPlaying)

	g = startedGame(t, "Alice", "Bob")
	assert.ErrorIs(t, g.SelectPile("conn-1", 0), ErrNotYourTurn)
	assert.ErrorIs(t, g.SelectPile("conn-404", 0), ErrNotInGame)
	assert.ErrorIs(t, g.SelectPile("conn-0", -1), ErrInvalidPile)
	assert.ErrorIs(t, g.SelectPile("conn-0", PileCount), ErrInvalidPile)

	g.Piles[4].Active = false
	assert.ErrorIs(t, g.SelectPile("conn-0", 4), ErrPileInactive)
	assert.Nil(t, g.CurrentPileIndex)
}

func TestSelectPileReselectionAllowed(t *testing.T) {
	g := startedGame(t, "Alice", "Bob")

	assert.NoError(t, g.SelectPile("conn-0", 2))
	assert.Equal(t, 2, *g.CurrentPileIndex)

	assert.NoError(t, g.SelectPile("conn-0", 7))
	assert.Equal(t, 7, *g.CurrentPileIndex)
}

// ============================================================================
// PREDICT
// ============================================================================

func TestPredictCorrectKeepsPileAndSelection(t *testing.T) {
	g := startedGame(t, "Alice", "Bob")
	setTop(g, 0, Card{Rank: Five, Suit: Hearts})
	stackDeck(g, Card{Rank: Two, Suit: Hearts}, Card{Rank: Ten, Suit: Clubs})

	assert.NoError(t, g.SelectPile("conn-0", 0))
	outcome, err := g.Predict("conn-0", Higher)
	assert.NoError(t, err)

	assert.True(t, outcome.Correct)
	assert.Equal(t, Card{Rank: Ten, Suit: Clubs}, outcome.DrawnCard)
	assert.Equal(t, 0, outcome.PileIndex)
	assert.False(t, outcome.PileDied)

	pile := g.Piles[0]
	assert.True(t, pile.Active)
	assert.Equal(t, 2, len(pile.Cards))
	assert.True(t, pile.IsNewlyDealt)
	assert.True(t, *pile.LastPredictionCorrect)

	// Bob inherits the already-selected pile.
	assert.Equal(t, 1, g.CurrentPlayerIndex)
	assert.Equal(t, 0, *g.CurrentPileIndex)

	assert.Equal(t, 1, g.Players[0].TotalPredictions)
	assert.Equal(t, 1, g.Players[0].CorrectPredictions)
	assert.Equal(t, 1, g.RemainingCards)
	assert.Equal(t, StatusPlaying, g.Status)
}

func TestPredictWrongKillsPile(t *testing.T) {
	g := startedGame(t, "Alice", "Bob")
	setTop(g, 3, Card{Rank: Five, Suit: Hearts})
	stackDeck(g, Card{Rank: Two, Suit: Hearts}, Card{Rank: Ten, Suit: Clubs})

	assert.NoError(t, g.SelectPile("conn-0", 3))
	outcome, err := g.Predict("conn-0", Lower)
	assert.NoError(t, err)

	assert.False(t, outcome.Correct)
	assert.True(t, outcome.PileDied)

	pile := g.Piles[3]
	assert.False(t, pile.Active)
	assert.Equal(t, 2, len(pile.Cards), "Dead piles keep their card history")
	assert.False(t, *pile.LastPredictionCorrect)

	// The acted-upon pile died, so Bob must choose afresh.
	assert.Equal(t, 1, g.CurrentPlayerIndex)
	assert.Nil(t, g.CurrentPileIndex)

	assert.Equal(t, 1, g.Players[0].TotalPredictions)
	assert.Equal(t, 0, g.Players[0].CorrectPredictions)
}

func TestDeadPileStaysDead(t *testing.T) {
	g := startedGame(t, "Alice", "Bob")
	setTop(g, 0, Card{Rank: Five, Suit: Hearts})
	setTop(g, 1, Card{Rank: Seven, Suit: Hearts})
	stackDeck(g,
		Card{Rank: Seven, Suit: Spades}, // drawn second: equal on pile 1
		Card{Rank: Ten, Suit: Clubs},    // drawn first: kills pile 0
	)

	assert.NoError(t, g.SelectPile("conn-0", 0))
	_, err := g.Predict("conn-0", Lower)
	assert.NoError(t, err)
	assert.False(t, g.Piles[0].Active)

	// A correct "same" on another pile must not revive pile 0.
	assert.NoError(t, g.SelectPile("conn-1", 1))
	outcome, err := g.Predict("conn-1", Same)
	assert.NoError(t, err)
	assert.True(t, outcome.Correct)
	assert.False(t, g.Piles[0].Active)

	assert.ErrorIs(t, g.SelectPile("conn-0", 0), ErrPileInactive)
}

func TestPredictValidation(t *testing.T) {
	g := startedGame(t, "Alice", "Bob")

	_, err := g.Predict("conn-0", Prediction("high"))
	assert.ErrorIs(t, err, ErrInvalidPrediction)

	_, err = g.Predict("conn-0", Higher)
	assert.ErrorIs(t, err, ErrNoPileSelected)

	assert.NoError(t, g.SelectPile("conn-0", 0))
	_, err = g.Predict("conn-1", Higher)
	assert.ErrorIs(t, err, ErrNotYourTurn)

	g.Status = StatusWaiting
	_, err = g.Predict("conn-0", Higher)
	assert.ErrorIs(t, err, ErrNotPlaying)
}

func TestPredictDeckExhaustedIsFatal(t *testing.T) {
	g := startedGame(t, "Alice", "Bob")
	assert.NoError(t, g.SelectPile("conn-0", 0))

	// Bookkeeping claims cards remain while the deck is actually empty.
	g.deck = &Deck{}
	g.RemainingCards = 5

	_, err := g.Predict("conn-0", Higher)
	assert.ErrorIs(t, err, ErrDeckExhausted)

	// Nothing may have mutated.
	assert.Equal(t, 5, g.RemainingCards)
	assert.Equal(t, 1, len(g.Piles[0].Cards))
	assert.Equal(t, 0, g.Players[0].TotalPredictions)
	assert.Equal(t, 0, g.CurrentPlayerIndex)
	assert.Equal(t, StatusPlaying, g.Status)
}

// ============================================================================
// TERMINATION & WINNER
// ============================================================================

func TestLastPileDeathFinishesWithCardsRemaining(t *testing.T) {
	g := startedGame(t, "Alice", "Bob")
	for i := 1; i < PileCount; i++ {
		g.Piles[i].Active = false
	}
	// "Higher" against an ace can never hold.
	setTop(g, 0, Card{Rank: Ace, Suit: Hearts})

	assert.NoError(t, g.SelectPile("conn-0", 0))
	outcome, err := g.Predict("conn-0", Higher)
	assert.NoError(t, err)

	assert.True(t, outcome.PileDied)
	assert.True(t, outcome.GameFinished)
	assert.Equal(t, StatusFinished, g.Status)
	assert.Greater(t, g.RemainingCards, 0, "Game must finish the instant all piles die")
	assert.NotNil(t, g.Winner)
	assert.Equal(t, "Alice", g.Winner.Username)
}

func TestDeckExhaustionFinishesGame(t *testing.T) {
	g := startedGame(t, "Alice", "Bob")
	setTop(g, 0, Card{Rank: Five, Suit: Hearts})
	stackDeck(g, Card{Rank: King, Suit: Clubs})

	assert.NoError(t, g.SelectPile("conn-0", 0))
	outcome, err := g.Predict("conn-0", Higher)
	assert.NoError(t, err)

	assert.True(t, outcome.Correct)
	assert.Equal(t, 0, outcome.RemainingCards)
	assert.True(t, outcome.GameFinished)
	assert.Equal(t, StatusFinished, g.Status)
}

func TestComputeWinner(t *testing.T) {
	g := testGame("Alice", "Bob", "Carol", "Dave")
	g.Players[0].CorrectPredictions, g.Players[0].TotalPredictions = 2, 4  // 0.50
	g.Players[1].CorrectPredictions, g.Players[1].TotalPredictions = 3, 4  // 0.75
	g.Players[2].CorrectPredictions, g.Players[2].TotalPredictions = 0, 0  // ineligible
	g.Players[3].CorrectPredictions, g.Players[3].TotalPredictions = 6, 8  // 0.75 tie

	winner := g.computeWinner()
	assert.Equal(t, "Bob", winner.Username, "Ties break to the earlier player in turn order")
}

func TestComputeWinnerNobodyEligible(t *testing.T) {
	g := testGame("Alice", "Bob")
	assert.Nil(t, g.computeWinner())
}

// ============================================================================
// TURN ADVANCEMENT
// ============================================================================

func TestTurnSkipsDisconnectedPlayer(t *testing.T) {
	g := startedGame(t, "Alice", "Bob", "Carol")
	setTop(g, 0, Card{Rank: Five, Suit: Hearts})
	stackDeck(g, Card{Rank: Two, Suit: Hearts}, Card{Rank: Ten, Suit: Clubs})
	g.Players[1].Disconnected = true

	assert.NoError(t, g.SelectPile("conn-0", 0))
	_, err := g.Predict("conn-0", Higher)
	assert.NoError(t, err)

	assert.Equal(t, 2, g.CurrentPlayerIndex, "Turn must skip the disconnected player")
	assert.False(t, g.Players[g.CurrentPlayerIndex].Disconnected)
}

func TestTurnWrapsBackToSoleConnectedPlayer(t *testing.T) {
	g := startedGame(t, "Alice", "Bob")
	setTop(g, 0, Card{Rank: Five, Suit: Hearts})
	stackDeck(g, Card{Rank: Two, Suit: Hearts}, Card{Rank: Ten, Suit: Clubs})
	g.Players[1].Disconnected = true

	assert.NoError(t, g.SelectPile("conn-0", 0))
	_, err := g.Predict("conn-0", Higher)
	assert.NoError(t, err)

	assert.Equal(t, 0, g.CurrentPlayerIndex)
}

func TestAdvanceTurnAllDisconnectedStaysPut(t *testing.T) {
	g := startedGame(t, "Alice", "Bob", "Carol")
	g.CurrentPlayerIndex = 1
	now := time.Now()
	for _, p := range g.Players {
		g.MarkDisconnected(p.SessionID, now)
	}

	g.advanceTurn()
	assert.Equal(t, 1, g.CurrentPlayerIndex, "All-disconnected rooms sit idle without moving the turn")
}

// ============================================================================
// REMOVE / DISCONNECT / REBIND
// ============================================================================

func TestRemoveHostReassignsToFirstRemaining(t *testing.T) {
	g := testGame("Alice", "Bob", "Carol")

	removed, ok := g.RemovePlayer("tok-0")
	assert.True(t, ok)
	assert.Equal(t, "Alice", removed.Username)
	assert.True(t, g.Players[0].IsHost)
	assert.Equal(t, "Bob", g.Players[0].Username)
}

func TestRemoveBeforeCurrentShiftsIndex(t *testing.T) {
	g := startedGame(t, "Alice", "Bob", "Carol")
	g.CurrentPlayerIndex = 2

	g.RemovePlayer("tok-0")
	assert.Equal(t, 1, g.CurrentPlayerIndex)
	assert.Equal(t, "Carol", g.Players[g.CurrentPlayerIndex].Username)
}

func TestRemoveCurrentPlayerLandsOnNext(t *testing.T) {
	g := startedGame(t, "Alice", "Bob", "Carol")
	g.CurrentPlayerIndex = 1

	g.RemovePlayer("tok-1")
	assert.Equal(t, 1, g.CurrentPlayerIndex)
	assert.Equal(t, "Carol", g.Players[g.CurrentPlayerIndex].Username)
}

func TestRemoveCurrentLastPlayerWrapsAround(t *testing.T) {
	g := startedGame(t, "Alice", "Bob", "Carol")
	g.CurrentPlayerIndex = 2

	g.RemovePlayer("tok-2")
	assert.Equal(t, 0, g.CurrentPlayerIndex)
}

func TestRemoveCurrentSkipsDisconnectedSuccessor(t *testing.T) {
	g := startedGame(t, "Alice", "Bob", "Carol", "Dave")
	g.CurrentPlayerIndex = 1
	g.Players[2].Disconnected = true

	g.RemovePlayer("tok-1")
	assert.Equal(t, "Dave", g.Players[g.CurrentPlayerIndex].Username)
}

func TestRemoveLastPlayerEmptiesRoom(t *testing.T) {
	g := testGame("Alice")

	_, ok := g.RemovePlayer("tok-0")
	assert.True(t, ok)
	assert.Equal(t, 0, len(g.Players))
	assert.Equal(t, 0, g.CurrentPlayerIndex)

	_, ok = g.RemovePlayer("tok-0")
	assert.False(t, ok)
}

func TestMarkDisconnectedAndRebind(t *testing.T) {
	g := testGame("Alice", "Bob")
	now := time.Now()

	p, ok := g.MarkDisconnected("tok-1", now)
	assert.True(t, ok)
	assert.True(t, p.Disconnected)
	assert.Equal(t, now, *p.DisconnectedAt)

	rebound, ok := g.Rebind("tok-1", "conn-fresh")
	assert.True(t, ok)
	assert.Same(t, p, rebound)
	assert.Equal(t, "conn-fresh", rebound.ID)
	assert.False(t, rebound.Disconnected)
	assert.Nil(t, rebound.DisconnectedAt)
}

func TestAllDisconnectedSince(t *testing.T) {
	g := testGame("Alice", "Bob")
	old := time.Now().Add(-2 * time.Hour)
	cutoff := time.Now().Add(-time.Hour)

	assert.False(t, g.AllDisconnectedSince(cutoff))

	g.MarkDisconnected("tok-0", old)
	assert.False(t, g.AllDisconnectedSince(cutoff), "One connected player keeps the room alive")

	g.MarkDisconnected("tok-1", old)
	assert.True(t, g.AllDisconnectedSince(cutoff))

	g.Rebind("tok-1", "conn-new")
	assert.False(t, g.AllDisconnectedSince(cutoff))
}

// ============================================================================
// END (host reset)
// ============================================================================

func TestEndResetsToWaiting(t *testing.T) {
	g := startedGame(t, "Alice", "Bob")
	assert.NoError(t, g.SelectPile("conn-0", 0))

	assert.ErrorIs(t, g.End("conn-1"), ErrNotHost)

	assert.NoError(t, g.End("conn-0"))
	assert.Equal(t, StatusWaiting, g.Status)
	assert.Nil(t, g.Piles)
	assert.Nil(t, g.CurrentPileIndex)
	assert.Equal(t, 0, g.DeckCount())
	assert.Equal(t, DealtRemaining, g.RemainingCards)
	assert.Nil(t, g.Winner)
}

// ============================================================================
// FULL GAME: conservation invariant
// ============================================================================

// Plays a whole unscripted game, checking after every resolved prediction
// that the deck plus the piles still account for all 52 cards.
func TestCardConservationThroughFullGame(t *testing.T) {
	g := startedGame(t, "Alice", "Bob")

	for steps := 0; g.Status == StatusPlaying && steps < 60; steps++ {
		actor := g.Players[g.CurrentPlayerIndex]
		if g.CurrentPileIndex == nil {
			picked := false
			for i, pile := range g.Piles {
				if pile.Active {
					assert.NoError(t, g.SelectPile(actor.ID, i))
					picked = true
					break
				}
			}
			assert.True(t, picked, "A playing game must always have an active pile")
		}

		_, err := g.Predict(actor.ID, Higher)
		assert.NoError(t, err)

		onPiles := 0
		for _, pile := range g.Piles {
			onPiles += len(pile.Cards)
		}
		assert.Equal(t, 52, g.RemainingCards+onPiles, "Deck and piles must always account for 52 cards")
		assert.Equal(t, g.RemainingCards, g.DeckCount())

		if g.Status == StatusPlaying {
			assert.False(t, g.Players[g.CurrentPlayerIndex].Disconnected)
		}
	}

	assert.Equal(t, StatusFinished, g.Status, "An unscripted game must terminate")
}

// ============================================================================
// SCENARIO: Alice and Bob's opening turn
// ============================================================================

func TestOpeningTurnScenario(t *testing.T) {
	g := NewGame("ABC", time.Now())
	alice, err := g.Join("conn-alice", "tok-alice", "Alice")
	assert.NoError(t, err)
	assert.True(t, alice.IsHost)

	_, err = g.Join("conn-bob", "tok-bob", "Bob")
	assert.NoError(t, err)

	assert.NoError(t, g.Start("conn-alice", rand.New(rand.NewSource(99)), false))
	assert.Equal(t, PileCount, len(g.Piles))
	assert.Equal(t, DealtRemaining, g.RemainingCards)
	assert.Equal(t, 0, g.CurrentPlayerIndex)

	top := g.Piles[0].Top()
	next := g.deck.cards[len(g.deck.cards)-1]

	assert.NoError(t, g.SelectPile("conn-alice", 0))
	outcome, err := g.Predict("conn-alice", Higher)
	assert.NoError(t, err)
	assert.Equal(t, next, outcome.DrawnCard)

	assert.Equal(t, 1, g.CurrentPlayerIndex, "Turn passes to Bob either way")
	if next.Rank.Index() > top.Rank.Index() {
		assert.True(t, outcome.Correct)
		assert.True(t, g.Piles[0].Active)
		assert.Equal(t, 2, len(g.Piles[0].Cards))
		assert.Equal(t, 0, *g.CurrentPileIndex, "Bob inherits the selected pile")
	} else {
		assert.False(t, outcome.Correct)
		assert.False(t, g.Piles[0].Active)
		assert.Nil(t, g.CurrentPileIndex)
	}
}
