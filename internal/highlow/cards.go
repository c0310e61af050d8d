package highlow

import (
	"fmt"
	"math/rand"
)

type Suit string

const (
	Hearts   Suit = "hearts"
	Diamonds Suit = "diamonds"
	Clubs    Suit = "clubs"
	Spades   Suit = "spades"
)

var Suits = []Suit{Hearts, Diamonds, Clubs, Spades}

type Rank string

const (
	Two   Rank = "2"
	Three Rank = "3"
	Four  Rank = "4"
	Five  Rank = "5"
	Six   Rank = "6"
	Seven Rank = "7"
	Eight Rank = "8"
	Nine  Rank = "9"
	Ten   Rank = "10"
	Jack  Rank = "J"
	Queen Rank = "Q"
	King  Rank = "K"
	Ace   Rank = "A"
)

// Ranks is ordered lowest to highest; position decides every comparison.
var Ranks = []Rank{Two, Three, Four, Five, Six, Seven, Eight, Nine, Ten, Jack, Queen, King, Ace}

var rankIndex = func() map[Rank]int {
	m := make(map[Rank]int, len(Ranks))
	for i, r := range Ranks {
		m[r] = i
	}
	return m
}()

// Index returns the rank's position in the low-to-high ordering, or -1 for
// an unknown rank.
func (r Rank) Index() int {
	i, ok := rankIndex[r]
	if !ok {
		return -1
	}
	return i
}

type Card struct {
	Rank Rank `json:"rank"`
	Suit Suit `json:"suit"`
}

func (c Card) String() string {
	return fmt.Sprintf("%s of %s", c.Rank, c.Suit)
}

type Prediction string

const (
	Higher Prediction = "higher"
	Lower  Prediction = "lower"
	Same   Prediction = "same"
)

func (p Prediction) Valid() bool {
	return p == Higher || p == Lower || p == Same
}

// Compare reports whether the prediction holds for drawn relative to top.
// Suit never matters.
func Compare(top, drawn Card, prediction Prediction) bool {
	switch prediction {
	case Higher:
		return drawn.Rank.Index() > top.Rank.Index()
	case Lower:
		return drawn.Rank.Index() < top.Rank.Index()
	case Same:
		return drawn.Rank.Index() == top.Rank.Index()
	}
	return false
}

type Deck struct {
	cards []Card
}

// NewDeck builds the 52-card cross product of ranks and suits, unshuffled.
func NewDeck() *Deck {
	cards := make([]Card, 0, len(Suits)*len(Ranks))
	for _, suit := range Suits {
		for _, rank := range Ranks {
			cards = append(cards, Card{Rank: rank, Suit: suit})
		}
	}
	return &Deck{cards: cards}
}

// NewShuffledDeck returns a freshly shuffled 52-card deck. A nil rng uses
// the shared math/rand source; tests pass a seeded one for scripted deals.
func NewShuffledDeck(rng *rand.Rand) *Deck {
	d := NewDeck()
	d.Shuffle(rng)
	return d
}

// Shuffle applies a uniform Fisher-Yates permutation.
func (d *Deck) Shuffle(rng *rand.Rand) {
	swap := func(i, j int) {
		d.cards[i], d.cards[j] = d.cards[j], d.cards[i]
	}
	if rng != nil {
		rng.Shuffle(len(d.cards), swap)
		return
	}
	rand.Shuffle(len(d.cards), swap)
}

func (d *Deck) Count() int {
	return len(d.cards)
}

// Draw removes and returns the card at the end of the deck.
func (d *Deck) Draw() (Card, bool) {
	if len(d.cards) == 0 {
		return Card{}, false
	}
	card := d.cards[len(d.cards)-1]
	d.cards = d.cards[:len(d.cards)-1]
	return card, true
}
