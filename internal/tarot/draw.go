package tarot

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/astrotarot/astrotarot/internal/model"
)

// Drawer draws cards from a shuffled deck.
type Drawer struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewDrawer returns a Drawer backed by src. A nil src uses a random seed.
func NewDrawer(src rand.Source) *Drawer {
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &Drawer{rng: rand.New(src)}
}

// Draw returns n distinct cards at positions 1..n, each reversed with
// probability one half.
func (d *Drawer) Draw(n int) ([]model.DrawnCard, error) {
	if n < 1 || n > TotalCards {
		return nil, fmt.Errorf("cannot draw %d cards", n)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	ids := d.rng.Perm(TotalCards)[:n]
	cards := make([]model.DrawnCard, n)
	for i, id := range ids {
		cards[i] = model.DrawnCard{
			CardID:   id,
			Position: i + 1,
			Reversed: d.rng.IntN(2) == 1,
		}
	}
	return cards, nil
}

// DrawSpread draws the cards of a spread.
func (d *Drawer) DrawSpread(s Spread) ([]model.DrawnCard, error) {
	return d.Draw(s.Cards)
}
