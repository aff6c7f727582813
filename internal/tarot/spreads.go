package tarot

import (
	_ "embed"
	"errors"
	"fmt"

	"github.com/astrotarot/astrotarot/internal/model"
	"gopkg.in/yaml.v3"
)

//go:embed spreads.yaml
var spreadsYAML []byte

// Spread is a tarot layout.
type Spread struct {
	Code             string                 `yaml:"code" json:"code"`
	Name             string                 `yaml:"name" json:"name"`
	Emoji            string                 `yaml:"emoji" json:"emoji"`
	Description      string                 `yaml:"description" json:"description"`
	Cards            int                    `yaml:"cards" json:"card_count"`
	MinPlan          model.SubscriptionPlan `yaml:"min_plan" json:"min_plan"`
	RequiresQuestion bool                   `yaml:"requires_question" json:"requires_question"`
	Positions        []string               `yaml:"positions" json:"positions"`
}

// Title returns the spread name with its emoji.
func (s Spread) Title() string {
	if s.Emoji == "" {
		return s.Name
	}
	return s.Emoji + " " + s.Name
}

// Position returns the name of a 1-based position.
func (s Spread) Position(n int) string {
	if n < 1 || n > len(s.Positions) {
		return fmt.Sprintf("Позиция %d", n)
	}
	return s.Positions[n-1]
}

// ErrUnknownSpread is returned for codes missing from the catalog.
var ErrUnknownSpread = errors.New("unknown spread")

// Catalog is an ordered, validated set of spreads.
type Catalog struct {
	spreads []Spread
	byCode  map[string]Spread
}

// ParseCatalog decodes and validates a YAML spread list.
func ParseCatalog(data []byte) (*Catalog, error) {
	var spreads []Spread
	if err := yaml.Unmarshal(data, &spreads); err != nil {
		return nil, fmt.Errorf("decode spreads: %w", err)
	}

	c := &Catalog{spreads: spreads, byCode: make(map[string]Spread, len(spreads))}
	var errs []error
	for _, s := range spreads {
		switch {
		case s.Code == "":
			errs = append(errs, errors.New("spread without code"))
		case s.Cards < 1 || s.Cards > TotalCards:
			errs = append(errs, fmt.Errorf("spread %s: card count %d out of range", s.Code, s.Cards))
		case len(s.Positions) != s.Cards:
			errs = append(errs, fmt.Errorf("spread %s: %d positions for %d cards", s.Code, len(s.Positions), s.Cards))
		case !s.MinPlan.Valid():
			errs = append(errs, fmt.Errorf("spread %s: unknown plan %q", s.Code, s.MinPlan))
		}
		if _, dup := c.byCode[s.Code]; dup {
			errs = append(errs, fmt.Errorf("spread %s: duplicate code", s.Code))
		}
		c.byCode[s.Code] = s
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return c, nil
}

var defaultCatalog = mustParseCatalog(spreadsYAML)

func mustParseCatalog(data []byte) *Catalog {
	c, err := ParseCatalog(data)
	if err != nil {
		panic(err)
	}
	return c
}

// DefaultCatalog returns the embedded spread catalog.
func DefaultCatalog() *Catalog {
	return defaultCatalog
}

// Get returns the spread with the given code.
func (c *Catalog) Get(code string) (Spread, error) {
	s, ok := c.byCode[code]
	if !ok {
		return Spread{}, fmt.Errorf("%w: %s", ErrUnknownSpread, code)
	}
	return s, nil
}

// List returns all spreads in catalog order.
func (c *Catalog) List() []Spread {
	out := make([]Spread, len(c.spreads))
	copy(out, c.spreads)
	return out
}

// Available returns the spreads the plan unlocks, excluding the daily card.
func (c *Catalog) Available(plan model.SubscriptionPlan) []Spread {
	var out []Spread
	for _, s := range c.spreads {
		if s.Code == model.SpreadDailyCard {
			continue
		}
		if plan.Covers(s.MinPlan) {
			out = append(out, s)
		}
	}
	return out
}
