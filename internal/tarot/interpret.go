package tarot

import (
	"fmt"
	"strings"

	"github.com/astrotarot/astrotarot/internal/model"
)

// FallbackCard builds a keyword-based meaning of a single card.
func FallbackCard(c Card, reversed bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s. Ключевые слова: %s.", DisplayName(c, reversed), strings.Join(c.Keywords, ", "))
	if reversed {
		b.WriteString(" В перевёрнутом положении энергия карты ослаблена или обращена внутрь: ")
		fmt.Fprintf(&b, "обратите внимание на то, где «%s» даётся вам с трудом.", c.Keywords[0])
	} else {
		fmt.Fprintf(&b, " Сейчас хорошее время, чтобы опереться на %s и %s.", c.Keywords[0], c.Keywords[1])
	}
	return b.String()
}

// FallbackSpread builds a keyword-based reading of a whole spread.
func FallbackSpread(s Spread, cards []model.DrawnCard, question string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Расклад «%s»", s.Name)
	if question != "" {
		fmt.Fprintf(&b, " на вопрос: «%s»", question)
	}
	b.WriteString("\n\n")

	elements := make(map[string]int)
	for _, dc := range cards {
		c, err := CardByID(dc.CardID)
		if err != nil {
			continue
		}
		elements[c.Element]++
		fmt.Fprintf(&b, "%d. %s: %s\n", dc.Position, s.Position(dc.Position), FallbackCard(c, dc.Reversed))
	}

	if s.Code == "yes_no" && len(cards) == 1 {
		fmt.Fprintf(&b, "\nОтвет карт: %s.", YesNoAnswer(MustCard(cards[0].CardID), cards[0].Reversed))
		return b.String()
	}

	dominant, best := "", 0
	for _, suit := range []string{"Огонь", "Вода", "Воздух", "Земля"} {
		if elements[suit] > best {
			dominant, best = suit, elements[suit]
		}
	}
	if dominant != "" && best > 1 {
		fmt.Fprintf(&b, "\nВ раскладе преобладает стихия %s: %s.", dominant, elementHint[dominant])
	}
	return b.String()
}

var elementHint = map[string]string{
	"Огонь":  "действуйте смело и доверяйте своему энтузиазму",
	"Вода":   "прислушайтесь к чувствам и интуиции",
	"Воздух": "важны ясные мысли и честный разговор",
	"Земля":  "сосредоточьтесь на практических шагах",
}
