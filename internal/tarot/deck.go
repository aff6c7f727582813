// Package tarot holds the 78-card deck, the spread catalog and card drawing.
package tarot

import (
	"errors"
	"fmt"
	"strconv"
)

// Deck sizes.
const (
	TotalCards  = 78
	MajorArcana = 22
	suitSize    = 14
)

// Arcana kinds.
const (
	KindMajor = "major"
	KindPip   = "number"
	KindCourt = "court"
)

// Suit is a minor arcana suit.
type Suit struct {
	Name     string   `json:"name"`
	Element  string   `json:"element"`
	Keywords []string `json:"keywords"`
}

// Suits in deck order.
var Suits = []Suit{
	{Name: "Жезлы", Element: "Огонь", Keywords: []string{"действие", "энергия", "творчество", "страсть"}},
	{Name: "Кубки", Element: "Вода", Keywords: []string{"эмоции", "чувства", "интуиция", "отношения"}},
	{Name: "Мечи", Element: "Воздух", Keywords: []string{"мысли", "конфликт", "решение", "ясность"}},
	{Name: "Пентакли", Element: "Земля", Keywords: []string{"материя", "работа", "деньги", "результат"}},
}

// suitGenitive is used in card names: "Туз Кубков".
var suitGenitive = []string{"Жезлов", "Кубков", "Мечей", "Пентаклей"}

var courtNames = []string{"Паж", "Рыцарь", "Королева", "Король"}

type majorCard struct {
	name     string
	element  string
	keywords []string
}

var majors = [MajorArcana]majorCard{
	{"Шут", "Воздух", []string{"начало", "спонтанность", "свобода", "риск"}},
	{"Маг", "Воздух", []string{"воля", "мастерство", "действие", "проявление"}},
	{"Верховная Жрица", "Вода", []string{"интуиция", "тайна", "подсознание", "мудрость"}},
	{"Императрица", "Земля", []string{"изобилие", "плодородие", "забота", "природа"}},
	{"Император", "Огонь", []string{"власть", "структура", "контроль", "стабильность"}},
	{"Иерофант", "Земля", []string{"традиция", "учение", "вера", "наставничество"}},
	{"Влюбленные", "Воздух", []string{"любовь", "выбор", "гармония", "союз"}},
	{"Колесница", "Вода", []string{"победа", "движение", "решимость", "контроль"}},
	{"Сила", "Огонь", []string{"мужество", "терпение", "внутренняя сила", "сострадание"}},
	{"Отшельник", "Земля", []string{"уединение", "поиск", "самопознание", "мудрость"}},
	{"Колесо Фортуны", "Огонь", []string{"судьба", "перемены", "циклы", "удача"}},
	{"Справедливость", "Воздух", []string{"равновесие", "истина", "закон", "ответственность"}},
	{"Повешенный", "Вода", []string{"пауза", "жертва", "новый взгляд", "отпускание"}},
	{"Смерть", "Вода", []string{"трансформация", "завершение", "обновление", "переход"}},
	{"Умеренность", "Огонь", []string{"баланс", "терпение", "умеренность", "исцеление"}},
	{"Дьявол", "Земля", []string{"искушение", "зависимость", "материализм", "тень"}},
	{"Башня", "Огонь", []string{"потрясение", "разрушение", "откровение", "освобождение"}},
	{"Звезда", "Воздух", []string{"надежда", "вдохновение", "вера", "обновление"}},
	{"Луна", "Вода", []string{"иллюзия", "страх", "интуиция", "сны"}},
	{"Солнце", "Огонь", []string{"радость", "успех", "ясность", "жизненная сила"}},
	{"Суд", "Огонь", []string{"пробуждение", "призвание", "итог", "возрождение"}},
	{"Мир", "Земля", []string{"завершенность", "целостность", "достижение", "путешествие"}},
}

// Card describes one tarot card.
type Card struct {
	ID       int      `json:"id"`
	Name     string   `json:"name"`
	Kind     string   `json:"type"`
	Suit     string   `json:"suit,omitempty"`
	Number   int      `json:"number"`
	Element  string   `json:"element"`
	Keywords []string `json:"keywords"`
}

// IsMajor reports whether the card belongs to the major arcana.
func (c Card) IsMajor() bool {
	return c.Kind == KindMajor
}

// ErrUnknownCard is wrapped for card ids outside the deck.
var ErrUnknownCard = errors.New("unknown tarot card")

var deck = buildDeck()

func buildDeck() [TotalCards]Card {
	var d [TotalCards]Card
	for id := range TotalCards {
		d[id] = makeCard(id)
	}
	return d
}

func makeCard(id int) Card {
	if id < MajorArcana {
		m := majors[id]
		return Card{ID: id, Name: m.name, Kind: KindMajor, Number: id, Element: m.element, Keywords: m.keywords}
	}

	minor := id - MajorArcana
	suitIdx, rank := minor/suitSize, minor%suitSize
	suit := Suits[suitIdx]

	c := Card{
		ID:       id,
		Suit:     suit.Name,
		Number:   rank + 1,
		Element:  suit.Element,
		Keywords: suit.Keywords,
	}
	switch {
	case rank == 0:
		c.Kind = KindPip
		c.Name = "Туз " + suitGenitive[suitIdx]
	case rank < 10:
		c.Kind = KindPip
		c.Name = strconv.Itoa(rank+1) + " " + suitGenitive[suitIdx]
	default:
		c.Kind = KindCourt
		c.Name = courtNames[rank-10] + " " + suitGenitive[suitIdx]
	}
	return c
}

// CardByID returns the card with the given id.
func CardByID(id int) (Card, error) {
	if id < 0 || id >= TotalCards {
		return Card{}, fmt.Errorf("%w: %d", ErrUnknownCard, id)
	}
	return deck[id], nil
}

// MustCard returns the card with the given id and panics on an invalid id.
func MustCard(id int) Card {
	c, err := CardByID(id)
	if err != nil {
		panic(err)
	}
	return c
}

// All returns a copy of the whole deck in id order.
func All() []Card {
	out := make([]Card, TotalCards)
	copy(out, deck[:])
	return out
}

// DisplayName returns the card name with a reversed marker.
func DisplayName(c Card, reversed bool) string {
	if reversed {
		return c.Name + " (перевёрнутая)"
	}
	return c.Name
}

// Answer is a yes/no reading result.
type Answer string

const (
	AnswerYes   Answer = "Да"
	AnswerNo    Answer = "Нет"
	AnswerMaybe Answer = "Возможно"
)

// negativeMajors are answered "no" when upright.
var negativeMajors = map[int]bool{12: true, 13: true, 15: true, 16: true, 18: true}

// YesNoAnswer interprets a single card for the yes_no spread.
// Upright cards answer yes except the heavy majors; reversed cards answer no,
// and reversed heavy majors are ambiguous. Swords lean towards maybe.
func YesNoAnswer(c Card, reversed bool) Answer {
	heavy := c.IsMajor() && negativeMajors[c.ID]
	switch {
	case heavy && reversed:
		return AnswerMaybe
	case heavy:
		return AnswerNo
	case reversed:
		return AnswerNo
	case c.Suit == Suits[2].Name:
		return AnswerMaybe
	default:
		return AnswerYes
	}
}
