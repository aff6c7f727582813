// Package astro implements the simplified astrology used by the bot:
// zodiac signs, natal charts, compatibility, moon phases and lucky attributes.
//
// Charts are deterministic approximations built from mean planetary motion.
// No ephemeris is consulted.
package astro

import (
	"errors"
	"fmt"
	"time"
)

// Element names.
const (
	Fire  = "Огонь"
	Earth = "Земля"
	Air   = "Воздух"
	Water = "Вода"
)

// Elements in display order.
var Elements = []string{Fire, Earth, Air, Water}

// Quality names.
const (
	Cardinal = "Кардинальный"
	Fixed    = "Фиксированный"
	Mutable  = "Мутабельный"
)

// Sign is a zodiac sign.
type Sign struct {
	Key        string     `json:"key"`
	Name       string     `json:"name"`
	Emoji      string     `json:"emoji"`
	Element    string     `json:"element"`
	Quality    string     `json:"quality"`
	Ruler      string     `json:"ruler"`
	StartMonth time.Month `json:"-"`
	StartDay   int        `json:"-"`
	EndMonth   time.Month `json:"-"`
	EndDay     int        `json:"-"`
}

// Title returns the sign name with its glyph.
func (s Sign) Title() string {
	return s.Emoji + " " + s.Name
}

// Dates returns the human-readable date range, e.g. "21.03 – 19.04".
func (s Sign) Dates() string {
	return fmt.Sprintf("%02d.%02d – %02d.%02d", s.StartDay, int(s.StartMonth), s.EndDay, int(s.EndMonth))
}

// Signs in zodiac order starting from Aries. Index i covers ecliptic
// longitudes [30i, 30i+30).
var Signs = []Sign{
	{"aries", "Овен", "♈", Fire, Cardinal, "Марс", time.March, 21, time.April, 19},
	{"taurus", "Телец", "♉", Earth, Fixed, "Венера", time.April, 20, time.May, 20},
	{"gemini", "Близнецы", "♊", Air, Mutable, "Меркурий", time.May, 21, time.June, 20},
	{"cancer", "Рак", "♋", Water, Cardinal, "Луна", time.June, 21, time.July, 22},
	{"leo", "Лев", "♌", Fire, Fixed, "Солнце", time.July, 23, time.August, 22},
	{"virgo", "Дева", "♍", Earth, Mutable, "Меркурий", time.August, 23, time.September, 22},
	{"libra", "Весы", "♎", Air, Cardinal, "Венера", time.September, 23, time.October, 22},
	{"scorpio", "Скорпион", "♏", Water, Fixed, "Плутон", time.October, 23, time.November, 21},
	{"sagittarius", "Стрелец", "♐", Fire, Mutable, "Юпитер", time.November, 22, time.December, 21},
	{"capricorn", "Козерог", "♑", Earth, Cardinal, "Сатурн", time.December, 22, time.January, 19},
	{"aquarius", "Водолей", "♒", Air, Fixed, "Уран", time.January, 20, time.February, 18},
	{"pisces", "Рыбы", "♓", Water, Mutable, "Нептун", time.February, 19, time.March, 20},
}

// ErrUnknownSign is returned for keys that name no sign.
var ErrUnknownSign = errors.New("unknown zodiac sign")

var signIndex = func() map[string]int {
	m := make(map[string]int, len(Signs))
	for i, s := range Signs {
		m[s.Key] = i
	}
	return m
}()

// SignByKey looks a sign up by its key.
func SignByKey(key string) (Sign, error) {
	i, ok := signIndex[key]
	if !ok {
		return Sign{}, fmt.Errorf("%w: %q", ErrUnknownSign, key)
	}
	return Signs[i], nil
}

// IsSign reports whether key names a zodiac sign.
func IsSign(key string) bool {
	_, ok := signIndex[key]
	return ok
}

// SignFor returns the sun sign of a calendar date.
func SignFor(date time.Time) Sign {
	return Signs[signIndexFor(date.Month(), date.Day())]
}

func signIndexFor(month time.Month, day int) int {
	for i, s := range Signs {
		if (month == s.StartMonth && day >= s.StartDay) || (month == s.EndMonth && day <= s.EndDay) {
			return i
		}
	}
	// Unreachable for valid dates: the ranges cover the whole year.
	return 0
}

// signAt returns the sign containing an ecliptic longitude in degrees.
func signAt(longitude float64) Sign {
	return Signs[int(normalize(longitude)/30)%12]
}
