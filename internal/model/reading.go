package model

import "time"

// SpreadDailyCard is the spread code of the card of the day.
const SpreadDailyCard = "daily_card"

// DrawnCard is one card of a reading.
type DrawnCard struct {
	CardID   int  `json:"id"`
	Position int  `json:"position"`
	Reversed bool `json:"is_reversed"`
}

// Reading is a stored tarot reading.
type Reading struct {
	ID             string      `json:"id"`
	UserID         string      `json:"user_id"`
	SpreadCode     string      `json:"spread_code"`
	Question       string      `json:"question,omitempty"`
	Cards          []DrawnCard `json:"cards"`
	Interpretation string      `json:"interpretation"`
	Model          string      `json:"model,omitempty"`
	ReadingDate    time.Time   `json:"reading_date"` // calendar day in the bot time zone
	Rating         *int        `json:"rating,omitempty"`
	Favorite       bool        `json:"favorite"`
	CreatedAt      time.Time   `json:"created_at"`
}

// CardIDs returns the ids of the drawn cards in position order.
func (r *Reading) CardIDs() []int {
	ids := make([]int, len(r.Cards))
	for i, c := range r.Cards {
		ids[i] = c.CardID
	}
	return ids
}

// ReadingStats summarizes a user's tarot history.
type ReadingStats struct {
	TotalSpreads     int            `json:"total_spreads"`
	TotalCards       int            `json:"total_cards"`
	MajorArcanaCount int            `json:"major_arcana_count"`
	MinorArcanaCount int            `json:"minor_arcana_count"`
	SuitsCount       map[string]int `json:"suits_count"`
	FavoriteSuit     string         `json:"favorite_suit,omitempty"`
	AvgCardsPerRead  float64        `json:"average_cards_per_spread"`
	MajorPercentage  float64        `json:"major_arcana_percentage"`
}

// HoroscopePeriod is the span a horoscope covers.
type HoroscopePeriod string

const (
	PeriodDay   HoroscopePeriod = "day"
	PeriodWeek  HoroscopePeriod = "week"
	PeriodMonth HoroscopePeriod = "month"
)

// Days returns the number of days the period covers.
func (p HoroscopePeriod) Days() int {
	switch p {
	case PeriodWeek:
		return 7
	case PeriodMonth:
		return 30
	default:
		return 1
	}
}

// Valid reports whether p is a known period.
func (p HoroscopePeriod) Valid() bool {
	return p == PeriodDay || p == PeriodWeek || p == PeriodMonth
}

// Title returns the user-facing period name.
func (p HoroscopePeriod) Title() string {
	switch p {
	case PeriodWeek:
		return "на неделю"
	case PeriodMonth:
		return "на месяц"
	default:
		return "на сегодня"
	}
}

// Horoscope is a generated forecast for a sign and period.
type Horoscope struct {
	Sign         string          `json:"sign"`
	SignName     string          `json:"sign_name"`
	Element      string          `json:"element"`
	Period       HoroscopePeriod `json:"period"`
	Date         string          `json:"date"` // YYYY-MM-DD
	General      string          `json:"general"`
	Love         string          `json:"love"`
	Career       string          `json:"career"`
	Health       string          `json:"health"`
	LuckyNumbers []int           `json:"lucky_numbers"`
	LuckyColor   string          `json:"lucky_color"`
}

// CountByKey is a generic popularity row.
type CountByKey struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}
