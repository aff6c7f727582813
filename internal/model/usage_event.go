package model

import "time"

// UsageKind classifies usage events.
type UsageKind string

const (
	UsageCommand   UsageKind = "command"
	UsageCallback  UsageKind = "callback"
	UsageReading   UsageKind = "reading"
	UsageHoroscope UsageKind = "horoscope"
	UsageNatal     UsageKind = "natal_chart"
	UsageCompat    UsageKind = "compatibility"
	UsagePayment   UsageKind = "payment"
	UsageRegister  UsageKind = "register"
)

// UsageEvent is a single user action recorded for analytics.
type UsageEvent struct {
	ID      string `json:"id"`       // ULID (time-sortable)
	EventID string `json:"event_id"` // Idempotency key (Redis stream ID)

	UserID     string    `json:"user_id"`
	TelegramID int64     `json:"telegram_id"`
	Kind       UsageKind `json:"kind"`
	Name       string    `json:"name"`             // command, spread code, sign
	Detail     string    `json:"detail,omitempty"` // free-form, truncated

	OccurredAt time.Time `json:"occurred_at"`
	CreatedAt  time.Time `json:"created_at"` // DB insertion time
}

// SystemStats is the admin dashboard summary.
type SystemStats struct {
	Users struct {
		Total       int64   `json:"total"`
		ActiveToday int64   `json:"active_today"`
		ActiveWeek  int64   `json:"active_week"`
		ActiveMonth int64   `json:"active_month"`
		GrowthRate  float64 `json:"growth_rate"`
	} `json:"users"`
	Subscriptions struct {
		ByPlan         map[SubscriptionPlan]int64 `json:"by_plan"`
		TotalActive    int64                      `json:"total_active"`
		ConversionRate float64                    `json:"conversion_rate"`
	} `json:"subscriptions"`
	Usage struct {
		TotalSpreads    int64   `json:"total_spreads"`
		TotalHoroscopes int64   `json:"total_horoscopes"`
		SpreadsPerUser  float64 `json:"spreads_per_user"`
	} `json:"usage"`
	Revenue struct {
		Today int64 `json:"today"`
		Month int64 `json:"month"`
		Total int64 `json:"total"`
		ARPU  int64 `json:"arpu"`
	} `json:"revenue"`
	GeneratedAt time.Time `json:"generated_at"`
}

// PopularContent lists the most used spreads, cards and signs.
type PopularContent struct {
	Spreads []CountByKey `json:"spreads"`
	Cards   []CountByKey `json:"cards"`
	Signs   []CountByKey `json:"zodiac_signs"`
}
