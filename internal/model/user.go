package model

import (
	"strings"
	"time"
)

// ToneOfVoice selects how interpretations are worded.
type ToneOfVoice string

const (
	ToneFriend ToneOfVoice = "friend"
	ToneMentor ToneOfVoice = "mentor"
	ToneExpert ToneOfVoice = "expert"
	ToneMystic ToneOfVoice = "mystic"
)

// Tones lists all tones in menu order.
var Tones = []ToneOfVoice{ToneFriend, ToneMentor, ToneExpert, ToneMystic}

// Valid reports whether t is a known tone.
func (t ToneOfVoice) Valid() bool {
	switch t {
	case ToneFriend, ToneMentor, ToneExpert, ToneMystic:
		return true
	}
	return false
}

// Title returns the user-facing tone name.
func (t ToneOfVoice) Title() string {
	switch t {
	case ToneMentor:
		return "🧙 Наставник"
	case ToneExpert:
		return "🎓 Эксперт"
	case ToneMystic:
		return "🔮 Мистик"
	default:
		return "🤗 Друг"
	}
}

// UserRole grants access to admin commands.
type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

// UserStatus is the account state.
type UserStatus string

const (
	UserActive  UserStatus = "active"
	UserBlocked UserStatus = "blocked"
	UserDeleted UserStatus = "deleted"
)

// BirthData holds what astrology calculations need.
type BirthData struct {
	Date      time.Time `json:"date"`           // calendar date, UTC midnight
	Time      *string   `json:"time,omitempty"` // "HH:MM" when known
	City      string    `json:"city"`
	Latitude  *float64  `json:"latitude,omitempty"`
	Longitude *float64  `json:"longitude,omitempty"`
	Timezone  string    `json:"timezone,omitempty"`
}

// HasExactTime reports whether the birth time is known.
func (b *BirthData) HasExactTime() bool {
	return b.Time != nil && *b.Time != ""
}

// AgeYears returns full years at the given date.
func (b *BirthData) AgeYears(now time.Time) int {
	age := now.Year() - b.Date.Year()
	if now.Month() < b.Date.Month() || (now.Month() == b.Date.Month() && now.Day() < b.Date.Day()) {
		age--
	}
	return age
}

// Display renders the birth data for a profile screen.
func (b *BirthData) Display() string {
	tm := "время неизвестно"
	if b.HasExactTime() {
		tm = *b.Time
	}
	return "Дата: " + b.Date.Format(DateLayout) + "\nВремя: " + tm + "\nМесто: " + b.City
}

// NotificationSettings controls what the bot sends unprompted.
type NotificationSettings struct {
	Enabled        bool   `json:"enabled"`
	DailyHoroscope bool   `json:"daily_horoscope"`
	HoroscopeTime  string `json:"horoscope_time"` // "HH:MM" in the bot time zone
	SaveHistory    bool   `json:"save_history"`
}

// DefaultNotificationSettings are applied on registration.
func DefaultNotificationSettings() NotificationSettings {
	return NotificationSettings{
		Enabled:        true,
		DailyHoroscope: true,
		HoroscopeTime:  "09:00",
		SaveHistory:    true,
	}
}

// User is a Telegram user of the bot.
type User struct {
	ID             string               `json:"id"`
	TelegramID     int64                `json:"telegram_id"`
	Username       string               `json:"username,omitempty"`
	FirstName      string               `json:"first_name,omitempty"`
	LastName       string               `json:"last_name,omitempty"`
	LanguageCode   string               `json:"language_code"`
	Role           UserRole             `json:"role"`
	Status         UserStatus           `json:"status"`
	Tone           ToneOfVoice          `json:"tone"`
	BirthName      string               `json:"birth_name,omitempty"`
	Birth          *BirthData           `json:"birth,omitempty"`
	ZodiacSign     string               `json:"zodiac_sign,omitempty"`
	Notifications  NotificationSettings `json:"notifications"`
	ReferralCode   string               `json:"referral_code"`
	ReferredBy     *string              `json:"referred_by,omitempty"`
	ReferralCount  int                  `json:"referral_count"`
	TotalReadings  int                  `json:"total_readings"`
	LastActivityAt *time.Time           `json:"last_activity_at,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
	DeletedAt      *time.Time           `json:"-"`
}

// DisplayName returns the best human name available.
func (u *User) DisplayName() string {
	if u.BirthName != "" {
		return u.BirthName
	}
	full := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if full != "" {
		return full
	}
	if u.Username != "" {
		return "@" + u.Username
	}
	return "друг"
}

// IsAdmin reports whether the user has the admin role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// IsBlocked reports whether the bot must ignore the user.
func (u *User) IsBlocked() bool {
	return u.Status == UserBlocked || u.Status == UserDeleted
}

// HasBirthData reports whether charts can be calculated.
func (u *User) HasBirthData() bool {
	return u.Birth != nil && !u.Birth.Date.IsZero()
}

// TelegramProfile is the subset of a Telegram user used at registration.
type TelegramProfile struct {
	ID           int64
	Username     string
	FirstName    string
	LastName     string
	LanguageCode string
}

// Partner is a saved person for compatibility analysis.
type Partner struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Name       string    `json:"name"`
	BirthDate  time.Time `json:"birth_date"`
	BirthTime  *string   `json:"birth_time,omitempty"`
	City       string    `json:"city,omitempty"`
	ZodiacSign string    `json:"zodiac_sign"`
	CreatedAt  time.Time `json:"created_at"`
}

// UserSettingsUpdate carries optional settings changes.
type UserSettingsUpdate struct {
	Tone             *ToneOfVoice `json:"tone,omitempty"`
	NotificationsOn  *bool        `json:"notifications_enabled,omitempty"`
	DailyHoroscopeOn *bool        `json:"daily_horoscope,omitempty"`
	HoroscopeTime    *string      `json:"horoscope_time,omitempty"`
}
