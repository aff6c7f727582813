package model

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// Input limits.
const (
	MaxMessageLength      = 4096
	MaxCaptionLength      = 1024
	MaxCallbackDataLength = 64
	MinNameLength         = 2
	MaxNameLength         = 100
	MaxCityLength         = 100
	MaxQuestionLength     = 500
	MaxAgeYears           = 150
)

// Layouts of user-entered dates and times.
const (
	DateLayout = "02.01.2006"
	TimeLayout = "15:04"
)

var (
	namePattern  = regexp.MustCompile(`^[а-яА-ЯёЁa-zA-Z\s\-]{2,100}$`)
	timePattern  = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)
	datePattern  = regexp.MustCompile(`^\d{2}\.\d{2}\.\d{4}$`)
	emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	promoPattern = regexp.MustCompile(`^[A-Z0-9]{4,20}$`)
)

// Validation errors. Bot handlers map them to user messages.
var (
	ErrInvalidName      = errors.New("invalid name")
	ErrInvalidDate      = errors.New("invalid date")
	ErrFutureDate       = errors.New("date is in the future")
	ErrTooOld           = errors.New("date is too far in the past")
	ErrInvalidTime      = errors.New("invalid time")
	ErrInvalidCity      = errors.New("invalid city")
	ErrInvalidEmail     = errors.New("invalid email")
	ErrInvalidPromoCode = errors.New("invalid promo code format")
	ErrInvalidQuestion  = errors.New("invalid question")
)

// ValidateName trims and checks a person name.
func ValidateName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if !namePattern.MatchString(name) {
		return "", ErrInvalidName
	}
	return name, nil
}

// ParseBirthDate parses DD.MM.YYYY and checks the date is plausible.
func ParseBirthDate(raw string, now time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if !datePattern.MatchString(raw) {
		return time.Time{}, ErrInvalidDate
	}
	d, err := time.Parse(DateLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidDate, err)
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if d.After(today) {
		return time.Time{}, ErrFutureDate
	}
	if d.Before(today.AddDate(-MaxAgeYears, 0, 0)) {
		return time.Time{}, ErrTooOld
	}
	return d, nil
}

// ParseClock validates an HH:MM string and returns it normalized.
func ParseClock(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) == 4 && raw[1] == ':' {
		raw = "0" + raw
	}
	if !timePattern.MatchString(raw) {
		return "", ErrInvalidTime
	}
	return raw, nil
}

// ValidateCity trims and checks a city name.
func ValidateCity(raw string) (string, error) {
	city := strings.TrimSpace(raw)
	n := utf8.RuneCountInString(city)
	if n < MinNameLength || n > MaxCityLength {
		return "", ErrInvalidCity
	}
	return city, nil
}

// ValidateEmail checks an e-mail address.
func ValidateEmail(raw string) (string, error) {
	email := strings.TrimSpace(raw)
	if !emailPattern.MatchString(email) {
		return "", ErrInvalidEmail
	}
	return strings.ToLower(email), nil
}

// NormalizePromoCode upper-cases and checks a promo code.
func NormalizePromoCode(raw string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if !promoPattern.MatchString(code) {
		return "", ErrInvalidPromoCode
	}
	return code, nil
}

// ValidateQuestion trims a tarot question and checks its length.
func ValidateQuestion(raw string) (string, error) {
	q := strings.TrimSpace(raw)
	n := utf8.RuneCountInString(q)
	if n < 3 || n > MaxQuestionLength {
		return "", ErrInvalidQuestion
	}
	return q, nil
}
