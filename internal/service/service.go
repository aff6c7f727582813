// Package service provides business logic for the application.
package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/astrotarot/astrotarot/internal/llm"
	"github.com/astrotarot/astrotarot/internal/model"
	"github.com/astrotarot/astrotarot/internal/notify"
)

// Service errors.
var (
	ErrUserNotFound          = errors.New("user not found")
	ErrUserBlocked           = errors.New("user is blocked")
	ErrBirthDataRequired     = errors.New("birth data required")
	ErrFeatureUnavailable    = errors.New("feature not available on current plan")
	ErrDailyLimitReached     = errors.New("daily limit reached")
	ErrPartnerLimitReached   = errors.New("partner limit reached")
	ErrPartnerNotFound       = errors.New("partner not found")
	ErrInvalidPlan           = errors.New("invalid subscription plan")
	ErrInvalidPeriod         = errors.New("invalid subscription period")
	ErrPromoNotFound         = errors.New("promo code not found")
	ErrPromoInvalid          = errors.New("promo code is not valid")
	ErrPromoUsed             = errors.New("promo code already used")
	ErrPromoExists           = errors.New("promo code already exists")
	ErrPaymentNotFound       = errors.New("payment not found")
	ErrMethodUnavailable     = errors.New("payment method unavailable")
	ErrPaymentNotRefundable  = errors.New("payment cannot be refunded")
	ErrPaymentMismatch       = errors.New("payment does not match")
	ErrSpreadNotFound        = errors.New("spread not found")
	ErrQuestionRequired      = errors.New("question required")
	ErrReadingNotFound       = errors.New("reading not found")
	ErrInvalidRating         = errors.New("rating must be between 1 and 5")
	ErrInvalidInput          = errors.New("invalid input")
	ErrSubscriptionNotActive = errors.New("subscription is not active")
)

// FeatureError reports a feature that needs a higher plan.
type FeatureError struct {
	Feature string
	Plan    model.SubscriptionPlan
}

func (e *FeatureError) Error() string {
	return fmt.Sprintf("feature %s requires plan %s", e.Feature, e.Plan)
}

// Is makes errors.Is(err, ErrFeatureUnavailable) match.
func (e *FeatureError) Is(target error) bool {
	return target == ErrFeatureUnavailable
}

// LimitError reports an exhausted daily allowance.
type LimitError struct {
	Limit int
	Plan  model.SubscriptionPlan
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("daily limit of %d reached on plan %s", e.Limit, e.Plan)
}

// Is makes errors.Is(err, ErrDailyLimitReached) match.
func (e *LimitError) Is(target error) bool {
	return target == ErrDailyLimitReached
}

// Tracker records usage events. *events.Publisher implements it.
type Tracker interface {
	Track(userID string, telegramID int64, kind model.UsageKind, name, detail string)
}

// Notifier queues outgoing messages. *notify.Publisher implements it.
type Notifier interface {
	Publish(ctx context.Context, msg notify.Message) (bool, error)
}

// Generator produces texts with a language model. *llm.Manager implements it.
type Generator interface {
	Generate(ctx context.Context, req llm.Request) (*llm.Response, error)
	Available() bool
}

// DailyCounters are per-day counters that reset at the end of the day.
type DailyCounters interface {
	IncrDaily(ctx context.Context, name, subject string, now time.Time) (int64, error)
	GetDaily(ctx context.Context, name, subject string, now time.Time) (int64, error)
	SeedDaily(ctx context.Context, name, subject string, now time.Time, value int64) error
	DecrDaily(ctx context.Context, name, subject string, now time.Time) error
}

type nopTracker struct{}

func (nopTracker) Track(string, int64, model.UsageKind, string, string) {}

// Clock supplies the current time and the bot time zone.
type Clock struct {
	Now      func() time.Time
	Location *time.Location
}

// NewClock returns a wall clock in loc.
func NewClock(loc *time.Location) Clock {
	if loc == nil {
		loc = time.UTC
	}
	return Clock{Now: time.Now, Location: loc}
}

func (c Clock) now() time.Time {
	if c.Now == nil {
		return time.Now().UTC()
	}
	return c.Now().UTC()
}

func (c Clock) loc() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

// today returns the current calendar day in the bot time zone as UTC midnight.
func (c Clock) today() time.Time {
	return calendarDay(c.now(), c.loc())
}

func calendarDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// randomCode returns n characters from an unambiguous alphabet.
func randomCode(n int) string {
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeAlphabet))))
		if err != nil {
			idx = big.NewInt(0)
		}
		b[i] = codeAlphabet[idx.Int64()]
	}
	return string(b)
}

func clampLimit(limit, def, maxLimit int) int {
	if limit <= 0 {
		return def
	}
	return min(limit, maxLimit)
}
