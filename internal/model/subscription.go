package model

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// SubscriptionPlan is a tariff plan.
type SubscriptionPlan string

const (
	PlanFree    SubscriptionPlan = "free"
	PlanBasic   SubscriptionPlan = "basic"
	PlanPremium SubscriptionPlan = "premium"
	PlanVIP     SubscriptionPlan = "vip"
)

// PaidPlans lists plans that can be purchased, cheapest first.
var PaidPlans = []SubscriptionPlan{PlanBasic, PlanPremium, PlanVIP}

// Valid reports whether p is a known plan.
func (p SubscriptionPlan) Valid() bool {
	_, ok := PlanFeaturesByPlan[p]
	return ok
}

// Title returns the plan name shown to users.
func (p SubscriptionPlan) Title() string {
	switch p {
	case PlanBasic:
		return "Базовый"
	case PlanPremium:
		return "Премиум"
	case PlanVIP:
		return "VIP"
	default:
		return "Бесплатный"
	}
}

// Rank orders plans from free (0) to vip (3). Unknown plans rank as free.
func (p SubscriptionPlan) Rank() int {
	switch p {
	case PlanBasic:
		return 1
	case PlanPremium:
		return 2
	case PlanVIP:
		return 3
	default:
		return 0
	}
}

// Covers reports whether p includes everything required by other.
func (p SubscriptionPlan) Covers(other SubscriptionPlan) bool {
	return p.Rank() >= other.Rank()
}

// SubscriptionStatus is the lifecycle state of a subscription.
type SubscriptionStatus string

const (
	StatusFree      SubscriptionStatus = "free"
	StatusActive    SubscriptionStatus = "active"
	StatusExpired   SubscriptionStatus = "expired"
	StatusCancelled SubscriptionStatus = "cancelled"
	StatusSuspended SubscriptionStatus = "suspended"
)

// Valid reports whether s is a known status.
func (s SubscriptionStatus) Valid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

var allowedTransitions = map[SubscriptionStatus][]SubscriptionStatus{
	StatusFree:      {StatusActive},
	StatusActive:    {StatusExpired, StatusCancelled, StatusSuspended},
	StatusExpired:   {StatusActive},
	StatusCancelled: {StatusActive},
	StatusSuspended: {StatusActive, StatusCancelled},
}

// Subscription period length. A month is a fixed 30 days.
const (
	DaysPerMonth       = 30
	ExpiringSoonDays   = 3
	AnnualPeriodMonths = 12
)

// ErrInvalidTransition is returned when a status change is not allowed.
var ErrInvalidTransition = errors.New("invalid subscription status transition")

// Feature names checked with Subscription.HasFeature.
const (
	FeatureFullNatalChart    = "full_natal_chart"
	FeaturePDFReports        = "pdf_reports"
	FeatureCompatibility     = "compatibility_analysis"
	FeatureExtendedForecasts = "extended_forecasts"
	FeaturePrioritySupport   = "priority_support"
	FeatureCustomSpreads     = "custom_spreads"
	FeatureAPIAccess         = "api_access"
	FeatureDataExport        = "data_export"
)

// PlanFeatures describes what a plan includes.
type PlanFeatures struct {
	Plan              SubscriptionPlan `json:"plan"`
	MonthlyPrice      int64            `json:"monthly_price"` // kopecks
	DailySpreadsLimit int              `json:"daily_spreads_limit"`
	MaxPartners       int              `json:"max_partners"`
	ForecastDays      int              `json:"forecast_days"`
	Features          []string         `json:"features"`
}

// Has reports whether the plan includes a named feature.
func (f PlanFeatures) Has(feature string) bool {
	return slices.Contains(f.Features, feature)
}

// PlanFeaturesByPlan holds the tariff table.
var PlanFeaturesByPlan = map[SubscriptionPlan]PlanFeatures{
	PlanFree: {
		Plan:              PlanFree,
		MonthlyPrice:      0,
		DailySpreadsLimit: 1,
		MaxPartners:       1,
		ForecastDays:      1,
	},
	PlanBasic: {
		Plan:              PlanBasic,
		MonthlyPrice:      29900,
		DailySpreadsLimit: 5,
		MaxPartners:       3,
		ForecastDays:      7,
		Features:          []string{FeatureFullNatalChart, FeatureCompatibility},
	},
	PlanPremium: {
		Plan:              PlanPremium,
		MonthlyPrice:      59900,
		DailySpreadsLimit: 10,
		MaxPartners:       10,
		ForecastDays:      30,
		Features: []string{
			FeatureFullNatalChart, FeatureCompatibility, FeaturePDFReports,
			FeatureExtendedForecasts, FeatureCustomSpreads,
		},
	},
	PlanVIP: {
		Plan:              PlanVIP,
		MonthlyPrice:      129900,
		DailySpreadsLimit: 999,
		MaxPartners:       999,
		ForecastDays:      365,
		Features: []string{
			FeatureFullNatalChart, FeatureCompatibility, FeaturePDFReports,
			FeatureExtendedForecasts, FeatureCustomSpreads, FeaturePrioritySupport,
			FeatureAPIAccess, FeatureDataExport,
		},
	},
}

// FeaturesFor returns the features of a plan, defaulting to free.
func FeaturesFor(plan SubscriptionPlan) PlanFeatures {
	if f, ok := PlanFeaturesByPlan[plan]; ok {
		return f
	}
	return PlanFeaturesByPlan[PlanFree]
}

// StatusChange is a single entry of the subscription status history.
type StatusChange struct {
	From      SubscriptionStatus `json:"from"`
	To        SubscriptionStatus `json:"to"`
	Reason    string             `json:"reason,omitempty"`
	ChangedAt time.Time          `json:"changed_at"`
}

// Subscription is the user's plan and its lifecycle.
type Subscription struct {
	ID             string             `json:"id"`
	UserID         string             `json:"user_id"`
	Plan           SubscriptionPlan   `json:"plan"`
	Status         SubscriptionStatus `json:"status"`
	AutoRenewal    bool               `json:"auto_renewal"`
	StartedAt      *time.Time         `json:"started_at,omitempty"`
	ExpiresAt      *time.Time         `json:"expires_at,omitempty"`
	CancelledAt    *time.Time         `json:"cancelled_at,omitempty"`
	ReminderSentAt *time.Time         `json:"-"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`

	// Changes accumulates transitions made in memory; the repository persists them.
	Changes []StatusChange `json:"-"`
}

// NewFreeSubscription returns the subscription every new user starts with.
func NewFreeSubscription(id, userID string, now time.Time) *Subscription {
	return &Subscription{
		ID:        id,
		UserID:    userID,
		Plan:      PlanFree,
		Status:    StatusFree,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsActive reports whether the subscription is active and not past its expiry.
func (s *Subscription) IsActive(now time.Time) bool {
	if s.Status != StatusActive {
		return false
	}
	if s.ExpiresAt != nil && now.After(*s.ExpiresAt) {
		return false
	}
	return true
}

// EffectivePlan is the plan whose limits apply right now.
func (s *Subscription) EffectivePlan(now time.Time) SubscriptionPlan {
	if s == nil || !s.IsActive(now) {
		return PlanFree
	}
	return s.Plan
}

// Features returns the limits of the effective plan.
func (s *Subscription) Features(now time.Time) PlanFeatures {
	return FeaturesFor(s.EffectivePlan(now))
}

// DaysLeft returns whole days until expiry, or -1 when not applicable.
func (s *Subscription) DaysLeft(now time.Time) int {
	if s.ExpiresAt == nil || !s.IsActive(now) {
		return -1
	}
	days := int(s.ExpiresAt.Sub(now).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// IsExpiringSoon reports whether fewer than ExpiringSoonDays days remain.
func (s *Subscription) IsExpiringSoon(now time.Time) bool {
	days := s.DaysLeft(now)
	return days > 0 && days <= ExpiringSoonDays
}

// CanTransitionTo reports whether the status change is allowed.
func (s *Subscription) CanTransitionTo(next SubscriptionStatus) bool {
	return slices.Contains(allowedTransitions[s.Status], next)
}

// AllowedTransitions lists the statuses reachable from the current one.
func (s *Subscription) AllowedTransitions() []SubscriptionStatus {
	return slices.Clone(allowedTransitions[s.Status])
}

// ChangeStatus moves the subscription to next and records the change.
func (s *Subscription) ChangeStatus(next SubscriptionStatus, reason string, now time.Time) error {
	if !s.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, next)
	}

	s.Changes = append(s.Changes, StatusChange{From: s.Status, To: next, Reason: reason, ChangedAt: now})
	s.Status = next
	s.UpdatedAt = now

	if next == StatusCancelled {
		s.CancelledAt = &now
		s.AutoRenewal = false
	}
	return nil
}

// Activate starts a paid period. An already active subscription is extended
// and switched to the new plan.
func (s *Subscription) Activate(plan SubscriptionPlan, months int, now time.Time) error {
	if months < 1 {
		return fmt.Errorf("period must be at least one month, got %d", months)
	}
	return s.ActivateDays(plan, DaysPerMonth*months, "activated", now)
}

// ActivateDays starts or extends a paid period measured in days.
func (s *Subscription) ActivateDays(plan SubscriptionPlan, days int, reason string, now time.Time) error {
	if !plan.Valid() || plan == PlanFree {
		return fmt.Errorf("cannot activate plan %q", plan)
	}
	if days < 1 {
		return fmt.Errorf("period must be at least one day, got %d", days)
	}

	if s.IsActive(now) {
		s.Plan = plan
		return s.ExtendDays(days, now)
	}

	if s.Status == StatusActive {
		// Lapsed but not yet swept by the expiry job.
		if err := s.ChangeStatus(StatusExpired, "lapsed", now); err != nil {
			return err
		}
	}

	if err := s.ChangeStatus(StatusActive, reason, now); err != nil {
		return err
	}

	expires := now.Add(time.Duration(days) * 24 * time.Hour)
	s.Plan = plan
	s.StartedAt = &now
	s.ExpiresAt = &expires
	s.CancelledAt = nil
	s.ReminderSentAt = nil
	return nil
}

// Extend adds months to the current expiry, or to now if already expired.
func (s *Subscription) Extend(months int, now time.Time) error {
	return s.ExtendDays(DaysPerMonth*months, now)
}

// ExtendDays adds days to the current expiry, or to now if already expired.
func (s *Subscription) ExtendDays(days int, now time.Time) error {
	if s.ExpiresAt == nil {
		return errors.New("cannot extend a subscription without expiry date")
	}

	base := *s.ExpiresAt
	if now.After(base) {
		base = now
	}
	expires := base.Add(time.Duration(days) * 24 * time.Hour)

	if s.Status == StatusExpired {
		if err := s.ChangeStatus(StatusActive, "extended", now); err != nil {
			return err
		}
	}

	s.ExpiresAt = &expires
	s.ReminderSentAt = nil
	s.UpdatedAt = now
	return nil
}

// Cancel turns off auto renewal. With immediate it also ends the period now.
func (s *Subscription) Cancel(immediate bool, now time.Time) error {
	s.AutoRenewal = false
	s.UpdatedAt = now
	if !immediate {
		return nil
	}
	if err := s.ChangeStatus(StatusCancelled, "cancelled", now); err != nil {
		return err
	}
	s.ExpiresAt = &now
	return nil
}

// Expire marks a lapsed active subscription as expired.
func (s *Subscription) Expire(now time.Time) error {
	return s.ChangeStatus(StatusExpired, "period ended", now)
}

// Suspend blocks an active subscription, e.g. after a disputed payment.
func (s *Subscription) Suspend(reason string, now time.Time) error {
	return s.ChangeStatus(StatusSuspended, reason, now)
}

// HasFeature reports whether the active plan includes the feature.
func (s *Subscription) HasFeature(feature string, now time.Time) bool {
	if !s.IsActive(now) {
		return false
	}
	return FeaturesFor(s.Plan).Has(feature)
}

// CheckDailyLimit reports whether another spread fits into today's allowance.
func (s *Subscription) CheckDailyLimit(current int, now time.Time) bool {
	return current < s.Features(now).DailySpreadsLimit
}

// CheckPartnersLimit reports whether another partner can be saved.
func (s *Subscription) CheckPartnersLimit(current int, now time.Time) bool {
	return current < s.Features(now).MaxPartners
}
