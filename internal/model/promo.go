package model

import (
	"slices"
	"time"
)

// PromoType defines how a promo code changes the price.
type PromoType string

const (
	PromoPercentage PromoType = "percentage"
	PromoFixed      PromoType = "fixed"
	PromoTrial      PromoType = "trial"
	PromoUpgrade    PromoType = "upgrade"
)

// Valid reports whether t is a known promo type.
func (t PromoType) Valid() bool {
	switch t {
	case PromoPercentage, PromoFixed, PromoTrial, PromoUpgrade:
		return true
	}
	return false
}

// PromoCode is a discount or bonus code.
//
// Value is interpreted per type: percent for percentage, kopecks for fixed,
// days for trial and upgrade.
type PromoCode struct {
	Code          string             `json:"code"`
	Type          PromoType          `json:"type"`
	Value         int64              `json:"value"`
	ValidFrom     time.Time          `json:"valid_from"`
	ValidUntil    *time.Time         `json:"valid_until,omitempty"`
	MaxUses       *int               `json:"max_uses,omitempty"`
	UsedCount     int                `json:"used_count"`
	MinAmount     *int64             `json:"min_amount,omitempty"`
	AllowedPlans  []SubscriptionPlan `json:"allowed_plans,omitempty"`
	IsActive      bool               `json:"is_active"`
	FirstTimeOnly bool               `json:"first_time_only"`
	CreatedAt     time.Time          `json:"created_at"`
}

// IsValid reports whether the code can be used at the given moment.
func (p *PromoCode) IsValid(now time.Time) bool {
	if !p.IsActive {
		return false
	}
	if now.Before(p.ValidFrom) {
		return false
	}
	if p.ValidUntil != nil && now.After(*p.ValidUntil) {
		return false
	}
	if p.MaxUses != nil && p.UsedCount >= *p.MaxUses {
		return false
	}
	return true
}

// CanApplyToPlan reports whether the code covers the plan.
// An empty allow-list covers every plan.
func (p *PromoCode) CanApplyToPlan(plan SubscriptionPlan) bool {
	if len(p.AllowedPlans) == 0 {
		return true
	}
	return slices.Contains(p.AllowedPlans, plan)
}

// CalculateDiscount returns the discount in kopecks for the given amount.
func (p *PromoCode) CalculateDiscount(amount int64) int64 {
	switch p.Type {
	case PromoPercentage:
		return PercentOf(amount, p.Value)
	case PromoFixed:
		return min(p.Value, amount)
	default:
		return 0
	}
}

// TrialDays returns the number of free days granted by trial and upgrade codes.
func (p *PromoCode) TrialDays() int {
	if p.Type == PromoTrial || p.Type == PromoUpgrade {
		return int(p.Value)
	}
	return 0
}

// PromoCreateRequest is the admin API payload for new promo codes.
type PromoCreateRequest struct {
	Code          string             `json:"code"`
	Type          PromoType          `json:"type"`
	Value         int64              `json:"value"`
	ValidFrom     *time.Time         `json:"valid_from,omitempty"`
	ValidUntil    *time.Time         `json:"valid_until,omitempty"`
	MaxUses       *int               `json:"max_uses,omitempty"`
	MinAmount     *int64             `json:"min_amount,omitempty"`
	AllowedPlans  []SubscriptionPlan `json:"allowed_plans,omitempty"`
	FirstTimeOnly bool               `json:"first_time_only"`
}
