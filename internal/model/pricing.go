package model

import (
	"fmt"
	"time"
)

// Pricing constants. Amounts are kopecks.
const (
	AnnualDiscountPercent = 20
	MinPaymentAmount      = 100
	CurrencyRUB           = "RUB"
	CurrencyStars         = "XTR"
)

// PercentOf returns amount*percent/100 rounded half-up to the kopeck.
func PercentOf(amount, percent int64) int64 {
	return (amount*percent + 50) / 100
}

// Quote is a computed price for a plan purchase.
type Quote struct {
	Plan      SubscriptionPlan `json:"plan"`
	Months    int              `json:"months"`
	Base      int64            `json:"base"`
	Discount  int64            `json:"discount"`
	Final     int64            `json:"final"`
	PromoCode string           `json:"promo_code,omitempty"`
}

// CalculatePrice returns the price of months of plan, applying the annual
// discount and an optional promo code. The promo is ignored when it is not
// valid, does not cover the plan, or the minimum amount is not met.
func CalculatePrice(plan SubscriptionPlan, months int, promo *PromoCode, now time.Time) Quote {
	features := FeaturesFor(plan)
	base := features.MonthlyPrice * int64(months)

	if months >= AnnualPeriodMonths {
		base -= PercentOf(base, AnnualDiscountPercent)
	}

	q := Quote{Plan: plan, Months: months, Base: base, Final: base}

	if promo != nil && promo.IsValid(now) && promo.CanApplyToPlan(plan) {
		if promo.MinAmount == nil || base >= *promo.MinAmount {
			q.Discount = promo.CalculateDiscount(base)
			q.PromoCode = promo.Code
		}
	}

	q.Final = base - q.Discount
	if q.Final > 0 && q.Final < MinPaymentAmount {
		q.Final = MinPaymentAmount
		q.Discount = base - q.Final
	}
	return q
}

// FormatRubles renders kopecks as "299.00".
func FormatRubles(kopecks int64) string {
	sign := ""
	if kopecks < 0 {
		sign = "-"
		kopecks = -kopecks
	}
	return fmt.Sprintf("%s%d.%02d", sign, kopecks/100, kopecks%100)
}
