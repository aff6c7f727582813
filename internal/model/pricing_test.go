package model

import (
	"testing"
	"time"
)

func intPtr(v int) *int       { return &v }
func int64Ptr(v int64) *int64 { return &v }

func TestCalculatePrice(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	until := now.Add(24 * time.Hour)
	expired := now.Add(-time.Hour)

	testCases := []struct {
		name      string
		plan      SubscriptionPlan
		months    int
		promo     *PromoCode
		wantBase  int64
		wantFinal int64
		wantCode  string
	}{
		{
			name:      "one month basic",
			plan:      PlanBasic,
			months:    1,
			wantBase:  29900,
			wantFinal: 29900,
		},
		{
			name:      "three months premium",
			plan:      PlanPremium,
			months:    3,
			wantBase:  179700,
			wantFinal: 179700,
		},
		{
			name:      "annual discount",
			plan:      PlanBasic,
			months:    12,
			wantBase:  287040, // 358800 - 20%
			wantFinal: 287040,
		},
		{
			name:      "percentage promo",
			plan:      PlanBasic,
			months:    1,
			promo:     &PromoCode{Code: "SALE10", Type: PromoPercentage, Value: 10, IsActive: true},
			wantBase:  29900,
			wantFinal: 26910,
			wantCode:  "SALE10",
		},
		{
			name:      "fixed promo clamps to minimum",
			plan:      PlanBasic,
			months:    1,
			promo:     &PromoCode{Code: "BIG", Type: PromoFixed, Value: 29850, IsActive: true},
			wantBase:  29900,
			wantFinal: MinPaymentAmount,
			wantCode:  "BIG",
		},
		{
			name:      "fixed promo covering everything is free",
			plan:      PlanBasic,
			months:    1,
			promo:     &PromoCode{Code: "GIFT", Type: PromoFixed, Value: 100000, IsActive: true},
			wantBase:  29900,
			wantFinal: 0,
			wantCode:  "GIFT",
		},
		{
			name:      "expired promo ignored",
			plan:      PlanBasic,
			months:    1,
			promo:     &PromoCode{Code: "OLD", Type: PromoPercentage, Value: 50, IsActive: true, ValidUntil: &expired},
			wantBase:  29900,
			wantFinal: 29900,
		},
		{
			name:   "promo for another plan ignored",
			plan:   PlanBasic,
			months: 1,
			promo: &PromoCode{
				Code: "VIPONLY", Type: PromoPercentage, Value: 50, IsActive: true,
				AllowedPlans: []SubscriptionPlan{PlanVIP}, ValidUntil: &until,
			},
			wantBase:  29900,
			wantFinal: 29900,
		},
		{
			name:   "minimum amount not met",
			plan:   PlanBasic,
			months: 1,
			promo: &PromoCode{
				Code: "MIN", Type: PromoPercentage, Value: 50, IsActive: true, MinAmount: int64Ptr(50000),
			},
			wantBase:  29900,
			wantFinal: 29900,
		},
		{
			name:   "exhausted promo ignored",
			plan:   PlanBasic,
			months: 1,
			promo: &PromoCode{
				Code: "USED", Type: PromoPercentage, Value: 50, IsActive: true, MaxUses: intPtr(1), UsedCount: 1,
			},
			wantBase:  29900,
			wantFinal: 29900,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			q := CalculatePrice(tc.plan, tc.months, tc.promo, now)
			if q.Base != tc.wantBase {
				t.Errorf("Base = %d, want %d", q.Base, tc.wantBase)
			}
			if q.Final != tc.wantFinal {
				t.Errorf("Final = %d, want %d", q.Final, tc.wantFinal)
			}
			if q.Base-q.Discount != q.Final {
				t.Errorf("Base-Discount = %d, Final = %d", q.Base-q.Discount, q.Final)
			}
			if q.PromoCode != tc.wantCode {
				t.Errorf("PromoCode = %q, want %q", q.PromoCode, tc.wantCode)
			}
		})
	}
}

func TestPercentOf_RoundsHalfUp(t *testing.T) {
	t.Parallel()

	if got := PercentOf(29950, 10); got != 2995 {
		t.Errorf("PercentOf(29950, 10) = %d, want 2995", got)
	}
	if got := PercentOf(5, 10); got != 1 {
		t.Errorf("PercentOf(5, 10) = %d, want 1", got)
	}
	if got := PercentOf(4, 10); got != 0 {
		t.Errorf("PercentOf(4, 10) = %d, want 0", got)
	}
}

func TestFormatRubles(t *testing.T) {
	t.Parallel()

	testCases := map[int64]string{
		29900: "299.00",
		26910: "269.10",
		5:     "0.05",
		-150:  "-1.50",
	}
	for in, want := range testCases {
		if got := FormatRubles(in); got != want {
			t.Errorf("FormatRubles(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestPromoCode_TrialDays(t *testing.T) {
	t.Parallel()

	trial := &PromoCode{Type: PromoTrial, Value: 7}
	if trial.TrialDays() != 7 {
		t.Errorf("trial TrialDays = %d", trial.TrialDays())
	}
	if trial.CalculateDiscount(1000) != 0 {
		t.Error("trial code gives no money discount")
	}
	pct := &PromoCode{Type: PromoPercentage, Value: 7}
	if pct.TrialDays() != 0 {
		t.Error("percentage code gives no bonus days")
	}
}
