package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/astrotarot/astrotarot/internal/cache"
	"github.com/astrotarot/astrotarot/internal/model"
	"github.com/astrotarot/astrotarot/internal/repository"
)

// Periods that can be purchased, in months.
var PurchasePeriods = []int{1, 3, 6, 12}

// SubscriptionStore is the storage used by SubscriptionService.
type SubscriptionStore interface {
	GetSubscriptionByUser(ctx context.Context, userID string) (*model.Subscription, error)
	SaveSubscription(ctx context.Context, s *model.Subscription) error
	ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]*model.Subscription, error)
	ListExpiringUnreminded(ctx context.Context, now time.Time, within time.Duration, limit int) ([]*model.Subscription, error)
	MarkReminderSent(ctx context.Context, id string, at time.Time) error
	CountSpreadsOnDate(ctx context.Context, userID string, day time.Time) (int64, error)

	CreatePromo(ctx context.Context, p *model.PromoCode) error
	GetPromo(ctx context.Context, code string) (*model.PromoCode, error)
	ListPromos(ctx context.Context, activeOnly bool) ([]*model.PromoCode, error)
	DeactivatePromo(ctx context.Context, code string) error
	RedeemPromo(ctx context.Context, code, userID, paymentID string, now time.Time) error
	HasRedeemed(ctx context.Context, code, userID string) (bool, error)
	HasSuccessfulPayments(ctx context.Context, userID string) (bool, error)
}

// SubscriptionService handles plans, limits and promo codes.
type SubscriptionService struct {
	store    SubscriptionStore
	counters DailyCounters
	clock    Clock
	logger   *slog.Logger

	// Spreads reserved but not saved yet, by user. Used only when the
	// daily counter is unavailable.
	mu       sync.Mutex
	inflight map[string]int
}

// NewSubscriptionService creates a new SubscriptionService.
func NewSubscriptionService(store SubscriptionStore, counters DailyCounters, clock Clock, logger *slog.Logger) *SubscriptionService {
	return &SubscriptionService{
		store:    store,
		counters: counters,
		clock:    clock,
		logger:   logger.With("component", "subscriptions"),
		inflight: make(map[string]int),
	}
}

// Get returns the user's subscription, creating a free one if missing.
func (s *SubscriptionService) Get(ctx context.Context, userID string) (*model.Subscription, error) {
	sub, err := s.store.GetSubscriptionByUser(ctx, userID)
	if errors.Is(err, repository.ErrSubscriptionNotFound) {
		return s.CreateFree(ctx, userID)
	}
	return sub, err
}

// CreateFree stores a free subscription for a new user.
func (s *SubscriptionService) CreateFree(ctx context.Context, userID string) (*model.Subscription, error) {
	sub := model.NewFreeSubscription(ulid.Make().String(), userID, s.clock.now())
	if err := s.store.SaveSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to create free subscription: %w", err)
	}
	return sub, nil
}

// Features returns the limits that apply to the user right now.
func (s *SubscriptionService) Features(ctx context.Context, userID string) (model.PlanFeatures, error) {
	sub, err := s.Get(ctx, userID)
	if err != nil {
		return model.PlanFeatures{}, err
	}
	return sub.Features(s.clock.now()), nil
}

// Activate starts or extends a paid period after a successful payment.
func (s *SubscriptionService) Activate(ctx context.Context, userID string, plan model.SubscriptionPlan, months int) (*model.Subscription, error) {
	if !plan.Valid() || plan == model.PlanFree {
		return nil, ErrInvalidPlan
	}
	if months < 1 {
		return nil, ErrInvalidPeriod
	}

	sub, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := sub.Activate(plan, months, s.clock.now()); err != nil {
		return nil, fmt.Errorf("activate subscription: %w", err)
	}
	if err := s.store.SaveSubscription(ctx, sub); err != nil {
		return nil, err
	}

	s.logger.Info("subscription activated",
		"user_id", userID,
		"plan", plan,
		"months", months,
		"expires_at", sub.ExpiresAt,
	)
	return sub, nil
}

// Grant gives days of a plan for free. A higher active plan is kept and
// extended instead of being downgraded.
func (s *SubscriptionService) Grant(ctx context.Context, userID string, plan model.SubscriptionPlan, days int, reason string) (*model.Subscription, error) {
	if !plan.Valid() || plan == model.PlanFree {
		return nil, ErrInvalidPlan
	}
	if days < 1 {
		return nil, ErrInvalidPeriod
	}

	sub, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.clock.now()
	if sub.IsActive(now) && sub.Plan.Rank() > plan.Rank() {
		plan = sub.Plan
	}
	if err := sub.ActivateDays(plan, days, reason, now); err != nil {
		return nil, fmt.Errorf("grant subscription: %w", err)
	}
	if err := s.store.SaveSubscription(ctx, sub); err != nil {
		return nil, err
	}

	s.logger.Info("subscription granted",
		"user_id", userID,
		"plan", plan,
		"days", days,
		"reason", reason,
	)
	return sub, nil
}

// Cancel turns off auto renewal, or ends the period now when immediate.
func (s *SubscriptionService) Cancel(ctx context.Context, userID string, immediate bool) (*model.Subscription, error) {
	sub, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.clock.now()
	if !sub.IsActive(now) {
		return nil, ErrSubscriptionNotActive
	}
	if err := sub.Cancel(immediate, now); err != nil {
		return nil, err
	}
	if err := s.store.SaveSubscription(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// ExpireDue moves lapsed active subscriptions to expired and returns them.
func (s *SubscriptionService) ExpireDue(ctx context.Context, limit int) ([]*model.Subscription, error) {
	now := s.clock.now()
	subs, err := s.store.ListExpiredActive(ctx, now, clampLimit(limit, 100, 1000))
	if err != nil {
		return nil, err
	}

	expired := make([]*model.Subscription, 0, len(subs))
	for _, sub := range subs {
		if err := sub.Expire(now); err != nil {
			s.logger.Warn("cannot expire subscription", "subscription_id", sub.ID, "error", err)
			continue
		}
		if err := s.store.SaveSubscription(ctx, sub); err != nil {
			return expired, err
		}
		expired = append(expired, sub)
	}
	return expired, nil
}

// DueReminders returns active subscriptions that expire within
// model.ExpiringSoonDays and were not reminded yet.
func (s *SubscriptionService) DueReminders(ctx context.Context, limit int) ([]*model.Subscription, error) {
	within := time.Duration(model.ExpiringSoonDays) * 24 * time.Hour
	return s.store.ListExpiringUnreminded(ctx, s.clock.now(), within, clampLimit(limit, 100, 1000))
}

// MarkReminded records that the expiry reminder was queued.
func (s *SubscriptionService) MarkReminded(ctx context.Context, subscriptionID string) error {
	return s.store.MarkReminderSent(ctx, subscriptionID, s.clock.now())
}

// RequireFeature returns a *FeatureError when the user's plan lacks feature.
func (s *SubscriptionService) RequireFeature(ctx context.Context, userID, feature string) error {
	sub, err := s.Get(ctx, userID)
	if err != nil {
		return err
	}
	if sub.HasFeature(feature, s.clock.now()) {
		return nil
	}
	return &FeatureError{Feature: feature, Plan: MinimumPlanFor(feature)}
}

// MinimumPlanFor returns the cheapest plan that includes feature.
func MinimumPlanFor(feature string) model.SubscriptionPlan {
	for _, p := range model.PaidPlans {
		if model.FeaturesFor(p).Has(feature) {
			return p
		}
	}
	return model.PlanVIP
}

// CheckSpreadAllowance returns how many spreads the user has left today.
// It returns a *LimitError when nothing is left.
func (s *SubscriptionService) CheckSpreadAllowance(ctx context.Context, userID string) (int, error) {
	sub, err := s.Get(ctx, userID)
	if err != nil {
		return 0, err
	}

	now := s.clock.now()
	features := sub.Features(now)
	used, err := s.spreadsUsed(ctx, userID, now)
	if err != nil {
		return 0, err
	}

	if used >= int64(features.DailySpreadsLimit) {
		return 0, &LimitError{Limit: features.DailySpreadsLimit, Plan: features.Plan}
	}
	return features.DailySpreadsLimit - int(used), nil
}

func (s *SubscriptionService) spreadsUsed(ctx context.Context, userID string, now time.Time) (int64, error) {
	if s.counters != nil {
		n, err := s.counters.GetDaily(ctx, cache.CounterSpreads, userID, now)
		if err == nil {
			return n, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Warn("spread counter unavailable, using database", "error", err)
		}
	}

	n, err := s.store.CountSpreadsOnDate(ctx, userID, s.clock.today())
	if err != nil {
		return 0, fmt.Errorf("count spreads: %w", err)
	}
	if s.counters != nil {
		if err := s.counters.SeedDaily(ctx, cache.CounterSpreads, userID, now, n); err != nil {
			s.logger.Warn("failed to seed spread counter", "error", err)
		}
	}
	return n, nil
}

// ReserveSpread takes one spread from today's allowance before the cards are
// drawn, so concurrent requests cannot overrun the limit. It returns the
// spreads left afterwards and a finish func the caller must call once with
// whether the reading was saved; an unsaved reservation is given back.
func (s *SubscriptionService) ReserveSpread(ctx context.Context, userID string) (int, func(saved bool), error) {
	sub, err := s.Get(ctx, userID)
	if err != nil {
		return 0, nil, err
	}
	now := s.clock.now()
	features := sub.Features(now)
	limit := int64(features.DailySpreadsLimit)
	exhausted := &LimitError{Limit: features.DailySpreadsLimit, Plan: features.Plan}

	if s.counters != nil {
		n, err := s.takeSpread(ctx, userID, now)
		if err == nil {
			if n > limit {
				s.returnSpread(ctx, userID, now)
				return 0, nil, exhausted
			}
			return int(limit - n), func(saved bool) {
				if !saved {
					s.returnSpread(context.WithoutCancel(ctx), userID, now)
				}
			}, nil
		}
		s.logger.Warn("spread counter unavailable, using database", "error", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	used, err := s.store.CountSpreadsOnDate(ctx, userID, s.clock.today())
	if err != nil {
		return 0, nil, fmt.Errorf("count spreads: %w", err)
	}
	used += int64(s.inflight[userID])
	if used >= limit {
		return 0, nil, exhausted
	}
	s.inflight[userID]++
	return int(limit - used - 1), func(bool) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.inflight[userID]--; s.inflight[userID] <= 0 {
			delete(s.inflight, userID)
		}
	}, nil
}

// takeSpread seeds today's counter from the database when missing and
// increments it.
func (s *SubscriptionService) takeSpread(ctx context.Context, userID string, now time.Time) (int64, error) {
	_, err := s.counters.GetDaily(ctx, cache.CounterSpreads, userID, now)
	if errors.Is(err, cache.ErrCacheMiss) {
		n, err := s.store.CountSpreadsOnDate(ctx, userID, s.clock.today())
		if err != nil {
			return 0, fmt.Errorf("count spreads: %w", err)
		}
		if err := s.counters.SeedDaily(ctx, cache.CounterSpreads, userID, now, n); err != nil {
			return 0, err
		}
	} else if err != nil {
		return 0, err
	}
	return s.counters.IncrDaily(ctx, cache.CounterSpreads, userID, now)
}

func (s *SubscriptionService) returnSpread(ctx context.Context, userID string, now time.Time) {
	if err := s.counters.DecrDaily(ctx, cache.CounterSpreads, userID, now); err != nil {
		s.logger.Warn("failed to return spread", "user_id", userID, "error", err)
	}
}

// Quote prices a purchase. An empty promo code means no promo.
func (s *SubscriptionService) Quote(ctx context.Context, userID string, plan model.SubscriptionPlan, months int, promoCode string) (model.Quote, error) {
	if !plan.Valid() || plan == model.PlanFree {
		return model.Quote{}, ErrInvalidPlan
	}
	if !slices.Contains(PurchasePeriods, months) {
		return model.Quote{}, ErrInvalidPeriod
	}

	var promo *model.PromoCode
	if promoCode != "" {
		p, err := s.ValidatePromo(ctx, userID, promoCode, plan)
		if err != nil {
			return model.Quote{}, err
		}
		promo = p
	}
	return model.CalculatePrice(plan, months, promo, s.clock.now()), nil
}

// ValidatePromo checks that the user can apply the code to plan. An empty
// plan skips the plan check.
func (s *SubscriptionService) ValidatePromo(ctx context.Context, userID, code string, plan model.SubscriptionPlan) (*model.PromoCode, error) {
	code, err := model.NormalizePromoCode(code)
	if err != nil {
		return nil, ErrPromoNotFound
	}

	promo, err := s.store.GetPromo(ctx, code)
	if errors.Is(err, repository.ErrPromoNotFound) {
		return nil, ErrPromoNotFound
	}
	if err != nil {
		return nil, err
	}

	if !promo.IsValid(s.clock.now()) {
		return nil, ErrPromoInvalid
	}
	if plan != "" && !promo.CanApplyToPlan(plan) {
		return nil, ErrPromoInvalid
	}

	used, err := s.store.HasRedeemed(ctx, code, userID)
	if err != nil {
		return nil, err
	}
	if used {
		return nil, ErrPromoUsed
	}

	if promo.FirstTimeOnly {
		paid, err := s.store.HasSuccessfulPayments(ctx, userID)
		if err != nil {
			return nil, err
		}
		if paid {
			return nil, ErrPromoInvalid
		}
	}
	return promo, nil
}

// ApplyBonusPromo redeems a trial or upgrade code and grants its days.
func (s *SubscriptionService) ApplyBonusPromo(ctx context.Context, userID string, promo *model.PromoCode) (*model.Subscription, error) {
	days := promo.TrialDays()
	if days <= 0 {
		return nil, ErrPromoInvalid
	}

	if err := s.Redeem(ctx, promo.Code, userID, ""); err != nil {
		return nil, err
	}

	plan := model.PlanBasic
	if promo.Type == model.PromoUpgrade {
		plan = model.PlanPremium
	}
	if len(promo.AllowedPlans) > 0 {
		plan = promo.AllowedPlans[0]
	}
	return s.Grant(ctx, userID, plan, days, "promo "+promo.Code)
}

// Redeem consumes one use of a promo code.
func (s *SubscriptionService) Redeem(ctx context.Context, code, userID, paymentID string) error {
	err := s.store.RedeemPromo(ctx, code, userID, paymentID, s.clock.now())
	switch {
	case errors.Is(err, repository.ErrPromoExhausted):
		return ErrPromoInvalid
	case errors.Is(err, repository.ErrPromoAlreadyRedeemed):
		return ErrPromoUsed
	}
	return err
}

// CreatePromo validates and stores a new promo code.
func (s *SubscriptionService) CreatePromo(ctx context.Context, req model.PromoCreateRequest) (*model.PromoCode, error) {
	code, err := model.NormalizePromoCode(req.Code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if !req.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown promo type %q", ErrInvalidInput, req.Type)
	}
	if req.Value <= 0 || (req.Type == model.PromoPercentage && req.Value > 100) {
		return nil, fmt.Errorf("%w: value out of range", ErrInvalidInput)
	}
	for _, p := range req.AllowedPlans {
		if !p.Valid() || p == model.PlanFree {
			return nil, fmt.Errorf("%w: plan %q", ErrInvalidInput, p)
		}
	}
	if req.MaxUses != nil && *req.MaxUses < 1 {
		return nil, fmt.Errorf("%w: max_uses must be positive", ErrInvalidInput)
	}

	now := s.clock.now()
	from := now
	if req.ValidFrom != nil {
		from = req.ValidFrom.UTC()
	}
	if req.ValidUntil != nil && !req.ValidUntil.After(from) {
		return nil, fmt.Errorf("%w: valid_until must be after valid_from", ErrInvalidInput)
	}

	promo := &model.PromoCode{
		Code:          code,
		Type:          req.Type,
		Value:         req.Value,
		ValidFrom:     from,
		ValidUntil:    req.ValidUntil,
		MaxUses:       req.MaxUses,
		MinAmount:     req.MinAmount,
		AllowedPlans:  req.AllowedPlans,
		IsActive:      true,
		FirstTimeOnly: req.FirstTimeOnly,
		CreatedAt:     now,
	}
	if err := s.store.CreatePromo(ctx, promo); err != nil {
		if errors.Is(err, repository.ErrPromoExists) {
			return nil, ErrPromoExists
		}
		return nil, err
	}
	return promo, nil
}

// ListPromos returns promo codes, optionally only active ones.
func (s *SubscriptionService) ListPromos(ctx context.Context, activeOnly bool) ([]*model.PromoCode, error) {
	return s.store.ListPromos(ctx, activeOnly)
}

// DeactivatePromo disables a promo code.
func (s *SubscriptionService) DeactivatePromo(ctx context.Context, code string) error {
	err := s.store.DeactivatePromo(ctx, strings.ToUpper(strings.TrimSpace(code)))
	if errors.Is(err, repository.ErrPromoNotFound) {
		return ErrPromoNotFound
	}
	return err
}
