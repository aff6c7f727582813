package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/astrotarot/astrotarot/internal/llm"
	"github.com/astrotarot/astrotarot/internal/model"
)

// StatsStore is the storage used by StatsService.
type StatsStore interface {
	CountUsers(ctx context.Context) (int64, error)
	CountActiveUsers(ctx context.Context, since time.Time) (int64, error)
	CountUsersCreatedBetween(ctx context.Context, from, to time.Time) (int64, error)
	CountActiveByPlan(ctx context.Context, now time.Time) (map[model.SubscriptionPlan]int64, error)
	CountReadings(ctx context.Context) (int64, error)
	CountHoroscopeViews(ctx context.Context) (int64, error)
	RevenueBetween(ctx context.Context, from, to time.Time) (int64, error)
	RevenueTotal(ctx context.Context) (int64, error)
	CountPayingUsers(ctx context.Context) (int64, error)
	PopularSpreads(ctx context.Context, limit int) ([]model.CountByKey, error)
	PopularCards(ctx context.Context, limit int) ([]model.CountByKey, error)
	PopularSigns(ctx context.Context, limit int) ([]model.CountByKey, error)
	CountUsageByKind(ctx context.Context, since time.Time) ([]model.CountByKey, error)
	TopCommands(ctx context.Context, since time.Time, limit int) ([]model.CountByKey, error)
}

// LLMStats reports provider health. *llm.Manager implements it.
type LLMStats interface {
	Stats() []llm.ProviderStats
}

// StatsService builds dashboards for admins.
type StatsService struct {
	store StatsStore
	llm   LLMStats
	clock Clock
}

// NewStatsService creates a new StatsService. llmStats may be nil.
func NewStatsService(store StatsStore, llmStats LLMStats, clock Clock) *StatsService {
	return &StatsService{store: store, llm: llmStats, clock: clock}
}

// System returns the overall statistics.
func (s *StatsService) System(ctx context.Context) (*model.SystemStats, error) {
	now := s.clock.now()
	today := calendarStart(now, s.clock)
	monthStart := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, today.Location())

	var (
		st  model.SystemStats
		err error
	)
	st.GeneratedAt = now

	if st.Users.Total, err = s.store.CountUsers(ctx); err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}
	if st.Users.ActiveToday, err = s.store.CountActiveUsers(ctx, today); err != nil {
		return nil, fmt.Errorf("count active users: %w", err)
	}
	if st.Users.ActiveWeek, err = s.store.CountActiveUsers(ctx, now.AddDate(0, 0, -7)); err != nil {
		return nil, fmt.Errorf("count active users: %w", err)
	}
	if st.Users.ActiveMonth, err = s.store.CountActiveUsers(ctx, now.AddDate(0, 0, -30)); err != nil {
		return nil, fmt.Errorf("count active users: %w", err)
	}

	cur, err := s.store.CountUsersCreatedBetween(ctx, now.AddDate(0, 0, -30), now)
	if err != nil {
		return nil, fmt.Errorf("count new users: %w", err)
	}
	prev, err := s.store.CountUsersCreatedBetween(ctx, now.AddDate(0, 0, -60), now.AddDate(0, 0, -30))
	if err != nil {
		return nil, fmt.Errorf("count new users: %w", err)
	}
	st.Users.GrowthRate = GrowthRate(cur, prev)

	if st.Subscriptions.ByPlan, err = s.store.CountActiveByPlan(ctx, now); err != nil {
		return nil, fmt.Errorf("count subscriptions: %w", err)
	}
	if st.Usage.TotalSpreads, err = s.store.CountReadings(ctx); err != nil {
		return nil, fmt.Errorf("count readings: %w", err)
	}
	if st.Usage.TotalHoroscopes, err = s.store.CountHoroscopeViews(ctx); err != nil {
		return nil, fmt.Errorf("count horoscopes: %w", err)
	}

	if st.Revenue.Today, err = s.store.RevenueBetween(ctx, today, now); err != nil {
		return nil, fmt.Errorf("revenue: %w", err)
	}
	if st.Revenue.Month, err = s.store.RevenueBetween(ctx, monthStart, now); err != nil {
		return nil, fmt.Errorf("revenue: %w", err)
	}
	if st.Revenue.Total, err = s.store.RevenueTotal(ctx); err != nil {
		return nil, fmt.Errorf("revenue: %w", err)
	}
	paying, err := s.store.CountPayingUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("count paying users: %w", err)
	}
	if paying > 0 {
		st.Revenue.ARPU = st.Revenue.Total / paying
	}

	for _, n := range st.Subscriptions.ByPlan {
		st.Subscriptions.TotalActive += n
	}
	st.Subscriptions.ConversionRate = percent(st.Subscriptions.TotalActive, st.Users.Total)
	if st.Users.Total > 0 {
		st.Usage.SpreadsPerUser = round2(float64(st.Usage.TotalSpreads) / float64(st.Users.Total))
	}
	return &st, nil
}

// calendarStart is the start of the current bot-local day as an instant.
func calendarStart(now time.Time, c Clock) time.Time {
	local := now.In(c.loc())
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc())
}

// GrowthRate is the percent change from prev to cur. Growth from zero counts
// as 100%.
func GrowthRate(cur, prev int64) float64 {
	if prev == 0 {
		if cur > 0 {
			return 100
		}
		return 0
	}
	return round2(float64(cur-prev) * 100 / float64(prev))
}

func percent(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	return round2(float64(part) * 100 / float64(total))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Popular returns the most used spreads, cards and signs.
func (s *StatsService) Popular(ctx context.Context, limit int) (*model.PopularContent, error) {
	limit = clampLimit(limit, 10, 78)

	var pc model.PopularContent
	var err error
	if pc.Spreads, err = s.store.PopularSpreads(ctx, limit); err != nil {
		return nil, err
	}
	if pc.Cards, err = s.store.PopularCards(ctx, limit); err != nil {
		return nil, err
	}
	if pc.Signs, err = s.store.PopularSigns(ctx, limit); err != nil {
		return nil, err
	}
	return &pc, nil
}

// UsageSummary aggregates usage events since the given moment.
type UsageSummary struct {
	Since       time.Time          `json:"since"`
	ByKind      []model.CountByKey `json:"by_kind"`
	TopCommands []model.CountByKey `json:"top_commands"`
}

// Usage summarizes usage events of the last days.
func (s *StatsService) Usage(ctx context.Context, days int) (*UsageSummary, error) {
	since := s.clock.now().AddDate(0, 0, -clampLimit(days, 7, 90))
	byKind, err := s.store.CountUsageByKind(ctx, since)
	if err != nil {
		return nil, err
	}
	top, err := s.store.TopCommands(ctx, since, 10)
	if err != nil {
		return nil, err
	}
	return &UsageSummary{Since: since, ByKind: byKind, TopCommands: top}, nil
}

// LLM returns per-provider statistics.
func (s *StatsService) LLM() []llm.ProviderStats {
	if s.llm == nil {
		return []llm.ProviderStats{}
	}
	return s.llm.Stats()
}
