package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astrotarot/astrotarot/internal/llm"
	"github.com/astrotarot/astrotarot/internal/model"
)

type stubStats struct {
	users      int64
	active     int64
	createdCur int64
	createdOld int64
	byPlan     map[model.SubscriptionPlan]int64
	readings   int64
	views      int64
	revenue    int64
	paying     int64
	err        error
	usageSince time.Time
}

func (s *stubStats) CountUsers(context.Context) (int64, error) { return s.users, s.err }
func (s *stubStats) CountActiveUsers(context.Context, time.Time) (int64, error) {
	return s.active, nil
}
func (s *stubStats) CountUsersCreatedBetween(_ context.Context, from, to time.Time) (int64, error) {
	if to.Sub(from) > 0 && to.After(testNow.AddDate(0, 0, -1)) {
		return s.createdCur, nil
	}
	return s.createdOld, nil
}
func (s *stubStats) CountActiveByPlan(context.Context, time.Time) (map[model.SubscriptionPlan]int64, error) {
	return s.byPlan, nil
}
func (s *stubStats) CountReadings(context.Context) (int64, error)       { return s.readings, nil }
func (s *stubStats) CountHoroscopeViews(context.Context) (int64, error) { return s.views, nil }
func (s *stubStats) RevenueBetween(context.Context, time.Time, time.Time) (int64, error) {
	return s.revenue, nil
}
func (s *stubStats) RevenueTotal(context.Context) (int64, error)     { return s.revenue, nil }
func (s *stubStats) CountPayingUsers(context.Context) (int64, error) { return s.paying, nil }
func (s *stubStats) PopularSpreads(_ context.Context, limit int) ([]model.CountByKey, error) {
	return []model.CountByKey{{Key: "three_cards", Count: int64(limit)}}, nil
}
func (s *stubStats) PopularCards(context.Context, int) ([]model.CountByKey, error) {
	return []model.CountByKey{{Key: "0", Count: 3}}, nil
}
func (s *stubStats) PopularSigns(context.Context, int) ([]model.CountByKey, error) {
	return []model.CountByKey{{Key: "leo", Count: 2}}, nil
}
func (s *stubStats) CountUsageByKind(_ context.Context, since time.Time) ([]model.CountByKey, error) {
	s.usageSince = since
	return []model.CountByKey{{Key: "command", Count: 10}}, nil
}
func (s *stubStats) TopCommands(context.Context, time.Time, int) ([]model.CountByKey, error) {
	return []model.CountByKey{{Key: "start", Count: 4}}, nil
}

type stubLLMStats []llm.ProviderStats

func (s stubLLMStats) Stats() []llm.ProviderStats { return s }

func TestGrowthRate(t *testing.T) {
	assert.Equal(t, 0.0, GrowthRate(0, 0))
	assert.Equal(t, 100.0, GrowthRate(5, 0))
	assert.Equal(t, 50.0, GrowthRate(15, 10))
	assert.Equal(t, -25.0, GrowthRate(3, 4))
	assert.Equal(t, 33.33, GrowthRate(4, 3))
}

func TestSystemStats(t *testing.T) {
	now := testNow
	store := &stubStats{
		users:      200,
		active:     40,
		createdCur: 30,
		createdOld: 20,
		byPlan:     map[model.SubscriptionPlan]int64{model.PlanBasic: 8, model.PlanPremium: 2},
		readings:   500,
		views:      120,
		revenue:    1_000_000,
		paying:     8,
	}
	svc := NewStatsService(store, nil, testClock(&now))

	st, err := svc.System(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(200), st.Users.Total)
	assert.Equal(t, 50.0, st.Users.GrowthRate)
	assert.Equal(t, int64(10), st.Subscriptions.TotalActive)
	assert.Equal(t, 5.0, st.Subscriptions.ConversionRate)
	assert.Equal(t, int64(125_000), st.Revenue.ARPU)
	assert.Equal(t, 2.5, st.Usage.SpreadsPerUser)
	assert.Equal(t, now, st.GeneratedAt)
	assert.Empty(t, svc.LLM())
}

func TestSystemStats_EmptyAndErrors(t *testing.T) {
	now := testNow
	svc := NewStatsService(&stubStats{}, nil, testClock(&now))
	st, err := svc.System(context.Background())
	require.NoError(t, err)
	assert.Zero(t, st.Subscriptions.ConversionRate)
	assert.Zero(t, st.Revenue.ARPU)
	assert.Zero(t, st.Usage.SpreadsPerUser)

	svc = NewStatsService(&stubStats{err: errors.New("db down")}, nil, testClock(&now))
	_, err = svc.System(context.Background())
	assert.Error(t, err)
}

func TestPopularAndUsage(t *testing.T) {
	now := testNow
	store := &stubStats{}
	svc := NewStatsService(store, stubLLMStats{{Name: "openai"}}, testClock(&now))

	pc, err := svc.Popular(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(10), pc.Spreads[0].Count)
	assert.Equal(t, "leo", pc.Signs[0].Key)

	u, err := svc.Usage(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, now.AddDate(0, 0, -7), store.usageSince)
	assert.Equal(t, "start", u.TopCommands[0].Key)

	assert.Len(t, svc.LLM(), 1)
}
