//go:build integration

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astrotarot/astrotarot/internal/model"
	"github.com/astrotarot/astrotarot/internal/testutil"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	redisURL := testutil.RequireEnv(t, "REDIS_URL")

	ctx := context.Background()
	c, err := New(ctx, redisURL, Options{FSMTTL: time.Minute})
	require.NoError(t, err)
	require.NoError(t, testutil.FlushRedis(ctx, c.Client()))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestState_RoundTrip(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	st, err := c.GetState(ctx, 42)
	require.NoError(t, err)
	assert.Empty(t, st.Name)

	require.NoError(t, c.SetState(ctx, 42, "onboarding:time", map[string]string{"date": "01.02.1990"}))
	require.NoError(t, c.SetState(ctx, 42, "onboarding:city", map[string]string{"time": "14:30"}))

	st, err = c.GetState(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "onboarding:city", st.Name)
	assert.Equal(t, "01.02.1990", st.Get("date"))
	assert.Equal(t, "14:30", st.Get("time"))

	ttl, err := c.Client().TTL(ctx, fsmKey(42)).Result()
	require.NoError(t, err)
	assert.LessOrEqual(t, ttl, time.Minute)

	require.NoError(t, c.ClearState(ctx, 42))
	st, err = c.GetState(ctx, 42)
	require.NoError(t, err)
	assert.Empty(t, st.Name)
	assert.Empty(t, st.Data)
}

func TestDailyCounter(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	now := time.Now()

	_, err := c.GetDaily(ctx, CounterSpreads, "u1", now)
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.SeedDaily(ctx, CounterSpreads, "u1", now, 2))
	n, err := c.IncrDaily(ctx, CounterSpreads, "u1", now)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	// Seeding an existing counter is a no-op.
	require.NoError(t, c.SeedDaily(ctx, CounterSpreads, "u1", now, 0))
	n, err = c.GetDaily(ctx, CounterSpreads, "u1", now)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	require.NoError(t, c.DecrDaily(ctx, CounterSpreads, "u1", now))
	n, err = c.GetDaily(ctx, CounterSpreads, "u1", now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// Decrementing a missing counter leaves it missing.
	require.NoError(t, c.DecrDaily(ctx, CounterSpreads, "u2", now))
	_, err = c.GetDaily(ctx, CounterSpreads, "u2", now)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestLock_Exclusive(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	first, err := c.AcquireLock(ctx, "job:test", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := c.AcquireLock(ctx, "job:test", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, second)

	require.NoError(t, first.Release(ctx))

	third, err := c.AcquireLock(ctx, "job:test", time.Minute)
	require.NoError(t, err)
	assert.NotNil(t, third)
}

func TestAuthContext_NegativeCache(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	neg, err := c.IsAuthNegativelyCached(ctx, "hash1")
	require.NoError(t, err)
	assert.False(t, neg)

	require.NoError(t, c.SetAuthNegative(ctx, "hash1"))
	neg, err = c.IsAuthNegativelyCached(ctx, "hash1")
	require.NoError(t, err)
	assert.True(t, neg)

	auth := &model.AuthContext{KeyID: "k1", KeyPrefix: "abc123", Owner: "ops", Scopes: []string{model.ScopeRead}}
	require.NoError(t, c.SetAuthContext(ctx, "hash1", auth))

	neg, err = c.IsAuthNegativelyCached(ctx, "hash1")
	require.NoError(t, err)
	assert.False(t, neg)

	got, err := c.GetAuthContext(ctx, "hash1")
	require.NoError(t, err)
	assert.Equal(t, auth.Owner, got.Owner)
}

func TestCheckUserRateLimit(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	for i := range 3 {
		res, err := c.CheckUserRateLimit(ctx, 7, "tarot", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d", i)
	}

	res, err := c.CheckUserRateLimit(ctx, 7, "tarot", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Positive(t, res.RetryAfter)
}
