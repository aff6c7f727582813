package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const counterKeyPrefix = "daily:"

// CounterSpreads counts tarot spreads per user and day.
const CounterSpreads = "spreads"

// decrScript decrements an existing counter without going below zero and
// never creates a missing one.
var decrScript = redis.NewScript(`
	local v = tonumber(redis.call('GET', KEYS[1]))
	if v == nil or v <= 0 then
		return 0
	end
	return redis.call('DECR', KEYS[1])
`)

// DayKey formats the calendar day of t in the cache location.
func (c *Cache) DayKey(t time.Time) string {
	return t.In(c.loc).Format("2006-01-02")
}

// EndOfDay returns the first instant of the day after t in loc.
func EndOfDay(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, loc)
}

func (c *Cache) counterKey(name, subject string, day time.Time) string {
	return counterKeyPrefix + name + ":" + c.DayKey(day) + ":" + subject
}

// IncrDaily increments a per-subject counter for the calendar day of now.
// The key expires when the day ends.
func (c *Cache) IncrDaily(ctx context.Context, name, subject string, now time.Time) (int64, error) {
	key := c.counterKey(name, subject, now)

	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireAt(ctx, key, EndOfDay(now, c.loc))

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to increment counter: %w", err)
	}
	return incr.Val(), nil
}

// DecrDaily gives back one unit of a counter taken with IncrDaily.
func (c *Cache) DecrDaily(ctx context.Context, name, subject string, now time.Time) error {
	if err := decrScript.Run(ctx, c.client, []string{c.counterKey(name, subject, now)}).Err(); err != nil {
		return fmt.Errorf("failed to decrement counter: %w", err)
	}
	return nil
}

// GetDaily returns the counter for the calendar day of now.
// Returns ErrCacheMiss when nothing was counted yet.
func (c *Cache) GetDaily(ctx context.Context, name, subject string, now time.Time) (int64, error) {
	raw, err := c.client.Get(ctx, c.counterKey(name, subject, now)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, ErrCacheMiss
		}
		return 0, fmt.Errorf("redis get failed: %w", err)
	}

	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse counter: %w", err)
	}
	return n, nil
}

// SeedDaily sets the counter when it does not exist yet, for warming it from
// the database.
func (c *Cache) SeedDaily(ctx context.Context, name, subject string, now time.Time, value int64) error {
	ttl := time.Until(EndOfDay(now, c.loc))
	if ttl <= 0 {
		return nil
	}
	if err := c.client.SetNX(ctx, c.counterKey(name, subject, now), value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to seed counter: %w", err)
	}
	return nil
}
