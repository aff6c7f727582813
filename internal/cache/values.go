package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key prefixes for cached values.
const (
	horoscopeKeyPrefix = "horoscope:"
	llmKeyPrefix       = "llm:"
)

// GetJSON decodes a cached value into dst. Returns ErrCacheMiss when the key
// is absent or holds a corrupt entry.
func (c *Cache) GetJSON(ctx context.Context, key string, dst any) error {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrCacheMiss
		}
		return fmt.Errorf("redis get failed: %w", err)
	}

	if err := json.Unmarshal(data, dst); err != nil {
		c.client.Del(ctx, key)
		return ErrCacheMiss
	}
	return nil
}

// SetJSON stores v as JSON. A non-positive ttl uses the default TTL.
func (c *Cache) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal cached value: %w", err)
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache value: %w", err)
	}
	return nil
}

// HoroscopeKey builds the cache key of a generated horoscope.
func HoroscopeKey(sign, period, tone string, date time.Time) string {
	return horoscopeKeyPrefix + sign + ":" + period + ":" + tone + ":" + date.Format("2006-01-02")
}

// GetHoroscope loads a cached horoscope into dst.
func (c *Cache) GetHoroscope(ctx context.Context, key string, dst any) error {
	return c.GetJSON(ctx, key, dst)
}

// SetHoroscope caches a horoscope until the end of its period.
func (c *Cache) SetHoroscope(ctx context.Context, key string, v any, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	return c.SetJSON(ctx, key, v, ttl)
}

// GetLLMResponse returns a cached completion text.
func (c *Cache) GetLLMResponse(ctx context.Context, hash string) (string, error) {
	text, err := c.client.Get(ctx, llmKeyPrefix+hash).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrCacheMiss
		}
		return "", fmt.Errorf("redis get failed: %w", err)
	}
	return text, nil
}

// SetLLMResponse caches a completion text.
func (c *Cache) SetLLMResponse(ctx context.Context, hash, text string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}
	if err := c.client.Set(ctx, llmKeyPrefix+hash, text, ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache llm response: %w", err)
	}
	return nil
}
