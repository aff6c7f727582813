// Package cache provides the Redis access layer: rate limits, conversation
// state, response caches, daily counters and job locks.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss is returned when a key is absent.
var ErrCacheMiss = errors.New("cache miss")

// Defaults applied when Options leaves a field zero.
const (
	DefaultTTL    = time.Hour
	DefaultFSMTTL = 24 * time.Hour
)

// Options tunes the client.
type Options struct {
	PoolSize int
	// TTL bounds generic cached values such as LLM responses.
	TTL time.Duration
	// FSMTTL is how long an idle conversation state is kept.
	FSMTTL time.Duration
	// Location defines calendar days for daily counters.
	Location *time.Location
}

// Cache provides Redis cache access methods.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	fsmTTL time.Duration
	loc    *time.Location
}

// New creates a new Cache with a Redis client.
func New(ctx context.Context, redisURL string, opts Options) (*Cache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// Connection pool settings
	opt.PoolSize = 10
	if opts.PoolSize > 0 {
		opt.PoolSize = opts.PoolSize
	}
	opt.MinIdleConns = 2
	opt.PoolTimeout = 4 * time.Second
	opt.ConnMaxIdleTime = 5 * time.Minute

	client := redis.NewClient(opt)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return NewWithClient(client, opts), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, opts Options) *Cache {
	c := &Cache{
		client: client,
		ttl:    opts.TTL,
		fsmTTL: opts.FSMTTL,
		loc:    opts.Location,
	}
	if c.ttl <= 0 {
		c.ttl = DefaultTTL
	}
	if c.fsmTTL <= 0 {
		c.fsmTTL = DefaultFSMTTL
	}
	if c.loc == nil {
		c.loc = time.UTC
	}
	return c
}

// Ping checks Redis connectivity.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Client returns the underlying Redis client.
// Use sparingly - prefer adding methods to Cache.
func (c *Cache) Client() *redis.Client {
	return c.client
}

// TTL returns the default time-to-live for cached values.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}
