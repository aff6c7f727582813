package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	apiLimitPrefix  = "ratelimit:apikey:"
	ipLimitPrefix   = "ratelimit:ip:"
	userLimitPrefix = "ratelimit:user:"
)

// RateLimitResult contains the result of a rate limit check.
type RateLimitResult struct {
	Allowed    bool
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration
}

// bucket is a token bucket refilled at perSecond up to burst tokens.
type bucket struct {
	perSecond float64
	burst     int
	idle      time.Duration // key expiry after the last hit
}

// takeTokenScript refills by the elapsed milliseconds and takes one token.
// It returns {allowed, tokens left, ms until the next token}.
var takeTokenScript = redis.NewScript(`
local rate = tonumber(ARGV[1]) / 1000
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local state = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = tonumber(state[1]) or burst
local ts = tonumber(state[2]) or now
tokens = math.min(burst, tokens + math.max(0, now - ts) * rate)

local allowed = 0
if tokens >= 1 then
	tokens = tokens - 1
	allowed = 1
end
local wait = 0
if tokens < 1 then
	wait = math.ceil((1 - tokens) / rate)
end

redis.call('HSET', KEYS[1], 'tokens', tokens, 'ts', now)
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return {allowed, math.floor(tokens), wait}
`)

func (c *Cache) take(ctx context.Context, key string, b bucket) (*RateLimitResult, error) {
	now := time.Now()
	res, err := takeTokenScript.Run(ctx, c.client, []string{key},
		b.perSecond, b.burst, now.UnixMilli(), b.idle.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("rate limit %s: %w", key, err)
	}

	wait := time.Duration(res[2]) * time.Millisecond
	out := &RateLimitResult{
		Allowed:   res[0] == 1,
		Remaining: res[1],
		ResetAt:   now.Add(wait),
	}
	if !out.Allowed {
		out.RetryAfter = wait
	}
	return out, nil
}

// CheckAPIRateLimit charges one request to an admin API key. A zero rate
// means the key is unlimited.
func (c *Cache) CheckAPIRateLimit(ctx context.Context, keyID string, ratePerMinute, burst int) (*RateLimitResult, error) {
	if ratePerMinute <= 0 {
		return &RateLimitResult{Allowed: true, Remaining: int64(burst), ResetAt: time.Now()}, nil
	}
	return c.take(ctx, apiLimitPrefix+keyID, bucket{
		perSecond: float64(ratePerMinute) / 60,
		burst:     max(burst, 1),
		idle:      2 * time.Minute,
	})
}

// CheckIPRateLimit charges one unauthenticated request to a client IP. The
// IP is stored hashed.
func (c *Cache) CheckIPRateLimit(ctx context.Context, ip string, ratePerSecond, burst int) (*RateLimitResult, error) {
	if ratePerSecond <= 0 {
		return &RateLimitResult{Allowed: true, ResetAt: time.Now()}, nil
	}
	return c.take(ctx, ipLimitPrefix+hashIP(ip), bucket{
		perSecond: float64(ratePerSecond),
		burst:     max(burst, 1),
		idle:      10 * time.Second,
	})
}

// CheckUserRateLimit throttles a bot user per action: at most limit actions
// per window, refilled continuously.
func (c *Cache) CheckUserRateLimit(ctx context.Context, telegramID int64, action string, limit int, window time.Duration) (*RateLimitResult, error) {
	if limit <= 0 || window <= 0 {
		return &RateLimitResult{Allowed: true, ResetAt: time.Now()}, nil
	}
	return c.take(ctx, userRateLimitKey(telegramID, action), bucket{
		perSecond: float64(limit) / window.Seconds(),
		burst:     limit,
		idle:      window + time.Second,
	})
}

func userRateLimitKey(telegramID int64, action string) string {
	return userLimitPrefix + action + ":" + strconv.FormatInt(telegramID, 10)
}

// hashIP returns the first 8 bytes of the SHA-256 of ip as hex.
func hashIP(ip string) string {
	sum := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(sum[:8])
}
