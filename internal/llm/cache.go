package llm

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Store is a shared response cache, typically Redis.
type Store interface {
	GetLLMResponse(ctx context.Context, hash string) (string, error)
	SetLLMResponse(ctx context.Context, hash, text string, ttl time.Duration) error
}

// ResponseCache is the in-process LRU of generated responses.
type ResponseCache struct {
	*lru.Cache[string, cachedResponse]
}

type cachedResponse struct {
	resp      Response
	expiresAt time.Time
}

// NewResponseCache creates a cache holding up to size responses.
func NewResponseCache(size int) (*ResponseCache, error) {
	c, err := lru.New[string, cachedResponse](size)
	if err != nil {
		return nil, err
	}
	return &ResponseCache{Cache: c}, nil
}

// Lookup returns a live entry. Expired entries are evicted.
func (c *ResponseCache) Lookup(key string, now time.Time) (Response, bool) {
	v, ok := c.Cache.Get(key)
	if !ok {
		return Response{}, false
	}
	if !now.Before(v.expiresAt) {
		c.Cache.Remove(key)
		return Response{}, false
	}
	return v.resp, true
}

// Put stores resp until now+ttl.
func (c *ResponseCache) Put(key string, resp Response, ttl time.Duration, now time.Time) {
	c.Cache.Add(key, cachedResponse{resp: resp, expiresAt: now.Add(ttl)})
}
