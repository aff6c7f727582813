package llm

import (
	"sync"
	"time"
)

const (
	maxConsecutiveErrors = 5
	errorCooldown        = 5 * time.Minute
	rateLimitCooldown    = time.Minute
)

// ProviderStats is a snapshot of a provider's health.
type ProviderStats struct {
	Name           string        `json:"name"`
	Model          string        `json:"model"`
	Requests       int64         `json:"requests"`
	Successes      int64         `json:"successes"`
	Errors         int64         `json:"errors"`
	ErrorRate      float64       `json:"error_rate"`
	AvgLatency     time.Duration `json:"avg_latency_ns"`
	TotalTokens    int64         `json:"total_tokens"`
	Healthy        bool          `json:"healthy"`
	DisabledUntil  *time.Time    `json:"disabled_until,omitempty"`
	LastError      string        `json:"last_error,omitempty"`
	LastErrorAt    *time.Time    `json:"last_error_at,omitempty"`
	ConsecutiveErr int           `json:"consecutive_errors"`
}

type health struct {
	mu            sync.Mutex
	successes     int64
	errors        int64
	consecutive   int
	totalLatency  time.Duration
	tokens        int64
	disabledUntil time.Time
	lastError     string
	lastErrorAt   time.Time
}

func (h *health) healthy(now time.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !now.Before(h.disabledUntil)
}

func (h *health) avgLatency() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.successes == 0 {
		return 0
	}
	return h.totalLatency / time.Duration(h.successes)
}

func (h *health) recordSuccess(latency time.Duration, tokens int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.successes++
	h.consecutive = 0
	h.totalLatency += latency
	h.tokens += int64(tokens)
}

func (h *health) recordError(err error, rateLimited bool, now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errors++
	h.consecutive++
	h.lastError = err.Error()
	h.lastErrorAt = now

	switch {
	case rateLimited:
		h.disabledUntil = now.Add(rateLimitCooldown)
	case h.consecutive >= maxConsecutiveErrors:
		h.disabledUntil = now.Add(errorCooldown)
	}
}

func (h *health) stats(p Provider, now time.Time) ProviderStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := ProviderStats{
		Name:           p.Name(),
		Model:          p.Model(),
		Requests:       h.successes + h.errors,
		Successes:      h.successes,
		Errors:         h.errors,
		TotalTokens:    h.tokens,
		Healthy:        !now.Before(h.disabledUntil),
		LastError:      h.lastError,
		ConsecutiveErr: h.consecutive,
	}
	if s.Requests > 0 {
		s.ErrorRate = float64(h.errors) / float64(s.Requests)
	}
	if h.successes > 0 {
		s.AvgLatency = h.totalLatency / time.Duration(h.successes)
	}
	if !s.Healthy {
		until := h.disabledUntil
		s.DisabledUntil = &until
	}
	if !h.lastErrorAt.IsZero() {
		at := h.lastErrorAt
		s.LastErrorAt = &at
	}
	return s
}
