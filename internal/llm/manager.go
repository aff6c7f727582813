package llm

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/astrotarot/astrotarot/internal/config"
	"github.com/astrotarot/astrotarot/internal/metrics"
)

// Options tune the manager.
type Options struct {
	DefaultProvider string
	MaxTokens       int
	Temperature     float32
	Timeout         time.Duration
	MaxRetries      int
	EnableFallback  bool
	// CacheSize is the in-process LRU capacity. Zero disables it.
	CacheSize    int
	RetryBackoff time.Duration
}

// OptionsFromConfig maps the LLM configuration to manager options.
func OptionsFromConfig(cfg config.LLMConfig) Options {
	opts := Options{
		DefaultProvider: cfg.DefaultProvider,
		MaxTokens:       cfg.MaxTokens,
		Temperature:     cfg.Temperature,
		Timeout:         cfg.Timeout,
		MaxRetries:      cfg.MaxRetries,
		EnableFallback:  cfg.EnableFallback,
		RetryBackoff:    time.Second,
	}
	if cfg.CacheResponses {
		opts.CacheSize = cfg.CacheSize
	}
	return opts
}

// Manager routes requests to providers.
type Manager struct {
	providers []Provider
	health    map[string]*health
	opts      Options
	lru       *ResponseCache
	store     Store
	logger    *slog.Logger
	metrics   metrics.Recorder
	now       func() time.Time
}

// NewManager creates a manager over providers. store may be nil.
func NewManager(providers []Provider, store Store, opts Options, logger *slog.Logger, recorder metrics.Recorder) (*Manager, error) {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	m := &Manager{
		providers: providers,
		health:    make(map[string]*health, len(providers)),
		opts:      opts,
		store:     store,
		logger:    logger.With("component", "llm"),
		metrics:   recorder,
		now:       time.Now,
	}
	for _, p := range providers {
		m.health[p.Name()] = &health{}
	}

	if opts.CacheSize > 0 {
		c, err := NewResponseCache(opts.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("create response cache: %w", err)
		}
		m.lru = c
	}
	return m, nil
}

// NewFromConfig builds the providers that have an API key configured.
func NewFromConfig(ctx context.Context, cfg config.LLMConfig, store Store, logger *slog.Logger, recorder metrics.Recorder) (*Manager, error) {
	var providers []Provider
	if cfg.OpenAIAPIKey != "" {
		providers = append(providers, NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIModel))
	}
	if cfg.AnthropicAPIKey != "" {
		providers = append(providers, NewAnthropicProvider(cfg.AnthropicAPIKey, cfg.AnthropicModel))
	}
	if cfg.GeminiAPIKey != "" {
		g, err := NewGeminiProvider(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, err
		}
		providers = append(providers, g)
	}

	m, err := NewManager(providers, store, OptionsFromConfig(cfg), logger, recorder)
	if err != nil {
		return nil, err
	}
	if len(providers) == 0 {
		m.logger.Warn("no llm providers configured, template interpretations only")
	}
	return m, nil
}

// Available reports whether any provider is configured.
func (m *Manager) Available() bool {
	return len(m.providers) > 0
}

// Close releases provider resources.
func (m *Manager) Close() error {
	var errs []error
	for _, p := range m.providers {
		if c, ok := p.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

// Generate returns a completion for req, from cache when possible.
func (m *Manager) Generate(ctx context.Context, req Request) (*Response, error) {
	if len(m.providers) == 0 {
		return nil, ErrNoProviders
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = m.opts.MaxTokens
	}
	if req.Temperature == 0 {
		req.Temperature = m.opts.Temperature
	}

	key := req.CacheKey()
	if req.CacheTTL > 0 {
		if resp, ok := m.lookup(ctx, key, req.CacheTTL); ok {
			m.metrics.IncLLMCacheHit()
			return resp, nil
		}
		m.metrics.IncLLMCacheMiss()
	}

	resp, err := m.generate(ctx, req)
	if err != nil {
		return nil, err
	}

	if req.CacheTTL > 0 {
		if m.lru != nil {
			m.lru.Put(key, *resp, req.CacheTTL, m.now())
		}
		if m.store != nil {
			if err := m.store.SetLLMResponse(ctx, key, resp.Text, req.CacheTTL); err != nil {
				m.logger.Warn("failed to cache llm response", "error", err)
			}
		}
	}
	return resp, nil
}

func (m *Manager) lookup(ctx context.Context, key string, ttl time.Duration) (*Response, bool) {
	if m.lru != nil {
		if resp, ok := m.lru.Lookup(key, m.now()); ok {
			resp.Cached = true
			return &resp, true
		}
	}
	if m.store == nil {
		return nil, false
	}

	text, err := m.store.GetLLMResponse(ctx, key)
	if err != nil || text == "" {
		return nil, false
	}
	resp := Response{Text: text, Provider: "cache", Cached: true}
	if m.lru != nil {
		m.lru.Put(key, resp, ttl, m.now())
	}
	return &resp, true
}

func (m *Manager) generate(ctx context.Context, req Request) (*Response, error) {
	candidates := m.candidates(req)
	if !m.opts.EnableFallback {
		candidates = candidates[:1]
	}

	var lastErr error
	for attempt := range m.opts.MaxRetries {
		if attempt > 0 && m.opts.RetryBackoff > 0 {
			timer := time.NewTimer(m.opts.RetryBackoff * time.Duration(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		p := candidates[attempt%len(candidates)]
		resp, err := m.call(ctx, p, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if errors.Is(err, ErrTokenLimit) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("%w: %w", ErrAllProvidersFailed, lastErr)
}

func (m *Manager) call(ctx context.Context, p Provider, req Request) (*Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
	defer cancel()

	h := m.health[p.Name()]
	start := m.now()
	resp, err := p.Complete(callCtx, req)
	latency := m.now().Sub(start)

	if err != nil {
		rateLimited := errors.Is(err, ErrRateLimited)
		h.recordError(err, rateLimited, m.now())

		outcome := "error"
		if rateLimited {
			outcome = "rate_limited"
		}
		m.metrics.IncLLMRequest(p.Name(), outcome)
		m.logger.Warn("llm request failed",
			"provider", p.Name(),
			"kind", req.Kind,
			"latency", latency,
			"error", err,
		)
		return nil, err
	}

	h.recordSuccess(latency, resp.TokensUsed)
	m.metrics.IncLLMRequest(p.Name(), "success")
	m.metrics.ObserveLLMLatency(p.Name(), latency)
	m.logger.Debug("llm request completed",
		"provider", p.Name(),
		"kind", req.Kind,
		"tokens", resp.TokensUsed,
		"latency", latency,
	)

	resp.Latency = latency
	return resp, nil
}

// candidates orders providers for a request: the preferred one first when
// healthy, then the remaining healthy ones by average latency. When nothing
// is healthy every provider is tried.
func (m *Manager) candidates(req Request) []Provider {
	preferred := req.Provider
	if preferred == "" {
		preferred = m.opts.DefaultProvider
		if req.Kind.prefersAnalysis() && m.has(ProviderAnthropic) {
			preferred = ProviderAnthropic
		}
	}

	now := m.now()
	var healthy []Provider
	for _, p := range m.providers {
		if m.health[p.Name()].healthy(now) {
			healthy = append(healthy, p)
		}
	}
	if len(healthy) == 0 {
		healthy = slices.Clone(m.providers)
	}

	slices.SortStableFunc(healthy, func(a, b Provider) int {
		if a.Name() == preferred {
			return -1
		}
		if b.Name() == preferred {
			return 1
		}
		return cmp.Compare(m.health[a.Name()].avgLatency(), m.health[b.Name()].avgLatency())
	})
	return healthy
}

func (m *Manager) has(name string) bool {
	return slices.ContainsFunc(m.providers, func(p Provider) bool { return p.Name() == name })
}

// Stats returns per-provider health in registration order.
func (m *Manager) Stats() []ProviderStats {
	now := m.now()
	out := make([]ProviderStats, 0, len(m.providers))
	for _, p := range m.providers {
		out = append(out, m.health[p.Name()].stats(p, now))
	}
	return out
}
