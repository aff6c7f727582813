// Package llm generates interpretation texts with hosted language models.
//
// A Manager holds the configured providers, picks one per request based on
// its health and latency, retries across providers and caches responses.
package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// Kind identifies what a request generates.
type Kind string

const (
	KindCard          Kind = "card"
	KindSpread        Kind = "spread"
	KindHoroscope     Kind = "horoscope"
	KindNatalChart    Kind = "natal_chart"
	KindCompatibility Kind = "compatibility"
	KindGeneral       Kind = "general"
)

// prefersAnalysis reports whether the kind needs long structured reasoning.
func (k Kind) prefersAnalysis() bool {
	return k == KindNatalChart || k == KindCompatibility
}

// Request is a single completion request.
type Request struct {
	Kind        Kind
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float32

	// Provider overrides the default provider when set.
	Provider string

	// CacheTTL enables response caching when positive.
	CacheTTL time.Duration
}

// CacheKey returns a stable key for the request content.
func (r Request) CacheKey() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%d\x00%.2f", r.Kind, r.System, r.Prompt, r.MaxTokens, r.Temperature)
	return hex.EncodeToString(h.Sum(nil))
}

// Response is a generated completion.
type Response struct {
	Text       string        `json:"text"`
	Provider   string        `json:"provider"`
	Model      string        `json:"model"`
	TokensUsed int           `json:"tokens_used"`
	Latency    time.Duration `json:"latency"`
	Cached     bool          `json:"cached"`
}

// Provider is a hosted model backend.
type Provider interface {
	Name() string
	Model() string
	Complete(ctx context.Context, req Request) (*Response, error)
}

var (
	ErrNoProviders        = errors.New("no llm providers configured")
	ErrEmptyResponse      = errors.New("llm returned an empty response")
	ErrRateLimited        = errors.New("llm provider rate limited")
	ErrTokenLimit         = errors.New("llm context length exceeded")
	ErrAllProvidersFailed = errors.New("all llm providers failed")
)

// Provider names.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)
