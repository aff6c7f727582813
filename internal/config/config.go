// Package config provides application configuration management.
// Configuration is loaded from environment variables following 12-factor principles.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Environments accepted in APP_ENV.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTesting     = "testing"
)

// LLM provider names accepted in LLM_DEFAULT_PROVIDER.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// Config holds all application configuration.
// All fields are populated from environment variables.
type Config struct {
	// Application settings
	AppEnv   string `env:"APP_ENV" envDefault:"development"`
	AppPort  int    `env:"APP_PORT" envDefault:"8000"`
	Debug    bool   `env:"DEBUG" envDefault:"false"`
	Timezone string `env:"TIMEZONE" envDefault:"Europe/Moscow"`

	// Database (PostgreSQL)
	DatabaseURL      string `env:"DATABASE_URL,required"`
	DatabasePoolSize int32  `env:"DATABASE_POOL_SIZE" envDefault:"10"`

	// Cache (Redis)
	RedisURL string        `env:"REDIS_URL,required"`
	CacheTTL time.Duration `env:"REDIS_TTL" envDefault:"1h"`
	FSMTTL   time.Duration `env:"REDIS_FSM_TTL" envDefault:"24h"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Server timeouts
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	Telegram TelegramConfig `envPrefix:"TELEGRAM_BOT_"`
	LLM      LLMConfig      `envPrefix:"LLM_"`
	YooKassa YooKassaConfig `envPrefix:"YOOKASSA_"`
	Stars    StarsConfig    `envPrefix:"STARS_PRICE_"`
	Security SecurityConfig `envPrefix:"SECURITY_"`
	Workers  WorkersConfig  `envPrefix:"WORKERS_"`

	// Comma-separated Telegram user IDs with admin rights in the bot.
	AdminIDsRaw string `env:"ADMIN_IDS" envDefault:""`

	// Admin API
	RateLimitAPIEnabled bool `env:"RATE_LIMIT_API_ENABLED" envDefault:"true"`

	// Payment gateway webhook, per client IP
	RateLimitWebhookEnabled bool `env:"RATE_LIMIT_WEBHOOK_ENABLED" envDefault:"true"`
	RateLimitWebhookRPS     int  `env:"RATE_LIMIT_WEBHOOK_RPS" envDefault:"20"`
	RateLimitWebhookBurst   int  `env:"RATE_LIMIT_WEBHOOK_BURST" envDefault:"50"`

	// CORS configuration
	// Comma-separated list of allowed origins (e.g., "https://example.com,https://app.example.com")
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:""`

	// Request body size limit in bytes (default 1MB)
	MaxRequestBodySize int64 `env:"MAX_REQUEST_BODY_SIZE" envDefault:"1048576"`
}

// TelegramConfig configures the bot connection.
type TelegramConfig struct {
	Token         string        `env:"TOKEN,required"`
	Name          string        `env:"NAME" envDefault:"AstroTarotBot"`
	UseWebhook    bool          `env:"USE_WEBHOOK" envDefault:"false"`
	WebhookURL    string        `env:"WEBHOOK_URL" envDefault:""`
	WebhookSecret string        `env:"WEBHOOK_SECRET" envDefault:""`
	PollTimeout   time.Duration `env:"POLL_TIMEOUT" envDefault:"10s"`
}

// LLMConfig configures text generation providers.
type LLMConfig struct {
	DefaultProvider string        `env:"DEFAULT_PROVIDER" envDefault:"openai"`
	OpenAIAPIKey    string        `env:"OPENAI_API_KEY" envDefault:""`
	OpenAIModel     string        `env:"MODEL_NAME" envDefault:"gpt-4o-mini"`
	AnthropicAPIKey string        `env:"ANTHROPIC_API_KEY" envDefault:""`
	AnthropicModel  string        `env:"ANTHROPIC_MODEL" envDefault:"claude-3-5-haiku-latest"`
	GeminiAPIKey    string        `env:"GEMINI_API_KEY" envDefault:""`
	GeminiModel     string        `env:"GEMINI_MODEL" envDefault:"gemini-1.5-flash"`
	MaxTokens       int           `env:"MAX_TOKENS" envDefault:"2000"`
	Temperature     float32       `env:"TEMPERATURE" envDefault:"0.7"`
	Timeout         time.Duration `env:"TIMEOUT" envDefault:"30s"`
	MaxRetries      int           `env:"MAX_RETRIES" envDefault:"3"`
	CacheResponses  bool          `env:"CACHE_RESPONSES" envDefault:"true"`
	CacheSize       int           `env:"CACHE_SIZE" envDefault:"512"`
	EnableFallback  bool          `env:"ENABLE_FALLBACK" envDefault:"true"`
}

// YooKassaConfig configures card payments.
type YooKassaConfig struct {
	ShopID    string `env:"SHOP_ID" envDefault:""`
	SecretKey string `env:"SECRET_KEY" envDefault:""`
	ReturnURL string `env:"RETURN_URL" envDefault:""`
	TestMode  bool   `env:"TEST_MODE" envDefault:"true"`
}

// Enabled reports whether card payments are configured.
func (c YooKassaConfig) Enabled() bool {
	return c.ShopID != "" && c.SecretKey != ""
}

// StarsConfig holds monthly plan prices in Telegram Stars.
type StarsConfig struct {
	Basic   int `env:"BASIC" envDefault:"150"`
	Premium int `env:"PREMIUM" envDefault:"300"`
	VIP     int `env:"VIP" envDefault:"650"`
}

// SecurityConfig holds secrets and bot throttling limits.
type SecurityConfig struct {
	SecretKey          string `env:"SECRET_KEY" envDefault:""`
	RateLimitPerMinute int    `env:"RATE_LIMIT_PER_MINUTE" envDefault:"20"`
	RateLimitPerHour   int    `env:"RATE_LIMIT_PER_HOUR" envDefault:"300"`
}

// WorkersConfig configures background jobs.
type WorkersConfig struct {
	Enabled        bool          `env:"ENABLED" envDefault:"true"`
	PollInterval   time.Duration `env:"POLL_INTERVAL" envDefault:"5s"`
	BatchSize      int           `env:"BATCH_SIZE" envDefault:"50"`
	SendInterval   time.Duration `env:"SEND_INTERVAL" envDefault:"40ms"`
	PendingPayment time.Duration `env:"PENDING_PAYMENT_AGE" envDefault:"2m"`
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == EnvDevelopment
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == EnvProduction
}

// IsTesting returns true if running under tests.
func (c *Config) IsTesting() bool {
	return c.AppEnv == EnvTesting
}

// GetCORSAllowedOrigins parses the comma-separated origins string into a slice.
func (c *Config) GetCORSAllowedOrigins() []string {
	return splitList(c.CORSAllowedOrigins)
}

// AdminIDs parses ADMIN_IDS. Malformed entries are skipped.
func (c *Config) AdminIDs() []int64 {
	var ids []int64
	for _, raw := range splitList(c.AdminIDsRaw) {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// Location returns the configured time zone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Validate checks cross-field constraints that env tags cannot express.
func (c *Config) Validate() error {
	var errs []error

	switch c.AppEnv {
	case EnvDevelopment, EnvProduction, EnvTesting:
	default:
		errs = append(errs, fmt.Errorf("APP_ENV must be one of development, production, testing, got %q", c.AppEnv))
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error, got %q", c.LogLevel))
	}

	if c.DatabasePoolSize < 1 {
		errs = append(errs, errors.New("DATABASE_POOL_SIZE must be at least 1"))
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 1 {
		errs = append(errs, fmt.Errorf("LLM_TEMPERATURE must be within [0, 1], got %v", c.LLM.Temperature))
	}

	switch c.LLM.DefaultProvider {
	case ProviderOpenAI, ProviderAnthropic, ProviderGemini:
	default:
		errs = append(errs, fmt.Errorf("LLM_DEFAULT_PROVIDER must be one of openai, anthropic, gemini, got %q", c.LLM.DefaultProvider))
	}

	if c.LLM.MaxRetries < 1 {
		errs = append(errs, errors.New("LLM_MAX_RETRIES must be at least 1"))
	}

	if c.IsProduction() {
		if c.Debug {
			errs = append(errs, errors.New("DEBUG must be disabled in production"))
		}
		if c.Telegram.UseWebhook && c.Telegram.WebhookURL == "" {
			errs = append(errs, errors.New("TELEGRAM_BOT_WEBHOOK_URL is required when TELEGRAM_BOT_USE_WEBHOOK is set in production"))
		}
	}

	return errors.Join(errs...)
}

// Load parses environment variables and returns a Config.
// Returns an error if required variables are missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))

	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
