package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/astrotarot/astrotarot/internal/auth"
	"github.com/astrotarot/astrotarot/internal/model"
)

const (
	// minAuthDuration is the minimum time to spend on auth to prevent timing attacks.
	minAuthDuration = 200 * time.Millisecond
)

// KeyStore looks up admin API keys. *repository.Repository implements it.
type KeyStore interface {
	GetAPIKeysByPrefix(ctx context.Context, prefix string) ([]*model.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id string) error
}

// AuthCache caches verified keys so argon2 runs once per key and TTL.
// *cache.Cache implements it.
type AuthCache interface {
	GetAuthContext(ctx context.Context, cacheKey string) (*model.AuthContext, error)
	SetAuthContext(ctx context.Context, cacheKey string, auth *model.AuthContext) error
	IsAuthNegativelyCached(ctx context.Context, cacheKey string) (bool, error)
	SetAuthNegative(ctx context.Context, cacheKey string) error
}

// AuthConfig holds configuration for the auth middleware.
type AuthConfig struct {
	Logger *slog.Logger
	Keys   KeyStore
	Cache  AuthCache // optional
	// MinDuration overrides minAuthDuration; tests set it to a small value.
	MinDuration time.Duration
}

// Auth returns a middleware that authenticates admin API requests.
// It extracts the key from the Authorization or X-API-Key header,
// verifies it, and injects the auth context into the request.
func Auth(cfg AuthConfig) func(http.Handler) http.Handler {
	minDuration := cfg.MinDuration
	if minDuration == 0 {
		minDuration = minAuthDuration
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			startTime := time.Now()
			ctx := r.Context()

			// Ensure consistent timing regardless of outcome
			defer func() {
				if elapsed := time.Since(startTime); elapsed < minDuration {
					time.Sleep(minDuration - elapsed)
				}
			}()

			fail := func(reason string) {
				cfg.Logger.Warn("authentication failed",
					slog.String("reason", reason),
					slog.String("ip", getClientIP(r)),
					slog.String("endpoint", r.Method+" "+r.URL.Path),
					slog.String("request_id", GetRequestID(ctx)),
				)
				writeAuthError(w)
			}

			key := extractAPIKey(r)
			if key == "" {
				fail("missing_key")
				return
			}

			parsed, err := auth.ParseAPIKey(key)
			if err != nil {
				fail("invalid_format")
				return
			}

			cacheKey := auth.QuickHash(key)
			if cfg.Cache != nil {
				if authCtx, _ := cfg.Cache.GetAuthContext(ctx, cacheKey); authCtx != nil {
					cfg.Logger.Debug("authentication successful",
						slog.String("key_id", authCtx.KeyID),
						slog.String("owner", authCtx.Owner),
						slog.Bool("cache_hit", true),
						slog.String("request_id", GetRequestID(ctx)),
					)
					next.ServeHTTP(w, r.WithContext(auth.ContextWithAuth(ctx, authCtx)))
					return
				}
				if negative, _ := cfg.Cache.IsAuthNegativelyCached(ctx, cacheKey); negative {
					fail("invalid_key")
					return
				}
			}

			keys, err := cfg.Keys.GetAPIKeysByPrefix(ctx, parsed.Prefix)
			if err != nil {
				cfg.Logger.Error("database error during auth",
					slog.String("error", err.Error()),
					slog.String("request_id", GetRequestID(ctx)),
				)
				writeAuthError(w)
				return
			}

			// Verify against each candidate key (handles prefix collisions)
			var matched *model.APIKey
			for _, k := range keys {
				if k.IsRevoked() {
					continue
				}
				if ok, err := auth.VerifySecret(key, k.KeyHash); err == nil && ok {
					matched = k
					break
				}
			}

			if matched == nil {
				if cfg.Cache != nil {
					_ = cfg.Cache.SetAuthNegative(ctx, cacheKey)
				}
				fail("invalid_key")
				return
			}

			authCtx := &model.AuthContext{
				KeyID:         matched.ID,
				KeyPrefix:     matched.KeyPrefix,
				Owner:         matched.Owner,
				Scopes:        matched.Scopes,
				RateLimitTier: matched.RateLimitTier,
			}
			if cfg.Cache != nil {
				_ = cfg.Cache.SetAuthContext(ctx, cacheKey, authCtx)
			}

			// last_used_at must not outlive the request context
			go func(id string) {
				bg, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := cfg.Keys.UpdateAPIKeyLastUsed(bg, id); err != nil {
					cfg.Logger.Warn("failed to update key last_used_at", "key_id", id, "error", err)
				}
			}(matched.ID)

			cfg.Logger.Info("authentication successful",
				slog.String("key_id", authCtx.KeyID),
				slog.String("owner", authCtx.Owner),
				slog.String("endpoint", r.Method+" "+r.URL.Path),
				slog.Bool("cache_hit", false),
				slog.String("request_id", GetRequestID(ctx)),
			)

			next.ServeHTTP(w, r.WithContext(auth.ContextWithAuth(ctx, authCtx)))
		})
	}
}

// extractAPIKey supports both "Authorization: Bearer <key>" and
// "X-API-Key: <key>".
func extractAPIKey(r *http.Request) string {
	if key, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(key)
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

// writeAuthError writes a 401 Unauthorized response.
// Uses the same message for all auth failures to prevent enumeration.
func writeAuthError(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":{"code":"UNAUTHORIZED","message":"Invalid or missing API key"}}`))
}
