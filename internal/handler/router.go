package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/astrotarot/astrotarot/internal/middleware"
)

// RouterConfig collects the handlers and middleware settings of the HTTP
// surface. Nil handlers leave their routes unmounted.
type RouterConfig struct {
	Logger    *slog.Logger
	Auth      middleware.AuthConfig
	RateLimit middleware.RateLimitConfig
	CORS      middleware.CORSConfig
	Security  middleware.SecurityConfig

	Health   *HealthHandler
	Metrics  *MetricsHandler
	Users    *UserHandler
	Payments *PaymentHandler
	Promos   *PromoHandler
	Admin    *AdminHandler
	Keys     *APIKeyHandler

	// TelegramWebhook receives bot updates when the bot runs in webhook mode.
	TelegramWebhookPath string
	TelegramWebhook     http.Handler
}

// NewRouter builds the chi router with all routes and middleware.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recoverer(cfg.Logger))
	r.Use(middleware.Security(cfg.Security))
	r.Use(middleware.CORS(cfg.CORS))

	maxBody := cfg.Security.MaxRequestBodySize
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	r.Use(middleware.MaxBodySize(maxBody))

	if cfg.Health != nil {
		r.Get("/healthz", cfg.Health.Healthz)
		r.Get("/readyz", cfg.Health.Readyz)
	}

	if cfg.Payments != nil {
		r.With(middleware.RateLimitIP(cfg.RateLimit)).Post("/webhooks/yookassa", cfg.Payments.YooKassaWebhook)
	}
	if cfg.TelegramWebhook != nil && cfg.TelegramWebhookPath != "" {
		r.Method(http.MethodPost, cfg.TelegramWebhookPath, cfg.TelegramWebhook)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(cfg.Auth))
		r.Use(middleware.RateLimitAPI(cfg.RateLimit))

		if cfg.Metrics != nil {
			r.With(middleware.RequireRead()).Get("/metrics", cfg.Metrics.Metrics)
		}

		r.Route("/api/v1", func(r chi.Router) {
			r.Use(middleware.RequireJSON)

			if h := cfg.Admin; h != nil {
				r.Route("/stats", func(r chi.Router) {
					r.Use(middleware.RequireRead())
					r.Get("/", h.Stats)
					r.Get("/popular", h.Popular)
					r.Get("/usage", h.Usage)
					r.Get("/llm", h.LLM)
				})
				r.With(middleware.RequireAdmin()).Post("/broadcasts", h.Broadcast)
			}

			if h := cfg.Users; h != nil {
				r.Route("/users", func(r chi.Router) {
					r.With(middleware.RequireRead()).Get("/", h.List)
					r.Route("/{userID}", func(r chi.Router) {
						r.Use(middleware.ValidateIDParams("userID"))
						r.With(middleware.RequireRead()).Get("/", h.Get)
						r.With(middleware.RequireWrite()).Post("/block", h.Block)
						r.With(middleware.RequireWrite()).Post("/unblock", h.Unblock)
						r.With(middleware.RequireAdmin()).Delete("/", h.Delete)
						r.With(middleware.RequireRead()).Get("/subscription", h.Subscription)
						r.With(middleware.RequireWrite()).Post("/subscription/grant", h.Grant)
						r.With(middleware.RequireWrite()).Post("/subscription/cancel", h.Cancel)
					})
				})
			}

			if h := cfg.Payments; h != nil {
				r.Route("/payments", func(r chi.Router) {
					r.With(middleware.RequireRead()).Get("/", h.List)
					r.Route("/{paymentID}", func(r chi.Router) {
						r.Use(middleware.ValidateIDParams("paymentID"))
						r.With(middleware.RequireRead()).Get("/", h.Get)
						r.With(middleware.RequireAdmin()).Post("/refund", h.Refund)
					})
				})
			}

			if h := cfg.Promos; h != nil {
				r.Route("/promos", func(r chi.Router) {
					r.With(middleware.RequireRead()).Get("/", h.List)
					r.With(middleware.RequireWrite()).Post("/", h.Create)
					r.With(middleware.RequireWrite()).Delete("/{code}", h.Deactivate)
				})
			}

			if h := cfg.Keys; h != nil {
				r.Route("/api-keys", func(r chi.Router) {
					r.Use(middleware.RequireAdmin())
					r.Get("/", h.List)
					r.Post("/", h.Create)
					r.With(middleware.ValidateIDParams("keyID")).Delete("/{keyID}", h.Revoke)
					r.With(middleware.ValidateIDParams("keyID")).Post("/{keyID}/rotate", h.Rotate)
				})
			}
		})
	})

	r.NotFound(NotFound)
	r.MethodNotAllowed(MethodNotAllowed)

	return r
}
