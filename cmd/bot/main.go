// Package main is the entrypoint for the AstroTarot bot: the Telegram front
// end, the admin API and the background workers run in one process.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"

	_ "github.com/lib/pq"

	"github.com/astrotarot/astrotarot/internal/auth"
	"github.com/astrotarot/astrotarot/internal/bot"
	"github.com/astrotarot/astrotarot/internal/cache"
	"github.com/astrotarot/astrotarot/internal/config"
	"github.com/astrotarot/astrotarot/internal/events"
	"github.com/astrotarot/astrotarot/internal/handler"
	"github.com/astrotarot/astrotarot/internal/llm"
	"github.com/astrotarot/astrotarot/internal/metrics"
	"github.com/astrotarot/astrotarot/internal/middleware"
	"github.com/astrotarot/astrotarot/internal/notify"
	"github.com/astrotarot/astrotarot/internal/payment"
	"github.com/astrotarot/astrotarot/internal/repository"
	"github.com/astrotarot/astrotarot/internal/server"
	"github.com/astrotarot/astrotarot/internal/service"
	"github.com/astrotarot/astrotarot/internal/tarot"
	"github.com/astrotarot/astrotarot/internal/worker"
)

const defaultTelegramWebhookPath = "/telegram/webhook"

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := initLogger(cfg)
	loc := cfg.Location()

	// Postgres: pgx pool for the domain, database/sql for the outbox.
	repo, err := repository.New(ctx, cfg.DatabaseURL, cfg.DatabasePoolSize)
	if err != nil {
		logger.Error(
			"failed to connect to database",
			slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
			slog.String("database_url", redactURL(cfg.DatabaseURL)),
		)
		os.Exit(1)
	}
	logger.Info("connected to database")

	// Connections opened so far, released in reverse on a failed start.
	var opened closers
	opened.push(repo.Close)

	outboxDB, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open outbox database", slog.String("error", sanitizeError(err, cfg.DatabaseURL)))
		opened.closeAll()
		os.Exit(1)
	}
	outboxDB.SetMaxOpenConns(4)
	opened.push(func() { _ = outboxDB.Close() })

	cacheClient, err := cache.New(ctx, cfg.RedisURL, cache.Options{
		TTL:      cfg.CacheTTL,
		FSMTTL:   cfg.FSMTTL,
		Location: loc,
	})
	if err != nil {
		logger.Error(
			"failed to connect to Redis",
			slog.String("error", sanitizeError(err, cfg.RedisURL)),
			slog.String("redis_url", redactURL(cfg.RedisURL)),
		)
		opened.closeAll()
		os.Exit(1)
	}
	logger.Info("connected to Redis")
	opened.push(func() { _ = cacheClient.Close() })

	recorder := metrics.NewInMemory()
	tracker := events.NewPublisher(cacheClient.Client(), logger, recorder)
	outbox := notify.NewRepository(outboxDB)
	notifier := notify.NewPublisher(outbox, logger)

	generator, err := llm.NewFromConfig(ctx, cfg.LLM, cacheClient, logger, recorder)
	if err != nil {
		logger.Error("failed to initialize llm providers", "error", err)
		opened.closeAll()
		os.Exit(1)
	}

	opened.push(func() { _ = generator.Close() })

	var gateway payment.Gateway
	if cfg.YooKassa.Enabled() {
		yk, err := payment.NewYooKassa(cfg.YooKassa)
		if err != nil {
			logger.Error("failed to initialize payment gateway", "error", err)
			opened.closeAll()
			os.Exit(1)
		}
		gateway = yk
	} else {
		logger.Warn("yookassa not configured, card payments disabled")
	}

	// Services
	clock := service.NewClock(loc)
	subscriptions := service.NewSubscriptionService(repo, cacheClient, clock, logger)
	users := service.NewUserService(repo, subscriptions, tracker, notifier, cfg.AdminIDs(), clock, logger)
	astrology := service.NewAstrologyService(repo, subscriptions, generator, cacheClient, tracker, recorder, clock, logger)
	tarotService := service.NewTarotService(repo, subscriptions, generator, tarot.NewDrawer(nil), tracker, recorder, clock, logger)
	payments := service.NewPaymentService(repo, subscriptions, service.PaymentDeps{
		Gateway:  gateway,
		Stars:    cfg.Stars,
		Tracker:  tracker,
		Notifier: notifier,
		Recorder: recorder,
	}, clock, logger)
	stats := service.NewStatsService(repo, generator, clock)
	notifications := service.NewNotificationService(repo, subscriptions, astrology, notifier, clock, logger)

	b, err := bot.New(cfg.Telegram, bot.Deps{
		Users:         users,
		Subscriptions: subscriptions,
		Payments:      payments,
		Tarot:         tarotService,
		Astrology:     astrology,
		Admin:         adminCommands{StatsService: stats, NotificationService: notifications},
		States:        cacheClient,
		Limiter:       cacheClient,
		Tracker:       tracker,
		Recorder:      recorder,
		Logger:        logger,
		Location:      loc,
	})
	if err != nil {
		logger.Error("failed to start telegram bot", "error", err)
		opened.closeAll()
		os.Exit(1)
	}
	payments.SetStarsAPI(b.API())

	// HTTP surface
	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowedOrigins = cfg.GetCORSAllowedOrigins()

	keyEnv := auth.EnvLive
	if !cfg.IsProduction() {
		keyEnv = auth.EnvTest
	}

	router := handler.NewRouter(handler.RouterConfig{
		Logger: logger,
		Auth: middleware.AuthConfig{
			Logger: logger,
			Keys:   repo,
			Cache:  cacheClient,
		},
		RateLimit: middleware.RateLimitConfig{
			Logger:         logger,
			Limiter:        cacheClient,
			APIEnabled:     cfg.RateLimitAPIEnabled,
			WebhookEnabled: cfg.RateLimitWebhookEnabled,
			WebhookRPS:     cfg.RateLimitWebhookRPS,
			WebhookBurst:   cfg.RateLimitWebhookBurst,
		},
		CORS: corsCfg,
		Security: middleware.SecurityConfig{
			IsDevelopment:      cfg.IsDevelopment(),
			MaxRequestBodySize: cfg.MaxRequestBodySize,
		},
		Health: handler.NewHealthHandler(
			handler.Check{Name: "postgres", Checker: repo},
			handler.Check{Name: "outbox", Checker: handler.CheckFunc(outboxDB.PingContext)},
			handler.Check{Name: "redis", Checker: cacheClient},
			handler.Check{Name: "llm", Checker: handler.CheckFunc(func(context.Context) error {
				if !generator.Available() {
					return errors.New("no providers configured")
				}
				return nil
			}), Optional: true},
		),
		Metrics:             handler.NewMetricsHandler(recorder),
		Users:               handler.NewUserHandler(users, subscriptions, logger),
		Payments:            handler.NewPaymentHandler(payments, logger),
		Promos:              handler.NewPromoHandler(subscriptions, logger),
		Admin:               handler.NewAdminHandler(stats, notifications, logger),
		Keys:                handler.NewAPIKeyHandler(repo, keyEnv, logger),
		TelegramWebhookPath: webhookPath(cfg.Telegram.WebhookURL),
		TelegramWebhook:     b.WebhookHandler(),
	})

	srv := server.New(
		router,
		cfg.AppPort,
		cfg.ReadTimeout,
		cfg.WriteTimeout,
		cfg.ShutdownTimeout,
		logger,
	)

	// Hooks run in reverse order: the LLM clients close first, Postgres last.
	srv.OnShutdown("postgres", func(context.Context) error {
		repo.Close()
		return nil
	})
	srv.OnShutdown("outbox", func(context.Context) error { return outboxDB.Close() })
	srv.OnShutdown("redis", func(context.Context) error { return cacheClient.Close() })
	srv.OnShutdown("llm", func(context.Context) error { return generator.Close() })

	srv.Go("telegram", func(ctx context.Context) error {
		done := make(chan struct{})
		go func() {
			defer close(done)
			b.Start()
		}()
		select {
		case <-ctx.Done():
			b.Stop()
			<-done
			return nil
		case <-done:
			return errors.New("bot poller exited")
		}
	})

	sender := notify.NewTelegramSender(b.API())
	outboxWorker := notify.NewWorker(outbox, sender, repo, logger, recorder)
	outboxWorker.SetBatchSize(cfg.Workers.BatchSize)
	outboxWorker.SetPollInterval(cfg.Workers.PollInterval)
	outboxWorker.SetSendInterval(cfg.Workers.SendInterval)
	srv.Go("notifications", outboxWorker.Run)

	usageWorker := events.NewWorker(cacheClient.Client(), repo, logger, events.NewConsumerID(), recorder)
	srv.Go("usage-events", func(ctx context.Context) error {
		errCh := make(chan error, 1)
		go func() { errCh <- usageWorker.Run(context.WithoutCancel(ctx)) }()
		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
			// Let the in-flight batch reach Postgres before the pool closes.
			drainCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout/2)
			defer cancel()
			return usageWorker.Shutdown(drainCtx)
		}
	})

	if cfg.Workers.Enabled {
		scheduler := worker.NewScheduler(worker.CacheLocker{Cache: cacheClient}, logger, recorder)
		scheduler.Add(worker.Jobs(notifications, payments, worker.JobsConfig{
			BatchSize:  cfg.Workers.BatchSize,
			PendingAge: cfg.Workers.PendingPayment,
		})...)
		srv.Go("scheduler", scheduler.Run)
	} else {
		logger.Warn("background jobs disabled")
	}

	logger.Info("starting astrotarot",
		"port", cfg.AppPort,
		"env", cfg.AppEnv,
		"webhook", cfg.Telegram.UseWebhook,
		"llm", generator.Available(),
		"cards", cfg.YooKassa.Enabled(),
	)

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// closers is a stack of release funcs.
type closers []func()

func (c *closers) push(fn func()) { *c = append(*c, fn) }

// closeAll runs the funcs newest first and empties the stack.
func (c *closers) closeAll() {
	for i := len(*c) - 1; i >= 0; i-- {
		(*c)[i]()
	}
	*c = nil
}

// adminCommands serves the bot's admin commands from two services.
type adminCommands struct {
	*service.StatsService
	*service.NotificationService
}

// initLogger initializes the slog logger based on configuration.
func initLogger(cfg *config.Config) *slog.Logger {
	var h slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}

	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(h)
	slog.SetDefault(logger)

	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// webhookPath is the local route for Telegram updates: the path of the
// public webhook URL.
func webhookPath(publicURL string) string {
	parsed, err := url.Parse(publicURL)
	if err != nil || parsed.Path == "" || parsed.Path == "/" {
		return defaultTelegramWebhookPath
	}
	return parsed.Path
}

var passwordPattern = regexp.MustCompile(`(?i)password=[^\s]+`)

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}

	if parsed.User != nil {
		username := parsed.User.Username()
		if username == "" {
			parsed.User = url.User("redacted")
		} else {
			parsed.User = url.User(username)
		}
	}

	return parsed.String()
}

func sanitizeError(err error, secrets ...string) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		redacted := redactURL(secret)
		if redacted == "" {
			redacted = "[redacted]"
		}
		msg = strings.ReplaceAll(msg, secret, redacted)
	}

	return passwordPattern.ReplaceAllString(msg, "password=redacted")
}
