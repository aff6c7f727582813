// Package bot is the Telegram front end: commands, inline menus,
// conversations and Telegram Stars payments.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	tele "gopkg.in/telebot.v3"
	telemw "gopkg.in/telebot.v3/middleware"

	"github.com/astrotarot/astrotarot/internal/astro"
	"github.com/astrotarot/astrotarot/internal/cache"
	"github.com/astrotarot/astrotarot/internal/config"
	"github.com/astrotarot/astrotarot/internal/metrics"
	"github.com/astrotarot/astrotarot/internal/model"
	"github.com/astrotarot/astrotarot/internal/service"
	"github.com/astrotarot/astrotarot/internal/tarot"
)

// Users is the part of the user service the bot uses.
type Users interface {
	Register(ctx context.Context, profile model.TelegramProfile, referralCode string) (*service.RegisterResult, error)
	Touch(ctx context.Context, userID string) error
	Unblock(ctx context.Context, userID string) error
	UpdateBirthData(ctx context.Context, userID string, in service.BirthInput) (*model.User, error)
	UpdateSettings(ctx context.Context, userID string, upd model.UserSettingsUpdate) (*model.User, error)
	DeleteData(ctx context.Context, userID string) error
	Statistics(ctx context.Context, user *model.User) (*service.UserStatistics, error)
	AddPartner(ctx context.Context, userID string, in service.PartnerInput) (*model.Partner, error)
	Partners(ctx context.Context, userID string) ([]*model.Partner, error)
	DeletePartner(ctx context.Context, userID, partnerID string) error
}

// Subscriptions is the part of the subscription service the bot uses.
type Subscriptions interface {
	Get(ctx context.Context, userID string) (*model.Subscription, error)
	Quote(ctx context.Context, userID string, plan model.SubscriptionPlan, months int, promoCode string) (model.Quote, error)
	ValidatePromo(ctx context.Context, userID, code string, plan model.SubscriptionPlan) (*model.PromoCode, error)
	ApplyBonusPromo(ctx context.Context, userID string, promo *model.PromoCode) (*model.Subscription, error)
}

// Payments is the part of the payment service the bot uses.
type Payments interface {
	CardsEnabled() bool
	StarsPrice(plan model.SubscriptionPlan, months int) int64
	CreateSubscriptionPayment(ctx context.Context, user *model.User, in service.PurchaseInput) (*service.Checkout, error)
	PreCheckout(ctx context.Context, payload, currency string, total int) (string, bool)
	CompleteStarsPayment(ctx context.Context, payload, currency string, total int, chargeID string) (*model.Payment, error)
}

// Tarot is the part of the tarot service the bot uses.
type Tarot interface {
	AvailableSpreads(ctx context.Context, userID string) ([]tarot.Spread, error)
	DailyCard(ctx context.Context, user *model.User) (*service.DailyCardResult, error)
	Spread(ctx context.Context, user *model.User, code, question string) (*service.SpreadResult, error)
	History(ctx context.Context, userID string, in service.HistoryInput) (*service.HistoryOutput, error)
	Reading(ctx context.Context, userID, readingID string) (*model.Reading, error)
	Statistics(ctx context.Context, userID string) (*model.ReadingStats, error)
	Rate(ctx context.Context, userID, readingID string, rating int) error
	ToggleFavorite(ctx context.Context, userID, readingID string) (bool, error)
	CardInfo(ctx context.Context, cardID int, tone model.ToneOfVoice) (*service.CardInfo, error)
}

// Astrology is the part of the astrology service the bot uses.
type Astrology interface {
	Forecast(ctx context.Context, user *model.User, period model.HoroscopePeriod) (*model.Horoscope, error)
	NatalChart(ctx context.Context, user *model.User) (*service.NatalResult, error)
	Compatibility(ctx context.Context, user *model.User, partnerID string) (*service.CompatibilityReport, error)
	Today() astro.MoonInfo
}

// Admin serves the admin commands.
type Admin interface {
	System(ctx context.Context) (*model.SystemStats, error)
	Broadcast(ctx context.Context, req model.BroadcastRequest) (*model.BroadcastResponse, error)
}

// StateStore keeps conversation state between updates. *cache.Cache
// implements it.
type StateStore interface {
	GetState(ctx context.Context, telegramID int64) (*cache.State, error)
	SetState(ctx context.Context, telegramID int64, name string, data map[string]string) error
	ClearState(ctx context.Context, telegramID int64) error
}

// Limiter throttles user actions. *cache.Cache implements it.
type Limiter interface {
	CheckUserRateLimit(ctx context.Context, telegramID int64, action string, limit int, window time.Duration) (*cache.RateLimitResult, error)
}

// Deps are the collaborators of the bot.
type Deps struct {
	Users         Users
	Subscriptions Subscriptions
	Payments      Payments
	Tarot         Tarot
	Astrology     Astrology
	Admin         Admin
	States        StateStore
	Limiter       Limiter
	Tracker       service.Tracker
	Recorder      metrics.Recorder
	Logger        *slog.Logger
	Location      *time.Location
	// Now defaults to time.Now.
	Now func() time.Time
}

// Bot wraps the telebot instance and the handlers.
type Bot struct {
	api     *tele.Bot
	webhook *tele.Webhook

	users    Users
	subs     Subscriptions
	payments Payments
	tarot    Tarot
	astro    Astrology
	admin    Admin
	states   StateStore
	limiter  Limiter
	tracker  service.Tracker
	recorder metrics.Recorder
	logger   *slog.Logger

	username       string
	loc            *time.Location
	now            func() time.Time
	handlerTimeout time.Duration
}

// defaultHandlerTimeout bounds a single update, including LLM generation.
const defaultHandlerTimeout = 90 * time.Second

// New connects to Telegram and registers the handlers. In webhook mode no
// listener is opened: mount WebhookHandler on the HTTP router instead.
func New(cfg config.TelegramConfig, deps Deps) (*Bot, error) {
	b := newBot(deps, cfg.Name)

	pref := tele.Settings{
		Token:     cfg.Token,
		Poller:    &tele.LongPoller{Timeout: cfg.PollTimeout, AllowedUpdates: allowedUpdates},
		ParseMode: tele.ModeHTML,
		OnError:   b.onError,
	}
	if cfg.UseWebhook {
		b.webhook = &tele.Webhook{
			SecretToken:    cfg.WebhookSecret,
			AllowedUpdates: allowedUpdates,
			Endpoint:       &tele.WebhookEndpoint{PublicURL: cfg.WebhookURL},
		}
		pref.Poller = b.webhook
	}

	api, err := tele.NewBot(pref)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	b.api = api
	if api.Me != nil && api.Me.Username != "" {
		b.username = api.Me.Username
	}

	b.register()
	return b, nil
}

var allowedUpdates = []string{"message", "callback_query", "pre_checkout_query"}

func newBot(deps Deps, username string) *Bot {
	b := &Bot{
		users:          deps.Users,
		subs:           deps.Subscriptions,
		payments:       deps.Payments,
		tarot:          deps.Tarot,
		astro:          deps.Astrology,
		admin:          deps.Admin,
		states:         deps.States,
		limiter:        deps.Limiter,
		tracker:        deps.Tracker,
		recorder:       deps.Recorder,
		logger:         deps.Logger,
		username:       username,
		loc:            deps.Location,
		now:            deps.Now,
		handlerTimeout: defaultHandlerTimeout,
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	b.logger = b.logger.With("component", "bot")
	if b.recorder == nil {
		b.recorder = metrics.NewNoop()
	}
	if b.loc == nil {
		b.loc = time.UTC
	}
	if b.now == nil {
		b.now = time.Now
	}
	return b
}

// API exposes the telebot instance for the notification sender and Stars
// refunds.
func (b *Bot) API() *tele.Bot {
	return b.api
}

// WebhookHandler returns the update endpoint in webhook mode, nil otherwise.
func (b *Bot) WebhookHandler() http.Handler {
	if b.webhook == nil {
		return nil
	}
	return b.webhook
}

// Start publishes the command list and consumes updates until Stop.
func (b *Bot) Start() {
	if err := b.api.SetCommands(commands); err != nil {
		b.logger.Warn("failed to set bot commands", "error", err)
	}
	mode := "polling"
	if b.webhook != nil {
		mode = "webhook"
	}
	b.logger.Info("bot started", "username", b.username, "mode", mode)
	b.api.Start()
}

// Stop stops the poller and waits for it to exit.
func (b *Bot) Stop() {
	b.api.Stop()
	b.logger.Info("bot stopped")
}

var commands = []tele.Command{
	{Text: "start", Description: "🚀 Начать работу с ботом"},
	{Text: "menu", Description: "📱 Главное меню"},
	{Text: "card", Description: "🎴 Карта дня"},
	{Text: "tarot", Description: "🔮 Расклады Таро"},
	{Text: "forecast", Description: "⭐ Гороскоп"},
	{Text: "natal", Description: "🌌 Натальная карта"},
	{Text: "compatibility", Description: "💞 Совместимость"},
	{Text: "moon", Description: "🌙 Лунный календарь"},
	{Text: "subscription", Description: "💎 Подписка"},
	{Text: "subscribe", Description: "🛒 Тарифы и оплата"},
	{Text: "profile", Description: "👤 Профиль"},
	{Text: "settings", Description: "⚙️ Настройки"},
	{Text: "delete", Description: "🗑 Удалить мои данные"},
	{Text: "help", Description: "❓ Помощь"},
	{Text: "cancel", Description: "❌ Отменить действие"},
}

func (b *Bot) register() {
	b.api.Use(b.recoverer, b.logUpdates, telemw.IgnoreVia(), telemw.AutoRespond(), b.loadUser)

	b.api.Handle("/start", b.handleStart, b.throttle(actionCommand))
	b.api.Handle("/help", b.handleHelp, b.throttle(actionCommand))
	b.api.Handle("/menu", b.handleMenu, b.throttle(actionCommand))
	b.api.Handle("/cancel", b.handleCancel, b.throttle(actionCommand))
	b.api.Handle("/profile", b.handleProfile, b.throttle(actionCommand))
	b.api.Handle("/settings", b.handleSettings, b.throttle(actionCommand))
	b.api.Handle("/delete", b.handleDeleteAsk, b.throttle(actionCommand))
	b.api.Handle("/moon", b.handleMoon, b.throttle(actionCommand))
	b.api.Handle("/subscription", b.handleSubscription, b.throttle(actionCommand))
	b.api.Handle("/subscribe", b.handlePlans, b.throttle(actionCommand))

	b.api.Handle("/card", b.handleDailyCard, b.throttle(actionFeature))
	b.api.Handle("/tarot", b.handleTarotMenu, b.throttle(actionFeature))
	b.api.Handle("/forecast", b.handleForecastCommand, b.throttle(actionFeature))
	b.api.Handle("/natal", b.handleNatal, b.throttle(actionFeature))
	b.api.Handle("/compatibility", b.handleCompatMenu, b.throttle(actionFeature))

	admin := b.api.Group()
	admin.Use(b.adminOnly)
	admin.Handle("/admin", b.handleAdmin)
	admin.Handle("/stats", b.handleStats)
	admin.Handle("/broadcast", b.handleBroadcast)

	cb := b.throttle(actionCallback)
	reading := b.throttle(actionReading)
	pay := b.throttle(actionPayment)
	b.api.Handle(&btnMenu, b.handleMenu, cb)
	b.api.Handle(&btnBack, b.handleMenu, cb)
	b.api.Handle(&btnAstro, b.handleAstroMenu, cb)
	b.api.Handle(&btnNatal, b.handleNatal, cb, reading)
	b.api.Handle(&btnCompat, b.handleCompat, cb, reading)
	b.api.Handle(&btnForecast, b.handleForecast, cb, reading)
	b.api.Handle(&btnTarot, b.handleTarotMenu, cb)
	b.api.Handle(&btnSpread, b.handleSpread, cb, reading)
	b.api.Handle(&btnCard, b.handleDailyCard, cb, reading)
	b.api.Handle(&btnSub, b.handleSubscription, cb)
	b.api.Handle(&btnPlan, b.handlePlan, cb)
	b.api.Handle(&btnPay, b.handlePay, cb, pay)
	b.api.Handle(&btnSet, b.handleSet, cb)
	b.api.Handle(&btnTone, b.handleTone, cb)
	b.api.Handle(&btnConfirm, b.handleConfirm, cb)
	b.api.Handle(&btnCancel, b.handleCancel, cb)
	b.api.Handle(&btnDelete, b.handleDeleteAsk, cb)
	b.api.Handle(&btnHistory, b.handleHistory, cb)
	b.api.Handle(&btnRate, b.handleRate, cb)
	b.api.Handle(&btnFav, b.handleFavorite, cb)
	b.api.Handle(&btnAbout, b.handleAbout, cb, reading)
	b.api.Handle(&btnReading, b.handleOpenReading, cb)

	b.api.Handle(tele.OnText, b.handleText, b.throttle(actionMessage))
	b.api.Handle(tele.OnCheckout, b.handleCheckout)
	b.api.Handle(tele.OnPayment, b.handlePayment)
}

func (b *Bot) onError(err error, c tele.Context) {
	if c == nil {
		b.logger.Error("telegram error", "error", err)
		return
	}
	b.logger.Error("handler error", "error", err, "telegram_id", senderID(c))
}

func senderID(c tele.Context) int64 {
	if u := c.Sender(); u != nil {
		return u.ID
	}
	return 0
}
