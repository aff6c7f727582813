package bot

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	tele "gopkg.in/telebot.v3"

	"github.com/astrotarot/astrotarot/internal/model"
)

// Keys of values stored on the telebot context.
const (
	keyContext  = "ctx"
	keyUser     = "user"
	keyNewUser  = "new_user"
	keyReferrer = "referrer"
)

// Throttled action kinds.
const (
	actionFeature  = "feature"
	actionCommand  = "command"
	actionReading  = "reading"
	actionPayment  = "payment"
	actionMessage  = "message"
	actionCallback = "callback"
)

type throttleRule struct {
	limit  int
	window time.Duration
}

var throttleRules = map[string]throttleRule{
	actionFeature:  {limit: 5, window: time.Minute},
	actionCommand:  {limit: 10, window: time.Minute},
	actionReading:  {limit: 3, window: time.Minute},
	actionPayment:  {limit: 5, window: 5 * time.Minute},
	actionMessage:  {limit: 20, window: time.Minute},
	actionCallback: {limit: 30, window: time.Minute},
}

// paidThrottleFactor multiplies the limits of paying users.
const paidThrottleFactor = 2

// recoverer turns a handler panic into a logged error and an apology.
func (b *Bot) recoverer(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) (err error) {
		defer func() {
			if rvr := recover(); rvr != nil {
				b.logger.Error("panic recovered",
					slog.Int64("telegram_id", senderID(c)),
					slog.Any("panic", rvr),
					slog.String("stack", string(debug.Stack())),
				)
				err = c.Send(msgInternal)
			}
		}()
		return next(c)
	}
}

// logUpdates attaches a deadline to the update, logs the outcome and
// answers errors returned by handlers.
func (b *Bot) logUpdates(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		ctx, cancel := context.WithTimeout(context.Background(), b.handlerTimeout)
		defer cancel()
		c.Set(keyContext, ctx)

		kind := updateKind(c)
		b.recorder.IncBotUpdate(kind)
		if kind == "command" {
			b.recorder.IncCommand(commandName(c.Message().Text))
		}

		start := time.Now()
		err := next(c)
		duration := time.Since(start)
		b.recorder.ObserveHandlerDuration(duration)
		b.trackUpdate(c, kind)

		attrs := []slog.Attr{
			slog.Int64("telegram_id", senderID(c)),
			slog.String("kind", kind),
			slog.Float64("duration_ms", float64(duration.Microseconds())/1000),
		}
		if cb := c.Callback(); cb != nil {
			attrs = append(attrs, slog.String("callback", cb.Unique))
		}

		if err == nil {
			b.logger.LogAttrs(ctx, slog.LevelDebug, "update handled", attrs...)
			return nil
		}

		text, known := userMessage(err)
		if known {
			b.logger.LogAttrs(ctx, slog.LevelDebug, "update rejected", append(attrs, slog.String("reason", err.Error()))...)
		} else {
			b.logger.LogAttrs(ctx, slog.LevelError, "update failed", append(attrs, slog.String("error", err.Error()))...)
		}
		return c.Send(text)
	}
}

// loadUser registers or refreshes the sender and stores the user on the
// context. Blocked users are ignored; a deleted user returns with /start.
func (b *Bot) loadUser(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		sender := c.Sender()
		if sender == nil || sender.IsBot {
			return nil
		}
		ctx := reqCtx(c)

		start := false
		referral := ""
		if m := c.Message(); m != nil && commandName(m.Text) == "start" {
			start = true
			referral = strings.TrimSpace(m.Payload)
		}

		res, err := b.users.Register(ctx, model.TelegramProfile{
			ID:           sender.ID,
			Username:     sender.Username,
			FirstName:    sender.FirstName,
			LastName:     sender.LastName,
			LanguageCode: sender.LanguageCode,
		}, referral)
		if err != nil {
			return err
		}

		user := res.User
		switch {
		case user.Status == model.UserDeleted && start:
			if err := b.users.Unblock(ctx, user.ID); err != nil {
				return err
			}
			user.Status = model.UserActive
		case user.IsBlocked():
			b.logger.Debug("ignoring update from inactive user", "user_id", user.ID, "status", user.Status)
			return nil
		}

		if !res.Created {
			if err := b.users.Touch(ctx, user.ID); err != nil {
				b.logger.Warn("failed to touch user", "user_id", user.ID, "error", err)
			}
		}

		c.Set(keyUser, user)
		c.Set(keyNewUser, res.Created)
		if res.Referrer != nil {
			c.Set(keyReferrer, res.Referrer)
		}
		return next(c)
	}
}

// throttle limits how often a user may trigger an action kind. Admins are
// never throttled; limiter failures let the update through.
func (b *Bot) throttle(action string) tele.MiddlewareFunc {
	rule := throttleRules[action]
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			user := currentUser(c)
			if user == nil || b.limiter == nil || user.IsAdmin() {
				return next(c)
			}
			ctx := reqCtx(c)

			limit := rule.limit
			if b.isPaying(ctx, user) {
				limit *= paidThrottleFactor
			}

			res, err := b.limiter.CheckUserRateLimit(ctx, user.TelegramID, action, limit, rule.window)
			if err != nil {
				b.logger.Warn("rate limit check failed", "action", action, "error", err)
				return next(c)
			}
			if res.Allowed {
				return next(c)
			}

			b.recorder.IncThrottled(action)
			wait := max(int(res.RetryAfter.Seconds()), 1)
			text := fmt.Sprintf("⏳ Слишком много запросов. Попробуйте через %d сек.", wait)
			if c.Callback() != nil {
				return c.RespondAlert(text)
			}
			return c.Send(text)
		}
	}
}

func (b *Bot) trackUpdate(c tele.Context, kind string) {
	user := currentUser(c)
	if user == nil || b.tracker == nil {
		return
	}
	switch kind {
	case "command":
		b.tracker.Track(user.ID, user.TelegramID, model.UsageCommand, commandName(c.Message().Text), "")
	case "callback":
		b.tracker.Track(user.ID, user.TelegramID, model.UsageCallback, c.Callback().Unique, c.Callback().Data)
	}
}

func (b *Bot) isPaying(ctx context.Context, user *model.User) bool {
	sub, err := b.subs.Get(ctx, user.ID)
	if err != nil {
		return false
	}
	return sub.EffectivePlan(b.now()) != model.PlanFree
}

// adminOnly hides admin commands from everyone else.
func (b *Bot) adminOnly(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		user := currentUser(c)
		if user == nil || !user.IsAdmin() {
			b.logger.Warn("admin command denied", "telegram_id", senderID(c))
			return c.Send("Команда недоступна.")
		}
		return next(c)
	}
}

func reqCtx(c tele.Context) context.Context {
	if ctx, ok := c.Get(keyContext).(context.Context); ok {
		return ctx
	}
	return context.Background()
}

func currentUser(c tele.Context) *model.User {
	u, _ := c.Get(keyUser).(*model.User)
	return u
}

func updateKind(c tele.Context) string {
	switch {
	case c.Callback() != nil:
		return "callback"
	case c.PreCheckoutQuery() != nil:
		return "checkout"
	}
	m := c.Message()
	switch {
	case m == nil:
		return "other"
	case m.Payment != nil:
		return "payment"
	case strings.HasPrefix(m.Text, "/"):
		return "command"
	default:
		return "message"
	}
}

// commandName returns "start" for "/start@Bot payload".
func commandName(text string) string {
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	name, _, _ := strings.Cut(text[1:], " ")
	name, _, _ = strings.Cut(name, "@")
	return strings.ToLower(name)
}
