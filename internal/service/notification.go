package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"

	"github.com/astrotarot/astrotarot/internal/model"
	"github.com/astrotarot/astrotarot/internal/notify"
	"github.com/astrotarot/astrotarot/internal/render"
)

const recipientPageSize = 200

// RecipientStore lists users that receive scheduled messages.
type RecipientStore interface {
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	ListDailyHoroscopeRecipients(ctx context.Context, hhmm, afterID string, limit int) ([]*model.User, error)
	ListBroadcastRecipients(ctx context.Context, plan model.SubscriptionPlan, afterID string, limit int) ([]*model.User, error)
}

// NotificationService queues scheduled and mass messages.
type NotificationService struct {
	store     RecipientStore
	subs      *SubscriptionService
	astrology *AstrologyService
	notifier  Notifier
	clock     Clock
	logger    *slog.Logger
}

// NewNotificationService creates a new NotificationService.
func NewNotificationService(store RecipientStore, subs *SubscriptionService, astrology *AstrologyService, notifier Notifier, clock Clock, logger *slog.Logger) *NotificationService {
	return &NotificationService{
		store:     store,
		subs:      subs,
		astrology: astrology,
		notifier:  notifier,
		clock:     clock,
		logger:    logger.With("component", "notifications"),
	}
}

// DispatchDailyHoroscopes queues the daily horoscope for every user whose
// delivery time is the current minute. It returns the number queued.
func (s *NotificationService) DispatchDailyHoroscopes(ctx context.Context) (int, error) {
	now := s.clock.now()
	hhmm := now.In(s.clock.loc()).Format(model.TimeLayout)
	day := s.clock.today()

	queued := 0
	afterID := ""
	for {
		users, err := s.store.ListDailyHoroscopeRecipients(ctx, hhmm, afterID, recipientPageSize)
		if err != nil {
			return queued, err
		}
		for _, u := range users {
			h, err := s.astrology.Horoscope(ctx, u.ZodiacSign, model.PeriodDay, now, u.Tone)
			if err != nil {
				s.logger.Warn("skip daily horoscope", "user_id", u.ID, "error", err)
				continue
			}
			text := fmt.Sprintf("Доброе утро, %s! ☀️\n\n%s", render.Esc(u.DisplayName()), render.Horoscope(h))
			ok, err := s.notifier.Publish(ctx, notify.Message{
				UserID:     u.ID,
				TelegramID: u.TelegramID,
				Kind:       model.NotifyDailyHoroscope,
				Text:       text,
				DedupKey:   "daily_horoscope:" + u.ID + ":" + day.Format("2006-01-02"),
			})
			if err != nil {
				return queued, err
			}
			if ok {
				queued++
			}
		}
		if len(users) < recipientPageSize {
			break
		}
		afterID = users[len(users)-1].ID
	}

	if queued > 0 {
		s.logger.Info("daily horoscopes queued", "count", queued, "time", hhmm)
	}
	return queued, nil
}

// SendExpiryReminders warns users whose paid period ends soon.
func (s *NotificationService) SendExpiryReminders(ctx context.Context, limit int) (int, error) {
	subs, err := s.subs.DueReminders(ctx, limit)
	if err != nil {
		return 0, err
	}

	now := s.clock.now()
	sent := 0
	for _, sub := range subs {
		user, err := s.store.GetUserByID(ctx, sub.UserID)
		if err != nil {
			s.logger.Warn("reminder for unknown user", "user_id", sub.UserID, "error", err)
			continue
		}
		if user.IsBlocked() {
			continue
		}

		text := fmt.Sprintf("⏳ Ваш тариф «%s» заканчивается через %d дн. (%s).\n"+
			"Продлите подписку в разделе /subscription, чтобы сохранить доступ.",
			sub.Plan.Title(), max(sub.DaysLeft(now), 1), sub.ExpiresAt.In(s.clock.loc()).Format(model.DateLayout))
		_, err = s.notifier.Publish(ctx, notify.Message{
			UserID:     user.ID,
			TelegramID: user.TelegramID,
			Kind:       model.NotifyExpiring,
			Text:       text,
			DedupKey:   "expiring:" + sub.ID + ":" + sub.ExpiresAt.UTC().Format("2006-01-02"),
		})
		if err != nil {
			return sent, err
		}
		if err := s.subs.MarkReminded(ctx, sub.ID); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

// ExpireSubscriptions expires lapsed subscriptions and tells their owners.
func (s *NotificationService) ExpireSubscriptions(ctx context.Context, limit int) (int, error) {
	expired, err := s.subs.ExpireDue(ctx, limit)
	for _, sub := range expired {
		user, uerr := s.store.GetUserByID(ctx, sub.UserID)
		if uerr != nil || user.IsBlocked() {
			continue
		}
		text := fmt.Sprintf("Срок действия тарифа «%s» истёк. Вы переведены на бесплатный тариф.\n"+
			"Оформить подписку снова: /subscribe", sub.Plan.Title())
		if _, perr := s.notifier.Publish(ctx, notify.Message{
			UserID:     user.ID,
			TelegramID: user.TelegramID,
			Kind:       model.NotifyExpired,
			Text:       text,
			DedupKey:   "expired:" + sub.ID + ":" + s.clock.today().Format("2006-01-02"),
		}); perr != nil {
			s.logger.Warn("failed to queue expiry notice", "subscription_id", sub.ID, "error", perr)
		}
	}
	return len(expired), err
}

// Broadcast queues a message to every active user with notifications on,
// optionally only to holders of an active plan.
func (s *NotificationService) Broadcast(ctx context.Context, req model.BroadcastRequest) (*model.BroadcastResponse, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" || utf8.RuneCountInString(text) > model.MaxMessageLength {
		return nil, fmt.Errorf("%w: text must be 1..%d characters", ErrInvalidInput, model.MaxMessageLength)
	}
	if req.Plan != "" && !req.Plan.Valid() {
		return nil, ErrInvalidPlan
	}

	broadcastID := ulid.Make().String()
	var queued int64
	afterID := ""
	for {
		users, err := s.store.ListBroadcastRecipients(ctx, req.Plan, afterID, recipientPageSize)
		if err != nil {
			return nil, err
		}
		for _, u := range users {
			ok, err := s.notifier.Publish(ctx, notify.Message{
				UserID:     u.ID,
				TelegramID: u.TelegramID,
				Kind:       model.NotifyBroadcast,
				Text:       text,
				DedupKey:   "broadcast:" + broadcastID + ":" + u.ID,
			})
			if err != nil {
				return &model.BroadcastResponse{Queued: queued}, err
			}
			if ok {
				queued++
			}
		}
		if len(users) < recipientPageSize {
			break
		}
		afterID = users[len(users)-1].ID
	}

	s.logger.Info("broadcast queued", "broadcast_id", broadcastID, "plan", req.Plan, "count", queued)
	return &model.BroadcastResponse{Queued: queued}, nil
}
