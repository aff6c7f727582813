package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/astrotarot/astrotarot/internal/model"
)

// Message is a notification to be queued.
type Message struct {
	UserID     string
	TelegramID int64
	Kind       model.NotificationKind
	Text       string
	// DedupKey makes Publish idempotent, e.g. "daily_horoscope:<user>:<date>".
	DedupKey string
	// NotBefore delays the first attempt.
	NotBefore time.Time
}

// Publisher queues notifications for the delivery worker.
type Publisher struct {
	repo   *Repository
	logger *slog.Logger
	now    func() time.Time
}

// NewPublisher creates a new notification publisher.
func NewPublisher(repo *Repository, logger *slog.Logger) *Publisher {
	return &Publisher{
		repo:   repo,
		logger: logger.With("component", "notify.publisher"),
		now:    time.Now,
	}
}

// Publish queues msg. It reports false when the dedup key was already used.
func (p *Publisher) Publish(ctx context.Context, msg Message) (bool, error) {
	if msg.Text == "" {
		return false, fmt.Errorf("notification for %d has empty text", msg.TelegramID)
	}

	now := p.now().UTC()
	next := now
	if msg.NotBefore.After(now) {
		next = msg.NotBefore.UTC()
	}

	n := &model.Notification{
		ID:            ulid.Make().String(),
		UserID:        msg.UserID,
		TelegramID:    msg.TelegramID,
		Kind:          msg.Kind,
		Text:          msg.Text,
		Status:        model.DeliveryStatusPending,
		MaxAttempts:   DefaultMaxAttempts,
		NextAttemptAt: next,
		DedupKey:      msg.DedupKey,
		CreatedAt:     now,
	}

	queued, err := p.repo.Enqueue(ctx, n)
	if err != nil {
		return false, err
	}

	if queued {
		p.logger.Debug("notification queued",
			"notification_id", n.ID,
			"kind", n.Kind,
			"telegram_id", n.TelegramID,
		)
	}
	return queued, nil
}
