package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/astrotarot/astrotarot/internal/metrics"
	"github.com/astrotarot/astrotarot/internal/model"
)

const (
	// DefaultBatchSize is the number of notifications claimed per poll.
	DefaultBatchSize = 50
	// DefaultPollInterval is the time between polls for due notifications.
	DefaultPollInterval = 5 * time.Second
	// DefaultSendInterval spaces consecutive sends below Telegram's
	// broadcast limit of ~30 messages per second.
	DefaultSendInterval = 40 * time.Millisecond
	// DefaultMetricsInterval is how often queue depth is logged.
	DefaultMetricsInterval = time.Minute
)

// queue is the part of Repository the worker uses.
type queue interface {
	ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*model.Notification, error)
	MarkSent(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id, errMsg string, nextAttemptAt time.Time, exhausted bool, at time.Time) error
	DropPendingForChat(ctx context.Context, telegramID int64, reason string, at time.Time) (int64, error)
	QueueDepth(ctx context.Context) (int64, error)
}

// RecipientDisabler turns notifications off for a chat that blocked the bot.
type RecipientDisabler interface {
	DisableNotifications(ctx context.Context, telegramID int64) error
}

// Worker delivers queued notifications.
type Worker struct {
	repo            queue
	sender          Sender
	disabler        RecipientDisabler
	logger          *slog.Logger
	metrics         metrics.Recorder
	batchSize       int
	pollInterval    time.Duration
	sendInterval    time.Duration
	metricsInterval time.Duration
	lastMetrics     time.Time
	now             func() time.Time
	started         bool
}

// NewWorker creates a new notification delivery worker.
func NewWorker(repo *Repository, sender Sender, disabler RecipientDisabler, logger *slog.Logger, recorder metrics.Recorder) *Worker {
	return newWorker(repo, sender, disabler, logger, recorder)
}

func newWorker(repo queue, sender Sender, disabler RecipientDisabler, logger *slog.Logger, recorder metrics.Recorder) *Worker {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Worker{
		repo:            repo,
		sender:          sender,
		disabler:        disabler,
		logger:          logger.With("component", "notify.worker"),
		metrics:         recorder,
		batchSize:       DefaultBatchSize,
		pollInterval:    DefaultPollInterval,
		sendInterval:    DefaultSendInterval,
		metricsInterval: DefaultMetricsInterval,
		now:             time.Now,
	}
}

// Run starts the worker loop. Blocks until context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if w.started {
		return errors.New("worker already started")
	}
	w.started = true

	w.logger.Info("notification worker started")

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("notification worker stopping")
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.processOnce(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				w.logger.Error("process error", "error", err)
			}
		}
	}
}

// processOnce claims and sends one batch. It returns the number of
// notifications handled.
func (w *Worker) processOnce(ctx context.Context) (int, error) {
	w.maybeLogQueueDepth(ctx)

	lease := w.sendInterval*time.Duration(w.batchSize) + time.Minute
	batch, err := w.repo.ClaimDue(ctx, w.now().UTC(), w.batchSize, lease)
	if err != nil {
		return 0, fmt.Errorf("claim due notifications: %w", err)
	}

	for i, n := range batch {
		if i > 0 && w.sendInterval > 0 {
			select {
			case <-ctx.Done():
				return i, ctx.Err()
			case <-time.After(w.sendInterval):
			}
		}
		if err := w.deliver(ctx, n); err != nil {
			w.logger.Warn("notification bookkeeping failed",
				"notification_id", n.ID,
				"error", err,
			)
		}
	}
	return len(batch), nil
}

// deliver sends one notification and records the outcome.
func (w *Worker) deliver(ctx context.Context, n *model.Notification) error {
	err := w.sender.Send(ctx, n.TelegramID, n.Text)
	now := w.now().UTC()

	if err == nil {
		w.metrics.IncNotification("sent")
		return w.repo.MarkSent(ctx, n.ID, now)
	}

	if errors.Is(err, ErrRecipientGone) {
		return w.handleGone(ctx, n, err, now)
	}

	nextAttempt := n.AttemptCount + 1
	exhausted := IsExhausted(nextAttempt, n.MaxAttempts)

	next := NextRetryAt(now, nextAttempt-1)
	var flood *FloodWaitError
	if errors.As(err, &flood) {
		next = RetryAfter(now, nextAttempt-1, flood.RetryAfter)
	}

	status := "failed"
	if exhausted {
		status = "exhausted"
	}
	w.metrics.IncNotification(status)

	w.logger.Warn("notification send failed",
		"notification_id", n.ID,
		"kind", n.Kind,
		"attempt", nextAttempt,
		"exhausted", exhausted,
		"error", err,
	)

	return w.repo.MarkFailed(ctx, n.ID, err.Error(), next, exhausted, now)
}

func (w *Worker) handleGone(ctx context.Context, n *model.Notification, sendErr error, now time.Time) error {
	w.metrics.IncNotification("blocked")
	w.logger.Info("recipient unreachable, disabling notifications",
		"notification_id", n.ID,
		"telegram_id", n.TelegramID,
	)

	if err := w.repo.MarkFailed(ctx, n.ID, sendErr.Error(), now, true, now); err != nil {
		return err
	}
	if _, err := w.repo.DropPendingForChat(ctx, n.TelegramID, "recipient unreachable", now); err != nil {
		return err
	}
	if w.disabler != nil {
		if err := w.disabler.DisableNotifications(ctx, n.TelegramID); err != nil {
			return fmt.Errorf("disable notifications: %w", err)
		}
	}
	return nil
}

// maybeLogQueueDepth periodically logs the backlog size.
func (w *Worker) maybeLogQueueDepth(ctx context.Context) {
	if time.Since(w.lastMetrics) < w.metricsInterval {
		return
	}
	w.lastMetrics = time.Now()

	depth, err := w.repo.QueueDepth(ctx)
	if err != nil {
		w.logger.Warn("failed to get queue depth", "error", err)
		return
	}
	w.logger.Debug("notification queue depth", "depth", depth)
}

// SetBatchSize overrides the default batch size.
func (w *Worker) SetBatchSize(size int) {
	if size > 0 {
		w.batchSize = size
	}
}

// SetPollInterval overrides the default poll interval.
func (w *Worker) SetPollInterval(interval time.Duration) {
	if interval > 0 {
		w.pollInterval = interval
	}
}

// SetSendInterval overrides the pause between sends. Zero disables pacing.
func (w *Worker) SetSendInterval(interval time.Duration) {
	if interval >= 0 {
		w.sendInterval = interval
	}
}
