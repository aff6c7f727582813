// Package events carries usage events from the bot to Postgres through a
// Redis stream.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/redis/go-redis/v9"

	"github.com/astrotarot/astrotarot/internal/metrics"
	"github.com/astrotarot/astrotarot/internal/model"
)

const (
	// StreamKey is the Redis stream for usage events.
	StreamKey = "stream:usage"

	// DeadLetterStreamKey is the Redis stream for poison messages.
	DeadLetterStreamKey = "stream:usage:dlq"

	// MaxStreamLen is the approximate max length of the stream.
	MaxStreamLen = 100000

	// PublishTimeout is the max time to wait for Redis publish.
	PublishTimeout = 100 * time.Millisecond
)

// UsagePayload is the compact event format stored in the stream.
type UsagePayload struct {
	UserID     string `json:"uid,omitempty"`
	TelegramID int64  `json:"tg,omitempty"`
	Kind       string `json:"k"`
	Name       string `json:"n,omitempty"`
	Detail     string `json:"d,omitempty"`
	OccurredAt int64  `json:"t"` // Unix milliseconds
}

// NewPayload builds a payload, truncating free-form fields.
func NewPayload(userID string, telegramID int64, kind model.UsageKind, name, detail string, at time.Time) UsagePayload {
	return UsagePayload{
		UserID:     userID,
		TelegramID: telegramID,
		Kind:       string(kind),
		Name:       truncate(name, maxNameLength),
		Detail:     truncate(detail, maxDetailLength),
		OccurredAt: at.UnixMilli(),
	}
}

// Publisher enqueues usage events to the Redis stream.
type Publisher struct {
	redis   *redis.Client
	logger  *slog.Logger
	metrics metrics.Recorder
}

// NewPublisher creates a new usage event publisher.
func NewPublisher(client *redis.Client, logger *slog.Logger, recorder metrics.Recorder) *Publisher {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Publisher{
		redis:   client,
		logger:  logger.With("component", "events.publisher"),
		metrics: recorder,
	}
}

// Publish adds an event to the stream synchronously.
func (p *Publisher) Publish(ctx context.Context, event UsagePayload) (string, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}

	result, err := p.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey,
		MaxLen: MaxStreamLen,
		Approx: true,
		ID:     "*",
		Values: map[string]interface{}{
			"payload": string(data),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}

	return result, nil
}

// PublishAsync publishes without blocking the caller.
// Errors are logged but not returned.
func (p *Publisher) PublishAsync(event UsagePayload) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), PublishTimeout)
		defer cancel()

		streamID, err := p.Publish(ctx, event)
		if err != nil {
			p.logger.Warn("failed to publish usage event",
				"kind", event.Kind,
				"error", err,
			)
			p.metrics.IncUsageEventPublished("dropped")
			return
		}

		p.logger.Debug("usage event published",
			"kind", event.Kind,
			"stream_id", streamID,
		)
		p.metrics.IncUsageEventPublished("success")
	}()
}

// Track is a shorthand for PublishAsync(NewPayload(...)) stamped with now.
func (p *Publisher) Track(userID string, telegramID int64, kind model.UsageKind, name, detail string) {
	p.PublishAsync(NewPayload(userID, telegramID, kind, name, detail, time.Now()))
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
