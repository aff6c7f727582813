package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	tele "gopkg.in/telebot.v3"
)

// Sender delivers a message to a Telegram chat.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// BotSender is the part of *telebot.Bot the sender needs.
type BotSender interface {
	Send(to tele.Recipient, what interface{}, options ...interface{}) (*tele.Message, error)
}

// FloodWaitError carries Telegram's retry_after hint.
type FloodWaitError struct {
	RetryAfter time.Duration
}

func (e *FloodWaitError) Error() string {
	return fmt.Sprintf("flood control, retry after %s", e.RetryAfter)
}

// TelegramSender sends HTML messages through the bot API.
type TelegramSender struct {
	bot BotSender
}

// NewTelegramSender creates a sender backed by bot.
func NewTelegramSender(bot BotSender) *TelegramSender {
	return &TelegramSender{bot: bot}
}

// Send implements Sender. Permanent recipient failures are reported as
// ErrRecipientGone and rate limiting as *FloodWaitError.
func (s *TelegramSender) Send(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	for _, part := range SplitMessage(text, MaxMessageLength) {
		_, err := s.bot.Send(tele.ChatID(chatID), part, &tele.SendOptions{
			ParseMode:             tele.ModeHTML,
			DisableWebPagePreview: true,
		})
		if err != nil {
			return classifySendError(err)
		}
	}
	return nil
}

func classifySendError(err error) error {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return &FloodWaitError{RetryAfter: time.Duration(flood.RetryAfter) * time.Second}
	}
	var floodPtr *tele.FloodError
	if errors.As(err, &floodPtr) {
		return &FloodWaitError{RetryAfter: time.Duration(floodPtr.RetryAfter) * time.Second}
	}

	switch {
	case errors.Is(err, tele.ErrBlockedByUser),
		errors.Is(err, tele.ErrUserIsDeactivated),
		errors.Is(err, tele.ErrChatNotFound),
		errors.Is(err, tele.ErrNotStartedByUser):
		return fmt.Errorf("%w: %v", ErrRecipientGone, err)
	}
	return err
}
