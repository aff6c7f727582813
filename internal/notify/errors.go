package notify

import "errors"

// Sentinel errors for notification operations.
var (
	ErrNotificationNotFound = errors.New("notification not found")
	// ErrRecipientGone means Telegram will never accept messages for the
	// chat: the user blocked the bot, deleted the account or never started it.
	ErrRecipientGone = errors.New("recipient unreachable")
)
