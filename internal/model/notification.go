package model

import "time"

// NotificationKind classifies outgoing messages.
type NotificationKind string

const (
	NotifyDailyHoroscope NotificationKind = "daily_horoscope"
	NotifyExpiring       NotificationKind = "subscription_expiring"
	NotifyExpired        NotificationKind = "subscription_expired"
	NotifyPayment        NotificationKind = "payment_receipt"
	NotifyBroadcast      NotificationKind = "broadcast"
	NotifyReferral       NotificationKind = "referral_bonus"
)

// DeliveryStatus represents notification delivery state.
type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "pending"
	DeliveryStatusSent      DeliveryStatus = "sent"
	DeliveryStatusFailed    DeliveryStatus = "failed"
	DeliveryStatusExhausted DeliveryStatus = "exhausted"
)

// Notification is a queued message to a user.
type Notification struct {
	ID            string           `json:"id"`
	UserID        string           `json:"user_id"`
	TelegramID    int64            `json:"telegram_id"`
	Kind          NotificationKind `json:"kind"`
	Text          string           `json:"-"`
	Status        DeliveryStatus   `json:"status"`
	AttemptCount  int              `json:"attempt_count"`
	MaxAttempts   int              `json:"max_attempts"`
	NextAttemptAt time.Time        `json:"next_attempt_at"`
	LastError     string           `json:"last_error,omitempty"`
	DedupKey      string           `json:"-"`
	CreatedAt     time.Time        `json:"created_at"`
	SentAt        *time.Time       `json:"sent_at,omitempty"`
}

// CanRetry returns true if delivery can be retried.
func (n *Notification) CanRetry() bool {
	return n.Status != DeliveryStatusSent && n.Status != DeliveryStatusExhausted && n.AttemptCount < n.MaxAttempts
}

// IsTerminal returns true if delivery is in a terminal state.
func (n *Notification) IsTerminal() bool {
	return n.Status == DeliveryStatusSent || n.Status == DeliveryStatusExhausted
}

// BroadcastRequest is the admin API payload for mass messages.
type BroadcastRequest struct {
	Text string           `json:"text"`
	Plan SubscriptionPlan `json:"plan,omitempty"`
}

// BroadcastResponse reports how many messages were queued.
type BroadcastResponse struct {
	Queued int64 `json:"queued"`
}
