package model

import (
	"strconv"
	"strings"
	"time"
)

// PaymentStatus is the state of a payment.
type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentProcessing PaymentStatus = "processing"
	PaymentSucceeded  PaymentStatus = "succeeded"
	PaymentFailed     PaymentStatus = "failed"
	PaymentCancelled  PaymentStatus = "cancelled"
	PaymentRefunded   PaymentStatus = "refunded"
)

// Valid reports whether s is a known payment status.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentProcessing, PaymentSucceeded, PaymentFailed, PaymentCancelled, PaymentRefunded:
		return true
	}
	return false
}

// IsFinal reports whether no further status change is expected from the gateway.
func (s PaymentStatus) IsFinal() bool {
	return s == PaymentSucceeded || s == PaymentFailed || s == PaymentCancelled || s == PaymentRefunded
}

// PaymentMethod selects the payment channel.
type PaymentMethod string

const (
	MethodCard  PaymentMethod = "card"
	MethodStars PaymentMethod = "stars"
)

// Valid reports whether m is a known method.
func (m PaymentMethod) Valid() bool {
	return m == MethodCard || m == MethodStars
}

// Payment is a purchase of a subscription period.
type Payment struct {
	ID                string           `json:"id"`
	UserID            string           `json:"user_id"`
	SubscriptionID    string           `json:"subscription_id"`
	Plan              SubscriptionPlan `json:"plan"`
	Months            int              `json:"months"`
	Amount            int64            `json:"amount"` // minor units: kopecks or stars
	DiscountAmount    int64            `json:"discount_amount"`
	Currency          string           `json:"currency"`
	Status            PaymentStatus    `json:"status"`
	Method            PaymentMethod    `json:"method"`
	ProviderPaymentID string           `json:"provider_payment_id,omitempty"`
	ConfirmationURL   string           `json:"confirmation_url,omitempty"`
	PromoCode         string           `json:"promo_code,omitempty"`
	Description       string           `json:"description"`
	FailureReason     string           `json:"failure_reason,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
	PaidAt            *time.Time       `json:"paid_at,omitempty"`
	RefundedAt        *time.Time       `json:"refunded_at,omitempty"`
	// ActivatedAt is set once the paid period reached the subscription.
	ActivatedAt       *time.Time       `json:"activated_at,omitempty"`
}

// FinalAmount is the amount charged after the discount.
func (p *Payment) FinalAmount() int64 {
	return p.Amount - p.DiscountAmount
}

// IsSuccessful reports whether the payment went through.
func (p *Payment) IsSuccessful() bool {
	return p.Status == PaymentSucceeded
}

// NeedsActivation reports a payment that went through but whose period was
// never applied to the subscription.
func (p *Payment) NeedsActivation() bool {
	return p.Status == PaymentSucceeded && p.ActivatedAt == nil
}

// IsPending reports whether the payment awaits the payer or the gateway.
func (p *Payment) IsPending() bool {
	return p.Status == PaymentPending || p.Status == PaymentProcessing
}

// FormatAmount renders a minor-unit amount in the payment currency.
func (p *Payment) FormatAmount(v int64) string {
	if p.Currency == CurrencyStars {
		return strconv.FormatInt(v, 10) + " ⭐"
	}
	return FormatRubles(v) + " " + p.Currency
}

// ReceiptText renders a receipt for the user.
func (p *Payment) ReceiptText(loc *time.Location) string {
	id := p.ID
	if len(id) > 8 {
		id = id[:8]
	}

	lines := []string{
		"🧾 Чек №" + id,
		"Дата: " + p.CreatedAt.In(loc).Format("02.01.2006 15:04"),
		"Описание: " + p.Description,
		"Сумма: " + p.FormatAmount(p.Amount),
	}

	if p.DiscountAmount > 0 {
		lines = append(lines,
			"Скидка: -"+p.FormatAmount(p.DiscountAmount),
			"Итого: "+p.FormatAmount(p.FinalAmount()),
		)
	}

	if p.Method != "" {
		lines = append(lines, "Способ оплаты: "+p.Method.Title())
	}

	lines = append(lines, "Статус: "+p.Status.Title())
	return strings.Join(lines, "\n")
}

// Title returns the user-facing method name.
func (m PaymentMethod) Title() string {
	switch m {
	case MethodStars:
		return "Telegram Stars"
	case MethodCard:
		return "Банковская карта"
	default:
		return string(m)
	}
}

// Title returns the user-facing status text.
func (s PaymentStatus) Title() string {
	switch s {
	case PaymentPending:
		return "⏳ Ожидает оплаты"
	case PaymentProcessing:
		return "⏳ Обрабатывается"
	case PaymentSucceeded:
		return "✅ Оплачено"
	case PaymentFailed:
		return "❌ Ошибка оплаты"
	case PaymentCancelled:
		return "❌ Отменено"
	case PaymentRefunded:
		return "💸 Возвращено"
	default:
		return "Неизвестно"
	}
}
