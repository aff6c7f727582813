// Package payment talks to payment providers: YooKassa for card payments
// and Telegram Stars invoices.
package payment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/astrotarot/astrotarot/internal/model"
)

var (
	ErrNotConfigured       = errors.New("payment gateway not configured")
	ErrGatewayPayment      = errors.New("payment not found at gateway")
	ErrInvalidNotification = errors.New("invalid payment notification")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidPayload      = errors.New("invalid invoice payload")
)

// CreateRequest describes a payment to open at the gateway.
type CreateRequest struct {
	// PaymentID is our payment id, passed back in metadata.
	PaymentID   string
	Amount      int64
	Currency    string
	Description string
	ReturnURL   string
	Metadata    map[string]string
}

// GatewayPayment is a payment as the gateway sees it.
type GatewayPayment struct {
	ID                 string
	PaymentID          string
	Status             model.PaymentStatus
	GatewayStatus      string
	Amount             int64
	Currency           string
	Paid               bool
	ConfirmationURL    string
	CancellationReason string
	Test               bool
}

// Refund is a refund created at the gateway.
type Refund struct {
	ID        string
	PaymentID string
	Status    string
	Amount    int64
	Currency  string
}

// Gateway is a card payment provider.
type Gateway interface {
	CreatePayment(ctx context.Context, req CreateRequest) (*GatewayPayment, error)
	GetPayment(ctx context.Context, gatewayID string) (*GatewayPayment, error)
	Refund(ctx context.Context, gatewayID string, amount int64, currency string) (*Refund, error)
}

// FormatAmount renders minor units as a decimal string, e.g. 12345 -> "123.45".
func FormatAmount(minor int64) string {
	sign := ""
	if minor < 0 {
		sign, minor = "-", -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}

// ParseAmount parses a decimal string with up to two fraction digits into
// minor units.
func ParseAmount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" || len(frac) > 2 || !digits(whole) || !digits(frac) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	for len(frac) < 2 {
		frac += "0"
	}

	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return w*100 + f, nil
}

func digits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
