package payment

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v3"

	"github.com/astrotarot/astrotarot/internal/model"
)

const payloadPrefix = "pay:"

// InvoicePayload encodes our payment id into an invoice payload.
func InvoicePayload(paymentID string) string {
	return payloadPrefix + paymentID
}

// ParseInvoicePayload extracts the payment id from an invoice payload.
func ParseInvoicePayload(payload string) (string, error) {
	id, ok := strings.CutPrefix(payload, payloadPrefix)
	if !ok || id == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidPayload, payload)
	}
	return id, nil
}

// StarsInvoice builds a Telegram Stars invoice for a pending payment.
func StarsInvoice(p *model.Payment) *tele.Invoice {
	total := int(p.FinalAmount())
	return &tele.Invoice{
		Title:       p.Plan.Title(),
		Description: p.Description,
		Payload:     InvoicePayload(p.ID),
		Currency:    model.CurrencyStars,
		Prices:      []tele.Price{{Label: p.Description, Amount: total}},
		Total:       total,
	}
}

// ValidateCheckout checks a pre-checkout query against the stored payment.
// The returned message is shown to the payer when validation fails.
func ValidateCheckout(p *model.Payment, currency string, total int) (string, bool) {
	switch {
	case p.Status != model.PaymentPending:
		return "Этот счёт уже неактуален. Создайте новый.", false
	case currency != model.CurrencyStars || p.Currency != model.CurrencyStars:
		return "Неверная валюта платежа.", false
	case int64(total) != p.FinalAmount():
		return "Сумма платежа не совпадает.", false
	}
	return "", true
}

// RawAPI calls a Bot API method by name. *telebot.Bot implements it.
type RawAPI interface {
	Raw(method string, payload interface{}) ([]byte, error)
}

// RefundStars returns a Stars payment to the payer. telebot has no typed
// wrapper for refundStarPayment, so the method is called directly.
func RefundStars(api RawAPI, telegramID int64, chargeID string) error {
	if chargeID == "" {
		return fmt.Errorf("%w: missing charge id", ErrGatewayPayment)
	}
	data, err := api.Raw("refundStarPayment", map[string]string{
		"user_id":                    strconv.FormatInt(telegramID, 10),
		"telegram_payment_charge_id": chargeID,
	})
	if err != nil {
		return fmt.Errorf("refund stars: %w", err)
	}

	var resp struct {
		Ok     bool `json:"ok"`
		Result bool `json:"result"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("decode stars refund: %w", err)
	}
	if !resp.Ok || !resp.Result {
		return fmt.Errorf("stars refund rejected for charge %s", chargeID)
	}
	return nil
}
