package payment

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astrotarot/astrotarot/internal/config"
	"github.com/astrotarot/astrotarot/internal/model"
)

func TestFormatAmount(t *testing.T) {
	tests := map[int64]string{
		0:      "0.00",
		5:      "0.05",
		100:    "1.00",
		29900:  "299.00",
		123456: "1234.56",
	}
	for in, want := range tests {
		assert.Equal(t, want, FormatAmount(in))
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"299.00", 29900, false},
		{"299", 29900, false},
		{"0.5", 50, false},
		{"1234.56", 123456, false},
		{"", 0, true},
		{"1.234", 0, true},
		{"-1.00", 0, true},
		{"1.-5", 0, true},
		{"abc", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAmount(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidAmount)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMapStatus(t *testing.T) {
	assert.Equal(t, model.PaymentPending, MapStatus("pending"))
	assert.Equal(t, model.PaymentProcessing, MapStatus("waiting_for_capture"))
	assert.Equal(t, model.PaymentSucceeded, MapStatus("succeeded"))
	assert.Equal(t, model.PaymentCancelled, MapStatus("canceled"))
}

func TestNewYooKassa_NotConfigured(t *testing.T) {
	_, err := NewYooKassa(config.YooKassaConfig{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func newTestGateway(t *testing.T, h http.HandlerFunc) *YooKassa {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	y, err := NewYooKassa(config.YooKassaConfig{ShopID: "shop", SecretKey: "secret", ReturnURL: "https://t.me/bot"})
	require.NoError(t, err)
	y.newKey = func() string { return "idem-1" }
	return y.WithEndpoint(srv.URL)
}

func TestYooKassa_CreatePayment(t *testing.T) {
	y := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/payments", r.URL.Path)
		assert.Equal(t, "idem-1", r.Header.Get("Idempotence-Key"))
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "shop", user)
		assert.Equal(t, "secret", pass)

		var body ykCreatePayment
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "299.00", body.Amount.Value)
		assert.Equal(t, "RUB", body.Amount.Currency)
		assert.True(t, body.Capture)
		assert.Equal(t, "redirect", body.Confirmation.Type)
		assert.Equal(t, "https://t.me/bot", body.Confirmation.ReturnURL)
		assert.Equal(t, "pay-1", body.Metadata["payment_id"])
		assert.Equal(t, "u-1", body.Metadata["user_id"])

		_, _ = io.WriteString(w, `{
			"id": "yk-1",
			"status": "pending",
			"paid": false,
			"amount": {"value": "299.00", "currency": "RUB"},
			"confirmation": {"type": "redirect", "confirmation_url": "https://yoomoney.ru/checkout/1"},
			"metadata": {"payment_id": "pay-1"},
			"test": true
		}`)
	})

	gp, err := y.CreatePayment(context.Background(), CreateRequest{
		PaymentID:   "pay-1",
		Amount:      29900,
		Currency:    "RUB",
		Description: "Подписка",
		Metadata:    map[string]string{"user_id": "u-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "yk-1", gp.ID)
	assert.Equal(t, "pay-1", gp.PaymentID)
	assert.Equal(t, model.PaymentPending, gp.Status)
	assert.Equal(t, int64(29900), gp.Amount)
	assert.Equal(t, "https://yoomoney.ru/checkout/1", gp.ConfirmationURL)
	assert.True(t, gp.Test)
}

func TestYooKassa_CreatePaymentRejectsZeroAmount(t *testing.T) {
	y := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("gateway must not be called")
	})
	_, err := y.CreatePayment(context.Background(), CreateRequest{PaymentID: "p", Currency: "RUB"})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestYooKassa_GetPaymentNotFound(t *testing.T) {
	y := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/payments/missing", r.URL.Path)
		assert.Empty(t, r.Header.Get("Idempotence-Key"))
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"type":"error","code":"not_found","description":"Payment not found"}`)
	})

	_, err := y.GetPayment(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrGatewayPayment)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "not_found", apiErr.Code)
}

func TestYooKassa_Refund(t *testing.T) {
	y := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/refunds", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "yk-1", body["payment_id"])

		_, _ = io.WriteString(w, `{"id":"rf-1","payment_id":"yk-1","status":"succeeded","amount":{"value":"100.50","currency":"RUB"}}`)
	})

	refund, err := y.Refund(context.Background(), "yk-1", 10050, "RUB")
	require.NoError(t, err)
	assert.Equal(t, "rf-1", refund.ID)
	assert.Equal(t, int64(10050), refund.Amount)
}

func TestParseNotification(t *testing.T) {
	body := []byte(`{
		"type": "notification",
		"event": "payment.succeeded",
		"object": {
			"id": "yk-1",
			"status": "succeeded",
			"paid": true,
			"amount": {"value": "299.00", "currency": "RUB"},
			"metadata": {"payment_id": "pay-1"}
		}
	}`)

	n, err := ParseNotification(body)
	require.NoError(t, err)
	assert.Equal(t, EventPaymentSucceeded, n.Event)
	require.NotNil(t, n.Payment)
	assert.Equal(t, "pay-1", n.Payment.PaymentID)
	assert.Equal(t, model.PaymentSucceeded, n.Payment.Status)
	assert.True(t, n.Payment.Paid)
}

func TestParseNotification_Canceled(t *testing.T) {
	body := []byte(`{"type":"notification","event":"payment.canceled","object":{"id":"yk-2","status":"canceled","amount":{"value":"10.00","currency":"RUB"},"cancellation_details":{"party":"yoo_money","reason":"expired_on_confirmation"}}}`)

	n, err := ParseNotification(body)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentCancelled, n.Payment.Status)
	assert.Equal(t, "expired_on_confirmation", n.Payment.CancellationReason)
}

func TestParseNotification_Refund(t *testing.T) {
	body := []byte(`{"type":"notification","event":"refund.succeeded","object":{"id":"rf-1","payment_id":"yk-1","status":"succeeded","amount":{"value":"1.00","currency":"RUB"}}}`)

	n, err := ParseNotification(body)
	require.NoError(t, err)
	require.NotNil(t, n.Refund)
	assert.Equal(t, "yk-1", n.Refund.PaymentID)
	assert.Nil(t, n.Payment)
}

func TestParseNotification_Invalid(t *testing.T) {
	for _, body := range []string{
		`not json`,
		`{"type":"other","event":"payment.succeeded","object":{}}`,
		`{"type":"notification","event":"deal.closed","object":{"id":"x"}}`,
		`{"type":"notification","event":"payment.succeeded"}`,
	} {
		_, err := ParseNotification([]byte(body))
		assert.ErrorIs(t, err, ErrInvalidNotification, body)
	}
}

func TestInvoicePayload(t *testing.T) {
	id, err := ParseInvoicePayload(InvoicePayload("abc"))
	require.NoError(t, err)
	assert.Equal(t, "abc", id)

	_, err = ParseInvoicePayload("abc")
	assert.ErrorIs(t, err, ErrInvalidPayload)
	_, err = ParseInvoicePayload("pay:")
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestStarsInvoiceAndCheckout(t *testing.T) {
	p := &model.Payment{
		ID:             "pay-1",
		Plan:           model.PlanPremium,
		Amount:         300,
		DiscountAmount: 30,
		Currency:       model.CurrencyStars,
		Status:         model.PaymentPending,
		Description:    "Премиум на 1 мес.",
	}

	inv := StarsInvoice(p)
	assert.Equal(t, "pay:pay-1", inv.Payload)
	assert.Equal(t, "XTR", inv.Currency)
	assert.Equal(t, 270, inv.Total)
	require.Len(t, inv.Prices, 1)
	assert.Equal(t, 270, inv.Prices[0].Amount)

	_, ok := ValidateCheckout(p, "XTR", 270)
	assert.True(t, ok)

	_, ok = ValidateCheckout(p, "XTR", 300)
	assert.False(t, ok)

	_, ok = ValidateCheckout(p, "RUB", 270)
	assert.False(t, ok)

	p.Status = model.PaymentSucceeded
	msg, ok := ValidateCheckout(p, "XTR", 270)
	assert.False(t, ok)
	assert.NotEmpty(t, msg)
}
