package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/astrotarot/astrotarot/internal/config"
	"github.com/astrotarot/astrotarot/internal/model"
)

// YooKassaEndpoint is the base URL of the YooKassa API.
const YooKassaEndpoint = "https://api.yookassa.ru/v3"

// Notification events.
const (
	EventPaymentSucceeded         = "payment.succeeded"
	EventPaymentCanceled          = "payment.canceled"
	EventPaymentWaitingForCapture = "payment.waiting_for_capture"
	EventRefundSucceeded          = "refund.succeeded"
)

const (
	maxDescriptionLength = 128
	metadataPaymentID    = "payment_id"
)

// YooKassa is a Gateway backed by the YooKassa REST API.
type YooKassa struct {
	shopID     string
	secretKey  string
	returnURL  string
	endpoint   string
	httpClient *http.Client
	newKey     func() string
}

// NewYooKassa creates a client from configuration.
func NewYooKassa(cfg config.YooKassaConfig) (*YooKassa, error) {
	if !cfg.Enabled() {
		return nil, ErrNotConfigured
	}
	return &YooKassa{
		shopID:     cfg.ShopID,
		secretKey:  cfg.SecretKey,
		returnURL:  cfg.ReturnURL,
		endpoint:   YooKassaEndpoint,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		newKey:     uuid.NewString,
	}, nil
}

// WithEndpoint overrides the API base URL.
func (y *YooKassa) WithEndpoint(endpoint string) *YooKassa {
	y.endpoint = endpoint
	return y
}

type ykAmount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type ykConfirmation struct {
	Type            string `json:"type"`
	ReturnURL       string `json:"return_url,omitempty"`
	ConfirmationURL string `json:"confirmation_url,omitempty"`
}

type ykPayment struct {
	ID           string            `json:"id"`
	Status       string            `json:"status"`
	Paid         bool              `json:"paid"`
	Amount       ykAmount          `json:"amount"`
	Confirmation *ykConfirmation   `json:"confirmation,omitempty"`
	Metadata     map[string]string `json:"metadata"`
	Test         bool              `json:"test"`
	Cancellation *struct {
		Party  string `json:"party"`
		Reason string `json:"reason"`
	} `json:"cancellation_details,omitempty"`
}

type ykCreatePayment struct {
	Amount       ykAmount          `json:"amount"`
	Capture      bool              `json:"capture"`
	Confirmation ykConfirmation    `json:"confirmation"`
	Description  string            `json:"description,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

type ykRefund struct {
	ID        string   `json:"id"`
	PaymentID string   `json:"payment_id"`
	Status    string   `json:"status"`
	Amount    ykAmount `json:"amount"`
}

type ykError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// APIError is a non-2xx answer from YooKassa.
type APIError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("yookassa: status %d: %s: %s", e.StatusCode, e.Code, e.Description)
}

// CreatePayment implements Gateway.
func (y *YooKassa) CreatePayment(ctx context.Context, req CreateRequest) (*GatewayPayment, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}

	metadata := make(map[string]string, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	metadata[metadataPaymentID] = req.PaymentID

	returnURL := req.ReturnURL
	if returnURL == "" {
		returnURL = y.returnURL
	}

	body := ykCreatePayment{
		Amount:       ykAmount{Value: FormatAmount(req.Amount), Currency: req.Currency},
		Capture:      true,
		Confirmation: ykConfirmation{Type: "redirect", ReturnURL: returnURL},
		Description:  truncateRunes(req.Description, maxDescriptionLength),
		Metadata:     metadata,
	}

	var out ykPayment
	if err := y.do(ctx, http.MethodPost, "/payments", body, &out); err != nil {
		return nil, err
	}
	return out.toGateway()
}

// GetPayment implements Gateway.
func (y *YooKassa) GetPayment(ctx context.Context, gatewayID string) (*GatewayPayment, error) {
	var out ykPayment
	if err := y.do(ctx, http.MethodGet, "/payments/"+gatewayID, nil, &out); err != nil {
		return nil, err
	}
	return out.toGateway()
}

// Refund implements Gateway.
func (y *YooKassa) Refund(ctx context.Context, gatewayID string, amount int64, currency string) (*Refund, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	body := map[string]any{
		"payment_id": gatewayID,
		"amount":     ykAmount{Value: FormatAmount(amount), Currency: currency},
	}

	var out ykRefund
	if err := y.do(ctx, http.MethodPost, "/refunds", body, &out); err != nil {
		return nil, err
	}
	return out.toRefund()
}

func (y *YooKassa) do(ctx context.Context, method, path string, body, dst any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode yookassa request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, y.endpoint+path, reader)
	if err != nil {
		return err
	}
	req.SetBasicAuth(y.shopID, y.secretKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotence-Key", y.newKey())
	}

	resp, err := y.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("yookassa request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read yookassa response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var e ykError
		_ = json.Unmarshal(raw, &e)
		apiErr := &APIError{StatusCode: resp.StatusCode, Code: e.Code, Description: e.Description}
		if resp.StatusCode == http.StatusNotFound {
			return errors.Join(ErrGatewayPayment, apiErr)
		}
		return apiErr
	}

	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode yookassa response: %w", err)
	}
	return nil
}

func (p ykPayment) toGateway() (*GatewayPayment, error) {
	amount, err := ParseAmount(p.Amount.Value)
	if err != nil {
		return nil, err
	}

	out := &GatewayPayment{
		ID:            p.ID,
		PaymentID:     p.Metadata[metadataPaymentID],
		Status:        MapStatus(p.Status),
		GatewayStatus: p.Status,
		Amount:        amount,
		Currency:      p.Amount.Currency,
		Paid:          p.Paid,
		Test:          p.Test,
	}
	if p.Confirmation != nil {
		out.ConfirmationURL = p.Confirmation.ConfirmationURL
	}
	if p.Cancellation != nil {
		out.CancellationReason = p.Cancellation.Reason
	}
	return out, nil
}

func (r ykRefund) toRefund() (*Refund, error) {
	amount, err := ParseAmount(r.Amount.Value)
	if err != nil {
		return nil, err
	}
	return &Refund{
		ID:        r.ID,
		PaymentID: r.PaymentID,
		Status:    r.Status,
		Amount:    amount,
		Currency:  r.Amount.Currency,
	}, nil
}

// MapStatus converts a YooKassa payment status.
func MapStatus(s string) model.PaymentStatus {
	switch s {
	case "succeeded":
		return model.PaymentSucceeded
	case "canceled":
		return model.PaymentCancelled
	case "waiting_for_capture":
		return model.PaymentProcessing
	default:
		return model.PaymentPending
	}
}

// Notification is a parsed webhook notification.
type Notification struct {
	Event   string
	Payment *GatewayPayment
	Refund  *Refund
}

// ParseNotification decodes a webhook body.
func ParseNotification(body []byte) (*Notification, error) {
	var env struct {
		Type   string          `json:"type"`
		Event  string          `json:"event"`
		Object json.RawMessage `json:"object"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidNotification, err)
	}
	if env.Type != "notification" || len(env.Object) == 0 {
		return nil, ErrInvalidNotification
	}

	n := &Notification{Event: env.Event}
	switch env.Event {
	case EventPaymentSucceeded, EventPaymentCanceled, EventPaymentWaitingForCapture:
		var p ykPayment
		if err := json.Unmarshal(env.Object, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidNotification, err)
		}
		gp, err := p.toGateway()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidNotification, err)
		}
		n.Payment = gp
	case EventRefundSucceeded:
		var r ykRefund
		if err := json.Unmarshal(env.Object, &r); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidNotification, err)
		}
		refund, err := r.toRefund()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidNotification, err)
		}
		n.Refund = refund
	default:
		return nil, fmt.Errorf("%w: unknown event %q", ErrInvalidNotification, env.Event)
	}
	return n, nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
