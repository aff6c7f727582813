package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astrotarot/astrotarot/internal/model"
	"github.com/astrotarot/astrotarot/internal/payment"
)

type fakeRawAPI struct {
	calls   []string
	payload any
}

func (a *fakeRawAPI) Raw(method string, payload interface{}) ([]byte, error) {
	a.calls = append(a.calls, method)
	a.payload = payload
	return []byte(`{"ok":true,"result":true}`), nil
}

func webhookBody(event, gatewayID, status, value, paymentID string) []byte {
	return []byte(fmt.Sprintf(`{
		"type": "notification",
		"event": %q,
		"object": {
			"id": %q,
			"status": %q,
			"paid": true,
			"amount": {"value": %q, "currency": "RUB"},
			"metadata": {"payment_id": %q}
		}
	}`, event, gatewayID, status, value, paymentID))
}

func TestCreateSubscriptionPayment_Card(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	u := e.register(t, 42)

	checkout, err := e.payments.CreateSubscriptionPayment(ctx, u, PurchaseInput{
		Plan:   model.PlanBasic,
		Months: 3,
		Method: model.MethodCard,
	})
	require.NoError(t, err)

	p := checkout.Payment
	assert.Equal(t, model.PaymentPending, p.Status)
	assert.Equal(t, int64(89700), p.FinalAmount())
	assert.Equal(t, model.CurrencyRUB, p.Currency)
	assert.Equal(t, "gw-1", p.ProviderPaymentID)
	assert.Equal(t, "Подписка «"+model.PlanBasic.Title()+"» на 3 месяца", p.Description)
	assert.NotEmpty(t, checkout.ConfirmationURL)
	assert.Nil(t, checkout.Invoice)

	stored, err := e.payments.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "gw-1", stored.ProviderPaymentID)
}

func TestCreateSubscriptionPayment_CardWithPromo(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	u := e.register(t, 42)
	_, err := e.subs.CreatePromo(ctx, model.PromoCreateRequest{Code: "HALF50", Type: model.PromoPercentage, Value: 50})
	require.NoError(t, err)

	checkout, err := e.payments.CreateSubscriptionPayment(ctx, u, PurchaseInput{
		Plan:      model.PlanPremium,
		Months:    1,
		Method:    model.MethodCard,
		PromoCode: "half50",
	})
	require.NoError(t, err)
	assert.Equal(t, "HALF50", checkout.Payment.PromoCode)
	assert.Equal(t, int64(29950), checkout.Payment.FinalAmount())
}

func TestCreateSubscriptionPayment_FullDiscountSkipsGateway(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	u := e.register(t, 42)
	_, err := e.subs.CreatePromo(ctx, model.PromoCreateRequest{Code: "GIFT100", Type: model.PromoPercentage, Value: 100})
	require.NoError(t, err)

	checkout, err := e.payments.CreateSubscriptionPayment(ctx, u, PurchaseInput{
		Plan:      model.PlanBasic,
		Months:    1,
		Method:    model.MethodCard,
		PromoCode: "GIFT100",
	})
	require.NoError(t, err)
	assert.Equal(t, model.PaymentSucceeded, checkout.Payment.Status)
	assert.Zero(t, checkout.Payment.FinalAmount())
	assert.Empty(t, checkout.ConfirmationURL)
	assert.Empty(t, e.gateway.payments)

	sub, err := e.subs.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PlanBasic, sub.Plan)
	assert.Equal(t, model.StatusActive, sub.Status)
}

func TestCreateSubscriptionPayment_GatewayFailure(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	u := e.register(t, 42)
	e.gateway.err = errors.New("gateway down")

	_, err := e.payments.CreateSubscriptionPayment(ctx, u, PurchaseInput{
		Plan:   model.PlanBasic,
		Months: 1,
		Method: model.MethodCard,
	})
	require.Error(t, err)

	out, err := e.payments.List(ctx, ListPaymentsInput{Status: model.PaymentFailed})
	require.NoError(t, err)
	assert.Len(t, out.Payments, 1)
}

func TestCreateSubscriptionPayment_CardsDisabled(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	u := e.register(t, 42)

	svc := NewPaymentService(e.store, e.subs, PaymentDeps{Stars: defaultStars()}, e.payments.clock, testLogger())
	assert.False(t, svc.CardsEnabled())

	_, err := svc.CreateSubscriptionPayment(ctx, u, PurchaseInput{Plan: model.PlanBasic, Months: 1, Method: model.MethodCard})
	assert.ErrorIs(t, err, ErrMethodUnavailable)
	_, err = svc.CreateSubscriptionPayment(ctx, u, PurchaseInput{Plan: model.PlanBasic, Months: 1, Method: "cash"})
	assert.ErrorIs(t, err, ErrMethodUnavailable)
}

func TestStarsPrice(t *testing.T) {
	e := newEnv(t)
	assert.Equal(t, int64(150), e.payments.StarsPrice(model.PlanBasic, 1))
	assert.Equal(t, int64(900), e.payments.StarsPrice(model.PlanPremium, 3))
	assert.Equal(t, int64(6240), e.payments.StarsPrice(model.PlanVIP, 12))
	assert.Equal(t, int64(0), e.payments.StarsPrice(model.PlanFree, 1))
}

func TestStarsFlow(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	u := e.register(t, 42)
	_, err := e.subs.CreatePromo(ctx, model.PromoCreateRequest{Code: "HALF50", Type: model.PromoPercentage, Value: 50})
	require.NoError(t, err)

	checkout, err := e.payments.CreateSubscriptionPayment(ctx, u, PurchaseInput{
		Plan:      model.PlanPremium,
		Months:    1,
		Method:    model.MethodStars,
		PromoCode: "HALF50",
	})
	require.NoError(t, err)
	require.NotNil(t, checkout.Invoice)
	assert.Equal(t, 300, checkout.Invoice.Total)
	assert.Empty(t, checkout.Payment.PromoCode)

	payload := checkout.Invoice.Payload

	msg, ok := e.payments.PreCheckout(ctx, payload, model.CurrencyStars, 299)
	assert.False(t, ok)
	assert.NotEmpty(t, msg)
	_, ok = e.payments.PreCheckout(ctx, "pay:unknown", model.CurrencyStars, 300)
	assert.False(t, ok)
	_, ok = e.payments.PreCheckout(ctx, payload, model.CurrencyStars, 300)
	assert.True(t, ok)

	_, err = e.payments.CompleteStarsPayment(ctx, payload, model.CurrencyStars, 100, "charge-1")
	assert.ErrorIs(t, err, ErrPaymentMismatch)

	p, err := e.payments.CompleteStarsPayment(ctx, payload, model.CurrencyStars, 300, "charge-1")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentSucceeded, p.Status)
	assert.Equal(t, "charge-1", p.ProviderPaymentID)

	again, err := e.payments.CompleteStarsPayment(ctx, payload, model.CurrencyStars, 300, "charge-1")
	require.NoError(t, err)
	assert.Equal(t, p.ID, again.ID)

	sub, err := e.subs.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PlanPremium, sub.Plan)
	assert.Equal(t, e.now.Add(30*24*time.Hour), *sub.ExpiresAt)
	assert.Equal(t, []model.NotificationKind{model.NotifyPayment}, e.notifier.kinds())
	assert.Contains(t, e.tracker.kinds, model.UsagePayment)
}

func TestHandleNotification_Succeeded(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	u := e.register(t, 42)
	_, err := e.subs.CreatePromo(ctx, model.PromoCreateRequest{Code: "FIXED100", Type: model.PromoFixed, Value: 100})
	require.NoError(t, err)

	checkout, err := e.payments.CreateSubscriptionPayment(ctx, u, PurchaseInput{
		Plan:      model.PlanBasic,
		Months:    1,
		Method:    model.MethodCard,
		PromoCode: "FIXED100",
	})
	require.NoError(t, err)
	p := checkout.Payment

	e.gateway.setStatus(p.ProviderPaymentID, model.PaymentSucceeded)
	body := webhookBody(payment.EventPaymentSucceeded, p.ProviderPaymentID, "succeeded", "298.00", p.ID)

	require.NoError(t, e.payments.HandleNotification(ctx, body))
	// Redelivery is a no-op.
	require.NoError(t, e.payments.HandleNotification(ctx, body))

	stored, err := e.payments.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentSucceeded, stored.Status)
	assert.NotNil(t, stored.PaidAt)

	sub, err := e.subs.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, e.now.Add(30*24*time.Hour), *sub.ExpiresAt)

	used, err := e.store.HasRedeemed(ctx, "FIXED100", u.ID)
	require.NoError(t, err)
	assert.True(t, used)
	assert.Len(t, e.notifier.kinds(), 1)
}

func TestHandleNotification_RedeliveryActivatesAfterFailure(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	u := e.register(t, 42)

	checkout, err := e.payments.CreateSubscriptionPayment(ctx, u, PurchaseInput{Plan: model.PlanBasic, Months: 1, Method: model.MethodCard})
	require.NoError(t, err)
	p := checkout.Payment
	e.gateway.setStatus(p.ProviderPaymentID, model.PaymentSucceeded)
	body := webhookBody(payment.EventPaymentSucceeded, p.ProviderPaymentID, "succeeded", "299.00", p.ID)

	e.store.failSaves = 1
	require.Error(t, e.payments.HandleNotification(ctx, body))

	stored, err := e.payments.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentSucceeded, stored.Status)
	assert.True(t, stored.NeedsActivation())

	require.NoError(t, e.payments.HandleNotification(ctx, body))
	require.NoError(t, e.payments.HandleNotification(ctx, body))

	sub, err := e.subs.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PlanBasic, sub.Plan)
	assert.Equal(t, model.StatusActive, sub.Status)
	assert.Equal(t, e.now.Add(30*24*time.Hour), *sub.ExpiresAt)

	stored, err = e.payments.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.ActivatedAt)
	assert.Len(t, e.notifier.kinds(), 1)
}

func TestCompleteStarsPayment_RetriesFailedActivation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	u := e.register(t, 42)

	checkout, err := e.payments.CreateSubscriptionPayment(ctx, u, PurchaseInput{Plan: model.PlanPremium, Months: 1, Method: model.MethodStars})
	require.NoError(t, err)
	payload := checkout.Invoice.Payload
	total := int(checkout.Payment.FinalAmount())

	e.store.failSaves = 1
	_, err = e.payments.CompleteStarsPayment(ctx, payload, model.CurrencyStars, total, "charge-1")
	require.Error(t, err)

	p, err := e.payments.CompleteStarsPayment(ctx, payload, model.CurrencyStars, total, "charge-1")
	require.NoError(t, err)
	assert.NotNil(t, p.ActivatedAt)

	sub, err := e.subs.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PlanPremium, sub.Plan)
}

func TestReconcile_ActivatesStuckPayments(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	u := e.register(t, 42)

	checkout, err := e.payments.CreateSubscriptionPayment(ctx, u, PurchaseInput{Plan: model.PlanBasic, Months: 1, Method: model.MethodCard})
	require.NoError(t, err)
	p := checkout.Payment
	e.gateway.setStatus(p.ProviderPaymentID, model.PaymentSucceeded)
	body := webhookBody(payment.EventPaymentSucceeded, p.ProviderPaymentID, "succeeded", "299.00", p.ID)

	e.store.failSaves = 1
	require.Error(t, e.payments.HandleNotification(ctx, body))

	e.now = e.now.Add(time.Hour)
	n, err := e.payments.Reconcile(ctx, e.now.Add(-30*time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	sub, err := e.subs.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PlanBasic, sub.Plan)
	assert.Equal(t, model.StatusActive, sub.Status)

	n, err = e.payments.Reconcile(ctx, e.now.Add(-30*time.Minute), 10)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestHandleNotification_ForgedBodyIgnored(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	u := e.register(t, 42)

	checkout, err := e.payments.CreateSubscriptionPayment(ctx, u, PurchaseInput{Plan: model.PlanVIP, Months: 1, Method: model.MethodCard})
	require.NoError(t, err)
	p := checkout.Payment

	// The body claims success but the gateway still reports pending.
	body := webhookBody(payment.EventPaymentSucceeded, p.ProviderPaymentID, "succeeded", "1299.00", p.ID)
	require.NoError(t, e.payments.HandleNotification(ctx, body))

	stored, err := e.payments.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentPending, stored.Status)

	sub, err := e.subs.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PlanFree, sub.Plan)
}

func TestHandleNotification_Cancelled(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	u := e.register(t, 42)

	checkout, err := e.payments.CreateSubscriptionPayment(ctx, u, PurchaseInput{Plan: model.PlanBasic, Months: 1, Method: model.MethodCard})
	require.NoError(t, err)
	p := checkout.Payment

	e.gateway.setStatus(p.ProviderPaymentID, model.PaymentCancelled)
	body := webhookBody(payment.EventPaymentCanceled, p.ProviderPaymentID, "canceled", "299.00", p.ID)
	require.NoError(t, e.payments.HandleNotification(ctx, body))

	stored, err := e.payments.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentCancelled, stored.Status)
}

func TestHandleNotification_Invalid(t *testing.T) {
	e := newEnv(t)
	err := e.payments.HandleNotification(context.Background(), []byte(`{"type":"other"}`))
	assert.ErrorIs(t, err, payment.ErrInvalidNotification)

	body := webhookBody(payment.EventPaymentSucceeded, "gw-404", "succeeded", "1.00", "")
	err = e.payments.HandleNotification(context.Background(), body)
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestReconcile(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	u := e.register(t, 42)

	paid, err := e.payments.CreateSubscriptionPayment(ctx, u, PurchaseInput{Plan: model.PlanBasic, Months: 1, Method: model.MethodCard})
	require.NoError(t, err)
	lost, err := e.payments.CreateSubscriptionPayment(ctx, u, PurchaseInput{Plan: model.PlanBasic, Months: 1, Method: model.MethodCard})
	require.NoError(t, err)

	e.gateway.setStatus(paid.Payment.ProviderPaymentID, model.PaymentSucceeded)
	delete(e.gateway.payments, lost.Payment.ProviderPaymentID)

	n, err := e.payments.Reconcile(ctx, e.now.Add(-time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	e.now = e.now.Add(time.Hour)
	n, err = e.payments.Reconcile(ctx, e.now.Add(-30*time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := e.payments.Get(ctx, paid.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentSucceeded, got.Status)

	got, err = e.payments.Get(ctx, lost.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentFailed, got.Status)
}

func TestRefund_Card(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	u := e.register(t, 42)

	checkout, err := e.payments.CreateSubscriptionPayment(ctx, u, PurchaseInput{Plan: model.PlanBasic, Months: 1, Method: model.MethodCard})
	require.NoError(t, err)
	p := checkout.Payment

	_, err = e.payments.Refund(ctx, p.ID)
	assert.ErrorIs(t, err, ErrPaymentNotRefundable)

	_, err = e.payments.Succeed(ctx, p, "")
	require.NoError(t, err)

	refunded, err := e.payments.Refund(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentRefunded, refunded.Status)
	assert.Equal(t, []string{"gw-1"}, e.gateway.refunds)

	sub, err := e.subs.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, sub.Status)
}

func TestRefund_Stars(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	u := e.register(t, 42)
	api := &fakeRawAPI{}
	e.payments.SetStarsAPI(api)

	checkout, err := e.payments.CreateSubscriptionPayment(ctx, u, PurchaseInput{Plan: model.PlanBasic, Months: 1, Method: model.MethodStars})
	require.NoError(t, err)
	_, err = e.payments.CompleteStarsPayment(ctx, checkout.Invoice.Payload, model.CurrencyStars, 150, "charge-9")
	require.NoError(t, err)

	_, err = e.payments.Refund(ctx, checkout.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"refundStarPayment"}, api.calls)
	assert.Equal(t, map[string]string{
		"user_id":                    "42",
		"telegram_payment_charge_id": "charge-9",
	}, api.payload)
}

func TestMonthsText(t *testing.T) {
	assert.Equal(t, "1 месяц", monthsText(1))
	assert.Equal(t, "3 месяца", monthsText(3))
	assert.Equal(t, "6 месяцев", monthsText(6))
	assert.Equal(t, "12 месяцев", monthsText(12))
	assert.Equal(t, "21 месяц", monthsText(21))
}
