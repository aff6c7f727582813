package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	tele "gopkg.in/telebot.v3"

	"github.com/astrotarot/astrotarot/internal/config"
	"github.com/astrotarot/astrotarot/internal/metrics"
	"github.com/astrotarot/astrotarot/internal/model"
	"github.com/astrotarot/astrotarot/internal/notify"
	"github.com/astrotarot/astrotarot/internal/payment"
	"github.com/astrotarot/astrotarot/internal/repository"
)

// PaymentStore is the storage used by PaymentService.
type PaymentStore interface {
	CreatePayment(ctx context.Context, p *model.Payment) error
	GetPayment(ctx context.Context, id string) (*model.Payment, error)
	GetPaymentByProviderID(ctx context.Context, providerID string) (*model.Payment, error)
	UpdatePayment(ctx context.Context, p *model.Payment, expected model.PaymentStatus) error
	ListPayments(ctx context.Context, filter repository.PaymentFilter, cursor string, limit int) ([]*model.Payment, string, error)
	ListPendingCardPayments(ctx context.Context, cutoff time.Time, limit int) ([]*model.Payment, error)
	ListUnactivatedPayments(ctx context.Context, cutoff time.Time, limit int) ([]*model.Payment, error)
	MarkPaymentActivated(ctx context.Context, id string, at time.Time) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
}

// PaymentService sells subscription periods by card or Telegram Stars.
type PaymentService struct {
	store    PaymentStore
	subs     *SubscriptionService
	gateway  payment.Gateway
	stars    config.StarsConfig
	starsAPI payment.RawAPI
	tracker  Tracker
	notifier Notifier
	recorder metrics.Recorder
	clock    Clock
	logger   *slog.Logger
}

// PaymentDeps groups the optional collaborators of PaymentService.
type PaymentDeps struct {
	// Gateway is nil when card payments are not configured.
	Gateway payment.Gateway
	Stars   config.StarsConfig
	// StarsAPI refunds Stars payments. Usually the *telebot.Bot.
	StarsAPI payment.RawAPI
	Tracker  Tracker
	Notifier Notifier
	Recorder metrics.Recorder
}

// NewPaymentService creates a new PaymentService.
func NewPaymentService(store PaymentStore, subs *SubscriptionService, deps PaymentDeps, clock Clock, logger *slog.Logger) *PaymentService {
	if deps.Tracker == nil {
		deps.Tracker = nopTracker{}
	}
	if deps.Recorder == nil {
		deps.Recorder = metrics.NewNoop()
	}
	return &PaymentService{
		store:    store,
		subs:     subs,
		gateway:  deps.Gateway,
		stars:    deps.Stars,
		starsAPI: deps.StarsAPI,
		tracker:  deps.Tracker,
		notifier: deps.Notifier,
		recorder: deps.Recorder,
		clock:    clock,
		logger:   logger.With("component", "payments"),
	}
}

// SetStarsAPI sets the Bot API used for Stars refunds once the bot exists.
func (s *PaymentService) SetStarsAPI(api payment.RawAPI) {
	s.starsAPI = api
}

// CardsEnabled reports whether card payments are available.
func (s *PaymentService) CardsEnabled() bool {
	return s.gateway != nil
}

// StarsPrice returns the Stars price of months of plan. The annual discount
// applies as for rubles.
func (s *PaymentService) StarsPrice(plan model.SubscriptionPlan, months int) int64 {
	var monthly int
	switch plan {
	case model.PlanBasic:
		monthly = s.stars.Basic
	case model.PlanPremium:
		monthly = s.stars.Premium
	case model.PlanVIP:
		monthly = s.stars.VIP
	}
	total := int64(monthly) * int64(months)
	if months >= model.AnnualPeriodMonths {
		total -= model.PercentOf(total, model.AnnualDiscountPercent)
	}
	return total
}

// PurchaseInput describes a subscription purchase.
type PurchaseInput struct {
	Plan      model.SubscriptionPlan
	Months    int
	PromoCode string
	Method    model.PaymentMethod
}

// Checkout is what the payer needs to complete a purchase.
type Checkout struct {
	Payment *model.Payment
	// ConfirmationURL is set for card payments.
	ConfirmationURL string
	// Invoice is set for Stars payments.
	Invoice *tele.Invoice
}

// CreateSubscriptionPayment opens a payment for a plan period. Promo codes
// apply to card payments only.
func (s *PaymentService) CreateSubscriptionPayment(ctx context.Context, user *model.User, in PurchaseInput) (*Checkout, error) {
	if !in.Method.Valid() {
		return nil, ErrMethodUnavailable
	}
	if in.Method == model.MethodCard && s.gateway == nil {
		return nil, ErrMethodUnavailable
	}

	promoCode := in.PromoCode
	if in.Method == model.MethodStars {
		promoCode = ""
	}
	quote, err := s.subs.Quote(ctx, user.ID, in.Plan, in.Months, promoCode)
	if err != nil {
		return nil, err
	}
	sub, err := s.subs.Get(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	now := s.clock.now()
	p := &model.Payment{
		ID:             ulid.Make().String(),
		UserID:         user.ID,
		SubscriptionID: sub.ID,
		Plan:           in.Plan,
		Months:         in.Months,
		Status:         model.PaymentPending,
		Method:         in.Method,
		PromoCode:      quote.PromoCode,
		Description:    fmt.Sprintf("Подписка «%s» на %s", in.Plan.Title(), monthsText(in.Months)),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	switch in.Method {
	case model.MethodStars:
		p.Amount = s.StarsPrice(in.Plan, in.Months)
		p.Currency = model.CurrencyStars
		if p.Amount <= 0 {
			return nil, ErrMethodUnavailable
		}
	default:
		p.Amount = quote.Base
		p.DiscountAmount = quote.Discount
		p.Currency = model.CurrencyRUB
	}

	if err := s.store.CreatePayment(ctx, p); err != nil {
		return nil, err
	}

	if in.Method == model.MethodStars {
		s.recorder.IncPayment(string(model.PaymentPending))
		return &Checkout{Payment: p, Invoice: payment.StarsInvoice(p)}, nil
	}

	// A promo covering the whole price needs no gateway.
	if p.FinalAmount() == 0 {
		paid, err := s.Succeed(ctx, p, "")
		if err != nil {
			return nil, err
		}
		return &Checkout{Payment: paid}, nil
	}

	gp, err := s.gateway.CreatePayment(ctx, payment.CreateRequest{
		PaymentID:   p.ID,
		Amount:      p.FinalAmount(),
		Currency:    p.Currency,
		Description: p.Description,
		Metadata:    map[string]string{"user_id": user.ID, "plan": string(p.Plan)},
	})
	if err != nil {
		s.fail(ctx, p, "gateway error")
		return nil, fmt.Errorf("create gateway payment: %w", err)
	}

	p.ProviderPaymentID = gp.ID
	p.ConfirmationURL = gp.ConfirmationURL
	p.UpdatedAt = s.clock.now()
	if err := s.store.UpdatePayment(ctx, p, model.PaymentPending); err != nil {
		return nil, err
	}

	s.recorder.IncPayment(string(model.PaymentPending))
	s.logger.Info("payment created",
		"payment_id", p.ID,
		"user_id", user.ID,
		"plan", p.Plan,
		"months", p.Months,
		"amount", p.FinalAmount(),
	)
	return &Checkout{Payment: p, ConfirmationURL: gp.ConfirmationURL}, nil
}

func monthsText(n int) string {
	switch {
	case n%10 == 1 && n%100 != 11:
		return fmt.Sprintf("%d месяц", n)
	case n%10 >= 2 && n%10 <= 4 && (n%100 < 10 || n%100 >= 20):
		return fmt.Sprintf("%d месяца", n)
	default:
		return fmt.Sprintf("%d месяцев", n)
	}
}

func (s *PaymentService) fail(ctx context.Context, p *model.Payment, reason string) {
	expected := p.Status
	p.Status = model.PaymentFailed
	p.FailureReason = reason
	p.UpdatedAt = s.clock.now()
	if err := s.store.UpdatePayment(ctx, p, expected); err != nil {
		s.logger.Warn("failed to mark payment failed", "payment_id", p.ID, "error", err)
		return
	}
	s.recorder.IncPayment(string(model.PaymentFailed))
}

// Get returns a payment by id.
func (s *PaymentService) Get(ctx context.Context, id string) (*model.Payment, error) {
	p, err := s.store.GetPayment(ctx, id)
	if errors.Is(err, repository.ErrPaymentNotFound) {
		return nil, ErrPaymentNotFound
	}
	return p, err
}

// ListPaymentsInput defines input for listing payments.
type ListPaymentsInput struct {
	Status model.PaymentStatus
	UserID string
	Cursor string
	Limit  int
}

// ListPaymentsOutput is a page of payments.
type ListPaymentsOutput struct {
	Payments   []*model.Payment
	NextCursor string
	HasMore    bool
}

// List returns payments newest first.
func (s *PaymentService) List(ctx context.Context, in ListPaymentsInput) (*ListPaymentsOutput, error) {
	if in.Status != "" && !in.Status.Valid() {
		return nil, fmt.Errorf("%w: status %q", ErrInvalidInput, in.Status)
	}
	payments, next, err := s.store.ListPayments(ctx, repository.PaymentFilter{
		Status: in.Status,
		UserID: in.UserID,
	}, in.Cursor, clampLimit(in.Limit, 20, 100))
	if err != nil {
		if errors.Is(err, repository.ErrInvalidCursor) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return nil, err
	}
	return &ListPaymentsOutput{Payments: payments, NextCursor: next, HasMore: next != ""}, nil
}

// PreCheckout validates a Stars pre-checkout query. The returned message is
// shown to the payer on rejection.
func (s *PaymentService) PreCheckout(ctx context.Context, payload, currency string, total int) (string, bool) {
	id, err := payment.ParseInvoicePayload(payload)
	if err != nil {
		return "Неизвестный счёт.", false
	}
	p, err := s.store.GetPayment(ctx, id)
	if err != nil {
		s.logger.Warn("pre-checkout for unknown payment", "payment_id", id, "error", err)
		return "Неизвестный счёт.", false
	}
	return payment.ValidateCheckout(p, currency, total)
}

// CompleteStarsPayment applies a successful Stars payment.
func (s *PaymentService) CompleteStarsPayment(ctx context.Context, payload, currency string, total int, chargeID string) (*model.Payment, error) {
	id, err := payment.ParseInvoicePayload(payload)
	if err != nil {
		return nil, err
	}
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.IsSuccessful() && !p.NeedsActivation() {
		return p, nil
	}
	if currency != p.Currency || int64(total) != p.FinalAmount() {
		s.logger.Error("stars payment mismatch",
			"payment_id", p.ID,
			"currency", currency,
			"total", total,
			"expected", p.FinalAmount(),
		)
		return nil, ErrPaymentMismatch
	}
	return s.Succeed(ctx, p, chargeID)
}

// HandleNotification processes a YooKassa webhook body. The payment state is
// re-read from the gateway, so a forged body cannot activate anything.
func (s *PaymentService) HandleNotification(ctx context.Context, body []byte) error {
	if s.gateway == nil {
		return ErrMethodUnavailable
	}
	n, err := payment.ParseNotification(body)
	if err != nil {
		return err
	}

	if n.Refund != nil {
		p, err := s.findByGatewayID(ctx, n.Refund.PaymentID, "")
		if err != nil {
			return err
		}
		if p.Status == model.PaymentSucceeded && n.Refund.Status == "succeeded" {
			return s.markRefunded(ctx, p)
		}
		return nil
	}

	p, err := s.findByGatewayID(ctx, n.Payment.ID, n.Payment.PaymentID)
	if err != nil {
		return err
	}
	gp, err := s.gateway.GetPayment(ctx, n.Payment.ID)
	if err != nil {
		return fmt.Errorf("verify gateway payment: %w", err)
	}
	return s.apply(ctx, p, gp)
}

func (s *PaymentService) findByGatewayID(ctx context.Context, gatewayID, paymentID string) (*model.Payment, error) {
	p, err := s.store.GetPaymentByProviderID(ctx, gatewayID)
	if errors.Is(err, repository.ErrPaymentNotFound) && paymentID != "" {
		p, err = s.store.GetPayment(ctx, paymentID)
	}
	if errors.Is(err, repository.ErrPaymentNotFound) {
		return nil, ErrPaymentNotFound
	}
	return p, err
}

// apply moves a payment to the state reported by the gateway.
func (s *PaymentService) apply(ctx context.Context, p *model.Payment, gp *payment.GatewayPayment) error {
	if p.NeedsActivation() && gp.Status == model.PaymentSucceeded {
		_, err := s.activate(ctx, p)
		return err
	}
	if p.Status == gp.Status || p.Status.IsFinal() {
		return nil
	}

	switch gp.Status {
	case model.PaymentSucceeded:
		if gp.Amount != p.FinalAmount() || gp.Currency != p.Currency {
			s.logger.Error("gateway amount mismatch",
				"payment_id", p.ID,
				"gateway_amount", gp.Amount,
				"expected", p.FinalAmount(),
			)
			return ErrPaymentMismatch
		}
		_, err := s.Succeed(ctx, p, gp.ID)
		return err
	case model.PaymentCancelled:
		expected := p.Status
		p.Status = model.PaymentCancelled
		p.FailureReason = gp.CancellationReason
		p.UpdatedAt = s.clock.now()
		if err := s.store.UpdatePayment(ctx, p, expected); err != nil && !errors.Is(err, repository.ErrPaymentConflict) {
			return err
		}
		s.recorder.IncPayment(string(model.PaymentCancelled))
		s.logger.Info("payment cancelled", "payment_id", p.ID, "reason", gp.CancellationReason)
	case model.PaymentProcessing:
		expected := p.Status
		p.Status = model.PaymentProcessing
		p.UpdatedAt = s.clock.now()
		if err := s.store.UpdatePayment(ctx, p, expected); err != nil && !errors.Is(err, repository.ErrPaymentConflict) {
			return err
		}
	}
	return nil
}

// Succeed marks a payment paid and activates the purchased period. Calling
// it again for the same payment is a no-op once the period is applied; a
// payment left succeeded but not activated is activated on the next call.
func (s *PaymentService) Succeed(ctx context.Context, p *model.Payment, providerID string) (*model.Payment, error) {
	switch {
	case p.IsPending():
	case p.NeedsActivation():
		return s.activate(ctx, p)
	case p.IsSuccessful():
		return p, nil
	default:
		return nil, fmt.Errorf("%w: payment is %s", ErrPaymentMismatch, p.Status)
	}

	now := s.clock.now()
	expected := p.Status
	p.Status = model.PaymentSucceeded
	p.PaidAt = &now
	p.UpdatedAt = now
	if providerID != "" {
		p.ProviderPaymentID = providerID
	}

	if err := s.store.UpdatePayment(ctx, p, expected); err != nil {
		if errors.Is(err, repository.ErrPaymentConflict) {
			// Another delivery of the same event won the race and activates.
			return s.Get(ctx, p.ID)
		}
		return nil, err
	}
	s.recorder.IncPayment(string(model.PaymentSucceeded))
	return s.activate(ctx, p)
}

// activate applies a succeeded payment to the subscription and marks it
// activated. On failure the payment stays unactivated for a later retry.
func (s *PaymentService) activate(ctx context.Context, p *model.Payment) (*model.Payment, error) {
	if _, err := s.subs.Activate(ctx, p.UserID, p.Plan, p.Months); err != nil {
		s.logger.Error("payment succeeded but activation failed",
			"payment_id", p.ID,
			"user_id", p.UserID,
			"error", err,
		)
		return nil, fmt.Errorf("activate subscription: %w", err)
	}
	now := s.clock.now()
	if err := s.store.MarkPaymentActivated(ctx, p.ID, now); err != nil {
		return nil, err
	}
	p.ActivatedAt = &now

	if p.PromoCode != "" {
		if err := s.subs.Redeem(ctx, p.PromoCode, p.UserID, p.ID); err != nil {
			s.logger.Warn("failed to redeem promo", "payment_id", p.ID, "code", p.PromoCode, "error", err)
		}
	}

	s.logger.Info("payment succeeded",
		"payment_id", p.ID,
		"user_id", p.UserID,
		"method", p.Method,
		"amount", p.FinalAmount(),
	)

	user, err := s.store.GetUserByID(ctx, p.UserID)
	if err != nil {
		s.logger.Warn("failed to load payer", "user_id", p.UserID, "error", err)
		return p, nil
	}
	s.tracker.Track(user.ID, user.TelegramID, model.UsagePayment, string(p.Plan), string(p.Method))
	s.sendReceipt(ctx, user, p)
	return p, nil
}

func (s *PaymentService) sendReceipt(ctx context.Context, user *model.User, p *model.Payment) {
	if s.notifier == nil {
		return
	}
	text := "✅ Оплата прошла успешно! Тариф «" + p.Plan.Title() + "» активирован.\n\n" + p.ReceiptText(s.clock.loc())
	_, err := s.notifier.Publish(ctx, notify.Message{
		UserID:     user.ID,
		TelegramID: user.TelegramID,
		Kind:       model.NotifyPayment,
		Text:       text,
		DedupKey:   "receipt:" + p.ID,
	})
	if err != nil {
		s.logger.Warn("failed to queue receipt", "payment_id", p.ID, "error", err)
	}
}

// Reconcile finishes payments stuck before cutoff. Succeeded payments whose
// activation failed are activated again, and pending card payments are
// polled at the gateway. It returns the number of payments checked.
func (s *PaymentService) Reconcile(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	var errs []error

	stuck, err := s.store.ListUnactivatedPayments(ctx, cutoff, limit)
	if err != nil {
		return 0, err
	}
	for _, p := range stuck {
		if _, err := s.activate(ctx, p); err != nil {
			errs = append(errs, fmt.Errorf("payment %s: %w", p.ID, err))
		}
	}

	if s.gateway == nil {
		return len(stuck), errors.Join(errs...)
	}
	pending, err := s.store.ListPendingCardPayments(ctx, cutoff, limit)
	if err != nil {
		return len(stuck), errors.Join(append(errs, err)...)
	}
	for _, p := range pending {
		gp, err := s.gateway.GetPayment(ctx, p.ProviderPaymentID)
		if err != nil {
			if errors.Is(err, payment.ErrGatewayPayment) {
				s.fail(ctx, p, "unknown at gateway")
				continue
			}
			errs = append(errs, fmt.Errorf("payment %s: %w", p.ID, err))
			continue
		}
		if err := s.apply(ctx, p, gp); err != nil {
			errs = append(errs, fmt.Errorf("payment %s: %w", p.ID, err))
		}
	}
	return len(stuck) + len(pending), errors.Join(errs...)
}

// Refund returns a successful payment to the payer and ends the paid period.
func (s *PaymentService) Refund(ctx context.Context, paymentID string) (*model.Payment, error) {
	p, err := s.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if !p.IsSuccessful() {
		return nil, ErrPaymentNotRefundable
	}

	switch p.Method {
	case model.MethodCard:
		if s.gateway == nil {
			return nil, ErrMethodUnavailable
		}
		if _, err := s.gateway.Refund(ctx, p.ProviderPaymentID, p.FinalAmount(), p.Currency); err != nil {
			return nil, fmt.Errorf("gateway refund: %w", err)
		}
	case model.MethodStars:
		if s.starsAPI == nil {
			return nil, ErrMethodUnavailable
		}
		user, err := s.store.GetUserByID(ctx, p.UserID)
		if err != nil {
			return nil, err
		}
		if err := payment.RefundStars(s.starsAPI, user.TelegramID, p.ProviderPaymentID); err != nil {
			return nil, err
		}
	}

	if err := s.markRefunded(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *PaymentService) markRefunded(ctx context.Context, p *model.Payment) error {
	now := s.clock.now()
	p.Status = model.PaymentRefunded
	p.RefundedAt = &now
	p.UpdatedAt = now
	if err := s.store.UpdatePayment(ctx, p, model.PaymentSucceeded); err != nil {
		if errors.Is(err, repository.ErrPaymentConflict) {
			return nil
		}
		return err
	}

	if _, err := s.subs.Cancel(ctx, p.UserID, true); err != nil && !errors.Is(err, ErrSubscriptionNotActive) {
		return fmt.Errorf("cancel subscription: %w", err)
	}
	s.recorder.IncPayment(string(model.PaymentRefunded))
	s.logger.Info("payment refunded", "payment_id", p.ID, "user_id", p.UserID)
	return nil
}
