package bot

import (
	"fmt"
	"strconv"

	tele "gopkg.in/telebot.v3"

	"github.com/astrotarot/astrotarot/internal/model"
	"github.com/astrotarot/astrotarot/internal/render"
	"github.com/astrotarot/astrotarot/internal/service"
)

func (b *Bot) handleSubscription(c tele.Context) error {
	if c.Callback() != nil && c.Data() == subPlans {
		return b.handlePlans(c)
	}
	sub, err := b.subs.Get(reqCtx(c), currentUser(c).ID)
	if err != nil {
		return err
	}
	return c.EditOrSend(render.Subscription(sub, b.now(), b.loc), subscriptionKeyboard(sub.EffectivePlan(b.now())))
}

func (b *Bot) handlePlans(c tele.Context) error {
	return c.EditOrSend(render.Plans(), plansKeyboard(""))
}

// handlePlan walks plan, then period, then quote. Data is
// plan[|months[|promo]].
func (b *Bot) handlePlan(c tele.Context) error {
	args := c.Args()
	plan := model.SubscriptionPlan(args[0])
	if !plan.Valid() || plan == model.PlanFree {
		return service.ErrInvalidPlan
	}
	months, promo := 0, ""
	if len(args) > 1 {
		months, _ = strconv.Atoi(args[1])
	}
	if len(args) > 2 {
		promo = args[2]
	}

	if months == 0 {
		f := model.FeaturesFor(plan)
		text := fmt.Sprintf("💎 %s · %s ₽/мес\n\nВыберите срок подписки:",
			render.B(plan.Title()), model.FormatRubles(f.MonthlyPrice))
		return c.EditOrSend(text, periodsKeyboard(plan, promo))
	}

	q, err := b.subs.Quote(reqCtx(c), currentUser(c).ID, plan, months, promo)
	if err != nil {
		return err
	}
	return c.EditOrSend(render.Quote(q), quoteKeyboard(q, b.payments.CardsEnabled(), b.payments.StarsPrice(plan, months)))
}

// handlePay opens a payment. Data is plan|months|method[|promo].
func (b *Bot) handlePay(c tele.Context) error {
	args := c.Args()
	if len(args) < 3 {
		return service.ErrInvalidInput
	}
	months, err := strconv.Atoi(args[1])
	if err != nil {
		return service.ErrInvalidPeriod
	}
	in := service.PurchaseInput{
		Plan:   model.SubscriptionPlan(args[0]),
		Months: months,
		Method: model.PaymentMethod(args[2]),
	}
	if len(args) > 3 {
		in.PromoCode = args[3]
	}

	checkout, err := b.payments.CreateSubscriptionPayment(reqCtx(c), currentUser(c), in)
	if err != nil {
		return err
	}

	if checkout.Invoice != nil {
		return c.Send(checkout.Invoice)
	}
	if checkout.Payment.IsSuccessful() {
		return c.EditOrSend(fmt.Sprintf("🎉 Промокод покрыл всю стоимость. Подписка «%s» активирована!",
			checkout.Payment.Plan.Title()), backKeyboard())
	}
	text := fmt.Sprintf("💳 Счёт на %s ₽ создан.\n\nНажмите кнопку ниже, чтобы перейти к оплате. "+
		"Подписка активируется автоматически после подтверждения платежа.",
		model.FormatRubles(checkout.Payment.FinalAmount()))
	return c.EditOrSend(text, payLinkKeyboard(checkout.ConfirmationURL))
}

// handleCheckout answers a Stars pre-checkout query within Telegram's
// ten second window.
func (b *Bot) handleCheckout(c tele.Context) error {
	q := c.PreCheckoutQuery()
	msg, ok := b.payments.PreCheckout(reqCtx(c), q.Payload, q.Currency, q.Total)
	if !ok {
		b.logger.Warn("pre-checkout rejected", "telegram_id", senderID(c), "reason", msg)
		return c.Accept(msg)
	}
	return c.Accept()
}

func (b *Bot) handlePayment(c tele.Context) error {
	pm := c.Message().Payment
	p, err := b.payments.CompleteStarsPayment(reqCtx(c), pm.Payload, pm.Currency, pm.Total, pm.TelegramChargeID)
	if err != nil {
		return err
	}
	b.logger.Info("stars payment completed", "payment_id", p.ID, "user_id", p.UserID)

	sub, err := b.subs.Get(reqCtx(c), p.UserID)
	if err != nil {
		return c.Send("✅ Оплата получена! Спасибо.", mainMenuKeyboard())
	}
	return c.Send("✅ Оплата получена! Спасибо.\n\n"+render.Subscription(sub, b.now(), b.loc), mainMenuKeyboard())
}
