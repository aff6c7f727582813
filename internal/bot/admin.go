package bot

import (
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v3"

	"github.com/astrotarot/astrotarot/internal/model"
	"github.com/astrotarot/astrotarot/internal/render"
)

const adminHelp = `🛠 <b>Администрирование</b>

/stats — сводка по пользователям, подпискам и выручке
/broadcast текст — рассылка всем
/broadcast premium текст — рассылка пользователям тарифа и выше`

func (b *Bot) handleAdmin(c tele.Context) error {
	return c.Send(adminHelp)
}

func (b *Bot) handleStats(c tele.Context) error {
	st, err := b.admin.System(reqCtx(c))
	if err != nil {
		return err
	}

	var sb strings.Builder
	sb.WriteString("📊 <b>Статистика</b>\n\n")
	fmt.Fprintf(&sb, "👥 Пользователей: %d (прирост за неделю %.1f%%)\n", st.Users.Total, st.Users.GrowthRate)
	fmt.Fprintf(&sb, "Активны сегодня / 7 дн. / 30 дн.: %d / %d / %d\n\n",
		st.Users.ActiveToday, st.Users.ActiveWeek, st.Users.ActiveMonth)

	fmt.Fprintf(&sb, "💎 Активных подписок: %d (конверсия %.1f%%)\n", st.Subscriptions.TotalActive, st.Subscriptions.ConversionRate)
	for _, p := range model.PaidPlans {
		fmt.Fprintf(&sb, "• %s: %d\n", render.Esc(p.Title()), st.Subscriptions.ByPlan[p])
	}

	fmt.Fprintf(&sb, "\n🔮 Раскладов: %d (%.1f на пользователя)\n", st.Usage.TotalSpreads, st.Usage.SpreadsPerUser)
	fmt.Fprintf(&sb, "⭐ Гороскопов: %d\n\n", st.Usage.TotalHoroscopes)

	fmt.Fprintf(&sb, "💰 Выручка сегодня: %s ₽\n", model.FormatRubles(st.Revenue.Today))
	fmt.Fprintf(&sb, "За 30 дней: %s ₽\n", model.FormatRubles(st.Revenue.Month))
	fmt.Fprintf(&sb, "Всего: %s ₽, ARPU %s ₽", model.FormatRubles(st.Revenue.Total), model.FormatRubles(st.Revenue.ARPU))
	return c.Send(sb.String())
}

// handleBroadcast sends "/broadcast [plan] text" or asks for the text.
func (b *Bot) handleBroadcast(c tele.Context) error {
	payload := strings.TrimSpace(c.Message().Payload)
	plan := model.SubscriptionPlan("")
	if first, rest, ok := strings.Cut(payload, " "); ok {
		if p := model.SubscriptionPlan(strings.ToLower(first)); p.Valid() {
			plan, payload = p, strings.TrimSpace(rest)
		}
	}

	if payload == "" {
		data := map[string]string{"plan": string(plan)}
		if err := b.states.SetState(reqCtx(c), currentUser(c).TelegramID, stateBroadcast, data); err != nil {
			return err
		}
		return c.Send("📣 Отправьте текст рассылки (HTML разрешён):", cancelKeyboard())
	}
	return b.broadcast(c, plan, payload)
}

func (b *Bot) broadcast(c tele.Context, plan model.SubscriptionPlan, text string) error {
	res, err := b.admin.Broadcast(reqCtx(c), model.BroadcastRequest{Text: text, Plan: plan})
	if err != nil {
		return err
	}
	b.logger.Info("broadcast queued", "admin_id", currentUser(c).ID, "plan", plan, "queued", res.Queued)
	return c.Send(fmt.Sprintf("📣 Рассылка поставлена в очередь: %d получателей.", res.Queued))
}
