package bot

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v3"

	"github.com/astrotarot/astrotarot/internal/astro"
	"github.com/astrotarot/astrotarot/internal/cache"
	"github.com/astrotarot/astrotarot/internal/model"
	"github.com/astrotarot/astrotarot/internal/render"
	"github.com/astrotarot/astrotarot/internal/service"
)

// Conversation steps kept in Redis.
const (
	stateBirthName     = "birth_name"
	stateBirthDate     = "birth_date"
	stateBirthTime     = "birth_time"
	stateBirthCity     = "birth_city"
	stateQuestion      = "tarot_question"
	statePartnerName   = "partner_name"
	statePartnerDate   = "partner_date"
	statePromo         = "promo_code"
	stateHoroscopeTime = "horoscope_time"
	stateBroadcast     = "broadcast_text"
)

// handleText feeds free text to the current conversation step.
func (b *Bot) handleText(c tele.Context) error {
	user := currentUser(c)
	ctx := reqCtx(c)

	st, err := b.states.GetState(ctx, user.TelegramID)
	if err != nil {
		return err
	}
	text := strings.TrimSpace(c.Text())

	switch st.Name {
	case stateBirthName:
		name, err := model.ValidateName(text)
		if err != nil {
			return err
		}
		if err := b.states.SetState(ctx, user.TelegramID, stateBirthDate, map[string]string{"name": name}); err != nil {
			return err
		}
		return c.Send("📅 Введите дату рождения в формате ДД.ММ.ГГГГ, например 25.03.1990.", cancelKeyboard())

	case stateBirthDate:
		date, err := model.ParseBirthDate(text, b.now())
		if err != nil {
			return err
		}
		if err := b.states.SetState(ctx, user.TelegramID, stateBirthTime, map[string]string{"date": date.Format(model.DateLayout)}); err != nil {
			return err
		}
		return c.Send("🕰 Введите время рождения в формате ЧЧ:ММ. Оно нужно для асцендента и домов.", skipTimeKeyboard())

	case stateBirthTime:
		tm, err := model.ParseClock(text)
		if err != nil {
			return err
		}
		return b.askBirthCity(c, tm)

	case stateBirthCity:
		return b.finishBirthFlow(c, st, text)

	case stateQuestion:
		question, err := model.ValidateQuestion(text)
		if err != nil {
			return err
		}
		b.clearState(c)
		return b.runSpread(c, st.Get("spread"), question)

	case statePartnerName:
		name, err := model.ValidateName(text)
		if err != nil {
			return err
		}
		if err := b.states.SetState(ctx, user.TelegramID, statePartnerDate, map[string]string{"name": name}); err != nil {
			return err
		}
		return c.Send("📅 Дата рождения партнёра в формате ДД.ММ.ГГГГ:", cancelKeyboard())

	case statePartnerDate:
		date, err := model.ParseBirthDate(text, b.now())
		if err != nil {
			return err
		}
		partner, err := b.users.AddPartner(ctx, user.ID, service.PartnerInput{Name: st.Get("name"), Date: date})
		if err != nil {
			return err
		}
		b.clearState(c)
		return b.sendCompatibility(c, partner.ID)

	case statePromo:
		return b.applyPromo(c, st, text)

	case stateHoroscopeTime:
		tm, err := model.ParseClock(text)
		if err != nil {
			return err
		}
		b.clearState(c)
		return b.updateSettings(c, model.UserSettingsUpdate{HoroscopeTime: &tm})

	case stateBroadcast:
		if !user.IsAdmin() {
			b.clearState(c)
			return nil
		}
		b.clearState(c)
		return b.broadcast(c, model.SubscriptionPlan(st.Get("plan")), text)

	default:
		return c.Send("Я понимаю команды и кнопки меню 👇", mainMenuKeyboard())
	}
}

func (b *Bot) startBirthFlow(c tele.Context, intro string) error {
	user := currentUser(c)
	if err := b.states.SetState(reqCtx(c), user.TelegramID, stateBirthName, nil); err != nil {
		return err
	}
	return c.Send(intro+"✍️ Как вас зовут?", cancelKeyboard())
}

func (b *Bot) skipBirthTime(c tele.Context) error {
	st, err := b.states.GetState(reqCtx(c), currentUser(c).TelegramID)
	if err != nil {
		return err
	}
	if st.Name != stateBirthTime {
		return b.handleSettings(c)
	}
	return b.askBirthCity(c, "")
}

func (b *Bot) askBirthCity(c tele.Context, tm string) error {
	user := currentUser(c)
	if err := b.states.SetState(reqCtx(c), user.TelegramID, stateBirthCity, map[string]string{"time": tm}); err != nil {
		return err
	}
	return c.Send("🏙 В каком городе вы родились?", cancelKeyboard())
}

func (b *Bot) finishBirthFlow(c tele.Context, st *cache.State, city string) error {
	user := currentUser(c)
	date, err := time.Parse(model.DateLayout, st.Get("date"))
	if err != nil {
		b.clearState(c)
		return b.startBirthFlow(c, "Не удалось восстановить введённые данные. Начнём заново.\n\n")
	}

	updated, err := b.users.UpdateBirthData(reqCtx(c), user.ID, service.BirthInput{
		Name: st.Get("name"),
		Date: date,
		Time: st.Get("time"),
		City: city,
	})
	if err != nil {
		return err
	}
	b.clearState(c)
	c.Set(keyUser, updated)

	text := "✅ Данные сохранены!"
	if sign, err := astro.SignByKey(updated.ZodiacSign); err == nil {
		text += fmt.Sprintf("\n\nВаш знак: %s (%s)", render.B(sign.Title()), render.Esc(sign.Dates()))
	}
	return c.Send(text, mainMenuKeyboard())
}

// askPromo starts promo entry. args are an optional plan and period.
func (b *Bot) askPromo(c tele.Context, args []string) error {
	data := map[string]string{}
	if len(args) >= 2 {
		data["plan"] = args[0]
		data["months"] = args[1]
	}
	if err := b.states.SetState(reqCtx(c), currentUser(c).TelegramID, statePromo, data); err != nil {
		return err
	}
	return c.Send("🎁 Введите промокод:", cancelKeyboard())
}

// applyPromo grants bonus codes at once and carries discount codes on to
// the payment screen.
func (b *Bot) applyPromo(c tele.Context, st *cache.State, code string) error {
	user := currentUser(c)
	ctx := reqCtx(c)
	plan := model.SubscriptionPlan(st.Get("plan"))
	months, _ := strconv.Atoi(st.Get("months"))

	promo, err := b.subs.ValidatePromo(ctx, user.ID, code, plan)
	if err != nil {
		return err
	}

	if promo.TrialDays() > 0 {
		sub, err := b.subs.ApplyBonusPromo(ctx, user.ID, promo)
		if err != nil {
			return err
		}
		b.clearState(c)
		return c.Send("🎁 Промокод активирован!\n\n"+render.Subscription(sub, b.now(), b.loc), mainMenuKeyboard())
	}

	if plan == "" || months == 0 {
		b.clearState(c)
		return c.Send("🎁 Промокод принят. Выберите тариф:", plansKeyboard(promo.Code))
	}

	q, err := b.subs.Quote(ctx, user.ID, plan, months, promo.Code)
	if err != nil {
		return err
	}
	b.clearState(c)
	return c.Send(render.Quote(q), quoteKeyboard(q, b.payments.CardsEnabled(), b.payments.StarsPrice(plan, months)))
}

func (b *Bot) clearState(c tele.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}
	if err := b.states.ClearState(reqCtx(c), user.TelegramID); err != nil {
		b.logger.Warn("failed to clear conversation state", "telegram_id", user.TelegramID, "error", err)
	}
}
