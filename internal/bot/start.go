package bot

import (
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v3"

	"github.com/astrotarot/astrotarot/internal/astro"
	"github.com/astrotarot/astrotarot/internal/model"
	"github.com/astrotarot/astrotarot/internal/render"
	"github.com/astrotarot/astrotarot/internal/service"
)

const helpText = `<b>Что я умею</b>

🎴 /card — карта дня
🔮 /tarot — расклады Таро
⭐ /forecast — гороскоп (/forecast week, /forecast month)
🌌 /natal — натальная карта
💞 /compatibility — совместимость с партнёром
🌙 /moon — лунный календарь
💎 /subscription — ваш тариф, /subscribe — тарифы
👤 /profile — профиль и приглашения
⚙️ /settings — уведомления, стиль ответов, данные рождения
🗑 /delete — удалить мои данные
❌ /cancel — прервать текущий диалог`

func (b *Bot) handleStart(c tele.Context) error {
	user := currentUser(c)
	b.clearState(c)

	if isNew, _ := c.Get(keyNewUser).(bool); !isNew {
		text := fmt.Sprintf("С возвращением, %s! 🌟\n\nЧем займёмся сегодня?", render.Esc(user.DisplayName()))
		return c.Send(text, mainMenuKeyboard())
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Добро пожаловать, %s! ✨\n\n", render.Esc(user.DisplayName()))
	sb.WriteString("Я твой проводник в мире Таро и астрологии. Помогу:\n")
	sb.WriteString("• получить ответ на волнующий вопрос 🎴\n")
	sb.WriteString("• узнать, что готовят звёзды ⭐\n")
	sb.WriteString("• раскрыть тайны натальной карты 🌌\n")
	if ref, ok := c.Get(keyReferrer).(*model.User); ok && ref != nil {
		fmt.Fprintf(&sb, "\n🎁 Вы пришли по приглашению: вам начислено %d дня тарифа «%s».\n",
			service.NewcomerBonusDays, model.PlanBasic.Title())
	}
	if err := c.Send(sb.String()); err != nil {
		return err
	}

	if !user.HasBirthData() {
		return b.startBirthFlow(c, "Чтобы гороскопы и натальная карта были точными, давайте познакомимся.\n\n")
	}
	return c.Send("Выберите, с чего начнём 👇", mainMenuKeyboard())
}

func (b *Bot) handleHelp(c tele.Context) error {
	return c.Send(helpText, backKeyboard())
}

func (b *Bot) handleMenu(c tele.Context) error {
	b.clearState(c)
	return c.EditOrSend("📱 <b>Главное меню</b>\n\nВыберите раздел:", mainMenuKeyboard())
}

func (b *Bot) handleCancel(c tele.Context) error {
	b.clearState(c)
	return c.EditOrSend("Действие отменено.", mainMenuKeyboard())
}

func (b *Bot) handleProfile(c tele.Context) error {
	user := currentUser(c)
	stats, err := b.users.Statistics(reqCtx(c), user)
	if err != nil {
		return err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "👤 %s\n\n", render.B(user.DisplayName()))
	if user.HasBirthData() {
		if sign, err := astro.SignByKey(user.ZodiacSign); err == nil {
			fmt.Fprintf(&sb, "Знак зодиака: %s\n", render.Esc(sign.Title()))
		}
		sb.WriteString(render.Esc(user.Birth.Display()) + "\n\n")
	} else {
		sb.WriteString(render.I("Данные рождения не указаны") + "\n\n")
	}

	fmt.Fprintf(&sb, "Тариф: %s", render.Esc(stats.Plan.Title()))
	if stats.Plan != model.PlanFree {
		fmt.Fprintf(&sb, " (осталось %d дн.)", stats.DaysLeft)
	}
	fmt.Fprintf(&sb, "\nС ботом: %d дн.\nРаскладов: %d\nПартнёров: %d\nПриглашено друзей: %d\n",
		stats.DaysWithBot, stats.TotalReadings, stats.Partners, stats.Referrals)

	fmt.Fprintf(&sb, "\n🎁 Пригласите друга и получите %d дней тарифа «%s»:\n%s",
		service.ReferrerBonusDays, model.PlanBasic.Title(), render.Esc(b.referralLink(user)))
	return c.EditOrSend(sb.String(), settingsKeyboard(user))
}

func (b *Bot) referralLink(u *model.User) string {
	return fmt.Sprintf("https://t.me/%s?start=%s", b.username, u.ReferralCode)
}

func (b *Bot) handleSettings(c tele.Context) error {
	user := currentUser(c)
	text := fmt.Sprintf("⚙️ <b>Настройки</b>\n\nСтиль ответов: %s\nВремя гороскопа: %s",
		render.Esc(user.Tone.Title()), render.Esc(user.Notifications.HoroscopeTime))
	return c.EditOrSend(text, settingsKeyboard(user))
}

// handleSet routes the settings buttons.
func (b *Bot) handleSet(c tele.Context) error {
	user := currentUser(c)
	ctx := reqCtx(c)
	args := c.Args()

	switch args[0] {
	case setNotifications:
		on := !user.Notifications.Enabled
		return b.updateSettings(c, model.UserSettingsUpdate{NotificationsOn: &on})
	case setDaily:
		on := !user.Notifications.DailyHoroscope
		return b.updateSettings(c, model.UserSettingsUpdate{DailyHoroscopeOn: &on})
	case setTime:
		if err := b.states.SetState(ctx, user.TelegramID, stateHoroscopeTime, nil); err != nil {
			return err
		}
		return c.Send("⏰ Во сколько присылать гороскоп? Введите время в формате ЧЧ:ММ, например 08:30.", cancelKeyboard())
	case setTone:
		return c.EditOrSend("🗣 Выберите стиль ответов:", toneKeyboard(user.Tone))
	case setBirth:
		return b.startBirthFlow(c, "")
	case setSkipTime:
		return b.skipBirthTime(c)
	case setPromo:
		return b.askPromo(c, args[1:])
	case setProfile:
		return b.handleProfile(c)
	default:
		return b.handleSettings(c)
	}
}

func (b *Bot) handleTone(c tele.Context) error {
	tone := model.ToneOfVoice(c.Data())
	return b.updateSettings(c, model.UserSettingsUpdate{Tone: &tone})
}

func (b *Bot) updateSettings(c tele.Context, upd model.UserSettingsUpdate) error {
	user, err := b.users.UpdateSettings(reqCtx(c), currentUser(c).ID, upd)
	if err != nil {
		return err
	}
	c.Set(keyUser, user)
	return b.handleSettings(c)
}

func (b *Bot) handleDeleteAsk(c tele.Context) error {
	return c.EditOrSend("🗑 <b>Удалить все ваши данные?</b>\n\n"+
		"Будут удалены данные рождения, партнёры и история раскладов. "+
		"Активная подписка будет отменена без возврата средств. Действие необратимо.",
		confirmDeleteKeyboard())
}

func (b *Bot) handleConfirm(c tele.Context) error {
	if c.Data() != confirmWipe {
		return b.handleMenu(c)
	}
	user := currentUser(c)
	if err := b.users.DeleteData(reqCtx(c), user.ID); err != nil {
		return err
	}
	b.clearState(c)
	b.logger.Info("user deleted own data", "user_id", user.ID)
	return c.EditOrSend("Ваши данные удалены. Если захотите вернуться, отправьте /start. 🌙")
}
