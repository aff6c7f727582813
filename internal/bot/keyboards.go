package bot

import (
	"fmt"
	"strconv"

	tele "gopkg.in/telebot.v3"

	"github.com/astrotarot/astrotarot/internal/model"
	"github.com/astrotarot/astrotarot/internal/service"
	"github.com/astrotarot/astrotarot/internal/tarot"
)

// Callback endpoints. Arguments travel in the callback data after the
// unique, separated by "|".
var (
	btnMenu     = tele.Btn{Unique: "menu"}
	btnBack     = tele.Btn{Unique: "back"}
	btnAstro    = tele.Btn{Unique: "astro"}
	btnNatal    = tele.Btn{Unique: "natal"}
	btnCompat   = tele.Btn{Unique: "compat"}
	btnForecast = tele.Btn{Unique: "forecast"}
	btnTarot    = tele.Btn{Unique: "tarot"}
	btnSpread   = tele.Btn{Unique: "spread"}
	btnCard     = tele.Btn{Unique: "card"}
	btnSub      = tele.Btn{Unique: "sub"}
	btnPlan     = tele.Btn{Unique: "plan"}
	btnPay      = tele.Btn{Unique: "pay"}
	btnSet      = tele.Btn{Unique: "set"}
	btnTone     = tele.Btn{Unique: "tone"}
	btnConfirm  = tele.Btn{Unique: "confirm"}
	btnCancel   = tele.Btn{Unique: "cancel"}
	btnDelete   = tele.Btn{Unique: "delete"}
	btnHistory  = tele.Btn{Unique: "history"}
	btnRate     = tele.Btn{Unique: "rate"}
	btnFav      = tele.Btn{Unique: "fav"}
	btnAbout    = tele.Btn{Unique: "about"}
	btnReading  = tele.Btn{Unique: "reading"}
)

// Arguments of the set and astro endpoints.
const (
	setNotifications = "notif"
	setDaily         = "daily"
	setTime          = "time"
	setTone          = "tone"
	setBirth         = "birth"
	setSkipTime      = "skiptime"
	setPromo         = "promo"
	setProfile       = "profile"

	astroMoon   = "moon"
	subPlans    = "plans"
	compatAdd   = "add"
	compatDel   = "del"
	confirmWipe = "delete"
)

func button(rm *tele.ReplyMarkup, text string, endpoint tele.Btn, args ...string) tele.Btn {
	return rm.Data(text, endpoint.Unique, args...)
}

func mainMenuKeyboard() *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{}
	rm.Inline(
		rm.Row(button(rm, "🎴 Карта дня", btnCard), button(rm, "🔮 Таро", btnTarot)),
		rm.Row(button(rm, "⭐ Астрология", btnAstro), button(rm, "💎 Подписка", btnSub)),
		rm.Row(button(rm, "👤 Профиль", btnSet, setProfile), button(rm, "⚙️ Настройки", btnSet)),
	)
	return rm
}

func backKeyboard() *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{}
	rm.Inline(rm.Row(button(rm, "⬅️ В меню", btnBack)))
	return rm
}

func cancelKeyboard() *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{}
	rm.Inline(rm.Row(button(rm, "❌ Отмена", btnCancel)))
	return rm
}

func astroKeyboard() *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{}
	rm.Inline(
		rm.Row(button(rm, "☀️ Гороскоп на сегодня", btnForecast, string(model.PeriodDay))),
		rm.Row(
			button(rm, "📅 На неделю", btnForecast, string(model.PeriodWeek)),
			button(rm, "🗓 На месяц", btnForecast, string(model.PeriodMonth)),
		),
		rm.Row(button(rm, "🌌 Натальная карта", btnNatal), button(rm, "💞 Совместимость", btnCompat)),
		rm.Row(button(rm, "🌙 Луна сегодня", btnAstro, astroMoon)),
		rm.Row(button(rm, "⬅️ В меню", btnBack)),
	)
	return rm
}

func tarotKeyboard(spreads []tarot.Spread) *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{}
	rows := []tele.Row{rm.Row(button(rm, "🎴 Карта дня", btnCard))}
	for _, sp := range spreads {
		if sp.Code == model.SpreadDailyCard {
			continue
		}
		rows = append(rows, rm.Row(button(rm, sp.Title(), btnSpread, sp.Code)))
	}
	rows = append(rows,
		rm.Row(button(rm, "📜 История раскладов", btnHistory)),
		rm.Row(button(rm, "⬅️ В меню", btnBack)),
	)
	rm.Inline(rows...)
	return rm
}

func afterReadingKeyboard() *tele.ReplyMarkup {
	return readingKeyboard(nil)
}

// readingKeyboard adds rating and favorite buttons for a stored reading,
// and a card description button when the reading has a single card.
func readingKeyboard(rd *model.Reading) *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{}
	var rows []tele.Row
	if rd != nil && rd.ID != "" {
		stars := make([]tele.Btn, 0, 5)
		for i := 1; i <= 5; i++ {
			stars = append(stars, button(rm, strconv.Itoa(i)+"⭐", btnRate, rd.ID, strconv.Itoa(i)))
		}
		rows = append(rows, rm.Row(stars...))

		fav := "☆ В избранное"
		if rd.Favorite {
			fav = "★ Убрать из избранного"
		}
		rows = append(rows, rm.Row(button(rm, fav, btnFav, rd.ID)))
	}
	if rd != nil && len(rd.Cards) == 1 {
		rows = append(rows, rm.Row(button(rm, "📖 О карте", btnAbout, strconv.Itoa(rd.Cards[0].CardID))))
	}
	rows = append(rows, rm.Row(button(rm, "🔮 Новый расклад", btnTarot), button(rm, "⬅️ В меню", btnBack)))
	rm.Inline(rows...)
	return rm
}

// historyKeyboard opens each listed reading.
func historyKeyboard(readings []*model.Reading, catalog *tarot.Catalog) *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{}
	rows := make([]tele.Row, 0, len(readings)+1)
	for _, rd := range readings {
		name := rd.SpreadCode
		if sp, err := catalog.Get(rd.SpreadCode); err == nil {
			name = sp.Name
		}
		label := rd.ReadingDate.Format(model.DateLayout) + " · " + name
		if rd.Question != "" {
			label = truncate(label+": "+rd.Question, 60)
		}
		if rd.Favorite {
			label = "⭐ " + label
		}
		rows = append(rows, rm.Row(button(rm, label, btnReading, rd.ID)))
	}
	rows = append(rows, rm.Row(button(rm, "🔮 Новый расклад", btnTarot), button(rm, "⬅️ В меню", btnBack)))
	rm.Inline(rows...)
	return rm
}

func partnersKeyboard(partners []*model.Partner, canAdd bool) *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{}
	rows := make([]tele.Row, 0, len(partners)+2)
	for _, p := range partners {
		rows = append(rows, rm.Row(
			button(rm, "💞 "+p.Name, btnCompat, p.ID),
			button(rm, "🗑", btnCompat, compatDel, p.ID),
		))
	}
	if canAdd {
		rows = append(rows, rm.Row(button(rm, "➕ Добавить партнёра", btnCompat, compatAdd)))
	}
	rows = append(rows, rm.Row(button(rm, "⬅️ Назад", btnAstro)))
	rm.Inline(rows...)
	return rm
}

func subscriptionKeyboard(plan model.SubscriptionPlan) *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{}
	title := "💎 Оформить подписку"
	if plan != model.PlanFree {
		title = "💎 Продлить или сменить тариф"
	}
	rm.Inline(
		rm.Row(button(rm, title, btnSub, subPlans)),
		rm.Row(button(rm, "🎁 Ввести промокод", btnSet, setPromo)),
		rm.Row(button(rm, "⬅️ В меню", btnBack)),
	)
	return rm
}

// plansKeyboard lists paid plans. A non-empty promo is carried along.
func plansKeyboard(promo string) *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{}
	rows := make([]tele.Row, 0, len(model.PaidPlans)+1)
	for _, p := range model.PaidPlans {
		price := model.FeaturesFor(p).MonthlyPrice
		text := fmt.Sprintf("%s · %s ₽/мес", p.Title(), model.FormatRubles(price))
		rows = append(rows, rm.Row(button(rm, text, btnPlan, planArgs(p, 0, promo)...)))
	}
	rows = append(rows, rm.Row(button(rm, "⬅️ Назад", btnSub)))
	rm.Inline(rows...)
	return rm
}

func periodsKeyboard(plan model.SubscriptionPlan, promo string) *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{}
	btns := make([]tele.Btn, 0, len(service.PurchasePeriods))
	for _, months := range service.PurchasePeriods {
		text := fmt.Sprintf("%d мес.", months)
		if months == model.AnnualPeriodMonths {
			text = fmt.Sprintf("12 мес. (−%d%%)", model.AnnualDiscountPercent)
		}
		btns = append(btns, button(rm, text, btnPlan, planArgs(plan, months, promo)...))
	}
	rows := rm.Split(2, btns)
	rows = append(rows, rm.Row(button(rm, "⬅️ Назад", btnSub, subPlans)))
	rm.Inline(rows...)
	return rm
}

// quoteKeyboard offers the payment methods for a chosen period.
func quoteKeyboard(q model.Quote, cards bool, stars int64) *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{}
	months := strconv.Itoa(q.Months)
	var rows []tele.Row
	if cards {
		args := []string{string(q.Plan), months, string(model.MethodCard)}
		if q.PromoCode != "" {
			args = append(args, q.PromoCode)
		}
		text := "💳 Картой · " + model.FormatRubles(q.Final) + " ₽"
		rows = append(rows, rm.Row(button(rm, text, btnPay, args...)))
	}
	if stars > 0 {
		text := fmt.Sprintf("⭐ Telegram Stars · %d", stars)
		rows = append(rows, rm.Row(button(rm, text, btnPay, string(q.Plan), months, string(model.MethodStars))))
	}
	if cards && q.PromoCode == "" {
		rows = append(rows, rm.Row(button(rm, "🎁 Ввести промокод", btnSet, setPromo, string(q.Plan), months)))
	}
	rows = append(rows, rm.Row(button(rm, "⬅️ Назад", btnPlan, string(q.Plan))))
	rm.Inline(rows...)
	return rm
}

func payLinkKeyboard(url string) *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{}
	rm.Inline(rm.Row(rm.URL("💳 Перейти к оплате", url)))
	return rm
}

func settingsKeyboard(u *model.User) *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{}
	rm.Inline(
		rm.Row(button(rm, "🔔 Уведомления: "+onOff(u.Notifications.Enabled), btnSet, setNotifications)),
		rm.Row(button(rm, "☀️ Ежедневный гороскоп: "+onOff(u.Notifications.DailyHoroscope), btnSet, setDaily)),
		rm.Row(button(rm, "⏰ Время гороскопа: "+u.Notifications.HoroscopeTime, btnSet, setTime)),
		rm.Row(button(rm, "🗣 Стиль: "+u.Tone.Title(), btnSet, setTone)),
		rm.Row(button(rm, "🪐 Данные рождения", btnSet, setBirth)),
		rm.Row(button(rm, "🗑 Удалить мои данные", btnDelete)),
		rm.Row(button(rm, "⬅️ В меню", btnBack)),
	)
	return rm
}

func toneKeyboard(current model.ToneOfVoice) *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{}
	btns := make([]tele.Btn, 0, len(model.Tones))
	for _, t := range model.Tones {
		text := t.Title()
		if t == current {
			text = "✅ " + text
		}
		btns = append(btns, button(rm, text, btnTone, string(t)))
	}
	rows := rm.Split(2, btns)
	rows = append(rows, rm.Row(button(rm, "⬅️ Назад", btnSet)))
	rm.Inline(rows...)
	return rm
}

func skipTimeKeyboard() *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{}
	rm.Inline(
		rm.Row(button(rm, "🤷 Не знаю времени", btnSet, setSkipTime)),
		rm.Row(button(rm, "❌ Отмена", btnCancel)),
	)
	return rm
}

func confirmDeleteKeyboard() *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{}
	rm.Inline(rm.Row(
		button(rm, "🗑 Да, удалить", btnConfirm, confirmWipe),
		button(rm, "Отмена", btnCancel),
	))
	return rm
}

func planArgs(plan model.SubscriptionPlan, months int, promo string) []string {
	args := []string{string(plan)}
	if months > 0 || promo != "" {
		args = append(args, strconv.Itoa(months))
	}
	if promo != "" {
		args = append(args, promo)
	}
	return args
}

func onOff(v bool) string {
	if v {
		return "вкл"
	}
	return "выкл"
}
