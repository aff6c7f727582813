// Package render formats domain objects as Telegram HTML messages.
package render

import (
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"github.com/astrotarot/astrotarot/internal/astro"
	"github.com/astrotarot/astrotarot/internal/model"
	"github.com/astrotarot/astrotarot/internal/tarot"
)

// Esc escapes user or model text for HTML parse mode.
func Esc(s string) string {
	return html.EscapeString(s)
}

// B returns bold escaped text.
func B(s string) string {
	return "<b>" + Esc(s) + "</b>"
}

// I returns italic escaped text.
func I(s string) string {
	return "<i>" + Esc(s) + "</i>"
}

// Horoscope renders a horoscope.
func Horoscope(h *model.Horoscope) string {
	sign, err := astro.SignByKey(h.Sign)
	title := h.SignName
	if err == nil {
		title = sign.Title()
	}

	nums := make([]string, len(h.LuckyNumbers))
	for i, n := range h.LuckyNumbers {
		nums[i] = strconv.Itoa(n)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n%s\n\n", B(title), I("Гороскоп "+h.Period.Title()))
	fmt.Fprintf(&b, "🌟 %s\n%s\n\n", B("Общее"), Esc(h.General))
	fmt.Fprintf(&b, "❤️ %s\n%s\n\n", B("Любовь"), Esc(h.Love))
	fmt.Fprintf(&b, "💼 %s\n%s\n\n", B("Карьера"), Esc(h.Career))
	fmt.Fprintf(&b, "🍀 %s\n%s\n\n", B("Здоровье"), Esc(h.Health))
	fmt.Fprintf(&b, "🔢 Счастливые числа: %s\n", strings.Join(nums, ", "))
	fmt.Fprintf(&b, "🎨 Цвет дня: %s", Esc(h.LuckyColor))
	return b.String()
}

// Moon renders the moon phase of a day.
func Moon(m astro.MoonInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n\n", m.Emoji, B("Луна сегодня: "+m.Phase))
	fmt.Fprintf(&b, "Лунный день: %d\n", m.LunarDay)
	fmt.Fprintf(&b, "Освещённость: %d%%\n", m.Illumination)
	fmt.Fprintf(&b, "Луна в знаке: %s\n\n", Esc(m.MoonSign.Title()))
	fmt.Fprintf(&b, "💡 %s\n", Esc(m.Recommendations.General))
	fmt.Fprintf(&b, "✅ Подходит для: %s\n", Esc(m.Recommendations.GoodFor))
	fmt.Fprintf(&b, "⚠️ %s", Esc(m.Recommendations.Avoid))
	return b.String()
}

// DailyCard renders the card of the day.
func DailyCard(c tarot.Card, reversed bool, interpretation string, existing bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🎴 %s\n\n", B("Карта дня: "+tarot.DisplayName(c, reversed)))
	b.WriteString(Esc(interpretation))
	if existing {
		b.WriteString("\n\n" + I("Карта дня уже вытянута. Новая будет доступна завтра."))
	}
	return b.String()
}

// Reading renders a finished spread.
func Reading(rd *model.Reading, sp tarot.Spread) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", B(sp.Title()))
	if rd.Question != "" {
		fmt.Fprintf(&b, "❓ %s\n", I(rd.Question))
	}
	b.WriteString("\n")
	for _, dc := range rd.Cards {
		c, err := tarot.CardByID(dc.CardID)
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "%d. %s: %s\n", dc.Position, Esc(sp.Position(dc.Position)), B(tarot.DisplayName(c, dc.Reversed)))
	}
	b.WriteString("\n" + Esc(rd.Interpretation))
	return b.String()
}

// CardInfo renders the reference page of a card.
func CardInfo(c tarot.Card, upright, reversed string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🃏 %s\n", B(c.Name))
	fmt.Fprintf(&b, "Стихия: %s\nКлючевые слова: %s\n\n", Esc(c.Element), Esc(strings.Join(c.Keywords, ", ")))
	fmt.Fprintf(&b, "⬆️ %s\n%s\n\n", B("Прямое положение"), Esc(upright))
	fmt.Fprintf(&b, "⬇️ %s\n%s", B("Перевёрнутое положение"), Esc(reversed))
	return b.String()
}

// Natal renders a natal chart.
func Natal(c astro.Chart, interpretation string, full bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🌌 %s\n\n", B("Натальная карта"))
	fmt.Fprintf(&b, "☉ Солнце: %s\n", Esc(c.SunSign.Title()))
	fmt.Fprintf(&b, "☽ Луна: %s\n", Esc(c.MoonSign.Title()))
	if c.Ascendant != nil {
		fmt.Fprintf(&b, "↑ Асцендент: %s\n", Esc(c.Ascendant.Title()))
	} else {
		b.WriteString(I("Асцендент не рассчитан: время рождения неизвестно.") + "\n")
	}
	fmt.Fprintf(&b, "Стихия: %s\n", Esc(c.DominantElement))

	if full {
		b.WriteString("\n" + B("Планеты") + "\n")
		for _, p := range c.Planets {
			fmt.Fprintf(&b, "%s: %s %.1f°, дом %d\n", Esc(p.Name), Esc(p.SignName), p.Degree, p.House)
		}
	}
	b.WriteString("\n" + Esc(interpretation))
	if !full {
		b.WriteString("\n\n" + I("Полная карта с планетами и аспектами доступна на платных тарифах."))
	}
	return b.String()
}

// Compatibility renders a synastry report.
func Compatibility(partner string, res astro.CompatibilityResult, interpretation string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "💞 %s\n\n", B("Совместимость с "+partner))
	fmt.Fprintf(&b, "%s + %s\n", Esc(res.Sign1.Title()), Esc(res.Sign2.Title()))
	fmt.Fprintf(&b, "Общая оценка: %s\n\n", B(strconv.Itoa(res.Overall)+"%"))
	for _, key := range []string{"emotional", "intellectual", "physical", "values", "communication", "longterm"} {
		fmt.Fprintf(&b, "%s: %d%%\n", Esc(astro.AspectNames[key]), res.Aspects[key])
	}
	b.WriteString("\n" + Esc(interpretation))
	return b.String()
}

// Subscription renders the subscription status screen.
func Subscription(sub *model.Subscription, now time.Time, loc *time.Location) string {
	plan := sub.EffectivePlan(now)
	f := model.FeaturesFor(plan)

	var b strings.Builder
	fmt.Fprintf(&b, "💎 %s\n\n", B("Ваш тариф: "+plan.Title()))
	if sub.IsActive(now) && sub.ExpiresAt != nil {
		fmt.Fprintf(&b, "Действует до: %s (%d дн.)\n", sub.ExpiresAt.In(loc).Format(model.DateLayout), sub.DaysLeft(now))
		if !sub.AutoRenewal {
			b.WriteString(I("Автопродление отключено") + "\n")
		}
	}
	fmt.Fprintf(&b, "Раскладов в день: %d\n", f.DailySpreadsLimit)
	fmt.Fprintf(&b, "Партнёров для совместимости: %d\n", f.MaxPartners)
	fmt.Fprintf(&b, "Прогноз на: %d дн.", f.ForecastDays)
	return b.String()
}

// Plans renders the tariff comparison.
func Plans() string {
	var b strings.Builder
	b.WriteString("💎 " + B("Тарифы") + "\n")
	for _, p := range model.PaidPlans {
		f := model.FeaturesFor(p)
		fmt.Fprintf(&b, "\n%s: %s ₽/мес\n", B(p.Title()), model.FormatRubles(f.MonthlyPrice))
		fmt.Fprintf(&b, "• раскладов в день: %d\n• партнёров: %d\n• прогноз: %d дн.\n",
			f.DailySpreadsLimit, f.MaxPartners, f.ForecastDays)
	}
	fmt.Fprintf(&b, "\nПри оплате на год скидка %d%%.", model.AnnualDiscountPercent)
	return b.String()
}

// Quote renders a price before payment.
func Quote(q model.Quote) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", B(fmt.Sprintf("Тариф «%s» на %d мес.", q.Plan.Title(), q.Months)))
	fmt.Fprintf(&b, "Стоимость: %s ₽\n", model.FormatRubles(q.Base))
	if q.Discount > 0 {
		fmt.Fprintf(&b, "Скидка по промокоду %s: −%s ₽\n", Esc(q.PromoCode), model.FormatRubles(q.Discount))
	}
	fmt.Fprintf(&b, "К оплате: %s", B(model.FormatRubles(q.Final)+" ₽"))
	return b.String()
}
