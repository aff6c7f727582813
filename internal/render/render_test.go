package render

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/astrotarot/astrotarot/internal/model"
	"github.com/astrotarot/astrotarot/internal/tarot"
)

func TestEscaping(t *testing.T) {
	assert.Equal(t, "&lt;b&gt;x&amp;y&lt;/b&gt;", Esc("<b>x&y</b>"))
	assert.Equal(t, "<b>a &lt; b</b>", B("a < b"))
	assert.Equal(t, "<i>&#34;q&#34;</i>", I(`"q"`))
}

func TestHoroscope(t *testing.T) {
	out := Horoscope(&model.Horoscope{
		Sign:         "leo",
		SignName:     "Лев",
		Period:       model.PeriodWeek,
		General:      "Всё <хорошо>",
		LuckyNumbers: []int{3, 7, 21},
		LuckyColor:   "золотой",
	})
	assert.Contains(t, out, "<b>♌ Лев</b>")
	assert.Contains(t, out, "<i>Гороскоп на неделю</i>")
	assert.Contains(t, out, "Всё &lt;хорошо&gt;")
	assert.Contains(t, out, "Счастливые числа: 3, 7, 21")
}

func TestDailyCard(t *testing.T) {
	c := tarot.MustCard(0)
	fresh := DailyCard(c, false, "text", false)
	assert.Contains(t, fresh, tarot.DisplayName(c, false))
	assert.NotContains(t, fresh, "уже вытянута")

	again := DailyCard(c, true, "text", true)
	assert.Contains(t, again, tarot.DisplayName(c, true))
	assert.Contains(t, again, "уже вытянута")
}

func TestReading(t *testing.T) {
	sp, err := tarot.DefaultCatalog().Get("three_cards")
	assert.NoError(t, err)

	out := Reading(&model.Reading{
		Question:       "Что будет?",
		Cards:          []model.DrawnCard{{CardID: 0, Position: 1}, {CardID: 1, Position: 2, Reversed: true}, {CardID: 2, Position: 3}},
		Interpretation: "Ответ",
	}, sp)
	assert.Contains(t, out, "<i>Что будет?</i>")
	assert.Contains(t, out, "1. "+Esc(sp.Position(1)))
	assert.Contains(t, out, tarot.DisplayName(tarot.MustCard(1), true))
	assert.Contains(t, out, "Ответ")
}

func TestSubscription(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	sub := model.NewFreeSubscription("s1", "u1", now)
	out := Subscription(sub, now, time.UTC)
	assert.Contains(t, out, "Ваш тариф: "+model.PlanFree.Title())
	assert.Contains(t, out, "Раскладов в день: 1")
	assert.NotContains(t, out, "Действует до")

	assert.NoError(t, sub.Activate(model.PlanPremium, 1, now))
	out = Subscription(sub, now, time.UTC)
	assert.Contains(t, out, "Действует до: 15.07.2024 (30 дн.)")
	assert.Contains(t, out, "Автопродление отключено")
}

func TestPlansAndQuote(t *testing.T) {
	plans := Plans()
	assert.Contains(t, plans, "299.00 ₽/мес")
	assert.Contains(t, plans, "скидка 20%")

	q := Quote(model.Quote{Plan: model.PlanBasic, Months: 1, Base: 29900, Discount: 2990, Final: 26910, PromoCode: "SALE10"})
	assert.Contains(t, q, "Стоимость: 299.00 ₽")
	assert.Contains(t, q, "SALE10: −29.90 ₽")
	assert.Contains(t, q, "<b>269.10 ₽</b>")

	plain := Quote(model.Quote{Plan: model.PlanBasic, Months: 1, Base: 29900, Final: 29900})
	assert.NotContains(t, plain, "Скидка")
}
