package bot

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v3"

	"github.com/astrotarot/astrotarot/internal/metrics"
	"github.com/astrotarot/astrotarot/internal/model"
	"github.com/astrotarot/astrotarot/internal/service"
	"github.com/astrotarot/astrotarot/internal/tarot"
)

var (
	tgUser  = &tele.User{ID: 42, FirstName: "Анна"}
	testCtx = context.Background()
)

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		want  string
		known bool
	}{
		{"wrapped sentinel", fmt.Errorf("update: %w", service.ErrBirthDataRequired), "данные рождения", true},
		{"validation", model.ErrFutureDate, "в будущем", true},
		{"feature", &service.FeatureError{Feature: "natal", Plan: model.PlanPremium}, "Премиум", true},
		{"limit", &service.LimitError{Limit: 3, Plan: model.PlanFree}, "3 в день", true},
		{"unexpected", errors.New("connection reset"), msgInternal, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, known := userMessage(tt.err)
			assert.Equal(t, tt.known, known)
			assert.Contains(t, text, tt.want)
		})
	}
}

func TestCommandName(t *testing.T) {
	assert.Equal(t, "start", commandName("/start ref123"))
	assert.Equal(t, "forecast", commandName("/Forecast@AstroBot week"))
	assert.Equal(t, "", commandName("hello"))
}

func TestCommandsCoverHelp(t *testing.T) {
	menu := make(map[string]bool, len(commands))
	for _, c := range commands {
		menu[c.Text] = true
	}
	for _, m := range regexp.MustCompile(`(?:^|\s)/([a-z]+)`).FindAllStringSubmatch(helpText, -1) {
		assert.True(t, menu[m[1]], "/%s is in the help but not in the command menu", m[1])
	}
	assert.True(t, menu["subscribe"])
	assert.True(t, menu["delete"])
}

func TestUpdateKind(t *testing.T) {
	assert.Equal(t, "command", updateKind(newMessageContext(tgUser, "/card")))
	assert.Equal(t, "message", updateKind(newMessageContext(tgUser, "Анна")))
	assert.Equal(t, "callback", updateKind(newCallbackContext(tgUser, "menu", "")))
	assert.Equal(t, "checkout", updateKind(&MockContext{Checkout: &tele.PreCheckoutQuery{}}))
	assert.Equal(t, "payment", updateKind(&MockContext{Msg: &tele.Message{Payment: &tele.Payment{}}}))
}

func TestCallbackDataFitsTelegramLimit(t *testing.T) {
	user := testUser()
	q := model.Quote{Plan: model.PlanVIP, Months: 12, PromoCode: "ABCDEFGHIJKLMNOPQRST"}
	partners := []*model.Partner{{ID: "01HZY3M8Q4W5E6R7T8Y9U0I1O2", Name: "Иван"}}
	rd := &model.Reading{ID: testReadingID, Cards: []model.DrawnCard{{CardID: 77}}}

	keyboards := map[string]*tele.ReplyMarkup{
		"main":     mainMenuKeyboard(),
		"astro":    astroKeyboard(),
		"tarot":    tarotKeyboard(tarot.DefaultCatalog().List()),
		"partners": partnersKeyboard(partners, true),
		"plans":    plansKeyboard(q.PromoCode),
		"periods":  periodsKeyboard(model.PlanPremium, q.PromoCode),
		"quote":    quoteKeyboard(q, true, 6240),
		"settings": settingsKeyboard(user),
		"tone":     toneKeyboard(model.ToneMystic),
		"skip":     skipTimeKeyboard(),
		"delete":   confirmDeleteKeyboard(),
		"reading":  readingKeyboard(rd),
	}
	for name, rm := range keyboards {
		for _, row := range rm.InlineKeyboard {
			for _, btn := range row {
				if btn.URL != "" {
					continue
				}
				data := "\f" + btn.Unique
				if btn.Data != "" {
					data += "|" + btn.Data
				}
				assert.LessOrEqual(t, len(data), model.MaxCallbackDataLength, "%s: %q", name, btn.Text)
			}
		}
	}
}

func TestPlanArgs(t *testing.T) {
	assert.Equal(t, []string{"basic"}, planArgs(model.PlanBasic, 0, ""))
	assert.Equal(t, []string{"basic", "3"}, planArgs(model.PlanBasic, 3, ""))
	assert.Equal(t, []string{"vip", "0", "SPRING"}, planArgs(model.PlanVIP, 0, "SPRING"))
}

func TestLoadUser(t *testing.T) {
	var reached bool
	next := func(tele.Context) error {
		reached = true
		return nil
	}

	t.Run("new user with referral", func(t *testing.T) {
		reached = false
		referrer := &model.User{ID: "01HREF"}
		users := &fakeUsers{result: &service.RegisterResult{User: testUser(), Created: true, Referrer: referrer}}
		b, _ := newTestBot(users, &fakeSubs{})

		c := newMessageContext(tgUser, "/start FRIEND42")
		require.NoError(t, b.loadUser(next)(c))

		assert.True(t, reached)
		assert.Equal(t, []string{"FRIEND42"}, users.referrals)
		assert.Empty(t, users.touched)
		assert.Equal(t, true, c.Get(keyNewUser))
		assert.Same(t, referrer, c.Get(keyReferrer))
	})

	t.Run("returning user is touched", func(t *testing.T) {
		reached = false
		users := &fakeUsers{result: &service.RegisterResult{User: testUser()}}
		b, _ := newTestBot(users, &fakeSubs{})

		require.NoError(t, b.loadUser(next)(newMessageContext(tgUser, "привет")))
		assert.True(t, reached)
		assert.Equal(t, []string{""}, users.referrals)
		assert.Equal(t, []string{"01HUSER"}, users.touched)
	})

	t.Run("blocked user is ignored", func(t *testing.T) {
		reached = false
		u := testUser()
		u.Status = model.UserBlocked
		b, _ := newTestBot(&fakeUsers{result: &service.RegisterResult{User: u}}, &fakeSubs{})

		c := newMessageContext(tgUser, "/start")
		require.NoError(t, b.loadUser(next)(c))
		assert.False(t, reached)
		assert.Empty(t, c.Sent)
	})

	t.Run("deleted user returns with start", func(t *testing.T) {
		reached = false
		u := testUser()
		u.Status = model.UserDeleted
		users := &fakeUsers{result: &service.RegisterResult{User: u}}
		b, _ := newTestBot(users, &fakeSubs{})

		require.NoError(t, b.loadUser(next)(newMessageContext(tgUser, "/start")))
		assert.True(t, reached)
		assert.Equal(t, []string{"01HUSER"}, users.unblocked)
		assert.Equal(t, model.UserActive, u.Status)
	})

	t.Run("deleted user without start is ignored", func(t *testing.T) {
		reached = false
		u := testUser()
		u.Status = model.UserDeleted
		users := &fakeUsers{result: &service.RegisterResult{User: u}}
		b, _ := newTestBot(users, &fakeSubs{})

		require.NoError(t, b.loadUser(next)(newMessageContext(tgUser, "/card")))
		assert.False(t, reached)
		assert.Empty(t, users.unblocked)
	})

	t.Run("bots are ignored", func(t *testing.T) {
		reached = false
		b, _ := newTestBot(&fakeUsers{}, &fakeSubs{})
		require.NoError(t, b.loadUser(next)(newMessageContext(&tele.User{ID: 7, IsBot: true}, "/start")))
		assert.False(t, reached)
	})
}

func TestThrottle(t *testing.T) {
	var calls int
	next := func(tele.Context) error {
		calls++
		return nil
	}

	t.Run("denied message", func(t *testing.T) {
		calls = 0
		b, _ := newTestBot(&fakeUsers{}, &fakeSubs{})
		lim := &fakeLimiter{allowed: false}
		b.limiter = lim
		rec := metrics.NewInMemory()
		b.recorder = rec

		c := newMessageContext(tgUser, "/card")
		c.Set(keyUser, testUser())
		require.NoError(t, b.throttle(actionFeature)(next)(c))

		assert.Zero(t, calls)
		assert.Contains(t, c.lastText(), "12 сек")
		assert.Equal(t, []int{5}, lim.limits)
		assert.Equal(t, uint64(1), rec.Snapshot().Throttled[actionFeature])
	})

	t.Run("denied callback alerts", func(t *testing.T) {
		calls = 0
		b, _ := newTestBot(&fakeUsers{}, &fakeSubs{})
		b.limiter = &fakeLimiter{allowed: false}

		c := newCallbackContext(tgUser, "spread", "yes_no")
		c.Set(keyUser, testUser())
		require.NoError(t, b.throttle(actionCallback)(next)(c))

		assert.Zero(t, calls)
		assert.Len(t, c.Alerts, 1)
		assert.Empty(t, c.Sent)
	})

	t.Run("paying users get doubled limits", func(t *testing.T) {
		calls = 0
		expires := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
		subs := &fakeSubs{sub: &model.Subscription{Plan: model.PlanPremium, Status: model.StatusActive, ExpiresAt: &expires}}
		b, _ := newTestBot(&fakeUsers{}, subs)
		lim := &fakeLimiter{allowed: true}
		b.limiter = lim

		c := newMessageContext(tgUser, "/tarot")
		c.Set(keyUser, testUser())
		require.NoError(t, b.throttle(actionReading)(next)(c))

		assert.Equal(t, 1, calls)
		assert.Equal(t, []int{6}, lim.limits)
	})

	t.Run("admins bypass", func(t *testing.T) {
		calls = 0
		b, _ := newTestBot(&fakeUsers{}, &fakeSubs{})
		lim := &fakeLimiter{allowed: false}
		b.limiter = lim

		admin := testUser()
		admin.Role = model.RoleAdmin
		c := newMessageContext(tgUser, "/card")
		c.Set(keyUser, admin)
		require.NoError(t, b.throttle(actionFeature)(next)(c))

		assert.Equal(t, 1, calls)
		assert.Empty(t, lim.calls)
	})

	t.Run("limiter failure lets update through", func(t *testing.T) {
		calls = 0
		b, _ := newTestBot(&fakeUsers{}, &fakeSubs{})
		b.limiter = &fakeLimiter{err: errors.New("redis down")}

		c := newMessageContext(tgUser, "/card")
		c.Set(keyUser, testUser())
		require.NoError(t, b.throttle(actionFeature)(next)(c))
		assert.Equal(t, 1, calls)
	})
}

func TestLogUpdatesAnswersErrors(t *testing.T) {
	b, _ := newTestBot(&fakeUsers{}, &fakeSubs{})
	rec := metrics.NewInMemory()
	b.recorder = rec

	c := newMessageContext(tgUser, "/natal")
	err := b.logUpdates(func(tele.Context) error {
		return service.ErrBirthDataRequired
	})(c)
	require.NoError(t, err)

	assert.Contains(t, c.lastText(), "данные рождения")
	snap := rec.Snapshot()
	assert.Equal(t, uint64(1), snap.BotUpdates["command"])
	assert.Equal(t, uint64(1), snap.Commands["natal"])
}

func TestBirthConversation(t *testing.T) {
	users := &fakeUsers{}
	b, states := newTestBot(users, &fakeSubs{})
	user := testUser()

	send := func(text string) *MockContext {
		c := newMessageContext(tgUser, text)
		c.Set(keyUser, user)
		require.NoError(t, b.handleText(c))
		return c
	}

	start := newCallbackContext(tgUser, "set", setBirth)
	start.Set(keyUser, user)
	require.NoError(t, b.handleSet(start))
	assert.Contains(t, start.lastText(), "Как вас зовут")

	send("Анна")

	bad := newMessageContext(tgUser, "31.02.1990")
	bad.Set(keyUser, user)
	assert.ErrorIs(t, b.handleText(bad), model.ErrInvalidDate)
	st, _ := states.GetState(testCtx, 42)
	assert.Equal(t, stateBirthDate, st.Name)

	c := send("25.03.1990")
	assert.Contains(t, c.lastText(), "время рождения")
	assert.NotNil(t, c.lastMarkup())

	skip := newCallbackContext(tgUser, "set", setSkipTime)
	skip.Set(keyUser, user)
	require.NoError(t, b.handleSet(skip))
	assert.Contains(t, skip.lastText(), "городе")

	c = send("Москва")
	require.NotNil(t, users.birth)
	assert.Equal(t, "Анна", users.birth.Name)
	assert.Equal(t, time.Date(1990, 3, 25, 0, 0, 0, 0, time.UTC), users.birth.Date)
	assert.Equal(t, "", users.birth.Time)
	assert.Equal(t, "Москва", users.birth.City)
	assert.Contains(t, c.lastText(), "Овен")

	st, _ = states.GetState(testCtx, 42)
	assert.Empty(t, st.Name)
}

func TestQuestionConversation(t *testing.T) {
	b, states := newTestBot(&fakeUsers{}, &fakeSubs{})
	tr := &fakeTarot{}
	b.tarot = tr
	user := testUser()

	c := newCallbackContext(tgUser, "spread", "yes_no")
	c.Set(keyUser, user)
	require.NoError(t, b.handleSpread(c))
	st, _ := states.GetState(testCtx, 42)
	assert.Equal(t, stateQuestion, st.Name)
	assert.Equal(t, "yes_no", st.Get("spread"))

	msg := newMessageContext(tgUser, "Стоит ли менять работу?")
	msg.Set(keyUser, user)
	require.NoError(t, b.handleText(msg))

	assert.Equal(t, []string{"yes_no:Стоит ли менять работу?"}, tr.spreads)
	assert.Contains(t, msg.lastText(), "Осталось раскладов на сегодня: 2")
	st, _ = states.GetState(testCtx, 42)
	assert.Empty(t, st.Name)
}

func TestReadingKeyboard(t *testing.T) {
	uniques := func(rm *tele.ReplyMarkup) []string {
		var out []string
		for _, row := range rm.InlineKeyboard {
			for _, btn := range row {
				out = append(out, btn.Unique)
			}
		}
		return out
	}

	assert.Equal(t, []string{"tarot", "back"}, uniques(afterReadingKeyboard()))

	rd := &model.Reading{ID: testReadingID, Cards: []model.DrawnCard{{CardID: 0}}}
	got := uniques(readingKeyboard(rd))
	assert.Equal(t, []string{"rate", "rate", "rate", "rate", "rate", "fav", "about", "tarot", "back"}, got)

	rd.Cards = append(rd.Cards, model.DrawnCard{CardID: 1, Position: 1})
	assert.NotContains(t, uniques(readingKeyboard(rd)), "about")
}

func TestReadingActions(t *testing.T) {
	b, _ := newTestBot(&fakeUsers{}, &fakeSubs{})
	tr := &fakeTarot{}
	b.tarot = tr
	user := testUser()

	t.Run("rate", func(t *testing.T) {
		c := newCallbackContext(tgUser, "rate", testReadingID+"|4")
		c.Set(keyUser, user)
		require.NoError(t, b.handleRate(c))
		assert.Equal(t, 4, tr.ratings[testReadingID])
		assert.Equal(t, []string{"Спасибо! Оценка 4 из 5 сохранена."}, c.Toasts)
	})

	t.Run("rate out of range", func(t *testing.T) {
		c := newCallbackContext(tgUser, "rate", testReadingID+"|9")
		c.Set(keyUser, user)
		assert.ErrorIs(t, b.handleRate(c), service.ErrInvalidRating)
	})

	t.Run("rate unknown reading", func(t *testing.T) {
		c := newCallbackContext(tgUser, "rate", "01HUNKNOWN|3")
		c.Set(keyUser, user)
		assert.ErrorIs(t, b.handleRate(c), service.ErrReadingNotFound)
	})

	t.Run("favorite toggles", func(t *testing.T) {
		c := newCallbackContext(tgUser, "fav", testReadingID)
		c.Set(keyUser, user)
		require.NoError(t, b.handleFavorite(c))
		require.NoError(t, b.handleFavorite(c))
		assert.Equal(t, []string{"⭐ Добавлено в избранное", "Убрано из избранного"}, c.Toasts)
	})

	t.Run("card info", func(t *testing.T) {
		c := newCallbackContext(tgUser, "about", "0")
		c.Set(keyUser, user)
		require.NoError(t, b.handleAbout(c))
		assert.Contains(t, c.lastText(), "Прямое положение")
		assert.Contains(t, c.lastText(), "Начало пути.")
	})

	t.Run("card info bad id", func(t *testing.T) {
		c := newCallbackContext(tgUser, "about", "x")
		c.Set(keyUser, user)
		assert.ErrorIs(t, b.handleAbout(c), tarot.ErrUnknownCard)
	})
}

func TestHistory(t *testing.T) {
	b, _ := newTestBot(&fakeUsers{}, &fakeSubs{})
	day := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)
	tr := &fakeTarot{history: []*model.Reading{
		{
			ID: testReadingID, SpreadCode: model.SpreadDailyCard, ReadingDate: day,
			Cards: []model.DrawnCard{{CardID: 22, Position: 1}}, Interpretation: "День для смелых начинаний.",
		},
		{
			ID: "01HZY3M8Q4W5E6R7T8Y9U0I1O3", SpreadCode: "yes_no", ReadingDate: day, Favorite: true,
			Question: "Стоит ли менять работу?", Cards: []model.DrawnCard{{CardID: 0, Position: 1}},
		},
	}}
	b.tarot = tr
	user := testUser()

	t.Run("list", func(t *testing.T) {
		c := newCallbackContext(tgUser, "history", "")
		c.Set(keyUser, user)
		require.NoError(t, b.handleHistory(c))

		text := c.lastText()
		assert.Contains(t, text, "Всего раскладов: 2, карт: 2")
		assert.Contains(t, text, "Старшие арканы: 50%")
		assert.Contains(t, text, "Жезлы")

		rm := c.lastMarkup()
		require.NotNil(t, rm)
		require.Len(t, rm.InlineKeyboard, 3)
		assert.Equal(t, "reading", rm.InlineKeyboard[0][0].Unique)
		assert.Equal(t, testReadingID, rm.InlineKeyboard[0][0].Data)
		assert.True(t, strings.HasPrefix(rm.InlineKeyboard[1][0].Text, "⭐ 18.10.2026"))
	})

	t.Run("open", func(t *testing.T) {
		c := newCallbackContext(tgUser, "reading", testReadingID)
		c.Set(keyUser, user)
		require.NoError(t, b.handleOpenReading(c))
		assert.Contains(t, c.lastText(), "18.10.2026")
		assert.Contains(t, c.lastText(), "День для смелых начинаний.")
		assert.Equal(t, "rate", c.lastMarkup().InlineKeyboard[0][0].Unique)
	})

	t.Run("open unknown", func(t *testing.T) {
		c := newCallbackContext(tgUser, "reading", "01HUNKNOWN")
		c.Set(keyUser, user)
		assert.ErrorIs(t, b.handleOpenReading(c), service.ErrReadingNotFound)
	})
}

func TestDeletePartner(t *testing.T) {
	users := &fakeUsers{partners: []*model.Partner{
		{ID: "01HPARTNER1", Name: "Иван"},
		{ID: "01HPARTNER2", Name: "Мария"},
	}}
	b, _ := newTestBot(users, &fakeSubs{})
	user := testUser()
	user.Birth = &model.BirthData{Date: time.Date(1990, 5, 15, 0, 0, 0, 0, time.UTC)}

	c := newCallbackContext(tgUser, "compat", compatDel+"|01HPARTNER1")
	c.Set(keyUser, user)
	require.NoError(t, b.handleCompat(c))

	require.Len(t, users.partners, 1)
	assert.Equal(t, "Мария", users.partners[0].Name)
	assert.Contains(t, c.lastText(), "Совместимость")

	c = newCallbackContext(tgUser, "compat", compatDel+"|01HPARTNER1")
	c.Set(keyUser, user)
	assert.ErrorIs(t, b.handleCompat(c), service.ErrPartnerNotFound)
}

func TestPromoConversation(t *testing.T) {
	t.Run("bonus code activates at once", func(t *testing.T) {
		subs := &fakeSubs{promo: &model.PromoCode{Code: "WELCOME7", Type: model.PromoTrial, Value: 7}}
		b, _ := newTestBot(&fakeUsers{}, subs)
		user := testUser()

		ask := newCallbackContext(tgUser, "set", setPromo)
		ask.Set(keyUser, user)
		require.NoError(t, b.handleSet(ask))

		c := newMessageContext(tgUser, "welcome7")
		c.Set(keyUser, user)
		require.NoError(t, b.handleText(c))

		assert.Equal(t, []string{"WELCOME7"}, subs.bonus)
		assert.Contains(t, c.lastText(), "Промокод активирован")
	})

	t.Run("discount code carries on to the quote", func(t *testing.T) {
		subs := &fakeSubs{promo: &model.PromoCode{Code: "SPRING", Type: model.PromoPercentage, Value: 10}}
		b, _ := newTestBot(&fakeUsers{}, subs)
		b.payments = &fakePayments{cards: true}
		user := testUser()

		ask := newCallbackContext(tgUser, "set", "promo|premium|3")
		ask.Set(keyUser, user)
		require.NoError(t, b.handleSet(ask))

		c := newMessageContext(tgUser, "spring")
		c.Set(keyUser, user)
		require.NoError(t, b.handleText(c))

		require.Len(t, subs.quotes, 1)
		assert.Equal(t, model.PlanPremium, subs.quotes[0].Plan)
		assert.Equal(t, 3, subs.quotes[0].Months)
		assert.Equal(t, "SPRING", subs.quotes[0].PromoCode)
		assert.Contains(t, c.lastText(), "Скидка по промокоду")
	})

	t.Run("unknown code", func(t *testing.T) {
		subs := &fakeSubs{promoFn: func(string) error { return service.ErrPromoNotFound }}
		b, states := newTestBot(&fakeUsers{}, subs)
		user := testUser()
		require.NoError(t, states.SetState(testCtx, 42, statePromo, nil))

		c := newMessageContext(tgUser, "NOPE1234")
		c.Set(keyUser, user)
		assert.ErrorIs(t, b.handleText(c), service.ErrPromoNotFound)

		st, _ := states.GetState(testCtx, 42)
		assert.Equal(t, statePromo, st.Name, "user may retry")
	})
}

func TestHandlePay(t *testing.T) {
	pay := &fakePayments{checkout: &service.Checkout{
		Payment:         &model.Payment{ID: "01HPAY", Amount: 80700},
		ConfirmationURL: "https://yoomoney.ru/checkout/payments/v2/contract?orderId=1",
	}}
	b, _ := newTestBot(&fakeUsers{}, &fakeSubs{})
	b.payments = pay

	c := newCallbackContext(tgUser, "pay", "premium|3|card|SPRING")
	c.Set(keyUser, testUser())
	require.NoError(t, b.handlePay(c))

	require.NotNil(t, pay.input)
	assert.Equal(t, service.PurchaseInput{Plan: model.PlanPremium, Months: 3, Method: model.MethodCard, PromoCode: "SPRING"}, *pay.input)
	rm := c.lastMarkup()
	require.NotNil(t, rm)
	assert.Equal(t, pay.checkout.ConfirmationURL, rm.InlineKeyboard[0][0].URL)
}

func TestHandleCheckout(t *testing.T) {
	b, _ := newTestBot(&fakeUsers{}, &fakeSubs{})

	pay := &fakePayments{}
	b.payments = pay
	c := &MockContext{From: tgUser, Checkout: &tele.PreCheckoutQuery{Payload: "sub:01HPAY", Currency: "XTR", Total: 150}}
	require.NoError(t, b.handleCheckout(c))
	assert.True(t, c.Accepted)

	pay.reject = "Сумма счёта изменилась."
	c = &MockContext{From: tgUser, Checkout: &tele.PreCheckoutQuery{Payload: "sub:01HPAY", Currency: "XTR", Total: 100}}
	require.NoError(t, b.handleCheckout(c))
	assert.False(t, c.Accepted)
	assert.Equal(t, []string{"Сумма счёта изменилась."}, c.Accepts)
}

func TestAdminOnly(t *testing.T) {
	b, _ := newTestBot(&fakeUsers{}, &fakeSubs{})
	var reached bool
	h := b.adminOnly(func(tele.Context) error {
		reached = true
		return nil
	})

	c := newMessageContext(tgUser, "/stats")
	c.Set(keyUser, testUser())
	require.NoError(t, h(c))
	assert.False(t, reached)
	assert.Equal(t, "Команда недоступна.", c.lastText())

	admin := testUser()
	admin.Role = model.RoleAdmin
	c = newMessageContext(tgUser, "/stats")
	c.Set(keyUser, admin)
	require.NoError(t, h(c))
	assert.True(t, reached)
}
