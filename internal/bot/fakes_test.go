package bot

import (
	"context"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v3"

	"github.com/astrotarot/astrotarot/internal/astro"
	"github.com/astrotarot/astrotarot/internal/cache"
	"github.com/astrotarot/astrotarot/internal/metrics"
	"github.com/astrotarot/astrotarot/internal/model"
	"github.com/astrotarot/astrotarot/internal/service"
	"github.com/astrotarot/astrotarot/internal/tarot"
)

// MockContext stands in for a telebot context. Only the methods the
// handlers call are implemented.
type MockContext struct {
	tele.Context
	Msg      *tele.Message
	Cb       *tele.Callback
	Checkout *tele.PreCheckoutQuery
	From     *tele.User

	store    map[string]any
	Sent     []any
	SentOpts [][]any
	Alerts   []string
	Toasts   []string
	Accepts  []string
	Accepted bool
}

func newMessageContext(from *tele.User, text string) *MockContext {
	m := &tele.Message{Text: text, Sender: from}
	if strings.HasPrefix(text, "/") {
		_, m.Payload, _ = strings.Cut(text, " ")
	}
	return &MockContext{Msg: m, From: from}
}

func newCallbackContext(from *tele.User, unique, data string) *MockContext {
	return &MockContext{
		Cb:   &tele.Callback{Unique: unique, Data: data, Sender: from, Message: &tele.Message{Text: "menu"}},
		From: from,
	}
}

func (m *MockContext) Get(key string) any {
	return m.store[key]
}

func (m *MockContext) Set(key string, v any) {
	if m.store == nil {
		m.store = make(map[string]any)
	}
	m.store[key] = v
}

func (m *MockContext) Message() *tele.Message {
	if m.Cb != nil {
		return m.Cb.Message
	}
	return m.Msg
}

func (m *MockContext) Callback() *tele.Callback                 { return m.Cb }
func (m *MockContext) PreCheckoutQuery() *tele.PreCheckoutQuery { return m.Checkout }
func (m *MockContext) Sender() *tele.User                       { return m.From }

func (m *MockContext) Text() string {
	if m.Msg == nil {
		return ""
	}
	return m.Msg.Text
}

func (m *MockContext) Data() string {
	switch {
	case m.Msg != nil:
		return m.Msg.Payload
	case m.Cb != nil:
		return m.Cb.Data
	}
	return ""
}

func (m *MockContext) Args() []string {
	switch {
	case m.Msg != nil:
		if p := strings.TrimSpace(m.Msg.Payload); p != "" {
			return strings.Fields(p)
		}
	case m.Cb != nil:
		return strings.Split(m.Cb.Data, "|")
	}
	return nil
}

func (m *MockContext) Send(what any, opts ...any) error {
	m.Sent = append(m.Sent, what)
	m.SentOpts = append(m.SentOpts, opts)
	return nil
}

func (m *MockContext) EditOrSend(what any, opts ...any) error {
	return m.Send(what, opts...)
}

func (m *MockContext) Notify(tele.ChatAction) error { return nil }

func (m *MockContext) Respond(resp ...*tele.CallbackResponse) error { return nil }

func (m *MockContext) RespondText(text string) error {
	m.Toasts = append(m.Toasts, text)
	return nil
}

func (m *MockContext) RespondAlert(text string) error {
	m.Alerts = append(m.Alerts, text)
	return nil
}

func (m *MockContext) Accept(errorMessage ...string) error {
	m.Accepted = len(errorMessage) == 0
	m.Accepts = append(m.Accepts, errorMessage...)
	return nil
}

func (m *MockContext) lastText() string {
	if len(m.Sent) == 0 {
		return ""
	}
	s, _ := m.Sent[len(m.Sent)-1].(string)
	return s
}

func (m *MockContext) lastMarkup() *tele.ReplyMarkup {
	if len(m.SentOpts) == 0 {
		return nil
	}
	for _, o := range m.SentOpts[len(m.SentOpts)-1] {
		if rm, ok := o.(*tele.ReplyMarkup); ok {
			return rm
		}
	}
	return nil
}

// memStates is an in-memory StateStore.
type memStates struct {
	mu     sync.Mutex
	states map[int64]*cache.State
}

func newMemStates() *memStates {
	return &memStates{states: make(map[int64]*cache.State)}
}

func (s *memStates) GetState(_ context.Context, id int64) (*cache.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[id]
	if !ok {
		return &cache.State{Data: map[string]string{}}, nil
	}
	cp := &cache.State{Name: st.Name, Data: make(map[string]string, len(st.Data))}
	for k, v := range st.Data {
		cp.Data[k] = v
	}
	return cp, nil
}

func (s *memStates) SetState(_ context.Context, id int64, name string, data map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[id]
	if !ok {
		st = &cache.State{Data: map[string]string{}}
		s.states[id] = st
	}
	st.Name = name
	for k, v := range data {
		st.Data[k] = v
	}
	return nil
}

func (s *memStates) ClearState(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, id)
	return nil
}

type fakeLimiter struct {
	allowed bool
	err     error
	calls   []string
	limits  []int
}

func (f *fakeLimiter) CheckUserRateLimit(_ context.Context, _ int64, action string, limit int, _ time.Duration) (*cache.RateLimitResult, error) {
	f.calls = append(f.calls, action)
	f.limits = append(f.limits, limit)
	if f.err != nil {
		return nil, f.err
	}
	return &cache.RateLimitResult{Allowed: f.allowed, RetryAfter: 12 * time.Second}, nil
}

type fakeUsers struct {
	result    *service.RegisterResult
	referrals []string
	unblocked []string
	touched   []string
	birth     *service.BirthInput
	settings  []model.UserSettingsUpdate
	partners  []*model.Partner
	deleted   []string
}

func (f *fakeUsers) Register(_ context.Context, _ model.TelegramProfile, referral string) (*service.RegisterResult, error) {
	f.referrals = append(f.referrals, referral)
	return f.result, nil
}

func (f *fakeUsers) Touch(_ context.Context, id string) error {
	f.touched = append(f.touched, id)
	return nil
}

func (f *fakeUsers) Unblock(_ context.Context, id string) error {
	f.unblocked = append(f.unblocked, id)
	return nil
}

func (f *fakeUsers) UpdateBirthData(_ context.Context, id string, in service.BirthInput) (*model.User, error) {
	f.birth = &in
	tm := in.Time
	return &model.User{
		ID:         id,
		TelegramID: 42,
		BirthName:  in.Name,
		Birth:      &model.BirthData{Date: in.Date, Time: &tm, City: in.City},
		ZodiacSign: astro.SignFor(in.Date).Key,
	}, nil
}

func (f *fakeUsers) UpdateSettings(_ context.Context, id string, upd model.UserSettingsUpdate) (*model.User, error) {
	f.settings = append(f.settings, upd)
	u := &model.User{ID: id, TelegramID: 42, Notifications: model.DefaultNotificationSettings()}
	if upd.HoroscopeTime != nil {
		u.Notifications.HoroscopeTime = *upd.HoroscopeTime
	}
	return u, nil
}

func (f *fakeUsers) DeleteData(_ context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeUsers) Statistics(context.Context, *model.User) (*service.UserStatistics, error) {
	return &service.UserStatistics{Plan: model.PlanFree}, nil
}

func (f *fakeUsers) AddPartner(_ context.Context, userID string, in service.PartnerInput) (*model.Partner, error) {
	p := &model.Partner{ID: "01HPARTNER", UserID: userID, Name: in.Name, BirthDate: in.Date}
	f.partners = append(f.partners, p)
	return p, nil
}

func (f *fakeUsers) Partners(context.Context, string) ([]*model.Partner, error) {
	return f.partners, nil
}

func (f *fakeUsers) DeletePartner(_ context.Context, _, partnerID string) error {
	for i, p := range f.partners {
		if p.ID == partnerID {
			f.partners = append(f.partners[:i], f.partners[i+1:]...)
			return nil
		}
	}
	return service.ErrPartnerNotFound
}

type fakeSubs struct {
	sub     *model.Subscription
	promo   *model.PromoCode
	bonus   []string
	quotes  []model.Quote
	promoFn func(code string) error
}

func (f *fakeSubs) Get(context.Context, string) (*model.Subscription, error) {
	if f.sub == nil {
		return &model.Subscription{Plan: model.PlanFree, Status: model.StatusFree}, nil
	}
	return f.sub, nil
}

func (f *fakeSubs) Quote(_ context.Context, _ string, plan model.SubscriptionPlan, months int, promo string) (model.Quote, error) {
	q := model.Quote{Plan: plan, Months: months, Base: 29900 * int64(months), PromoCode: promo}
	q.Final = q.Base
	if promo != "" {
		q.Discount = q.Base / 10
		q.Final = q.Base - q.Discount
	}
	f.quotes = append(f.quotes, q)
	return q, nil
}

func (f *fakeSubs) ValidatePromo(_ context.Context, _ string, code string, _ model.SubscriptionPlan) (*model.PromoCode, error) {
	if f.promoFn != nil {
		if err := f.promoFn(code); err != nil {
			return nil, err
		}
	}
	return f.promo, nil
}

func (f *fakeSubs) ApplyBonusPromo(_ context.Context, userID string, promo *model.PromoCode) (*model.Subscription, error) {
	f.bonus = append(f.bonus, promo.Code)
	expires := time.Date(2026, 10, 26, 0, 0, 0, 0, time.UTC)
	return &model.Subscription{UserID: userID, Plan: model.PlanBasic, Status: model.StatusActive, ExpiresAt: &expires}, nil
}

type fakePayments struct {
	cards    bool
	checkout *service.Checkout
	input    *service.PurchaseInput
	reject   string
	complete *model.Payment
}

func (f *fakePayments) CardsEnabled() bool { return f.cards }

func (f *fakePayments) StarsPrice(model.SubscriptionPlan, int) int64 { return 150 }

func (f *fakePayments) CreateSubscriptionPayment(_ context.Context, _ *model.User, in service.PurchaseInput) (*service.Checkout, error) {
	f.input = &in
	return f.checkout, nil
}

func (f *fakePayments) PreCheckout(context.Context, string, string, int) (string, bool) {
	if f.reject != "" {
		return f.reject, false
	}
	return "", true
}

func (f *fakePayments) CompleteStarsPayment(context.Context, string, string, int, string) (*model.Payment, error) {
	return f.complete, nil
}

type fakeTarot struct {
	spreads   []string
	ratings   map[string]int
	favorites map[string]bool
	history   []*model.Reading
}

func (f *fakeTarot) AvailableSpreads(context.Context, string) ([]tarot.Spread, error) {
	return tarot.DefaultCatalog().Available(model.PlanFree), nil
}

func (f *fakeTarot) DailyCard(context.Context, *model.User) (*service.DailyCardResult, error) {
	return nil, service.ErrInvalidInput
}

func (f *fakeTarot) Spread(_ context.Context, _ *model.User, code, question string) (*service.SpreadResult, error) {
	f.spreads = append(f.spreads, code+":"+question)
	sp, err := tarot.DefaultCatalog().Get(code)
	if err != nil {
		return nil, service.ErrSpreadNotFound
	}
	rd := &model.Reading{SpreadCode: code, Question: question, Interpretation: "Всё будет хорошо."}
	return &service.SpreadResult{Reading: rd, Spread: sp, Remaining: 2}, nil
}

func (f *fakeTarot) History(context.Context, string, service.HistoryInput) (*service.HistoryOutput, error) {
	return &service.HistoryOutput{Readings: f.history}, nil
}

func (f *fakeTarot) Reading(_ context.Context, _, readingID string) (*model.Reading, error) {
	for _, rd := range f.history {
		if rd.ID == readingID {
			return rd, nil
		}
	}
	return nil, service.ErrReadingNotFound
}

func (f *fakeTarot) Statistics(context.Context, string) (*model.ReadingStats, error) {
	cards := make(map[int]int)
	for _, rd := range f.history {
		for _, id := range rd.CardIDs() {
			cards[id]++
		}
	}
	return service.ReadingStatistics(int64(len(f.history)), cards), nil
}

func (f *fakeTarot) Rate(_ context.Context, _, readingID string, rating int) error {
	if rating < 1 || rating > 5 {
		return service.ErrInvalidRating
	}
	if readingID != testReadingID {
		return service.ErrReadingNotFound
	}
	if f.ratings == nil {
		f.ratings = make(map[string]int)
	}
	f.ratings[readingID] = rating
	return nil
}

func (f *fakeTarot) ToggleFavorite(_ context.Context, _, readingID string) (bool, error) {
	if readingID != testReadingID {
		return false, service.ErrReadingNotFound
	}
	if f.favorites == nil {
		f.favorites = make(map[string]bool)
	}
	f.favorites[readingID] = !f.favorites[readingID]
	return f.favorites[readingID], nil
}

func (f *fakeTarot) CardInfo(_ context.Context, cardID int, _ model.ToneOfVoice) (*service.CardInfo, error) {
	card, err := tarot.CardByID(cardID)
	if err != nil {
		return nil, err
	}
	return &service.CardInfo{Card: card, Upright: "Начало пути.", Reversed: "Безрассудство."}, nil
}

const testReadingID = "01HZY3M8Q4W5E6R7T8Y9U0I1O2"

func newTestBot(users *fakeUsers, subs *fakeSubs) (*Bot, *memStates) {
	states := newMemStates()
	b := newBot(Deps{
		Users:         users,
		Subscriptions: subs,
		Payments:      &fakePayments{},
		Tarot:         &fakeTarot{},
		States:        states,
		Recorder:      metrics.NewInMemory(),
		Now:           func() time.Time { return time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC) },
	}, "astro_test_bot")
	return b, states
}

func testUser() *model.User {
	return &model.User{
		ID:            "01HUSER",
		TelegramID:    42,
		FirstName:     "Анна",
		Role:          model.RoleUser,
		Status:        model.UserActive,
		Tone:          model.ToneFriend,
		ReferralCode:  "ANNA2026",
		Notifications: model.DefaultNotificationSettings(),
	}
}
