package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/astrotarot/astrotarot/internal/cache"
	"github.com/astrotarot/astrotarot/internal/config"
	"github.com/astrotarot/astrotarot/internal/llm"
	"github.com/astrotarot/astrotarot/internal/model"
	"github.com/astrotarot/astrotarot/internal/notify"
	"github.com/astrotarot/astrotarot/internal/payment"
	"github.com/astrotarot/astrotarot/internal/repository"
)

var testNow = time.Date(2024, 6, 15, 9, 30, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testClock(now *time.Time) Clock {
	return Clock{Now: func() time.Time { return *now }, Location: time.UTC}
}

// memStore is an in-memory implementation of every store interface.
type memStore struct {
	mu sync.Mutex

	users     map[string]*model.User
	subs      map[string]*model.Subscription // by user id
	partners  map[string]*model.Partner
	payments  map[string]*model.Payment
	promos    map[string]*model.PromoCode
	redeemed  map[string]bool // code + ":" + user id
	readings  map[string]*model.Reading
	views     int
	referrals map[string]int

	codeCollisions int
	failSaves      int // SaveSubscription calls left to fail
}

func newMemStore() *memStore {
	return &memStore{
		users:     make(map[string]*model.User),
		subs:      make(map[string]*model.Subscription),
		partners:  make(map[string]*model.Partner),
		payments:  make(map[string]*model.Payment),
		promos:    make(map[string]*model.PromoCode),
		redeemed:  make(map[string]bool),
		readings:  make(map[string]*model.Reading),
		referrals: make(map[string]int),
	}
}

func (m *memStore) CreateUser(_ context.Context, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.codeCollisions > 0 {
		m.codeCollisions--
		return repository.ErrReferralCodeExists
	}
	for _, other := range m.users {
		if other.TelegramID == u.TelegramID {
			return repository.ErrUserExists
		}
		if other.ReferralCode == u.ReferralCode {
			return repository.ErrReferralCodeExists
		}
	}
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *memStore) user(id string) (*model.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	return u, nil
}

func (m *memStore) GetUserByID(_ context.Context, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, err := m.user(id)
	if err != nil {
		return nil, err
	}
	cp := *u
	return &cp, nil
}

func (m *memStore) GetUserByTelegramID(_ context.Context, tgID int64) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.TelegramID == tgID {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (m *memStore) GetUserByReferralCode(_ context.Context, code string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ReferralCode == code {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (m *memStore) UpdateUserProfile(_ context.Context, id string, p model.TelegramProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, err := m.user(id)
	if err != nil {
		return err
	}
	u.Username, u.FirstName, u.LastName = p.Username, p.FirstName, p.LastName
	return nil
}

func (m *memStore) UpdateBirthData(_ context.Context, id, name string, birth *model.BirthData, sign string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, err := m.user(id)
	if err != nil {
		return err
	}
	u.BirthName, u.Birth, u.ZodiacSign = name, birth, sign
	return nil
}

func (m *memStore) UpdateUserSettings(_ context.Context, id string, tone model.ToneOfVoice, n model.NotificationSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, err := m.user(id)
	if err != nil {
		return err
	}
	u.Tone, u.Notifications = tone, n
	return nil
}

func (m *memStore) TouchUser(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, err := m.user(id)
	if err != nil {
		return err
	}
	u.LastActivityAt = &at
	return nil
}

func (m *memStore) IncrementReadings(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, err := m.user(id)
	if err != nil {
		return err
	}
	u.TotalReadings++
	return nil
}

func (m *memStore) IncrementReferralCount(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, err := m.user(id)
	if err != nil {
		return err
	}
	u.ReferralCount++
	return nil
}

func (m *memStore) SetUserStatus(_ context.Context, id string, status model.UserStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, err := m.user(id)
	if err != nil {
		return err
	}
	u.Status = status
	return nil
}

func (m *memStore) SetUserRole(_ context.Context, id string, role model.UserRole) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, err := m.user(id)
	if err != nil {
		return err
	}
	u.Role = role
	return nil
}

func (m *memStore) AnonymizeUser(_ context.Context, id string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, err := m.user(id)
	if err != nil {
		return err
	}
	u.Username, u.FirstName, u.LastName, u.BirthName = "", "", "", ""
	u.Birth = nil
	u.Status = model.UserDeleted
	u.DeletedAt = &now
	return nil
}

func (m *memStore) ListUsers(_ context.Context, f repository.UserFilter, _ string, limit int) ([]*model.User, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.User
	for _, u := range m.sortedUsers() {
		if f.Status != "" && u.Status != f.Status {
			continue
		}
		if f.Search != "" && !strings.Contains(strings.ToLower(u.Username+" "+u.FirstName), strings.ToLower(f.Search)) {
			continue
		}
		out = append(out, u)
	}
	if len(out) > limit {
		return out[:limit], "next", nil
	}
	return out, "", nil
}

func (m *memStore) sortedUsers() []*model.User {
	users := make([]*model.User, 0, len(m.users))
	for _, u := range m.users {
		users = append(users, u)
	}
	slices.SortFunc(users, func(a, b *model.User) int { return strings.Compare(a.ID, b.ID) })
	return users
}

func (m *memStore) ListDailyHoroscopeRecipients(_ context.Context, hhmm, afterID string, limit int) ([]*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.User
	for _, u := range m.sortedUsers() {
		if u.ID <= afterID || u.Status != model.UserActive || u.ZodiacSign == "" {
			continue
		}
		n := u.Notifications
		if n.Enabled && n.DailyHoroscope && n.HoroscopeTime == hhmm {
			out = append(out, u)
		}
	}
	return out[:min(len(out), limit)], nil
}

func (m *memStore) ListBroadcastRecipients(_ context.Context, plan model.SubscriptionPlan, afterID string, limit int) ([]*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.User
	for _, u := range m.sortedUsers() {
		if u.ID <= afterID || u.Status != model.UserActive || !u.Notifications.Enabled {
			continue
		}
		if plan != "" {
			sub, ok := m.subs[u.ID]
			if !ok || sub.Plan != plan || sub.Status != model.StatusActive {
				continue
			}
		}
		out = append(out, u)
	}
	return out[:min(len(out), limit)], nil
}

func (m *memStore) CreatePartner(_ context.Context, p *model.Partner) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.partners[p.ID] = p
	return nil
}

func (m *memStore) GetPartner(_ context.Context, userID, id string) (*model.Partner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.partners[id]
	if !ok || p.UserID != userID {
		return nil, repository.ErrPartnerNotFound
	}
	return p, nil
}

func (m *memStore) ListPartners(_ context.Context, userID string) ([]*model.Partner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Partner
	for _, p := range m.partners {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memStore) CountPartners(ctx context.Context, userID string) (int, error) {
	ps, err := m.ListPartners(ctx, userID)
	return len(ps), err
}

func (m *memStore) DeletePartner(_ context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.partners[id]
	if !ok || p.UserID != userID {
		return repository.ErrPartnerNotFound
	}
	delete(m.partners, id)
	return nil
}

func (m *memStore) GetSubscriptionByUser(_ context.Context, userID string) (*model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[userID]
	if !ok {
		return nil, repository.ErrSubscriptionNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) SaveSubscription(_ context.Context, s *model.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSaves > 0 {
		m.failSaves--
		return errors.New("db down")
	}
	s.Changes = nil
	m.subs[s.UserID] = s
	return nil
}

func (m *memStore) ListExpiredActive(_ context.Context, now time.Time, limit int) ([]*model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Subscription
	for _, s := range m.subs {
		if s.Status == model.StatusActive && s.ExpiresAt != nil && s.ExpiresAt.Before(now) {
			out = append(out, s)
		}
	}
	return out[:min(len(out), limit)], nil
}

func (m *memStore) ListExpiringUnreminded(_ context.Context, now time.Time, within time.Duration, limit int) ([]*model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Subscription
	for _, s := range m.subs {
		if s.Status == model.StatusActive && s.ExpiresAt != nil && s.ReminderSentAt == nil &&
			s.ExpiresAt.After(now) && s.ExpiresAt.Before(now.Add(within)) {
			out = append(out, s)
		}
	}
	return out[:min(len(out), limit)], nil
}

func (m *memStore) MarkReminderSent(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subs {
		if s.ID == id {
			s.ReminderSentAt = &at
			return nil
		}
	}
	return repository.ErrSubscriptionNotFound
}

func (m *memStore) CountSpreadsOnDate(_ context.Context, userID string, day time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, r := range m.readings {
		if r.UserID == userID && r.ReadingDate.Equal(day) && r.SpreadCode != model.SpreadDailyCard {
			n++
		}
	}
	return n, nil
}

func (m *memStore) CreatePromo(_ context.Context, p *model.PromoCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.promos[p.Code]; ok {
		return repository.ErrPromoExists
	}
	m.promos[p.Code] = p
	return nil
}

func (m *memStore) GetPromo(_ context.Context, code string) (*model.PromoCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.promos[code]
	if !ok {
		return nil, repository.ErrPromoNotFound
	}
	return p, nil
}

func (m *memStore) ListPromos(_ context.Context, activeOnly bool) ([]*model.PromoCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.PromoCode
	for _, p := range m.promos {
		if !activeOnly || p.IsActive {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memStore) DeactivatePromo(_ context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.promos[code]
	if !ok {
		return repository.ErrPromoNotFound
	}
	p.IsActive = false
	return nil
}

func (m *memStore) RedeemPromo(_ context.Context, code, userID, _ string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.promos[code]
	if !ok {
		return repository.ErrPromoNotFound
	}
	if m.redeemed[code+":"+userID] {
		return repository.ErrPromoAlreadyRedeemed
	}
	if p.MaxUses != nil && p.UsedCount >= *p.MaxUses {
		return repository.ErrPromoExhausted
	}
	p.UsedCount++
	m.redeemed[code+":"+userID] = true
	return nil
}

func (m *memStore) HasRedeemed(_ context.Context, code, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.redeemed[code+":"+userID], nil
}

func (m *memStore) HasSuccessfulPayments(_ context.Context, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.UserID == userID && p.Status == model.PaymentSucceeded {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) CreatePayment(_ context.Context, p *model.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.payments[p.ID] = &cp
	return nil
}

func (m *memStore) GetPayment(_ context.Context, id string) (*model.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, repository.ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) GetPaymentByProviderID(_ context.Context, providerID string) (*model.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.ProviderPaymentID == providerID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, repository.ErrPaymentNotFound
}

func (m *memStore) UpdatePayment(_ context.Context, p *model.Payment, expected model.PaymentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.payments[p.ID]
	if !ok {
		return repository.ErrPaymentNotFound
	}
	if stored.Status != expected {
		return repository.ErrPaymentConflict
	}
	cp := *p
	m.payments[p.ID] = &cp
	return nil
}

func (m *memStore) ListPayments(_ context.Context, f repository.PaymentFilter, _ string, limit int) ([]*model.Payment, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Payment
	for _, p := range m.payments {
		if (f.Status == "" || p.Status == f.Status) && (f.UserID == "" || p.UserID == f.UserID) {
			out = append(out, p)
		}
	}
	return out[:min(len(out), limit)], "", nil
}

func (m *memStore) ListPendingCardPayments(_ context.Context, cutoff time.Time, limit int) ([]*model.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Payment
	for _, p := range m.payments {
		if p.IsPending() && p.Method == model.MethodCard && p.ProviderPaymentID != "" && p.CreatedAt.Before(cutoff) {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out[:min(len(out), limit)], nil
}

func (m *memStore) ListUnactivatedPayments(_ context.Context, cutoff time.Time, limit int) ([]*model.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Payment
	for _, p := range m.payments {
		if p.NeedsActivation() && p.PaidAt != nil && p.PaidAt.Before(cutoff) {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out[:min(len(out), limit)], nil
}

func (m *memStore) MarkPaymentActivated(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return repository.ErrPaymentNotFound
	}
	if p.ActivatedAt == nil {
		p.ActivatedAt = &at
	}
	return nil
}

func (m *memStore) GetUserPaymentStats(_ context.Context, userID string) (*repository.UserPaymentStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := &repository.UserPaymentStats{}
	for _, p := range m.payments {
		if p.UserID == userID && p.Status == model.PaymentSucceeded {
			st.Count++
			st.Total += p.FinalAmount()
		}
	}
	return st, nil
}

func (m *memStore) CreateReading(_ context.Context, rd *model.Reading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rd.SpreadCode == model.SpreadDailyCard {
		for _, r := range m.readings {
			if r.UserID == rd.UserID && r.SpreadCode == model.SpreadDailyCard && r.ReadingDate.Equal(rd.ReadingDate) {
				return repository.ErrDailyCardExists
			}
		}
	}
	m.readings[rd.ID] = rd
	return nil
}

func (m *memStore) GetReading(_ context.Context, userID, id string) (*model.Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.readings[id]
	if !ok || r.UserID != userID {
		return nil, repository.ErrReadingNotFound
	}
	return r, nil
}

func (m *memStore) GetDailyCard(_ context.Context, userID string, day time.Time) (*model.Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.readings {
		if r.UserID == userID && r.SpreadCode == model.SpreadDailyCard && r.ReadingDate.Equal(day) {
			return r, nil
		}
	}
	return nil, repository.ErrReadingNotFound
}

func (m *memStore) ListReadings(_ context.Context, userID string, f repository.ReadingFilter, _ string, limit int) ([]*model.Reading, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Reading
	for _, r := range m.readings {
		if r.UserID != userID || (f.FavoritesOnly && !r.Favorite) || (f.SpreadCode != "" && r.SpreadCode != f.SpreadCode) {
			continue
		}
		out = append(out, r)
	}
	return out[:min(len(out), limit)], "", nil
}

func (m *memStore) RateReading(_ context.Context, userID, id string, rating int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.readings[id]
	if !ok || r.UserID != userID {
		return repository.ErrReadingNotFound
	}
	r.Rating = &rating
	return nil
}

func (m *memStore) ToggleFavorite(_ context.Context, userID, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.readings[id]
	if !ok || r.UserID != userID {
		return false, repository.ErrReadingNotFound
	}
	r.Favorite = !r.Favorite
	return r.Favorite, nil
}

func (m *memStore) UserCardCounts(_ context.Context, userID string) (int64, map[int]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	counts := make(map[int]int)
	for _, r := range m.readings {
		if r.UserID != userID {
			continue
		}
		total++
		for _, c := range r.Cards {
			counts[c.CardID]++
		}
	}
	return total, counts, nil
}

func (m *memStore) RecordHoroscopeView(context.Context, string, string, model.HoroscopePeriod, time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.views++
	return nil
}

// counters is an in-memory DailyCounters.
type counters struct {
	mu   sync.Mutex
	vals map[string]int64
	fail bool
}

func newCounters() *counters {
	return &counters{vals: make(map[string]int64)}
}

func (c *counters) key(name, subject string, now time.Time) string {
	return name + ":" + subject + ":" + now.Format("2006-01-02")
}

func (c *counters) IncrDaily(_ context.Context, name, subject string, now time.Time) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return 0, io.ErrUnexpectedEOF
	}
	k := c.key(name, subject, now)
	c.vals[k]++
	return c.vals[k], nil
}

func (c *counters) DecrDaily(_ context.Context, name, subject string, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return io.ErrUnexpectedEOF
	}
	if k := c.key(name, subject, now); c.vals[k] > 0 {
		c.vals[k]--
	}
	return nil
}

func (c *counters) GetDaily(_ context.Context, name, subject string, now time.Time) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return 0, io.ErrUnexpectedEOF
	}
	v, ok := c.vals[c.key(name, subject, now)]
	if !ok {
		return 0, cache.ErrCacheMiss
	}
	return v, nil
}

func (c *counters) SeedDaily(_ context.Context, name, subject string, now time.Time, value int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := c.key(name, subject, now)
	if _, ok := c.vals[k]; !ok {
		c.vals[k] = value
	}
	return nil
}

// fakeGenerator returns canned text or an error.
type fakeGenerator struct {
	mu       sync.Mutex
	text     string
	err      error
	requests []llm.Request
	gate     chan struct{} // when set, Generate waits for it to close
}

func (g *fakeGenerator) Generate(_ context.Context, req llm.Request) (*llm.Response, error) {
	if g.gate != nil {
		<-g.gate
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if g.err != nil {
		return nil, g.err
	}
	return &llm.Response{Text: g.text, Provider: "fake", Model: "fake-1"}, nil
}

func (g *fakeGenerator) Available() bool { return true }

// fakeNotifier records published messages and dedups by key.
type fakeNotifier struct {
	mu       sync.Mutex
	messages []notify.Message
	keys     map[string]bool
}

func (n *fakeNotifier) Publish(_ context.Context, msg notify.Message) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.keys == nil {
		n.keys = make(map[string]bool)
	}
	if msg.DedupKey != "" && n.keys[msg.DedupKey] {
		return false, nil
	}
	n.keys[msg.DedupKey] = true
	n.messages = append(n.messages, msg)
	return true, nil
}

func (n *fakeNotifier) kinds() []model.NotificationKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]model.NotificationKind, len(n.messages))
	for i, m := range n.messages {
		out[i] = m.Kind
	}
	return out
}

// fakeTracker records tracked usage kinds.
type fakeTracker struct {
	mu    sync.Mutex
	kinds []model.UsageKind
}

func (t *fakeTracker) Track(_ string, _ int64, kind model.UsageKind, _, _ string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.kinds = append(t.kinds, kind)
}

// fakeGateway is an in-memory payment.Gateway.
type fakeGateway struct {
	mu       sync.Mutex
	payments map[string]*payment.GatewayPayment
	refunds  []string
	seq      int
	err      error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{payments: make(map[string]*payment.GatewayPayment)}
}

func (g *fakeGateway) CreatePayment(_ context.Context, req payment.CreateRequest) (*payment.GatewayPayment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	g.seq++
	gp := &payment.GatewayPayment{
		ID:              fmt.Sprintf("gw-%d", g.seq),
		PaymentID:       req.PaymentID,
		Status:          model.PaymentPending,
		Amount:          req.Amount,
		Currency:        req.Currency,
		ConfirmationURL: "https://pay.example/" + req.PaymentID,
	}
	g.payments[gp.ID] = gp
	return gp, nil
}

func (g *fakeGateway) GetPayment(_ context.Context, id string) (*payment.GatewayPayment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	gp, ok := g.payments[id]
	if !ok {
		return nil, payment.ErrGatewayPayment
	}
	cp := *gp
	return &cp, nil
}

func (g *fakeGateway) Refund(_ context.Context, id string, amount int64, currency string) (*payment.Refund, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refunds = append(g.refunds, id)
	return &payment.Refund{ID: "rf-" + id, PaymentID: id, Status: "succeeded", Amount: amount, Currency: currency}, nil
}

func (g *fakeGateway) setStatus(id string, status model.PaymentStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.payments[id].Status = status
}

func defaultStars() config.StarsConfig {
	return config.StarsConfig{Basic: 150, Premium: 300, VIP: 650}
}

// env wires every service over one memStore.
type env struct {
	now       time.Time
	store     *memStore
	counters  *counters
	gen       *fakeGenerator
	notifier  *fakeNotifier
	tracker   *fakeTracker
	gateway   *fakeGateway
	subs      *SubscriptionService
	users     *UserService
	payments  *PaymentService
	tarot     *TarotService
	astrology *AstrologyService
	notify    *NotificationService
	stats     *StatsService
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		now:      testNow,
		store:    newMemStore(),
		counters: newCounters(),
		gen:      &fakeGenerator{text: "Толкование"},
		notifier: &fakeNotifier{},
		tracker:  &fakeTracker{},
		gateway:  newFakeGateway(),
	}
	clock := testClock(&e.now)
	logger := testLogger()

	e.subs = NewSubscriptionService(e.store, e.counters, clock, logger)
	e.users = NewUserService(e.store, e.subs, e.tracker, e.notifier, []int64{1}, clock, logger)
	e.payments = NewPaymentService(e.store, e.subs, PaymentDeps{
		Gateway:  e.gateway,
		Tracker:  e.tracker,
		Notifier: e.notifier,
		Stars:    defaultStars(),
	}, clock, logger)
	e.tarot = NewTarotService(e.store, e.subs, e.gen, nil, e.tracker, nil, clock, logger)
	e.astrology = NewAstrologyService(e.store, e.subs, e.gen, nil, e.tracker, nil, clock, logger)
	e.notify = NewNotificationService(e.store, e.subs, e.astrology, e.notifier, clock, logger)
	return e
}

func (e *env) register(t *testing.T, tgID int64) *model.User {
	t.Helper()
	res, err := e.users.Register(context.Background(), model.TelegramProfile{ID: tgID, FirstName: "Анна"}, "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return res.User
}
