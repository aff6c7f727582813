package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/astrotarot/astrotarot/internal/astro"
	"github.com/astrotarot/astrotarot/internal/model"
	"github.com/astrotarot/astrotarot/internal/notify"
	"github.com/astrotarot/astrotarot/internal/repository"
)

const (
	referralCodeLength  = 6
	maxReferralRetries  = 5
	defaultUserPageSize = 20
)

// Days of the basic plan granted for a referral.
const (
	ReferrerBonusDays = 7
	NewcomerBonusDays = 3
)

// UserStore is the storage used by UserService.
type UserStore interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByTelegramID(ctx context.Context, telegramID int64) (*model.User, error)
	GetUserByReferralCode(ctx context.Context, code string) (*model.User, error)
	UpdateUserProfile(ctx context.Context, id string, p model.TelegramProfile) error
	UpdateBirthData(ctx context.Context, id, name string, birth *model.BirthData, sign string) error
	UpdateUserSettings(ctx context.Context, id string, tone model.ToneOfVoice, n model.NotificationSettings) error
	TouchUser(ctx context.Context, id string, at time.Time) error
	IncrementReferralCount(ctx context.Context, id string) error
	SetUserStatus(ctx context.Context, id string, status model.UserStatus) error
	SetUserRole(ctx context.Context, id string, role model.UserRole) error
	AnonymizeUser(ctx context.Context, id string, now time.Time) error
	ListUsers(ctx context.Context, filter repository.UserFilter, cursor string, limit int) ([]*model.User, string, error)

	CreatePartner(ctx context.Context, p *model.Partner) error
	GetPartner(ctx context.Context, userID, id string) (*model.Partner, error)
	ListPartners(ctx context.Context, userID string) ([]*model.Partner, error)
	CountPartners(ctx context.Context, userID string) (int, error)
	DeletePartner(ctx context.Context, userID, id string) error

	GetUserPaymentStats(ctx context.Context, userID string) (*repository.UserPaymentStats, error)
}

// UserService handles registration, profiles and partners.
type UserService struct {
	store    UserStore
	subs     *SubscriptionService
	tracker  Tracker
	notifier Notifier
	admins   []int64
	clock    Clock
	logger   *slog.Logger
}

// NewUserService creates a new UserService. tracker and notifier may be nil.
func NewUserService(store UserStore, subs *SubscriptionService, tracker Tracker, notifier Notifier, adminIDs []int64, clock Clock, logger *slog.Logger) *UserService {
	if tracker == nil {
		tracker = nopTracker{}
	}
	return &UserService{
		store:    store,
		subs:     subs,
		tracker:  tracker,
		notifier: notifier,
		admins:   adminIDs,
		clock:    clock,
		logger:   logger.With("component", "users"),
	}
}

// RegisterResult is the outcome of Register.
type RegisterResult struct {
	User     *model.User
	Created  bool
	Referrer *model.User
}

// Register returns the user for a Telegram profile, creating it on first
// contact. referralCode is the optional /start payload.
func (s *UserService) Register(ctx context.Context, profile model.TelegramProfile, referralCode string) (*RegisterResult, error) {
	existing, err := s.store.GetUserByTelegramID(ctx, profile.ID)
	if err == nil {
		if profileChanged(existing, profile) {
			if err := s.store.UpdateUserProfile(ctx, existing.ID, profile); err != nil {
				return nil, err
			}
			existing.Username = profile.Username
			existing.FirstName = profile.FirstName
			existing.LastName = profile.LastName
		}
		if err := s.syncRole(ctx, existing); err != nil {
			return nil, err
		}
		return &RegisterResult{User: existing}, nil
	}
	if !errors.Is(err, repository.ErrUserNotFound) {
		return nil, err
	}

	now := s.clock.now()
	user := &model.User{
		ID:            ulid.Make().String(),
		TelegramID:    profile.ID,
		Username:      profile.Username,
		FirstName:     profile.FirstName,
		LastName:      profile.LastName,
		LanguageCode:  cmpOr(profile.LanguageCode, "ru"),
		Role:          s.roleFor(profile.ID),
		Status:        model.UserActive,
		Tone:          model.ToneFriend,
		Notifications: model.DefaultNotificationSettings(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	var referrer *model.User
	if code := strings.ToUpper(strings.TrimSpace(referralCode)); code != "" {
		ref, err := s.store.GetUserByReferralCode(ctx, code)
		switch {
		case err == nil && !ref.IsBlocked():
			referrer = ref
			user.ReferredBy = &ref.ID
		case err != nil && !errors.Is(err, repository.ErrUserNotFound):
			s.logger.Warn("referral lookup failed", "code", code, "error", err)
		}
	}

	if err := s.createWithReferralCode(ctx, user); err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			// Concurrent /start from the same account.
			u, getErr := s.store.GetUserByTelegramID(ctx, profile.ID)
			if getErr != nil {
				return nil, getErr
			}
			if err := s.syncRole(ctx, u); err != nil {
				return nil, err
			}
			return &RegisterResult{User: u}, nil
		}
		return nil, err
	}

	if _, err := s.subs.CreateFree(ctx, user.ID); err != nil {
		return nil, err
	}

	if referrer != nil {
		s.applyReferral(ctx, referrer, user)
	}

	s.tracker.Track(user.ID, user.TelegramID, model.UsageRegister, "start", referralCode)
	s.logger.Info("user registered",
		"user_id", user.ID,
		"telegram_id", user.TelegramID,
		"referred", referrer != nil,
	)
	return &RegisterResult{User: user, Created: true, Referrer: referrer}, nil
}

// roleFor returns the role the configured admin list grants.
func (s *UserService) roleFor(telegramID int64) model.UserRole {
	if slices.Contains(s.admins, telegramID) {
		return model.RoleAdmin
	}
	return model.RoleUser
}

// syncRole applies admin list changes to an existing account.
func (s *UserService) syncRole(ctx context.Context, u *model.User) error {
	role := s.roleFor(u.TelegramID)
	if u.Role == role {
		return nil
	}
	if err := s.store.SetUserRole(ctx, u.ID, role); err != nil {
		return err
	}
	s.logger.Info("user role changed", "user_id", u.ID, "from", u.Role, "to", role)
	u.Role = role
	return nil
}

func (s *UserService) createWithReferralCode(ctx context.Context, user *model.User) error {
	var err error
	for range maxReferralRetries {
		user.ReferralCode = randomCode(referralCodeLength)
		err = s.store.CreateUser(ctx, user)
		if !errors.Is(err, repository.ErrReferralCodeExists) {
			return err
		}
	}
	return fmt.Errorf("failed to generate unique referral code: %w", err)
}

func (s *UserService) applyReferral(ctx context.Context, referrer, user *model.User) {
	if err := s.store.IncrementReferralCount(ctx, referrer.ID); err != nil {
		s.logger.Warn("failed to count referral", "referrer_id", referrer.ID, "error", err)
	}
	if _, err := s.subs.Grant(ctx, referrer.ID, model.PlanBasic, ReferrerBonusDays, "referral"); err != nil {
		s.logger.Warn("failed to grant referrer bonus", "referrer_id", referrer.ID, "error", err)
		return
	}
	if _, err := s.subs.Grant(ctx, user.ID, model.PlanBasic, NewcomerBonusDays, "referral welcome"); err != nil {
		s.logger.Warn("failed to grant welcome bonus", "user_id", user.ID, "error", err)
	}

	if s.notifier == nil {
		return
	}
	_, err := s.notifier.Publish(ctx, notify.Message{
		UserID:     referrer.ID,
		TelegramID: referrer.TelegramID,
		Kind:       model.NotifyReferral,
		Text: fmt.Sprintf("🎁 По вашей ссылке присоединился новый пользователь!\n"+
			"Вам начислено %d дней тарифа «%s».", ReferrerBonusDays, model.PlanBasic.Title()),
		DedupKey: "referral:" + user.ID,
	})
	if err != nil {
		s.logger.Warn("failed to queue referral notification", "error", err)
	}
}

func profileChanged(u *model.User, p model.TelegramProfile) bool {
	return u.Username != p.Username || u.FirstName != p.FirstName || u.LastName != p.LastName
}

func cmpOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Get returns a user by internal id.
func (s *UserService) Get(ctx context.Context, id string) (*model.User, error) {
	u, err := s.store.GetUserByID(ctx, id)
	if errors.Is(err, repository.ErrUserNotFound) {
		return nil, ErrUserNotFound
	}
	return u, err
}

// GetByTelegramID returns a user by Telegram id.
func (s *UserService) GetByTelegramID(ctx context.Context, telegramID int64) (*model.User, error) {
	u, err := s.store.GetUserByTelegramID(ctx, telegramID)
	if errors.Is(err, repository.ErrUserNotFound) {
		return nil, ErrUserNotFound
	}
	return u, err
}

// Touch records user activity.
func (s *UserService) Touch(ctx context.Context, userID string) error {
	return s.store.TouchUser(ctx, userID, s.clock.now())
}

// BirthInput is raw birth data entered by the user.
type BirthInput struct {
	Name string
	Date time.Time
	// Time is "HH:MM" or empty when unknown.
	Time string
	City string
}

// UpdateBirthData stores birth data and recomputes the zodiac sign.
func (s *UserService) UpdateBirthData(ctx context.Context, userID string, in BirthInput) (*model.User, error) {
	name, err := model.ValidateName(in.Name)
	if err != nil {
		return nil, err
	}
	city, err := model.ValidateCity(in.City)
	if err != nil {
		return nil, err
	}
	if in.Date.IsZero() || in.Date.After(s.clock.now()) {
		return nil, model.ErrInvalidDate
	}

	birth := &model.BirthData{Date: in.Date.UTC().Truncate(24 * time.Hour), City: city}
	if in.Time != "" {
		tm, err := model.ParseClock(in.Time)
		if err != nil {
			return nil, err
		}
		birth.Time = &tm
	}

	sign := astro.SignFor(birth.Date).Key
	if err := s.store.UpdateBirthData(ctx, userID, name, birth, sign); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return s.Get(ctx, userID)
}

// UpdateSettings applies the non-nil fields of upd.
func (s *UserService) UpdateSettings(ctx context.Context, userID string, upd model.UserSettingsUpdate) (*model.User, error) {
	user, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	tone := user.Tone
	settings := user.Notifications
	if upd.Tone != nil {
		if !upd.Tone.Valid() {
			return nil, fmt.Errorf("%w: tone %q", ErrInvalidInput, *upd.Tone)
		}
		tone = *upd.Tone
	}
	if upd.NotificationsOn != nil {
		settings.Enabled = *upd.NotificationsOn
	}
	if upd.DailyHoroscopeOn != nil {
		settings.DailyHoroscope = *upd.DailyHoroscopeOn
	}
	if upd.HoroscopeTime != nil {
		tm, err := model.ParseClock(*upd.HoroscopeTime)
		if err != nil {
			return nil, err
		}
		settings.HoroscopeTime = tm
	}

	if err := s.store.UpdateUserSettings(ctx, userID, tone, settings); err != nil {
		return nil, err
	}
	user.Tone = tone
	user.Notifications = settings
	return user, nil
}

// Block stops the bot from serving the user.
func (s *UserService) Block(ctx context.Context, userID string) error {
	return s.setStatus(ctx, userID, model.UserBlocked)
}

// Unblock restores a blocked user.
func (s *UserService) Unblock(ctx context.Context, userID string) error {
	return s.setStatus(ctx, userID, model.UserActive)
}

func (s *UserService) setStatus(ctx context.Context, userID string, status model.UserStatus) error {
	err := s.store.SetUserStatus(ctx, userID, status)
	if errors.Is(err, repository.ErrUserNotFound) {
		return ErrUserNotFound
	}
	if err == nil {
		s.logger.Info("user status changed", "user_id", userID, "status", status)
	}
	return err
}

// DeleteData anonymizes the user and ends any paid period.
func (s *UserService) DeleteData(ctx context.Context, userID string) error {
	if _, err := s.subs.Cancel(ctx, userID, true); err != nil && !errors.Is(err, ErrSubscriptionNotActive) {
		return err
	}
	if err := s.store.AnonymizeUser(ctx, userID, s.clock.now()); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	s.logger.Info("user data deleted", "user_id", userID)
	return nil
}

// ActivityLevel grades how much a user has used the bot.
func ActivityLevel(actions int) string {
	switch {
	case actions == 0:
		return "new"
	case actions < 10:
		return "beginner"
	case actions < 50:
		return "active"
	case actions < 100:
		return "expert"
	default:
		return "master"
	}
}

// UserStatistics is the profile summary of a user.
type UserStatistics struct {
	DaysWithBot   int                    `json:"days_with_bot"`
	TotalReadings int                    `json:"total_readings"`
	ActivityLevel string                 `json:"activity_level"`
	Referrals     int                    `json:"referrals"`
	Partners      int                    `json:"partners"`
	Plan          model.SubscriptionPlan `json:"plan"`
	DaysLeft      int                    `json:"days_left"`
	PaymentsCount int64                  `json:"payments_count"`
	PaymentsTotal int64                  `json:"payments_total"`
}

// Statistics summarizes the user's history.
func (s *UserService) Statistics(ctx context.Context, user *model.User) (*UserStatistics, error) {
	now := s.clock.now()
	sub, err := s.subs.Get(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	partners, err := s.store.CountPartners(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	payments, err := s.store.GetUserPaymentStats(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	return &UserStatistics{
		DaysWithBot:   int(now.Sub(user.CreatedAt).Hours() / 24),
		TotalReadings: user.TotalReadings,
		ActivityLevel: ActivityLevel(user.TotalReadings),
		Referrals:     user.ReferralCount,
		Partners:      partners,
		Plan:          sub.EffectivePlan(now),
		DaysLeft:      sub.DaysLeft(now),
		PaymentsCount: payments.Count,
		PaymentsTotal: payments.Total,
	}, nil
}

// ListUsersInput defines input for listing users.
type ListUsersInput struct {
	Status model.UserStatus
	Search string
	Cursor string
	Limit  int
}

// ListUsersOutput is a page of users.
type ListUsersOutput struct {
	Users      []*model.User
	NextCursor string
	HasMore    bool
}

// List returns a page of users for the admin API.
func (s *UserService) List(ctx context.Context, in ListUsersInput) (*ListUsersOutput, error) {
	users, next, err := s.store.ListUsers(ctx, repository.UserFilter{
		Status: in.Status,
		Search: strings.TrimSpace(in.Search),
	}, in.Cursor, clampLimit(in.Limit, defaultUserPageSize, 100))
	if err != nil {
		if errors.Is(err, repository.ErrInvalidCursor) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return nil, err
	}
	return &ListUsersOutput{Users: users, NextCursor: next, HasMore: next != ""}, nil
}

// PartnerInput is a person added for compatibility analysis.
type PartnerInput struct {
	Name string
	Date time.Time
}

// AddPartner saves a partner within the plan's partner limit.
func (s *UserService) AddPartner(ctx context.Context, userID string, in PartnerInput) (*model.Partner, error) {
	name, err := model.ValidateName(in.Name)
	if err != nil {
		return nil, err
	}
	if in.Date.IsZero() || in.Date.After(s.clock.now()) {
		return nil, model.ErrInvalidDate
	}

	count, err := s.store.CountPartners(ctx, userID)
	if err != nil {
		return nil, err
	}
	sub, err := s.subs.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !sub.CheckPartnersLimit(count, s.clock.now()) {
		return nil, ErrPartnerLimitReached
	}

	date := in.Date.UTC().Truncate(24 * time.Hour)
	p := &model.Partner{
		ID:         ulid.Make().String(),
		UserID:     userID,
		Name:       name,
		BirthDate:  date,
		ZodiacSign: astro.SignFor(date).Key,
		CreatedAt:  s.clock.now(),
	}
	if err := s.store.CreatePartner(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Partners lists the user's saved partners.
func (s *UserService) Partners(ctx context.Context, userID string) ([]*model.Partner, error) {
	return s.store.ListPartners(ctx, userID)
}

// Partner returns one saved partner.
func (s *UserService) Partner(ctx context.Context, userID, partnerID string) (*model.Partner, error) {
	p, err := s.store.GetPartner(ctx, userID, partnerID)
	if errors.Is(err, repository.ErrPartnerNotFound) {
		return nil, ErrPartnerNotFound
	}
	return p, err
}

// DeletePartner removes a saved partner.
func (s *UserService) DeletePartner(ctx context.Context, userID, partnerID string) error {
	err := s.store.DeletePartner(ctx, userID, partnerID)
	if errors.Is(err, repository.ErrPartnerNotFound) {
		return ErrPartnerNotFound
	}
	return err
}
