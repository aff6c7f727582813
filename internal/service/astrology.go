package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/astrotarot/astrotarot/internal/astro"
	"github.com/astrotarot/astrotarot/internal/cache"
	"github.com/astrotarot/astrotarot/internal/llm"
	"github.com/astrotarot/astrotarot/internal/metrics"
	"github.com/astrotarot/astrotarot/internal/model"
	"github.com/astrotarot/astrotarot/internal/repository"
)

const chartTextTTL = 30 * 24 * time.Hour

// HoroscopeCache stores generated horoscopes. *cache.Cache implements it.
type HoroscopeCache interface {
	GetHoroscope(ctx context.Context, key string, dst any) error
	SetHoroscope(ctx context.Context, key string, v any, until time.Time) error
}

// AstrologyStore is the storage used by AstrologyService.
type AstrologyStore interface {
	RecordHoroscopeView(ctx context.Context, userID, sign string, period model.HoroscopePeriod, at time.Time) error
	GetPartner(ctx context.Context, userID, id string) (*model.Partner, error)
}

// AstrologyService produces horoscopes, charts and compatibility reports.
type AstrologyService struct {
	store     AstrologyStore
	subs      *SubscriptionService
	generator Generator
	cache     HoroscopeCache
	tracker   Tracker
	recorder  metrics.Recorder
	clock     Clock
	logger    *slog.Logger
}

// NewAstrologyService creates a new AstrologyService. generator and cache
// may be nil.
func NewAstrologyService(store AstrologyStore, subs *SubscriptionService, generator Generator, hc HoroscopeCache, tracker Tracker, recorder metrics.Recorder, clock Clock, logger *slog.Logger) *AstrologyService {
	if tracker == nil {
		tracker = nopTracker{}
	}
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &AstrologyService{
		store:     store,
		subs:      subs,
		generator: generator,
		cache:     hc,
		tracker:   tracker,
		recorder:  recorder,
		clock:     clock,
		logger:    logger.With("component", "astrology"),
	}
}

// Horoscope returns the horoscope of a sign for the period starting on the
// calendar day of date. Results are cached until the end of that day.
func (s *AstrologyService) Horoscope(ctx context.Context, signKey string, period model.HoroscopePeriod, date time.Time, tone model.ToneOfVoice) (*model.Horoscope, error) {
	sign, err := astro.SignByKey(signKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if !period.Valid() {
		return nil, fmt.Errorf("%w: period %q", ErrInvalidInput, period)
	}
	if !tone.Valid() {
		tone = model.ToneFriend
	}

	day := calendarDay(date, s.clock.loc())
	key := cache.HoroscopeKey(sign.Key, string(period), string(tone), day)
	if s.cache != nil {
		var cached model.Horoscope
		err := s.cache.GetHoroscope(ctx, key, &cached)
		if err == nil {
			return &cached, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Warn("horoscope cache unavailable", "error", err)
		}
	}

	forecast := astro.FallbackForecast(sign, string(period), day)
	if s.generator != nil && s.generator.Available() {
		resp, err := s.generator.Generate(ctx, llm.HoroscopeRequest(tone, llm.HoroscopePrompt{
			Sign:    sign.Name,
			Element: sign.Element,
			Period:  period.Title(),
			Date:    day,
		}))
		if err != nil {
			s.logger.Warn("horoscope generation failed, using template", "sign", sign.Key, "error", err)
		} else {
			forecast = astro.ParseForecast(resp.Text, forecast)
		}
	}

	h := &model.Horoscope{
		Sign:         sign.Key,
		SignName:     sign.Name,
		Element:      sign.Element,
		Period:       period,
		Date:         day.Format(time.DateOnly),
		General:      forecast.General,
		Love:         forecast.Love,
		Career:       forecast.Career,
		Health:       forecast.Health,
		LuckyNumbers: astro.LuckyNumbers(sign.Key, day),
		LuckyColor:   astro.LuckyColor(sign.Key),
	}

	if s.cache != nil {
		if err := s.cache.SetHoroscope(ctx, key, h, cache.EndOfDay(s.clock.now(), s.clock.loc())); err != nil {
			s.logger.Warn("failed to cache horoscope", "error", err)
		}
	}
	return h, nil
}

// Forecast returns the user's personal horoscope. Periods longer than the
// plan's forecast horizon return a *FeatureError.
func (s *AstrologyService) Forecast(ctx context.Context, user *model.User, period model.HoroscopePeriod) (*model.Horoscope, error) {
	if user.ZodiacSign == "" {
		return nil, ErrBirthDataRequired
	}
	if !period.Valid() {
		return nil, fmt.Errorf("%w: period %q", ErrInvalidInput, period)
	}

	features, err := s.subs.Features(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if period.Days() > features.ForecastDays {
		return nil, &FeatureError{Feature: "forecast_" + string(period), Plan: planForForecast(period.Days())}
	}

	h, err := s.Horoscope(ctx, user.ZodiacSign, period, s.clock.now(), user.Tone)
	if err != nil {
		return nil, err
	}

	if err := s.store.RecordHoroscopeView(ctx, user.ID, user.ZodiacSign, period, s.clock.now()); err != nil {
		s.logger.Warn("failed to record horoscope view", "user_id", user.ID, "error", err)
	}
	s.recorder.IncHoroscope(string(period))
	s.tracker.Track(user.ID, user.TelegramID, model.UsageHoroscope, user.ZodiacSign, string(period))
	return h, nil
}

func planForForecast(days int) model.SubscriptionPlan {
	for _, p := range model.PaidPlans {
		if model.FeaturesFor(p).ForecastDays >= days {
			return p
		}
	}
	return model.PlanVIP
}

// NatalResult is a computed chart with its interpretation.
type NatalResult struct {
	Chart          astro.Chart
	Interpretation string
	// Full is false when the plan only allows the short portrait.
	Full bool
}

// NatalChart computes the user's chart. The detailed interpretation needs
// the full_natal_chart feature.
func (s *AstrologyService) NatalChart(ctx context.Context, user *model.User) (*NatalResult, error) {
	if !user.HasBirthData() {
		return nil, ErrBirthDataRequired
	}
	sub, err := s.subs.Get(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	full := sub.HasFeature(model.FeatureFullNatalChart, s.clock.now())

	birth := astro.Birth{Date: user.Birth.Date, City: user.Birth.City}
	if user.Birth.HasExactTime() {
		birth.Time = *user.Birth.Time
	}
	chart := astro.NatalChart(birth)

	prompt := llm.NatalPrompt{
		Name:            user.DisplayName(),
		BirthDate:       user.Birth.Date,
		City:            user.Birth.City,
		Sun:             chart.SunSign.Name,
		Moon:            chart.MoonSign.Name,
		DominantElement: chart.DominantElement,
		Full:            full,
	}
	if chart.Ascendant != nil {
		prompt.Ascendant = chart.Ascendant.Name
	}
	for _, p := range chart.Planets {
		prompt.Planets = append(prompt.Planets, fmt.Sprintf("%s в знаке %s, %.1f°, дом %d", p.Name, p.SignName, p.Degree, p.House))
	}
	for _, a := range chart.Aspects {
		prompt.Aspects = append(prompt.Aspects, fmt.Sprintf("%s %s %s (орбис %.1f°)", a.Planet1, a.Type, a.Planet2, a.Orb))
	}

	req := llm.NatalRequest(user.Tone, prompt)
	req.CacheTTL = chartTextTTL
	text := s.generate(ctx, req, func() string { return natalSummary(chart) })

	s.tracker.Track(user.ID, user.TelegramID, model.UsageNatal, chart.SunSign.Key, "")
	return &NatalResult{Chart: chart, Interpretation: text, Full: full}, nil
}

func natalSummary(c astro.Chart) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Солнце в знаке %s: это ваша основа, то, как вы проявляете себя в мире.\n", c.SunSign.Name)
	fmt.Fprintf(&b, "Луна в знаке %s: так вы чувствуете и восстанавливаете силы.\n", c.MoonSign.Name)
	if c.Ascendant != nil {
		fmt.Fprintf(&b, "Асцендент в знаке %s: таким вас видят окружающие.\n", c.Ascendant.Name)
	}
	fmt.Fprintf(&b, "Преобладающая стихия: %s.", c.DominantElement)
	return b.String()
}

// CompatibilityReport is a synastry with its interpretation.
type CompatibilityReport struct {
	Partner        *model.Partner
	Result         astro.CompatibilityResult
	Interpretation string
}

// Compatibility compares the user with a saved partner.
func (s *AstrologyService) Compatibility(ctx context.Context, user *model.User, partnerID string) (*CompatibilityReport, error) {
	if err := s.subs.RequireFeature(ctx, user.ID, model.FeatureCompatibility); err != nil {
		return nil, err
	}
	if !user.HasBirthData() {
		return nil, ErrBirthDataRequired
	}
	partner, err := s.store.GetPartner(ctx, user.ID, partnerID)
	if err != nil {
		if errors.Is(err, repository.ErrPartnerNotFound) {
			return nil, ErrPartnerNotFound
		}
		return nil, err
	}

	res := astro.Compatibility(
		astro.Person{Name: user.DisplayName(), BirthDate: user.Birth.Date},
		astro.Person{Name: partner.Name, BirthDate: partner.BirthDate},
	)

	aspects := make(map[string]int, len(res.Aspects))
	for k, v := range res.Aspects {
		aspects[astro.AspectNames[k]] = v
	}
	req := llm.CompatibilityRequest(user.Tone, llm.CompatibilityPrompt{
		NameA:   user.DisplayName(),
		SignA:   res.Sign1.Name,
		NameB:   partner.Name,
		SignB:   res.Sign2.Name,
		Overall: res.Overall,
		Aspects: aspects,
	})
	req.CacheTTL = chartTextTTL
	text := s.generate(ctx, req, func() string { return res.Advice })

	s.tracker.Track(user.ID, user.TelegramID, model.UsageCompat, res.Sign1.Key+"+"+res.Sign2.Key, "")
	return &CompatibilityReport{Partner: partner, Result: res, Interpretation: text}, nil
}

// MoonPhase describes the moon on the calendar day of date.
func (s *AstrologyService) MoonPhase(date time.Time) astro.MoonInfo {
	return astro.MoonPhase(calendarDay(date, s.clock.loc()))
}

// Today returns the moon phase of the current day.
func (s *AstrologyService) Today() astro.MoonInfo {
	return s.MoonPhase(s.clock.now())
}

func (s *AstrologyService) generate(ctx context.Context, req llm.Request, fallback func() string) string {
	if s.generator == nil || !s.generator.Available() {
		return fallback()
	}
	resp, err := s.generator.Generate(ctx, req)
	if err != nil {
		s.logger.Warn("generation failed, using fallback", "kind", req.Kind, "error", err)
		return fallback()
	}
	return resp.Text
}
