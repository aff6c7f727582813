package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/oklog/ulid/v2"

	"github.com/astrotarot/astrotarot/internal/llm"
	"github.com/astrotarot/astrotarot/internal/metrics"
	"github.com/astrotarot/astrotarot/internal/model"
	"github.com/astrotarot/astrotarot/internal/repository"
	"github.com/astrotarot/astrotarot/internal/tarot"
)

const (
	cardInfoCacheSize  = 256
	cardInfoTTL        = 7 * 24 * time.Hour
	defaultHistorySize = 10
)

// TarotStore is the storage used by TarotService.
type TarotStore interface {
	CreateReading(ctx context.Context, rd *model.Reading) error
	GetReading(ctx context.Context, userID, id string) (*model.Reading, error)
	GetDailyCard(ctx context.Context, userID string, day time.Time) (*model.Reading, error)
	ListReadings(ctx context.Context, userID string, filter repository.ReadingFilter, cursor string, limit int) ([]*model.Reading, string, error)
	RateReading(ctx context.Context, userID, id string, rating int) error
	ToggleFavorite(ctx context.Context, userID, id string) (bool, error)
	UserCardCounts(ctx context.Context, userID string) (int64, map[int]int, error)
	IncrementReadings(ctx context.Context, id string) error
}

// TarotService draws and interprets readings.
type TarotService struct {
	store     TarotStore
	subs      *SubscriptionService
	generator Generator
	catalog   *tarot.Catalog
	drawer    *tarot.Drawer
	cardInfo  *lru.Cache[string, *CardInfo]
	tracker   Tracker
	recorder  metrics.Recorder
	clock     Clock
	logger    *slog.Logger
}

// NewTarotService creates a new TarotService. generator may be nil, in which
// case interpretations are built from card keywords.
func NewTarotService(store TarotStore, subs *SubscriptionService, generator Generator, drawer *tarot.Drawer, tracker Tracker, recorder metrics.Recorder, clock Clock, logger *slog.Logger) *TarotService {
	if drawer == nil {
		drawer = tarot.NewDrawer(nil)
	}
	if tracker == nil {
		tracker = nopTracker{}
	}
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	info, _ := lru.New[string, *CardInfo](cardInfoCacheSize)
	return &TarotService{
		store:     store,
		subs:      subs,
		generator: generator,
		catalog:   tarot.DefaultCatalog(),
		drawer:    drawer,
		cardInfo:  info,
		tracker:   tracker,
		recorder:  recorder,
		clock:     clock,
		logger:    logger.With("component", "tarot"),
	}
}

// AvailableSpreads returns the spreads unlocked by the user's plan.
func (s *TarotService) AvailableSpreads(ctx context.Context, userID string) ([]tarot.Spread, error) {
	sub, err := s.subs.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.catalog.Available(sub.EffectivePlan(s.clock.now())), nil
}

// DailyCardResult is the card of the day.
type DailyCardResult struct {
	Reading *model.Reading
	Card    tarot.Card
	// Existing is true when the card had already been drawn today.
	Existing bool
}

// DailyCard returns today's card, drawing it on the first call of the day.
func (s *TarotService) DailyCard(ctx context.Context, user *model.User) (*DailyCardResult, error) {
	day := s.clock.today()
	if rd, err := s.store.GetDailyCard(ctx, user.ID, day); err == nil {
		return s.dailyResult(rd, true)
	} else if !errors.Is(err, repository.ErrReadingNotFound) {
		return nil, err
	}

	cards, err := s.drawer.Draw(1)
	if err != nil {
		return nil, err
	}
	card := tarot.MustCard(cards[0].CardID)

	text, modelName := s.interpret(ctx, llm.CardRequest(user.Tone, cardPrompt(card, cards[0].Reversed, "")), func() string {
		return tarot.FallbackCard(card, cards[0].Reversed)
	})

	rd := &model.Reading{
		ID:             ulid.Make().String(),
		UserID:         user.ID,
		SpreadCode:     model.SpreadDailyCard,
		Cards:          cards,
		Interpretation: text,
		Model:          modelName,
		ReadingDate:    day,
		CreatedAt:      s.clock.now(),
	}
	if err := s.store.CreateReading(ctx, rd); err != nil {
		if errors.Is(err, repository.ErrDailyCardExists) {
			existing, getErr := s.store.GetDailyCard(ctx, user.ID, day)
			if getErr != nil {
				return nil, getErr
			}
			return s.dailyResult(existing, true)
		}
		return nil, err
	}

	s.afterReading(ctx, user, rd)
	return &DailyCardResult{Reading: rd, Card: card}, nil
}

func (s *TarotService) dailyResult(rd *model.Reading, existing bool) (*DailyCardResult, error) {
	if len(rd.Cards) == 0 {
		return nil, fmt.Errorf("daily card %s has no cards", rd.ID)
	}
	card, err := tarot.CardByID(rd.Cards[0].CardID)
	if err != nil {
		return nil, err
	}
	return &DailyCardResult{Reading: rd, Card: card, Existing: existing}, nil
}

// SpreadResult is a finished spread.
type SpreadResult struct {
	Reading   *model.Reading
	Spread    tarot.Spread
	Remaining int
}

// Spread draws and interprets a spread. Spreads above the user's plan return
// a *FeatureError and an exhausted allowance a *LimitError.
func (s *TarotService) Spread(ctx context.Context, user *model.User, code, question string) (*SpreadResult, error) {
	spread, err := s.catalog.Get(code)
	if err != nil || code == model.SpreadDailyCard {
		return nil, ErrSpreadNotFound
	}

	sub, err := s.subs.Get(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if !sub.EffectivePlan(s.clock.now()).Covers(spread.MinPlan) {
		return nil, &FeatureError{Feature: "spread:" + spread.Code, Plan: spread.MinPlan}
	}

	if spread.RequiresQuestion || question != "" {
		q, err := model.ValidateQuestion(question)
		if err != nil {
			if question == "" {
				return nil, ErrQuestionRequired
			}
			return nil, err
		}
		question = q
	}

	remaining, finish, err := s.subs.ReserveSpread(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	saved := false
	defer func() { finish(saved) }()

	cards, err := s.drawer.DrawSpread(spread)
	if err != nil {
		return nil, err
	}

	text, modelName := s.interpret(ctx, llm.SpreadRequest(user.Tone, spreadPrompt(spread, cards, question)), func() string {
		return tarot.FallbackSpread(spread, cards, question)
	})

	rd := &model.Reading{
		ID:             ulid.Make().String(),
		UserID:         user.ID,
		SpreadCode:     spread.Code,
		Question:       question,
		Cards:          cards,
		Interpretation: text,
		Model:          modelName,
		ReadingDate:    s.clock.today(),
		CreatedAt:      s.clock.now(),
	}
	if err := s.store.CreateReading(ctx, rd); err != nil {
		return nil, err
	}

	saved = true
	s.afterReading(ctx, user, rd)
	return &SpreadResult{Reading: rd, Spread: spread, Remaining: remaining}, nil
}

func (s *TarotService) afterReading(ctx context.Context, user *model.User, rd *model.Reading) {
	if err := s.store.IncrementReadings(ctx, user.ID); err != nil {
		s.logger.Warn("failed to count reading", "user_id", user.ID, "error", err)
	}
	s.recorder.IncReading(rd.SpreadCode)
	s.tracker.Track(user.ID, user.TelegramID, model.UsageReading, rd.SpreadCode, "")
}

// interpret asks the generator and falls back to the keyword text on any
// failure. It returns the text and the model that wrote it.
func (s *TarotService) interpret(ctx context.Context, req llm.Request, fallback func() string) (string, string) {
	if s.generator == nil || !s.generator.Available() {
		return fallback(), ""
	}
	resp, err := s.generator.Generate(ctx, req)
	if err != nil {
		s.logger.Warn("interpretation failed, using fallback", "kind", req.Kind, "error", err)
		return fallback(), ""
	}
	return resp.Text, resp.Model
}

func cardPrompt(c tarot.Card, reversed bool, question string) llm.CardPrompt {
	return llm.CardPrompt{Name: c.Name, Reversed: reversed, Keywords: c.Keywords, Question: question}
}

func spreadPrompt(sp tarot.Spread, cards []model.DrawnCard, question string) llm.SpreadPrompt {
	placed := make([]llm.PlacedCard, 0, len(cards))
	for _, dc := range cards {
		c := tarot.MustCard(dc.CardID)
		placed = append(placed, llm.PlacedCard{
			Position: sp.Position(dc.Position),
			Card:     cardPrompt(c, dc.Reversed, ""),
		})
	}
	return llm.SpreadPrompt{Name: sp.Name, Question: question, Cards: placed}
}

// CardInfo describes a card for the card reference screen.
type CardInfo struct {
	Card     tarot.Card `json:"card"`
	Upright  string     `json:"upright"`
	Reversed string     `json:"reversed"`
}

// CardInfo returns the description of a card, generated once per tone.
func (s *TarotService) CardInfo(ctx context.Context, cardID int, tone model.ToneOfVoice) (*CardInfo, error) {
	card, err := tarot.CardByID(cardID)
	if err != nil {
		return nil, err
	}

	key := strconv.Itoa(cardID) + ":" + string(tone)
	if info, ok := s.cardInfo.Get(key); ok {
		return info, nil
	}

	describe := func(reversed bool) string {
		req := llm.CardRequest(tone, cardPrompt(card, reversed, ""))
		req.CacheTTL = cardInfoTTL
		text, _ := s.interpret(ctx, req, func() string { return tarot.FallbackCard(card, reversed) })
		return text
	}
	info := &CardInfo{Card: card, Upright: describe(false), Reversed: describe(true)}
	s.cardInfo.Add(key, info)
	return info, nil
}

// HistoryInput defines input for listing readings.
type HistoryInput struct {
	FavoritesOnly bool
	SpreadCode    string
	Cursor        string
	Limit         int
}

// HistoryOutput is a page of readings.
type HistoryOutput struct {
	Readings   []*model.Reading
	NextCursor string
	HasMore    bool
}

// History lists the user's readings newest first.
func (s *TarotService) History(ctx context.Context, userID string, in HistoryInput) (*HistoryOutput, error) {
	readings, next, err := s.store.ListReadings(ctx, userID, repository.ReadingFilter{
		FavoritesOnly: in.FavoritesOnly,
		SpreadCode:    in.SpreadCode,
	}, in.Cursor, clampLimit(in.Limit, defaultHistorySize, 50))
	if err != nil {
		if errors.Is(err, repository.ErrInvalidCursor) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return nil, err
	}
	return &HistoryOutput{Readings: readings, NextCursor: next, HasMore: next != ""}, nil
}

// Reading returns one of the user's readings.
func (s *TarotService) Reading(ctx context.Context, userID, readingID string) (*model.Reading, error) {
	rd, err := s.store.GetReading(ctx, userID, readingID)
	if errors.Is(err, repository.ErrReadingNotFound) {
		return nil, ErrReadingNotFound
	}
	return rd, err
}

// Rate stores a 1..5 rating of a reading.
func (s *TarotService) Rate(ctx context.Context, userID, readingID string, rating int) error {
	if rating < 1 || rating > 5 {
		return ErrInvalidRating
	}
	err := s.store.RateReading(ctx, userID, readingID, rating)
	if errors.Is(err, repository.ErrReadingNotFound) {
		return ErrReadingNotFound
	}
	return err
}

// ToggleFavorite flips the favorite flag and returns the new value.
func (s *TarotService) ToggleFavorite(ctx context.Context, userID, readingID string) (bool, error) {
	fav, err := s.store.ToggleFavorite(ctx, userID, readingID)
	if errors.Is(err, repository.ErrReadingNotFound) {
		return false, ErrReadingNotFound
	}
	return fav, err
}

// Statistics summarizes the user's tarot history.
func (s *TarotService) Statistics(ctx context.Context, userID string) (*model.ReadingStats, error) {
	total, counts, err := s.store.UserCardCounts(ctx, userID)
	if err != nil {
		return nil, err
	}
	return ReadingStatistics(total, counts), nil
}

// ReadingStatistics aggregates per-card counts into a summary.
func ReadingStatistics(readings int64, cardCounts map[int]int) *model.ReadingStats {
	stats := &model.ReadingStats{
		TotalSpreads: int(readings),
		SuitsCount:   make(map[string]int),
	}
	for id, n := range cardCounts {
		card, err := tarot.CardByID(id)
		if err != nil {
			continue
		}
		stats.TotalCards += n
		if card.IsMajor() {
			stats.MajorArcanaCount += n
			continue
		}
		stats.MinorArcanaCount += n
		stats.SuitsCount[card.Suit] += n
	}

	best := 0
	for _, suit := range tarot.Suits {
		if n := stats.SuitsCount[suit.Name]; n > best {
			stats.FavoriteSuit, best = suit.Name, n
		}
	}
	if stats.TotalSpreads > 0 {
		stats.AvgCardsPerRead = float64(stats.TotalCards) / float64(stats.TotalSpreads)
	}
	if stats.TotalCards > 0 {
		stats.MajorPercentage = float64(stats.MajorArcanaCount) * 100 / float64(stats.TotalCards)
	}
	return stats
}
