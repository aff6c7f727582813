package bot

import (
	"fmt"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v3"

	"github.com/astrotarot/astrotarot/internal/model"
	"github.com/astrotarot/astrotarot/internal/notify"
	"github.com/astrotarot/astrotarot/internal/render"
	"github.com/astrotarot/astrotarot/internal/service"
	"github.com/astrotarot/astrotarot/internal/tarot"
)

const historyPageSize = 10

func (b *Bot) handleDailyCard(c tele.Context) error {
	res, err := b.tarot.DailyCard(reqCtx(c), currentUser(c))
	if err != nil {
		return err
	}
	reversed := len(res.Reading.Cards) > 0 && res.Reading.Cards[0].Reversed
	text := render.DailyCard(res.Card, reversed, res.Reading.Interpretation, res.Existing)
	return b.sendLong(c, text, readingKeyboard(res.Reading))
}

func (b *Bot) handleTarotMenu(c tele.Context) error {
	spreads, err := b.tarot.AvailableSpreads(reqCtx(c), currentUser(c).ID)
	if err != nil {
		return err
	}
	return c.EditOrSend("🔮 <b>Расклады Таро</b>\n\nСосредоточьтесь на вопросе и выберите расклад:", tarotKeyboard(spreads))
}

// handleSpread asks for a question first when the spread needs one.
func (b *Bot) handleSpread(c tele.Context) error {
	code := c.Data()
	sp, err := tarot.DefaultCatalog().Get(code)
	if err != nil {
		return service.ErrSpreadNotFound
	}
	if !sp.RequiresQuestion {
		return b.runSpread(c, code, "")
	}

	user := currentUser(c)
	if err := b.states.SetState(reqCtx(c), user.TelegramID, stateQuestion, map[string]string{"spread": code}); err != nil {
		return err
	}
	return c.Send(fmt.Sprintf("%s\n\n❓ Сформулируйте вопрос, на который хотите получить ответ:", render.B(sp.Title())), cancelKeyboard())
}

func (b *Bot) runSpread(c tele.Context, code, question string) error {
	if err := c.Notify(tele.Typing); err != nil {
		b.logger.Debug("failed to send chat action", "error", err)
	}
	res, err := b.tarot.Spread(reqCtx(c), currentUser(c), code, question)
	if err != nil {
		return err
	}
	text := render.Reading(res.Reading, res.Spread)
	if res.Remaining >= 0 {
		text += "\n\n" + render.I(fmt.Sprintf("Осталось раскладов на сегодня: %d", res.Remaining))
	}
	return b.sendLong(c, text, readingKeyboard(res.Reading))
}

func (b *Bot) handleHistory(c tele.Context) error {
	ctx := reqCtx(c)
	user := currentUser(c)
	out, err := b.tarot.History(ctx, user.ID, service.HistoryInput{Limit: historyPageSize})
	if err != nil {
		return err
	}
	if len(out.Readings) == 0 {
		return c.EditOrSend("📜 У вас пока нет раскладов.", afterReadingKeyboard())
	}

	var sb strings.Builder
	sb.WriteString("📜 <b>Последние расклады</b>\n\nВыберите расклад, чтобы открыть его.")
	stats, err := b.tarot.Statistics(ctx, user.ID)
	if err != nil {
		b.logger.Warn("reading statistics failed", "user_id", user.ID, "error", err)
	} else if stats.TotalSpreads > 0 {
		fmt.Fprintf(&sb, "\n\n📊 Всего раскладов: %d, карт: %d\nСтаршие арканы: %.0f%%",
			stats.TotalSpreads, stats.TotalCards, stats.MajorPercentage)
		if stats.FavoriteSuit != "" {
			fmt.Fprintf(&sb, "\nЧаще всего выпадает масть: %s", render.Esc(stats.FavoriteSuit))
		}
	}
	return c.EditOrSend(sb.String(), historyKeyboard(out.Readings, tarot.DefaultCatalog()))
}

// handleOpenReading shows a stored reading from the history.
func (b *Bot) handleOpenReading(c tele.Context) error {
	rd, err := b.tarot.Reading(reqCtx(c), currentUser(c).ID, c.Data())
	if err != nil {
		return err
	}
	sp, err := tarot.DefaultCatalog().Get(rd.SpreadCode)
	if err != nil {
		return service.ErrSpreadNotFound
	}
	text := "🗓 " + render.I(rd.ReadingDate.Format(model.DateLayout)) + "\n" + render.Reading(rd, sp)
	return b.sendLong(c, text, readingKeyboard(rd))
}

// handleRate stores a 1..5 score. Data: readingID|score.
func (b *Bot) handleRate(c tele.Context) error {
	args := c.Args()
	if len(args) != 2 {
		return service.ErrInvalidInput
	}
	score, err := strconv.Atoi(args[1])
	if err != nil {
		return service.ErrInvalidRating
	}
	if err := b.tarot.Rate(reqCtx(c), currentUser(c).ID, args[0], score); err != nil {
		return err
	}
	return c.RespondText(fmt.Sprintf("Спасибо! Оценка %d из 5 сохранена.", score))
}

func (b *Bot) handleFavorite(c tele.Context) error {
	fav, err := b.tarot.ToggleFavorite(reqCtx(c), currentUser(c).ID, c.Data())
	if err != nil {
		return err
	}
	if fav {
		return c.RespondText("⭐ Добавлено в избранное")
	}
	return c.RespondText("Убрано из избранного")
}

// handleAbout describes a card in both positions.
func (b *Bot) handleAbout(c tele.Context) error {
	id, err := strconv.Atoi(c.Data())
	if err != nil {
		return tarot.ErrUnknownCard
	}
	if err := c.Notify(tele.Typing); err != nil {
		b.logger.Debug("failed to send chat action", "error", err)
	}
	info, err := b.tarot.CardInfo(reqCtx(c), id, currentUser(c).Tone)
	if err != nil {
		return err
	}
	return b.sendLong(c, render.CardInfo(info.Card, info.Upright, info.Reversed), afterReadingKeyboard())
}

// sendLong splits text over several messages. The markup goes with the last.
func (b *Bot) sendLong(c tele.Context, text string, markup *tele.ReplyMarkup) error {
	parts := notify.SplitMessage(text, notify.MaxMessageLength)
	for i, part := range parts {
		if i == len(parts)-1 {
			return c.Send(part, markup)
		}
		if err := c.Send(part); err != nil {
			return err
		}
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
