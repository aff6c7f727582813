package bot

import (
	"strings"

	tele "gopkg.in/telebot.v3"

	"github.com/astrotarot/astrotarot/internal/model"
	"github.com/astrotarot/astrotarot/internal/render"
	"github.com/astrotarot/astrotarot/internal/service"
)

func (b *Bot) handleAstroMenu(c tele.Context) error {
	if c.Data() == astroMoon {
		return b.handleMoon(c)
	}
	return c.EditOrSend("⭐ <b>Астрология</b>\n\nЧто хотите узнать?", astroKeyboard())
}

func (b *Bot) handleMoon(c tele.Context) error {
	return c.EditOrSend(render.Moon(b.astro.Today()), backKeyboard())
}

// handleForecastCommand serves /forecast [day|week|month].
func (b *Bot) handleForecastCommand(c tele.Context) error {
	period := model.PeriodDay
	if arg := strings.ToLower(strings.TrimSpace(c.Message().Payload)); arg != "" {
		period = model.HoroscopePeriod(arg)
	}
	return b.sendForecast(c, period)
}

func (b *Bot) handleForecast(c tele.Context) error {
	return b.sendForecast(c, model.HoroscopePeriod(c.Data()))
}

func (b *Bot) sendForecast(c tele.Context, period model.HoroscopePeriod) error {
	if !period.Valid() {
		return c.Send("Укажите период: /forecast, /forecast week или /forecast month.")
	}
	h, err := b.astro.Forecast(reqCtx(c), currentUser(c), period)
	if err != nil {
		return err
	}
	return b.sendLong(c, render.Horoscope(h), astroKeyboard())
}

func (b *Bot) handleNatal(c tele.Context) error {
	if err := c.Notify(tele.Typing); err != nil {
		b.logger.Debug("failed to send chat action", "error", err)
	}
	res, err := b.astro.NatalChart(reqCtx(c), currentUser(c))
	if err != nil {
		return err
	}
	return b.sendLong(c, render.Natal(res.Chart, res.Interpretation, res.Full), astroKeyboard())
}

func (b *Bot) handleCompatMenu(c tele.Context) error {
	user := currentUser(c)
	ctx := reqCtx(c)
	if !user.HasBirthData() {
		return service.ErrBirthDataRequired
	}

	partners, err := b.users.Partners(ctx, user.ID)
	if err != nil {
		return err
	}
	limit := 0
	if sub, err := b.subs.Get(ctx, user.ID); err == nil {
		limit = model.FeaturesFor(sub.EffectivePlan(b.now())).MaxPartners
	}

	text := "💞 <b>Совместимость</b>\n\nВыберите партнёра или добавьте нового:"
	if len(partners) == 0 {
		text = "💞 <b>Совместимость</b>\n\nДобавьте партнёра, чтобы узнать, насколько вы подходите друг другу."
	}
	return c.EditOrSend(text, partnersKeyboard(partners, len(partners) < limit))
}

// handleCompat opens the partner list, starts adding a partner, deletes one
// or compares with the partner whose id is in the callback data.
func (b *Bot) handleCompat(c tele.Context) error {
	if args := c.Args(); len(args) == 2 && args[0] == compatDel {
		if err := b.users.DeletePartner(reqCtx(c), currentUser(c).ID, args[1]); err != nil {
			return err
		}
		return b.handleCompatMenu(c)
	}

	switch arg := c.Data(); arg {
	case "":
		return b.handleCompatMenu(c)
	case compatAdd:
		user := currentUser(c)
		if err := b.states.SetState(reqCtx(c), user.TelegramID, statePartnerName, nil); err != nil {
			return err
		}
		return c.Send("✍️ Как зовут партнёра?", cancelKeyboard())
	default:
		return b.sendCompatibility(c, arg)
	}
}

func (b *Bot) sendCompatibility(c tele.Context, partnerID string) error {
	rep, err := b.astro.Compatibility(reqCtx(c), currentUser(c), partnerID)
	if err != nil {
		return err
	}
	return b.sendLong(c, render.Compatibility(rep.Partner.Name, rep.Result, rep.Interpretation), astroKeyboard())
}
