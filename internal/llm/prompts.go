package llm

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/astrotarot/astrotarot/internal/model"
)

const basePrompt = `Ты астролог и таролог в Telegram-боте. Отвечай на русском языке.
Пиши простым HTML: разрешены только теги <b> и <i>. Не используй Markdown.
Не давай медицинских, юридических или финансовых рекомендаций.
Не пугай и не делай категоричных предсказаний.`

var toneInstructions = map[model.ToneOfVoice]string{
	model.ToneFriend: "Говори как близкий друг: тепло, на «ты», с лёгким юмором и поддержкой.",
	model.ToneMentor: "Говори как мудрый наставник: спокойно, на «вы», с практическими советами.",
	model.ToneExpert: "Говори как эксперт: точно, структурированно, с профессиональными терминами.",
	model.ToneMystic: "Говори как мистик: образно, с метафорами и атмосферой тайны.",
}

// SystemPrompt returns the system instructions for a tone of voice.
func SystemPrompt(tone model.ToneOfVoice) string {
	instr, ok := toneInstructions[tone]
	if !ok {
		instr = toneInstructions[model.ToneFriend]
	}
	return basePrompt + "\n" + instr
}

// CardPrompt describes one drawn card.
type CardPrompt struct {
	Name     string
	Reversed bool
	Keywords []string
	Question string
}

func (c CardPrompt) line() string {
	orientation := "прямое положение"
	if c.Reversed {
		orientation = "перевёрнутое положение"
	}
	return fmt.Sprintf("%s (%s; ключевые слова: %s)", c.Name, orientation, strings.Join(c.Keywords, ", "))
}

// CardRequest builds a single card interpretation request.
func CardRequest(tone model.ToneOfVoice, c CardPrompt) Request {
	var b strings.Builder
	fmt.Fprintf(&b, "Карта дня: %s.\n", c.line())
	if c.Question != "" {
		fmt.Fprintf(&b, "Вопрос: %s\n", c.Question)
	}
	b.WriteString("Дай толкование карты на сегодня в 3-4 абзацах: общий смысл, совет и на что обратить внимание.")

	return Request{
		Kind:      KindCard,
		System:    SystemPrompt(tone),
		Prompt:    b.String(),
		MaxTokens: 600,
	}
}

// PlacedCard is a card at a spread position.
type PlacedCard struct {
	Position string
	Card     CardPrompt
}

// SpreadPrompt describes a full spread.
type SpreadPrompt struct {
	Name     string
	Question string
	Cards    []PlacedCard
}

// SpreadRequest builds a spread interpretation request.
func SpreadRequest(tone model.ToneOfVoice, s SpreadPrompt) Request {
	var b strings.Builder
	fmt.Fprintf(&b, "Расклад «%s».\n", s.Name)
	if s.Question != "" {
		fmt.Fprintf(&b, "Вопрос: %s\n", s.Question)
	}
	b.WriteString("Карты:\n")
	for i, pc := range s.Cards {
		fmt.Fprintf(&b, "%d. %s: %s\n", i+1, pc.Position, pc.Card.line())
	}
	b.WriteString("\nИстолкуй каждую позицию, затем свяжи карты в общую историю и дай итоговый совет.")

	return Request{
		Kind:      KindSpread,
		System:    SystemPrompt(tone),
		Prompt:    b.String(),
		MaxTokens: 400 + 250*len(s.Cards),
	}
}

// HoroscopePrompt describes a horoscope to generate.
type HoroscopePrompt struct {
	Sign    string
	Element string
	Period  string
	Date    time.Time
}

// HoroscopeRequest builds a horoscope request. The answer has four
// paragraphs separated by blank lines: general, love, career, health.
func HoroscopeRequest(tone model.ToneOfVoice, h HoroscopePrompt) Request {
	prompt := fmt.Sprintf(
		"Составь гороскоп для знака %s (стихия %s) на период «%s», начиная с %s.\n"+
			"Ответ строго из четырёх абзацев, разделённых пустой строкой, без заголовков:\n"+
			"1) общая атмосфера; 2) любовь и отношения; 3) работа и финансы; 4) здоровье.",
		h.Sign, h.Element, h.Period, h.Date.Format("02.01.2006"),
	)
	return Request{
		Kind:      KindHoroscope,
		System:    SystemPrompt(tone),
		Prompt:    prompt,
		MaxTokens: 800,
	}
}

// NatalPrompt describes a natal chart.
type NatalPrompt struct {
	Name            string
	BirthDate       time.Time
	City            string
	Sun             string
	Moon            string
	Ascendant       string
	Planets         []string
	Aspects         []string
	DominantElement string
	// Full asks for the detailed interpretation.
	Full bool
}

// NatalRequest builds a natal chart interpretation request.
func NatalRequest(tone model.ToneOfVoice, n NatalPrompt) Request {
	var b strings.Builder
	fmt.Fprintf(&b, "Натальная карта: %s, родился(ась) %s", n.Name, n.BirthDate.Format("02.01.2006"))
	if n.City != "" {
		fmt.Fprintf(&b, ", %s", n.City)
	}
	fmt.Fprintf(&b, ".\nСолнце: %s. Луна: %s.", n.Sun, n.Moon)
	if n.Ascendant != "" {
		fmt.Fprintf(&b, " Асцендент: %s.", n.Ascendant)
	}
	fmt.Fprintf(&b, " Преобладающая стихия: %s.\n", n.DominantElement)

	maxTokens := 700
	if n.Full {
		if len(n.Planets) > 0 {
			fmt.Fprintf(&b, "Планеты:\n- %s\n", strings.Join(n.Planets, "\n- "))
		}
		if len(n.Aspects) > 0 {
			fmt.Fprintf(&b, "Аспекты:\n- %s\n", strings.Join(n.Aspects, "\n- "))
		}
		b.WriteString("Дай подробный разбор: личность, эмоции, отношения, карьера, сильные стороны и зоны роста.")
		maxTokens = 2000
	} else {
		b.WriteString("Дай краткий портрет личности по Солнцу, Луне и стихии в 3 абзацах.")
	}

	return Request{
		Kind:      KindNatalChart,
		System:    SystemPrompt(tone),
		Prompt:    b.String(),
		MaxTokens: maxTokens,
	}
}

// CompatibilityPrompt describes a synastry between two people.
type CompatibilityPrompt struct {
	NameA   string
	SignA   string
	NameB   string
	SignB   string
	Overall int
	Aspects map[string]int
}

// CompatibilityRequest builds a compatibility analysis request.
func CompatibilityRequest(tone model.ToneOfVoice, c CompatibilityPrompt) Request {
	var b strings.Builder
	fmt.Fprintf(&b, "Совместимость: %s (%s) и %s (%s). Общая оценка %d%%.\n",
		c.NameA, c.SignA, c.NameB, c.SignB, c.Overall)
	keys := make([]string, 0, len(c.Aspects))
	for k := range c.Aspects {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "- %s: %d%%\n", k, c.Aspects[k])
	}
	b.WriteString("Опиши сильные стороны пары, возможные трудности и дай советы для гармоничных отношений.")

	return Request{
		Kind:      KindCompatibility,
		System:    SystemPrompt(tone),
		Prompt:    b.String(),
		MaxTokens: 1200,
	}
}
