package astro

import (
	"hash/fnv"
	"strings"
	"time"
)

// Forecast holds the four sections of a horoscope.
type Forecast struct {
	General string `json:"general"`
	Love    string `json:"love"`
	Career  string `json:"career"`
	Health  string `json:"health"`
}

var generalByElement = map[string][]string{
	Fire: {
		"Энергия на подъёме: смело берите инициативу в свои руки.",
		"Хороший период для решительных шагов и новых проектов.",
		"Ваш энтузиазм заразителен, используйте его, чтобы вдохновить окружающих.",
	},
	Earth: {
		"Время укреплять фундамент: практичные решения принесут плоды.",
		"Последовательность и терпение сейчас важнее скорости.",
		"Наведите порядок в делах, и вы увидите новые возможности.",
	},
	Air: {
		"Период общения и идей: делитесь мыслями, вас услышат.",
		"Новые знакомства откроют неожиданные перспективы.",
		"Любопытство приведёт вас к полезной информации.",
	},
	Water: {
		"Доверяйте интуиции: она подскажет верное направление.",
		"Время заботы о себе и близких, чувства обострены.",
		"Эмоциональная чуткость поможет разрешить давний вопрос.",
	},
}

var loveLines = []string{
	"В отношениях важна искренность: скажите то, что давно хотели.",
	"Небольшой сюрприз для близкого человека укрепит связь.",
	"Одиноким звёзды обещают интересное знакомство.",
	"Проявите терпение к партнёру, и гармония вернётся.",
}

var careerLines = []string{
	"В работе удачно складываются переговоры и совместные проекты.",
	"Не торопитесь с крупными тратами, лучше всё просчитать.",
	"Руководство заметит ваши старания, будьте готовы проявить себя.",
	"Хорошее время, чтобы освоить новый навык.",
}

var healthLines = []string{
	"Уделите внимание сну и режиму дня.",
	"Прогулка на свежем воздухе восстановит силы.",
	"Прислушайтесь к сигналам тела и не перегружайте себя.",
	"Лёгкая физическая активность поднимет настроение.",
}

// FallbackForecast builds a template horoscope, stable for a sign, period
// and calendar day.
func FallbackForecast(s Sign, period string, date time.Time) Forecast {
	h := fnv.New32a()
	h.Write([]byte(s.Key + period + date.Format(time.DateOnly)))
	seed := int(h.Sum32() & 0x7fffffff)

	pick := func(lines []string, shift int) string {
		return lines[(seed>>shift)%len(lines)]
	}

	return Forecast{
		General: pick(generalByElement[s.Element], 0),
		Love:    pick(loveLines, 3),
		Career:  pick(careerLines, 6),
		Health:  pick(healthLines, 9),
	}
}

// ParseForecast splits generated text into sections by blank lines.
// Missing sections are taken from fallback.
func ParseForecast(text string, fallback Forecast) Forecast {
	var parts []string
	for _, p := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}

	out := fallback
	fields := []*string{&out.General, &out.Love, &out.Career, &out.Health}
	for i := range min(len(parts), len(fields)) {
		*fields[i] = parts[i]
	}
	return out
}
