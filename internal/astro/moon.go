package astro

import (
	"math"
	"time"
)

// LunarCycle is the synodic month in days.
const LunarCycle = 29.53

var referenceNewMoon = time.Date(2024, 1, 11, 0, 0, 0, 0, time.UTC)

// Recommendation is advice for a moon phase.
type Recommendation struct {
	General string `json:"general"`
	Avoid   string `json:"avoid"`
	GoodFor string `json:"good_for"`
}

type phaseDef struct {
	upTo         float64
	name         string
	emoji        string
	illumination int
	rec          Recommendation
}

var phases = []phaseDef{
	{1.84, "Новолуние", "🌑", 0, Recommendation{
		"Время новых начинаний и планирования", "Избегайте завершения дел", "Планирование, медитация, постановка целей"}},
	{5.53, "Растущий серп", "🌒", 25, Recommendation{
		"Время для первых шагов к целям", "Не сомневайтесь в своих силах", "Начало проектов, новые знакомства"}},
	{9.22, "Первая четверть", "🌓", 50, Recommendation{
		"Время преодоления препятствий", "Не отступайте перед трудностями", "Решение проблем, принятие решений"}},
	{12.91, "Растущая луна", "🌔", 75, Recommendation{
		"Время активного роста и развития", "Избегайте перегрузок", "Развитие проектов, обучение"}},
	{16.61, "Полнолуние", "🌕", 100, Recommendation{
		"Время максимальной энергии и завершений", "Контролируйте эмоции", "Завершение дел, празднования"}},
	{20.30, "Убывающая луна", "🌖", 75, Recommendation{
		"Время освобождения и очищения", "Не начинайте новые проекты", "Завершение, очищение, отдых"}},
	{23.99, "Последняя четверть", "🌗", 50, Recommendation{
		"Время переосмысления и отпускания", "Не цепляйтесь за прошлое", "Прощение, медитация, планирование"}},
	{math.Inf(1), "Убывающий серп", "🌘", 25, Recommendation{
		"Время отдыха и подготовки", "Избегайте активных действий", "Отдых, медитация, восстановление"}},
}

// MoonInfo describes the moon on a given day.
type MoonInfo struct {
	Date            string         `json:"date"`
	LunarDay        int            `json:"lunar_day"`
	Phase           string         `json:"phase"`
	Emoji           string         `json:"emoji"`
	Illumination    int            `json:"illumination"`
	MoonSign        Sign           `json:"moon_sign"`
	Recommendations Recommendation `json:"recommendations"`
}

// MoonPhase computes the moon phase of a calendar day.
func MoonPhase(date time.Time) MoonInfo {
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	days := math.Round(day.Sub(referenceNewMoon).Hours() / 24)

	age := math.Mod(days, LunarCycle)
	if age < 0 {
		age += LunarCycle
	}

	var p phaseDef
	for _, def := range phases {
		if age < def.upTo {
			p = def
			break
		}
	}

	return MoonInfo{
		Date:            day.Format(time.DateOnly),
		LunarDay:        int(age) + 1,
		Phase:           p.name,
		Emoji:           p.emoji,
		Illumination:    p.illumination,
		MoonSign:        Signs[int(age/LunarCycle*12)%12],
		Recommendations: p.rec,
	}
}
