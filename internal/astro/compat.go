package astro

import (
	"hash/fnv"
	"time"
)

var elementScores = map[[2]string]int{
	{Fire, Fire}:   90,
	{Earth, Earth}: 90,
	{Air, Air}:     90,
	{Water, Water}: 90,
	{Fire, Air}:    85,
	{Earth, Water}: 85,
	{Air, Water}:   60,
	{Fire, Water}:  50,
	{Fire, Earth}:  45,
	{Earth, Air}:   45,
}

// ElementScore returns the base compatibility of two elements.
func ElementScore(a, b string) int {
	if v, ok := elementScores[[2]string{a, b}]; ok {
		return v
	}
	if v, ok := elementScores[[2]string{b, a}]; ok {
		return v
	}
	return 70
}

// Compatibility score bounds.
const (
	MinScore = 40
	MaxScore = 95
)

// Person is one side of a compatibility analysis.
type Person struct {
	Name      string
	BirthDate time.Time
}

// CompatibilityResult is a synastry summary.
type CompatibilityResult struct {
	Sign1         Sign           `json:"sign1"`
	Sign2         Sign           `json:"sign2"`
	Overall       int            `json:"overall"`
	ElementMatch  bool           `json:"element_match"`
	Aspects       map[string]int `json:"aspects"`
	Advice        string         `json:"advice"`
	StrongAspect  string         `json:"strong_aspect"`
	WeakestAspect string         `json:"weak_aspect"`
}

// AspectNames maps sub-score keys to display names.
var AspectNames = map[string]string{
	"emotional":     "Эмоциональная",
	"intellectual":  "Интеллектуальная",
	"physical":      "Физическая",
	"values":        "Ценности",
	"communication": "Общение",
	"longterm":      "Долгосрочная",
}

type subScore struct {
	key      string
	low, top int
}

var subScores = []subScore{
	{"emotional", 60, 95},
	{"intellectual", 65, 90},
	{"physical", 70, 95},
	{"values", 60, 85},
	{"communication", 65, 90},
	{"longterm", 60, 85},
}

// Compatibility scores two people from their sun signs. The result is
// symmetric and deterministic for a pair of birth dates.
func Compatibility(a, b Person) CompatibilityResult {
	s1, s2 := SignFor(a.BirthDate), SignFor(b.BirthDate)
	seed := pairSeed(a.BirthDate, b.BirthDate)

	variation := int(seed%21) - 10
	overall := min(MaxScore, max(MinScore, ElementScore(s1.Element, s2.Element)+variation))

	res := CompatibilityResult{
		Sign1:        s1,
		Sign2:        s2,
		Overall:      overall,
		ElementMatch: s1.Element == s2.Element,
		Aspects:      make(map[string]int, len(subScores)),
		Advice:       Advice(overall),
	}

	best, worst := -1, 101
	for i, ss := range subScores {
		span := uint64(ss.top - ss.low + 1)
		v := ss.low + int((seed>>(uint(i)*5))%span)
		res.Aspects[ss.key] = v
		if v > best {
			best, res.StrongAspect = v, ss.key
		}
		if v < worst {
			worst, res.WeakestAspect = v, ss.key
		}
	}
	return res
}

// Advice returns the summary advice for an overall score.
func Advice(overall int) string {
	switch {
	case overall >= 80:
		return "Отличная совместимость! Поддерживайте взаимопонимание."
	case overall >= 65:
		return "Хорошая совместимость. Работайте над компромиссами."
	default:
		return "Есть сложности, но любовь преодолевает препятствия."
	}
}

// pairSeed hashes two dates independent of their order.
func pairSeed(a, b time.Time) uint64 {
	x, y := a.Format("20060102"), b.Format("20060102")
	if x > y {
		x, y = y, x
	}
	h := fnv.New64a()
	h.Write([]byte(x + "|" + y))
	return h.Sum64()
}
