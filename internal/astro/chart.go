package astro

import (
	"math"
	"sort"
	"time"
)

// Planet is a body included in natal charts.
type Planet struct {
	Key   string
	Name  string
	Glyph string
	// Mean longitude at J2000.0 and mean daily motion, degrees.
	l0, n float64
}

// Planets in traditional order.
var Planets = []Planet{
	{"sun", "Солнце", "☉", 280.460, 0.9856474},
	{"moon", "Луна", "☽", 218.316, 13.176396},
	{"mercury", "Меркурий", "☿", 252.251, 4.092317},
	{"venus", "Венера", "♀", 181.980, 1.602136},
	{"mars", "Марс", "♂", 355.433, 0.524039},
	{"jupiter", "Юпитер", "♃", 34.351, 0.083056},
	{"saturn", "Сатурн", "♄", 50.077, 0.033371},
	{"uranus", "Уран", "♅", 314.055, 0.011698},
	{"neptune", "Нептун", "♆", 304.349, 0.005965},
	{"pluto", "Плутон", "♇", 238.929, 0.003968},
}

// HouseNames are the life areas of the twelve houses.
var HouseNames = []string{
	"Личность", "Ресурсы", "Коммуникация", "Дом и семья",
	"Творчество", "Работа и здоровье", "Партнёрство", "Трансформация",
	"Философия", "Карьера", "Дружба", "Подсознание",
}

var j2000 = time.Date(2000, 1, 1, 12, 0, 0, 0, time.UTC)

// Birth is the input of a natal chart. Time is "HH:MM" or empty when unknown.
type Birth struct {
	Date time.Time
	Time string
	City string
}

// moment returns the birth instant; unknown times count as noon.
func (b Birth) moment() (time.Time, bool) {
	d := time.Date(b.Date.Year(), b.Date.Month(), b.Date.Day(), 12, 0, 0, 0, time.UTC)
	if b.Time == "" {
		return d, false
	}
	t, err := time.Parse("15:04", b.Time)
	if err != nil {
		return d, false
	}
	return time.Date(d.Year(), d.Month(), d.Day(), t.Hour(), t.Minute(), 0, 0, time.UTC), true
}

// Position is a planet placement.
type Position struct {
	Planet    string  `json:"planet"`
	Name      string  `json:"name"`
	Longitude float64 `json:"longitude"`
	Sign      string  `json:"sign"`
	SignName  string  `json:"sign_name"`
	Degree    float64 `json:"degree"` // within the sign
	House     int     `json:"house"`
}

// House is a house cusp.
type House struct {
	Number int     `json:"number"`
	Name   string  `json:"name"`
	Cusp   float64 `json:"cusp"`
	Sign   string  `json:"sign"`
}

// Aspect names.
const (
	Conjunction = "соединение"
	Sextile     = "секстиль"
	Square      = "квадрат"
	Trine       = "трин"
	Opposition  = "оппозиция"
)

type aspectDef struct {
	name     string
	angle    float64
	low, top float64
}

var aspectDefs = []aspectDef{
	{Conjunction, 0, 0, 8},
	{Sextile, 60, 52, 68},
	{Square, 90, 82, 98},
	{Trine, 120, 112, 128},
	{Opposition, 180, 172, 188},
}

// Aspect is an angular relation between two planets.
type Aspect struct {
	Planet1 string  `json:"planet1"`
	Planet2 string  `json:"planet2"`
	Type    string  `json:"type"`
	Angle   float64 `json:"angle"`
	Orb     float64 `json:"orb"`
	Exact   bool    `json:"is_exact"`
}

// Chart is a simplified natal chart.
type Chart struct {
	SunSign         Sign           `json:"sun_sign"`
	MoonSign        Sign           `json:"moon_sign"`
	Ascendant       *Sign          `json:"ascendant,omitempty"` // nil when birth time is unknown
	Planets         []Position     `json:"planets"`
	Houses          []House        `json:"houses"`
	Aspects         []Aspect       `json:"aspects"`
	Elements        map[string]int `json:"elements"`
	Qualities       map[string]int `json:"qualities"`
	DominantElement string         `json:"dominant_element"`
	ExactTime       bool           `json:"exact_time"`
}

// NatalChart computes a deterministic chart for a birth.
func NatalChart(b Birth) Chart {
	moment, exact := b.moment()
	days := moment.Sub(j2000).Hours() / 24

	sun := sunLongitude(b.Date)
	meanSun := Planets[0].l0 + Planets[0].n*days

	asc := 0.0
	if exact {
		asc = normalize(sun + (float64(moment.Hour())+float64(moment.Minute())/60-6)*15)
	}

	chart := Chart{
		SunSign:   signAt(sun),
		Elements:  make(map[string]int, 4),
		Qualities: make(map[string]int, 3),
		ExactTime: exact,
	}
	if exact {
		s := signAt(asc)
		chart.Ascendant = &s
	}

	for i, p := range Planets {
		var lon float64
		switch p.Key {
		case "sun":
			lon = sun
		case "mercury":
			lon = sun + 28*math.Sin(rad(p.l0+p.n*days-meanSun))
		case "venus":
			lon = sun + 47*math.Sin(rad(p.l0+p.n*days-meanSun))
		default:
			lon = p.l0 + p.n*days
		}
		lon = normalize(round1(normalize(lon)))
		sign := signAt(lon)

		chart.Planets = append(chart.Planets, Position{
			Planet:    p.Key,
			Name:      p.Name,
			Longitude: lon,
			Sign:      sign.Key,
			SignName:  sign.Name,
			Degree:    round1(math.Mod(lon, 30)),
			House:     int(normalize(lon-asc)/30) + 1,
		})
		chart.Elements[sign.Element]++
		chart.Qualities[sign.Quality]++
		if i == 1 {
			chart.MoonSign = sign
		}
	}

	for i := range 12 {
		cusp := round1(normalize(asc + float64(i)*30))
		chart.Houses = append(chart.Houses, House{
			Number: i + 1,
			Name:   HouseNames[i],
			Cusp:   cusp,
			Sign:   signAt(cusp).Key,
		})
	}

	chart.Aspects = findAspects(chart.Planets)
	chart.DominantElement = dominant(chart.Elements)
	return chart
}

// sunLongitude places the sun proportionally inside its real sign so the
// chart agrees with SignFor.
func sunLongitude(date time.Time) float64 {
	idx := signIndexFor(date.Month(), date.Day())
	s := Signs[idx]

	year := date.Year()
	start := time.Date(year, s.StartMonth, s.StartDay, 0, 0, 0, 0, time.UTC)
	end := time.Date(year, s.EndMonth, s.EndDay, 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	day := time.Date(year, date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	if s.StartMonth > s.EndMonth {
		// Capricorn spans the new year.
		if date.Month() == s.EndMonth {
			start = start.AddDate(-1, 0, 0)
		} else {
			end = end.AddDate(1, 0, 0)
		}
	}

	frac := day.Sub(start).Hours() / end.Sub(start).Hours()
	return float64(idx)*30 + frac*30
}

func findAspects(planets []Position) []Aspect {
	var out []Aspect
	for i := 0; i < len(planets); i++ {
		for j := i + 1; j < len(planets); j++ {
			angle := math.Abs(planets[i].Longitude - planets[j].Longitude)
			if angle > 180 {
				angle = 360 - angle
			}
			for _, def := range aspectDefs {
				if angle < def.low || angle > def.top {
					continue
				}
				orb := round1(math.Abs(angle - def.angle))
				out = append(out, Aspect{
					Planet1: planets[i].Name,
					Planet2: planets[j].Name,
					Type:    def.name,
					Angle:   round1(angle),
					Orb:     orb,
					Exact:   orb < 1,
				})
				break
			}
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Orb < out[b].Orb })
	return out
}

func dominant(counts map[string]int) string {
	best, bestN := "", -1
	for _, e := range Elements {
		if counts[e] > bestN {
			best, bestN = e, counts[e]
		}
	}
	return best
}

func normalize(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}

func rad(deg float64) float64 { return deg * math.Pi / 180 }

func round1(v float64) float64 { return math.Round(v*10) / 10 }
