package astro

import (
	"hash/fnv"
	"math/rand/v2"
	"sort"
	"time"
)

var luckyColors = map[string]string{
	"aries":       "красный",
	"taurus":      "зелёный",
	"gemini":      "жёлтый",
	"cancer":      "белый",
	"leo":         "золотой",
	"virgo":       "коричневый",
	"libra":       "розовый",
	"scorpio":     "бордовый",
	"sagittarius": "фиолетовый",
	"capricorn":   "чёрный",
	"aquarius":    "синий",
	"pisces":      "морской волны",
}

// LuckyColor returns the color associated with a sign.
func LuckyColor(signKey string) string {
	if c, ok := luckyColors[signKey]; ok {
		return c
	}
	return "серебряный"
}

// LuckyNumbers returns three distinct sorted numbers in [1,49], stable for a
// sign and calendar day.
func LuckyNumbers(signKey string, date time.Time) []int {
	h := fnv.New64a()
	h.Write([]byte(signKey + date.Format(time.DateOnly)))
	seed := h.Sum64()

	rng := rand.New(rand.NewPCG(seed, seed>>1|1))
	nums := rng.Perm(49)[:3]
	for i := range nums {
		nums[i]++
	}
	sort.Ints(nums)
	return nums
}
