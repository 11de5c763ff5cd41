package user

import (
	"math"
	"math/rand"
)

// PerfType - архетип производительности синтетического пользователя.
type PerfType string

const (
	// PerfTop - топовый архетип (11-14 часов в день).
	PerfTop PerfType = "top"
	// PerfHigh - сильный архетип (8-10 часов).
	PerfHigh PerfType = "high"
	// PerfMedium - средний архетип (5-8 часов).
	PerfMedium PerfType = "medium"
	// PerfLow - слабый архетип (0-4 часа).
	PerfLow PerfType = "low"
)

// IsValid проверяет, что архетип известен.
func (p PerfType) IsValid() bool {
	switch p {
	case PerfTop, PerfHigh, PerfMedium, PerfLow:
		return true
	default:
		return false
	}
}

// Profile - параметры поведения синтетического пользователя.
// Назначается один раз и никогда не перегенерируется.
type Profile struct {
	// PerfType - архетип производительности.
	PerfType PerfType

	// DailyTarget - целевые часы занятий в день (1 знак после запятой).
	DailyTarget float64

	// StudyPace - коэффициент эффективности накопления времени.
	StudyPace float64

	// OnlinePreference - вероятность выйти в онлайн при наборе присутствия.
	OnlinePreference float64
}

// profileBand описывает один архетип: верхнюю границу розыгрыша и диапазоны
// параметров. Кумулятивные пороги: top 3.5%, high 20%, medium 40%, low - остальное.
type profileBand struct {
	cutoff     float64
	perf       PerfType
	targetMin  float64
	targetSpan float64
	paceMin    float64
	paceSpan   float64
	prefMin    float64
	prefSpan   float64
}

var profileBands = []profileBand{
	{cutoff: 3.5, perf: PerfTop, targetMin: 11, targetSpan: 3, paceMin: 0.90, paceSpan: 0.10, prefMin: 0.80, prefSpan: 0.20},
	{cutoff: 23.5, perf: PerfHigh, targetMin: 8, targetSpan: 2, paceMin: 0.80, paceSpan: 0.15, prefMin: 0.60, prefSpan: 0.30},
	{cutoff: 63.5, perf: PerfMedium, targetMin: 5, targetSpan: 3, paceMin: 0.70, paceSpan: 0.20, prefMin: 0.40, prefSpan: 0.40},
	{cutoff: 100, perf: PerfLow, targetMin: 0, targetSpan: 4, paceMin: 0.50, paceSpan: 0.30, prefMin: 0.20, prefSpan: 0.40},
}

// GenerateProfile разыгрывает архетип и его параметры. Источник случайности
// передаётся снаружи, чтобы тесты были воспроизводимыми.
func GenerateProfile(rng *rand.Rand) Profile {
	roll := rng.Float64() * 100

	band := profileBands[len(profileBands)-1]
	for _, b := range profileBands {
		if roll < b.cutoff {
			band = b
			break
		}
	}

	return Profile{
		PerfType:         band.perf,
		DailyTarget:      round1(band.targetMin + rng.Float64()*band.targetSpan),
		StudyPace:        band.paceMin + rng.Float64()*band.paceSpan,
		OnlinePreference: band.prefMin + rng.Float64()*band.prefSpan,
	}
}

// HasProfile проверяет полноту профиля. Нулевые значения считаются
// отсутствующими: запись низкого архетипа с целью 0.0 часов будет
// перегенерирована, как и в приложении-источнике данных.
func (r *Record) HasProfile() bool {
	return r.PerfType != "" && r.DailyTarget != 0 && r.OnlinePreference != 0
}

// ApplyProfile записывает профиль в запись.
func (r *Record) ApplyProfile(p Profile) {
	r.PerfType = p.PerfType
	r.DailyTarget = p.DailyTarget
	r.StudyPace = p.StudyPace
	r.OnlinePreference = p.OnlinePreference
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
