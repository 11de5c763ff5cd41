package simulation

import (
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/studytime-hub/leaderboard-worker/internal/domain/user"
	"github.com/studytime-hub/leaderboard-worker/internal/store"
	"github.com/studytime-hub/leaderboard-worker/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// STUDY-TIME ACCRUAL ENGINE
// ══════════════════════════════════════════════════════════════════════════════

const (
	// maxDeltaSeconds bounds one accrual step to a scheduling interval plus
	// margin, so a gap in invocations never produces runaway study time.
	maxDeltaSeconds = 350

	// realUserTouchWindow is the staleness guard for real users: lastUpdate
	// is refreshed only when the app itself wrote within this window, so an
	// abandoned account is never "touched" by the worker.
	realUserTouchWindow = 10 * time.Minute

	// Archetype jitter: low performers occasionally slump, top performers
	// occasionally surge.
	jitterChance    = 0.3
	lowSlumpFactor  = 0.7
	topSurgeFactor  = 1.1
	fallbackPace    = 0.8
	gainNoiseFloor  = 0.95
	gainNoiseSpread = 0.10
)

// AccrualEngine advances elapsed study seconds for synthetic-active users and
// recomputes their daily/weekly aggregates and score, writing only fields
// whose value actually changed.
type AccrualEngine struct {
	rng    *rand.Rand
	logger *slog.Logger
}

// NewAccrualEngine creates an accrual engine with an injectable random source.
func NewAccrualEngine(rng *rand.Rand, logger *slog.Logger) *AccrualEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccrualEngine{rng: rng, logger: logger}
}

// Accrue processes one fake_active record for this invocation and reports
// whether any field changed. lastUpdate is always refreshed, independent of
// whether study time moved.
func (e *AccrualEngine) Accrue(uid string, rec *user.Record, now time.Time, dayKey string, delta *store.Delta) bool {
	dt := e.elapsedSeconds(rec, now)

	oldSeconds := rec.TodaySeconds(dayKey)
	seconds := float64(oldSeconds)

	if rec.Online {
		seconds = e.advance(rec, seconds, dt)
	}

	changed := false
	flooredSeconds := int64(math.Floor(seconds))
	history := rec.History
	if flooredSeconds != oldSeconds {
		if history == nil {
			history = make(map[string]int64, 1)
		}
		history[dayKey] = flooredSeconds
		rec.History = history
		delta.Set(store.Join(LeaderboardPath, uid, "history", dayKey), flooredSeconds)
		changed = true
	}

	todayHours := round2(seconds / 3600)
	weekHours := round2(float64(rec.WeekSeconds()) / 3600)
	score := int64(math.Floor(weekHours * 100))
	status := user.StatusFor(rec.Online)

	if rec.TodayHours != todayHours {
		delta.Set(fieldPath(uid, "todayHours"), todayHours)
		changed = true
	}
	if rec.WeekHours != weekHours {
		delta.Set(fieldPath(uid, "weekHours"), weekHours)
		changed = true
	}
	if rec.Score != score {
		delta.Set(fieldPath(uid, "score"), score)
		changed = true
	}
	if rec.Status != status {
		delta.Set(fieldPath(uid, "status"), string(status))
		changed = true
	}

	delta.Set(fieldPath(uid, "lastUpdate"), timeutil.FormatTimestamp(now))

	return changed
}

// TouchReal refreshes a real user's lastUpdate, but only when the app itself
// wrote recently. No rolling field of a real user is ever written outside a
// reset. Reports whether a write was recorded.
func TouchReal(uid string, rec *user.Record, now time.Time, delta *store.Delta) bool {
	lastUpdate := rec.LastUpdateAt()
	if lastUpdate.IsZero() {
		return false
	}
	if now.Sub(lastUpdate) >= realUserTouchWindow {
		return false
	}

	delta.Set(fieldPath(uid, "lastUpdate"), timeutil.FormatTimestamp(now))
	return true
}

// elapsedSeconds computes the clamped accrual window since the record's last
// update. A record never updated before accrues nothing this cycle.
func (e *AccrualEngine) elapsedSeconds(rec *user.Record, now time.Time) float64 {
	lastUpdate := rec.LastUpdateAt()
	if lastUpdate.IsZero() {
		return 0
	}

	dt := now.Sub(lastUpdate).Seconds()
	if dt < 0 {
		return 0
	}
	if dt > maxDeltaSeconds {
		return maxDeltaSeconds
	}
	return dt
}

// advance applies one accrual step to the day's seconds, honoring the daily
// target cap and the archetype jitter.
func (e *AccrualEngine) advance(rec *user.Record, seconds, dt float64) float64 {
	dailyTarget := rec.DailyTarget
	if dailyTarget == 0 {
		dailyTarget = fallbackDailyTarget
	}

	if seconds/3600 >= dailyTarget {
		return seconds
	}

	pace := rec.StudyPace
	if pace == 0 {
		pace = fallbackPace
	}

	gain := dt * pace
	gain *= gainNoiseFloor + e.rng.Float64()*gainNoiseSpread
	if rec.PerfType == user.PerfLow && e.rng.Float64() < jitterChance {
		gain *= lowSlumpFactor
	}
	if rec.PerfType == user.PerfTop && e.rng.Float64() < jitterChance {
		gain *= topSurgeFactor
	}

	seconds += gain
	if max := dailyTarget * 3600; seconds > max {
		seconds = max
	}
	return seconds
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
