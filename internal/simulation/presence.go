// Package simulation implements the leaderboard state-reconciliation engine:
// presence simulation, study-time accrual, and the weekly reset, all expressed
// as sparse delta writes against the shared tree store.
package simulation

import (
	"log/slog"
	"math/rand"
	"sort"
	"time"

	"github.com/studytime-hub/leaderboard-worker/internal/domain/user"
	"github.com/studytime-hub/leaderboard-worker/internal/store"
	"github.com/studytime-hub/leaderboard-worker/pkg/timeutil"
)

// LeaderboardPath is the tree root holding all user records.
const LeaderboardPath = "leaderboard"

// fieldPath builds a fully-qualified user field path.
func fieldPath(uid, field string) string {
	return store.Join(LeaderboardPath, uid, field)
}

// ══════════════════════════════════════════════════════════════════════════════
// PRESENCE SIMULATOR
// ══════════════════════════════════════════════════════════════════════════════

// Band is an inclusive target online-ratio range for one part of the day.
type Band struct {
	Min float64
	Max float64
}

// TargetOnlineBand returns the target online-ratio band for an IST hour.
func TargetOnlineBand(hour int) Band {
	switch {
	case hour >= 23 || hour < 5:
		return Band{Min: 0.02, Max: 0.04} // late night
	case hour >= 5 && hour < 8:
		return Band{Min: 0.15, Max: 0.35} // early morning
	case hour >= 17 && hour < 22:
		return Band{Min: 0.30, Max: 0.60} // evening peak
	default:
		return Band{Min: 0.10, Max: 0.40}
	}
}

const (
	// maxChangeFraction caps how much of the synthetic-active population may
	// flip per invocation, so the online count drifts rather than jumps.
	maxChangeFraction = 0.10

	// minOnlineDwell is the minimum continuous online duration before a user
	// may be flipped back offline.
	minOnlineDwell = 5 * time.Minute

	// Fallbacks for records whose profile has not been initialized yet.
	fallbackDailyTarget      = 5.0
	fallbackOnlinePreference = 0.5
)

// PresenceSimulator drifts the online/offline flags of synthetic-active users
// toward an hour-dependent target ratio. Flips mutate the in-memory record as
// well as the delta, so the accrual step of the same invocation already sees
// the new presence state.
type PresenceSimulator struct {
	rng    *rand.Rand
	logger *slog.Logger
}

// NewPresenceSimulator creates a presence simulator with an injectable
// random source.
func NewPresenceSimulator(rng *rand.Rand, logger *slog.Logger) *PresenceSimulator {
	if logger == nil {
		logger = slog.Default()
	}
	return &PresenceSimulator{rng: rng, logger: logger}
}

// Apply computes this invocation's presence flips for the fake_active subset
// of users and records them in delta. Real and fake_inactive records are
// never touched, whatever state they are in.
func (s *PresenceSimulator) Apply(uids []string, users map[string]*user.Record, now time.Time, delta *store.Delta) {
	fakeActive := make([]string, 0, len(uids))
	for _, uid := range uids {
		if users[uid].Category() == user.CategoryFakeActive {
			fakeActive = append(fakeActive, uid)
		}
	}

	total := len(fakeActive)
	if total == 0 {
		return
	}

	online := 0
	for _, uid := range fakeActive {
		if users[uid].Online {
			online++
		}
	}

	hour := timeutil.ToIST(now).Hour()
	band := TargetOnlineBand(hour)
	target := band.Min + s.rng.Float64()*(band.Max-band.Min)
	targetCount := int(float64(total) * target)

	maxChanges := int(float64(total) * maxChangeFraction)
	if maxChanges < 1 {
		maxChanges = 1
	}

	s.logger.Debug("presence targets",
		"hour", hour,
		"target_pct", target*100,
		"target_count", targetCount,
		"online", online,
		"population", total,
	)

	switch {
	case online < targetCount:
		s.bringOnline(fakeActive, users, now, delta, targetCount-online, maxChanges)
	case online > targetCount:
		s.takeOffline(fakeActive, users, now, delta, online-targetCount, maxChanges)
	}
}

// bringOnline flips offline users online, at random, respecting each user's
// daily target and online preference.
func (s *PresenceSimulator) bringOnline(fakeActive []string, users map[string]*user.Record, now time.Time, delta *store.Delta, deficit, maxChanges int) {
	offline := make([]string, 0, len(fakeActive))
	for _, uid := range fakeActive {
		if !users[uid].Online {
			offline = append(offline, uid)
		}
	}
	s.rng.Shuffle(len(offline), func(i, j int) {
		offline[i], offline[j] = offline[j], offline[i]
	})

	changes := 0
	for _, uid := range offline {
		if changes >= maxChanges || changes >= deficit {
			break
		}

		rec := users[uid]
		dailyTarget := rec.DailyTarget
		if dailyTarget == 0 {
			dailyTarget = fallbackDailyTarget
		}
		preference := rec.OnlinePreference
		if preference == 0 {
			preference = fallbackOnlinePreference
		}

		if rec.TodayHours >= dailyTarget {
			continue
		}
		if s.rng.Float64() >= preference {
			continue
		}

		rec.Online = true
		rec.Status = user.StatusOnline
		rec.LastOnlineTime = timeutil.FormatTimestamp(now)
		delta.Set(fieldPath(uid, "online"), true)
		delta.Set(fieldPath(uid, "status"), string(user.StatusOnline))
		delta.Set(fieldPath(uid, "lastOnlineTime"), rec.LastOnlineTime)
		changes++
	}
}

// takeOffline flips the longest-online users back offline, once they have
// been online for the minimum dwell time.
func (s *PresenceSimulator) takeOffline(fakeActive []string, users map[string]*user.Record, now time.Time, delta *store.Delta, surplus, maxChanges int) {
	online := make([]string, 0, len(fakeActive))
	for _, uid := range fakeActive {
		if users[uid].Online {
			online = append(online, uid)
		}
	}

	// Longest online first; records without a lastOnlineTime sort first.
	sort.SliceStable(online, func(i, j int) bool {
		return users[online[i]].LastOnlineAt().Before(users[online[j]].LastOnlineAt())
	})

	changes := 0
	for _, uid := range online {
		if changes >= maxChanges || changes >= surplus {
			break
		}

		rec := users[uid]
		lastOnline := rec.LastOnlineAt()
		if lastOnline.IsZero() {
			// No transition recorded; treat as just came online.
			continue
		}
		if now.Sub(lastOnline) < minOnlineDwell {
			continue
		}

		rec.Online = false
		rec.Status = user.StatusOffline
		delta.Set(fieldPath(uid, "online"), false)
		delta.Set(fieldPath(uid, "status"), string(user.StatusOffline))
		changes++
	}
}
