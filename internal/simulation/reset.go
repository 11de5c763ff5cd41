package simulation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/studytime-hub/leaderboard-worker/internal/domain/user"
	"github.com/studytime-hub/leaderboard-worker/internal/store"
	"github.com/studytime-hub/leaderboard-worker/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// WEEKLY RESET COORDINATOR
// ══════════════════════════════════════════════════════════════════════════════

// Global singleton paths under the reserved _global namespace.
const (
	GlobalPath            = "_global"
	LastWeeklyResetPath   = "_global/lastWeeklyReset"
	ForceResetPath        = "_global/testForceReset"
	LastWeekTop3Path      = "_global/lastWeekTop3"
	LastWeekTop3SavedPath = "_global/lastWeekTop3SavedAt"
)

// resetCooldown gates scheduled re-triggering after a successful reset.
const resetCooldown = 6 * 24 * time.Hour

// GateState is the state of the weekly reset gate.
type GateState int

const (
	// GateArmed means a scheduled reset may fire inside the reset window.
	GateArmed GateState = iota
	// GateCooling means a reset fired recently; the scheduled path is
	// suppressed until the cooldown elapses, even inside the window.
	GateCooling
)

// Gate models the scheduled reset gate explicitly instead of scattering
// timestamp arithmetic across the pipeline.
type Gate struct {
	State GateState
	Until time.Time
}

// GateFrom derives the gate from the last recorded reset time. A zero
// lastReset (never recorded) arms the gate.
func GateFrom(lastReset, now time.Time) Gate {
	if lastReset.IsZero() {
		return Gate{State: GateArmed}
	}
	until := lastReset.Add(resetCooldown)
	if now.Before(until) {
		return Gate{State: GateCooling, Until: until}
	}
	return Gate{State: GateArmed}
}

// InResetWindow reports whether t falls in the weekly reset window:
// IST Sunday 23:55-23:59 or Monday 00:00-00:05.
func InResetWindow(t time.Time) bool {
	ist := timeutil.ToIST(t)
	day, hour, minute := ist.Weekday(), ist.Hour(), ist.Minute()

	if day == time.Sunday && hour == 23 && minute >= 55 {
		return true
	}
	if day == time.Monday && hour == 0 && minute <= 5 {
		return true
	}
	return false
}

// ResetCoordinator decides whether this invocation performs the weekly reset.
type ResetCoordinator struct {
	store  store.Store
	logger *slog.Logger
}

// NewResetCoordinator creates a reset coordinator.
func NewResetCoordinator(st store.Store, logger *slog.Logger) *ResetCoordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResetCoordinator{store: st, logger: logger}
}

// ShouldReset evaluates both trigger paths. The force flag is consumed with
// an immediate write so it fires at most one cycle; this read-then-clear is
// best-effort under truly concurrent invocations (the Redis invocation lock
// is the stronger guard when enabled).
func (c *ResetCoordinator) ShouldReset(ctx context.Context, now time.Time) (bool, error) {
	forced, err := c.consumeForceFlag(ctx)
	if err != nil {
		return false, err
	}
	if forced {
		c.logger.Info("weekly reset forced via one-shot flag")
		return true, nil
	}

	lastReset, err := c.lastResetTime(ctx)
	if err != nil {
		return false, err
	}

	gate := GateFrom(lastReset, now)
	if gate.State == GateCooling {
		return false, nil
	}

	if InResetWindow(now) {
		c.logger.Info("weekly reset window reached", "ist", timeutil.ToIST(now).Format(time.RFC3339))
		return true, nil
	}
	return false, nil
}

// consumeForceFlag reads and, when set, atomically clears the one-shot
// testForceReset flag.
func (c *ResetCoordinator) consumeForceFlag(ctx context.Context) (bool, error) {
	raw, err := c.store.ReadSubtree(ctx, ForceResetPath)
	if err != nil {
		return false, fmt.Errorf("read force-reset flag: %w", err)
	}
	if raw == nil {
		return false, nil
	}

	var flag bool
	if err := json.Unmarshal(raw, &flag); err != nil || !flag {
		return false, nil
	}

	clear := store.NewDelta()
	clear.Set(ForceResetPath, false)
	if err := c.store.ApplyDelta(ctx, clear); err != nil {
		return false, fmt.Errorf("clear force-reset flag: %w", err)
	}
	return true, nil
}

// lastResetTime reads the timestamp of the last successful reset; zero when
// never recorded.
func (c *ResetCoordinator) lastResetTime(ctx context.Context) (time.Time, error) {
	raw, err := c.store.ReadSubtree(ctx, LastWeeklyResetPath)
	if err != nil {
		return time.Time{}, fmt.Errorf("read last reset time: %w", err)
	}
	if raw == nil {
		return time.Time{}, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}, nil
	}
	return timeutil.ParseTimestamp(s), nil
}

// ResetRollingFields zeroes one user's rolling counters in the delta.
// History is removed outright: the store treats an absent subtree exactly as
// the companion app treats an empty history object.
func ResetRollingFields(uid string, delta *store.Delta) {
	delta.Delete(store.Join(LeaderboardPath, uid, "history"))
	delta.Set(fieldPath(uid, "weekHours"), 0)
	delta.Set(fieldPath(uid, "score"), 0)
	delta.Set(fieldPath(uid, "todayHours"), 0)
}

// ResetRealUser zeroes a real user's rolling fields and stamps the cycle
// boundary so the owning app can detect the new week.
func ResetRealUser(uid string, now time.Time, delta *store.Delta) {
	ResetRollingFields(uid, delta)
	delta.Set(fieldPath(uid, "weeklyResetAt"), timeutil.FormatTimestamp(now))
	delta.Set(fieldPath(uid, "lastUpdate"), timeutil.FormatTimestamp(now))
}

// ResetFakeInactiveUser zeroes a frozen synthetic user and forces it back to
// its display state: offline and re-tagged inactive.
func ResetFakeInactiveUser(uid string, delta *store.Delta) {
	ResetRollingFields(uid, delta)
	delta.Set(fieldPath(uid, "online"), false)
	delta.Set(fieldPath(uid, "status"), string(user.StatusOffline))
	delta.Set(fieldPath(uid, "isFakeInactive"), true)
}
