package simulation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"time"

	"github.com/studytime-hub/leaderboard-worker/internal/domain/leaderboard"
	"github.com/studytime-hub/leaderboard-worker/internal/domain/user"
	"github.com/studytime-hub/leaderboard-worker/internal/store"
	"github.com/studytime-hub/leaderboard-worker/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD UPDATE PIPELINE
// ══════════════════════════════════════════════════════════════════════════════

// Top3Cache receives the weekly top-3 snapshot at reset time, for cheap reads
// by the companion app's backend. Optional: a nil cache disables it.
type Top3Cache interface {
	CacheTop3(ctx context.Context, entries []leaderboard.RankedEntry, savedAt time.Time) error
}

// Stats holds the per-invocation processing counters.
type Stats struct {
	Real         int
	FakeActive   int
	FakeInactive int
	Processed    int
	Changed      int
	Skipped      int
	Reset        bool
	DeltaSize    int
}

// UpdatePipeline runs one full reconciliation pass: reset decision, presence
// simulation, per-user accrual, and a single batched delta write.
type UpdatePipeline struct {
	store     store.Store
	presence  *PresenceSimulator
	accrual   *AccrualEngine
	resets    *ResetCoordinator
	rng       *rand.Rand
	top3Cache Top3Cache
	logger    *slog.Logger
	now       func() time.Time

	disablePresence bool
	disableAccrual  bool
	disableReset    bool
}

// PipelineOptions configures an UpdatePipeline.
type PipelineOptions struct {
	Store     store.Store
	Rand      *rand.Rand
	Top3Cache Top3Cache
	Logger    *slog.Logger

	// Now overrides the clock, for tests. Defaults to timeutil.Now.
	Now func() time.Time

	// Feature kill switches; all stages run by default.
	DisablePresence bool
	DisableAccrual  bool
	DisableReset    bool
}

// NewUpdatePipeline wires the reconciliation components together.
func NewUpdatePipeline(opts PipelineOptions) *UpdatePipeline {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if opts.Now == nil {
		opts.Now = timeutil.Now
	}

	return &UpdatePipeline{
		store:     opts.Store,
		presence:  NewPresenceSimulator(opts.Rand, opts.Logger),
		accrual:   NewAccrualEngine(opts.Rand, opts.Logger),
		resets:    NewResetCoordinator(opts.Store, opts.Logger),
		rng:       opts.Rand,
		top3Cache: opts.Top3Cache,
		logger:    opts.Logger,
		now:       opts.Now,

		disablePresence: opts.DisablePresence,
		disableAccrual:  opts.DisableAccrual,
		disableReset:    opts.DisableReset,
	}
}

// Run executes one reconciliation pass. A store read failure aborts the pass
// as a no-op; per-user decode failures skip only that record.
func (p *UpdatePipeline) Run(ctx context.Context) error {
	now := p.now()
	dayKey := timeutil.DateKey(now)

	uids, users, skipped, err := p.loadUsers(ctx)
	if err != nil {
		return fmt.Errorf("leaderboard update: %w", err)
	}

	stats := Stats{Skipped: skipped}

	resetWeek := false
	if !p.disableReset {
		resetWeek, err = p.resets.ShouldReset(ctx, now)
		if err != nil {
			// A failed gate read must not stop presence/accrual for this cycle.
			p.logger.Error("reset decision failed, skipping reset this cycle", "error", err)
			resetWeek = false
		}
	}
	stats.Reset = resetWeek

	delta := store.NewDelta()

	if resetWeek {
		p.snapshotTop3(ctx, uids, users, now, delta)
		delta.Set(LastWeeklyResetPath, timeutil.FormatTimestamp(now))
	}

	if !p.disablePresence {
		p.presence.Apply(uids, users, now, delta)
	}

	for _, uid := range uids {
		p.processUser(uid, users[uid], now, dayKey, resetWeek, delta, &stats)
	}

	stats.DeltaSize = delta.Len()
	if !delta.IsEmpty() {
		if err := p.store.ApplyDelta(ctx, delta); err != nil {
			return fmt.Errorf("leaderboard update: apply delta: %w", err)
		}
	}

	p.logger.Info("leaderboard update completed",
		"real", stats.Real,
		"fake_active", stats.FakeActive,
		"fake_inactive", stats.FakeInactive,
		"processed", stats.Processed,
		"changed", stats.Changed,
		"skipped", stats.Skipped,
		"reset", stats.Reset,
		"delta_fields", stats.DeltaSize,
	)

	return nil
}

// loadUsers reads and decodes the leaderboard subtree. Records that fail to
// decode individually are skipped so one malformed entry never aborts the
// batch. UIDs are returned in sorted order so encounter order is stable.
func (p *UpdatePipeline) loadUsers(ctx context.Context) ([]string, map[string]*user.Record, int, error) {
	raw, err := p.store.ReadSubtree(ctx, LeaderboardPath)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("read leaderboard subtree: %w", err)
	}
	if raw == nil {
		return nil, map[string]*user.Record{}, 0, nil
	}

	var rawUsers map[string]json.RawMessage
	if err := json.Unmarshal(raw, &rawUsers); err != nil {
		return nil, nil, 0, fmt.Errorf("decode leaderboard subtree: %w", err)
	}

	users := make(map[string]*user.Record, len(rawUsers))
	uids := make([]string, 0, len(rawUsers))
	skipped := 0
	for uid, data := range rawUsers {
		rec := &user.Record{}
		if err := json.Unmarshal(data, rec); err != nil {
			p.logger.Warn("skipping malformed user record", "uid", uid, "error", err)
			skipped++
			continue
		}
		users[uid] = rec
		uids = append(uids, uid)
	}
	sort.Strings(uids)

	return uids, users, skipped, nil
}

// snapshotTop3 archives the week's top 3 before any rolling field is zeroed.
// The snapshot rides in the same atomic delta as the reset itself.
func (p *UpdatePipeline) snapshotTop3(ctx context.Context, uids []string, users map[string]*user.Record, now time.Time, delta *store.Delta) {
	top3 := leaderboard.TakeTop3(uids, users)
	if len(top3) == 0 {
		p.logger.Warn("no users with weekly activity, skipping top-3 snapshot")
		return
	}

	delta.Set(LastWeekTop3Path, top3)
	delta.Set(LastWeekTop3SavedPath, timeutil.FormatTimestamp(now))

	if p.top3Cache != nil {
		if err := p.top3Cache.CacheTop3(ctx, top3, now); err != nil {
			p.logger.Warn("failed to cache top-3 snapshot", "error", err)
		}
	}

	for i, entry := range top3 {
		p.logger.Info("weekly top-3 archived",
			"rank", i+1,
			"name", entry.Name,
			"week_hours", entry.WeekHours,
			"user_type", entry.UserType,
		)
	}
}

// processUser routes one record through the category-specific handling.
func (p *UpdatePipeline) processUser(uid string, rec *user.Record, now time.Time, dayKey string, resetWeek bool, delta *store.Delta, stats *Stats) {
	switch rec.Category() {
	case user.CategoryReal:
		stats.Real++
		if resetWeek {
			ResetRealUser(uid, now, delta)
			stats.Changed++
			return
		}
		if TouchReal(uid, rec, now, delta) {
			stats.Changed++
		}

	case user.CategoryFakeInactive:
		stats.FakeInactive++
		if resetWeek {
			ResetFakeInactiveUser(uid, delta)
			stats.Changed++
		}

	case user.CategoryFakeActive:
		stats.FakeActive++
		stats.Processed++

		if !rec.HasProfile() {
			profile := user.GenerateProfile(p.rng)
			rec.ApplyProfile(profile)
			delta.Set(fieldPath(uid, "perfType"), string(profile.PerfType))
			delta.Set(fieldPath(uid, "dailyTarget"), profile.DailyTarget)
			delta.Set(fieldPath(uid, "studyPace"), profile.StudyPace)
			delta.Set(fieldPath(uid, "onlinePreference"), profile.OnlinePreference)
		}

		if resetWeek {
			// Reset short-circuits this cycle's accrual for the user.
			ResetRollingFields(uid, delta)
			stats.Changed++
			return
		}

		if !p.disableAccrual && p.accrual.Accrue(uid, rec, now, dayKey, delta) {
			stats.Changed++
		}
	}
}
