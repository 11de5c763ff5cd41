package simulation

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studytime-hub/leaderboard-worker/internal/domain/leaderboard"
	"github.com/studytime-hub/leaderboard-worker/internal/domain/user"
	"github.com/studytime-hub/leaderboard-worker/internal/store"
	"github.com/studytime-hub/leaderboard-worker/pkg/timeutil"
)

type fakeTop3Cache struct {
	entries []leaderboard.RankedEntry
	calls   int
}

func (c *fakeTop3Cache) CacheTop3(ctx context.Context, entries []leaderboard.RankedEntry, savedAt time.Time) error {
	c.entries = entries
	c.calls++
	return nil
}

func newTestPipeline(s store.Store, seed int64, at time.Time, cache Top3Cache) *UpdatePipeline {
	return NewUpdatePipeline(PipelineOptions{
		Store:     s,
		Rand:      rand.New(rand.NewSource(seed)),
		Top3Cache: cache,
		Now:       func() time.Time { return at },
	})
}

func seedUser(t *testing.T, s *store.MemoryStore, uid string, rec map[string]any) {
	t.Helper()
	require.NoError(t, s.Seed(store.Join(LeaderboardPath, uid), rec))
}

func readRecord(t *testing.T, s *store.MemoryStore, uid string) *user.Record {
	t.Helper()
	raw, err := s.ReadSubtree(context.Background(), store.Join(LeaderboardPath, uid))
	require.NoError(t, err)
	require.NotNil(t, raw)

	rec := &user.Record{}
	require.NoError(t, json.Unmarshal(raw, rec))
	return rec
}

func TestPipeline_EmptyTreeIsNoOp(t *testing.T) {
	s := store.NewMemoryStore()
	p := newTestPipeline(s, 1, timeutil.DateTime(2026, 8, 26, 18, 0, 0), nil)

	require.NoError(t, p.Run(context.Background()))
}

func TestPipeline_InitializesProfilesForNewSynthetics(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	now := timeutil.DateTime(2026, 8, 26, 18, 0, 0)

	for i := 0; i < 20; i++ {
		seedUser(t, s, fmt.Sprintf("fake%02d", i), map[string]any{
			"name": fmt.Sprintf("Synthetic %d", i),
		})
	}

	p := newTestPipeline(s, 42, now, nil)
	require.NoError(t, p.Run(ctx))

	for i := 0; i < 20; i++ {
		rec := readRecord(t, s, fmt.Sprintf("fake%02d", i))
		assert.True(t, rec.PerfType.IsValid(), "user %d should have a generated archetype", i)
		assert.GreaterOrEqual(t, rec.OnlinePreference, 0.2)
		assert.Greater(t, rec.StudyPace, 0.0)
	}
}

func TestPipeline_AccruesForOnlineSynthetics(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	now := timeutil.DateTime(2026, 8, 26, 2, 0, 0) // late night keeps presence quiet
	dayKey := timeutil.DateKey(now)

	seedUser(t, s, "fake01", map[string]any{
		"name":             "Synthetic",
		"online":           true,
		"status":           "Online",
		"lastOnlineTime":   timeutil.FormatTimestamp(now.Add(-2 * time.Minute)),
		"lastUpdate":       timeutil.FormatTimestamp(now.Add(-5 * time.Minute)),
		"perfType":         "medium",
		"dailyTarget":      6.0,
		"studyPace":        1.0,
		"onlinePreference": 0.5,
	})

	p := newTestPipeline(s, 7, now, nil)
	require.NoError(t, p.Run(ctx))

	rec := readRecord(t, s, "fake01")
	assert.Greater(t, rec.TodaySeconds(dayKey), int64(0))
	assert.Greater(t, rec.WeekHours, 0.0)
	assert.Equal(t, int64(rec.WeekHours*100), rec.Score)
}

func TestPipeline_NeverWritesRealUserCounters(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	now := timeutil.DateTime(2026, 8, 26, 18, 0, 0)
	dayKey := timeutil.DateKey(now)

	seedUser(t, s, "real01", map[string]any{
		"name":       "Aruzhan",
		"userType":   "real",
		"online":     true,
		"lastUpdate": timeutil.FormatTimestamp(now.Add(-2 * time.Minute)),
		"history":    map[string]any{dayKey: 5400},
		"todayHours": 1.5,
		"weekHours":  1.5,
		"score":      150,
	})

	p := newTestPipeline(s, 7, now, nil)
	require.NoError(t, p.Run(ctx))

	rec := readRecord(t, s, "real01")
	assert.Equal(t, int64(5400), rec.TodaySeconds(dayKey))
	assert.Equal(t, 1.5, rec.WeekHours)
	assert.Equal(t, int64(150), rec.Score)
	// Only the heartbeat moved.
	assert.Equal(t, timeutil.FormatTimestamp(now), rec.LastUpdate)
}

func TestPipeline_WeeklyResetArchivesTop3AndZeroesCounters(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	now := timeutil.DateTime(2026, 8, 23, 23, 57, 0) // Sunday, inside the window

	seedUser(t, s, "real01", map[string]any{
		"name":      "Aruzhan",
		"userType":  "real",
		"history":   map[string]any{"2026-08-22": 36000},
		"weekHours": 10.0,
		"score":     1000,
	})
	seedUser(t, s, "fake01", map[string]any{
		"name":             "Synthetic",
		"perfType":         "high",
		"dailyTarget":      9.0,
		"studyPace":        0.9,
		"onlinePreference": 0.7,
		"history":          map[string]any{"2026-08-22": 90000},
		"weekHours":        25.0,
		"score":            2500,
	})
	seedUser(t, s, "frozen01", map[string]any{
		"name":           "Frozen",
		"isFakeInactive": true,
		"online":         true,
		"weekHours":      99.0,
		"score":          9900,
	})

	cache := &fakeTop3Cache{}
	p := newTestPipeline(s, 7, now, cache)
	require.NoError(t, p.Run(ctx))

	// Top-3 snapshot: frozen records are excluded despite the highest week.
	raw, err := s.ReadSubtree(ctx, LastWeekTop3Path)
	require.NoError(t, err)
	var top3 []leaderboard.RankedEntry
	require.NoError(t, json.Unmarshal(raw, &top3))
	require.Len(t, top3, 2)
	assert.Equal(t, "fake01", top3[0].UID)
	assert.Equal(t, "real01", top3[1].UID)

	assert.Equal(t, 1, cache.calls)
	assert.Len(t, cache.entries, 2)

	// Reset marker recorded.
	raw, err = s.ReadSubtree(ctx, LastWeeklyResetPath)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("%q", timeutil.FormatTimestamp(now)), string(raw))

	// Every category had its rolling counters zeroed.
	for _, uid := range []string{"real01", "fake01", "frozen01"} {
		rec := readRecord(t, s, uid)
		assert.Zero(t, rec.WeekHours, uid)
		assert.Zero(t, rec.Score, uid)
		assert.Empty(t, rec.History, uid)
	}

	real := readRecord(t, s, "real01")
	assert.NotEmpty(t, real.WeeklyResetAt)

	frozen := readRecord(t, s, "frozen01")
	assert.False(t, frozen.Online)
	assert.Equal(t, user.StatusOffline, frozen.Status)
	assert.True(t, frozen.IsFakeInactive)
}

func TestPipeline_ResetDoesNotRepeatWithinCooldown(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	now := timeutil.DateTime(2026, 8, 23, 23, 57, 0)

	seedUser(t, s, "fake01", map[string]any{
		"name":             "Synthetic",
		"perfType":         "medium",
		"dailyTarget":      6.0,
		"studyPace":        0.8,
		"onlinePreference": 0.5,
		"weekHours":        5.0,
		"score":            500,
		"history":          map[string]any{"2026-08-22": 18000},
	})

	p := newTestPipeline(s, 7, now, nil)
	require.NoError(t, p.Run(ctx))

	// Rebuild some week hours, then run again two minutes later.
	seedUser(t, s, "fake01", map[string]any{
		"name":             "Synthetic",
		"perfType":         "medium",
		"dailyTarget":      6.0,
		"studyPace":        0.8,
		"onlinePreference": 0.5,
		"weekHours":        1.0,
		"score":            100,
		"history":          map[string]any{"2026-08-23": 3600},
	})

	p2 := newTestPipeline(s, 8, now.Add(2*time.Minute), nil)
	require.NoError(t, p2.Run(ctx))

	rec := readRecord(t, s, "fake01")
	assert.Equal(t, 1.0, rec.WeekHours, "second run inside cooldown must not reset again")
}

func TestPipeline_MalformedRecordIsSkipped(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	now := timeutil.DateTime(2026, 8, 26, 2, 0, 0)

	// history must be an object; a string makes the record undecodable.
	seedUser(t, s, "broken", map[string]any{"history": "oops"})
	seedUser(t, s, "fine", map[string]any{
		"name":             "Synthetic",
		"perfType":         "low",
		"dailyTarget":      2.0,
		"studyPace":        0.6,
		"onlinePreference": 0.3,
	})

	p := newTestPipeline(s, 7, now, nil)
	require.NoError(t, p.Run(ctx))

	// The malformed record is still in the tree, untouched.
	raw, err := s.ReadSubtree(ctx, store.Join(LeaderboardPath, "broken"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"history": "oops"}`, string(raw))
}

func TestPipeline_KillSwitchesSuppressStages(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	now := timeutil.DateTime(2026, 8, 23, 23, 57, 0) // reset window

	seedUser(t, s, "fake01", map[string]any{
		"name":             "Synthetic",
		"online":           true,
		"lastUpdate":       timeutil.FormatTimestamp(now.Add(-5 * time.Minute)),
		"perfType":         "medium",
		"dailyTarget":      6.0,
		"studyPace":        1.0,
		"onlinePreference": 0.5,
		"weekHours":        5.0,
		"score":            500,
		"history":          map[string]any{"2026-08-22": 18000},
	})

	p := NewUpdatePipeline(PipelineOptions{
		Store:           s,
		Rand:            rand.New(rand.NewSource(7)),
		Now:             func() time.Time { return now },
		DisablePresence: true,
		DisableAccrual:  true,
		DisableReset:    true,
	})
	require.NoError(t, p.Run(ctx))

	rec := readRecord(t, s, "fake01")
	assert.Equal(t, 5.0, rec.WeekHours, "reset disabled")
	assert.Equal(t, int64(18000), rec.TodaySeconds("2026-08-22"))

	raw, err := s.ReadSubtree(ctx, LastWeeklyResetPath)
	require.NoError(t, err)
	assert.Nil(t, raw, "no reset marker when the reset stage is disabled")
}
