package simulation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studytime-hub/leaderboard-worker/internal/store"
	"github.com/studytime-hub/leaderboard-worker/pkg/timeutil"
)

func TestInResetWindow(t *testing.T) {
	tests := []struct {
		name     string
		at       time.Time
		expected bool
	}{
		{"sunday 23:55", timeutil.DateTime(2026, 8, 23, 23, 55, 0), true},
		{"sunday 23:59", timeutil.DateTime(2026, 8, 23, 23, 59, 59), true},
		{"monday 00:00", timeutil.DateTime(2026, 8, 24, 0, 0, 0), true},
		{"monday 00:05", timeutil.DateTime(2026, 8, 24, 0, 5, 59), true},
		{"monday 00:06", timeutil.DateTime(2026, 8, 24, 0, 6, 0), false},
		{"sunday 23:54", timeutil.DateTime(2026, 8, 23, 23, 54, 59), false},
		{"tuesday midnight", timeutil.DateTime(2026, 8, 25, 0, 0, 0), false},
		{"sunday noon", timeutil.DateTime(2026, 8, 23, 12, 0, 0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, InResetWindow(tt.at))
		})
	}
}

func TestInResetWindow_EvaluatesInIST(t *testing.T) {
	// Sunday 18:26 UTC is Sunday 23:56 IST: inside the window.
	utc := time.Date(2026, 8, 23, 18, 26, 0, 0, time.UTC)
	assert.True(t, InResetWindow(utc))

	// Sunday 23:56 UTC is Monday 05:26 IST: outside.
	utc = time.Date(2026, 8, 23, 23, 56, 0, 0, time.UTC)
	assert.False(t, InResetWindow(utc))
}

func TestGateFrom(t *testing.T) {
	now := timeutil.DateTime(2026, 8, 24, 0, 0, 0)

	g := GateFrom(time.Time{}, now)
	assert.Equal(t, GateArmed, g.State)

	// Reset two days ago: still cooling.
	g = GateFrom(now.Add(-2*24*time.Hour), now)
	assert.Equal(t, GateCooling, g.State)
	assert.Equal(t, now.Add(4*24*time.Hour), g.Until)

	// Reset six days ago: armed again.
	g = GateFrom(now.Add(-6*24*time.Hour), now)
	assert.Equal(t, GateArmed, g.State)
}

func TestShouldReset_WindowAndCooldown(t *testing.T) {
	ctx := context.Background()
	inWindow := timeutil.DateTime(2026, 8, 23, 23, 57, 0)

	s := store.NewMemoryStore()
	coord := NewResetCoordinator(s, nil)

	// Never reset before, inside the window: fires.
	fire, err := coord.ShouldReset(ctx, inWindow)
	require.NoError(t, err)
	assert.True(t, fire)

	// Reset recorded one day ago: suppressed even inside the window.
	recent := store.NewDelta()
	recent.Set(LastWeeklyResetPath, timeutil.FormatTimestamp(inWindow.Add(-24*time.Hour)))
	require.NoError(t, s.ApplyDelta(ctx, recent))

	fire, err = coord.ShouldReset(ctx, inWindow)
	require.NoError(t, err)
	assert.False(t, fire)

	// A week-old record re-arms the gate.
	old := store.NewDelta()
	old.Set(LastWeeklyResetPath, timeutil.FormatTimestamp(inWindow.Add(-7*24*time.Hour)))
	require.NoError(t, s.ApplyDelta(ctx, old))

	fire, err = coord.ShouldReset(ctx, inWindow)
	require.NoError(t, err)
	assert.True(t, fire)

	// Armed but outside the window: no reset.
	fire, err = coord.ShouldReset(ctx, timeutil.DateTime(2026, 8, 26, 12, 0, 0))
	require.NoError(t, err)
	assert.False(t, fire)
}

func TestShouldReset_ForceFlagFiresOnceAnytime(t *testing.T) {
	ctx := context.Background()
	outsideWindow := timeutil.DateTime(2026, 8, 26, 12, 0, 0)

	s := store.NewMemoryStore()
	require.NoError(t, s.Seed(ForceResetPath, true))
	coord := NewResetCoordinator(s, nil)

	fire, err := coord.ShouldReset(ctx, outsideWindow)
	require.NoError(t, err)
	assert.True(t, fire)

	// The flag is consumed: the next cycle does not fire again.
	fire, err = coord.ShouldReset(ctx, outsideWindow)
	require.NoError(t, err)
	assert.False(t, fire)

	raw, err := s.ReadSubtree(ctx, ForceResetPath)
	require.NoError(t, err)
	assert.JSONEq(t, `false`, string(raw))
}

func TestShouldReset_MalformedLastResetArmsGate(t *testing.T) {
	ctx := context.Background()
	inWindow := timeutil.DateTime(2026, 8, 23, 23, 57, 0)

	s := store.NewMemoryStore()
	require.NoError(t, s.Seed(LastWeeklyResetPath, "not-a-timestamp"))
	coord := NewResetCoordinator(s, nil)

	fire, err := coord.ShouldReset(ctx, inWindow)
	require.NoError(t, err)
	assert.True(t, fire)
}

func TestResetRollingFields(t *testing.T) {
	delta := store.NewDelta()
	ResetRollingFields("u1", delta)

	v, ok := delta.Value(store.Join(LeaderboardPath, "u1", "history"))
	require.True(t, ok)
	assert.Nil(t, v)

	for _, field := range []string{"weekHours", "score", "todayHours"} {
		v, ok := delta.Value(fieldPath("u1", field))
		require.True(t, ok, field)
		assert.Equal(t, 0, v, field)
	}
}

func TestResetRealUser_StampsCycleBoundary(t *testing.T) {
	now := timeutil.DateTime(2026, 8, 24, 0, 1, 0)
	delta := store.NewDelta()
	ResetRealUser("u1", now, delta)

	assert.True(t, delta.Has(fieldPath("u1", "weeklyResetAt")))
	assert.True(t, delta.Has(fieldPath("u1", "lastUpdate")))
	assert.True(t, delta.Has(fieldPath("u1", "weekHours")))
}

func TestResetFakeInactiveUser_ForcesDisplayState(t *testing.T) {
	delta := store.NewDelta()
	ResetFakeInactiveUser("u1", delta)

	v, _ := delta.Value(fieldPath("u1", "online"))
	assert.Equal(t, false, v)
	v, _ = delta.Value(fieldPath("u1", "status"))
	assert.Equal(t, "Offline", v)
	v, _ = delta.Value(fieldPath("u1", "isFakeInactive"))
	assert.Equal(t, true, v)
}
