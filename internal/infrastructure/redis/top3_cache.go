package redis

import (
	"context"
	"errors"
	"time"

	"github.com/studytime-hub/leaderboard-worker/internal/domain/leaderboard"
	"github.com/studytime-hub/leaderboard-worker/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// WEEKLY TOP-3 CACHE
// ══════════════════════════════════════════════════════════════════════════════

// top3Key is where the companion backend reads last week's podium from.
const top3Key = "leaderboard:last_week_top3"

// top3TTL keeps the snapshot readable for the whole following week.
const top3TTL = 8 * 24 * time.Hour

// top3Snapshot is the cached document shape.
type top3Snapshot struct {
	Entries []leaderboard.RankedEntry `json:"entries"`
	SavedAt string                    `json:"saved_at"`
}

// Top3Cache mirrors the weekly podium snapshot into Redis at reset time.
// It implements simulation.Top3Cache.
type Top3Cache struct {
	cache *Cache
}

// NewTop3Cache creates a top-3 snapshot cache.
func NewTop3Cache(cache *Cache) *Top3Cache {
	return &Top3Cache{cache: cache}
}

// CacheTop3 stores the snapshot. The tree store stays the source of truth;
// this copy only spares the backend a subtree read.
func (c *Top3Cache) CacheTop3(ctx context.Context, entries []leaderboard.RankedEntry, savedAt time.Time) error {
	return c.cache.Set(ctx, top3Key, top3Snapshot{
		Entries: entries,
		SavedAt: timeutil.FormatTimestamp(savedAt),
	}, top3TTL)
}

// LastWeekTop3 reads the cached snapshot; a nil slice means no snapshot yet.
func (c *Top3Cache) LastWeekTop3(ctx context.Context) ([]leaderboard.RankedEntry, error) {
	var snap top3Snapshot
	if err := c.cache.Get(ctx, top3Key, &snap); err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, nil
		}
		return nil, err
	}
	return snap.Entries, nil
}
