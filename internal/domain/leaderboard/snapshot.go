// Package leaderboard содержит доменную модель витринного лидерборда StudyTime.
// Здесь живёт единственная чисто доменная операция воркера над рейтингом:
// снимок топ-3 недели, который архивируется перед недельным сбросом.
package leaderboard

import (
	"sort"

	"github.com/studytime-hub/leaderboard-worker/internal/domain/user"
)

// ══════════════════════════════════════════════════════════════════════════════
// TOP-3 SNAPSHOT
// ══════════════════════════════════════════════════════════════════════════════

// DefaultAvatarID - аватар по умолчанию, если запись его не задала.
const DefaultAvatarID = "1"

// UserTypeFake - значение userType в снимке для синтетических записей.
const UserTypeFake = "fake"

// RankedEntry - одна строка снимка топ-3, как она сохраняется в
// _global/lastWeekTop3.
type RankedEntry struct {
	Name      string  `json:"name"`
	WeekHours float64 `json:"weekHours"`
	Score     int64   `json:"score"`
	AvatarID  string  `json:"avatar_id"`
	UID       string  `json:"uid"`
	UserType  string  `json:"userType"`
}

// TakeTop3 выбирает трёх лидеров недели по убыванию weekHours.
// Участвуют только записи с weekHours > 0 и категорией, отличной от
// fake_inactive; при равенстве часов сохраняется порядок обхода uids.
func TakeTop3(uids []string, users map[string]*user.Record) []RankedEntry {
	ranked := make([]RankedEntry, 0, len(uids))

	for _, uid := range uids {
		rec, ok := users[uid]
		if !ok {
			continue
		}
		if rec.WeekHours <= 0 || rec.Category() == user.CategoryFakeInactive {
			continue
		}

		entry := RankedEntry{
			Name:      rec.Name,
			WeekHours: rec.WeekHours,
			Score:     rec.Score,
			AvatarID:  rec.AvatarID,
			UID:       uid,
			UserType:  rec.UserType,
		}
		if entry.Name == "" {
			entry.Name = "Unknown"
		}
		if entry.AvatarID == "" {
			entry.AvatarID = DefaultAvatarID
		}
		if entry.UserType == "" {
			entry.UserType = UserTypeFake
		}

		ranked = append(ranked, entry)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].WeekHours > ranked[j].WeekHours
	})

	if len(ranked) > 3 {
		ranked = ranked[:3]
	}
	return ranked
}
