// Package notify implements the session-reminder dispatcher and the queued
// study-report drainer. Both scan the shared tree store and deliver through a
// Messenger, recording their bookkeeping as sparse delta writes.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/studytime-hub/leaderboard-worker/internal/domain/schedule"
	"github.com/studytime-hub/leaderboard-worker/internal/store"
	"github.com/studytime-hub/leaderboard-worker/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// SESSION REMINDER DISPATCHER
// ══════════════════════════════════════════════════════════════════════════════

// Tree paths scanned and written by the dispatcher.
const (
	StudyGroupsPath = "studyGroups"
	LastSentPath    = "_notifications/lastSent"
)

const (
	// sessionMatchWindow is how long after its start time a session still
	// counts as "starting now".
	sessionMatchWindow = 5 * time.Minute

	// notificationCooldown suppresses re-sends for the same session slot, so
	// a slot fires once per day even though the worker passes it repeatedly.
	notificationCooldown = 12 * time.Hour
)

// Messenger delivers outbound Telegram traffic. The production implementation
// lives in internal/infrastructure/telegram.
type Messenger interface {
	// SendText sends an HTML-formatted text message.
	SendText(ctx context.Context, chatID int64, html string) error

	// SendDocument sends a binary document under the given filename.
	SendDocument(ctx context.Context, chatID int64, filename string, payload []byte) error
}

// DispatchStats holds one scan's counters.
type DispatchStats struct {
	Plans    int
	Sessions int
	Matched  int
	Sent     int
	Failed   int
}

// Dispatcher scans study groups for sessions starting now and reminds every
// enrolled member that registered a Telegram chat.
type Dispatcher struct {
	store     store.Store
	messenger Messenger
	logger    *slog.Logger
}

// NewDispatcher creates a session-reminder dispatcher.
func NewDispatcher(st store.Store, messenger Messenger, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{store: st, messenger: messenger, logger: logger}
}

// Run performs one reminder scan at the given time. Per-member send failures
// are counted, not fatal; a slot's cooldown is stamped only when at least one
// member actually received the reminder, so a fully failed slot retries on
// the next pass.
func (d *Dispatcher) Run(ctx context.Context, now time.Time) (DispatchStats, error) {
	stats := DispatchStats{}

	groups, groupIDs, err := d.loadGroups(ctx)
	if err != nil {
		return stats, fmt.Errorf("notification check: %w", err)
	}
	if len(groupIDs) == 0 {
		d.logger.Debug("no study groups found")
		return stats, nil
	}

	delta := store.NewDelta()

	for _, groupID := range groupIDs {
		d.scanGroup(ctx, groupID, groups[groupID], now, delta, &stats)
	}

	if !delta.IsEmpty() {
		if err := d.store.ApplyDelta(ctx, delta); err != nil {
			return stats, fmt.Errorf("notification check: record cooldowns: %w", err)
		}
	}

	d.logger.Info("notification check completed",
		"plans", stats.Plans,
		"sessions", stats.Sessions,
		"matched", stats.Matched,
		"sent", stats.Sent,
		"failed", stats.Failed,
	)

	return stats, nil
}

// loadGroups reads and decodes the studyGroups subtree, skipping groups that
// fail to decode individually.
func (d *Dispatcher) loadGroups(ctx context.Context) (map[string]*schedule.Group, []string, error) {
	raw, err := d.store.ReadSubtree(ctx, StudyGroupsPath)
	if err != nil {
		return nil, nil, fmt.Errorf("read study groups: %w", err)
	}
	if raw == nil {
		return nil, nil, nil
	}

	var rawGroups map[string]json.RawMessage
	if err := json.Unmarshal(raw, &rawGroups); err != nil {
		return nil, nil, fmt.Errorf("decode study groups: %w", err)
	}

	groups := make(map[string]*schedule.Group, len(rawGroups))
	ids := make([]string, 0, len(rawGroups))
	for id, data := range rawGroups {
		group := &schedule.Group{}
		if err := json.Unmarshal(data, group); err != nil {
			d.logger.Warn("skipping malformed study group", "group_id", id, "error", err)
			continue
		}
		groups[id] = group
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return groups, ids, nil
}

// scanGroup walks one group's plans and sessions.
func (d *Dispatcher) scanGroup(ctx context.Context, groupID string, group *schedule.Group, now time.Time, delta *store.Delta, stats *DispatchStats) {
	planIDs := make([]string, 0, len(group.Plans))
	for planID := range group.Plans {
		planIDs = append(planIDs, planID)
	}
	sort.Strings(planIDs)

	for _, planID := range planIDs {
		plan := group.Plans[planID]
		stats.Plans++

		if len(plan.EnrolledMembers) == 0 {
			continue
		}

		for i, session := range plan.Sessions() {
			stats.Sessions++

			if !session.IsValid() {
				continue
			}
			if !d.sessionStartingNow(session, now) {
				continue
			}

			key := fmt.Sprintf("%s_%s_%d_%s", groupID, planID, i, session.StartTime)
			onCooldown, err := d.onCooldown(ctx, key, now)
			if err != nil {
				d.logger.Warn("cooldown check failed, skipping slot", "key", key, "error", err)
				continue
			}
			if onCooldown {
				continue
			}

			stats.Matched++
			d.logger.Info("session starting now",
				"group", group.Name(),
				"plan", plan.DisplayName(),
				"session", session.Name,
				"start_time", session.StartTime,
			)

			sent := d.remindMembers(ctx, group, &plan, session, stats)
			if sent > 0 {
				// A failed slot keeps retrying until someone gets it.
				delta.Set(store.Join(LastSentPath, key), timeutil.FormatTimestamp(now))
			}
		}
	}
}

// sessionStartingNow reports whether the session's start time, read as an IST
// wall-clock time today, falls within the match window before now.
func (d *Dispatcher) sessionStartingNow(session schedule.Session, now time.Time) bool {
	hour, minute, err := timeutil.ParseClock(session.StartTime)
	if err != nil {
		return false
	}

	ist := timeutil.ToIST(now)
	start := time.Date(ist.Year(), ist.Month(), ist.Day(), hour, minute, 0, 0, ist.Location())
	diff := ist.Sub(start)

	return diff >= 0 && diff < sessionMatchWindow
}

// onCooldown checks the per-slot cooldown marker.
func (d *Dispatcher) onCooldown(ctx context.Context, key string, now time.Time) (bool, error) {
	raw, err := d.store.ReadSubtree(ctx, store.Join(LastSentPath, key))
	if err != nil {
		return false, err
	}
	if raw == nil {
		return false, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return false, nil
	}

	lastSent := timeutil.ParseTimestamp(s)
	if lastSent.IsZero() {
		return false, nil
	}
	return now.Sub(lastSent) < notificationCooldown, nil
}

// remindMembers delivers the reminder to every enrolled member with a chat
// handle and returns how many sends succeeded.
func (d *Dispatcher) remindMembers(ctx context.Context, group *schedule.Group, plan *schedule.Plan, session schedule.Session, stats *DispatchStats) int {
	message := reminderMessage(group.Name(), plan.DisplayName(), session)

	sent := 0
	for _, memberID := range plan.EnrolledMembers {
		member, ok := group.Members[memberID]
		if !ok {
			continue
		}
		if !member.TelegramChatID.IsSet() {
			continue
		}

		if err := d.messenger.SendText(ctx, int64(member.TelegramChatID), message); err != nil {
			d.logger.Warn("failed to send session reminder",
				"member_id", memberID,
				"error", err,
			)
			stats.Failed++
			continue
		}
		sent++
		stats.Sent++
	}
	return sent
}

// reminderMessage builds the HTML reminder body. The format is fixed: the
// mobile app's onboarding tells users what these messages look like.
func reminderMessage(groupName, planName string, session schedule.Session) string {
	return fmt.Sprintf(
		"⏰ <b>Session Starting Now!</b>\n\n"+
			"<b>Group:</b> %s\n"+
			"<b>Plan:</b> %s\n"+
			"<b>Session:</b> %s\n"+
			"<b>Time:</b> %s\n\n"+
			"📚 Your study session is starting!\n"+
			"💪 Please join now and get ready to focus!",
		groupName, planName, session.Name, session.StartTime,
	)
}
