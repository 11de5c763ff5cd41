package notify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/studytime-hub/leaderboard-worker/internal/store"
	"github.com/studytime-hub/leaderboard-worker/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// STUDY REPORT DRAINER
// ══════════════════════════════════════════════════════════════════════════════

// Tree paths used by the report drainer.
const (
	StudyReportsPath = "studyReports"
	ReportLogsPath   = "_reportLogs"
)

// InReportWindow reports whether t falls in the nightly auto-report window:
// IST 23:55 through 00:05.
func InReportWindow(t time.Time) bool {
	ist := timeutil.ToIST(t)
	hour, minute := ist.Hour(), ist.Minute()

	if hour == 23 && minute >= 55 {
		return true
	}
	if hour == 0 && minute <= 5 {
		return true
	}
	return false
}

// reportEntry is one queued report. The mobile app has written both field
// spellings over time, so decoding accepts either.
type reportEntry struct {
	ReportDate string          `json:"reportDate"`
	PDFBase64  string          `json:"pdfBase64"`
	PDF        string          `json:"pdf"`
	ChatIDNew  json.RawMessage `json:"telegramChatId"`
	ChatIDOld  json.RawMessage `json:"chatId"`
}

// payload returns the base64 PDF body, whichever field carries it.
func (r *reportEntry) payload() string {
	if r.PDFBase64 != "" {
		return r.PDFBase64
	}
	return r.PDF
}

// chatID returns the recipient chat, tolerating number or string encoding.
func (r *reportEntry) chatID() int64 {
	for _, raw := range []json.RawMessage{r.ChatIDNew, r.ChatIDOld} {
		if len(raw) == 0 {
			continue
		}
		if id := decodeChatID(raw); id != 0 {
			return id
		}
	}
	return 0
}

func decodeChatID(raw json.RawMessage) int64 {
	var id int64
	if err := json.Unmarshal(raw, &id); err == nil {
		return id
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		fmt.Sscanf(s, "%d", &id)
	}
	return id
}

// ReportStats holds one drain pass's counters.
type ReportStats struct {
	Sent    int
	Cleaned int
	Failed  int
}

// ReportDrainer dispatches queued per-user study report PDFs over Telegram
// and garbage-collects entries that can never be delivered.
type ReportDrainer struct {
	store     store.Store
	messenger Messenger
	logger    *slog.Logger
}

// NewReportDrainer creates a report drainer.
func NewReportDrainer(st store.Store, messenger Messenger, logger *slog.Logger) *ReportDrainer {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReportDrainer{store: st, messenger: messenger, logger: logger}
}

// Drain performs one pass over the report queue. Only entries dated today
// (IST) are dispatched; malformed entries are deleted whatever their date
// says, and entries whose send failed stay queued for the next pass. All
// deletions and delivery-log writes land in a single delta.
func (d *ReportDrainer) Drain(ctx context.Context, now time.Time) (ReportStats, error) {
	stats := ReportStats{}
	todayKey := timeutil.DateKey(now)

	raw, err := d.store.ReadSubtree(ctx, StudyReportsPath)
	if err != nil {
		return stats, fmt.Errorf("report drain: read queue: %w", err)
	}
	if raw == nil {
		d.logger.Debug("no study reports queued")
		return stats, nil
	}

	var queue map[string]map[string]json.RawMessage
	if err := json.Unmarshal(raw, &queue); err != nil {
		return stats, fmt.Errorf("report drain: decode queue: %w", err)
	}

	delta := store.NewDelta()

	uids := make([]string, 0, len(queue))
	for uid := range queue {
		uids = append(uids, uid)
	}
	sort.Strings(uids)

	for _, uid := range uids {
		dateKeys := make([]string, 0, len(queue[uid]))
		for dateKey := range queue[uid] {
			dateKeys = append(dateKeys, dateKey)
		}
		sort.Strings(dateKeys)

		for _, dateKey := range dateKeys {
			d.drainEntry(ctx, uid, dateKey, queue[uid][dateKey], todayKey, now, delta, &stats)
		}
	}

	if !delta.IsEmpty() {
		if err := d.store.ApplyDelta(ctx, delta); err != nil {
			return stats, fmt.Errorf("report drain: apply updates: %w", err)
		}
	}

	d.logger.Info("study report drain completed",
		"sent", stats.Sent,
		"cleaned", stats.Cleaned,
		"failed", stats.Failed,
	)

	return stats, nil
}

// drainEntry handles one queued report.
func (d *ReportDrainer) drainEntry(ctx context.Context, uid, dateKey string, raw json.RawMessage, todayKey string, now time.Time, delta *store.Delta, stats *ReportStats) {
	entryPath := store.Join(StudyReportsPath, uid, dateKey)

	var entry reportEntry
	if len(raw) == 0 || string(raw) == "null" || json.Unmarshal(raw, &entry) != nil {
		delta.Delete(entryPath)
		stats.Cleaned++
		return
	}

	reportDate := entry.ReportDate
	if reportDate == "" {
		reportDate = dateKey
	}
	if reportDate != todayKey {
		return
	}

	payload := entry.payload()
	chatID := entry.chatID()
	if payload == "" || chatID == 0 {
		delta.Delete(entryPath)
		stats.Cleaned++
		return
	}

	pdf, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		d.logger.Warn("discarding report with corrupt payload", "uid", uid, "date", reportDate)
		delta.Delete(entryPath)
		stats.Cleaned++
		return
	}

	filename := fmt.Sprintf("Study_Report_%s.pdf", reportDate)
	if err := d.messenger.SendDocument(ctx, chatID, filename, pdf); err != nil {
		d.logger.Warn("failed to send study report",
			"uid", uid,
			"date", reportDate,
			"error", err,
		)
		stats.Failed++
		return
	}

	stats.Sent++
	delta.Delete(entryPath)
	delta.Set(store.Join(ReportLogsPath, uid, reportDate), map[string]any{
		"sentAt":     timeutil.FormatTimestamp(now),
		"via":        "auto_scheduler",
		"dispatchId": uuid.NewString(),
	})
}
