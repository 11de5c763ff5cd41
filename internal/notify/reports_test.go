package notify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studytime-hub/leaderboard-worker/internal/store"
	"github.com/studytime-hub/leaderboard-worker/pkg/timeutil"
)

var reportTime = timeutil.DateTime(2026, 8, 26, 23, 57, 0)

func TestInReportWindow(t *testing.T) {
	tests := []struct {
		name     string
		at       time.Time
		expected bool
	}{
		{"23:55", timeutil.DateTime(2026, 8, 26, 23, 55, 0), true},
		{"23:59", timeutil.DateTime(2026, 8, 26, 23, 59, 59), true},
		{"00:00", timeutil.DateTime(2026, 8, 27, 0, 0, 0), true},
		{"00:05", timeutil.DateTime(2026, 8, 27, 0, 5, 59), true},
		{"00:06", timeutil.DateTime(2026, 8, 27, 0, 6, 0), false},
		{"23:54", timeutil.DateTime(2026, 8, 26, 23, 54, 0), false},
		{"noon", timeutil.DateTime(2026, 8, 26, 12, 0, 0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, InReportWindow(tt.at))
		})
	}
}

func seedReport(t *testing.T, s *store.MemoryStore, uid, dateKey string, entry map[string]any) {
	t.Helper()
	require.NoError(t, s.Seed(store.Join(StudyReportsPath, uid, dateKey), entry))
}

func pdfBase64(body string) string {
	return base64.StdEncoding.EncodeToString([]byte(body))
}

func TestDrain_SendsTodaysReports(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	today := timeutil.DateKey(reportTime)

	seedReport(t, s, "u1", today, map[string]any{
		"reportDate":     today,
		"pdfBase64":      pdfBase64("%PDF-1.4 fake"),
		"telegramChatId": 111,
	})

	messenger := newFakeMessenger()
	d := NewReportDrainer(s, messenger, nil)

	stats, err := d.Drain(ctx, reportTime)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Sent)
	assert.Equal(t, 0, stats.Cleaned)

	require.Len(t, messenger.documents, 1)
	doc := messenger.documents[0]
	assert.Equal(t, int64(111), doc.ChatID)
	assert.Equal(t, "Study_Report_"+today+".pdf", doc.Filename)
	assert.Equal(t, []byte("%PDF-1.4 fake"), doc.Payload)

	// Entry removed from the queue, delivery logged.
	raw, err := s.ReadSubtree(ctx, store.Join(StudyReportsPath, "u1", today))
	require.NoError(t, err)
	assert.Nil(t, raw)

	raw, err = s.ReadSubtree(ctx, store.Join(ReportLogsPath, "u1", today))
	require.NoError(t, err)
	require.NotNil(t, raw)

	var log map[string]string
	require.NoError(t, json.Unmarshal(raw, &log))
	assert.Equal(t, "auto_scheduler", log["via"])
	assert.NotEmpty(t, log["sentAt"])
	assert.NotEmpty(t, log["dispatchId"])
}

func TestDrain_LegacyFieldSpellings(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	today := timeutil.DateKey(reportTime)

	seedReport(t, s, "u1", today, map[string]any{
		"reportDate": today,
		"pdf":        pdfBase64("old-field"),
		"chatId":     "333",
	})

	messenger := newFakeMessenger()
	d := NewReportDrainer(s, messenger, nil)

	stats, err := d.Drain(ctx, reportTime)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Sent)
	require.Len(t, messenger.documents, 1)
	assert.Equal(t, int64(333), messenger.documents[0].ChatID)
}

func TestDrain_SkipsOtherDates(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	today := timeutil.DateKey(reportTime)

	seedReport(t, s, "u1", "2026-08-20", map[string]any{
		"reportDate":     "2026-08-20",
		"pdfBase64":      pdfBase64("stale"),
		"telegramChatId": 111,
	})
	// Date key falls back when reportDate is missing.
	seedReport(t, s, "u2", today, map[string]any{
		"pdfBase64":      pdfBase64("fresh"),
		"telegramChatId": 222,
	})

	messenger := newFakeMessenger()
	d := NewReportDrainer(s, messenger, nil)

	stats, err := d.Drain(ctx, reportTime)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Sent)
	require.Len(t, messenger.documents, 1)
	assert.Equal(t, int64(222), messenger.documents[0].ChatID)

	// The stale entry stays queued untouched.
	raw, err := s.ReadSubtree(ctx, store.Join(StudyReportsPath, "u1", "2026-08-20"))
	require.NoError(t, err)
	assert.NotNil(t, raw)
}

func TestDrain_CleansUndeliverableEntries(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	today := timeutil.DateKey(reportTime)

	// Missing payload.
	seedReport(t, s, "u1", today, map[string]any{
		"reportDate":     today,
		"telegramChatId": 111,
	})
	// Missing chat.
	seedReport(t, s, "u2", today, map[string]any{
		"reportDate": today,
		"pdfBase64":  pdfBase64("no-chat"),
	})
	// Corrupt base64.
	seedReport(t, s, "u3", today, map[string]any{
		"reportDate":     today,
		"pdfBase64":      "!!!not-base64!!!",
		"telegramChatId": 333,
	})

	messenger := newFakeMessenger()
	d := NewReportDrainer(s, messenger, nil)

	stats, err := d.Drain(ctx, reportTime)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Sent)
	assert.Equal(t, 3, stats.Cleaned)
	assert.Empty(t, messenger.documents)

	for _, uid := range []string{"u1", "u2", "u3"} {
		raw, err := s.ReadSubtree(ctx, store.Join(StudyReportsPath, uid, today))
		require.NoError(t, err)
		assert.Nil(t, raw, uid)
	}
}

func TestDrain_FailedSendStaysQueued(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	today := timeutil.DateKey(reportTime)

	seedReport(t, s, "u1", today, map[string]any{
		"reportDate":     today,
		"pdfBase64":      pdfBase64("retry-me"),
		"telegramChatId": 111,
	})

	messenger := newFakeMessenger()
	messenger.failChats[111] = errors.New("telegram: 500")
	d := NewReportDrainer(s, messenger, nil)

	stats, err := d.Drain(ctx, reportTime)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 0, stats.Sent)

	raw, err := s.ReadSubtree(ctx, store.Join(StudyReportsPath, "u1", today))
	require.NoError(t, err)
	assert.NotNil(t, raw)

	// Telegram recovers: the entry drains on the next pass.
	delete(messenger.failChats, 111)
	stats, err = d.Drain(ctx, reportTime.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Sent)

	raw, err = s.ReadSubtree(ctx, store.Join(StudyReportsPath, "u1", today))
	require.NoError(t, err)
	assert.Nil(t, raw)
}

func TestDrain_EmptyQueue(t *testing.T) {
	d := NewReportDrainer(store.NewMemoryStore(), newFakeMessenger(), nil)
	stats, err := d.Drain(context.Background(), reportTime)
	require.NoError(t, err)
	assert.Equal(t, ReportStats{}, stats)
}

func TestPipeline_ReportDrainOnlyInWindow(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	today := timeutil.DateKey(reportTime)

	seedReport(t, s, "u1", today, map[string]any{
		"reportDate":     today,
		"pdfBase64":      pdfBase64("windowed"),
		"telegramChatId": 111,
	})

	messenger := newFakeMessenger()

	// Afternoon pass: the queue stays untouched.
	afternoon := NewPipeline(PipelineOptions{
		Store:     s,
		Messenger: messenger,
		Now:       func() time.Time { return timeutil.DateTime(2026, 8, 26, 15, 0, 0) },
	})
	require.NoError(t, afternoon.Run(ctx))
	assert.Empty(t, messenger.documents)

	// Nightly pass: the queue drains.
	nightly := NewPipeline(PipelineOptions{
		Store:     s,
		Messenger: messenger,
		Now:       func() time.Time { return reportTime },
	})
	require.NoError(t, nightly.Run(ctx))
	assert.Len(t, messenger.documents, 1)
}

func TestPipeline_KillSwitches(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	today := timeutil.DateKey(reportTime)

	seedGroup(t, s, "g1", mathGroup(timeutil.ClockString(reportTime)))
	seedReport(t, s, "u1", today, map[string]any{
		"reportDate":     today,
		"pdfBase64":      pdfBase64("suppressed"),
		"telegramChatId": 111,
	})

	messenger := newFakeMessenger()
	p := NewPipeline(PipelineOptions{
		Store:            s,
		Messenger:        messenger,
		Now:              func() time.Time { return reportTime },
		DisableReminders: true,
		DisableReports:   true,
	})

	require.NoError(t, p.Run(ctx))
	assert.Empty(t, messenger.texts)
	assert.Empty(t, messenger.documents)
}
