package user

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify_Precedence(t *testing.T) {
	tests := []struct {
		name     string
		record   Record
		expected Category
	}{
		{"real user", Record{UserType: "real"}, CategoryReal},
		{"real wins over inactive flag", Record{UserType: "real", IsFakeInactive: true}, CategoryReal},
		{"fake inactive", Record{IsFakeInactive: true}, CategoryFakeInactive},
		{"fake active by default", Record{}, CategoryFakeActive},
		{"unknown user type is synthetic", Record{UserType: "bot"}, CategoryFakeActive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Classify(&tt.record))
			assert.Equal(t, tt.expected, tt.record.Category())
		})
	}
}

func TestRecord_Decoding(t *testing.T) {
	jsonData := `{
		"name": "Aruzhan",
		"avatarId": "7",
		"userType": "real",
		"online": true,
		"status": "Online",
		"lastUpdate": "2026-08-24T10:15:00Z",
		"history": {"2026-08-23": 7200, "2026-08-24": 3600},
		"todayHours": 1.0,
		"weekHours": 3.0,
		"score": 300
	}`

	var rec Record
	err := json.Unmarshal([]byte(jsonData), &rec)
	assert.NoError(t, err)

	assert.Equal(t, "Aruzhan", rec.Name)
	assert.Equal(t, CategoryReal, rec.Category())
	assert.True(t, rec.Online)
	assert.Equal(t, int64(3600), rec.TodaySeconds("2026-08-24"))
	assert.Equal(t, int64(0), rec.TodaySeconds("2026-08-25"))
	assert.False(t, rec.LastUpdateAt().IsZero())
}

func TestRecord_WeekSeconds(t *testing.T) {
	rec := Record{History: map[string]int64{
		"2026-08-18": 100,
		"2026-08-19": 200,
		"2026-08-20": 300,
		"2026-08-21": 400,
		"2026-08-22": 500,
		"2026-08-23": 600,
		"2026-08-24": 700,
	}}
	assert.Equal(t, int64(2800), rec.WeekSeconds())

	// An eighth, older day falls out of the rolling window.
	rec.History["2026-08-17"] = 9999
	assert.Equal(t, int64(2800), rec.WeekSeconds())
}

func TestRecord_WeekSecondsEmpty(t *testing.T) {
	rec := Record{}
	assert.Equal(t, int64(0), rec.WeekSeconds())
}

func TestRecord_MalformedTimestampIsNever(t *testing.T) {
	rec := Record{LastUpdate: "yesterday-ish", LastOnlineTime: ""}
	assert.True(t, rec.LastUpdateAt().IsZero())
	assert.True(t, rec.LastOnlineAt().IsZero())
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, StatusOnline, StatusFor(true))
	assert.Equal(t, StatusOffline, StatusFor(false))
}
