package schedule

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlan_SessionsPairForm(t *testing.T) {
	plan := Plan{
		Name:     "Algebra Sprint",
		FileData: `{"sessions": [["Morning Review", "08:30"], ["Evening Drill", "19:00"]]}`,
	}

	sessions := plan.Sessions()
	assert.Len(t, sessions, 2)
	assert.Equal(t, "Morning Review", sessions[0].Name)
	assert.Equal(t, "08:30", sessions[0].StartTime)
	assert.True(t, sessions[0].IsValid())
}

func TestPlan_SessionsObjectForm(t *testing.T) {
	plan := Plan{
		FileData: `{"sessions": [{"name": "Deep Work", "start_time": "21:15"}, {"start_time": "22:00"}]}`,
	}

	sessions := plan.Sessions()
	assert.Len(t, sessions, 2)
	assert.Equal(t, "Deep Work", sessions[0].Name)
	assert.True(t, sessions[0].IsValid())

	// Missing name falls back but the entry stays usable.
	assert.Equal(t, "Session", sessions[1].Name)
	assert.True(t, sessions[1].IsValid())
}

func TestPlan_SessionsMalformedEntriesAreInvalid(t *testing.T) {
	plan := Plan{
		FileData: `{"sessions": [42, ["OnlyName"], {"name": "NoTime"}, ["Ok", "10:00"]]}`,
	}

	sessions := plan.Sessions()
	assert.Len(t, sessions, 4)
	assert.False(t, sessions[0].IsValid())
	assert.False(t, sessions[1].IsValid())
	assert.False(t, sessions[2].IsValid())
	assert.True(t, sessions[3].IsValid())
}

func TestPlan_SessionsBrokenDocument(t *testing.T) {
	assert.Nil(t, (&Plan{FileData: "not json"}).Sessions())
	assert.Nil(t, (&Plan{FileData: "   "}).Sessions())
	assert.Nil(t, (&Plan{}).Sessions())
}

func TestChatID_TolerantDecoding(t *testing.T) {
	var member Member

	err := json.Unmarshal([]byte(`{"telegram_chat_id": 123456789}`), &member)
	assert.NoError(t, err)
	assert.Equal(t, ChatID(123456789), member.TelegramChatID)
	assert.True(t, member.TelegramChatID.IsSet())

	err = json.Unmarshal([]byte(`{"telegram_chat_id": "987654321"}`), &member)
	assert.NoError(t, err)
	assert.Equal(t, ChatID(987654321), member.TelegramChatID)

	err = json.Unmarshal([]byte(`{"telegram_chat_id": null}`), &member)
	assert.NoError(t, err)
	assert.False(t, member.TelegramChatID.IsSet())

	err = json.Unmarshal([]byte(`{"telegram_chat_id": ""}`), &member)
	assert.NoError(t, err)
	assert.False(t, member.TelegramChatID.IsSet())

	err = json.Unmarshal([]byte(`{"telegram_chat_id": "not-a-number"}`), &member)
	assert.Error(t, err)
}

func TestGroupAndPlanNameFallbacks(t *testing.T) {
	g := Group{}
	assert.Equal(t, "Study Group", g.Name())
	g.Metadata.Name = "Physics Club"
	assert.Equal(t, "Physics Club", g.Name())

	p := Plan{}
	assert.Equal(t, "Study Plan", p.DisplayName())
	p.Name = "Week 3"
	assert.Equal(t, "Week 3", p.DisplayName())
}
