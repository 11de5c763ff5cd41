// Package schedule models the study-group subtree the notification pipeline
// scans: groups hold plans, plans hold enrolled members and an embedded JSON
// document with the session timetable.
package schedule

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrBadSession is returned when a session entry has an unsupported shape.
var ErrBadSession = errors.New("schedule: unparsable session entry")

// Group is one study group under studyGroups/<groupID>.
type Group struct {
	Metadata GroupMetadata     `json:"metadata"`
	Plans    map[string]Plan   `json:"plans"`
	Members  map[string]Member `json:"members"`
}

// Name returns the display name of the group.
func (g *Group) Name() string {
	if g.Metadata.Name == "" {
		return "Study Group"
	}
	return g.Metadata.Name
}

// GroupMetadata holds the group display fields.
type GroupMetadata struct {
	Name string `json:"name"`
}

// Plan is one study plan inside a group. The session timetable is embedded
// as a JSON string in FileData (the mobile app stores the uploaded plan file
// verbatim).
type Plan struct {
	Name            string   `json:"name"`
	EnrolledMembers []string `json:"enrolled_members"`
	FileData        string   `json:"file_data"`
}

// DisplayName returns the plan name with a fallback.
func (p *Plan) DisplayName() string {
	if p.Name == "" {
		return "Study Plan"
	}
	return p.Name
}

// Sessions decodes the embedded timetable. A missing or malformed document
// yields no sessions rather than an error: one broken plan must not fail the
// whole notification batch.
func (p *Plan) Sessions() []Session {
	if strings.TrimSpace(p.FileData) == "" {
		return nil
	}

	var doc struct {
		Sessions []Session `json:"sessions"`
	}
	if err := json.Unmarshal([]byte(p.FileData), &doc); err != nil {
		return nil
	}
	return doc.Sessions
}

// Member is one group member under studyGroups/<groupID>/members/<memberID>.
type Member struct {
	TelegramChatID ChatID `json:"telegram_chat_id"`
}

// ChatID is a Telegram chat handle. The app has written it both as a JSON
// number and as a string over time, so decoding accepts either.
type ChatID int64

// UnmarshalJSON implements tolerant decoding for ChatID.
func (c *ChatID) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` {
		*c = 0
		return nil
	}
	s = strings.Trim(s, `"`)

	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("schedule: invalid chat id %s: %w", string(data), err)
	}
	*c = ChatID(id)
	return nil
}

// IsSet reports whether the member registered a chat handle.
func (c ChatID) IsSet() bool {
	return c != 0
}

// Session is a single timetable entry. Two encodings are accepted:
// a ["name", "HH:MM"] pair, or a {"name": ..., "start_time": ...} object.
type Session struct {
	Name      string
	StartTime string

	// valid marks entries that decoded into a usable shape.
	valid bool
}

// UnmarshalJSON decodes either session encoding. Entries in neither shape
// are kept but flagged invalid so the caller can skip them.
func (s *Session) UnmarshalJSON(data []byte) error {
	// Pair form: ["name", "HH:MM"].
	var pair []string
	if err := json.Unmarshal(data, &pair); err == nil {
		if len(pair) >= 2 {
			s.Name = pair[0]
			s.StartTime = pair[1]
			s.valid = true
		}
		return nil
	}

	// Object form: {"name": ..., "start_time": ...}.
	var obj struct {
		Name      string `json:"name"`
		StartTime string `json:"start_time"`
	}
	if err := json.Unmarshal(data, &obj); err == nil {
		s.Name = obj.Name
		if s.Name == "" {
			s.Name = "Session"
		}
		s.StartTime = obj.StartTime
		s.valid = true
		return nil
	}

	// Unknown shape: keep the zero session, flagged invalid.
	return nil
}

// IsValid reports whether the entry decoded into a usable shape with a
// start time present.
func (s Session) IsValid() bool {
	return s.valid && s.StartTime != ""
}
