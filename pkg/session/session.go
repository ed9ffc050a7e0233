// Package session persists each user's profile, last visit and dated
// conversation transcript as one JSON document per user.
package session

import (
	"fmt"
	"strings"
	"time"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	// DefaultName is the placeholder stored until the user says what to be
	// called.
	DefaultName = "사용자"
)

// Profile is what the companion knows about the user.
type Profile struct {
	Name     string `json:"name"`
	Age      string `json:"age"`
	Mobility string `json:"mobility"`
	Family   string `json:"family"`
	Emotion  string `json:"emotion,omitempty"`
}

func DefaultProfile() Profile {
	return Profile{
		Name:   DefaultName,
		Age:    "미상",
		Family: "정보 없음",
	}
}

// HasName reports whether the user has told us what to call them.
func (p Profile) HasName() bool {
	n := strings.TrimSpace(p.Name)
	return n != "" && n != DefaultName
}

// Complete reports whether onboarding has collected the name, the
// emotional state and the mobility.
func (p Profile) Complete() bool {
	return p.HasName() && strings.TrimSpace(p.Emotion) != "" && strings.TrimSpace(p.Mobility) != ""
}

// Title is the honorific used to address the user.
func (p Profile) Title() string {
	if p.HasName() {
		return strings.TrimSpace(p.Name) + "님"
	}
	return "회원님"
}

// Message is one transcript line. Timestamp is local time in RFC 3339 so
// its first ten bytes are the calendar date.
type Message struct {
	Timestamp string `json:"timestamp"`
	Role      string `json:"role"`
	Content   string `json:"content"`
}

// Session is the persisted document.
type Session struct {
	UserID    string     `json:"user_id"`
	LastVisit *time.Time `json:"last_visit"`
	Profile   Profile    `json:"user_profile"`
	History   []Message  `json:"conversation_history"`
}

func newSession(userID string) *Session {
	return &Session{
		UserID:  userID,
		Profile: DefaultProfile(),
		History: []Message{},
	}
}

// On returns the messages whose timestamp falls on date (YYYY-MM-DD).
func (s *Session) On(date string) []Message {
	var out []Message
	for _, m := range s.History {
		if strings.HasPrefix(m.Timestamp, date) {
			out = append(out, m)
		}
	}
	return out
}

// FormatTranscript renders messages as "[YYYY-MM-DD HH:MM] 나|AI: content".
func FormatTranscript(msgs []Message) string {
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ts := m.Timestamp
		if len(ts) > 16 {
			ts = ts[:16]
		}
		ts = strings.Replace(ts, "T", " ", 1)
		speaker := "AI"
		if m.Role == RoleUser {
			speaker = "나"
		}
		lines = append(lines, fmt.Sprintf("[%s] %s: %s", ts, speaker, m.Content))
	}
	return strings.Join(lines, "\n")
}

// Welcome greets the user according to how long they have been away.
func Welcome(p Profile, lastVisit *time.Time, now time.Time) string {
	title := p.Title()
	if lastVisit == nil || lastVisit.IsZero() {
		return fmt.Sprintf("안녕하세요, %s. 오늘은 좀 어떠신가요?", title)
	}
	days := int(now.Sub(*lastVisit).Hours() / 24)
	switch {
	case days <= 0:
		return "다시 오셨군요. 이야기를 계속 나눠볼까요?"
	case days == 1:
		return fmt.Sprintf("%s, 밤사이 편안하셨나요?", title)
	case days < 7:
		return fmt.Sprintf("%s, %d일 만이네요.", title, days)
	default:
		return fmt.Sprintf("%s, 오랜만에 오셨네요!", title)
	}
}
