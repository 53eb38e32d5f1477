package session

import (
	"fmt"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Style selects a summary flavour and, downstream, the injection block layout.
type Style string

const (
	StyleBrief    Style = "brief"
	StyleDetailed Style = "detailed"
)

// ParseStyle converts s to a Style. An empty string yields StyleBrief.
func ParseStyle(s string) (Style, error) {
	switch Style(s) {
	case "", StyleBrief:
		return StyleBrief, nil
	case StyleDetailed:
		return StyleDetailed, nil
	}
	return "", fmt.Errorf("invalid style %q (must be brief or detailed)", s)
}

// Session is a logical conversation thread owning an ordered set of messages.
type Session struct {
	ID              string         `json:"id" yaml:"id"`
	Title           string         `json:"title" yaml:"title"`
	Tags            []string       `json:"tags" yaml:"tags"`
	Meta            map[string]any `json:"meta" yaml:"meta"`
	CreatedAt       time.Time      `json:"created_at" yaml:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at" yaml:"updated_at"`
	SummaryBrief    string         `json:"summary_brief,omitempty" yaml:"summary_brief,omitempty"`
	SummaryDetailed string         `json:"summary_detailed,omitempty" yaml:"summary_detailed,omitempty"`
}

// CachedSummary returns the stored summary for style, or "" on a cache miss.
func (s *Session) CachedSummary(style Style) string {
	if style == StyleDetailed {
		return s.SummaryDetailed
	}
	return s.SummaryBrief
}

func (s *Session) setSummary(style Style, text string) {
	if style == StyleDetailed {
		s.SummaryDetailed = text
	} else {
		s.SummaryBrief = text
	}
}

func (s *Session) normalize() {
	if s.Tags == nil {
		s.Tags = []string{}
	}
	if s.Meta == nil {
		s.Meta = map[string]any{}
	}
}

// Message is a single immutable entry in a session.
type Message struct {
	ID        string    `json:"id" yaml:"id"`
	SessionID string    `json:"session_id" yaml:"session_id"`
	Role      Role      `json:"role" yaml:"role"`
	Content   string    `json:"content" yaml:"content"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// NewSession holds the caller-supplied fields of a session to create.
type NewSession struct {
	Title string
	Tags  []string
	Meta  map[string]any
}

// NewMessage holds the caller-supplied fields of a message to append.
// A zero CreatedAt means "now".
type NewMessage struct {
	Role      Role
	Content   string
	CreatedAt time.Time
}

// SearchHit is one ranked match returned by Store.Search.
type SearchHit struct {
	MessageID    string    `json:"message_id"`
	SessionID    string    `json:"session_id"`
	SessionTitle string    `json:"session_title"`
	Content      string    `json:"content"`
	Snippet      string    `json:"snippet"`
	Score        float64   `json:"relevance_score"`
	CreatedAt    time.Time `json:"created_at"`
}
