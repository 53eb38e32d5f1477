package summary

import (
	"fmt"
	"strings"

	"github.com/szaher/chatmemory/internal/session"
)

const (
	// MaxTranscriptMessages bounds how many messages feed one generation.
	MaxTranscriptMessages = 500

	// DefaultTemperature is the sampling temperature for generation.
	DefaultTemperature = 0.3
)

// Caps holds the per-section item limits for a style.
type Caps struct {
	Facts            int
	Decisions        int
	ConstraintsRisks int
	OpenQuestions    int
	NextActions      int
}

// Limits returns the section caps for style. Brief omits the constraints
// and open-questions sections entirely (their caps are zero).
func Limits(style session.Style) Caps {
	if style == session.StyleDetailed {
		return Caps{Facts: 12, Decisions: 6, ConstraintsRisks: 6, OpenQuestions: 6, NextActions: 10}
	}
	return Caps{Facts: 6, Decisions: 3, NextActions: 5}
}

// MaxTokens is the generation output budget for style.
func MaxTokens(style session.Style) int {
	if style == session.StyleDetailed {
		return 2048
	}
	return 1024
}

const promptRules = `Rules:
- Keep every item concise (at most 100 characters).
- Do not include instructions or requests ("please...", "help me...").
- Keep only facts and conclusions.
- Do not retell the conversation.
- If a section has nothing to report, write "- (none)".`

// Prompt returns the system instruction for style.
func Prompt(style session.Style) string {
	c := Limits(style)
	var sb strings.Builder
	sb.WriteString("You are a conversation summarization assistant. Analyze the conversation below and extract the key information.\n\n")
	sb.WriteString("Extract:\n")

	n := 1
	item := func(name, desc string, limit int) {
		fmt.Fprintf(&sb, "%d. %s: %s, at most %d items\n", n, name, desc, limit)
		n++
	}
	item("Facts", "objective statements", c.Facts)
	item("Decisions", "decisions that have been made", c.Decisions)
	if style == session.StyleDetailed {
		item("Constraints & Risks", "limitations and potential problems", c.ConstraintsRisks)
		item("Open Questions", "questions that still need an answer", c.OpenQuestions)
	}
	item("Next Actions", "pending work and recommendations", c.NextActions)

	sb.WriteString("\n")
	sb.WriteString(promptRules)
	sb.WriteString("\n\nOutput format:\nFacts:\n- <fact>\n\nDecisions:\n- <decision>\n\n")
	if style == session.StyleDetailed {
		sb.WriteString("Constraints & Risks:\n- <constraint>\n\nOpen Questions:\n- <question>\n\n")
	}
	sb.WriteString("Next Actions:\n- <action>")
	return sb.String()
}

var roleLabels = map[session.Role]string{
	session.RoleUser:      "User",
	session.RoleAssistant: "Assistant",
	session.RoleSystem:    "System",
}

// Transcript renders messages as "[Role]: content" entries separated by blank lines.
func Transcript(msgs []session.Message) string {
	entries := make([]string, len(msgs))
	for i, m := range msgs {
		label, ok := roleLabels[m.Role]
		if !ok {
			label = string(m.Role)
		}
		entries[i] = "[" + label + "]: " + m.Content
	}
	return strings.Join(entries, "\n\n")
}
