package inject

import (
	"strings"
	"unicode"

	"github.com/szaher/chatmemory/internal/session"
	"github.com/szaher/chatmemory/internal/summary"
)

// Content is the merged material a block is rendered from.
type Content struct {
	Topic string
	summary.Structured
	Sources Sources
}

// Sources records which sessions a block was built from and when.
type Sources struct {
	SessionIDs []string
	UpdatedAt  string // YYYY-MM-DD
}

const (
	blockHeader = "[MEMORY INJECTION]"
	blockFooter = "[/MEMORY INJECTION]"
	emptyItem   = "- (none)"
)

// Format renders c as an injection block. Sections appear in a fixed order
// and are truncated to the caps of style; detailed adds the constraints and
// open-questions sections.
func Format(c Content, style session.Style) string {
	caps := summary.Limits(style)
	lines := []string{blockHeader, "Topic: " + singleLine(c.Topic), ""}

	section := func(label string, items []string, limit int) {
		lines = append(lines, label)
		if len(items) > limit {
			items = items[:limit]
		}
		if len(items) == 0 {
			lines = append(lines, emptyItem)
		}
		for _, item := range items {
			lines = append(lines, "- "+item)
		}
		lines = append(lines, "")
	}

	section("Facts:", c.Facts, caps.Facts)
	section("Decisions:", c.Decisions, caps.Decisions)
	if style == session.StyleDetailed {
		section("Constraints & Risks:", c.ConstraintsRisks, caps.ConstraintsRisks)
		section("Open Questions:", c.OpenQuestions, caps.OpenQuestions)
	}
	section("Next Actions:", c.NextActions, caps.NextActions)

	lines = append(lines, "Sources:")
	switch ids := c.Sources.SessionIDs; {
	case len(ids) == 1:
		lines = append(lines, "- session_id: "+ids[0])
	case len(ids) > 1:
		lines = append(lines, "- sessions_used: ["+strings.Join(ids, ", ")+"]")
	}
	lines = append(lines, "- updated_at: "+c.Sources.UpdatedAt, "", blockFooter)

	return strings.Join(lines, "\n")
}

// singleLine replaces control characters with spaces so a topic taken from a
// session title or query cannot add lines to the block.
func singleLine(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, s)
}
