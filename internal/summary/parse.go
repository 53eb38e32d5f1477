// Package summary parses, generates and caches per-session structured summaries.
package summary

import "strings"

// Structured is a summary split into its five sections. Every slice is
// non-nil so callers can range and append without checks.
type Structured struct {
	Facts            []string `json:"facts"`
	Decisions        []string `json:"decisions"`
	ConstraintsRisks []string `json:"constraints_risks"`
	OpenQuestions    []string `json:"open_questions"`
	NextActions      []string `json:"next_actions"`
}

// NewStructured returns a Structured with empty sections.
func NewStructured() Structured {
	return Structured{
		Facts:            []string{},
		Decisions:        []string{},
		ConstraintsRisks: []string{},
		OpenQuestions:    []string{},
		NextActions:      []string{},
	}
}

// Append adds other's entries to the end of each matching section.
func (s *Structured) Append(other Structured) {
	s.Facts = append(s.Facts, other.Facts...)
	s.Decisions = append(s.Decisions, other.Decisions...)
	s.ConstraintsRisks = append(s.ConstraintsRisks, other.ConstraintsRisks...)
	s.OpenQuestions = append(s.OpenQuestions, other.OpenQuestions...)
	s.NextActions = append(s.NextActions, other.NextActions...)
}

// Deduped returns a copy with Dedupe applied to every section.
func (s Structured) Deduped() Structured {
	return Structured{
		Facts:            Dedupe(s.Facts),
		Decisions:        Dedupe(s.Decisions),
		ConstraintsRisks: Dedupe(s.ConstraintsRisks),
		OpenQuestions:    Dedupe(s.OpenQuestions),
		NextActions:      Dedupe(s.NextActions),
	}
}

type section int

const (
	sectionNone section = iota
	sectionFacts
	sectionDecisions
	sectionConstraints
	sectionQuestions
	sectionActions
)

// labels maps heading prefixes to sections. English prefixes are matched
// case-insensitively.
var labels = []struct {
	prefix  string
	section section
}{
	{"关键事实", sectionFacts},
	{"facts", sectionFacts},
	{"关键决策", sectionDecisions},
	{"decisions", sectionDecisions},
	{"约束", sectionConstraints},
	{"风险", sectionConstraints},
	{"constraints", sectionConstraints},
	{"risks", sectionConstraints},
	{"未解决", sectionQuestions},
	{"open questions", sectionQuestions},
	{"下一步", sectionActions},
	{"next actions", sectionActions},
}

// isMetadataHeading reports whether heading ends the current section. It
// matches only a whole heading, so prose such as "Sources were reviewed" is
// dropped like any other line that is not a bullet.
func isMetadataHeading(heading string) bool {
	switch strings.TrimSpace(strings.TrimRight(heading, ":：")) {
	case "sources", "来源", "来源 sources", "topic", "主题", "主题 topic":
		return true
	}
	return false
}

// Parse splits free-form summary text into sections. It never fails:
// unrecognized lines are dropped.
func Parse(text string) Structured {
	out := NewStructured()
	current := sectionNone

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		if sec, ok := headingSection(trimmed); ok {
			current = sec
			continue
		}

		if !strings.HasPrefix(trimmed, "-") && !strings.HasPrefix(trimmed, "•") {
			continue
		}
		item := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(trimmed, "-"), "•"))
		if item == "" || isPlaceholder(item) {
			continue
		}

		switch current {
		case sectionFacts:
			out.Facts = append(out.Facts, item)
		case sectionDecisions:
			out.Decisions = append(out.Decisions, item)
		case sectionConstraints:
			out.ConstraintsRisks = append(out.ConstraintsRisks, item)
		case sectionQuestions:
			out.OpenQuestions = append(out.OpenQuestions, item)
		case sectionActions:
			out.NextActions = append(out.NextActions, item)
		}
	}
	return out
}

func headingSection(line string) (section, bool) {
	heading := strings.TrimSpace(strings.TrimLeft(line, "#"))
	if strings.HasPrefix(heading, "*") {
		if rest := strings.TrimPrefix(heading, "*"); rest == "" || rest[0] == ' ' || rest[0] == '\t' {
			// "* item" is a markdown bullet, not emphasis.
			return sectionNone, false
		}
		heading = strings.TrimSpace(strings.Trim(heading, "*"))
	}
	lower := strings.ToLower(heading)

	if isMetadataHeading(lower) {
		return sectionNone, true
	}
	for _, l := range labels {
		if strings.HasPrefix(lower, l.prefix) {
			return l.section, true
		}
	}
	return sectionNone, false
}

func isPlaceholder(item string) bool {
	switch strings.ToLower(item) {
	case "none", "(none)", "无", "(无)", "（无）":
		return true
	}
	return false
}
