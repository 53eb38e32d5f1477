package session

import (
	"regexp"
	"strings"
)

var booleanOperator = regexp.MustCompile(`\b(AND|OR|NOT|NEAR)\b`)

// MatchQuery turns free-text user input into an FTS5 MATCH expression.
//
//	`"exact phrase"`   -> `"exact phrase"`
//	`a OR b`           -> `a OR b` (explicit operators pass through)
//	`config reload`    -> `"config" AND "reload"`
//
// Bare terms are quoted so punctuation inside them is not read as FTS5 syntax.
func MatchQuery(q string) string {
	trimmed := strings.TrimSpace(q)
	if trimmed == "" {
		return ""
	}

	if len(trimmed) >= 2 && strings.HasPrefix(trimmed, `"`) && strings.HasSuffix(trimmed, `"`) {
		return quoteTerm(trimmed[1 : len(trimmed)-1])
	}

	if booleanOperator.MatchString(trimmed) {
		return trimmed
	}

	fields := strings.Fields(trimmed)
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = quoteTerm(f)
	}
	return strings.Join(quoted, " AND ")
}

func quoteTerm(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
