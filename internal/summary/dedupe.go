package summary

import "strings"

// Dedupe removes blank lines and case-insensitive duplicates, keeping the
// first occurrence (trimmed) in its original position.
func Dedupe(lines []string) []string {
	seen := make(map[string]struct{}, len(lines))
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		key := strings.ToLower(trimmed)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}
