package session

import "testing"

func TestMatchQuery(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "empty", input: "   ", want: ""},
		{name: "single term", input: "reload", want: `"reload"`},
		{name: "multiple terms are ANDed", input: "config  reload", want: `"config" AND "reload"`},
		{name: "phrase", input: `"config reload"`, want: `"config reload"`},
		{name: "boolean passthrough", input: "config OR reload", want: "config OR reload"},
		{name: "near passthrough", input: `NEAR("a" "b", 5)`, want: `NEAR("a" "b", 5)`},
		{name: "punctuation is quoted", input: "v1.2 foo-bar", want: `"v1.2" AND "foo-bar"`},
		{name: "embedded quote escaped", input: `say"hi`, want: `"say""hi"`},
		{name: "lowercase operator words are terms", input: "this and that", want: `"this" AND "and" AND "that"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MatchQuery(tt.input); got != tt.want {
				t.Errorf("MatchQuery(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
