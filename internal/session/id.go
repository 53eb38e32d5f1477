package session

import (
	"strings"

	"github.com/oklog/ulid/v2"
)

// GenerateID returns prefix followed by a lowercase ULID.
// ULIDs sort by creation time, which keeps IDs roughly chronological.
func GenerateID(prefix string) string {
	return prefix + strings.ToLower(ulid.Make().String())
}

func newSessionID() string { return GenerateID("sess_") }

func newMessageID() string { return GenerateID("msg_") }
