// Package testutil provides shared test helpers to reduce boilerplate across unit tests.
package testutil

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/szaher/chatmemory/internal/session"
)

// MustMarshalJSON marshals v to JSON, failing the test if marshaling fails.
func MustMarshalJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// AssertErrorContains asserts that err is non-nil and its message contains substr.
func AssertErrorContains(t *testing.T, err error, substr string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error containing %q, got nil", substr)
	}
	if !strings.Contains(err.Error(), substr) {
		t.Fatalf("expected error containing %q, got %q", substr, err.Error())
	}
}

// SeedSession creates a session titled title holding contents as
// alternating user and assistant messages, and returns it reloaded.
func SeedSession(t *testing.T, store session.Store, title string, contents ...string) *session.Session {
	t.Helper()
	ctx := context.Background()

	sess, err := store.CreateSession(ctx, session.NewSession{Title: title})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if len(contents) > 0 {
		msgs := make([]session.NewMessage, len(contents))
		for i, c := range contents {
			role := session.RoleUser
			if i%2 == 1 {
				role = session.RoleAssistant
			}
			msgs[i] = session.NewMessage{Role: role, Content: c}
		}
		if _, err := store.SaveMessages(ctx, sess.ID, msgs); err != nil {
			t.Fatalf("SaveMessages: %v", err)
		}
	}

	got, err := store.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	return got
}
