// Package session defines the conversation memory data model and its storage backends.
package session

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a session identity does not resolve.
var ErrNotFound = errors.New("session not found")

// Store persists sessions and messages and searches message content.
type Store interface {
	// CreateSession creates a new session and returns it.
	CreateSession(ctx context.Context, in NewSession) (*Session, error)

	// GetSession retrieves a session by ID. Returns ErrNotFound if absent.
	GetSession(ctx context.Context, id string) (*Session, error)

	// ListSessions returns sessions ordered by last update, newest first,
	// together with the total number of sessions matching the filter.
	ListSessions(ctx context.Context, opts ListOptions) ([]*Session, int, error)

	// SaveMessages appends messages to a session and bumps its updated_at.
	SaveMessages(ctx context.Context, sessionID string, msgs []NewMessage) ([]Message, error)

	// ListMessages returns a session's messages oldest-first.
	ListMessages(ctx context.Context, sessionID string, limit, offset int) ([]Message, error)

	// CountMessages returns the number of messages stored for a session.
	CountMessages(ctx context.Context, sessionID string) (int, error)

	// WriteSummary stores a generated summary in the session's cache slot for style.
	WriteSummary(ctx context.Context, sessionID string, style Style, text string) error

	// Search returns message hits ranked best-first.
	Search(ctx context.Context, opts SearchOptions) ([]SearchHit, error)

	// Close releases backend resources.
	Close() error
}

// ListOptions filters and paginates ListSessions.
type ListOptions struct {
	Limit  int
	Offset int
	Tags   []string
}

// SearchOptions configures a message search.
type SearchOptions struct {
	Query         string
	TopK          int
	TimeRangeDays int
	Tags          []string
	SessionID     string
}

const (
	DefaultTopK          = 5
	DefaultTimeRangeDays = 180
	DefaultListLimit     = 20
)

func (o SearchOptions) withDefaults() SearchOptions {
	if o.TopK <= 0 {
		o.TopK = DefaultTopK
	}
	if o.TimeRangeDays <= 0 {
		o.TimeRangeDays = DefaultTimeRangeDays
	}
	return o
}

// since returns the earliest creation time a hit may have.
func (o SearchOptions) since(now time.Time) time.Time {
	return now.Add(-time.Duration(o.TimeRangeDays) * 24 * time.Hour)
}

func (o ListOptions) withDefaults() ListOptions {
	if o.Limit <= 0 {
		o.Limit = DefaultListLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}

// Option configures a Store backend.
type Option func(*storeOptions)

type storeOptions struct {
	now func() time.Time
}

// WithClock overrides the time source used for timestamps and search windows.
func WithClock(now func() time.Time) Option {
	return func(o *storeOptions) { o.now = now }
}

func applyOptions(opts []Option) storeOptions {
	o := storeOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
