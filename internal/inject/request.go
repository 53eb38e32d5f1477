// Package inject builds memory injection blocks from one session or from
// every session matching a keyword query.
package inject

import (
	"errors"
	"fmt"
	"strings"

	"github.com/szaher/chatmemory/internal/session"
)

var (
	// ErrInvalidRequest is returned when a request selects neither or both modes,
	// or carries out-of-range options.
	ErrInvalidRequest = errors.New("invalid injection request")

	// ErrNoResults is returned when a query matches no messages.
	ErrNoResults = errors.New("no results found")

	// ErrNotFound is returned when the requested session does not exist.
	ErrNotFound = session.ErrNotFound
)

const (
	DefaultTopK = 5
	MaxTopK     = 10

	// QueryLookbackDays is the search window used in query mode.
	QueryLookbackDays = 180
)

// Method names how the contributing sessions were selected.
type Method string

const (
	MethodSession Method = "session"
	MethodQuery   Method = "query"
)

// Request selects sessions for an injection block. Exactly one of SessionID
// and Query must be set.
type Request struct {
	SessionID string        `json:"session_id,omitempty"`
	Query     string        `json:"query,omitempty"`
	Style     session.Style `json:"style,omitempty"`
	TopK      int           `json:"top_k,omitempty"`
}

// Validate checks mode selection and option ranges.
func (r Request) Validate() error {
	hasSession := strings.TrimSpace(r.SessionID) != ""
	hasQuery := strings.TrimSpace(r.Query) != ""
	switch {
	case !hasSession && !hasQuery:
		return fmt.Errorf("%w: either session_id or query must be provided", ErrInvalidRequest)
	case hasSession && hasQuery:
		return fmt.Errorf("%w: session_id and query are mutually exclusive", ErrInvalidRequest)
	}
	if _, err := session.ParseStyle(string(r.Style)); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if r.TopK < 0 || r.TopK > MaxTopK {
		return fmt.Errorf("%w: top_k must be between 1 and %d", ErrInvalidRequest, MaxTopK)
	}
	return nil
}

// Method reports the selection mode of a valid request.
func (r Request) Method() Method {
	if strings.TrimSpace(r.SessionID) != "" {
		return MethodSession
	}
	return MethodQuery
}

func (r Request) withDefaults() Request {
	r.SessionID = strings.TrimSpace(r.SessionID)
	r.Query = strings.TrimSpace(r.Query)
	if r.Style == "" {
		r.Style = session.StyleBrief
	}
	if r.TopK == 0 {
		r.TopK = DefaultTopK
	}
	return r
}
