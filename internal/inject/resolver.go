package inject

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/szaher/chatmemory/internal/session"
	"github.com/szaher/chatmemory/internal/telemetry"
)

// SessionSource is the slice of session.Store the resolver needs.
type SessionSource interface {
	GetSession(ctx context.Context, id string) (*session.Session, error)
	Search(ctx context.Context, opts session.SearchOptions) ([]session.SearchHit, error)
}

// Resolver turns a request into the ordered list of contributing sessions.
type Resolver struct {
	sessions SessionSource
	logger   *slog.Logger
}

// NewResolver creates a Resolver. A nil logger discards output.
func NewResolver(sessions SessionSource, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = telemetry.DiscardLogger()
	}
	return &Resolver{sessions: sessions, logger: logger}
}

// Resolve returns the sessions for req and the block topic. The request
// must already be valid.
func (r *Resolver) Resolve(ctx context.Context, req Request) ([]*session.Session, string, error) {
	req = req.withDefaults()

	if req.Method() == MethodSession {
		sess, err := r.sessions.GetSession(ctx, req.SessionID)
		if err != nil {
			return nil, "", err
		}
		return []*session.Session{sess}, sess.Title, nil
	}

	hits, err := r.sessions.Search(ctx, session.SearchOptions{
		Query:         req.Query,
		TopK:          req.TopK,
		TimeRangeDays: QueryLookbackDays,
	})
	if err != nil {
		return nil, "", fmt.Errorf("search %q: %w", req.Query, err)
	}
	if len(hits) == 0 {
		return nil, "", fmt.Errorf("%w for query: %s", ErrNoResults, req.Query)
	}

	seen := make(map[string]struct{}, len(hits))
	sessions := make([]*session.Session, 0, len(hits))
	for _, hit := range hits {
		if _, dup := seen[hit.SessionID]; dup {
			continue
		}
		seen[hit.SessionID] = struct{}{}

		sess, err := r.sessions.GetSession(ctx, hit.SessionID)
		if err != nil {
			r.logger.Debug("dropping unresolvable search hit", "session_id", hit.SessionID, "error", err)
			continue
		}
		sessions = append(sessions, sess)
	}

	topic := fmt.Sprintf("%s (across %d sessions)", req.Query, len(sessions))
	return sessions, topic, nil
}
