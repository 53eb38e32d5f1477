package session

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store. Search is a case-insensitive term match.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	messages map[string][]Message
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		messages: make(map[string][]Message),
		now:      applyOptions(opts).now,
	}
}

func (s *MemoryStore) CreateSession(_ context.Context, in NewSession) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().Truncate(time.Second)
	sess := &Session{
		ID:        newSessionID(),
		Title:     in.Title,
		Tags:      slices.Clone(in.Tags),
		Meta:      maps.Clone(in.Meta),
		CreatedAt: now,
		UpdatedAt: now,
	}
	sess.normalize()
	s.sessions[sess.ID] = sess
	return cloneSession(sess), nil
}

func (s *MemoryStore) GetSession(_ context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return cloneSession(sess), nil
}

func (s *MemoryStore) ListSessions(_ context.Context, opts ListOptions) ([]*Session, int, error) {
	opts = opts.withDefaults()

	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*Session
	for _, sess := range s.sessions {
		if hasAllTags(sess.Tags, opts.Tags) {
			matched = append(matched, sess)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].UpdatedAt.Equal(matched[j].UpdatedAt) {
			return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	total := len(matched)
	if opts.Offset >= total {
		return []*Session{}, total, nil
	}
	end := min(opts.Offset+opts.Limit, total)
	out := make([]*Session, 0, end-opts.Offset)
	for _, sess := range matched[opts.Offset:end] {
		out = append(out, cloneSession(sess))
	}
	return out, total, nil
}

func (s *MemoryStore) SaveMessages(_ context.Context, sessionID string, msgs []NewMessage) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}

	now := s.now().Truncate(time.Second)
	saved := make([]Message, 0, len(msgs))
	for _, in := range msgs {
		created := in.CreatedAt
		if created.IsZero() {
			created = now
		}
		saved = append(saved, Message{
			ID:        newMessageID(),
			SessionID: sessionID,
			Role:      in.Role,
			Content:   in.Content,
			CreatedAt: created,
		})
	}
	s.messages[sessionID] = append(s.messages[sessionID], saved...)
	if len(saved) > 0 {
		sess.UpdatedAt = now
	}
	return saved, nil
}

func (s *MemoryStore) ListMessages(_ context.Context, sessionID string, limit, offset int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := slices.Clone(s.messages[sessionID])
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	if offset >= len(msgs) {
		return []Message{}, nil
	}
	msgs = msgs[max(offset, 0):]
	if limit > 0 && limit < len(msgs) {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

func (s *MemoryStore) CountMessages(_ context.Context, sessionID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages[sessionID]), nil
}

func (s *MemoryStore) WriteSummary(_ context.Context, sessionID string, style Style, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	sess.setSummary(style, text)
	return nil
}

func (s *MemoryStore) Search(_ context.Context, opts SearchOptions) ([]SearchHit, error) {
	opts = opts.withDefaults()
	terms := queryTerms(opts.Query)
	if len(terms) == 0 {
		return []SearchHit{}, nil
	}
	since := opts.since(s.now())

	s.mu.Lock()
	defer s.mu.Unlock()

	hits := []SearchHit{}
	for sessionID, msgs := range s.messages {
		if opts.SessionID != "" && sessionID != opts.SessionID {
			continue
		}
		sess := s.sessions[sessionID]
		if sess == nil || !hasAllTags(sess.Tags, opts.Tags) {
			continue
		}
		for _, m := range msgs {
			if !m.CreatedAt.After(since) {
				continue
			}
			n := countTerms(strings.ToLower(m.Content), terms)
			if n == 0 {
				continue
			}
			hits = append(hits, SearchHit{
				MessageID:    m.ID,
				SessionID:    sessionID,
				SessionTitle: sess.Title,
				Content:      m.Content,
				Snippet:      m.Content,
				Score:        -float64(n),
				CreatedAt:    m.CreatedAt,
			})
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score < hits[j].Score
		}
		return hits[i].MessageID < hits[j].MessageID
	})
	if len(hits) > opts.TopK {
		hits = hits[:opts.TopK]
	}
	return hits, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// countTerms returns the total number of term occurrences in content, or 0
// unless every term appears at least once.
func countTerms(content string, terms []string) int {
	total := 0
	for _, term := range terms {
		n := strings.Count(content, term)
		if n == 0 {
			return 0
		}
		total += n
	}
	return total
}

// queryTerms lowercases a free-text query and drops quotes and boolean operators.
func queryTerms(q string) []string {
	var terms []string
	for _, f := range strings.Fields(strings.ReplaceAll(q, `"`, " ")) {
		switch f {
		case "AND", "OR", "NOT", "NEAR":
			continue
		}
		terms = append(terms, strings.ToLower(f))
	}
	return terms
}

func hasAllTags(have, want []string) bool {
	for _, w := range want {
		if !slices.Contains(have, w) {
			return false
		}
	}
	return true
}

func cloneSession(s *Session) *Session {
	c := *s
	c.Tags = slices.Clone(s.Tags)
	c.Meta = maps.Clone(s.Meta)
	c.normalize()
	return &c
}
