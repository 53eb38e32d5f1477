package mcp

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/szaher/chatmemory/internal/inject"
	"github.com/szaher/chatmemory/internal/session"
)

// ErrInvalidArgument is returned when tool arguments fail validation.
var ErrInvalidArgument = errors.New("invalid argument")

const (
	maxTitleLength   = 200
	maxTagLength     = 50
	maxListLimit     = 100
	maxMessageLimit  = 500
	defaultMsgLimit  = 100
	maxSearchTopK    = 50
	maxSnippetLength = 200
)

// Tool names.
const (
	ToolSaveSession      = "memory_save_session"
	ToolSaveMessages     = "memory_save_messages"
	ToolListSessions     = "memory_list_sessions"
	ToolGetSession       = "memory_get_session"
	ToolSearch           = "memory_search"
	ToolSummarizeSession = "memory_summarize_session"
	ToolInject           = "memory_inject"
)

var toolNames = []string{
	ToolSaveSession, ToolSaveMessages, ToolListSessions, ToolGetSession,
	ToolSearch, ToolSummarizeSession, ToolInject,
}

func (s *Server) registerTools() {
	addTool(s, ToolSaveSession,
		"Create a new memory session with optional metadata (tags and custom fields)",
		s.saveSession)
	addTool(s, ToolSaveMessages,
		"Save messages to a session. Messages will be indexed for full-text search.",
		s.saveMessages)
	addTool(s, ToolListSessions,
		"List recent sessions with pagination and optional tag filtering",
		s.listSessions)
	addTool(s, ToolGetSession,
		"Get session details with optional messages",
		s.getSession)
	addTool(s, ToolSearch,
		"Search messages using full-text search. Supports keyword matching across all message content.",
		s.search)
	addTool(s, ToolSummarizeSession,
		"Generate a summary of a session (brief or detailed). Results are cached to avoid repeated API calls.",
		s.summarizeSession)
	addTool(s, ToolInject,
		"Generate a structured memory injection block for context. Works with a single session or aggregates multiple sessions via keyword search.",
		s.inject)
}

type saveSessionArgs struct {
	Title string         `json:"title" jsonschema:"Session title"`
	Tags  []string       `json:"tags,omitempty" jsonschema:"Optional tags for categorization"`
	Meta  map[string]any `json:"meta,omitempty" jsonschema:"Optional metadata (e.g. project, client, phase)"`
}

type saveSessionResult struct {
	Success   bool           `json:"success"`
	SessionID string         `json:"session_id"`
	Title     string         `json:"title"`
	CreatedAt int64          `json:"created_at"`
	Tags      []string       `json:"tags"`
	Meta      map[string]any `json:"meta"`
}

func (s *Server) saveSession(ctx context.Context, in saveSessionArgs) (any, error) {
	if n := utf8.RuneCountInString(in.Title); n < 1 || n > maxTitleLength {
		return nil, fmt.Errorf("%w: title must be 1 to %d characters", ErrInvalidArgument, maxTitleLength)
	}
	for _, tag := range in.Tags {
		if utf8.RuneCountInString(tag) > maxTagLength {
			return nil, fmt.Errorf("%w: tag %q exceeds %d characters", ErrInvalidArgument, tag, maxTagLength)
		}
	}

	sess, err := s.store.CreateSession(ctx, session.NewSession{Title: in.Title, Tags: in.Tags, Meta: in.Meta})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return saveSessionResult{
		Success:   true,
		SessionID: sess.ID,
		Title:     sess.Title,
		CreatedAt: sess.CreatedAt.Unix(),
		Tags:      sess.Tags,
		Meta:      sess.Meta,
	}, nil
}

type messageArg struct {
	Role      string `json:"role" jsonschema:"Message role: user, assistant or system"`
	Content   string `json:"content" jsonschema:"Message content"`
	CreatedAt *int64 `json:"created_at,omitempty" jsonschema:"Optional Unix timestamp (defaults to current time)"`
}

type saveMessagesArgs struct {
	SessionID string       `json:"session_id" jsonschema:"Session ID to save messages to"`
	Messages  []messageArg `json:"messages" jsonschema:"Array of messages to save"`
}

type saveMessagesResult struct {
	Success    bool     `json:"success"`
	SessionID  string   `json:"session_id"`
	SavedCount int      `json:"saved_count"`
	MessageIDs []string `json:"message_ids"`
}

func (s *Server) saveMessages(ctx context.Context, in saveMessagesArgs) (any, error) {
	if in.SessionID == "" {
		return nil, fmt.Errorf("%w: session_id is required", ErrInvalidArgument)
	}
	if len(in.Messages) == 0 {
		return nil, fmt.Errorf("%w: at least one message is required", ErrInvalidArgument)
	}

	msgs := make([]session.NewMessage, 0, len(in.Messages))
	for i, m := range in.Messages {
		role := session.Role(m.Role)
		if !role.Valid() {
			return nil, fmt.Errorf("%w: messages[%d]: invalid role %q", ErrInvalidArgument, i, m.Role)
		}
		if m.Content == "" {
			return nil, fmt.Errorf("%w: messages[%d]: content cannot be empty", ErrInvalidArgument, i)
		}
		nm := session.NewMessage{Role: role, Content: m.Content}
		if m.CreatedAt != nil {
			if *m.CreatedAt <= 0 {
				return nil, fmt.Errorf("%w: messages[%d]: created_at must be positive", ErrInvalidArgument, i)
			}
			nm.CreatedAt = time.Unix(*m.CreatedAt, 0)
		}
		msgs = append(msgs, nm)
	}

	saved, err := s.store.SaveMessages(ctx, in.SessionID, msgs)
	if err != nil {
		return nil, fmt.Errorf("save messages: %w", err)
	}
	ids := make([]string, len(saved))
	for i, m := range saved {
		ids[i] = m.ID
	}
	return saveMessagesResult{
		Success:    true,
		SessionID:  in.SessionID,
		SavedCount: len(saved),
		MessageIDs: ids,
	}, nil
}

type listSessionsArgs struct {
	Limit  *int     `json:"limit,omitempty" jsonschema:"Number of sessions to return (default 20, max 100)"`
	Offset *int     `json:"offset,omitempty" jsonschema:"Offset for pagination (default 0)"`
	Tags   []string `json:"tags,omitempty" jsonschema:"Filter by tags (all must match)"`
}

type sessionSummaryView struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Tags         []string `json:"tags"`
	CreatedAt    int64    `json:"created_at"`
	UpdatedAt    int64    `json:"updated_at"`
	SummaryBrief *string  `json:"summary_brief"`
}

type listSessionsResult struct {
	Sessions []sessionSummaryView `json:"sessions"`
	Total    int                  `json:"total"`
	HasMore  bool                 `json:"has_more"`
	Limit    int                  `json:"limit"`
	Offset   int                  `json:"offset"`
}

func (s *Server) listSessions(ctx context.Context, in listSessionsArgs) (any, error) {
	limit, err := intArg("limit", in.Limit, session.DefaultListLimit, 1, maxListLimit)
	if err != nil {
		return nil, err
	}
	offset, err := intArg("offset", in.Offset, 0, 0, -1)
	if err != nil {
		return nil, err
	}

	sessions, total, err := s.store.ListSessions(ctx, session.ListOptions{Limit: limit, Offset: offset, Tags: in.Tags})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	views := make([]sessionSummaryView, len(sessions))
	for i, sess := range sessions {
		views[i] = sessionSummaryView{
			ID:           sess.ID,
			Title:        sess.Title,
			Tags:         sess.Tags,
			CreatedAt:    sess.CreatedAt.Unix(),
			UpdatedAt:    sess.UpdatedAt.Unix(),
			SummaryBrief: nullable(sess.SummaryBrief),
		}
	}
	return listSessionsResult{
		Sessions: views,
		Total:    total,
		HasMore:  offset+len(sessions) < total,
		Limit:    limit,
		Offset:   offset,
	}, nil
}

type getSessionArgs struct {
	SessionID       string `json:"session_id" jsonschema:"Session ID"`
	IncludeMessages *bool  `json:"include_messages,omitempty" jsonschema:"Include messages in response (default true)"`
	MessageLimit    *int   `json:"message_limit,omitempty" jsonschema:"Maximum number of messages to return (default 100, max 500)"`
}

type sessionView struct {
	ID              string         `json:"id"`
	Title           string         `json:"title"`
	Tags            []string       `json:"tags"`
	Meta            map[string]any `json:"meta"`
	CreatedAt       int64          `json:"created_at"`
	UpdatedAt       int64          `json:"updated_at"`
	SummaryBrief    *string        `json:"summary_brief"`
	SummaryDetailed *string        `json:"summary_detailed"`
}

type messageView struct {
	ID        string       `json:"id"`
	SessionID string       `json:"session_id"`
	Role      session.Role `json:"role"`
	Content   string       `json:"content"`
	CreatedAt int64        `json:"created_at"`
}

type getSessionResult struct {
	Session      sessionView   `json:"session"`
	Messages     []messageView `json:"messages"`
	MessageCount int           `json:"message_count"`
}

func (s *Server) getSession(ctx context.Context, in getSessionArgs) (any, error) {
	if in.SessionID == "" {
		return nil, fmt.Errorf("%w: session_id is required", ErrInvalidArgument)
	}
	limit, err := intArg("message_limit", in.MessageLimit, defaultMsgLimit, 1, maxMessageLimit)
	if err != nil {
		return nil, err
	}

	sess, err := s.store.GetSession(ctx, in.SessionID)
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", in.SessionID, err)
	}

	messages := []messageView{}
	if in.IncludeMessages == nil || *in.IncludeMessages {
		msgs, err := s.store.ListMessages(ctx, sess.ID, limit, 0)
		if err != nil {
			return nil, fmt.Errorf("list messages: %w", err)
		}
		for _, m := range msgs {
			messages = append(messages, messageView{
				ID:        m.ID,
				SessionID: m.SessionID,
				Role:      m.Role,
				Content:   m.Content,
				CreatedAt: m.CreatedAt.Unix(),
			})
		}
	}
	count, err := s.store.CountMessages(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}

	return getSessionResult{
		Session: sessionView{
			ID:              sess.ID,
			Title:           sess.Title,
			Tags:            sess.Tags,
			Meta:            sess.Meta,
			CreatedAt:       sess.CreatedAt.Unix(),
			UpdatedAt:       sess.UpdatedAt.Unix(),
			SummaryBrief:    nullable(sess.SummaryBrief),
			SummaryDetailed: nullable(sess.SummaryDetailed),
		},
		Messages:     messages,
		MessageCount: count,
	}, nil
}

type searchArgs struct {
	Query         string   `json:"query" jsonschema:"Search query"`
	TopK          *int     `json:"top_k,omitempty" jsonschema:"Number of top results to return (default 5, max 50)"`
	TimeRangeDays *int     `json:"time_range_days,omitempty" jsonschema:"Search within the last N days (default 180)"`
	Tags          []string `json:"tags,omitempty" jsonschema:"Filter by session tags"`
	SessionID     string   `json:"session_id,omitempty" jsonschema:"Filter by specific session"`
}

type hitView struct {
	MessageID      string  `json:"message_id"`
	SessionID      string  `json:"session_id"`
	SessionTitle   string  `json:"session_title"`
	Snippet        string  `json:"snippet"`
	RelevanceScore float64 `json:"relevance_score"`
	CreatedAt      int64   `json:"created_at"`
}

type searchResult struct {
	Hits        []hitView `json:"hits"`
	TotalHits   int       `json:"total_hits"`
	QueryTimeMS int64     `json:"query_time_ms"`
	Query       string    `json:"query"`
	FTS5Query   string    `json:"fts5_query"`
}

func (s *Server) search(ctx context.Context, in searchArgs) (any, error) {
	if in.Query == "" {
		return nil, fmt.Errorf("%w: query cannot be empty", ErrInvalidArgument)
	}
	topK, err := intArg("top_k", in.TopK, session.DefaultTopK, 1, maxSearchTopK)
	if err != nil {
		return nil, err
	}
	days, err := intArg("time_range_days", in.TimeRangeDays, session.DefaultTimeRangeDays, 1, -1)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	hits, err := s.store.Search(ctx, session.SearchOptions{
		Query:         in.Query,
		TopK:          topK,
		TimeRangeDays: days,
		Tags:          in.Tags,
		SessionID:     in.SessionID,
	})
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	elapsed := time.Since(start)

	views := make([]hitView, len(hits))
	for i, h := range hits {
		views[i] = hitView{
			MessageID:      h.MessageID,
			SessionID:      h.SessionID,
			SessionTitle:   h.SessionTitle,
			Snippet:        truncateSnippet(h.Snippet),
			RelevanceScore: h.Score,
			CreatedAt:      h.CreatedAt.Unix(),
		}
	}
	return searchResult{
		Hits:        views,
		TotalHits:   len(views),
		QueryTimeMS: elapsed.Milliseconds(),
		Query:       in.Query,
		FTS5Query:   session.MatchQuery(in.Query),
	}, nil
}

type summarizeArgs struct {
	SessionID    string `json:"session_id" jsonschema:"Session ID to summarize"`
	Style        string `json:"style,omitempty" jsonschema:"Summary style: brief or detailed (default brief)"`
	ForceRefresh bool   `json:"force_refresh,omitempty" jsonschema:"Regenerate the summary and ignore the cache"`
}

type summarizeResult struct {
	SessionID   string        `json:"session_id"`
	Style       session.Style `json:"style"`
	Summary     string        `json:"summary"`
	Cached      bool          `json:"cached"`
	GeneratedAt int64         `json:"generated_at"`
}

func (s *Server) summarizeSession(ctx context.Context, in summarizeArgs) (any, error) {
	if in.SessionID == "" {
		return nil, fmt.Errorf("%w: session_id is required", ErrInvalidArgument)
	}
	style, err := session.ParseStyle(in.Style)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	res, err := s.summarizer.Summarize(ctx, in.SessionID, style, in.ForceRefresh)
	if err != nil {
		return nil, fmt.Errorf("summarize session: %w", err)
	}
	return summarizeResult{
		SessionID:   res.SessionID,
		Style:       res.Style,
		Summary:     res.Summary,
		Cached:      res.Cached,
		GeneratedAt: res.GeneratedAt.Unix(),
	}, nil
}

type injectArgs struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"Session ID to inject (mutually exclusive with query)"`
	Query     string `json:"query,omitempty" jsonschema:"Search query for cross-session aggregation (mutually exclusive with session_id)"`
	Style     string `json:"style,omitempty" jsonschema:"Injection style: brief or detailed (default brief)"`
	TopK      *int   `json:"top_k,omitempty" jsonschema:"Number of top search results to aggregate when using query (default 5, max 10)"`
}

type injectResult struct {
	InjectionBlock string        `json:"injection_block"`
	Sources        []string      `json:"sources"`
	GeneratedAt    int64         `json:"generated_at"`
	Style          session.Style `json:"style"`
	Method         inject.Method `json:"method"`
}

func (s *Server) inject(ctx context.Context, in injectArgs) (any, error) {
	topK, err := intArg("top_k", in.TopK, inject.DefaultTopK, 1, inject.MaxTopK)
	if err != nil {
		return nil, err
	}
	req := inject.Request{
		SessionID: in.SessionID,
		Query:     in.Query,
		Style:     session.Style(in.Style),
		TopK:      topK,
	}
	if req.Style == "" {
		req.Style = session.StyleBrief
	}

	block, err := s.injector.Inject(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("generate injection block: %w", err)
	}
	return injectResult{
		InjectionBlock: block.Text,
		Sources:        block.Sources,
		GeneratedAt:    block.GeneratedAt.Unix(),
		Style:          block.Style,
		Method:         block.Method,
	}, nil
}

// intArg resolves an optional integer argument against def and the
// inclusive range [lo, hi]. A negative hi means unbounded.
func intArg(name string, v *int, def, lo, hi int) (int, error) {
	if v == nil {
		return def, nil
	}
	if *v < lo || (hi >= 0 && *v > hi) {
		if hi < 0 {
			return 0, fmt.Errorf("%w: %s must be at least %d", ErrInvalidArgument, name, lo)
		}
		return 0, fmt.Errorf("%w: %s must be between %d and %d", ErrInvalidArgument, name, lo, hi)
	}
	return *v, nil
}

func truncateSnippet(s string) string {
	if utf8.RuneCountInString(s) <= maxSnippetLength {
		return s
	}
	return string([]rune(s)[:maxSnippetLength]) + "..."
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
