package summary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/szaher/chatmemory/internal/llm"
	"github.com/szaher/chatmemory/internal/session"
	"github.com/szaher/chatmemory/internal/telemetry"
)

var (
	// ErrNoMessages means a session has nothing to summarize.
	ErrNoMessages = errors.New("session has no messages to summarize")

	// ErrGeneration wraps a failure of the text-generation call.
	ErrGeneration = errors.New("failed to generate summary")
)

// Outcome is the result of obtaining one session's summary. Exactly one of
// Text and Err is meaningful.
type Outcome struct {
	SessionID string
	Style     session.Style
	Text      string
	Cached    bool
	Err       error
}

// OK reports whether the outcome carries a summary.
func (o Outcome) OK() bool { return o.Err == nil }

// Result is returned by Summarize.
type Result struct {
	SessionID   string
	Style       session.Style
	Summary     string
	Cached      bool
	GeneratedAt time.Time
}

// Summarizer returns cached session summaries or generates them through an
// llm.Client, writing fresh ones back to the store.
type Summarizer struct {
	store       session.Store
	client      llm.Client
	model       string
	temperature float64
	logger      *slog.Logger
	metrics     *telemetry.Metrics
	now         func() time.Time

	group singleflight.Group
}

// Option configures a Summarizer.
type Option func(*Summarizer)

// WithModel sets the model name passed to the client.
func WithModel(model string) Option {
	return func(s *Summarizer) { s.model = model }
}

// WithTemperature overrides DefaultTemperature.
func WithTemperature(t float64) Option {
	return func(s *Summarizer) { s.temperature = t }
}

// WithLogger sets the logger. The default discards output.
func WithLogger(l *slog.Logger) Option {
	return func(s *Summarizer) { s.logger = l }
}

// WithMetrics records summary outcomes and token usage.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Summarizer) { s.metrics = m }
}

// WithClock overrides the time source for Result.GeneratedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Summarizer) { s.now = now }
}

// New creates a Summarizer over store and client.
func New(store session.Store, client llm.Client, opts ...Option) *Summarizer {
	s := &Summarizer{
		store:       store,
		client:      client,
		model:       llm.DefaultModel,
		temperature: DefaultTemperature,
		logger:      telemetry.DiscardLogger(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SummaryFor returns sess's summary for style, generating it on a cache
// miss. Failures are reported in the Outcome, never returned or panicked.
func (s *Summarizer) SummaryFor(ctx context.Context, sess *session.Session, style session.Style) Outcome {
	out := Outcome{SessionID: sess.ID, Style: style}

	if cached := sess.CachedSummary(style); cached != "" {
		s.logger.Debug("using cached summary", "session_id", sess.ID, "style", style)
		s.metrics.RecordSummary(string(style), "cached")
		out.Text = cached
		out.Cached = true
		return out
	}

	s.logger.Debug("generating summary", "session_id", sess.ID, "style", style)
	out.Text, out.Err = s.generateShared(ctx, sess.ID, style)
	return out
}

// Summarize backs the standalone summarize operation. Unlike SummaryFor it
// returns errors (including ErrNoMessages and session.ErrNotFound), and
// force bypasses the cache.
func (s *Summarizer) Summarize(ctx context.Context, sessionID string, style session.Style, force bool) (*Result, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if cached := sess.CachedSummary(style); cached != "" && !force {
		s.metrics.RecordSummary(string(style), "cached")
		at := sess.UpdatedAt
		if at.IsZero() {
			at = sess.CreatedAt
		}
		return &Result{SessionID: sess.ID, Style: style, Summary: cached, Cached: true, GeneratedAt: at}, nil
	}

	text, err := s.generateShared(ctx, sess.ID, style)
	if err != nil {
		return nil, err
	}
	return &Result{SessionID: sess.ID, Style: style, Summary: text, GeneratedAt: s.now()}, nil
}

// generateShared coalesces concurrent generations for the same session and style.
func (s *Summarizer) generateShared(ctx context.Context, sessionID string, style session.Style) (string, error) {
	v, err, shared := s.group.Do(sessionID+"/"+string(style), func() (any, error) {
		return s.generate(ctx, sessionID, style)
	})
	if shared {
		s.logger.Debug("shared in-flight summary generation", "session_id", sessionID, "style", style)
	}
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (s *Summarizer) generate(ctx context.Context, sessionID string, style session.Style) (string, error) {
	msgs, err := s.store.ListMessages(ctx, sessionID, MaxTranscriptMessages, 0)
	if err != nil {
		s.metrics.RecordSummary(string(style), "error")
		return "", fmt.Errorf("%w: list messages: %w", ErrGeneration, err)
	}
	if len(msgs) == 0 {
		s.metrics.RecordSummary(string(style), "no_messages")
		return "", fmt.Errorf("%w: %s", ErrNoMessages, sessionID)
	}

	transcript := Transcript(msgs)
	s.logger.Debug("requesting summary",
		"session_id", sessionID,
		"style", style,
		"message_count", len(msgs),
		"total_chars", len(transcript),
	)

	resp, err := s.client.Chat(ctx, llm.ChatRequest{
		Model:       s.model,
		System:      Prompt(style),
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: "Conversation:\n" + transcript}},
		MaxTokens:   MaxTokens(style),
		Temperature: llm.Float64(s.temperature),
	})
	if err != nil {
		s.metrics.RecordSummary(string(style), "error")
		return "", fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		s.metrics.RecordSummary(string(style), "error")
		return "", fmt.Errorf("%w: empty response", ErrGeneration)
	}

	s.metrics.RecordSummary(string(style), "generated")
	s.metrics.RecordTokens(resp.Usage.InputTokens, resp.Usage.OutputTokens)
	s.logger.Info("summary generated",
		"session_id", sessionID,
		"style", style,
		"summary_length", len(text),
		"tokens_used", resp.Usage.Total(),
	)

	// A failed write-back is logged; the generated text is still returned.
	if err := s.store.WriteSummary(ctx, sessionID, style, text); err != nil {
		s.logger.Warn("failed to cache summary", "session_id", sessionID, "style", style, "error", err)
	}
	return text, nil
}
