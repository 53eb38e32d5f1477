package inject

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/szaher/chatmemory/internal/session"
	"github.com/szaher/chatmemory/internal/summary"
	"github.com/szaher/chatmemory/internal/telemetry"
)

// SummarySource yields a per-session summary outcome. *summary.Summarizer
// implements it.
type SummarySource interface {
	SummaryFor(ctx context.Context, sess *session.Session, style session.Style) summary.Outcome
}

// Aggregator merges the structured summaries of several sessions.
type Aggregator struct {
	summaries SummarySource
	logger    *slog.Logger
	now       func() time.Time
}

// NewAggregator creates an Aggregator. A nil logger discards output and a
// nil clock means time.Now.
func NewAggregator(summaries SummarySource, logger *slog.Logger, now func() time.Time) *Aggregator {
	if logger == nil {
		logger = telemetry.DiscardLogger()
	}
	if now == nil {
		now = time.Now
	}
	return &Aggregator{summaries: summaries, logger: logger, now: now}
}

// Aggregate summarizes each session in order, skipping failures, and merges
// the parsed sections with duplicates removed. Sources lists every session
// passed in, whether or not it contributed.
func (a *Aggregator) Aggregate(ctx context.Context, sessions []*session.Session, topic string, style session.Style) Content {
	merged := summary.NewStructured()
	ids := make([]string, 0, len(sessions))

	for _, sess := range sessions {
		ids = append(ids, sess.ID)

		out := a.summaries.SummaryFor(ctx, sess, style)
		if !out.OK() {
			if errors.Is(out.Err, summary.ErrNoMessages) {
				a.logger.Warn("session has no messages", "session_id", sess.ID)
			} else {
				a.logger.Error("failed to generate summary", "session_id", sess.ID, "style", style, "error", out.Err)
			}
			continue
		}
		merged.Append(summary.Parse(out.Text))
	}

	return Content{
		Topic:      topic,
		Structured: merged.Deduped(),
		Sources: Sources{
			SessionIDs: ids,
			UpdatedAt:  a.now().UTC().Format(time.DateOnly),
		},
	}
}
