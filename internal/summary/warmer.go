package summary

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/szaher/chatmemory/internal/session"
)

// DefaultWarmLimit is how many recently updated sessions one warm run inspects.
const DefaultWarmLimit = 20

// Warmer pre-generates missing brief summaries for recently updated
// sessions so later injections hit the cache.
type Warmer struct {
	summarizer *Summarizer
	limit      int

	mu       sync.Mutex
	cron     *cron.Cron
	stop     chan struct{}
	watchers sync.WaitGroup
}

// NewWarmer creates a warmer that inspects up to limit sessions per run.
// It shares the summarizer's store, logger and metrics.
func NewWarmer(s *Summarizer, limit int) *Warmer {
	if limit <= 0 {
		limit = DefaultWarmLimit
	}
	return &Warmer{summarizer: s, limit: limit}
}

// RunOnce warms the most recently updated sessions and returns the number of
// summaries generated. Per-session failures are logged, not returned.
func (w *Warmer) RunOnce(ctx context.Context) (int, error) {
	s := w.summarizer
	sessions, _, err := s.store.ListSessions(ctx, session.ListOptions{Limit: w.limit})
	if err != nil {
		return 0, fmt.Errorf("warm: list sessions: %w", err)
	}

	generated := 0
	for _, sess := range sessions {
		if ctx.Err() != nil {
			return generated, ctx.Err()
		}
		if sess.SummaryBrief != "" {
			continue
		}
		out := s.SummaryFor(ctx, sess, session.StyleBrief)
		switch {
		case out.OK():
			generated++
		case errors.Is(out.Err, ErrNoMessages):
			s.logger.Debug("warm: skipping empty session", "session_id", sess.ID)
		default:
			s.logger.Warn("warm: summary generation failed", "session_id", sess.ID, "error", out.Err)
		}
	}

	s.metrics.RecordWarmed(generated)
	s.logger.Info("warm run finished", "inspected", len(sessions), "generated", generated)
	return generated, nil
}

// Start schedules RunOnce on a cron spec such as "@every 1h" or "0 */6 * * *".
// Runs never overlap. The schedule stops when ctx is done or Stop is called.
func (w *Warmer) Start(ctx context.Context, schedule string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cron != nil {
		return errors.New("warm: already started")
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(schedule, func() {
		if _, err := w.RunOnce(ctx); err != nil {
			w.summarizer.logger.Error("warm run failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("warm: invalid schedule %q: %w", schedule, err)
	}
	c.Start()
	stop := make(chan struct{})
	w.cron, w.stop = c, stop

	w.watchers.Add(1)
	go func() {
		defer w.watchers.Done()
		select {
		case <-ctx.Done():
			w.Stop()
		case <-stop:
		}
	}()
	return nil
}

// Stop halts the schedule and waits for a running job to finish.
func (w *Warmer) Stop() {
	w.mu.Lock()
	c, stop := w.cron, w.stop
	w.cron, w.stop = nil, nil
	w.mu.Unlock()

	if c != nil {
		close(stop)
		<-c.Stop().Done()
	}
}
