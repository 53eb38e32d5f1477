package inject

import (
	"context"
	"log/slog"
	"time"

	"github.com/szaher/chatmemory/internal/session"
	"github.com/szaher/chatmemory/internal/telemetry"
)

// Block is a rendered injection block.
type Block struct {
	Text        string        `json:"injection_block"`
	Sources     []string      `json:"sources"`
	GeneratedAt time.Time     `json:"generated_at"`
	Style       session.Style `json:"style"`
	Method      Method        `json:"method"`
}

// Injector wires resolution, aggregation and formatting behind Inject.
type Injector struct {
	resolver   *Resolver
	aggregator *Aggregator
	logger     *slog.Logger
	metrics    *telemetry.Metrics
	now        func() time.Time
}

// Option configures an Injector.
type Option func(*Injector)

// WithLogger sets the logger. The default discards output.
func WithLogger(l *slog.Logger) Option {
	return func(i *Injector) { i.logger = l }
}

// WithMetrics counts injections by method and status.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(i *Injector) { i.metrics = m }
}

// WithClock overrides the time source for GeneratedAt and the sources date.
func WithClock(now func() time.Time) Option {
	return func(i *Injector) { i.now = now }
}

// New creates an Injector reading sessions from sessions and summaries from summaries.
func New(sessions SessionSource, summaries SummarySource, opts ...Option) *Injector {
	i := &Injector{
		logger: telemetry.DiscardLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	i.resolver = NewResolver(sessions, i.logger)
	i.aggregator = NewAggregator(summaries, i.logger, i.now)
	return i
}

// Inject builds the block for req. It fails with ErrInvalidRequest,
// ErrNotFound or ErrNoResults; per-session summary failures only shrink
// the block.
func (i *Injector) Inject(ctx context.Context, req Request) (*Block, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	req = req.withDefaults()
	method := req.Method()

	i.logger.Debug("generating injection block",
		"session_id", req.SessionID, "query", req.Query, "style", req.Style, "top_k", req.TopK)

	sessions, topic, err := i.resolver.Resolve(ctx, req)
	if err != nil {
		i.metrics.RecordInjection(string(method), "error")
		return nil, err
	}

	content := i.aggregator.Aggregate(ctx, sessions, topic, req.Style)
	text := Format(content, req.Style)

	i.metrics.RecordInjection(string(method), "ok")
	i.logger.Info("injection block generated",
		"session_count", len(sessions), "style", req.Style, "block_length", len(text))

	return &Block{
		Text:        text,
		Sources:     content.Sources.SessionIDs,
		GeneratedAt: i.now(),
		Style:       req.Style,
		Method:      method,
	}, nil
}
