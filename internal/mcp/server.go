// Package mcp exposes the memory store as a Model Context Protocol tool server.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/szaher/chatmemory/internal/inject"
	"github.com/szaher/chatmemory/internal/session"
	"github.com/szaher/chatmemory/internal/summary"
	"github.com/szaher/chatmemory/internal/telemetry"
)

// ServerName is the implementation name advertised during initialization.
const ServerName = "chatmemory"

// Server wraps an MCP SDK server with the chatmemory tool set registered.
type Server struct {
	server     *mcpsdk.Server
	store      session.Store
	summarizer *summary.Summarizer
	injector   *inject.Injector
	logger     *slog.Logger
	metrics    *telemetry.Metrics
	version    string
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger used for tool call events.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetrics records per-tool call counts and latencies.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithVersion sets the implementation version advertised to clients.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// NewServer creates a tool server backed by store. Summaries and injection
// blocks are produced by summarizer and injector.
func NewServer(store session.Store, summarizer *summary.Summarizer, injector *inject.Injector, opts ...Option) *Server {
	s := &Server{
		store:      store,
		summarizer: summarizer,
		injector:   injector,
		logger:     telemetry.DiscardLogger(),
		version:    "dev",
	}
	for _, opt := range opts {
		opt(s)
	}

	s.server = mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    ServerName,
		Version: s.version,
	}, nil)
	s.registerTools()
	s.logger.Info("mcp tools registered", "count", len(toolNames))
	return s
}

// Run serves requests over stdin/stdout until ctx is cancelled or the
// client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("mcp server listening on stdio", "version", s.version)
	if err := s.server.Run(ctx, &mcpsdk.StdioTransport{}); err != nil && ctx.Err() == nil {
		return fmt.Errorf("mcp serve: %w", err)
	}
	return nil
}

// Connect serves a single session over t. It is used with in-process
// transports.
func (s *Server) Connect(ctx context.Context, t mcpsdk.Transport) (*mcpsdk.ServerSession, error) {
	return s.server.Connect(ctx, t, nil)
}

// addTool registers fn under name. Handler errors are reported to the client
// as tool results with IsError set, never as protocol errors.
func addTool[In any](s *Server, name, description string, fn func(context.Context, In) (any, error)) {
	tool := &mcpsdk.Tool{Name: name, Description: description}
	mcpsdk.AddTool(s.server, tool, func(ctx context.Context, _ *mcpsdk.CallToolRequest, in In) (*mcpsdk.CallToolResult, any, error) {
		return s.call(ctx, name, func(ctx context.Context) (any, error) { return fn(ctx, in) }), nil, nil
	})
}

func (s *Server) call(ctx context.Context, tool string, fn func(context.Context) (any, error)) *mcpsdk.CallToolResult {
	ctx = telemetry.WithRequestID(ctx, "")
	log := telemetry.RequestLogger(ctx, s.logger, tool)
	log.Info("tool call received")

	start := time.Now()
	out, err := fn(ctx)
	if err == nil {
		var text string
		if text, err = encodeResult(out); err == nil {
			log.Info("tool call succeeded", "duration_ms", time.Since(start).Milliseconds())
			s.metrics.RecordToolCall(tool, "ok", time.Since(start))
			return textResult(text, false)
		}
	}

	log.Error("tool call failed", "error", err)
	s.metrics.RecordToolCall(tool, "error", time.Since(start))
	body, _ := encodeResult(map[string]string{"error": err.Error(), "tool": tool})
	return textResult(body, true)
}

func encodeResult(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	return string(data), nil
}

func textResult(text string, isError bool) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}},
		IsError: isError,
	}
}
