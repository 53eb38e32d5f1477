// Package server provides the optional HTTP API over the memory store.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/szaher/chatmemory/internal/inject"
	"github.com/szaher/chatmemory/internal/session"
	"github.com/szaher/chatmemory/internal/summary"
	"github.com/szaher/chatmemory/internal/telemetry"
)

const defaultMessageLimit = 100

// Server is the HTTP front end for injections, sessions and search.
type Server struct {
	mux        *http.ServeMux
	server     *http.Server
	logger     *slog.Logger
	metrics    *telemetry.Metrics
	store      session.Store
	summarizer *summary.Summarizer
	injector   *inject.Injector
	startTime  time.Time
	apiKey     string
	version    string
	limiter    *limiter
	trustProxy bool
}

// Option configures the Server.
type Option func(*Server)

// WithAPIKey requires key on every request except /healthz.
func WithAPIKey(key string) Option {
	return func(s *Server) { s.apiKey = key }
}

// WithRateLimit limits each client IP to rps requests per second with the
// given burst, and blocks clients after repeated API key failures.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) {
		if rps > 0 {
			s.limiter = newLimiter(rps, burst)
		}
	}
}

// WithTrustProxy identifies clients by the first X-Forwarded-For address.
// Enable it only behind a proxy that sets that header itself.
func WithTrustProxy(trust bool) Option {
	return func(s *Server) { s.trustProxy = trust }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithMetrics records tool metrics and exposes them on /metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithVersion sets the version reported by /healthz.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// New creates an HTTP server over store.
func New(store session.Store, summarizer *summary.Summarizer, injector *inject.Injector, opts ...Option) *Server {
	s := &Server{
		store:      store,
		summarizer: summarizer,
		injector:   injector,
		logger:     telemetry.DiscardLogger(),
		startTime:  time.Now(),
		version:    "dev",
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	mux.HandleFunc("POST /v1/inject", s.handleInject)
	mux.HandleFunc("GET /v1/sessions", s.handleListSessions)
	mux.HandleFunc("GET /v1/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("POST /v1/sessions/{id}/summarize", s.handleSummarize)
	mux.HandleFunc("GET /v1/search", s.handleSearch)

	s.mux = mux
	return s
}

// Handler returns the HTTP handler for use with httptest or custom servers.
func (s *Server) Handler() http.Handler {
	return s.requestMiddleware(s.rateMiddleware(s.authMiddleware(s.mux)))
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("http server starting", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) requestMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := telemetry.WithRequestID(r.Context(), r.Header.Get("X-Request-ID"))
		w.Header().Set("X-Request-ID", telemetry.RequestID(ctx))
		start := time.Now()
		next.ServeHTTP(w, r.WithContext(ctx))
		telemetry.RequestLogger(ctx, s.logger, "http").Debug("request handled",
			"method", r.Method, "path", r.URL.Path, "duration_ms", time.Since(start).Milliseconds())
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"uptime":  time.Since(s.startTime).String(),
		"version": s.version,
	})
}

func (s *Server) handleInject(w http.ResponseWriter, r *http.Request) {
	var req inject.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	start := time.Now()
	block, err := s.injector.Inject(r.Context(), req)
	s.record("http_inject", err, start)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, block)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryInt(q.Get("limit"), session.DefaultListLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	offset, err := queryInt(q.Get("offset"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	sessions, total, err := s.store.ListSessions(r.Context(), session.ListOptions{Limit: limit, Offset: offset, Tags: q["tag"]})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"total":    total,
		"has_more": offset+len(sessions) < total,
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	limit, err := queryInt(r.URL.Query().Get("messages"), defaultMessageLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	sess, err := s.store.GetSession(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	msgs, err := s.store.ListMessages(r.Context(), id, limit, 0)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	count, err := s.store.CountMessages(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session":       sess,
		"messages":      msgs,
		"message_count": count,
	})
}

func (s *Server) handleSummarize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	style, err := session.ParseStyle(q.Get("style"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	force, _ := strconv.ParseBool(q.Get("force"))

	res, err := s.summarizer.Summarize(r.Context(), r.PathValue("id"), style, force)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":   res.SessionID,
		"style":        res.Style,
		"summary":      res.Summary,
		"cached":       res.Cached,
		"generated_at": res.GeneratedAt,
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := strings.TrimSpace(q.Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "Query parameter q is required")
		return
	}
	topK, err := queryInt(q.Get("top_k"), session.DefaultTopK)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	days, err := queryInt(q.Get("days"), session.DefaultTimeRangeDays)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	hits, err := s.store.Search(r.Context(), session.SearchOptions{
		Query:         query,
		TopK:          topK,
		TimeRangeDays: days,
		Tags:          q["tag"],
		SessionID:     q.Get("session_id"),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"hits":       hits,
		"total_hits": len(hits),
		"query":      query,
	})
}

func (s *Server) record(op string, err error, start time.Time) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.metrics.RecordToolCall(op, status, time.Since(start))
}

// fail maps err to a status code and writes the error envelope.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, session.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, inject.ErrNoResults):
		status, code = http.StatusNotFound, "no_results"
	case errors.Is(err, inject.ErrInvalidRequest):
		status, code = http.StatusBadRequest, "invalid_request"
	case errors.Is(err, summary.ErrNoMessages):
		status, code = http.StatusUnprocessableEntity, "no_messages"
	}
	if status == http.StatusInternalServerError {
		telemetry.RequestLogger(r.Context(), s.logger, "http").Error("request failed",
			"path", r.URL.Path, "error", err)
	}
	writeError(w, status, code, err.Error())
}

func queryInt(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid integer %q", raw)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"error":   code,
		"message": message,
	})
}
