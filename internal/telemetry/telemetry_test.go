package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewLoggerWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo)

	ctx := WithRequestID(context.Background(), "req-1")
	RequestLogger(ctx, logger, "memory_inject").Info("tool call received", "style", "brief")
	logger.Debug("suppressed")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d log lines, want 1: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	for k, want := range map[string]string{
		"msg":        "tool call received",
		"operation":  "memory_inject",
		"request_id": "req-1",
		"style":      "brief",
	} {
		if rec[k] != want {
			t.Errorf("%s = %v, want %q", k, rec[k], want)
		}
	}
}

func TestNewLoggerRedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo, "sk-ant-secret", "")

	logger.With("auth", "Bearer sk-ant-secret").Info("calling with sk-ant-secret",
		"error", errors.New("401: key sk-ant-secret rejected"),
		slog.Group("req", "header", "x-api-key: sk-ant-secret"),
		"count", 3)

	out := buf.String()
	if strings.Contains(out, "sk-ant-secret") {
		t.Fatalf("secret leaked into log output: %s", out)
	}
	for _, want := range []string{
		`"msg":"calling with ***REDACTED***"`,
		`"auth":"Bearer ***REDACTED***"`,
		`"error":"401: key ***REDACTED*** rejected"`,
		`"header":"x-api-key: ***REDACTED***"`,
		`"count":3`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %s: %s", want, out)
		}
	}
}

func TestWithRequestIDGenerates(t *testing.T) {
	ctx := WithRequestID(context.Background(), "")
	if id := RequestID(ctx); len(id) != 16 {
		t.Errorf("generated request ID = %q, want 16 hex chars", id)
	}
	if id := RequestID(context.Background()); id != "" {
		t.Errorf("RequestID on bare context = %q, want empty", id)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestDiscardLogger(t *testing.T) {
	DiscardLogger().Error("nothing happens")
}

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics()

	m.RecordToolCall("memory_search", "ok", 20*time.Millisecond)
	m.RecordToolCall("memory_search", "ok", 30*time.Millisecond)
	m.RecordToolCall("memory_search", "error", time.Millisecond)
	m.RecordSummary("brief", "cached")
	m.RecordInjection("query", "ok")
	m.RecordTokens(100, 25)
	m.RecordWarmed(3)

	if got := testutil.ToFloat64(m.toolCalls.WithLabelValues("memory_search", "ok")); got != 2 {
		t.Errorf("tool_calls_total{ok} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.toolCalls.WithLabelValues("memory_search", "error")); got != 1 {
		t.Errorf("tool_calls_total{error} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.summaries.WithLabelValues("brief", "cached")); got != 1 {
		t.Errorf("summary_requests_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.llmTokens.WithLabelValues("input")); got != 100 {
		t.Errorf("llm_tokens_total{input} = %v, want 100", got)
	}
	if got := testutil.ToFloat64(m.warmGenerated); got != 3 {
		t.Errorf("warm_summaries_generated_total = %v, want 3", got)
	}
	if n := testutil.CollectAndCount(m.toolDuration); n != 1 {
		t.Errorf("tool_call_duration_seconds series = %d, want 1", n)
	}
}

func TestMetricsNilIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordToolCall("x", "ok", time.Second)
	m.RecordSummary("brief", "cached")
	m.RecordInjection("session", "ok")
	m.RecordTokens(1, 1)
	m.RecordWarmed(1)
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics()
	m.RecordInjection("session", "ok")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `chatmemory_injections_total{method="session",status="ok"} 1`) {
		t.Errorf("metrics output missing injection counter:\n%s", body)
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Error("metrics output missing Go runtime collector")
	}
}
