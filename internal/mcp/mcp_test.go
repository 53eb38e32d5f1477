package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/szaher/chatmemory/internal/inject"
	"github.com/szaher/chatmemory/internal/llm"
	"github.com/szaher/chatmemory/internal/session"
	"github.com/szaher/chatmemory/internal/summary"
	"github.com/szaher/chatmemory/internal/telemetry"
	"github.com/szaher/chatmemory/internal/testutil"
)

const briefSummary = "Facts:\n- Uses SQLite\n\nDecisions:\n- FTS5 for search\n\nNext Actions:\n- write tests"

type harness struct {
	store   *session.MemoryStore
	mock    *llm.MockClient
	metrics *telemetry.Metrics
	client  *mcpsdk.ClientSession
}

func newHarness(t *testing.T, responses ...llm.MockResponse) *harness {
	t.Helper()
	ctx := context.Background()

	store := session.NewMemoryStore()
	mock := llm.NewMockClient(responses...)
	metrics := telemetry.NewMetrics()
	sum := summary.New(store, mock)
	srv := NewServer(store, sum, inject.New(store, sum), WithMetrics(metrics), WithVersion("test"))

	serverTransport, clientTransport := mcpsdk.NewInMemoryTransports()
	ss, err := srv.Connect(ctx, serverTransport)
	if err != nil {
		t.Fatalf("server connect: %v", err)
	}
	t.Cleanup(func() { _ = ss.Close() })

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { _ = cs.Close() })

	return &harness{store: store, mock: mock, metrics: metrics, client: cs}
}

// call invokes tool and decodes its single JSON text content.
func (h *harness) call(t *testing.T, tool string, args map[string]any) (map[string]any, bool) {
	t.Helper()
	res, err := h.client.CallTool(context.Background(), &mcpsdk.CallToolParams{Name: tool, Arguments: args})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", tool, err)
	}
	if len(res.Content) != 1 {
		t.Fatalf("CallTool(%s) returned %d content items, want 1", tool, len(res.Content))
	}
	text, ok := res.Content[0].(*mcpsdk.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s) content is %T, want *TextContent", tool, res.Content[0])
	}
	if !strings.Contains(text.Text, "\n  \"") {
		t.Errorf("CallTool(%s) output is not indented JSON: %q", tool, text.Text)
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(text.Text), &out); err != nil {
		t.Fatalf("CallTool(%s) output is not JSON: %v", tool, err)
	}
	return out, res.IsError
}

func TestListTools(t *testing.T) {
	h := newHarness(t)

	got := map[string]bool{}
	for tool, err := range h.client.Tools(context.Background(), nil) {
		if err != nil {
			t.Fatalf("Tools: %v", err)
		}
		got[tool.Name] = true
	}
	if len(got) != len(toolNames) {
		t.Errorf("got %d tools, want %d", len(got), len(toolNames))
	}
	for _, name := range toolNames {
		if !got[name] {
			t.Errorf("tool %s not registered", name)
		}
	}
}

func TestSaveSessionAndMessages(t *testing.T) {
	h := newHarness(t)

	out, isErr := h.call(t, ToolSaveSession, map[string]any{
		"title": "Storage design",
		"tags":  []string{"db"},
		"meta":  map[string]any{"project": "memory"},
	})
	if isErr {
		t.Fatalf("save session failed: %v", out)
	}
	if out["success"] != true || out["title"] != "Storage design" {
		t.Errorf("unexpected save session output: %v", out)
	}
	id, _ := out["session_id"].(string)
	if !strings.HasPrefix(id, "sess_") {
		t.Errorf("session_id = %q, want sess_ prefix", id)
	}
	if _, ok := out["created_at"].(float64); !ok {
		t.Errorf("created_at = %v, want unix seconds", out["created_at"])
	}

	out, isErr = h.call(t, ToolSaveMessages, map[string]any{
		"session_id": id,
		"messages": []map[string]any{
			{"role": "user", "content": "use sqlite"},
			{"role": "assistant", "content": "agreed", "created_at": 1700000000},
		},
	})
	if isErr {
		t.Fatalf("save messages failed: %v", out)
	}
	if out["saved_count"] != float64(2) {
		t.Errorf("saved_count = %v, want 2", out["saved_count"])
	}
	if ids, _ := out["message_ids"].([]any); len(ids) != 2 {
		t.Errorf("message_ids = %v, want 2 ids", out["message_ids"])
	}

	msgs, err := h.store.ListMessages(context.Background(), id, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got := msgs[0].CreatedAt.Unix(); got != 1700000000 {
		t.Errorf("explicit created_at = %d, want 1700000000", got)
	}
}

func TestToolValidation(t *testing.T) {
	h := newHarness(t)
	sess := testutil.SeedSession(t, h.store, "seeded", "hello")

	tests := []struct {
		name    string
		tool    string
		args    map[string]any
		wantErr string
	}{
		{"empty title", ToolSaveSession, map[string]any{"title": ""}, "title must be"},
		{"long title", ToolSaveSession, map[string]any{"title": strings.Repeat("t", 201)}, "title must be"},
		{"long tag", ToolSaveSession, map[string]any{"title": "ok", "tags": []string{strings.Repeat("x", 51)}}, "exceeds 50"},
		{"no messages", ToolSaveMessages, map[string]any{"session_id": sess.ID, "messages": []any{}}, "at least one message"},
		{"bad role", ToolSaveMessages, map[string]any{"session_id": sess.ID, "messages": []map[string]any{{"role": "robot", "content": "x"}}}, "invalid role"},
		{"empty content", ToolSaveMessages, map[string]any{"session_id": sess.ID, "messages": []map[string]any{{"role": "user", "content": ""}}}, "content cannot be empty"},
		{"unknown session", ToolSaveMessages, map[string]any{"session_id": "sess_missing", "messages": []map[string]any{{"role": "user", "content": "x"}}}, "session not found"},
		{"limit too large", ToolListSessions, map[string]any{"limit": 101}, "limit must be between 1 and 100"},
		{"negative offset", ToolListSessions, map[string]any{"offset": -1}, "offset must be at least 0"},
		{"message limit zero", ToolGetSession, map[string]any{"session_id": sess.ID, "message_limit": 0}, "message_limit"},
		{"missing session", ToolGetSession, map[string]any{"session_id": "sess_missing"}, "session not found"},
		{"empty query", ToolSearch, map[string]any{"query": ""}, "query cannot be empty"},
		{"search top_k", ToolSearch, map[string]any{"query": "x", "top_k": 51}, "top_k must be between 1 and 50"},
		{"search days", ToolSearch, map[string]any{"query": "x", "time_range_days": 0}, "time_range_days"},
		{"bad style", ToolSummarizeSession, map[string]any{"session_id": sess.ID, "style": "long"}, "invalid style"},
		{"inject neither", ToolInject, map[string]any{}, "invalid injection request"},
		{"inject both", ToolInject, map[string]any{"session_id": sess.ID, "query": "x"}, "invalid injection request"},
		{"inject top_k", ToolInject, map[string]any{"query": "x", "top_k": 11}, "top_k must be between 1 and 10"},
		{"inject no results", ToolInject, map[string]any{"query": "nothing-matches"}, "no results found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, isErr := h.call(t, tt.tool, tt.args)
			if !isErr {
				t.Fatalf("expected IsError result, got %v", out)
			}
			if out["tool"] != tt.tool {
				t.Errorf("tool = %v, want %s", out["tool"], tt.tool)
			}
			msg, _ := out["error"].(string)
			if !strings.Contains(msg, tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", msg, tt.wantErr)
			}
		})
	}
}

func TestListAndGetSession(t *testing.T) {
	h := newHarness(t)
	first := testutil.SeedSession(t, h.store, "first", "a", "b", "c")
	testutil.SeedSession(t, h.store, "second", "d")
	if err := h.store.WriteSummary(context.Background(), first.ID, session.StyleBrief, briefSummary); err != nil {
		t.Fatal(err)
	}

	out, isErr := h.call(t, ToolListSessions, map[string]any{"limit": 1})
	if isErr {
		t.Fatalf("list sessions failed: %v", out)
	}
	if out["total"] != float64(2) || out["has_more"] != true || out["limit"] != float64(1) {
		t.Errorf("unexpected pagination: %v", out)
	}
	sessions, _ := out["sessions"].([]any)
	if len(sessions) != 1 {
		t.Fatalf("got %d sessions, want 1", len(sessions))
	}

	out, isErr = h.call(t, ToolGetSession, map[string]any{"session_id": first.ID, "message_limit": 2})
	if isErr {
		t.Fatalf("get session failed: %v", out)
	}
	if out["message_count"] != float64(3) {
		t.Errorf("message_count = %v, want 3", out["message_count"])
	}
	if msgs, _ := out["messages"].([]any); len(msgs) != 2 {
		t.Errorf("got %d messages, want 2", len(msgs))
	}
	sess, _ := out["session"].(map[string]any)
	if sess["summary_brief"] != briefSummary {
		t.Errorf("summary_brief = %v, want cached summary", sess["summary_brief"])
	}
	if v, present := sess["summary_detailed"]; !present || v != nil {
		t.Errorf("summary_detailed = %v (present %v), want null", v, present)
	}

	out, _ = h.call(t, ToolGetSession, map[string]any{"session_id": first.ID, "include_messages": false})
	if msgs, _ := out["messages"].([]any); len(msgs) != 0 {
		t.Errorf("include_messages=false returned %d messages", len(msgs))
	}
	if out["message_count"] != float64(3) {
		t.Errorf("message_count = %v, want 3", out["message_count"])
	}
}

func TestSearchTruncatesSnippet(t *testing.T) {
	h := newHarness(t)
	long := "storage " + strings.Repeat("x", 300)
	testutil.SeedSession(t, h.store, "storage notes", long, "unrelated")

	out, isErr := h.call(t, ToolSearch, map[string]any{"query": "storage"})
	if isErr {
		t.Fatalf("search failed: %v", out)
	}
	if out["total_hits"] != float64(1) {
		t.Fatalf("total_hits = %v, want 1", out["total_hits"])
	}
	if out["fts5_query"] != `"storage"` {
		t.Errorf("fts5_query = %v, want quoted term", out["fts5_query"])
	}
	hit := out["hits"].([]any)[0].(map[string]any)
	snippet, _ := hit["snippet"].(string)
	if len(snippet) != 203 || !strings.HasSuffix(snippet, "...") {
		t.Errorf("snippet length = %d, want 200 chars plus ellipsis", len(snippet))
	}
	if hit["session_title"] != "storage notes" {
		t.Errorf("session_title = %v", hit["session_title"])
	}
}

func TestSummarizeAndInject(t *testing.T) {
	h := newHarness(t, llm.MockResponse{Content: briefSummary})
	sess := testutil.SeedSession(t, h.store, "Storage design", "we should use sqlite", "agreed")

	out, isErr := h.call(t, ToolSummarizeSession, map[string]any{"session_id": sess.ID})
	if isErr {
		t.Fatalf("summarize failed: %v", out)
	}
	if out["cached"] != false || out["style"] != "brief" || out["summary"] != briefSummary {
		t.Errorf("unexpected summarize output: %v", out)
	}

	out, _ = h.call(t, ToolSummarizeSession, map[string]any{"session_id": sess.ID})
	if out["cached"] != true {
		t.Errorf("second summarize cached = %v, want true", out["cached"])
	}
	if n := len(h.mock.Calls()); n != 1 {
		t.Errorf("LLM called %d times, want 1", n)
	}

	out, isErr = h.call(t, ToolInject, map[string]any{"session_id": sess.ID})
	if isErr {
		t.Fatalf("inject failed: %v", out)
	}
	if out["method"] != "session" || out["style"] != "brief" {
		t.Errorf("unexpected inject output: %v", out)
	}
	block, _ := out["injection_block"].(string)
	for _, want := range []string{"[MEMORY INJECTION]", "- Uses SQLite", "- session_id: " + sess.ID, "[/MEMORY INJECTION]"} {
		if !strings.Contains(block, want) {
			t.Errorf("injection_block missing %q:\n%s", want, block)
		}
	}

	out, isErr = h.call(t, ToolInject, map[string]any{"query": "sqlite", "top_k": 3})
	if isErr {
		t.Fatalf("query inject failed: %v", out)
	}
	if out["method"] != "query" {
		t.Errorf("method = %v, want query", out["method"])
	}
	if sources, _ := out["sources"].([]any); len(sources) != 1 || sources[0] != sess.ID {
		t.Errorf("sources = %v, want [%s]", out["sources"], sess.ID)
	}
}

func TestToolCallMetrics(t *testing.T) {
	h := newHarness(t)
	h.call(t, ToolSaveSession, map[string]any{"title": "ok"})
	h.call(t, ToolSaveSession, map[string]any{"title": ""})

	n, err := promtestutil.GatherAndCount(h.metrics.Registry(), "chatmemory_tool_calls_total")
	if err != nil {
		t.Fatalf("GatherAndCount: %v", err)
	}
	if n != 2 {
		t.Errorf("got %d tool call series, want 2 (ok and error)", n)
	}
}
