package summary

import (
	"context"
	"testing"
	"time"

	"github.com/szaher/chatmemory/internal/llm"
	"github.com/szaher/chatmemory/internal/session"
	"github.com/szaher/chatmemory/internal/testutil"
)

func TestWarmerRunOnce(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore()

	warm := testutil.SeedSession(t, store, "already warm", "x")
	_ = store.WriteSummary(ctx, warm.ID, session.StyleBrief, briefSummary)
	cold := testutil.SeedSession(t, store, "cold", "we picked postgres")
	empty := testutil.SeedSession(t, store, "empty")

	mock := llm.NewMockClient(llm.MockResponse{Content: briefSummary})
	w := NewWarmer(New(store, mock), 10)

	n, err := w.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n != 1 {
		t.Errorf("generated = %d, want 1", n)
	}
	if calls := len(mock.Calls()); calls != 1 {
		t.Errorf("client called %d times, want 1", calls)
	}

	got, _ := store.GetSession(ctx, cold.ID)
	if got.SummaryBrief != briefSummary {
		t.Errorf("cold session not warmed: %q", got.SummaryBrief)
	}
	got, _ = store.GetSession(ctx, empty.ID)
	if got.SummaryBrief != "" {
		t.Errorf("empty session got a summary: %q", got.SummaryBrief)
	}

	// Everything with messages is now cached.
	n, _ = w.RunOnce(ctx)
	if n != 0 {
		t.Errorf("second run generated %d, want 0", n)
	}
}

func TestWarmerStart(t *testing.T) {
	w := NewWarmer(New(session.NewMemoryStore(), llm.NewMockClient()), 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := w.Start(ctx, "not a schedule"); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
	if err := w.Start(ctx, "@every 1h"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := w.Start(ctx, "@every 1h"); err == nil {
		t.Error("expected error starting twice")
	}
	w.Stop()
	if err := w.Start(ctx, "@every 1h"); err != nil {
		t.Errorf("restart after Stop: %v", err)
	}
	w.Stop()
}

func TestWarmerStopReleasesWatcher(t *testing.T) {
	w := NewWarmer(New(session.NewMemoryStore(), llm.NewMockClient()), 0)
	if err := w.Start(context.Background(), "@every 1h"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	w.Stop()
	w.Stop()

	exited := make(chan struct{})
	go func() {
		w.watchers.Wait()
		close(exited)
	}()
	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		t.Fatal("context watcher still running after Stop")
	}
}
