package session

import (
	"testing"

	"github.com/google/uuid"
)

func TestNew_Initialized(t *testing.T) {
	sess := New("test-id")
	if sess.ID != "test-id" {
		t.Errorf("session ID should be 'test-id', got %q", sess.ID)
	}
	if sess.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}
}

func TestSource_PrefersExplicit(t *testing.T) {
	sess := New("test")
	if got := sess.Source(""); got != "" {
		t.Errorf("empty session should resolve to empty, got %q", got)
	}
	sess.UseWorkbook("uploads/a.csv")
	if got := sess.Source(""); got != "uploads/a.csv" {
		t.Errorf("expected session workbook, got %q", got)
	}
	if got := sess.Source("uploads/b.xlsx"); got != "uploads/b.xlsx" {
		t.Errorf("explicit source should win, got %q", got)
	}
}

func TestUseBackend(t *testing.T) {
	sess := New("test")
	sess.UseBackend("ollama", "llama3")
	if sess.Backend != "ollama" || sess.Model != "llama3" {
		t.Fatalf("got %s/%s", sess.Backend, sess.Model)
	}

	sess.UseBackend("", "mistral")
	if sess.Backend != "ollama" || sess.Model != "mistral" {
		t.Errorf("model-only change: got %s/%s", sess.Backend, sess.Model)
	}

	sess.UseBackend("openai", "")
	if sess.Backend != "openai" || sess.Model != "" {
		t.Errorf("switching backend should clear the model: got %s/%s", sess.Backend, sess.Model)
	}
}

func TestAddRun_TruncatesOldest(t *testing.T) {
	sess := New("test")
	var last uuid.UUID
	for i := 0; i < maxRecentRuns+5; i++ {
		last = uuid.New()
		sess.AddRun(last)
	}
	if len(sess.RecentRuns) != maxRecentRuns {
		t.Errorf("expected %d runs, got %d", maxRecentRuns, len(sess.RecentRuns))
	}
	if got, ok := sess.LastRun(); !ok || got != last {
		t.Errorf("LastRun = %s, want %s", got, last)
	}
}

func TestLastRun_SkipsInvalid(t *testing.T) {
	sess := &Session{RecentRuns: []string{uuid.NewString(), "garbage"}}
	if _, ok := sess.LastRun(); !ok {
		t.Error("expected the valid entry to be found")
	}
	if _, ok := (&Session{}).LastRun(); ok {
		t.Error("empty session has no last run")
	}
}
