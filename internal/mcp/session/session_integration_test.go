//go:build integration

package session

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/valkey-io/valkey-go"
)

func setupValkey(t *testing.T) valkey.Client {
	t.Helper()
	addr := os.Getenv("TEST_VALKEY_ADDR")
	if addr == "" {
		t.Fatal("TEST_VALKEY_ADDR not set")
	}
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{addr},
	})
	if err != nil {
		t.Skipf("valkey not available: %v", err)
	}
	ctx := context.Background()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		t.Skipf("valkey ping failed: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestManager_SaveAndLoad(t *testing.T) {
	client := setupValkey(t)
	mgr := NewManager(client)
	ctx := context.Background()

	sess, err := mgr.Load(ctx, "")
	if err != nil {
		t.Fatalf("load new session: %v", err)
	}
	if _, err := uuid.Parse(sess.ID); err != nil {
		t.Fatalf("auto-generated ID should be a UUID: %v", err)
	}

	runID := uuid.New()
	sess.UseWorkbook("uploads/people.csv")
	sess.UseBackend("ollama", "llama3")
	sess.AddRun(runID)

	if err := mgr.Save(ctx, sess); err != nil {
		t.Fatalf("save session: %v", err)
	}
	t.Cleanup(func() { client.Do(ctx, client.B().Del().Key(sessionKeyPrefix+sess.ID).Build()) })

	loaded, err := mgr.Load(ctx, sess.ID)
	if err != nil {
		t.Fatalf("reload session: %v", err)
	}
	if loaded.Workbook != "uploads/people.csv" || loaded.Backend != "ollama" || loaded.Model != "llama3" {
		t.Errorf("context not preserved: %+v", loaded)
	}
	if last, ok := loaded.LastRun(); !ok || last != runID {
		t.Errorf("last run = %s, want %s", last, runID)
	}
}

func TestManager_Load_NonexistentSession(t *testing.T) {
	client := setupValkey(t)
	mgr := NewManager(client)

	sess, err := mgr.Load(context.Background(), "nonexistent-session-"+uuid.New().String())
	if err != nil {
		t.Fatalf("load nonexistent should not error: %v", err)
	}
	if sess.Workbook != "" {
		t.Error("new session should have no workbook")
	}
}

func TestManager_UpdatedAt_Changes(t *testing.T) {
	client := setupValkey(t)
	mgr := NewManager(client)
	ctx := context.Background()

	sess, _ := mgr.Load(ctx, "")
	originalUpdated := sess.UpdatedAt

	time.Sleep(10 * time.Millisecond)
	if err := mgr.Save(ctx, sess); err != nil {
		t.Fatalf("save: %v", err)
	}
	if !sess.UpdatedAt.After(originalUpdated) {
		t.Error("UpdatedAt should advance on save")
	}

	client.Do(ctx, client.B().Del().Key(sessionKeyPrefix+sess.ID).Build())
}
