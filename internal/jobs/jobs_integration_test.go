//go:build integration

package jobs

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/valkey-io/valkey-go"

	"github.com/maraichr/cellforge/pkg/models"
)

func setupValkey(t *testing.T) valkey.Client {
	t.Helper()
	addr := os.Getenv("TEST_VALKEY_ADDR")
	if addr == "" {
		t.Skip("TEST_VALKEY_ADDR not set")
	}
	client, err := valkey.NewClient(valkey.ClientOption{InitAddress: []string{addr}})
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

func TestQueue_EnqueueConsume(t *testing.T) {
	client := setupValkey(t)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	consumer := NewConsumer(client, "test-"+uuid.NewString(), nil)
	if err := consumer.EnsureGroup(ctx); err != nil {
		t.Fatalf("ensure group: %v", err)
	}
	// second call hits BUSYGROUP
	if err := consumer.EnsureGroup(ctx); err != nil {
		t.Fatalf("ensure group twice: %v", err)
	}

	runID := uuid.New()
	if _, err := NewProducer(client).Enqueue(ctx, RunMessage{RunID: runID, Trigger: "api"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	got := make(chan RunMessage, 1)
	consumeCtx, stop := context.WithCancel(ctx)
	go func() {
		_ = consumer.Consume(consumeCtx, func(_ context.Context, m RunMessage) error {
			if m.RunID == runID {
				got <- m
			}
			return nil
		})
	}()

	select {
	case m := <-got:
		if m.Trigger != "api" {
			t.Errorf("trigger = %q", m.Trigger)
		}
	case <-ctx.Done():
		t.Fatal("message not consumed")
	}
	stop()
}

func TestStreamSink_ProgressAndEvents(t *testing.T) {
	client := setupValkey(t)
	ctx := context.Background()
	runID := uuid.New()
	t.Cleanup(func() {
		client.Do(ctx, client.B().Del().Key(ProgressStream(runID), snapshotKey(runID)).Build())
	})

	if _, err := LoadProgress(ctx, client, runID); !errors.Is(err, ErrNoProgress) {
		t.Fatalf("expected ErrNoProgress, got %v", err)
	}

	sink := NewStreamSink(ctx, client, runID, time.Minute, nil)
	sink.Progress(models.Progress{RunID: runID, Processed: 1, Total: 2, Status: "Processing batch 1 of 1: 1/2 cells"})
	sink.Complete(models.Completion{RunID: runID, State: models.RunStateCompleted, Succeeded: 2})

	p, err := LoadProgress(ctx, client, runID)
	if err != nil {
		t.Fatalf("load progress: %v", err)
	}
	if p.Processed != 1 || p.Total != 2 {
		t.Errorf("snapshot = %+v", p)
	}

	events, err := ReadEvents(ctx, client, runID, "", 10)
	if err != nil {
		t.Fatalf("read events: %v", err)
	}
	if len(events) != 2 || events[0].Type != EventProgress || events[1].Type != EventComplete {
		t.Fatalf("events = %+v", events)
	}

	rest, err := ReadEvents(ctx, client, runID, events[0].ID, 10)
	if err != nil || len(rest) != 1 {
		t.Errorf("events after first = %+v, %v", rest, err)
	}
}

func TestCancelFlag(t *testing.T) {
	client := setupValkey(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	runID := uuid.New()
	t.Cleanup(func() { _ = ClearCancel(context.Background(), client, runID) })

	fired := make(chan struct{})
	go WatchCancel(ctx, client, runID, 50*time.Millisecond, func() { close(fired) })

	if err := RequestCancel(ctx, client, runID, time.Minute); err != nil {
		t.Fatalf("request cancel: %v", err)
	}
	select {
	case <-fired:
	case <-ctx.Done():
		t.Fatal("cancel not observed")
	}
}
