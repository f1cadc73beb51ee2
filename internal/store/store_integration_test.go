//go:build integration

package store

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"

	"github.com/maraichr/cellforge/internal/store/postgres"
	"github.com/maraichr/cellforge/pkg/models"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, dsn, 4, 0)
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	t.Cleanup(pool.Close)

	s := New(pool)
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	// second pass is a no-op
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate twice: %v", err)
	}
	return s
}

func newRun() *models.Run {
	return &models.Run{
		ID:           uuid.New(),
		Status:       models.RunStateQueued,
		Source:       "uploads/people.xlsx",
		Columns:      []string{"Name"},
		StartRow:     0,
		EndRow:       2,
		SystemPrompt: "sys",
		UserPrompt:   "Translate to French",
		Backend:      "openai",
		Model:        "gpt-3.5-turbo",
		BatchSize:    10,
		Temperature:  0.3,
		MaxTokens:    150,
		Total:        2,
	}
}

func TestStore_RunLifecycle(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	run := newRun()
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("create run: %v", err)
	}
	if run.CreatedAt.IsZero() {
		t.Error("created_at not filled")
	}

	if err := s.MarkRunStarted(ctx, run.ID, 2); err != nil {
		t.Fatalf("mark started: %v", err)
	}
	if err := s.MarkRunStarted(ctx, run.ID, 2); !errors.Is(err, ErrNotFound) {
		t.Errorf("second start err = %v, want ErrNotFound", err)
	}

	completion := models.Completion{
		RunID: run.ID,
		State: models.RunStateCompleted,
		Results: []models.CellResult{
			{Row: 0, Column: "Name", Success: true, Value: "Jean"},
			{Row: 1, Column: "Name", Error: "API Error: boom"},
		},
		Succeeded: 1,
		Failed:    1,
	}
	if err := s.FinishRun(ctx, completion, 1); err != nil {
		t.Fatalf("finish run: %v", err)
	}

	got, err := s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Status != models.RunStateCompleted || got.Succeeded != 1 || got.Failed != 1 || got.Applied != 1 {
		t.Errorf("run = %+v", got)
	}
	if got.StartedAt == nil || got.FinishedAt == nil {
		t.Error("timestamps not set")
	}

	results, err := s.ListCellResults(ctx, postgres.ListCellResultsParams{RunID: run.ID, Limit: 10})
	if err != nil {
		t.Fatalf("list results: %v", err)
	}
	if len(results) != 2 || results[0].Value != "Jean" || results[1].Error != "API Error: boom" {
		t.Errorf("results = %+v", results)
	}

	failed, err := s.ListCellResults(ctx, postgres.ListCellResultsParams{RunID: run.ID, FailedOnly: true, Limit: 10})
	if err != nil || len(failed) != 1 {
		t.Errorf("failed results = %+v, %v", failed, err)
	}
}

func TestStore_GetRunNotFound(t *testing.T) {
	s := setupStore(t)
	if _, err := s.GetRun(context.Background(), uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestStore_ListRunsByStatus(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	run := newRun()
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatal(err)
	}
	msg := "worker lost"
	if err := s.UpdateRunStatus(ctx, run.ID, models.RunStateFailed, &msg); err != nil {
		t.Fatal(err)
	}

	runs, err := s.ListRuns(ctx, postgres.ListRunsParams{Status: models.RunStateFailed, Limit: 100})
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, r := range runs {
		if r.Status != models.RunStateFailed {
			t.Errorf("unexpected status %s", r.Status)
		}
		if r.ID == run.ID {
			found = true
			if r.ErrorMessage == nil || *r.ErrorMessage != msg {
				t.Errorf("error message = %v", r.ErrorMessage)
			}
		}
	}
	if !found {
		t.Error("run not listed")
	}
}
