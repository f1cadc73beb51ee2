package runner

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/maraichr/cellforge/internal/batch"
	"github.com/maraichr/cellforge/internal/jobs"
	"github.com/maraichr/cellforge/internal/llm"
	"github.com/maraichr/cellforge/internal/store"
	"github.com/maraichr/cellforge/pkg/models"
)

type memObjects struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memObjects) Get(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[key]
	if !ok {
		return nil, errors.New("missing " + key)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memObjects) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data[key] = b
	m.mu.Unlock()
	return nil
}

type fakeRuns struct {
	mu       sync.Mutex
	runs     map[uuid.UUID]models.Run
	finished []models.Completion
	applied  int
	failMsg  string
}

func (f *fakeRuns) GetRun(_ context.Context, id uuid.UUID) (models.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runs[id]
	if !ok {
		return models.Run{}, store.ErrNotFound
	}
	return r, nil
}

func (f *fakeRuns) MarkRunStarted(_ context.Context, id uuid.UUID, total int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.runs[id]
	if r.Status != models.RunStateQueued {
		return store.ErrNotFound
	}
	r.Status, r.Total = models.RunStateRunning, total
	f.runs[id] = r
	return nil
}

func (f *fakeRuns) UpdateRunStatus(_ context.Context, id uuid.UUID, status models.RunState, errMsg *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.runs[id]
	r.Status = status
	if errMsg != nil {
		f.failMsg = *errMsg
	}
	f.runs[id] = r
	return nil
}

func (f *fakeRuns) FinishRun(_ context.Context, c models.Completion, applied int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.runs[c.RunID]
	r.Status = c.State
	f.runs[c.RunID] = r
	f.finished = append(f.finished, c)
	f.applied = applied
	return nil
}

type fakeSignals struct {
	mu       sync.Mutex
	progress []models.Progress
	cancel   bool
	cleared  bool
}

func (s *fakeSignals) Sink(context.Context, uuid.UUID) batch.Sink {
	return batch.SinkFuncs{OnProgress: func(p models.Progress) {
		s.mu.Lock()
		s.progress = append(s.progress, p)
		s.mu.Unlock()
	}}
}

func (s *fakeSignals) WatchCancel(_ context.Context, _ uuid.UUID, onCancel func()) {
	if s.cancel {
		onCancel()
	}
}

func (s *fakeSignals) Clear(context.Context, uuid.UUID) { s.cleared = true }

type upper struct{}

func (upper) ProcessCell(_ context.Context, req llm.CellRequest) llm.Outcome {
	return llm.Outcome{Success: true, Value: strings.ToUpper(req.Content)}
}

func fixture(t *testing.T, mod func(*models.Run)) (*fakeRuns, *memObjects, uuid.UUID) {
	t.Helper()
	id := uuid.New()
	run := models.Run{
		ID:          id,
		Status:      models.RunStateQueued,
		Source:      "uploads/people.csv",
		Columns:     []string{"Name"},
		StartRow:    0,
		EndRow:      10,
		Backend:     "openai",
		BatchSize:   2,
		Temperature: 0.3,
		MaxTokens:   50,
		AutoSave:    true,
	}
	if mod != nil {
		mod(&run)
	}
	runs := &fakeRuns{runs: map[uuid.UUID]models.Run{id: run}}
	objs := &memObjects{data: map[string][]byte{
		"uploads/people.csv": []byte("Name,Age\njohn,30\njane,25\n"),
	}}
	return runs, objs, id
}

func newRunner(runs RunStore, objs *memObjects, sig Signals) *Runner {
	return New(runs, objs, sig, func(string, string) (batch.CellProcessor, error) {
		return upper{}, nil
	}, nil, batch.WithPacing(batch.Pacing{}))
}

func TestHandle_WritesBackAndStores(t *testing.T) {
	runs, objs, id := fixture(t, nil)
	sig := &fakeSignals{}

	if err := newRunner(runs, objs, sig).Handle(context.Background(), jobs.RunMessage{RunID: id}); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if len(runs.finished) != 1 {
		t.Fatalf("finished = %d", len(runs.finished))
	}
	c := runs.finished[0]
	if c.State != models.RunStateCompleted || c.Succeeded != 2 || runs.applied != 2 {
		t.Errorf("completion = %+v applied=%d", c, runs.applied)
	}
	if got := string(objs.data["uploads/people.csv"]); got != "Name,Age\nJOHN,30\nJANE,25\n" {
		t.Errorf("workbook = %q", got)
	}
	if len(sig.progress) == 0 || !sig.cleared {
		t.Errorf("progress=%d cleared=%v", len(sig.progress), sig.cleared)
	}
}

func TestHandle_NoAutoSaveLeavesWorkbook(t *testing.T) {
	runs, objs, id := fixture(t, func(r *models.Run) { r.AutoSave = false })

	if err := newRunner(runs, objs, &fakeSignals{}).Handle(context.Background(), jobs.RunMessage{RunID: id}); err != nil {
		t.Fatal(err)
	}
	if runs.applied != 0 {
		t.Errorf("applied = %d, want 0", runs.applied)
	}
	if got := string(objs.data["uploads/people.csv"]); got != "Name,Age\njohn,30\njane,25\n" {
		t.Errorf("workbook changed: %q", got)
	}
}

func TestHandle_FilterRestrictsRows(t *testing.T) {
	runs, objs, id := fixture(t, func(r *models.Run) { r.Filter = "Age > 26" })

	if err := newRunner(runs, objs, &fakeSignals{}).Handle(context.Background(), jobs.RunMessage{RunID: id}); err != nil {
		t.Fatal(err)
	}
	if len(runs.finished) != 1 {
		t.Fatalf("finished = %d", len(runs.finished))
	}
	c := runs.finished[0]
	if len(c.Results) != 1 || c.Results[0].Row != 0 || c.Results[0].Value != "JOHN" {
		t.Errorf("results = %+v", c.Results)
	}
}

func TestHandle_CancelRequested(t *testing.T) {
	runs, objs, id := fixture(t, nil)
	sig := &fakeSignals{cancel: true}

	if err := newRunner(runs, objs, sig).Handle(context.Background(), jobs.RunMessage{RunID: id}); err != nil {
		t.Fatal(err)
	}
	if c := runs.finished[0]; c.State != models.RunStateCancelled {
		t.Errorf("state = %s, want cancelled", c.State)
	}
}

// stopAfterFirst cancels the worker context once the first cell is done.
type stopAfterFirst struct {
	stop context.CancelFunc
}

func (p stopAfterFirst) ProcessCell(_ context.Context, req llm.CellRequest) llm.Outcome {
	p.stop()
	return llm.Outcome{Success: true, Value: strings.ToUpper(req.Content)}
}

func TestHandle_ShutdownIsNotACancel(t *testing.T) {
	runs, objs, id := fixture(t, nil)
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	rn := New(runs, objs, &fakeSignals{}, func(string, string) (batch.CellProcessor, error) {
		return stopAfterFirst{stop: stop}, nil
	}, nil, batch.WithPacing(batch.Pacing{}))
	if err := rn.Handle(ctx, jobs.RunMessage{RunID: id}); err != nil {
		t.Fatal(err)
	}
	if len(runs.finished) != 1 {
		t.Fatalf("finished = %d", len(runs.finished))
	}
	c := runs.finished[0]
	if c.State != models.RunStateFailed || c.Err != "interrupted by worker shutdown" {
		t.Errorf("completion = %s %q, want failed with shutdown error", c.State, c.Err)
	}
	if c.Succeeded != 1 || runs.applied != 1 {
		t.Errorf("succeeded=%d applied=%d, want partial results kept", c.Succeeded, runs.applied)
	}
}

func TestHandle_PreparationFailures(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*models.Run)
		want string
	}{
		{"missing workbook", func(r *models.Run) { r.Source = "uploads/none.csv" }, "open uploads/none.csv"},
		{"bad filter", func(r *models.Run) { r.Filter = "Age >" }, "filter"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runs, objs, id := fixture(t, tt.mod)
			if err := newRunner(runs, objs, &fakeSignals{}).Handle(context.Background(), jobs.RunMessage{RunID: id}); err != nil {
				t.Fatalf("Handle should ack, got %v", err)
			}
			if runs.runs[id].Status != models.RunStateFailed || !strings.Contains(runs.failMsg, tt.want) {
				t.Errorf("status=%s msg=%q", runs.runs[id].Status, runs.failMsg)
			}
		})
	}
}

func TestHandle_UnknownBackend(t *testing.T) {
	runs, objs, id := fixture(t, nil)
	r := New(runs, objs, &fakeSignals{}, func(string, string) (batch.CellProcessor, error) {
		return nil, errors.New("backend nope is not configured")
	}, nil)
	if err := r.Handle(context.Background(), jobs.RunMessage{RunID: id}); err != nil {
		t.Fatal(err)
	}
	if runs.runs[id].Status != models.RunStateFailed {
		t.Errorf("status = %s", runs.runs[id].Status)
	}
}

func TestHandle_SkipsFinishedAndUnknown(t *testing.T) {
	runs, objs, id := fixture(t, func(r *models.Run) { r.Status = models.RunStateCompleted })
	rn := newRunner(runs, objs, &fakeSignals{})

	if err := rn.Handle(context.Background(), jobs.RunMessage{RunID: id}); err != nil {
		t.Fatal(err)
	}
	if err := rn.Handle(context.Background(), jobs.RunMessage{RunID: uuid.New()}); err != nil {
		t.Fatal(err)
	}
	if len(runs.finished) != 0 {
		t.Errorf("finished = %d, want 0", len(runs.finished))
	}
}

func TestHandle_InterruptedRunIsFailed(t *testing.T) {
	runs, objs, id := fixture(t, func(r *models.Run) { r.Status = models.RunStateRunning })
	if err := newRunner(runs, objs, &fakeSignals{}).Handle(context.Background(), jobs.RunMessage{RunID: id}); err != nil {
		t.Fatal(err)
	}
	if runs.runs[id].Status != models.RunStateFailed || runs.failMsg != "interrupted by worker restart" {
		t.Errorf("status=%s msg=%q", runs.runs[id].Status, runs.failMsg)
	}
}

func TestClientProcessors(t *testing.T) {
	c, err := llm.NewClient(llm.KindLocal, map[llm.Kind]llm.Variant{
		llm.KindLocal: {Backend: stubBackend{}, Model: "llama3", MaxPerMinute: 10},
	})
	if err != nil {
		t.Fatal(err)
	}
	pf := ClientProcessors(c)
	if _, err := pf("ollama", ""); err != nil {
		t.Errorf("ollama: %v", err)
	}
	if _, err := pf("openai", ""); err == nil {
		t.Error("expected error for unconfigured openai")
	}
	if _, err := pf("nope", ""); err == nil {
		t.Error("expected error for unknown backend")
	}
}

type stubBackend struct{}

func (stubBackend) Complete(context.Context, llm.Completion) (string, error) { return "ok", nil }
func (stubBackend) ListModels(context.Context) ([]llm.Model, error)          { return nil, nil }
func (stubBackend) Ping(context.Context, string) error                       { return nil }
