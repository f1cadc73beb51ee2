package handler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/maraichr/cellforge/internal/config"
	"github.com/maraichr/cellforge/internal/jobs"
	"github.com/maraichr/cellforge/internal/llm"
	"github.com/maraichr/cellforge/internal/objstore"
	"github.com/maraichr/cellforge/internal/store"
	"github.com/maraichr/cellforge/internal/store/postgres"
	"github.com/maraichr/cellforge/pkg/models"
)

const peopleCSV = "Name,Age,City\njohn,30,Paris\njane,25,Lyon\nbob,41,Nice\n"

type memObjects struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newObjects() *memObjects {
	return &memObjects{data: map[string][]byte{"uploads/people.csv": []byte(peopleCSV)}}
}

func (m *memObjects) Get(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[key]
	if !ok {
		return nil, objstore.ErrNotFound
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

func (m *memObjects) List(_ context.Context, prefix string) ([]objstore.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []objstore.Object
	for k, b := range m.data {
		if strings.HasPrefix(k, prefix) {
			out = append(out, objstore.Object{Key: k, Size: int64(len(b))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *memObjects) Bucket() string { return "workbooks" }

type fakeRuns struct {
	mu      sync.Mutex
	runs    map[uuid.UUID]models.Run
	results map[uuid.UUID][]models.CellResult
	lastMsg string
}

func newRuns() *fakeRuns {
	return &fakeRuns{runs: map[uuid.UUID]models.Run{}, results: map[uuid.UUID][]models.CellResult{}}
}

func (f *fakeRuns) CreateRun(_ context.Context, r *models.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[r.ID] = *r
	return nil
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

func (f *fakeRuns) ListRuns(_ context.Context, arg postgres.ListRunsParams) ([]models.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.Run{}
	for _, r := range f.runs {
		if arg.Status == "" || r.Status == arg.Status {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRuns) ListCellResults(_ context.Context, arg postgres.ListCellResultsParams) ([]models.CellResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.CellResult{}
	for _, r := range f.results[arg.RunID] {
		if arg.FailedOnly && r.Success {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeRuns) UpdateRunStatus(_ context.Context, id uuid.UUID, status models.RunState, errMsg *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runs[id]
	if !ok {
		return store.ErrNotFound
	}
	r.Status = status
	if errMsg != nil {
		f.lastMsg = *errMsg
	}
	f.runs[id] = r
	return nil
}

type fakeQueue struct {
	msgs []jobs.RunMessage
	err  error
}

func (q *fakeQueue) Enqueue(_ context.Context, msg jobs.RunMessage) (string, error) {
	if q.err != nil {
		return "", q.err
	}
	q.msgs = append(q.msgs, msg)
	return "1-0", nil
}

type fakeSignals struct {
	cancelled []uuid.UUID
	progress  map[uuid.UUID]models.Progress
	events    []jobs.Event
}

func (s *fakeSignals) RequestCancel(_ context.Context, id uuid.UUID) error {
	s.cancelled = append(s.cancelled, id)
	return nil
}

func (s *fakeSignals) Progress(_ context.Context, id uuid.UUID) (models.Progress, error) {
	p, ok := s.progress[id]
	if !ok {
		return models.Progress{}, jobs.ErrNoProgress
	}
	return p, nil
}

func (s *fakeSignals) Events(_ context.Context, _ uuid.UUID, after string, _ int64) ([]jobs.Event, error) {
	var out []jobs.Event
	for _, e := range s.events {
		if after == "" || e.ID > after {
			out = append(out, e)
		}
	}
	return out, nil
}

// echoBackend answers every prompt with a fixed reply.
type echoBackend struct {
	reply string
	err   error
}

func (b echoBackend) Complete(context.Context, llm.Completion) (string, error) {
	return b.reply, b.err
}

func (b echoBackend) ListModels(context.Context) ([]llm.Model, error) {
	if b.err != nil {
		return nil, b.err
	}
	return []llm.Model{{ID: "llama3", Name: "llama3", API: "ollama"}}, nil
}

func (b echoBackend) Ping(context.Context, string) error { return b.err }

func newBackends(t *testing.T, b echoBackend) *llm.Client {
	t.Helper()
	c, err := llm.NewClient(llm.KindLocal, map[llm.Kind]llm.Variant{
		llm.KindLocal: {Backend: b, Model: "llama3", MaxPerMinute: 1000},
	})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func defaults() config.ProcessingConfig {
	return config.ProcessingConfig{
		Backend:      "ollama",
		BatchSize:    10,
		Temperature:  0.3,
		MaxTokens:    150,
		AutoSave:     true,
		SystemPrompt: config.DefaultSystemPrompt,
		PreviewCells: 5,
	}
}

func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

var errBoom = errors.New("boom")
