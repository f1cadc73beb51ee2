package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeBackend struct {
	mu      sync.Mutex
	calls   int
	prompts []Completion
	reply   func(n int, req Completion) (string, error)
	pingErr error
	models  []Model
}

func (f *fakeBackend) Complete(_ context.Context, req Completion) (string, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.prompts = append(f.prompts, req)
	f.mu.Unlock()
	if f.reply == nil {
		return "  PROCESSED \n", nil
	}
	return f.reply(n, req)
}

func (f *fakeBackend) ListModels(context.Context) ([]Model, error) { return f.models, nil }

func (f *fakeBackend) Ping(context.Context, string) error { return f.pingErr }

type keyedBackend struct {
	fakeBackend
	key string
}

func (k *keyedBackend) SetAPIKey(key string) { k.key = key }
func (k *keyedBackend) HasAPIKey() bool      { return k.key != "" }

type urlBackend struct {
	fakeBackend
	url string
}

func (u *urlBackend) SetBaseURL(url string) { u.url = url }

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestClient(t *testing.T, fb Backend, perMinute int, clk *fakeClock) *Client {
	t.Helper()
	opts := []Option{}
	if clk != nil {
		opts = append(opts, WithClock(clk.Now))
	}
	c, err := NewClient(KindHosted, map[Kind]Variant{
		KindHosted: {Backend: fb, Model: "gpt-4o-mini", MaxPerMinute: perMinute},
	}, opts...)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func cellReq(content string) CellRequest {
	return CellRequest{
		Content:      content,
		SystemPrompt: "sys",
		UserPrompt:   "Uppercase it",
		Temperature:  0.3,
		MaxTokens:    150,
	}
}

func TestProcessCell_SuccessTrims(t *testing.T) {
	fb := &fakeBackend{}
	c := newTestClient(t, fb, 20, nil)

	out := c.ProcessCell(context.Background(), cellReq("abc"))
	if !out.Success || out.Value != "PROCESSED" || out.Error != "" {
		t.Fatalf("outcome = %+v", out)
	}
	if fb.prompts[0].Model != "gpt-4o-mini" || fb.prompts[0].System != "sys" {
		t.Errorf("completion = %+v", fb.prompts[0])
	}
	if !strings.HasPrefix(fb.prompts[0].Prompt, "Uppercase it\n\nCell content: abc") {
		t.Errorf("prompt = %q", fb.prompts[0].Prompt)
	}
}

// Five allowed calls in one window, then refusals without reaching the backend.
func TestProcessCell_RateLimitWindow(t *testing.T) {
	clk := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	fb := &fakeBackend{}
	c := newTestClient(t, fb, 5, clk)

	for i := 1; i <= 7; i++ {
		out := c.ProcessCell(context.Background(), cellReq("x"))
		if i <= 5 && !out.Success {
			t.Fatalf("call %d failed: %+v", i, out)
		}
		if i > 5 {
			if out.Success {
				t.Fatalf("call %d should be rate limited", i)
			}
			if out.Kind != FailureRateLimited || !strings.Contains(out.Error, "Rate limit exceeded") {
				t.Errorf("call %d outcome = %+v", i, out)
			}
		}
		clk.Advance(time.Second)
	}
	if fb.calls != 5 {
		t.Errorf("backend calls = %d, want 5", fb.calls)
	}

	clk.Advance(61 * time.Second)
	if out := c.ProcessCell(context.Background(), cellReq("x")); !out.Success {
		t.Fatalf("call after window reset failed: %+v", out)
	}
	w, _ := c.RateWindow(KindHosted)
	if w.Count != 1 {
		t.Errorf("window count after reset = %d, want 1", w.Count)
	}
}

func TestProcessCell_FailuresDoNotCount(t *testing.T) {
	fb := &fakeBackend{reply: func(int, Completion) (string, error) {
		return "", &BackendError{Backend: KindHosted, Status: 500, Message: "boom"}
	}}
	c := newTestClient(t, fb, 2, nil)
	for i := 0; i < 4; i++ {
		out := c.ProcessCell(context.Background(), cellReq("x"))
		if out.Kind != FailureBackend {
			t.Fatalf("call %d kind = %q", i, out.Kind)
		}
	}
	if fb.calls != 4 {
		t.Errorf("backend calls = %d, want 4", fb.calls)
	}
}

func TestProcessCell_Classification(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		kind   FailureKind
		prefix string
	}{
		{"not initialized", ErrNotInitialized, FailureNotInitialized, "API client not initialized"},
		{"upstream 429", &BackendError{Backend: KindHosted, Status: 429, Err: ErrRateLimited}, FailureRateLimited, "Rate limit exceeded"},
		{"api error", &BackendError{Backend: KindHosted, Status: 400, Message: "bad"}, FailureBackend, "API Error:"},
		{"deadline", fmt.Errorf("http request: %w", context.DeadlineExceeded), FailureConnection, "Connection error:"},
		{"other", errors.New("weird"), FailureUnknown, "Error: weird"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := &fakeBackend{reply: func(int, Completion) (string, error) { return "", tt.err }}
			out := newTestClient(t, fb, 20, nil).ProcessCell(context.Background(), cellReq("x"))
			if out.Success || out.Value != "" {
				t.Fatalf("outcome = %+v", out)
			}
			if out.Kind != tt.kind {
				t.Errorf("kind = %q, want %q", out.Kind, tt.kind)
			}
			if !strings.HasPrefix(out.Error, tt.prefix) {
				t.Errorf("error = %q, want prefix %q", out.Error, tt.prefix)
			}
		})
	}
}

func TestProcessCell_RecoversPanic(t *testing.T) {
	fb := &fakeBackend{reply: func(int, Completion) (string, error) { panic("kaboom") }}
	out := newTestClient(t, fb, 20, nil).ProcessCell(context.Background(), cellReq("x"))
	if out.Success || !strings.Contains(out.Error, "kaboom") {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestProcessCell_ContextInPrompt(t *testing.T) {
	fb := &fakeBackend{}
	c := newTestClient(t, fb, 20, nil)
	req := cellReq("John")
	req.Context = map[string]any{
		"Age":     30,
		"City":    "Oslo",
		"headers": map[string]string{"Name": "Name", "Age": "Age"},
	}
	c.ProcessCell(context.Background(), req)

	p := fb.prompts[0].Prompt
	for _, want := range []string{"Context information:", "- Age: 30", "- City: Oslo", "- headers: {Age=Age, Name=Name}"} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q:\n%s", want, p)
		}
	}
}

func TestComposePrompt_NoContext(t *testing.T) {
	got := ComposePrompt("Do it", "value", nil)
	if got != "Do it\n\nCell content: value" {
		t.Errorf("ComposePrompt = %q", got)
	}
}

func TestClient_SwitchingAndSetters(t *testing.T) {
	hosted := &keyedBackend{}
	local := &urlBackend{fakeBackend: fakeBackend{models: []Model{{ID: "llama3"}}}}
	c, err := NewClient(KindHosted, map[Kind]Variant{
		KindHosted: {Backend: hosted, Model: "gpt-4o", MaxPerMinute: 20},
		KindLocal:  {Backend: local, Model: "llama2", MaxPerMinute: 30},
	})
	if err != nil {
		t.Fatal(err)
	}

	if ok, msg := c.TestConnection(context.Background()); ok || msg != "API client not initialized" {
		t.Errorf("TestConnection without key = %v, %q", ok, msg)
	}
	if c.Initialize("") {
		t.Error("Initialize with no key should report false")
	}
	if !c.Initialize("sk-test") {
		t.Error("Initialize with key should report true")
	}
	if ok, msg := c.TestConnection(context.Background()); !ok || msg != "Connection successful" {
		t.Errorf("TestConnection = %v, %q", ok, msg)
	}

	if err := c.SetBaseURL("http://gpu-box:11434"); err != nil {
		t.Fatal(err)
	}
	if local.url != "http://gpu-box:11434" {
		t.Errorf("local url = %q", local.url)
	}
	if c.Backend() != KindHosted {
		t.Error("SetBaseURL must not switch the active backend")
	}

	if err := c.SetBackend(KindLocal); err != nil {
		t.Fatal(err)
	}
	c.SetModel("llama3")
	if c.Model() != "llama3" {
		t.Errorf("model = %q", c.Model())
	}
	models, err := c.ListModels(context.Background())
	if err != nil || len(models) != 1 || models[0].ID != "llama3" {
		t.Errorf("ListModels = %v, %v", models, err)
	}
	if err := c.SetBackend(KindBedrock); err == nil {
		t.Error("expected error for unconfigured backend")
	}
}

func TestParseKind(t *testing.T) {
	for _, s := range []string{"openai", "OLLAMA", " bedrock "} {
		if _, err := ParseKind(s); err != nil {
			t.Errorf("ParseKind(%q): %v", s, err)
		}
	}
	if _, err := ParseKind("gemini"); err == nil {
		t.Error("expected error")
	}
}

func TestTarget_PinsVariantAndModel(t *testing.T) {
	hosted, local := &fakeBackend{}, &fakeBackend{}
	c, err := NewClient(KindHosted, map[Kind]Variant{
		KindHosted: {Backend: hosted, Model: "gpt-4o-mini", MaxPerMinute: 2},
		KindLocal:  {Backend: local, Model: "llama3", MaxPerMinute: 10},
	})
	if err != nil {
		t.Fatal(err)
	}

	tgt, err := c.Target(KindLocal, "mistral")
	if err != nil {
		t.Fatal(err)
	}
	if err := c.SetBackend(KindHosted); err != nil {
		t.Fatal(err)
	}
	c.SetModel("gpt-4")

	if out := tgt.ProcessCell(context.Background(), cellReq("x")); !out.Success {
		t.Fatalf("outcome = %+v", out)
	}
	if local.calls != 1 || hosted.calls != 0 {
		t.Errorf("local=%d hosted=%d", local.calls, hosted.calls)
	}
	if local.prompts[0].Model != "mistral" {
		t.Errorf("model = %q, want mistral", local.prompts[0].Model)
	}

	def, err := c.Target(KindHosted, "")
	if err != nil || def.Model() != "gpt-4" {
		t.Errorf("default model = %q, %v", def.Model(), err)
	}

	// shares the variant's window with ProcessCell
	def.ProcessCell(context.Background(), cellReq("a"))
	c.ProcessCell(context.Background(), cellReq("b"))
	if out := def.ProcessCell(context.Background(), cellReq("c")); out.Kind != FailureRateLimited {
		t.Errorf("third hosted call = %+v, want rate limited", out)
	}

	if _, err := c.Target(KindBedrock, ""); err == nil {
		t.Error("expected error for unconfigured backend")
	}
}
