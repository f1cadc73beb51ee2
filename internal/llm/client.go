package llm

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/maraichr/cellforge/internal/logging"
	"github.com/maraichr/cellforge/internal/rate"
)

// Kind selects a backend variant.
type Kind string

const (
	KindHosted  Kind = "openai"
	KindLocal   Kind = "ollama"
	KindBedrock Kind = "bedrock"
)

// ParseKind validates a backend name from configuration or a request.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindHosted, KindLocal, KindBedrock:
		return k, nil
	}
	return "", fmt.Errorf("unknown backend %q (want openai, ollama or bedrock)", s)
}

// Default request ceilings per minute.
const (
	DefaultHostedPerMinute  = 20
	DefaultLocalPerMinute   = 30
	DefaultBedrockPerMinute = 20
)

// Completion is one prompt sent to a backend.
type Completion struct {
	Model       string
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// Model describes an entry in a backend's model catalog.
type Model struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	API  string `json:"api"`
}

// Backend is one transport variant. Implementations return raw text and
// plain errors; rate limiting and error shaping live in Client.
type Backend interface {
	Complete(ctx context.Context, req Completion) (string, error)
	ListModels(ctx context.Context) ([]Model, error)
	// Ping performs the variant's connectivity check against model.
	Ping(ctx context.Context, model string) error
}

// KeySetter is implemented by backends that authenticate with an API key.
type KeySetter interface {
	SetAPIKey(key string)
	HasAPIKey() bool
}

// URLSetter is implemented by backends whose endpoint can be changed.
type URLSetter interface {
	SetBaseURL(url string)
}

// Variant bundles a backend with its model and request ceiling.
type Variant struct {
	Backend      Backend
	Model        string
	MaxPerMinute int
}

// CellRequest is the single-cell transformation contract.
type CellRequest struct {
	Content      string
	SystemPrompt string
	UserPrompt   string
	Temperature  float64
	MaxTokens    int
	Context      map[string]any
}

// Outcome is what ProcessCell returns: Value is set iff Success, Error iff not.
type Outcome struct {
	Success bool
	Value   string
	Error   string
	Kind    FailureKind
}

type variant struct {
	backend Backend
	model   string
	limiter *rate.Limiter
}

// Client performs cell transformations against the active backend. Each
// variant owns its own rate window.
type Client struct {
	mu       sync.RWMutex
	active   Kind
	variants map[Kind]*variant
	logger   *slog.Logger
}

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	clock  func() time.Time
	logger *slog.Logger
}

// WithClock injects the clock used by the rate windows.
func WithClock(clk func() time.Time) Option {
	return func(o *clientOptions) { o.clock = clk }
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *clientOptions) { o.logger = l }
}

// NewClient builds a client over the given variants with active selected.
func NewClient(active Kind, variants map[Kind]Variant, opts ...Option) (*Client, error) {
	o := clientOptions{clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	c := &Client{
		active:   active,
		variants: make(map[Kind]*variant, len(variants)),
		logger:   logging.OrNop(o.logger),
	}
	for k, v := range variants {
		if v.Backend == nil {
			return nil, fmt.Errorf("backend %s is nil", k)
		}
		c.variants[k] = &variant{
			backend: v.Backend,
			model:   v.Model,
			limiter: rate.NewLimiter(v.MaxPerMinute, o.clock),
		}
	}
	if _, ok := c.variants[active]; !ok {
		return nil, fmt.Errorf("backend %s is not configured", active)
	}
	return c, nil
}

func (c *Client) current() (Kind, *variant, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v := c.variants[c.active]
	return c.active, v, v.model
}

// Backend returns the active variant.
func (c *Client) Backend() Kind {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active
}

// Model returns the active variant's model identifier.
func (c *Client) Model() string {
	_, _, model := c.current()
	return model
}

// SetBackend switches the active variant.
func (c *Client) SetBackend(k Kind) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.variants[k]; !ok {
		return fmt.Errorf("backend %s is not configured", k)
	}
	c.active = k
	return nil
}

// SetModel sets the model used by the active variant.
func (c *Client) SetModel(model string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.variants[c.active].model = model
}

// SetBaseURL changes the local-server endpoint.
func (c *Client) SetBaseURL(url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.variants[KindLocal]
	if !ok {
		return fmt.Errorf("backend %s is not configured", KindLocal)
	}
	s, ok := v.backend.(URLSetter)
	if !ok {
		return fmt.Errorf("backend %s does not accept an endpoint", KindLocal)
	}
	s.SetBaseURL(url)
	return nil
}

// SetRateLimit changes the per-minute ceiling of a variant.
func (c *Client) SetRateLimit(k Kind, perMinute int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if v, ok := c.variants[k]; ok {
		v.limiter.SetMax(perMinute)
	}
}

// RateWindow exposes a variant's current window for diagnostics.
func (c *Client) RateWindow(k Kind) (rate.Window, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.variants[k]
	if !ok {
		return rate.Window{}, false
	}
	return v.limiter.Snapshot(), true
}

// Initialize supplies credentials to the hosted variant. It reports false
// when no key is available.
func (c *Client) Initialize(apiKey string) bool {
	c.mu.RLock()
	v, ok := c.variants[KindHosted]
	c.mu.RUnlock()
	if !ok {
		return false
	}
	ks, ok := v.backend.(KeySetter)
	if !ok {
		return true
	}
	if apiKey != "" {
		ks.SetAPIKey(apiKey)
	}
	if !ks.HasAPIKey() {
		c.logger.Error("API key is required for the hosted backend")
		return false
	}
	return true
}

// ProcessCell transforms one cell on the active variant. It never returns an
// error and never panics: every fault is reported as an unsuccessful Outcome.
func (c *Client) ProcessCell(ctx context.Context, req CellRequest) Outcome {
	c.mu.RLock()
	kind, v := c.active, c.variants[c.active]
	model := v.model
	c.mu.RUnlock()
	return c.process(ctx, kind, v, model, req)
}

// Target processes cells on one variant with a fixed model, unaffected by
// later SetBackend or SetModel calls. It shares the variant's rate window.
type Target struct {
	c     *Client
	kind  Kind
	v     *variant
	model string
}

// Target pins kind and model. An empty model uses the variant's current one.
func (c *Client) Target(kind Kind, model string) (*Target, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.variants[kind]
	if !ok {
		return nil, fmt.Errorf("backend %s is not configured", kind)
	}
	if model == "" {
		model = v.model
	}
	return &Target{c: c, kind: kind, v: v, model: model}, nil
}

func (t *Target) Backend() Kind { return t.kind }

func (t *Target) Model() string { return t.model }

func (t *Target) ProcessCell(ctx context.Context, req CellRequest) Outcome {
	return t.c.process(ctx, t.kind, t.v, t.model, req)
}

func (c *Client) process(ctx context.Context, kind Kind, v *variant, model string, req CellRequest) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("cell processing panicked", slog.String("backend", string(kind)), slog.Any("panic", r))
			out = Outcome{Error: fmt.Sprintf("Error: %v", r), Kind: FailureUnknown}
		}
	}()

	if !v.limiter.Allow() {
		return Outcome{Error: "Rate limit exceeded. Please try again later.", Kind: FailureRateLimited}
	}

	text, err := v.backend.Complete(ctx, Completion{
		Model:       model,
		System:      req.SystemPrompt,
		Prompt:      ComposePrompt(req.UserPrompt, req.Content, req.Context),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		fk := Classify(err)
		c.logger.Warn("cell processing failed",
			slog.String("backend", string(kind)),
			slog.String("kind", string(fk)),
			slog.String("error", err.Error()))
		return Outcome{Error: describe(fk, err), Kind: fk}
	}

	v.limiter.Record()
	return Outcome{Success: true, Value: strings.TrimSpace(text)}
}

// ListModels returns the active variant's model catalog.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	return c.activeTarget().ListModels(ctx)
}

// TestConnection checks the active variant and collapses the result into a
// success flag and a message suitable for display.
func (c *Client) TestConnection(ctx context.Context) (bool, string) {
	return c.activeTarget().TestConnection(ctx)
}

func (c *Client) activeTarget() *Target {
	kind, v, model := c.current()
	return &Target{c: c, kind: kind, v: v, model: model}
}

func (t *Target) ListModels(ctx context.Context) ([]Model, error) {
	models, err := t.v.backend.ListModels(ctx)
	if err != nil {
		t.c.logger.Error("list models failed", slog.String("backend", string(t.kind)), slog.String("error", err.Error()))
		return nil, fmt.Errorf("list %s models: %w", t.kind, err)
	}
	return models, nil
}

func (t *Target) TestConnection(ctx context.Context) (bool, string) {
	if ks, ok := t.v.backend.(KeySetter); ok && !ks.HasAPIKey() {
		return false, "API client not initialized"
	}
	if err := t.v.backend.Ping(ctx, t.model); err != nil {
		t.c.logger.Warn("connection test failed", slog.String("backend", string(t.kind)), slog.String("error", err.Error()))
		return false, describe(Classify(err), err)
	}
	return true, "Connection successful"
}

// Configured lists the variants this client was built with.
func (c *Client) Configured() []Kind {
	c.mu.RLock()
	defer c.mu.RUnlock()
	kinds := make([]Kind, 0, len(c.variants))
	for k := range c.variants {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}
