package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/maraichr/cellforge/internal/config"
	"github.com/maraichr/cellforge/internal/logging"
)

const (
	defaultOllamaBaseURL = "http://localhost:11434"
	defaultOllamaModel   = "llama2"
	maxStreamLine        = 1 << 20
)

// ErrOllamaUnreachable wraps transport failures against the local server.
var ErrOllamaUnreachable = errors.New("could not connect to Ollama, is it running at the specified URL?")

// Ollama is the local-server backend. Generation is streamed and
// accumulated until the server reports done.
type Ollama struct {
	mu      sync.RWMutex
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	System  string          `json:"system,omitempty"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

type tagsResponse struct {
	Models []struct {
		Name  string `json:"name"`
		Model string `json:"model"`
	} `json:"models"`
}

func NewOllama(cfg config.OllamaConfig, logger *slog.Logger) *Ollama {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	o := &Ollama{http: &http.Client{Timeout: timeout}, logger: logging.OrNop(logger)}
	o.SetBaseURL(cfg.BaseURL)
	return o
}

func (o *Ollama) SetBaseURL(url string) {
	if url == "" {
		url = defaultOllamaBaseURL
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.baseURL = strings.TrimRight(url, "/")
}

func (o *Ollama) BaseURL() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.baseURL
}

// Complete streams /api/generate and concatenates the response fragments.
// Lines that are not valid JSON are logged and skipped.
func (o *Ollama) Complete(ctx context.Context, req Completion) (string, error) {
	model := req.Model
	if model == "" {
		model = defaultOllamaModel
	}
	resp, err := o.post(ctx, "/api/generate", generateRequest{
		Model:   model,
		Prompt:  req.Prompt,
		System:  req.System,
		Stream:  true,
		Options: generateOptions{Temperature: req.Temperature, NumPredict: req.MaxTokens},
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out strings.Builder
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), maxStreamLine)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk generateChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			o.logger.Warn("skipping malformed stream line", slog.String("line", string(line)))
			continue
		}
		if chunk.Error != "" {
			return "", &BackendError{Backend: KindLocal, Message: chunk.Error}
		}
		out.WriteString(chunk.Response)
		if chunk.Done {
			return out.String(), nil
		}
	}
	if err := sc.Err(); err != nil {
		return "", fmt.Errorf("read stream: %w", err)
	}
	return out.String(), nil
}

// ListModels queries /api/tags.
func (o *Ollama) ListModels(ctx context.Context) ([]Model, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.BaseURL()+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := o.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOllamaUnreachable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(KindLocal, resp.StatusCode, body)
	}

	var tags tagsResponse
	if err := json.Unmarshal(body, &tags); err != nil {
		return nil, &BackendError{Backend: KindLocal, Message: "unmarshal tags", Err: err}
	}
	models := make([]Model, 0, len(tags.Models))
	for _, m := range tags.Models {
		models = append(models, Model{ID: m.Name, Name: m.Name, API: "ollama"})
	}
	return models, nil
}

// Ping checks the server is reachable, then runs a tiny non-streaming
// generation against model.
func (o *Ollama) Ping(ctx context.Context, model string) error {
	if _, err := o.ListModels(ctx); err != nil {
		return err
	}
	if model == "" {
		model = defaultOllamaModel
	}
	resp, err := o.post(ctx, "/api/generate", generateRequest{
		Model:   model,
		Prompt:  "Say hello in one word:",
		Options: generateOptions{Temperature: 0.1, NumPredict: 10},
	})
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

// post sends a JSON body and returns the response when the status is 200.
func (o *Ollama) post(ctx context.Context, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.BaseURL()+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOllamaUnreachable, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		return nil, statusError(KindLocal, resp.StatusCode, b)
	}
	return resp, nil
}
