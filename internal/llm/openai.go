package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/maraichr/cellforge/internal/config"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultOpenAIModel   = "gpt-3.5-turbo"
	openAIRetryDelay     = 2 * time.Second
)

var openAIModels = []Model{
	{ID: "gpt-3.5-turbo", Name: "GPT-3.5 Turbo", API: "openai"},
	{ID: "gpt-4", Name: "GPT-4", API: "openai"},
	{ID: "gpt-4-turbo", Name: "GPT-4 Turbo", API: "openai"},
	{ID: "gpt-4o", Name: "GPT-4o", API: "openai"},
	{ID: "gpt-4o-mini", Name: "GPT-4o Mini", API: "openai"},
	{ID: "gpt-3.5-turbo-16k", Name: "GPT-3.5 Turbo 16K", API: "openai"},
}

// OpenAI is an OpenAI-compatible chat completions backend.
type OpenAI struct {
	mu         sync.RWMutex
	apiKey     string
	endpoint   string
	maxRetries int
	retryDelay time.Duration
	http       *http.Client
}

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewOpenAI creates the hosted backend. A missing API key is not an error
// here; calls fail with ErrNotInitialized until one is supplied.
func NewOpenAI(cfg config.OpenAIConfig) *OpenAI {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAI{
		apiKey:     cfg.APIKey,
		endpoint:   chatEndpoint(cfg.BaseURL),
		maxRetries: cfg.MaxRetries,
		retryDelay: openAIRetryDelay,
		http:       &http.Client{Timeout: timeout},
	}
}

func chatEndpoint(baseURL string) string {
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if !strings.HasSuffix(baseURL, "/chat/completions") {
		baseURL += "/chat/completions"
	}
	return baseURL
}

func (o *OpenAI) SetAPIKey(key string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.apiKey = key
}

func (o *OpenAI) HasAPIKey() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.apiKey != ""
}

// SetBaseURL points the backend at another OpenAI-compatible server.
func (o *OpenAI) SetBaseURL(url string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.endpoint = chatEndpoint(url)
}

// Complete sends a system+user exchange and returns the first choice.
// Only 503/529 responses are retried, and only when MaxRetries > 0.
func (o *OpenAI) Complete(ctx context.Context, req Completion) (string, error) {
	model := req.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	var msgs []Message
	if req.System != "" {
		msgs = append(msgs, Message{Role: "system", Content: req.System})
	}
	msgs = append(msgs, Message{Role: "user", Content: req.Prompt})

	body, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= o.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(o.retryDelay * time.Duration(attempt)):
			}
		}
		text, err := o.doRequest(ctx, body)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !errors.Is(err, ErrUnavailable) {
			return "", err
		}
	}
	return "", lastErr
}

func (o *OpenAI) doRequest(ctx context.Context, body []byte) (string, error) {
	o.mu.RLock()
	key, endpoint := o.apiKey, o.endpoint
	o.mu.RUnlock()
	if key == "" {
		return "", ErrNotInitialized
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+key)

	resp, err := o.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", statusError(KindHosted, resp.StatusCode, respBody)
	}

	var result chatResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", &BackendError{Backend: KindHosted, Message: "unmarshal response", Err: err}
	}
	if result.Error != nil {
		return "", &BackendError{Backend: KindHosted, Message: result.Error.Message}
	}
	if len(result.Choices) == 0 {
		return "", &BackendError{Backend: KindHosted, Message: "no choices", Err: ErrEmptyResponse}
	}
	return result.Choices[0].Message.Content, nil
}

// ListModels returns the static hosted catalog.
func (o *OpenAI) ListModels(context.Context) ([]Model, error) {
	out := make([]Model, len(openAIModels))
	copy(out, openAIModels)
	return out, nil
}

// Ping issues a minimal chat request.
func (o *OpenAI) Ping(ctx context.Context, model string) error {
	_, err := o.Complete(ctx, Completion{
		Model:     model,
		System:    "You are a helpful assistant.",
		Prompt:    "Test connection",
		MaxTokens: 5,
	})
	return err
}

// statusError maps a non-2xx response onto the sentinel taxonomy.
func statusError(kind Kind, status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	var envelope struct {
		Error any `json:"error"`
	}
	if json.Unmarshal(body, &envelope) == nil && envelope.Error != nil {
		switch e := envelope.Error.(type) {
		case string:
			msg = e
		case map[string]any:
			if m, ok := e["message"].(string); ok {
				msg = m
			}
		}
	}
	be := &BackendError{Backend: kind, Status: status, Message: msg}
	switch {
	case status == http.StatusTooManyRequests:
		be.Err = ErrRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		be.Err = ErrUnauthorized
	case status == http.StatusServiceUnavailable || status == 529:
		be.Err = ErrUnavailable
	}
	return be
}
