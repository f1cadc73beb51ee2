package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	p := cfg.Processing
	if p.BatchSize != 10 || p.MaxTokens != 150 || p.Temperature != 0.3 {
		t.Errorf("processing defaults = %+v", p)
	}
	if p.CellDelay != 200*time.Millisecond || p.BatchDelay != 500*time.Millisecond {
		t.Errorf("delays = %v / %v", p.CellDelay, p.BatchDelay)
	}
	if cfg.OpenAI.RateLimit != 20 || cfg.Ollama.RateLimit != 30 {
		t.Errorf("rate limits = %d / %d", cfg.OpenAI.RateLimit, cfg.Ollama.RateLimit)
	}
	if p.SystemPrompt != DefaultSystemPrompt {
		t.Errorf("system prompt = %q", p.SystemPrompt)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("log level = %v", cfg.LogLevel)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("CELLFORGE_BACKEND", "ollama")
	t.Setenv("CELLFORGE_BATCH_SIZE", "3")
	t.Setenv("CELLFORGE_CELL_DELAY", "0")
	t.Setenv("CELLFORGE_BATCH_DELAY", "1.5")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Processing.Backend != "ollama" || cfg.Processing.BatchSize != 3 {
		t.Errorf("processing = %+v", cfg.Processing)
	}
	if cfg.Processing.CellDelay != 0 {
		t.Errorf("cell delay = %v", cfg.Processing.CellDelay)
	}
	if cfg.Processing.BatchDelay != 1500*time.Millisecond {
		t.Errorf("batch delay = %v", cfg.Processing.BatchDelay)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("log level = %v", cfg.LogLevel)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"temperature above one", map[string]string{"CELLFORGE_TEMPERATURE": "1.5"}},
		{"temperature negative", map[string]string{"CELLFORGE_TEMPERATURE": "-0.1"}},
		{"zero batch size", map[string]string{"CELLFORGE_BATCH_SIZE": "0"}},
		{"zero max tokens", map[string]string{"CELLFORGE_MAX_TOKENS": "0"}},
		{"unknown backend", map[string]string{"CELLFORGE_BACKEND": "gemini"}},
		{"bedrock without region", map[string]string{"CELLFORGE_BACKEND": "bedrock"}},
		{"unknown storage", map[string]string{"STORAGE_BACKEND": "ftp"}},
		{"auth without issuer", map[string]string{"AUTH_ENABLED": "true"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestPromptCatalog(t *testing.T) {
	ps := Prompts()
	if len(ps) == 0 {
		t.Fatal("empty catalog")
	}
	for i := 1; i < len(ps); i++ {
		if ps[i-1].Name >= ps[i].Name {
			t.Fatalf("catalog not sorted at %d: %q >= %q", i, ps[i-1].Name, ps[i].Name)
		}
	}
	if got, ok := LookupPrompt("To Uppercase"); !ok || got != "Convert all text to uppercase." {
		t.Errorf("LookupPrompt = %q, %v", got, ok)
	}
	if _, ok := LookupPrompt("nope"); ok {
		t.Error("unexpected catalog hit")
	}
}
