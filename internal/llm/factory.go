package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/maraichr/cellforge/internal/config"
)

// FromConfig wires the hosted and local backends, plus Bedrock when a region
// is configured, and activates the configured default backend.
func FromConfig(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Client, error) {
	active, err := ParseKind(cfg.Processing.Backend)
	if err != nil {
		return nil, err
	}

	variants := map[Kind]Variant{
		KindHosted: {
			Backend:      NewOpenAI(cfg.OpenAI),
			Model:        cfg.OpenAI.Model,
			MaxPerMinute: cfg.OpenAI.RateLimit,
		},
		KindLocal: {
			Backend:      NewOllama(cfg.Ollama, logger),
			Model:        cfg.Ollama.Model,
			MaxPerMinute: cfg.Ollama.RateLimit,
		},
	}

	if cfg.Bedrock.Region != "" {
		b, err := NewBedrock(ctx, cfg.Bedrock)
		if err != nil {
			return nil, fmt.Errorf("bedrock client: %w", err)
		}
		variants[KindBedrock] = Variant{
			Backend:      b,
			Model:        cfg.Bedrock.ModelID,
			MaxPerMinute: cfg.Bedrock.RateLimit,
		}
	}

	return NewClient(active, variants, WithLogger(logger))
}
