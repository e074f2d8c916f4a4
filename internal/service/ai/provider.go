package ai

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mdthorpe/llm-web-chat/internal/config"
)

// NewRegistryFromConfig builds the generator selected by cfg.Provider and
// registers it for every configured model id.
func NewRegistryFromConfig(ctx context.Context, cfg config.AIConfig, logger zerolog.Logger) (*Registry, error) {
	var (
		g   Generator
		err error
	)

	switch cfg.Provider {
	case "", "mock":
		g = NewMockGenerator(cfg.MockChunkDelay)
	case "ark":
		chatModel, cmErr := cfg.NewChatModel(ctx)
		if cmErr != nil {
			return nil, fmt.Errorf("failed to create chat model: %w", cmErr)
		}
		g, err = NewChatModelGenerator(ctx, chatModel, logger)
		if err != nil {
			return nil, err
		}
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai provider requires OPENAI_API_KEY")
		}
		g = NewOpenAIGenerator(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, logger)
	default:
		return nil, fmt.Errorf("unsupported AI provider %q", cfg.Provider)
	}

	models := cfg.Models
	if len(models) == 0 {
		models = []string{config.DefaultModel}
	}

	registry := NewRegistry()
	for _, id := range models {
		registry.Register(id, g)
	}

	logger.Info().Str("provider", cfg.Provider).Strs("models", models).Bool("stream", cfg.StreamResponse).Msg("generation registry ready")
	return registry, nil
}
