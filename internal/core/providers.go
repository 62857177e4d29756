package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/classroom-relay/relay/internal/config"
)

var errEmptyGeneration = errors.New("model returned an empty response")

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// LLMProvider is a model backend that can both embed and generate.
type LLMProvider interface {
	Embedder
	Generator
	Close() error
}

// NewLLMProvider builds the provider selected by cfg.Provider.
func NewLLMProvider(ctx context.Context, cfg config.LLM) (LLMProvider, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		return NewGeminiProvider(ctx, cfg.GeminiAPIKey, cfg.GeminiChatModel, cfg.GeminiEmbeddingModel)
	case config.ProviderOpenAI:
		return NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIChatModel, cfg.OpenAIEmbeddingModel), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}
