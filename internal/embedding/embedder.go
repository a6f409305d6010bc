// Package embedding turns prompt text into vectors for similarity scoring.
package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Embedder returns one row per token (or a single pooled row when the backend
// only exposes sentence embeddings). Callers mean-pool the rows.
type Embedder interface {
	EmbedTokens(ctx context.Context, text string) ([][]float32, error)
}

type Provider string

const (
	ProviderOllama Provider = "ollama"
	ProviderOpenAI Provider = "openai"
)

type Config struct {
	Provider   Provider
	Model      string
	OllamaHost string
	OpenAIKey  string
	// OpenAIBaseURL is optional and allows OpenAI-compatible servers.
	OpenAIBaseURL string
}

// LangChain wraps a langchaingo embedder.
type LangChain struct {
	model     embeddings.Embedder
	modelName string
}

var _ Embedder = (*LangChain)(nil)

func New(cfg Config) (*LangChain, error) {
	var (
		model embeddings.Embedder
		err   error
	)
	switch cfg.Provider {
	case ProviderOllama, "":
		llm, ollamaErr := ollama.New(
			ollama.WithModel(cfg.Model),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if ollamaErr != nil {
			return nil, fmt.Errorf("create ollama client: %w", ollamaErr)
		}
		model, err = embeddings.NewEmbedder(llm)
		if err != nil {
			return nil, fmt.Errorf("create ollama embedder: %w", err)
		}
	case ProviderOpenAI:
		if cfg.OpenAIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		opts := []openai.Option{
			openai.WithToken(cfg.OpenAIKey),
			openai.WithEmbeddingModel(cfg.Model),
		}
		if cfg.OpenAIBaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.OpenAIBaseURL))
		}
		llm, openaiErr := openai.New(opts...)
		if openaiErr != nil {
			return nil, fmt.Errorf("create openai client: %w", openaiErr)
		}
		model, err = embeddings.NewEmbedder(llm)
		if err != nil {
			return nil, fmt.Errorf("create openai embedder: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
	return &LangChain{model: model, modelName: cfg.Model}, nil
}

func (e *LangChain) EmbedTokens(ctx context.Context, text string) ([][]float32, error) {
	start := time.Now()
	vec, err := e.model.EmbedQuery(ctx, text)
	if err != nil {
		log.Warn().Err(err).Str("model", e.modelName).Int("text_len", len(text)).Msg("embedding failed")
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	log.Debug().Str("model", e.modelName).Dur("dur", time.Since(start)).Msg("embedding complete")
	return [][]float32{vec}, nil
}

func (e *LangChain) Model() string { return e.modelName }
