package embed

import (
	"context"
	"fmt"

	"github.com/chunkstack/chunkstack/internal/config"
	cserr "github.com/chunkstack/chunkstack/internal/errors"
	"github.com/chunkstack/chunkstack/internal/store"
)

// NewProvider builds the configured embedding provider.
func NewProvider(ctx context.Context, cfg config.EmbeddingConfig) (Provider, error) {
	switch cfg.Provider {
	case "", "static":
		return NewStaticProvider(0), nil
	case "ollama":
		return NewOllamaProvider(ctx, OllamaConfig{
			Host:  cfg.OllamaHost,
			Model: cfg.Model,
		})
	default:
		return nil, cserr.New(cserr.ErrCodeConfigInvalid,
			fmt.Sprintf("unknown embedding provider %q", cfg.Provider), nil).
			WithSuggestion(`set embedding.provider to "static" or "ollama"`)
	}
}

// OptionsFromConfig maps the embedding configuration onto embedder
// options.
func OptionsFromConfig(cfg config.EmbeddingConfig) Options {
	kinds := make([]store.EmbeddingKind, 0, len(cfg.Kinds))
	for _, k := range cfg.Kinds {
		kinds = append(kinds, store.EmbeddingKind(k))
	}
	return Options{
		Kinds:             kinds,
		BatchSize:         cfg.BatchSize,
		MaxBatchBytes:     cfg.MaxBatchBytes,
		Concurrency:       cfg.Concurrency,
		CacheSize:         cfg.CacheSize,
		RequestsPerSecond: cfg.RequestsPerSecond,
	}
}
