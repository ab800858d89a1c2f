package embedding

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/tanya/internal/config"
)

// New builds the embedder selected by cfg.Embedding.Provider, wrapped in an LRU cache.
func New(cfg *config.Config, logger *zap.Logger) (Embedder, error) {
	var base Embedder
	switch cfg.Embedding.Provider {
	case "ollama":
		e, err := NewOllamaEmbedder(cfg.Ollama.BaseURL, cfg.Embedding.Model,
			WithDimensions(cfg.Embedding.Dimensions),
			WithLogger(logger),
			WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Embedding.TimeoutSecs) * time.Second}),
		)
		if err != nil {
			return nil, err
		}
		base = e
	case "onnx":
		e, err := NewONNXEmbedder(cfg.Embedding.ModelPath, cfg.Embedding.Dimensions, cfg.Embedding.MaxTokens)
		if err != nil {
			return nil, err
		}
		base = e
	case "mock":
		base = NewMockEmbedder(cfg.Embedding.Dimensions)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Embedding.Provider)
	}
	if cfg.Embedding.CacheSize > 0 {
		return NewCachedEmbedder(base, cfg.Embedding.CacheSize), nil
	}
	return base, nil
}
