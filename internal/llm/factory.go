package llm

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/hyperjump/tanya/internal/config"
)

// New builds the generator selected by cfg.Generation.Provider.
// Per-call deadlines come from the caller's context, so the HTTP client has no timeout.
func New(cfg *config.Config, logger *zap.Logger) (Generator, error) {
	switch cfg.Generation.Provider {
	case "ollama":
		return NewOllamaGenerator(cfg.Ollama.BaseURL, cfg.Generation.Model,
			WithTemperature(cfg.Generation.Temperature),
			WithLogger(logger),
			WithHTTPClient(&http.Client{}),
		)
	case "mock":
		return NewMockGenerator("This is a mock answer."), nil
	default:
		return nil, fmt.Errorf("unknown generation provider %q", cfg.Generation.Provider)
	}
}
