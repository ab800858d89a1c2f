package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"go.uber.org/zap"

	"github.com/hyperjump/tanya/pkg/utils"
)

// OllamaEmbedder calls an Ollama server's embedding endpoint through langchaingo.
type OllamaEmbedder struct {
	embedder embeddings.Embedder
	model    string
	dims     atomic.Int64
	logger   *zap.Logger
}

// OllamaOption configures an OllamaEmbedder.
type OllamaOption func(*ollamaOptions)

type ollamaOptions struct {
	httpClient *http.Client
	logger     *zap.Logger
	dimensions int
}

// WithHTTPClient sets the HTTP client used to reach Ollama.
func WithHTTPClient(c *http.Client) OllamaOption {
	return func(o *ollamaOptions) { o.httpClient = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) OllamaOption {
	return func(o *ollamaOptions) { o.logger = l }
}

// WithDimensions sets the expected dimension until the first response reports the real one.
func WithDimensions(n int) OllamaOption {
	return func(o *ollamaOptions) { o.dimensions = n }
}

// NewOllamaEmbedder creates an embedder for model served at serverURL.
func NewOllamaEmbedder(serverURL, model string, opts ...OllamaOption) (*OllamaEmbedder, error) {
	if model == "" {
		return nil, errors.New("ollama embedder: model is required")
	}
	o := &ollamaOptions{}
	for _, opt := range opts {
		opt(o)
	}

	clientOpts := []ollama.Option{ollama.WithModel(model)}
	if serverURL != "" {
		clientOpts = append(clientOpts, ollama.WithServerURL(serverURL))
	}
	if o.httpClient != nil {
		clientOpts = append(clientOpts, ollama.WithHTTPClient(o.httpClient))
	}
	client, err := ollama.New(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create ollama client: %w", err)
	}
	emb, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("create ollama embedder: %w", err)
	}

	e := &OllamaEmbedder{
		embedder: emb,
		model:    model,
		logger:   utils.NopIfNil(o.logger).Named("ollama-embedder"),
	}
	e.dims.Store(int64(o.dimensions))
	return e, nil
}

// Embed embeds a single text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.embedder.EmbedQuery(ctx, text)
	if err != nil {
		e.logger.Warn("embedding failed", zap.String("model", e.model), zap.Error(err))
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	if len(vec) == 0 {
		return nil, errors.New("ollama embed: empty embedding")
	}
	e.observe(vec)
	return vec, nil
}

// EmbedBatch embeds texts in one request.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	e.logger.Debug("embedding batch", zap.Int("count", len(texts)))
	vecs, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		e.logger.Warn("batch embedding failed", zap.String("model", e.model), zap.Int("count", len(texts)), zap.Error(err))
		return nil, fmt.Errorf("ollama embed batch: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("ollama embed batch: got %d embeddings for %d texts", len(vecs), len(texts))
	}
	for _, v := range vecs {
		if len(v) == 0 {
			return nil, errors.New("ollama embed batch: empty embedding")
		}
	}
	e.observe(vecs[0])
	return vecs, nil
}

func (e *OllamaEmbedder) observe(vec []float32) {
	e.dims.Store(int64(len(vec)))
}

// Dimensions returns the last observed dimension, or the configured one before any call.
func (e *OllamaEmbedder) Dimensions() int {
	return int(e.dims.Load())
}

// Close is a no-op; the HTTP client holds no resources that need releasing.
func (e *OllamaEmbedder) Close() error {
	return nil
}
