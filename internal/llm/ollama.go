package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/schema"
	"go.uber.org/zap"

	"github.com/hyperjump/tanya/pkg/utils"
)

// OllamaGenerator generates text with a model served by Ollama.
type OllamaGenerator struct {
	client      llms.Model
	model       string
	temperature float64
	logger      *zap.Logger
}

// Option configures an OllamaGenerator.
type Option func(*OllamaGenerator, *[]ollama.Option)

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(g *OllamaGenerator, _ *[]ollama.Option) { g.temperature = t }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *OllamaGenerator, _ *[]ollama.Option) { g.logger = l }
}

// WithHTTPClient sets the HTTP client used to reach Ollama.
func WithHTTPClient(c *http.Client) Option {
	return func(_ *OllamaGenerator, o *[]ollama.Option) {
		*o = append(*o, ollama.WithHTTPClient(c))
	}
}

// NewOllamaGenerator creates a generator for model served at serverURL.
func NewOllamaGenerator(serverURL, model string, opts ...Option) (*OllamaGenerator, error) {
	if model == "" {
		return nil, errors.New("ollama generator: model is required")
	}
	g := &OllamaGenerator{model: model}
	clientOpts := []ollama.Option{ollama.WithModel(model)}
	if serverURL != "" {
		clientOpts = append(clientOpts, ollama.WithServerURL(serverURL))
	}
	for _, opt := range opts {
		opt(g, &clientOpts)
	}
	client, err := ollama.New(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create ollama client: %w", err)
	}
	g.client = client
	g.logger = utils.NopIfNil(g.logger).Named("ollama-generator")
	return g, nil
}

func (g *OllamaGenerator) messages(prompt string) []llms.MessageContent {
	return []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeHuman, prompt),
	}
}

// Generate returns the full completion for prompt.
func (g *OllamaGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.GenerateContent(ctx, g.messages(prompt), llms.WithTemperature(g.temperature))
	if err != nil {
		g.logger.Warn("generation failed", zap.String("model", g.model), zap.Error(err))
		return "", fmt.Errorf("ollama generate: %w", err)
	}
	return firstChoice(resp)
}

// GenerateStream forwards each streamed chunk to onToken.
func (g *OllamaGenerator) GenerateStream(ctx context.Context, prompt string, onToken TokenFunc) (string, error) {
	var sb strings.Builder
	stream := func(ctx context.Context, chunk []byte) error {
		if len(chunk) == 0 {
			return nil
		}
		sb.Write(chunk)
		return onToken(ctx, string(chunk))
	}
	resp, err := g.client.GenerateContent(ctx, g.messages(prompt),
		llms.WithTemperature(g.temperature),
		llms.WithStreamingFunc(stream),
	)
	if err != nil {
		g.logger.Warn("streaming generation failed", zap.String("model", g.model), zap.Error(err))
		return "", fmt.Errorf("ollama generate stream: %w", err)
	}
	if sb.Len() > 0 {
		return sb.String(), nil
	}
	return firstChoice(resp)
}

func firstChoice(resp *llms.ContentResponse) (string, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return "", errors.New("ollama: empty response")
	}
	return resp.Choices[0].Content, nil
}
