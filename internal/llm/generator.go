// Package llm provides text generation against a local language model.
package llm

import "context"

// TokenFunc receives each generated increment in arrival order.
// Returning an error stops generation.
type TokenFunc func(ctx context.Context, token string) error

// Generator produces text for a prompt.
type Generator interface {
	// Generate returns the whole completion.
	Generate(ctx context.Context, prompt string) (string, error)
	// GenerateStream calls onToken for each increment and returns the full text.
	GenerateStream(ctx context.Context, prompt string, onToken TokenFunc) (string, error)
}
