// Package embedding provides text embedding via Ollama or ONNX, plus caching.
package embedding

import "context"

// Embedder produces vector embeddings for text.
// Implementations must be safe for concurrent use.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions returns the vector length, or 0 when it is not known until first use.
	Dimensions() int
	Close() error
}
