package embedding

import (
	"context"
	"math"
	"strings"
	"sync"

	"github.com/hyperjump/tanya/pkg/utils"
)

// MockEmbedder is a deterministic bag-of-words embedder for tests.
// Each lowercased word contributes a fixed pseudo-random direction, so texts
// sharing words have higher cosine similarity than unrelated texts.
type MockEmbedder struct {
	dimensions int

	mu  sync.Mutex
	err error
}

// NewMockEmbedder returns an embedder producing unit vectors of the given dimension.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &MockEmbedder{dimensions: dimensions}
}

// FailWith makes every later call return err. Pass nil to recover.
func (e *MockEmbedder) FailWith(err error) {
	e.mu.Lock()
	e.err = err
	e.mu.Unlock()
}

func (e *MockEmbedder) failure() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Embed returns the normalized sum of the word directions of text.
func (e *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := e.failure(); err != nil {
		return nil, err
	}
	emb := make([]float32, e.dimensions)
	for _, w := range SplitWords(strings.ToLower(text)) {
		w = strings.Trim(w, ".,!?;:\"'()")
		if w == "" {
			continue
		}
		h := HashString(w)
		for i := range emb {
			emb[i] += float32(math.Sin(float64(h%10007) * float64(i+1)))
		}
	}
	utils.NormalizeL2(emb)
	return emb, nil
}

// EmbedBatch calls Embed for each text.
func (e *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}

// Dimensions returns the embedding dimension.
func (e *MockEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op.
func (e *MockEmbedder) Close() error {
	return nil
}
