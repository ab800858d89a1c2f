// Package rag answers questions from retrieved fragments: it ranks fragments for a
// query, builds a grounded prompt and drives generation, whole or streamed.
package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/hyperjump/tanya/internal/embedding"
	"github.com/hyperjump/tanya/internal/models"
	"github.com/hyperjump/tanya/internal/vector"
	"github.com/hyperjump/tanya/pkg/utils"
)

// Searcher ranks stored fragments against a query vector.
type Searcher interface {
	Search(ctx context.Context, query []float32, opts vector.SearchOptions) ([]*models.RankedFragment, error)
}

// RetrieveRequest selects fragments for one query.
type RetrieveRequest struct {
	Query    string
	TopK     int
	Floor    float64
	SourceID string
}

// Retriever embeds a query and looks up the most similar fragments.
type Retriever struct {
	embedder       embedding.Embedder
	index          Searcher
	embedTimeout   time.Duration
	maxQueryLength int
	logger         *zap.Logger
}

// NewRetriever creates a retriever. maxQueryLength is in runes; 0 disables the check.
// A non-positive embedTimeout leaves embedding unbounded.
func NewRetriever(embedder embedding.Embedder, index Searcher, embedTimeout time.Duration, maxQueryLength int, logger *zap.Logger) *Retriever {
	return &Retriever{
		embedder:       embedder,
		index:          index,
		embedTimeout:   embedTimeout,
		maxQueryLength: maxQueryLength,
		logger:         utils.NopIfNil(logger),
	}
}

// Retrieve returns up to req.TopK fragments whose similarity is at least req.Floor,
// most similar first. An empty result is reported as models.ErrNoRelevantContent.
func (r *Retriever) Retrieve(ctx context.Context, req RetrieveRequest) ([]*models.RankedFragment, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, fmt.Errorf("retrieve: %w: query cannot be empty", models.ErrValidation)
	}
	if r.maxQueryLength > 0 && utf8.RuneCountInString(query) > r.maxQueryLength {
		return nil, fmt.Errorf("retrieve: %w: query exceeds %d characters", models.ErrValidation, r.maxQueryLength)
	}
	if req.TopK <= 0 {
		return nil, fmt.Errorf("retrieve: %w: top_k must be positive", models.ErrValidation)
	}

	embedCtx, cancel := withTimeout(ctx, r.embedTimeout)
	vec, err := r.embedder.Embed(embedCtx, query)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("embed query: %w", ctx.Err())
		}
		return nil, fmt.Errorf("embed query: %w: %w", models.ErrEmbeddingUnavailable, err)
	}

	ranked, err := r.index.Search(ctx, vec, vector.SearchOptions{TopK: req.TopK, Floor: req.Floor, SourceID: req.SourceID})
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return nil, fmt.Errorf("search: %w", ctx.Err())
		case errors.Is(err, models.ErrStorageCorruption), errors.Is(err, models.ErrStorageUnavailable):
			return nil, err
		default:
			return nil, fmt.Errorf("search: %w: %w", models.ErrStorageUnavailable, err)
		}
	}
	r.logger.Debug("retrieved fragments",
		zap.String("query", utils.Truncate(query, 80)),
		zap.Int("results", len(ranked)),
		zap.Int("top_k", req.TopK),
		zap.Float64("floor", req.Floor))
	if len(ranked) == 0 {
		return nil, fmt.Errorf("retrieve: %w", models.ErrNoRelevantContent)
	}
	return ranked, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
