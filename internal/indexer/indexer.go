// Package indexer segments documents into fragments, embeds them and stores them in the index.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/hyperjump/tanya/internal/config"
	"github.com/hyperjump/tanya/internal/embedding"
	"github.com/hyperjump/tanya/internal/extract"
	"github.com/hyperjump/tanya/internal/fileid"
	"github.com/hyperjump/tanya/internal/models"
	"github.com/hyperjump/tanya/pkg/utils"
)

const defaultBatchSize = 16

// FragmentStore is the part of the vector store the indexer writes to.
type FragmentStore interface {
	ReplaceSource(ctx context.Context, sourceID string, frags []*models.Fragment) error
	DeleteBySource(ctx context.Context, sourceID string) (int, error)
}

// Indexer turns source documents into embedded fragments.
type Indexer struct {
	store        FragmentStore
	embedder     embedding.Embedder
	extractor    *extract.Extractor
	segment      SegmentOptions
	pool         *ants.Pool
	embedTimeout time.Duration
	batchSize    int
	logger       *zap.Logger
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = l }
}

// WithBatchSize sets how many fragments go into one embedding call.
func WithBatchSize(n int) IndexerOption {
	return func(idx *Indexer) {
		if n > 0 {
			idx.batchSize = n
		}
	}
}

// NewIndexer creates an indexer. extractor may be nil, in which case files are read as plain text.
// Embedding calls run on a pool of cfg.Ingest.Workers goroutines; call Close to release it.
func NewIndexer(
	store FragmentStore,
	embedder embedding.Embedder,
	cfg *config.Config,
	extractor *extract.Extractor,
	opts ...IndexerOption,
) (*Indexer, error) {
	workers := cfg.Ingest.Workers
	if workers < 1 {
		workers = 1
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("create embedding pool: %w", err)
	}
	idx := &Indexer{
		store:     store,
		embedder:  embedder,
		extractor: extractor,
		segment: SegmentOptions{
			MaxSize:      cfg.Chunking.MaxSize,
			OverlapUnits: cfg.Chunking.OverlapUnits,
			MinLength:    cfg.Chunking.MinLength,
		},
		pool:         pool,
		embedTimeout: time.Duration(cfg.Embedding.TimeoutSecs) * time.Second,
		batchSize:    defaultBatchSize,
	}
	for _, opt := range opts {
		opt(idx)
	}
	idx.logger = utils.NopIfNil(idx.logger)
	return idx, nil
}

// Close releases the worker pool.
func (idx *Indexer) Close() {
	idx.pool.Release()
}

// Ingest segments input.Text, embeds every fragment and atomically replaces the
// fragments of the source. Re-ingesting the same source id is idempotent.
// An empty SourceID gets a random one.
func (idx *Indexer) Ingest(ctx context.Context, input models.IngestInput) (*models.IngestResult, error) {
	if strings.TrimSpace(input.Text) == "" {
		return nil, fmt.Errorf("ingest: %w: text is empty", models.ErrValidation)
	}
	sourceID := strings.TrimSpace(input.SourceID)
	if sourceID == "" {
		sourceID = uuid.New().String()
	}

	text, bounds := NormalizeWithBoundaries(input.Text, input.PageBoundaries)
	texts := Segment(text, idx.segment)
	if len(texts) == 0 {
		return nil, fmt.Errorf("ingest %s: %w: text is shorter than the minimum fragment length", sourceID, models.ErrValidation)
	}
	locs := Locate(text, texts, bounds)

	vectors, err := idx.embedAll(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("ingest %s: %w", sourceID, err)
	}

	now := time.Now().UTC()
	frags := make([]*models.Fragment, len(texts))
	for i, t := range texts {
		frags[i] = &models.Fragment{
			ID:        models.FragmentID(sourceID, i),
			SourceID:  sourceID,
			Text:      t,
			Embedding: vectors[i],
			Location:  locs[i],
			Position:  i,
			CreatedAt: now,
		}
	}
	if err := idx.store.ReplaceSource(ctx, sourceID, frags); err != nil {
		return nil, fmt.Errorf("ingest %s: %w", sourceID, err)
	}
	idx.logger.Debug("source ingested",
		zap.String("source", sourceID),
		zap.String("title", input.Title),
		zap.Int("fragments", len(frags)))
	return &models.IngestResult{SourceID: sourceID, FragmentCount: len(frags)}, nil
}

// embedAll embeds texts in batches on the worker pool, preserving order.
// Each batch call is bounded by the embedding timeout.
func (idx *Indexer) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := make([][]float32, len(texts))
	nBatches := (len(texts) + idx.batchSize - 1) / idx.batchSize
	errs := make([]error, nBatches)
	var wg sync.WaitGroup
	for b := 0; b < nBatches; b++ {
		lo := b * idx.batchSize
		hi := min(lo+idx.batchSize, len(texts))
		wg.Add(1)
		err := idx.pool.Submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				errs[b] = ctx.Err()
				return
			}
			callCtx, callCancel := idx.withEmbedTimeout(ctx)
			defer callCancel()
			vecs, err := idx.embedder.EmbedBatch(callCtx, texts[lo:hi])
			if err == nil && len(vecs) != hi-lo {
				err = fmt.Errorf("got %d embeddings for %d fragments", len(vecs), hi-lo)
			}
			if err != nil {
				errs[b] = err
				cancel()
				return
			}
			copy(out[lo:hi], vecs)
		})
		if err != nil {
			wg.Done()
			errs[b] = err
			cancel()
			break
		}
	}
	wg.Wait()

	for _, err := range errs {
		if err == nil || errors.Is(err, context.Canceled) {
			continue
		}
		return nil, fmt.Errorf("embed fragments: %w: %w", models.ErrEmbeddingUnavailable, err)
	}
	for _, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("embed fragments: %w", err)
		}
	}
	return out, nil
}

func (idx *Indexer) withEmbedTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if idx.embedTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, idx.embedTimeout)
}

// IngestFile extracts the file at path and ingests it. When sourceID is empty the
// id is derived from the absolute path, so re-ingesting a file replaces its fragments.
func (idx *Indexer) IngestFile(ctx context.Context, path, sourceID string) (*models.IngestResult, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: not a regular file: %s", models.ErrValidation, absPath)
	}
	idx.logger.Debug("ingesting file", zap.String("path", absPath))

	res, err := idx.extractFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", absPath, err)
	}
	if sourceID == "" {
		sourceID = fileid.SourceID(absPath)
	}
	return idx.Ingest(ctx, models.IngestInput{
		SourceID:       sourceID,
		Title:          filepath.Base(absPath),
		Text:           res.Text,
		PageBoundaries: res.PageBoundaries,
	})
}

// IngestBytes extracts an uploaded document named filename and ingests it.
func (idx *Indexer) IngestBytes(ctx context.Context, content []byte, filename, sourceID string) (*models.IngestResult, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	var res *extract.Result
	if idx.extractor != nil {
		var err error
		if res, err = idx.extractor.ExtractBytes(content, ext); err != nil {
			return nil, fmt.Errorf("extract %s: %w: %w", filename, models.ErrValidation, err)
		}
	} else {
		res = &extract.Result{Text: string(content)}
	}
	return idx.Ingest(ctx, models.IngestInput{
		SourceID:       sourceID,
		Title:          filename,
		Text:           res.Text,
		PageBoundaries: res.PageBoundaries,
	})
}

func (idx *Indexer) extractFile(path string) (*extract.Result, error) {
	if idx.extractor != nil {
		return idx.extractor.Extract(path)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &extract.Result{Text: string(content)}, nil
}

// IngestDirectory walks dir recursively and ingests each regular file whose extension
// is in allowedExts (all files when empty). Files that fail are logged and skipped.
// Returns the number of files ingested.
func (idx *Indexer) IngestDirectory(ctx context.Context, dir string, allowedExts []string) (int, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return 0, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return 0, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("not a directory: %s", absDir)
	}
	n := 0
	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !ExtensionAllowed(filepath.Ext(path), allowedExts) {
			return nil
		}
		if _, err := idx.IngestFile(ctx, path, ""); err != nil {
			if errors.Is(err, models.ErrEmbeddingUnavailable) || errors.Is(err, models.ErrStorageUnavailable) {
				return err
			}
			idx.logger.Warn("skipping file", zap.String("path", path), zap.Error(err))
			return nil
		}
		n++
		return nil
	})
	return n, err
}

// RemoveSource deletes every fragment of sourceID and returns how many were removed.
func (idx *Indexer) RemoveSource(ctx context.Context, sourceID string) (int, error) {
	if strings.TrimSpace(sourceID) == "" {
		return 0, fmt.Errorf("remove source: %w: empty source id", models.ErrValidation)
	}
	n, err := idx.store.DeleteBySource(ctx, sourceID)
	if err != nil {
		return 0, err
	}
	idx.logger.Debug("source removed", zap.String("source", sourceID), zap.Int("fragments", n))
	return n, nil
}

// RemoveFile deletes the fragments ingested from path under its derived source id.
func (idx *Indexer) RemoveFile(ctx context.Context, path string) (int, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return 0, fmt.Errorf("absolute path: %w", err)
	}
	return idx.RemoveSource(ctx, fileid.SourceID(absPath))
}

// ExtensionAllowed reports whether ext is in allowed, ignoring case and the leading dot.
// An empty allowed list permits every extension.
func ExtensionAllowed(ext string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	if extNorm == "" {
		return false
	}
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}
