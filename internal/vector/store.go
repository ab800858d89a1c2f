package vector

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/hyperjump/tanya/internal/models"
	"github.com/hyperjump/tanya/internal/storage"
	"github.com/hyperjump/tanya/pkg/utils"
)

// snapshot is an immutable view of the index. Writers build a new one and swap it in.
type snapshot struct {
	frags     []*models.Fragment // insertion order
	byID      map[string]int
	perSource map[string]int
	dims      int
}

func buildSnapshot(frags []*models.Fragment) (*snapshot, error) {
	s := &snapshot{
		frags:     frags,
		byID:      make(map[string]int, len(frags)),
		perSource: make(map[string]int),
	}
	for i, f := range frags {
		if s.dims == 0 {
			s.dims = len(f.Embedding)
		} else if len(f.Embedding) != s.dims {
			return nil, fmt.Errorf("%w: fragment %s has %d dimensions, index has %d",
				models.ErrStorageCorruption, f.ID, len(f.Embedding), s.dims)
		}
		s.byID[f.ID] = i
		s.perSource[f.SourceID]++
	}
	return s, nil
}

// SearchOptions controls a similarity search.
type SearchOptions struct {
	// TopK caps the number of results; 0 means no cap.
	TopK int
	// Floor drops results with similarity below it.
	Floor float64
	// SourceID restricts the search to one source when set.
	SourceID string
}

// Store is the fragment index: fragments persisted through a FragmentRepository and
// served from an in-memory snapshot. Searches read the current snapshot without locking;
// writes are serialized and become visible only after they are persisted.
type Store struct {
	repo   storage.FragmentRepository
	mu     sync.Mutex
	snap   atomic.Pointer[snapshot]
	logger *zap.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Open loads every persisted fragment from repo into a new Store.
func Open(ctx context.Context, repo storage.FragmentRepository, opts ...StoreOption) (*Store, error) {
	s := &Store{repo: repo}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = utils.NopIfNil(s.logger)

	frags, err := repo.LoadFragments(ctx)
	if err != nil {
		if errors.Is(err, models.ErrStorageCorruption) {
			return nil, fmt.Errorf("load fragments: %w", err)
		}
		return nil, fmt.Errorf("load fragments: %w: %w", models.ErrStorageUnavailable, err)
	}
	snap, err := buildSnapshot(frags)
	if err != nil {
		return nil, fmt.Errorf("load fragments: %w", err)
	}
	s.snap.Store(snap)
	s.logger.Debug("vector store opened", zap.Int("fragments", len(frags)), zap.Int("dimensions", snap.dims))
	return s, nil
}

func validateFragments(frags []*models.Fragment) error {
	for _, f := range frags {
		switch {
		case f == nil:
			return fmt.Errorf("%w: nil fragment", models.ErrValidation)
		case f.ID == "" || f.SourceID == "":
			return fmt.Errorf("%w: fragment needs id and source", models.ErrValidation)
		case f.Text == "":
			return fmt.Errorf("%w: fragment %s has empty text", models.ErrValidation, f.ID)
		case len(f.Embedding) == 0:
			return fmt.Errorf("%w: fragment %s has no embedding", models.ErrValidation, f.ID)
		}
	}
	return nil
}

// upsert returns base with frags applied: existing ids are replaced in place, new ids appended.
func upsert(base []*models.Fragment, frags []*models.Fragment) []*models.Fragment {
	out := slices.Clone(base)
	pos := make(map[string]int, len(out))
	for i, f := range out {
		pos[f.ID] = i
	}
	for _, f := range frags {
		if i, ok := pos[f.ID]; ok {
			out[i] = f
			continue
		}
		pos[f.ID] = len(out)
		out = append(out, f)
	}
	return out
}

// InsertBatch adds or replaces frags atomically. Nothing becomes visible to searches
// unless the whole batch was persisted.
func (s *Store) InsertBatch(ctx context.Context, frags []*models.Fragment) error {
	if len(frags) == 0 {
		return nil
	}
	if err := validateFragments(frags); err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := buildSnapshot(upsert(s.snap.Load().frags, frags))
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	if err := s.repo.SaveFragments(ctx, frags); err != nil {
		return fmt.Errorf("insert batch: %w: %w", models.ErrStorageUnavailable, err)
	}
	s.snap.Store(next)
	s.logger.Debug("fragments inserted", zap.Int("count", len(frags)), zap.Int("total", len(next.frags)))
	return nil
}

// ReplaceSource atomically swaps all fragments of sourceID for frags.
func (s *Store) ReplaceSource(ctx context.Context, sourceID string, frags []*models.Fragment) error {
	if sourceID == "" {
		return fmt.Errorf("replace source: %w: empty source id", models.ErrValidation)
	}
	if err := validateFragments(frags); err != nil {
		return fmt.Errorf("replace source %s: %w", sourceID, err)
	}
	for _, f := range frags {
		if f.SourceID != sourceID {
			return fmt.Errorf("replace source %s: %w: fragment %s belongs to %s", sourceID, models.ErrValidation, f.ID, f.SourceID)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := withoutSource(s.snap.Load().frags, sourceID)
	next, err := buildSnapshot(upsert(kept, frags))
	if err != nil {
		return fmt.Errorf("replace source %s: %w", sourceID, err)
	}
	if err := s.repo.ReplaceSource(ctx, sourceID, frags); err != nil {
		return fmt.Errorf("replace source %s: %w: %w", sourceID, models.ErrStorageUnavailable, err)
	}
	s.snap.Store(next)
	s.logger.Debug("source replaced", zap.String("source", sourceID), zap.Int("fragments", len(frags)))
	return nil
}

func withoutSource(frags []*models.Fragment, sourceID string) []*models.Fragment {
	out := make([]*models.Fragment, 0, len(frags))
	for _, f := range frags {
		if f.SourceID != sourceID {
			out = append(out, f)
		}
	}
	return out
}

// DeleteBySource removes every fragment of sourceID and returns how many were removed.
func (s *Store) DeleteBySource(ctx context.Context, sourceID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.snap.Load()
	if cur.perSource[sourceID] == 0 {
		return 0, nil
	}
	if _, err := s.repo.DeleteFragmentsBySource(ctx, sourceID); err != nil {
		return 0, fmt.Errorf("delete source %s: %w: %w", sourceID, models.ErrStorageUnavailable, err)
	}
	next, err := buildSnapshot(withoutSource(cur.frags, sourceID))
	if err != nil {
		return 0, fmt.Errorf("delete source %s: %w", sourceID, err)
	}
	s.snap.Store(next)
	removed := len(cur.frags) - len(next.frags)
	s.logger.Debug("source deleted", zap.String("source", sourceID), zap.Int("removed", removed))
	return removed, nil
}

// Search ranks fragments by cosine similarity to query with an exact scan.
// Ties keep insertion order.
func (s *Store) Search(ctx context.Context, query []float32, opts SearchOptions) ([]*models.RankedFragment, error) {
	snap := s.snap.Load()
	if len(snap.frags) == 0 {
		return nil, nil
	}
	if len(query) != snap.dims {
		return nil, fmt.Errorf("search: %w: query has %d dimensions, index has %d",
			models.ErrStorageCorruption, len(query), snap.dims)
	}

	var ranked []*models.RankedFragment
	for i, f := range snap.frags {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if opts.SourceID != "" && f.SourceID != opts.SourceID {
			continue
		}
		sim := CosineSimilarity(query, f.Embedding)
		if sim < opts.Floor {
			continue
		}
		ranked = append(ranked, &models.RankedFragment{Fragment: f, Similarity: sim})
	}
	slices.SortStableFunc(ranked, func(a, b *models.RankedFragment) int {
		return cmp.Compare(b.Similarity, a.Similarity)
	})
	if opts.TopK > 0 && len(ranked) > opts.TopK {
		ranked = ranked[:opts.TopK]
	}
	return ranked, nil
}

// Get returns the fragment with the given id.
func (s *Store) Get(id string) (*models.Fragment, bool) {
	snap := s.snap.Load()
	i, ok := snap.byID[id]
	if !ok {
		return nil, false
	}
	return snap.frags[i], true
}

// Stats reports fragment counts for the current snapshot.
func (s *Store) Stats() models.Stats {
	snap := s.snap.Load()
	per := make(map[string]int, len(snap.perSource))
	for k, v := range snap.perSource {
		per[k] = v
	}
	return models.Stats{TotalFragments: len(snap.frags), PerSource: per}
}

// Dimensions returns the embedding length fixed by the stored fragments, or 0 when empty.
func (s *Store) Dimensions() int {
	return s.snap.Load().dims
}
