package vector

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/tanya/internal/models"
	"github.com/hyperjump/tanya/internal/storage"
)

// memRepo is an in-memory FragmentRepository with injectable failures.
type memRepo struct {
	mu    sync.Mutex
	frags []*models.Fragment
	fail  error
	load  []*models.Fragment
}

func (r *memRepo) SaveFragments(_ context.Context, frags []*models.Fragment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.frags = upsert(r.frags, frags)
	return nil
}

func (r *memRepo) ReplaceSource(_ context.Context, sourceID string, frags []*models.Fragment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.frags = upsert(withoutSource(r.frags, sourceID), frags)
	return nil
}

func (r *memRepo) DeleteFragmentsBySource(_ context.Context, sourceID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return 0, r.fail
	}
	before := len(r.frags)
	r.frags = withoutSource(r.frags, sourceID)
	return before - len(r.frags), nil
}

func (r *memRepo) LoadFragments(context.Context) ([]*models.Fragment, error) {
	return r.load, nil
}

func (r *memRepo) CountFragments(context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.frags)), nil
}

func (r *memRepo) Close() error { return nil }

func mkFrag(source string, pos int, emb ...float32) *models.Fragment {
	return &models.Fragment{
		ID:        models.FragmentID(source, pos),
		SourceID:  source,
		Text:      fmt.Sprintf("text %s %d", source, pos),
		Embedding: emb,
		Position:  pos,
		CreatedAt: time.Now(),
	}
}

func openMem(t *testing.T) (*Store, *memRepo) {
	t.Helper()
	repo := &memRepo{}
	s, err := Open(context.Background(), repo)
	require.NoError(t, err)
	return s, repo
}

func ids(ranked []*models.RankedFragment) []string {
	out := make([]string, len(ranked))
	for i, r := range ranked {
		out[i] = r.ID
	}
	return out
}

func TestCosineSimilarity(t *testing.T) {
	v := []float32{0.3, -1.2, 4}
	assert.InDelta(t, 1.0, CosineSimilarity(v, v), 1e-9)
	assert.Equal(t, 0.0, CosineSimilarity(v, []float32{0, 0, 0}))
	assert.Equal(t, 0.0, CosineSimilarity([]float32{0, 0}, []float32{0, 0}))
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float32{-2, 0}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 5}), 1e-9)
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1}, []float32{1, 2}))
}

func TestStore_SearchOrderingTopKAndFloor(t *testing.T) {
	s, _ := openMem(t)
	ctx := context.Background()
	require.NoError(t, s.InsertBatch(ctx, []*models.Fragment{
		mkFrag("a", 0, 1, 0),  // sim 1
		mkFrag("a", 1, 0, 1),  // sim 0
		mkFrag("b", 0, 1, 1),  // sim ~0.707
		mkFrag("b", 1, -1, 0), // sim -1
		mkFrag("c", 0, 1, 1),  // ties with b#0
	}))

	res, err := s.Search(ctx, []float32{1, 0}, SearchOptions{TopK: 10, Floor: -1})
	require.NoError(t, err)
	assert.Equal(t, []string{"a#0", "b#0", "c#0", "a#1", "b#1"}, ids(res))
	for i := 1; i < len(res); i++ {
		assert.GreaterOrEqual(t, res[i-1].Similarity, res[i].Similarity)
	}

	res, err = s.Search(ctx, []float32{1, 0}, SearchOptions{TopK: 2, Floor: -1})
	require.NoError(t, err)
	assert.Equal(t, []string{"a#0", "b#0"}, ids(res))

	res, err = s.Search(ctx, []float32{1, 0}, SearchOptions{TopK: 10, Floor: 0.5})
	require.NoError(t, err)
	assert.Equal(t, []string{"a#0", "b#0", "c#0"}, ids(res))
	for _, r := range res {
		assert.GreaterOrEqual(t, r.Similarity, 0.5)
	}

	res, err = s.Search(ctx, []float32{1, 0}, SearchOptions{TopK: 10, Floor: -1, SourceID: "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b#0", "b#1"}, ids(res))
}

func TestStore_SearchEmptyAndDimensionMismatch(t *testing.T) {
	s, _ := openMem(t)
	ctx := context.Background()
	res, err := s.Search(ctx, []float32{1, 0}, SearchOptions{TopK: 3})
	require.NoError(t, err)
	assert.Empty(t, res)

	require.NoError(t, s.InsertBatch(ctx, []*models.Fragment{mkFrag("a", 0, 1, 0)}))
	_, err = s.Search(ctx, []float32{1, 0, 0}, SearchOptions{TopK: 3})
	assert.ErrorIs(t, err, models.ErrStorageCorruption)
}

func TestStore_InsertBatchRejectsMixedDimensions(t *testing.T) {
	s, repo := openMem(t)
	ctx := context.Background()
	require.NoError(t, s.InsertBatch(ctx, []*models.Fragment{mkFrag("a", 0, 1, 0)}))
	err := s.InsertBatch(ctx, []*models.Fragment{mkFrag("a", 1, 1, 0, 0)})
	assert.ErrorIs(t, err, models.ErrStorageCorruption)
	assert.Equal(t, 1, s.Stats().TotalFragments)
	assert.Len(t, repo.frags, 1)
	assert.Equal(t, 2, s.Dimensions())
}

func TestStore_InsertBatchValidation(t *testing.T) {
	s, _ := openMem(t)
	f := mkFrag("a", 0, 1)
	f.Text = ""
	assert.ErrorIs(t, s.InsertBatch(context.Background(), []*models.Fragment{f}), models.ErrValidation)
	assert.ErrorIs(t, s.InsertBatch(context.Background(), []*models.Fragment{mkFrag("a", 0)}), models.ErrValidation)
}

func TestStore_InsertBatchFailureLeavesNothingVisible(t *testing.T) {
	s, repo := openMem(t)
	ctx := context.Background()
	repo.fail = errors.New("disk full")
	err := s.InsertBatch(ctx, []*models.Fragment{mkFrag("a", 0, 1, 0), mkFrag("a", 1, 0, 1)})
	assert.ErrorIs(t, err, models.ErrStorageUnavailable)
	assert.Equal(t, 0, s.Stats().TotalFragments)
	res, err := s.Search(ctx, []float32{1, 0}, SearchOptions{Floor: -1})
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestStore_InsertBatchIdempotent(t *testing.T) {
	s, _ := openMem(t)
	ctx := context.Background()
	batch := []*models.Fragment{mkFrag("a", 0, 1, 0), mkFrag("a", 1, 0, 1)}
	require.NoError(t, s.InsertBatch(ctx, batch))
	require.NoError(t, s.InsertBatch(ctx, batch))
	assert.Equal(t, 2, s.Stats().TotalFragments)
}

func TestStore_ReplaceSource(t *testing.T) {
	s, _ := openMem(t)
	ctx := context.Background()
	require.NoError(t, s.InsertBatch(ctx, []*models.Fragment{
		mkFrag("a", 0, 1, 0), mkFrag("a", 1, 1, 0), mkFrag("a", 2, 1, 0), mkFrag("b", 0, 0, 1),
	}))
	require.NoError(t, s.ReplaceSource(ctx, "a", []*models.Fragment{mkFrag("a", 0, 1, 0)}))
	st := s.Stats()
	assert.Equal(t, 2, st.TotalFragments)
	assert.Equal(t, map[string]int{"a": 1, "b": 1}, st.PerSource)
	_, ok := s.Get("a#2")
	assert.False(t, ok)

	err := s.ReplaceSource(ctx, "a", []*models.Fragment{mkFrag("b", 5, 1, 0)})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestStore_DeleteBySource(t *testing.T) {
	s, _ := openMem(t)
	ctx := context.Background()
	require.NoError(t, s.InsertBatch(ctx, []*models.Fragment{
		mkFrag("a", 0, 1, 0), mkFrag("a", 1, 1, 0), mkFrag("b", 0, 1, 0),
	}))
	n, err := s.DeleteBySource(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	res, err := s.Search(ctx, []float32{1, 0}, SearchOptions{Floor: -1})
	require.NoError(t, err)
	assert.Equal(t, []string{"b#0"}, ids(res))
	assert.Equal(t, models.Stats{TotalFragments: 1, PerSource: map[string]int{"b": 1}}, s.Stats())

	n, err = s.DeleteBySource(ctx, "a")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStore_OpenRejectsMixedDimensions(t *testing.T) {
	repo := &memRepo{load: []*models.Fragment{mkFrag("a", 0, 1, 0), mkFrag("a", 1, 1, 0, 0)}}
	_, err := Open(context.Background(), repo)
	assert.ErrorIs(t, err, models.ErrStorageCorruption)
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frags.db")
	ctx := context.Background()

	repo, err := storage.NewSQLiteStorage(path)
	require.NoError(t, err)
	s, err := Open(ctx, repo)
	require.NoError(t, err)
	require.NoError(t, s.InsertBatch(ctx, []*models.Fragment{mkFrag("a", 0, 0.25, 0.5), mkFrag("b", 0, 1, 0)}))
	require.NoError(t, repo.Close())

	repo, err = storage.NewSQLiteStorage(path)
	require.NoError(t, err)
	defer repo.Close()
	s, err = Open(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Stats().TotalFragments)
	f, ok := s.Get("a#0")
	require.True(t, ok)
	assert.Equal(t, []float32{0.25, 0.5}, f.Embedding)
}

// Searches running during a batch insert see either none or all of the batch.
func TestStore_InsertBatchAtomicUnderConcurrentSearch(t *testing.T) {
	s, _ := openMem(t)
	ctx := context.Background()
	require.NoError(t, s.InsertBatch(ctx, []*models.Fragment{mkFrag("seed", 0, 1, 0)}))

	const batches = 50
	const batchSize = 8
	done := make(chan struct{})
	var wg sync.WaitGroup
	var bad error
	var badOnce sync.Once
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				res, err := s.Search(ctx, []float32{1, 0}, SearchOptions{Floor: -1})
				if err != nil {
					badOnce.Do(func() { bad = err })
					return
				}
				if (len(res)-1)%batchSize != 0 {
					badOnce.Do(func() { bad = fmt.Errorf("saw partial batch: %d results", len(res)) })
					return
				}
			}
		}()
	}
	for b := 0; b < batches; b++ {
		batch := make([]*models.Fragment, batchSize)
		for i := range batch {
			batch[i] = mkFrag(fmt.Sprintf("src%d", b), i, 1, float32(i))
		}
		require.NoError(t, s.InsertBatch(ctx, batch))
	}
	close(done)
	wg.Wait()
	require.NoError(t, bad)
	assert.Equal(t, 1+batches*batchSize, s.Stats().TotalFragments)
}

func BenchmarkStore_Search(b *testing.B) {
	repo := &memRepo{}
	s, err := Open(context.Background(), repo)
	if err != nil {
		b.Fatal(err)
	}
	const dims = 384
	var frags []*models.Fragment
	for i := 0; i < 10000; i++ {
		emb := make([]float32, dims)
		for j := range emb {
			emb[j] = float32((i*31+j*17)%97) / 97
		}
		frags = append(frags, mkFrag(fmt.Sprintf("s%d", i/100), i%100, emb...))
	}
	if err := s.InsertBatch(context.Background(), frags); err != nil {
		b.Fatal(err)
	}
	query := frags[42].Embedding
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.Search(context.Background(), query, SearchOptions{TopK: 5, Floor: 0}); err != nil {
			b.Fatal(err)
		}
	}
}
