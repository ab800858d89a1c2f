package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/tanya/internal/config"
	"github.com/hyperjump/tanya/internal/embedding"
	"github.com/hyperjump/tanya/internal/extract"
	"github.com/hyperjump/tanya/internal/indexer"
	"github.com/hyperjump/tanya/internal/models"
	"github.com/hyperjump/tanya/internal/storage"
	"github.com/hyperjump/tanya/internal/vector"
)

type recorder struct {
	mu       sync.Mutex
	ingested []string
	removed  []string
}

func (r *recorder) IngestFile(_ context.Context, path, _ string) (*models.IngestResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ingested = append(r.ingested, path)
	return &models.IngestResult{SourceID: filepath.Base(path), FragmentCount: 1}, nil
}

func (r *recorder) RemoveFile(_ context.Context, path string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, path)
	return 1, nil
}

func (r *recorder) snapshot() (ingested, removed []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ingested...), append([]string(nil), r.removed...)
}

func hasSuffix(paths []string, suffix string) bool {
	for _, p := range paths {
		if strings.HasSuffix(p, suffix) {
			return true
		}
	}
	return false
}

// waitFor polls cond until it holds or two seconds pass.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func startWatcher(t *testing.T, h Handler, dirs []string, exts []string) *Watcher {
	t.Helper()
	w := NewWatcher(h, config.WatchConfig{Directories: dirs, Extensions: exts}, WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx); err != nil {
		cancel()
		t.Fatal(err)
	}
	t.Cleanup(func() {
		cancel()
		w.Stop()
	})
	return w
}

func TestWatcher_AddRemoveDirectories(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, &recorder{}, nil, []string{".txt"})

	if err := w.AddDirectory(dir, false); err != nil {
		t.Fatal(err)
	}
	if err := w.AddDirectory(dir, false); err != nil {
		t.Fatal(err)
	}
	dirs := w.Directories()
	if len(dirs) != 1 || dirs[0] != filepath.Clean(dir) {
		t.Errorf("Directories() = %v", dirs)
	}
	if err := w.RemoveDirectory(dir); err != nil {
		t.Fatal(err)
	}
	if len(w.Directories()) != 0 {
		t.Errorf("after remove: %v", w.Directories())
	}
}

func TestWatcher_AddDirectoryBeforeStart(t *testing.T) {
	w := NewWatcher(&recorder{}, config.WatchConfig{}, WithDebounce(50*time.Millisecond))
	if err := w.AddDirectory(t.TempDir(), false); err == nil {
		t.Error("expected error when the watcher is not running")
	}
}

func TestWatcher_IngestsNewFilesAfterDebounce(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	startWatcher(t, rec, []string{dir}, []string{".txt"})

	path := filepath.Join(dir, "note.txt")
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(path, []byte(strings.Repeat("x", i+1)), 0600); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "skip.bin"), []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "note.txt ingestion", func() bool {
		ingested, _ := rec.snapshot()
		return hasSuffix(ingested, "note.txt")
	})
	time.Sleep(150 * time.Millisecond)
	ingested, _ := rec.snapshot()
	if len(ingested) != 1 {
		t.Errorf("expected one debounced ingestion, got %v", ingested)
	}
}

func TestWatcher_RemovesDeletedFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gone.txt")
	if err := os.WriteFile(path, []byte("bye"), 0600); err != nil {
		t.Fatal(err)
	}
	rec := &recorder{}
	startWatcher(t, rec, []string{dir}, []string{".txt"})

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "removal", func() bool {
		_, removed := rec.snapshot()
		return hasSuffix(removed, "gone.txt")
	})
}

func TestWatcher_SyncExisting(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "ignore.xyz"), []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	rec := &recorder{}
	w := startWatcher(t, rec, []string{dir}, []string{".txt"})
	w.SyncExisting()

	waitFor(t, "sync", func() bool {
		ingested, _ := rec.snapshot()
		return len(ingested) == 1 && strings.HasSuffix(ingested[0], "a.txt")
	})
}

func TestWatcher_StartCreatesMissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "watch", "me")
	startWatcher(t, &recorder{}, []string{root}, nil)
	if _, err := os.Stat(root); err != nil {
		t.Errorf("root directory should exist after Start: %v", err)
	}
}

func TestWatcher_NewNestedDirectory(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	startWatcher(t, rec, []string{dir}, []string{".txt", ".md"})

	nested := filepath.Join(dir, "level1", "level2")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(nested, "deep.txt"), []byte("deep"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "level1", "top.md"), []byte("top"), 0600); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "nested files", func() bool {
		ingested, _ := rec.snapshot()
		return hasSuffix(ingested, "deep.txt") && hasSuffix(ingested, "top.md")
	})
}

func TestInDir(t *testing.T) {
	tests := []struct {
		dir  string
		path string
		want bool
	}{
		{"/tmp/a", "/tmp/a", true},
		{"/tmp/a", "/tmp/a/b.txt", true},
		{"/tmp/a", "/tmp/b", false},
		{"/tmp/a", "/tmp/ab", false},
		{"/tmp/a", "/tmp/a/../b", false},
	}
	for _, tt := range tests {
		if got := inDir(tt.dir, tt.path); got != tt.want {
			t.Errorf("inDir(%q, %q) = %v, want %v", tt.dir, tt.path, got, tt.want)
		}
	}
}

func TestWatcher_WithIndexer(t *testing.T) {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	repo, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "db.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	defer repo.Close()
	store, err := vector.Open(context.Background(), repo)
	if err != nil {
		t.Fatal(err)
	}
	idx, err := indexer.NewIndexer(store, embedding.NewMockEmbedder(32), cfg, extract.NewExtractor())
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()

	dir := t.TempDir()
	startWatcher(t, idx, []string{dir}, []string{".md"})

	path := filepath.Join(dir, "guide.md")
	if err := os.WriteFile(path, []byte("The watcher ingests dropped files."), 0600); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "fragments stored", func() bool { return store.Stats().TotalFragments == 1 })

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "fragments removed", func() bool { return store.Stats().TotalFragments == 0 })
}
