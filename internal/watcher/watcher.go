// Package watcher ingests documents dropped into watched directories and removes
// their fragments when the files go away.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/tanya/internal/config"
	"github.com/hyperjump/tanya/internal/indexer"
	"github.com/hyperjump/tanya/internal/models"
	"github.com/hyperjump/tanya/pkg/utils"
)

const defaultDebounce = 400 * time.Millisecond

// Handler receives file changes. *indexer.Indexer implements it.
type Handler interface {
	IngestFile(ctx context.Context, path, sourceID string) (*models.IngestResult, error)
	RemoveFile(ctx context.Context, path string) (int, error)
}

// Watcher follows a set of root directories with fsnotify. Writes are debounced per
// file so an editor saving in several steps triggers one ingestion.
type Watcher struct {
	handler    Handler
	extensions []string
	recursive  bool
	debounce   time.Duration
	logger     *zap.Logger

	mu        sync.Mutex
	fsw       *fsnotify.Watcher
	ctx       context.Context
	roots     []string
	rootDirs  map[string][]string // root -> directories registered with fsnotify
	pending   map[string]*time.Timer
	inflight  sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce sets how long a file must stay quiet before it is ingested.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// NewWatcher creates a watcher for the directories in cfg. Nothing is watched until Start.
func NewWatcher(handler Handler, cfg config.WatchConfig, opts ...Option) *Watcher {
	w := &Watcher{
		handler:    handler,
		extensions: append([]string(nil), cfg.Extensions...),
		recursive:  cfg.RecursiveOrDefault(),
		debounce:   defaultDebounce,
		rootDirs:   make(map[string][]string),
		pending:    make(map[string]*time.Timer),
		done:       make(chan struct{}),
	}
	for _, d := range cfg.Directories {
		if abs, err := filepath.Abs(d); err == nil {
			w.roots = append(w.roots, filepath.Clean(abs))
		}
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = utils.NopIfNil(w.logger)
	return w
}

// Start registers the roots, creating missing ones, and processes events until ctx
// is cancelled or Stop is called. Handler calls run with ctx.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.fsw != nil {
		w.mu.Unlock()
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.fsw = fsw
	w.ctx = ctx
	for _, root := range w.roots {
		if err := w.watchRootLocked(root); err != nil {
			_ = fsw.Close()
			w.fsw = nil
			w.mu.Unlock()
			return err
		}
	}
	w.logger.Debug("watcher started",
		zap.Strings("roots", w.roots),
		zap.Strings("extensions", w.extensions),
		zap.Bool("recursive", w.recursive))
	w.mu.Unlock()

	go w.loop(ctx, fsw)
	return nil
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	if !w.underRoot(path) {
		return
	}
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))
	switch {
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		info, err := os.Stat(path)
		if err != nil {
			return
		}
		if info.IsDir() {
			w.watchNewDirectory(path)
			return
		}
		if indexer.ExtensionAllowed(filepath.Ext(path), w.extensions) {
			w.schedule(path)
		}
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		w.cancel(path)
		if indexer.ExtensionAllowed(filepath.Ext(path), w.extensions) {
			w.run(func(ctx context.Context) { w.remove(ctx, path) })
		}
	}
}

// run executes fn in the background unless the watcher has stopped.
func (w *Watcher) run(fn func(ctx context.Context)) {
	w.mu.Lock()
	if w.fsw == nil {
		w.mu.Unlock()
		return
	}
	ctx := w.ctx
	w.inflight.Add(1)
	w.mu.Unlock()
	go func() {
		defer w.inflight.Done()
		fn(ctx)
	}()
}

func (w *Watcher) ingest(ctx context.Context, path string) {
	res, err := w.handler.IngestFile(ctx, path, "")
	if err != nil {
		if errors.Is(err, models.ErrValidation) {
			w.logger.Debug("file skipped", zap.String("path", path), zap.Error(err))
			return
		}
		w.logger.Warn("failed to ingest file", zap.String("path", path), zap.Error(err))
		return
	}
	w.logger.Info("file ingested",
		zap.String("path", path),
		zap.String("source", res.SourceID),
		zap.Int("fragments", res.FragmentCount))
}

func (w *Watcher) remove(ctx context.Context, path string) {
	n, err := w.handler.RemoveFile(ctx, path)
	if err != nil {
		w.logger.Warn("failed to remove file", zap.String("path", path), zap.Error(err))
		return
	}
	if n > 0 {
		w.logger.Info("file removed", zap.String("path", path), zap.Int("fragments", n))
	}
}

// schedule (re)starts the debounce timer of path.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.run(func(ctx context.Context) { w.ingest(ctx, path) })
	})
}

func (w *Watcher) cancel(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
		delete(w.pending, path)
	}
}

// watchNewDirectory registers a directory created under a root and ingests what it holds.
func (w *Watcher) watchNewDirectory(dir string) {
	w.mu.Lock()
	if w.fsw == nil {
		w.mu.Unlock()
		return
	}
	dirs, err := w.addDirsLocked(dir)
	if root := w.rootOfLocked(dir); root != "" {
		w.rootDirs[root] = append(w.rootDirs[root], dirs...)
	}
	w.mu.Unlock()
	if err != nil {
		w.logger.Warn("failed to watch directory", zap.String("path", dir), zap.Error(err))
	}
	w.logger.Debug("watching new directory", zap.String("path", dir), zap.Int("directories", len(dirs)))
	w.run(func(ctx context.Context) { w.sync(ctx, dir) })
}

func (w *Watcher) watchRootLocked(root string) error {
	if err := os.MkdirAll(root, 0755); err != nil {
		return err
	}
	dirs, err := w.addDirsLocked(root)
	if err != nil {
		for _, d := range dirs {
			_ = w.fsw.Remove(d)
		}
		return err
	}
	w.rootDirs[root] = dirs
	return nil
}

// addDirsLocked adds dir, and its subdirectories when recursive, to fsnotify.
func (w *Watcher) addDirsLocked(dir string) ([]string, error) {
	if !w.recursive {
		if err := w.fsw.Add(dir); err != nil {
			return nil, err
		}
		return []string{dir}, nil
	}
	var dirs []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.fsw.Add(path); err != nil {
			return err
		}
		dirs = append(dirs, path)
		return nil
	})
	return dirs, err
}

func (w *Watcher) underRoot(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rootOfLocked(path) != ""
}

func (w *Watcher) rootOfLocked(path string) string {
	for _, root := range w.roots {
		if inDir(root, path) {
			return root
		}
	}
	return ""
}

// inDir reports whether path is dir or lies below it.
func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// sync ingests every matching file below dir.
func (w *Watcher) sync(ctx context.Context, dir string) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !w.recursive && d.IsDir() && path != dir {
			return filepath.SkipDir
		}
		if d.Type().IsRegular() && indexer.ExtensionAllowed(filepath.Ext(path), w.extensions) {
			w.ingest(ctx, path)
		}
		return nil
	})
}

// SyncExisting ingests the files already present in every root.
func (w *Watcher) SyncExisting() {
	for _, root := range w.Directories() {
		w.run(func(ctx context.Context) { w.sync(ctx, root) })
	}
}

// AddDirectory starts watching root. With syncExisting its current files are ingested.
func (w *Watcher) AddDirectory(root string, syncExisting bool) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	w.mu.Lock()
	if w.fsw == nil {
		w.mu.Unlock()
		return errors.New("watcher is not running")
	}
	for _, r := range w.roots {
		if r == abs {
			w.mu.Unlock()
			return nil
		}
	}
	if err := w.watchRootLocked(abs); err != nil {
		w.mu.Unlock()
		return err
	}
	w.roots = append(w.roots, abs)
	w.mu.Unlock()

	w.logger.Debug("watch directory added", zap.String("path", abs), zap.Bool("sync_existing", syncExisting))
	if syncExisting {
		w.run(func(ctx context.Context) { w.sync(ctx, abs) })
	}
	return nil
}

// RemoveDirectory stops watching root. Fragments already ingested from it are kept.
func (w *Watcher) RemoveDirectory(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, r := range w.roots {
		if r != abs {
			continue
		}
		if w.fsw != nil {
			for _, d := range w.rootDirs[abs] {
				_ = w.fsw.Remove(d)
			}
		}
		delete(w.rootDirs, abs)
		w.roots = append(w.roots[:i], w.roots[i+1:]...)
		w.logger.Debug("watch directory removed", zap.String("path", abs))
		return nil
	}
	return nil
}

// Directories returns the watched roots.
func (w *Watcher) Directories() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.roots...)
}

// Stop stops watching and waits for running ingestions to finish.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.fsw == nil {
		w.mu.Unlock()
		return
	}
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	_ = w.fsw.Close()
	w.fsw = nil
	w.mu.Unlock()
	w.closeOnce.Do(func() { close(w.done) })
	w.inflight.Wait()
}
