// Package server provides the HTTP API for tanya.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/tanya/internal/config"
	"github.com/hyperjump/tanya/internal/history"
	"github.com/hyperjump/tanya/internal/models"
	"github.com/hyperjump/tanya/internal/rag"
	"github.com/hyperjump/tanya/pkg/utils"
)

const (
	requestTimeout = 60 * time.Second
	maxUploadBytes = 64 << 20
)

// Indexer ingests and removes sources. *indexer.Indexer implements it.
type Indexer interface {
	Ingest(ctx context.Context, input models.IngestInput) (*models.IngestResult, error)
	IngestBytes(ctx context.Context, content []byte, filename, sourceID string) (*models.IngestResult, error)
	RemoveSource(ctx context.Context, sourceID string) (int, error)
}

// Answerer answers queries. *rag.Answerer implements it.
type Answerer interface {
	Ask(ctx context.Context, req models.QueryRequest) (*models.Answer, error)
	Stream(ctx context.Context, req models.QueryRequest) (*rag.Stream, error)
}

// Index reports what is indexed. *vector.Store implements it.
type Index interface {
	Stats() models.Stats
	Dimensions() int
	Get(id string) (*models.Fragment, bool)
}

// FragmentCounter counts persisted fragments. *storage.SQLiteStorage implements it.
type FragmentCounter interface {
	CountFragments(ctx context.Context) (int64, error)
}

// WatchService manages watched directories. *watcher.Watcher implements it.
type WatchService interface {
	Directories() []string
	AddDirectory(path string, syncExisting bool) error
	RemoveDirectory(path string) error
}

// Server is the HTTP server for the tanya API.
type Server struct {
	indexer  Indexer
	answerer Answerer
	index    Index
	history  history.Store
	cfg      *config.Config
	logger   *zap.Logger

	counter FragmentCounter

	watch      WatchService
	configPath string
	cfgMu      sync.Mutex

	server *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithFragmentCounter adds the persisted fragment count to /api/v1/status, so a
// loaded index that disagrees with the database is visible.
func WithFragmentCounter(c FragmentCounter) Option {
	return func(s *Server) { s.counter = c }
}

// WithWatch enables the watch directory endpoints. When configPath is set, directory
// changes are written back to the config file.
func WithWatch(watch WatchService, configPath string) Option {
	return func(s *Server) {
		s.watch = watch
		s.configPath = configPath
	}
}

// NewServer creates a server with the given dependencies. hist may be nil, which
// disables the history endpoints.
func NewServer(
	idx Indexer,
	answerer Answerer,
	index Index,
	hist history.Store,
	cfg *config.Config,
	logger *zap.Logger,
	opts ...Option,
) *Server {
	s := &Server{
		indexer:  idx,
		answerer: answerer,
		index:    index,
		history:  hist,
		cfg:      cfg,
		logger:   utils.NopIfNil(logger),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router returns the HTTP handler. Streaming responses bypass the request timeout
// and compression middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Post("/api/v1/query/stream", s.handleQueryStream)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))
		r.Use(middleware.Compress(5))

		r.Post("/api/v1/query", s.handleQuery)
		r.Post("/api/v1/sources", s.handleIngest)
		r.Post("/api/v1/sources/upload", s.handleUpload)
		r.Get("/api/v1/sources/{id}", s.handleGetSource)
		r.Get("/api/v1/fragments/{id}", s.handleGetFragment)
		r.Delete("/api/v1/sources/{id}", s.handleDeleteSource)
		r.Get("/api/v1/stats", s.handleStats)
		r.Get("/api/v1/status", s.handleStatus)
		r.Get("/api/v1/history", s.handleHistoryList)
		r.Get("/api/v1/history/{id}", s.handleHistoryGet)
		r.Get("/api/v1/watch/directories", s.handleWatchDirectoriesList)
		r.Post("/api/v1/watch/directories", s.handleWatchDirectoriesAdd)
		r.Delete("/api/v1/watch/directories", s.handleWatchDirectoriesRemove)
		r.Get("/health", s.handleHealth)
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
