package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/tanya/internal/config"
	"github.com/hyperjump/tanya/internal/models"
	"github.com/hyperjump/tanya/internal/storage"
)

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req models.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("query request", zap.String("query", req.Query), zap.Int("top_k", req.TopK), zap.Bool("strict", req.Strict))
	ans, err := s.answerer.Ask(r.Context(), req)
	if err != nil {
		s.fail(w, "query failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, ans)
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var input models.IngestInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("ingest request", zap.String("id", input.SourceID), zap.String("title", input.Title))
	res, err := s.indexer.Ingest(r.Context(), input)
	if err != nil {
		s.fail(w, "ingest failed", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, res)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()
	content, err := io.ReadAll(file)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "failed to read file")
		return
	}
	s.logger.Debug("upload request", zap.String("filename", header.Filename), zap.Int("bytes", len(content)))
	res, err := s.indexer.IngestBytes(r.Context(), content, header.Filename, r.FormValue("id"))
	if err != nil {
		s.fail(w, "upload failed", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, res)
}

func (s *Server) handleGetSource(w http.ResponseWriter, r *http.Request) {
	id := idParam(r)
	n := s.index.Stats().PerSource[id]
	if n == 0 {
		s.respondError(w, http.StatusNotFound, "source not found")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"id": id, "fragments": n})
}

// idParam returns the unescaped {id} route parameter. chi matches on the raw path,
// so ids containing escaped characters such as '#' arrive encoded.
func idParam(r *http.Request) string {
	raw := chi.URLParam(r, "id")
	if id, err := url.PathUnescape(raw); err == nil {
		return id
	}
	return raw
}

// handleGetFragment returns a cited fragment's text and location.
func (s *Server) handleGetFragment(w http.ResponseWriter, r *http.Request) {
	frag, ok := s.index.Get(idParam(r))
	if !ok {
		s.respondError(w, http.StatusNotFound, "fragment not found")
		return
	}
	s.respondJSON(w, http.StatusOK, frag)
}

func (s *Server) handleDeleteSource(w http.ResponseWriter, r *http.Request) {
	id := idParam(r)
	s.logger.Debug("delete source request", zap.String("id", id))
	n, err := s.indexer.RemoveSource(r.Context(), id)
	if err != nil {
		s.fail(w, "delete failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"id": id, "removed": n})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.index.Stats())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats := s.index.Stats()
	resp := map[string]interface{}{
		"fragments":  stats.TotalFragments,
		"sources":    len(stats.PerSource),
		"dimensions": s.index.Dimensions(),
	}

	s.cfgMu.Lock()
	cfg := s.cfg
	configInfo := map[string]interface{}{
		"embedding_provider":  cfg.Embedding.Provider,
		"embedding_model":     cfg.Embedding.Model,
		"generation_provider": cfg.Generation.Provider,
		"generation_model":    cfg.Generation.Model,
		"strict":              cfg.Generation.Strict,
		"top_k":               cfg.Retrieval.TopK,
		"similarity_floor":    cfg.Retrieval.Floor(),
		"max_fragment_size":   cfg.Chunking.MaxSize,
		"overlap_units":       cfg.Chunking.OverlapUnits,
		"history_backend":     cfg.History.Backend,
		"database_path":       cfg.Storage.DatabasePath,
	}
	dbPath := cfg.Storage.DatabasePath
	s.cfgMu.Unlock()

	if diskBytes, err := storage.DiskUsageBytes(storage.DatabaseFiles(dbPath)...); err == nil {
		resp["disk_usage_bytes"] = diskBytes
	} else {
		s.logger.Warn("status: disk usage failed", zap.Error(err))
	}
	if s.counter != nil {
		if n, err := s.counter.CountFragments(r.Context()); err == nil {
			resp["stored_fragments"] = n
		} else {
			s.logger.Warn("status: count fragments failed", zap.Error(err))
		}
	}
	resp["config"] = configInfo
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistoryList(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.respondError(w, http.StatusNotImplemented, "history not enabled")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	answers, err := s.history.List(r.Context(), limit)
	if err != nil {
		s.fail(w, "history list failed", err)
		return
	}
	if answers == nil {
		answers = []*models.Answer{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"answers": answers})
}

func (s *Server) handleHistoryGet(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.respondError(w, http.StatusNotImplemented, "history not enabled")
		return
	}
	ans, err := s.history.Get(r.Context(), idParam(r))
	if err != nil {
		s.fail(w, "history get failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, ans)
}

func (s *Server) handleWatchDirectoriesList(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"directories": s.watch.Directories()})
}

type watchAddRequest struct {
	Path string `json:"path"`
	Sync *bool  `json:"sync,omitempty"`
}

func (s *Server) handleWatchDirectoriesAdd(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	var req watchAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	abs, err := filepath.Abs(req.Path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			s.respondError(w, http.StatusNotFound, "directory not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !info.IsDir() {
		s.respondError(w, http.StatusBadRequest, "path is not a directory")
		return
	}
	syncExisting := true
	if req.Sync != nil {
		syncExisting = *req.Sync
	}
	s.logger.Debug("watch add directory request", zap.String("path", abs), zap.Bool("sync_existing", syncExisting))
	if err := s.watch.AddDirectory(abs, syncExisting); err != nil {
		s.logger.Error("watch add directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusCreated, map[string]string{"path": abs, "status": "added"})
}

func (s *Server) handleWatchDirectoriesRemove(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		var body struct {
			Path string `json:"path"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			path = body.Path
		}
	}
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required (query or body)")
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	s.logger.Debug("watch remove directory request", zap.String("path", abs))
	if err := s.watch.RemoveDirectory(abs); err != nil {
		s.logger.Error("watch remove directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusOK, map[string]string{"path": abs, "status": "removed"})
}

func (s *Server) persistWatchDirectories() {
	if s.configPath == "" {
		return
	}
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	s.cfg.Watch.Directories = s.watch.Directories()
	if err := config.Save(s.configPath, s.cfg); err != nil {
		s.logger.Warn("failed to persist watch config", zap.Error(err))
	}
}

// statusFor maps an error to the HTTP status reported to the client.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrEmbeddingUnavailable), errors.Is(err, models.ErrGenerationUnavailable):
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	case errors.Is(err, models.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(msg, zap.Error(err))
	} else {
		s.logger.Debug(msg, zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
