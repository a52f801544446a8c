package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/kbindex/internal/config"
	"github.com/hyperjump/kbindex/internal/docstore"
	"github.com/hyperjump/kbindex/internal/models"
	"github.com/hyperjump/kbindex/internal/semantic"
	"github.com/hyperjump/kbindex/internal/storage"
)

const maxBodyBytes = 32 << 20

func (s *Server) handleAddTexts(w http.ResponseWriter, r *http.Request) {
	var req models.AddTextsRequest
	if !s.decode(w, r, &req) {
		return
	}
	metadata := withIDs(req.Texts, req.Metadata)
	s.logger.Debug("add texts request", zap.Int("texts", len(req.Texts)))

	n, err := s.index.AddTexts(r.Context(), req.Texts, metadata)
	resp := models.AddTextsResponse{Added: n, Persisted: true}
	if err != nil {
		if !errors.Is(err, semantic.ErrNotPersisted) {
			s.fail(w, "add texts", err)
			return
		}
		resp.Persisted = false
		resp.Warning = err.Error()
	}
	s.respondJSON(w, http.StatusCreated, resp)
}

// withIDs gives every text an "id" metadata entry unless the caller set one.
// Mismatched lengths are passed through for the index to reject.
func withIDs(texts []string, metadata []map[string]any) []map[string]any {
	if len(metadata) == 0 {
		metadata = make([]map[string]any, len(texts))
	}
	if len(metadata) != len(texts) {
		return metadata
	}
	for i, m := range metadata {
		if m == nil {
			m = make(map[string]any, 1)
			metadata[i] = m
		}
		if _, ok := m["id"]; !ok {
			m["id"] = uuid.NewString()
		}
	}
	return metadata
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var query models.SearchQuery
	if !s.decode(w, r, &query) {
		return
	}
	if err := query.Validate(models.SearchDefaults{
		TopK:              s.cfg.Search.DefaultTopK,
		MaxTopK:           s.cfg.Search.MaxTopK,
		DistanceThreshold: s.cfg.Search.Threshold(),
	}); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Debug("search request", zap.String("query", query.Query), zap.Int("top_k", query.TopK))

	start := time.Now()
	results, err := s.index.Search(r.Context(), query.Query, query.TopK, query.Threshold())
	if err != nil {
		s.fail(w, "search", err)
		return
	}
	resp := models.SearchResponse{
		Query:     query.Query,
		Results:   make([]*models.SearchResult, len(results)),
		Total:     len(results),
		QueryTime: time.Since(start).Milliseconds(),
	}
	for i := range results {
		resp.Results[i] = &results[i]
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if s.ingester == nil {
		s.respondError(w, http.StatusNotImplemented, "ingest not enabled")
		return
	}
	var req models.IngestRequest
	if !s.decode(w, r, &req) {
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
	s.logger.Debug("ingest request", zap.String("path", abs))

	res, err := s.ingester.IngestPath(r.Context(), abs)
	resp := models.IngestResponse{Files: res.Files, Skipped: res.Skipped, Chunks: res.Chunks}
	switch {
	case err == nil:
	case errors.Is(err, semantic.ErrNotPersisted):
		resp.Warning = err.Error()
	case errors.Is(err, os.ErrNotExist):
		s.respondError(w, http.StatusNotFound, "path not found")
		return
	default:
		s.fail(w, "ingest", err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := models.StatusResponse{
		State:     s.index.State().String(),
		Documents: s.index.Len(),
		Dimension: s.index.Dimension(),
		Backend:   s.cfg.Storage.Backend,
		Location:  storageLocation(s.cfg.Storage),
		Embedder:  s.index.EmbedderID(),
	}
	if s.store != nil {
		n, ok, err := storage.DiskUsage(s.store)
		if err != nil {
			s.logger.Warn("status: disk usage failed", zap.Error(err))
		} else if ok {
			resp.DiskUsageByte = n
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// storageLocation describes where snapshots live for humans.
func storageLocation(c config.StorageConfig) string {
	if c.IsFilesystem() {
		return c.Path
	}
	if c.Path == "" && c.Backend == config.BackendBadger {
		return "memory"
	}
	return c.Backend + "://" + c.Bucket + "/" + c.Prefix
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.index.State() != semantic.Ready {
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleWatchDirectoriesList(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"directories": s.watch.Directories()})
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
	if !s.decode(w, r, &req) {
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
		s.fail(w, "watch add directory", err)
		return
	}
	if !info.IsDir() {
		s.respondError(w, http.StatusBadRequest, "path is not a directory")
		return
	}
	syncExisting := req.Sync == nil || *req.Sync
	if err := s.watch.AddDirectory(abs, syncExisting); err != nil {
		s.fail(w, "watch add directory", err)
		return
	}
	s.saveWatchConfig()
	s.respondJSON(w, http.StatusCreated, map[string]string{"path": abs, "status": "added"})
}

func (s *Server) handleWatchDirectoriesRemove(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path query parameter is required")
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	if err := s.watch.RemoveDirectory(abs); err != nil {
		s.fail(w, "watch remove directory", err)
		return
	}
	s.saveWatchConfig()
	s.respondJSON(w, http.StatusOK, map[string]string{"path": abs, "status": "removed"})
}

// saveWatchConfig writes the current watch directories back to the config
// file. Failures are logged only.
func (s *Server) saveWatchConfig() {
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

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// statusFor maps index errors to HTTP status codes. Dimension mismatches
// and corruption are server faults.
func statusFor(err error) int {
	switch {
	case errors.Is(err, semantic.ErrInvalidArgument), errors.Is(err, docstore.ErrOutOfRange):
		return http.StatusBadRequest
	case errors.Is(err, semantic.ErrNotReady), errors.Is(err, semantic.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, semantic.ErrEmbedding):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(op+" failed", zap.Error(err))
	} else {
		s.logger.Debug(op+" rejected", zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
