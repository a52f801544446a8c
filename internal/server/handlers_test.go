package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/hyperjump/kbindex/internal/config"
	"github.com/hyperjump/kbindex/internal/docstore"
	"github.com/hyperjump/kbindex/internal/embedding"
	"github.com/hyperjump/kbindex/internal/ingest"
	"github.com/hyperjump/kbindex/internal/models"
	"github.com/hyperjump/kbindex/internal/semantic"
	"github.com/hyperjump/kbindex/internal/snapshot"
	"github.com/hyperjump/kbindex/internal/storage"
	"github.com/hyperjump/kbindex/internal/vector"
)

type mockWatchService struct {
	dirs []string
}

func (m *mockWatchService) Directories() []string {
	return append([]string(nil), m.dirs...)
}

func (m *mockWatchService) AddDirectory(path string, _ bool) error {
	for _, d := range m.dirs {
		if d == path {
			return nil
		}
	}
	m.dirs = append(m.dirs, path)
	return nil
}

func (m *mockWatchService) RemoveDirectory(path string) error {
	for i, d := range m.dirs {
		if d == path {
			m.dirs = append(m.dirs[:i], m.dirs[i+1:]...)
			return nil
		}
	}
	return nil
}

func testServer(t *testing.T, watch WatchService) (*Server, *semantic.Index) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{Storage: config.StorageConfig{Path: filepath.Join(dir, "store")}}
	config.ApplyDefaults(cfg)

	store, err := storage.NewLocalStore(cfg.Storage.Path)
	if err != nil {
		t.Fatal(err)
	}
	idx, err := semantic.Open(context.Background(), embedding.NewMockEmbedder(16), snapshot.NewManager(store))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = idx.Close(context.Background()) })
	return NewServer(idx, ingest.New(idx), store, cfg, nil, watch, ""), idx
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	r := httptest.NewRequest(method, path, &buf)
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func TestHandleAddTextsAndSearch(t *testing.T) {
	srv, idx := testServer(t, nil)
	h := srv.Handler()

	w := do(t, h, http.MethodPost, "/api/v1/texts", models.AddTextsRequest{
		Texts:    []string{"the cat sat on the mat", "quarterly revenue report"},
		Metadata: []map[string]any{{"id": "cat"}, nil},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	added := decodeBody[models.AddTextsResponse](t, w)
	if added.Added != 2 || !added.Persisted || added.Warning != "" {
		t.Errorf("response: %+v", added)
	}

	docs, err := idx.Documents()
	if err != nil {
		t.Fatal(err)
	}
	if docs[0].Metadata["id"] != "cat" {
		t.Errorf("caller id should be kept, got %v", docs[0].Metadata["id"])
	}
	if id, _ := docs[1].Metadata["id"].(string); len(id) != 36 {
		t.Errorf("expected minted uuid, got %v", docs[1].Metadata["id"])
	}

	threshold := 1e9
	w = do(t, h, http.MethodPost, "/api/v1/search", models.SearchQuery{
		Query: "the cat sat on the mat", TopK: 5, DistanceThreshold: &threshold,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	resp := decodeBody[models.SearchResponse](t, w)
	if resp.Total != 2 || len(resp.Results) != 2 {
		t.Fatalf("results: %+v", resp)
	}
	if resp.Results[0].Text != "the cat sat on the mat" || resp.Results[0].Distance > 1e-6 {
		t.Errorf("first result: %+v", resp.Results[0])
	}
	if resp.Results[0].Distance > resp.Results[1].Distance {
		t.Error("results should be ordered by distance")
	}
}

func TestHandleSearch_thresholdFilters(t *testing.T) {
	srv, _ := testServer(t, nil)
	h := srv.Handler()
	do(t, h, http.MethodPost, "/api/v1/texts", models.AddTextsRequest{Texts: []string{"alpha"}})

	zero := 0.0
	w := do(t, h, http.MethodPost, "/api/v1/search", models.SearchQuery{Query: "omega", DistanceThreshold: &zero})
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	if resp := decodeBody[models.SearchResponse](t, w); resp.Total != 0 || resp.Results == nil {
		t.Errorf("expected empty non-nil results, got %+v", resp)
	}
}

func TestHandleSearch_badRequests(t *testing.T) {
	srv, _ := testServer(t, nil)
	h := srv.Handler()
	tests := []struct {
		name string
		body any
	}{
		{"invalid json", "{"},
		{"empty query", models.SearchQuery{}},
		{"negative top_k", models.SearchQuery{Query: "q", TopK: -1}},
		{"negative threshold", `{"query":"q","distance_threshold":-1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := do(t, h, http.MethodPost, "/api/v1/search", tt.body); w.Code != http.StatusBadRequest {
				t.Errorf("status: got %d, want 400", w.Code)
			}
		})
	}
}

func TestHandleAddTexts_metadataLengthMismatch(t *testing.T) {
	srv, idx := testServer(t, nil)
	w := do(t, srv.Handler(), http.MethodPost, "/api/v1/texts", models.AddTextsRequest{
		Texts:    []string{"a", "b"},
		Metadata: []map[string]any{{"k": "v"}},
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", w.Code)
	}
	if idx.Len() != 0 {
		t.Errorf("nothing should be added, got %d", idx.Len())
	}
}

func TestHandleIngest(t *testing.T) {
	srv, idx := testServer(t, nil)
	h := srv.Handler()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "notes.md"), []byte("ingested through the api"), 0o600); err != nil {
		t.Fatal(err)
	}

	w := do(t, h, http.MethodPost, "/api/v1/ingest", models.IngestRequest{Path: dir})
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	if resp := decodeBody[models.IngestResponse](t, w); resp.Files != 1 || resp.Chunks != 1 {
		t.Errorf("response: %+v", resp)
	}
	if idx.Len() != 1 {
		t.Errorf("index len = %d", idx.Len())
	}

	if w := do(t, h, http.MethodPost, "/api/v1/ingest", models.IngestRequest{}); w.Code != http.StatusBadRequest {
		t.Errorf("empty path: got %d", w.Code)
	}
	if w := do(t, h, http.MethodPost, "/api/v1/ingest", models.IngestRequest{Path: filepath.Join(dir, "nope")}); w.Code != http.StatusNotFound {
		t.Errorf("missing path: got %d", w.Code)
	}
}

func TestHandleStatusAndHealth(t *testing.T) {
	srv, _ := testServer(t, nil)
	h := srv.Handler()
	do(t, h, http.MethodPost, "/api/v1/texts", models.AddTextsRequest{Texts: []string{"one", "two"}})

	w := do(t, h, http.MethodGet, "/api/v1/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	st := decodeBody[models.StatusResponse](t, w)
	if st.State != "ready" || st.Documents != 2 || st.Dimension != 16 || st.Backend != config.BackendLocal {
		t.Errorf("status: %+v", st)
	}
	if st.Embedder != "mock/16" || st.DiskUsageByte <= 0 {
		t.Errorf("status: %+v", st)
	}

	if w := do(t, h, http.MethodGet, "/health", nil); w.Code != http.StatusOK {
		t.Errorf("health: got %d", w.Code)
	}
}

func TestHandleHealth_notReady(t *testing.T) {
	store, err := storage.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	idx := semantic.New(embedding.NewMockEmbedder(4), snapshot.NewManager(store))
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	h := NewServer(idx, nil, nil, cfg, nil, nil, "").Handler()

	if w := do(t, h, http.MethodGet, "/health", nil); w.Code != http.StatusServiceUnavailable {
		t.Errorf("health: got %d, want 503", w.Code)
	}
	if w := do(t, h, http.MethodPost, "/api/v1/search", models.SearchQuery{Query: "q"}); w.Code != http.StatusServiceUnavailable {
		t.Errorf("search: got %d, want 503", w.Code)
	}
	if w := do(t, h, http.MethodPost, "/api/v1/ingest", models.IngestRequest{Path: "/tmp"}); w.Code != http.StatusNotImplemented {
		t.Errorf("ingest: got %d, want 501", w.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: bad", semantic.ErrInvalidArgument), http.StatusBadRequest},
		{fmt.Errorf("get: %w", docstore.ErrOutOfRange), http.StatusBadRequest},
		{semantic.ErrNotReady, http.StatusServiceUnavailable},
		{semantic.ErrClosed, http.StatusServiceUnavailable},
		{fmt.Errorf("%w: timeout", semantic.ErrEmbedding), http.StatusBadGateway},
		{&vector.ErrDimensionMismatch{Expected: 3, Actual: 2}, http.StatusInternalServerError},
		{snapshot.ErrCorruption, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestHandleWatchDirectories(t *testing.T) {
	dir := t.TempDir()
	mock := &mockWatchService{dirs: []string{"/tmp/docs"}}
	srv, _ := testServer(t, mock)
	srv.configPath = filepath.Join(t.TempDir(), "config.yaml")
	h := srv.Handler()

	w := do(t, h, http.MethodGet, "/api/v1/watch/directories", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: got %d", w.Code)
	}
	list := decodeBody[struct {
		Directories []string `json:"directories"`
	}](t, w)
	if len(list.Directories) != 1 || list.Directories[0] != "/tmp/docs" {
		t.Errorf("directories: got %v", list.Directories)
	}

	if w := do(t, h, http.MethodPost, "/api/v1/watch/directories", map[string]string{"path": dir}); w.Code != http.StatusCreated {
		t.Fatalf("add: got %d, body: %s", w.Code, w.Body.String())
	}
	if len(mock.Directories()) != 2 {
		t.Errorf("expected 2 directories, got %v", mock.Directories())
	}
	saved, err := config.Load(srv.configPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(saved.Watch.Directories) != 2 {
		t.Errorf("saved directories: %v", saved.Watch.Directories)
	}

	if w := do(t, h, http.MethodPost, "/api/v1/watch/directories", map[string]string{"path": filepath.Join(dir, "missing")}); w.Code != http.StatusNotFound {
		t.Errorf("add missing: got %d", w.Code)
	}
	if w := do(t, h, http.MethodDelete, "/api/v1/watch/directories?path="+dir, nil); w.Code != http.StatusOK {
		t.Errorf("remove: got %d", w.Code)
	}
	if len(mock.Directories()) != 1 {
		t.Errorf("expected 1 directory, got %v", mock.Directories())
	}
	if w := do(t, h, http.MethodDelete, "/api/v1/watch/directories", nil); w.Code != http.StatusBadRequest {
		t.Errorf("remove without path: got %d", w.Code)
	}
}

func TestHandleWatchDirectories_notEnabled(t *testing.T) {
	srv, _ := testServer(t, nil)
	if w := do(t, srv.Handler(), http.MethodGet, "/api/v1/watch/directories", nil); w.Code != http.StatusNotImplemented {
		t.Errorf("status: got %d, want 501", w.Code)
	}
}
