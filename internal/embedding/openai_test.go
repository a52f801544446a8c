package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/hyperjump/kbindex/internal/config"
)

// newFakeOpenAI serves /embeddings, returning vectors in reverse order to
// check that results are placed by index.
func newFakeOpenAI(t *testing.T, dim int, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req struct {
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		type item struct {
			Object    string    `json:"object"`
			Index     int       `json:"index"`
			Embedding []float64 `json:"embedding"`
		}
		data := make([]item, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			vec := make([]float64, dim)
			vec[0] = float64(i)
			data = append(data, item{Object: "embedding", Index: i, Embedding: vec})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  "test-model",
			"data":   data,
			"usage":  map[string]int{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
}

func TestOpenAIEmbedder_EmbedBatch(t *testing.T) {
	var calls atomic.Int32
	srv := newFakeOpenAI(t, 4, &calls)
	defer srv.Close()

	e, err := NewOpenAIEmbedder(OpenAIOptions{APIKey: "k", BaseURL: srv.URL, Model: "m", Dimensions: 4})
	if err != nil {
		t.Fatal(err)
	}
	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("len = %d", len(vecs))
	}
	for i, v := range vecs {
		if len(v) != 4 || v[0] != float32(i) {
			t.Errorf("vecs[%d] = %v", i, v)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
	if e.ID() != "openai:m/4" {
		t.Errorf("ID() = %s", e.ID())
	}
}

func TestOpenAIEmbedder_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"boom"}}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	e, err := NewOpenAIEmbedder(OpenAIOptions{APIKey: "k", BaseURL: srv.URL, Model: "m", Dimensions: 4})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Embed(context.Background(), "x"); err == nil {
		t.Error("expected error from failing server")
	}
}

func TestNewOpenAIEmbedder_RequiresKey(t *testing.T) {
	if _, err := NewOpenAIEmbedder(OpenAIOptions{Dimensions: 4}); err == nil {
		t.Error("expected error without api key")
	}
}

func TestNew(t *testing.T) {
	e, err := New(config.EmbeddingConfig{Provider: ProviderMock, Dimensions: 16, CacheSize: 10}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := e.(*CachedEmbedder); !ok {
		t.Errorf("expected cached embedder, got %T", e)
	}
	if e.Dimensions() != 16 || ID(e) != "mock/16" {
		t.Errorf("dimensions %d id %s", e.Dimensions(), ID(e))
	}

	if _, err := New(config.EmbeddingConfig{Provider: "word2vec"}, nil); err == nil {
		t.Error("expected error for unknown provider")
	}
}
