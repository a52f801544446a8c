package embedding

import (
	"context"
	"testing"
)

func TestEmbeddingCache_GetSet(t *testing.T) {
	c := NewEmbeddingCache(2)
	if v, ok := c.Get("a"); ok || v != nil {
		t.Fatal("expected miss")
	}
	c.Set("a", []float32{1, 2, 3})
	v, ok := c.Get("a")
	if !ok || len(v) != 3 || v[0] != 1 {
		t.Errorf("Get: got %v, %v", v, ok)
	}
	c.Set("b", []float32{4, 5})
	c.Set("c", []float32{6}) // evicts a
	if _, ok := c.Get("a"); ok {
		t.Error("expected a to be evicted")
	}
	if _, ok := c.Get("b"); !ok {
		t.Error("expected b to remain")
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
}

func TestEmbeddingCache_ReturnsCopies(t *testing.T) {
	c := NewEmbeddingCache(4)
	in := []float32{1, 2}
	c.Set("a", in)
	in[0] = 9
	got, _ := c.Get("a")
	got[1] = 9
	again, _ := c.Get("a")
	if again[0] != 1 || again[1] != 2 {
		t.Errorf("cache entry was mutated: %v", again)
	}
}

// countingEmbedder records how many texts reach the inner embedder.
type countingEmbedder struct {
	*MockEmbedder
	texts int
	calls int
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls++
	c.texts += len(texts)
	return c.MockEmbedder.EmbedBatch(ctx, texts)
}

func TestCachedEmbedder_OnlyMissesReachInner(t *testing.T) {
	inner := &countingEmbedder{MockEmbedder: NewMockEmbedder(8)}
	c := NewCachedEmbedder(inner, 16)
	ctx := context.Background()

	first, err := c.EmbedBatch(ctx, []string{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := c.EmbedBatch(ctx, []string{"b", "c", "a"})
	if err != nil {
		t.Fatal(err)
	}
	if inner.calls != 2 || inner.texts != 3 {
		t.Errorf("inner saw %d calls / %d texts, want 2 / 3", inner.calls, inner.texts)
	}
	if len(second) != 3 {
		t.Fatalf("got %d vectors", len(second))
	}
	for i := range first[0] {
		if second[2][i] != first[0][i] {
			t.Fatal("cached vector for a differs")
		}
	}

	if _, err := c.EmbedBatch(ctx, []string{"a", "c"}); err != nil {
		t.Fatal(err)
	}
	if inner.calls != 2 {
		t.Errorf("all-hit batch should not call inner, calls = %d", inner.calls)
	}
	if c.Dimensions() != 8 || c.ID() != "mock/8" {
		t.Errorf("Dimensions/ID: %d %s", c.Dimensions(), c.ID())
	}
}
