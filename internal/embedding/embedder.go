// Package embedding turns text into fixed-size vectors. Providers: ONNX
// Runtime (local sentence-transformer), OpenAI-compatible HTTP APIs and a
// deterministic mock, plus an LRU-caching wrapper.
package embedding

import (
	"context"
	"fmt"
)

// Embedder produces vector embeddings for text. EmbedBatch returns exactly
// one vector per input, in input order.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

type identifier interface {
	ID() string
}

// ID returns a string naming the model behind e, recorded with snapshots so
// that vectors from different models are not mixed unnoticed.
func ID(e Embedder) string {
	if n, ok := e.(identifier); ok {
		return n.ID()
	}
	return fmt.Sprintf("%T/%d", e, e.Dimensions())
}
