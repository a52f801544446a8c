// Package semantic is the façade over the vector index, the document store
// and their persistence. It owns the corpus lifecycle and the locking: many
// concurrent searches, one writer, and every mutation persisted before the
// write lock is released.
package semantic

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kbindex/internal/docstore"
	"github.com/hyperjump/kbindex/internal/embedding"
	"github.com/hyperjump/kbindex/internal/models"
	"github.com/hyperjump/kbindex/internal/vector"
)

// State is the lifecycle state of an Index.
type State int

const (
	Uninitialized State = iota
	Ready
)

func (s State) String() string {
	if s == Ready {
		return "ready"
	}
	return "uninitialized"
}

// Persister stores and restores the paired structures. *snapshot.Manager
// implements it.
type Persister interface {
	Load(ctx context.Context, dimension int) (*vector.FlatIndex, *docstore.Store, error)
	Save(ctx context.Context, vectors *vector.FlatIndex, docs *docstore.Store) error
}

// Index answers semantic queries over an append-only corpus.
type Index struct {
	embedder     embedding.Embedder
	persister    Persister
	logger       *zap.Logger
	embedTimeout time.Duration

	mu      sync.RWMutex
	state   State
	closed  bool
	dirty   bool
	vectors *vector.FlatIndex
	docs    *docstore.Store
}

// Option configures an Index.
type Option func(*Index)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(i *Index) { i.logger = l }
}

// WithEmbedTimeout bounds every embedding call; zero disables the bound.
func WithEmbedTimeout(d time.Duration) Option {
	return func(i *Index) { i.embedTimeout = d }
}

// New returns an Uninitialized index. Call Load before use.
func New(embedder embedding.Embedder, persister Persister, opts ...Option) *Index {
	i := &Index{
		embedder:     embedder,
		persister:    persister,
		logger:       zap.NewNop(),
		embedTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Open is New followed by Load.
func Open(ctx context.Context, embedder embedding.Embedder, persister Persister, opts ...Option) (*Index, error) {
	i := New(embedder, persister, opts...)
	if err := i.Load(ctx); err != nil {
		return nil, err
	}
	return i, nil
}

// Load restores the persisted corpus, or starts empty when none exists, and
// moves the index to Ready. Any error is fatal for this index; it stays
// Uninitialized. Loading a Ready index again replaces its contents with what
// is persisted.
func (i *Index) Load(ctx context.Context) error {
	dim := i.embedder.Dimensions()
	if dim <= 0 {
		return fmt.Errorf("embedder reports invalid dimension %d", dim)
	}
	vecs, docs, err := i.persister.Load(ctx, dim)
	if err != nil {
		return fmt.Errorf("load index: %w", err)
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	i.vectors, i.docs = vecs, docs
	i.state = Ready
	i.dirty = false
	i.logger.Info("index ready", zap.Int("documents", docs.Len()), zap.Int("dimension", dim))
	return nil
}

// State returns the lifecycle state.
func (i *Index) State() State {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.state
}

// Len returns the corpus size, 0 before Load.
func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.state != Ready {
		return 0
	}
	return i.docs.Len()
}

// Dimension returns the vector dimension.
func (i *Index) Dimension() int {
	return i.embedder.Dimensions()
}

// EmbedderID names the model behind the index.
func (i *Index) EmbedderID() string {
	return embedding.ID(i.embedder)
}

// Documents returns copies of every document in insertion order.
func (i *Index) Documents() ([]models.Document, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.state != Ready {
		return nil, ErrNotReady
	}
	return i.docs.All(), nil
}

func (i *Index) embed(ctx context.Context, texts []string) ([][]float32, error) {
	if i.embedTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.embedTimeout)
		defer cancel()
	}
	vecs, err := i.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbedding, err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%w: provider returned %d vectors for %d texts", ErrEmbedding, len(vecs), len(texts))
	}
	return vecs, nil
}

// AddTexts embeds texts in one provider call and appends them with their
// metadata. metadata may be nil or must have one entry per text.
//
// The batch is all-or-nothing: an embedding failure or a vector of the wrong
// length appends nothing. If the append succeeds but persisting it fails,
// the entries stay in memory (they are saved again on the next successful
// flush) and AddTexts returns len(texts) together with an error wrapping
// ErrNotPersisted.
func (i *Index) AddTexts(ctx context.Context, texts []string, metadata []map[string]any) (int, error) {
	if err := i.writable(); err != nil {
		return 0, err
	}
	if len(texts) == 0 {
		return 0, nil
	}
	if metadata != nil && len(metadata) != len(texts) {
		return 0, fmt.Errorf("%w: %d texts but %d metadata entries", ErrInvalidArgument, len(texts), len(metadata))
	}
	for n, m := range metadata {
		if err := models.ValidateMetadata(m); err != nil {
			return 0, fmt.Errorf("%w: text %d: %v", ErrInvalidArgument, n, err)
		}
	}

	vecs, err := i.embed(ctx, texts)
	if err != nil {
		return 0, err
	}
	dim := i.embedder.Dimensions()
	for n, v := range vecs {
		if len(v) != dim {
			return 0, fmt.Errorf("text %d: %w", n, &vector.ErrDimensionMismatch{Expected: dim, Actual: len(v)})
		}
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	// Close may have run while embedding.
	if i.closed {
		return 0, ErrClosed
	}

	for n, v := range vecs {
		if _, err := i.vectors.Append(v); err != nil {
			// Unreachable after the length check above; stop before docs diverge.
			return n, err
		}
		doc := models.Document{Text: texts[n]}
		if metadata != nil {
			doc.Metadata = metadata[n]
		}
		i.docs.Append(doc)
	}
	i.dirty = true
	i.logger.Info("added texts", zap.Int("added", len(texts)), zap.Int("total", i.docs.Len()))

	if err := i.persistLocked(ctx); err != nil {
		return len(texts), err
	}
	return len(texts), nil
}

func (i *Index) writable() error {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.state != Ready {
		return ErrNotReady
	}
	if i.closed {
		return ErrClosed
	}
	return nil
}

// persistLocked saves the current corpus. Caller holds the write lock.
func (i *Index) persistLocked(ctx context.Context) error {
	if err := i.persister.Save(ctx, i.vectors, i.docs); err != nil {
		i.logger.Warn("failed to persist index; entries kept in memory",
			zap.Int("documents", i.docs.Len()), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrNotPersisted, err)
	}
	i.dirty = false
	return nil
}

// Search embeds query and returns up to topK documents whose squared L2
// distance is at most distanceThreshold, closest first. An empty corpus
// returns an empty result without calling the embedder.
func (i *Index) Search(ctx context.Context, query string, topK int, distanceThreshold float64) ([]models.SearchResult, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: top_k must be positive, got %d", ErrInvalidArgument, topK)
	}
	if distanceThreshold < 0 || math.IsNaN(distanceThreshold) {
		return nil, fmt.Errorf("%w: distance threshold must be a non-negative number", ErrInvalidArgument)
	}

	i.mu.RLock()
	state, size := i.state, 0
	if state == Ready {
		size = i.docs.Len()
	}
	i.mu.RUnlock()
	if state != Ready {
		return nil, ErrNotReady
	}
	if size == 0 {
		return []models.SearchResult{}, nil
	}

	vecs, err := i.embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}

	i.mu.RLock()
	defer i.mu.RUnlock()

	neighbors, err := i.vectors.QueryKNearest(vecs[0], topK)
	if err != nil {
		return nil, err
	}
	results := make([]models.SearchResult, 0, len(neighbors))
	for _, n := range neighbors {
		if n.Distance > distanceThreshold {
			i.logger.Debug("filtered result above threshold",
				zap.Int("ordinal", n.Ordinal), zap.Float64("distance", n.Distance), zap.Float64("threshold", distanceThreshold))
			continue
		}
		doc, err := i.docs.Get(n.Ordinal)
		if err != nil {
			return nil, fmt.Errorf("resolve ordinal %d: %w", n.Ordinal, err)
		}
		results = append(results, models.SearchResult{
			Ordinal:  n.Ordinal,
			Text:     doc.Text,
			Metadata: doc.Metadata,
			Distance: n.Distance,
		})
	}
	return results, nil
}

// Flush saves the corpus if an earlier save failed.
func (i *Index) Flush(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.state != Ready {
		return ErrNotReady
	}
	if !i.dirty {
		return nil
	}
	return i.persistLocked(ctx)
}

// Close flushes unsaved entries on a best-effort basis and refuses further
// writes. Searches keep working until the embedder is closed by its owner.
func (i *Index) Close(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return nil
	}
	i.closed = true
	if i.state != Ready || !i.dirty {
		return nil
	}
	if err := i.persistLocked(ctx); err != nil {
		return fmt.Errorf("final flush: %w", err)
	}
	return nil
}
