// Package snapshot persists the vector index and the document store as one
// paired snapshot. Each save writes a new generation of both artifacts and
// then atomically replaces a small manifest that names them, so a reader
// sees either the old pair or the new pair, never a mix.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kbindex/internal/docstore"
	"github.com/hyperjump/kbindex/internal/storage"
	"github.com/hyperjump/kbindex/internal/vector"
)

// Manager saves and loads snapshots at one location.
type Manager struct {
	store       storage.Store
	prefix      string
	compression string
	embedder    string
	logger      *zap.Logger

	mu      sync.Mutex
	current *Manifest
	known   bool // current reflects what is committed in store
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithPrefix places every key under prefix.
func WithPrefix(prefix string) Option {
	return func(m *Manager) { m.prefix = prefix }
}

// WithCompression selects CompressionNone or CompressionZstd for new saves.
func WithCompression(mode string) Option {
	return func(m *Manager) { m.compression = mode }
}

// WithEmbedderID records which embedding model produced the vectors.
func WithEmbedderID(id string) Option {
	return func(m *Manager) { m.embedder = id }
}

// NewManager returns a Manager writing to store.
func NewManager(store storage.Store, opts ...Option) *Manager {
	m := &Manager{
		store:       store,
		compression: CompressionZstd,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) key(name string) string {
	if m.prefix == "" {
		return name
	}
	return path.Join(m.prefix, name)
}

// Location describes where snapshots are kept.
func (m *Manager) Location() string {
	if m.prefix == "" {
		return m.store.Describe()
	}
	return strings.TrimSuffix(m.store.Describe(), "/") + "/" + m.prefix
}

// Current returns a copy of the last committed manifest, or nil when none is known.
func (m *Manager) Current() *Manifest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	c := *m.current
	return &c
}

// Load reads the committed snapshot. With no manifest and no generation
// artifacts it returns empty structures of the given dimension. Artifacts
// without a manifest, or a manifest whose artifacts are missing, damaged or
// inconsistent, yield an error wrapping ErrCorruption.
func (m *Manager) Load(ctx context.Context, dimension int) (*vector.FlatIndex, *docstore.Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	man, err := m.readManifest(ctx)
	if err != nil {
		return nil, nil, err
	}
	if man == nil {
		stray, err := m.generationKeys(ctx)
		if err != nil {
			return nil, nil, err
		}
		if len(stray) > 0 {
			return nil, nil, fmt.Errorf("%w: no %s but found %s", ErrCorruption, manifestKey, strings.Join(stray, ", "))
		}
		m.current, m.known = nil, true
		m.logger.Info("no snapshot found, starting empty", zap.String("location", m.Location()))
		vecs, err := vector.NewFlatIndex(dimension)
		if err != nil {
			return nil, nil, err
		}
		return vecs, docstore.New(), nil
	}

	if man.Dimension != dimension {
		return nil, nil, fmt.Errorf("%w: snapshot dimension %d, embedder dimension %d", ErrCorruption, man.Dimension, dimension)
	}
	if m.embedder != "" && man.Embedder != "" && man.Embedder != m.embedder {
		m.logger.Warn("snapshot was built with a different embedder",
			zap.String("snapshot", man.Embedder), zap.String("current", m.embedder))
	}

	vecRaw, vecErr := m.readArtifact(ctx, man.Vectors, man.Compression)
	docRaw, docErr := m.readArtifact(ctx, man.Documents, man.Compression)
	switch {
	case vecErr != nil && docErr != nil:
		return nil, nil, fmt.Errorf("%w; %v", vecErr, docErr)
	case vecErr != nil:
		return nil, nil, vecErr
	case docErr != nil:
		return nil, nil, docErr
	}

	vecs, err := vector.ReadFlatIndex(bytes.NewReader(vecRaw))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", ErrCorruption, man.Vectors.Key, err)
	}
	docs, err := docstore.Decode(bytes.NewReader(docRaw))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", ErrCorruption, man.Documents.Key, err)
	}
	if vecs.Dimension() != dimension {
		return nil, nil, fmt.Errorf("%w: vector artifact dimension %d, expected %d", ErrCorruption, vecs.Dimension(), dimension)
	}
	if vecs.Len() != docs.Len() {
		return nil, nil, fmt.Errorf("%w: %d vectors but %d documents", ErrCorruption, vecs.Len(), docs.Len())
	}
	if vecs.Len() != man.Count {
		return nil, nil, fmt.Errorf("%w: manifest count %d, artifacts hold %d", ErrCorruption, man.Count, vecs.Len())
	}

	m.current, m.known = man, true
	m.logger.Info("loaded snapshot",
		zap.Uint64("generation", man.Generation),
		zap.Int("documents", man.Count),
		zap.String("location", m.Location()))
	return vecs, docs, nil
}

// readManifest returns nil, nil when no manifest exists.
func (m *Manager) readManifest(ctx context.Context) (*Manifest, error) {
	data, err := m.store.Get(ctx, m.key(manifestKey))
	if storage.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return decodeManifest(data)
}

// generationKeys lists vector and document artifacts directly under the prefix.
func (m *Manager) generationKeys(ctx context.Context) ([]string, error) {
	dir := ""
	if m.prefix != "" {
		dir = strings.TrimSuffix(m.prefix, "/") + "/"
	}
	keys, err := m.store.List(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("list snapshot artifacts: %w", err)
	}
	var found []string
	for _, k := range keys {
		if name := strings.TrimPrefix(k, dir); isGenerationKey(name) {
			found = append(found, name)
		}
	}
	return found, nil
}

func (m *Manager) readArtifact(ctx context.Context, a Artifact, compression string) ([]byte, error) {
	data, err := m.store.Get(ctx, m.key(a.Key))
	if storage.IsNotFound(err) {
		return nil, fmt.Errorf("%w: artifact %s is missing", ErrCorruption, a.Key)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", a.Key, err)
	}
	if int64(len(data)) != a.Size {
		return nil, fmt.Errorf("%w: %s has %d bytes, manifest says %d", ErrCorruption, a.Key, len(data), a.Size)
	}
	if sum := checksum(data); sum != a.CRC32 {
		return nil, fmt.Errorf("%w: %s checksum %08x, manifest says %08x", ErrCorruption, a.Key, sum, a.CRC32)
	}
	raw, err := decompress(compression, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruption, a.Key, err)
	}
	return raw, nil
}

// Save writes vectors and docs as the next generation and commits it. On
// error the previously committed snapshot stays current and the returned
// error wraps ErrPersistence. Callers must keep both structures unchanged
// for the duration of the call.
func (m *Manager) Save(ctx context.Context, vectors *vector.FlatIndex, docs *docstore.Store) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := vectors.Len()
	if n := docs.Len(); n != count {
		return fmt.Errorf("%w: refusing to save %d vectors with %d documents", ErrPersistence, count, n)
	}

	if !m.known {
		man, err := m.readManifest(ctx)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrPersistence, err)
		}
		m.current, m.known = man, true
	}
	prev := m.current
	gen := uint64(1)
	if prev != nil {
		gen = prev.Generation + 1
	}

	var vecBuf, docBuf bytes.Buffer
	if _, err := vectors.WriteTo(&vecBuf); err != nil {
		return fmt.Errorf("%w: encode vectors: %w", ErrPersistence, err)
	}
	if err := docs.Encode(&docBuf); err != nil {
		return fmt.Errorf("%w: encode documents: %w", ErrPersistence, err)
	}

	man := &Manifest{
		Version:     manifestVersion,
		Generation:  gen,
		Dimension:   vectors.Dimension(),
		Count:       count,
		Embedder:    m.embedder,
		Compression: m.compression,
		CreatedAt:   time.Now().UTC(),
	}
	written := make([]string, 0, 2)
	cleanup := func() {
		for _, k := range written {
			if err := m.store.Delete(ctx, m.key(k)); err != nil {
				m.logger.Warn("failed to remove uncommitted artifact", zap.String("key", k), zap.Error(err))
			}
		}
	}

	var err error
	if man.Vectors, err = m.writeArtifact(ctx, vectorsKey(gen), vecBuf.Bytes()); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	written = append(written, man.Vectors.Key)
	if man.Documents, err = m.writeArtifact(ctx, documentsKey(gen), docBuf.Bytes()); err != nil {
		cleanup()
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	written = append(written, man.Documents.Key)

	data, err := json.MarshalIndent(man, "", "  ")
	if err != nil {
		cleanup()
		return fmt.Errorf("%w: encode manifest: %w", ErrPersistence, err)
	}
	if err := m.store.Put(ctx, m.key(manifestKey), data); err != nil {
		// The commit may or may not have landed; re-read before the next save.
		m.known = false
		return fmt.Errorf("%w: commit manifest: %w", ErrPersistence, err)
	}
	m.current = man

	if prev != nil {
		for _, k := range []string{prev.Vectors.Key, prev.Documents.Key} {
			if k == man.Vectors.Key || k == man.Documents.Key {
				continue
			}
			if err := m.store.Delete(ctx, m.key(k)); err != nil {
				m.logger.Warn("failed to remove old artifact", zap.String("key", k), zap.Error(err))
			}
		}
	}

	m.logger.Debug("saved snapshot",
		zap.Uint64("generation", gen),
		zap.Int("documents", count),
		zap.Int64("vector_bytes", man.Vectors.Size),
		zap.Int64("document_bytes", man.Documents.Size))
	return nil
}

func (m *Manager) writeArtifact(ctx context.Context, name string, raw []byte) (Artifact, error) {
	data, err := compress(m.compression, raw)
	if err != nil {
		return Artifact{}, err
	}
	if err := m.store.Put(ctx, m.key(name), data); err != nil {
		return Artifact{}, err
	}
	return Artifact{Key: name, Size: int64(len(data)), CRC32: checksum(data)}, nil
}
