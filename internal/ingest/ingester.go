// Package ingest turns knowledge files into text chunks and appends them to
// the semantic index.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/kbindex/internal/models"
	"github.com/hyperjump/kbindex/internal/semantic"
)

// Metadata keys written for every chunk.
const (
	MetaSourceID    = "source_id"
	MetaSourcePath  = "source_path"
	MetaSourceName  = "source_name"
	MetaSourceSize  = "source_size"
	MetaSourceMtime = "source_mtime"
	MetaChunkIndex  = "chunk_index"
	MetaChunkCount  = "chunk_count"
)

// Index is the part of semantic.Index the ingester needs.
type Index interface {
	AddTexts(ctx context.Context, texts []string, metadata []map[string]any) (int, error)
	Documents() ([]models.Document, error)
}

// Result summarizes an ingest run.
type Result struct {
	Files   int
	Skipped int
	Chunks  int
}

func (r *Result) add(o Result) {
	r.Files += o.Files
	r.Skipped += o.Skipped
	r.Chunks += o.Chunks
}

// Ingester extracts, chunks and adds files. Sources already present in the
// index are skipped: documents cannot be updated in place.
type Ingester struct {
	index     Index
	extractor *Extractor
	chunker   *Chunker
	exts      map[string]bool
	workers   int
	logger    *zap.Logger

	mu   sync.Mutex
	seen map[string]bool
}

// Option configures an Ingester.
type Option func(*Ingester)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Ingester) { g.logger = l }
}

// WithChunking sets the chunk size and overlap in words.
func WithChunking(size, overlap int) Option {
	return func(g *Ingester) { g.chunker = NewChunker(size, overlap) }
}

// WithExtensions restricts directory ingestion to these extensions.
func WithExtensions(exts []string) Option {
	return func(g *Ingester) {
		g.exts = make(map[string]bool, len(exts))
		for _, e := range exts {
			g.exts[strings.ToLower(e)] = true
		}
	}
}

// WithWorkers bounds concurrent extraction.
func WithWorkers(n int) Option {
	return func(g *Ingester) {
		if n > 0 {
			g.workers = n
		}
	}
}

// New returns an Ingester adding to index.
func New(index Index, opts ...Option) *Ingester {
	g := &Ingester{
		index:     index,
		extractor: NewExtractor(),
		chunker:   NewChunker(200, 20),
		workers:   4,
		logger:    zap.NewNop(),
	}
	WithExtensions([]string{".txt", ".md", ".rst", ".pdf", ".docx", ".xlsx", ".pptx", ".odp", ".ods"})(g)
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// SourceID returns a stable identifier for the file at path.
func SourceID(path string) string {
	sum := sha256.Sum256([]byte(filepath.Clean(path)))
	return "file:" + hex.EncodeToString(sum[:])
}

// Supports reports whether path has an accepted extension.
func (g *Ingester) Supports(path string) bool {
	return g.exts[strings.ToLower(filepath.Ext(path))]
}

// loadSeenLocked builds the set of sources already in the index.
func (g *Ingester) loadSeenLocked() error {
	if g.seen != nil {
		return nil
	}
	docs, err := g.index.Documents()
	if err != nil {
		return err
	}
	g.seen = make(map[string]bool)
	for _, d := range docs {
		if id, ok := d.Metadata[MetaSourceID].(string); ok {
			g.seen[id] = true
		}
	}
	return nil
}

// IngestPath ingests a file, or every supported file below a directory.
func (g *Ingester) IngestPath(ctx context.Context, path string) (Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Result{}, err
	}
	if info.IsDir() {
		return g.IngestDirectory(ctx, path, true)
	}
	return g.IngestFile(ctx, path)
}

// IngestFile adds the chunks of one file in a single AddTexts call.
func (g *Ingester) IngestFile(ctx context.Context, path string) (Result, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Result{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.loadSeenLocked(); err != nil {
		return Result{}, err
	}
	if g.seen[SourceID(abs)] {
		g.logger.Debug("source already indexed, skipping", zap.String("path", abs))
		return Result{Skipped: 1}, nil
	}
	p, err := g.prepare(abs)
	if err != nil {
		return Result{Skipped: 1}, err
	}
	return g.addLocked(ctx, p)
}

// IngestDirectory walks root, extracts new supported files concurrently and
// adds them one file at a time in path order. Files that fail to extract are
// logged and counted as skipped.
func (g *Ingester) IngestDirectory(ctx context.Context, root string, recursive bool) (Result, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return Result{}, err
	}
	paths, err := g.collect(abs, recursive)
	if err != nil {
		return Result{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.loadSeenLocked(); err != nil {
		return Result{}, err
	}

	var res Result
	todo := paths[:0]
	for _, p := range paths {
		if g.seen[SourceID(p)] {
			res.Skipped++
			continue
		}
		todo = append(todo, p)
	}

	files := make([]*prepared, len(todo))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.workers)
	for i, p := range todo {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			pf, err := g.prepare(p)
			if err != nil {
				g.logger.Warn("failed to extract file", zap.String("path", p), zap.Error(err))
				return nil
			}
			files[i] = pf
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return res, err
	}

	var warn error
	for _, pf := range files {
		if pf == nil {
			res.Skipped++
			continue
		}
		r, err := g.addLocked(ctx, pf)
		res.add(r)
		if err != nil {
			if errors.Is(err, semantic.ErrNotPersisted) {
				warn = err
				continue
			}
			return res, err
		}
	}
	g.logger.Info("ingested directory",
		zap.String("root", abs), zap.Int("files", res.Files),
		zap.Int("skipped", res.Skipped), zap.Int("chunks", res.Chunks))
	return res, warn
}

func (g *Ingester) collect(root string, recursive bool) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != root && (!recursive || strings.HasPrefix(d.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && g.Supports(p) && !strings.HasPrefix(d.Name(), ".") {
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	sort.Strings(paths)
	return paths, nil
}

type prepared struct {
	path   string
	chunks []string
	info   os.FileInfo
}

func (g *Ingester) prepare(path string) (*prepared, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	text, err := g.extractor.Extract(path)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", path, err)
	}
	return &prepared{path: path, chunks: g.chunker.Chunk(Preprocess(text)), info: info}, nil
}

func (g *Ingester) addLocked(ctx context.Context, p *prepared) (Result, error) {
	if len(p.chunks) == 0 {
		g.logger.Debug("no text extracted, skipping", zap.String("path", p.path))
		return Result{Skipped: 1}, nil
	}
	id := SourceID(p.path)
	metas := make([]map[string]any, len(p.chunks))
	for i := range p.chunks {
		metas[i] = map[string]any{
			MetaSourceID:    id,
			MetaSourcePath:  p.path,
			MetaSourceName:  filepath.Base(p.path),
			MetaSourceSize:  p.info.Size(),
			MetaSourceMtime: p.info.ModTime().Unix(),
			MetaChunkIndex:  i,
			MetaChunkCount:  len(p.chunks),
		}
	}

	n, err := g.index.AddTexts(ctx, p.chunks, metas)
	if n > 0 {
		g.seen[id] = true
		g.logger.Info("ingested file", zap.String("path", p.path), zap.Int("chunks", n))
	}
	res := Result{Files: 1, Chunks: n}
	if n == 0 {
		res = Result{Skipped: 1}
	}
	if err != nil {
		return res, fmt.Errorf("add %s: %w", p.path, err)
	}
	return res, nil
}
