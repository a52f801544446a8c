package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/kbindex/internal/config"
	"github.com/hyperjump/kbindex/internal/embedding"
	"github.com/hyperjump/kbindex/internal/ingest"
	"github.com/hyperjump/kbindex/internal/semantic"
	"github.com/hyperjump/kbindex/internal/snapshot"
	"github.com/hyperjump/kbindex/internal/storage"
	"github.com/hyperjump/kbindex/pkg/utils"
)

// Components holds the wired index and its collaborators.
type Components struct {
	Store    storage.Store
	Embedder embedding.Embedder
	Snapshot *snapshot.Manager
	Index    *semantic.Index
	Ingester *ingest.Ingester
}

// Close flushes the index and releases everything it holds.
func (c *Components) Close(ctx context.Context) error {
	var err error
	if c.Index != nil {
		err = c.Index.Close(ctx)
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Store != nil {
		_ = c.Store.Close()
	}
	return err
}

// initializeComponents opens the store and embedder and loads the index. A
// load failure is returned as is; the caller must not serve a partial index.
func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	store, err := storage.Open(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	c := &Components{Store: store}

	c.Embedder, err = embedding.New(cfg.Embedding, logger)
	if err != nil {
		_ = c.Close(ctx)
		return nil, fmt.Errorf("create embedder: %w", err)
	}

	opts := []snapshot.Option{
		snapshot.WithLogger(logger),
		snapshot.WithCompression(cfg.Storage.Compression),
		snapshot.WithEmbedderID(embedding.ID(c.Embedder)),
	}
	// A local directory is the location itself; the other backends share a
	// namespace and keep snapshots under the prefix.
	if cfg.Storage.Backend != config.BackendLocal {
		opts = append(opts, snapshot.WithPrefix(cfg.Storage.Prefix))
	}
	c.Snapshot = snapshot.NewManager(store, opts...)

	c.Index, err = semantic.Open(ctx, c.Embedder, c.Snapshot,
		semantic.WithLogger(logger),
		semantic.WithEmbedTimeout(cfg.Embedding.Timeout))
	if err != nil {
		_ = c.Close(ctx)
		return nil, err
	}

	c.Ingester = ingest.New(c.Index,
		ingest.WithLogger(logger),
		ingest.WithChunking(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap),
		ingest.WithExtensions(cfg.Ingest.Extensions),
		ingest.WithWorkers(cfg.Ingest.Workers))

	logger.Info("index opened",
		zap.String("location", c.Snapshot.Location()),
		zap.String("embedder", embedding.ID(c.Embedder)),
		zap.Int("documents", c.Index.Len()))
	return c, nil
}

// newLogger builds the process logger; debug comes from the flag or config.
func newLogger(cfg *config.Config, debugFlag bool) (*zap.Logger, error) {
	return utils.NewLogger(cfg.Debug || debugFlag, cfg.LogFile)
}
