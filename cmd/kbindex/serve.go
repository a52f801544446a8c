package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/kbindex/internal/server"
	"github.com/hyperjump/kbindex/internal/watcher"
)

func newServeCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and inbox watcher",
		Long: `Load the index and serve it over HTTP. Files dropped into the configured
watch directories are ingested automatically. On SIGINT or SIGTERM the server
drains, the watcher stops and the index is flushed.

A corrupt index is fatal: serve exits instead of starting empty.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), g)
		},
	}
}

func runServe(parent context.Context, g *globalFlags) error {
	cfg, cfgPath, err := loadConfig(g.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := newLogger(cfg, g.debug)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("config loaded", zap.String("config_path", cfgPath), zap.String("backend", cfg.Storage.Backend))

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open index", zap.Error(err))
		return err
	}

	w := watcher.New(cfg.Watch.Directories, func(ctx context.Context, path string) {
		if _, err := c.Ingester.IngestFile(ctx, path); err != nil {
			logger.Warn("inbox ingest failed", zap.String("path", path), zap.Error(err))
		}
	},
		watcher.WithLogger(logger),
		watcher.WithExtensions(cfg.Ingest.Extensions),
		watcher.WithRecursive(cfg.Watch.RecursiveOrDefault()),
		watcher.WithDebounce(cfg.Watch.Debounce))
	if err := w.Start(ctx); err != nil {
		_ = c.Close(context.Background())
		return fmt.Errorf("start watcher: %w", err)
	}
	go w.SyncExisting()

	srv := server.NewServer(c.Index, c.Ingester, c.Store, cfg, logger, w, cfgPath)
	errc := make(chan error, 1)
	go func() { errc <- srv.Start() }()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Warn("server shutdown failed", zap.Error(err))
	}
	w.Stop()
	if cerr := c.Close(shutdownCtx); cerr != nil {
		logger.Error("final flush failed", zap.Error(cerr))
		if err == nil {
			err = cerr
		}
	}
	return err
}
