package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperjump/kbindex/internal/cli"
	"github.com/hyperjump/kbindex/internal/config"
	"github.com/hyperjump/kbindex/internal/models"
	"github.com/hyperjump/kbindex/internal/semantic"
	"github.com/hyperjump/kbindex/internal/storage"
)

// withIndex opens the index directly, runs fn and flushes on the way out.
func withIndex(ctx context.Context, g *globalFlags, fn func(*Components, *config.Config) error) error {
	cfg, _, err := loadConfig(g.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := newLogger(cfg, g.debug)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	c, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	runErr := fn(c, cfg)
	closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := c.Close(closeCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func newAddCmd(g *globalFlags) *cobra.Command {
	var (
		file string
		meta []string
	)
	cmd := &cobra.Command{
		Use:   "add [text...]",
		Short: "Add texts to the index",
		Long: `Add each argument as one text. With --file, every non-blank line of the
file is a text ("-" reads stdin). --meta key=value pairs are attached to every
text added by this call.

Example:
  kbindex add "the cat sat on the mat" --meta source=notes`,
		RunE: func(cmd *cobra.Command, args []string) error {
			texts := append([]string(nil), args...)
			if file != "" {
				lines, err := readLines(cmd.InOrStdin(), file)
				if err != nil {
					return err
				}
				texts = append(texts, lines...)
			}
			if len(texts) == 0 {
				return errors.New("nothing to add: pass texts as arguments or use --file")
			}
			m, err := parseMeta(meta)
			if err != nil {
				return err
			}
			req := &models.AddTextsRequest{Texts: texts}
			if len(m) > 0 {
				req.Metadata = make([]map[string]any, len(texts))
				for i := range texts {
					req.Metadata[i] = maps.Clone(m)
				}
			}

			resp, err := addTexts(cmd.Context(), g, req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %d texts\n", resp.Added)
			if resp.Warning != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", resp.Warning)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", `read texts from a file, one per line ("-" for stdin)`)
	cmd.Flags().StringArrayVarP(&meta, "meta", "m", nil, "metadata key=value attached to every text")
	return cmd
}

func addTexts(ctx context.Context, g *globalFlags, req *models.AddTextsRequest) (*models.AddTextsResponse, error) {
	if g.serverURL != "" {
		return newAPIClient(g.serverURL).addTexts(ctx, req)
	}
	resp := &models.AddTextsResponse{}
	err := withIndex(ctx, g, func(c *Components, _ *config.Config) error {
		n, err := c.Index.AddTexts(ctx, req.Texts, req.Metadata)
		resp.Added, resp.Persisted = n, err == nil
		if errors.Is(err, semantic.ErrNotPersisted) {
			resp.Warning = err.Error()
			return nil
		}
		return err
	})
	return resp, err
}

func newSearchCmd(g *globalFlags) *cobra.Command {
	var (
		topK      int
		threshold float64
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Query the index",
		Long: `Return the stored texts closest to the query, closest first.

The query is all arguments joined by spaces. --threshold is a squared L2
distance; results farther than it are dropped.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := cli.ParseOutputFormat(g.output)
			if err != nil {
				return err
			}
			q := &models.SearchQuery{Query: buildSearchQuery(args), TopK: topK}
			if q.Query == "" {
				return errors.New("query cannot be empty")
			}
			if cmd.Flags().Changed("threshold") {
				q.DistanceThreshold = &threshold
			}
			resp, err := search(cmd.Context(), g, q)
			if err != nil {
				return err
			}
			return cli.WriteSearchResults(cmd.OutOrStdout(), resp, format)
		},
	}
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "maximum number of results (default from config)")
	cmd.Flags().Float64VarP(&threshold, "threshold", "t", 0, "maximum squared L2 distance (default from config)")
	return cmd
}

func search(ctx context.Context, g *globalFlags, q *models.SearchQuery) (*models.SearchResponse, error) {
	if g.serverURL != "" {
		return newAPIClient(g.serverURL).search(ctx, q)
	}
	var resp *models.SearchResponse
	err := withIndex(ctx, g, func(c *Components, cfg *config.Config) error {
		if err := q.Validate(models.SearchDefaults{
			TopK:              cfg.Search.DefaultTopK,
			MaxTopK:           cfg.Search.MaxTopK,
			DistanceThreshold: cfg.Search.Threshold(),
		}); err != nil {
			return err
		}
		start := time.Now()
		results, err := c.Index.Search(ctx, q.Query, q.TopK, q.Threshold())
		if err != nil {
			return err
		}
		resp = &models.SearchResponse{
			Query:     q.Query,
			Results:   make([]*models.SearchResult, len(results)),
			Total:     len(results),
			QueryTime: time.Since(start).Milliseconds(),
		}
		for i := range results {
			resp.Results[i] = &results[i]
		}
		return nil
	})
	return resp, err
}

func newIngestCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <path>...",
		Short: "Add files or directories to the index",
		Long: `Extract text from supported files (txt, md, rst, pdf, docx, xlsx, pptx, odp,
ods), split it into chunks and add the chunks. Directories are walked
recursively. Files already in the index are skipped.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var total models.IngestResponse
			for _, p := range args {
				abs, err := filepath.Abs(p)
				if err != nil {
					return err
				}
				resp, err := ingestPath(cmd.Context(), g, abs)
				if err != nil {
					return fmt.Errorf("ingest %s: %w", p, err)
				}
				total.Files += resp.Files
				total.Skipped += resp.Skipped
				total.Chunks += resp.Chunks
				if resp.Warning != "" {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", resp.Warning)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ingested %d files (%d chunks), skipped %d\n", total.Files, total.Chunks, total.Skipped)
			return nil
		},
	}
}

func ingestPath(ctx context.Context, g *globalFlags, path string) (*models.IngestResponse, error) {
	if g.serverURL != "" {
		return newAPIClient(g.serverURL).ingest(ctx, &models.IngestRequest{Path: path})
	}
	resp := &models.IngestResponse{}
	err := withIndex(ctx, g, func(c *Components, _ *config.Config) error {
		res, err := c.Ingester.IngestPath(ctx, path)
		resp.Files, resp.Skipped, resp.Chunks = res.Files, res.Skipped, res.Chunks
		if errors.Is(err, semantic.ErrNotPersisted) {
			resp.Warning = err.Error()
			return nil
		}
		return err
	})
	return resp, err
}

func newStatusCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show index status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := cli.ParseOutputFormat(g.output)
			if err != nil {
				return err
			}
			st, err := status(cmd.Context(), g)
			if err != nil {
				return err
			}
			return cli.WriteStatus(cmd.OutOrStdout(), st, format)
		},
	}
}

func status(ctx context.Context, g *globalFlags) (*models.StatusResponse, error) {
	if g.serverURL != "" {
		return newAPIClient(g.serverURL).status(ctx)
	}
	var st *models.StatusResponse
	err := withIndex(ctx, g, func(c *Components, cfg *config.Config) error {
		st = &models.StatusResponse{
			State:     c.Index.State().String(),
			Documents: c.Index.Len(),
			Dimension: c.Index.Dimension(),
			Backend:   cfg.Storage.Backend,
			Location:  c.Snapshot.Location(),
			Embedder:  c.Index.EmbedderID(),
		}
		if n, ok, err := storage.DiskUsage(c.Store); err == nil && ok {
			st.DiskUsageByte = n
		}
		return nil
	})
	return st, err
}

// buildSearchQuery joins args into one query, ignoring blank arguments.
func buildSearchQuery(args []string) string {
	return strings.Join(strings.Fields(strings.Join(args, " ")), " ")
}

// parseMeta turns key=value pairs into metadata. Values that parse as
// integers, floats or booleans keep that type.
func parseMeta(pairs []string) (map[string]any, error) {
	m := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid metadata %q: want key=value", p)
		}
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			m[k] = i
		} else if f, err := strconv.ParseFloat(v, 64); err == nil {
			m[k] = f
		} else if b, err := strconv.ParseBool(v); err == nil {
			m[k] = b
		} else {
			m[k] = v
		}
	}
	return m, nil
}

// readLines returns the non-blank lines of path, or of stdin for "-".
func readLines(stdin io.Reader, path string) ([]string, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	var lines []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16<<20)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, sc.Err()
}
