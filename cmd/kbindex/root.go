package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hyperjump/kbindex/internal/cli"
	"github.com/hyperjump/kbindex/internal/config"
)

const (
	defaultConfigPath = "/usr/local/etc/kbindex/config.yaml"
	defaultServerURL  = "http://localhost:8080"
)

type globalFlags struct {
	configPath string
	debug      bool
	serverURL  string
	output     string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "kbindex",
		Short: "Local semantic index over texts and knowledge files",
		Long: `kbindex embeds texts into vectors and answers nearest-neighbor queries
over them, persisting the corpus to a local directory, SQLite, Badger, S3 or MinIO.

Commands that read or change the index talk to a running server when --server
is set (the default) and open the index directly when --server "".`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&g.configPath, "config", "c", defaultConfigPath, "config file path")
	pf.BoolVar(&g.debug, "debug", false, "enable debug logging")
	pf.StringVar(&g.serverURL, "server", defaultServerURL, `server URL (empty = open the index directly)`)
	pf.StringVarP(&g.output, "output", "o", string(cli.OutputText), "output format: text, compact or json")

	root.AddCommand(
		newServeCmd(g),
		newAddCmd(g),
		newSearchCmd(g),
		newIngestCmd(g),
		newStatusCmd(g),
		newVersionCmd(),
	)
	return root
}

// loadConfig loads the config at path. For the default path it prefers
// config.yaml in the working directory and falls back to built-in defaults
// when neither file exists. It returns the path actually loaded, or "".
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			local := filepath.Join(cwd, "config.yaml")
			if _, err := os.Stat(local); err == nil {
				path = local
			}
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return config.Default(), "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "kbindex version %s\n", version)
		},
	}
}
