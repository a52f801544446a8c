// Package config provides configuration loading and structs for kbindex.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	LogFile   string          `yaml:"log_file"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Search    SearchConfig    `yaml:"search"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Storage backends.
const (
	BackendLocal  = "local"
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
	BackendS3     = "s3"
	BackendMinIO  = "minio"
)

// StorageConfig selects where index snapshots are kept. Path is a directory
// for local and badger, a database file for sqlite. Bucket, Region, Endpoint
// and the keys apply to s3 and minio.
type StorageConfig struct {
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	Prefix      string `yaml:"prefix"`
	Compression string `yaml:"compression"`
	Bucket      string `yaml:"bucket"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	AccessKey   string `yaml:"access_key"`
	SecretKey   string `yaml:"secret_key"`
	UseSSL      bool   `yaml:"use_ssl"`
}

// IsFilesystem reports whether the backend keeps its data under Path.
func (s *StorageConfig) IsFilesystem() bool {
	switch s.Backend {
	case BackendLocal, BackendSQLite, BackendBadger:
		return true
	}
	return false
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider          string        `yaml:"provider"`
	ModelPath         string        `yaml:"model_path"`
	Model             string        `yaml:"model"`
	Dimensions        int           `yaml:"dimensions"`
	MaxTokens         int           `yaml:"max_tokens"`
	CacheSize         int           `yaml:"cache_size"`
	APIKey            string        `yaml:"api_key"`
	BaseURL           string        `yaml:"base_url"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
}

// SearchConfig holds query defaults. DistanceThreshold is a squared L2 distance.
type SearchConfig struct {
	DefaultTopK       int      `yaml:"default_top_k"`
	MaxTopK           int      `yaml:"max_top_k"`
	DistanceThreshold *float64 `yaml:"distance_threshold"`
}

// Threshold returns the configured distance threshold.
func (s *SearchConfig) Threshold() float64 {
	if s.DistanceThreshold == nil {
		return DefaultDistanceThreshold
	}
	return *s.DistanceThreshold
}

// IngestConfig holds file ingestion settings.
type IngestConfig struct {
	ChunkSize    int      `yaml:"chunk_size"`
	ChunkOverlap int      `yaml:"chunk_overlap"`
	Workers      int      `yaml:"workers"`
	Extensions   []string `yaml:"extensions"`
}

// WatchConfig holds inbox directory watch settings.
type WatchConfig struct {
	Directories []string      `yaml:"directories"`
	Recursive   *bool         `yaml:"recursive"`
	Debounce    time.Duration `yaml:"debounce"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// Load reads and parses the config file at path, applies defaults and expands paths.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	applyEnv(&cfg)
	cfg.expandPaths(filepath.Dir(path))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is present, with
// relative paths resolved against the working directory.
func Default() *Config {
	var cfg Config
	ApplyDefaults(&cfg)
	applyEnv(&cfg)
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	cfg.expandPaths(wd)
	return &cfg
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate checks values ApplyDefaults cannot repair.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendLocal, BackendSQLite, BackendBadger:
	case BackendS3, BackendMinIO:
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for backend %q", c.Storage.Backend)
		}
		if c.Storage.Backend == BackendMinIO && c.Storage.Endpoint == "" {
			return fmt.Errorf("storage.endpoint is required for backend %q", c.Storage.Backend)
		}
	default:
		return fmt.Errorf("unknown storage backend %q (supported: local, sqlite, badger, s3, minio)", c.Storage.Backend)
	}
	switch c.Storage.Compression {
	case "none", "zstd":
	default:
		return fmt.Errorf("unknown storage compression %q (supported: none, zstd)", c.Storage.Compression)
	}
	if c.Search.Threshold() < 0 {
		return fmt.Errorf("search.distance_threshold must not be negative")
	}
	if c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("ingest.chunk_overlap (%d) must be smaller than chunk_size (%d)", c.Ingest.ChunkOverlap, c.Ingest.ChunkSize)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = os.Getenv("OPENAI_API_KEY")
	}
}

func (c *Config) expandPaths(baseDir string) {
	if c.Storage.IsFilesystem() {
		c.Storage.Path = expandPath(c.Storage.Path, baseDir)
	}
	c.Embedding.ModelPath = expandPath(c.Embedding.ModelPath, baseDir)
	if c.LogFile != "" {
		c.LogFile = expandPath(c.LogFile, baseDir)
	}
	for i := range c.Watch.Directories {
		c.Watch.Directories[i] = expandPath(c.Watch.Directories[i], baseDir)
	}
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// "~/" and other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, strings.TrimPrefix(path, "~/"))
	}
	return path
}
