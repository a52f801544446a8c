package embedding

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/kbindex/internal/config"
)

// Providers accepted in embedding.provider.
const (
	ProviderONNX   = "onnx"
	ProviderOpenAI = "openai"
	ProviderMock   = "mock"
)

// New builds the configured embedder wrapped in an LRU cache. There is no
// fallback between providers: vectors from different models are not comparable.
func New(cfg config.EmbeddingConfig, logger *zap.Logger) (Embedder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		e   Embedder
		err error
	)
	switch cfg.Provider {
	case ProviderONNX, "":
		e, err = NewONNXEmbedder(cfg.ModelPath, cfg.Dimensions, cfg.MaxTokens)
	case ProviderOpenAI:
		e, err = NewOpenAIEmbedder(OpenAIOptions{
			APIKey:            cfg.APIKey,
			BaseURL:           cfg.BaseURL,
			Model:             cfg.Model,
			Dimensions:        cfg.Dimensions,
			RequestsPerSecond: cfg.RequestsPerSecond,
			MaxRetries:        2,
		})
	case ProviderMock:
		logger.Warn("using mock embedder; search results are not semantic")
		e = NewMockEmbedder(cfg.Dimensions)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q (supported: onnx, openai, mock)", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s embedder: %w", cfg.Provider, err)
	}

	if cfg.CacheSize > 0 {
		e = NewCachedEmbedder(e, cfg.CacheSize)
	}
	logger.Info("embedder ready", zap.String("id", ID(e)), zap.Int("dimensions", e.Dimensions()))
	return e, nil
}
