package embedding

import (
	"context"
	"fmt"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"golang.org/x/time/rate"
)

const openAIMaxBatch = 2048

// OpenAIOptions configures NewOpenAIEmbedder. BaseURL selects any
// OpenAI-compatible endpoint. RequestsPerSecond <= 0 disables client-side
// rate limiting.
type OpenAIOptions struct {
	APIKey            string
	BaseURL           string
	Model             string
	Dimensions        int
	RequestsPerSecond float64
	MaxRetries        int
	HTTPClient        *http.Client
}

// OpenAIEmbedder calls the embeddings endpoint of the OpenAI API.
type OpenAIEmbedder struct {
	client  openai.Client
	model   string
	dim     int
	limiter *rate.Limiter
}

// NewOpenAIEmbedder creates an embedder; the API key is required.
func NewOpenAIEmbedder(o OpenAIOptions) (*OpenAIEmbedder, error) {
	if o.APIKey == "" {
		return nil, fmt.Errorf("openai embedder requires an API key (embedding.api_key or OPENAI_API_KEY)")
	}
	if o.Dimensions <= 0 {
		return nil, fmt.Errorf("openai embedder requires positive dimensions, got %d", o.Dimensions)
	}
	if o.HTTPClient == nil {
		o.HTTPClient = http.DefaultClient
	}
	opts := []option.RequestOption{
		option.WithAPIKey(o.APIKey),
		option.WithHTTPClient(o.HTTPClient),
		option.WithMaxRetries(o.MaxRetries),
	}
	if o.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(o.BaseURL))
	}

	e := &OpenAIEmbedder{
		client: openai.NewClient(opts...),
		model:  o.Model,
		dim:    o.Dimensions,
	}
	if o.RequestsPerSecond > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(o.RequestsPerSecond), 1)
	}
	return e, nil
}

// Embed returns the embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch splits texts into requests of at most 2048 inputs.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := 0; i < len(texts); i += openAIMaxBatch {
		end := min(i+openAIMaxBatch, len(texts))
		vecs, err := e.call(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("embed batch [%d:%d]: %w", i, end, err)
		}
		copy(out[i:], vecs)
	}
	return out, nil
}

func (e *OpenAIEmbedder) call(ctx context.Context, texts []string) ([][]float32, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model:          e.model,
		Input:          openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Dimensions:     openai.Int(int64(e.dim)),
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	})
	if err != nil {
		return nil, err
	}

	vecs := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= int64(len(texts)) {
			return nil, fmt.Errorf("unexpected embedding index %d for batch size %d", item.Index, len(texts))
		}
		v := make([]float32, len(item.Embedding))
		for j, f := range item.Embedding {
			v[j] = float32(f)
		}
		vecs[item.Index] = v
	}
	for i, v := range vecs {
		if v == nil {
			return nil, fmt.Errorf("missing embedding for index %d", i)
		}
	}
	return vecs, nil
}

func (e *OpenAIEmbedder) Dimensions() int { return e.dim }

func (e *OpenAIEmbedder) ID() string { return fmt.Sprintf("openai:%s/%d", e.model, e.dim) }

func (e *OpenAIEmbedder) Close() error { return nil }
