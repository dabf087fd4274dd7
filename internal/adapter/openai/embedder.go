package openai

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	DefaultModel = "text-embedding-3-small"
	// MaxBatchSize is the API's ceiling on inputs per request.
	MaxBatchSize = 2048
)

type Embedder struct {
	client    openai.Client
	model     string
	dimension int
}

type EmbedderOption func(*Embedder)

func WithModel(model string) EmbedderOption {
	return func(e *Embedder) {
		if model != "" {
			e.model = model
		}
	}
}

// WithDimension asks the API for shortened vectors.
func WithDimension(dimension int) EmbedderOption {
	return func(e *Embedder) {
		e.dimension = dimension
	}
}

// WithClientOptions passes options such as a base URL through to the client.
func WithClientOptions(opts ...option.RequestOption) EmbedderOption {
	return func(e *Embedder) {
		e.client = openai.NewClient(opts...)
	}
}

func NewEmbedder(apiKey string, opts ...EmbedderOption) *Embedder {
	e := &Embedder{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  DefaultModel,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if len(texts) > MaxBatchSize {
		return nil, fmt.Errorf("batch of %d exceeds maximum of %d", len(texts), MaxBatchSize)
	}

	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	}
	if e.dimension > 0 {
		params.Dimensions = openai.Int(int64(e.dimension))
	}

	slog.DebugContext(ctx, "embedding batch", "model", e.model, "size", len(texts))
	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}

	data := resp.Data
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	out := make([][]float32, len(data))
	for i, d := range data {
		vector := make([]float32, len(d.Embedding))
		for j, v := range d.Embedding {
			vector[j] = float32(v)
		}
		out[i] = vector
	}
	return out, nil
}

func (e *Embedder) Model() string {
	return e.model
}
