package ollama

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
)

const DefaultModel = "nomic-embed-text"

// Embedder runs embeddings against a local Ollama server.
type Embedder struct {
	model     embeddings.Embedder
	modelName string
}

func NewEmbedder(host, model string) (*Embedder, error) {
	if model == "" {
		model = DefaultModel
	}
	llm, err := ollama.New(
		ollama.WithModel(model),
		ollama.WithServerURL(host),
	)
	if err != nil {
		return nil, fmt.Errorf("create ollama client: %w", err)
	}
	emb, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("create ollama embedder: %w", err)
	}
	return &Embedder{model: emb, modelName: model}, nil
}

func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	start := time.Now()
	vectors, err := e.model.EmbedDocuments(ctx, texts)
	if err != nil {
		slog.WarnContext(ctx, "embedding failed", "model", e.modelName, "size", len(texts), "duration", time.Since(start), "error", err)
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	slog.DebugContext(ctx, "embedded batch", "model", e.modelName, "size", len(texts), "duration", time.Since(start))
	return vectors, nil
}

func (e *Embedder) Model() string {
	return e.modelName
}
