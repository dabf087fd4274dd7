package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"recall/backend/internal/settings"
)

var ErrMissingKey = errors.New("gemini api key not configured")

// DynamicEmbedder reads the API key from the settings row on every batch and
// rebuilds its client when the key changes.
type DynamicEmbedder struct {
	settingsSvc *settings.Service
	model       string
	fallbackKey string
	clientOpts  []option.ClientOption

	mu         sync.RWMutex
	client     *genai.Client
	currentKey string
}

func NewDynamicEmbedder(svc *settings.Service, model string, opts ...option.ClientOption) *DynamicEmbedder {
	if model == "" {
		model = DefaultModel
	}
	return &DynamicEmbedder{
		settingsSvc: svc,
		model:       model,
		clientOpts:  opts,
	}
}

// WithFallbackKey sets the key used while the settings row has none.
func (e *DynamicEmbedder) WithFallbackKey(key string) *DynamicEmbedder {
	e.fallbackKey = key
	return e
}

func (e *DynamicEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	s, err := e.settingsSvc.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}

	key := s.GeminiAPIKey
	if key == "" {
		key = e.fallbackKey
	}
	if key == "" {
		return nil, ErrMissingKey
	}

	client, err := e.getClient(ctx, key)
	if err != nil {
		return nil, err
	}
	return embedBatch(ctx, client, e.model, texts)
}

func (e *DynamicEmbedder) getClient(ctx context.Context, key string) (*genai.Client, error) {
	e.mu.RLock()
	if e.client != nil && e.currentKey == key {
		defer e.mu.RUnlock()
		return e.client, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	// Double check
	if e.client != nil && e.currentKey == key {
		return e.client, nil
	}

	if e.client != nil {
		if err := e.client.Close(); err != nil {
			slog.Warn("failed to close previous genai client", "error", err)
		}
	}

	opts := append(append([]option.ClientOption{}, e.clientOpts...), option.WithAPIKey(key))
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}

	e.client = client
	e.currentKey = key
	return client, nil
}

func (e *DynamicEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client == nil {
		return nil
	}
	err := e.client.Close()
	e.client = nil
	return err
}
