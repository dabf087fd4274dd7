package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/panjf2000/ants/v2"
)

var (
	// ErrEmptyBatch is returned when the provider answers with no vector for a text.
	ErrEmptyBatch = errors.New("embedding provider returned an empty result")
	// ErrVectorCount is returned when the provider answers with a different number of vectors than texts sent.
	ErrVectorCount = errors.New("embedding provider returned a mismatched vector count")
)

// Provider embeds a batch of texts in a single remote call. Vectors come back
// in input order.
type Provider interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type Input struct {
	ID   string
	Text string
}

type Output struct {
	Input
	Vector []float32
}

type Options struct {
	BatchSize   int
	MaxTokens   int
	Concurrency int
	// Truncator overrides the token truncator built from MaxTokens.
	Truncator Truncator
}

// Batcher splits texts into provider-sized batches and embeds them on a
// bounded worker pool.
type Batcher struct {
	provider  Provider
	trunc     Truncator
	batchSize int
	pool      *ants.Pool
}

func NewBatcher(p Provider, opts Options) (*Batcher, error) {
	if opts.BatchSize < 1 {
		opts.BatchSize = 64
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Truncator == nil {
		opts.Truncator = NewTokenTruncator(opts.MaxTokens)
	}

	pool, err := ants.NewPool(opts.Concurrency)
	if err != nil {
		return nil, fmt.Errorf("create embedding pool: %w", err)
	}

	return &Batcher{
		provider:  p,
		trunc:     opts.Truncator,
		batchSize: opts.BatchSize,
		pool:      pool,
	}, nil
}

// Embed returns one output per input, in input order. The first failing
// batch cancels the rest and fails the call.
func (b *Batcher) Embed(ctx context.Context, inputs []Input) ([]Output, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := make([]Output, len(inputs))
	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	fail := func(err error) {
		once.Do(func() {
			firstErr = err
			cancel()
		})
	}

	for start := 0; start < len(inputs); start += b.batchSize {
		end := min(start+b.batchSize, len(inputs))
		wg.Add(1)
		err := b.pool.Submit(func() {
			defer wg.Done()
			if err := ctx.Err(); err != nil {
				fail(err)
				return
			}
			if err := b.embedRange(ctx, inputs[start:end], out[start:end]); err != nil {
				fail(fmt.Errorf("embed batch [%d:%d]: %w", start, end, err))
			}
		})
		if err != nil {
			wg.Done()
			fail(fmt.Errorf("submit embedding batch: %w", err))
			break
		}
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

func (b *Batcher) embedRange(ctx context.Context, in []Input, out []Output) error {
	texts := make([]string, len(in))
	for i, input := range in {
		texts[i] = b.trunc.Truncate(input.Text)
	}

	vectors, err := b.provider.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}
	if len(vectors) != len(texts) {
		return fmt.Errorf("%w: got %d for %d texts", ErrVectorCount, len(vectors), len(texts))
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return fmt.Errorf("%w: text %s", ErrEmptyBatch, in[i].ID)
		}
		out[i] = Output{Input: in[i], Vector: v}
	}
	slog.DebugContext(ctx, "embedded batch", "size", len(texts))
	return nil
}

// EmbedQuery embeds a single query text.
func (b *Batcher) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	out, err := b.Embed(ctx, []Input{{ID: "query", Text: text}})
	if err != nil {
		return nil, err
	}
	return out[0].Vector, nil
}

func (b *Batcher) Release() {
	b.pool.Release()
}
