package worker

import (
	"context"
	"fmt"
	"log/slog"

	"recall/backend/features/document"
	"recall/backend/features/job"
	"recall/backend/internal/embed"
)

// Pipeline turns built source units into stored documents and vectors.
//
// Order matters: vectors are written before the documents that own them, so
// a committed document always has its vector. If the document commit fails
// the new vectors are removed again; vectors of retired documents are
// removed after the commit. Either cleanup failing only leaves orphan vectors,
// which retrieval ignores because it joins against live documents.
type Pipeline struct {
	docs     DocumentWriter
	vectors  VectorWriter
	embedder Embedder
}

func NewPipeline(docs DocumentWriter, vectors VectorWriter, embedder Embedder) *Pipeline {
	return &Pipeline{docs: docs, vectors: vectors, embedder: embedder}
}

// Index stores units and adds their counts to res. In incremental mode a
// unit whose hashes are all live is counted as skipped and not re-embedded.
func (p *Pipeline) Index(ctx context.Context, userID string, mode job.Mode, units []document.SourceUnit, res *job.TaskResult) error {
	if len(units) == 0 {
		return nil
	}

	if mode == job.ModeIncremental {
		var err error
		units, err = p.changed(ctx, userID, units, res)
		if err != nil {
			return err
		}
		if len(units) == 0 {
			return nil
		}
	}

	var inputs []embed.Input
	byID := make(map[string]document.Document)
	for _, u := range units {
		for _, d := range u.Documents {
			inputs = append(inputs, embed.Input{ID: d.ID, Text: d.Text()})
			byID[d.ID] = d
		}
	}

	outputs, err := p.embedder.Embed(ctx, inputs)
	if err != nil {
		return fmt.Errorf("embed documents: %w", err)
	}

	embeddings := make([]document.Embedding, len(outputs))
	newIDs := make([]string, len(outputs))
	for i, o := range outputs {
		d := byID[o.ID]
		embeddings[i] = document.Embedding{
			DocumentID:  d.ID,
			UserID:      userID,
			SourceType:  d.SourceType,
			SourceID:    d.SourceID,
			ChunkIndex:  d.ChunkIndex,
			ContentHash: d.ContentHash,
			Vector:      o.Vector,
		}
		newIDs[i] = d.ID
	}

	if err := p.vectors.UpsertVectors(ctx, embeddings); err != nil {
		return fmt.Errorf("store vectors: %w", err)
	}

	retired, err := p.docs.ReplaceSources(ctx, userID, units)
	if err != nil {
		if derr := p.vectors.DeleteVectors(ctx, newIDs); derr != nil {
			slog.WarnContext(ctx, "failed to remove vectors of uncommitted documents", "count", len(newIDs), "error", derr)
		}
		return fmt.Errorf("replace documents: %w", err)
	}

	if len(retired) > 0 {
		if err := p.vectors.DeleteVectors(ctx, retired); err != nil {
			slog.WarnContext(ctx, "failed to remove retired vectors", "count", len(retired), "error", err)
		}
	}

	for _, d := range byID {
		res.Documents++
		if d.ChunkText != "" {
			res.Chunks++
		}
	}
	res.Embeddings += len(embeddings)
	return nil
}

func (p *Pipeline) changed(ctx context.Context, userID string, units []document.SourceUnit, res *job.TaskResult) ([]document.SourceUnit, error) {
	var hashes []string
	for _, u := range units {
		hashes = append(hashes, u.Hashes()...)
	}
	live, err := p.docs.LiveHashes(ctx, userID, hashes)
	if err != nil {
		return nil, fmt.Errorf("check content hashes: %w", err)
	}

	out := units[:0:0]
	for _, u := range units {
		if unchanged(u, live) {
			res.Skipped++
			continue
		}
		out = append(out, u)
	}
	return out, nil
}

func unchanged(u document.SourceUnit, live map[string]bool) bool {
	if len(u.Documents) == 0 {
		return false
	}
	for _, h := range u.Hashes() {
		if !live[h] {
			return false
		}
	}
	return true
}
