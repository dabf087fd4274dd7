package retrieval

import (
	"context"
	"errors"
	"time"

	"recall/backend/features/document"
)

var (
	ErrQueryTimeout = errors.New("retrieval query exceeded its time budget")
	ErrEmptyQuery   = errors.New("query text is required")
	ErrMissingUser  = errors.New("user id is required")
)

// SemanticHit is one vector-index match; Score is cosine similarity.
type SemanticHit struct {
	DocumentID string
	Score      float64
}

type Query struct {
	UserID string
	Text   string
	// Vector skips query embedding when set.
	Vector      []float32
	SourceTypes []document.SourceType
	// Zero Limit and nil MinSemanticScore take the settings defaults.
	Limit            int
	MinSemanticScore *float64
}

type ScoredDocument struct {
	DocumentID    string                 `json:"documentId"`
	SourceType    document.SourceType    `json:"sourceType"`
	SourceID      string                 `json:"sourceId"`
	Title         string                 `json:"title"`
	SummaryText   string                 `json:"summaryText,omitempty"`
	ChunkText     string                 `json:"chunkText,omitempty"`
	Metadata      map[string]interface{} `json:"metadata"`
	OccurredAt    *time.Time             `json:"occurredAt,omitempty"`
	CreatedAt     time.Time              `json:"createdAt"`
	SemanticScore float64                `json:"semanticScore"`
	LexicalScore  float64                `json:"lexicalScore"`
	FusedScore    float64                `json:"fusedScore"`
	SemanticRank  int                    `json:"semanticRank"`
	LexicalRank   int                    `json:"lexicalRank"`
}

func newScored(d document.Document) *ScoredDocument {
	return &ScoredDocument{
		DocumentID:  d.ID,
		SourceType:  d.SourceType,
		SourceID:    d.SourceID,
		Title:       d.Title,
		SummaryText: d.SummaryText,
		ChunkText:   d.ChunkText,
		Metadata:    d.Metadata,
		OccurredAt:  d.OccurredAt,
		CreatedAt:   d.CreatedAt,
	}
}

func (sd ScoredDocument) age(now time.Time) time.Duration {
	return document.Document{OccurredAt: sd.OccurredAt, CreatedAt: sd.CreatedAt}.AgeFrom(now)
}

type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type VectorIndex interface {
	SearchVectors(ctx context.Context, userID string, query []float32, types []document.SourceType, limit int, minScore float64) ([]SemanticHit, error)
}

type DocumentStore interface {
	SearchLexical(ctx context.Context, userID, query string, types []document.SourceType, limit int, timeout time.Duration) ([]document.Hit, error)
	LiveByIDs(ctx context.Context, userID string, ids []string, timeout time.Duration) (map[string]document.Document, error)
}

// Defaults supplies the limit and minimum semantic score for queries that
// leave them unset.
type Defaults interface {
	Search(ctx context.Context) (int, float64)
}
