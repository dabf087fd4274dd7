package weaviate

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-openapi/strfmt"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"recall/backend/features/document"
	"recall/backend/internal/retrieval"
	"recall/backend/internal/vector"
)

type Store struct {
	client *weaviate.Client
}

func NewStore(client *weaviate.Client) *Store {
	return &Store{client: client}
}

// UpsertVectors writes one object per embedding. Re-sending an id replaces
// the object.
func (s *Store) UpsertVectors(ctx context.Context, embeddings []document.Embedding) error {
	if len(embeddings) == 0 {
		return nil
	}

	objects := make([]*models.Object, len(embeddings))
	for i, e := range embeddings {
		objects[i] = &models.Object{
			Class: vector.ClassName,
			ID:    strfmt.UUID(e.DocumentID),
			Properties: map[string]interface{}{
				"userId":      e.UserID,
				"sourceType":  string(e.SourceType),
				"sourceId":    e.SourceID,
				"contentHash": e.ContentHash,
				"chunkIndex":  e.ChunkIndex,
			},
			Vector: e.Vector,
		}
	}

	res, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return fmt.Errorf("batch upsert: %w", err)
	}

	var failed []string
	for _, r := range res {
		if r.Result == nil || r.Result.Errors == nil {
			continue
		}
		for _, e := range r.Result.Errors.Error {
			if e != nil {
				failed = append(failed, fmt.Sprintf("%s: %s", r.ID, e.Message))
			}
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("batch upsert: %d object error(s): %s", len(failed), strings.Join(failed, "; "))
	}
	return nil
}

// DeleteVectors removes objects by document id.
func (s *Store) DeleteVectors(ctx context.Context, documentIDs []string) error {
	if len(documentIDs) == 0 {
		return nil
	}
	_, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(vector.ClassName).
		WithOutput("minimal").
		WithWhere(filters.Where().
			WithPath([]string{"id"}).
			WithOperator(filters.ContainsAny).
			WithValueText(documentIDs...)).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("batch delete: %w", err)
	}
	return nil
}

// SearchVectors returns the nearest documents of one user whose cosine
// similarity is at least minScore.
func (s *Store) SearchVectors(ctx context.Context, userID string, query []float32, types []document.SourceType, limit int, minScore float64) ([]retrieval.SemanticHit, error) {
	nearVector := s.client.GraphQL().NearVectorArgBuilder().
		WithVector(query).
		WithDistance(float32(1 - minScore))

	fields := []graphql.Field{
		{Name: "sourceId"},
		{Name: "sourceType"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "id"}, {Name: "distance"}}},
	}

	res, err := s.client.GraphQL().Get().
		WithClassName(vector.ClassName).
		WithNearVector(nearVector).
		WithWhere(scope(userID, types)).
		WithLimit(limit).
		WithFields(fields...).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %v", res.Errors[0].Message)
	}

	var hits []retrieval.SemanticHit
	data, _ := res.Data["Get"].(map[string]interface{})
	objects, _ := data[vector.ClassName].([]interface{})
	for _, o := range objects {
		props, ok := o.(map[string]interface{})
		if !ok {
			continue
		}
		additional, _ := props["_additional"].(map[string]interface{})
		id, _ := additional["id"].(string)
		distance, ok := additional["distance"].(float64)
		if id == "" || !ok {
			continue
		}
		hits = append(hits, retrieval.SemanticHit{DocumentID: id, Score: 1 - distance})
	}
	return hits, nil
}

// CountVectors counts every stored embedding.
func (s *Store) CountVectors(ctx context.Context) (int, error) {
	meta := graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}
	res, err := s.client.GraphQL().Aggregate().
		WithClassName(vector.ClassName).
		WithFields(meta).
		Do(ctx)
	if err != nil {
		return 0, err
	}
	if len(res.Errors) > 0 {
		return 0, fmt.Errorf("graphql error: %v", res.Errors[0].Message)
	}

	agg, _ := res.Data["Aggregate"].(map[string]interface{})
	rows, _ := agg[vector.ClassName].([]interface{})
	if len(rows) == 0 {
		return 0, nil
	}
	row, _ := rows[0].(map[string]interface{})
	m, _ := row["meta"].(map[string]interface{})
	count, _ := m["count"].(float64)
	return int(count), nil
}

func scope(userID string, types []document.SourceType) *filters.WhereBuilder {
	user := filters.Where().
		WithPath([]string{"userId"}).
		WithOperator(filters.Equal).
		WithValueText(userID)
	if len(types) == 0 {
		return user
	}

	values := make([]string, len(types))
	for i, t := range types {
		values[i] = string(t)
	}
	return filters.Where().
		WithOperator(filters.And).
		WithOperands([]*filters.WhereBuilder{
			user,
			filters.Where().
				WithPath([]string{"sourceType"}).
				WithOperator(filters.ContainsAny).
				WithValueText(values...),
		})
}
