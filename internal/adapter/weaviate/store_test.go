package weaviate_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"recall/backend/features/document"
	adapter "recall/backend/internal/adapter/weaviate"
)

func mockWeaviate(t *testing.T, handler http.HandlerFunc) *adapter.Store {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/meta" {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"version": "1.25.0"}`))
			return
		}
		handler(w, r)
	}))
	t.Cleanup(ts.Close)

	client, err := weaviate.NewClient(weaviate.Config{Host: ts.Listener.Addr().String(), Scheme: "http"})
	require.NoError(t, err)
	return adapter.NewStore(client)
}

func graphQLQuery(t *testing.T, r *http.Request) string {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	q, _ := body["query"].(string)
	return q
}

const docA = "3f1c6f2e-8a7b-4c55-9d3e-0b8f2a1d7e10"
const docB = "9a4e2b71-5c3d-4f08-8e6a-2d1b7c9f0a34"

func TestStore_UpsertVectors(t *testing.T) {
	store := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/batch/objects", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var body struct {
			Objects []map[string]interface{} `json:"objects"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Objects, 2)
		assert.Equal(t, "DocumentEmbedding", body.Objects[0]["class"])
		assert.Equal(t, docA, body.Objects[0]["id"])
		props := body.Objects[0]["properties"].(map[string]interface{})
		assert.Equal(t, "user-1", props["userId"])
		assert.Equal(t, "note-chunk", props["sourceType"])

		_ = json.NewEncoder(w).Encode(body.Objects)
	})

	err := store.UpsertVectors(context.Background(), []document.Embedding{
		{DocumentID: docA, UserID: "user-1", SourceType: document.NoteChunk, SourceID: "n1", Vector: []float32{0.1, 0.2}},
		{DocumentID: docB, UserID: "user-1", SourceType: document.NoteSummary, SourceID: "n1", Vector: []float32{0.3, 0.4}},
	})
	assert.NoError(t, err)
}

func TestStore_UpsertVectors_ObjectErrors(t *testing.T) {
	store := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]interface{}{{
			"class": "DocumentEmbedding",
			"id":    docA,
			"result": map[string]interface{}{
				"errors": map[string]interface{}{
					"error": []map[string]interface{}{{"message": "vector lengths don't match"}},
				},
			},
		}})
	})

	err := store.UpsertVectors(context.Background(), []document.Embedding{{DocumentID: docA, Vector: []float32{1}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vector lengths don't match")
}

func TestStore_UpsertVectors_Empty(t *testing.T) {
	store := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected call %s", r.URL.Path)
	})
	assert.NoError(t, store.UpsertVectors(context.Background(), nil))
	assert.NoError(t, store.DeleteVectors(context.Background(), nil))
}

func TestStore_DeleteVectors(t *testing.T) {
	store := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/batch/objects", r.URL.Path)
		assert.Equal(t, http.MethodDelete, r.Method)

		var body struct {
			Match struct {
				Class string                 `json:"class"`
				Where map[string]interface{} `json:"where"`
			} `json:"match"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "DocumentEmbedding", body.Match.Class)
		assert.Equal(t, "ContainsAny", body.Match.Where["operator"])

		_ = json.NewEncoder(w).Encode(map[string]interface{}{})
	})

	assert.NoError(t, store.DeleteVectors(context.Background(), []string{docA, docB}))
}

func TestStore_SearchVectors(t *testing.T) {
	var query string
	store := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/graphql", r.URL.Path)
		query = graphQLQuery(t, r)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"Get": map[string]interface{}{
					"DocumentEmbedding": []interface{}{
						map[string]interface{}{
							"sourceId":    "n1",
							"_additional": map[string]interface{}{"id": docA, "distance": 0.1},
						},
						map[string]interface{}{
							"sourceId":    "n2",
							"_additional": map[string]interface{}{"id": docB, "distance": 0.5},
						},
					},
				},
			},
		})
	})

	hits, err := store.SearchVectors(context.Background(), "user-1", []float32{0.1, 0.2}, []document.SourceType{document.EmailChunk}, 10, 0.28)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, docA, hits[0].DocumentID)
	assert.InDelta(t, 0.9, hits[0].Score, 1e-9)
	assert.InDelta(t, 0.5, hits[1].Score, 1e-9)

	assert.Contains(t, query, "nearVector")
	assert.Contains(t, query, "distance:")
	assert.Contains(t, query, "user-1")
	assert.Contains(t, query, "email-chunk")
	assert.Contains(t, query, "limit: 10")
}

func TestStore_SearchVectors_GraphQLError(t *testing.T) {
	store := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"errors": []interface{}{map[string]interface{}{"message": "class not found"}},
		})
	})

	_, err := store.SearchVectors(context.Background(), "u", []float32{1}, nil, 5, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "class not found")
}

func TestStore_CountVectors(t *testing.T) {
	store := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/graphql", r.URL.Path)
		assert.Contains(t, graphQLQuery(t, r), "Aggregate")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"Aggregate": map[string]interface{}{
					"DocumentEmbedding": []interface{}{
						map[string]interface{}{"meta": map[string]interface{}{"count": 42.0}},
					},
				},
			},
		})
	})

	count, err := store.CountVectors(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, count)
}
