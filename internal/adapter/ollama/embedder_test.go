package ollama_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recall/backend/internal/adapter/ollama"
)

// fakeOllama answers both the batch and the single-prompt embedding routes.
func fakeOllama(t *testing.T) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]json.RawMessage
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")

		switch r.URL.Path {
		case "/api/embed":
			n := 1
			var inputs []string
			if err := json.Unmarshal(req["input"], &inputs); err == nil {
				n = len(inputs)
			}
			vecs := make([][]float32, n)
			for i := range vecs {
				vecs[i] = []float32{float32(i), 1}
			}
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"model": "m", "embeddings": vecs})
		case "/api/embeddings":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"embedding": []float32{0, 1}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestEmbedder_EmbedBatch(t *testing.T) {
	ts := fakeOllama(t)

	e, err := ollama.NewEmbedder(ts.URL, "")
	require.NoError(t, err)
	assert.Equal(t, ollama.DefaultModel, e.Model())

	vecs, err := e.EmbedBatch(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	for _, v := range vecs {
		assert.Len(t, v, 2)
	}
}

func TestEmbedder_ServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	e, err := ollama.NewEmbedder(ts.URL, "nomic-embed-text")
	require.NoError(t, err)

	_, err = e.EmbedBatch(context.Background(), []string{"x"})
	assert.Error(t, err)
}
