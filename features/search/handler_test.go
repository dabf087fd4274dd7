package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"recall/backend/features/document"
	"recall/backend/internal/retrieval"
)

type MockSearcher struct {
	mock.Mock
}

func (m *MockSearcher) Search(ctx context.Context, q retrieval.Query) ([]retrieval.ScoredDocument, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]retrieval.ScoredDocument), args.Error(1)
}

func (m *MockSearcher) MatchDocuments(ctx context.Context, q retrieval.Query) ([]retrieval.ScoredDocument, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]retrieval.ScoredDocument), args.Error(1)
}

func newTestMux(s Searcher) *http.ServeMux {
	h := NewHandler(s)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /search", h.Search)
	mux.HandleFunc("POST /match", h.Match)
	return mux
}

func post(t *testing.T, mux http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp["error"].(map[string]interface{})["code"].(string)
}

func TestHandler_Search(t *testing.T) {
	s := new(MockSearcher)
	s.On("Search", mock.Anything, mock.MatchedBy(func(q retrieval.Query) bool {
		return q.UserID == "u1" && q.Text == "budget review" && q.Limit == 5 &&
			len(q.SourceTypes) == 1 && q.SourceTypes[0] == document.NoteSummary
	})).Return([]retrieval.ScoredDocument{
		{DocumentID: "d1", SourceType: document.NoteSummary, Title: "Budget", SummaryText: "Q3 budget", FusedScore: 0.03},
	}, nil)

	w := post(t, newTestMux(s), "/search", `{"userId":"u1","query":"budget review","limit":5,"sourceTypes":["note-summary"],"evidence":true}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data     []retrieval.ScoredDocument `json:"data"`
		Meta     map[string]interface{}     `json:"meta"`
		Evidence string                     `json:"evidence"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "d1", resp.Data[0].DocumentID)
	assert.Equal(t, float64(1), resp.Meta["count"])
	assert.Equal(t, "hybrid", resp.Meta["mode"])
	assert.Contains(t, resp.Evidence, "[1] Budget")
	s.AssertExpectations(t)
}

func TestHandler_MatchEmptyResult(t *testing.T) {
	s := new(MockSearcher)
	s.On("MatchDocuments", mock.Anything, mock.Anything).Return(nil, nil)

	w := post(t, newTestMux(s), "/match", `{"userId":"u1","query":"anything"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, []interface{}{}, resp["data"])
	assert.NotContains(t, resp, "evidence")
}

func TestHandler_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{`},
		{"bad source type", `{"userId":"u1","query":"x","sourceTypes":["fax"]}`},
		{"negative limit", `{"userId":"u1","query":"x","limit":-1}`},
		{"limit above ceiling", `{"userId":"u1","query":"x","limit":201}`},
		{"score out of range", `{"userId":"u1","query":"x","minSemanticScore":1.5}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := new(MockSearcher)
			w := post(t, newTestMux(s), "/search", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "VALIDATION_ERROR", errorCode(t, w))
			s.AssertNotCalled(t, "Search", mock.Anything, mock.Anything)
		})
	}
}

func TestHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{retrieval.ErrMissingUser, http.StatusBadRequest, "VALIDATION_ERROR"},
		{retrieval.ErrEmptyQuery, http.StatusBadRequest, "VALIDATION_ERROR"},
		{fmt.Errorf("%w: lexical lookup", retrieval.ErrQueryTimeout), http.StatusGatewayTimeout, "TIMEOUT"},
		{errors.New("weaviate unavailable"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			s := new(MockSearcher)
			s.On("Search", mock.Anything, mock.Anything).Return(nil, tt.err)

			w := post(t, newTestMux(s), "/search", `{"userId":"u1","query":"x"}`)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, errorCode(t, w))
		})
	}
}
