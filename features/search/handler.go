package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"recall/backend/features/document"
	"recall/backend/internal/middleware"
	"recall/backend/internal/retrieval"
)

// maxLimit matches the search_limit ceiling enforced on settings.
const maxLimit = 200

type Searcher interface {
	Search(ctx context.Context, q retrieval.Query) ([]retrieval.ScoredDocument, error)
	MatchDocuments(ctx context.Context, q retrieval.Query) ([]retrieval.ScoredDocument, error)
}

type Request struct {
	UserID           string    `json:"userId"`
	Query            string    `json:"query"`
	Vector           []float32 `json:"vector,omitempty"`
	SourceTypes      []string  `json:"sourceTypes,omitempty"`
	Limit            int       `json:"limit,omitempty"`
	MinSemanticScore *float64  `json:"minSemanticScore,omitempty"`
	Evidence         bool      `json:"evidence,omitempty"`
}

type Handler struct {
	searcher Searcher
}

func NewHandler(s Searcher) *Handler {
	return &Handler{searcher: s}
}

// Search handles POST /search: semantic and lexical lookups fused into one list.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "hybrid", h.searcher.Search)
}

// Match handles POST /match: the semantic lookup alone.
func (h *Handler) Match(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "semantic", h.searcher.MatchDocuments)
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, mode string, run func(context.Context, retrieval.Query) ([]retrieval.ScoredDocument, error)) {
	ctx := r.Context()

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}
	q, err := req.toQuery()
	if err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}

	results, err := run(ctx, q)
	if err != nil {
		switch {
		case errors.Is(err, retrieval.ErrMissingUser), errors.Is(err, retrieval.ErrEmptyQuery):
			h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		case errors.Is(err, retrieval.ErrQueryTimeout):
			h.writeError(ctx, w, "TIMEOUT", "query exceeded its time budget", http.StatusGatewayTimeout)
		default:
			slog.ErrorContext(ctx, "search failed", "mode", mode, "user_id", req.UserID, "error", err)
			h.writeError(ctx, w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		}
		return
	}
	if results == nil {
		results = []retrieval.ScoredDocument{}
	}

	body := map[string]interface{}{
		"data": results,
		"meta": map[string]interface{}{"count": len(results), "mode": mode},
	}
	if req.Evidence {
		body["evidence"] = retrieval.Evidence(results)
	}
	h.writeJSON(ctx, w, http.StatusOK, body)
}

func (req Request) toQuery() (retrieval.Query, error) {
	if req.Limit < 0 || req.Limit > maxLimit {
		return retrieval.Query{}, fmt.Errorf("limit must be between 0 and %d", maxLimit)
	}
	if s := req.MinSemanticScore; s != nil && (*s < 0 || *s > 1) {
		return retrieval.Query{}, fmt.Errorf("minSemanticScore must be between 0 and 1")
	}
	types := make([]document.SourceType, 0, len(req.SourceTypes))
	for _, raw := range req.SourceTypes {
		t := document.SourceType(raw)
		if !t.Valid() {
			return retrieval.Query{}, fmt.Errorf("unknown source type %q", raw)
		}
		types = append(types, t)
	}
	return retrieval.Query{
		UserID:           req.UserID,
		Text:             req.Query,
		Vector:           req.Vector,
		SourceTypes:      types,
		Limit:            req.Limit,
		MinSemanticScore: req.MinSemanticScore,
	}, nil
}

func (h *Handler) writeJSON(ctx context.Context, w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
