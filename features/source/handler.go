package source

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"recall/backend/internal/middleware"
)

type Reader interface {
	ListAccounts(ctx context.Context, userID string) ([]Account, error)
	CountRecords(ctx context.Context, userID string) (Counts, error)
}

type Handler struct {
	reader Reader
}

func NewHandler(reader Reader) *Handler {
	return &Handler{reader: reader}
}

// Overview lists the user's linked accounts and how many source records of
// each kind are available for indexing.
func (h *Handler) Overview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := r.PathValue("userId")

	accounts, err := h.reader.ListAccounts(ctx, userID)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list accounts", "user_id", userID, "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if accounts == nil {
		accounts = []Account{}
	}

	counts, err := h.reader.CountRecords(ctx, userID)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count source records", "user_id", userID, "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	resp := map[string]interface{}{
		"data": map[string]interface{}{
			"accounts": accounts,
			"records":  counts,
		},
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
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
