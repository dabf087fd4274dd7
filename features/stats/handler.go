package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"recall/backend/features/job"
	"recall/backend/internal/middleware"
)

type JobRepo interface {
	CountJobs(ctx context.Context) (int, error)
	CountTasks(ctx context.Context, status job.Status) (int, error)
}

type DocumentRepo interface {
	CountLive(ctx context.Context) (int, error)
}

type VectorStore interface {
	CountVectors(ctx context.Context) (int, error)
}

type Handler struct {
	jobRepo     JobRepo
	docRepo     DocumentRepo
	vectorStore VectorStore
}

func NewHandler(j JobRepo, d DocumentRepo, v VectorStore) *Handler {
	return &Handler{jobRepo: j, docRepo: d, vectorStore: v}
}

type StatsResponse struct {
	Jobs         int `json:"jobs"`
	PendingTasks int `json:"pending_tasks"`
	RunningTasks int `json:"running_tasks"`
	FailedTasks  int `json:"failed_tasks"`
	Documents    int `json:"documents"`
	Embeddings   int `json:"embeddings"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	slog.InfoContext(ctx, "getting stats")

	var resp StatsResponse
	var err error

	if resp.Jobs, err = h.jobRepo.CountJobs(ctx); err != nil {
		slog.ErrorContext(ctx, "failed to count jobs", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count jobs", http.StatusInternalServerError)
		return
	}

	for status, dst := range map[job.Status]*int{
		job.StatusPending: &resp.PendingTasks,
		job.StatusRunning: &resp.RunningTasks,
		job.StatusFailed:  &resp.FailedTasks,
	} {
		if *dst, err = h.jobRepo.CountTasks(ctx, status); err != nil {
			slog.ErrorContext(ctx, "failed to count tasks", "status", status, "error", err)
			h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count tasks", http.StatusInternalServerError)
			return
		}
	}

	if resp.Documents, err = h.docRepo.CountLive(ctx); err != nil {
		slog.ErrorContext(ctx, "failed to count documents", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count documents", http.StatusInternalServerError)
		return
	}

	if resp.Embeddings, err = h.vectorStore.CountVectors(ctx); err != nil {
		slog.ErrorContext(ctx, "failed to count embeddings", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count embeddings", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
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
