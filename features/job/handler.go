package job

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"recall/backend/internal/middleware"
)

type Handler struct {
	service *Service
}

func NewHandler(s *Service) *Handler {
	return &Handler{service: s}
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := detach(r)

	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}

	j, err := h.service.CreateJob(ctx, req)
	if err != nil {
		if errors.Is(err, ErrMissingUser) || errors.Is(err, ErrInvalidMode) || errors.Is(err, ErrInvalidSource) {
			h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
			return
		}
		slog.ErrorContext(ctx, "failed to create job", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}

	h.writeJSON(ctx, w, http.StatusCreated, map[string]interface{}{
		"data": map[string]interface{}{"jobId": j.ID, "job": j},
	})
}

// Step runs one step. The job id comes from the path, or from a
// {"jobId": ...} body on the bare step route.
func (h *Handler) Step(w http.ResponseWriter, r *http.Request) {
	ctx := detach(r)

	id := r.PathValue("id")
	if id == "" {
		var req struct {
			JobID string `json:"jobId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
			return
		}
		id = req.JobID
	}
	if id == "" {
		h.writeError(ctx, w, "VALIDATION_ERROR", "jobId is required", http.StatusBadRequest)
		return
	}

	res, err := h.service.RunOneStep(ctx, id)
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			h.writeError(ctx, w, "NOT_FOUND", "Job not found", http.StatusNotFound)
			return
		}
		h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}

	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{"data": res})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	status, err := h.service.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			h.writeError(ctx, w, "NOT_FOUND", "Job not found", http.StatusNotFound)
			return
		}
		slog.ErrorContext(ctx, "failed to get job", "id", id, "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}

	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{"data": status})
}

func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	tasks, err := h.service.ListTasks(ctx, id)
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			h.writeError(ctx, w, "NOT_FOUND", "Job not found", http.StatusNotFound)
			return
		}
		slog.ErrorContext(ctx, "failed to list tasks", "id", id, "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}
	if tasks == nil {
		tasks = []Task{}
	}

	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{
		"data": tasks,
		"meta": map[string]int{"count": len(tasks)},
	})
}

func (h *Handler) RetryTask(w http.ResponseWriter, r *http.Request) {
	ctx := detach(r)
	id := r.PathValue("id")
	taskID := r.PathValue("taskId")

	slog.InfoContext(ctx, "retrying task", "id", id, "task_id", taskID)

	if err := h.service.RetryTask(ctx, id, taskID); err != nil {
		switch {
		case errors.Is(err, ErrTaskNotFound):
			h.writeError(ctx, w, "NOT_FOUND", "Task not found", http.StatusNotFound)
		case errors.Is(err, ErrTaskNotRetryable):
			h.writeError(ctx, w, "CONFLICT", err.Error(), http.StatusConflict)
		default:
			slog.ErrorContext(ctx, "failed to retry task", "id", id, "task_id", taskID, "error", err)
			h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{"data": "task retried"})
}

// detach keeps request values but not cancellation; Limits.TaskTimeout
// bounds the step instead.
func detach(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
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
