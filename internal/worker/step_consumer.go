package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"

	"recall/backend/features/job"
	"recall/backend/internal/middleware"
)

type Stepper interface {
	RunOneStep(ctx context.Context, jobID string) (job.StepResult, error)
}

// StepConsumer runs one step per index.step message. Every message is
// acknowledged: progress lives in the task table, and the sweeper resumes a
// job whose chain breaks.
type StepConsumer struct {
	steps Stepper
}

func NewStepConsumer(s Stepper) *StepConsumer {
	return &StepConsumer{steps: s}
}

func (h *StepConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var payload StepPayload
	if err := json.Unmarshal(m.Body, &payload); err != nil {
		// Poison Pill: Invalid JSON, don't retry
		slog.Error("poison pill: invalid json", "error", err)
		return nil
	}
	if payload.JobID == "" {
		slog.Error("step message without job id, dropping")
		return nil
	}

	correlationID := payload.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	ctx := middleware.WithCorrelationID(context.Background(), correlationID)
	ctx = middleware.WithJobID(ctx, payload.JobID)

	res, err := h.steps.RunOneStep(ctx, payload.JobID)
	switch {
	case errors.Is(err, job.ErrJobNotFound):
		slog.WarnContext(ctx, "step for unknown job, dropping")
	case err != nil:
		slog.ErrorContext(ctx, "step failed", "error", err)
	default:
		slog.DebugContext(ctx, "step done", "status", res.Status, "task_id", res.TaskID)
	}
	return nil
}
