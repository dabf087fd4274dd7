package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"recall/backend/internal/config"
	"recall/backend/internal/middleware"
)

type TaskPublisher interface {
	Publish(topic string, body []byte) error
}

const defaultPublishTimeout = 5 * time.Second

// NSQTrigger schedules a step by publishing to the step topic. Any worker on
// the shared channel may pick it up.
type NSQTrigger struct {
	pub     TaskPublisher
	timeout time.Duration
}

func NewNSQTrigger(pub TaskPublisher) *NSQTrigger {
	return &NSQTrigger{pub: pub, timeout: defaultPublishTimeout}
}

func (t *NSQTrigger) WithTimeout(d time.Duration) *NSQTrigger {
	t.timeout = d
	return t
}

func (t *NSQTrigger) Trigger(ctx context.Context, jobID string) error {
	body, err := json.Marshal(StepPayload{
		JobID:         jobID,
		CorrelationID: middleware.GetCorrelationID(ctx),
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- t.pub.Publish(config.TopicIndexStep, body)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("publish step: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("publish step: %w", ctx.Err())
	}
}
