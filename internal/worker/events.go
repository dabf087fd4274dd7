package worker

// StepPayload is the body of an index.step message.
type StepPayload struct {
	JobID         string `json:"job_id"`
	CorrelationID string `json:"correlation_id"`
}
