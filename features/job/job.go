package job

import (
	"errors"
	"time"
)

var (
	ErrJobNotFound   = errors.New("job not found")
	ErrTaskNotFound  = errors.New("task not found")
	ErrNoPendingTask = errors.New("no pending task")
	ErrInvalidMode   = errors.New("invalid mode")
	ErrInvalidSource = errors.New("invalid source")
	ErrMissingUser   = errors.New("user id is required")
	// ErrTaskNotRetryable is returned when an operator retries a task that has not failed.
	ErrTaskNotRetryable = errors.New("only failed tasks can be retried")
	// ErrStaleClaim means the task was recovered and reclaimed while this
	// invocation still held it; its outcome is discarded.
	ErrStaleClaim = errors.New("task claim is no longer current")
	// ErrPermanent marks a task error that must not be retried.
	ErrPermanent = errors.New("permanent task error")
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further steps can change the job.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type Mode string

const (
	ModeFull        Mode = "full"
	ModeIncremental Mode = "incremental"
)

func (m Mode) Valid() bool {
	return m == ModeFull || m == ModeIncremental
}

type TaskType string

const (
	TaskNotes    TaskType = "notes"
	TaskEmails   TaskType = "emails"
	TaskCalendar TaskType = "calendar"
)

func (t TaskType) Valid() bool {
	return t == TaskNotes || t == TaskEmails || t == TaskCalendar
}

// Paginated task types append a continuation task while pages remain.
func (t TaskType) Paginated() bool {
	return t == TaskEmails || t == TaskCalendar
}

type Job struct {
	ID           string     `json:"id"`
	UserID       string     `json:"userId"`
	Mode         Mode       `json:"mode"`
	Sources      []TaskType `json:"sources"`
	Status       Status     `json:"status"`
	Progress     Progress   `json:"progress"`
	FailedTasks  int        `json:"failedTasks"`
	ErrorSummary string     `json:"errorSummary,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// Progress holds cumulative counters per task type. It is always recomputed
// from completed task results, never incremented.
type Progress map[TaskType]SourceProgress

type SourceProgress struct {
	Tasks      int `json:"tasks"`
	Documents  int `json:"documents"`
	Chunks     int `json:"chunks"`
	Embeddings int `json:"embeddings"`
	Skipped    int `json:"skipped"`
	Empty      int `json:"empty"`
	Sources    int `json:"sources"`
}

func (p *SourceProgress) Add(r TaskResult) {
	p.Tasks++
	p.Documents += r.Documents
	p.Chunks += r.Chunks
	p.Embeddings += r.Embeddings
	p.Skipped += r.Skipped
	p.Empty += r.Empty
	p.Sources += r.Sources
}

type TaskParams struct {
	Mode      Mode   `json:"mode"`
	AccountID string `json:"account_id,omitempty"`
	Offset    int    `json:"offset"`
}

// TaskResult is what an executor reports for one task.
type TaskResult struct {
	Documents  int  `json:"documents"`
	Chunks     int  `json:"chunks"`
	Embeddings int  `json:"embeddings"`
	Skipped    int  `json:"skipped"`
	Empty      int  `json:"empty"`
	Sources    int  `json:"sources"`
	Total      int  `json:"total"`
	HasMore    bool `json:"has_more"`
	NextOffset int  `json:"next_offset"`
}

type Task struct {
	ID          string      `json:"id"`
	JobID       string      `json:"jobId"`
	Type        TaskType    `json:"taskType"`
	Params      TaskParams  `json:"params"`
	Status      Status      `json:"status"`
	Attempts    int         `json:"attempts"`
	Result      *TaskResult `json:"result,omitempty"`
	Error       string      `json:"error,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
	StartedAt   *time.Time  `json:"startedAt,omitempty"`
	CompletedAt *time.Time  `json:"completedAt,omitempty"`
}

// Continuation returns the task for the next page, or nil when the result
// reports no more pages.
func (t Task) Continuation(r TaskResult) *Task {
	if !t.Type.Paginated() || !r.HasMore {
		return nil
	}
	params := t.Params
	params.Offset = r.NextOffset
	return &Task{JobID: t.JobID, Type: t.Type, Params: params, Status: StatusPending}
}

type StatusCounts map[Status]int

type StepStatus string

const (
	StepProcessing StepStatus = "processing"
	StepCompleted  StepStatus = "completed"
)

type StepResult struct {
	JobID  string     `json:"jobId"`
	Status StepStatus `json:"status"`
	TaskID string     `json:"taskId,omitempty"`
}

// JobStatus is a job with its live progress roll-up and task counts.
type JobStatus struct {
	*Job
	Tasks StatusCounts `json:"tasks"`
}

type CreateJobRequest struct {
	UserID    string     `json:"userId"`
	Mode      Mode       `json:"mode"`
	Sources   []TaskType `json:"sources"`
	AccountID string     `json:"accountId,omitempty"`
}
