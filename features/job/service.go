package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"recall/backend/internal/middleware"
)

// TaskExecutor runs one claimed task. Errors wrapping ErrPermanent fail the
// task without further retries.
type TaskExecutor interface {
	Execute(ctx context.Context, j *Job, t *Task) (TaskResult, error)
}

// StepTrigger schedules another step invocation for a job.
type StepTrigger interface {
	Trigger(ctx context.Context, jobID string) error
}

// AccountLister resolves the linked accounts a paginated source is seeded for.
type AccountLister interface {
	ListAccountIDs(ctx context.Context, userID string, t TaskType) ([]string, error)
}

type Limits struct {
	StaleAfter  time.Duration
	MaxAttempts int
	FanoutWidth int
	TaskTimeout time.Duration
}

var DefaultLimits = Limits{
	StaleAfter:  180 * time.Second,
	MaxAttempts: 3,
	FanoutWidth: 3,
	TaskTimeout: 150 * time.Second,
}

// chainAttempts is one trigger plus one retry.
const chainAttempts = 2

const maxSummaryErrors = 5

type Option func(*Service)

func WithExecutor(t TaskType, e TaskExecutor) Option {
	return func(s *Service) { s.executors[t] = e }
}

func WithAccounts(a AccountLister) Option {
	return func(s *Service) { s.accounts = a }
}

func WithLimits(l Limits) Option {
	return func(s *Service) { s.limits = l }
}

type Service struct {
	repo      Repository
	trigger   StepTrigger
	accounts  AccountLister
	executors map[TaskType]TaskExecutor
	limits    Limits
}

func NewService(repo Repository, trigger StepTrigger, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		trigger:   trigger,
		executors: make(map[TaskType]TaskExecutor),
		limits:    DefaultLimits,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateJob validates the request, seeds one notes task and one task per
// account for each paginated source, and starts the step chain.
func (s *Service) CreateJob(ctx context.Context, req CreateJobRequest) (*Job, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, ErrMissingUser
	}
	if !req.Mode.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, req.Mode)
	}

	sources := req.Sources
	if len(sources) == 0 {
		sources = []TaskType{TaskNotes, TaskEmails, TaskCalendar}
	}
	seen := make(map[TaskType]bool, len(sources))
	var unique []TaskType
	for _, src := range sources {
		if !src.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidSource, src)
		}
		if !seen[src] {
			seen[src] = true
			unique = append(unique, src)
		}
	}

	var tasks []Task
	for _, src := range unique {
		if !src.Paginated() {
			tasks = append(tasks, Task{Type: src, Params: TaskParams{Mode: req.Mode}})
			continue
		}
		accounts, err := s.accountsFor(ctx, req, src)
		if err != nil {
			return nil, err
		}
		for _, acc := range accounts {
			tasks = append(tasks, Task{Type: src, Params: TaskParams{Mode: req.Mode, AccountID: acc}})
		}
	}

	j := &Job{UserID: req.UserID, Mode: req.Mode, Sources: unique, Progress: Progress{}}
	if err := s.repo.CreateJob(ctx, j, tasks); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	slog.InfoContext(ctx, "job created", "job_id", j.ID, "user_id", j.UserID, "mode", j.Mode, "tasks", len(tasks))
	s.chain(middleware.WithJobID(ctx, j.ID), j.ID)
	return j, nil
}

func (s *Service) accountsFor(ctx context.Context, req CreateJobRequest, src TaskType) ([]string, error) {
	if req.AccountID != "" {
		return []string{req.AccountID}, nil
	}
	if s.accounts == nil {
		return nil, nil
	}
	ids, err := s.accounts.ListAccountIDs(ctx, req.UserID, src)
	if err != nil {
		return nil, fmt.Errorf("list %s accounts: %w", src, err)
	}
	return ids, nil
}

// RunOneStep recovers stale tasks, claims and executes at most one task, and
// chains the next step. Task failures are recorded on the task; the only error
// returned is ErrJobNotFound.
func (s *Service) RunOneStep(ctx context.Context, jobID string) (StepResult, error) {
	ctx = middleware.WithJobID(ctx, jobID)
	processing := StepResult{JobID: jobID, Status: StepProcessing}

	j, err := s.repo.GetJob(ctx, jobID)
	if errors.Is(err, ErrJobNotFound) {
		return StepResult{}, err
	}
	if err != nil {
		slog.ErrorContext(ctx, "failed to load job", "error", err)
		return processing, nil
	}
	if j.Status.Terminal() {
		return StepResult{JobID: jobID, Status: StepCompleted}, nil
	}

	recovered, failed, err := s.repo.RecoverStaleTasks(ctx, jobID, s.limits.StaleAfter, s.limits.MaxAttempts)
	if err != nil {
		slog.ErrorContext(ctx, "stale task recovery failed", "error", err)
		return processing, nil
	}
	if recovered > 0 || failed > 0 {
		slog.WarnContext(ctx, "recovered stale tasks", "requeued", recovered, "failed", failed)
	}

	started, err := s.repo.MarkJobRunning(ctx, jobID)
	if err != nil {
		slog.ErrorContext(ctx, "failed to start job", "error", err)
		return processing, nil
	}
	if started {
		slog.InfoContext(ctx, "job started", "fanout", s.limits.FanoutWidth)
		for i := 1; i < s.limits.FanoutWidth; i++ {
			s.chain(ctx, jobID)
		}
	}

	t, err := s.repo.ClaimNextTask(ctx, jobID)
	if errors.Is(err, ErrNoPendingTask) {
		return s.finish(ctx, j), nil
	}
	if err != nil {
		slog.ErrorContext(ctx, "failed to claim task", "error", err)
		return processing, nil
	}

	s.execute(ctx, j, t)
	s.chain(ctx, jobID)

	processing.TaskID = t.ID
	return processing, nil
}

func (s *Service) execute(ctx context.Context, j *Job, t *Task) {
	log := slog.With("task_id", t.ID, "task_type", t.Type, "attempt", t.Attempts, "offset", t.Params.Offset)
	start := time.Now()

	result, err := s.run(ctx, j, t)
	if err != nil {
		terminal := t.Attempts >= s.limits.MaxAttempts || errors.Is(err, ErrPermanent)
		log.WarnContext(ctx, "task failed", "error", err, "terminal", terminal, "duration", time.Since(start))
		if ferr := s.repo.FailTask(ctx, t, err.Error(), terminal); ferr != nil {
			log.ErrorContext(ctx, "failed to record task failure", "error", ferr)
		}
		return
	}

	next := t.Continuation(result)
	if err := s.repo.CompleteTask(ctx, t, result, next); err != nil {
		if errors.Is(err, ErrStaleClaim) {
			log.WarnContext(ctx, "task was reclaimed before completion; result discarded")
			return
		}
		log.ErrorContext(ctx, "failed to complete task", "error", err)
		return
	}
	log.InfoContext(ctx, "task completed",
		"documents", result.Documents, "skipped", result.Skipped, "has_more", result.HasMore, "duration", time.Since(start))

	progress, err := s.repo.RollupProgress(ctx, j.ID)
	if err != nil {
		log.WarnContext(ctx, "progress roll-up failed", "error", err)
		return
	}
	if err := s.repo.UpdateProgress(ctx, j.ID, progress); err != nil {
		log.WarnContext(ctx, "failed to store progress", "error", err)
	}
}

func (s *Service) run(ctx context.Context, j *Job, t *Task) (result TaskResult, err error) {
	exec, ok := s.executors[t.Type]
	if !ok {
		return TaskResult{}, fmt.Errorf("%w: no executor for task type %q", ErrPermanent, t.Type)
	}
	if s.limits.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.limits.TaskTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return exec.Execute(ctx, j, t)
}

// finish finalizes the job once no task is pending or running.
func (s *Service) finish(ctx context.Context, j *Job) StepResult {
	processing := StepResult{JobID: j.ID, Status: StepProcessing}

	counts, err := s.repo.CountTasksByStatus(ctx, j.ID)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count tasks", "error", err)
		return processing
	}
	if counts[StatusPending] > 0 {
		// A continuation landed after the claim attempt.
		s.chain(ctx, j.ID)
		return processing
	}
	if counts[StatusRunning] > 0 {
		return processing
	}

	progress, err := s.repo.RollupProgress(ctx, j.ID)
	if err != nil {
		slog.ErrorContext(ctx, "progress roll-up failed", "error", err)
		return processing
	}
	failed, err := s.repo.ListTasks(ctx, j.ID, StatusFailed)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list failed tasks", "error", err)
		return processing
	}

	done, err := s.repo.FinalizeJob(ctx, j.ID, progress, len(failed), summarizeFailures(failed))
	if err != nil {
		slog.ErrorContext(ctx, "failed to finalize job", "error", err)
		return processing
	}
	if done {
		slog.InfoContext(ctx, "job completed", "failed_tasks", len(failed), "tasks", counts[StatusCompleted]+len(failed))
		return StepResult{JobID: j.ID, Status: StepCompleted}
	}

	current, err := s.repo.GetJob(ctx, j.ID)
	if err == nil && current.Status.Terminal() {
		return StepResult{JobID: j.ID, Status: StepCompleted}
	}
	return processing
}

func summarizeFailures(failed []Task) string {
	if len(failed) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d task(s) failed", len(failed))
	for i, t := range failed {
		if i == maxSummaryErrors {
			fmt.Fprintf(&b, "; and %d more", len(failed)-maxSummaryErrors)
			break
		}
		fmt.Fprintf(&b, "; %s", t.Type)
		if t.Params.AccountID != "" {
			fmt.Fprintf(&b, "[%s]", t.Params.AccountID)
		}
		if t.Type.Paginated() {
			fmt.Fprintf(&b, "@%d", t.Params.Offset)
		}
		fmt.Fprintf(&b, ": %s", t.Error)
	}
	return b.String()
}

// chain triggers one more step, retrying once. A broken chain is left to the
// stale recovery and the periodic sweep.
func (s *Service) chain(ctx context.Context, jobID string) {
	if s.trigger == nil {
		return
	}
	var err error
	for attempt := 1; attempt <= chainAttempts; attempt++ {
		if err = s.trigger.Trigger(ctx, jobID); err == nil {
			return
		}
		slog.WarnContext(ctx, "step trigger failed", "attempt", attempt, "error", err)
	}
	slog.ErrorContext(ctx, "step chain broken, waiting for sweep", "error", err)
}

// Sweep triggers a step for every job that is not yet finished.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	jobs, err := s.repo.ListActiveJobs(ctx)
	if err != nil {
		return 0, err
	}
	for _, j := range jobs {
		s.chain(middleware.WithJobID(ctx, j.ID), j.ID)
	}
	if len(jobs) > 0 {
		slog.InfoContext(ctx, "sweep resumed jobs", "count", len(jobs))
	}
	return len(jobs), nil
}

// Drain runs steps in-process until the job completes. When a step claims
// nothing it waits idle before the next attempt.
func (s *Service) Drain(ctx context.Context, jobID string, idle time.Duration) (StepResult, error) {
	for {
		res, err := s.RunOneStep(ctx, jobID)
		if err != nil || res.Status == StepCompleted {
			return res, err
		}
		if res.TaskID != "" {
			continue
		}
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-time.After(idle):
		}
	}
}

// Get returns the job with a fresh progress roll-up and task counts.
func (s *Service) Get(ctx context.Context, jobID string) (*JobStatus, error) {
	j, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	progress, err := s.repo.RollupProgress(ctx, jobID)
	if err != nil {
		return nil, err
	}
	j.Progress = progress
	counts, err := s.repo.CountTasksByStatus(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return &JobStatus{Job: j, Tasks: counts}, nil
}

func (s *Service) ListTasks(ctx context.Context, jobID string) ([]Task, error) {
	if _, err := s.repo.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	return s.repo.ListTasks(ctx, jobID)
}

// RetryTask resets a failed task and restarts the chain.
func (s *Service) RetryTask(ctx context.Context, jobID, taskID string) error {
	ctx = middleware.WithJobID(ctx, jobID)
	if err := s.repo.ResetTask(ctx, jobID, taskID); err != nil {
		return err
	}
	slog.InfoContext(ctx, "task reset for retry", "task_id", taskID)
	s.chain(ctx, jobID)
	return nil
}
