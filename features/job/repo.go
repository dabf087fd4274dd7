package job

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

type Repository interface {
	CreateJob(ctx context.Context, j *Job, tasks []Task) error
	GetJob(ctx context.Context, id string) (*Job, error)
	// MarkJobRunning moves a pending job to running and reports whether this call did it.
	MarkJobRunning(ctx context.Context, id string) (bool, error)
	RecoverStaleTasks(ctx context.Context, jobID string, staleAfter time.Duration, maxAttempts int) (recovered, failed int, err error)
	ClaimNextTask(ctx context.Context, jobID string) (*Task, error)
	CompleteTask(ctx context.Context, t *Task, result TaskResult, next *Task) error
	FailTask(ctx context.Context, t *Task, message string, terminal bool) error
	CountTasksByStatus(ctx context.Context, jobID string) (StatusCounts, error)
	RollupProgress(ctx context.Context, jobID string) (Progress, error)
	UpdateProgress(ctx context.Context, jobID string, p Progress) error
	FinalizeJob(ctx context.Context, jobID string, p Progress, failedTasks int, summary string) (bool, error)
	ListActiveJobs(ctx context.Context) ([]Job, error)
	ListTasks(ctx context.Context, jobID string, statuses ...Status) ([]Task, error)
	ResetTask(ctx context.Context, jobID, taskID string) error
	CountJobs(ctx context.Context) (int, error)
	CountTasks(ctx context.Context, status Status) (int, error)
}

const (
	jobColumns  = `id, user_id, mode, sources, status, progress, failed_tasks, error_summary, created_at, started_at, completed_at, updated_at`
	taskColumns = `id, job_id, task_type, params, status, attempts, result, error, created_at, started_at, completed_at`
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

// CreateJob inserts the job and its seed tasks in one transaction. Tasks are
// inserted in slice order, which is also their claim order.
func (r *PostgresRepo) CreateJob(ctx context.Context, j *Job, tasks []Task) error {
	progress, err := json.Marshal(j.Progress)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	query := `INSERT INTO index_jobs (user_id, mode, sources, progress) VALUES ($1, $2, $3, $4) RETURNING id, status, created_at, updated_at`
	if err := tx.QueryRowContext(ctx, query, j.UserID, string(j.Mode), pq.Array(typeStrings(j.Sources)), progress).
		Scan(&j.ID, &j.Status, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}

	for i := range tasks {
		tasks[i].JobID = j.ID
		if err := insertTask(ctx, tx, &tasks[i]); err != nil {
			return fmt.Errorf("insert seed task: %w", err)
		}
	}

	return tx.Commit()
}

func insertTask(ctx context.Context, tx *sql.Tx, t *Task) error {
	params, err := json.Marshal(t.Params)
	if err != nil {
		return err
	}
	query := `INSERT INTO index_tasks (job_id, task_type, params) VALUES ($1, $2, $3) RETURNING id, status, created_at`
	return tx.QueryRowContext(ctx, query, t.JobID, string(t.Type), params).Scan(&t.ID, &t.Status, &t.CreatedAt)
}

func (r *PostgresRepo) GetJob(ctx context.Context, id string) (*Job, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrJobNotFound
	}
	query := `SELECT ` + jobColumns + ` FROM index_jobs WHERE id = $1`
	j, err := scanJob(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return j, nil
}

func (r *PostgresRepo) MarkJobRunning(ctx context.Context, id string) (bool, error) {
	query := `UPDATE index_jobs SET status = 'running', started_at = NOW(), updated_at = NOW() WHERE id = $1 AND status = 'pending'`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// RecoverStaleTasks returns running tasks whose claim is older than staleAfter
// to pending, or fails them once their attempts are spent.
func (r *PostgresRepo) RecoverStaleTasks(ctx context.Context, jobID string, staleAfter time.Duration, maxAttempts int) (int, int, error) {
	query := `
		UPDATE index_tasks
		SET status = CASE WHEN attempts < $3 THEN 'pending' ELSE 'failed' END,
			error = CASE WHEN attempts < $3 THEN error ELSE 'task timed out after ' || attempts || ' attempts' END,
			completed_at = CASE WHEN attempts < $3 THEN NULL ELSE NOW() END
		WHERE job_id = $1 AND status = 'running' AND started_at < NOW() - make_interval(secs => $2)
		RETURNING status
	`
	rows, err := r.db.QueryContext(ctx, query, jobID, staleAfter.Seconds(), maxAttempts)
	if err != nil {
		return 0, 0, err
	}
	defer rows.Close()

	var recovered, failed int
	for rows.Next() {
		var status Status
		if err := rows.Scan(&status); err != nil {
			return 0, 0, err
		}
		if status == StatusFailed {
			failed++
		} else {
			recovered++
		}
	}
	return recovered, failed, rows.Err()
}

// ClaimNextTask atomically moves the oldest pending task of the job to
// running. Concurrent claimers skip rows locked by each other, and the outer
// status check makes the transition conditional on the row still being pending.
func (r *PostgresRepo) ClaimNextTask(ctx context.Context, jobID string) (*Task, error) {
	query := `
		UPDATE index_tasks
		SET status = 'running', attempts = attempts + 1, started_at = NOW()
		WHERE id = (
			SELECT id FROM index_tasks
			WHERE job_id = $1 AND status = 'pending'
			ORDER BY created_at, id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		) AND status = 'pending'
		RETURNING ` + taskColumns
	t, err := scanTask(r.db.QueryRowContext(ctx, query, jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoPendingTask
	}
	return t, err
}

// CompleteTask records the result and inserts the continuation task, if any,
// in the same transaction. The update is fenced on the claim's attempt number.
func (r *PostgresRepo) CompleteTask(ctx context.Context, t *Task, result TaskResult, next *Task) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	query := `UPDATE index_tasks SET status = 'completed', result = $3, error = '', completed_at = NOW() WHERE id = $1 AND status = 'running' AND attempts = $2`
	res, err := tx.ExecContext(ctx, query, t.ID, t.Attempts, payload)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrStaleClaim
	}

	if next != nil {
		next.JobID = t.JobID
		if err := insertTask(ctx, tx, next); err != nil {
			return fmt.Errorf("insert continuation: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	t.Status = StatusCompleted
	t.Result = &result
	return nil
}

func (r *PostgresRepo) FailTask(ctx context.Context, t *Task, message string, terminal bool) error {
	status := StatusPending
	if terminal {
		status = StatusFailed
	}
	query := `UPDATE index_tasks SET status = $3, error = $4, completed_at = CASE WHEN $3 = 'failed' THEN NOW() END WHERE id = $1 AND status = 'running' AND attempts = $2`
	res, err := r.db.ExecContext(ctx, query, t.ID, t.Attempts, string(status), message)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStaleClaim
	}
	t.Status = status
	t.Error = message
	return nil
}

func (r *PostgresRepo) CountTasksByStatus(ctx context.Context, jobID string) (StatusCounts, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM index_tasks WHERE job_id = $1 GROUP BY status`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := StatusCounts{}
	for rows.Next() {
		var status Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// RollupProgress aggregates the results of every completed task of the job.
func (r *PostgresRepo) RollupProgress(ctx context.Context, jobID string) (Progress, error) {
	query := `
		SELECT task_type, COUNT(*),
			COALESCE(SUM((result->>'documents')::int), 0),
			COALESCE(SUM((result->>'chunks')::int), 0),
			COALESCE(SUM((result->>'embeddings')::int), 0),
			COALESCE(SUM((result->>'skipped')::int), 0),
			COALESCE(SUM((result->>'empty')::int), 0),
			COALESCE(SUM((result->>'sources')::int), 0)
		FROM index_tasks
		WHERE job_id = $1 AND status = 'completed'
		GROUP BY task_type
	`
	rows, err := r.db.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	progress := Progress{}
	for rows.Next() {
		var tt TaskType
		var p SourceProgress
		if err := rows.Scan(&tt, &p.Tasks, &p.Documents, &p.Chunks, &p.Embeddings, &p.Skipped, &p.Empty, &p.Sources); err != nil {
			return nil, err
		}
		progress[tt] = p
	}
	return progress, rows.Err()
}

func (r *PostgresRepo) UpdateProgress(ctx context.Context, jobID string, p Progress) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}
	query := `UPDATE index_jobs SET progress = $2, updated_at = NOW() WHERE id = $1 AND status IN ('pending', 'running')`
	_, err = r.db.ExecContext(ctx, query, jobID, payload)
	return err
}

// FinalizeJob marks the job completed unless it already is or it still has
// unfinished tasks. It reports whether this call finalized the job.
func (r *PostgresRepo) FinalizeJob(ctx context.Context, jobID string, p Progress, failedTasks int, summary string) (bool, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return false, err
	}
	query := `
		UPDATE index_jobs
		SET status = 'completed', progress = $2, failed_tasks = $3, error_summary = $4, completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'running')
			AND NOT EXISTS (SELECT 1 FROM index_tasks WHERE job_id = $1 AND status IN ('pending', 'running'))
	`
	res, err := r.db.ExecContext(ctx, query, jobID, payload, failedTasks, summary)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *PostgresRepo) ListActiveJobs(ctx context.Context) ([]Job, error) {
	query := `SELECT ` + jobColumns + ` FROM index_jobs WHERE status IN ('pending', 'running') ORDER BY created_at`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

// ListTasks returns the job's tasks in claim order, optionally limited to the given statuses.
func (r *PostgresRepo) ListTasks(ctx context.Context, jobID string, statuses ...Status) ([]Task, error) {
	query := `SELECT ` + taskColumns + ` FROM index_tasks WHERE job_id = $1 AND (cardinality($2::text[]) = 0 OR status = ANY($2::text[])) ORDER BY created_at, id`
	filter := make([]string, len(statuses))
	for i, s := range statuses {
		filter[i] = string(s)
	}
	rows, err := r.db.QueryContext(ctx, query, jobID, pq.Array(filter))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// ResetTask puts a failed task back in the queue with a fresh attempt budget
// and reopens its job if the job had already been finalized.
func (r *PostgresRepo) ResetTask(ctx context.Context, jobID, taskID string) error {
	if _, err := uuid.Parse(taskID); err != nil {
		return ErrTaskNotFound
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var status Status
	err = tx.QueryRowContext(ctx, `SELECT status FROM index_tasks WHERE id = $1 AND job_id = $2 FOR UPDATE`, taskID, jobID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrTaskNotFound
	}
	if err != nil {
		return err
	}
	if status != StatusFailed {
		return ErrTaskNotRetryable
	}

	if _, err := tx.ExecContext(ctx, `UPDATE index_tasks SET status = 'pending', attempts = 0, error = '', result = NULL, started_at = NULL, completed_at = NULL WHERE id = $1`, taskID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE index_jobs SET status = 'running', completed_at = NULL, updated_at = NOW() WHERE id = $1 AND status IN ('completed', 'failed')`, jobID); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *PostgresRepo) CountJobs(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM index_jobs`).Scan(&count)
	return count, err
}

func (r *PostgresRepo) CountTasks(ctx context.Context, status Status) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM index_tasks WHERE status = $1`, string(status)).Scan(&count)
	return count, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(s rowScanner) (*Job, error) {
	var (
		j         Job
		sources   []string
		progress  []byte
		started   sql.NullTime
		completed sql.NullTime
	)
	if err := s.Scan(&j.ID, &j.UserID, &j.Mode, pq.Array(&sources), &j.Status, &progress, &j.FailedTasks,
		&j.ErrorSummary, &j.CreatedAt, &started, &completed, &j.UpdatedAt); err != nil {
		return nil, err
	}
	for _, src := range sources {
		j.Sources = append(j.Sources, TaskType(src))
	}
	j.Progress = Progress{}
	if len(progress) > 0 {
		if err := json.Unmarshal(progress, &j.Progress); err != nil {
			return nil, fmt.Errorf("decode progress: %w", err)
		}
	}
	j.StartedAt = nullTime(started)
	j.CompletedAt = nullTime(completed)
	return &j, nil
}

func scanTask(s rowScanner) (*Task, error) {
	var (
		t         Task
		params    []byte
		result    []byte
		started   sql.NullTime
		completed sql.NullTime
	)
	if err := s.Scan(&t.ID, &t.JobID, &t.Type, &params, &t.Status, &t.Attempts, &result, &t.Error,
		&t.CreatedAt, &started, &completed); err != nil {
		return nil, err
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &t.Params); err != nil {
			return nil, fmt.Errorf("decode params: %w", err)
		}
	}
	if len(result) > 0 {
		var res TaskResult
		if err := json.Unmarshal(result, &res); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
		t.Result = &res
	}
	t.StartedAt = nullTime(started)
	t.CompletedAt = nullTime(completed)
	return &t, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func typeStrings(types []TaskType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}
