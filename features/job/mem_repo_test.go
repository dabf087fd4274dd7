package job

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// memRepo is an in-memory Repository with the same conditional-update
// semantics as the Postgres queue.
type memRepo struct {
	mu    sync.Mutex
	now   time.Time
	seq   int
	jobs  map[string]*Job
	tasks []*Task
}

func newMemRepo() *memRepo {
	return &memRepo{
		now:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		jobs: make(map[string]*Job),
	}
}

func (m *memRepo) advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

func (m *memRepo) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func (m *memRepo) insertTask(t *Task) {
	t.ID = m.nextID("task")
	t.Status = StatusPending
	t.CreatedAt = m.now.Add(time.Duration(m.seq) * time.Microsecond)
	cp := *t
	m.tasks = append(m.tasks, &cp)
}

func (m *memRepo) CreateJob(_ context.Context, j *Job, tasks []Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j.ID = m.nextID("job")
	j.Status = StatusPending
	j.CreatedAt = m.now
	j.UpdatedAt = m.now
	cp := *j
	m.jobs[j.ID] = &cp
	for i := range tasks {
		tasks[i].JobID = j.ID
		m.insertTask(&tasks[i])
	}
	return nil
}

func (m *memRepo) GetJob(_ context.Context, id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *memRepo) MarkJobRunning(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.Status != StatusPending {
		return false, nil
	}
	j.Status = StatusRunning
	now := m.now
	j.StartedAt = &now
	return true, nil
}

func (m *memRepo) RecoverStaleTasks(_ context.Context, jobID string, staleAfter time.Duration, maxAttempts int) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var recovered, failed int
	for _, t := range m.tasks {
		if t.JobID != jobID || t.Status != StatusRunning || t.StartedAt == nil || !t.StartedAt.Before(m.now.Add(-staleAfter)) {
			continue
		}
		if t.Attempts < maxAttempts {
			t.Status = StatusPending
			recovered++
			continue
		}
		t.Status = StatusFailed
		t.Error = fmt.Sprintf("task timed out after %d attempts", t.Attempts)
		failed++
	}
	return recovered, failed, nil
}

func (m *memRepo) ClaimNextTask(_ context.Context, jobID string) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tasks {
		if t.JobID == jobID && t.Status == StatusPending {
			t.Status = StatusRunning
			t.Attempts++
			now := m.now
			t.StartedAt = &now
			cp := *t
			return &cp, nil
		}
	}
	return nil, ErrNoPendingTask
}

func (m *memRepo) find(id string) *Task {
	for _, t := range m.tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func (m *memRepo) CompleteTask(_ context.Context, t *Task, result TaskResult, next *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := m.find(t.ID)
	if stored == nil || stored.Status != StatusRunning || stored.Attempts != t.Attempts {
		return ErrStaleClaim
	}
	stored.Status = StatusCompleted
	stored.Error = ""
	res := result
	stored.Result = &res
	if next != nil {
		next.JobID = t.JobID
		m.insertTask(next)
	}
	t.Status = StatusCompleted
	t.Result = &res
	return nil
}

func (m *memRepo) FailTask(_ context.Context, t *Task, message string, terminal bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := m.find(t.ID)
	if stored == nil || stored.Status != StatusRunning || stored.Attempts != t.Attempts {
		return ErrStaleClaim
	}
	stored.Status = StatusPending
	if terminal {
		stored.Status = StatusFailed
	}
	stored.Error = message
	t.Status = stored.Status
	t.Error = message
	return nil
}

func (m *memRepo) CountTasksByStatus(_ context.Context, jobID string) (StatusCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := StatusCounts{}
	for _, t := range m.tasks {
		if t.JobID == jobID {
			counts[t.Status]++
		}
	}
	return counts, nil
}

func (m *memRepo) RollupProgress(_ context.Context, jobID string) (Progress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := Progress{}
	for _, t := range m.tasks {
		if t.JobID != jobID || t.Status != StatusCompleted || t.Result == nil {
			continue
		}
		sp := p[t.Type]
		sp.Add(*t.Result)
		p[t.Type] = sp
	}
	return p, nil
}

func (m *memRepo) UpdateProgress(_ context.Context, jobID string, p Progress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[jobID]; ok && !j.Status.Terminal() {
		j.Progress = p
	}
	return nil
}

func (m *memRepo) FinalizeJob(_ context.Context, jobID string, p Progress, failedTasks int, summary string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok || j.Status.Terminal() {
		return false, nil
	}
	for _, t := range m.tasks {
		if t.JobID == jobID && (t.Status == StatusPending || t.Status == StatusRunning) {
			return false, nil
		}
	}
	j.Status = StatusCompleted
	j.Progress = p
	j.FailedTasks = failedTasks
	j.ErrorSummary = summary
	now := m.now
	j.CompletedAt = &now
	return true, nil
}

func (m *memRepo) ListActiveJobs(_ context.Context) ([]Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Job
	for _, j := range m.jobs {
		if !j.Status.Terminal() {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (m *memRepo) ListTasks(_ context.Context, jobID string, statuses ...Status) ([]Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Task
	for _, t := range m.tasks {
		if t.JobID != jobID {
			continue
		}
		if len(statuses) > 0 && !containsStatus(statuses, t.Status) {
			continue
		}
		out = append(out, *t)
	}
	return out, nil
}

func containsStatus(list []Status, s Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (m *memRepo) ResetTask(_ context.Context, jobID, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.find(taskID)
	if t == nil || t.JobID != jobID {
		return ErrTaskNotFound
	}
	if t.Status != StatusFailed {
		return ErrTaskNotRetryable
	}
	t.Status = StatusPending
	t.Attempts = 0
	t.Error = ""
	t.Result = nil
	if j := m.jobs[jobID]; j.Status.Terminal() {
		j.Status = StatusRunning
		j.CompletedAt = nil
	}
	return nil
}

func (m *memRepo) CountJobs(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs), nil
}

func (m *memRepo) CountTasks(_ context.Context, status Status) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tasks {
		if t.Status == status {
			n++
		}
	}
	return n, nil
}
