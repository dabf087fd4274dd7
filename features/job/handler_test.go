package job

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMux(svc *Service) *http.ServeMux {
	h := NewHandler(svc)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /jobs", h.Create)
	mux.HandleFunc("POST /step", h.Step)
	mux.HandleFunc("POST /jobs/{id}/step", h.Step)
	mux.HandleFunc("GET /jobs/{id}", h.Get)
	mux.HandleFunc("GET /jobs/{id}/tasks", h.ListTasks)
	mux.HandleFunc("POST /jobs/{id}/tasks/{taskId}/retry", h.RetryTask)
	return mux
}

func do(t *testing.T, mux http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func TestHandler_CreateAndStep(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, nil, allExecutors(okExec())...)
	mux := newTestMux(svc)

	w := do(t, mux, http.MethodPost, "/jobs", `{"userId":"user-1","mode":"full","sources":["notes"]}`)
	require.Equal(t, http.StatusCreated, w.Code)

	var created struct {
		Data struct {
			JobID string `json:"jobId"`
			Job   Job    `json:"job"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&created))
	require.NotEmpty(t, created.Data.JobID)
	assert.Equal(t, ModeFull, created.Data.Job.Mode)

	w = do(t, mux, http.MethodPost, "/jobs/"+created.Data.JobID+"/step", "")
	require.Equal(t, http.StatusOK, w.Code)
	var step struct {
		Data StepResult `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&step))
	assert.Equal(t, StepProcessing, step.Data.Status)
	assert.NotEmpty(t, step.Data.TaskID)

	w = do(t, mux, http.MethodPost, "/step", `{"jobId":"`+created.Data.JobID+`"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&step))
	assert.Equal(t, StepCompleted, step.Data.Status)
	assert.Equal(t, created.Data.JobID, step.Data.JobID)
}

func TestHandler_CreateValidation(t *testing.T) {
	mux := newTestMux(NewService(newMemRepo(), nil))

	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{`},
		{"missing user", `{"mode":"full"}`},
		{"bad mode", `{"userId":"u","mode":"sometimes"}`},
		{"bad source", `{"userId":"u","mode":"full","sources":["fax"]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, mux, http.MethodPost, "/jobs", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)

			var resp map[string]interface{}
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.Equal(t, "VALIDATION_ERROR", resp["error"].(map[string]interface{})["code"])
		})
	}
}

func TestHandler_StepUnknownJob(t *testing.T) {
	mux := newTestMux(NewService(newMemRepo(), nil))

	w := do(t, mux, http.MethodPost, "/jobs/nope/step", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, mux, http.MethodPost, "/step", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_GetAndListTasks(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, nil, allExecutors(okExec())...)
	mux := newTestMux(svc)

	j, err := svc.CreateJob(context.Background(), CreateJobRequest{UserID: "u", Mode: ModeIncremental, Sources: []TaskType{TaskNotes}})
	require.NoError(t, err)

	w := do(t, mux, http.MethodGet, "/jobs/"+j.ID, "")
	require.Equal(t, http.StatusOK, w.Code)
	var got struct {
		Data struct {
			ID     string       `json:"id"`
			Status Status       `json:"status"`
			Tasks  StatusCounts `json:"tasks"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.Equal(t, j.ID, got.Data.ID)
	assert.Equal(t, StatusPending, got.Data.Status)
	assert.Equal(t, 1, got.Data.Tasks[StatusPending])

	w = do(t, mux, http.MethodGet, "/jobs/"+j.ID+"/tasks", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Data []Task         `json:"data"`
		Meta map[string]int `json:"meta"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&list))
	assert.Equal(t, 1, list.Meta["count"])
	assert.Equal(t, TaskNotes, list.Data[0].Type)

	w = do(t, mux, http.MethodGet, "/jobs/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = do(t, mux, http.MethodGet, "/jobs/missing/tasks", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_RetryTask(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, nil)
	mux := newTestMux(svc)

	j, err := svc.CreateJob(context.Background(), CreateJobRequest{UserID: "u", Mode: ModeFull, Sources: []TaskType{TaskNotes}})
	require.NoError(t, err)
	tasks, err := repo.ListTasks(context.Background(), j.ID)
	require.NoError(t, err)

	w := do(t, mux, http.MethodPost, "/jobs/"+j.ID+"/tasks/"+tasks[0].ID+"/retry", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	drain(t, svc, j.ID)

	w = do(t, mux, http.MethodPost, "/jobs/"+j.ID+"/tasks/"+tasks[0].ID+"/retry", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, mux, http.MethodPost, "/jobs/"+j.ID+"/tasks/unknown/retry", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_StepSurvivesCallerTimeout(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, nil,
		WithLimits(Limits{StaleAfter: time.Minute, MaxAttempts: 3, FanoutWidth: 1, TaskTimeout: time.Second}),
		WithExecutor(TaskNotes, execFunc(func(ctx context.Context, _ *Job, _ *Task) (TaskResult, error) {
			select {
			case <-ctx.Done():
				return TaskResult{}, ctx.Err()
			case <-time.After(100 * time.Millisecond):
				return TaskResult{Documents: 1, Sources: 1}, nil
			}
		})))
	mux := newTestMux(svc)

	j, err := svc.CreateJob(context.Background(), CreateJobRequest{UserID: "u", Mode: ModeFull, Sources: []TaskType{TaskNotes}})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodPost, "/jobs/"+j.ID+"/step", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	tasks, err := repo.ListTasks(context.Background(), j.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, StatusCompleted, tasks[0].Status)
	assert.Empty(t, tasks[0].Error)
}
