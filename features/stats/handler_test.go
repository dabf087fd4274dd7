package stats

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"recall/backend/features/job"
)

type MockJobRepo struct{ mock.Mock }

func (m *MockJobRepo) CountJobs(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockJobRepo) CountTasks(ctx context.Context, status job.Status) (int, error) {
	args := m.Called(ctx, status)
	return args.Int(0), args.Error(1)
}

type MockDocumentRepo struct{ mock.Mock }

func (m *MockDocumentRepo) CountLive(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type MockVectorStore struct{ mock.Mock }

func (m *MockVectorStore) CountVectors(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func okTasks(j *MockJobRepo) {
	j.On("CountTasks", mock.Anything, job.StatusPending).Return(4, nil)
	j.On("CountTasks", mock.Anything, job.StatusRunning).Return(2, nil)
	j.On("CountTasks", mock.Anything, job.StatusFailed).Return(1, nil)
}

func TestHandler_GetStats_Table(t *testing.T) {
	tests := []struct {
		name       string
		setupMocks func(*MockJobRepo, *MockDocumentRepo, *MockVectorStore)
		wantStatus int
		wantError  bool
		checkBody  func(*testing.T, map[string]interface{})
	}{
		{
			name: "Success",
			setupMocks: func(j *MockJobRepo, d *MockDocumentRepo, v *MockVectorStore) {
				j.On("CountJobs", mock.Anything).Return(5, nil)
				okTasks(j)
				d.On("CountLive", mock.Anything).Return(120, nil)
				v.On("CountVectors", mock.Anything).Return(118, nil)
			},
			wantStatus: http.StatusOK,
			wantError:  false,
			checkBody: func(t *testing.T, body map[string]interface{}) {
				data := body["data"].(map[string]interface{})
				assert.EqualValues(t, 5, data["jobs"])
				assert.EqualValues(t, 4, data["pending_tasks"])
				assert.EqualValues(t, 2, data["running_tasks"])
				assert.EqualValues(t, 1, data["failed_tasks"])
				assert.EqualValues(t, 120, data["documents"])
				assert.EqualValues(t, 118, data["embeddings"])
			},
		},
		{
			name: "JobRepo Error",
			setupMocks: func(j *MockJobRepo, d *MockDocumentRepo, v *MockVectorStore) {
				j.On("CountJobs", mock.Anything).Return(0, errors.New("db error"))
			},
			wantStatus: http.StatusInternalServerError,
			wantError:  true,
		},
		{
			name: "Task Count Error",
			setupMocks: func(j *MockJobRepo, d *MockDocumentRepo, v *MockVectorStore) {
				j.On("CountJobs", mock.Anything).Return(5, nil)
				j.On("CountTasks", mock.Anything, mock.Anything).Return(0, errors.New("db error"))
			},
			wantStatus: http.StatusInternalServerError,
			wantError:  true,
		},
		{
			name: "DocumentRepo Error",
			setupMocks: func(j *MockJobRepo, d *MockDocumentRepo, v *MockVectorStore) {
				j.On("CountJobs", mock.Anything).Return(5, nil)
				okTasks(j)
				d.On("CountLive", mock.Anything).Return(0, errors.New("db error"))
			},
			wantStatus: http.StatusInternalServerError,
			wantError:  true,
		},
		{
			name: "VectorStore Error",
			setupMocks: func(j *MockJobRepo, d *MockDocumentRepo, v *MockVectorStore) {
				j.On("CountJobs", mock.Anything).Return(5, nil)
				okTasks(j)
				d.On("CountLive", mock.Anything).Return(120, nil)
				v.On("CountVectors", mock.Anything).Return(0, errors.New("weaviate error"))
			},
			wantStatus: http.StatusInternalServerError,
			wantError:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mJob := new(MockJobRepo)
			mDoc := new(MockDocumentRepo)
			mVector := new(MockVectorStore)

			tt.setupMocks(mJob, mDoc, mVector)

			h := NewHandler(mJob, mDoc, mVector)
			req := httptest.NewRequest("GET", "/stats", nil)
			w := httptest.NewRecorder()

			h.GetStats(w, req)

			resp := w.Result()
			assert.Equal(t, tt.wantStatus, resp.StatusCode)

			var body map[string]interface{}
			err := json.NewDecoder(resp.Body).Decode(&body)
			assert.NoError(t, err)

			if tt.wantError {
				assert.Contains(t, body, "error")
				errMap := body["error"].(map[string]interface{})
				assert.Equal(t, "INTERNAL_ERROR", errMap["code"])
			} else {
				tt.checkBody(t, body)
			}
		})
	}
}
