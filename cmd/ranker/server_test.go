package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/sentiment-ranker/comment-ranker/internal/config"
	"github.com/sentiment-ranker/comment-ranker/internal/models"
	"github.com/sentiment-ranker/comment-ranker/internal/pipeline"
	"github.com/sentiment-ranker/comment-ranker/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockService struct {
	mock.Mock
}

func (m *mockService) GetMetrics() string {
	return m.Called().String(0)
}

func (m *mockService) StoredRuns(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if ids, ok := args.Get(0).([]string); ok {
		return ids, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockService) StoredRun(ctx context.Context, id string) (*models.RunReport, error) {
	args := m.Called(ctx, id)
	if rep, ok := args.Get(0).(*models.RunReport); ok {
		return rep, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockService) DeleteRun(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

type mockTrigger struct {
	mock.Mock
	fired chan struct{}
}

func (m *mockTrigger) Trigger() error {
	args := m.Called()
	close(m.fired)
	return args.Error(0)
}

func (m *mockTrigger) Next() string {
	return m.Called().String(0)
}

func TestRouter(t *testing.T) {
	svc := &mockService{}
	svc.On("GetMetrics").Return(`{"runs": 3}`)

	sched := &mockTrigger{fired: make(chan struct{})}
	sched.On("Next").Return("2024-05-06 09:00:00 UTC")
	sched.On("Trigger").Return(nil)

	router := newRouter(svc, sched)

	t.Run("health", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "healthy", body["status"])
		assert.Equal(t, "2024-05-06 09:00:00 UTC", body["next_run"])
	})

	t.Run("metrics", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"runs": 3}`, rec.Body.String())
	})

	t.Run("trigger requires POST", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/trigger", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})

	t.Run("trigger", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/trigger", nil))
		assert.Equal(t, http.StatusAccepted, rec.Code)

		select {
		case <-sched.fired:
		case <-time.After(5 * time.Second):
			t.Fatal("trigger was not called")
		}
		sched.AssertCalled(t, "Trigger")
	})
}

func TestRouter_Runs(t *testing.T) {
	const (
		id      = "0b8f3c1e-6a4d-4c55-9a0e-3f1d2b7c9e10"
		missing = "5d2a7e90-1c3b-4f6e-8d9a-0e1f2a3b4c5d"
	)
	sched := &mockTrigger{fired: make(chan struct{})}
	sched.On("Next").Return("")

	tests := []struct {
		name     string
		method   string
		path     string
		setup    func(m *mockService)
		expected int
		check    func(t *testing.T, body []byte)
	}{
		{
			name:   "list",
			method: http.MethodGet,
			path:   "/runs",
			setup: func(m *mockService) {
				m.On("StoredRuns", mock.Anything).Return([]string{id}, nil)
			},
			expected: http.StatusOK,
			check: func(t *testing.T, body []byte) {
				var got map[string][]string
				require.NoError(t, json.Unmarshal(body, &got))
				assert.Equal(t, []string{id}, got["runs"])
			},
		},
		{
			name:   "get",
			method: http.MethodGet,
			path:   "/runs/" + id,
			setup: func(m *mockService) {
				m.On("StoredRun", mock.Anything, id).Return(&models.RunReport{RunID: id, Threads: 4}, nil)
			},
			expected: http.StatusOK,
			check: func(t *testing.T, body []byte) {
				var got models.RunReport
				require.NoError(t, json.Unmarshal(body, &got))
				assert.Equal(t, id, got.RunID)
				assert.Equal(t, 4, got.Threads)
			},
		},
		{
			name:   "get unknown run",
			method: http.MethodGet,
			path:   "/runs/" + missing,
			setup: func(m *mockService) {
				m.On("StoredRun", mock.Anything, missing).
					Return(nil, fmt.Errorf("runs/%s.json: %w", missing, storage.ErrNotFound))
			},
			expected: http.StatusNotFound,
		},
		{
			name:   "delete",
			method: http.MethodDelete,
			path:   "/runs/" + id,
			setup: func(m *mockService) {
				m.On("DeleteRun", mock.Anything, id).Return(nil)
			},
			expected: http.StatusNoContent,
		},
		{
			name:   "no storage configured",
			method: http.MethodGet,
			path:   "/runs",
			setup: func(m *mockService) {
				m.On("StoredRuns", mock.Anything).Return(nil, pipeline.ErrNoStorage)
			},
			expected: http.StatusServiceUnavailable,
		},
		{
			name:   "storage failure",
			method: http.MethodDelete,
			path:   "/runs/" + id,
			setup: func(m *mockService) {
				m.On("DeleteRun", mock.Anything, id).Return(fmt.Errorf("connection reset"))
			},
			expected: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockService{}
			tt.setup(svc)
			router := newRouter(svc, sched)

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.expected, rec.Code)
			if tt.check != nil {
				tt.check(t, rec.Body.Bytes())
			}
			svc.AssertExpectations(t)
		})
	}
}

func TestCloseStore(t *testing.T) {
	ctx := context.Background()
	store, err := storage.Open(ctx, storage.Options{
		Kind:       storage.KindSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "runs.db"),
	})
	require.NoError(t, err)
	require.NoError(t, store.Store(ctx, "runs/a.json", []byte(`{}`), "application/json"))

	closeStore(store)

	assert.Error(t, store.Store(ctx, "runs/b.json", []byte(`{}`), "application/json"))

	local, err := storage.Open(ctx, storage.Options{Kind: storage.KindFile, Dir: t.TempDir()})
	require.NoError(t, err)
	assert.NotPanics(t, func() { closeStore(local) })
}

func TestOutputDir(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.Config
		expected string
	}{
		{"next to input", config.Config{Input: "/data/comments.xlsx"}, "/data"},
		{"explicit dir", config.Config{Input: "/data/c.xlsx", OutputDir: "/out"}, "/out"},
		{"output path with dir", config.Config{Input: "/data/c.xlsx", Output: "results/rank.xlsx"}, "results"},
		{"bare output name", config.Config{Input: "/data/c.xlsx", Output: "rank.xlsx"}, "/data"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, outputDir(&tt.cfg))
		})
	}
}
