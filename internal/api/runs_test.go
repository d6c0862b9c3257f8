package api

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/materials-scraper/internal/database"
	"github.com/maltedev/materials-scraper/internal/jobs"
	"github.com/maltedev/materials-scraper/internal/pipeline"
)

type mockRunHistory struct{ mock.Mock }

func (m *mockRunHistory) ListRuns(ctx context.Context, limit int) ([]database.Run, error) {
	args := m.Called(ctx, limit)
	runs, _ := args.Get(0).([]database.Run)
	return runs, args.Error(1)
}

func (m *mockRunHistory) GetRunStats(ctx context.Context) (*database.RunStats, error) {
	args := m.Called(ctx)
	stats, _ := args.Get(0).(*database.RunStats)
	return stats, args.Error(1)
}

type fakeScheduler struct{ status jobs.Status }

func (f fakeScheduler) Status() jobs.Status { return f.status }

func TestListRuns(t *testing.T) {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		target     string
		setup      func(m *mockRunHistory)
		wantStatus int
		wantCount  float64
	}{
		{"default limit", "/api/v1/runs", func(m *mockRunHistory) {
			m.On("ListRuns", mock.Anything, 20).Return([]database.Run{
				{Status: database.RunStatusCompleted, StartedAt: started, Scraped: 12},
			}, nil)
		}, http.StatusOK, 1},
		{"explicit limit", "/api/v1/runs?limit=5", func(m *mockRunHistory) {
			m.On("ListRuns", mock.Anything, 5).Return(nil, nil)
		}, http.StatusOK, 0},
		{"bad limit", "/api/v1/runs?limit=zero", func(m *mockRunHistory) {}, http.StatusBadRequest, 0},
		{"database error", "/api/v1/runs", func(m *mockRunHistory) {
			m.On("ListRuns", mock.Anything, 20).Return(nil, errors.New("connection refused"))
		}, http.StatusInternalServerError, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			history := &mockRunHistory{}
			tt.setup(history)
			router := NewRouter(NewHandlers(seedStore(t), nil, quietLogger(), WithRunHistory(history)), RouterConfig{})

			rec, body := serve(t, router, tt.target)
			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, tt.wantCount, body["count"])
			}
			history.AssertExpectations(t)
		})
	}
}

func TestRunEndpointsWithoutBackends(t *testing.T) {
	router := NewRouter(NewHandlers(seedStore(t), nil, quietLogger()), RouterConfig{})

	rec, _ := serve(t, router, "/api/v1/runs")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = serve(t, router, "/api/v1/runs/latest")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLatestRun(t *testing.T) {
	sched := fakeScheduler{status: jobs.Status{
		Interval: "6h0m0s",
		Runs:     3,
		LastRun:  &pipeline.Summary{DatasetSize: 42},
	}}
	router := NewRouter(NewHandlers(seedStore(t), nil, quietLogger(), WithScheduler(sched)), RouterConfig{})

	rec, body := serve(t, router, "/api/v1/runs/latest")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "6h0m0s", body["interval"])
	assert.Equal(t, 3.0, body["runs"])
	require.Contains(t, body, "last_run")
}

func TestStats(t *testing.T) {
	t.Run("dataset only", func(t *testing.T) {
		router := NewRouter(NewHandlers(seedStore(t), nil, quietLogger()), RouterConfig{})

		rec, body := serve(t, router, "/api/v1/stats")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 3.0, body["materials"])
		assert.Equal(t, map[string]any{"resin": 2.0, "filament": 1.0}, body["by_type"])
		assert.Equal(t, map[string]any{"Acme": 2.0, "Spool Co": 1.0}, body["by_brand"])
		assert.Equal(t, []any{"Acme", "Spool Co"}, body["brands"])
		assert.NotContains(t, body, "runs")
		assert.NotContains(t, body, "scheduler")
	})

	t.Run("with run history", func(t *testing.T) {
		history := &mockRunHistory{}
		history.On("GetRunStats", mock.Anything).Return(&database.RunStats{TotalRuns: 4, CompletedRuns: 3, SuccessRate: 75}, nil)
		router := NewRouter(NewHandlers(seedStore(t), nil, quietLogger(),
			WithRunHistory(history), WithScheduler(fakeScheduler{status: jobs.Status{Interval: "1h0m0s"}})), RouterConfig{})

		rec, body := serve(t, router, "/api/v1/stats")
		require.Equal(t, http.StatusOK, rec.Code)
		runs, ok := body["runs"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, 4.0, runs["total_runs"])
		assert.Equal(t, 75.0, runs["success_rate"])
		assert.Contains(t, body, "scheduler")
	})

	t.Run("run stats unavailable", func(t *testing.T) {
		history := &mockRunHistory{}
		history.On("GetRunStats", mock.Anything).Return(nil, errors.New("timeout"))
		router := NewRouter(NewHandlers(seedStore(t), nil, quietLogger(), WithRunHistory(history)), RouterConfig{})

		rec, _ := serve(t, router, "/api/v1/stats")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}
