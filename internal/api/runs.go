package api

import (
	"context"
	"net/http"
	"sort"
	"strconv"

	"github.com/maltedev/materials-scraper/internal/database"
	"github.com/maltedev/materials-scraper/internal/jobs"
	"github.com/maltedev/materials-scraper/internal/models"
)

// RunHistory reads recorded scrape runs. Optional.
type RunHistory interface {
	ListRuns(ctx context.Context, limit int) ([]database.Run, error)
	GetRunStats(ctx context.Context) (*database.RunStats, error)
}

// SchedulerStatus reports the periodic scrape. Optional.
type SchedulerStatus interface {
	Status() jobs.Status
}

type Option func(*Handlers)

func WithRunHistory(runs RunHistory) Option {
	return func(h *Handlers) { h.runs = runs }
}

func WithScheduler(s SchedulerStatus) Option {
	return func(h *Handlers) { h.scheduler = s }
}

type RunsResponse struct {
	Count int            `json:"count"`
	Runs  []database.Run `json:"runs"`
}

// StatsResponse counts the dataset and, when recorded, the run history.
type StatsResponse struct {
	Materials int                `json:"materials"`
	ByType    map[string]int     `json:"by_type"`
	ByBrand   map[string]int     `json:"by_brand"`
	Brands    []string           `json:"brands"`
	Runs      *database.RunStats `json:"runs,omitempty"`
	Scheduler *jobs.Status       `json:"scheduler,omitempty"`
}

// ListRuns handles GET /api/v1/runs?limit=
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		h.respondError(w, http.StatusNotFound, "run history requires a database")
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	runs, err := h.runs.ListRuns(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list runs", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []database.Run{}
	}
	h.respondJSON(w, http.StatusOK, RunsResponse{Count: len(runs), Runs: runs})
}

// LatestRun handles GET /api/v1/runs/latest, the last run of the scheduler
// in this process.
func (h *Handlers) LatestRun(w http.ResponseWriter, r *http.Request) {
	if h.scheduler == nil {
		h.respondError(w, http.StatusNotFound, "scheduled scraping is disabled")
		return
	}
	h.respondJSON(w, http.StatusOK, h.scheduler.Status())
}

// Stats handles GET /api/v1/stats
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	ds, err := h.source.Load()
	if err != nil {
		h.logger.Error("failed to load dataset", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to load dataset")
		return
	}

	stats := datasetStats(ds)
	if h.runs != nil {
		runStats, err := h.runs.GetRunStats(r.Context())
		if err != nil {
			h.logger.Error("failed to read run stats", "error", err)
			h.respondError(w, http.StatusInternalServerError, "failed to read run stats")
			return
		}
		stats.Runs = runStats
	}
	if h.scheduler != nil {
		st := h.scheduler.Status()
		stats.Scheduler = &st
	}

	h.respondJSON(w, http.StatusOK, stats)
}

func datasetStats(ds *models.Dataset) StatsResponse {
	stats := StatsResponse{
		Materials: len(ds.Materials),
		ByType:    map[string]int{},
		ByBrand:   map[string]int{},
		Brands:    []string{},
	}
	for _, m := range ds.Materials {
		stats.ByType[string(m.MaterialType)]++
		if stats.ByBrand[m.Brand] == 0 {
			stats.Brands = append(stats.Brands, m.Brand)
		}
		stats.ByBrand[m.Brand]++
	}
	sort.Strings(stats.Brands)
	return stats
}
