package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	RunStatusCompleted = "completed"
	RunStatusCancelled = "cancelled"
	RunStatusFailed    = "failed"
)

const runsSchema = `
CREATE TABLE IF NOT EXISTS scrape_runs (
	id            UUID PRIMARY KEY,
	status        TEXT NOT NULL,
	dry_run       BOOLEAN NOT NULL DEFAULT FALSE,
	started_at    TIMESTAMPTZ NOT NULL,
	completed_at  TIMESTAMPTZ NOT NULL,
	brands        INT NOT NULL DEFAULT 0,
	failed_brands INT NOT NULL DEFAULT 0,
	scraped       INT NOT NULL DEFAULT 0,
	skipped       INT NOT NULL DEFAULT 0,
	warnings      INT NOT NULL DEFAULT 0,
	added         INT NOT NULL DEFAULT 0,
	updated       INT NOT NULL DEFAULT 0,
	error         TEXT NOT NULL DEFAULT '',
	summary       JSONB
);
CREATE INDEX IF NOT EXISTS scrape_runs_started_idx ON scrape_runs (started_at DESC);`

// Run is one row of the scrape history.
type Run struct {
	ID           uuid.UUID       `json:"id"`
	Status       string          `json:"status"`
	DryRun       bool            `json:"dry_run"`
	StartedAt    time.Time       `json:"started_at"`
	CompletedAt  time.Time       `json:"completed_at"`
	Brands       int             `json:"brands"`
	FailedBrands int             `json:"failed_brands"`
	Scraped      int             `json:"scraped"`
	Skipped      int             `json:"skipped"`
	Warnings     int             `json:"warnings"`
	Added        int             `json:"added"`
	Updated      int             `json:"updated"`
	Error        string          `json:"error,omitempty"`
	Summary      json.RawMessage `json:"summary,omitempty"`
}

// RunStats aggregates the scrape history.
type RunStats struct {
	TotalRuns       int        `json:"total_runs"`
	CompletedRuns   int        `json:"completed_runs"`
	CancelledRuns   int        `json:"cancelled_runs"`
	FailedRuns      int        `json:"failed_runs"`
	SuccessRate     float64    `json:"success_rate"`
	LastCompletedAt *time.Time `json:"last_completed_at,omitempty"`
	MirroredRecords int        `json:"mirrored_records"`
}

// RecordRun appends a run to the history.
func (db *DB) RecordRun(ctx context.Context, run Run) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}

	query := `
		INSERT INTO scrape_runs
		(id, status, dry_run, started_at, completed_at, brands, failed_brands,
		 scraped, skipped, warnings, added, updated, error, summary)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := db.pool.Exec(ctx, query,
		run.ID, run.Status, run.DryRun, run.StartedAt, run.CompletedAt,
		run.Brands, run.FailedBrands, run.Scraped, run.Skipped, run.Warnings,
		run.Added, run.Updated, run.Error, []byte(run.Summary))
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs first, without their summaries.
func (db *DB) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	query := `
		SELECT id, status, dry_run, started_at, completed_at, brands, failed_brands,
		       scraped, skipped, warnings, added, updated, error
		FROM scrape_runs
		ORDER BY started_at DESC
		LIMIT $1`

	rows, err := db.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var r Run
		err := rows.Scan(
			&r.ID, &r.Status, &r.DryRun, &r.StartedAt, &r.CompletedAt,
			&r.Brands, &r.FailedBrands, &r.Scraped, &r.Skipped, &r.Warnings,
			&r.Added, &r.Updated, &r.Error,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return runs, nil
}

// GetRunStats summarizes the scrape history and the mirror size.
func (db *DB) GetRunStats(ctx context.Context) (*RunStats, error) {
	stats := &RunStats{}

	query := `
		SELECT
			COUNT(*) AS total_runs,
			COUNT(CASE WHEN status = $1 THEN 1 END) AS completed_runs,
			COUNT(CASE WHEN status = $2 THEN 1 END) AS cancelled_runs,
			COUNT(CASE WHEN status = $3 THEN 1 END) AS failed_runs,
			MAX(CASE WHEN status = $1 THEN completed_at END) AS last_completed_at
		FROM scrape_runs`

	err := db.pool.QueryRow(ctx, query, RunStatusCompleted, RunStatusCancelled, RunStatusFailed).Scan(
		&stats.TotalRuns, &stats.CompletedRuns, &stats.CancelledRuns, &stats.FailedRuns,
		&stats.LastCompletedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get run stats: %w", err)
	}

	if stats.TotalRuns > 0 {
		stats.SuccessRate = float64(stats.CompletedRuns) / float64(stats.TotalRuns) * 100
	}

	if err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM materials`).Scan(&stats.MirroredRecords); err != nil {
		return nil, fmt.Errorf("failed to count mirrored records: %w", err)
	}

	return stats, nil
}
