package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/maltedev/materials-scraper/internal/pipeline"
)

// ErrRunInProgress is returned by RunNow while another run is active.
var ErrRunInProgress = errors.New("a scrape run is already in progress")

// Runner executes one scrape run.
type Runner interface {
	Run(ctx context.Context, opts pipeline.Options) (*pipeline.Summary, error)
}

// Status describes the scheduler for the API.
type Status struct {
	Running   bool              `json:"running"`
	Interval  string            `json:"interval"`
	Runs      int               `json:"runs"`
	LastRun   *pipeline.Summary `json:"last_run,omitempty"`
	LastError string            `json:"last_error,omitempty"`
	NextRunAt *time.Time        `json:"next_run_at,omitempty"`
}

// Scheduler runs the pipeline on a fixed interval, one run at a time.
type Scheduler struct {
	runner   Runner
	opts     pipeline.Options
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	runs    int
	last    *pipeline.Summary
	lastErr error
	nextRun time.Time
}

func NewScheduler(runner Runner, opts pipeline.Options, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		runner:   runner,
		opts:     opts,
		interval: interval,
		logger:   logger.With("component", "scheduler"),
	}
}

// Start runs the pipeline once immediately and then on every tick until
// ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping")
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	s.mu.Lock()
	s.nextRun = time.Now().Add(s.interval)
	s.mu.Unlock()

	if _, err := s.RunNow(ctx); err != nil {
		if errors.Is(err, ErrRunInProgress) {
			s.logger.Warn("skipping scheduled run, previous run still active")
			return
		}
		s.logger.Error("scheduled run failed", "error", err)
	}
}

// RunNow starts a run unless one is already active.
func (s *Scheduler) RunNow(ctx context.Context) (*pipeline.Summary, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, ErrRunInProgress
	}
	s.running = true
	s.mu.Unlock()

	summary, err := s.runner.Run(ctx, s.opts)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.runs++
	if summary != nil {
		s.last = summary
	}
	s.lastErr = err
	return summary, err
}

// Status reports the latest run.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Running:  s.running,
		Interval: s.interval.String(),
		Runs:     s.runs,
		LastRun:  s.last,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	if !s.nextRun.IsZero() {
		next := s.nextRun
		st.NextRunAt = &next
	}
	return st
}
