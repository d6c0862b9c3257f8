package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/materials-scraper/internal/browser"
	"github.com/maltedev/materials-scraper/internal/config"
	"github.com/maltedev/materials-scraper/internal/database"
	"github.com/maltedev/materials-scraper/internal/events"
	"github.com/maltedev/materials-scraper/internal/fetcher"
	"github.com/maltedev/materials-scraper/internal/metrics"
	"github.com/maltedev/materials-scraper/internal/pipeline"
	"github.com/maltedev/materials-scraper/internal/scraper"
	"github.com/maltedev/materials-scraper/internal/storage"
	"github.com/maltedev/materials-scraper/internal/tds"
)

// services holds the optional backends named in the config. Close releases
// whatever was opened.
type services struct {
	db        *database.DB
	publisher *events.Publisher
	relay     *database.Relay
	closers   []func() error
}

func openServices(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*services, error) {
	s := &services{}

	if cfg.Database.URL != "" {
		db, err := database.New(ctx, database.Config{
			URL:      cfg.Database.URL,
			MaxConns: cfg.Database.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		s.db = db
		s.closers = append(s.closers, func() error { db.Close(); return nil })

		if err := db.EnsureSchema(ctx); err != nil {
			s.Close()
			return nil, err
		}
		logger.Info("Database mirror enabled")
	}

	if cfg.Redis.URL != "" {
		client, err := events.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.publisher = events.NewPublisher(client, cfg.Redis.Stream, logger)
		s.closers = append(s.closers, s.publisher.Close)
		logger.Info("Change events enabled", "stream", s.publisher.Stream())
	}

	if s.db != nil && s.publisher != nil {
		s.relay = database.NewRelay(s.db, s.publisher, logger, database.RelayConfig{
			PollInterval: 5 * time.Second,
			BatchSize:    100,
		})
	}

	return s, nil
}

func (s *services) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	s.closers = nil
	return errors.Join(errs...)
}

// pipelineOptions wires the optional backends into the pipeline. Nil
// pointers must not reach the interface-typed options.
func (s *services) pipelineOptions() []pipeline.Option {
	var opts []pipeline.Option
	switch {
	case s.db != nil && s.relay != nil:
		opts = append(opts, pipeline.WithMirror(s.db, s.relay))
	case s.db != nil:
		opts = append(opts, pipeline.WithMirror(s.db, nil))
	case s.publisher != nil:
		opts = append(opts, pipeline.WithEventSink(s.publisher))
	}
	if s.db != nil {
		opts = append(opts, pipeline.WithRunLog(s.db))
	}
	return opts
}

// buildPipeline assembles the fetcher, renderer, datasheet cache and
// curation overrides around the opened services. release frees everything
// it opened.
func buildPipeline(cfg *config.Config, logger *slog.Logger, svc *services, reg *metrics.Registry, datasheets bool) (p *pipeline.Pipeline, release func(), err error) {
	var closers []func() error
	release = func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.Warn("failed to release resource", "error", err)
			}
		}
	}
	defer func() {
		if err != nil {
			release()
		}
	}()

	fc := newFetcher(cfg, logger, reg)
	closers = append(closers, func() error { fc.Close(); return nil })

	renderer, closeRenderer, err := newRenderer(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	closers = append(closers, closeRenderer)

	cache, err := newDatasheetCache(cfg)
	if err != nil {
		return nil, nil, err
	}
	closers = append(closers, cache.Close)

	overrides, err := storage.LoadOverrides(cfg.Storage.CurationPath)
	if err != nil {
		return nil, nil, err
	}
	if len(overrides) > 0 {
		logger.Info("Loaded curation overrides", "path", cfg.Storage.CurationPath, "count", len(overrides))
		logger.Debug("Curation override keys", "keys", storage.OverrideKeys(overrides))
	}

	opts := append([]pipeline.Option{
		pipeline.WithDatasheets(fc, tds.NewExtractor(cache, logger)),
		pipeline.WithRecorder(reg),
	}, svc.pipelineOptions()...)

	p = pipeline.New(pipeline.Config{
		Brands:          cfg.Brands,
		BrandWorkers:    cfg.Scraper.BrandWorkers,
		RunTimeout:      cfg.Scraper.RunTimeout,
		FetchDatasheets: cfg.Scraper.FetchDatasheets && datasheets,
		Overrides:       overrides,
	}, scraper.NewRegistry(fc, renderer, logger), newStore(cfg), logger, opts...)
	return p, release, nil
}

func newFetcher(cfg *config.Config, logger *slog.Logger, reg *metrics.Registry) *fetcher.FetchContext {
	return fetcher.New(fetcher.Config{
		UserAgent:    cfg.Scraper.UserAgent,
		RequestDelay: cfg.Scraper.RequestDelay,
		Timeout:      cfg.Scraper.Timeout,
		MaxRetries:   cfg.Scraper.MaxRetries,
		RetryBackoff: cfg.Scraper.RetryBackoff,
	}, logger, fetcher.WithObserver(reg))
}

// newRenderer starts the headless browser when enabled. The returned
// renderer is a nil interface otherwise.
func newRenderer(cfg *config.Config, logger *slog.Logger) (scraper.Renderer, func() error, error) {
	if !cfg.Browser.Enabled {
		return nil, func() error { return nil }, nil
	}

	opts := browser.DefaultOptions()
	opts.Headless = cfg.Browser.Headless
	opts.Timeout = cfg.Browser.Timeout
	opts.UserAgent = cfg.Scraper.UserAgent

	b, err := browser.New(opts, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start browser: %w", err)
	}
	return b, b.Close, nil
}

func newDatasheetCache(cfg *config.Config) (tds.Cache, error) {
	if cfg.Scraper.DatasheetCacheDir == "" {
		return tds.NewMemoryCache(), nil
	}
	cache, err := tds.OpenPebbleCache(cfg.Scraper.DatasheetCacheDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open datasheet cache: %w", err)
	}
	return cache, nil
}

func newStore(cfg *config.Config) *storage.DatasetStore {
	return storage.NewDatasetStore(cfg.Storage.DatasetPath, cfg.Storage.SimplePath)
}
