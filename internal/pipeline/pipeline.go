package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/maltedev/materials-scraper/internal/database"
	"github.com/maltedev/materials-scraper/internal/events"
	"github.com/maltedev/materials-scraper/internal/fetcher"
	"github.com/maltedev/materials-scraper/internal/merge"
	"github.com/maltedev/materials-scraper/internal/models"
	"github.com/maltedev/materials-scraper/internal/normalize"
	"github.com/maltedev/materials-scraper/internal/scraper"
	"github.com/maltedev/materials-scraper/internal/storage"
	"github.com/maltedev/materials-scraper/internal/tds"
)

// Scrapers yields the raw products of one brand.
type Scrapers interface {
	Scrape(ctx context.Context, brand models.BrandSpec) iter.Seq2[models.RawProduct, error]
}

// Fetcher downloads datasheets and accepts per-brand delays.
type Fetcher interface {
	tds.Fetcher
	RaiseDelay(host string, d time.Duration)
}

// Mirror receives the merged dataset and the run's change events.
type Mirror interface {
	UpsertMaterials(ctx context.Context, records []models.MaterialRecord, changes []events.Event) (database.UpsertResult, error)
}

// Relay delivers events queued by the mirror.
type Relay interface {
	Drain(ctx context.Context) (int, error)
}

// EventSink publishes change events directly when no mirror is configured.
type EventSink interface {
	PublishAll(ctx context.Context, evts []events.Event) (int, error)
}

// RunLog keeps the history of runs.
type RunLog interface {
	RecordRun(ctx context.Context, run database.Run) error
}

// Recorder receives run metrics.
type Recorder interface {
	ObserveBrand(brand string, scraped, skipped int, failed bool)
	ObserveWarnings(warnings []models.Warning)
	ObserveMerge(report *merge.Report, datasetSize int)
	ObserveRun(d time.Duration)
}

type Config struct {
	Brands       []models.BrandSpec
	BrandWorkers int
	// RunTimeout bounds scraping. Zero means no limit.
	RunTimeout time.Duration
	// FetchDatasheets enables TDS download and extraction.
	FetchDatasheets bool
	Overrides       map[string]models.Protected
}

// Options select what a single run does.
type Options struct {
	MaterialType models.MaterialType
	// Brands restricts the run to these brand names, case-insensitively.
	Brands      []string
	DryRun      bool
	FullReplace bool
	Simple      bool
}

type Pipeline struct {
	cfg        Config
	scrapers   Scrapers
	fetcher    Fetcher
	extractor  *tds.Extractor
	normalizer *normalize.Normalizer
	store      *storage.DatasetStore
	mirror     Mirror
	relay      Relay
	sink       EventSink
	recorder   Recorder
	runLog     RunLog
	now        func() time.Time
	logger     *slog.Logger
}

type Option func(*Pipeline)

// WithDatasheets enables TDS extraction through f.
func WithDatasheets(f Fetcher, e *tds.Extractor) Option {
	return func(p *Pipeline) {
		p.fetcher = f
		p.extractor = e
	}
}

// WithFetcher sets the fetcher used for per-brand delays without enabling
// datasheets.
func WithFetcher(f Fetcher) Option {
	return func(p *Pipeline) { p.fetcher = f }
}

func WithMirror(m Mirror, r Relay) Option {
	return func(p *Pipeline) {
		p.mirror = m
		p.relay = r
	}
}

func WithEventSink(s EventSink) Option {
	return func(p *Pipeline) { p.sink = s }
}

func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) { p.recorder = r }
}

func WithRunLog(l RunLog) Option {
	return func(p *Pipeline) { p.runLog = l }
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

func New(cfg Config, scrapers Scrapers, store *storage.DatasetStore, logger *slog.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BrandWorkers < 1 {
		cfg.BrandWorkers = 1
	}
	p := &Pipeline{
		cfg:        cfg,
		scrapers:   scrapers,
		normalizer: normalize.New(logger),
		store:      store,
		now:        time.Now,
		logger:     logger.With("component", "pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type brandResult struct {
	summary  BrandSummary
	records  []models.MaterialRecord
	warnings []models.Warning
}

// Run scrapes the selected brands, merges the results into the stored
// dataset and persists it. Only a failure to load or write the dataset
// returns an error; everything else ends up in the summary.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*Summary, error) {
	started := p.now()
	summary, err := p.run(ctx, started, opts)
	if p.runLog != nil {
		p.recordRun(context.WithoutCancel(ctx), started, opts, summary, err)
	}
	return summary, err
}

func (p *Pipeline) run(ctx context.Context, started time.Time, opts Options) (*Summary, error) {
	brands := p.selectBrands(opts)

	existing, err := p.store.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load dataset: %w", err)
	}

	p.logger.Info("Starting run",
		"brands", len(brands),
		"type", opts.MaterialType,
		"dry_run", opts.DryRun,
		"full_replace", opts.FullReplace,
		"existing", len(existing.Materials),
		"overrides", len(p.cfg.Overrides))

	scrapeCtx := ctx
	if p.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		scrapeCtx, cancel = context.WithTimeout(ctx, p.cfg.RunTimeout)
		defer cancel()
	}

	results := make([]brandResult, len(brands))
	g, gctx := errgroup.WithContext(scrapeCtx)
	g.SetLimit(p.cfg.BrandWorkers)
	for i, brand := range brands {
		g.Go(func() error {
			results[i] = p.runBrand(gctx, brand)
			return nil
		})
	}
	// workers never return errors
	_ = g.Wait()

	summary := &Summary{
		StartedAt:   started.UTC(),
		DryRun:      opts.DryRun,
		Cancelled:   scrapeCtx.Err() != nil,
		Brands:      make([]BrandSummary, 0, len(brands)),
		DatasetPath: p.store.Path(),
	}

	var records []models.MaterialRecord
	for _, r := range results {
		summary.Brands = append(summary.Brands, r.summary)
		summary.Warnings = append(summary.Warnings, r.warnings...)
		records = append(records, r.records...)
	}
	if summary.Cancelled {
		p.logger.Warn("Run cut short, merging partial results", "error", scrapeCtx.Err(), "records", len(records))
	}

	engine := merge.New(merge.Options{
		Now:         p.now,
		FullReplace: opts.FullReplace,
		Overrides:   p.cfg.Overrides,
	}, p.logger)
	merged, report := engine.Merge(existing, records)
	summary.Merge = report
	summary.Warnings = append(summary.Warnings, report.Warnings...)
	summary.DatasetSize = len(merged.Materials)

	// Persisting must not be skipped because scraping timed out.
	persistCtx := context.WithoutCancel(ctx)

	if !opts.DryRun {
		if err := p.persist(merged, opts); err != nil {
			return summary, err
		}
		p.propagate(persistCtx, merged, report, summary)
	}

	summary.Duration = p.now().Sub(started)
	if p.recorder != nil {
		for _, b := range summary.Brands {
			p.recorder.ObserveBrand(b.Name, b.Scraped, b.Skipped, b.Failed)
		}
		p.recorder.ObserveWarnings(summary.Warnings)
		p.recorder.ObserveMerge(report, summary.DatasetSize)
		p.recorder.ObserveRun(summary.Duration)
	}

	p.logger.Info("Run complete",
		"scraped", summary.Scraped(),
		"skipped", summary.Skipped(),
		"failed_brands", summary.FailedBrands(),
		"warnings", len(summary.Warnings),
		"added", report.Added,
		"updated", report.Updated,
		"dataset", summary.DatasetSize,
		"duration", summary.Duration)

	return summary, nil
}

func (p *Pipeline) selectBrands(opts Options) []models.BrandSpec {
	out := make([]models.BrandSpec, 0, len(p.cfg.Brands))
	for _, b := range p.cfg.Brands {
		if opts.MaterialType != "" && b.MaterialType != opts.MaterialType {
			continue
		}
		if len(opts.Brands) > 0 && !containsFold(opts.Brands, b.Name) {
			continue
		}
		out = append(out, b)
	}
	return out
}

func containsFold(names []string, name string) bool {
	for _, n := range names {
		if strings.EqualFold(strings.TrimSpace(n), name) {
			return true
		}
	}
	return false
}

// skipKind classifies a skipped product page. Only fetch failures that
// exhausted their retries count as network errors.
func skipKind(err error) models.WarningKind {
	switch {
	case errors.Is(err, fetcher.ErrPolicyDenied):
		return models.WarnPolicyDenied
	case errors.Is(err, fetcher.ErrNetwork):
		return models.WarnNetwork
	default:
		return models.WarnProductSkipped
	}
}

func (p *Pipeline) runBrand(ctx context.Context, brand models.BrandSpec) brandResult {
	logger := p.logger.With("brand", brand.Name, "platform", brand.PlatformHint)
	res := brandResult{summary: BrandSummary{
		Name:         brand.Name,
		MaterialType: brand.MaterialType,
		Platform:     brand.PlatformHint,
	}}
	warn := func(kind models.WarningKind, subject string, err error) {
		res.warnings = append(res.warnings, models.Warning{
			Kind:    kind,
			Brand:   brand.Name,
			Subject: subject,
			Message: err.Error(),
		})
	}

	if p.fetcher != nil && brand.Options.Delay > 0 {
		if u, err := url.Parse(brand.BaseURL); err == nil && u.Host != "" {
			p.fetcher.RaiseDelay(u.Host, brand.Options.Delay)
		}
	}

	logger.Info("Scraping brand")
	products, skipped, err := scraper.Collect(p.scrapers.Scrape(ctx, brand))

	for _, skipErr := range skipped {
		warn(skipKind(skipErr), brand.BaseURL, skipErr)
		res.summary.Skipped++
	}
	if err != nil {
		logger.Error("Brand scrape failed", "error", err, "partial", len(products))
		warn(models.WarnBrandScrapeFailed, brand.BaseURL, err)
		res.summary.Failed = true
		res.summary.Error = err.Error()
	}

	for _, raw := range products {
		var props []models.ExtractedProperty
		if p.cfg.FetchDatasheets && p.extractor != nil && p.fetcher != nil && raw.TDSDocumentURL != "" && ctx.Err() == nil {
			extracted := p.extractor.ExtractFromURL(ctx, p.fetcher, raw.TDSDocumentURL)
			for _, w := range extracted.Warnings {
				warn(models.WarnLowConfidenceExtraction, raw.TDSDocumentURL, w)
			}
			props = extracted.Properties
		}

		rec, warnings, err := p.normalizer.Normalize(raw, props, brand)
		if err != nil {
			logger.Debug("Product rejected", "url", raw.SourceURL, "error", err)
			warn(models.WarnProductRejected, raw.SourceURL, err)
			res.summary.Skipped++
			continue
		}
		res.warnings = append(res.warnings, warnings...)
		res.records = append(res.records, rec)
		res.summary.Scraped++
	}

	res.summary.Warnings = len(res.warnings)
	logger.Info("Brand done",
		"scraped", res.summary.Scraped,
		"skipped", res.summary.Skipped,
		"warnings", res.summary.Warnings,
		"failed", res.summary.Failed)
	return res
}

func (p *Pipeline) persist(merged *models.Dataset, opts Options) error {
	if err := p.store.Save(merged); err != nil {
		p.logger.Error("Failed to save dataset", "path", p.store.Path(), "error", err)
		return err
	}
	if opts.Simple {
		if err := p.store.SaveSimple(normalize.ProjectAll(merged.Materials)); err != nil {
			p.logger.Error("Failed to save simple export", "error", err)
			return err
		}
	}
	return nil
}

// propagate mirrors the dataset and publishes change events. Failures are
// recorded on the summary; the dataset file is already written.
func (p *Pipeline) propagate(ctx context.Context, merged *models.Dataset, report *merge.Report, summary *Summary) {
	changes := events.FromChanges(merged, report.Changes, p.now())

	if p.mirror != nil {
		result, err := p.mirror.UpsertMaterials(ctx, merged.Materials, changes)
		if err != nil {
			p.logger.Error("Failed to mirror dataset", "error", err)
			summary.Errors = append(summary.Errors, fmt.Sprintf("mirror: %v", err))
			return
		}
		summary.Mirrored = result.Inserted + result.Updated
		if p.relay != nil {
			delivered, err := p.relay.Drain(ctx)
			summary.Published = delivered
			if err != nil {
				p.logger.Error("Failed to drain outbox", "error", err)
				summary.Errors = append(summary.Errors, fmt.Sprintf("outbox: %v", err))
			}
		}
		return
	}

	if p.sink != nil && len(changes) > 0 {
		published, err := p.sink.PublishAll(ctx, changes)
		summary.Published = published
		if err != nil {
			p.logger.Error("Failed to publish change events", "error", err)
			summary.Errors = append(summary.Errors, fmt.Sprintf("events: %v", err))
		}
	}
}

func (p *Pipeline) recordRun(ctx context.Context, started time.Time, opts Options, summary *Summary, runErr error) {
	run := database.Run{
		Status:      database.RunStatusCompleted,
		DryRun:      opts.DryRun,
		StartedAt:   started.UTC(),
		CompletedAt: p.now().UTC(),
	}
	switch {
	case runErr != nil:
		run.Status = database.RunStatusFailed
		run.Error = runErr.Error()
	case summary != nil && summary.Cancelled:
		run.Status = database.RunStatusCancelled
	}

	if summary != nil {
		run.Brands = len(summary.Brands)
		run.FailedBrands = summary.FailedBrands()
		run.Scraped = summary.Scraped()
		run.Skipped = summary.Skipped()
		run.Warnings = len(summary.Warnings)
		if summary.Merge != nil {
			run.Added = summary.Merge.Added
			run.Updated = summary.Merge.Updated
		}
		data, err := json.Marshal(summary)
		if err != nil {
			p.logger.Warn("Failed to encode run summary", "error", err)
		} else {
			run.Summary = data
		}
	}

	if err := p.runLog.RecordRun(ctx, run); err != nil {
		p.logger.Error("Failed to record run", "error", err)
	}
}
