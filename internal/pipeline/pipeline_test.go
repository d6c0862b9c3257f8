package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/materials-scraper/internal/database"
	"github.com/maltedev/materials-scraper/internal/events"
	"github.com/maltedev/materials-scraper/internal/fetcher"
	"github.com/maltedev/materials-scraper/internal/metrics"
	"github.com/maltedev/materials-scraper/internal/models"
	"github.com/maltedev/materials-scraper/internal/normalize"
	"github.com/maltedev/materials-scraper/internal/scraper"
	"github.com/maltedev/materials-scraper/internal/storage"
	"github.com/maltedev/materials-scraper/internal/tds"
)

var (
	t1 = time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	t2 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const shopPage = `<html><body>
<div class="product-card"><a href="/products/tough">Tough Resin</a></div>
<div class="product-card"><a href="/products/clear">Clear Resin</a></div>
<div class="product-card"><a href="/products/station">Wash and Cure Station</a></div>
</body></html>`

const toughPage = `<html><body>
<h1 class="product_title">Tough Resin</h1>
<span class="price">€34,99</span>
<table><tr><th>Viscosity</th><td>350 cPs</td></tr></table>
<a href="/files/tough-tds.pdf">Technical Data Sheet</a>
</body></html>`

const clearPage = `<html><body>
<h1 class="product_title">Clear Resin</h1>
<span class="price">€29,99</span>
</body></html>`

const stationPage = `<html><body>
<h1 class="product_title">Wash and Cure Station</h1>
<span class="price">€149,00</span>
</body></html>`

// vendor serves a small resin storefront. Paths under /slow/ stall until
// the client goes away.
func vendor(t *testing.T) *httptest.Server {
	t.Helper()
	pages := map[string]string{
		"/shop":             shopPage,
		"/products/tough":   toughPage,
		"/products/clear":   clearPage,
		"/products/station": stationPage,
		"/slow/shop":        `<html><body><a href="/slow/products/a">A</a><a href="/slow/products/b">B</a></body></html>`,
		"/filament":         `<html><body><a href="/products/pla-basic">PLA Basic</a></body></html>`,
		"/broken/shop":      `<html><body><div class="product-card"><a href="/products/tough">Tough</a></div><div class="product-card"><a href="/products/gone">Gone</a></div></body></html>`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/slow/products/") {
			select {
			case <-time.After(5 * time.Second):
			case <-r.Context().Done():
			}
			return
		}
		if r.URL.Path == "/files/tough-tds.pdf" {
			w.Header().Set("Content-Type", "application/pdf")
			io.WriteString(w, "this is not a pdf")
			return
		}
		body, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newFetcher(t *testing.T) *fetcher.FetchContext {
	t.Helper()
	fc := fetcher.New(fetcher.Config{
		UserAgent:    "MaterialsScraper/1.0 (+https://example.com/bot)",
		RequestDelay: time.Millisecond,
		Timeout:      2 * time.Second,
	}, testLogger())
	t.Cleanup(fc.Close)
	return fc
}

func resinBrand(name, listing string) models.BrandSpec {
	return models.BrandSpec{
		Name:         name,
		BaseURL:      listing,
		MaterialType: models.MaterialResin,
		Tier:         models.TierConsumer,
		PlatformHint: models.PlatformGeneric,
		Currency:     "EUR",
		Options:      models.ScrapeOptions{MaxPages: 3, DetailConcurrency: 2},
	}
}

type harness struct {
	store *storage.DatasetStore
	dir   string
	fc    *fetcher.FetchContext
}

func newHarness(t *testing.T) *harness {
	dir := t.TempDir()
	return &harness{
		store: storage.NewDatasetStore(filepath.Join(dir, "materials.json"), filepath.Join(dir, "materials_simple.json")),
		dir:   dir,
		fc:    newFetcher(t),
	}
}

func (h *harness) pipeline(cfg Config, now time.Time, opts ...Option) *Pipeline {
	registry := scraper.NewRegistry(h.fc, nil, testLogger())
	opts = append([]Option{
		WithDatasheets(h.fc, tds.NewExtractor(tds.NewMemoryCache(), testLogger())),
		WithClock(func() time.Time { return now }),
	}, opts...)
	if cfg.BrandWorkers == 0 {
		cfg.BrandWorkers = 2
	}
	cfg.FetchDatasheets = true
	return New(cfg, registry, h.store, testLogger(), opts...)
}

type mockMirror struct{ mock.Mock }

func (m *mockMirror) UpsertMaterials(ctx context.Context, records []models.MaterialRecord, changes []events.Event) (database.UpsertResult, error) {
	args := m.Called(ctx, records, changes)
	return args.Get(0).(database.UpsertResult), args.Error(1)
}

type mockRelay struct{ mock.Mock }

func (m *mockRelay) Drain(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type mockSink struct{ mock.Mock }

func (m *mockSink) PublishAll(ctx context.Context, evts []events.Event) (int, error) {
	args := m.Called(ctx, evts)
	return args.Int(0), args.Error(1)
}

func TestRunScrapesNormalizesAndPersists(t *testing.T) {
	srv := vendor(t)
	h := newHarness(t)
	p := h.pipeline(Config{Brands: []models.BrandSpec{resinBrand("Acme", srv.URL+"/shop")}}, t1)

	summary, err := p.Run(context.Background(), Options{})
	require.NoError(t, err)

	require.Len(t, summary.Brands, 1)
	b := summary.Brands[0]
	assert.Equal(t, "Acme", b.Name)
	assert.Equal(t, 2, b.Scraped)
	assert.Equal(t, 1, b.Skipped, "the wash station is not a material")
	assert.False(t, b.Failed)
	assert.Equal(t, b.Warnings, len(summary.Warnings))

	kinds := summary.WarningsByKind()
	assert.Equal(t, 1, kinds[models.WarnProductRejected])
	assert.Equal(t, 1, kinds[models.WarnLowConfidenceExtraction])

	assert.Equal(t, 2, summary.Merge.Added)
	assert.Equal(t, 2, summary.DatasetSize)
	assert.False(t, summary.Cancelled)

	ds, err := h.store.Load()
	require.NoError(t, err)
	require.Len(t, ds.Materials, 2)

	first, tough := ds.Materials[0], ds.Materials[1]
	assert.Equal(t, srv.URL+"/products/clear", first.SourceURL, "records follow sourceUrl order")
	assert.Equal(t, srv.URL+"/products/tough", tough.SourceURL)
	require.NotNil(t, tough.Commercial.Price)
	assert.Equal(t, 34.99, *tough.Commercial.Price)
	assert.Equal(t, "EUR", tough.Commercial.Currency)
	assert.Equal(t, srv.URL+"/files/tough-tds.pdf", tough.TDSURL)
	assert.Equal(t, models.SourcePage, tough.Properties["viscosity"].Source)
	assert.Equal(t, t1, tough.LastScrapedAt)

	_, err = os.Stat(filepath.Join(h.dir, "materials_simple.json"))
	assert.True(t, os.IsNotExist(err), "simple export only on request")
}

func TestRunIsIdempotent(t *testing.T) {
	srv := vendor(t)
	h := newHarness(t)
	cfg := Config{Brands: []models.BrandSpec{resinBrand("Acme", srv.URL+"/shop")}}

	_, err := h.pipeline(cfg, t1).Run(context.Background(), Options{})
	require.NoError(t, err)
	first, err := os.ReadFile(h.store.Path())
	require.NoError(t, err)

	summary, err := h.pipeline(cfg, t2).Run(context.Background(), Options{})
	require.NoError(t, err)
	second, err := os.ReadFile(h.store.Path())
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
	assert.Equal(t, 0, summary.Merge.Added)
	assert.Equal(t, 0, summary.Merge.Updated)
	assert.Equal(t, 2, summary.Merge.Unchanged)
}

func TestRunDryRunDoesNotPersist(t *testing.T) {
	srv := vendor(t)
	h := newHarness(t)
	sink := &mockSink{}
	p := h.pipeline(Config{Brands: []models.BrandSpec{resinBrand("Acme", srv.URL+"/shop")}}, t1, WithEventSink(sink))

	summary, err := p.Run(context.Background(), Options{DryRun: true, Simple: true})
	require.NoError(t, err)

	assert.True(t, summary.DryRun)
	assert.Equal(t, 2, summary.Merge.Added)
	_, err = os.Stat(h.store.Path())
	assert.True(t, os.IsNotExist(err))
	sink.AssertNotCalled(t, "PublishAll", mock.Anything, mock.Anything)
}

func TestRunSimpleExport(t *testing.T) {
	srv := vendor(t)
	h := newHarness(t)
	p := h.pipeline(Config{Brands: []models.BrandSpec{resinBrand("Acme", srv.URL+"/shop")}}, t1)

	_, err := p.Run(context.Background(), Options{Simple: true})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(h.dir, "materials_simple.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "Tough")
	assert.Contains(t, string(data), "Clear")
}

func TestRunBrandFailureDoesNotAbortRun(t *testing.T) {
	srv := vendor(t)
	h := newHarness(t)
	p := h.pipeline(Config{Brands: []models.BrandSpec{
		resinBrand("Gone", srv.URL+"/missing"),
		resinBrand("Acme", srv.URL+"/shop"),
	}}, t1)

	summary, err := p.Run(context.Background(), Options{})
	require.NoError(t, err)

	require.Len(t, summary.Brands, 2)
	assert.Equal(t, "Gone", summary.Brands[0].Name, "summary follows config order")
	assert.True(t, summary.Brands[0].Failed)
	assert.Contains(t, summary.Brands[0].Error, scraper.ErrBrandScrapeFailed.Error())
	assert.Equal(t, 0, summary.Brands[0].Scraped)
	assert.Equal(t, 2, summary.Brands[1].Scraped)
	assert.Equal(t, 1, summary.FailedBrands())
	assert.Equal(t, 1, summary.WarningsByKind()[models.WarnBrandScrapeFailed])
	assert.Equal(t, 2, summary.DatasetSize)
}

func TestRunClassifiesSkippedProducts(t *testing.T) {
	srv := vendor(t)
	h := newHarness(t)
	p := h.pipeline(Config{Brands: []models.BrandSpec{resinBrand("Acme", srv.URL+"/broken/shop")}}, t1)

	summary, err := p.Run(context.Background(), Options{})
	require.NoError(t, err)

	require.Len(t, summary.Brands, 1)
	assert.Equal(t, 1, summary.Brands[0].Scraped)
	assert.Equal(t, 1, summary.Brands[0].Skipped)
	kinds := summary.WarningsByKind()
	assert.Equal(t, 1, kinds[models.WarnProductSkipped])
	assert.Zero(t, kinds[models.WarnNetwork], "a 404 page is not a network failure")
}

func TestSkipKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want models.WarningKind
	}{
		{"robots", fmt.Errorf("%w: x: %w", scraper.ErrProductSkipped, fetcher.ErrPolicyDenied), models.WarnPolicyDenied},
		{"retries exhausted", fmt.Errorf("%w: x: failed to fetch x: %w: timeout", scraper.ErrProductSkipped, fetcher.ErrNetwork), models.WarnNetwork},
		{"bad status", fmt.Errorf("%w: x: product page returned status 404", scraper.ErrProductSkipped), models.WarnProductSkipped},
		{"unparseable page", fmt.Errorf("%w: x: %w", scraper.ErrProductSkipped, errors.New("no product title")), models.WarnProductSkipped},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, skipKind(tt.err))
		})
	}
}

func TestRunSelectsBrands(t *testing.T) {
	srv := vendor(t)
	filament := resinBrand("Spool Co", srv.URL+"/filament")
	filament.MaterialType = models.MaterialFilament
	cfg := Config{Brands: []models.BrandSpec{
		resinBrand("Acme", srv.URL+"/shop"),
		resinBrand("Other", srv.URL+"/shop"),
		filament,
	}}

	tests := []struct {
		name string
		opts Options
		want []string
	}{
		{"all brands", Options{DryRun: true}, []string{"Acme", "Other", "Spool Co"}},
		{"by material type", Options{DryRun: true, MaterialType: models.MaterialFilament}, []string{"Spool Co"}},
		{"by name", Options{DryRun: true, Brands: []string{" acme "}}, []string{"Acme"}},
		{"type and name disagree", Options{DryRun: true, MaterialType: models.MaterialFilament, Brands: []string{"Acme"}}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			summary, err := newHarness(t).pipeline(cfg, t1).Run(context.Background(), tt.opts)
			require.NoError(t, err)

			var got []string
			for _, b := range summary.Brands {
				got = append(got, b.Name)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRunMirrorsAndDrainsOutbox(t *testing.T) {
	srv := vendor(t)
	h := newHarness(t)
	mirror := &mockMirror{}
	relay := &mockRelay{}
	sink := &mockSink{}

	mirror.On("UpsertMaterials", mock.Anything,
		mock.MatchedBy(func(r []models.MaterialRecord) bool { return len(r) == 2 }),
		mock.MatchedBy(func(e []events.Event) bool {
			return len(e) == 2 && e[0].Type == events.TypeMaterialAdded
		}),
	).Return(database.UpsertResult{Inserted: 2, Queued: 2}, nil).Once()
	relay.On("Drain", mock.Anything).Return(2, nil).Once()

	p := h.pipeline(Config{Brands: []models.BrandSpec{resinBrand("Acme", srv.URL+"/shop")}}, t1,
		WithMirror(mirror, relay), WithEventSink(sink))

	summary, err := p.Run(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Mirrored)
	assert.Equal(t, 2, summary.Published)
	assert.Empty(t, summary.Errors)
	mirror.AssertExpectations(t)
	relay.AssertExpectations(t)
	sink.AssertNotCalled(t, "PublishAll", mock.Anything, mock.Anything)
}

func TestRunMirrorFailureIsRecorded(t *testing.T) {
	srv := vendor(t)
	h := newHarness(t)
	mirror := &mockMirror{}
	relay := &mockRelay{}
	mirror.On("UpsertMaterials", mock.Anything, mock.Anything, mock.Anything).
		Return(database.UpsertResult{}, errors.New("connection refused"))

	p := h.pipeline(Config{Brands: []models.BrandSpec{resinBrand("Acme", srv.URL+"/shop")}}, t1, WithMirror(mirror, relay))

	summary, err := p.Run(context.Background(), Options{})
	require.NoError(t, err)

	require.Len(t, summary.Errors, 1)
	assert.Contains(t, summary.Errors[0], "connection refused")
	relay.AssertNotCalled(t, "Drain", mock.Anything)

	ds, err := h.store.Load()
	require.NoError(t, err)
	assert.Len(t, ds.Materials, 2, "the dataset file does not depend on the mirror")
}

func TestRunPublishesWithoutMirror(t *testing.T) {
	srv := vendor(t)
	h := newHarness(t)
	sink := &mockSink{}
	sink.On("PublishAll", mock.Anything, mock.MatchedBy(func(e []events.Event) bool { return len(e) == 2 })).
		Return(1, errors.New("stream unavailable")).Once()

	p := h.pipeline(Config{Brands: []models.BrandSpec{resinBrand("Acme", srv.URL+"/shop")}}, t1, WithEventSink(sink))

	summary, err := p.Run(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Published)
	require.Len(t, summary.Errors, 1)
	assert.Contains(t, summary.Errors[0], "stream unavailable")
	sink.AssertExpectations(t)

	// nothing changed, nothing to publish
	_, err = h.pipeline(Config{Brands: []models.BrandSpec{resinBrand("Acme", srv.URL+"/shop")}}, t2, WithEventSink(sink)).
		Run(context.Background(), Options{})
	require.NoError(t, err)
	sink.AssertNumberOfCalls(t, "PublishAll", 1)
}

func TestRunDatasetWriteFailureAborts(t *testing.T) {
	srv := vendor(t)
	h := newHarness(t)
	h.store = storage.NewDatasetStore(filepath.Join(h.dir, "materials.json"), "")
	p := h.pipeline(Config{Brands: []models.BrandSpec{resinBrand("Acme", srv.URL+"/shop")}}, t1)

	summary, err := p.Run(context.Background(), Options{Simple: true})
	assert.ErrorIs(t, err, storage.ErrDatasetWrite)
	require.NotNil(t, summary)
	assert.Equal(t, 2, summary.Scraped())
}

func TestRunAppliesCurationOverrides(t *testing.T) {
	srv := vendor(t)
	h := newHarness(t)
	brand := resinBrand("Acme", srv.URL+"/shop")
	key := normalize.Key(brand, "Clear Resin")

	p := h.pipeline(Config{
		Brands:    []models.BrandSpec{brand},
		Overrides: map[string]models.Protected{key: {EditorialNote: "staff pick", VerifiedByStaff: true}},
	}, t1)

	_, err := p.Run(context.Background(), Options{})
	require.NoError(t, err)

	ds, err := h.store.Load()
	require.NoError(t, err)
	rec, ok := ds.Find(key)
	require.True(t, ok)
	assert.Equal(t, models.Protected{EditorialNote: "staff pick", VerifiedByStaff: true}, rec.Protected)
}

func TestRunRecordsMetrics(t *testing.T) {
	srv := vendor(t)
	h := newHarness(t)
	reg := metrics.NewRegistry()
	p := h.pipeline(Config{Brands: []models.BrandSpec{resinBrand("Acme", srv.URL+"/shop")}}, t1, WithRecorder(reg))

	_, err := p.Run(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 2.0, testutil.ToFloat64(reg.Scraped.WithLabelValues("Acme")))
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.Skipped.WithLabelValues("Acme")))
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.Warnings.WithLabelValues(string(models.WarnProductRejected))))
	assert.Equal(t, 2.0, testutil.ToFloat64(reg.MergeOutcomes.WithLabelValues("added")))
	assert.Equal(t, 2.0, testutil.ToFloat64(reg.DatasetSize))
}

func TestRunTimeoutKeepsPartialResults(t *testing.T) {
	srv := vendor(t)
	h := newHarness(t)
	p := h.pipeline(Config{
		Brands:     []models.BrandSpec{resinBrand("Slow", srv.URL+"/slow/shop"), resinBrand("Acme", srv.URL+"/shop")},
		RunTimeout: 500 * time.Millisecond,
	}, t1)

	start := time.Now()
	summary, err := p.Run(context.Background(), Options{})
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 4*time.Second, "stalled pages are abandoned")
	assert.True(t, summary.Cancelled)
	assert.Equal(t, 0, summary.Brands[0].Scraped)

	ds, err := h.store.Load()
	require.NoError(t, err)
	assert.Len(t, ds.Materials, summary.Scraped())
}

type delayRecorder struct {
	*fetcher.FetchContext
	mu     sync.Mutex
	delays map[string]time.Duration
}

func (d *delayRecorder) RaiseDelay(host string, delay time.Duration) {
	d.mu.Lock()
	d.delays[host] = delay
	d.mu.Unlock()
	d.FetchContext.RaiseDelay(host, delay)
}

func TestRunAppliesBrandDelay(t *testing.T) {
	srv := vendor(t)
	h := newHarness(t)
	rec := &delayRecorder{FetchContext: h.fc, delays: map[string]time.Duration{}}

	brand := resinBrand("Acme", srv.URL+"/shop")
	brand.Options.Delay = 5 * time.Millisecond
	p := h.pipeline(Config{Brands: []models.BrandSpec{brand}}, t1, WithFetcher(rec))

	_, err := p.Run(context.Background(), Options{DryRun: true})
	require.NoError(t, err)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	assert.Equal(t, map[string]time.Duration{u.Host: 5 * time.Millisecond}, rec.delays)
}

type mockRunLog struct{ mock.Mock }

func (m *mockRunLog) RecordRun(ctx context.Context, run database.Run) error {
	return m.Called(ctx, run).Error(0)
}

func TestRunRecordsHistory(t *testing.T) {
	srv := vendor(t)

	t.Run("completed", func(t *testing.T) {
		h := newHarness(t)
		runLog := &mockRunLog{}
		runLog.On("RecordRun", mock.Anything, mock.MatchedBy(func(r database.Run) bool {
			return r.Status == database.RunStatusCompleted && r.Scraped == 2 && r.Added == 2 &&
				r.Brands == 1 && r.StartedAt.Equal(t1) && len(r.Summary) > 0
		})).Return(nil).Once()

		p := h.pipeline(Config{Brands: []models.BrandSpec{resinBrand("Acme", srv.URL+"/shop")}}, t1, WithRunLog(runLog))
		_, err := p.Run(context.Background(), Options{})
		require.NoError(t, err)
		runLog.AssertExpectations(t)
	})

	t.Run("failed write", func(t *testing.T) {
		h := newHarness(t)
		h.store = storage.NewDatasetStore(filepath.Join(h.dir, "materials.json"), "")
		runLog := &mockRunLog{}
		runLog.On("RecordRun", mock.Anything, mock.MatchedBy(func(r database.Run) bool {
			return r.Status == database.RunStatusFailed && strings.Contains(r.Error, storage.ErrDatasetWrite.Error())
		})).Return(errors.New("history table missing")).Once()

		p := h.pipeline(Config{Brands: []models.BrandSpec{resinBrand("Acme", srv.URL+"/shop")}}, t1, WithRunLog(runLog))
		_, err := p.Run(context.Background(), Options{Simple: true})
		assert.ErrorIs(t, err, storage.ErrDatasetWrite)
		runLog.AssertExpectations(t)
	})
}
