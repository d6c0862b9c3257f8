package scraper

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"sort"
	"sync"

	"github.com/maltedev/materials-scraper/internal/fetcher"
	"github.com/maltedev/materials-scraper/internal/models"
)

var (
	// ErrBrandScrapeFailed ends a brand's sequence when a listing page could
	// not be loaded. Products yielded before it are still valid.
	ErrBrandScrapeFailed = errors.New("brand scrape failed")
	// ErrProductSkipped wraps a product page that could not be scraped. The
	// sequence continues after it.
	ErrProductSkipped = errors.New("product skipped")
)

// Fetcher is the part of fetcher.FetchContext the scrapers use.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*fetcher.Response, error)
	Allowed(ctx context.Context, url string) (bool, error)
	Wait(ctx context.Context, url string) error
}

// Renderer turns a client-rendered page into HTML.
type Renderer interface {
	Render(ctx context.Context, url string) ([]byte, error)
}

// CatalogScraper turns a brand into a lazy sequence of raw products.
//
// Per-product failures are yielded as errors wrapping ErrProductSkipped and
// iteration continues. A listing failure is yielded last, wrapping
// ErrBrandScrapeFailed. Ranging over the sequence again scrapes again.
type CatalogScraper interface {
	Scrape(ctx context.Context, brand models.BrandSpec) iter.Seq2[models.RawProduct, error]
}

// Registry selects a CatalogScraper by platform hint.
type Registry struct {
	mu       sync.RWMutex
	variants map[models.PlatformHint]CatalogScraper
	fallback CatalogScraper
}

// NewRegistry wires the built-in variants. r may be nil, in which case js
// brands are scraped from their static HTML.
func NewRegistry(f Fetcher, r Renderer, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	generic := NewGeneric(f, logger)
	reg := &Registry{
		variants: map[models.PlatformHint]CatalogScraper{},
		fallback: generic,
	}
	reg.Register(models.PlatformGeneric, generic)
	reg.Register(models.PlatformShopify, NewShopify(f, logger))
	reg.Register(models.PlatformWooCommerce, NewWooCommerce(f, logger))
	reg.Register(models.PlatformJS, NewJS(f, r, logger))
	reg.Register(models.PlatformJSON, NewJSON(f, logger))
	reg.Register(models.PlatformManual, NewManual(logger))
	return reg
}

// Register adds or replaces the variant for hint.
func (r *Registry) Register(hint models.PlatformHint, s CatalogScraper) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.variants[hint] = s
}

// For returns the variant for hint; unknown hints get the generic scraper.
func (r *Registry) For(hint models.PlatformHint) CatalogScraper {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.variants[hint]; ok {
		return s
	}
	return r.fallback
}

// Scrape runs the variant matching brand's platform hint.
func (r *Registry) Scrape(ctx context.Context, brand models.BrandSpec) iter.Seq2[models.RawProduct, error] {
	return r.For(brand.PlatformHint).Scrape(ctx, brand)
}

// Collect drains seq. Products come back sorted by SourceURL, skipped
// products as a list of errors, and the terminal brand failure, if any, as
// err.
func Collect(seq iter.Seq2[models.RawProduct, error]) (products []models.RawProduct, skipped []error, err error) {
	for p, e := range seq {
		switch {
		case e == nil:
			products = append(products, p)
		case errors.Is(e, ErrProductSkipped):
			skipped = append(skipped, e)
		default:
			err = e
		}
	}
	sort.SliceStable(products, func(i, j int) bool {
		return products[i].SourceURL < products[j].SourceURL
	})
	return products, skipped, err
}
