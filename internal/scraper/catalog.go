package scraper

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/maltedev/materials-scraper/internal/models"
	"github.com/maltedev/materials-scraper/internal/parser"
)

const (
	defaultMaxPages          = 20
	defaultDetailConcurrency = 3
)

// productPage is a detail page found on a listing. Seed carries product
// data the listing already exposed and fills gaps left by the page.
type productPage struct {
	URL  string
	Seed *models.RawProduct
	// SeedOnly means Seed is the whole product and URL is not fetched.
	SeedOnly bool
}

// listingSource discovers a brand's product pages. On failure it returns
// the pages found so far together with the error.
type listingSource interface {
	productPages(ctx context.Context, brand models.BrandSpec) ([]productPage, error)
}

// Catalog walks a brand's listing and scrapes every product page it finds.
// Variants differ in how listings are discovered and which selectors read
// the detail pages.
type Catalog struct {
	name      string
	fetcher   Fetcher
	listing   listingSource
	selectors parser.Selectors
	logger    *slog.Logger
}

func (c *Catalog) Name() string { return c.name }

type detailResult struct {
	product models.RawProduct
	err     error
}

func (c *Catalog) Scrape(ctx context.Context, brand models.BrandSpec) iter.Seq2[models.RawProduct, error] {
	return func(yield func(models.RawProduct, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		logger := c.logger.With("brand", brand.Name)
		logger.Info("Scraping brand", "url", brand.BaseURL)

		pages, listErr := c.listing.productPages(ctx, brand)
		if listErr != nil {
			listErr = fmt.Errorf("%w: %s: %w", ErrBrandScrapeFailed, brand.Name, listErr)
			logger.Error("Listing failed", "pages_found", len(pages), "error", listErr)
		}
		logger.Info("Listing complete", "products", len(pages))

		results := make(chan detailResult)
		go func() {
			defer close(results)
			c.fetchDetails(ctx, brand, pages, results, logger)
		}()

		for r := range results {
			if !yield(r.product, r.err) {
				cancel()
				for range results {
				}
				return
			}
		}

		if listErr == nil && ctx.Err() != nil {
			listErr = fmt.Errorf("%w: %s: %w", ErrBrandScrapeFailed, brand.Name, ctx.Err())
		}
		if listErr != nil {
			yield(models.RawProduct{}, listErr)
		}
	}
}

func (c *Catalog) fetchDetails(ctx context.Context, brand models.BrandSpec, pages []productPage, out chan<- detailResult, logger *slog.Logger) {
	limit := brand.Options.DetailConcurrency
	if limit < 1 {
		limit = defaultDetailConcurrency
	}
	p := parser.NewHTMLParser(c.selectors.WithOverrides(brand.Options))

	var g errgroup.Group
	g.SetLimit(limit)

	for _, page := range pages {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			product, err := c.detail(ctx, p, page)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				logger.Warn("Skipping product", "url", page.URL, "error", err)
				err = fmt.Errorf("%w: %s: %w", ErrProductSkipped, page.URL, err)
			}
			select {
			case out <- detailResult{product: product, err: err}:
			case <-ctx.Done():
			}
			return nil
		})
	}
	g.Wait()
}

func (c *Catalog) detail(ctx context.Context, p *parser.HTMLParser, page productPage) (models.RawProduct, error) {
	if page.SeedOnly && page.Seed != nil {
		return *page.Seed, nil
	}

	resp, err := c.fetcher.Fetch(ctx, page.URL)
	if err != nil {
		return models.RawProduct{}, err
	}
	if !resp.OK() {
		return models.RawProduct{}, fmt.Errorf("product page returned status %d", resp.StatusCode)
	}

	product, err := p.ParseProduct(page.URL, resp.Body)
	if err != nil {
		return models.RawProduct{}, err
	}
	fillFromSeed(product, page.Seed)
	return *product, nil
}

func fillFromSeed(p *models.RawProduct, seed *models.RawProduct) {
	if seed == nil {
		return
	}
	if p.PriceText == "" {
		p.PriceText = seed.PriceText
	}
	if len(p.ImageURLs) == 0 {
		p.ImageURLs = seed.ImageURLs
	}
	if p.DescriptionText == "" {
		p.DescriptionText = seed.DescriptionText
	}
	if p.Available == nil {
		p.Available = seed.Available
	}
}

// errStatus reports a non-2xx listing response.
var errStatus = errors.New("unexpected status")
