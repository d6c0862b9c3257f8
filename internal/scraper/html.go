package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/maltedev/materials-scraper/internal/models"
	"github.com/maltedev/materials-scraper/internal/parser"
	"github.com/maltedev/materials-scraper/internal/queue"
)

// pageLoader returns a listing page's HTML and the URL it was served from.
type pageLoader func(ctx context.Context, pageURL string) ([]byte, string, error)

func fetchLoader(f Fetcher) pageLoader {
	return func(ctx context.Context, pageURL string) ([]byte, string, error) {
		resp, err := f.Fetch(ctx, pageURL)
		if err != nil {
			return nil, "", err
		}
		if !resp.OK() {
			return nil, "", fmt.Errorf("%w %d for %s", errStatus, resp.StatusCode, pageURL)
		}
		return resp.Body, resp.URL, nil
	}
}

// htmlListing walks server-rendered listing pages, following "next" links.
type htmlListing struct {
	load      pageLoader
	selectors parser.Selectors
	logger    *slog.Logger
}

// listingRoots returns the base URL followed by any extra listing paths,
// resolved against it.
func listingRoots(brand models.BrandSpec) ([]string, error) {
	base, err := url.Parse(brand.BaseURL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", brand.BaseURL)
	}
	roots := []string{base.String()}
	for _, path := range brand.Options.ListingPaths {
		u, ok := parser.Resolve(base, path)
		if !ok {
			continue
		}
		roots = append(roots, u.String())
	}
	return roots, nil
}

func maxPages(brand models.BrandSpec) int {
	if brand.Options.MaxPages < 1 {
		return defaultMaxPages
	}
	return brand.Options.MaxPages
}

func (h *htmlListing) productPages(ctx context.Context, brand models.BrandSpec) ([]productPage, error) {
	roots, err := listingRoots(brand)
	if err != nil {
		return nil, err
	}

	p := parser.NewHTMLParser(h.selectors.WithOverrides(brand.Options))
	logger := h.logger.With("brand", brand.Name)

	var pages []productPage
	seen := make(map[string]bool)

	// each root paginates up to MaxPages on its own
	for _, root := range roots {
		found, err := h.walk(ctx, p, root, maxPages(brand), seen, logger)
		pages = append(pages, found...)
		if err != nil {
			return pages, err
		}
	}
	return pages, nil
}

// walk follows one listing root's "next" links, at most limit pages. URLs
// in seen are skipped and new ones are added to it.
func (h *htmlListing) walk(ctx context.Context, p *parser.HTMLParser, root string, limit int, seen map[string]bool, logger *slog.Logger) ([]productPage, error) {
	frontier := queue.NewFrontier(limit)
	if _, err := frontier.Push(&queue.Task{URL: root}); err != nil {
		return nil, err
	}

	var pages []productPage
	for {
		task, err := frontier.Pop()
		if errors.Is(err, queue.ErrQueueEmpty) {
			break
		}
		if err := ctx.Err(); err != nil {
			return pages, err
		}

		body, finalURL, err := h.load(ctx, task.URL)
		if err != nil {
			return pages, fmt.Errorf("failed to load listing %s: %w", task.URL, err)
		}

		listing, err := p.ParseListing(finalURL, body)
		if err != nil {
			return pages, fmt.Errorf("failed to parse listing %s: %w", task.URL, err)
		}

		fresh := 0
		for _, u := range listing.ProductURLs {
			if seen[u] {
				continue
			}
			seen[u] = true
			pages = append(pages, productPage{URL: u})
			fresh++
		}
		logger.Debug("Listing page parsed", "url", task.URL, "links", len(listing.ProductURLs), "new", fresh, "depth", task.Depth)

		if listing.NextPageURL == "" || fresh == 0 {
			continue
		}
		_, err = frontier.Push(&queue.Task{URL: listing.NextPageURL, Depth: task.Depth + 1})
		if errors.Is(err, queue.ErrQueueFull) {
			logger.Info("Page limit reached", "root", root, "max_pages", limit, "next", listing.NextPageURL)
		}
	}

	return pages, nil
}

// NewGeneric scrapes storefronts through structural selector heuristics.
func NewGeneric(f Fetcher, logger *slog.Logger) *Catalog {
	return newHTMLCatalog("generic", f, fetchLoader(f), parser.GenericSelectors(), logger)
}

// NewWooCommerce prefers WooCommerce product loop markup.
func NewWooCommerce(f Fetcher, logger *slog.Logger) *Catalog {
	return newHTMLCatalog("woocommerce", f, fetchLoader(f), parser.WooCommerceSelectors(), logger)
}

func newHTMLCatalog(name string, f Fetcher, load pageLoader, selectors parser.Selectors, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "scraper", "platform", name)
	return &Catalog{
		name:    name,
		fetcher: f,
		listing: &htmlListing{
			load:      load,
			selectors: selectors,
			logger:    logger,
		},
		selectors: selectors,
		logger:    logger,
	}
}
