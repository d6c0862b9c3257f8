package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/maltedev/materials-scraper/internal/models"
	"github.com/maltedev/materials-scraper/internal/parser"
)

// shopifyPageSize is the largest page the products.json endpoint serves.
const shopifyPageSize = 250

type shopifyProduct struct {
	Title    string `json:"title"`
	Handle   string `json:"handle"`
	BodyHTML string `json:"body_html"`
	Variants []struct {
		Price     string `json:"price"`
		Available *bool  `json:"available"`
	} `json:"variants"`
	Images []struct {
		Src string `json:"src"`
	} `json:"images"`
}

type shopifyPage struct {
	Products []shopifyProduct `json:"products"`
}

// shopifyListing reads the public products.json catalog and falls back to
// HTML listing pages when the endpoint is unavailable.
type shopifyListing struct {
	fetcher  Fetcher
	fallback *htmlListing
	logger   *slog.Logger
}

// NewShopify lists products through products.json and reads detail pages
// with Shopify theme selectors.
func NewShopify(f Fetcher, logger *slog.Logger) *Catalog {
	c := newHTMLCatalog("shopify", f, fetchLoader(f), parser.ShopifySelectors(), logger)
	c.listing = &shopifyListing{
		fetcher:  f,
		fallback: c.listing.(*htmlListing),
		logger:   c.logger,
	}
	return c
}

// productsEndpoint maps a storefront URL to its products.json endpoint.
// Collection URLs keep their collection scope.
func productsEndpoint(base *url.URL) string {
	u := url.URL{Scheme: base.Scheme, Host: base.Host}
	path := strings.TrimSuffix(base.Path, "/")
	if i := strings.Index(path, "/collections/"); i >= 0 {
		handle := strings.SplitN(path[i+len("/collections/"):], "/", 2)[0]
		u.Path = path[:i] + "/collections/" + handle + "/products.json"
	} else {
		u.Path = "/products.json"
	}
	return u.String()
}

func (s *shopifyListing) productPages(ctx context.Context, brand models.BrandSpec) ([]productPage, error) {
	base, err := url.Parse(brand.BaseURL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", brand.BaseURL)
	}
	endpoint := productsEndpoint(base)
	logger := s.logger.With("brand", brand.Name)

	var pages []productPage
	seen := make(map[string]bool)

	for page := 1; page <= maxPages(brand); page++ {
		pageURL := fmt.Sprintf("%s?limit=%d&page=%d", endpoint, shopifyPageSize, page)
		products, err := s.fetchPage(ctx, pageURL)
		if err != nil {
			if page == 1 {
				logger.Info("products.json unavailable, using HTML listing", "url", pageURL, "error", err)
				return s.fallback.productPages(ctx, brand)
			}
			return pages, fmt.Errorf("failed to load listing %s: %w", pageURL, err)
		}

		fresh := 0
		for _, p := range products {
			if p.Handle == "" {
				continue
			}
			productURL := (&url.URL{Scheme: base.Scheme, Host: base.Host, Path: "/products/" + p.Handle}).String()
			if seen[productURL] {
				continue
			}
			seen[productURL] = true
			pages = append(pages, productPage{URL: productURL, Seed: p.seed(productURL)})
			fresh++
		}
		logger.Debug("products.json page read", "page", page, "products", len(products), "new", fresh)

		if fresh == 0 || len(products) < shopifyPageSize {
			break
		}
	}

	return pages, nil
}

func (s *shopifyListing) fetchPage(ctx context.Context, pageURL string) ([]shopifyProduct, error) {
	resp, err := s.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, fmt.Errorf("%w %d for %s", errStatus, resp.StatusCode, pageURL)
	}

	var page shopifyPage
	if err := json.Unmarshal(resp.Body, &page); err != nil {
		return nil, fmt.Errorf("failed to decode products.json: %w", err)
	}
	return page.Products, nil
}

func (p shopifyProduct) seed(productURL string) *models.RawProduct {
	raw := &models.RawProduct{SourceURL: productURL, Title: strings.TrimSpace(p.Title)}

	if len(p.Variants) > 0 {
		raw.PriceText = p.Variants[0].Price
	}
	for _, v := range p.Variants {
		if v.Available == nil {
			continue
		}
		available := *v.Available
		if raw.Available == nil || available {
			raw.Available = &available
		}
	}

	seen := make(map[string]bool)
	for _, img := range p.Images {
		src := img.Src
		if strings.HasPrefix(src, "//") {
			src = "https:" + src
		}
		if src == "" || seen[src] {
			continue
		}
		seen[src] = true
		raw.ImageURLs = append(raw.ImageURLs, src)
	}

	if p.BodyHTML != "" {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(p.BodyHTML)); err == nil {
			raw.DescriptionText = parser.CleanText(doc.Text(), 500)
		}
	}
	return raw
}
