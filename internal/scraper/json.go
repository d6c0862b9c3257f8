package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/maltedev/materials-scraper/internal/models"
	"github.com/maltedev/materials-scraper/internal/parser"
)

// Keys tried after the brand's configured key, in order.
var (
	nameKeys        = []string{"name", "title", "product_name", "nombre"}
	priceKeys       = []string{"price", "precio", "cost"}
	imageKeys       = []string{"image", "image_url", "img", "thumbnail", "imagen", "images"}
	urlKeys         = []string{"url", "permalink", "link", "product_url"}
	descriptionKeys = []string{"description", "short_description", "descripcion"}
)

// jsonListing reads products straight from a JSON endpoint. Items carry
// the whole product, so no detail pages are fetched.
type jsonListing struct {
	fetcher Fetcher
	logger  *slog.Logger
}

// NewJSON scrapes brands whose base URL is a JSON product feed.
func NewJSON(f Fetcher, logger *slog.Logger) *Catalog {
	c := newHTMLCatalog("json", f, fetchLoader(f), parser.GenericSelectors(), logger)
	c.listing = &jsonListing{fetcher: f, logger: c.logger}
	return c
}

func (j *jsonListing) productPages(ctx context.Context, brand models.BrandSpec) ([]productPage, error) {
	endpoint, err := url.Parse(brand.BaseURL)
	if err != nil || endpoint.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", brand.BaseURL)
	}

	resp, err := j.fetcher.Fetch(ctx, endpoint.String())
	if err != nil {
		return nil, fmt.Errorf("failed to load listing %s: %w", endpoint, err)
	}
	if !resp.OK() {
		return nil, fmt.Errorf("failed to load listing %s: %w %d", endpoint, errStatus, resp.StatusCode)
	}

	var doc any
	if err := json.Unmarshal(resp.Body, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", endpoint, err)
	}

	final, err := url.Parse(resp.URL)
	if err != nil || final.Host == "" {
		final = endpoint
	}

	o := brand.Options
	items := navigate(doc, o.DataPath)

	var pages []productPage
	seen := make(map[string]bool)
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name := scalarText(lookup(obj, o.NameKey, nameKeys))
		if name == "" {
			continue
		}

		raw := &models.RawProduct{
			Title:           name,
			PriceText:       scalarText(lookup(obj, o.PriceKey, priceKeys)),
			DescriptionText: parser.CleanText(scalarText(lookup(obj, "", descriptionKeys)), 500),
		}
		if img := imageText(lookup(obj, o.ImageKey, imageKeys)); img != "" {
			if u, ok := parser.Resolve(final, img); ok {
				raw.ImageURLs = []string{u.String()}
			}
		}

		raw.SourceURL = itemURL(final, scalarText(lookup(obj, o.URLKey, urlKeys)), name)
		if seen[raw.SourceURL] {
			continue
		}
		seen[raw.SourceURL] = true
		pages = append(pages, productPage{URL: raw.SourceURL, Seed: raw, SeedOnly: true})
	}

	j.logger.Debug("JSON feed read", "brand", brand.Name, "url", endpoint.String(), "items", len(items), "products", len(pages))
	return pages, nil
}

// navigate follows path from the document root; numeric elements index
// arrays. A path that does not resolve yields nothing. A lone object is
// treated as a one-item list.
func navigate(doc any, path []string) []any {
	for _, key := range path {
		switch v := doc.(type) {
		case map[string]any:
			doc = v[key]
		case []any:
			i, err := strconv.Atoi(key)
			if err != nil || i < 0 || i >= len(v) {
				return nil
			}
			doc = v[i]
		}
	}

	switch v := doc.(type) {
	case []any:
		return v
	case map[string]any:
		return []any{v}
	}
	return nil
}

func lookup(obj map[string]any, preferred string, fallback []string) any {
	if preferred != "" {
		if v, ok := obj[preferred]; ok && !empty(v) {
			return v
		}
	}
	for _, key := range fallback {
		if v, ok := obj[key]; ok && !empty(v) {
			return v
		}
	}
	return nil
}

func empty(v any) bool {
	switch v := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case []any:
		return len(v) == 0
	}
	return false
}

func scalarText(v any) string {
	switch v := v.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

// imageText accepts a URL string, an object with src or url, or a list of
// either; lists give their first entry.
func imageText(v any) string {
	switch v := v.(type) {
	case string:
		return strings.TrimSpace(v)
	case map[string]any:
		if s := scalarText(v["src"]); s != "" {
			return s
		}
		return scalarText(v["url"])
	case []any:
		if len(v) > 0 {
			return imageText(v[0])
		}
	}
	return ""
}

// itemURL resolves the item's own link. Items without one are identified by
// name within the feed.
func itemURL(feed *url.URL, link, name string) string {
	if link != "" {
		if u, ok := parser.Resolve(feed, link); ok {
			return u.String()
		}
	}
	u := *feed
	u.Fragment = name
	return u.String()
}

// manualListing turns a curated list of product names into products. It
// serves vendors whose sites cannot be scraped.
type manualListing struct{}

// NewManual lists the brand's configured product names without fetching.
func NewManual(logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		name:    "manual",
		listing: manualListing{},
		logger:  logger.With("component", "scraper", "platform", "manual"),
	}
}

func (manualListing) productPages(_ context.Context, brand models.BrandSpec) ([]productPage, error) {
	base, err := url.Parse(brand.BaseURL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", brand.BaseURL)
	}

	var pages []productPage
	seen := make(map[string]bool)
	for _, name := range brand.Options.Products {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true

		raw := &models.RawProduct{SourceURL: itemURL(base, "", name), Title: name}
		if brand.Options.DefaultImage != "" {
			raw.ImageURLs = []string{brand.Options.DefaultImage}
		}
		pages = append(pages, productPage{URL: raw.SourceURL, Seed: raw, SeedOnly: true})
	}
	return pages, nil
}
