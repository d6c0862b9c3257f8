package scraper

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/maltedev/materials-scraper/internal/fetcher"
	"github.com/maltedev/materials-scraper/internal/parser"
)

// renderLoader loads listing pages through the headless renderer. The
// robots policy and host spacing of the fetcher still apply.
func renderLoader(f Fetcher, r Renderer) pageLoader {
	return func(ctx context.Context, pageURL string) ([]byte, string, error) {
		ok, err := f.Allowed(ctx, pageURL)
		if err != nil {
			return nil, "", err
		}
		if !ok {
			return nil, "", fmt.Errorf("%w: %s", fetcher.ErrPolicyDenied, pageURL)
		}
		if err := f.Wait(ctx, pageURL); err != nil {
			return nil, "", err
		}
		body, err := r.Render(ctx, pageURL)
		if err != nil {
			return nil, "", fmt.Errorf("failed to render %s: %w", pageURL, err)
		}
		return body, pageURL, nil
	}
}

// NewJS renders listing pages of client-side storefronts before parsing
// them. Detail pages still go through the fetcher. Without a renderer the
// static HTML is used as is.
func NewJS(f Fetcher, r Renderer, logger *slog.Logger) *Catalog {
	load := fetchLoader(f)
	if r != nil {
		load = renderLoader(f, r)
	} else if logger != nil {
		logger.Debug("No renderer configured, js brands use static HTML")
	}
	return newHTMLCatalog("js", f, load, parser.GenericSelectors(), logger)
}
