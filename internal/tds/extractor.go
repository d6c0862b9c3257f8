package tds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/maltedev/materials-scraper/internal/fetcher"
	"github.com/maltedev/materials-scraper/internal/models"
)

// ErrLowConfidenceExtraction marks a datasheet that yielded no properties.
// It is only ever reported as a warning.
var ErrLowConfidenceExtraction = errors.New("low confidence extraction")

// Fetcher is the part of fetcher.FetchContext the extractor needs.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*fetcher.Response, error)
}

type Result struct {
	Properties []models.ExtractedProperty
	// Warnings wrap ErrLowConfidenceExtraction.
	Warnings []error
}

// Empty reports whether nothing was extracted.
func (r Result) Empty() bool {
	return len(r.Properties) == 0
}

type Extractor struct {
	cache  Cache
	logger *slog.Logger
}

// NewExtractor returns an Extractor. cache may be nil.
func NewExtractor(cache Cache, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		cache:  cache,
		logger: logger.With("component", "tds"),
	}
}

// ExtractFromURL downloads a datasheet and extracts its properties. It never
// returns an error: download and parse failures become warnings.
func (e *Extractor) ExtractFromURL(ctx context.Context, f Fetcher, documentURL string) Result {
	resp, err := f.Fetch(ctx, documentURL)
	if err != nil {
		return e.lowConfidence(documentURL, fmt.Errorf("failed to download datasheet: %w", err))
	}
	if !resp.OK() {
		return e.lowConfidence(documentURL, fmt.Errorf("datasheet request returned status %d", resp.StatusCode))
	}
	if ct := strings.ToLower(resp.ContentType); strings.HasPrefix(ct, "text/html") {
		return e.lowConfidence(documentURL, fmt.Errorf("datasheet link points at an html page"))
	}

	return e.extract(documentURL, resp.Body)
}

// ExtractFromBytes extracts properties from a local document body.
func (e *Extractor) ExtractFromBytes(data []byte) Result {
	return e.extract("bytes", data)
}

func (e *Extractor) extract(source string, data []byte) Result {
	key := DocumentKey(data)
	if e.cache != nil {
		if props, ok := e.cache.Get(key); ok {
			e.logger.Debug("datasheet cache hit", "source", source, "properties", len(props))
			if len(props) == 0 {
				return e.lowConfidence(source, errors.New("no properties found"))
			}
			return Result{Properties: props}
		}
	}

	lines, err := PDFLines(data)
	if err != nil {
		return e.lowConfidence(source, err)
	}

	props := ExtractLines(lines)
	if e.cache != nil {
		if err := e.cache.Put(key, props); err != nil {
			e.logger.Warn("Failed to cache datasheet result", "source", source, "error", err)
		}
	}

	if len(props) == 0 {
		return e.lowConfidence(source, fmt.Errorf("no properties found in %d lines", len(lines)))
	}

	e.logger.Debug("datasheet parsed", "source", source, "lines", len(lines), "properties", len(props))
	return Result{Properties: props}
}

func (e *Extractor) lowConfidence(source string, cause error) Result {
	e.logger.Warn("Datasheet yielded no properties", "source", source, "error", cause)
	return Result{
		Warnings: []error{fmt.Errorf("%w: %s: %v", ErrLowConfidenceExtraction, source, cause)},
	}
}
