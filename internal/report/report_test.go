package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/maltedev/materials-scraper/internal/merge"
	"github.com/maltedev/materials-scraper/internal/models"
	"github.com/maltedev/materials-scraper/internal/pipeline"
)

func sampleSummary() *pipeline.Summary {
	return &pipeline.Summary{
		DatasetPath: "data/materials.json",
		DatasetSize: 12,
		Brands: []pipeline.BrandSummary{
			{Name: "Acme", MaterialType: models.MaterialResin, Platform: models.PlatformShopify, Scraped: 10, Skipped: 2, Warnings: 3},
			{Name: "Gone", MaterialType: models.MaterialFilament, Platform: models.PlatformGeneric, Failed: true, Warnings: 1},
		},
		Merge: &merge.Report{Added: 4, Updated: 1, Unchanged: 5},
		Warnings: []models.Warning{
			{Kind: models.WarnProductRejected, Brand: "Acme", Subject: "https://acme.example/products/kit", Message: "product rejected: hardware"},
			{Kind: models.WarnProductRejected, Brand: "Acme", Subject: "https://acme.example/products/cable", Message: "product rejected: hardware"},
			{Kind: models.WarnNetwork, Brand: "Acme", Subject: "https://acme.example", Message: "network error"},
			{Kind: models.WarnBrandScrapeFailed, Brand: "Gone", Subject: "https://gone.example", Message: "brand scrape failed"},
		},
		Errors: []string{"mirror: connection refused"},
	}
}

func TestSummary(t *testing.T) {
	var buf bytes.Buffer
	Summary(&buf, sampleSummary(), false)
	out := buf.String()

	assert.Contains(t, out, "Acme")
	assert.Contains(t, out, "failed")
	assert.Contains(t, out, "1 failed")
	assert.Contains(t, strings.ToLower(out), "merge into data/materials.json")
	assert.Contains(t, out, "product_rejected")
	assert.Contains(t, out, "error: mirror: connection refused")
	assert.NotContains(t, out, "https://acme.example/products/kit", "warnings are only counted unless verbose")

	buf.Reset()
	Summary(&buf, sampleSummary(), true)
	assert.Contains(t, buf.String(), "https://acme.example/products/kit")
}

func TestSummaryDryRunTitle(t *testing.T) {
	s := sampleSummary()
	s.DryRun = true

	var buf bytes.Buffer
	Summary(&buf, s, false)
	assert.Contains(t, strings.ToLower(buf.String()), "dry run")
}

func TestMaterials(t *testing.T) {
	price := 34.99
	records := []models.MaterialRecord{
		{Brand: "Acme", Name: "Tough Resin", MaterialType: models.MaterialResin, Commercial: models.Commercial{Price: &price, Currency: "EUR"}, LastScrapedAt: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)},
		{Brand: "Acme", Name: "Clear Resin", MaterialType: models.MaterialResin},
	}

	var buf bytes.Buffer
	Materials(&buf, records)
	out := buf.String()

	assert.Contains(t, out, "34.99 EUR")
	assert.Contains(t, out, "2026-02-01")
	assert.Contains(t, out, "2 records")
}
