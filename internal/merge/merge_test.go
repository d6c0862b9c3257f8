package merge

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/materials-scraper/internal/models"
)

var (
	t0 = time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)
	t1 = time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	t2 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

func ptr[T any](v T) *T { return &v }

func engine(now time.Time, opts ...func(*Options)) *Engine {
	o := Options{Now: func() time.Time { return now }}
	for _, fn := range opts {
		fn(&o)
	}
	return New(o, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func record(brand, name, url string) models.MaterialRecord {
	return models.MaterialRecord{
		Key:          models.StableKey(brand, name, models.MaterialResin),
		Brand:        brand,
		Name:         name,
		MaterialType: models.MaterialResin,
		SourceURL:    url,
	}
}

func existingDataset() *models.Dataset {
	verified := record("Acme", "tough resin", "https://acme.example/products/tough")
	verified.Description = "Old description"
	verified.Commercial.Price = ptr(30.0)
	verified.Commercial.Currency = "EUR"
	verified.Protected = models.Protected{EditorialNote: "verified", VerifiedByStaff: true}
	verified.Properties = map[string]models.Measurement{
		"viscosity": {Value: 300, Unit: "cPs", Source: models.SourceDatasheet, Confidence: models.ConfidenceParsed},
	}
	verified.LastScrapedAt = t0

	discontinued := record("Acme", "legacy grey", "https://acme.example/products/legacy")
	discontinued.LastScrapedAt = t0

	return &models.Dataset{Version: models.DatasetVersion, Materials: []models.MaterialRecord{verified, discontinued}}
}

func TestMergeIntoEmptyDataset(t *testing.T) {
	batch := []models.MaterialRecord{
		record("Acme", "clear resin", "https://acme.example/products/clear"),
		record("Acme", "abs-like resin", "https://acme.example/products/abs"),
	}

	out, report := engine(t1).Merge(nil, batch)

	require.Len(t, out.Materials, 2)
	assert.Equal(t, "acme|clear resin|resin", out.Materials[0].Key)
	assert.Equal(t, "acme|abs-like resin|resin", out.Materials[1].Key)
	for _, m := range out.Materials {
		assert.Equal(t, t1, m.LastScrapedAt)
	}
	assert.Equal(t, 2, report.Added)
	assert.Equal(t, []string{"acme|clear resin|resin", "acme|abs-like resin|resin"}, report.Changes.Added)
}

func TestMergeIsIdempotent(t *testing.T) {
	update := record("Acme", "tough resin", "https://acme.example/products/tough")
	update.Description = "New description"
	update.Commercial.Price = ptr(34.99)
	fresh := record("Acme", "clear resin", "https://acme.example/products/clear")
	batch := []models.MaterialRecord{update, fresh}

	once, first := engine(t1).Merge(existingDataset(), batch)
	twice, second := engine(t2).Merge(once, batch)

	if diff := cmp.Diff(once, twice); diff != "" {
		t.Errorf("second merge changed the dataset (-once +twice):\n%s", diff)
	}
	assert.Equal(t, 1, first.Added)
	assert.Equal(t, 1, first.Updated)
	assert.Equal(t, 0, second.Added)
	assert.Equal(t, 0, second.Updated)
	assert.Equal(t, 2, second.Unchanged)
}

func TestMergeIsNonDestructive(t *testing.T) {
	update := record("Acme", "tough resin", "https://acme.example/products/tough")
	update.Subtype = "Tough"
	update.Properties = map[string]models.Measurement{
		"tensileStrength": {Value: 45, Unit: "MPa", Source: models.SourcePage, Confidence: models.ConfidenceParsed},
	}

	out, report := engine(t1).Merge(existingDataset(), []models.MaterialRecord{update})
	got := out.Materials[0]

	assert.Equal(t, "Old description", got.Description)
	require.NotNil(t, got.Commercial.Price)
	assert.Equal(t, 30.0, *got.Commercial.Price)
	assert.Equal(t, "EUR", got.Commercial.Currency)
	assert.Equal(t, "Tough", got.Subtype)
	assert.Len(t, got.Properties, 2)
	assert.Equal(t, t1, got.LastScrapedAt)
	assert.Equal(t, 1, report.Updated)
}

func TestMergeKeepsProtectedFields(t *testing.T) {
	tests := []struct {
		name      string
		protected models.Protected
	}{
		{"new record has no note", models.Protected{}},
		{"new record carries a note", models.Protected{EditorialNote: "scraped text", CuratedImages: []string{"x.jpg"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, full := range []bool{false, true} {
				update := record("Acme", "tough resin", "https://acme.example/products/tough")
				update.Protected = tt.protected

				out, _ := engine(t1, func(o *Options) { o.FullReplace = full }).Merge(existingDataset(), []models.MaterialRecord{update})
				assert.Equal(t, models.Protected{EditorialNote: "verified", VerifiedByStaff: true}, out.Materials[0].Protected)
			}
		})
	}
}

func TestMergeKeyIncludesBrand(t *testing.T) {
	other := record("Other Brand", "tough resin", "https://other.example/products/tough")

	out, report := engine(t1).Merge(existingDataset(), []models.MaterialRecord{other})

	require.Len(t, out.Materials, 3)
	assert.Equal(t, 1, report.Added)
	assert.Equal(t, 0, report.Collisions)
	assert.Equal(t, "verified", out.Materials[0].Protected.EditorialNote)
	assert.Equal(t, "other brand|tough resin|resin", out.Materials[2].Key)
	assert.Empty(t, out.Materials[2].Protected.EditorialNote)
}

func TestMergeBatchCollision(t *testing.T) {
	first := record("Acme", "clear resin", "https://acme.example/products/clear-500")
	second := record("Acme", "clear resin", "https://acme.example/products/clear-1000")
	other := record("Acme", "grey resin", "https://acme.example/products/grey")

	out, report := engine(t1).Merge(nil, []models.MaterialRecord{first, other, second})

	require.Len(t, out.Materials, 2)
	assert.Equal(t, "https://acme.example/products/clear-1000", out.Materials[0].SourceURL)
	assert.Equal(t, "acme|grey resin|resin", out.Materials[1].Key)
	assert.Equal(t, 1, report.Collisions)
	require.Len(t, report.Warnings, 1)
	assert.Equal(t, models.WarnKeyCollision, report.Warnings[0].Kind)
	assert.Contains(t, report.Warnings[0].Message, ErrKeyCollision.Error())
}

func TestMergeRetainsAbsentRecordsAndTimestamps(t *testing.T) {
	unchanged := record("Acme", "tough resin", "https://acme.example/products/tough")

	out, report := engine(t1).Merge(existingDataset(), []models.MaterialRecord{unchanged})

	require.Len(t, out.Materials, 2)
	assert.Equal(t, t0, out.Materials[0].LastScrapedAt)
	assert.Equal(t, "acme|legacy grey|resin", out.Materials[1].Key)
	assert.Equal(t, t0, out.Materials[1].LastScrapedAt)
	assert.Equal(t, 1, report.Unchanged)
}

func TestMergeDoesNotMutateInput(t *testing.T) {
	existing := existingDataset()
	update := record("Acme", "tough resin", "https://acme.example/products/tough")
	update.Commercial.Price = ptr(99.0)
	update.Properties = map[string]models.Measurement{"density": {Value: 1.1, Unit: "g/cm3", Source: models.SourceDatasheet}}

	engine(t1).Merge(existing, []models.MaterialRecord{update})

	if diff := cmp.Diff(existingDataset(), existing); diff != "" {
		t.Errorf("input dataset modified (-want +got):\n%s", diff)
	}
}

func TestMergeFullReplace(t *testing.T) {
	update := record("Acme", "tough resin", "https://acme.example/products/tough")

	out, report := engine(t1, func(o *Options) { o.FullReplace = true }).Merge(existingDataset(), []models.MaterialRecord{update})
	got := out.Materials[0]

	assert.Empty(t, got.Description)
	assert.Nil(t, got.Commercial.Price)
	assert.Nil(t, got.Properties)
	assert.Equal(t, "verified", got.Protected.EditorialNote)
	assert.Equal(t, t1, got.LastScrapedAt)
	assert.Equal(t, 1, report.Updated)
}

func TestMergeDatasheetOutranksPage(t *testing.T) {
	update := record("Acme", "tough resin", "https://acme.example/products/tough")
	update.Properties = map[string]models.Measurement{
		"viscosity": {Value: 500, Unit: "cPs", Source: models.SourcePage, Confidence: models.ConfidenceParsed},
	}

	out, _ := engine(t1).Merge(existingDataset(), []models.MaterialRecord{update})
	assert.Equal(t, 300.0, out.Materials[0].Properties["viscosity"].Value)

	update.Properties["viscosity"] = models.Measurement{Value: 320, Unit: "cPs", Source: models.SourceDatasheet}
	out, _ = engine(t1).Merge(existingDataset(), []models.MaterialRecord{update})
	assert.Equal(t, 320.0, out.Materials[0].Properties["viscosity"].Value)
}

func TestMergeCurationOverrides(t *testing.T) {
	overrides := map[string]models.Protected{
		"acme|legacy grey|resin": {EditorialNote: "Discontinued by vendor"},
		"acme|clear resin|resin": {VerifiedByStaff: true, CuratedImages: []string{"https://cdn.example/clear.jpg"}},
	}
	withOverrides := func(o *Options) { o.Overrides = overrides }

	fresh := record("Acme", "clear resin", "https://acme.example/products/clear")
	out, report := engine(t1, withOverrides).Merge(existingDataset(), []models.MaterialRecord{fresh})

	require.Len(t, out.Materials, 3)
	assert.Equal(t, "Discontinued by vendor", out.Materials[1].Protected.EditorialNote)
	assert.Equal(t, t0, out.Materials[1].LastScrapedAt)
	assert.True(t, out.Materials[2].Protected.VerifiedByStaff)
	assert.Equal(t, []string{"https://cdn.example/clear.jpg"}, out.Materials[2].Protected.CuratedImages)
	assert.Equal(t, []string{"acme|legacy grey|resin"}, report.Changes.Curated)

	again, report := engine(t2, withOverrides).Merge(out, []models.MaterialRecord{fresh})
	if diff := cmp.Diff(out, again); diff != "" {
		t.Errorf("overrides are not idempotent (-first +second):\n%s", diff)
	}
	assert.Empty(t, report.Changes.Curated)
}
