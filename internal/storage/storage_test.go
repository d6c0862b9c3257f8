package storage

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/materials-scraper/internal/models"
)

func sampleDataset() *models.Dataset {
	price := 34.99
	return &models.Dataset{
		Version: models.DatasetVersion,
		Materials: []models.MaterialRecord{
			{
				Key:          "acme|tough resin|resin",
				Brand:        "Acme",
				Name:         "Tough Resin",
				MaterialType: models.MaterialResin,
				Commercial:   models.Commercial{Price: &price, Currency: "EUR"},
				Properties: map[string]models.Measurement{
					"viscosity":       {Value: 350, Unit: "cPs", Source: models.SourceDatasheet, Confidence: models.ConfidenceParsed},
					"tensileStrength": {Value: 45, Unit: "MPa", Source: models.SourcePage, Confidence: models.ConfidenceParsed},
				},
				Protected:     models.Protected{EditorialNote: "verified"},
				LastScrapedAt: time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC),
			},
		},
	}
}

func TestLoadMissingFileReturnsEmptyDataset(t *testing.T) {
	store := NewDatasetStore(filepath.Join(t.TempDir(), "materials.json"), "")

	ds, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, models.DatasetVersion, ds.Version)
	assert.Empty(t, ds.Materials)
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data", "materials.json")
	store := NewDatasetStore(path, "")

	want := sampleDataset()
	require.NoError(t, store.Save(want))

	got, err := store.Load()
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temporary files must not be left behind")
}

func TestSaveIsStableForDiffs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "materials.json")
	store := NewDatasetStore(path, "")

	require.NoError(t, store.Save(sampleDataset()))
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	require.NoError(t, store.Save(sampleDataset()))
	second, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
	assert.Less(t, bytes.Index(first, []byte("tensileStrength")), bytes.Index(first, []byte("viscosity")))
}

func TestSaveRejectsDuplicateKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "materials.json")
	store := NewDatasetStore(path, "")

	ds := sampleDataset()
	ds.Materials = append(ds.Materials, ds.Materials[0])

	err := store.Save(ds)
	assert.ErrorIs(t, err, ErrDatasetWrite)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestSaveFailureKeepsPreviousFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "materials.json")
	store := NewDatasetStore(path, "")
	require.NoError(t, store.Save(sampleDataset()))

	before, err := os.ReadFile(path)
	require.NoError(t, err)

	bad := sampleDataset()
	bad.Materials[0].Key = ""
	assert.ErrorIs(t, store.Save(bad), ErrDatasetWrite)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestLoadRejectsNewerVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "materials.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version": 99, "materials": []}`), 0o644))

	_, err := NewDatasetStore(path, "").Load()
	assert.Error(t, err)
}

func TestSaveSimple(t *testing.T) {
	dir := t.TempDir()
	store := NewDatasetStore(filepath.Join(dir, "materials.json"), filepath.Join(dir, "simple.json"))

	require.NoError(t, store.SaveSimple(nil))
	data, err := os.ReadFile(filepath.Join(dir, "simple.json"))
	require.NoError(t, err)
	assert.Equal(t, "[]\n", string(data))

	assert.ErrorIs(t, NewDatasetStore("x.json", "").SaveSimple(nil), ErrDatasetWrite)
}

func TestLoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "curation.json5")
	content := `{
  // staff notes survive every scrape
  "acme|tough resin|resin": {
    editorialNote: "verified",
    verifiedByStaff: true,
  },
  "acme|clear resin|resin": {
    curatedImages: ["https://cdn.example/clear.jpg"],
  },
}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	overrides, err := LoadOverrides(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]models.Protected{
		"acme|tough resin|resin": {EditorialNote: "verified", VerifiedByStaff: true},
		"acme|clear resin|resin": {CuratedImages: []string{"https://cdn.example/clear.jpg"}},
	}, overrides)
	assert.Equal(t, []string{"acme|clear resin|resin", "acme|tough resin|resin"}, OverrideKeys(overrides))

	missing, err := LoadOverrides(filepath.Join(t.TempDir(), "none.json5"))
	require.NoError(t, err)
	assert.Empty(t, missing)
}
