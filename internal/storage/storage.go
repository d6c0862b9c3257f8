package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/titanous/json5"

	"github.com/maltedev/materials-scraper/internal/models"
)

// ErrDatasetWrite aborts a run: the dataset could not be persisted.
var ErrDatasetWrite = errors.New("dataset write failed")

// DatasetStore reads and writes the dataset file. Writes go to a temporary
// file in the same directory which is then renamed over the target, so a
// crash never leaves a half-written dataset behind.
type DatasetStore struct {
	mu         sync.RWMutex
	path       string
	simplePath string
}

func NewDatasetStore(path, simplePath string) *DatasetStore {
	return &DatasetStore{path: path, simplePath: simplePath}
}

func (s *DatasetStore) Path() string { return s.path }

// Load reads the dataset. A missing file yields an empty dataset.
func (s *DatasetStore) Load() (*models.Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return models.NewDataset(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}

	ds := models.NewDataset()
	if err := json.Unmarshal(data, ds); err != nil {
		return nil, fmt.Errorf("failed to parse dataset %s: %w", s.path, err)
	}
	if ds.Version > models.DatasetVersion {
		return nil, fmt.Errorf("dataset %s has version %d, newer than supported %d", s.path, ds.Version, models.DatasetVersion)
	}
	if ds.Materials == nil {
		ds.Materials = []models.MaterialRecord{}
	}
	if err := checkUnique(ds); err != nil {
		return nil, fmt.Errorf("dataset %s: %w", s.path, err)
	}
	return ds, nil
}

// Save persists the dataset atomically.
func (s *DatasetStore) Save(ds *models.Dataset) error {
	if err := checkUnique(ds); err != nil {
		return fmt.Errorf("%w: %v", ErrDatasetWrite, err)
	}
	ds.Version = models.DatasetVersion

	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSON(s.path, ds)
}

// SaveSimple writes the simple projection next to the dataset.
func (s *DatasetStore) SaveSimple(records []models.SimpleMaterialRecord) error {
	if s.simplePath == "" {
		return fmt.Errorf("%w: no simple export path configured", ErrDatasetWrite)
	}
	if records == nil {
		records = []models.SimpleMaterialRecord{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSON(s.simplePath, records)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: failed to encode: %v", ErrDatasetWrite, err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: failed to create %s: %v", ErrDatasetWrite, dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: failed to create temp file: %v", ErrDatasetWrite, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: failed to write temp file: %v", ErrDatasetWrite, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: failed to sync temp file: %v", ErrDatasetWrite, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: failed to close temp file: %v", ErrDatasetWrite, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("%w: failed to chmod temp file: %v", ErrDatasetWrite, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("%w: failed to rename into place: %v", ErrDatasetWrite, err)
	}
	return nil
}

func checkUnique(ds *models.Dataset) error {
	seen := make(map[string]struct{}, len(ds.Materials))
	for _, m := range ds.Materials {
		if m.Key == "" {
			return fmt.Errorf("record %q has no key", m.Name)
		}
		if _, dup := seen[m.Key]; dup {
			return fmt.Errorf("duplicate key %q", m.Key)
		}
		seen[m.Key] = struct{}{}
	}
	return nil
}

// LoadOverrides reads curated protected fields keyed by stable key from a
// json5 file. A missing file yields no overrides.
func LoadOverrides(path string) (map[string]models.Protected, error) {
	if path == "" {
		return map[string]models.Protected{}, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]models.Protected{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read curation file: %w", err)
	}

	overrides := map[string]models.Protected{}
	if err := json5.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("failed to parse curation file %s: %w", path, err)
	}
	return overrides, nil
}

// OverrideKeys lists override keys in sorted order.
func OverrideKeys(overrides map[string]models.Protected) []string {
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
