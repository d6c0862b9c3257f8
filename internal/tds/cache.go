package tds

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/maltedev/materials-scraper/internal/models"
)

// Cache remembers extraction results per document body so that unchanged
// datasheets are not parsed again on the next run.
type Cache interface {
	Get(key string) ([]models.ExtractedProperty, bool)
	Put(key string, props []models.ExtractedProperty) error
	Close() error
}

// DocumentKey is the cache key for a document body.
func DocumentKey(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// PebbleCache stores extraction results in a pebble database.
type PebbleCache struct {
	db *pebble.DB
}

func OpenPebbleCache(dir string) (*PebbleCache, error) {
	db, err := pebble.Open(filepath.Clean(dir), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open datasheet cache: %w", err)
	}
	return &PebbleCache{db: db}, nil
}

func (c *PebbleCache) Get(key string) ([]models.ExtractedProperty, bool) {
	v, closer, err := c.db.Get([]byte(key))
	if err != nil {
		return nil, false
	}
	defer closer.Close()

	var props []models.ExtractedProperty
	if err := json.Unmarshal(v, &props); err != nil {
		return nil, false
	}
	return props, true
}

func (c *PebbleCache) Put(key string, props []models.ExtractedProperty) error {
	data, err := json.Marshal(props)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}
	if err := c.db.Set([]byte(key), data, pebble.NoSync); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

func (c *PebbleCache) Close() error {
	if err := c.db.Close(); err != nil && !errors.Is(err, pebble.ErrClosed) {
		return err
	}
	return nil
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string][]models.ExtractedProperty
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string][]models.ExtractedProperty)}
}

func (c *MemoryCache) Get(key string) ([]models.ExtractedProperty, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	props, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return append([]models.ExtractedProperty(nil), props...), true
}

func (c *MemoryCache) Put(key string, props []models.ExtractedProperty) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = append([]models.ExtractedProperty(nil), props...)
	return nil
}

func (c *MemoryCache) Close() error { return nil }
