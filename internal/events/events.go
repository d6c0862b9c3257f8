package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/maltedev/materials-scraper/internal/merge"
	"github.com/maltedev/materials-scraper/internal/models"
)

// Type names a change event on the materials stream.
type Type string

const (
	TypeMaterialAdded   Type = "material.added"
	TypeMaterialUpdated Type = "material.updated"
)

// DefaultStream is the Redis stream change events are appended to.
const DefaultStream = "materials:changes"

// Event describes one record that a merge added or changed.
type Event struct {
	ID           uuid.UUID              `json:"id"`
	Type         Type                   `json:"type"`
	Key          string                 `json:"key"`
	Brand        string                 `json:"brand"`
	MaterialType models.MaterialType    `json:"materialType"`
	Timestamp    time.Time              `json:"timestamp"`
	Record       *models.MaterialRecord `json:"record,omitempty"`
}

// FromChanges builds one event per added or updated key of a merge, in
// the order the merge reported them. Keys missing from ds are skipped.
func FromChanges(ds *models.Dataset, changes merge.ChangeSet, now time.Time) []Event {
	out := make([]Event, 0, len(changes.Added)+len(changes.Updated))
	appendAll := func(keys []string, t Type) {
		for _, key := range keys {
			rec, ok := ds.Find(key)
			if !ok {
				continue
			}
			copied := rec.Clone()
			out = append(out, Event{
				ID:           uuid.New(),
				Type:         t,
				Key:          key,
				Brand:        rec.Brand,
				MaterialType: rec.MaterialType,
				Timestamp:    now.UTC(),
				Record:       &copied,
			})
		}
	}
	appendAll(changes.Added, TypeMaterialAdded)
	appendAll(changes.Updated, TypeMaterialUpdated)
	return out
}
