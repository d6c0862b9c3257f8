package models

import "strings"

// DatasetVersion is bumped when the persisted layout changes incompatibly.
const DatasetVersion = 1

// Dataset is the durable state: records unique by Key, in insertion order.
type Dataset struct {
	Version   int              `json:"version"`
	Materials []MaterialRecord `json:"materials"`
}

func NewDataset() *Dataset {
	return &Dataset{Version: DatasetVersion, Materials: []MaterialRecord{}}
}

// Index maps each key to its position in Materials.
func (d *Dataset) Index() map[string]int {
	idx := make(map[string]int, len(d.Materials))
	for i, m := range d.Materials {
		idx[m.Key] = i
	}
	return idx
}

func (d *Dataset) Find(key string) (*MaterialRecord, bool) {
	for i := range d.Materials {
		if d.Materials[i].Key == key {
			return &d.Materials[i], true
		}
	}
	return nil, false
}

// Filter returns the records matching t and brand. Empty arguments match everything.
func (d *Dataset) Filter(t MaterialType, brand string) []MaterialRecord {
	out := make([]MaterialRecord, 0, len(d.Materials))
	for _, m := range d.Materials {
		if t != "" && m.MaterialType != t {
			continue
		}
		if brand != "" && !strings.EqualFold(m.Brand, brand) {
			continue
		}
		out = append(out, m)
	}
	return out
}
