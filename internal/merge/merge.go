package merge

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"time"

	"dario.cat/mergo"

	"github.com/maltedev/materials-scraper/internal/models"
)

// ErrKeyCollision marks two records of one batch that share a stable key.
// The later one wins.
var ErrKeyCollision = errors.New("stable key collision")

type Options struct {
	// Now stamps LastScrapedAt. Defaults to time.Now.
	Now func() time.Time
	// FullReplace takes every scraped field as is, even unset ones, instead
	// of only filling present values. Protected fields are kept either way.
	FullReplace bool
	// Overrides are curated protected fields keyed by stable key.
	Overrides map[string]models.Protected
}

type ChangeSet struct {
	Added     []string `json:"added"`
	Updated   []string `json:"updated"`
	Unchanged []string `json:"unchanged"`
	Curated   []string `json:"curated,omitempty"`
}

type Report struct {
	Added      int              `json:"added"`
	Updated    int              `json:"updated"`
	Unchanged  int              `json:"unchanged"`
	Collisions int              `json:"collisions"`
	Changes    ChangeSet        `json:"changes"`
	Warnings   []models.Warning `json:"warnings,omitempty"`
}

type Engine struct {
	opts   Options
	logger *slog.Logger
}

func New(opts Options, logger *slog.Logger) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{opts: opts, logger: logger.With("component", "merge")}
}

// Merge folds records into existing and returns a new dataset; existing is
// not modified. Existing records keep their position, new ones are appended
// in batch order, and records absent from the batch are retained.
func (e *Engine) Merge(existing *models.Dataset, records []models.MaterialRecord) (*models.Dataset, *Report) {
	now := e.opts.Now().UTC()
	report := &Report{}

	out := models.NewDataset()
	if existing != nil {
		out.Materials = make([]models.MaterialRecord, 0, len(existing.Materials)+len(records))
		for _, r := range existing.Materials {
			out.Materials = append(out.Materials, r.Clone())
		}
	}

	index := out.Index()
	for i := range out.Materials {
		if e.applyOverride(&out.Materials[i]) {
			report.Changes.Curated = append(report.Changes.Curated, out.Materials[i].Key)
		}
	}

	for _, rec := range e.dedupe(records, report) {
		pos, found := index[rec.Key]
		if !found {
			inserted := rec.Clone()
			inserted.Protected = models.Protected{}
			e.applyOverride(&inserted)
			inserted.LastScrapedAt = now

			index[rec.Key] = len(out.Materials)
			out.Materials = append(out.Materials, inserted)
			report.Added++
			report.Changes.Added = append(report.Changes.Added, rec.Key)
			continue
		}

		current := out.Materials[pos]
		var merged models.MaterialRecord
		if e.opts.FullReplace {
			merged = replaceFields(current, rec)
		} else {
			merged = mergeFields(current, rec)
		}

		if reflect.DeepEqual(merged, current) {
			report.Unchanged++
			report.Changes.Unchanged = append(report.Changes.Unchanged, rec.Key)
			continue
		}

		merged.LastScrapedAt = now
		out.Materials[pos] = merged
		report.Updated++
		report.Changes.Updated = append(report.Changes.Updated, rec.Key)
	}

	e.logger.Info("Merge complete",
		"existing", len(out.Materials)-report.Added,
		"added", report.Added,
		"updated", report.Updated,
		"unchanged", report.Unchanged,
		"collisions", report.Collisions)

	return out, report
}

// dedupe resolves batch collisions: the later record wins and takes the
// position of the first occurrence.
func (e *Engine) dedupe(records []models.MaterialRecord, report *Report) []models.MaterialRecord {
	out := make([]models.MaterialRecord, 0, len(records))
	seen := make(map[string]int, len(records))

	for _, rec := range records {
		pos, dup := seen[rec.Key]
		if !dup {
			seen[rec.Key] = len(out)
			out = append(out, rec)
			continue
		}

		prev := out[pos]
		err := fmt.Errorf("%w: %s and %s both map to %q", ErrKeyCollision, prev.SourceURL, rec.SourceURL, rec.Key)
		e.logger.Warn("Key collision in batch", "key", rec.Key, "kept", rec.SourceURL, "dropped", prev.SourceURL)

		report.Collisions++
		report.Warnings = append(report.Warnings, models.Warning{
			Kind:    models.WarnKeyCollision,
			Brand:   rec.Brand,
			Subject: rec.Key,
			Message: err.Error(),
		})
		out[pos] = rec
	}
	return out
}

// applyOverride overlays curated values onto the record's protected fields
// and reports whether anything changed.
func (e *Engine) applyOverride(rec *models.MaterialRecord) bool {
	override, ok := e.opts.Overrides[rec.Key]
	if !ok || override.IsZero() {
		return false
	}

	before := rec.Protected
	before.CuratedImages = slices.Clone(before.CuratedImages)

	if err := mergo.Merge(&rec.Protected, override, mergo.WithOverride); err != nil {
		e.logger.Error("Failed to apply curation override", "key", rec.Key, "error", err)
		return false
	}
	rec.Protected.CuratedImages = slices.Clone(rec.Protected.CuratedImages)
	return !reflect.DeepEqual(before, rec.Protected)
}

// mergeFields fills current with every value present on next. Unset values
// on next never erase present ones; protected fields are never touched.
func mergeFields(current, next models.MaterialRecord) models.MaterialRecord {
	out := current.Clone()
	n := next.Clone()

	setString(&out.Name, n.Name)
	setString(&out.Subtype, n.Subtype)
	setString(&out.Description, n.Description)
	setString(&out.SourceURL, n.SourceURL)
	setString(&out.TDSURL, n.TDSURL)
	if n.Tier != "" {
		out.Tier = n.Tier
	}
	if n.Color != nil {
		out.Color = n.Color
	}
	if len(n.Images) > 0 {
		out.Images = n.Images
	}
	if len(n.Certifications) > 0 {
		out.Certifications = n.Certifications
	}

	if n.Commercial.Price != nil {
		out.Commercial.Price = n.Commercial.Price
	}
	setString(&out.Commercial.Currency, n.Commercial.Currency)
	if n.Commercial.Available != nil {
		out.Commercial.Available = n.Commercial.Available
	}
	setString(&out.Commercial.PurchaseURL, n.Commercial.PurchaseURL)

	for name, m := range n.Properties {
		if old, ok := out.Properties[name]; ok && outranks(old, m) {
			continue
		}
		if out.Properties == nil {
			out.Properties = make(map[string]models.Measurement)
		}
		out.Properties[name] = m
	}

	return out
}

// replaceFields takes next wholesale but keeps identity, protected fields
// and the timestamp of current.
func replaceFields(current, next models.MaterialRecord) models.MaterialRecord {
	out := next.Clone()
	out.Key = current.Key
	out.Protected = current.Clone().Protected
	out.LastScrapedAt = current.LastScrapedAt
	return out
}

// outranks reports whether old should survive an update to next: a value
// read from a datasheet is not replaced by one read from a page table.
func outranks(old, next models.Measurement) bool {
	return old.Source == models.SourceDatasheet && next.Source == models.SourcePage
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
