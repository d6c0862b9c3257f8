package normalize

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"

	"github.com/maltedev/materials-scraper/internal/models"
	"github.com/maltedev/materials-scraper/internal/tds"
)

var (
	// ErrNormalizationAmbiguity marks a field that could not be read. The
	// field is left unset and the record proceeds.
	ErrNormalizationAmbiguity = errors.New("normalization ambiguity")
	// ErrProductRejected marks a scraped item that is not a material of the
	// brand's type (printers, spare parts, promotions).
	ErrProductRejected = errors.New("product rejected")
)

// Normalizer maps raw products onto MaterialRecord.
type Normalizer struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{logger: logger.With("component", "normalize")}
}

// Normalize converts raw plus optional datasheet properties into a record.
// Fields without evidence stay unset. Non-fatal problems come back as
// warnings; the error is non-nil only when the product is rejected.
// LastScrapedAt is left for the merge engine to stamp.
func (n *Normalizer) Normalize(raw models.RawProduct, props []models.ExtractedProperty, brand models.BrandSpec) (models.MaterialRecord, []models.Warning, error) {
	if err := Validate(raw.Title, brand.MaterialType); err != nil {
		return models.MaterialRecord{}, nil, err
	}

	var warnings []models.Warning
	warn := func(err error) {
		warnings = append(warnings, models.Warning{
			Kind:    models.WarnNormalizationAmbiguity,
			Brand:   brand.Name,
			Subject: raw.SourceURL,
			Message: err.Error(),
		})
	}

	name := DisplayName(raw.Title, brand.Name)
	rec := models.MaterialRecord{
		Key:            Key(brand, raw.Title),
		Brand:          brand.Name,
		Name:           name,
		MaterialType:   brand.MaterialType,
		Tier:           brand.Tier,
		Subtype:        DetectSubtype(raw.Title, brand.MaterialType),
		Color:          DetectColor(raw.Title),
		Description:    raw.DescriptionText,
		Images:         slices.Clone(raw.ImageURLs),
		Certifications: DetectCertifications(raw.Title, raw.DescriptionText, specText(raw.SpecTable)),
		SourceURL:      raw.SourceURL,
		TDSURL:         raw.TDSDocumentURL,
		Commercial: models.Commercial{
			PurchaseURL: raw.SourceURL,
		},
	}

	if raw.Available != nil {
		available := *raw.Available
		rec.Commercial.Available = &available
	}

	if raw.PriceText != "" {
		amount, currency, err := ParsePrice(raw.PriceText, brand.Currency)
		if err != nil {
			warn(err)
		} else {
			rec.Commercial.Price = &amount
			rec.Commercial.Currency = currency
		}
	}

	properties, errs := pageProperties(raw.SpecTable)
	for _, err := range errs {
		warn(err)
	}
	for _, p := range props {
		// datasheet values are higher fidelity than page tables
		properties[p.Name] = models.Measurement{
			Value:      p.Value,
			Unit:       p.Unit,
			Source:     models.SourceDatasheet,
			Confidence: p.Confidence,
		}
	}
	if len(properties) > 0 {
		rec.Properties = properties
	}

	if len(warnings) > 0 {
		n.logger.Debug("normalized with warnings", "brand", brand.Name, "url", raw.SourceURL, "warnings", len(warnings))
	}
	return rec, warnings, nil
}

// pageProperties reads the spec table. Keys are visited in sorted order so
// that the first readable value per property is deterministic.
func pageProperties(table map[string]string) (map[string]models.Measurement, []error) {
	out := make(map[string]models.Measurement)
	var errs []error

	keys := make([]string, 0, len(table))
	for k := range table {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		name, hint, ok := CanonicalProperty(key)
		if !ok {
			continue
		}
		if _, done := out[name]; done {
			continue
		}

		value := table[key]
		prop, ok := tds.ParseValue(name, value)
		if !ok && hint != "" {
			if name == tds.ShoreHardness {
				prop, ok = tds.ParseValue(name, "Shore "+hint+" "+value)
			} else {
				prop, ok = tds.ParseValue(name, "("+hint+") "+value)
			}
		}
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %s value %q", ErrNormalizationAmbiguity, name, value))
			continue
		}

		out[name] = models.Measurement{
			Value:      prop.Value,
			Unit:       prop.Unit,
			Source:     models.SourcePage,
			Confidence: prop.Confidence,
		}
	}
	return out, errs
}

func specText(table map[string]string) string {
	var b strings.Builder
	for k, v := range table {
		b.WriteString(k)
		b.WriteString(" ")
		b.WriteString(v)
		b.WriteString("\n")
	}
	return b.String()
}
