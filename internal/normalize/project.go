package normalize

import (
	"github.com/maltedev/materials-scraper/internal/models"
	"github.com/maltedev/materials-scraper/internal/tds"
)

// Defaults the legacy front-end expects when a record has no profile of its
// own. They exist only in the simple projection, never on MaterialRecord.
var DefaultResinProfile = models.ResinProfile{
	LayerHeight:      0.05,
	BottomLayerCount: 5,
	ExposureTime:     2.5,
	BottomExposure:   30,
	LiftDistance:     4,
	LiftSpeed:        60,
	RetractSpeed:     150,
}

const (
	defaultPrintTemp       = 200
	defaultBedTemp         = 50
	defaultFanSpeed        = 100
	defaultFilamentDensity = 1.24

	defaultResinType    = "Standard"
	defaultFilamentType = "PLA"
)

// Project derives the flattened record for the legacy front-end.
func Project(rec models.MaterialRecord) models.SimpleMaterialRecord {
	out := models.SimpleMaterialRecord{
		Brand:       rec.Brand,
		Name:        rec.Name,
		Image:       primaryImage(rec),
		Description: rec.Description,
	}
	if rec.Color != nil {
		out.Color = rec.Color.Hex
		out.ColorName = rec.Color.Name
	}

	switch rec.MaterialType {
	case models.MaterialFilament:
		out.Material = orDefault(rec.Subtype, defaultFilamentType)
		out.Tags = []string{out.Material}
		out.Params = filamentParams(rec)
	default:
		out.Type = orDefault(rec.Subtype, defaultResinType)
		out.Tags = []string{out.Type}
		out.Profiles = map[string]models.ResinProfile{"Default": DefaultResinProfile}
	}
	return out
}

// ProjectAll projects every record, preserving order.
func ProjectAll(records []models.MaterialRecord) []models.SimpleMaterialRecord {
	out := make([]models.SimpleMaterialRecord, 0, len(records))
	for _, r := range records {
		out = append(out, Project(r))
	}
	return out
}

func filamentParams(rec models.MaterialRecord) *models.FilamentParams {
	p := &models.FilamentParams{
		PrintTemp: defaultPrintTemp,
		BedTemp:   defaultBedTemp,
		FanSpeed:  defaultFanSpeed,
		Density:   defaultFilamentDensity,
	}
	if m, ok := rec.Property(tds.PrintTemp); ok {
		p.PrintTemp = m.Value
	}
	if m, ok := rec.Property(tds.BedTemp); ok {
		p.BedTemp = m.Value
	}
	if m, ok := rec.Property(tds.Density); ok {
		p.Density = m.Value
	}
	if m, ok := rec.Property(tds.TensileStrength); ok {
		v := m.Value
		p.TensileStrength = &v
	}
	if m, ok := rec.Property(tds.GlassTransition); ok {
		v := m.Value
		p.GlassTransition = &v
	}
	return p
}

// primaryImage prefers staff-curated images over scraped ones.
func primaryImage(rec models.MaterialRecord) string {
	if len(rec.Protected.CuratedImages) > 0 {
		return rec.Protected.CuratedImages[0]
	}
	if len(rec.Images) > 0 {
		return rec.Images[0]
	}
	return ""
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
