package normalize

import (
	"regexp"
	"strings"

	"github.com/maltedev/materials-scraper/internal/models"
)

type keyword struct {
	re    *regexp.Regexp
	value string
}

func keywords(pairs ...string) []keyword {
	out := make([]keyword, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, keyword{re: regexp.MustCompile(`(?i)` + pairs[i]), value: pairs[i+1]})
	}
	return out
}

// First match wins, so more specific entries come first.
var (
	resinSubtypes = keywords(
		`\babs[\s-]*like\b`, "ABS-Like",
		`\bwater[\s-]*wash`, "Water Washable",
		`\bplant[\s-]*based\b|\bplant\b`, "Plant Based",
		`\bhigh[\s-]*temp`, "High Temp",
		`\bcastable\b|\bcasting\b`, "Castable",
		`\bdental\b|\bdenture\b|\bgingiva\b`, "Dental",
		`\btough\b|\bengineering\b`, "Tough",
		`\bflexible\b|\belastic\b|\brubber[\s-]*like\b`, "Flexible",
		`\bceramic\b`, "Ceramic",
		`\bstandard\b|\bbasic\b`, "Standard",
	)
	filamentSubtypes = keywords(
		`\bpla\s*\+|\bpla[\s-]*plus\b|\bpla\s*pro\b`, "PLA+",
		`\bpetg\b`, "PETG",
		`\basa\b`, "ASA",
		`\babs\b`, "ABS",
		`\btpu\b`, "TPU",
		`\btpe\b`, "TPE",
		`\bnylon\b|\bpa(?:6|12)?(?:-cf|-gf)?\b`, "Nylon",
		`\bpc\b|\bpolycarbonate\b`, "PC",
		`\bpva\b`, "PVA",
		`\bhips\b`, "HIPS",
		`\bpla\b`, "PLA",
	)
	colors = []struct {
		re   *regexp.Regexp
		name string
		hex  string
	}{
		{regexp.MustCompile(`(?i)\bblack\b`), "Black", "#000000"},
		{regexp.MustCompile(`(?i)\bwhite\b`), "White", "#ffffff"},
		{regexp.MustCompile(`(?i)\bgr[ae]y\b`), "Grey", "#808080"},
		{regexp.MustCompile(`(?i)\bred\b`), "Red", "#ef4444"},
		{regexp.MustCompile(`(?i)\bnavy\b`), "Navy", "#3f4756"},
		{regexp.MustCompile(`(?i)\bblue\b`), "Blue", "#3b82f6"},
		{regexp.MustCompile(`(?i)\bgreen\b`), "Green", "#22c55e"},
		{regexp.MustCompile(`(?i)\byellow\b`), "Yellow", "#eab308"},
		{regexp.MustCompile(`(?i)\borange\b`), "Orange", "#f97316"},
		{regexp.MustCompile(`(?i)\bpurple\b`), "Purple", "#a855f7"},
		{regexp.MustCompile(`(?i)\bpink\b`), "Pink", "#ec4899"},
		{regexp.MustCompile(`(?i)\bclear\b`), "Clear", "#e5e7eb"},
		{regexp.MustCompile(`(?i)\btransparent\b`), "Transparent", "#e5e7eb"},
		{regexp.MustCompile(`(?i)\bbeige\b`), "Beige", "#d4a574"},
		{regexp.MustCompile(`(?i)\bskin\b`), "Skin", "#d4a574"},
	}
	certifications = keywords(
		`\brohs\b`, "RoHS",
		`(?-i:\bREACH\b)`, "REACH",
		`\bfda\b`, "FDA",
		`\biso\s*10993\b`, "ISO 10993",
		`\ben\s*71\b`, "EN 71",
		`\bul\s*94\b`, "UL 94",
		`(?-i:\bCE\b)[\s-]*(?:marked|certified|compliant)`, "CE",
	)
)

// DetectSubtype classifies a title. It returns "" when nothing matches.
func DetectSubtype(title string, t models.MaterialType) string {
	list := resinSubtypes
	if t == models.MaterialFilament {
		list = filamentSubtypes
	}
	for _, k := range list {
		if k.re.MatchString(title) {
			return k.value
		}
	}
	return ""
}

// DetectColor returns the first color named in title, or nil.
func DetectColor(title string) *models.Color {
	for _, c := range colors {
		if c.re.MatchString(title) {
			return &models.Color{Name: c.name, Hex: c.hex}
		}
	}
	return nil
}

// DetectCertifications lists certifications mentioned in any of texts, in
// vocabulary order.
func DetectCertifications(texts ...string) []string {
	joined := strings.Join(texts, "\n")
	var out []string
	for _, k := range certifications {
		if k.re.MatchString(joined) {
			out = append(out, k.value)
		}
	}
	return out
}
