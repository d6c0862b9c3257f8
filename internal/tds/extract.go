package tds

import (
	"sort"
	"strconv"
	"strings"

	"github.com/maltedev/materials-scraper/internal/models"
	"github.com/maltedev/materials-scraper/internal/units"
)

// ExtractLines scans ordered text lines for vocabulary properties. A value
// must sit on the label's line or on the line right after it; anything
// further away is dropped. The first match per property wins and the result
// is sorted by name.
func ExtractLines(lines []string) []models.ExtractedProperty {
	found := make(map[string]models.ExtractedProperty)

	for i, line := range lines {
		var next string
		if i+1 < len(lines) && !hasLabel(lines[i+1]) {
			next = lines[i+1]
		}

		for _, p := range vocabulary {
			if _, done := found[p.name]; done {
				continue
			}
			loc := p.label.FindStringIndex(line)
			if loc == nil {
				continue
			}
			rest := line[loc[1]:]
			if prop, ok := p.parse(rest); ok {
				found[p.name] = prop
			} else if prop, ok := p.parse(next); ok && next != "" {
				found[p.name] = prop
			}
		}

		if _, done := found[ShoreHardness]; !done {
			if loc := hardnessLabel.FindStringIndex(line); loc != nil {
				if prop, ok := parseHardness(line[loc[1]:]); ok {
					found[ShoreHardness] = prop
				} else if prop, ok := parseHardness(next); ok && next != "" {
					found[ShoreHardness] = prop
				}
			}
		}
	}

	out := make([]models.ExtractedProperty, 0, len(found))
	for _, prop := range found {
		out = append(out, prop)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ExtractText splits text into lines and runs ExtractLines.
func ExtractText(text string) []models.ExtractedProperty {
	return ExtractLines(strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n"))
}

// ParseValue reads text as a value of the named property, the way a spec
// table cell holds it ("45 MPa", "(MPa) 45", "80 Shore D").
func ParseValue(name, text string) (models.ExtractedProperty, bool) {
	if name == ShoreHardness {
		return parseHardness(text)
	}
	for _, p := range vocabulary {
		if p.name == name {
			return p.parse(text)
		}
	}
	return models.ExtractedProperty{}, false
}

func hasLabel(line string) bool {
	if hardnessLabel.MatchString(line) {
		return true
	}
	for _, p := range vocabulary {
		if p.label.MatchString(line) {
			return true
		}
	}
	return false
}

func (p property) parse(s string) (models.ExtractedProperty, bool) {
	if s == "" {
		return models.ExtractedProperty{}, false
	}
	s = stripStandards(s)

	if m := p.value.FindStringSubmatch(s); m != nil {
		return p.build(m[1], m[2], m[3])
	}

	// unit stated once in a header, value after it: "(MPa) 45"
	if loc := p.header.FindStringSubmatchIndex(s); loc != nil {
		unit := s[loc[2]:loc[3]]
		if m := numberOnly.FindStringSubmatch(s[loc[1]:]); m != nil {
			return p.build(m[1], m[2], unit)
		}
	}

	return models.ExtractedProperty{}, false
}

func (p property) build(first, second, unit string) (models.ExtractedProperty, bool) {
	value, confidence, ok := parseNumber(first, second, commaIsDecimal(unit))
	if !ok {
		return models.ExtractedProperty{}, false
	}

	dim, err := units.DimensionOf(unit)
	if err != nil || dim != p.dim {
		return models.ExtractedProperty{}, false
	}
	converted, canonical, err := units.ToCanonical(value, unit)
	if err != nil || !p.plausible(converted) {
		return models.ExtractedProperty{}, false
	}

	return models.ExtractedProperty{
		Name:       p.name,
		Value:      round(converted),
		Unit:       canonical,
		Confidence: confidence,
	}, true
}

func parseHardness(s string) (models.ExtractedProperty, bool) {
	if s == "" {
		return models.ExtractedProperty{}, false
	}
	s = stripStandards(s)

	var scale, first, second string
	if m := shoreBefore.FindStringSubmatch(s); m != nil {
		scale, first, second = m[1], m[2], m[3]
	} else if m := shoreAfter.FindStringSubmatch(s); m != nil {
		first, second, scale = m[1], m[2], m[3]
	} else {
		return models.ExtractedProperty{}, false
	}

	value, confidence, ok := parseNumber(first, second, false)
	if !ok || value < 0 || value > 100 {
		return models.ExtractedProperty{}, false
	}

	unit := units.ShoreD
	if strings.EqualFold(scale, "A") {
		unit = units.ShoreA
	}

	return models.ExtractedProperty{
		Name:       ShoreHardness,
		Value:      round(value),
		Unit:       unit,
		Confidence: confidence,
	}, true
}

func stripStandards(s string) string {
	return standardRef.ReplaceAllString(s, " ")
}

// parseNumber reads a value or a range. A range yields its midpoint with
// inferred confidence.
func parseNumber(first, second string, commaDecimal bool) (float64, models.Confidence, bool) {
	a, ok := parseDecimal(first, commaDecimal)
	if !ok {
		return 0, "", false
	}
	if second == "" {
		return a, models.ConfidenceParsed, true
	}
	b, ok := parseDecimal(second, commaDecimal)
	if !ok {
		return a, models.ConfidenceParsed, true
	}
	return (a + b) / 2, models.ConfidenceInferred, true
}

// ParseDecimal accepts "45", "1.12", "1,12", "1,200" and "1.234,5". A lone
// comma followed by exactly three digits is a thousands separator unless
// the integer part is zero; otherwise the right-most separator is the
// decimal point.
func ParseDecimal(s string) (float64, bool) {
	return parseDecimal(s, false)
}

// parseDecimal is ParseDecimal, except that with commaDecimal set a single
// comma is always the decimal mark.
func parseDecimal(s string, commaDecimal bool) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")

	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		intPart := strings.TrimLeft(s[:lastComma], "+-")
		thousands := len(s)-lastComma-1 == 3 && intPart != "0" && !commaDecimal
		if strings.Count(s, ",") > 1 || thousands {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.Replace(s, ",", ".", 1)
		}
	case strings.Count(s, ".") > 1:
		s = strings.ReplaceAll(s, ".", "")
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func round(v float64) float64 {
	return float64(int64(v*1e4+sign(v)*0.5)) / 1e4
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}
