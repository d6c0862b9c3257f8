package tds

import (
	"regexp"
	"strings"

	"github.com/maltedev/materials-scraper/internal/units"
)

// Canonical property names. They double as keys in MaterialRecord.Properties.
const (
	TensileStrength    = "tensileStrength"
	FlexuralStrength   = "flexuralStrength"
	FlexuralModulus    = "flexuralModulus"
	ElongationAtBreak  = "elongationAtBreak"
	Density            = "density"
	Viscosity          = "viscosity"
	ShoreHardness      = "shoreHardness"
	HeatDeflectionTemp = "heatDeflectionTemp"
	GlassTransition    = "glassTransition"
	MeltingTemp        = "meltingTemp"
	Shrinkage          = "shrinkage"
	WaterAbsorption    = "waterAbsorption"
	ImpactStrength     = "impactStrength"
	Wavelength         = "wavelength"
	PrintTemp          = "printTemp"
	BedTemp            = "bedTemp"
)

const (
	stressUnits      = `MPa|GPa|kPa|ksi|psi|N/mm²|N/mm2|kgf/cm²|kgf/cm2`
	temperatureUnits = `°C|ºC|℃|°F|ºF|℉|C|F`
	viscosityUnits   = `mPa[·⋅.]?\s?s|Pa[·⋅.]\s?s|Pa\ss|cPs|cP`
	densityUnits     = `g/cm³|g/cm3|g/cc|g/ml|kg/m³|kg/m3`
	percentUnits     = `%`
	impactUnits      = `kJ/m²|kJ/m2|J/m²|J/m2`
	wavelengthUnits  = `nm`
)

// property is one entry of the extraction vocabulary.
type property struct {
	name  string
	label *regexp.Regexp
	// value matches number, optional range end and unit
	value *regexp.Regexp
	// header matches a unit given apart from the value, e.g. "(MPa)"
	header *regexp.Regexp
	dim    units.Dimension
	// plausible range in the canonical unit; values outside are misreads
	min, max float64
}

func newProperty(name, label, unitAlt string, dim units.Dimension, lo, hi float64) property {
	return property{
		name:   name,
		label:  regexp.MustCompile(`(?i)` + label),
		value:  regexp.MustCompile(`(?i)` + numberPattern + `\s*(?:±\s*` + numberToken + `\s*)?(` + unitAlt + `)(?:[^\pL]|$)`),
		header: regexp.MustCompile(`(?i)[(\[]\s*(` + unitAlt + `)\s*[)\]]`),
		dim:    dim,
		min:    lo,
		max:    hi,
	}
}

func (p property) plausible(v float64) bool {
	return v >= p.min && v <= p.max
}

// Values in these units are small, so a lone comma is a decimal mark:
// "1,125 g/cm³" is 1.125, never 1125.
var decimalCommaUnits = map[string]bool{
	"g/cm³": true,
	"g/cm3": true,
	"g/cc":  true,
	"g/ml":  true,
	"gpa":   true,
	"ksi":   true,
}

func commaIsDecimal(unit string) bool {
	return decimalCommaUnits[strings.ToLower(strings.TrimSpace(unit))]
}

const (
	numberToken = `[-+]?\d+(?:[.,]\d+)*`
	// first value, optional range end
	numberPattern = `(` + numberToken + `)(?:\s*(?:-|–|—|~|to)\s*(` + numberToken + `))?`
)

// Order matters only for readability: every property is tested on every line.
var vocabulary = []property{
	newProperty(TensileStrength, `tensile\s+strength|ultimate\s+tensile|resistencia\s+a\s+la\s+tracci[oó]n|zugfestigkeit`, stressUnits, units.Stress, 0.1, 500),
	newProperty(FlexuralStrength, `flexural\s+strength|bending\s+strength|resistencia\s+a\s+la\s+flexi[oó]n|biegefestigkeit`, stressUnits, units.Stress, 0.1, 800),
	newProperty(FlexuralModulus, `flexural\s+modulus|bending\s+modulus|m[oó]dulo\s+de\s+flexi[oó]n|biegemodul`, stressUnits, units.Stress, 1, 50000),
	newProperty(ElongationAtBreak, `elongation(\s+at\s+break)?|alargamiento|bruchdehnung`, percentUnits, units.Ratio, 0, 2000),
	newProperty(Density, `density|densidad|dichte`, densityUnits, units.Density, 0.5, 3),
	newProperty(Viscosity, `viscosity|viscosidad|viskosit[aä]t`, viscosityUnits, units.Viscosity, 1, 100000),
	newProperty(HeatDeflectionTemp, `heat\s+deflection|heat\s+distortion|\bHDT\b`, temperatureUnits, units.Temperature, -50, 400),
	newProperty(GlassTransition, `glass\s+transition|\bTg\b`, temperatureUnits, units.Temperature, -150, 400),
	newProperty(MeltingTemp, `melting\s+(temp|point)|\bTm\b`, temperatureUnits, units.Temperature, 50, 500),
	newProperty(Shrinkage, `shrinkage|contracci[oó]n|schrumpfung`, percentUnits, units.Ratio, 0, 30),
	newProperty(WaterAbsorption, `water\s+absorption|absorci[oó]n\s+de\s+agua|wasseraufnahme`, percentUnits, units.Ratio, 0, 20),
	newProperty(ImpactStrength, `impact\s+strength|\bizod\b|\bcharpy\b`, impactUnits, units.ImpactArea, 0, 200),
	newProperty(Wavelength, `wavelength|longitud\s+de\s+onda|wellenl[aä]nge`, wavelengthUnits, units.Wavelength, 200, 1000),
	newProperty(PrintTemp, `(printing|print|nozzle|extrusion|extruder)\s+temp`, temperatureUnits, units.Temperature, 100, 500),
	newProperty(BedTemp, `(bed|build\s+plate|platform|heated\s+bed)\s+temp`, temperatureUnits, units.Temperature, 0, 200),
}

var (
	numberOnly    = regexp.MustCompile(numberPattern)
	hardnessLabel = regexp.MustCompile(`(?i)hardness|dureza|h[aä]rte`)
	// "Shore D 80", "Shore D: 75-80"
	shoreBefore = regexp.MustCompile(`(?i)shore\s*([AD])\W{0,3}?\s*` + numberPattern)
	// "80 Shore D", "80D"
	shoreAfter = regexp.MustCompile(`(?i)` + numberPattern + `\s*(?:shore\s*)?([AD])\b`)
	// test method references such as "ISO 527-2", "ASTM D638" or "D790";
	// their numbers are not values
	standardRef = regexp.MustCompile(`\b(?:(?:ISO|ASTM|DIN|EN|IEC|JIS|UL|GB/T)\s*[A-Z]?\s?\d+|D\d{3,4})(?:[-/.:]\d+)*`)
)

// Names lists the vocabulary in a stable order.
func Names() []string {
	names := make([]string, 0, len(vocabulary)+1)
	for _, p := range vocabulary {
		names = append(names, p.name)
	}
	return append(names, ShoreHardness)
}
