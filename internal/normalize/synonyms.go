package normalize

import (
	"regexp"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/maltedev/materials-scraper/internal/tds"
)

// fuzzyThreshold is the minimum Jaro-Winkler similarity for a spec table
// key that has no exact synonym.
const fuzzyThreshold = 0.94

var synonyms = map[string]string{
	"tensile strength":             tds.TensileStrength,
	"ultimate tensile strength":    tds.TensileStrength,
	"tensile strength at break":    tds.TensileStrength,
	"tensile":                      tds.TensileStrength,
	"zugfestigkeit":                tds.TensileStrength,
	"flexural strength":            tds.FlexuralStrength,
	"bending strength":             tds.FlexuralStrength,
	"biegefestigkeit":              tds.FlexuralStrength,
	"flexural modulus":             tds.FlexuralModulus,
	"bending modulus":              tds.FlexuralModulus,
	"flex modulus":                 tds.FlexuralModulus,
	"biegemodul":                   tds.FlexuralModulus,
	"elongation":                   tds.ElongationAtBreak,
	"elongation at break":          tds.ElongationAtBreak,
	"elongation at failure":        tds.ElongationAtBreak,
	"bruchdehnung":                 tds.ElongationAtBreak,
	"density":                      tds.Density,
	"liquid density":               tds.Density,
	"dichte":                       tds.Density,
	"viscosity":                    tds.Viscosity,
	"liquid viscosity":             tds.Viscosity,
	"viskosität":                   tds.Viscosity,
	"hardness":                     tds.ShoreHardness,
	"shore hardness":               tds.ShoreHardness,
	"shore hardness d":             tds.ShoreHardness,
	"shore hardness a":             tds.ShoreHardness,
	"härte":                        tds.ShoreHardness,
	"hdt":                          tds.HeatDeflectionTemp,
	"heat deflection temperature":  tds.HeatDeflectionTemp,
	"heat distortion temperature":  tds.HeatDeflectionTemp,
	"heat resistance":              tds.HeatDeflectionTemp,
	"glass transition temperature": tds.GlassTransition,
	"glass transition":             tds.GlassTransition,
	"tg":                           tds.GlassTransition,
	"melting point":                tds.MeltingTemp,
	"melting temperature":          tds.MeltingTemp,
	"shrinkage":                    tds.Shrinkage,
	"volume shrinkage":             tds.Shrinkage,
	"water absorption":             tds.WaterAbsorption,
	"impact strength":              tds.ImpactStrength,
	"izod impact strength":         tds.ImpactStrength,
	"notched izod impact strength": tds.ImpactStrength,
	"charpy impact strength":       tds.ImpactStrength,
	"wavelength":                   tds.Wavelength,
	"curing wavelength":            tds.Wavelength,
	"uv wavelength":                tds.Wavelength,
	"printing temperature":         tds.PrintTemp,
	"print temperature":            tds.PrintTemp,
	"nozzle temperature":           tds.PrintTemp,
	"extrusion temperature":        tds.PrintTemp,
	"hotend temperature":           tds.PrintTemp,
	"bed temperature":              tds.BedTemp,
	"heated bed temperature":       tds.BedTemp,
	"build plate temperature":      tds.BedTemp,
	"platform temperature":         tds.BedTemp,
}

var (
	parenthetical = regexp.MustCompile(`\s*[(\[]([^)\]]*)[)\]]`)
	keyNoise      = regexp.MustCompile(`[:*_.]+`)
)

// CanonicalProperty maps a spec table key such as "Tensile Strength (MPa):"
// to a vocabulary name. The second result is the parenthetical, which often
// carries the unit.
func CanonicalProperty(key string) (name, hint string, ok bool) {
	cleaned := strings.ToLower(strings.TrimSpace(key))
	if m := parenthetical.FindStringSubmatch(cleaned); m != nil {
		hint = strings.TrimSpace(m[1])
		cleaned = parenthetical.ReplaceAllString(cleaned, " ")
	}
	cleaned = keyNoise.ReplaceAllString(cleaned, " ")
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	if cleaned == "" {
		return "", "", false
	}

	if name, ok := synonyms[cleaned]; ok {
		return name, hint, true
	}

	var best string
	var bestScore float64
	for syn, name := range synonyms {
		score := matchr.JaroWinkler(cleaned, syn, false)
		if score > bestScore || (score == bestScore && name < best) {
			best, bestScore = name, score
		}
	}
	if bestScore >= fuzzyThreshold {
		return best, hint, true
	}
	return "", "", false
}
