package units

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownUnit       = errors.New("unknown unit")
	ErrIncompatibleUnits = errors.New("incompatible units")
)

type Dimension string

const (
	Stress      Dimension = "stress"
	Temperature Dimension = "temperature"
	Viscosity   Dimension = "viscosity"
	Density     Dimension = "density"
	Ratio       Dimension = "ratio"
	ImpactArea  Dimension = "impact"
	Wavelength  Dimension = "wavelength"
	HardnessA   Dimension = "hardness_a"
	HardnessD   Dimension = "hardness_d"
	Length      Dimension = "length"
	Duration    Dimension = "duration"
)

// Canonical units, one per dimension.
const (
	MPa     = "MPa"
	Celsius = "°C"
	CPs     = "cPs"
	GPerCm3 = "g/cm3"
	Percent = "%"
	KJPerM2 = "kJ/m2"
	NM      = "nm"
	ShoreA  = "Shore A"
	ShoreD  = "Shore D"
	MM      = "mm"
	Second  = "s"
)

// unit converts linearly to its dimension's canonical unit:
// canonical = value*factor + offset.
type unit struct {
	symbol string
	dim    Dimension
	factor float64
	offset float64
}

var canonical = map[Dimension]string{
	Stress:      MPa,
	Temperature: Celsius,
	Viscosity:   CPs,
	Density:     GPerCm3,
	Ratio:       Percent,
	ImpactArea:  KJPerM2,
	Wavelength:  NM,
	HardnessA:   ShoreA,
	HardnessD:   ShoreD,
	Length:      MM,
	Duration:    Second,
}

var table = []struct {
	aliases []string
	unit    unit
}{
	{[]string{"mpa", "n/mm2", "n/mm^2"}, unit{MPa, Stress, 1, 0}},
	{[]string{"gpa"}, unit{"GPa", Stress, 1000, 0}},
	{[]string{"kpa"}, unit{"kPa", Stress, 0.001, 0}},
	{[]string{"psi", "lbf/in2"}, unit{"psi", Stress, 0.00689476, 0}},
	{[]string{"ksi"}, unit{"ksi", Stress, 6.89476, 0}},
	{[]string{"kgf/cm2", "kg/cm2"}, unit{"kgf/cm2", Stress, 0.0980665, 0}},

	{[]string{"°c", "ºc", "c", "degc", "celsius", "℃"}, unit{Celsius, Temperature, 1, 0}},
	{[]string{"°f", "ºf", "f", "degf", "fahrenheit", "℉"}, unit{"°F", Temperature, 5.0 / 9.0, -160.0 / 9.0}},
	{[]string{"k", "kelvin"}, unit{"K", Temperature, 1, -273.15}},

	{[]string{"cps", "cp", "mpas", "centipoise"}, unit{CPs, Viscosity, 1, 0}},
	{[]string{"pas"}, unit{"Pa·s", Viscosity, 1000, 0}},
	{[]string{"p", "poise"}, unit{"P", Viscosity, 100, 0}},

	{[]string{"g/cm3", "g/cc", "g/ml", "gcm-3", "g/cm^3"}, unit{GPerCm3, Density, 1, 0}},
	{[]string{"kg/m3", "kg/m^3", "g/l"}, unit{"kg/m3", Density, 0.001, 0}},

	{[]string{"%", "percent"}, unit{Percent, Ratio, 1, 0}},

	{[]string{"kj/m2", "kj/m^2"}, unit{KJPerM2, ImpactArea, 1, 0}},
	{[]string{"j/m2"}, unit{"J/m2", ImpactArea, 0.001, 0}},

	{[]string{"nm"}, unit{NM, Wavelength, 1, 0}},

	{[]string{"shorea", "a"}, unit{ShoreA, HardnessA, 1, 0}},
	{[]string{"shored", "d"}, unit{ShoreD, HardnessD, 1, 0}},

	{[]string{"mm"}, unit{MM, Length, 1, 0}},
	{[]string{"µm", "um", "micron", "microns"}, unit{"µm", Length, 0.001, 0}},

	{[]string{"s", "sec", "secs", "second", "seconds"}, unit{Second, Duration, 1, 0}},
	{[]string{"ms"}, unit{"ms", Duration, 0.001, 0}},
}

var lookup = func() map[string]unit {
	m := make(map[string]unit)
	for _, row := range table {
		for _, alias := range row.aliases {
			m[alias] = row.unit
		}
	}
	return m
}()

// key folds the spellings vendors use for the same unit.
func key(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer(
		" ", "",
		"²", "2",
		"³", "3",
		"·", "",
		"⋅", "",
		"*", "",
		"μ", "µ",
	).Replace(s)
	// mPa.s / Pa.s
	if strings.HasSuffix(s, "pa.s") {
		s = strings.TrimSuffix(s, ".s") + "s"
	}
	return strings.TrimSuffix(s, ".")
}

func find(symbol string) (unit, error) {
	u, ok := lookup[key(symbol)]
	if !ok {
		return unit{}, fmt.Errorf("%w: %q", ErrUnknownUnit, symbol)
	}
	return u, nil
}

// Symbol returns the display symbol for a unit spelling.
func Symbol(s string) (string, error) {
	u, err := find(s)
	if err != nil {
		return "", err
	}
	return u.symbol, nil
}

// DimensionOf reports which physical dimension a unit spelling measures.
func DimensionOf(s string) (Dimension, error) {
	u, err := find(s)
	if err != nil {
		return "", err
	}
	return u.dim, nil
}

// CanonicalUnit returns the canonical unit for d.
func CanonicalUnit(d Dimension) string {
	return canonical[d]
}

// ToCanonical converts value from unit s to its dimension's canonical unit.
func ToCanonical(value float64, s string) (float64, string, error) {
	u, err := find(s)
	if err != nil {
		return 0, "", err
	}
	return value*u.factor + u.offset, canonical[u.dim], nil
}

// FromCanonical converts a canonical value back to unit s.
func FromCanonical(value float64, s string) (float64, error) {
	u, err := find(s)
	if err != nil {
		return 0, err
	}
	return (value - u.offset) / u.factor, nil
}

// Convert converts value between two units of the same dimension.
func Convert(value float64, from, to string) (float64, error) {
	f, err := find(from)
	if err != nil {
		return 0, err
	}
	t, err := find(to)
	if err != nil {
		return 0, err
	}
	if f.dim != t.dim {
		return 0, fmt.Errorf("%w: %s to %s", ErrIncompatibleUnits, f.symbol, t.symbol)
	}
	return ((value*f.factor + f.offset) - t.offset) / t.factor, nil
}
