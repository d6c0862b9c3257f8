package normalize

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/maltedev/materials-scraper/internal/models"
)

func patterns(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(`(?i)` + e)
	}
	return out
}

// Storefronts list printers, spare parts and promotions next to materials.
// Titles matching these lists are not materials.
var (
	filamentWords = patterns(
		`\bfilaments?\b`, `\bpla\+?\b`, `\bpetg\b`, `\bpet-cf\b`, `\btpu\b`, `\bpeba\b`,
		`\bpa-cf\b`, `\bnylon\b`, `\basa\b`, `フィラメント`,
	)
	resinWords = patterns(
		`\bresins?\b`, `\bwash\b`, `\bcure\b`, `\bdlp\b`, `\bsla\b`, `\bphoton\b`, `\bhalot\b`,
		`\b(?:creality|anycubic|elegoo)\s*3d\s*printer\b`,
	)
	hardwareWords = patterns(
		`\bhalot\b`, `\bmage\b`, `\bcombo\b`, `\bplates?\b`, `\btoolkit\b`, `\blcd\b`,
		`\bscreens?\b`, `\bn?fep\b`, `\bfilm\b`, `\bcuring station\b`, `\bwashing station\b`,
		`\bwash\b.*\bcure\b`, `\bcure\b.*\bwash\b`, `\bheater\b`, `\bretrofit\b`, `\bdryer\b`,
		`\bkobra\b`, `\bneptune\b`, `\bnozzles?\b`, `\bhotend\b`, `\bextruder\b`, `\bplatform\b`,
		`\bmagnetic\b`, `\bairpure\b`, `\bhub\b`, `\bkit\b`, `\badhesive\b`, `\bboard\b`,
		`\bcontroller\b`, `\bcables?\b`, `\bsensor\b`, `\bfan\b`, `\bmotor\b`, `\bcamera\b`,
		`\bscrews?\b`, `\bwiper\b`, `\bcutter\b`, `\bassembly\b`, `\bpcba\b`, `\bpower\s*supply\b`,
		`\bfilters?\b`, `\bswitch\b`, `\bcoupler\b`, `\bholder\b`, `\bace\s*pro\b`, `\bbelts?\b`,
		`\btouchscreen\b`, `\bsprings?\b`, `\bhose\b`, `\breusable\s*spool\b`, `\b3d\s*printer\b`,
	)
	nonProductWords = patterns(
		`\bguides?\b`, `\breviews?\b`, `\bguarantee\b`, `\bsupport\b`, `\bshipping\b`,
		`\bservice\b`, `\bblack friday\b`, `\bdeals?\b`, `\bbundle\b`, `\bgift\b`,
		`\bprotection\b`, `\bdeposit\b`, `\bcoupons?\b`, `\bdiscount\b`, `\bclearance\b`,
		`\brefurbished\b`, `\brenewed\b`, `\bmembership\b`, `\bsubscription\b`, `\binsurance\b`,
		`\b3d\s*pen\b`, `\bgift\s*card\b`,
	)
	absWord  = regexp.MustCompile(`(?i)\babs\b`)
	likeWord = regexp.MustCompile(`(?i)\blike\b`)
)

// Validate reports whether title names a material of type t. Rejections wrap
// ErrProductRejected.
func Validate(title string, t models.MaterialType) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("%w: empty title", ErrProductRejected)
	}

	check := func(kind string, list []*regexp.Regexp) error {
		for _, re := range list {
			if m := re.FindString(title); m != "" {
				return fmt.Errorf("%w: %s (%q)", ErrProductRejected, kind, m)
			}
		}
		return nil
	}

	switch t {
	case models.MaterialResin:
		if err := check("filament", filamentWords); err != nil {
			return err
		}
		if absWord.MatchString(title) && !likeWord.MatchString(title) {
			return fmt.Errorf("%w: filament (%q)", ErrProductRejected, "abs")
		}
	case models.MaterialFilament:
		if err := check("resin", resinWords); err != nil {
			return err
		}
	}

	if err := check("hardware", hardwareWords); err != nil {
		return err
	}
	return check("non-product", nonProductWords)
}
