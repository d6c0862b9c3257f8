package normalize

import (
	"regexp"
	"strings"

	"github.com/maltedev/materials-scraper/internal/models"
)

// marketingSuffixes are stripped from the end of a title, repeatedly, until
// none matches.
var marketingSuffixes = []*regexp.Regexp{
	// "| Vendor Store"
	regexp.MustCompile(`\s+\|\s+.*$`),
	// "- 1kg", "(500 g)", "1000ml", "1.75mm", "2 x 1kg"
	regexp.MustCompile(`(?i)[\s(\[,–—-]*(?:\d+\s*[x×]\s*)?\d+(?:[.,]\d+)?\s*(?:kg|g|gr|grams?|ml|l|lbs?|oz|mm)\b[)\]]?$`),
	// "- New", "(Bestseller)"
	regexp.MustCompile(`(?i)[\s(\[,–—-]*\b(?:new|sale|hot|bestseller|best seller|free shipping|limited edition)\b[)\]]?$`),
	// "(Pack of 2)", "2 pcs"
	regexp.MustCompile(`(?i)[\s(\[,–—-]*(?:pack of \d+|\d+\s*pcs?|\d+\s*pack)[)\]]?$`),
	// dangling separators
	regexp.MustCompile(`[\s,:–—|/-]+$`),
}

var (
	trademarks = strings.NewReplacer("™", "", "®", "", "©", "")
	dashes     = strings.NewReplacer("–", "-", "—", "-", "‐", "-", "‑", "-")
)

// DisplayName cleans a product title for presentation: marketing suffixes and
// a leading brand name are removed, whitespace is collapsed, case is kept.
func DisplayName(title, brand string) string {
	name := strings.Join(strings.Fields(trademarks.Replace(title)), " ")

	for {
		before := name
		for _, re := range marketingSuffixes {
			name = strings.TrimSpace(re.ReplaceAllString(name, ""))
		}
		if name == before {
			break
		}
	}

	if brand != "" {
		prefix := strings.ToLower(brand) + " "
		if len(name) > len(prefix) && strings.HasPrefix(strings.ToLower(name), prefix) {
			name = strings.TrimSpace(name[len(prefix):])
		}
	}

	if name == "" {
		return strings.Join(strings.Fields(title), " ")
	}
	return name
}

// NormalizeName is the name half of the stable key: the display name,
// case-folded with dashes unified and whitespace collapsed.
func NormalizeName(title, brand string) string {
	name := dashes.Replace(strings.ToLower(DisplayName(title, brand)))
	return strings.Join(strings.Fields(name), " ")
}

// Key returns the stable key for a scraped title under brand.
func Key(brand models.BrandSpec, title string) string {
	return models.StableKey(brand.Name, NormalizeName(title, brand.Name), brand.MaterialType)
}
