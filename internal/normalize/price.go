package normalize

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/maltedev/materials-scraper/internal/tds"
)

var (
	priceNumber = regexp.MustCompile(`\d[\d.,' ]*\d|\d`)
	// 1.299 or 1,299,000: separators every three digits, no decimals
	groupedThousands = regexp.MustCompile(`^\d{1,3}(?:[.,' ]\d{3})+$`)
	currencyCode     = regexp.MustCompile(`\b(EUR|USD|GBP|CAD|AUD|NZD|CHF|JPY|CNY|PLN|SEK|NOK|DKK|CZK|HUF)\b`)
)

var dollarPrefixes = []struct {
	prefix   string
	currency string
}{
	{"US$", "USD"},
	{"CA$", "CAD"},
	{"C$", "CAD"},
	{"AU$", "AUD"},
	{"A$", "AUD"},
	{"NZ$", "NZD"},
}

var currencySymbols = []struct {
	symbol   string
	currency string
}{
	{"€", "EUR"},
	{"£", "GBP"},
	{"¥", "JPY"},
	{"zł", "PLN"},
	{"Kč", "CZK"},
}

// dollar currencies a bare "$" may stand for
var dollarCurrencies = map[string]bool{
	"USD": true, "CAD": true, "AUD": true, "NZD": true, "SGD": true, "HKD": true,
}

// ParsePrice reads a price such as "€34,99", "$1,299.00", "29.99 EUR" or
// "1.234,50 €". A bare "$" means the brand's dollar currency when it has one
// and USD otherwise. fallback is used only when the text has no currency
// marker at all. Unparseable text wraps ErrNormalizationAmbiguity.
func ParsePrice(text, fallback string) (float64, string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, "", fmt.Errorf("%w: empty price", ErrNormalizationAmbiguity)
	}

	raw := priceNumber.FindString(text)
	if raw == "" {
		return 0, "", fmt.Errorf("%w: no number in price %q", ErrNormalizationAmbiguity, text)
	}

	raw = strings.NewReplacer(" ", "", "'", "").Replace(raw)
	var amount float64
	if groupedThousands.MatchString(raw) {
		v, ok := tds.ParseDecimal(strings.NewReplacer(".", "", ",", "").Replace(raw))
		if !ok {
			return 0, "", fmt.Errorf("%w: bad price %q", ErrNormalizationAmbiguity, text)
		}
		amount = v
	} else {
		v, ok := tds.ParseDecimal(raw)
		if !ok {
			return 0, "", fmt.Errorf("%w: bad price %q", ErrNormalizationAmbiguity, text)
		}
		amount = v
	}
	if amount <= 0 {
		return 0, "", fmt.Errorf("%w: non-positive price %q", ErrNormalizationAmbiguity, text)
	}

	currency := detectCurrency(text, fallback)
	if currency == "" {
		return 0, "", fmt.Errorf("%w: no currency for price %q", ErrNormalizationAmbiguity, text)
	}
	return amount, currency, nil
}

func detectCurrency(text, fallback string) string {
	upper := strings.ToUpper(text)
	if m := currencyCode.FindStringSubmatch(upper); m != nil {
		return m[1]
	}
	for _, d := range dollarPrefixes {
		if strings.Contains(upper, d.prefix) {
			return d.currency
		}
	}
	for _, s := range currencySymbols {
		if strings.Contains(text, s.symbol) {
			return s.currency
		}
	}
	if strings.Contains(text, "$") {
		if dollarCurrencies[strings.ToUpper(fallback)] {
			return strings.ToUpper(fallback)
		}
		return "USD"
	}
	return strings.ToUpper(fallback)
}
