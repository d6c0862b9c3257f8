package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/maltedev/materials-scraper/internal/models"
)

var (
	datasheetLabelRe = regexp.MustCompile(`(?i)\b(tds|technical data(\s*sheet)?|data\s*-?\s*sheet|datenblatt|ficha t[eé]cnica|fiche technique)\b`)
	datasheetHrefRe  = regexp.MustCompile(`(?i)(tds|datasheet|data-sheet|data_sheet|technical-data)[^/]*\.pdf(\?|$)`)
	safetySheetRe    = regexp.MustCompile(`(?i)\b(safety|m?sds)\b`)
	imageSizeRe      = regexp.MustCompile(`_(\d+x\d*|\d*x\d+)(\.[a-z]+)$`)
)

var imageAttrs = []string{"data-zoom", "data-large_image", "data-src", "data-lazy-src", "data-original", "src"}

// ParseProduct extracts a RawProduct from a product detail page. Absent
// fields stay empty; only a page without any title is rejected.
func (p *HTMLParser) ParseProduct(pageURL string, html []byte) (*models.RawProduct, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid page url %q: %w", pageURL, err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse product html: %w", err)
	}

	ld := extractJSONLD(doc)

	product := &models.RawProduct{SourceURL: CanonicalURL(base)}

	product.Title = p.extractTitle(doc)
	if product.Title == "" {
		product.Title = ld.Name
	}
	if product.Title == "" {
		return nil, fmt.Errorf("no product title found on %s", pageURL)
	}

	product.PriceText = ld.priceText()
	if product.PriceText == "" {
		product.PriceText = p.extractPrice(doc)
	}

	product.ImageURLs = p.extractImages(doc, base, ld.Images)
	product.DescriptionText = p.extractDescription(doc, ld.Description)
	product.SpecTable = extractSpecTable(doc)
	product.TDSDocumentURL = extractDatasheetLink(doc, base)
	product.Available = extractAvailability(doc, ld.Availability)

	return product, nil
}

func (p *HTMLParser) extractTitle(doc *goquery.Document) string {
	for _, selector := range p.selectors.Title {
		if text := CollapseSpace(doc.Find(selector).First().Text()); text != "" {
			return text
		}
	}
	if og, ok := doc.Find("meta[property='og:title']").Attr("content"); ok {
		return CollapseSpace(og)
	}
	return ""
}

func (p *HTMLParser) extractPrice(doc *goquery.Document) string {
	if amount, ok := doc.Find("meta[property='product:price:amount'], meta[property='og:price:amount']").Attr("content"); ok && amount != "" {
		currency, _ := doc.Find("meta[property='product:price:currency'], meta[property='og:price:currency']").Attr("content")
		return strings.TrimSpace(amount + " " + currency)
	}

	for _, selector := range p.selectors.Price {
		s := doc.Find(selector).First()
		if s.Length() == 0 {
			continue
		}
		if content, ok := s.Attr("content"); ok && content != "" {
			currency, _ := doc.Find("[itemprop='priceCurrency']").Attr("content")
			return strings.TrimSpace(content + " " + currency)
		}
		if text := CollapseSpace(s.Text()); text != "" {
			return text
		}
	}
	return ""
}

func (p *HTMLParser) extractImages(doc *goquery.Document, base *url.URL, fromLD []string) []string {
	var images []string
	seen := make(map[string]bool)

	add := func(raw string) {
		u, ok := Resolve(base, raw)
		if !ok {
			return
		}
		u.Fragment = ""
		key := imageSizeRe.ReplaceAllString(u.Path, "$2")
		if seen[key] {
			return
		}
		seen[key] = true
		images = append(images, u.String())
	}

	if og, ok := doc.Find("meta[property='og:image']").Attr("content"); ok {
		add(og)
	}

	for _, selector := range p.selectors.Images {
		doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
			if src := imageSource(s); src != "" {
				add(src)
			}
		})
	}

	for _, src := range fromLD {
		add(src)
	}

	return images
}

func imageSource(s *goquery.Selection) string {
	for _, attr := range imageAttrs {
		if v, ok := s.Attr(attr); ok && strings.TrimSpace(v) != "" && !strings.HasPrefix(v, "data:") {
			return v
		}
	}
	if v, ok := s.Attr("content"); ok && v != "" {
		return v
	}
	for _, attr := range []string{"srcset", "data-srcset"} {
		if v, ok := s.Attr(attr); ok {
			if first := strings.Fields(strings.Split(v, ",")[0]); len(first) > 0 {
				return first[0]
			}
		}
	}
	return ""
}

func (p *HTMLParser) extractDescription(doc *goquery.Document, fromLD string) string {
	for _, selector := range p.selectors.Description {
		s := doc.Find(selector).First()
		if s.Length() == 0 {
			continue
		}
		s.Find("script, style").Remove()
		if text := CleanText(s.Text(), MaxDescriptionLength); text != "" {
			return text
		}
	}

	if text := CleanText(fromLD, MaxDescriptionLength); text != "" {
		return text
	}

	for _, selector := range []string{
		"meta[name='description']",
		"meta[property='og:description']",
		"meta[name='twitter:description']",
	} {
		if content, ok := doc.Find(selector).Attr("content"); ok {
			content = CollapseSpace(content)
			if len(content) > 20 {
				return CleanText(content, MaxDescriptionLength)
			}
		}
	}
	return ""
}

// extractSpecTable collects key/value pairs from two-column tables and
// definition lists. The first occurrence of a key wins.
func extractSpecTable(doc *goquery.Document) map[string]string {
	specs := make(map[string]string)

	put := func(k, v string) {
		k = strings.TrimRight(CollapseSpace(k), ": ")
		v = CollapseSpace(v)
		if k == "" || v == "" || len(k) > 80 {
			return
		}
		if _, exists := specs[k]; !exists {
			specs[k] = v
		}
	}

	doc.Find("table tr").Each(func(_ int, row *goquery.Selection) {
		th := row.Find("th")
		td := row.Find("td")
		switch {
		case th.Length() == 1 && td.Length() >= 1:
			put(th.Text(), td.First().Text())
		case th.Length() == 0 && td.Length() == 2:
			put(td.Eq(0).Text(), td.Eq(1).Text())
		}
	})

	doc.Find("dl").Each(func(_ int, dl *goquery.Selection) {
		dl.Find("dt").Each(func(_ int, dt *goquery.Selection) {
			put(dt.Text(), dt.NextFiltered("dd").Text())
		})
	})

	doc.Find("[class*='spec'] li, [class*='Spec'] li").Each(func(_ int, li *goquery.Selection) {
		k, v, ok := strings.Cut(li.Text(), ":")
		if ok {
			put(k, v)
		}
	})

	return specs
}

// extractDatasheetLink finds a download link labelled as a technical
// datasheet. Safety datasheets are ignored and PDF links win.
func extractDatasheetLink(doc *goquery.Document, base *url.URL) string {
	var fallback string
	var found string

	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		title, _ := a.Attr("title")
		aria, _ := a.Attr("aria-label")
		download, _ := a.Attr("download")
		label := strings.Join([]string{a.Text(), title, aria, download}, " ")

		if !datasheetLabelRe.MatchString(label) && !datasheetHrefRe.MatchString(href) {
			return true
		}
		if safetySheetRe.MatchString(label) {
			return true
		}

		u, ok := Resolve(base, href)
		if !ok {
			return true
		}
		u.Fragment = ""
		if strings.HasSuffix(strings.ToLower(u.Path), ".pdf") {
			found = u.String()
			return false
		}
		if fallback == "" {
			fallback = u.String()
		}
		return true
	})

	if found != "" {
		return found
	}
	return fallback
}

func extractAvailability(doc *goquery.Document, fromLD string) *bool {
	yes, no := true, false

	signal := fromLD
	if signal == "" {
		if v, ok := doc.Find("[itemprop='availability']").Attr("href"); ok {
			signal = v
		} else if v, ok := doc.Find("[itemprop='availability']").Attr("content"); ok {
			signal = v
		}
	}
	switch {
	case strings.Contains(signal, "InStock"), strings.Contains(signal, "PreOrder"):
		return &yes
	case strings.Contains(signal, "OutOfStock"), strings.Contains(signal, "SoldOut"), strings.Contains(signal, "Discontinued"):
		return &no
	}

	if doc.Find(".stock.out-of-stock, .product-form__submit[disabled], .sold-out").Length() > 0 {
		return &no
	}
	if doc.Find(".stock.in-stock").Length() > 0 {
		return &yes
	}
	return nil
}

// jsonLDProduct is the subset of a schema.org Product we read.
type jsonLDProduct struct {
	Name         string
	Description  string
	Images       []string
	Price        string
	Currency     string
	Availability string
}

func (j jsonLDProduct) priceText() string {
	if j.Price == "" {
		return ""
	}
	return strings.TrimSpace(j.Price + " " + j.Currency)
}

func extractJSONLD(doc *goquery.Document) jsonLDProduct {
	var out jsonLDProduct
	doc.Find("script[type='application/ld+json']").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var raw any
		if err := json.Unmarshal([]byte(s.Text()), &raw); err != nil {
			return true
		}
		if node := findProductNode(raw); node != nil {
			out = decodeProductNode(node)
			return false
		}
		return true
	})
	return out
}

func findProductNode(v any) map[string]any {
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			if node := findProductNode(item); node != nil {
				return node
			}
		}
	case map[string]any:
		if isType(t["@type"], "Product") {
			return t
		}
		if graph, ok := t["@graph"]; ok {
			return findProductNode(graph)
		}
	}
	return nil
}

func isType(v any, want string) bool {
	switch t := v.(type) {
	case string:
		return t == want
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok && s == want {
				return true
			}
		}
	}
	return false
}

func decodeProductNode(node map[string]any) jsonLDProduct {
	out := jsonLDProduct{
		Name:        CollapseSpace(stringValue(node["name"])),
		Description: stringValue(node["description"]),
	}

	switch img := node["image"].(type) {
	case string:
		out.Images = append(out.Images, img)
	case []any:
		for _, item := range img {
			if s := imageValue(item); s != "" {
				out.Images = append(out.Images, s)
			}
		}
	case map[string]any:
		if s := imageValue(img); s != "" {
			out.Images = append(out.Images, s)
		}
	}

	offer := node["offers"]
	if list, ok := offer.([]any); ok && len(list) > 0 {
		offer = list[0]
	}
	if o, ok := offer.(map[string]any); ok {
		out.Price = stringValue(o["price"])
		if out.Price == "" {
			out.Price = stringValue(o["lowPrice"])
		}
		out.Currency = stringValue(o["priceCurrency"])
		out.Availability = stringValue(o["availability"])
	}
	return out
}

func imageValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		return stringValue(t["url"])
	}
	return ""
}

func stringValue(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", t), "0"), ".")
	}
	return ""
}
