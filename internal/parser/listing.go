package parser

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var skipLinkMarkers = []string{
	"add-to-cart",
	"/cart",
	"/checkout",
	"/account",
	"/login",
	"/wishlist",
	"javascript:",
	"mailto:",
	"tel:",
}

// ParseListing extracts product links from a catalog page. Links are
// resolved against pageURL, restricted to the page's own site and
// deduplicated in page order. An empty listing is not an error.
func (p *HTMLParser) ParseListing(pageURL string, html []byte) (*Listing, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid page url %q: %w", pageURL, err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse listing html: %w", err)
	}

	listing := &Listing{}
	seen := make(map[string]bool)
	self := CanonicalURL(base)

	for _, selector := range p.selectors.ProductLinks {
		doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
			href, ok := s.Attr("href")
			if !ok || skipLink(href) {
				return
			}
			u, ok := Resolve(base, href)
			if !ok || !sameSite(base, u) {
				return
			}
			canon := CanonicalURL(u)
			if canon == self || seen[canon] {
				return
			}
			seen[canon] = true
			listing.ProductURLs = append(listing.ProductURLs, canon)
		})
		if len(listing.ProductURLs) > 0 {
			break
		}
	}

	listing.NextPageURL = p.nextPage(doc, base)
	return listing, nil
}

func (p *HTMLParser) nextPage(doc *goquery.Document, base *url.URL) string {
	self := CanonicalURL(base)
	for _, selector := range p.selectors.NextPage {
		s := doc.Find(selector).First()
		if s.Length() == 0 {
			continue
		}
		href, ok := s.Attr("href")
		if !ok || skipLink(href) {
			continue
		}
		u, ok := Resolve(base, href)
		if !ok || !sameSite(base, u) {
			continue
		}
		// listings keep their query string (?page=2)
		u.Fragment = ""
		next := u.String()
		if next == self || next == base.String() {
			continue
		}
		return next
	}
	return ""
}

func skipLink(href string) bool {
	h := strings.ToLower(strings.TrimSpace(href))
	if h == "" || strings.HasPrefix(h, "#") {
		return true
	}
	for _, marker := range skipLinkMarkers {
		if strings.Contains(h, marker) {
			return true
		}
	}
	return false
}
