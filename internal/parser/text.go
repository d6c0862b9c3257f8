package parser

import (
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxDescriptionLength bounds descriptions, in runes.
const MaxDescriptionLength = 500

var (
	whitespaceRe  = regexp.MustCompile(`\s+`)
	boilerplateRe = regexp.MustCompile(`(?i)(click here|read more|ver más|leer más|javascript[^;]*;)`)
	shopifyPathRe = regexp.MustCompile(`^/collections/[^/]+(/products/.+)$`)
)

// CollapseSpace trims s and folds every whitespace run to a single space.
func CollapseSpace(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

// CleanText normalizes free text and truncates it to max runes, preferring
// to end on a sentence. Text shorter than 10 runes is dropped.
func CleanText(s string, max int) string {
	s = CollapseSpace(boilerplateRe.ReplaceAllString(s, ""))
	if utf8.RuneCountInString(s) < 10 {
		return ""
	}
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}

	runes := []rune(s)
	truncated := string(runes[:max])
	if i := strings.LastIndex(truncated, "."); i > len(truncated)/2 {
		return truncated[:i+1]
	}
	if i := strings.LastIndex(truncated, " "); i > 0 {
		truncated = truncated[:i]
	}
	return truncated + "..."
}

// Resolve turns href into an absolute URL relative to base. Protocol
// relative links inherit base's scheme.
func Resolve(base *url.URL, href string) (*url.URL, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "data:") {
		return nil, false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return nil, false
	}
	u := base.ResolveReference(ref)
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, false
	}
	return u, true
}

// CanonicalURL identifies a product page: no fragment, no query, no
// trailing slash, and Shopify collection paths collapsed to /products/.
func CanonicalURL(u *url.URL) string {
	c := *u
	c.Fragment = ""
	c.RawQuery = ""
	c.Host = strings.ToLower(c.Host)
	if m := shopifyPathRe.FindStringSubmatch(c.Path); m != nil {
		c.Path = m[1]
		c.RawPath = ""
	}
	if len(c.Path) > 1 {
		c.Path = strings.TrimSuffix(c.Path, "/")
	}
	return c.String()
}

func trimWWW(host string) string {
	return strings.TrimPrefix(strings.ToLower(host), "www.")
}
