package parser

import (
	"net/url"

	"github.com/maltedev/materials-scraper/internal/models"
)

type Parser interface {
	ParseListing(pageURL string, html []byte) (*Listing, error)
	ParseProduct(pageURL string, html []byte) (*models.RawProduct, error)
}

// Listing is what a catalog page yields: product links in page order and
// the next page, if any.
type Listing struct {
	ProductURLs []string
	NextPageURL string
}

// Selectors are tried in order; the first one that matches wins.
type Selectors struct {
	ProductLinks []string
	NextPage     []string
	Title        []string
	Price        []string
	Images       []string
	Description  []string
}

// GenericSelectors cover the storefront markup seen across most vendors.
func GenericSelectors() Selectors {
	return Selectors{
		ProductLinks: []string{
			".product-card a[href]",
			".product-item a[href]",
			".product-grid-item a[href]",
			"li.product a.woocommerce-LoopProduct-link",
			".product a[href]",
			"[data-product] a[href]",
			".product-tile a[href]",
			".product-box a[href]",
			".card-product a[href]",
			".material-card a[href]",
			".item-card a[href]",
			"a[href*='/products/']",
			"a[href*='/product/']",
		},
		NextPage: []string{
			"link[rel='next']",
			"a[rel='next']",
			".pagination .next a",
			".pagination a.next",
			"a.next.page-numbers",
			".pagination__item--next",
			"a[aria-label='Next page']",
			"a[aria-label='Next']",
		},
		Title: []string{
			"h1.product_title",
			"h1.product-title",
			"h1.product__title",
			".product-single__title",
			"h1[itemprop='name']",
			"[data-product-title]",
			"h1",
		},
		Price: []string{
			"[itemprop='price']",
			".price ins .amount",
			".price .woocommerce-Price-amount",
			".price-item--sale",
			".price-item--regular",
			".product__price",
			".product-price",
			"[data-price]",
			".price",
			".amount",
		},
		Images: []string{
			".product__media img",
			".product-single__photo img",
			".woocommerce-product-gallery__image img",
			".product-gallery img",
			".product-images img",
			"img.product-image",
			"img.featured-image",
			".product-image img",
			"[itemprop='image']",
		},
		Description: []string{
			".product__description",
			".product-single__description",
			".woocommerce-product-details__short-description",
			"#tab-description",
			"[itemprop='description']",
			".product-description",
			".product-details",
			"[data-description]",
			".description",
		},
	}
}

// ShopifySelectors prefer Shopify theme markup, then fall back to generic.
func ShopifySelectors() Selectors {
	s := GenericSelectors()
	s.ProductLinks = append([]string{
		"a.full-unstyled-link[href*='/products/']",
		".card__heading a[href]",
		".grid-product__link",
		"a.product-card__link",
	}, s.ProductLinks...)
	s.Images = append([]string{".product__media-item img", ".product-single__media img"}, s.Images...)
	return s
}

// WooCommerceSelectors prefer the WooCommerce loop markup.
func WooCommerceSelectors() Selectors {
	s := GenericSelectors()
	s.ProductLinks = append([]string{
		"li.product a.woocommerce-LoopProduct-link",
		".products .product a.woocommerce-loop-product__link",
		".type-product a[href]",
		"li.product a[href]",
	}, s.ProductLinks...)
	s.NextPage = append([]string{".woocommerce-pagination a.next"}, s.NextPage...)
	return s
}

// WithOverrides prepends brand-specific selectors.
func (s Selectors) WithOverrides(opts models.ScrapeOptions) Selectors {
	if len(opts.ProductSelectors) > 0 {
		s.ProductLinks = append(append([]string{}, opts.ProductSelectors...), s.ProductLinks...)
	}
	if len(opts.NextPageSelectors) > 0 {
		s.NextPage = append(append([]string{}, opts.NextPageSelectors...), s.NextPage...)
	}
	return s
}

type HTMLParser struct {
	selectors Selectors
}

func NewHTMLParser(selectors Selectors) *HTMLParser {
	return &HTMLParser{selectors: selectors}
}

func sameSite(a, b *url.URL) bool {
	return trimWWW(a.Hostname()) == trimWWW(b.Hostname())
}
