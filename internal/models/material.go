package models

import (
	"slices"
	"strings"
	"time"
)

type MaterialType string

const (
	MaterialResin    MaterialType = "resin"
	MaterialFilament MaterialType = "filament"
)

func (t MaterialType) Valid() bool {
	return t == MaterialResin || t == MaterialFilament
}

type Tier string

const (
	TierPremium   Tier = "premium"
	TierConsumer  Tier = "consumer"
	TierSpecialty Tier = "specialty"
)

func (t Tier) Valid() bool {
	switch t {
	case TierPremium, TierConsumer, TierSpecialty:
		return true
	}
	return false
}

// PlatformHint selects the catalog scraper variant for a brand.
type PlatformHint string

const (
	PlatformGeneric     PlatformHint = "generic"
	PlatformShopify     PlatformHint = "shopify"
	PlatformWooCommerce PlatformHint = "woocommerce"
	PlatformJS          PlatformHint = "js"
	// PlatformJSON reads products from a JSON endpoint at the base URL.
	PlatformJSON PlatformHint = "json"
	// PlatformManual lists curated product names; nothing is fetched.
	PlatformManual PlatformHint = "manual"
)

// ScrapeOptions are per-brand tuning knobs. Zero values are filled from the
// global scraper defaults when the config is loaded.
type ScrapeOptions struct {
	Delay             time.Duration `mapstructure:"delay" json:"delay,omitempty"`
	MaxPages          int           `mapstructure:"max_pages" json:"maxPages,omitempty"`
	DetailConcurrency int           `mapstructure:"detail_concurrency" json:"detailConcurrency,omitempty"`
	ListingPaths      []string      `mapstructure:"listing_paths" json:"listingPaths,omitempty"`
	ProductSelectors  []string      `mapstructure:"product_selectors" json:"productSelectors,omitempty"`
	NextPageSelectors []string      `mapstructure:"next_page_selectors" json:"nextPageSelectors,omitempty"`

	// DataPath leads from the JSON document root to the product array.
	// Numeric elements index into arrays.
	DataPath []string `mapstructure:"data_path" json:"dataPath,omitempty"`
	NameKey  string   `mapstructure:"name_key" json:"nameKey,omitempty"`
	PriceKey string   `mapstructure:"price_key" json:"priceKey,omitempty"`
	ImageKey string   `mapstructure:"image_key" json:"imageKey,omitempty"`
	URLKey   string   `mapstructure:"url_key" json:"urlKey,omitempty"`

	Products     []string `mapstructure:"products" json:"products,omitempty"`
	DefaultImage string   `mapstructure:"default_image" json:"defaultImage,omitempty"`
}

// BrandSpec is a configured vendor. It is read-only once loaded.
type BrandSpec struct {
	Name         string        `mapstructure:"name" json:"name"`
	BaseURL      string        `mapstructure:"base_url" json:"baseUrl"`
	MaterialType MaterialType  `mapstructure:"material_type" json:"materialType"`
	Tier         Tier          `mapstructure:"tier" json:"tier"`
	PlatformHint PlatformHint  `mapstructure:"platform" json:"platformHint"`
	Currency     string        `mapstructure:"currency" json:"currency,omitempty"`
	Options      ScrapeOptions `mapstructure:"options" json:"options"`
}

// RawProduct is one product page as scraped, before normalization.
type RawProduct struct {
	SourceURL       string            `json:"sourceUrl"`
	Title           string            `json:"title"`
	PriceText       string            `json:"priceText,omitempty"`
	ImageURLs       []string          `json:"imageUrls,omitempty"`
	DescriptionText string            `json:"descriptionText,omitempty"`
	SpecTable       map[string]string `json:"specTable,omitempty"`
	TDSDocumentURL  string            `json:"tdsDocumentUrl,omitempty"`
	// Available is nil when the page gave no stock signal.
	Available *bool `json:"available,omitempty"`
}

type Confidence string

const (
	ConfidenceParsed   Confidence = "parsed"
	ConfidenceInferred Confidence = "inferred"
)

// ExtractedProperty is one typed value read out of a datasheet.
type ExtractedProperty struct {
	Name       string     `json:"name"`
	Value      float64    `json:"value"`
	Unit       string     `json:"unit"`
	Confidence Confidence `json:"confidence"`
}

type PropertySource string

const (
	SourceDatasheet PropertySource = "tds"
	SourcePage      PropertySource = "page"
)

// Measurement is a property value stored on a MaterialRecord.
type Measurement struct {
	Value      float64        `json:"value"`
	Unit       string         `json:"unit"`
	Source     PropertySource `json:"source"`
	Confidence Confidence     `json:"confidence"`
}

type Color struct {
	Name string `json:"name"`
	Hex  string `json:"hex,omitempty"`
}

type Commercial struct {
	Price       *float64 `json:"price,omitempty"`
	Currency    string   `json:"currency,omitempty"`
	Available   *bool    `json:"available,omitempty"`
	PurchaseURL string   `json:"purchaseUrl,omitempty"`
}

// Protected holds human-curated fields. A scrape never overwrites them.
type Protected struct {
	EditorialNote   string   `json:"editorialNote,omitempty"`
	VerifiedByStaff bool     `json:"verifiedByStaff,omitempty"`
	CuratedImages   []string `json:"curatedImages,omitempty"`
}

func (p Protected) IsZero() bool {
	return p.EditorialNote == "" && !p.VerifiedByStaff && len(p.CuratedImages) == 0
}

// MaterialRecord is the canonical dataset entry.
type MaterialRecord struct {
	Key            string                 `json:"key"`
	Brand          string                 `json:"brand"`
	Name           string                 `json:"name"`
	MaterialType   MaterialType           `json:"materialType"`
	Tier           Tier                   `json:"tier,omitempty"`
	Subtype        string                 `json:"subtype,omitempty"`
	Color          *Color                 `json:"color,omitempty"`
	Description    string                 `json:"description,omitempty"`
	Images         []string               `json:"images,omitempty"`
	Commercial     Commercial             `json:"commercial"`
	Properties     map[string]Measurement `json:"properties,omitempty"`
	Certifications []string               `json:"certifications,omitempty"`
	SourceURL      string                 `json:"sourceUrl,omitempty"`
	TDSURL         string                 `json:"tdsUrl,omitempty"`
	Protected      Protected              `json:"protected"`
	LastScrapedAt  time.Time              `json:"lastScrapedAt"`
}

// Property returns the measurement for name and whether it is set.
func (r *MaterialRecord) Property(name string) (Measurement, bool) {
	m, ok := r.Properties[name]
	return m, ok
}

// Clone returns a deep copy so merges never alias the caller's slices or maps.
func (r MaterialRecord) Clone() MaterialRecord {
	out := r
	out.Images = slices.Clone(r.Images)
	out.Certifications = slices.Clone(r.Certifications)
	out.Protected.CuratedImages = slices.Clone(r.Protected.CuratedImages)
	if r.Color != nil {
		c := *r.Color
		out.Color = &c
	}
	if r.Commercial.Price != nil {
		p := *r.Commercial.Price
		out.Commercial.Price = &p
	}
	if r.Commercial.Available != nil {
		a := *r.Commercial.Available
		out.Commercial.Available = &a
	}
	if r.Properties != nil {
		out.Properties = make(map[string]Measurement, len(r.Properties))
		for k, v := range r.Properties {
			out.Properties[k] = v
		}
	}
	return out
}

// StableKey composes the identity used to match records across runs.
// normalizedName must already be normalized.
func StableKey(brand, normalizedName string, t MaterialType) string {
	b := strings.Join(strings.Fields(strings.ToLower(brand)), " ")
	return b + "|" + normalizedName + "|" + string(t)
}
