package models

// WarningKind classifies a non-fatal condition recorded during a run.
type WarningKind string

const (
	WarnNetwork                 WarningKind = "network_error"
	WarnPolicyDenied            WarningKind = "policy_denied"
	WarnBrandScrapeFailed       WarningKind = "brand_scrape_failed"
	WarnLowConfidenceExtraction WarningKind = "low_confidence_extraction"
	WarnNormalizationAmbiguity  WarningKind = "normalization_ambiguity"
	WarnKeyCollision            WarningKind = "key_collision"
	WarnProductRejected         WarningKind = "product_rejected"
	// WarnProductSkipped is a product page that loaded but could not be
	// read: a non-2xx status or markup without a product.
	WarnProductSkipped WarningKind = "product_skipped"
)

type Warning struct {
	Kind    WarningKind `json:"kind"`
	Brand   string      `json:"brand,omitempty"`
	Subject string      `json:"subject,omitempty"`
	Message string      `json:"message"`
}
