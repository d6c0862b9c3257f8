package pipeline

import (
	"time"

	"github.com/maltedev/materials-scraper/internal/merge"
	"github.com/maltedev/materials-scraper/internal/models"
)

type BrandSummary struct {
	Name         string              `json:"name"`
	MaterialType models.MaterialType `json:"materialType"`
	Platform     models.PlatformHint `json:"platform"`
	Scraped      int                 `json:"scraped"`
	Skipped      int                 `json:"skipped"`
	Warnings     int                 `json:"warnings"`
	Failed       bool                `json:"failed"`
	Error        string              `json:"error,omitempty"`
}

// Summary is the outcome of one run.
type Summary struct {
	StartedAt   time.Time        `json:"startedAt"`
	Duration    time.Duration    `json:"duration"`
	DryRun      bool             `json:"dryRun"`
	Cancelled   bool             `json:"cancelled"`
	Brands      []BrandSummary   `json:"brands"`
	Merge       *merge.Report    `json:"merge"`
	Warnings    []models.Warning `json:"warnings,omitempty"`
	DatasetPath string           `json:"datasetPath"`
	DatasetSize int              `json:"datasetSize"`
	Mirrored    int              `json:"mirrored,omitempty"`
	Published   int              `json:"published,omitempty"`
	// Errors lists mirror and event delivery failures.
	Errors []string `json:"errors,omitempty"`
}

func (s *Summary) Scraped() int {
	n := 0
	for _, b := range s.Brands {
		n += b.Scraped
	}
	return n
}

func (s *Summary) Skipped() int {
	n := 0
	for _, b := range s.Brands {
		n += b.Skipped
	}
	return n
}

func (s *Summary) FailedBrands() int {
	n := 0
	for _, b := range s.Brands {
		if b.Failed {
			n++
		}
	}
	return n
}

// WarningsByKind counts warnings per kind.
func (s *Summary) WarningsByKind() map[models.WarningKind]int {
	out := make(map[models.WarningKind]int)
	for _, w := range s.Warnings {
		out[w.Kind]++
	}
	return out
}
