package report

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/maltedev/materials-scraper/internal/models"
	"github.com/maltedev/materials-scraper/internal/pipeline"
)

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.Style().Format.Footer = text.FormatDefault
	t.SetOutputMirror(w)
	return t
}

// Summary prints the per-brand outcome of a run, the merge totals and a
// count of warnings per kind. With verbose set every warning is listed.
func Summary(w io.Writer, s *pipeline.Summary, verbose bool) {
	brands := newTable(w)
	brands.SetTitle("Brands")
	brands.AppendHeader(table.Row{"Brand", "Type", "Platform", "Scraped", "Skipped", "Warnings", "Status"})
	for _, b := range s.Brands {
		status := "ok"
		if b.Failed {
			status = "failed"
		}
		brands.AppendRow(table.Row{b.Name, b.MaterialType, b.Platform, b.Scraped, b.Skipped, b.Warnings, status})
	}
	brands.AppendFooter(table.Row{"Total", "", "", s.Scraped(), s.Skipped(), len(s.Warnings), fmt.Sprintf("%d failed", s.FailedBrands())})
	brands.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
	})
	brands.Render()

	if s.Merge != nil {
		merge := newTable(w)
		merge.SetTitle(mergeTitle(s))
		merge.AppendHeader(table.Row{"Added", "Updated", "Unchanged", "Collisions", "Curated", "Dataset"})
		merge.AppendRow(table.Row{
			s.Merge.Added,
			s.Merge.Updated,
			s.Merge.Unchanged,
			s.Merge.Collisions,
			len(s.Merge.Changes.Curated),
			s.DatasetSize,
		})
		merge.Render()
	}

	if len(s.Warnings) > 0 {
		counts := s.WarningsByKind()
		kinds := make([]string, 0, len(counts))
		for k := range counts {
			kinds = append(kinds, string(k))
		}
		sort.Strings(kinds)

		byKind := newTable(w)
		byKind.SetTitle("Warnings")
		byKind.AppendHeader(table.Row{"Kind", "Count"})
		for _, k := range kinds {
			byKind.AppendRow(table.Row{k, counts[models.WarningKind(k)]})
		}
		byKind.Render()
	}

	if verbose && len(s.Warnings) > 0 {
		Warnings(w, s.Warnings)
	}

	for _, e := range s.Errors {
		fmt.Fprintf(w, "error: %s\n", e)
	}
}

func mergeTitle(s *pipeline.Summary) string {
	switch {
	case s.DryRun:
		return "Merge (dry run, nothing written)"
	case s.Cancelled:
		return "Merge (partial run) into " + s.DatasetPath
	default:
		return "Merge into " + s.DatasetPath
	}
}

// Warnings lists warnings one per row.
func Warnings(w io.Writer, warnings []models.Warning) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Kind", "Brand", "Subject", "Message"})
	for _, warn := range warnings {
		t.AppendRow(table.Row{warn.Kind, warn.Brand, warn.Subject, warn.Message})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, WidthMax: 60},
		{Number: 4, WidthMax: 80},
	})
	t.Render()
}

// Materials lists dataset records.
func Materials(w io.Writer, records []models.MaterialRecord) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Brand", "Name", "Type", "Subtype", "Price", "Properties", "Last scraped"})
	for _, r := range records {
		t.AppendRow(table.Row{
			r.Brand,
			r.Name,
			r.MaterialType,
			r.Subtype,
			price(r.Commercial),
			len(r.Properties),
			r.LastScrapedAt.Format("2006-01-02"),
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "", strconv.Itoa(len(records)) + " records"})
	t.Render()
}

func price(c models.Commercial) string {
	if c.Price == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f %s", *c.Price, c.Currency)
}
