package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/maltedev/materials-scraper/internal/metrics"
	"github.com/maltedev/materials-scraper/internal/models"
	"github.com/maltedev/materials-scraper/internal/pipeline"
	"github.com/maltedev/materials-scraper/internal/report"
)

var (
	scrapeType        string
	scrapeBrands      []string
	scrapeDryRun      bool
	scrapeFullReplace bool
	scrapeSimple      bool
	scrapeVerbose     bool
	scrapeNoTDS       bool
)

func init() {
	scrapeCmd.Flags().StringVar(&scrapeType, "type", "", "Only scrape brands of this material type (resin or filament).")
	scrapeCmd.Flags().StringSliceVar(&scrapeBrands, "brand", nil, "Only scrape these brands. Repeatable.")
	scrapeCmd.Flags().BoolVar(&scrapeDryRun, "dry-run", false, "Scrape and merge but do not write anything.")
	scrapeCmd.Flags().BoolVar(&scrapeFullReplace, "full-replace", false, "Replace scraped fields wholesale instead of filling present values. Curated fields are kept.")
	scrapeCmd.Flags().BoolVar(&scrapeSimple, "simple", false, "Also write the simple export.")
	scrapeCmd.Flags().BoolVar(&scrapeNoTDS, "no-datasheets", false, "Skip datasheet download and extraction.")
	scrapeCmd.Flags().BoolVarP(&scrapeVerbose, "verbose", "v", false, "List every warning in the summary.")
	rootCmd.AddCommand(scrapeCmd)
}

var scrapeCmd = &cobra.Command{
	Use:   "scrape [--type resin|filament] [--brand NAME] [--dry-run] [--full-replace] [--simple]",
	Short: "Scrapes the configured brands and merges the results into the dataset.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		t := models.MaterialType(strings.ToLower(scrapeType))
		if t != "" && !t.Valid() {
			return fmt.Errorf("invalid --type %q: must be resin or filament", scrapeType)
		}

		svc, err := openServices(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer svc.Close()

		p, release, err := buildPipeline(cfg, logger, svc, metrics.NewRegistry(), !scrapeNoTDS)
		if err != nil {
			return err
		}
		defer release()

		summary, err := p.Run(ctx, pipeline.Options{
			MaterialType: t,
			Brands:       scrapeBrands,
			DryRun:       scrapeDryRun,
			FullReplace:  scrapeFullReplace,
			Simple:       scrapeSimple,
		})
		if summary != nil {
			report.Summary(os.Stdout, summary, scrapeVerbose)
		}
		return err
	},
}
