package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/maltedev/materials-scraper/internal/models"
	"github.com/maltedev/materials-scraper/internal/normalize"
	"github.com/maltedev/materials-scraper/internal/report"
)

var (
	exportType   string
	exportBrand  string
	exportFormat string
	exportWrite  bool
)

func init() {
	exportCmd.Flags().StringVar(&exportType, "type", "", "Only export records of this material type.")
	exportCmd.Flags().StringVar(&exportBrand, "brand", "", "Only export records of this brand.")
	exportCmd.Flags().StringVar(&exportFormat, "format", "table", "Output format: table, json or simple.")
	exportCmd.Flags().BoolVar(&exportWrite, "write", false, "Write the simple export to storage.simple_path instead of stdout.")
	rootCmd.AddCommand(exportCmd)
}

var exportCmd = &cobra.Command{
	Use:   "export [--type resin|filament] [--brand NAME] [--format table|json|simple] [--write]",
	Short: "Prints the persisted dataset or regenerates the simple export without scraping.",
	RunE: func(cmd *cobra.Command, args []string) error {
		t := models.MaterialType(strings.ToLower(exportType))
		if t != "" && !t.Valid() {
			return fmt.Errorf("invalid --type %q: must be resin or filament", exportType)
		}

		store := newStore(cfg)
		ds, err := store.Load()
		if err != nil {
			return err
		}
		records := ds.Filter(t, exportBrand)

		if exportWrite {
			if err := store.SaveSimple(normalize.ProjectAll(records)); err != nil {
				return err
			}
			logger.Info("Simple export written", "path", cfg.Storage.SimplePath, "records", len(records))
			return nil
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		switch exportFormat {
		case "table":
			report.Materials(os.Stdout, records)
			return nil
		case "json":
			return enc.Encode(records)
		case "simple":
			return enc.Encode(normalize.ProjectAll(records))
		default:
			return fmt.Errorf("unknown --format %q", exportFormat)
		}
	},
}
