package commands

import (
	"database/sql"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"landrecords-backend/lib/configutil"
	"landrecords-backend/lib/serviceutil"
	"landrecords-backend/services/countyscrape"
	"landrecords-backend/services/countyscrape/db"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

type Config struct {
	// Counties maps county name to its driver configuration.
	Counties map[string]countyscrape.CountyConfig `json:"counties"`
	// Parcels maps county name to the parcel numbers to scrape.
	Parcels map[string][]string `json:"parcels"`
}

var scrapeDb *string
var scrapeCounty *string

func init() {
	scrapeDb = scrapeCmd.Flags().String("db", "results.db", "The database to write scrape results to.")
	scrapeCounty = scrapeCmd.Flags().String("county", "", "The county to scrape. Defaults to every configured county.")
	rootCmd.AddCommand(scrapeCmd)
	rootCmd.AddCommand(countiesCmd)
}

func openDB(schema, path string) (*sql.DB, error) {
	out, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	_, err = out.Exec(schema)
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		out.Close()
		return nil, err
	}
	return out, nil
}

var scrapeCmd = &cobra.Command{
	Use:   "scrape [--county <name>] [--db <path/to/output.db>] [parcel...]",
	Short: "Scrapes county tax parcels according to a config and writes to a database.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := configutil.ReadConfig[Config]("config.json5")
		if err != nil {
			serviceutil.Fatal("failed to read config", err)
		}

		counties := make([]string, 0, len(cfg.Counties))
		if *scrapeCounty != "" {
			if _, ok := cfg.Counties[*scrapeCounty]; !ok {
				slog.Error("county is not configured", "county", *scrapeCounty)
				os.Exit(1)
			}
			counties = append(counties, *scrapeCounty)
		} else {
			for county := range cfg.Counties {
				counties = append(counties, county)
			}
			sort.Strings(counties)
		}

		out, err := openDB(db.Schema, *scrapeDb)
		if err != nil {
			serviceutil.Fatal("failed to open db", err)
		}
		defer out.Close()

		svc := countyscrape.NewService(out)
		for _, county := range counties {
			parcels := args
			if len(parcels) == 0 {
				parcels = cfg.Parcels[county]
			}
			if len(parcels) == 0 {
				slog.Warn("no parcels configured, skipping", "county", county)
				continue
			}

			slog.Info("scraping county", "county", county, "parcels", len(parcels))
			t1 := time.Now()
			tables, err := svc.ScrapeCounty(cmd.Context(), county, cfg.Counties[county], parcels)
			if err != nil {
				slog.Error("county scrape failed", "county", county, "err", err)
				continue
			}
			slog.Info("county scraped",
				"county", county,
				"properties", len(tables.Properties),
				"tax_periods", len(tables.TaxPeriods),
				"installments", len(tables.Installments),
				"delinquent", len(tables.DelinquentTaxes),
				"penalty_interest", len(tables.PenaltyInterest),
				"seconds", time.Since(t1).Seconds(),
			)
		}
	},
}

var countiesCmd = &cobra.Command{
	Use:   "counties",
	Short: "Lists the counties with a registered driver.",
	Run: func(cmd *cobra.Command, args []string) {
		names := countyscrape.SupportedCounties()
		sort.Strings(names)
		for _, name := range names {
			cmd.Println(name)
		}
	},
}
