// Package countyscrape orchestrates tax-parcel scraping runs: it picks the
// site driver for a county, walks each parcel through the scraping
// protocol, normalizes the raw payloads into relational rows and persists
// them.
package countyscrape

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"landrecords-backend/lib/normalize"
	"landrecords-backend/lib/protocol"
	"landrecords-backend/lib/scrapers/aspnet"
	"landrecords-backend/lib/scrapers/greenlake"
	"landrecords-backend/lib/scrapers/landnav"
	"landrecords-backend/services/countyscrape/db"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/countyscrape")

// CountyConfig selects and parameterizes the driver for one county.
type CountyConfig struct {
	// Variant names the site software; defaults to the county's own
	// registry entry when empty.
	Variant        string `json:"variant"`
	BaseUrl        string `json:"base_url"`
	Headless       bool   `json:"headless"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	// DelaySeconds spaces out consecutive parcels.
	DelaySeconds int    `json:"delay_seconds"`
	MaxTaxYear   string `json:"max_tax_year"`
	// HttpDumpDir captures raw HTTP exchanges for debugging when set.
	HttpDumpDir string `json:"http_dump_dir"`
}

func (c CountyConfig) timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type driverFactory func(CountyConfig) (protocol.Driver, error)

var registry = map[string]driverFactory{
	"landnav": func(c CountyConfig) (protocol.Driver, error) {
		return landnav.NewScraper(landnav.ScraperOptions{
			BaseUrl:     c.BaseUrl,
			Headless:    c.Headless,
			MaxTaxYear:  c.MaxTaxYear,
			Timeout:     c.timeout(),
			HttpDumpDir: c.HttpDumpDir,
		})
	},
	"aspnet": func(c CountyConfig) (protocol.Driver, error) {
		return aspnet.NewScraper(aspnet.ScraperOptions{
			BaseUrl:     c.BaseUrl,
			Headless:    c.Headless,
			Timeout:     c.timeout(),
			HttpDumpDir: c.HttpDumpDir,
		})
	},
	"greenlake": func(c CountyConfig) (protocol.Driver, error) {
		return greenlake.NewScraper(greenlake.ScraperOptions{
			BaseUrl:     c.BaseUrl,
			Timeout:     c.timeout(),
			HttpDumpDir: c.HttpDumpDir,
		})
	},
}

// countyVariants maps the known counties onto their site software.
var countyVariants = map[string]string{
	"la_crosse":  "landnav",
	"brown":      "aspnet",
	"green_lake": "greenlake",
}

func newDriver(county string, cfg CountyConfig) (protocol.Driver, error) {
	variant := cfg.Variant
	if variant == "" {
		variant = countyVariants[county]
	}
	factory, ok := registry[variant]
	if !ok {
		return nil, fmt.Errorf("no driver for county %q (variant %q)", county, variant)
	}
	return factory(cfg)
}

// SupportedCounties lists the registry's known county names.
func SupportedCounties() []string {
	out := make([]string, 0, len(countyVariants))
	for county := range countyVariants {
		out = append(out, county)
	}
	return out
}

type Service struct {
	db  *sql.DB
	qry *db.Queries
}

func NewService(database *sql.DB) Service {
	return Service{
		db:  database,
		qry: db.New(database),
	}
}

// ScrapeCounty runs every parcel through the county's driver, normalizes
// the results and persists them. A parcel failure is recorded on its
// bundle and does not stop the run; a failure establishing either channel
// (session or gate) aborts the whole run, since every remaining parcel
// would fail the same way.
func (s Service) ScrapeCounty(ctx context.Context, county string, cfg CountyConfig, parcels []string) (normalize.Tables, error) {
	ctx, span := tracer.Start(ctx, "ScrapeCounty")
	defer span.End()
	span.SetAttributes(
		attribute.String("county", county),
		attribute.Int("parcel_count", len(parcels)),
	)

	driver, err := newDriver(county, cfg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return normalize.Tables{}, err
	}
	return s.scrape(ctx, county, driver, parcels, time.Duration(cfg.DelaySeconds)*time.Second)
}

func (s Service) scrape(ctx context.Context, county string, driver protocol.Driver, parcels []string, delay time.Duration) (normalize.Tables, error) {
	defer func() {
		if err := driver.Close(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("failed to close driver", "county", county, "err", err)
		}
	}()

	runner := protocol.NewRunner(driver)
	bundles := make([]normalize.Bundle, 0, len(parcels))
	for i, parcel := range parcels {
		if i > 0 && delay > 0 {
			select {
			case <-ctx.Done():
				return normalize.Tables{}, ctx.Err()
			case <-time.After(delay):
			}
		}

		bundle := normalize.Bundle{ParcelID: parcel, County: county}
		res, err := runner.Run(ctx, parcel)
		if err != nil {
			var stepErr *protocol.StepError
			if errors.As(err, &stepErr) && stepErr.Step.ChannelSetup() {
				slog.Error("channel setup failed, aborting run", "county", county, "err", err)
				return normalize.Tables{}, err
			}
			slog.Error("parcel scrape failed", "county", county, "parcel", parcel, "err", err)
			bundle.Error = err.Error()
		} else {
			bundle.SearchData = res.SearchData
			bundle.TaxData = res.TaxData
			slog.Info("parcel scraped", "county", county, "parcel", parcel, "property_id", res.PropertyID)
		}
		bundles = append(bundles, bundle)
	}

	tables := normalize.New().Normalize(bundles)
	if err := s.persist(ctx, county, parcels, tables); err != nil {
		return tables, err
	}
	return tables, nil
}

// persist writes one run's tables transactionally, replacing any earlier
// rows for the same parcels.
func (s Service) persist(ctx context.Context, county string, parcels []string, tables normalize.Tables) error {
	ctx, span := tracer.Start(ctx, "persist")
	defer span.End()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	defer tx.Rollback()
	txqry := s.qry.WithTx(tx)

	for _, parcel := range parcels {
		if err := txqry.DeleteParcelRows(ctx, county, parcel); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}

	for _, p := range tables.Properties {
		err := txqry.CreateProperty(ctx, db.CreatePropertyParams{
			ParcelID:     p.ParcelID,
			PropertyID:   p.PropertyID,
			OwnerName:    p.OwnerName,
			Municipality: p.Municipality,
			Address:      p.Address,
			County:       p.County,
			ExtractedAt:  p.ExtractedAt,
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}
	for _, tp := range tables.TaxPeriods {
		err := txqry.CreateTaxPeriod(ctx, db.CreateTaxPeriodParams{
			ParcelID:       tp.ParcelID,
			PropertyID:     tp.PropertyID,
			TaxYear:        tp.TaxYear,
			TotalTaxAmount: nullFloat(tp.TotalTaxAmount),
			Status:         tp.Status,
			County:         tp.County,
			ExtractedAt:    tp.ExtractedAt,
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}
	for _, inst := range tables.Installments {
		err := txqry.CreateInstallment(ctx, db.CreateInstallmentParams{
			ParcelID:    inst.ParcelID,
			PropertyID:  inst.PropertyID,
			Number:      int64(inst.Number),
			Type:        inst.Type,
			Amount:      nullFloat(inst.Amount),
			DueDate:     inst.DueDate,
			PaidDate:    inst.PaidDate,
			Status:      inst.Status,
			TaxYear:     inst.TaxYear,
			County:      inst.County,
			ExtractedAt: inst.ExtractedAt,
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}
	for _, d := range tables.DelinquentTaxes {
		err := txqry.CreateDelinquentTax(ctx, db.CreateDelinquentTaxParams{
			ParcelID:               d.ParcelID,
			PropertyID:             d.PropertyID,
			TaxYear:                d.TaxYear,
			Amount:                 d.Amount,
			Status:                 d.Status,
			InstallmentsDelinquent: d.InstallmentsDelinquent,
			County:                 d.County,
			ExtractedAt:            d.ExtractedAt,
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}
	for _, pi := range tables.PenaltyInterest {
		err := txqry.CreatePenaltyInterest(ctx, db.CreatePenaltyInterestParams{
			ParcelID:       pi.ParcelID,
			PropertyID:     pi.PropertyID,
			TaxYear:        pi.TaxYear,
			PenaltyAmount:  pi.PenaltyAmount,
			InterestAmount: pi.InterestAmount,
			Total:          pi.Total,
			County:         pi.County,
			ExtractedAt:    pi.ExtractedAt,
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
