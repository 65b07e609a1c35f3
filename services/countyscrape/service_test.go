package countyscrape

import (
	"context"
	"fmt"
	"testing"

	"landrecords-backend/lib/testutil"
	"landrecords-backend/services/countyscrape/db"

	"github.com/stretchr/testify/require"
)

// fakeDriver walks the protocol without any site behind it.
type fakeDriver struct {
	failParcels map[string]bool
	parcel      string
	closed      bool
}

func (d *fakeDriver) AcquireSession(ctx context.Context) error { return nil }
func (d *fakeDriver) CompleteGate(ctx context.Context) error   { return nil }

func (d *fakeDriver) SubmitSearch(ctx context.Context, parcelID string) error {
	if d.failParcels[parcelID] {
		return fmt.Errorf("search rejected for %s", parcelID)
	}
	d.parcel = parcelID
	return nil
}

func (d *fakeDriver) ResolvePropertyID(ctx context.Context) (string, error) {
	return "555", nil
}

func (d *fakeDriver) NavigateToTaxView(ctx context.Context) error { return nil }

func (d *fakeDriver) Extract(ctx context.Context) (any, any, error) {
	searchData := map[string]any{
		"data": []any{
			map[string]any{
				"UserDefinedId":               d.parcel,
				"PropertyId":                  "555",
				"ConcatenatedName":            "DOE JOHN",
				"MunicipalityDescription":     "CITY OF ONALASKA",
				"PropertyAddress_HouseNumber": "700",
				"PropertyAddress_StreetName":  "PINE",
				"PropertyAddress_StreetType":  "ST",
			},
		},
	}
	taxData := map[string]any{
		"2023": map[string]any{
			"total":  "$2,300.00",
			"status": "Delinquent",
			"installments": []any{
				map[string]any{"amount": "$1,150.00", "dueDate": "2023-01-31", "status": "Paid"},
				map[string]any{"amount": "$1,150.00", "dueDate": "2023-07-31", "status": "Delinquent"},
			},
			"unpaid_taxes": []any{
				map[string]any{"year": "2023", "amount": "$1,150.00", "status": "Delinquent"},
			},
		},
		"penalty":  30.0,
		"interest": 45.5,
	}
	return searchData, taxData, nil
}

func (d *fakeDriver) Close(ctx context.Context) error {
	d.closed = true
	return nil
}

func setup(t *testing.T) (Service, func()) {
	res, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name:     "countyscrape",
		DbSchema: db.Schema,
	})
	return NewService(res.DB), func() {
		res.DB.Close()
		cleanup()
	}
}

func TestScrapePersistsAllTables(t *testing.T) {
	svc, cleanup := setup(t)
	defer cleanup()

	driver := &fakeDriver{}
	tables, err := svc.scrape(context.Background(), "la_crosse", driver,
		[]string{"17-10023-100", "17-10023-200"}, 0)
	require.NoError(t, err)
	require.True(t, driver.closed)

	require.Len(t, tables.Properties, 2)
	require.Len(t, tables.TaxPeriods, 2)
	require.Len(t, tables.Installments, 4)
	require.Len(t, tables.DelinquentTaxes, 2)
	require.Len(t, tables.PenaltyInterest, 2)

	props, err := svc.qry.ListProperties(context.Background(), "la_crosse")
	require.NoError(t, err)
	require.Len(t, props, 2)
	require.Equal(t, "DOE JOHN", props[0].OwnerName)
	require.Equal(t, "700 PINE ST", props[0].Address)
	require.Equal(t, "555", props[0].PropertyID)

	delinquent, err := svc.qry.ListDelinquentTaxes(context.Background(), "la_crosse")
	require.NoError(t, err)
	require.Len(t, delinquent, 2)
	require.Equal(t, "2023", delinquent[0].TaxYear)
	require.Equal(t, 1150.0, delinquent[0].Amount)
}

// brokenChannelDriver fails before any parcel work can happen.
type brokenChannelDriver struct {
	fakeDriver
}

func (d *brokenChannelDriver) AcquireSession(ctx context.Context) error {
	return fmt.Errorf("failed to start browser: no chrome executable")
}

func TestChannelSetupFailureAbortsRun(t *testing.T) {
	svc, cleanup := setup(t)
	defer cleanup()

	driver := &brokenChannelDriver{}
	_, err := svc.scrape(context.Background(), "la_crosse", driver,
		[]string{"17-10023-100", "17-10023-200", "17-10023-300"}, 0)
	require.Error(t, err)
	require.ErrorContains(t, err, "no chrome executable")
	require.True(t, driver.closed)

	props, err := svc.qry.ListProperties(context.Background(), "la_crosse")
	require.NoError(t, err)
	require.Empty(t, props)
}

func TestFailedParcelContributesNoRows(t *testing.T) {
	svc, cleanup := setup(t)
	defer cleanup()

	driver := &fakeDriver{failParcels: map[string]bool{"17-BAD-1": true}}
	tables, err := svc.scrape(context.Background(), "la_crosse", driver,
		[]string{"17-BAD-1", "17-10023-100"}, 0)
	require.NoError(t, err)

	require.Len(t, tables.Properties, 1)
	require.Equal(t, "17-10023-100", tables.Properties[0].ParcelID)

	props, err := svc.qry.ListProperties(context.Background(), "la_crosse")
	require.NoError(t, err)
	require.Len(t, props, 1)
}

func TestRescrapeReplacesRows(t *testing.T) {
	svc, cleanup := setup(t)
	defer cleanup()

	parcels := []string{"17-10023-100"}
	_, err := svc.scrape(context.Background(), "la_crosse", &fakeDriver{}, parcels, 0)
	require.NoError(t, err)
	_, err = svc.scrape(context.Background(), "la_crosse", &fakeDriver{}, parcels, 0)
	require.NoError(t, err)

	props, err := svc.qry.ListProperties(context.Background(), "la_crosse")
	require.NoError(t, err)
	require.Len(t, props, 1)
}

func TestScrapeCountyRejectsUnknownCounty(t *testing.T) {
	svc, cleanup := setup(t)
	defer cleanup()

	_, err := svc.ScrapeCounty(context.Background(), "nowhere", CountyConfig{}, nil)
	require.Error(t, err)
}
