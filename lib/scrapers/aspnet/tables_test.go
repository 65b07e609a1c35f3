package aspnet

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

const taxViewMarkup = `<html><body>
<table id="ctl00_cphMainApp_SearchDetailsParcel_gvParcel">
<tr><th>Parcel Number</th><th>Property Address</th><th>Municipality</th><th>Owner</th></tr>
<tr><td>WD-123</td><td>100 MAIN ST</td><td>CITY OF GREEN BAY</td><td>DOE JOHN</td></tr>
</table>
<span id="ctl00_cphMainApp_SearchDetailsParcel_lblBillNumber">4711</span>
<span id="ctl00_cphMainApp_SearchDetailsParcel_lblNetMillRate">0.0215</span>
<table id="ctl00_cphMainApp_gvInstallments">
<tr><th>Due Date</th><th>Amount</th></tr>
<tr><td>01/31/2025</td><td>$1,200.00</td></tr>
<tr><td>07/31/2025</td><td>$1,200.00</td></tr>
</table>
<table id="ctl00_cphMainApp_gvTaxHistory">
<tr><th>Year</th><th>Amount</th><th>Paid</th><th>Interest Paid</th><th>Penalties Paid</th><th>Amount Due</th><th>Status</th></tr>
<tr><td>2024</td><td>$2,400.00</td><td>$2,400.00</td><td>$0.00</td><td>$0.00</td><td>$0.00</td><td>Paid</td></tr>
<tr><td>2023</td><td>$2,300.00</td><td>$1,000.00</td><td>$45.50</td><td>$30.00</td><td>$1,300.00</td><td>Delinquent</td></tr>
<tr><td>Totals</td><td>$4,700.00</td><td>$3,400.00</td><td>$45.50</td><td>$30.00</td><td>$1,300.00</td><td></td></tr>
</table>
<table id="ctl00_cphMainApp_gvAssessments">
<tr><th>Class</th><th>Acres</th><th>Land</th><th>Improvements</th></tr>
<tr><td>G1</td><td>0.25</td><td>$20,000</td><td>$150,000</td></tr>
</table>
</body></html>`

func TestParseTaxMarkupSplitsInstallmentSchedule(t *testing.T) {
	data := parseTaxMarkup(taxViewMarkup)

	installments, ok := data["installments"].([]any)
	require.True(t, ok)
	require.Len(t, installments, 2)
	first := installments[0].(map[string]any)
	require.Equal(t, "01/31/2025", first["due_date"])
	require.Equal(t, "$1,200.00", first["amount"])
}

func TestParseTaxMarkupFindsDelinquentHistoryRows(t *testing.T) {
	data := parseTaxMarkup(taxViewMarkup)

	unpaid, ok := data["unpaid_taxes"].([]any)
	require.True(t, ok)
	require.Len(t, unpaid, 1)
	entry := unpaid[0].(map[string]any)
	require.Equal(t, "2023", entry["year"])
	require.Equal(t, 1300.0, entry["amount"])
	require.Equal(t, "Delinquent", entry["status"])
}

func TestParseTaxMarkupSumsPenaltyAndInterest(t *testing.T) {
	data := parseTaxMarkup(taxViewMarkup)

	require.Equal(t, 30.0, data["penalty"])
	require.Equal(t, 45.5, data["interest"])
}

func TestParseTaxMarkupPassesUnrecognizedTablesThrough(t *testing.T) {
	data := parseTaxMarkup(taxViewMarkup)

	page := data["page_extracted"].(map[string]any)
	tables := page["tax_tables"].([]any)
	// details and assessments tables survive, consumed tables do not
	require.Len(t, tables, 2)
	require.Equal(t, taxViewMarkup, page["html"])
}

func TestHistoryRecordsDropRowsWithoutAYear(t *testing.T) {
	data := parseTaxMarkup(taxViewMarkup)

	// the Totals row never becomes delinquency evidence despite its
	// positive amount-due cell
	unpaid := data["unpaid_taxes"].([]any)
	for _, v := range unpaid {
		require.NotEqual(t, "Totals", v.(map[string]any)["year"])
	}
}

func TestExtractPropertyDetails(t *testing.T) {
	details := extractPropertyDetails(taxViewMarkup)

	require.Equal(t, "WD-123", details["parcel_number"])
	require.Equal(t, "100 MAIN ST", details["property_address"])
	require.Equal(t, "CITY OF GREEN BAY", details["municipality"])
	require.Equal(t, "DOE JOHN", details["owner"])
	require.Equal(t, "4711", details["bill_number"])
	require.Equal(t, "0.0215", details["net_mill_rate"])
}

func TestSearchEntryFromDetails(t *testing.T) {
	entry := searchEntryFromDetails("WD-123", extractPropertyDetails(taxViewMarkup))

	require.Equal(t, "WD-123", entry["ParcelNumber"])
	require.Equal(t, "DOE JOHN", entry["OwnerName"])
	require.Equal(t, "CITY OF GREEN BAY", entry["MunicipalityDescription"])
	require.Equal(t, "100 MAIN ST", entry["PropertyAddress"])
}

func TestPropertyIdFromMarkupReadsSearchDelta(t *testing.T) {
	// result present only in the HTTP search delta, not the browser page
	body := "1|#||4|81358|updatePanel|ctl00_cphMainApp_upSearch|" + taxViewMarkup
	delta := ParseAjaxDelta(body)

	_, ok := propertyIdFromMarkup("", "100-0001")
	require.False(t, ok)

	id, ok := propertyIdFromMarkup(delta, "100-0001")
	require.True(t, ok)
	require.Equal(t, "WD-123", id)
}

func TestPropertyIdFromMarkupConfirmsViaTaxesLink(t *testing.T) {
	markup := `<html><body><a id="ctl00_cphMainApp_SearchDetailsParcel_LinkButtonTaxes">Taxes</a></body></html>`

	id, ok := propertyIdFromMarkup(markup, "100-0001")
	require.True(t, ok)
	require.Equal(t, "100-0001", id)

	_, ok = propertyIdFromMarkup("<html><body><p>no results</p></body></html>", "100-0001")
	require.False(t, ok)
}

func TestPostbackTargetFor(t *testing.T) {
	page := `<html><body>
<a id="ctl00_cphMainApp_SearchDetailsParcel_LinkButtonTaxes"
   href="javascript:__doPostBack('ctl00$cphMainApp$SearchDetailsParcel$LinkButtonTaxes','')">Taxes</a>
<a href="/Help.aspx">Help</a>
</body></html>`

	target := postbackTargetFor(context.Background(), page, "Taxes")
	require.Equal(t, "ctl00$cphMainApp$SearchDetailsParcel$LinkButtonTaxes", target)
}

func TestPostbackTargetForMissingAnchor(t *testing.T) {
	require.Equal(t, "", postbackTargetFor(context.Background(), "<html><body></body></html>", "Taxes"))
}
