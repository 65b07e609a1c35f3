package landnav

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPropertyIdFromSearchPrefersExactParcelMatch(t *testing.T) {
	searchData := map[string]any{
		"data": []any{
			map[string]any{"UserDefinedId": "11-11111-11", "PropertyId": float64(100)},
			map[string]any{"UserDefinedId": "01-00023-010", "PropertyId": float64(1638665)},
		},
	}
	require.Equal(t, "1638665", propertyIdFromSearch(searchData, "01-00023-010"))
}

func TestPropertyIdFromSearchFallsBackToFirstRecord(t *testing.T) {
	searchData := map[string]any{
		"data": []any{
			map[string]any{"UserDefinedId": "11-11111-11", "propertyId": "100"},
		},
	}
	require.Equal(t, "100", propertyIdFromSearch(searchData, "99-99999-99"))
}

func TestPropertyIdFromSearchHandlesIndexKeyedData(t *testing.T) {
	searchData := map[string]any{
		"data": map[string]any{
			"0": map[string]any{"ParcelNumber": "01-00023-010", "Id": float64(77)},
		},
	}
	require.Equal(t, "77", propertyIdFromSearch(searchData, "01-00023-010"))
}

func TestPropertyIdFromSearchEmptyPayload(t *testing.T) {
	require.Equal(t, "", propertyIdFromSearch(map[string]any{"data": []any{}}, "x"))
	require.Equal(t, "", propertyIdFromSearch("not a map", "x"))
	require.Equal(t, "", propertyIdFromSearch(nil, "x"))
}

const taxPageMarkup = `
<html><body>
<table>
  <tr><th>Installment</th><th>Due Date</th><th>Amount</th></tr>
  <tr><td>1st Installment</td><td>01/31/2025</td><td>$1,234.56</td></tr>
  <tr><td>2nd Installment</td><td>07/31/2025</td><td>$1,234.56</td></tr>
</table>
<table>
  <tr><th>Tax Year</th><th>Balance</th></tr>
  <tr><td>2023</td><td>Delinquent $432.10</td></tr>
</table>
</body></html>`

func TestClassifyTaxMarkupBucketsRows(t *testing.T) {
	taxData := classifyTaxMarkup(taxPageMarkup)

	installments, ok := taxData["installments"].([]any)
	require.True(t, ok)
	require.Len(t, installments, 2)
	first, ok := installments[0].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "1st Installment", first["Installment"])
	require.Equal(t, "$1,234.56", first["Amount"])

	unpaid, ok := taxData["unpaid_taxes"].([]any)
	require.True(t, ok)
	require.Len(t, unpaid, 1)

	require.Equal(t, taxPageMarkup, taxData["html"])
}

func TestClassifyTaxMarkupEmptyDocument(t *testing.T) {
	taxData := classifyTaxMarkup("<html><body><p>no tables</p></body></html>")
	require.Empty(t, taxData["installments"])
	require.Empty(t, taxData["unpaid_taxes"])
}
