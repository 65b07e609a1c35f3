package greenlake

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

const searchResultsXML = `<?xml version="1.0" encoding="utf-8"?>
<ArrayOfRealEstateTaxParcelVm xmlns="http://schemas.datacontract.org/2004/07/LRS.Providers.ServiceViewModels.PropertyListing.RealEstateTaxParcel" xmlns:i="http://www.w3.org/2001/XMLSchema-instance">
  <RealEstateTaxParcelVm>
    <ParcelId>90210</ParcelId>
    <UserDefinedId>004-00123-0000</UserDefinedId>
    <ConcatenatedName>SMITH JANE</ConcatenatedName>
    <MunicipalityDescription>TOWN OF BERLIN</MunicipalityDescription>
    <PropertyAddress_HouseNumber>210</PropertyAddress_HouseNumber>
    <PropertyAddress_StreetName>OAK</PropertyAddress_StreetName>
    <PropertyAddress_StreetType>AVE</PropertyAddress_StreetType>
  </RealEstateTaxParcelVm>
  <RealEstateTaxParcelVm>
    <ParcelId>90211</ParcelId>
    <UserDefinedId>004-00124-0000</UserDefinedId>
    <ConcatenatedName>SMITH JOHN</ConcatenatedName>
  </RealEstateTaxParcelVm>
</ArrayOfRealEstateTaxParcelVm>`

func TestParseSearchResultsXML(t *testing.T) {
	entries := parseSearchResults(searchResultsXML)

	require.Len(t, entries, 2)
	first := entries[0].(map[string]any)
	require.Equal(t, "90210", first["ParcelId"])
	require.Equal(t, "004-00123-0000", first["UserDefinedId"])
	require.Equal(t, "SMITH JANE", first["ConcatenatedName"])
	require.Equal(t, "TOWN OF BERLIN", first["MunicipalityDescription"])
}

func TestParseSearchResultsFlatXMLFallback(t *testing.T) {
	body := `<Parcel><ParcelId>77</ParcelId><UserDefinedId>001-1</UserDefinedId></Parcel>`

	entries := parseSearchResults(body)
	require.Len(t, entries, 1)
	require.Equal(t, "77", entries[0].(map[string]any)["ParcelId"])
}

func TestParseSearchResultsJSONFallback(t *testing.T) {
	body := `{"data":[{"ParcelId":90210,"UserDefinedId":"004-00123-0000"}]}`

	entries := parseSearchResults(body)
	require.Len(t, entries, 1)
	require.Equal(t, float64(90210), entries[0].(map[string]any)["ParcelId"])
}

func TestParseSearchResultsGarbage(t *testing.T) {
	require.Empty(t, parseSearchResults("not xml, not json"))
}

func TestResolvePropertyIDPrefersExactParcelMatch(t *testing.T) {
	s := &Scraper{
		parcelId:   "004-00124-0000",
		searchData: map[string]any{"data": parseSearchResults(searchResultsXML)},
	}

	id, err := s.ResolvePropertyID(context.Background())
	require.NoError(t, err)
	require.Equal(t, "90211", id)
}

func TestResolvePropertyIDFallsBackToFirstResult(t *testing.T) {
	s := &Scraper{
		parcelId:   "999-99999-9999",
		searchData: map[string]any{"data": parseSearchResults(searchResultsXML)},
	}

	id, err := s.ResolvePropertyID(context.Background())
	require.NoError(t, err)
	require.Equal(t, "90210", id)
}

func TestResolvePropertyIDEmptyResults(t *testing.T) {
	s := &Scraper{parcelId: "004-00123-0000"}

	_, err := s.ResolvePropertyID(context.Background())
	require.Error(t, err)
}

const taxBillXML = `<?xml version="1.0" encoding="utf-8"?>
<TaxBillResultsVm xmlns:i="http://www.w3.org/2001/XMLSchema-instance">
  <TaxBillVm>
    <TaxYear>2024</TaxYear>
    <TotalTax>2400.00</TotalTax>
    <FirstInstallmentAmount>1200.00</FirstInstallmentAmount>
    <SecondInstallmentAmount>1200.00</SecondInstallmentAmount>
    <Status>Current</Status>
  </TaxBillVm>
</TaxBillResultsVm>`

func TestParseTaxBillReachesThroughEnvelopes(t *testing.T) {
	bill := parseTaxBill(taxBillXML)

	require.Equal(t, "2024", bill["TaxYear"])
	require.Equal(t, "2400.00", bill["TotalTax"])
	require.Equal(t, "Current", bill["Status"])
}

func TestParseTaxBillJSONFallback(t *testing.T) {
	bill := parseTaxBill(`{"TaxYear":"2023","TotalTax":2300}`)

	require.Equal(t, "2023", bill["TaxYear"])
	require.Equal(t, float64(2300), bill["TotalTax"])
}

func TestParseTaxBillGarbage(t *testing.T) {
	require.Empty(t, parseTaxBill("<<<"))
}
