package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testNormalizer() *Normalizer {
	return &Normalizer{now: func() time.Time {
		return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	}}
}

func TestPropertyFromMatchingSearchEntry(t *testing.T) {
	bundle := Bundle{
		ParcelID: "12-345-67",
		County:   "la_crosse",
		SearchData: map[string]any{
			"data": []any{
				map[string]any{
					"UserDefinedId":    "99-999-99",
					"PropertyId":       float64(111),
					"ConcatenatedName": "WRONG OWNER",
				},
				map[string]any{
					"UserDefinedId":                   "12-345-67",
					"PropertyId":                      float64(4242),
					"ConcatenatedName":                "DOE JOHN & JANE",
					"MunicipalityDescription":         "CITY OF LA CROSSE",
					"PropertyAddress_HouseNumber":     "123",
					"PropertyAddress_StreetName":      "MAIN",
					"PropertyAddress_StreetType":      "ST",
					"PropertyAddress_SuffixDirection": "N",
					"PropertyAddress_UnitType":        "APT",
					"PropertyAddress_UnitNumber":      "2",
				},
			},
		},
	}

	tables := testNormalizer().Normalize([]Bundle{bundle})
	require.Len(t, tables.Properties, 1)

	p := tables.Properties[0]
	require.Equal(t, "12-345-67", p.ParcelID)
	require.Equal(t, "4242", p.PropertyID)
	require.Equal(t, "DOE JOHN & JANE", p.OwnerName)
	require.Equal(t, "CITY OF LA CROSSE", p.Municipality)
	require.Equal(t, "123 MAIN ST N, APT 2", p.Address)
	require.Equal(t, "la_crosse", p.County)
	require.Equal(t, "2026-03-01T12:00:00", p.ExtractedAt)
}

func TestPropertyOwnerFromFirstLastNames(t *testing.T) {
	bundle := Bundle{
		ParcelID: "1",
		SearchData: map[string]any{
			"data": []any{
				map[string]any{"parcelNumber": "1", "id": "77", "firstName": "JOHN", "lastName": "DOE"},
			},
		},
	}
	tables := testNormalizer().Normalize([]Bundle{bundle})
	require.Len(t, tables.Properties, 1)
	require.Equal(t, "JOHN DOE", tables.Properties[0].OwnerName)
	require.Equal(t, "77", tables.Properties[0].PropertyID)
}

func TestNoPropertyWithoutExactParcelMatch(t *testing.T) {
	bundle := Bundle{
		ParcelID: "12-345-67",
		SearchData: map[string]any{
			"data": []any{
				map[string]any{"UserDefinedId": "99-999-99", "PropertyId": "111", "OwnerName": "SOMEONE"},
			},
		},
	}
	tables := testNormalizer().Normalize([]Bundle{bundle})
	require.Empty(t, tables.Properties)
}

func TestPropertyIDFallsBackToTaxData(t *testing.T) {
	bundle := Bundle{
		ParcelID: "12-345-67",
		TaxData:  map[string]any{"property_id": "998877"},
	}
	tables := testNormalizer().Normalize([]Bundle{bundle})
	require.Len(t, tables.Properties, 1)
	require.Equal(t, "998877", tables.Properties[0].PropertyID)
	require.Empty(t, tables.Properties[0].OwnerName)
}

func TestTaxPeriodsFromYearKeyedPayload(t *testing.T) {
	bundle := Bundle{
		ParcelID: "p1",
		TaxData: map[string]any{
			"2023":    map[string]any{"total": "$3,456.78", "status": "Delinquent"},
			"2024":    map[string]any{"total": "$3,500.00", "status": "Paid in full"},
			"current": map[string]any{"amount": 1200.50, "year": "2025"},
		},
	}
	tables := testNormalizer().Normalize([]Bundle{bundle})
	require.Len(t, tables.TaxPeriods, 3)

	byYear := map[string]TaxPeriod{}
	for _, tp := range tables.TaxPeriods {
		byYear[tp.TaxYear] = tp
	}
	require.Equal(t, StatusDelinquent, byYear["2023"].Status)
	require.InDelta(t, 3456.78, *byYear["2023"].TotalTaxAmount, 0.001)
	require.Equal(t, StatusPaid, byYear["2024"].Status)
	require.Equal(t, StatusCurrent, byYear["2025"].Status)
	require.InDelta(t, 1200.50, *byYear["2025"].TotalTaxAmount, 0.001)
}

func TestInstallmentNumberingRestartsPerYear(t *testing.T) {
	bundle := Bundle{
		ParcelID: "p1",
		TaxData: map[string]any{
			"2023": map[string]any{
				"installments": []any{
					map[string]any{"amount": "100.00", "dueDate": "2023-01-31"},
					map[string]any{"amount": "100.00", "dueDate": "2023-07-31"},
				},
			},
			"2024": map[string]any{
				"installments": []any{
					map[string]any{"amount": "110.00", "dueDate": "2024-01-31"},
					map[string]any{"amount": "110.00", "dueDate": "2024-07-31"},
				},
			},
		},
	}
	tables := testNormalizer().Normalize([]Bundle{bundle})
	require.Len(t, tables.Installments, 4)

	var numbers []int
	var years []string
	for _, inst := range tables.Installments {
		numbers = append(numbers, inst.Number)
		years = append(years, inst.TaxYear)
	}
	require.Equal(t, []int{1, 2, 1, 2}, numbers)
	require.Equal(t, []string{"2023", "2023", "2024", "2024"}, years)
	require.Equal(t, "1st_half", tables.Installments[0].Type)
	require.Equal(t, "2nd_half", tables.Installments[1].Type)
	require.Equal(t, "2024-01-31T00:00:00", tables.Installments[2].DueDate)
}

func TestFlatInstallmentsNumberSequentially(t *testing.T) {
	bundle := Bundle{
		ParcelID: "p1",
		TaxData: map[string]any{
			"installments": []any{
				map[string]any{"type": "First Installment", "amount": "$500.00", "due": "01/31/2025", "status": "Paid"},
				map[string]any{"type": "Second Installment", "amount": "$500.00", "due": "07/31/2025", "status": "Due"},
				map[string]any{"amount": "$20.00"},
			},
		},
	}
	tables := testNormalizer().Normalize([]Bundle{bundle})
	require.Len(t, tables.Installments, 3)
	require.Equal(t, []int{1, 2, 3}, []int{
		tables.Installments[0].Number,
		tables.Installments[1].Number,
		tables.Installments[2].Number,
	})
	require.Equal(t, "1st_half", tables.Installments[0].Type)
	require.Equal(t, StatusPaid, tables.Installments[0].Status)
	require.Equal(t, "2025-01-31T00:00:00", tables.Installments[0].DueDate)
	require.Equal(t, "2nd_half", tables.Installments[1].Type)
	require.Equal(t, StatusPending, tables.Installments[1].Status)
	require.Equal(t, "installment_3", tables.Installments[2].Type)
}

func TestInstallmentsMergeAcrossExtractionSources(t *testing.T) {
	bundle := Bundle{
		ParcelID: "p1",
		TaxData: map[string]any{
			"2024": map[string]any{
				"installments": []any{
					map[string]any{"amount": "100.00"},
				},
				"page_extracted": map[string]any{
					"installments": []any{map[string]any{"amount": "200.00"}},
				},
				"api_extracted": map[string]any{
					"installments": []any{map[string]any{"amount": "300.00"}},
				},
			},
		},
	}
	tables := testNormalizer().Normalize([]Bundle{bundle})
	require.Len(t, tables.Installments, 3)
	require.InDelta(t, 100.0, *tables.Installments[0].Amount, 0.001)
	require.InDelta(t, 200.0, *tables.Installments[1].Amount, 0.001)
	require.InDelta(t, 300.0, *tables.Installments[2].Amount, 0.001)
	require.Equal(t, []int{1, 2, 3}, []int{
		tables.Installments[0].Number,
		tables.Installments[1].Number,
		tables.Installments[2].Number,
	})
}

func TestInstallmentsFromTaxTables(t *testing.T) {
	bundle := Bundle{
		ParcelID: "p1",
		TaxData: map[string]any{
			"page_extracted": map[string]any{
				"tax_tables": []any{
					map[string]any{
						"headers": []any{"Tax Year", "Installment", "Due Date", "Amount", "Status"},
						"rows": []any{
							[]any{"2024", "First", "01/31/2024", "$750.00", "Paid"},
							[]any{"2024", "Second", "07/31/2024", "$750.00", "Delinquent"},
						},
					},
				},
			},
		},
	}
	tables := testNormalizer().Normalize([]Bundle{bundle})
	require.Len(t, tables.Installments, 2)
	require.Equal(t, "2024", tables.Installments[0].TaxYear)
	require.Equal(t, "1st_half", tables.Installments[0].Type)
	require.InDelta(t, 750.0, *tables.Installments[1].Amount, 0.001)
	require.Equal(t, StatusDelinquent, tables.Installments[1].Status)
}

func TestDelinquentFromExplicitUnpaidEntries(t *testing.T) {
	bundle := Bundle{
		ParcelID: "p1",
		TaxData: map[string]any{
			"2022": map[string]any{
				"unpaid_taxes": []any{
					map[string]any{"amount": "$432.10", "installments": "1st, 2nd"},
				},
			},
		},
	}
	tables := testNormalizer().Normalize([]Bundle{bundle})
	require.Len(t, tables.DelinquentTaxes, 1)
	d := tables.DelinquentTaxes[0]
	require.Equal(t, "2022", d.TaxYear)
	require.InDelta(t, 432.10, d.Amount, 0.001)
	require.Equal(t, StatusDelinquent, d.Status)
	require.Equal(t, "1st, 2nd", d.InstallmentsDelinquent)
}

func TestDelinquentDerivedFromInstallmentStatuses(t *testing.T) {
	bundle := Bundle{
		ParcelID: "p1",
		TaxData: map[string]any{
			"installments": []any{
				map[string]any{"amount": "100.00", "status": "Delinquent", "year": "2023"},
				map[string]any{"amount": "50.00", "status": "Unpaid", "year": "2023"},
				map[string]any{"amount": "200.00", "status": "Paid", "year": "2023"},
			},
		},
	}
	tables := testNormalizer().Normalize([]Bundle{bundle})
	require.Len(t, tables.DelinquentTaxes, 1)
	d := tables.DelinquentTaxes[0]
	require.Equal(t, "2023", d.TaxYear)
	require.InDelta(t, 150.0, d.Amount, 0.001)
	require.Equal(t, "installment_1, installment_2", d.InstallmentsDelinquent)
}

func TestExplicitUnpaidEntryBeatsDerivedSum(t *testing.T) {
	bundle := Bundle{
		ParcelID: "p1",
		TaxData: map[string]any{
			"2023": map[string]any{
				"unpaid_taxes": []any{
					map[string]any{"balance": "$75.00"},
				},
				"installments": []any{
					map[string]any{"amount": "100.00", "status": "Delinquent"},
					map[string]any{"amount": "50.00", "status": "Delinquent"},
				},
			},
		},
	}
	tables := testNormalizer().Normalize([]Bundle{bundle})
	require.Len(t, tables.DelinquentTaxes, 1)
	require.InDelta(t, 75.0, tables.DelinquentTaxes[0].Amount, 0.001)
}

func TestNoDelinquentRowForNonPositiveAmounts(t *testing.T) {
	bundle := Bundle{
		ParcelID: "p1",
		TaxData: map[string]any{
			"2023": map[string]any{
				"unpaid_taxes": []any{
					map[string]any{"amount": "0.00"},
					map[string]any{"amount": "-12.00"},
				},
			},
		},
	}
	tables := testNormalizer().Normalize([]Bundle{bundle})
	require.Empty(t, tables.DelinquentTaxes)
}

func TestPenaltyInterestEmittedOncePerBundle(t *testing.T) {
	bundle := Bundle{
		ParcelID: "p1",
		TaxData: map[string]any{
			"penalty":  "$25.00",
			"interest": 12.5,
			"year":     "2024",
		},
	}
	tables := testNormalizer().Normalize([]Bundle{bundle})
	require.Len(t, tables.PenaltyInterest, 1)
	pi := tables.PenaltyInterest[0]
	require.InDelta(t, 25.0, pi.PenaltyAmount, 0.001)
	require.InDelta(t, 12.5, pi.InterestAmount, 0.001)
	require.InDelta(t, 37.5, pi.Total, 0.001)
	require.Equal(t, "2024", pi.TaxYear)
}

func TestNoPenaltyInterestRowWhenBothZero(t *testing.T) {
	bundle := Bundle{
		ParcelID: "p1",
		TaxData:  map[string]any{"penalty": "0.00", "installments": []any{}},
	}
	tables := testNormalizer().Normalize([]Bundle{bundle})
	require.Empty(t, tables.PenaltyInterest)
}

func TestErrorBundlesContributeNothing(t *testing.T) {
	bundles := []Bundle{
		{ParcelID: "bad", Error: "search failed: no results"},
		{ParcelID: "empty"},
		{ParcelID: "junk", TaxData: "not a map", SearchData: 42},
	}
	tables := testNormalizer().Normalize(bundles)
	require.Empty(t, tables.Properties)
	require.Empty(t, tables.TaxPeriods)
	require.Empty(t, tables.Installments)
	require.Empty(t, tables.DelinquentTaxes)
	require.Empty(t, tables.PenaltyInterest)
}

func TestIndexKeyedResultSetsFlattenToLists(t *testing.T) {
	bundle := Bundle{
		ParcelID: "p1",
		SearchData: map[string]any{
			"data": map[string]any{
				"0": map[string]any{"ParcelNumber": "p1", "Id": "55", "OwnerName": "SMITH A"},
			},
		},
	}
	tables := testNormalizer().Normalize([]Bundle{bundle})
	require.Len(t, tables.Properties, 1)
	require.Equal(t, "55", tables.Properties[0].PropertyID)
}
