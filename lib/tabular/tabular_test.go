package tabular

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

const taxPageHTML = `
<html><body>
<table>
  <tr><th>Due Date</th><th>Amount</th></tr>
  <tr><td>01/31/2025</td><td>$1,200.00</td></tr>
  <tr><td>07/31/2025</td><td>$1,200.00</td></tr>
</table>
<table>
  <tr><th>Year</th><th>Amount</th><th>Status</th></tr>
  <tr><td>2023</td><td>$500.00</td><td>Delinquent</td></tr>
</table>
<table></table>
</body></html>`

func TestExtractTables(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(taxPageHTML))
	require.NoError(t, err)

	tables := ExtractTables(doc)
	require.Len(t, tables, 2)

	expected := Table{
		Headers: []string{"Due Date", "Amount"},
		Rows: [][]string{
			{"01/31/2025", "$1,200.00"},
			{"07/31/2025", "$1,200.00"},
		},
	}
	if diff := cmp.Diff(expected, tables[0]); diff != "" {
		t.Fatalf("unexpected first table (-want +got):\n%s", diff)
	}
	require.Equal(t, []string{"Year", "Amount", "Status"}, tables[1].Headers)
}

func TestClassify(t *testing.T) {
	headers := []string{"Description", "Amount"}

	c := Classify(headers, []string{"1st Installment", "due date 01/31/2025", "$600.00"})
	require.True(t, c.Installment)
	require.False(t, c.Financial)

	c = Classify(headers, []string{"Unpaid balance 2023", "$750.00"})
	require.True(t, c.Delinquent)

	// a row can be both an installment and delinquency candidate
	c = Classify(headers, []string{"Installment 2", "delinquent", "$300.00"})
	require.True(t, c.Installment)
	require.True(t, c.Delinquent)

	// no keyword cues, but an amount column makes it look financial
	c = Classify(headers, []string{"Garbage fee", "12.50"})
	require.True(t, c.Financial)
	require.False(t, c.Installment)
	require.False(t, c.Delinquent)

	c = Classify([]string{"Name", "Note"}, []string{"School district", "GREEN BAY"})
	require.Equal(t, Class{}, c)
}

func TestRowMap(t *testing.T) {
	record := RowMap([]string{"Year", "Amount"}, []string{"2024", "$10.00", "extra"})
	require.Equal(t, map[string]any{
		"Year":     "2024",
		"Amount":   "$10.00",
		"column_2": "extra",
	}, record)
}

func TestDetectColumns(t *testing.T) {
	cols := DetectColumns([]string{"Tax Year", "Installment Type", "Due Date", "Amount", "Status"})
	require.Equal(t, 0, cols.Year)
	require.Equal(t, 1, cols.Type)
	require.Equal(t, 2, cols.Date)
	require.Equal(t, 3, cols.Amount)
	require.Equal(t, 4, cols.Status)

	cols = DetectColumns([]string{"Owner", "Municipality"})
	require.Equal(t, Columns{Amount: -1, Date: -1, Type: -1, Year: -1, Status: -1}, cols)
}

func TestCell(t *testing.T) {
	row := []string{"a", " b "}
	require.Equal(t, "a", Cell(row, 0))
	require.Equal(t, "b", Cell(row, 1))
	require.Equal(t, "", Cell(row, -1))
	require.Equal(t, "", Cell(row, 5))
}
