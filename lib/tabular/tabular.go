// Package tabular converts arbitrary HTML tables into header/row matrices
// and classifies rows by the keyword heuristics the county sites make
// necessary: installment schedules, delinquency summaries and generic
// financial rows are rarely labeled, and a single row can legitimately carry
// more than one meaning. Deduplication is the normalizer's job, not ours.
package tabular

import (
	"strconv"
	"strings"

	"landrecords-backend/lib/textutil"

	"github.com/PuerkitoBio/goquery"
)

// Table is one extracted HTML table. The first <tr> is treated as the header
// row when present.
type Table struct {
	Headers []string
	Rows    [][]string
}

// ExtractTables walks every <table> in the document and produces one matrix
// per table. Empty tables are skipped.
func ExtractTables(doc *goquery.Document) []Table {
	var tables []Table
	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		var t Table
		table.Find("tr").Each(func(rowIdx int, row *goquery.Selection) {
			var cells []string
			row.Find("th, td").Each(func(_ int, cell *goquery.Selection) {
				cells = append(cells, strings.TrimSpace(cell.Text()))
			})
			if len(cells) == 0 {
				return
			}
			if rowIdx == 0 {
				t.Headers = cells
				return
			}
			t.Rows = append(t.Rows, cells)
		})
		if len(t.Headers) == 0 && len(t.Rows) == 0 {
			return
		}
		tables = append(tables, t)
	})
	return tables
}

var installmentCues = []string{"installment", "due date", "payment"}
var delinquentCues = []string{"unpaid", "delinquent", "outstanding", "balance", "owed"}
var amountHeaderCues = []string{"amount", "total"}

// Class is the result of classifying one row. A row may belong to several
// buckets at once; source pages do not cleanly separate installment and
// delinquency semantics.
type Class struct {
	Installment bool
	Delinquent  bool
	// Financial marks rows with no keyword cue that still carry an
	// amount-like column, which makes them worth keeping as installment
	// candidates.
	Financial bool
}

// Classify joins all cell values of a row and tests the three cue sets in
// order. The financial fallback only fires when neither keyword set matched.
func Classify(headers []string, cells []string) Class {
	rowText := strings.ToLower(strings.Join(cells, " "))

	var c Class
	c.Installment = textutil.ContainsAny(rowText, installmentCues)
	c.Delinquent = textutil.ContainsAny(rowText, delinquentCues)
	if c.Installment || c.Delinquent {
		return c
	}

	for _, h := range headers {
		if textutil.ContainsAny(h, amountHeaderCues) {
			c.Financial = true
			return c
		}
	}
	for _, cell := range cells {
		if strings.Contains(cell, "$") {
			c.Financial = true
			return c
		}
	}
	return c
}

// RowMap keys a row's cells by their header, falling back to a positional
// column_N name when the row is wider than the header row. The result is the
// loosely typed record shape the normalizer consumes.
func RowMap(headers []string, cells []string) map[string]any {
	record := make(map[string]any, len(cells))
	for i, cell := range cells {
		key := "column_" + strconv.Itoa(i)
		if i < len(headers) && headers[i] != "" {
			key = headers[i]
		}
		record[key] = cell
	}
	return record
}

// Columns holds the detected index of each column role, -1 when the table
// has no such column. A missing role leaves the corresponding field
// unextracted; it is not an error.
type Columns struct {
	Amount int
	Date   int
	Type   int
	Year   int
	Status int
}

// DetectColumns scans the header row once for substrings identifying each
// column role.
func DetectColumns(headers []string) Columns {
	cols := Columns{Amount: -1, Date: -1, Type: -1, Year: -1, Status: -1}
	for i, header := range headers {
		h := strings.ToLower(header)
		if cols.Amount == -1 && (strings.Contains(h, "amount") || strings.Contains(h, "total") || strings.Contains(h, "$")) {
			cols.Amount = i
		}
		if cols.Date == -1 && (strings.Contains(h, "date") || strings.Contains(h, "due")) {
			cols.Date = i
		}
		if cols.Type == -1 && (strings.Contains(h, "type") || strings.Contains(h, "installment")) {
			cols.Type = i
		}
		if cols.Year == -1 && strings.Contains(h, "year") {
			cols.Year = i
		}
		if cols.Status == -1 && (strings.Contains(h, "status") || strings.Contains(h, "paid") || strings.Contains(h, "delinquent")) {
			cols.Status = i
		}
	}
	return cols
}

// Cell returns the trimmed cell at idx, or "" when idx is -1 or the row is
// too short.
func Cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}
