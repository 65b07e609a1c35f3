package aspnet

import (
	"strings"

	"landrecords-backend/lib/coerce"
	"landrecords-backend/lib/tabular"

	"github.com/PuerkitoBio/goquery"
)

func headerIndex(headers []string, cue string) int {
	for i, h := range headers {
		if strings.Contains(strings.ToLower(h), cue) {
			return i
		}
	}
	return -1
}

// isInstallmentTable matches the compact current-year schedule the tax view
// renders: a due date column next to an amount column, nothing wider.
func isInstallmentTable(t tabular.Table) bool {
	if len(t.Headers) >= 7 {
		return false
	}
	return headerIndex(t.Headers, "due date") >= 0 && headerIndex(t.Headers, "amount") >= 0
}

var historyCues = []string{"interest paid", "penalties paid", "last paid", "amount due", "status", "paid"}

// isHistoryTable matches the wide per-year tax history: at least seven
// columns carrying a year, an amount and some payment-state column.
func isHistoryTable(t tabular.Table) bool {
	if len(t.Headers) < 7 {
		return false
	}
	if headerIndex(t.Headers, "year") < 0 || headerIndex(t.Headers, "amount") < 0 {
		return false
	}
	for _, cue := range historyCues {
		if headerIndex(t.Headers, cue) >= 0 {
			return true
		}
	}
	return false
}

// historyColumns maps header text to record keys. Order matters: the
// compound headers have to win over their substrings ("Interest Paid"
// before "Paid", "Amount Due" before "Amount").
var historyColumns = []struct{ cue, key string }{
	{"interest paid", "interest_paid"},
	{"penalties paid", "penalties_paid"},
	{"last paid", "last_paid"},
	{"amount due", "amount_due"},
	{"year", "year"},
	{"amount", "amount"},
	{"status", "status"},
	{"paid", "paid"},
}

// historyRecords turns the history table's rows into keyed records,
// keeping only rows anchored by a four digit year.
func historyRecords(t tabular.Table) []map[string]any {
	keyFor := make(map[int]string, len(t.Headers))
	taken := map[string]bool{}
	for i, header := range t.Headers {
		h := strings.ToLower(header)
		for _, col := range historyColumns {
			if taken[col.key] || !strings.Contains(h, col.cue) {
				continue
			}
			keyFor[i] = col.key
			taken[col.key] = true
			break
		}
	}

	var out []map[string]any
	for _, row := range t.Rows {
		rec := map[string]any{}
		for i, cell := range row {
			if key, ok := keyFor[i]; ok && strings.TrimSpace(cell) != "" {
				rec[key] = strings.TrimSpace(cell)
			}
		}
		if _, ok := coerce.ParseYear(coerce.Stringify(rec["year"])); !ok {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// delinquentEntry distills one history row into delinquency evidence, or
// nil when the row shows nothing owed.
func delinquentEntry(rec map[string]any) map[string]any {
	status := strings.ToLower(coerce.Stringify(rec["status"]))
	due, hasDue := coerce.ParseAmount(coerce.Stringify(rec["amount_due"]))
	flagged := strings.Contains(status, "delinquent") || strings.Contains(status, "unpaid")
	if !flagged && (!hasDue || due <= 0) {
		return nil
	}

	entry := map[string]any{"year": rec["year"]}
	if hasDue && due > 0 {
		entry["amount"] = due
	} else if v, ok := rec["amount"]; ok {
		entry["amount"] = v
	}
	if v, ok := rec["status"]; ok {
		entry["status"] = v
	} else {
		entry["status"] = "delinquent"
	}
	return entry
}

func tablePayload(t tabular.Table) map[string]any {
	headers := make([]any, 0, len(t.Headers))
	for _, h := range t.Headers {
		headers = append(headers, h)
	}
	rows := make([]any, 0, len(t.Rows))
	for _, row := range t.Rows {
		cells := make([]any, 0, len(row))
		for _, cell := range row {
			cells = append(cells, cell)
		}
		rows = append(rows, cells)
	}
	return map[string]any{"headers": headers, "rows": rows}
}

// parseTaxMarkup reads every table out of the tax view and splits them by
// shape: the installment schedule and the year history are consumed into
// typed lists, anything unrecognized passes through as a raw table.
func parseTaxMarkup(markup string) map[string]any {
	installments := []any{}
	unpaid := []any{}
	var otherTables []any
	var penalty, interest float64

	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup)); err == nil {
		for _, t := range tabular.ExtractTables(doc) {
			switch {
			case isHistoryTable(t):
				for _, rec := range historyRecords(t) {
					if v, ok := coerce.ParseAmount(coerce.Stringify(rec["penalties_paid"])); ok {
						penalty += v
					}
					if v, ok := coerce.ParseAmount(coerce.Stringify(rec["interest_paid"])); ok {
						interest += v
					}
					if entry := delinquentEntry(rec); entry != nil {
						unpaid = append(unpaid, entry)
					}
				}
			case isInstallmentTable(t):
				dueCol := headerIndex(t.Headers, "due date")
				amountCol := headerIndex(t.Headers, "amount")
				for _, row := range t.Rows {
					rec := map[string]any{}
					if s := tabular.Cell(row, dueCol); s != "" {
						rec["due_date"] = s
					}
					if s := tabular.Cell(row, amountCol); s != "" {
						rec["amount"] = s
					}
					if len(rec) > 0 {
						installments = append(installments, rec)
					}
				}
			default:
				otherTables = append(otherTables, tablePayload(t))
			}
		}
	}

	data := map[string]any{
		"page_extracted": map[string]any{
			"tax_tables": otherTables,
			"html":       markup,
		},
		"installments": installments,
		"unpaid_taxes": unpaid,
	}
	if penalty > 0 {
		data["penalty"] = penalty
	}
	if interest > 0 {
		data["interest"] = interest
	}
	return data
}

// detailCues identify the property header table on the details view.
var detailCues = []string{"parcel number", "property address", "municipality", "owner"}

var detailColumns = []struct{ cue, key string }{
	{"parcel number", "parcel_number"},
	{"property address", "property_address"},
	{"billing address", "billing_address"},
	{"municipality", "municipality"},
	{"owner", "owner"},
	{"tax year", "tax_year"},
	{"property type", "property_type"},
}

// extractPropertyDetails pulls the property header fields out of the
// details view, plus the bill number and mill rate labels next to it.
func extractPropertyDetails(markup string) map[string]any {
	details := map[string]any{}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return details
	}

	for _, t := range tabular.ExtractTables(doc) {
		if len(t.Headers) < 3 || len(t.Rows) == 0 {
			continue
		}
		matched := false
		for _, cue := range detailCues {
			if headerIndex(t.Headers, cue) >= 0 {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		for i, header := range t.Headers {
			h := strings.ToLower(header)
			for _, col := range detailColumns {
				if strings.Contains(h, col.cue) {
					if cell := tabular.Cell(t.Rows[0], i); cell != "" {
						details[col.key] = cell
					}
					break
				}
			}
		}
		break
	}

	if v := strings.TrimSpace(doc.Find("span[id$='lblBillNumber']").First().Text()); v != "" {
		details["bill_number"] = v
	}
	if v := strings.TrimSpace(doc.Find("span[id$='lblNetMillRate']").First().Text()); v != "" {
		details["net_mill_rate"] = v
	}
	return details
}

// searchEntryFromDetails reshapes the details view fields into the search
// result entry shape downstream consumers key on.
func searchEntryFromDetails(parcelId string, details map[string]any) map[string]any {
	entry := map[string]any{"ParcelNumber": parcelId}
	if v, ok := details["owner"]; ok {
		entry["OwnerName"] = v
	}
	if v, ok := details["municipality"]; ok {
		entry["MunicipalityDescription"] = v
	}
	if v, ok := details["property_address"]; ok {
		entry["PropertyAddress"] = v
	}
	for _, key := range []string{"billing_address", "tax_year", "property_type", "bill_number", "net_mill_rate"} {
		if v, ok := details[key]; ok {
			entry[key] = v
		}
	}
	return entry
}
