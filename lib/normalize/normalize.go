// Package normalize flattens the raw scrape payloads produced by the county
// site drivers into five canonical relational tables. Input payloads are
// whatever shape the site handed back, already decoded; output rows carry a
// uniform schema regardless of which county or extraction channel produced
// them.
package normalize

import (
	"fmt"
	"strings"
	"time"

	"landrecords-backend/lib/coerce"
	"landrecords-backend/lib/tabular"
	"landrecords-backend/lib/timezone"
)

// Bundle is one parcel's worth of raw scrape output. SearchData and TaxData
// hold decoded payloads in whatever shape the source site produced; Error is
// non-empty when the scrape failed and the payloads are absent.
type Bundle struct {
	ParcelID   string
	County     string
	SearchData any
	TaxData    any
	Error      string
}

// Row statuses. Tax periods resolve to current, paid or delinquent;
// installments to pending, paid or delinquent.
const (
	StatusCurrent    = "current"
	StatusPaid       = "paid"
	StatusPending    = "pending"
	StatusDelinquent = "delinquent"
)

type Property struct {
	ParcelID     string
	PropertyID   string
	OwnerName    string
	Municipality string
	Address      string
	County       string
	ExtractedAt  string
}

type TaxPeriod struct {
	ParcelID       string
	PropertyID     string
	TaxYear        string
	TotalTaxAmount *float64
	Status         string
	County         string
	ExtractedAt    string
}

type Installment struct {
	ParcelID    string
	PropertyID  string
	Number      int
	Type        string
	Amount      *float64
	DueDate     string
	PaidDate    string
	Status      string
	TaxYear     string
	County      string
	ExtractedAt string
}

type DelinquentTax struct {
	ParcelID               string
	PropertyID             string
	TaxYear                string
	Amount                 float64
	Status                 string
	InstallmentsDelinquent string
	County                 string
	ExtractedAt            string
}

type PenaltyInterest struct {
	ParcelID       string
	PropertyID     string
	TaxYear        string
	PenaltyAmount  float64
	InterestAmount float64
	Total          float64
	County         string
	ExtractedAt    string
}

// Tables is the full normalized output across every bundle of a run.
type Tables struct {
	Properties      []Property
	TaxPeriods      []TaxPeriod
	Installments    []Installment
	DelinquentTaxes []DelinquentTax
	PenaltyInterest []PenaltyInterest
}

// Normalizer converts raw bundles into Tables. The zero value is not usable;
// construct with New.
type Normalizer struct {
	now func() time.Time
}

func New() *Normalizer {
	return &Normalizer{now: timezone.Now}
}

// Normalize runs every extraction pass over every bundle. Bundles that carry
// an error marker contribute no rows. Normalize never fails: malformed or
// missing payload pieces shrink the output instead.
func (n *Normalizer) Normalize(bundles []Bundle) Tables {
	var out Tables
	stamp := n.now().Format(coerce.ISOLayout)
	for _, b := range bundles {
		if b.Error != "" {
			continue
		}
		ctx := bundleContext{bundle: b, stamp: stamp}
		ctx.propertyID = propertyIDOf(b)

		if p := extractProperty(ctx); p != nil {
			out.Properties = append(out.Properties, *p)
		}
		out.TaxPeriods = append(out.TaxPeriods, extractTaxPeriods(ctx)...)

		installments, raw := extractInstallments(ctx)
		out.Installments = append(out.Installments, installments...)
		out.DelinquentTaxes = append(out.DelinquentTaxes, extractDelinquents(ctx, raw)...)

		if pi := extractPenaltyInterest(ctx); pi != nil {
			out.PenaltyInterest = append(out.PenaltyInterest, *pi)
		}
	}
	return out
}

// bundleContext carries the per-bundle constants every pass needs.
type bundleContext struct {
	bundle     Bundle
	propertyID string
	stamp      string
}

func (c bundleContext) taxData() map[string]any {
	return asMap(c.bundle.TaxData)
}

var propertyIDFields = []string{"PropertyId", "propertyId", "PropertyID", "Id", "id"}

// propertyIDOf resolves the site-internal property id: the matching search
// result entry wins, then a property_id recorded in the tax payload.
func propertyIDOf(b Bundle) string {
	if entry := matchingSearchEntry(b); entry != nil {
		if id := field(entry, propertyIDFields...); id != "" {
			return id
		}
	}
	if td := asMap(b.TaxData); td != nil {
		return field(td, "property_id")
	}
	return ""
}

// matchingSearchEntry finds the search result row whose parcel number equals
// the requested parcel id. No fuzzy matching: a result set without an exact
// match yields nothing.
func matchingSearchEntry(b Bundle) map[string]any {
	sd := asMap(b.SearchData)
	if sd == nil {
		return nil
	}
	want := strings.TrimSpace(b.ParcelID)
	for _, entry := range records(sd["data"]) {
		got := field(entry, "UserDefinedId", "userDefinedId", "ParcelNumber", "parcelNumber")
		if got != "" && strings.TrimSpace(got) == want {
			return entry
		}
	}
	return nil
}

func extractProperty(ctx bundleContext) *Property {
	entry := matchingSearchEntry(ctx.bundle)

	var owner, municipality, address string
	if entry != nil {
		owner = ownerNameOf(entry)
		municipality = field(entry, "MunicipalityDescription", "municipalityDescription")
		address = addressOf(entry)
	}

	if ctx.propertyID == "" && owner == "" {
		return nil
	}
	return &Property{
		ParcelID:     ctx.bundle.ParcelID,
		PropertyID:   ctx.propertyID,
		OwnerName:    owner,
		Municipality: municipality,
		Address:      address,
		County:       ctx.bundle.County,
		ExtractedAt:  ctx.stamp,
	}
}

func ownerNameOf(entry map[string]any) string {
	if name := field(entry, "ConcatenatedName", "concatenatedName", "OwnerName", "ownerName", "FullName", "fullName"); name != "" {
		return name
	}
	first := field(entry, "FirstName", "firstName")
	last := field(entry, "LastName", "lastName")
	return strings.TrimSpace(first + " " + last)
}

// addressOf assembles a street address from the component fields LandNav
// sites return. Entries that already carry a preassembled address keep it
// verbatim. Unit info is appended after a comma when present.
func addressOf(entry map[string]any) string {
	if full := field(entry, "PropertyAddress", "propertyAddress", "property_address"); full != "" {
		return full
	}
	parts := []string{
		field(entry, "PropertyAddress_HouseNumber", "houseNumber", "HouseNumber"),
		field(entry, "PropertyAddress_StreetName", "streetName", "StreetName"),
		field(entry, "PropertyAddress_StreetType", "streetType", "StreetType"),
		field(entry, "PropertyAddress_SuffixDirection", "suffixDirection", "SuffixDirection"),
	}
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	address := strings.Join(kept, " ")

	unitType := field(entry, "PropertyAddress_UnitType", "unitType", "UnitType")
	unitNumber := field(entry, "PropertyAddress_UnitNumber", "unitNumber", "UnitNumber")
	unit := strings.TrimSpace(unitType + " " + unitNumber)
	if unit != "" {
		if address != "" {
			address += ", " + unit
		} else {
			address = unit
		}
	}
	return address
}

var totalAmountKeys = []string{"total", "amount", "totalTax", "total_tax"}

func extractTaxPeriods(ctx bundleContext) []TaxPeriod {
	td := ctx.taxData()
	if td == nil {
		return nil
	}
	var out []TaxPeriod
	for _, group := range yearGroups(td) {
		if group.Data == nil {
			continue
		}
		out = append(out, TaxPeriod{
			ParcelID:       ctx.bundle.ParcelID,
			PropertyID:     ctx.propertyID,
			TaxYear:        group.Year,
			TotalTaxAmount: coerce.AmountFrom(group.Data, totalAmountKeys),
			Status:         periodStatusOf(group.Data),
			County:         ctx.bundle.County,
			ExtractedAt:    ctx.stamp,
		})
	}
	return out
}

func periodStatusOf(data map[string]any) string {
	status := strings.ToLower(coerce.Stringify(data["status"]))
	switch {
	case strings.Contains(status, "delinquent") || strings.Contains(status, "unpaid"):
		return StatusDelinquent
	case strings.Contains(status, "paid"):
		return StatusPaid
	}
	return StatusCurrent
}

var (
	installmentAmountKeys = []string{"amount", "total", "installmentAmount", "due"}
	dueDateKeys           = []string{"dueDate", "due_date", "date", "due"}
	paidDateKeys          = []string{"paidDate", "paid_date", "paid"}
)

// rawInstallment pairs an installment record with its resolved tax year, for
// the delinquency derivation pass.
type rawInstallment struct {
	record map[string]any
	year   string
	number int
}

// extractInstallments pulls installment rows from whichever shape the tax
// payload takes. In the year-keyed shape numbering restarts at 1 inside each
// year; in the flat shape it runs across the whole list and each record
// carries its own year, if any.
func extractInstallments(ctx bundleContext) ([]Installment, []rawInstallment) {
	td := ctx.taxData()
	if td == nil {
		return nil, nil
	}

	var out []Installment
	var raw []rawInstallment

	groups := yearGroups(td)
	if len(groups) > 0 {
		for _, group := range groups {
			if group.Data == nil {
				continue
			}
			num := 0
			for _, rec := range mergedRecords(group.Data, "installments") {
				num++
				year := coerce.YearFrom(rec)
				if year == "" {
					year = group.Year
				}
				out = append(out, buildInstallment(ctx, rec, num, year))
				raw = append(raw, rawInstallment{record: rec, year: year, number: num})
			}
		}
	} else {
		num := 0
		for _, rec := range mergedRecords(td, "installments") {
			num++
			year := coerce.YearFrom(rec)
			out = append(out, buildInstallment(ctx, rec, num, year))
			raw = append(raw, rawInstallment{record: rec, year: year, number: num})
		}
	}

	for _, t := range taxTables(td) {
		rows, tableRaw := installmentsFromTable(ctx, t)
		out = append(out, rows...)
		raw = append(raw, tableRaw...)
	}
	return out, raw
}

func buildInstallment(ctx bundleContext, rec map[string]any, number int, year string) Installment {
	return Installment{
		ParcelID:    ctx.bundle.ParcelID,
		PropertyID:  ctx.propertyID,
		Number:      number,
		Type:        installmentTypeOf(rec, number),
		Amount:      coerce.AmountFrom(rec, installmentAmountKeys),
		DueDate:     coerce.DateFrom(rec, dueDateKeys),
		PaidDate:    coerce.DateFrom(rec, paidDateKeys),
		Status:      installmentStatusOf(coerce.Stringify(rec["status"])),
		TaxYear:     year,
		County:      ctx.bundle.County,
		ExtractedAt: ctx.stamp,
	}
}

func installmentTypeOf(rec map[string]any, number int) string {
	typ := strings.ToLower(field(rec, "type", "installmentType", "installment_type"))
	switch {
	case strings.Contains(typ, "first") || strings.Contains(typ, "1st") || number == 1:
		return "1st_half"
	case strings.Contains(typ, "second") || strings.Contains(typ, "2nd") || number == 2:
		return "2nd_half"
	}
	return fmt.Sprintf("installment_%d", number)
}

func installmentStatusOf(status string) string {
	status = strings.ToLower(status)
	switch {
	case strings.Contains(status, "delinquent") || strings.Contains(status, "unpaid"):
		return StatusDelinquent
	case strings.Contains(status, "paid"):
		return StatusPaid
	}
	return StatusPending
}

// installmentsFromTable mines a raw HTML table matrix for installment rows
// using header-driven column detection. Tables with no amount column are
// skipped; rows are numbered by position within the table.
func installmentsFromTable(ctx bundleContext, v any) ([]Installment, []rawInstallment) {
	table, ok := tableFromPayload(v)
	if !ok {
		return nil, nil
	}
	cols := tabular.DetectColumns(table.Headers)
	if cols.Amount < 0 {
		return nil, nil
	}

	var out []Installment
	var raw []rawInstallment
	for i, row := range table.Rows {
		rec := map[string]any{}
		if s := tabular.Cell(row, cols.Amount); s != "" {
			rec["amount"] = s
		}
		if s := tabular.Cell(row, cols.Date); s != "" {
			rec["dueDate"] = s
		}
		if s := tabular.Cell(row, cols.Type); s != "" {
			rec["type"] = s
		}
		if s := tabular.Cell(row, cols.Year); s != "" {
			rec["year"] = s
		}
		if s := tabular.Cell(row, cols.Status); s != "" {
			rec["status"] = s
		}
		if len(rec) == 0 {
			continue
		}
		num := i + 1
		year := coerce.YearFrom(rec)
		out = append(out, buildInstallment(ctx, rec, num, year))
		raw = append(raw, rawInstallment{record: rec, year: year, number: num})
	}
	return out, raw
}

// tableFromPayload accepts both table encodings the drivers emit: a map with
// headers/rows, or a bare list of rows with headers first.
func tableFromPayload(v any) (tabular.Table, bool) {
	if m := asMap(v); m != nil {
		t := tabular.Table{Headers: stringList(m["headers"])}
		for _, row := range asList(m["rows"]) {
			t.Rows = append(t.Rows, stringList(row))
		}
		return t, len(t.Headers) > 0
	}
	rows := asList(v)
	if len(rows) == 0 {
		return tabular.Table{}, false
	}
	t := tabular.Table{Headers: stringList(rows[0])}
	for _, row := range rows[1:] {
		t.Rows = append(t.Rows, stringList(row))
	}
	return t, len(t.Headers) > 0
}

func stringList(v any) []string {
	var out []string
	for _, item := range asList(v) {
		out = append(out, coerce.Stringify(item))
	}
	return out
}

var (
	unpaidAmountKeys     = []string{"amount", "balance", "delinquent", "unpaid", "owed", "remaining", "outstanding"}
	derivedAmountKeys    = []string{"amount", "balance", "unpaid", "owed", "remaining"}
	unpaidInstallmentTxt = []string{"installments", "installment", "delinquent_installments"}
)

// extractDelinquents builds at most one delinquency row per tax year, from
// two evidence sources: explicit unpaid-tax entries with a positive amount,
// and, for years those do not cover, sums over installments whose status is
// delinquent. Explicit entries always win.
func extractDelinquents(ctx bundleContext, installments []rawInstallment) []DelinquentTax {
	td := ctx.taxData()
	if td == nil {
		return nil
	}

	var out []DelinquentTax
	seen := map[string]bool{}
	add := func(year string, amount float64, detail string) {
		if year == "" || amount <= 0 || seen[year] {
			return
		}
		seen[year] = true
		out = append(out, DelinquentTax{
			ParcelID:               ctx.bundle.ParcelID,
			PropertyID:             ctx.propertyID,
			TaxYear:                year,
			Amount:                 amount,
			Status:                 StatusDelinquent,
			InstallmentsDelinquent: detail,
			County:                 ctx.bundle.County,
			ExtractedAt:            ctx.stamp,
		})
	}

	explicit := func(rec map[string]any, fallbackYear string) {
		amount := coerce.AmountFrom(rec, unpaidAmountKeys)
		if amount == nil {
			return
		}
		year := coerce.YearFrom(rec)
		if year == "" {
			year = fallbackYear
		}
		add(year, *amount, field(rec, unpaidInstallmentTxt...))
	}

	groups := yearGroups(td)
	for _, group := range groups {
		if group.Data == nil {
			continue
		}
		for _, rec := range mergedRecords(group.Data, "unpaid_taxes") {
			explicit(rec, group.Year)
		}
	}
	for _, rec := range mergedRecords(td, "unpaid_taxes") {
		explicit(rec, "")
	}

	// Second source: delinquent installments summed per year.
	sums := map[string]float64{}
	details := map[string][]string{}
	var order []string
	for _, inst := range installments {
		if installmentStatusOf(coerce.Stringify(inst.record["status"])) != StatusDelinquent {
			continue
		}
		amount := coerce.AmountFrom(inst.record, derivedAmountKeys)
		if amount == nil || inst.year == "" {
			continue
		}
		if _, ok := sums[inst.year]; !ok {
			order = append(order, inst.year)
		}
		sums[inst.year] += *amount
		details[inst.year] = append(details[inst.year], fmt.Sprintf("installment_%d", inst.number))
	}
	for _, year := range order {
		add(year, sums[year], strings.Join(details[year], ", "))
	}
	return out
}

var (
	penaltyKeys  = []string{"penalty", "penalties", "penaltyAmount"}
	interestKeys = []string{"interest", "interestAmount"}
)

// extractPenaltyInterest emits at most one row per bundle, from penalty and
// interest fields recorded at the top of the tax payload. Both absent, or
// both zero, means no row.
func extractPenaltyInterest(ctx bundleContext) *PenaltyInterest {
	td := ctx.taxData()
	if td == nil {
		return nil
	}
	var penalty, interest float64
	if p := coerce.KeyedAmount(td, penaltyKeys); p != nil {
		penalty = *p
	}
	if i := coerce.KeyedAmount(td, interestKeys); i != nil {
		interest = *i
	}
	if penalty == 0 && interest == 0 {
		return nil
	}
	return &PenaltyInterest{
		ParcelID:       ctx.bundle.ParcelID,
		PropertyID:     ctx.propertyID,
		TaxYear:        coerce.YearFrom(td),
		PenaltyAmount:  penalty,
		InterestAmount: interest,
		Total:          penalty + interest,
		County:         ctx.bundle.County,
		ExtractedAt:    ctx.stamp,
	}
}
