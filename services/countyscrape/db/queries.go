package db

import (
	"context"
	"database/sql"
	"fmt"
)

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

const deleteParcelRows = `
DELETE FROM %s WHERE county = ? AND parcel_id = ?
`

var parcelTables = []string{
	"properties",
	"tax_periods",
	"installments",
	"delinquent_taxes",
	"penalties_interest",
}

// DeleteParcelRows clears every table's rows for one parcel, so a re-scrape
// replaces the prior run instead of accumulating next to it.
func (q *Queries) DeleteParcelRows(ctx context.Context, county string, parcelID string) error {
	for _, table := range parcelTables {
		_, err := q.db.ExecContext(ctx, fmt.Sprintf(deleteParcelRows, table), county, parcelID)
		if err != nil {
			return err
		}
	}
	return nil
}

type CreatePropertyParams struct {
	ParcelID     string
	PropertyID   string
	OwnerName    string
	Municipality string
	Address      string
	County       string
	ExtractedAt  string
}

const createProperty = `
INSERT INTO properties (parcel_id, property_id, owner_name, municipality, address, county, extracted_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`

func (q *Queries) CreateProperty(ctx context.Context, arg CreatePropertyParams) error {
	_, err := q.db.ExecContext(ctx, createProperty,
		arg.ParcelID,
		arg.PropertyID,
		arg.OwnerName,
		arg.Municipality,
		arg.Address,
		arg.County,
		arg.ExtractedAt,
	)
	return err
}

type CreateTaxPeriodParams struct {
	ParcelID       string
	PropertyID     string
	TaxYear        string
	TotalTaxAmount sql.NullFloat64
	Status         string
	County         string
	ExtractedAt    string
}

const createTaxPeriod = `
INSERT INTO tax_periods (parcel_id, property_id, tax_year, total_tax_amount, status, county, extracted_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`

func (q *Queries) CreateTaxPeriod(ctx context.Context, arg CreateTaxPeriodParams) error {
	_, err := q.db.ExecContext(ctx, createTaxPeriod,
		arg.ParcelID,
		arg.PropertyID,
		arg.TaxYear,
		arg.TotalTaxAmount,
		arg.Status,
		arg.County,
		arg.ExtractedAt,
	)
	return err
}

type CreateInstallmentParams struct {
	ParcelID    string
	PropertyID  string
	Number      int64
	Type        string
	Amount      sql.NullFloat64
	DueDate     string
	PaidDate    string
	Status      string
	TaxYear     string
	County      string
	ExtractedAt string
}

const createInstallment = `
INSERT INTO installments (parcel_id, property_id, number, type, amount, due_date, paid_date, status, tax_year, county, extracted_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

func (q *Queries) CreateInstallment(ctx context.Context, arg CreateInstallmentParams) error {
	_, err := q.db.ExecContext(ctx, createInstallment,
		arg.ParcelID,
		arg.PropertyID,
		arg.Number,
		arg.Type,
		arg.Amount,
		arg.DueDate,
		arg.PaidDate,
		arg.Status,
		arg.TaxYear,
		arg.County,
		arg.ExtractedAt,
	)
	return err
}

type CreateDelinquentTaxParams struct {
	ParcelID               string
	PropertyID             string
	TaxYear                string
	Amount                 float64
	Status                 string
	InstallmentsDelinquent string
	County                 string
	ExtractedAt            string
}

const createDelinquentTax = `
INSERT INTO delinquent_taxes (parcel_id, property_id, tax_year, amount, status, installments_delinquent, county, extracted_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (county, parcel_id, tax_year) DO UPDATE SET
    amount = excluded.amount,
    status = excluded.status,
    installments_delinquent = excluded.installments_delinquent,
    extracted_at = excluded.extracted_at
`

func (q *Queries) CreateDelinquentTax(ctx context.Context, arg CreateDelinquentTaxParams) error {
	_, err := q.db.ExecContext(ctx, createDelinquentTax,
		arg.ParcelID,
		arg.PropertyID,
		arg.TaxYear,
		arg.Amount,
		arg.Status,
		arg.InstallmentsDelinquent,
		arg.County,
		arg.ExtractedAt,
	)
	return err
}

type CreatePenaltyInterestParams struct {
	ParcelID       string
	PropertyID     string
	TaxYear        string
	PenaltyAmount  float64
	InterestAmount float64
	Total          float64
	County         string
	ExtractedAt    string
}

const createPenaltyInterest = `
INSERT INTO penalties_interest (parcel_id, property_id, tax_year, penalty_amount, interest_amount, total, county, extracted_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`

func (q *Queries) CreatePenaltyInterest(ctx context.Context, arg CreatePenaltyInterestParams) error {
	_, err := q.db.ExecContext(ctx, createPenaltyInterest,
		arg.ParcelID,
		arg.PropertyID,
		arg.TaxYear,
		arg.PenaltyAmount,
		arg.InterestAmount,
		arg.Total,
		arg.County,
		arg.ExtractedAt,
	)
	return err
}

type Property struct {
	ParcelID     string
	PropertyID   string
	OwnerName    string
	Municipality string
	Address      string
	County       string
	ExtractedAt  string
}

const listProperties = `
SELECT parcel_id, property_id, owner_name, municipality, address, county, extracted_at
FROM properties WHERE county = ? ORDER BY parcel_id
`

func (q *Queries) ListProperties(ctx context.Context, county string) ([]Property, error) {
	rows, err := q.db.QueryContext(ctx, listProperties, county)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Property
	for rows.Next() {
		var p Property
		err := rows.Scan(
			&p.ParcelID,
			&p.PropertyID,
			&p.OwnerName,
			&p.Municipality,
			&p.Address,
			&p.County,
			&p.ExtractedAt,
		)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
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

const listDelinquentTaxes = `
SELECT parcel_id, property_id, tax_year, amount, status, installments_delinquent, county, extracted_at
FROM delinquent_taxes WHERE county = ? ORDER BY parcel_id, tax_year
`

func (q *Queries) ListDelinquentTaxes(ctx context.Context, county string) ([]DelinquentTax, error) {
	rows, err := q.db.QueryContext(ctx, listDelinquentTaxes, county)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []DelinquentTax
	for rows.Next() {
		var d DelinquentTax
		err := rows.Scan(
			&d.ParcelID,
			&d.PropertyID,
			&d.TaxYear,
			&d.Amount,
			&d.Status,
			&d.InstallmentsDelinquent,
			&d.County,
			&d.ExtractedAt,
		)
		if err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	return items, rows.Err()
}
