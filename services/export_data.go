package services

import "github.com/shopspring/decimal"

// ExportRow represents a single row in the estimate export (a work, a
// material it consumes, or a material no work consumes).
type ExportRow struct {
	Level          int    // 0 = work or unlinked material, 1 = linked material
	Index          string // "1", "1.1", "М1" etc
	Kind           ItemKind
	Name           string
	Quantity       decimal.Decimal
	Unit           string
	Coefficients   string // "2 × 1,5" for linked materials, empty otherwise
	UnitPriceLocal decimal.Decimal
	Delivery       decimal.Decimal
	Total          decimal.Decimal
}

// ExportData holds all data needed to export one position's estimate.
type ExportData struct {
	Title          string // tender title
	PositionNumber string
	PositionName   string
	CreatedDate    string
	Currency       Currency
	Rows           []ExportRow
	WorksTotal     decimal.Decimal
	MaterialsTotal decimal.Decimal
	PositionTotal  decimal.Decimal
	ByCostNode     []CostNodeTotal
}

// CostNodeTotal is one line of the cost breakdown.
type CostNodeTotal struct {
	Node  string
	Total decimal.Decimal
}

// Heading is the line shown above the table, e.g. "1.1 Устройство стяжки пола".
func (d ExportData) Heading() string {
	if d.PositionNumber == "" {
		return d.PositionName
	}
	return d.PositionNumber + " " + d.PositionName
}
