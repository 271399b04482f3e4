// Package estimate links materials to the works that consume them and
// aggregates a client position's cost from works, linked materials and
// unlinked materials. It never persists anything itself: every mutation is
// delegated to a Store and followed by a fresh reload of the position.
package estimate

import (
	"github.com/shopspring/decimal"

	"tenderestimate/services"
)

// Position is one line of client-required work inside a tender.
type Position struct {
	ID       string
	TenderID string
	Number   string
	Name     string
	Unit     string
	Volume   decimal.Decimal
	// Cached totals as last written by SavePositionTotals.
	Cached Totals
}

// Item is a work or material entry of a position.
type Item struct {
	ID         string
	PositionID string
	Kind       services.ItemKind
	Name       string
	Unit       string
	SortOrder  int

	Quantity       decimal.Decimal
	UnitRate       decimal.Decimal
	Currency       services.Currency
	CurrencyRate   decimal.Decimal
	DeliveryPolicy services.DeliveryPolicy
	DeliveryAmount decimal.Decimal

	// Materials only. Invalid (null) means "use 1".
	ConsumptionCoefficient decimal.NullDecimal
	ConversionCoefficient  decimal.NullDecimal

	// MaterialRef identifies the catalogue material this line prices.
	// Copies of a material carry the id of the line they were copied from.
	MaterialRef        string
	DetailCostCategory string
}

// PriceInput returns the item's pricing fields at its own quantity.
func (it Item) PriceInput() services.PriceInput {
	return services.PriceInput{
		Kind:           it.Kind,
		Quantity:       it.Quantity,
		UnitRate:       it.UnitRate,
		Currency:       it.Currency,
		CurrencyRate:   it.CurrencyRate,
		DeliveryPolicy: it.DeliveryPolicy,
		DeliveryAmount: it.DeliveryAmount,
	}
}

// Coefficients normalizes the item's own coefficients.
func (it Item) Coefficients() (services.Coefficients, error) {
	return services.NormalizeCoefficients(it.ConsumptionCoefficient, it.ConversionCoefficient)
}

// CatalogKey is the identity used to decide whether two lines are the same material.
func (it Item) CatalogKey() string {
	if it.MaterialRef != "" {
		return it.MaterialRef
	}
	return it.ID
}

// SameMaterial reports whether two distinct material lines price the same
// catalogue material.
func SameMaterial(a, b Item) bool {
	if a.ID == b.ID {
		return false
	}
	ka, kb := a.CatalogKey(), b.CatalogKey()
	return ka == kb || ka == b.ID || kb == a.ID
}

// Link records that a material is consumed by a work.
type Link struct {
	ID         string
	PositionID string
	WorkID     string
	MaterialID string
	SortOrder  int

	// Snapshot of the coefficients for this association. Invalid means
	// "inherit from the material".
	ConsumptionCoefficient decimal.NullDecimal
	ConversionCoefficient  decimal.NullDecimal
}

// Coefficients resolves the link's effective coefficients: the link's own
// snapshot first, then the material's, then 1.
func (l Link) Coefficients(material Item) (services.Coefficients, error) {
	consumption := l.ConsumptionCoefficient
	if !consumption.Valid {
		consumption = material.ConsumptionCoefficient
	}
	conversion := l.ConversionCoefficient
	if !conversion.Valid {
		conversion = material.ConversionCoefficient
	}
	return services.NormalizeCoefficients(consumption, conversion)
}

// LinkView is a link enriched with the numbers computed against its work.
type LinkView struct {
	Link

	WorkName     string
	MaterialName string
	Unit         string
	Currency     services.Currency

	WorkQuantity   decimal.Decimal
	Coefficients   services.Coefficients
	MaterialVolume decimal.Decimal
	UnitPriceLocal decimal.Decimal
	Delivery       decimal.Decimal
	LineTotal      decimal.Decimal
}

// Totals is the aggregated cost of a position.
type Totals struct {
	Works             decimal.Decimal
	Materials         decimal.Decimal
	Position          decimal.Decimal
	LinkedMaterials   decimal.Decimal
	UnlinkedMaterials decimal.Decimal
	ByCostNode        map[string]decimal.Decimal
}

// LinkUpdate replaces a link's coefficient snapshot. Null values make the
// link inherit the material's coefficients again.
type LinkUpdate struct {
	ConsumptionCoefficient decimal.NullDecimal
	ConversionCoefficient  decimal.NullDecimal
	SortOrder              *int
}

type Mode string

const (
	ModeMove Mode = "move"
	ModeCopy Mode = "copy"
)

func (m Mode) Valid() bool {
	return m == ModeMove || m == ModeCopy
}

// Strategy is the operator's choice for settling a conflict.
type Strategy string

const (
	StrategySum     Strategy = "sum"
	StrategyReplace Strategy = "replace"
)

func (s Strategy) Valid() bool {
	return s == StrategySum || s == StrategyReplace
}

// TransferRequest asks to move or copy a material onto a target work.
// SourceWorkID is empty when the material is currently unlinked.
type TransferRequest struct {
	PositionID   string
	MaterialID   string
	SourceWorkID string
	TargetWorkID string
	Mode         Mode
}

// Conflict is reported when the target work already consumes the material.
// SourceLinkID is empty when the material was unlinked.
type Conflict struct {
	PositionID   string
	MaterialID   string
	SourceLinkID string
	TargetLinkID string
	SourceWorkID string
	TargetWorkID string
	Mode         Mode

	MaterialName   string
	SourceWorkName string
	TargetWorkName string
}

// LinkResult is what the store answers to a link-creating call: either the
// link now holding the material or the conflict that prevented it.
type LinkResult struct {
	Link     *Link
	Conflict *Conflict
}

// Resolution asks the store to settle a conflict atomically.
type Resolution struct {
	Conflict Conflict
	Strategy Strategy
}
