// Package services provides pricing calculation functions for BOQ items.
package services

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ItemKind distinguishes works from the materials they consume.
type ItemKind string

const (
	KindWork        ItemKind = "work"
	KindSubWork     ItemKind = "sub_work"
	KindMaterial    ItemKind = "material"
	KindSubMaterial ItemKind = "sub_material"
)

func (k ItemKind) IsWork() bool {
	return k == KindWork || k == KindSubWork
}

func (k ItemKind) IsMaterial() bool {
	return k == KindMaterial || k == KindSubMaterial
}

func (k ItemKind) Valid() bool {
	return k.IsWork() || k.IsMaterial()
}

type Currency string

const (
	CurrencyRUB Currency = "RUB"
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
	CurrencyCNY Currency = "CNY"
)

// DeliveryPolicy controls how delivery cost is folded into a material's unit price.
type DeliveryPolicy string

const (
	DeliveryIncluded    DeliveryPolicy = "included"
	DeliveryNotIncluded DeliveryPolicy = "not_included"
	DeliveryFixedAmount DeliveryPolicy = "fixed_amount"
)

func (p DeliveryPolicy) Valid() bool {
	switch p {
	case "", DeliveryIncluded, DeliveryNotIncluded, DeliveryFixedAmount:
		return true
	}
	return false
}

var (
	ErrInvalidCoefficient   = errors.New("invalid coefficient")
	ErrInvalidCurrencyRate  = errors.New("invalid currency rate")
	ErrInvalidQuantity      = errors.New("invalid quantity")
	ErrUnsupportedCurrency  = errors.New("unsupported currency")
	ErrInvalidDeliveryTerms = errors.New("invalid delivery terms")
)

// DefaultDeliveryRate is the surcharge applied to materials whose delivery is not included.
var DefaultDeliveryRate = decimal.RequireFromString("0.03")

// VolumeScale is the number of decimal places material volumes are kept at.
// Coefficients reconciled by division carry more digits than that, so a
// merged volume reads back as the exact sum it was derived from.
const VolumeScale = 6

var one = decimal.NewFromInt(1)

// Coefficients are the normalized factors turning a work volume into a material volume.
type Coefficients struct {
	Consumption decimal.Decimal
	Conversion  decimal.Decimal
}

// UnitCoefficients is what a material without explicit coefficients uses.
func UnitCoefficients() Coefficients {
	return Coefficients{Consumption: one, Conversion: one}
}

// NormalizeCoefficients applies the "missing means 1" rule and the lower
// bounds (consumption >= 1, conversion >= 0). Every caller that needs
// coefficients goes through here.
func NormalizeCoefficients(consumption, conversion decimal.NullDecimal) (Coefficients, error) {
	c := UnitCoefficients()
	if consumption.Valid {
		c.Consumption = consumption.Decimal
	}
	if conversion.Valid {
		c.Conversion = conversion.Decimal
	}
	if err := c.Validate(); err != nil {
		return Coefficients{}, err
	}
	return c, nil
}

func (c Coefficients) Validate() error {
	if c.Consumption.LessThan(one) {
		return fmt.Errorf("%w: consumption coefficient %s is below 1", ErrInvalidCoefficient, c.Consumption)
	}
	if c.Conversion.IsNegative() {
		return fmt.Errorf("%w: conversion coefficient %s is negative", ErrInvalidCoefficient, c.Conversion)
	}
	return nil
}

// Volume returns workVolume × consumption × conversion rounded to VolumeScale places.
func (c Coefficients) Volume(workVolume decimal.Decimal) decimal.Decimal {
	return workVolume.Mul(c.Consumption).Mul(c.Conversion).Round(VolumeScale)
}

// Equal reports whether both coefficients match numerically.
func (c Coefficients) Equal(other Coefficients) bool {
	return c.Consumption.Equal(other.Consumption) && c.Conversion.Equal(other.Conversion)
}

// MaterialVolume computes the consumed material volume for a work volume.
func MaterialVolume(workVolume decimal.Decimal, consumption, conversion decimal.NullDecimal) (decimal.Decimal, error) {
	if workVolume.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: work volume %s is negative", ErrInvalidQuantity, workVolume)
	}
	c, err := NormalizeCoefficients(consumption, conversion)
	if err != nil {
		return decimal.Zero, err
	}
	return c.Volume(workVolume), nil
}

// PriceInput carries the fields of one BOQ line that affect its money total.
type PriceInput struct {
	Kind           ItemKind
	Quantity       decimal.Decimal
	UnitRate       decimal.Decimal
	Currency       Currency
	CurrencyRate   decimal.Decimal // zero when absent
	DeliveryPolicy DeliveryPolicy
	DeliveryAmount decimal.Decimal
}

// Calculator prices BOQ lines against one local currency.
type Calculator struct {
	LocalCurrency Currency
	DeliveryRate  decimal.Decimal
	Allowed       []Currency
}

func DefaultCalculator() Calculator {
	return Calculator{
		LocalCurrency: CurrencyRUB,
		DeliveryRate:  DefaultDeliveryRate,
		Allowed:       CurrencyOptions,
	}
}

func (c Calculator) isLocal(cur Currency) bool {
	return cur == "" || cur == c.LocalCurrency
}

// PriceInLocal converts the unit rate into the local currency.
func (c Calculator) PriceInLocal(in PriceInput) (decimal.Decimal, error) {
	if c.isLocal(in.Currency) {
		return in.UnitRate, nil
	}
	if !in.CurrencyRate.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s requires a positive rate", ErrInvalidCurrencyRate, in.Currency)
	}
	return in.UnitRate.Mul(in.CurrencyRate), nil
}

// Delivery returns the per-unit delivery surcharge. Works never carry one.
func (c Calculator) Delivery(in PriceInput, priceInLocal decimal.Decimal) decimal.Decimal {
	if !in.Kind.IsMaterial() {
		return decimal.Zero
	}
	switch in.DeliveryPolicy {
	case DeliveryNotIncluded:
		return priceInLocal.Mul(c.DeliveryRate)
	case DeliveryFixedAmount:
		return in.DeliveryAmount
	default:
		return decimal.Zero
	}
}

// LineTotal is (priceInLocal + delivery) × quantity.
func (c Calculator) LineTotal(in PriceInput) (decimal.Decimal, error) {
	price, err := c.PriceInLocal(in)
	if err != nil {
		return decimal.Zero, err
	}
	return price.Add(c.Delivery(in, price)).Mul(in.Quantity), nil
}

// Validate rejects inputs the calculator would otherwise price nonsensically.
func (c Calculator) Validate(in PriceInput) error {
	if in.Quantity.IsNegative() {
		return fmt.Errorf("%w: quantity %s is negative", ErrInvalidQuantity, in.Quantity)
	}
	if in.UnitRate.IsNegative() {
		return fmt.Errorf("%w: unit rate %s is negative", ErrInvalidQuantity, in.UnitRate)
	}
	if !c.isLocal(in.Currency) && !c.allows(in.Currency) {
		return fmt.Errorf("%w: %q", ErrUnsupportedCurrency, in.Currency)
	}
	if _, err := c.PriceInLocal(in); err != nil {
		return err
	}
	if !in.DeliveryPolicy.Valid() {
		return fmt.Errorf("%w: unknown policy %q", ErrInvalidDeliveryTerms, in.DeliveryPolicy)
	}
	if in.DeliveryAmount.IsNegative() {
		return fmt.Errorf("%w: delivery amount %s is negative", ErrInvalidDeliveryTerms, in.DeliveryAmount)
	}
	return nil
}

func (c Calculator) allows(cur Currency) bool {
	for _, a := range c.Allowed {
		if a == cur {
			return true
		}
	}
	return false
}
