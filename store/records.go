package store

import (
	"fmt"
	"strings"

	"github.com/pocketbase/pocketbase/core"
	"github.com/shopspring/decimal"

	"tenderestimate/estimate"
	"tenderestimate/services"
)

func toPosition(rec *core.Record) estimate.Position {
	works := num(rec, "total_works_cost")
	materials := num(rec, "total_materials_cost")
	return estimate.Position{
		ID:       rec.Id,
		TenderID: rec.GetString("tender"),
		Number:   rec.GetString("position_number"),
		Name:     rec.GetString("work_name"),
		Unit:     rec.GetString("unit"),
		Volume:   num(rec, "volume"),
		Cached: estimate.Totals{
			Works:     works,
			Materials: materials,
			Position:  num(rec, "total_position_cost"),
		},
	}
}

func toItem(rec *core.Record) (estimate.Item, error) {
	consumption, err := coefficient(rec, "consumption_coefficient")
	if err != nil {
		return estimate.Item{}, err
	}
	conversion, err := coefficient(rec, "conversion_coefficient")
	if err != nil {
		return estimate.Item{}, err
	}
	return estimate.Item{
		ID:                     rec.Id,
		PositionID:             rec.GetString("position"),
		Kind:                   services.ItemKind(rec.GetString("kind")),
		Name:                   rec.GetString("name"),
		Unit:                   rec.GetString("unit"),
		SortOrder:              rec.GetInt("sort_order"),
		Quantity:               num(rec, "quantity"),
		UnitRate:               num(rec, "unit_rate"),
		Currency:               services.Currency(rec.GetString("currency")),
		CurrencyRate:           num(rec, "currency_rate"),
		DeliveryPolicy:         services.DeliveryPolicy(rec.GetString("delivery_policy")),
		DeliveryAmount:         num(rec, "delivery_amount"),
		ConsumptionCoefficient: consumption,
		ConversionCoefficient:  conversion,
		MaterialRef:            rec.GetString("material_ref"),
		DetailCostCategory:     rec.GetString("detail_cost_category"),
	}, nil
}

// fillItem copies the editable fields of item onto rec. Identity and
// ownership fields are left alone.
func fillItem(rec *core.Record, item estimate.Item) {
	rec.Set("kind", string(item.Kind))
	rec.Set("name", item.Name)
	rec.Set("unit", item.Unit)
	rec.Set("sort_order", item.SortOrder)
	rec.Set("quantity", item.Quantity.InexactFloat64())
	rec.Set("unit_rate", item.UnitRate.InexactFloat64())
	rec.Set("currency", string(item.Currency))
	rec.Set("currency_rate", item.CurrencyRate.InexactFloat64())
	rec.Set("delivery_policy", string(item.DeliveryPolicy))
	rec.Set("delivery_amount", item.DeliveryAmount.InexactFloat64())
	rec.Set("consumption_coefficient", nullString(item.ConsumptionCoefficient))
	rec.Set("conversion_coefficient", nullString(item.ConversionCoefficient))
	rec.Set("material_ref", item.MaterialRef)
	rec.Set("detail_cost_category", item.DetailCostCategory)
}

func toLink(rec *core.Record) (estimate.Link, error) {
	consumption, err := coefficient(rec, "consumption_coefficient")
	if err != nil {
		return estimate.Link{}, err
	}
	conversion, err := coefficient(rec, "conversion_coefficient")
	if err != nil {
		return estimate.Link{}, err
	}
	return estimate.Link{
		ID:                     rec.Id,
		PositionID:             rec.GetString("position"),
		WorkID:                 rec.GetString("work"),
		MaterialID:             rec.GetString("material"),
		SortOrder:              rec.GetInt("sort_order"),
		ConsumptionCoefficient: consumption,
		ConversionCoefficient:  conversion,
	}, nil
}

func setCoefficients(rec *core.Record, c services.Coefficients) {
	rec.Set("consumption_coefficient", c.Consumption.String())
	rec.Set("conversion_coefficient", c.Conversion.String())
}

func num(rec *core.Record, field string) decimal.Decimal {
	return decimal.NewFromFloat(rec.GetFloat(field))
}

// coefficient parses a text coefficient column. Blank means unset.
func coefficient(rec *core.Record, field string) (decimal.NullDecimal, error) {
	raw := strings.TrimSpace(rec.GetString(field))
	if raw == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(raw, ",", "."))
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("%w: %s %q on %s: %v",
			estimate.ErrInvalidCoefficient, field, raw, rec.Id, err)
	}
	return decimal.NewNullDecimal(d), nil
}

func nullString(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.String()
}
