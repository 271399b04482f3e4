package estimate

import (
	"fmt"

	"github.com/shopspring/decimal"

	"tenderestimate/services"
)

// Aggregate computes the position totals from a registry:
//
//  1. every work contributes its own line total, linked materials or not;
//  2. every work contributes the line totals of its enriched links;
//  3. every material no work consumes contributes its own line total.
//
// A linked material only ever enters through its work's links.
func Aggregate(calc services.Calculator, reg *Registry, costNodes map[string]string) (Totals, error) {
	totals := Totals{
		Works:             decimal.Zero,
		LinkedMaterials:   decimal.Zero,
		UnlinkedMaterials: decimal.Zero,
		ByCostNode:        make(map[string]decimal.Decimal),
	}
	addNode := func(detail string, amount decimal.Decimal) {
		node := services.CostNodeFor(detail, costNodes)
		totals.ByCostNode[node] = totals.ByCostNode[node].Add(amount)
	}

	for _, work := range reg.Works() {
		own, err := calc.LineTotal(work.PriceInput())
		if err != nil {
			return Totals{}, fmt.Errorf("work %s (%s): %w", work.ID, work.Name, err)
		}
		totals.Works = totals.Works.Add(own)
		addNode(work.DetailCostCategory, own)

		for _, v := range reg.LinksOf(work.ID) {
			totals.LinkedMaterials = totals.LinkedMaterials.Add(v.LineTotal)
			material, _ := reg.Item(v.MaterialID)
			addNode(material.DetailCostCategory, v.LineTotal)
		}
	}

	for _, material := range reg.UnlinkedMaterials() {
		own, err := calc.LineTotal(material.PriceInput())
		if err != nil {
			return Totals{}, fmt.Errorf("material %s (%s): %w", material.ID, material.Name, err)
		}
		totals.UnlinkedMaterials = totals.UnlinkedMaterials.Add(own)
		addNode(material.DetailCostCategory, own)
	}

	totals.Materials = totals.LinkedMaterials.Add(totals.UnlinkedMaterials)
	totals.Position = totals.Works.Add(totals.Materials)
	return totals, nil
}
